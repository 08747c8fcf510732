package chatbot

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	tuiTitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#cba6f7"))
	tuiUserStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#89b4fa"))
	tuiBotStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#cdd6f4"))
	tuiMutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#a6adc8"))
	tuiPromptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#94e2d5")).Bold(true)
)

// Replier answers a sentence with a complete reply.
type Replier interface {
	Reply(ctx context.Context, sentence string) string
}

type replyMsg struct {
	text string
}

type tuiLine struct {
	fromUser bool
	text     string
}

type chatModel struct {
	ctx        context.Context
	bot        Replier
	title      string
	input      []rune
	transcript []tuiLine
	pending    bool
	height     int
}

func newChatModel(ctx context.Context, bot Replier, title string) chatModel {
	return chatModel{ctx: ctx, bot: bot, title: title}
}

func (m chatModel) Init() tea.Cmd { return nil }

func (m chatModel) ask(sentence string) tea.Cmd {
	return func() tea.Msg {
		return replyMsg{text: m.bot.Reply(m.ctx, sentence)}
	}
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.height = msg.Height
	case replyMsg:
		m.pending = false
		m.transcript = append(m.transcript, tuiLine{text: msg.text})
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			sentence := strings.TrimSpace(string(m.input))
			m.input = nil
			switch {
			case sentence == "" || m.pending:
				return m, nil
			case strings.EqualFold(sentence, "exit"), strings.EqualFold(sentence, "quit"):
				return m, tea.Quit
			}
			m.pending = true
			m.transcript = append(m.transcript, tuiLine{fromUser: true, text: sentence})
			return m, m.ask(sentence)
		case tea.KeyBackspace:
			if len(m.input) > 0 {
				m.input = m.input[:len(m.input)-1]
			}
		case tea.KeySpace:
			m.input = append(m.input, ' ')
		case tea.KeyRunes:
			m.input = append(m.input, msg.Runes...)
		}
	}
	return m, nil
}

func (m chatModel) View() string {
	var b strings.Builder
	b.WriteString(tuiTitleStyle.Render(m.title))
	b.WriteString("\n")
	b.WriteString(tuiMutedStyle.Render("enter to send · esc to quit"))
	b.WriteString("\n\n")
	lines := m.transcript
	// keep the transcript within the window, leaving room for the header
	// and input line
	if limit := m.height - 5; limit > 0 && len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	for _, l := range lines {
		if l.fromUser {
			b.WriteString(tuiUserStyle.Render("you: " + l.text))
		} else {
			b.WriteString(tuiBotStyle.Render("bot: " + l.text))
		}
		b.WriteString("\n")
	}
	if m.pending {
		b.WriteString(tuiMutedStyle.Render("bot is thinking..."))
		b.WriteString("\n")
	}
	b.WriteString(tuiPromptStyle.Render("> "))
	b.WriteString(string(m.input))
	return b.String()
}

// RunTUI chats with bot in a full-screen terminal UI until the user quits or
// ctx is cancelled.
func RunTUI(ctx context.Context, bot Replier, title string) error {
	program := tea.NewProgram(newChatModel(ctx, bot, title), tea.WithContext(ctx), tea.WithAltScreen())
	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("chat session failed: %w", err)
	}
	return nil
}
