package chatbot

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type fakeResponder struct {
	mu       sync.Mutex
	chunks   []string
	requests []Request
}

func (f *fakeResponder) Respond(ctx context.Context, req Request) <-chan Chunk {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	responseChan := make(chan Chunk)
	go func() {
		defer close(responseChan)
		for _, c := range f.chunks {
			select {
			case responseChan <- Chunk{Text: c}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return responseChan
}

func (f *fakeResponder) lastRequest() Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestServer(t *testing.T, bot, reference Responder) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	config := &Config{Flags: DefaultFlags(), Web: WebConfig{SessionKey: "test-session-key"}}
	ts := httptest.NewServer(NewChatServer(bot, reference, config, "test").Router())
	t.Cleanup(ts.Close)
	return ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatal(err)
	}
}

func receive(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	return string(msg)
}

// receiveUntil reads messages up to and including the first one starting
// with prefix, skipping wait events.
func receiveUntil(t *testing.T, conn *websocket.Conn, prefix string) []string {
	t.Helper()
	var got []string
	for {
		msg := receive(t, conn)
		if msg == EventAssistantWait {
			continue
		}
		got = append(got, msg)
		if strings.HasPrefix(msg, prefix) {
			return got
		}
	}
}

func TestIndexPage(t *testing.T) {
	ts := newTestServer(t, &fakeResponder{}, nil)
	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "DynamicBot") {
		t.Fatalf("index page does not mention DynamicBot")
	}
}

func TestWebSocketPingPong(t *testing.T) {
	conn := dial(t, newTestServer(t, &fakeResponder{}, nil))
	send(t, conn, "06:ping")
	if got := receive(t, conn); got != "07:pong" {
		t.Fatalf("got %q, want 07:pong", got)
	}
}

func TestWebSocketPrompt(t *testing.T) {
	bot := &fakeResponder{chunks: []string{"hi", " **there**"}}
	reference := &fakeResponder{chunks: []string{"reference answer"}}
	conn := dial(t, newTestServer(t, bot, reference))

	send(t, conn, "01:hello")
	if got := receive(t, conn); got != "09:01" {
		t.Fatalf("got %q, want 09:01", got)
	}
	got := receiveUntil(t, conn, EventAssistantFinish)
	if len(got) != 3 {
		t.Fatalf("got %q", got)
	}
	if !strings.HasPrefix(got[0], "04:") || !strings.Contains(got[0], "<strong>there</strong>") {
		t.Errorf("bot output = %q", got[0])
	}
	if !strings.HasPrefix(got[1], "17:") || !strings.Contains(got[1], "reference answer") {
		t.Errorf("reference output = %q", got[1])
	}
	if req := bot.lastRequest(); req.Prompt != "hello" || req.Temperature != 0.01 || len(req.History) != 0 {
		t.Errorf("first request = %+v", req)
	}

	send(t, conn, "16:0.8")
	if got := receive(t, conn); got != "09:16" {
		t.Fatalf("got %q, want 09:16", got)
	}
	send(t, conn, "01:and again")
	receiveUntil(t, conn, EventAssistantFinish)
	req := reference.lastRequest()
	if req.Temperature != 0.8 || len(req.History) != 1 || req.History[0].User != "hello" || req.History[0].Assistant != "hi **there**" {
		t.Errorf("second request = %+v", req)
	}

	send(t, conn, "10")
	if got := receive(t, conn); got != "09:10" {
		t.Fatalf("got %q, want 09:10", got)
	}
	send(t, conn, "01:fresh start")
	receiveUntil(t, conn, EventAssistantFinish)
	if req := bot.lastRequest(); len(req.History) != 0 {
		t.Errorf("history should be empty after reset, got %+v", req.History)
	}
}

func TestWebSocketDiagnostics(t *testing.T) {
	conn := dial(t, newTestServer(t, &fakeResponder{}, nil))
	for _, msg := range []string{"16:warm", "16:-1", "99:what"} {
		send(t, conn, msg)
		if got := receive(t, conn); !strings.HasPrefix(got, "08:") {
			t.Errorf("%s: got %q, want a diagnostic", msg, got)
		}
	}
	// the connection survives diagnostics
	send(t, conn, "06:ping")
	if got := receive(t, conn); got != "07:pong" {
		t.Fatalf("got %q, want 07:pong", got)
	}
}

func TestWebSocketCancelWithoutPrompt(t *testing.T) {
	conn := dial(t, newTestServer(t, &fakeResponder{}, nil))
	// nothing to cancel, so nothing is confirmed
	send(t, conn, "14")
	send(t, conn, "06:ping")
	if got := receive(t, conn); got != "07:pong" {
		t.Fatalf("got %q, want 07:pong", got)
	}
}
