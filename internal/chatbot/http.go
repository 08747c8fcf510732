package chatbot

import (
	"context"
	"crypto/rand"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/multitemplate"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"dynamic-chatbot/internal/utils"
)

const (
	EventUserPrompt       = "01"
	EventAssistantWait    = "03"
	EventAssistantOutput  = "04"
	EventAssistantFinish  = "05"
	EventPing             = "06"
	EventPong             = "07"
	EventDiagnostic       = "08"
	EventConfirmed        = "09"
	EventResetHistory     = "10"
	EventCancelUserPrompt = "14"
	EventTemperature      = "16"
	EventReferenceOutput  = "17"
)

const keepaliveInterval = 60 * time.Second

//go:embed index.template
var indexHTML string

var eventPattern = regexp.MustCompile(`^(\d+)(?::|$)`)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ChatServer serves the web chat UI for a bot and, optionally, a reference
// responder.
type ChatServer struct {
	bot         Responder
	reference   Responder
	config      WebConfig
	listen      string
	staticPath  string
	temperature float64
	version     string
}

// NewChatServer wires the web chat. reference may be nil.
func NewChatServer(bot Responder, reference Responder, config *Config, version string) *ChatServer {
	return &ChatServer{
		bot:         bot,
		reference:   reference,
		config:      config.Web,
		listen:      config.Flags.Listen,
		staticPath:  config.Flags.StaticPath,
		temperature: config.Flags.Temperature,
		version:     version,
	}
}

func (s *ChatServer) sessionKey() []byte {
	if len(s.config.SessionKey) > 0 {
		return []byte(s.config.SessionKey)
	}
	log.Printf("WARNING: web.sessionKey is not configured, using a random key; sessions will not survive restarts")
	key := make([]byte, 32)
	rand.Read(key)
	return key
}

func (s *ChatServer) Router() *gin.Engine {
	sessionStore := cookie.NewStore(s.sessionKey())
	sessionStore.Options(sessions.Options{MaxAge: 60 * 60 * 12, Path: "/"})
	router := gin.Default()
	renderer := multitemplate.NewRenderer()
	router.Use(sessions.Sessions("chatbot_session", sessionStore))
	router.Use(func(c *gin.Context) {
		c.Set("chatServer", s)
		c.Next()
	})
	renderer.AddFromString("index.html", indexHTML)
	router.HTMLRender = renderer
	if len(s.staticPath) > 0 {
		router.Static("/static", s.staticPath)
	}
	router.GET("/", handleIndex)
	router.GET("/ws", handleWebSocket)
	return router
}

// Run serves until ctx is cancelled.
func (s *ChatServer) Run(ctx context.Context) error {
	server := &http.Server{Addr: s.listen, Handler: s.Router()}
	errChan := make(chan error, 1)
	go func() {
		log.Printf("INFO: web chat listening on %s", s.listen)
		errChan <- server.ListenAndServe()
	}()
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to run server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func chatServerFrom(c *gin.Context, logger *log.Logger) *ChatServer {
	if val, exists := c.Get("chatServer"); exists {
		return val.(*ChatServer)
	}
	logger.Printf("ERROR: failed to retrieve ChatServer from context")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve ChatServer from context"})
	return nil
}

func handleIndex(c *gin.Context) {
	var userLogin, userName string
	var err error
	logger := log.New(gin.DefaultWriter, "[CHATBOT] ", log.LstdFlags)
	session := sessions.Default(c)
	chatServer := chatServerFrom(c, logger)
	if chatServer == nil {
		return
	}
	if bearerToken, err := c.Cookie("BearerToken"); err == nil {
		claims := chatServer.config.TokenClaims
		if len(claims.UserLogin) > 0 {
			if userLogin, err = utils.GetTokenClaim(bearerToken, claims.UserLogin); err == nil {
				session.Set("userLogin", userLogin)
			}
		}
		if len(claims.UserName) > 0 {
			if userName, err = utils.GetTokenClaim(bearerToken, claims.UserName); err == nil {
				session.Set("userName", userName)
			}
		}
	}
	if err = session.Save(); err != nil {
		logger.Printf("WARNING: failed to save session: %s", err)
	}
	if len(userName) == 0 && len(userLogin) > 0 {
		userName = userLogin
	}
	c.HTML(http.StatusOK, "index.html", gin.H{
		"userName":    userName,
		"version":     chatServer.version,
		"temperature": chatServer.temperature,
		"reference":   chatServer.reference != nil,
	})
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsConn) send(event, payload string) error {
	msg := event
	if len(payload) > 0 {
		msg = event + ":" + payload
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (w *wsConn) diagnostic(text string) error {
	return w.send(EventDiagnostic, `<p style="color: red;"><strong>Websocket error: </strong>`+text+`</p>`)
}

// conversation is the per-connection chat state.
type conversation struct {
	id          uuid.UUID
	mu          sync.Mutex
	temperature float64
	history     []Turn
	cancel      context.CancelFunc
}

func (cv *conversation) request(prompt string) Request {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	return Request{Prompt: prompt, Temperature: cv.temperature, History: append([]Turn(nil), cv.history...)}
}

// start cancels any reply still streaming and registers the new one.
func (cv *conversation) start(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	cv.mu.Lock()
	defer cv.mu.Unlock()
	if cv.cancel != nil {
		cv.cancel()
	}
	cv.cancel = cancel
	return ctx
}

func (cv *conversation) stop() bool {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	if cv.cancel == nil {
		return false
	}
	cv.cancel()
	cv.cancel = nil
	return true
}

func keepalive(ws *wsConn, done <-chan struct{}, logger *log.Logger) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := ws.send(EventPing, "ping"); err != nil {
				logger.Printf("ERROR: failed to send PING message: %s", err)
				return
			}
		}
	}
}

// stream forwards a reply to the client as wait events and finally sends the
// markdown-rendered text under event. It returns the plain reply.
func stream(ctx context.Context, ws *wsConn, replies <-chan Chunk, event string) (string, error) {
	var reply strings.Builder
	for chunk := range replies {
		if chunk.Err != nil {
			return reply.String(), chunk.Err
		}
		reply.WriteString(chunk.Text)
		if err := ws.send(EventAssistantWait, ""); err != nil {
			return reply.String(), err
		}
	}
	if ctx.Err() != nil {
		return reply.String(), ctx.Err()
	}
	return reply.String(), ws.send(event, string(utils.MDtoHTML([]byte(reply.String()))))
}

func (s *ChatServer) answer(ctx context.Context, ws *wsConn, cv *conversation, prompt string, logger *log.Logger) {
	req := cv.request(prompt)
	reply, err := stream(ctx, ws, s.bot.Respond(ctx, req), EventAssistantOutput)
	if err != nil {
		if ctx.Err() == nil {
			logger.Printf("ERROR: bot response error: %s", err)
			ws.diagnostic("bot response error: " + err.Error())
		}
		return
	}
	if s.reference != nil {
		if _, err := stream(ctx, ws, s.reference.Respond(ctx, req), EventReferenceOutput); err != nil && ctx.Err() == nil {
			logger.Printf("ERROR: reference response error: %s", err)
			ws.send(EventDiagnostic, `<p style="color: red;"><strong>Reference error: </strong>`+err.Error()+`</p>`)
		}
	}
	if ctx.Err() != nil {
		return
	}
	cv.mu.Lock()
	cv.history = append(cv.history, Turn{User: prompt, Assistant: reply})
	cv.mu.Unlock()
	if err := ws.send(EventAssistantFinish, ""); err != nil {
		logger.Printf("ERROR: websocket error: %s", err)
	}
}

func handleWebSocket(c *gin.Context) {
	logger := log.New(gin.DefaultWriter, "[CHATBOT] ", log.LstdFlags)
	chatServer := chatServerFrom(c, logger)
	if chatServer == nil {
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Printf("ERROR: failed to upgrade connection to websocket: %s", err)
		return
	}
	defer conn.Close()
	ws := &wsConn{conn: conn}
	done := make(chan struct{})
	defer close(done)
	go keepalive(ws, done, logger)

	cv := &conversation{id: uuid.New(), temperature: chatServer.temperature}
	defer cv.stop()
	if userName, ok := sessions.Default(c).Get("userName").(string); ok {
		logger.Printf("INFO: conversation %s started by %s", cv.id, userName)
	} else {
		logger.Printf("INFO: conversation %s started", cv.id)
	}
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Printf("ERROR: failure while reading websocket message: %s", err.Error())
			} else {
				logger.Printf("INFO: conversation %s closed", cv.id)
			}
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			logger.Printf("INFO: received unrecognized message type %d", messageType)
			continue
		}
		subMatch := eventPattern.FindStringSubmatch(string(message))
		if len(subMatch) != 2 {
			logger.Printf("ERROR: received unrecognized websocket message: %s", string(message))
			ws.diagnostic(fmt.Sprintf("received unrecognized websocket message: \"%s\"", string(message)))
			return
		}
		payload := strings.TrimPrefix(strings.TrimPrefix(string(message), subMatch[1]), ":")
		switch subMatch[1] {
		case EventPing:
			err = ws.send(EventPong, "pong")
		case EventPong:
			logger.Printf("INFO: received PONG reply")
		case EventUserPrompt:
			logger.Printf("INFO: received EventUserPrompt")
			ctx := cv.start(c.Request.Context())
			if err = ws.send(EventConfirmed, EventUserPrompt); err == nil {
				go chatServer.answer(ctx, ws, cv, payload, logger)
			}
		case EventCancelUserPrompt:
			if cv.stop() {
				logger.Printf("INFO: received EventCancelUserPrompt")
				err = ws.send(EventConfirmed, EventCancelUserPrompt)
			}
		case EventResetHistory:
			logger.Printf("INFO: received EventResetHistory")
			cv.mu.Lock()
			cv.history = nil
			cv.mu.Unlock()
			err = ws.send(EventConfirmed, EventResetHistory)
		case EventTemperature:
			var temperature float64
			if temperature, err = strconv.ParseFloat(strings.TrimSpace(payload), 64); err != nil || temperature < 0 {
				ws.diagnostic(fmt.Sprintf("invalid temperature \"%s\"", payload))
				err = nil
				break
			}
			cv.mu.Lock()
			cv.temperature = temperature
			cv.mu.Unlock()
			logger.Printf("INFO: conversation %s temperature set to %.2f", cv.id, temperature)
			err = ws.send(EventConfirmed, EventTemperature)
		default:
			logger.Printf("ERROR: received unrecognized websocket event: %s", string(message))
			err = ws.diagnostic(fmt.Sprintf("received unrecognized websocket event: \"%s\"", string(message)))
		}
		if err != nil {
			logger.Printf("ERROR: websocket error: %s", err)
		}
	}
}
