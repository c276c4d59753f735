package relay

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	codesphere "github.com/prathdotexe/CodeSphere"
	"github.com/prathdotexe/CodeSphere/shared"
)

// Server is the message relay: it owns the session store and the websocket
// hub, and exposes the session REST API the clients bootstrap from. It never
// interprets signaling payloads; webrtc_* and cursor frames pass through
// verbatim with the sender excluded.
type Server struct {
	logger   shared.LoggerAdapter
	cfg      *Config
	store    *Store
	hub      *Hub
	upgrader websocket.Upgrader
}

func NewServer(logger shared.LoggerAdapter, cfg *Config) (*Server, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	s := &Server{
		logger: logger,
		cfg:    cfg,
		store:  NewStore(),
		hub:    NewHub(logger),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return s.originAllowed(r.Header.Get("Origin")) },
	}
	return s, nil
}

func (s *Server) originAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Router builds the gin engine: session REST plus the websocket endpoint.
func (s *Server) Router() *gin.Engine {
	if s.cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), s.cors())

	api := r.Group("/api")
	api.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "CodeSphere API"})
	})
	api.POST("/sessions", s.createSession)
	api.GET("/sessions/:id", s.getSession)
	api.GET("/ws/:session/:user", s.serveWS)
	return r
}

// Serve runs the relay on the configured port.
func (s *Server) Serve() error {
	return s.Router().Run(fmt.Sprintf(":%d", s.cfg.Port))
}

func (s *Server) cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && s.originAllowed(origin) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func sessionJSON(state SessionState) gin.H {
	participants := make([]gin.H, 0, len(state.Participants))
	for _, p := range state.Participants {
		participants = append(participants, gin.H{
			"userId":   p.UserID,
			"username": p.Username,
			"joinedAt": p.JoinedAt,
		})
	}
	return gin.H{
		"session_id":   state.SessionID,
		"code":         state.Code,
		"language":     string(state.Language),
		"created_at":   state.CreatedAt,
		"participants": participants,
	}
}

func (s *Server) createSession(c *gin.Context) {
	var req struct {
		Language string `json:"language"`
	}
	// An empty body is a valid request for a default session.
	_ = c.ShouldBindJSON(&req)
	state := s.store.Create(codesphere.Language(req.Language))
	s.logger.Info("session created", zap.String("sessionId", state.SessionID))
	c.JSON(http.StatusOK, sessionJSON(state))
}

func (s *Server) getSession(c *gin.Context) {
	state := s.store.GetOrCreate(c.Param("id"))
	c.JSON(http.StatusOK, sessionJSON(state))
}

func (s *Server) serveWS(c *gin.Context) {
	sessionID := c.Param("session")
	userID := c.Param("user")
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", err, zap.String("sessionId", sessionID))
		return
	}
	s.store.GetOrCreate(sessionID)

	cl := &client{
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, 32),
	}
	s.hub.add(sessionID, cl)
	s.logger.Info("user connected", zap.String("sessionId", sessionID), zap.String("userId", userID))

	pongWait := s.cfg.PingPeriod * 10 / 9
	conn.SetReadLimit(s.cfg.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go s.hub.writePump(cl, s.cfg.PingPeriod, s.cfg.WriteTimeout)

	defer func() {
		s.hub.remove(sessionID, cl)
		cl.close()
		username, roster := s.store.RemoveParticipant(sessionID, userID)
		s.logger.Info("user disconnected", zap.String("sessionId", sessionID), zap.String("userId", userID))
		if username == "" {
			return
		}
		s.hub.broadcast(sessionID, &codesphere.Message{
			Type:    codesphere.MessageTypeUserLeft,
			Payload: &codesphere.UserLeftPayload{UserID: userID, Username: username},
		}, "")
		// The roster is authoritative only through snapshots, so the leave
		// notification alone would never shrink anyone's view.
		s.hub.broadcast(sessionID, &codesphere.Message{
			Type:    codesphere.MessageTypeParticipantsUpdate,
			Payload: &codesphere.ParticipantsUpdatePayload{Participants: roster},
		}, "")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.handleFrame(sessionID, userID, data)
	}
}

func (s *Server) handleFrame(sessionID, senderID string, data []byte) {
	msg, err := codesphere.Decode(data)
	if err != nil {
		s.logger.Warn("skipping malformed frame",
			zap.String("sessionId", sessionID), zap.String("userId", senderID), zap.Error(err))
		return
	}
	if !msg.Known() {
		s.logger.Debug("ignoring unrecognized frame type", zap.String("type", string(msg.Type)))
		return
	}
	switch p := msg.Payload.(type) {
	case *codesphere.JoinPayload:
		s.handleJoin(sessionID, senderID, p)
	case *codesphere.CodeChangePayload:
		s.store.SetCode(sessionID, p.Code)
		s.hub.broadcast(sessionID, &codesphere.Message{
			Type:    codesphere.MessageTypeCodeChange,
			Payload: &codesphere.CodeChangePayload{Code: p.Code, UserID: senderID},
		}, senderID)
	case *codesphere.LanguageChangePayload:
		s.store.SetLanguage(sessionID, p.Language)
		s.hub.broadcast(sessionID, &codesphere.Message{
			Type:    codesphere.MessageTypeLanguageChange,
			Payload: &codesphere.LanguageChangePayload{Language: p.Language, UserID: senderID},
		}, senderID)
	case *codesphere.CursorUpdatePayload,
		*codesphere.OfferPayload,
		*codesphere.AnswerPayload,
		*codesphere.ICEPayload:
		s.hub.forward(sessionID, data, senderID)
	default:
		// Inbound-only types a client should never send; drop them.
	}
}

func (s *Server) handleJoin(sessionID, userID string, p *codesphere.JoinPayload) {
	username := p.Username
	if username == "" {
		short := userID
		if len(short) > 4 {
			short = short[:4]
		}
		username = "User_" + short
	}
	roster := s.store.AddParticipant(sessionID, userID, username)
	state, _ := s.store.Snapshot(sessionID)

	// Seed the joiner with the full current state; this is the only
	// late-joiner catch-up mechanism there is.
	code := state.Code
	language := state.Language
	s.hub.sendTo(sessionID, userID, &codesphere.Message{
		Type: codesphere.MessageTypeSessionState,
		Payload: &codesphere.SessionStatePayload{
			Code:         &code,
			Language:     &language,
			Participants: roster,
		},
	})
	s.hub.broadcast(sessionID, &codesphere.Message{
		Type:    codesphere.MessageTypeUserJoined,
		Payload: &codesphere.UserJoinedPayload{UserID: userID, Username: username},
	}, userID)
	s.hub.broadcast(sessionID, &codesphere.Message{
		Type:    codesphere.MessageTypeParticipantsUpdate,
		Payload: &codesphere.ParticipantsUpdatePayload{Participants: roster},
	}, "")
}
