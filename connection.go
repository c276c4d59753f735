package codesphere

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/prathdotexe/CodeSphere/shared"
)

type ConnState int32

const (
	ConnStateConnecting ConnState = iota
	ConnStateOpen
	ConnStateClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnStateConnecting:
		return "connecting"
	case ConnStateOpen:
		return "open"
	case ConnStateClosed:
		return "closed"
	}
	return "unknown"
}

// RelayURL derives the websocket endpoint for a session from the relay's
// HTTP base address: scheme upgraded to ws(s), path parameterized by session
// key and user id.
func RelayURL(baseURL, sessionKey, userID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base URL scheme %q", u.Scheme)
	}
	return u.JoinPath("api", "ws", sessionKey, userID).String(), nil
}

// Conn is one attempt at a relay channel for one session. A closed Conn
// never reopens; reconnecting means dialing a new one (and the protocol has
// no resync on reconnect, which is a known limitation).
type Conn struct {
	logger     shared.LoggerAdapter
	ws         *websocket.Conn
	self       Participant
	sessionKey string

	state     atomic.Int32
	writeMu   sync.Mutex
	closeOnce sync.Once

	onMessage func(*Message)
	onClose   func(error)
}

// Dial establishes the relay channel and, on confirmed open, immediately
// announces the local participant with a join message. That join is the only
// registration mechanism there is.
//
// onMessage fires from the read loop for every well-formed known message.
// onClose fires once, with a non-nil error when the relay dropped us rather
// than us leaving.
func Dial(
	ctx context.Context,
	logger shared.LoggerAdapter,
	baseURL, sessionKey string,
	self Participant,
	onMessage func(*Message),
	onClose func(error),
) (*Conn, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if sessionKey == "" {
		return nil, shared.ErrEmptySessionKey
	}
	if self.UserID == "" {
		return nil, shared.ErrEmptyUserID
	}
	endpoint, err := RelayURL(baseURL, sessionKey, self.UserID)
	if err != nil {
		return nil, err
	}
	c := &Conn{
		logger:     logger.With(zap.String("sessionKey", sessionKey), zap.String("userId", self.UserID)),
		self:       self,
		sessionKey: sessionKey,
		onMessage:  onMessage,
		onClose:    onClose,
	}
	c.state.Store(int32(ConnStateConnecting))

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		c.state.Store(int32(ConnStateClosed))
		return nil, &shared.ConnectionError{Op: "dial", Err: err}
	}
	c.ws = ws
	c.state.Store(int32(ConnStateOpen))
	c.logger.Info("relay channel open", zap.String("endpoint", endpoint))

	if err := c.Send(&Message{
		Type: MessageTypeJoin,
		Payload: &JoinPayload{
			UserID:     self.UserID,
			Username:   self.Username,
			SessionKey: sessionKey,
		},
	}); err != nil {
		c.Close()
		return nil, &shared.ConnectionError{Op: "join", Err: err}
	}
	return c, nil
}

// Listen starts dispatching inbound messages to the onMessage callback. Call
// it once, after the receiving side is wired up.
func (c *Conn) Listen() {
	go c.readLoop()
}

func (c *Conn) State() ConnState { return ConnState(c.state.Load()) }

// Send is fire-and-forget: when the connection is not open the message is
// silently dropped, never queued. A transport write failure closes the
// connection.
func (c *Conn) Send(m *Message) error {
	if c.State() != ConnStateOpen {
		c.logger.Debug("dropping message on closed connection", zap.String("type", string(m.Type)))
		return nil
	}
	data, err := Encode(m)
	if err != nil {
		return fmt.Errorf("encoding %s message: %w", m.Type, err)
	}
	c.writeMu.Lock()
	err = c.ws.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		c.shutdown(&shared.ConnectionError{Op: "write", Err: err})
		return &shared.ConnectionError{Op: "write", Err: err}
	}
	return nil
}

func (c *Conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.State() == ConnStateClosed {
				return
			}
			c.shutdown(&shared.ConnectionError{Op: "read", Err: err})
			return
		}
		msg, err := Decode(data)
		if err != nil {
			// Malformed messages never take the connection down.
			var derr *shared.DecodeError
			if errors.As(err, &derr) {
				c.logger.Warn("skipping malformed message", zap.Error(err))
				continue
			}
			c.logger.Error("decoding message", err)
			continue
		}
		if !msg.Known() {
			c.logger.Debug("ignoring unrecognized message type", zap.String("type", string(msg.Type)))
			continue
		}
		if c.onMessage != nil {
			c.onMessage(msg)
		}
	}
}

// shutdown transitions to Closed and surfaces the cause exactly once.
func (c *Conn) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(ConnStateClosed))
		if c.ws != nil {
			_ = c.ws.Close()
		}
		if cause != nil {
			c.logger.Warn("relay channel lost", zap.Error(cause))
		} else {
			c.logger.Info("relay channel closed")
		}
		if c.onClose != nil {
			c.onClose(cause)
		}
	})
}

// Close tears the connection down deliberately. Idempotent.
func (c *Conn) Close() {
	c.shutdown(nil)
}
