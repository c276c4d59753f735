package codesphere

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prathdotexe/CodeSphere/shared"
)

func TestRelayURL(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		expected string
		wantErr  bool
	}{
		{
			name:     "http base",
			base:     "http://localhost:8001",
			expected: "ws://localhost:8001/api/ws/abc123/u1",
		},
		{
			name:     "https base",
			base:     "https://relay.example.com",
			expected: "wss://relay.example.com/api/ws/abc123/u1",
		},
		{
			name:     "ws base stays ws",
			base:     "ws://localhost:8001",
			expected: "ws://localhost:8001/api/ws/abc123/u1",
		},
		{
			name:    "unsupported scheme",
			base:    "ftp://localhost",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RelayURL(tt.base, "abc123", "u1")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

// echoRelay upgrades one websocket, captures the first frame, and feeds
// whatever the test pushes back down the channel.
type echoRelay struct {
	t        *testing.T
	upgrader websocket.Upgrader
	joined   chan []byte
	outbound chan []byte
}

func newEchoRelay(t *testing.T) (*echoRelay, *httptest.Server) {
	r := &echoRelay{
		t:        t,
		joined:   make(chan []byte, 1),
		outbound: make(chan []byte, 8),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ws, err := r.upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		_, first, err := ws.ReadMessage()
		if err != nil {
			return
		}
		r.joined <- first
		go func() {
			for data := range r.outbound {
				if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			}
		}()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return r, srv
}

func TestDialSendsJoin(t *testing.T) {
	relay, srv := newEchoRelay(t)

	conn, err := Dial(
		context.Background(), shared.NewNopLogger(),
		srv.URL, "abc123", Participant{UserID: "u1", Username: "ana"},
		nil, nil,
	)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, ConnStateOpen, conn.State())

	select {
	case frame := <-relay.joined:
		m, err := Decode(frame)
		require.NoError(t, err)
		require.Equal(t, MessageTypeJoin, m.Type)
		p := m.Payload.(*JoinPayload)
		assert.Equal(t, "u1", p.UserID)
		assert.Equal(t, "ana", p.Username)
		assert.Equal(t, "abc123", p.SessionKey)
	case <-time.After(5 * time.Second):
		t.Fatal("relay never saw the join message")
	}
}

func TestListenDispatchesKnownMessagesOnly(t *testing.T) {
	relay, srv := newEchoRelay(t)

	received := make(chan *Message, 8)
	conn, err := Dial(
		context.Background(), shared.NewNopLogger(),
		srv.URL, "abc123", Participant{UserID: "u1", Username: "ana"},
		func(m *Message) { received <- m },
		nil,
	)
	require.NoError(t, err)
	defer conn.Close()
	<-relay.joined
	conn.Listen()

	relay.outbound <- []byte(`{"type":"server_stats","load":1}`)
	relay.outbound <- []byte(`not json at all`)
	relay.outbound <- []byte(`{"type":"code_change","code":"x","userId":"u2"}`)

	select {
	case m := <-received:
		require.Equal(t, MessageTypeCodeChange, m.Type)
		assert.Equal(t, "x", m.Payload.(*CodeChangePayload).Code)
	case <-time.After(5 * time.Second):
		t.Fatal("code_change never dispatched")
	}
	// The unknown and malformed frames were skipped, not dispatched.
	assert.Empty(t, received)
}

func TestSendAfterCloseDropsSilently(t *testing.T) {
	relay, srv := newEchoRelay(t)

	closed := make(chan error, 1)
	conn, err := Dial(
		context.Background(), shared.NewNopLogger(),
		srv.URL, "abc123", Participant{UserID: "u1", Username: "ana"},
		nil,
		func(cause error) { closed <- cause },
	)
	require.NoError(t, err)
	<-relay.joined

	conn.Close()
	conn.Close()
	assert.Equal(t, ConnStateClosed, conn.State())

	select {
	case cause := <-closed:
		assert.NoError(t, cause)
	case <-time.After(time.Second):
		t.Fatal("onClose never fired")
	}
	assert.Empty(t, closed)

	err = conn.Send(&Message{
		Type:    MessageTypeCodeChange,
		Payload: &CodeChangePayload{Code: "x", UserID: "u1"},
	})
	assert.NoError(t, err)
}

func TestDialValidation(t *testing.T) {
	_, err := Dial(context.Background(), nil, "http://x", "k", Participant{UserID: "u"}, nil, nil)
	assert.ErrorIs(t, err, shared.ErrNoLogger)

	_, err = Dial(context.Background(), shared.NewNopLogger(), "http://x", "", Participant{UserID: "u"}, nil, nil)
	assert.ErrorIs(t, err, shared.ErrEmptySessionKey)

	_, err = Dial(context.Background(), shared.NewNopLogger(), "http://x", "k", Participant{}, nil, nil)
	assert.ErrorIs(t, err, shared.ErrEmptyUserID)
}
