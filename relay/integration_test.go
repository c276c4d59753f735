package relay

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	codesphere "github.com/prathdotexe/CodeSphere"
	"github.com/prathdotexe/CodeSphere/shared"
)

// syncEditor is a concurrency-safe text buffer standing in for a real editor.
type syncEditor struct {
	mu   sync.Mutex
	text string
	sets int
}

func (e *syncEditor) Text() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.text
}

func (e *syncEditor) SetText(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.text = text
	e.sets++
}

func (e *syncEditor) setCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sets
}

// staticSource hands out silent opus tracks, enough to drive a negotiation
// without touching real devices.
type staticSource struct{ t *testing.T }

type staticTrack struct {
	*webrtc.TrackLocalStaticSample
}

func (*staticTrack) Stop() error { return nil }

func (s *staticSource) OpenAudio() (codesphere.LocalTrack, error) {
	inner, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "integration-test",
	)
	require.NoError(s.t, err)
	return &staticTrack{TrackLocalStaticSample: inner}, nil
}

func (s *staticSource) OpenVideo() (codesphere.LocalTrack, error) {
	return s.OpenAudio()
}

func joinTestSession(
	t *testing.T, ts *httptest.Server, sessionKey, userID, username string, source codesphere.DeviceSource,
) (*codesphere.Session, *syncEditor) {
	t.Helper()
	editor := &syncEditor{}
	s, err := codesphere.NewSession(
		shared.NewNopLogger(),
		codesphere.Config{BaseURL: ts.URL, Source: source},
		sessionKey,
		codesphere.Participant{UserID: userID, Username: username},
		editor,
	)
	require.NoError(t, err)
	t.Cleanup(s.Leave)
	require.NoError(t, s.Join(context.Background()))
	return s, editor
}

func TestTwoClientsConvergeOnEdits(t *testing.T) {
	_, ts := startTestRelay(t)

	u1, ed1 := joinTestSession(t, ts, "abc123", "u1", "ana", nil)
	u2, ed2 := joinTestSession(t, ts, "abc123", "u2", "bo", nil)

	require.Eventually(t, func() bool {
		return len(u1.Participants()) == 2 && len(u2.Participants()) == 2
	}, 5*time.Second, 20*time.Millisecond)

	u1.LocalEdit("x = 1")
	require.Eventually(t, func() bool {
		return ed2.Text() == "x = 1"
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "x = 1", u2.Document().Text)
	assert.Equal(t, "x = 1", u1.Document().Text)

	// The relay excludes the sender, so nothing ever rewrote u1's editor
	// beyond the join-time seeding.
	seedSets := ed1.setCount()
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, seedSets, ed1.setCount())

	u2.SetLanguage(codesphere.LanguagePython)
	require.Eventually(t, func() bool {
		return u1.Document().Language == codesphere.LanguagePython
	}, 5*time.Second, 20*time.Millisecond)
}

func TestLateJoinerIsSeeded(t *testing.T) {
	_, ts := startTestRelay(t)

	u1, _ := joinTestSession(t, ts, "abc123", "u1", "ana", nil)
	require.Eventually(t, func() bool {
		return len(u1.Participants()) == 1
	}, 5*time.Second, 20*time.Millisecond)
	u1.LocalEdit("established")

	_, ed2 := joinTestSession(t, ts, "abc123", "u2", "bo", nil)
	require.Eventually(t, func() bool {
		return ed2.Text() == "established"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestLeaveShrinksRemoteRoster(t *testing.T) {
	_, ts := startTestRelay(t)

	notices := make(chan codesphere.Notice, 16)
	editor := &syncEditor{}
	u1, err := codesphere.NewSession(
		shared.NewNopLogger(),
		codesphere.Config{BaseURL: ts.URL},
		"abc123",
		codesphere.Participant{UserID: "u1", Username: "ana"},
		editor,
	)
	require.NoError(t, err)
	t.Cleanup(u1.Leave)
	u1.RegisterNotifier(func(n codesphere.Notice) { notices <- n })
	require.NoError(t, u1.Join(context.Background()))

	u2, _ := joinTestSession(t, ts, "abc123", "u2", "bo", nil)
	require.Eventually(t, func() bool {
		return len(u1.Participants()) == 2
	}, 5*time.Second, 20*time.Millisecond)

	u2.Leave()
	require.Eventually(t, func() bool {
		return len(u1.Participants()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	var kinds []codesphere.NoticeKind
	for len(notices) > 0 {
		kinds = append(kinds, (<-notices).Kind)
	}
	assert.Contains(t, kinds, codesphere.NoticeUserJoined)
	assert.Contains(t, kinds, codesphere.NoticeUserLeft)
}

func TestMediaNegotiationOverRelay(t *testing.T) {
	_, ts := startTestRelay(t)
	src := &staticSource{t: t}

	u1, _ := joinTestSession(t, ts, "abc123", "u1", "ana", src)
	u2, _ := joinTestSession(t, ts, "abc123", "u2", "bo", src)
	require.Eventually(t, func() bool {
		return len(u1.Participants()) == 2 && len(u2.Participants()) == 2
	}, 5*time.Second, 20*time.Millisecond)

	u1.ToggleAudio()
	require.Eventually(t, u1.IsAudioOn, 5*time.Second, 20*time.Millisecond)

	// u1's offer crosses the relay, u2 answers, u1 lands Connected.
	require.Eventually(t, func() bool {
		return u1.NegotiationState() == codesphere.NegotiationConnected
	}, 10*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		return u2.NegotiationState() == codesphere.NegotiationAnswerSent
	}, 10*time.Second, 20*time.Millisecond)
}
