package codesphere

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/prathdotexe/CodeSphere/shared"
)

type NoticeKind int

const (
	NoticeUserJoined NoticeKind = iota
	NoticeUserLeft
	NoticeDisconnected
	NoticeMediaError
	NoticeNegotiationError
)

// Notice is a user-visible notification. Network and media failures are
// recovered at the component boundary and surfaced here; nothing is retried
// automatically.
type Notice struct {
	Kind     NoticeKind
	Username string
	Err      error
}

type Notifier func(Notice)

// Config carries the session's tunables.
type Config struct {
	// BaseURL is the relay's HTTP base address; the websocket endpoint is
	// derived from it.
	BaseURL string
	// EchoWindow bounds the suppression of editor change callbacks caused by
	// programmatic remote applies. Zero means DefaultEchoWindow.
	EchoWindow time.Duration
	// WebRTC configures the peer connection (STUN servers and so on).
	WebRTC webrtc.Configuration
	// Source acquires capture devices. Leaving it nil disables the media
	// toggles.
	Source DeviceSource
}

// Session is one participant's view of a collaboration session: one relay
// connection, one roster, one local document, at most one media negotiation.
//
// All state is confined to a single event loop; callbacks from the socket,
// timers, device acquisitions and pion are posted onto it, and the
// suspending operations themselves run off-loop so a pending one never
// stalls message handling.
type Session struct {
	logger shared.LoggerAdapter
	cfg    Config
	key    string
	self   Participant
	editor Editor

	notify        Notifier
	onRemoteTrack RemoteTrackHandler

	loop chan func()
	done chan struct{}

	// Loop-owned state below.
	conn     *Conn
	roster   *Roster
	sync     *SyncEngine
	media    *MediaManager
	neg      *Negotiator
	earlyICE []webrtc.ICECandidateInit

	acquiringAudio bool
	acquiringVideo bool
	left           bool
}

func NewSession(
	logger shared.LoggerAdapter,
	cfg Config,
	sessionKey string,
	self Participant,
	editor Editor,
) (*Session, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if sessionKey == "" {
		return nil, shared.ErrEmptySessionKey
	}
	if self.UserID == "" {
		return nil, shared.ErrEmptyUserID
	}
	if editor == nil {
		return nil, shared.ErrNoEditor
	}
	s := &Session{
		logger: logger.With(zap.String("sessionKey", sessionKey)),
		cfg:    cfg,
		key:    sessionKey,
		self:   self,
		editor: editor,
		loop:   make(chan func(), 64),
		done:   make(chan struct{}),
	}
	s.roster = NewRoster(self)
	s.sync = NewSyncEngine(s.logger, self.UserID, editor, s.sendMessage, cfg.EchoWindow, s.after)
	s.media = NewMediaManager(s.logger, cfg.Source)
	go s.run()
	return s, nil
}

// RegisterNotifier installs the user-notification sink. Call before Join.
func (s *Session) RegisterNotifier(n Notifier) { s.notify = n }

// RegisterRemoteTrackHandler installs the remote media sink. Call before
// Join.
func (s *Session) RegisterRemoteTrackHandler(h RemoteTrackHandler) { s.onRemoteTrack = h }

func (s *Session) run() {
	for {
		select {
		case <-s.done:
			return
		case fn := <-s.loop:
			fn()
		}
	}
}

// post hands fn to the event loop. Returns false once the session is done.
// The done check runs first: with the loop gone, enqueueing would strand fn
// on a channel nobody drains.
func (s *Session) post(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.loop <- fn:
		return true
	case <-s.done:
		return false
	}
}

// after schedules fn onto the loop once d elapses.
func (s *Session) after(d time.Duration, fn func()) {
	time.AfterFunc(d, func() { s.post(fn) })
}

// call runs fn on the loop and waits for it. Returns false once the session
// is done; fn may then have been dropped without running. Waiting also
// watches done, so a teardown that races the enqueue cannot strand the
// caller on a closure the loop will never drain.
func (s *Session) call(fn func()) bool {
	doneC := make(chan struct{})
	if !s.post(func() {
		fn()
		close(doneC)
	}) {
		return false
	}
	select {
	case <-doneC:
		return true
	case <-s.done:
		select {
		case <-doneC:
			return true
		default:
			return false
		}
	}
}

// Join dials the relay and announces the local participant. Blocking; the
// event loop keeps running throughout. A failed or dropped connection is not
// redialed by the session.
func (s *Session) Join(ctx context.Context) error {
	already := false
	if !s.call(func() { already = s.conn != nil || s.left }) {
		return shared.ErrSessionClosed
	}
	if already {
		return shared.ErrAlreadyJoined
	}
	conn, err := Dial(
		ctx, s.logger, s.cfg.BaseURL, s.key, s.self,
		func(m *Message) { s.post(func() { s.handleMessage(m) }) },
		func(cause error) { s.post(func() { s.handleClosed(cause) }) },
	)
	if err != nil {
		return err
	}
	stored := false
	s.call(func() {
		if !s.left {
			s.conn = conn
			stored = true
		}
	})
	if !stored {
		// Left while dialing; the fresh channel has no owner.
		conn.Close()
		return shared.ErrSessionClosed
	}
	conn.Listen()
	return nil
}

// Leave is the mandatory cleanup: stops every capture track, closes the
// negotiation and the relay connection, and stops the event loop. Idempotent.
func (s *Session) Leave() {
	s.call(func() {
		if s.left {
			return
		}
		s.left = true
		s.media.StopAll()
		if s.neg != nil {
			s.neg.Close()
		}
		if s.conn != nil {
			s.conn.Close()
		}
		close(s.done)
	})
}

// LocalEdit feeds one user edit from the editor's change callback.
func (s *Session) LocalEdit(text string) {
	s.post(func() { s.sync.ApplyLocalEdit(text) })
}

// SetLanguage switches the document language and broadcasts the change.
func (s *Session) SetLanguage(lang Language) {
	s.post(func() { s.sync.SetLanguage(lang) })
}

// SendCursor shares the local cursor position. Best effort, like everything
// on this channel.
func (s *Session) SendCursor(position any) {
	s.post(func() {
		s.sendMessage(&Message{
			Type: MessageTypeCursorUpdate,
			Payload: &CursorUpdatePayload{
				UserID:   s.self.UserID,
				Username: s.self.Username,
				Position: position,
			},
		})
	})
}

// Document returns the current local document view.
func (s *Session) Document() DocumentState {
	var doc DocumentState
	s.call(func() { doc = s.sync.Document() })
	return doc
}

// Participants returns the current roster snapshot.
func (s *Session) Participants() []Participant {
	var ps []Participant
	s.call(func() { ps = s.roster.Participants() })
	return ps
}

// RemoteParticipants returns everyone but the local user.
func (s *Session) RemoteParticipants() []Participant {
	var ps []Participant
	s.call(func() { ps = s.roster.Remotes() })
	return ps
}

func (s *Session) IsAudioOn() bool {
	var on bool
	s.call(func() { on = s.media.IsAudioOn() })
	return on
}

func (s *Session) IsVideoOn() bool {
	var on bool
	s.call(func() { on = s.media.IsVideoOn() })
	return on
}

// NegotiationState reports the media negotiation phase; Idle when no
// negotiation exists yet.
func (s *Session) NegotiationState() NegotiationState {
	state := NegotiationIdle
	s.call(func() {
		if s.neg != nil {
			state = s.neg.State()
		}
	})
	return state
}

// ToggleAudio flips the microphone. Device acquisition runs off-loop; its
// completion posts back, so a slow permission prompt never blocks message
// handling.
func (s *Session) ToggleAudio() {
	s.post(func() {
		if s.acquiringAudio || s.left {
			return
		}
		if s.media.IsAudioOn() {
			s.media.DisableAudio()
			return
		}
		s.acquireTrack("audio")
	})
}

// ToggleVideo flips the camera.
func (s *Session) ToggleVideo() {
	s.post(func() {
		if s.acquiringVideo || s.left {
			return
		}
		if s.media.IsVideoOn() {
			s.media.DisableVideo()
			return
		}
		s.acquireTrack("video")
	})
}

// acquireTrack opens one capture kind off-loop and wires the result into the
// negotiation once it lands. On failure the toggle state is untouched and no
// peer connection is created.
func (s *Session) acquireTrack(kind string) {
	if s.cfg.Source == nil {
		s.notifyUser(Notice{
			Kind: NoticeMediaError,
			Err:  &shared.MediaAccessError{Kind: kind, Err: shared.ErrNoDeviceSource},
		})
		return
	}
	if kind == "audio" {
		s.acquiringAudio = true
	} else {
		s.acquiringVideo = true
	}
	go func() {
		var track LocalTrack
		var err error
		if kind == "audio" {
			track, err = s.cfg.Source.OpenAudio()
		} else {
			track, err = s.cfg.Source.OpenVideo()
		}
		s.post(func() {
			if kind == "audio" {
				s.acquiringAudio = false
			} else {
				s.acquiringVideo = false
			}
			if err != nil {
				merr := &shared.MediaAccessError{Kind: kind, Err: err}
				s.logger.Error("media acquisition failed", merr)
				s.notifyUser(Notice{Kind: NoticeMediaError, Err: merr})
				return
			}
			if s.left {
				_ = track.Stop()
				return
			}
			if kind == "audio" {
				s.media.AdoptAudio(track)
			} else {
				s.media.AdoptVideo(track)
			}
			s.attachTrack(track)
		})
	}()
}

// attachTrack adds a fresh local track to the negotiation, creating it and
// starting the offer when this is the first media enable.
func (s *Session) attachTrack(track LocalTrack) {
	neg, err := s.negotiator()
	if err != nil {
		s.notifyUser(Notice{Kind: NoticeNegotiationError, Err: err})
		return
	}
	if err := neg.AddLocalTrack(track); err != nil {
		s.logger.Error("attaching local track", err)
		s.notifyUser(Notice{Kind: NoticeNegotiationError, Err: err})
		return
	}
	if neg.State() == NegotiationIdle {
		if err := neg.StartOffer(); err != nil {
			s.notifyUser(Notice{Kind: NoticeNegotiationError, Err: err})
		}
	}
	// Tracks enabled mid-negotiation ride along without a renegotiation
	// round; the protocol does not carry one.
}

// negotiator lazily creates the single per-session negotiation, replaying
// any ICE candidates that arrived ahead of it.
func (s *Session) negotiator() (*Negotiator, error) {
	if s.neg != nil && s.neg.State() != NegotiationClosed {
		return s.neg, nil
	}
	neg, err := NewNegotiator(
		s.logger, s.self.UserID, s.cfg.WebRTC,
		// pion callbacks fire off-loop; route their sends through it.
		func(m *Message) { s.post(func() { s.sendMessage(m) }) },
		func(fn func()) { s.post(fn) },
		s.onRemoteTrack,
		func(err error) { s.notifyUser(Notice{Kind: NoticeNegotiationError, Err: err}) },
	)
	if err != nil {
		return nil, err
	}
	s.neg = neg
	for _, c := range s.earlyICE {
		neg.HandleRemoteCandidate(c)
	}
	s.earlyICE = nil
	return neg, nil
}

func (s *Session) handleMessage(m *Message) {
	switch p := m.Payload.(type) {
	case *CodeChangePayload:
		s.sync.ApplyRemoteCode(p.Code, p.UserID)
	case *LanguageChangePayload:
		s.sync.ApplyRemoteLanguage(p.Language, p.UserID)
	case *ParticipantsUpdatePayload:
		s.roster.Replace(p.Participants)
	case *SessionStatePayload:
		s.sync.ApplySessionState(p)
		if p.Participants != nil {
			s.roster.Replace(p.Participants)
		}
	case *UserJoinedPayload:
		s.notifyUser(Notice{Kind: NoticeUserJoined, Username: p.Username})
	case *UserLeftPayload:
		s.notifyUser(Notice{Kind: NoticeUserLeft, Username: p.Username})
	case *OfferPayload:
		if p.UserID == s.self.UserID {
			return
		}
		neg, err := s.negotiator()
		if err != nil {
			s.notifyUser(Notice{Kind: NoticeNegotiationError, Err: err})
			return
		}
		s.attachLiveTracks(neg)
		neg.HandleOffer(p.Offer)
	case *AnswerPayload:
		if p.UserID == s.self.UserID || s.neg == nil {
			return
		}
		s.neg.HandleAnswer(p.Answer)
	case *ICEPayload:
		if p.UserID == s.self.UserID {
			return
		}
		if s.neg == nil {
			// Negotiation is created on media enable or inbound offer, not
			// here; hold the candidate for it.
			s.earlyICE = append(s.earlyICE, p.Candidate)
			return
		}
		s.neg.HandleRemoteCandidate(p.Candidate)
	case *CursorUpdatePayload:
		// UI concern; nothing to track here.
	case *JoinPayload:
		// Client-to-relay only; a relay never echoes it.
	}
}

// attachLiveTracks adds whatever capture is already on to a fresh
// negotiation, so answering an offer carries local media when available.
func (s *Session) attachLiveTracks(neg *Negotiator) {
	tracks := s.media.Tracks()
	if tracks.Audio != nil {
		if err := neg.AddLocalTrack(tracks.Audio); err != nil {
			s.logger.Error("attaching live audio track", err)
		}
	}
	if tracks.Video != nil {
		if err := neg.AddLocalTrack(tracks.Video); err != nil {
			s.logger.Error("attaching live video track", err)
		}
	}
}

func (s *Session) handleClosed(cause error) {
	if s.left {
		return
	}
	if cause != nil {
		s.notifyUser(Notice{Kind: NoticeDisconnected, Err: cause})
	}
}

func (s *Session) sendMessage(m *Message) {
	if s.conn == nil {
		s.logger.Debug("dropping message before join", zap.String("type", string(m.Type)))
		return
	}
	if err := s.conn.Send(m); err != nil {
		s.logger.Error("sending message", err, zap.String("type", string(m.Type)))
	}
}

func (s *Session) notifyUser(n Notice) {
	if s.notify == nil {
		return
	}
	s.notify(n)
}
