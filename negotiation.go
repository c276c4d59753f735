package codesphere

import (
	"fmt"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/prathdotexe/CodeSphere/shared"
)

type NegotiationState int

const (
	NegotiationIdle NegotiationState = iota
	NegotiationAwaitingLocalOffer
	NegotiationOfferSent
	NegotiationAwaitingAnswer
	NegotiationAnswerSent
	NegotiationConnected
	NegotiationClosed
)

func (s NegotiationState) String() string {
	switch s {
	case NegotiationIdle:
		return "idle"
	case NegotiationAwaitingLocalOffer:
		return "awaiting_local_offer"
	case NegotiationOfferSent:
		return "offer_sent"
	case NegotiationAwaitingAnswer:
		return "awaiting_answer"
	case NegotiationAnswerSent:
		return "answer_sent"
	case NegotiationConnected:
		return "connected"
	case NegotiationClosed:
		return "closed"
	}
	return "unknown"
}

// RemoteTrackHandler receives inbound media tracks from the peer. The
// rendering surface behind it is not this package's concern.
type RemoteTrackHandler func(track *webrtc.TrackRemote)

// Negotiator drives a single point-to-point peer media connection through
// the offer/answer/ICE exchange. One instance per session, created lazily on
// the first local media enable or the first inbound offer.
//
// State is owned by the session event loop: every method must be called from
// it, and completions of the suspending pion operations re-enter it through
// post. Remote ICE candidates that arrive before a remote description is set
// are buffered and applied in arrival order once it is.
type Negotiator struct {
	logger shared.LoggerAdapter
	selfID string
	send   func(*Message)
	post   func(func())

	onRemoteTrack RemoteTrackHandler
	onError       func(error)

	pc        *webrtc.PeerConnection
	state     NegotiationState
	remoteSet bool
	pending   []webrtc.ICECandidateInit
}

func NewNegotiator(
	logger shared.LoggerAdapter,
	selfID string,
	cfg webrtc.Configuration,
	send func(*Message),
	post func(func()),
	onRemoteTrack RemoteTrackHandler,
	onError func(error),
) (*Negotiator, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if post == nil {
		post = func(fn func()) { fn() }
	}
	n := &Negotiator{
		logger:        logger,
		selfID:        selfID,
		send:          send,
		post:          post,
		onRemoteTrack: onRemoteTrack,
		onError:       onError,
		state:         NegotiationIdle,
	}
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, &shared.NegotiationError{Step: "creating peer connection", Err: err}
	}
	n.pc = pc

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		n.send(&Message{
			Type:    MessageTypeWebRTCICE,
			Payload: &ICEPayload{Candidate: c.ToJSON(), UserID: n.selfID},
		})
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		n.logger.Info(
			"received remote track",
			zap.String("kind", track.Kind().String()),
			zap.String("codec", track.Codec().MimeType),
		)
		if n.onRemoteTrack != nil {
			go n.onRemoteTrack(track)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		n.logger.Debug("peer connection state changed", zap.String("state", state.String()))
	})
	return n, nil
}

func (n *Negotiator) State() NegotiationState { return n.state }

// PendingCandidates reports how many remote candidates are buffered waiting
// for a remote description.
func (n *Negotiator) PendingCandidates() int { return len(n.pending) }

// AddLocalTrack attaches a local capture track to the peer connection.
func (n *Negotiator) AddLocalTrack(track webrtc.TrackLocal) error {
	if n.state == NegotiationClosed {
		return shared.ErrNegotiationClosed
	}
	if _, err := n.pc.AddTrack(track); err != nil {
		return &shared.NegotiationError{Step: "adding local track", Err: err}
	}
	return nil
}

// StartOffer begins negotiation from the local side. Only meaningful from
// Idle; the offer is created and set off the loop, then transmitted once the
// completion posts back.
func (n *Negotiator) StartOffer() error {
	if n.state == NegotiationClosed {
		return shared.ErrNegotiationClosed
	}
	if n.state != NegotiationIdle {
		return fmt.Errorf("negotiation already started (state %s)", n.state)
	}
	n.state = NegotiationAwaitingLocalOffer
	go func() {
		offer, err := n.pc.CreateOffer(nil)
		if err == nil {
			err = n.pc.SetLocalDescription(offer)
		}
		n.post(func() {
			if n.state != NegotiationAwaitingLocalOffer {
				return
			}
			if err != nil {
				n.fail(&shared.NegotiationError{Step: "creating offer", Err: err})
				return
			}
			n.state = NegotiationOfferSent
			n.send(&Message{
				Type:    MessageTypeWebRTCOffer,
				Payload: &OfferPayload{Offer: offer, UserID: n.selfID},
			})
			n.state = NegotiationAwaitingAnswer
		})
	}()
	return nil
}

// HandleOffer reacts to a webrtc_offer from the peer: set remote, answer,
// send. Accepted from Idle and from the offering states; two sides offering
// at once is glare, which the protocol leaves unresolved. Both sides end up
// answering and the outcome depends on delivery order.
func (n *Negotiator) HandleOffer(offer webrtc.SessionDescription) {
	switch n.state {
	case NegotiationIdle, NegotiationOfferSent, NegotiationAwaitingAnswer:
	case NegotiationClosed:
		return
	default:
		n.logger.Warn("ignoring offer", zap.String("state", n.state.String()))
		return
	}
	go func() {
		err := n.pc.SetRemoteDescription(offer)
		var answer webrtc.SessionDescription
		if err == nil {
			answer, err = n.pc.CreateAnswer(nil)
		}
		if err == nil {
			err = n.pc.SetLocalDescription(answer)
		}
		n.post(func() {
			if n.state == NegotiationClosed {
				return
			}
			if err != nil {
				n.fail(&shared.NegotiationError{Step: "answering offer", Err: err})
				return
			}
			n.remoteSet = true
			n.drainPending()
			n.state = NegotiationAnswerSent
			n.send(&Message{
				Type:    MessageTypeWebRTCAnswer,
				Payload: &AnswerPayload{Answer: answer, UserID: n.selfID},
			})
		})
	}()
}

// HandleAnswer reacts to a webrtc_answer for our outstanding offer.
func (n *Negotiator) HandleAnswer(answer webrtc.SessionDescription) {
	switch n.state {
	case NegotiationOfferSent, NegotiationAwaitingAnswer:
	case NegotiationClosed:
		return
	default:
		n.logger.Warn("ignoring answer", zap.String("state", n.state.String()))
		return
	}
	go func() {
		err := n.pc.SetRemoteDescription(answer)
		n.post(func() {
			if n.state == NegotiationClosed {
				return
			}
			if err != nil {
				n.fail(&shared.NegotiationError{Step: "applying answer", Err: err})
				return
			}
			n.remoteSet = true
			n.drainPending()
			n.state = NegotiationConnected
		})
	}()
}

// HandleRemoteCandidate applies a peer ICE candidate in any non-terminal
// phase. Candidates arriving before the remote description are buffered, not
// dropped. A candidate the peer connection rejects is logged and skipped;
// ICE keeps going on the rest.
func (n *Negotiator) HandleRemoteCandidate(candidate webrtc.ICECandidateInit) {
	if n.state == NegotiationClosed {
		return
	}
	if !n.remoteSet {
		n.pending = append(n.pending, candidate)
		return
	}
	if err := n.pc.AddICECandidate(candidate); err != nil {
		n.logger.Warn("adding remote ICE candidate failed", zap.Error(err))
	}
}

func (n *Negotiator) drainPending() {
	for _, c := range n.pending {
		if err := n.pc.AddICECandidate(c); err != nil {
			n.logger.Warn("adding buffered ICE candidate failed", zap.Error(err))
		}
	}
	n.pending = nil
}

func (n *Negotiator) fail(err error) {
	n.logger.Error("negotiation failed", err)
	if n.onError != nil {
		n.onError(err)
	}
	n.Close()
}

// Close tears the negotiation down from any state. Idempotent; buffered
// candidates are dropped with the peer connection.
func (n *Negotiator) Close() {
	if n.state == NegotiationClosed {
		return
	}
	n.state = NegotiationClosed
	n.pending = nil
	if err := n.pc.Close(); err != nil {
		n.logger.Error("closing peer connection failed", err)
	}
}
