package codesphere

import (
	"errors"

	"github.com/bytedance/sonic"
	"github.com/pion/webrtc/v4"

	"github.com/prathdotexe/CodeSphere/shared"
)

type MessageType string

const (
	MessageTypeJoin               MessageType = "join"
	MessageTypeCodeChange         MessageType = "code_change"
	MessageTypeLanguageChange     MessageType = "language_change"
	MessageTypeCursorUpdate       MessageType = "cursor_update"
	MessageTypeParticipantsUpdate MessageType = "participants_update"
	MessageTypeSessionState       MessageType = "session_state"
	MessageTypeWebRTCOffer        MessageType = "webrtc_offer"
	MessageTypeWebRTCAnswer       MessageType = "webrtc_answer"
	MessageTypeWebRTCICE          MessageType = "webrtc_ice"
	MessageTypeUserJoined         MessageType = "user_joined"
	MessageTypeUserLeft           MessageType = "user_left"
)

// Participant is one roster entry. JoinedAt is set by the relay and carried
// opaquely by clients.
type Participant struct {
	UserID   string
	Username string
	JoinedAt string
}

func participantFromMap(m map[string]any) (Participant, error) {
	var p Participant
	if v, ok := m["userId"].(string); ok {
		p.UserID = v
	} else {
		return p, errors.New("missing participant userId")
	}
	if v, ok := m["username"].(string); ok {
		p.Username = v
	} else {
		return p, errors.New("missing participant username")
	}
	if v, ok := m["joinedAt"].(string); ok {
		p.JoinedAt = v
	}
	return p, nil
}

func (p Participant) toMap() map[string]any {
	m := map[string]any{
		"userId":   p.UserID,
		"username": p.Username,
	}
	if p.JoinedAt != "" {
		m["joinedAt"] = p.JoinedAt
	}
	return m
}

func participantsFromAny(v any) ([]Participant, error) {
	raw, ok := v.([]any)
	if !ok {
		return nil, errors.New("participants is not a list")
	}
	out := make([]Participant, 0, len(raw))
	for _, r := range raw {
		rm, ok := r.(map[string]any)
		if !ok {
			return nil, errors.New("invalid element in participants")
		}
		p, err := participantFromMap(rm)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func participantsToAny(ps []Participant) []any {
	out := make([]any, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.toMap())
	}
	return out
}

// Payload is the typed body of a wire message. load consumes the flat JSON
// object (minus the discriminator), fields produces it.
type Payload interface {
	load(map[string]any) error
	fields() map[string]any
}

// Message is one flat wire message: a type discriminator plus a payload whose
// shape depends on the type. A Message decoded from an unrecognized type has
// a nil Payload and must be skipped, not treated as an error: the relay is
// free to add control messages this client does not know.
type Message struct {
	Type    MessageType
	Payload Payload
}

// Known reports whether the decoder recognized the message type.
func (m *Message) Known() bool { return m.Payload != nil }

// Encode serializes a message for the relay channel.
func Encode(m *Message) ([]byte, error) {
	if m == nil || m.Payload == nil {
		return nil, errors.New("nil message payload")
	}
	body := m.Payload.fields()
	body["type"] = string(m.Type)
	return sonic.Marshal(body)
}

// Decode parses a relay frame. Unknown types yield a no-op message with a nil
// payload and no error. Malformed frames and malformed payloads for known
// types yield a *shared.DecodeError.
func Decode(data []byte) (*Message, error) {
	var raw map[string]any
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return nil, &shared.DecodeError{Err: err}
	}
	t, ok := raw["type"].(string)
	if !ok {
		return nil, &shared.DecodeError{Err: errors.New("missing type")}
	}
	delete(raw, "type")
	m := &Message{Type: MessageType(t)}
	switch m.Type {
	case MessageTypeJoin:
		m.Payload = new(JoinPayload)
	case MessageTypeCodeChange:
		m.Payload = new(CodeChangePayload)
	case MessageTypeLanguageChange:
		m.Payload = new(LanguageChangePayload)
	case MessageTypeCursorUpdate:
		m.Payload = new(CursorUpdatePayload)
	case MessageTypeParticipantsUpdate:
		m.Payload = new(ParticipantsUpdatePayload)
	case MessageTypeSessionState:
		m.Payload = new(SessionStatePayload)
	case MessageTypeWebRTCOffer:
		m.Payload = new(OfferPayload)
	case MessageTypeWebRTCAnswer:
		m.Payload = new(AnswerPayload)
	case MessageTypeWebRTCICE:
		m.Payload = new(ICEPayload)
	case MessageTypeUserJoined:
		m.Payload = new(UserJoinedPayload)
	case MessageTypeUserLeft:
		m.Payload = new(UserLeftPayload)
	default:
		// Forward compatibility: not ours to understand.
		return m, nil
	}
	if err := m.Payload.load(raw); err != nil {
		return nil, &shared.DecodeError{Type: t, Err: err}
	}
	return m, nil
}

// JoinPayload announces the local participant right after the relay channel
// opens. There is no separate registration step.
type JoinPayload struct {
	UserID     string
	Username   string
	SessionKey string
}

func (p *JoinPayload) load(m map[string]any) error {
	if v, ok := m["userId"].(string); ok {
		p.UserID = v
	} else {
		return errors.New("missing userId")
	}
	if v, ok := m["username"].(string); ok {
		p.Username = v
	} else {
		return errors.New("missing username")
	}
	if v, ok := m["sessionKey"].(string); ok {
		p.SessionKey = v
	}
	return nil
}

func (p *JoinPayload) fields() map[string]any {
	return map[string]any{
		"userId":     p.UserID,
		"username":   p.Username,
		"sessionKey": p.SessionKey,
	}
}

// CodeChangePayload is a full-text replace broadcast. The relay strips no
// fields but does not require sessionKey on the inbound leg.
type CodeChangePayload struct {
	Code       string
	UserID     string
	SessionKey string
}

func (p *CodeChangePayload) load(m map[string]any) error {
	if v, ok := m["code"].(string); ok {
		p.Code = v
	} else {
		return errors.New("missing code")
	}
	if v, ok := m["userId"].(string); ok {
		p.UserID = v
	} else {
		return errors.New("missing userId")
	}
	if v, ok := m["sessionKey"].(string); ok {
		p.SessionKey = v
	}
	return nil
}

func (p *CodeChangePayload) fields() map[string]any {
	out := map[string]any{
		"code":   p.Code,
		"userId": p.UserID,
	}
	if p.SessionKey != "" {
		out["sessionKey"] = p.SessionKey
	}
	return out
}

type LanguageChangePayload struct {
	Language   Language
	UserID     string
	SessionKey string
}

func (p *LanguageChangePayload) load(m map[string]any) error {
	if v, ok := m["language"].(string); ok {
		p.Language = Language(v)
	} else {
		return errors.New("missing language")
	}
	if v, ok := m["userId"].(string); ok {
		p.UserID = v
	} else {
		return errors.New("missing userId")
	}
	if v, ok := m["sessionKey"].(string); ok {
		p.SessionKey = v
	}
	return nil
}

func (p *LanguageChangePayload) fields() map[string]any {
	out := map[string]any{
		"language": string(p.Language),
		"userId":   p.UserID,
	}
	if p.SessionKey != "" {
		out["sessionKey"] = p.SessionKey
	}
	return out
}

// CursorUpdatePayload is relayed verbatim for UI cursor ghosts. Position is
// editor-defined and carried opaquely.
type CursorUpdatePayload struct {
	UserID   string
	Username string
	Position any
}

func (p *CursorUpdatePayload) load(m map[string]any) error {
	if v, ok := m["userId"].(string); ok {
		p.UserID = v
	} else {
		return errors.New("missing userId")
	}
	if v, ok := m["username"].(string); ok {
		p.Username = v
	}
	p.Position = m["position"]
	return nil
}

func (p *CursorUpdatePayload) fields() map[string]any {
	return map[string]any{
		"userId":   p.UserID,
		"username": p.Username,
		"position": p.Position,
	}
}

type ParticipantsUpdatePayload struct {
	Participants []Participant
}

func (p *ParticipantsUpdatePayload) load(m map[string]any) error {
	v, ok := m["participants"]
	if !ok {
		return errors.New("missing participants")
	}
	ps, err := participantsFromAny(v)
	if err != nil {
		return err
	}
	p.Participants = ps
	return nil
}

func (p *ParticipantsUpdatePayload) fields() map[string]any {
	return map[string]any{
		"participants": participantsToAny(p.Participants),
	}
}

// SessionStatePayload seeds a late joiner with the full current state. Any
// subset of the fields may be present; nil pointers and a nil slice mean
// "not sent".
type SessionStatePayload struct {
	Code         *string
	Language     *Language
	Participants []Participant
}

func (p *SessionStatePayload) load(m map[string]any) error {
	if v, ok := m["code"].(string); ok {
		p.Code = &v
	}
	if v, ok := m["language"].(string); ok {
		l := Language(v)
		p.Language = &l
	}
	if v, ok := m["participants"]; ok {
		ps, err := participantsFromAny(v)
		if err != nil {
			return err
		}
		p.Participants = ps
	}
	return nil
}

func (p *SessionStatePayload) fields() map[string]any {
	out := map[string]any{}
	if p.Code != nil {
		out["code"] = *p.Code
	}
	if p.Language != nil {
		out["language"] = string(*p.Language)
	}
	if p.Participants != nil {
		out["participants"] = participantsToAny(p.Participants)
	}
	return out
}

func descriptionFromAny(v any) (webrtc.SessionDescription, error) {
	var desc webrtc.SessionDescription
	m, ok := v.(map[string]any)
	if !ok {
		return desc, errors.New("description is not an object")
	}
	t, ok := m["type"].(string)
	if !ok {
		return desc, errors.New("missing description type")
	}
	desc.Type = webrtc.NewSDPType(t)
	if desc.Type == webrtc.SDPTypeUnknown {
		return desc, errors.New("unknown description type " + t)
	}
	sdp, ok := m["sdp"].(string)
	if !ok {
		return desc, errors.New("missing description sdp")
	}
	desc.SDP = sdp
	return desc, nil
}

func descriptionToAny(d webrtc.SessionDescription) map[string]any {
	return map[string]any{
		"type": d.Type.String(),
		"sdp":  d.SDP,
	}
}

type OfferPayload struct {
	Offer      webrtc.SessionDescription
	UserID     string
	SessionKey string
}

func (p *OfferPayload) load(m map[string]any) error {
	v, ok := m["offer"]
	if !ok {
		return errors.New("missing offer")
	}
	desc, err := descriptionFromAny(v)
	if err != nil {
		return err
	}
	p.Offer = desc
	if v, ok := m["userId"].(string); ok {
		p.UserID = v
	} else {
		return errors.New("missing userId")
	}
	if v, ok := m["sessionKey"].(string); ok {
		p.SessionKey = v
	}
	return nil
}

func (p *OfferPayload) fields() map[string]any {
	out := map[string]any{
		"offer":  descriptionToAny(p.Offer),
		"userId": p.UserID,
	}
	if p.SessionKey != "" {
		out["sessionKey"] = p.SessionKey
	}
	return out
}

type AnswerPayload struct {
	Answer     webrtc.SessionDescription
	UserID     string
	SessionKey string
}

func (p *AnswerPayload) load(m map[string]any) error {
	v, ok := m["answer"]
	if !ok {
		return errors.New("missing answer")
	}
	desc, err := descriptionFromAny(v)
	if err != nil {
		return err
	}
	p.Answer = desc
	if v, ok := m["userId"].(string); ok {
		p.UserID = v
	} else {
		return errors.New("missing userId")
	}
	if v, ok := m["sessionKey"].(string); ok {
		p.SessionKey = v
	}
	return nil
}

func (p *AnswerPayload) fields() map[string]any {
	out := map[string]any{
		"answer": descriptionToAny(p.Answer),
		"userId": p.UserID,
	}
	if p.SessionKey != "" {
		out["sessionKey"] = p.SessionKey
	}
	return out
}

type ICEPayload struct {
	Candidate  webrtc.ICECandidateInit
	UserID     string
	SessionKey string
}

func (p *ICEPayload) load(m map[string]any) error {
	cm, ok := m["candidate"].(map[string]any)
	if !ok {
		return errors.New("missing candidate")
	}
	if v, ok := cm["candidate"].(string); ok {
		p.Candidate.Candidate = v
	} else {
		return errors.New("missing candidate string")
	}
	if v, ok := cm["sdpMid"].(string); ok {
		p.Candidate.SDPMid = &v
	}
	if v, ok := asInt(cm["sdpMLineIndex"]); ok {
		idx := uint16(v)
		p.Candidate.SDPMLineIndex = &idx
	}
	if v, ok := cm["usernameFragment"].(string); ok {
		p.Candidate.UsernameFragment = &v
	}
	if v, ok := m["userId"].(string); ok {
		p.UserID = v
	} else {
		return errors.New("missing userId")
	}
	if v, ok := m["sessionKey"].(string); ok {
		p.SessionKey = v
	}
	return nil
}

func (p *ICEPayload) fields() map[string]any {
	cm := map[string]any{
		"candidate": p.Candidate.Candidate,
	}
	if p.Candidate.SDPMid != nil {
		cm["sdpMid"] = *p.Candidate.SDPMid
	}
	if p.Candidate.SDPMLineIndex != nil {
		cm["sdpMLineIndex"] = int(*p.Candidate.SDPMLineIndex)
	}
	if p.Candidate.UsernameFragment != nil {
		cm["usernameFragment"] = *p.Candidate.UsernameFragment
	}
	out := map[string]any{
		"candidate": cm,
		"userId":    p.UserID,
	}
	if p.SessionKey != "" {
		out["sessionKey"] = p.SessionKey
	}
	return out
}

// UserJoinedPayload is a notification slip, nothing more: the roster is
// mutated only by snapshot messages.
type UserJoinedPayload struct {
	UserID   string
	Username string
}

func (p *UserJoinedPayload) load(m map[string]any) error {
	if v, ok := m["userId"].(string); ok {
		p.UserID = v
	}
	if v, ok := m["username"].(string); ok {
		p.Username = v
	} else {
		return errors.New("missing username")
	}
	return nil
}

func (p *UserJoinedPayload) fields() map[string]any {
	return map[string]any{
		"userId":   p.UserID,
		"username": p.Username,
	}
}

type UserLeftPayload struct {
	UserID   string
	Username string
}

func (p *UserLeftPayload) load(m map[string]any) error {
	if v, ok := m["userId"].(string); ok {
		p.UserID = v
	}
	if v, ok := m["username"].(string); ok {
		p.Username = v
	} else {
		return errors.New("missing username")
	}
	return nil
}

func (p *UserLeftPayload) fields() map[string]any {
	return map[string]any{
		"userId":   p.UserID,
		"username": p.Username,
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint16:
		return int(n), true
	case float64:
		return int(n), true
	case float32:
		return int(n), true
	}
	return 0, false
}
