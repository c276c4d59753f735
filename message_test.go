package codesphere

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prathdotexe/CodeSphere/shared"
)

func TestDecodeKnownTypes(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		check func(t *testing.T, m *Message)
	}{
		{
			name:  "join",
			frame: `{"type":"join","userId":"u1","username":"ana","sessionKey":"abc123"}`,
			check: func(t *testing.T, m *Message) {
				p := m.Payload.(*JoinPayload)
				assert.Equal(t, "u1", p.UserID)
				assert.Equal(t, "ana", p.Username)
				assert.Equal(t, "abc123", p.SessionKey)
			},
		},
		{
			name:  "code change",
			frame: `{"type":"code_change","code":"x = 1","userId":"u2","sessionKey":"abc123"}`,
			check: func(t *testing.T, m *Message) {
				p := m.Payload.(*CodeChangePayload)
				assert.Equal(t, "x = 1", p.Code)
				assert.Equal(t, "u2", p.UserID)
			},
		},
		{
			name:  "language change",
			frame: `{"type":"language_change","language":"python","userId":"u2"}`,
			check: func(t *testing.T, m *Message) {
				p := m.Payload.(*LanguageChangePayload)
				assert.Equal(t, Language("python"), p.Language)
			},
		},
		{
			name:  "cursor update",
			frame: `{"type":"cursor_update","userId":"u1","username":"ana","position":{"lineNumber":3,"column":7}}`,
			check: func(t *testing.T, m *Message) {
				p := m.Payload.(*CursorUpdatePayload)
				assert.Equal(t, "u1", p.UserID)
				pos, ok := p.Position.(map[string]any)
				require.True(t, ok)
				assert.Equal(t, float64(3), pos["lineNumber"])
			},
		},
		{
			name:  "participants update",
			frame: `{"type":"participants_update","participants":[{"userId":"u1","username":"ana","joinedAt":"2026-08-29T10:00:00Z"},{"userId":"u2","username":"bo"}]}`,
			check: func(t *testing.T, m *Message) {
				p := m.Payload.(*ParticipantsUpdatePayload)
				require.Len(t, p.Participants, 2)
				assert.Equal(t, "ana", p.Participants[0].Username)
				assert.Equal(t, "2026-08-29T10:00:00Z", p.Participants[0].JoinedAt)
				assert.Empty(t, p.Participants[1].JoinedAt)
			},
		},
		{
			name:  "session state with all fields",
			frame: `{"type":"session_state","code":"print(1)","language":"python","participants":[{"userId":"u1","username":"ana"}]}`,
			check: func(t *testing.T, m *Message) {
				p := m.Payload.(*SessionStatePayload)
				require.NotNil(t, p.Code)
				assert.Equal(t, "print(1)", *p.Code)
				require.NotNil(t, p.Language)
				assert.Equal(t, Language("python"), *p.Language)
				require.Len(t, p.Participants, 1)
			},
		},
		{
			name:  "session state partial",
			frame: `{"type":"session_state","code":"x"}`,
			check: func(t *testing.T, m *Message) {
				p := m.Payload.(*SessionStatePayload)
				require.NotNil(t, p.Code)
				assert.Nil(t, p.Language)
				assert.Nil(t, p.Participants)
			},
		},
		{
			name:  "webrtc offer",
			frame: `{"type":"webrtc_offer","offer":{"type":"offer","sdp":"v=0\r\n"},"userId":"u1"}`,
			check: func(t *testing.T, m *Message) {
				p := m.Payload.(*OfferPayload)
				assert.Equal(t, "offer", p.Offer.Type.String())
				assert.Equal(t, "v=0\r\n", p.Offer.SDP)
			},
		},
		{
			name:  "webrtc answer",
			frame: `{"type":"webrtc_answer","answer":{"type":"answer","sdp":"v=0\r\n"},"userId":"u2"}`,
			check: func(t *testing.T, m *Message) {
				p := m.Payload.(*AnswerPayload)
				assert.Equal(t, "answer", p.Answer.Type.String())
			},
		},
		{
			name:  "webrtc ice",
			frame: `{"type":"webrtc_ice","candidate":{"candidate":"candidate:1 1 UDP 2122252543 127.0.0.1 53165 typ host","sdpMid":"0","sdpMLineIndex":0},"userId":"u1"}`,
			check: func(t *testing.T, m *Message) {
				p := m.Payload.(*ICEPayload)
				assert.Contains(t, p.Candidate.Candidate, "typ host")
				require.NotNil(t, p.Candidate.SDPMid)
				assert.Equal(t, "0", *p.Candidate.SDPMid)
				require.NotNil(t, p.Candidate.SDPMLineIndex)
				assert.Equal(t, uint16(0), *p.Candidate.SDPMLineIndex)
			},
		},
		{
			name:  "user joined",
			frame: `{"type":"user_joined","userId":"u3","username":"cy"}`,
			check: func(t *testing.T, m *Message) {
				p := m.Payload.(*UserJoinedPayload)
				assert.Equal(t, "cy", p.Username)
			},
		},
		{
			name:  "user left",
			frame: `{"type":"user_left","userId":"u3","username":"cy"}`,
			check: func(t *testing.T, m *Message) {
				p := m.Payload.(*UserLeftPayload)
				assert.Equal(t, "cy", p.Username)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Decode([]byte(tt.frame))
			require.NoError(t, err)
			require.True(t, m.Known())
			tt.check(t, m)
		})
	}
}

func TestDecodeUnknownTypeIsSkipped(t *testing.T) {
	m, err := Decode([]byte(`{"type":"server_stats","load":0.7}`))
	require.NoError(t, err)
	assert.Equal(t, MessageType("server_stats"), m.Type)
	assert.False(t, m.Known())
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{name: "not json", frame: `{{{`},
		{name: "missing type", frame: `{"userId":"u1"}`},
		{name: "code change without code", frame: `{"type":"code_change","userId":"u1"}`},
		{name: "offer without description", frame: `{"type":"webrtc_offer","userId":"u1"}`},
		{name: "offer with unknown sdp type", frame: `{"type":"webrtc_offer","offer":{"type":"bogus","sdp":"v=0"},"userId":"u1"}`},
		{name: "ice without candidate", frame: `{"type":"webrtc_ice","userId":"u1"}`},
		{name: "participants not a list", frame: `{"type":"participants_update","participants":"nope"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.frame))
			require.Error(t, err)
			var de *shared.DecodeError
			assert.True(t, errors.As(err, &de))
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	mid := "0"
	idx := uint16(1)
	in := &Message{
		Type: MessageTypeWebRTCICE,
		Payload: &ICEPayload{
			Candidate: webrtc.ICECandidateInit{
				Candidate:     "candidate:1 1 UDP 2122252543 127.0.0.1 53165 typ host",
				SDPMid:        &mid,
				SDPMLineIndex: &idx,
			},
			UserID:     "u1",
			SessionKey: "abc123",
		},
	}
	data, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(data)
	require.NoError(t, err)
	p := out.Payload.(*ICEPayload)
	assert.Equal(t, "u1", p.UserID)
	assert.Equal(t, "abc123", p.SessionKey)
	require.NotNil(t, p.Candidate.SDPMLineIndex)
	assert.Equal(t, idx, *p.Candidate.SDPMLineIndex)
}

func TestEncodeNilPayload(t *testing.T) {
	_, err := Encode(&Message{Type: MessageTypeJoin})
	assert.Error(t, err)
}
