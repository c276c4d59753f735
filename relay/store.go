package relay

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	codesphere "github.com/prathdotexe/CodeSphere"
)

// SessionState is one session's authoritative document, language and roster
// as the relay sees them.
type SessionState struct {
	SessionID    string
	Code         string
	Language     codesphere.Language
	CreatedAt    string
	Participants []codesphere.Participant
}

// Store holds every live session in memory. The relay is the single writer
// of record for code, language and roster; clients only ever see snapshots
// of what is here.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*SessionState
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]*SessionState)}
}

func newSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Create registers a fresh session with an opaque 8-character key.
func (s *Store) Create(language codesphere.Language) SessionState {
	if language == "" {
		language = codesphere.DefaultLanguage
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state := &SessionState{
		SessionID: newSessionID(),
		Language:  language,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	s.sessions[state.SessionID] = state
	return snapshotLocked(state)
}

// GetOrCreate looks a session up, creating it on miss: joining an unknown
// key starts a fresh session rather than failing.
func (s *Store) GetOrCreate(sessionID string) SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.sessions[sessionID]
	if !ok {
		state = &SessionState{
			SessionID: sessionID,
			Language:  codesphere.DefaultLanguage,
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		s.sessions[sessionID] = state
	}
	return snapshotLocked(state)
}

func (s *Store) SetCode(sessionID, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.sessions[sessionID]; ok {
		state.Code = code
	}
}

func (s *Store) SetLanguage(sessionID string, language codesphere.Language) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.sessions[sessionID]; ok {
		state.Language = language
	}
}

// AddParticipant records a joiner, ignoring duplicates, and returns the
// resulting roster snapshot.
func (s *Store) AddParticipant(sessionID, userID, username string) []codesphere.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	for _, p := range state.Participants {
		if p.UserID == userID {
			return append([]codesphere.Participant(nil), state.Participants...)
		}
	}
	state.Participants = append(state.Participants, codesphere.Participant{
		UserID:   userID,
		Username: username,
		JoinedAt: time.Now().UTC().Format(time.RFC3339),
	})
	return append([]codesphere.Participant(nil), state.Participants...)
}

// RemoveParticipant drops a leaver and returns their username plus the
// resulting roster snapshot.
func (s *Store) RemoveParticipant(sessionID, userID string) (string, []codesphere.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.sessions[sessionID]
	if !ok {
		return "", nil
	}
	var username string
	kept := state.Participants[:0]
	for _, p := range state.Participants {
		if p.UserID == userID {
			username = p.Username
			continue
		}
		kept = append(kept, p)
	}
	state.Participants = kept
	return username, append([]codesphere.Participant(nil), state.Participants...)
}

// Snapshot returns a copy of the session state, or false for unknown keys.
func (s *Store) Snapshot(sessionID string) (SessionState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[sessionID]
	if !ok {
		return SessionState{}, false
	}
	return snapshotLocked(state), true
}

func snapshotLocked(state *SessionState) SessionState {
	out := *state
	out.Participants = append([]codesphere.Participant(nil), state.Participants...)
	return out
}
