package codesphere

import "sort"

// Roster is the authoritative set of session participants, keyed by user id.
// Snapshot messages (participants_update, session_state.participants) replace
// it wholesale; user_joined and user_left are UI notifications and never
// touch it. Keeping notifications out of the roster is what prevents drift
// from duplicated or partial join/left events.
//
// Roster is not safe for concurrent use; the Session drives it from its
// event loop.
type Roster struct {
	selfID  string
	members map[string]Participant
}

func NewRoster(self Participant) *Roster {
	return &Roster{
		selfID:  self.UserID,
		members: map[string]Participant{self.UserID: self},
	}
}

// Replace installs a full snapshot. The last snapshot received wins; nothing
// is merged with the prior roster. The local user is kept present even when
// a stale snapshot omits it.
func (r *Roster) Replace(snapshot []Participant) {
	self, hadSelf := r.members[r.selfID]
	r.members = make(map[string]Participant, len(snapshot)+1)
	for _, p := range snapshot {
		r.members[p.UserID] = p
	}
	if _, ok := r.members[r.selfID]; !ok && hadSelf {
		r.members[r.selfID] = self
	}
}

func (r *Roster) Contains(userID string) bool {
	_, ok := r.members[userID]
	return ok
}

func (r *Roster) Len() int { return len(r.members) }

// Participants returns all members, sorted by user id for stable output.
func (r *Roster) Participants() []Participant {
	out := make([]Participant, 0, len(r.members))
	for _, p := range r.members {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Remotes returns everyone but the local user.
func (r *Roster) Remotes() []Participant {
	out := make([]Participant, 0, len(r.members))
	for id, p := range r.members {
		if id == r.selfID {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
