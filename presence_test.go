package codesphere

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRosterStartsWithSelf(t *testing.T) {
	r := NewRoster(Participant{UserID: "self", Username: "me"})
	assert.Equal(t, 1, r.Len())
	assert.True(t, r.Contains("self"))
}

func TestRosterSnapshotReplacesWholesale(t *testing.T) {
	r := NewRoster(Participant{UserID: "self", Username: "me"})

	r.Replace([]Participant{
		{UserID: "self", Username: "me"},
		{UserID: "a", Username: "ana"},
		{UserID: "b", Username: "bo"},
	})
	assert.Equal(t, 3, r.Len())

	// A later snapshot without "a" removes it; nothing is merged.
	r.Replace([]Participant{
		{UserID: "self", Username: "me"},
		{UserID: "b", Username: "bo"},
		{UserID: "c", Username: "cy"},
	})
	assert.False(t, r.Contains("a"))
	assert.True(t, r.Contains("b"))
	assert.True(t, r.Contains("c"))

	got := r.Participants()
	require.Len(t, got, 3)
	assert.Equal(t, []string{"b", "c", "self"}, []string{got[0].UserID, got[1].UserID, got[2].UserID})
}

func TestRosterKeepsSelfWhenSnapshotOmitsIt(t *testing.T) {
	r := NewRoster(Participant{UserID: "self", Username: "me"})

	r.Replace([]Participant{{UserID: "a", Username: "ana"}})
	assert.True(t, r.Contains("self"))
	assert.True(t, r.Contains("a"))
	assert.Equal(t, 2, r.Len())
}

func TestRosterRemotes(t *testing.T) {
	r := NewRoster(Participant{UserID: "self", Username: "me"})
	r.Replace([]Participant{
		{UserID: "self", Username: "me"},
		{UserID: "b", Username: "bo"},
		{UserID: "a", Username: "ana"},
	})

	remotes := r.Remotes()
	require.Len(t, remotes, 2)
	assert.Equal(t, "a", remotes[0].UserID)
	assert.Equal(t, "b", remotes[1].UserID)
}
