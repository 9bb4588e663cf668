package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to ChallengeStatus
		allowed  bool
	}{
		{ChallengeStatusPending, ChallengeStatusAccepted, true},
		{ChallengeStatusPending, ChallengeStatusCancelled, true},
		{ChallengeStatusPending, ChallengeStatusActive, false},
		{ChallengeStatusAccepted, ChallengeStatusActive, true},
		{ChallengeStatusAccepted, ChallengeStatusCancelled, true},
		{ChallengeStatusActive, ChallengeStatusCompleted, true},
		{ChallengeStatusActive, ChallengeStatusCancelled, false},
		{ChallengeStatusCompleted, ChallengeStatusCancelled, false},
		{ChallengeStatusCancelled, ChallengeStatusAccepted, false},
	}

	for _, tc := range cases {
		assert.Equalf(t, tc.allowed, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTerminalStatuses(t *testing.T) {
	assert.False(t, ChallengeStatusPending.Terminal())
	assert.False(t, ChallengeStatusAccepted.Terminal())
	assert.False(t, ChallengeStatusActive.Terminal())
	assert.True(t, ChallengeStatusCompleted.Terminal())
	assert.True(t, ChallengeStatusCancelled.Terminal())
}

func TestChallengeHelpers(t *testing.T) {
	ch := Challenge{
		ChallengerID:     "alice",
		ChallengedID:     "bob",
		ChallengerJoined: true,
		Scores: []ScoreEntry{
			{PlayerID: "alice", Score: 3},
			{PlayerID: "bob", Score: 5},
		},
	}

	assert.True(t, ch.IsParticipant("alice"))
	assert.False(t, ch.IsParticipant("carol"))
	assert.Equal(t, "bob", ch.OpponentOf("alice"))
	assert.Equal(t, "alice", ch.OpponentOf("bob"))
	assert.Equal(t, 3, ch.ScoreOf("alice"))
	assert.Equal(t, 0, ch.ScoreOf("carol"))
	assert.True(t, ch.JoinedFlag("alice"))
	assert.False(t, ch.JoinedFlag("bob"))
	assert.False(t, ch.BothAbsent())

	ch.ChallengerJoined = false
	assert.True(t, ch.BothAbsent())
}
