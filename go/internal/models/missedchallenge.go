package models

import (
	"time"

	"github.com/google/uuid"
)

// MissedChallengeLog records a challenge that was cancelled before the
// invited player ever joined. Write-once, best effort; at most one log
// exists per cancelled challenge.
type MissedChallengeLog struct {
	ID           uuid.UUID `json:"id"`
	ChallengeID  uuid.UUID `json:"challenge_id"`
	InitiatorID  string    `json:"initiator_id"`
	FriendID     string    `json:"friend_id"`
	FriendName   string    `json:"friend_name"`
	FriendAvatar string    `json:"friend_avatar"`
	CreatedAt    time.Time `json:"created_at"`
}

// PlayerProfile is the display identity of a player as needed when
// building notifications and missed-challenge summaries.
type PlayerProfile struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// PlaceholderProfile stands in when a participant record cannot be
// loaded. The match lifecycle never blocks on a missing profile.
func PlaceholderProfile(playerID string) PlayerProfile {
	return PlayerProfile{
		ID:   playerID,
		Name: "Unknown player",
	}
}
