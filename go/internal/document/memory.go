package document

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mapclash/mapclash/go/internal/models"
	"github.com/rs/zerolog/log"
)

// MemoryStore is a mutex-guarded in-memory ChallengeStore and
// SnapshotFeed. It backs tests and single-process local play with the
// exact conditional-update semantics of the Postgres repository.
type MemoryStore struct {
	mu         sync.Mutex
	challenges map[uuid.UUID]*models.Challenge
	watchers   map[uuid.UUID][]chan models.Challenge
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		challenges: make(map[uuid.UUID]*models.Challenge),
		watchers:   make(map[uuid.UUID][]chan models.Challenge),
	}
}

// Create implements ChallengeStore.
func (s *MemoryStore) Create(ctx context.Context, challengerID, challengedID string) (*models.Challenge, error) {
	now := time.Now().UTC()
	ch := &models.Challenge{
		ID:               uuid.New(),
		ChallengerID:     challengerID,
		ChallengedID:     challengedID,
		Status:           models.ChallengeStatusPending,
		ChallengerJoined: true,
		ChallengedJoined: false,
		Scores: []models.ScoreEntry{
			{PlayerID: challengerID, Score: 0},
			{PlayerID: challengedID, Score: 0},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.challenges[ch.ID] = ch
	snapshot := cloneChallenge(ch)
	s.mu.Unlock()

	s.notify(snapshot)
	return snapshot, nil
}

// Get implements ChallengeStore.
func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*models.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.challenges[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneChallenge(ch), nil
}

// SetPresence implements ChallengeStore.
func (s *MemoryStore) SetPresence(ctx context.Context, id uuid.UUID, playerID string, joined bool) (*models.Challenge, error) {
	s.mu.Lock()
	ch, ok := s.challenges[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}

	switch playerID {
	case ch.ChallengerID:
		ch.ChallengerJoined = joined
	case ch.ChallengedID:
		ch.ChallengedJoined = joined
		if joined {
			ch.ChallengedEverJoined = true
		}
	}
	ch.UpdatedAt = time.Now().UTC()
	snapshot := cloneChallenge(ch)
	s.mu.Unlock()

	s.notify(snapshot)
	return snapshot, nil
}

// Accept implements ChallengeStore.
func (s *MemoryStore) Accept(ctx context.Context, id uuid.UUID, matchID uuid.UUID) (*models.Challenge, bool, error) {
	return s.transition(id, func(ch *models.Challenge) bool {
		if ch.Status != models.ChallengeStatusPending || !ch.ChallengerJoined {
			return false
		}
		ch.Status = models.ChallengeStatusAccepted
		ch.MatchID = matchID
		return true
	})
}

// Start implements ChallengeStore.
func (s *MemoryStore) Start(ctx context.Context, id uuid.UUID) (*models.Challenge, bool, error) {
	return s.transition(id, func(ch *models.Challenge) bool {
		if ch.Status != models.ChallengeStatusAccepted || ch.StartedAt != nil {
			return false
		}
		if !ch.ChallengerJoined || !ch.ChallengedJoined {
			return false
		}
		now := time.Now().UTC()
		ch.Status = models.ChallengeStatusActive
		ch.StartedAt = &now
		return true
	})
}

// CancelIfBothAbsent implements ChallengeStore.
func (s *MemoryStore) CancelIfBothAbsent(ctx context.Context, id uuid.UUID) (*models.Challenge, bool, error) {
	return s.transition(id, func(ch *models.Challenge) bool {
		if !ch.Status.CanTransitionTo(models.ChallengeStatusCancelled) || !ch.BothAbsent() {
			return false
		}
		ch.Status = models.ChallengeStatusCancelled
		return true
	})
}

// Cancel implements ChallengeStore.
func (s *MemoryStore) Cancel(ctx context.Context, id uuid.UUID) (*models.Challenge, bool, error) {
	return s.transition(id, func(ch *models.Challenge) bool {
		if !ch.Status.CanTransitionTo(models.ChallengeStatusCancelled) {
			return false
		}
		ch.Status = models.ChallengeStatusCancelled
		return true
	})
}

// Complete implements ChallengeStore.
func (s *MemoryStore) Complete(ctx context.Context, id uuid.UUID) (*models.Challenge, bool, error) {
	return s.transition(id, func(ch *models.Challenge) bool {
		if ch.Status != models.ChallengeStatusActive {
			return false
		}
		ch.Status = models.ChallengeStatusCompleted
		return true
	})
}

// RecordGuess implements ChallengeStore.
func (s *MemoryStore) RecordGuess(ctx context.Context, id uuid.UUID, playerID, item string, countsForScore bool) (*models.Challenge, error) {
	s.mu.Lock()
	ch, ok := s.challenges[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}

	for _, g := range ch.GuessLog {
		if g.PlayerID == playerID && g.Item == item {
			// Already counted for this player
			snapshot := cloneChallenge(ch)
			s.mu.Unlock()
			return snapshot, nil
		}
	}

	now := time.Now().UTC()
	ch.GuessLog = append(ch.GuessLog, models.GuessEntry{PlayerID: playerID, Item: item, GuessedAt: now})
	if countsForScore {
		for i := range ch.Scores {
			if ch.Scores[i].PlayerID == playerID {
				ch.Scores[i].Score++
			}
		}
	}
	ch.UpdatedAt = now
	snapshot := cloneChallenge(ch)
	s.mu.Unlock()

	s.notify(snapshot)
	return snapshot, nil
}

// Watch implements SnapshotFeed. The channel closes when ctx ends.
func (s *MemoryStore) Watch(ctx context.Context, id uuid.UUID) (<-chan models.Challenge, error) {
	ch := make(chan models.Challenge, 16)

	s.mu.Lock()
	s.watchers[id] = append(s.watchers[id], ch)
	// Seed with the current state if the document already exists
	if existing, ok := s.challenges[id]; ok {
		ch <- *cloneChallenge(existing)
	}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		watchers := s.watchers[id]
		for i, w := range watchers {
			if w == ch {
				s.watchers[id] = append(watchers[:i], watchers[i+1:]...)
				break
			}
		}
		// Closed under the lock so notify never races a closed channel
		close(ch)
		s.mu.Unlock()
	}()

	return ch, nil
}

func (s *MemoryStore) transition(id uuid.UUID, apply func(*models.Challenge) bool) (*models.Challenge, bool, error) {
	s.mu.Lock()
	ch, ok := s.challenges[id]
	if !ok {
		s.mu.Unlock()
		return nil, false, ErrNotFound
	}

	won := apply(ch)
	if won {
		ch.UpdatedAt = time.Now().UTC()
	}
	snapshot := cloneChallenge(ch)
	s.mu.Unlock()

	if won {
		s.notify(snapshot)
	}
	return snapshot, won, nil
}

// notify pushes a snapshot to every watcher. Slow watchers lose
// intermediate states, matching the latest-write-wins feed contract.
func (s *MemoryStore) notify(ch *models.Challenge) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range s.watchers[ch.ID] {
		select {
		case w <- *ch:
		default:
			log.Debug().Str("challenge_id", ch.ID.String()).Msg("dropping snapshot for slow watcher")
		}
	}
}

func cloneChallenge(ch *models.Challenge) *models.Challenge {
	out := *ch
	out.Scores = append([]models.ScoreEntry(nil), ch.Scores...)
	out.GuessLog = append([]models.GuessEntry(nil), ch.GuessLog...)
	if ch.StartedAt != nil {
		t := *ch.StartedAt
		out.StartedAt = &t
	}
	return &out
}
