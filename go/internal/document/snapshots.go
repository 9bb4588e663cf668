package document

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mapclash/mapclash/go/internal/models"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// SnapshotStreamConfig holds configuration for the snapshot stream.
type SnapshotStreamConfig struct {
	URL           string
	StreamName    string
	SubjectPrefix string // e.g. "challenge.snapshots"
	MaxAge        time.Duration
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultSnapshotStreamConfig returns default snapshot stream configuration.
func DefaultSnapshotStreamConfig() SnapshotStreamConfig {
	return SnapshotStreamConfig{
		URL:           nats.DefaultURL,
		StreamName:    "CHALLENGE_SNAPSHOTS",
		SubjectPrefix: "challenge.snapshots",
		MaxAge:        24 * time.Hour,
		MaxReconnects: -1, // infinite
		ReconnectWait: 2 * time.Second,
	}
}

// SnapshotStream is both sides of the document feed: the service
// publishes the full document after every write, clients watch the
// per-challenge subject. The stream keeps only the newest message per
// subject, which is exactly the feed contract - a strictly newer
// sequence of snapshots where intermediate states may be skipped.
type SnapshotStream struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
	config SnapshotStreamConfig
}

// NewSnapshotStream connects to NATS and ensures the snapshot stream exists.
func NewSnapshotStream(ctx context.Context, config SnapshotStreamConfig) (*SnapshotStream, error) {
	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:              config.StreamName,
		Description:       "Latest challenge document snapshot per match",
		Subjects:          []string{config.SubjectPrefix + ".>"},
		MaxMsgsPerSubject: 1, // only the latest snapshot is retained
		MaxAge:            config.MaxAge,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure snapshot stream: %w", err)
	}

	return &SnapshotStream{
		nc:     nc,
		js:     js,
		stream: stream,
		config: config,
	}, nil
}

func (s *SnapshotStream) subject(id uuid.UUID) string {
	return fmt.Sprintf("%s.%s", s.config.SubjectPrefix, id)
}

// PublishSnapshot implements SnapshotPublisher.
func (s *SnapshotStream) PublishSnapshot(ctx context.Context, ch *models.Challenge) error {
	data, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("marshal challenge snapshot: %w", err)
	}

	if _, err := s.js.Publish(ctx, s.subject(ch.ID), data); err != nil {
		return fmt.Errorf("publish challenge snapshot: %w", err)
	}

	log.Debug().
		Str("challenge_id", ch.ID.String()).
		Str("status", string(ch.Status)).
		Msg("challenge snapshot published")
	return nil
}

// Watch implements SnapshotFeed. It attaches an ephemeral
// last-per-subject consumer to the challenge's subject; the returned
// channel closes when ctx ends.
func (s *SnapshotStream) Watch(ctx context.Context, id uuid.UUID) (<-chan models.Challenge, error) {
	consumer, err := s.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		FilterSubject: s.subject(id),
		DeliverPolicy: jetstream.DeliverLastPerSubjectPolicy,
		AckPolicy:     jetstream.AckNonePolicy,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create snapshot consumer: %w", err)
	}

	out := make(chan models.Challenge, 16)

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		var ch models.Challenge
		if err := json.Unmarshal(msg.Data(), &ch); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to unmarshal challenge snapshot")
			return
		}

		select {
		case out <- ch:
		default:
			// A slow watcher only misses intermediate states; the
			// next snapshot carries the full document anyway.
			log.Debug().Str("challenge_id", ch.ID.String()).Msg("dropping snapshot for slow watcher")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("start snapshot consumer: %w", err)
	}

	go func() {
		<-ctx.Done()
		consumeCtx.Stop()
		close(out)
	}()

	return out, nil
}

// Close tears down the NATS connection.
func (s *SnapshotStream) Close() {
	s.nc.Close()
}
