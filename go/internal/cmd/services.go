package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mapclash/mapclash/go/internal/challenge"
	"github.com/mapclash/mapclash/go/internal/document"
)

type Services struct {
	Challenges *challenge.HTTPHandler
}

// setupServices wires the dependency chain: database -> repositories ->
// app -> HTTP handler.
func setupServices(ctx context.Context, database *sql.DB, pool *pgxpool.Pool, snapshots *document.SnapshotStream) (*Services, error) {
	documentRepo := document.NewRepository(database, snapshots)
	if err := documentRepo.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate challenge documents: %w", err)
	}

	missedRepo := challenge.NewRepository(pool)
	if err := missedRepo.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate missed-challenge logs: %w", err)
	}

	app := challenge.NewApp(documentRepo, missedRepo, missedRepo)
	handler := challenge.NewHTTPHandler(app)

	return &Services{Challenges: handler}, nil
}
