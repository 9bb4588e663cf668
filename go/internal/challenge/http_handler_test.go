package challenge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapclash/mapclash/go/internal/challenge/apiclient"
	"github.com/mapclash/mapclash/go/internal/document"
	"github.com/mapclash/mapclash/go/internal/models"
)

func startTestServer(t *testing.T) (*httptest.Server, *App) {
	t.Helper()

	app := NewApp(document.NewMemoryStore(), nil, nil)
	mux := http.NewServeMux()
	NewHTTPHandler(app).RegisterRoutes(mux)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, app
}

func TestLifecycleOverHTTP(t *testing.T) {
	server, _ := startTestServer(t)
	client := apiclient.NewClient(server.URL)
	ctx := context.Background()

	ch, err := client.Create(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, models.ChallengeStatusPending, ch.Status)

	got, err := client.Get(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, ch.ID, got.ID)

	got, err = client.SetPresence(ctx, ch.ID, "bob", true)
	require.NoError(t, err)
	assert.True(t, got.ChallengedJoined)

	got, err = client.Accept(ctx, ch.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.ChallengeStatusAccepted, got.Status)
	assert.NotEqual(t, uuid.Nil, got.MatchID)

	got, err = client.Start(ctx, ch.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.ChallengeStatusActive, got.Status)
	require.NotNil(t, got.StartedAt)

	got, err = client.RecordGuess(ctx, ch.ID, "alice", "France")
	require.NoError(t, err)
	assert.Equal(t, 1, got.ScoreOf("alice"))

	got, err = client.Complete(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChallengeStatusCompleted, got.Status)
}

func TestCancelOverHTTP(t *testing.T) {
	server, _ := startTestServer(t)
	client := apiclient.NewClient(server.URL)
	ctx := context.Background()

	ch, err := client.Create(ctx, "alice", "bob")
	require.NoError(t, err)

	got, err := client.Cancel(ctx, ch.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.ChallengeStatusCancelled, got.Status)
}

func TestHTTPErrorMapping(t *testing.T) {
	server, _ := startTestServer(t)
	client := apiclient.NewClient(server.URL)
	ctx := context.Background()

	// Unknown challenge
	_, err := client.Get(ctx, uuid.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	// Validation failure
	_, err = client.Create(ctx, "alice", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")

	ch, err := client.Create(ctx, "alice", "bob")
	require.NoError(t, err)

	// Wrong player accepting
	_, err = client.Accept(ctx, ch.ID, "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestHTTPRejectsMalformedRequests(t *testing.T) {
	server, _ := startTestServer(t)

	resp, err := http.Post(server.URL+"/api/challenges", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(server.URL + "/api/challenges/not-a-uuid")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
