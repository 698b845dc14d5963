package persistence

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pailflow/pailflow/pkg/crypto"
	"github.com/pailflow/pailflow/pkg/database"
	"github.com/pailflow/pailflow/pkg/models"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgres spins up a disposable Postgres container, applies embedded
// migrations via pkg/database, and returns a ready PostgresAdapter.
// Skips automatically when Docker is unavailable (e.g. in sandboxed CI).
func setupPostgres(t *testing.T) *PostgresAdapter {
	t.Helper()
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("pailflow_test"),
		postgres.WithUsername("pailflow"),
		postgres.WithPassword("pailflow"),
		postgres.BasicWaitStrategies(),
		wait.ForListeningPort("5432/tcp"),
	)
	if err != nil {
		t.Skipf("docker unavailable, skipping persistence integration test: %v", err)
	}
	t.Cleanup(func() { _ = ctr.Terminate(ctx) })

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "5432")
	require.NoError(t, err)

	cfg := database.Config{
		Host:     host,
		Port:     port.Int(),
		User:     "pailflow",
		Password: "pailflow",
		Database: "pailflow_test",
		SSLMode:  "disable",
	}

	realPool, err := connectWithMigrations(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(realPool.Close)

	field, err := crypto.NewField("integration-test-passphrase-32-chars!")
	require.NoError(t, err)

	return NewPostgresAdapter(realPool, field)
}

func connectWithMigrations(ctx context.Context, cfg database.Config) (*pgxpool.Pool, error) {
	return database.NewPool(ctx, cfg)
}

func TestPostgresAdapter_WorkflowThreadRoundTrip(t *testing.T) {
	// P1: every sensitive-set field round-trips exactly through the adapter.
	adapter := setupPostgres(t)
	ctx := context.Background()

	thread := &models.WorkflowThread{
		WorkflowThreadID:   uuid.NewString(),
		RoomName:           "roomA",
		RoomURL:            "https://r.example/roomA",
		BotConfig:          map[string]any{"name": "B"},
		MeetingStatus:      models.MeetingInProgress,
		TranscriptText:     "[10:00] Participant 1: hello\n",
		CandidateSummary:   "Strong candidate.",
		WebhookCallbackURL: "https://hooks.example/cb",
		EmailResultsTo:     "candidate@example.com",
		QAPairs:            []models.QAPair{{Question: "Q1", Answer: "A1"}},
		UsageStats:         models.UsageStats{TotalCostUSD: 0.5},
		Metadata:           map[string]any{"foo": "bar"},
	}

	require.NoError(t, adapter.CreateWorkflowThread(ctx, thread))

	got, err := adapter.GetWorkflowThread(ctx, thread.WorkflowThreadID)
	require.NoError(t, err)

	require.Equal(t, thread.TranscriptText, got.TranscriptText)
	require.Equal(t, thread.CandidateSummary, got.CandidateSummary)
	require.Equal(t, thread.WebhookCallbackURL, got.WebhookCallbackURL)
	require.Equal(t, thread.EmailResultsTo, got.EmailResultsTo)
	require.Equal(t, thread.QAPairs, got.QAPairs)
	require.InDelta(t, thread.UsageStats.TotalCostUSD, got.UsageStats.TotalCostUSD, 1e-9)
}

func TestPostgresAdapter_UsageTransactionIdempotent(t *testing.T) {
	// I5 / P3: at most one transaction per workflow thread.
	adapter := setupPostgres(t)
	ctx := context.Background()

	_, err := adapter.pool.Exec(ctx, `INSERT INTO users (id, unkey_id, credit_balance) VALUES ($1,$2,$3)`,
		"user-1", "unkey-1", 10.0)
	require.NoError(t, err)

	threadID := uuid.NewString()
	tx := &models.UsageTransaction{
		UserID:    "user-1",
		Amount:    -0.15,
		Type:      "usage_burn",
		DurationS: 60,
		LPLCost:   0.02,
		Metadata:  models.UsageTransactionMetadata{WorkflowThreadID: threadID, RoomName: "roomA"},
	}

	created1, err := adapter.CreateUsageTransaction(ctx, tx)
	require.NoError(t, err)
	require.True(t, created1)

	tx2 := *tx
	tx2.ID = ""
	created2, err := adapter.CreateUsageTransaction(ctx, &tx2)
	require.NoError(t, err)
	require.False(t, created2, "second creation attempt for the same thread must be a no-op")
}
