// Package dbtest provides a shared PostgreSQL testcontainer for
// pkg/persistence's integration tests, adapted from the teacher's
// test/util and test/database helpers (ent + per-schema isolation) to
// PailFlow's pgx-based pkg/database bootstrap.
package dbtest

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pailflow/pailflow/pkg/database"
)

var (
	sharedConnStr string
	containerOnce sync.Once
	containerErr  error
)

// NewTestPool starts (once per test binary) a shared postgres:17-alpine
// testcontainer, applies the embedded migrations via database.NewPool, and
// returns a connected pool. CI_DATABASE_URL, when set, points at an
// external service container instead of a local testcontainer.
//
// Tests share one schema rather than the teacher's per-test schema
// isolation; callers should key rows by a fresh uuid to avoid collisions
// across test runs in the same binary.
func NewTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pool, err := database.NewPool(ctx, connConfig(t))
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func connConfig(t *testing.T) database.Config {
	t.Helper()
	if ciURL := os.Getenv("CI_DATABASE_URL"); ciURL != "" {
		return parseConnString(t, ciURL)
	}

	containerOnce.Do(func() {
		ctx := context.Background()
		pgContainer, err := postgres.Run(ctx,
			"postgres:17-alpine",
			postgres.WithDatabase("pailflow_test"),
			postgres.WithUsername("pailflow"),
			postgres.WithPassword("pailflow"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			containerErr = fmt.Errorf("start postgres testcontainer: %w", err)
			return
		}
		connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			containerErr = fmt.Errorf("testcontainer connection string: %w", err)
			return
		}
		sharedConnStr = connStr
	})
	require.NoError(t, containerErr, "failed to start shared postgres testcontainer")
	return parseConnString(t, sharedConnStr)
}

func parseConnString(t *testing.T, dsn string) database.Config {
	t.Helper()
	u, err := url.Parse(dsn)
	require.NoError(t, err)

	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	password, _ := u.User.Password()

	return database.Config{
		Host:            u.Hostname(),
		Port:            port,
		User:            u.User.Username(),
		Password:        password,
		Database:        strings.TrimPrefix(u.Path, "/"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	}
}
