//go:build integration

// Package testsupport starts throwaway infrastructure for integration tests.
package testsupport

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
)

const (
	appRole     = "venues_app"
	appPassword = "venues_app"
)

// Postgres holds pools for a migrated database. Admin connects as the
// container superuser, which bypasses row-level security; App connects as an
// unprivileged role that is subject to it.
type Postgres struct {
	Admin *pgxpool.Pool
	App   *pgxpool.Pool
}

// StartPostgres launches Postgres, applies every up migration and creates the
// application role.
func StartPostgres(ctx context.Context, t *testing.T) *Postgres {
	t.Helper()

	pg, err := postgrescontainer.Run(ctx, "postgres:16-alpine",
		postgrescontainer.WithDatabase("venues"),
		postgrescontainer.WithUsername("platform"),
		postgrescontainer.WithPassword("platform"),
		postgrescontainer.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(pg) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	admin, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(admin.Close)

	runMigrations(ctx, t, admin)

	_, err = admin.Exec(ctx, `CREATE ROLE `+appRole+` LOGIN PASSWORD '`+appPassword+`';
        GRANT SELECT, INSERT, UPDATE, DELETE ON ALL TABLES IN SCHEMA public TO `+appRole+`;
        GRANT USAGE, SELECT ON ALL SEQUENCES IN SCHEMA public TO `+appRole+`;`)
	require.NoError(t, err)

	appURL, err := url.Parse(connStr)
	require.NoError(t, err)
	appURL.User = url.UserPassword(appRole, appPassword)

	app, err := pgxpool.New(ctx, appURL.String())
	require.NoError(t, err)
	t.Cleanup(app.Close)

	return &Postgres{Admin: admin, App: app}
}

func runMigrations(ctx context.Context, t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	files, err := filepath.Glob(filepath.Join(filepath.Dir(file), "../../db/postgres/migrations/*.up.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, path := range files {
		contents, readErr := os.ReadFile(path)
		require.NoError(t, readErr)

		_, execErr := pool.Exec(ctx, string(contents))
		require.NoError(t, execErr, path)
	}
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
