//go:build integration

package postgres

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/rewards/internal/domain"
)

func TestRepositoryCompletionLifecycle(t *testing.T) {
	ctx := context.Background()
	repo, pool := setupRepository(t, ctx)

	tenantID := uuid.NewString()
	userID := uuid.NewString()
	activityID := "counting-1"
	now := time.Now().UTC()

	rec := domain.ProgressRecord{
		TenantID:          tenantID,
		UserID:            userID,
		ActivityID:        activityID,
		FullyCompleted:    true,
		CoinsAwardedTotal: 5,
		BadgeEarned:       true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	result := domain.CompletionResult{
		ActivityID:        activityID,
		CoinsEarned:       5,
		XPEarned:          10,
		BadgeEarned:       true,
		AllAnswersCorrect: true,
		FullyCompleted:    true,
	}

	balance, err := repo.RecordCompletion(ctx, rec, "attempt-1", result)
	require.NoError(t, err)
	require.Equal(t, int64(5), balance)

	// Duplicate attempt key must abort without touching the wallet.
	_, err = repo.RecordCompletion(ctx, rec, "attempt-1", result)
	require.ErrorIs(t, err, domain.ErrDuplicateAttempt)

	walletBalance, err := repo.WalletBalance(ctx, tenantID, userID)
	require.NoError(t, err)
	require.Equal(t, int64(5), walletBalance)

	stored, err := repo.FindAttempt(ctx, tenantID, userID, activityID, "attempt-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, int64(5), stored.CoinsEarned)

	progress, err := repo.GetProgress(ctx, tenantID, userID, activityID)
	require.NoError(t, err)
	require.NotNil(t, progress)
	require.True(t, progress.FullyCompleted)
	require.False(t, progress.ReplayUnlocked)

	// Paid first plays write completion.recorded plus wallet.balance_changed.
	// activity.replayed only appears when an unlock is consumed.
	var outboxCount int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE tenant_id = $1`, tenantID).Scan(&outboxCount))
	require.Equal(t, 2, outboxCount)
}

func TestRepositoryUnlockReplayCompareAndSet(t *testing.T) {
	ctx := context.Background()
	repo, _ := setupRepository(t, ctx)

	tenantID := uuid.NewString()
	userID := uuid.NewString()
	activityID := "shapes-2"
	now := time.Now().UTC()

	// No progress row yet.
	_, err := repo.UnlockReplay(ctx, tenantID, userID, activityID, 2)
	require.ErrorIs(t, err, domain.ErrNotCompleted)

	rec := domain.ProgressRecord{
		TenantID:          tenantID,
		UserID:            userID,
		ActivityID:        activityID,
		FullyCompleted:    true,
		CoinsAwardedTotal: 5,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	result := domain.CompletionResult{ActivityID: activityID, CoinsEarned: 5, AllAnswersCorrect: true, FullyCompleted: true}
	_, err = repo.RecordCompletion(ctx, rec, "attempt-1", result)
	require.NoError(t, err)

	// Cost above balance refuses without mutation.
	_, err = repo.UnlockReplay(ctx, tenantID, userID, activityID, 8)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	balance, err := repo.WalletBalance(ctx, tenantID, userID)
	require.NoError(t, err)
	require.Equal(t, int64(5), balance)

	balance, err = repo.UnlockReplay(ctx, tenantID, userID, activityID, 2)
	require.NoError(t, err)
	require.Equal(t, int64(3), balance)

	_, err = repo.UnlockReplay(ctx, tenantID, userID, activityID, 2)
	require.ErrorIs(t, err, domain.ErrAlreadyUnlocked)

	progress, err := repo.GetProgress(ctx, tenantID, userID, activityID)
	require.NoError(t, err)
	require.True(t, progress.ReplayUnlocked)
}

func TestRepositoryRespectsTenantIsolation(t *testing.T) {
	ctx := context.Background()
	repo, _ := setupRepository(t, ctx)

	tenantID := uuid.NewString()
	userID := uuid.NewString()
	now := time.Now().UTC()

	rec := domain.ProgressRecord{
		TenantID:   tenantID,
		UserID:     userID,
		ActivityID: "counting-1",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err := repo.RecordCompletion(ctx, rec, "attempt-1", domain.CompletionResult{ActivityID: "counting-1"})
	require.NoError(t, err)

	otherTenant := uuid.NewString()
	stored, err := repo.GetProgress(ctx, otherTenant, userID, "counting-1")
	require.NoError(t, err)
	require.Nil(t, stored, "RLS should prevent cross-tenant access")
}

func setupRepository(t *testing.T, ctx context.Context) (*Repository, *pgxpool.Pool) {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("rewards"),
		postgrescontainer.WithUsername("platform"),
		postgrescontainer.WithPassword("platform"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, waitForDatabase(ctx, connStr))
	runMigrations(t, ctx, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return NewRepository(pool), pool
}

func runMigrations(t *testing.T, ctx context.Context, connStr string) {
	t.Helper()

	migrationsDir := resolvePath(t, "../../../db/postgres/migrations")
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	sort.Strings(files)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	for _, file := range files {
		contents, readErr := os.ReadFile(file)
		require.NoErrorf(t, readErr, "read migration %s", file)

		_, execErr := pool.Exec(ctx, string(contents))
		require.NoErrorf(t, execErr, "execute migration %s", file)
	}
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
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
