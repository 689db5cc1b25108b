package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/rewards/internal/domain"
	"example.com/rewards/internal/events"
	"example.com/rewards/internal/observability"
)

const uniqueViolation = "23505"

// Repository provides Postgres-backed persistence for progress records,
// wallets, completion attempts and outbox events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindAttempt looks up the stored outcome for a previously reconciled attempt
// key. A missing attempt returns (nil, nil).
func (r *Repository) FindAttempt(ctx context.Context, tenantID, userID, activityID, attemptKey string) (*domain.CompletionResult, error) {
	if attemptKey == "" {
		return nil, nil
	}

	const query = `SELECT result FROM completion_attempts
        WHERE tenant_id=$1 AND user_id=$2 AND activity_id=$3 AND attempt_key=$4`

	tx, err := r.beginTenantTx(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var body []byte
	if err := tx.QueryRow(ctx, query, tenantID, userID, activityID, attemptKey).Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tx.Commit(ctx)
		}
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	var result domain.CompletionResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetProgress retrieves the progress record for one (user, activity) pair.
func (r *Repository) GetProgress(ctx context.Context, tenantID, userID, activityID string) (*domain.ProgressRecord, error) {
	const query = `SELECT tenant_id, user_id, activity_id, fully_completed, replay_unlocked, replay_consumed, coins_awarded_total, badge_earned, created_at, updated_at
        FROM progress_records WHERE tenant_id=$1 AND user_id=$2 AND activity_id=$3`

	tx, err := r.beginTenantTx(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, query, tenantID, userID, activityID)
	rec, err := scanProgress(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tx.Commit(ctx)
		}
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return rec, nil
}

// RecordCompletion persists the attempt, the updated progress record, the
// wallet credit and the outbox events in one transaction. A duplicate attempt
// key aborts with ErrDuplicateAttempt and leaves no trace.
func (r *Repository) RecordCompletion(ctx context.Context, rec domain.ProgressRecord, attemptKey string, result domain.CompletionResult) (int64, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", rec.TenantID); err != nil {
		return 0, err
	}

	const insertAttempt = `INSERT INTO completion_attempts (tenant_id, user_id, activity_id, attempt_key, result, created_at)
        VALUES ($1,$2,$3,$4,$5,$6)`

	// The attempt row must go in first so a concurrent duplicate loses on
	// the unique index before any balance moves.
	resultBody, err := json.Marshal(result)
	if err != nil {
		return 0, err
	}
	if _, err = tx.Exec(ctx, insertAttempt, rec.TenantID, rec.UserID, rec.ActivityID, attemptKey, resultBody, rec.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			err = domain.ErrDuplicateAttempt
		}
		return 0, err
	}

	const upsertProgress = `INSERT INTO progress_records (tenant_id, user_id, activity_id, fully_completed, replay_unlocked, replay_consumed, coins_awarded_total, badge_earned, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        ON CONFLICT (tenant_id, user_id, activity_id) DO UPDATE SET
            fully_completed = EXCLUDED.fully_completed,
            replay_unlocked = EXCLUDED.replay_unlocked,
            replay_consumed = EXCLUDED.replay_consumed,
            coins_awarded_total = EXCLUDED.coins_awarded_total,
            badge_earned = EXCLUDED.badge_earned,
            updated_at = EXCLUDED.updated_at`

	if _, err = tx.Exec(ctx, upsertProgress,
		rec.TenantID,
		rec.UserID,
		rec.ActivityID,
		rec.FullyCompleted,
		rec.ReplayUnlocked,
		rec.ReplayConsumed,
		rec.CoinsAwardedTotal,
		rec.BadgeEarned,
		rec.CreatedAt,
		rec.UpdatedAt,
	); err != nil {
		return 0, err
	}

	const upsertWallet = `INSERT INTO wallet_accounts (tenant_id, user_id, balance, updated_at)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (tenant_id, user_id) DO UPDATE SET
            balance = wallet_accounts.balance + EXCLUDED.balance,
            updated_at = EXCLUDED.updated_at
        RETURNING balance`

	var balance int64
	if err = tx.QueryRow(ctx, upsertWallet, rec.TenantID, rec.UserID, result.CoinsEarned, rec.UpdatedAt).Scan(&balance); err != nil {
		return 0, err
	}

	occurredAt := rec.UpdatedAt
	if err = r.insertOutbox(ctx, tx, rec, "completion.recorded", events.CompletionRecorded{
		TenantID:          rec.TenantID,
		UserID:            rec.UserID,
		ActivityID:        rec.ActivityID,
		AttemptKey:        attemptKey,
		CoinsEarned:       result.CoinsEarned,
		XPEarned:          result.XPEarned,
		BadgeEarned:       result.BadgeEarned,
		AllAnswersCorrect: result.AllAnswersCorrect,
		FullyCompleted:    result.FullyCompleted,
		IsReplay:          result.IsReplay,
		OccurredAt:        occurredAt,
	}, attemptKey); err != nil {
		return 0, err
	}

	if result.IsReplay {
		if err = r.insertOutbox(ctx, tx, rec, "activity.replayed", events.ActivityReplayed{
			TenantID:   rec.TenantID,
			UserID:     rec.UserID,
			ActivityID: rec.ActivityID,
			OccurredAt: occurredAt,
		}, attemptKey); err != nil {
			return 0, err
		}
	}

	if result.CoinsEarned > 0 {
		if err = r.insertOutbox(ctx, tx, rec, "wallet.balance_changed", events.WalletBalanceChanged{
			TenantID:   rec.TenantID,
			UserID:     rec.UserID,
			ActivityID: rec.ActivityID,
			Delta:      result.CoinsEarned,
			Balance:    balance,
			Reason:     "completion_payout",
			OccurredAt: occurredAt,
		}, attemptKey); err != nil {
			return 0, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}

	observability.RecordCompletionPersisted(rec.UpdatedAt, result.CoinsEarned, result.IsReplay)
	return balance, nil
}

// UnlockReplay flips the replay flag and debits the wallet as one atomic
// compare-and-set. It distinguishes the three refusal cases so handlers can
// map them to distinct statuses.
func (r *Repository) UnlockReplay(ctx context.Context, tenantID, userID, activityID string, cost int64) (int64, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenantID); err != nil {
		return 0, err
	}

	const lockProgress = `SELECT fully_completed, replay_unlocked FROM progress_records
        WHERE tenant_id=$1 AND user_id=$2 AND activity_id=$3 FOR UPDATE`

	var fullyCompleted, replayUnlocked bool
	if err = tx.QueryRow(ctx, lockProgress, tenantID, userID, activityID).Scan(&fullyCompleted, &replayUnlocked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = domain.ErrNotCompleted
		}
		return 0, err
	}
	if !fullyCompleted {
		err = domain.ErrNotCompleted
		return 0, err
	}
	if replayUnlocked {
		err = domain.ErrAlreadyUnlocked
		return 0, err
	}

	now := time.Now().UTC()

	const debitWallet = `UPDATE wallet_accounts SET balance = balance - $3, updated_at = $4
        WHERE tenant_id=$1 AND user_id=$2 AND balance >= $3
        RETURNING balance`

	var balance int64
	if err = tx.QueryRow(ctx, debitWallet, tenantID, userID, cost, now).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = domain.ErrInsufficientBalance
		}
		return 0, err
	}

	const flipFlag = `UPDATE progress_records SET replay_unlocked = TRUE, replay_consumed = FALSE, updated_at = $4
        WHERE tenant_id=$1 AND user_id=$2 AND activity_id=$3`

	if _, err = tx.Exec(ctx, flipFlag, tenantID, userID, activityID, now); err != nil {
		return 0, err
	}

	rec := domain.ProgressRecord{TenantID: tenantID, UserID: userID, ActivityID: activityID}
	if err = r.insertOutbox(ctx, tx, rec, "wallet.balance_changed", events.WalletBalanceChanged{
		TenantID:   tenantID,
		UserID:     userID,
		ActivityID: activityID,
		Delta:      -cost,
		Balance:    balance,
		Reason:     "replay_unlock",
		OccurredAt: now,
	}, fmt.Sprintf("unlock-%d", now.UnixNano())); err != nil {
		return 0, err
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}

	observability.RecordReplayUnlocked(cost)
	return balance, nil
}

// ListProgress returns progress records for a user ordered by recency.
func (r *Repository) ListProgress(ctx context.Context, tenantID, userID string, cursor *domain.Cursor, limit int) ([]domain.ProgressRecord, *domain.Cursor, error) {
	args := []interface{}{tenantID, userID, limit}
	query := `SELECT tenant_id, user_id, activity_id, fully_completed, replay_unlocked, replay_consumed, coins_awarded_total, badge_earned, created_at, updated_at
        FROM progress_records WHERE tenant_id=$1 AND user_id=$2`

	if cursor != nil {
		query += ` AND (updated_at, activity_id) < ($4, $5)`
		args = append(args, cursor.UpdatedAt, cursor.ActivityID)
	}

	query += ` ORDER BY updated_at DESC, activity_id DESC LIMIT $3`

	tx, err := r.beginTenantTx(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.ProgressRecord, 0, limit)
	for rows.Next() {
		rec, err := scanProgress(rows)
		if err != nil {
			return nil, nil, err
		}
		results = append(results, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		nextCursor = &domain.Cursor{UpdatedAt: last.UpdatedAt, ActivityID: last.ActivityID}
	}

	return results, nextCursor, nil
}

// WalletBalance returns the confirmed balance, zero for accounts that have
// never been credited.
func (r *Repository) WalletBalance(ctx context.Context, tenantID, userID string) (int64, error) {
	const query = `SELECT balance FROM wallet_accounts WHERE tenant_id=$1 AND user_id=$2`

	tx, err := r.beginTenantTx(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var balance int64
	if err := tx.QueryRow(ctx, query, tenantID, userID).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, tx.Commit(ctx)
		}
		return 0, err
	}
	return balance, tx.Commit(ctx)
}

func (r *Repository) beginTenantTx(ctx context.Context, tenantID string) (pgx.Tx, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenantID); err != nil {
		tx.Rollback(ctx)
		return nil, err
	}
	return tx, nil
}

func (r *Repository) insertOutbox(ctx context.Context, tx pgx.Tx, rec domain.ProgressRecord, eventType string, payload interface{}, dedupeSuffix string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta := eventCatalog[eventType]
	if meta.Topic == "" {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	partitionKey := meta.PartitionKeyFn(rec)
	dedupeKey := fmt.Sprintf("%s:%s:%s", rec.ActivityID, eventType, dedupeSuffix)

	const stmt = `INSERT INTO outbox (tenant_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = tx.Exec(ctx, stmt,
		rec.TenantID,
		"progress",
		rec.ActivityID,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		partitionKey,
		body,
		dedupeKey,
	)
	return err
}

type progressScanner interface {
	Scan(dest ...interface{}) error
}

func scanProgress(row progressScanner) (*domain.ProgressRecord, error) {
	var rec domain.ProgressRecord
	if err := row.Scan(
		&rec.TenantID,
		&rec.UserID,
		&rec.ActivityID,
		&rec.FullyCompleted,
		&rec.ReplayUnlocked,
		&rec.ReplayConsumed,
		&rec.CoinsAwardedTotal,
		&rec.BadgeEarned,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &rec, nil
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic          string
	SchemaSubject  string
	PartitionKeyFn func(domain.ProgressRecord) string
}

var eventCatalog = map[string]EventMetadata{
	"completion.recorded": {
		Topic:         "reward_completion_events",
		SchemaSubject: "reward_completion_events-value",
		PartitionKeyFn: func(rec domain.ProgressRecord) string {
			return fmt.Sprintf("%s:%s", rec.TenantID, rec.UserID)
		},
	},
	"activity.replayed": {
		Topic:         "reward_replay_events",
		SchemaSubject: "reward_replay_events-value",
		PartitionKeyFn: func(rec domain.ProgressRecord) string {
			return fmt.Sprintf("%s:%s", rec.TenantID, rec.UserID)
		},
	},
	"wallet.balance_changed": {
		Topic:         "wallet_balance_events",
		SchemaSubject: "wallet_balance_events-value",
		PartitionKeyFn: func(rec domain.ProgressRecord) string {
			return fmt.Sprintf("%s:%s", rec.TenantID, rec.UserID)
		},
	},
}
