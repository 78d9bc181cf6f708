package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Faixee/LUMI-OS/internal/model"
)

var ErrDuplicateUsername = errors.New("username already registered")

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const userColumns = `
	id, username, password_hash, full_name, email, role, school_id, plan,
	subscription_status, subscription_expiry, suspended, token_version,
	refresh_token_hash, refresh_token_expiry, created_at, updated_at
`

func scanUser(row pgx.Row) (model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.FullName,
		&user.Email,
		&user.Role,
		&user.SchoolID,
		&user.Plan,
		&user.SubscriptionStatus,
		&user.SubscriptionExpiry,
		&user.Suspended,
		&user.TokenVersion,
		&user.RefreshTokenHash,
		&user.RefreshTokenExpiry,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	return user, err
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (model.User, error) {
	var user model.User
	err := withRetry(ctx, func() error {
		var err error
		user, err = scanUser(s.pool.QueryRow(ctx, `
			SELECT `+userColumns+`
			FROM users
			WHERE username = $1
		`, username))
		return err
	})
	return user, err
}

func (s *Store) CreateUser(ctx context.Context, user model.User) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (
			username, password_hash, full_name, email, role, school_id, plan,
			subscription_status, subscription_expiry, suspended, token_version,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		RETURNING id
	`,
		user.Username, user.PasswordHash, user.FullName, user.Email, user.Role,
		user.SchoolID, user.Plan, user.SubscriptionStatus, user.SubscriptionExpiry,
		user.Suspended, user.TokenVersion, time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateUsername
		}
		return 0, err
	}
	return id, nil
}

// UpdateRefreshToken overwrites the stored refresh hash and expiry. Only one
// refresh token is live per user; persisting the new hash kills the old one.
func (s *Store) UpdateRefreshToken(ctx context.Context, userID int64, hash string, expiresAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE users
		SET refresh_token_hash = $1, refresh_token_expiry = $2, updated_at = $3
		WHERE id = $4
	`, hash, expiresAt, time.Now().UTC(), userID)
	return err
}

// ClearRefreshAndBumpVersion clears the refresh credentials and increments
// token_version, invalidating every outstanding access token for the user.
func (s *Store) ClearRefreshAndBumpVersion(ctx context.Context, userID int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE users
		SET refresh_token_hash = NULL,
		    refresh_token_expiry = NULL,
		    token_version = token_version + 1,
		    updated_at = $1
		WHERE id = $2
	`, time.Now().UTC(), userID)
	return err
}

func (s *Store) UpdateSubscription(ctx context.Context, username, planName, status string, expiry *time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users
		SET plan = $1, subscription_status = $2, subscription_expiry = $3, updated_at = $4
		WHERE username = $5
	`, planName, status, expiry, time.Now().UTC(), username)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// IncrementUsage performs the quota check-and-increment as a single atomic
// statement so that near the limit exactly as many concurrent callers succeed
// as there are remaining slots. Returns false when the limit is exhausted.
func (s *Store) IncrementUsage(ctx context.Context, userID int64, feature, period string, limit int) (bool, error) {
	var allowed bool
	err := withRetry(ctx, func() error {
		var count int
		err := s.pool.QueryRow(ctx, `
			INSERT INTO usage_counters (user_id, period, feature, count, updated_at)
			VALUES ($1, $2, $3, 1, $4)
			ON CONFLICT (user_id, period, feature)
			DO UPDATE SET count = usage_counters.count + 1, updated_at = $4
			WHERE usage_counters.count < $5
			RETURNING count
		`, userID, period, feature, time.Now().UTC(), limit).Scan(&count)
		if errors.Is(err, pgx.ErrNoRows) {
			allowed = false
			return nil
		}
		if err != nil {
			return err
		}
		allowed = true
		return nil
	})
	return allowed, err
}

func (s *Store) GetUsage(ctx context.Context, userID int64, feature, period string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT count FROM usage_counters
		WHERE user_id = $1 AND period = $2 AND feature = $3
	`, userID, period, feature).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return count, err
}

const (
	retryAttempts  = 3
	retryBaseDelay = 50 * time.Millisecond
)

// withRetry retries transient failures with bounded backoff. Only errors pgx
// reports as safe to retry are attempted again, so non-idempotent statements
// are never replayed after reaching the server. On exhaustion the error
// propagates and callers deny.
func withRetry(ctx context.Context, fn func() error) error {
	delay := retryBaseDelay
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || attempt == retryAttempts || !pgconn.SafeToRetry(err) {
			return err
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
}
