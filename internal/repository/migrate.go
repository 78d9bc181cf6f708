package repository

import "context"

// Migrate creates the schema when absent. Safe to run at every startup.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			full_name TEXT NOT NULL DEFAULT '',
			email TEXT,
			role TEXT NOT NULL,
			school_id TEXT NOT NULL DEFAULT 'default',
			plan TEXT,
			subscription_status TEXT NOT NULL DEFAULT 'demo',
			subscription_expiry TIMESTAMPTZ,
			suspended BOOLEAN NOT NULL DEFAULT FALSE,
			token_version INTEGER NOT NULL DEFAULT 0,
			refresh_token_hash TEXT,
			refresh_token_expiry TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS usage_counters (
			user_id BIGINT NOT NULL REFERENCES users(id),
			period TEXT NOT NULL,
			feature TEXT NOT NULL,
			count INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, period, feature)
		);
	`)
	return err
}
