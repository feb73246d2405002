package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// DB wraps the Postgres connection pool
type DB struct {
	*sql.DB
}

// NewDB opens and verifies a Postgres connection
func NewDB(databaseURL string) (*DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS collaborations (
	id            TEXT PRIMARY KEY,
	owner_org_id  TEXT NOT NULL,
	name          TEXT NOT NULL,
	purpose       TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS collaboration_participants (
	collaboration_id TEXT NOT NULL REFERENCES collaborations(id) ON DELETE CASCADE,
	org_id           TEXT NOT NULL,
	role             TEXT NOT NULL CHECK (role IN ('PROVIDER', 'CONSUMER', 'BOTH')),
	PRIMARY KEY (collaboration_id, org_id)
);

CREATE TABLE IF NOT EXISTS datasets (
	id             TEXT PRIMARY KEY,
	org_id         TEXT NOT NULL,
	name           TEXT NOT NULL DEFAULT '',
	connector_json JSONB NOT NULL DEFAULT '{}',
	resource_uri   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS consents (
	id             TEXT PRIMARY KEY,
	dataset_id     TEXT NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
	purpose        TEXT NOT NULL DEFAULT '',
	jurisdiction   TEXT NOT NULL DEFAULT '',
	retention_days INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS jobs (
	id                TEXT PRIMARY KEY,
	collaboration_id  TEXT NOT NULL REFERENCES collaborations(id) ON DELETE CASCADE,
	created_by_org_id TEXT NOT NULL,
	type              TEXT NOT NULL,
	status            TEXT NOT NULL,
	input_json        JSONB NOT NULL,
	result_json       JSONB,
	artifact_uri      TEXT,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	started_at        TIMESTAMPTZ,
	finished_at       TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS jobs_collaboration_created_idx ON jobs (collaboration_id, created_at DESC);

CREATE TABLE IF NOT EXISTS job_events (
	seq        BIGSERIAL PRIMARY KEY,
	id         TEXT NOT NULL UNIQUE,
	job_id     TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	type       TEXT NOT NULL,
	old_status TEXT,
	new_status TEXT,
	data_json  JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
);

CREATE INDEX IF NOT EXISTS job_events_job_idx ON job_events (job_id, created_at, seq);
`

// Migrate creates the schema if it does not exist
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
