package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema mirrors the SQLite layout. Amounts stay decimal TEXT so both
// backends round-trip uint256 values the same way.
const schema = `
CREATE TABLE IF NOT EXISTS splits (
    id TEXT PRIMARY KEY,
    chain_id BIGINT NOT NULL,
    token_address TEXT NOT NULL,
    payer_address TEXT NOT NULL,
    payer_key TEXT NOT NULL,
    description TEXT NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('pending', 'approved', 'settled')),
    required_approvals INTEGER NOT NULL,
    nonce TEXT NOT NULL,
    tx_hash TEXT,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS split_items (
    split_id TEXT NOT NULL REFERENCES splits(id),
    position INTEGER NOT NULL,
    participant TEXT NOT NULL,
    participant_key TEXT NOT NULL,
    amount TEXT NOT NULL CHECK (amount ~ '^[0-9]+$'),
    PRIMARY KEY (split_id, position),
    UNIQUE (split_id, participant_key)
);

CREATE TABLE IF NOT EXISTS split_approvals (
    split_id TEXT NOT NULL REFERENCES splits(id),
    participant_key TEXT NOT NULL,
    participant TEXT NOT NULL,
    signature TEXT NOT NULL,
    approved_at BIGINT NOT NULL,
    PRIMARY KEY (split_id, participant_key)
);

CREATE TABLE IF NOT EXISTS settlement_attempts (
    seq BIGSERIAL,
    id TEXT PRIMARY KEY,
    split_id TEXT NOT NULL REFERENCES splits(id),
    tx_hash TEXT NOT NULL DEFAULT '',
    outcome TEXT NOT NULL,
    error TEXT NOT NULL DEFAULT '',
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
    address TEXT PRIMARY KEY,
    created_at BIGINT NOT NULL,
    last_login_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_splits_payer_key ON splits(payer_key);
CREATE INDEX IF NOT EXISTS idx_splits_created_at ON splits(created_at);
CREATE INDEX IF NOT EXISTS idx_split_items_participant_key ON split_items(participant_key);
CREATE INDEX IF NOT EXISTS idx_settlement_attempts_split_id ON settlement_attempts(split_id);
`

func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}
