package sqlite

import "database/sql"

// migrations contains the SQL statements to set up the database schema.
// These run on startup to ensure tables exist.
// Amounts and nonces are stored as decimal TEXT: they are uint256 / uint64
// values that do not fit SQLite's signed 64-bit INTEGER.
const schema = `
CREATE TABLE IF NOT EXISTS splits (
    id TEXT PRIMARY KEY,
    chain_id INTEGER NOT NULL,
    token_address TEXT NOT NULL,
    payer_address TEXT NOT NULL,
    payer_key TEXT NOT NULL,
    description TEXT NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('pending', 'approved', 'settled')),
    required_approvals INTEGER NOT NULL,
    nonce TEXT NOT NULL,
    tx_hash TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS split_items (
    split_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    participant TEXT NOT NULL,
    participant_key TEXT NOT NULL,
    amount TEXT NOT NULL,
    PRIMARY KEY (split_id, position),
    UNIQUE (split_id, participant_key),
    FOREIGN KEY (split_id) REFERENCES splits(id)
);

CREATE TABLE IF NOT EXISTS split_approvals (
    split_id TEXT NOT NULL,
    participant_key TEXT NOT NULL,
    participant TEXT NOT NULL,
    signature TEXT NOT NULL,
    approved_at INTEGER NOT NULL,
    PRIMARY KEY (split_id, participant_key),
    FOREIGN KEY (split_id) REFERENCES splits(id)
);

CREATE TABLE IF NOT EXISTS settlement_attempts (
    id TEXT PRIMARY KEY,
    split_id TEXT NOT NULL,
    tx_hash TEXT NOT NULL DEFAULT '',
    outcome TEXT NOT NULL,
    error TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    FOREIGN KEY (split_id) REFERENCES splits(id)
);

CREATE TABLE IF NOT EXISTS users (
    address TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL,
    last_login_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_splits_payer_key ON splits(payer_key);
CREATE INDEX IF NOT EXISTS idx_splits_created_at ON splits(created_at);
CREATE INDEX IF NOT EXISTS idx_split_items_participant_key ON split_items(participant_key);
CREATE INDEX IF NOT EXISTS idx_settlement_attempts_split_id ON settlement_attempts(split_id);
`

// runMigrations executes the schema setup.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
