package sqlite

import "database/sql"

// Schema is the full DDL for the ledger database. Tables mirror the
// repository ports one-for-one; uniqueness constraints encode the
// invariants the ports' doc comments describe (idempotent transaction
// replay, race-tolerant account resolution, one cursor per scan key).
const Schema = `
CREATE TABLE IF NOT EXISTS currencies (
    ticker           TEXT PRIMARY KEY,
    display_name     TEXT NOT NULL,
    decimals         INTEGER NOT NULL,
    asset_class      TEXT NOT NULL,
    network          TEXT NOT NULL DEFAULT '',
    contract_address TEXT NOT NULL DEFAULT '',
    is_native        INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS accounts (
    id                TEXT PRIMARY KEY,
    user_id           TEXT NOT NULL,
    display_name      TEXT NOT NULL,
    currency_ticker   TEXT NOT NULL REFERENCES currencies(ticker),
    type              TEXT NOT NULL,
    source            TEXT NOT NULL,
    network           TEXT NOT NULL DEFAULT '',
    external_address  TEXT NOT NULL DEFAULT '',
    parent_account_id TEXT REFERENCES accounts(id),
    created_at        DATETIME NOT NULL,
    updated_at        DATETIME NOT NULL,
    UNIQUE (user_id, currency_ticker, type, source, network, external_address)
);

CREATE INDEX IF NOT EXISTS idx_accounts_user ON accounts(user_id);

CREATE TABLE IF NOT EXISTS ledger_transactions (
    id          TEXT PRIMARY KEY,
    user_id     TEXT NOT NULL,
    external_id TEXT NOT NULL,
    source      TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    tx_date     DATETIME NOT NULL,
    created_at  DATETIME NOT NULL,
    UNIQUE (user_id, external_id, source)
);

CREATE INDEX IF NOT EXISTS idx_ledger_tx_user_date ON ledger_transactions(user_id, tx_date);

CREATE TABLE IF NOT EXISTS entries (
    id              TEXT PRIMARY KEY,
    user_id         TEXT NOT NULL,
    transaction_id  TEXT NOT NULL REFERENCES ledger_transactions(id),
    account_id      TEXT NOT NULL REFERENCES accounts(id),
    currency_ticker TEXT NOT NULL REFERENCES currencies(ticker),
    amount_smallest TEXT NOT NULL,
    direction       TEXT NOT NULL,
    entry_type      TEXT NOT NULL,
    price_amount    TEXT,
    price_currency  TEXT
);

CREATE INDEX IF NOT EXISTS idx_entries_tx ON entries(transaction_id);
CREATE INDEX IF NOT EXISTS idx_entries_account ON entries(account_id);

CREATE TABLE IF NOT EXISTS import_sessions (
    id          TEXT PRIMARY KEY,
    user_id     TEXT NOT NULL,
    source_id   TEXT NOT NULL,
    source_type TEXT NOT NULL,
    provider_id TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL,
    started_at  DATETIME NOT NULL,
    ended_at    DATETIME,
    imported    INTEGER NOT NULL DEFAULT 0,
    processed   INTEGER NOT NULL DEFAULT 0,
    failed      INTEGER NOT NULL DEFAULT 0,
    error_msg   TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS provider_cursors (
    user_id    TEXT NOT NULL,
    source     TEXT NOT NULL,
    provider   TEXT NOT NULL,
    operation  TEXT NOT NULL,
    address    TEXT NOT NULL DEFAULT '',
    type       TEXT NOT NULL,
    value      TEXT NOT NULL,
    updated_at DATETIME NOT NULL,
    PRIMARY KEY (user_id, source, provider, operation, address)
);

CREATE TABLE IF NOT EXISTS raw_data (
    id                 TEXT PRIMARY KEY,
    session_id         TEXT NOT NULL REFERENCES import_sessions(id),
    provider_id        TEXT NOT NULL,
    payload            BLOB NOT NULL,
    fetched_by_address TEXT NOT NULL DEFAULT '',
    created_at         DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_raw_data_session ON raw_data(session_id);

CREATE TABLE IF NOT EXISTS links (
    id               TEXT PRIMARY KEY,
    user_id          TEXT NOT NULL,
    source_entry_id  TEXT NOT NULL REFERENCES entries(id),
    target_entry_id  TEXT NOT NULL REFERENCES entries(id),
    confidence       REAL NOT NULL,
    variance         REAL NOT NULL,
    status           TEXT NOT NULL,
    strategy         TEXT NOT NULL,
    created_at       DATETIME NOT NULL,
    updated_at       DATETIME NOT NULL,
    UNIQUE (source_entry_id, target_entry_id)
);

CREATE INDEX IF NOT EXISTS idx_links_user_status ON links(user_id, status);
`

// InitSchema applies Schema. Safe to call on every startup: every
// statement is idempotent (IF NOT EXISTS).
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
