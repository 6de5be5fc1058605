package postgres

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS transactions (
	instruction_id      TEXT PRIMARY KEY,
	message_id          TEXT NOT NULL,
	network_reference   TEXT NOT NULL,
	fingerprint         TEXT NOT NULL,
	amount              NUMERIC(18,2) NOT NULL,
	currency            VARCHAR(3) NOT NULL,
	origin_bank_id      TEXT NOT NULL,
	destination_bank_id TEXT NOT NULL,
	debtor_account      TEXT NOT NULL,
	creditor_account    TEXT NOT NULL,
	status              TEXT NOT NULL,
	error_code          TEXT NOT NULL DEFAULT '',
	attempts            INT NOT NULL DEFAULT 0,
	debit_posted        BOOLEAN NOT NULL DEFAULT FALSE,
	compensation_ref    TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL,
	queued_at           TIMESTAMPTZ,
	completed_at        TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS transactions_created_at_idx ON transactions (created_at DESC);
CREATE INDEX IF NOT EXISTS transactions_origin_idx ON transactions (origin_bank_id);
CREATE INDEX IF NOT EXISTS transactions_destination_idx ON transactions (destination_bank_id);

CREATE TABLE IF NOT EXISTS returns (
	return_id               TEXT PRIMARY KEY,
	original_instruction_id TEXT NOT NULL REFERENCES transactions (instruction_id),
	reason_code             TEXT NOT NULL,
	amount                  NUMERIC(18,2) NOT NULL,
	currency                VARCHAR(3) NOT NULL,
	status                  TEXT NOT NULL,
	created_at              TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS idempotency_keys (
	key         TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	status      TEXT NOT NULL,
	response    JSONB,
	expires_at  TIMESTAMPTZ NOT NULL
);
`

// Migrate creates the tables the store needs. It is safe to run on every start.
func (p *PostgresSwitchStore) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
