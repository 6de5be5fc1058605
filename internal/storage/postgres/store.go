package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/interfaces"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/models"
)

const uniqueViolation = "23505"

type PostgresSwitchStore struct {
	db *sql.DB
}

func NewPostgresSwitchStore(db *sql.DB) *PostgresSwitchStore {
	return &PostgresSwitchStore{
		db: db,
	}
}

const transactionColumns = `instruction_id, message_id, network_reference, fingerprint, amount, currency,
	origin_bank_id, destination_bank_id, debtor_account, creditor_account, status, error_code,
	attempts, debit_posted, compensation_ref, created_at, queued_at, completed_at`

func (p *PostgresSwitchStore) CreateTransaction(ctx context.Context, tx models.Transaction) error {
	const query = `INSERT INTO transactions (` + transactionColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`

	_, err := p.db.ExecContext(ctx, query,
		tx.InstructionID, tx.MessageID, tx.NetworkReference, tx.Fingerprint, tx.Amount, tx.Currency,
		tx.OriginBankID, tx.DestinationBankID, tx.DebtorAccount, tx.CreditorAccount, tx.Status, tx.ErrorCode,
		tx.Attempts, tx.DebitPosted, tx.CompensationRef, tx.CreatedAt, tx.QueuedAt, tx.CompletedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("transaction %s: %w", tx.InstructionID, models.ErrIntegrityViolation)
	}
	return err
}

const updateTransaction = `UPDATE transactions SET
	status = $2, error_code = $3, attempts = $4, debit_posted = $5, compensation_ref = $6,
	queued_at = $7, completed_at = $8
	WHERE instruction_id = $1`

func (p *PostgresSwitchStore) UpdateTransaction(ctx context.Context, tx models.Transaction) error {
	res, err := p.db.ExecContext(ctx, updateTransaction, mutableArgs(tx)...)
	if err != nil {
		return err
	}
	return expectRow(res, models.ErrNotFound)
}

// TransitionTransaction only writes when the row still holds from.
func (p *PostgresSwitchStore) TransitionTransaction(ctx context.Context, tx models.Transaction, from models.Status) error {
	res, err := p.db.ExecContext(ctx, updateTransaction+` AND status = $9`, append(mutableArgs(tx), from)...)
	if err != nil {
		return err
	}
	return expectRow(res, models.ErrConcurrentUpdate)
}

func (p *PostgresSwitchStore) GetTransaction(ctx context.Context, instructionID string) (models.Transaction, error) {
	const query = `SELECT ` + transactionColumns + ` FROM transactions WHERE instruction_id = $1`

	tx, err := scanTransaction(p.db.QueryRowContext(ctx, query, instructionID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Transaction{}, fmt.Errorf("transaction %s: %w", instructionID, models.ErrNotFound)
	}
	return tx, err
}

func (p *PostgresSwitchStore) TransactionExists(ctx context.Context, instructionID string) (bool, error) {
	const query = `SELECT 1 FROM transactions WHERE instruction_id = $1 LIMIT 1`

	var exists int
	err := p.db.QueryRowContext(ctx, query, instructionID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListTransactions returns matching transactions, newest first.
func (p *PostgresSwitchStore) ListTransactions(ctx context.Context, filter models.TransactionFilter) ([]models.Transaction, error) {
	var (
		where []string
		args  []any
	)
	if filter.InstructionID != "" {
		args = append(args, filter.InstructionID)
		where = append(where, fmt.Sprintf("instruction_id = $%d", len(args)))
	}
	if filter.BankID != "" {
		args = append(args, filter.BankID)
		where = append(where, fmt.Sprintf("(origin_bank_id = $%d OR destination_bank_id = $%d)", len(args), len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = models.DefaultListLimit
	}
	args = append(args, limit)

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, instruction_id LIMIT $%d`, len(args))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return txs, nil
}

func (p *PostgresSwitchStore) SaveReturn(ctx context.Context, rec models.ReturnRecord) error {
	const query = `INSERT INTO returns (return_id, original_instruction_id, reason_code, amount, currency, status, created_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7)
	ON CONFLICT (return_id) DO UPDATE SET status = EXCLUDED.status`

	_, err := p.db.ExecContext(ctx, query,
		rec.ReturnID, rec.OriginalInstructionID, rec.ReasonCode, rec.Amount, rec.Currency, rec.Status, rec.CreatedAt)
	return err
}

// FindIdempotency returns (nil, nil) when no record exists.
func (p *PostgresSwitchStore) FindIdempotency(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	const query = `SELECT key, fingerprint, status, response, expires_at FROM idempotency_keys WHERE key = $1`

	var (
		rec      models.IdempotencyRecord
		response []byte
	)
	err := p.db.QueryRowContext(ctx, query, key).Scan(&rec.Key, &rec.Fingerprint, &rec.Status, &response, &rec.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.Response = response
	return &rec, nil
}

func (p *PostgresSwitchStore) SaveIdempotency(ctx context.Context, rec models.IdempotencyRecord) error {
	const query = `INSERT INTO idempotency_keys (key, fingerprint, status, response, expires_at)
	VALUES ($1,$2,$3,$4,$5)
	ON CONFLICT (key) DO UPDATE SET
		fingerprint = EXCLUDED.fingerprint,
		status = EXCLUDED.status,
		response = EXCLUDED.response,
		expires_at = EXCLUDED.expires_at`

	var response any
	if len(rec.Response) > 0 {
		response = []byte(rec.Response)
	}
	_, err := p.db.ExecContext(ctx, query, rec.Key, rec.Fingerprint, rec.Status, response, rec.ExpiresAt)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (models.Transaction, error) {
	var tx models.Transaction
	err := row.Scan(
		&tx.InstructionID, &tx.MessageID, &tx.NetworkReference, &tx.Fingerprint, &tx.Amount, &tx.Currency,
		&tx.OriginBankID, &tx.DestinationBankID, &tx.DebtorAccount, &tx.CreditorAccount, &tx.Status, &tx.ErrorCode,
		&tx.Attempts, &tx.DebitPosted, &tx.CompensationRef, &tx.CreatedAt, &tx.QueuedAt, &tx.CompletedAt,
	)
	return tx, err
}

func mutableArgs(tx models.Transaction) []any {
	return []any{tx.InstructionID, tx.Status, tx.ErrorCode, tx.Attempts, tx.DebitPosted, tx.CompensationRef, tx.QueuedAt, tx.CompletedAt}
}

func expectRow(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return missing
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

var (
	_ interfaces.TransactionStore  = (*PostgresSwitchStore)(nil)
	_ interfaces.IdempotencyBackup = (*PostgresSwitchStore)(nil)
)
