package interfaces

import (
	"context"

	"github.com/sheikh-saqib/interbank-payment-switch/internal/models"
)

// TransactionStore persists transactions and return records.
// Get returns models.ErrNotFound for unknown ids.
type TransactionStore interface {
	CreateTransaction(ctx context.Context, tx models.Transaction) error
	// UpdateTransaction overwrites every field of an existing transaction.
	UpdateTransaction(ctx context.Context, tx models.Transaction) error
	// TransitionTransaction persists tx only if the stored status is still from,
	// and returns models.ErrConcurrentUpdate otherwise.
	TransitionTransaction(ctx context.Context, tx models.Transaction, from models.Status) error
	GetTransaction(ctx context.Context, instructionID string) (models.Transaction, error)
	TransactionExists(ctx context.Context, instructionID string) (bool, error)
	ListTransactions(ctx context.Context, filter models.TransactionFilter) ([]models.Transaction, error)
	SaveReturn(ctx context.Context, rec models.ReturnRecord) error
}

// IdempotencyBackup is the durable fallback used when the fast store is unreachable.
// FindIdempotency returns (nil, nil) when no record exists.
type IdempotencyBackup interface {
	FindIdempotency(ctx context.Context, key string) (*models.IdempotencyRecord, error)
	SaveIdempotency(ctx context.Context, rec models.IdempotencyRecord) error
}
