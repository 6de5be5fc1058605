package memory

import (
	"context"
	"sort"
	"sync"

	interfaces "github.com/sheikh-saqib/interbank-payment-switch/internal/interfaces"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/models"
)

// MemorySwitchStore is an in-memory implementation of TransactionStore and IdempotencyBackup.
// It is safe for concurrent use and hands out copies so callers can't mutate stored state.
type MemorySwitchStore struct {
	mu           sync.Mutex
	transactions map[string]models.Transaction
	returns      map[string]models.ReturnRecord
	idempotency  map[string]models.IdempotencyRecord
}

// NewMemorySwitchStore creates an empty store.
func NewMemorySwitchStore() *MemorySwitchStore {
	return &MemorySwitchStore{
		transactions: make(map[string]models.Transaction),
		returns:      make(map[string]models.ReturnRecord),
		idempotency:  make(map[string]models.IdempotencyRecord),
	}
}

func (m *MemorySwitchStore) CreateTransaction(ctx context.Context, tx models.Transaction) error {
	m.mu.Lock()         // lock the mutex to prevent concurrent writes
	defer m.mu.Unlock() // unlock automatically when function exits

	if _, exists := m.transactions[tx.InstructionID]; exists {
		return models.ErrIntegrityViolation
	}
	m.transactions[tx.InstructionID] = tx
	return nil
}

func (m *MemorySwitchStore) UpdateTransaction(ctx context.Context, tx models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.transactions[tx.InstructionID]; !exists {
		return models.ErrNotFound
	}
	m.transactions[tx.InstructionID] = tx
	return nil
}

func (m *MemorySwitchStore) TransitionTransaction(ctx context.Context, tx models.Transaction, from models.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.transactions[tx.InstructionID]
	if !exists {
		return models.ErrNotFound
	}
	if current.Status != from {
		return models.ErrConcurrentUpdate
	}
	m.transactions[tx.InstructionID] = tx
	return nil
}

func (m *MemorySwitchStore) GetTransaction(ctx context.Context, instructionID string) (models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.transactions[instructionID]
	if !ok {
		return models.Transaction{}, models.ErrNotFound
	}
	return tx, nil
}

func (m *MemorySwitchStore) TransactionExists(ctx context.Context, instructionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.transactions[instructionID]
	return exists, nil
}

// ListTransactions returns matching transactions, newest first.
func (m *MemorySwitchStore) ListTransactions(ctx context.Context, filter models.TransactionFilter) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []models.Transaction
	for _, tx := range m.transactions {
		if filter.InstructionID != "" && tx.InstructionID != filter.InstructionID {
			continue
		}
		if filter.BankID != "" && tx.OriginBankID != filter.BankID && tx.DestinationBankID != filter.BankID {
			continue
		}
		if filter.Status != "" && tx.Status != filter.Status {
			continue
		}
		result = append(result, tx)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].InstructionID < result[j].InstructionID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = models.DefaultListLimit
	}
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemorySwitchStore) SaveReturn(ctx context.Context, rec models.ReturnRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.returns[rec.ReturnID] = rec
	return nil
}

// Returns lists the return records linked to an instruction.
func (m *MemorySwitchStore) Returns(originalInstructionID string) []models.ReturnRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []models.ReturnRecord
	for _, r := range m.returns {
		if r.OriginalInstructionID == originalInstructionID {
			result = append(result, r)
		}
	}
	return result
}

func (m *MemorySwitchStore) FindIdempotency(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.idempotency[key]
	if !ok {
		return nil, nil
	}
	// copy the payload so callers can't modify internal state
	rec.Response = append([]byte(nil), rec.Response...)
	return &rec, nil
}

func (m *MemorySwitchStore) SaveIdempotency(ctx context.Context, rec models.IdempotencyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec.Response = append([]byte(nil), rec.Response...)
	m.idempotency[rec.Key] = rec
	return nil
}

// Compile-time checks
var (
	_ interfaces.TransactionStore  = (*MemorySwitchStore)(nil)
	_ interfaces.IdempotencyBackup = (*MemorySwitchStore)(nil)
)
