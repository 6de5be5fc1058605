package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sheikh-saqib/interbank-payment-switch/internal/interfaces"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/models"
	"go.uber.org/zap"
)

// DefaultTTL is how long a claim is remembered.
const DefaultTTL = 24 * time.Hour

const (
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"

	emptyPayload = "-"
)

// Outcome of a claim.
type Outcome int

const (
	Acquired Outcome = iota
	Duplicate
	Conflict
)

func (o Outcome) String() string {
	switch o {
	case Acquired:
		return "acquired"
	case Duplicate:
		return "duplicate"
	case Conflict:
		return "conflict"
	}
	return "unknown"
}

// Claim is the result of Guard.Claim.
type Claim struct {
	Outcome  Outcome
	Status   string          // status stored with the existing entry, for Duplicate
	Response json.RawMessage // cached response, nil while the first submission is still processing
	// Degraded is set when the fast store was unreachable and the backup decided.
	// An Acquired degraded claim may race with a concurrent submission.
	Degraded bool
}

// Guard arbitrates new, duplicate and tampered submissions.
type Guard struct {
	fast   FastStore
	backup interfaces.IdempotencyBackup
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

func NewGuard(fast FastStore, backup interfaces.IdempotencyBackup, ttl time.Duration, logger *zap.Logger) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{
		fast:   fast,
		backup: backup,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Claim attempts to take ownership of key for the given fingerprint.
func (g *Guard) Claim(ctx context.Context, key, fingerprint string) (Claim, error) {
	value := encodeEntry(fingerprint, StatusProcessing, nil)

	for attempt := 0; attempt < 2; attempt++ {
		ok, err := g.fast.SetIfAbsent(ctx, key, value, g.ttl)
		if err != nil {
			g.logger.Warn("idempotency fast store unreachable, using backup",
				zap.String("key", key), zap.Error(err))
			return g.claimFromBackup(ctx, key, fingerprint)
		}
		if ok {
			g.saveBackup(ctx, key, fingerprint, StatusProcessing, nil)
			return Claim{Outcome: Acquired}, nil
		}

		stored, found, err := g.fast.Get(ctx, key)
		if err != nil {
			g.logger.Warn("idempotency fast store read failed, using backup",
				zap.String("key", key), zap.Error(err))
			return g.claimFromBackup(ctx, key, fingerprint)
		}
		if !found {
			// expired between SETNX and GET
			continue
		}
		storedFP, status, payload, err := decodeEntry(stored)
		if err != nil {
			return Claim{}, fmt.Errorf("idempotency entry %s: %w", key, err)
		}
		return compare(fingerprint, storedFP, status, payload, false), nil
	}

	return Claim{}, fmt.Errorf("idempotency claim %s: key kept expiring", key)
}

// Complete stores the final status and response for key, keeping the original expiry.
func (g *Guard) Complete(ctx context.Context, key, fingerprint string, response any) error {
	var payload json.RawMessage
	if response != nil {
		data, err := json.Marshal(response)
		if err != nil {
			return fmt.Errorf("marshal idempotent response: %w", err)
		}
		payload = data
	}

	fastErr := g.fast.Replace(ctx, key, encodeEntry(fingerprint, StatusCompleted, payload))
	if fastErr != nil {
		g.logger.Warn("idempotency fast store update failed", zap.String("key", key), zap.Error(fastErr))
	}
	backupErr := g.saveBackup(ctx, key, fingerprint, StatusCompleted, payload)

	if fastErr != nil && backupErr != nil {
		return fmt.Errorf("complete idempotency entry %s: %w", key, fastErr)
	}
	return nil
}

// Release drops a claim whose processing failed before any side effect, so a
// corrected resubmission can acquire it again.
func (g *Guard) Release(ctx context.Context, key string) error {
	fastErr := g.fast.Delete(ctx, key)
	if fastErr != nil {
		g.logger.Warn("idempotency fast store delete failed", zap.String("key", key), zap.Error(fastErr))
	}
	// an already expired backup record reads as absent
	backupErr := g.backup.SaveIdempotency(ctx, models.IdempotencyRecord{
		Key:       key,
		Status:    StatusProcessing,
		ExpiresAt: g.now().Add(-time.Second).UTC(),
	})
	if fastErr != nil && backupErr != nil {
		return fmt.Errorf("release idempotency entry %s: %w", key, fastErr)
	}
	return nil
}

func (g *Guard) claimFromBackup(ctx context.Context, key, fingerprint string) (Claim, error) {
	rec, err := g.backup.FindIdempotency(ctx, key)
	if err != nil {
		return Claim{}, models.WrapSwitchError(models.ReasonTechnical, err, "idempotency stores unavailable")
	}
	if rec == nil || rec.Expired(g.now()) {
		if err := g.saveBackup(ctx, key, fingerprint, StatusProcessing, nil); err != nil {
			return Claim{}, models.WrapSwitchError(models.ReasonTechnical, err, "idempotency stores unavailable")
		}
		return Claim{Outcome: Acquired, Degraded: true}, nil
	}
	return compare(fingerprint, rec.Fingerprint, rec.Status, rec.Response, true), nil
}

func (g *Guard) saveBackup(ctx context.Context, key, fingerprint, status string, payload json.RawMessage) error {
	err := g.backup.SaveIdempotency(ctx, models.IdempotencyRecord{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      status,
		Response:    payload,
		ExpiresAt:   g.now().Add(g.ttl).UTC(),
	})
	if err != nil {
		g.logger.Warn("idempotency backup write failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

func compare(fingerprint, storedFP, status string, payload json.RawMessage, degraded bool) Claim {
	if storedFP != fingerprint {
		return Claim{Outcome: Conflict, Status: status, Degraded: degraded}
	}
	return Claim{Outcome: Duplicate, Status: status, Response: payload, Degraded: degraded}
}

// entries are stored as fingerprint|STATUS|payload
func encodeEntry(fingerprint, status string, payload json.RawMessage) string {
	p := emptyPayload
	if len(payload) > 0 {
		p = string(payload)
	}
	return fingerprint + "|" + status + "|" + p
}

func decodeEntry(raw string) (string, string, json.RawMessage, error) {
	parts := strings.SplitN(raw, "|", 3)
	switch len(parts) {
	case 2:
		// entries written without a payload segment
		return parts[0], parts[1], nil, nil
	case 3:
		if parts[2] == emptyPayload || parts[2] == "" {
			return parts[0], parts[1], nil, nil
		}
		return parts[0], parts[1], json.RawMessage(parts[2]), nil
	}
	return "", "", nil, fmt.Errorf("malformed entry %q", raw)
}
