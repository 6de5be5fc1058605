package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/models"
	"github.com/sheikh-saqib/interbank-payment-switch/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type brokenStore struct{}

var errRedisDown = errors.New("dial tcp: connection refused")

func (brokenStore) SetIfAbsent(context.Context, string, string, time.Duration) (bool, error) {
	return false, errRedisDown
}
func (brokenStore) Get(context.Context, string) (string, bool, error) { return "", false, errRedisDown }
func (brokenStore) Replace(context.Context, string, string) error    { return errRedisDown }
func (brokenStore) Delete(context.Context, string) error              { return errRedisDown }

func newRedisGuard(t *testing.T) (*Guard, *miniredis.Miniredis, *memory.MemorySwitchStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	backup := memory.NewMemorySwitchStore()
	return NewGuard(NewRedisStore(client), backup, DefaultTTL, zap.NewNop()), mr, backup
}

func TestClaimAcquiresOnce(t *testing.T) {
	guard, mr, _ := newRedisGuard(t)
	ctx := context.Background()

	first, err := guard.Claim(ctx, "idem:INS-1", "fp-1")
	require.NoError(t, err)
	assert.Equal(t, Acquired, first.Outcome)
	assert.False(t, first.Degraded)

	stored, err := mr.Get("idem:INS-1")
	require.NoError(t, err)
	assert.Equal(t, "fp-1|PROCESSING|-", stored)
	assert.Equal(t, DefaultTTL, mr.TTL("idem:INS-1"))

	second, err := guard.Claim(ctx, "idem:INS-1", "fp-1")
	require.NoError(t, err)
	assert.Equal(t, Duplicate, second.Outcome)
	assert.Equal(t, StatusProcessing, second.Status)
	assert.Nil(t, second.Response)
}

func TestClaimDetectsTampering(t *testing.T) {
	guard, _, _ := newRedisGuard(t)
	ctx := context.Background()

	_, err := guard.Claim(ctx, "idem:INS-1", "fp-1")
	require.NoError(t, err)

	claim, err := guard.Claim(ctx, "idem:INS-1", "fp-other")
	require.NoError(t, err)
	assert.Equal(t, Conflict, claim.Outcome)
}

func TestCompleteReplaysResponseAndKeepsTTL(t *testing.T) {
	guard, mr, backup := newRedisGuard(t)
	ctx := context.Background()

	_, err := guard.Claim(ctx, "idem:INS-1", "fp-1")
	require.NoError(t, err)
	mr.FastForward(time.Hour)

	view := map[string]string{"status": "COMPLETED", "note": "a|b"}
	require.NoError(t, guard.Complete(ctx, "idem:INS-1", "fp-1", view))
	assert.Equal(t, DefaultTTL-time.Hour, mr.TTL("idem:INS-1"))

	claim, err := guard.Claim(ctx, "idem:INS-1", "fp-1")
	require.NoError(t, err)
	assert.Equal(t, Duplicate, claim.Outcome)
	assert.Equal(t, StatusCompleted, claim.Status)
	assert.JSONEq(t, `{"status":"COMPLETED","note":"a|b"}`, string(claim.Response))

	rec, err := backup.FindIdempotency(ctx, "idem:INS-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatusCompleted, rec.Status)
}

func TestClaimAfterExpiryAcquiresAgain(t *testing.T) {
	guard, mr, _ := newRedisGuard(t)
	ctx := context.Background()

	_, err := guard.Claim(ctx, "idem:INS-1", "fp-1")
	require.NoError(t, err)
	mr.FastForward(DefaultTTL + time.Second)

	claim, err := guard.Claim(ctx, "idem:INS-1", "fp-1")
	require.NoError(t, err)
	assert.Equal(t, Acquired, claim.Outcome)
}

func TestClaimFallsBackToBackup(t *testing.T) {
	backup := memory.NewMemorySwitchStore()
	guard := NewGuard(brokenStore{}, backup, DefaultTTL, zap.NewNop())
	ctx := context.Background()

	claim, err := guard.Claim(ctx, "idem:INS-1", "fp-1")
	require.NoError(t, err)
	assert.Equal(t, Acquired, claim.Outcome)
	assert.True(t, claim.Degraded)

	claim, err = guard.Claim(ctx, "idem:INS-1", "fp-1")
	require.NoError(t, err)
	assert.Equal(t, Duplicate, claim.Outcome)
	assert.True(t, claim.Degraded)

	claim, err = guard.Claim(ctx, "idem:INS-1", "fp-2")
	require.NoError(t, err)
	assert.Equal(t, Conflict, claim.Outcome)

	// backup alone is enough to complete
	require.NoError(t, guard.Complete(ctx, "idem:INS-1", "fp-1", map[string]string{"status": "FAILED"}))
	claim, err = guard.Claim(ctx, "idem:INS-1", "fp-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"FAILED"}`, string(claim.Response))
}

func TestClaimIgnoresExpiredBackupRecord(t *testing.T) {
	backup := memory.NewMemorySwitchStore()
	ctx := context.Background()
	require.NoError(t, backup.SaveIdempotency(ctx, models.IdempotencyRecord{
		Key: "idem:INS-1", Fingerprint: "fp-old", Status: StatusCompleted,
		ExpiresAt: time.Now().Add(-time.Minute),
	}))

	guard := NewGuard(brokenStore{}, backup, DefaultTTL, zap.NewNop())
	claim, err := guard.Claim(ctx, "idem:INS-1", "fp-new")
	require.NoError(t, err)
	assert.Equal(t, Acquired, claim.Outcome)
}

type failingBackup struct{}

func (failingBackup) FindIdempotency(context.Context, string) (*models.IdempotencyRecord, error) {
	return nil, errors.New("db down")
}
func (failingBackup) SaveIdempotency(context.Context, models.IdempotencyRecord) error {
	return errors.New("db down")
}

func TestClaimFailsWhenBothStoresDown(t *testing.T) {
	guard := NewGuard(brokenStore{}, failingBackup{}, DefaultTTL, zap.NewNop())

	_, err := guard.Claim(context.Background(), "idem:INS-1", "fp-1")
	require.Error(t, err)
	assert.Equal(t, models.ReasonTechnical, models.ReasonOf(err))

	err = guard.Complete(context.Background(), "idem:INS-1", "fp-1", nil)
	assert.Error(t, err)
}

func TestReleaseAllowsReclaim(t *testing.T) {
	guard, mr, backup := newRedisGuard(t)
	ctx := context.Background()

	_, err := guard.Claim(ctx, "idem:return:RET-1", "fp-1")
	require.NoError(t, err)
	require.NoError(t, guard.Release(ctx, "idem:return:RET-1"))
	assert.False(t, mr.Exists("idem:return:RET-1"))

	rec, err := backup.FindIdempotency(ctx, "idem:return:RET-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.Expired(time.Now()))

	claim, err := guard.Claim(ctx, "idem:return:RET-1", "fp-2")
	require.NoError(t, err)
	assert.Equal(t, Acquired, claim.Outcome)
}

func TestDecodeEntry(t *testing.T) {
	fp, status, payload, err := decodeEntry("abc|PROCESSING")
	require.NoError(t, err)
	assert.Equal(t, "abc", fp)
	assert.Equal(t, StatusProcessing, status)
	assert.Nil(t, payload)

	_, _, _, err = decodeEntry("garbage")
	assert.Error(t, err)
}
