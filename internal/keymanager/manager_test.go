package keymanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoMegaBot/internal/adapters/memkeystore"
	"cryptoMegaBot/internal/domain"
	"cryptoMegaBot/internal/ports"
)

type mockLogger struct{}

func (mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type memAudit struct {
	records []domain.AuditRecord
}

func (a *memAudit) Write(ctx context.Context, rec domain.AuditRecord) error {
	a.records = append(a.records, rec)
	return nil
}

func setupManager(t *testing.T) (*Manager, *memAudit) {
	t.Helper()
	audit := &memAudit{}
	mgr, err := New(memkeystore.New(), audit, mockLogger{}, "test-secret", "test-salt")
	require.NoError(t, err)
	return mgr, audit
}

func TestManager_CreateAndValidate(t *testing.T) {
	mgr, audit := setupManager(t)
	ctx := context.Background()

	key, err := mgr.Create(ctx, "user-1", "binance", []string{"trade"}, 30, false)
	require.NoError(t, err)
	assert.Equal(t, domain.KeyActive, key.Status)
	assert.Equal(t, 1, key.Version)

	ok, validated, err := mgr.Validate(ctx, key.Material, ports.RequestCtx{ClientIP: "1.2.3.4"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, key.KeyID, validated.KeyID)
	assert.EqualValues(t, 1, validated.UsageCount)

	assert.NotEmpty(t, audit.records)
	assert.Equal(t, "api_key_create", audit.records[0].Action)
}

func TestManager_CreateRequiresApproval(t *testing.T) {
	mgr, _ := setupManager(t)
	ctx := context.Background()

	key, err := mgr.Create(ctx, "user-1", "binance", nil, 30, true)
	require.NoError(t, err)
	assert.Equal(t, domain.KeyPending, key.Status)

	ok, _, err := mgr.Validate(ctx, key.Material, ports.RequestCtx{})
	require.NoError(t, err)
	assert.False(t, ok, "pending keys must not validate")
}

func TestManager_RotateIssuesSuccessorAndGraceWindow(t *testing.T) {
	mgr, _ := setupManager(t)
	ctx := context.Background()

	original, err := mgr.Create(ctx, "user-1", "binance", nil, 30, false)
	require.NoError(t, err)

	successor, err := mgr.Rotate(ctx, original.KeyID, 24)
	require.NoError(t, err)
	assert.Equal(t, 2, successor.Version)
	assert.Equal(t, original.KeyID, successor.PreviousKeyID)

	ok, validated, err := mgr.Validate(ctx, original.Material, ports.RequestCtx{})
	require.NoError(t, err)
	assert.True(t, ok, "a rotating predecessor must still validate during its grace window")
	assert.Equal(t, domain.KeyRotating, validated.Status)

	ok, _, err = mgr.Validate(ctx, successor.Material, ports.RequestCtx{})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestManager_RotateRejectsNonActiveKey(t *testing.T) {
	mgr, _ := setupManager(t)
	ctx := context.Background()

	key, err := mgr.Create(ctx, "user-1", "binance", nil, 30, false)
	require.NoError(t, err)
	require.NoError(t, mgr.Revoke(ctx, key.KeyID, "test"))

	_, err = mgr.Rotate(ctx, key.KeyID, 24)
	assert.ErrorIs(t, err, ports.ErrBadState)
}

func TestManager_RevokeInvalidatesKeyImmediately(t *testing.T) {
	mgr, audit := setupManager(t)
	ctx := context.Background()

	key, err := mgr.Create(ctx, "user-1", "binance", nil, 30, false)
	require.NoError(t, err)
	require.NoError(t, mgr.Revoke(ctx, key.KeyID, "leaked"))

	ok, validated, err := mgr.Validate(ctx, key.Material, ports.RequestCtx{})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, domain.KeyRevoked, validated.Status)

	last := audit.records[len(audit.records)-1]
	assert.Equal(t, "api_key_revoke", last.Action)
	assert.Equal(t, domain.SeverityHigh, last.Severity)
}

func TestManager_MarkCompromisedInvalidatesKey(t *testing.T) {
	mgr, audit := setupManager(t)
	ctx := context.Background()

	key, err := mgr.Create(ctx, "user-1", "binance", nil, 30, false)
	require.NoError(t, err)
	require.NoError(t, mgr.MarkCompromised(ctx, key.KeyID, "key found in a public repo"))

	ok, _, err := mgr.Validate(ctx, key.Material, ports.RequestCtx{})
	require.NoError(t, err)
	assert.False(t, ok)

	last := audit.records[len(audit.records)-1]
	assert.Equal(t, domain.SeverityCritical, last.Severity)
}

func TestManager_ValidateEnforcesIPRestriction(t *testing.T) {
	mgr, _ := setupManager(t)
	ctx := context.Background()

	key, err := mgr.Create(ctx, "user-1", "binance", nil, 30, false)
	require.NoError(t, err)
	key.IPRestrictions = []string{"9.9.9.9"}
	require.NoError(t, mgr.persist(ctx, key))

	ok, _, err := mgr.Validate(ctx, key.Material, ports.RequestCtx{ClientIP: "1.1.1.1"})
	require.NoError(t, err)
	assert.False(t, ok, "an IP not in the restriction list must be rejected")

	ok, _, err = mgr.Validate(ctx, key.Material, ports.RequestCtx{ClientIP: "9.9.9.9"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestManager_ProcessExpiredExpiresPastDueKeys(t *testing.T) {
	mgr, _ := setupManager(t)
	ctx := context.Background()

	frozen := time.Now()
	mgr.now = func() time.Time { return frozen }

	key, err := mgr.Create(ctx, "user-1", "binance", nil, -1, false) // already expired
	require.NoError(t, err)

	n, err := mgr.ProcessExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ok, validated, err := mgr.Validate(ctx, key.Material, ports.RequestCtx{})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, domain.KeyExpired, validated.Status)
}

func TestManager_ProcessExpiredClearsRotatingGracePeriod(t *testing.T) {
	mgr, _ := setupManager(t)
	ctx := context.Background()

	frozen := time.Now()
	mgr.now = func() time.Time { return frozen }

	original, err := mgr.Create(ctx, "user-1", "binance", nil, 30, false)
	require.NoError(t, err)
	_, err = mgr.Rotate(ctx, original.KeyID, 1)
	require.NoError(t, err)

	mgr.now = func() time.Time { return frozen.Add(2 * time.Hour) }

	n, err := mgr.ProcessExpired(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)

	ok, validated, err := mgr.Validate(ctx, original.Material, ports.RequestCtx{})
	require.NoError(t, err)
	assert.False(t, ok, "the rotating predecessor must expire once its grace period has passed")
	assert.Equal(t, domain.KeyExpired, validated.Status)
}

func TestManager_ExpiringReturnsKeysWithinWindow(t *testing.T) {
	mgr, _ := setupManager(t)
	ctx := context.Background()

	soon, err := mgr.Create(ctx, "user-1", "binance", nil, 3, false)
	require.NoError(t, err)
	_, err = mgr.Create(ctx, "user-1", "binance", nil, 365, false)
	require.NoError(t, err)

	expiring, err := mgr.Expiring(ctx, 7)
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	assert.Equal(t, soon.KeyID, expiring[0].KeyID)
}
