// Package keymanager implements the Key Manager (C3): API key issuance,
// rotation with grace periods, revocation, compromise handling, validation,
// and the expiration sweeper, per §4.3. It is grounded in
// original_source/auth/key_manager.py's operation set and Redis key
// layout, adapted to the store abstraction in internal/ports/keystore.go
// and to Go's explicit-error idiom in place of Python's raised exceptions.
package keymanager

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"cryptoMegaBot/internal/domain"
	"cryptoMegaBot/internal/ports"
)

const (
	keyPrefix        = "api_key:"
	hashIndexPrefix  = "api_key_hash:"
	userKeysPrefix   = "user_keys:"
	venueKeysPrefix  = "venue_keys:"
	versionPrefix    = "api_key_version:" // hash, one per (venue,user)
	backupPrefix     = "api_key_backup:"
	expiringKeysZSet = "expiring_keys"
)

const defaultKeyMaterialBytes = 24 // hex-encoded -> 48 chars, matches teacher-adjacent "ak_<hex>_<checksum>" shape

// Manager implements ports.KeyManager.
type Manager struct {
	store  ports.KeyStore
	audit  ports.AuditLogger
	logger ports.Logger
	cipher *cipherSuite
	now    func() time.Time

	// keyLocks holds one *sync.Mutex per key_id, per §4.3's "all state
	// mutations take a per-key lock" — the store has no compare-and-swap;
	// this mutex alone serializes the read-modify-write sequences (get,
	// mutate fields, persist) every operation below performs.
	keyLocks sync.Map
}

func New(store ports.KeyStore, audit ports.AuditLogger, logger ports.Logger, secret, salt string) (*Manager, error) {
	cs, err := newCipherSuite(secret, salt)
	if err != nil {
		return nil, err
	}
	return &Manager{store: store, audit: audit, logger: logger, cipher: cs, now: time.Now}, nil
}

func (m *Manager) lockKey(keyID string) func() {
	v, _ := m.keyLocks.LoadOrStore(keyID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (m *Manager) generateMaterial() (string, error) {
	raw := uuid.New().String() + uuid.New().String()
	sum := sha256.Sum256([]byte(raw))
	checksum := hex.EncodeToString(sum[:])[:4]
	return fmt.Sprintf("ak_%s_%s", hex.EncodeToString([]byte(raw))[:defaultKeyMaterialBytes*2], checksum), nil
}

func (m *Manager) Create(ctx context.Context, userID, venue string, permissions []string, ttlDays int, requireApproval bool) (*domain.APIKey, error) {
	material, err := m.generateMaterial()
	if err != nil {
		return nil, err
	}

	now := m.now()
	status := domain.KeyActive
	if requireApproval {
		status = domain.KeyPending
	}

	key := &domain.APIKey{
		KeyID:       uuid.New().String(),
		UserID:      userID,
		Venue:       venue,
		Material:    material,
		Status:      status,
		Version:     1,
		CreatedAt:   now,
		ExpiresAt:   now.AddDate(0, 0, ttlDays),
		Permissions: permissions,
	}

	if err := m.persist(ctx, key); err != nil {
		return nil, err
	}
	if err := m.store.SetAdd(ctx, userKeysPrefix+userID, key.KeyID); err != nil {
		return nil, fmt.Errorf("keymanager: index user key: %w", err)
	}
	if err := m.store.SetAdd(ctx, venueKeysPrefix+venue, key.KeyID); err != nil {
		return nil, fmt.Errorf("keymanager: index venue key: %w", err)
	}
	if err := m.store.ZAdd(ctx, expiringKeysZSet, key.KeyID, float64(key.ExpiresAt.Unix())); err != nil {
		return nil, fmt.Errorf("keymanager: index expiry: %w", err)
	}

	m.writeAudit(ctx, userID, "api_key_create", key.KeyID, domain.SeverityNormal, map[string]any{
		"venue": venue, "permissions": permissions, "ttl_days": ttlDays, "require_approval": requireApproval,
	})
	return key, nil
}

// Rotate generates a successor key (version+1, active), marks the
// predecessor "rotating" with a grace deadline, and links them both ways.
func (m *Manager) Rotate(ctx context.Context, keyID string, graceHours int) (*domain.APIKey, error) {
	defer m.lockKey(keyID)()

	current, err := m.get(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if current.Status != domain.KeyActive {
		return nil, fmt.Errorf("keymanager: rotate %s: %w", keyID, ports.ErrBadState)
	}

	material, err := m.generateMaterial()
	if err != nil {
		return nil, err
	}

	now := m.now()
	successor := &domain.APIKey{
		KeyID:         uuid.New().String(),
		UserID:        current.UserID,
		Venue:         current.Venue,
		Material:      material,
		Status:        domain.KeyActive,
		Version:       current.Version + 1,
		CreatedAt:     now,
		ExpiresAt:     current.ExpiresAt,
		Permissions:   current.Permissions,
		PreviousKeyID: current.KeyID,
	}

	current.Status = domain.KeyRotating
	current.RotatedAt = now
	current.GracePeriodEnds = now.Add(time.Duration(graceHours) * time.Hour)
	current.NextKeyID = successor.KeyID

	if err := m.persist(ctx, current); err != nil {
		return nil, err
	}
	if err := m.persist(ctx, successor); err != nil {
		return nil, err
	}
	if err := m.store.SetAdd(ctx, userKeysPrefix+successor.UserID, successor.KeyID); err != nil {
		return nil, fmt.Errorf("keymanager: index user key: %w", err)
	}
	if err := m.store.SetAdd(ctx, venueKeysPrefix+successor.Venue, successor.KeyID); err != nil {
		return nil, fmt.Errorf("keymanager: index venue key: %w", err)
	}
	if err := m.store.ZAdd(ctx, expiringKeysZSet, successor.KeyID, float64(successor.ExpiresAt.Unix())); err != nil {
		return nil, fmt.Errorf("keymanager: index expiry: %w", err)
	}

	versionKey := fmt.Sprintf("%s%s:%s", versionPrefix, current.Venue, current.UserID)
	_ = m.store.HSet(ctx, versionKey, fmt.Sprintf("%d", current.Version), current.KeyID)
	_ = m.store.HSet(ctx, versionKey, fmt.Sprintf("%d", successor.Version), successor.KeyID)

	m.writeAudit(ctx, current.UserID, "api_key_rotate", current.KeyID, domain.SeverityNormal, map[string]any{
		"new_key_id": successor.KeyID, "grace_period_hours": graceHours, "venue": current.Venue,
	})
	return successor, nil
}

func (m *Manager) Revoke(ctx context.Context, keyID, reason string) error {
	defer m.lockKey(keyID)()

	key, err := m.get(ctx, keyID)
	if err != nil {
		return err
	}
	key.Status = domain.KeyRevoked
	key.RevokedAt = m.now()
	key.RevocationReason = reason
	if err := m.persist(ctx, key); err != nil {
		return err
	}
	m.writeAudit(ctx, key.UserID, "api_key_revoke", keyID, domain.SeverityHigh, map[string]any{"reason": reason, "venue": key.Venue})
	return nil
}

func (m *Manager) MarkCompromised(ctx context.Context, keyID, details string) error {
	defer m.lockKey(keyID)()

	key, err := m.get(ctx, keyID)
	if err != nil {
		return err
	}
	key.Status = domain.KeyCompromised
	key.CompromisedAt = m.now()
	key.CompromiseDetails = details
	if err := m.persist(ctx, key); err != nil {
		return err
	}
	m.writeAudit(ctx, key.UserID, "api_key_compromised", keyID, domain.SeverityCritical, map[string]any{"details": details, "venue": key.Venue})
	return nil
}

// Validate looks a key up by its material, checks status/expiry/IP
// restriction, and on success bumps usage_count.
func (m *Manager) Validate(ctx context.Context, material string, rc ports.RequestCtx) (bool, *domain.APIKey, error) {
	sum := sha256.Sum256([]byte(material))
	hashKey := hashIndexPrefix + hex.EncodeToString(sum[:])

	keyID, found, err := m.store.Get(ctx, hashKey)
	if err != nil {
		return false, nil, fmt.Errorf("keymanager: validate lookup: %w", err)
	}
	if !found {
		return false, nil, nil
	}

	defer m.lockKey(keyID)()

	key, err := m.get(ctx, keyID)
	if err != nil {
		return false, nil, nil
	}

	if !key.Status.Validatable() {
		return false, key, nil
	}
	if m.now().After(key.ExpiresAt) {
		return false, key, nil
	}
	if len(key.IPRestrictions) > 0 && !contains(key.IPRestrictions, rc.ClientIP) {
		m.writeAudit(ctx, key.UserID, "api_key_unauthorized_ip", key.KeyID, domain.SeverityHigh, map[string]any{"ip": rc.ClientIP})
		return false, key, nil
	}

	key.UsageCount++
	key.LastUsedAt = m.now()
	if err := m.persist(ctx, key); err != nil {
		return false, nil, err
	}
	return true, key, nil
}

func (m *Manager) Expiring(ctx context.Context, windowDays int) ([]*domain.APIKey, error) {
	threshold := float64(m.now().AddDate(0, 0, windowDays).Unix())
	ids, err := m.store.ZRangeByScore(ctx, expiringKeysZSet, 0, threshold)
	if err != nil {
		return nil, fmt.Errorf("keymanager: expiring scan: %w", err)
	}

	var out []*domain.APIKey
	for _, id := range ids {
		key, err := m.get(ctx, id)
		if err != nil {
			continue
		}
		if key.Status == domain.KeyActive || key.Status == domain.KeyRotating {
			out = append(out, key)
		}
	}
	return out, nil
}

// ProcessExpired is the sweeper body: it expires keys past ExpiresAt that
// are not already expired, revoked or compromised, and rotating keys past
// GracePeriodEnds. Grounded in
// key_manager.py's process_expired_keys, with the source's undefined-`key`
// typo bug not reproduced — there is exactly one decoded record in scope
// here, so there is nothing else it could read.
func (m *Manager) ProcessExpired(ctx context.Context) (int, error) {
	now := m.now()
	processed := 0

	expiredIDs, err := m.store.ZRangeByScore(ctx, expiringKeysZSet, 0, float64(now.Unix()))
	if err != nil {
		return 0, fmt.Errorf("keymanager: sweep expired scan: %w", err)
	}
	for _, id := range expiredIDs {
		processed += m.expireOne(ctx, id, "automatic")
	}

	allIDs, err := m.store.Keys(ctx, keyPrefix)
	if err != nil {
		return processed, fmt.Errorf("keymanager: sweep grace scan: %w", err)
	}
	for _, fullKey := range allIDs {
		id := fullKey[len(keyPrefix):]
		func() {
			defer m.lockKey(id)()
			key, err := m.get(ctx, id)
			if err != nil {
				return
			}
			if key.Status != domain.KeyRotating || key.GracePeriodEnds.IsZero() || !now.After(key.GracePeriodEnds) {
				return
			}
			key.Status = domain.KeyExpired
			if err := m.persist(ctx, key); err != nil {
				return
			}
			m.writeAudit(ctx, key.UserID, "api_key_expire", key.KeyID, domain.SeverityNormal, map[string]any{"grace_period_ended": true, "venue": key.Venue})
			processed++
		}()
	}

	return processed, nil
}

// expireOne locks, loads, and expires a single key past its ExpiresAt,
// whatever its status unless already expired, revoked or compromised. Returns 1 if it transitioned the key, 0 otherwise
// (already terminal, or a transient store error — the next sweep retries).
func (m *Manager) expireOne(ctx context.Context, keyID, reasonTag string) int {
	defer m.lockKey(keyID)()

	key, err := m.get(ctx, keyID)
	if err != nil {
		return 0
	}
	if key.Status == domain.KeyExpired || key.Status == domain.KeyRevoked || key.Status == domain.KeyCompromised {
		return 0
	}
	key.Status = domain.KeyExpired
	if err := m.persist(ctx, key); err != nil {
		return 0
	}
	m.writeAudit(ctx, key.UserID, "api_key_expire", key.KeyID, domain.SeverityNormal, map[string]any{"automatic": reasonTag == "automatic", "venue": key.Venue})
	return 1
}

func (m *Manager) get(ctx context.Context, keyID string) (*domain.APIKey, error) {
	raw, found, err := m.store.Get(ctx, keyPrefix+keyID)
	if err != nil {
		return nil, fmt.Errorf("keymanager: get %s: %w", keyID, err)
	}
	if !found {
		return nil, fmt.Errorf("keymanager: key %s: %w", keyID, ports.ErrNotFound)
	}
	return m.decode(raw)
}

// persist writes a backup snapshot of the previous record (if any), then
// the new record, encrypting Material at rest.
func (m *Manager) persist(ctx context.Context, key *domain.APIKey) error {
	if prev, found, _ := m.store.Get(ctx, keyPrefix+key.KeyID); found {
		_ = m.store.Set(ctx, fmt.Sprintf("%s%s:%d", backupPrefix, key.KeyID, key.Version), prev)
	}

	encoded, err := m.encode(key)
	if err != nil {
		return err
	}
	if err := m.store.Set(ctx, keyPrefix+key.KeyID, encoded); err != nil {
		return fmt.Errorf("keymanager: persist %s: %w", key.KeyID, err)
	}

	sum := sha256.Sum256([]byte(key.Material))
	hashKey := hashIndexPrefix + hex.EncodeToString(sum[:])
	if err := m.store.Set(ctx, hashKey, key.KeyID); err != nil {
		return fmt.Errorf("keymanager: persist hash index %s: %w", key.KeyID, err)
	}
	return nil
}

// wireRecord is the JSON-on-the-wire shape; Material is the ciphertext.
type wireRecord struct {
	domain.APIKey
	Material string `json:"material"`
}

func (m *Manager) encode(key *domain.APIKey) (string, error) {
	ciphertext, err := m.cipher.Encrypt(key.Material)
	if err != nil {
		return "", err
	}
	wr := wireRecord{APIKey: *key, Material: ciphertext}
	b, err := json.Marshal(wr)
	if err != nil {
		return "", fmt.Errorf("keymanager: encode: %w", err)
	}
	return string(b), nil
}

func (m *Manager) decode(raw string) (*domain.APIKey, error) {
	var wr wireRecord
	if err := json.Unmarshal([]byte(raw), &wr); err != nil {
		return nil, fmt.Errorf("keymanager: decode: %w", err)
	}
	plaintext, err := m.cipher.Decrypt(wr.Material)
	if err != nil {
		return nil, fmt.Errorf("keymanager: decode material: %w", err)
	}
	key := wr.APIKey
	key.Material = plaintext
	return &key, nil
}

func (m *Manager) writeAudit(ctx context.Context, userID, action, resourceID string, severity domain.AuditSeverity, details map[string]any) {
	if severity == domain.SeverityHigh || severity == domain.SeverityCritical {
		if v, ok := details["material"].(string); ok {
			details["material"] = maskMaterial(v)
		}
	}
	encoded, _ := json.Marshal(details)
	rec := domain.AuditRecord{
		UserID: userID, Action: action, ResourceType: "api_key", ResourceID: resourceID,
		Details: string(encoded), Severity: severity, Status: "success", CreatedAt: m.now(),
	}
	if err := m.audit.Write(ctx, rec); err != nil && m.logger != nil {
		m.logger.Error(ctx, err, "keymanager: write audit record")
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
