package keymanager

import (
	"context"
	"fmt"
	"time"

	"cryptoMegaBot/internal/domain"
)

// SweeperConfig controls the three background checks §5/§6.4 call for.
type SweeperConfig struct {
	ExpirationInterval  time.Duration
	NotificationInterval time.Duration
	AutoRotationInterval time.Duration
	AutoRotationEnabled  bool
	NotificationWindowDays int
	AutoRotationGraceHours int
}

func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		ExpirationInterval:     time.Hour,
		NotificationInterval:   24 * time.Hour,
		AutoRotationInterval:   24 * time.Hour,
		NotificationWindowDays: 7,
		AutoRotationGraceHours: 24,
	}
}

// RunSweepers starts the expiration, notification, and (optionally)
// auto-rotation loops and returns immediately; each loop exits once ctx is
// cancelled, honoring the single supervisor-level cancellation token from §5.
func (m *Manager) RunSweepers(ctx context.Context, cfg SweeperConfig) {
	go m.loop(ctx, cfg.ExpirationInterval, m.sweepExpiration)
	go m.loop(ctx, cfg.NotificationInterval, func(ctx context.Context) { m.sweepNotifications(ctx, cfg) })
	if cfg.AutoRotationEnabled {
		go m.loop(ctx, cfg.AutoRotationInterval, func(ctx context.Context) { m.sweepAutoRotation(ctx, cfg) })
	}
}

func (m *Manager) loop(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

func (m *Manager) sweepExpiration(ctx context.Context) {
	n, err := m.ProcessExpired(ctx)
	if err != nil {
		m.logger.Error(ctx, err, "keymanager: expiration sweep failed")
		return
	}
	if n > 0 {
		m.logger.Info(ctx, fmt.Sprintf("keymanager: expired %d keys", n))
	}
}

func (m *Manager) sweepNotifications(ctx context.Context, cfg SweeperConfig) {
	keys, err := m.Expiring(ctx, cfg.NotificationWindowDays)
	if err != nil {
		m.logger.Error(ctx, err, "keymanager: notification sweep failed")
		return
	}
	for _, k := range keys {
		m.logger.Warn(ctx, "keymanager: key expiring soon", map[string]interface{}{
			"key_id": k.KeyID, "expires_at": k.ExpiresAt, "venue": k.Venue,
		})
	}
}

func (m *Manager) sweepAutoRotation(ctx context.Context, cfg SweeperConfig) {
	keys, err := m.Expiring(ctx, cfg.NotificationWindowDays)
	if err != nil {
		m.logger.Error(ctx, err, "keymanager: auto-rotation sweep failed")
		return
	}
	for _, k := range keys {
		if k.Status != domain.KeyActive {
			continue
		}
		if _, err := m.Rotate(ctx, k.KeyID, cfg.AutoRotationGraceHours); err != nil {
			m.logger.Error(ctx, err, "keymanager: auto-rotate failed", map[string]interface{}{"key_id": k.KeyID})
		}
	}
}
