package ports

import (
	"context"

	"cryptoMegaBot/internal/domain"
)

// RequestCtx carries the caller context the Key Manager needs for IP
// restriction checks and audit attribution.
type RequestCtx struct {
	ClientIP string
}

// KeyManager is the Key Manager's (C3) external operation set, per §4.3.
type KeyManager interface {
	Create(ctx context.Context, userID, venue string, permissions []string, ttlDays int, requireApproval bool) (*domain.APIKey, error)
	Rotate(ctx context.Context, keyID string, graceHours int) (*domain.APIKey, error)
	Revoke(ctx context.Context, keyID, reason string) error
	MarkCompromised(ctx context.Context, keyID, details string) error
	Validate(ctx context.Context, material string, rc RequestCtx) (bool, *domain.APIKey, error)
	Expiring(ctx context.Context, windowDays int) ([]*domain.APIKey, error)
	ProcessExpired(ctx context.Context) (int, error)
}
