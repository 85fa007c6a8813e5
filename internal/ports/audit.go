package ports

import (
	"context"

	"cryptoMegaBot/internal/domain"
)

// AuditLogger persists the Key Manager's append-only audit trail (§4.3).
type AuditLogger interface {
	Write(ctx context.Context, rec domain.AuditRecord) error
}
