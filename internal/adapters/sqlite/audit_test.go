package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoMegaBot/internal/adapters/logger"
	"cryptoMegaBot/internal/adapters/sqlite"
	"cryptoMegaBot/internal/domain"
)

func newTestRepo(t *testing.T) *sqlite.AuditRepository {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "audit.db")
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: dbPath, Logger: logger.NewStdLogger(logger.LevelError)})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestAuditRepository_WritePersistsRecord(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rec := domain.AuditRecord{
		UserID:       "user-1",
		Action:       "rotate",
		ResourceType: "api_key",
		ResourceID:   "key-1",
		Details:      `{"grace_hours":1}`,
		IP:           "10.0.0.1",
		Severity:     domain.SeverityNormal,
		Status:       "success",
	}
	require.NoError(t, repo.Write(ctx, rec))
}

func TestAuditRepository_WriteMultipleRecordsIndependent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec := domain.AuditRecord{
			UserID:       "user-1",
			Action:       "validate",
			ResourceType: "api_key",
			ResourceID:   "key-1",
			Details:      "{}",
			Severity:     domain.SeverityNormal,
			Status:       "success",
		}
		assert.NoError(t, repo.Write(ctx, rec))
	}
}

func TestAuditRepository_WriteHighSeverity(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rec := domain.AuditRecord{
		UserID:       "user-2",
		Action:       "mark_compromised",
		ResourceType: "api_key",
		ResourceID:   "key-2",
		Details:      "{}",
		Severity:     domain.SeverityCritical,
		Status:       "success",
	}
	require.NoError(t, repo.Write(ctx, rec))
}
