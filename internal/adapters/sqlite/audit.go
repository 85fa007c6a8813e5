// Package sqlite provides the relational audit log §4.3 requires for the
// Key Manager (C3) — an append-only table recording every key lifecycle
// operation. The teacher module used the same driver and connection-setup
// idiom (WAL mode, single-connection pool) against a positions/trades
// schema that belonged to a leveraged single-account futures model; that
// schema has no equivalent in this module's domain (strategy instances
// carry their own position, keyed by strategy id, not by a DB row) so it
// is not carried forward — only the connection-opening and schema-init
// pattern survives, generalized to the audit_log table.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cryptoMegaBot/internal/domain"
	"cryptoMegaBot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// AuditRepository implements the relational audit log backing the Key
// Manager's audit trail.
type AuditRepository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite-backed audit repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository opens (creating if necessary) the SQLite database backing
// the audit log and initializes its schema.
func NewRepository(cfg Config) (*AuditRepository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/trading_bot.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &AuditRepository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite audit log ready", map[string]interface{}{"path": dbPath})
	return repo, nil
}

func (r *AuditRepository) initializeSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS audit_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	action TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	resource_id TEXT NOT NULL,
	details TEXT NOT NULL,
	ip TEXT NOT NULL DEFAULT '',
	severity TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_audit_log_resource ON audit_log(resource_type, resource_id);
`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Write appends one audit record §4.3 requires for every Key Manager
// operation. Sensitive fields are expected to already be masked by the
// caller (internal/keymanager/mask.go) before reaching here.
func (r *AuditRepository) Write(ctx context.Context, rec domain.AuditRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_log (user_id, action, resource_type, resource_id, details, ip, severity, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.UserID, rec.Action, rec.ResourceType, rec.ResourceID, rec.Details, rec.IP, rec.Severity, rec.Status,
	)
	if err != nil {
		return fmt.Errorf("sqlite: write audit record: %w", err)
	}
	return nil
}

// Close releases the underlying database connection.
func (r *AuditRepository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection", nil)
		return r.db.Close()
	}
	return nil
}
