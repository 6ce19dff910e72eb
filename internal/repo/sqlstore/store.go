// Package sqlstore implements the repositories on database/sql for postgres (pgx) and sqlite.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ThewitchASarz/sucrityflash/internal/auditexport"
	"github.com/ThewitchASarz/sucrityflash/internal/domain"
	"github.com/ThewitchASarz/sucrityflash/internal/platform/database"
	"github.com/ThewitchASarz/sucrityflash/internal/repo"
)

type Store struct {
	db       *sql.DB
	dialect  Dialect
	exporter auditexport.Exporter
	logger   *slog.Logger
	base     conn
}

type Option func(*Store)

// WithExporter ships every committed audit entry to exporter.
func WithExporter(exporter auditexport.Exporter) Option {
	return func(s *Store) {
		if exporter != nil {
			s.exporter = exporter
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(db *sql.DB, dialect Dialect, opts ...Option) *Store {
	if db == nil {
		return nil
	}
	s := &Store{
		db:       db,
		dialect:  dialect,
		exporter: auditexport.NoopExporter{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.base = conn{db: db, dialect: dialect, onAudit: s.export}
	return s
}

func (s *Store) export(ctx context.Context, entry domain.AuditEntry) {
	if err := s.exporter.Export(ctx, entry); err != nil {
		s.logger.Error("audit export failed", "audit_id", entry.ID, "event_type", entry.EventType, "error", err)
	}
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	return s.db.PingContext(ctx)
}

// InTx runs fn in one transaction. Audit entries appended through the Tx are
// exported only once the transaction commits.
func (s *Store) InTx(ctx context.Context, fn func(tx repo.Tx) error) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	var pending []domain.AuditEntry
	scoped := repos{c: conn{
		db:      sqlTx,
		dialect: s.dialect,
		onAudit: func(_ context.Context, entry domain.AuditEntry) { pending = append(pending, entry) },
	}}
	if err := fn(scoped); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	for _, entry := range pending {
		s.export(ctx, entry)
	}
	return nil
}

func (s *Store) Scopes() repo.ScopeRepository           { return repos{c: s.base}.Scopes() }
func (s *Store) Runs() repo.RunRepository               { return repos{c: s.base}.Runs() }
func (s *Store) Actions() repo.ActionRepository         { return repos{c: s.base}.Actions() }
func (s *Store) Approvals() repo.ApprovalRepository     { return repos{c: s.base}.Approvals() }
func (s *Store) Evidence() repo.EvidenceRepository      { return repos{c: s.base}.Evidence() }
func (s *Store) Audit() repo.AuditRepository            { return repos{c: s.base}.Audit() }
func (s *Store) ManualTasks() repo.ManualTaskRepository { return repos{c: s.base}.ManualTasks() }
func (s *Store) Findings() repo.FindingRepository       { return repos{c: s.base}.Findings() }

// repos implements repo.Tx over one conn.
type repos struct {
	c conn
}

func (r repos) Scopes() repo.ScopeRepository           { return scopeStore{r.c} }
func (r repos) Runs() repo.RunRepository               { return runStore{r.c} }
func (r repos) Actions() repo.ActionRepository         { return actionStore{r.c} }
func (r repos) Approvals() repo.ApprovalRepository     { return approvalStore{r.c} }
func (r repos) Evidence() repo.EvidenceRepository      { return evidenceStore{r.c} }
func (r repos) Audit() repo.AuditRepository            { return auditStore{r.c} }
func (r repos) ManualTasks() repo.ManualTaskRepository { return manualTaskStore{r.c} }
func (r repos) Findings() repo.FindingRepository       { return findingStore{r.c} }

var _ repo.Store = (*Store)(nil)

// OpenMemory returns a migrated store on a private in-memory sqlite database.
func OpenMemory(ctx context.Context, opts ...Option) (*Store, *sql.DB, error) {
	db, err := database.OpenSQLite(ctx, ":memory:")
	if err != nil {
		return nil, nil, err
	}
	s := New(db, DialectSQLite, opts...)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return s, db, nil
}
