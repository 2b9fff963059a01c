package store

import (
	"context"
	"errors"

	"github.com/sells-group/catalog-sync/internal/config"
	"github.com/sells-group/catalog-sync/internal/model"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("store: not found")

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status model.JobStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the ingestion pipeline.
// The programs table is the accepted data set; only the publisher writes
// to it. Pending records stage a finished run until approval.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, job *model.Job) error
	UpdateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)

	// Accepted programs
	GetProgram(ctx context.Context, programID string) (*model.Program, error)
	ListPrograms(ctx context.Context, universityID string) ([]model.Program, error)
	UpsertPrograms(ctx context.Context, universityID string, programs []model.Program) error

	// Pending records
	SavePendingRecords(ctx context.Context, records []model.PendingRecord) error
	ListPendingRecords(ctx context.Context, jobID string) ([]model.PendingRecord, error)
	DeletePendingRecords(ctx context.Context, jobID string) error

	// Version history and audit trail (best-effort consumers)
	AppendVersion(ctx context.Context, entry model.VersionEntry) error
	ListVersions(ctx context.Context, programID string) ([]model.VersionEntry, error)
	AppendAudit(ctx context.Context, entry model.AuditEntry) error
	ListAudit(ctx context.Context, entityID string) ([]model.AuditEntry, error)

	Migrate(ctx context.Context) error
	Close() error
}

// New constructs a Store from config. An empty driver defaults to sqlite.
func New(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return NewSQLite(cfg.DatabaseURL)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("store: unknown driver " + cfg.Driver)
	}
}
