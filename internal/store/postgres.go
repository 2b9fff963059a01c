package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-sync/internal/db"
	"github.com/sells-group/catalog-sync/internal/model"
)

// PostgresStore implements Store using pgxpool. Layout mirrors the SQLite
// store: whole documents in JSONB with lookup columns alongside.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	university_id TEXT NOT NULL,
	status        TEXT NOT NULL,
	doc           JSONB NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS programs (
	id            TEXT PRIMARY KEY,
	university_id TEXT NOT NULL,
	doc           JSONB NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS pending_records (
	id         TEXT PRIMARY KEY,
	job_id     TEXT NOT NULL,
	doc        JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS program_versions (
	program_id TEXT NOT NULL,
	version    INTEGER NOT NULL,
	doc        JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (program_id, version)
);

CREATE TABLE IF NOT EXISTS audit_log (
	id         TEXT PRIMARY KEY,
	entity_id  TEXT NOT NULL,
	doc        JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_university_id ON jobs(university_id);
CREATE INDEX IF NOT EXISTS idx_programs_university_id ON programs(university_id);
CREATE INDEX IF NOT EXISTS idx_pending_records_job_id ON pending_records(job_id);
CREATE INDEX IF NOT EXISTS idx_audit_log_entity_id ON audit_log(entity_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Pool returns the underlying database pool for use by subsystems that
// need direct SQL access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.Job) error {
	doc, err := json.Marshal(job)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal job")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, university_id, status, doc, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, job.UniversityID, string(job.Status), doc, job.CreatedAt, job.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: insert job %s", job.ID)
}

func (s *PostgresStore) UpdateJob(ctx context.Context, job *model.Job) error {
	doc, err := json.Marshal(job)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal job")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, doc = $2, updated_at = $3 WHERE id = $4`,
		string(job.Status), doc, job.UpdatedAt, job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job %s", job.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job %s", job.ID)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM jobs WHERE id = $1`, jobID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}
	var job model.Job
	if err := json.Unmarshal(doc, &job); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal job")
	}
	return &job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT doc FROM jobs`
	var args []any

	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		var job model.Job
		if err := json.Unmarshal(doc, &job); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal job")
		}
		jobs = append(jobs, job)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) GetProgram(ctx context.Context, programID string) (*model.Program, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM programs WHERE id = $1`, programID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get program %s", programID)
	}
	var p model.Program
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal program")
	}
	return &p, nil
}

func (s *PostgresStore) ListPrograms(ctx context.Context, universityID string) ([]model.Program, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM programs WHERE university_id = $1 ORDER BY id`,
		universityID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list programs for %s", universityID)
	}
	defer rows.Close()

	var programs []model.Program
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "postgres: scan program")
		}
		var p model.Program
		if err := json.Unmarshal(doc, &p); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal program")
		}
		programs = append(programs, p)
	}
	return programs, eris.Wrap(rows.Err(), "postgres: list programs iterate")
}

// UpsertPrograms writes a publish batch through the shared bulk-upsert path:
// COPY into a temp table, then INSERT ... ON CONFLICT into programs.
func (s *PostgresStore) UpsertPrograms(ctx context.Context, universityID string, programs []model.Program) error {
	if len(programs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([][]any, 0, len(programs))
	for i := range programs {
		doc, err := json.Marshal(&programs[i])
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal program %s", programs[i].ID)
		}
		rows = append(rows, []any{programs[i].ID, universityID, string(doc), now})
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "programs",
		Columns:      []string{"id", "university_id", "doc", "updated_at"},
		ConflictKeys: []string{"id"},
	}, rows)
	return eris.Wrapf(err, "postgres: upsert programs for %s", universityID)
}

func (s *PostgresStore) SavePendingRecords(ctx context.Context, records []model.PendingRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin pending tx")
	}
	defer tx.Rollback(ctx)

	for i := range records {
		doc, err := json.Marshal(&records[i])
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal pending record %s", records[i].ID)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO pending_records (id, job_id, doc, created_at) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc`,
			records[i].ID, records[i].JobID, doc, records[i].CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert pending record %s", records[i].ID)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit pending tx")
}

func (s *PostgresStore) ListPendingRecords(ctx context.Context, jobID string) ([]model.PendingRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM pending_records WHERE job_id = $1 ORDER BY id`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list pending records for %s", jobID)
	}
	defer rows.Close()

	var records []model.PendingRecord
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "postgres: scan pending record")
		}
		var rec model.PendingRecord
		if err := json.Unmarshal(doc, &rec); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal pending record")
		}
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list pending records iterate")
}

func (s *PostgresStore) DeletePendingRecords(ctx context.Context, jobID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM pending_records WHERE job_id = $1`, jobID)
	return eris.Wrapf(err, "postgres: delete pending records for %s", jobID)
}

func (s *PostgresStore) AppendVersion(ctx context.Context, entry model.VersionEntry) error {
	doc, err := json.Marshal(entry)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal version entry")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO program_versions (program_id, version, doc, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (program_id, version) DO NOTHING`,
		entry.ProgramID, entry.Version, doc, entry.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: append version %d for %s", entry.Version, entry.ProgramID)
}

func (s *PostgresStore) ListVersions(ctx context.Context, programID string) ([]model.VersionEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM program_versions WHERE program_id = $1 ORDER BY version`,
		programID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list versions for %s", programID)
	}
	defer rows.Close()

	var entries []model.VersionEntry
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "postgres: scan version entry")
		}
		var e model.VersionEntry
		if err := json.Unmarshal(doc, &e); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal version entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list versions iterate")
}

func (s *PostgresStore) AppendAudit(ctx context.Context, entry model.AuditEntry) error {
	doc, err := json.Marshal(entry)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal audit entry")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_log (id, entity_id, doc, created_at) VALUES ($1, $2, $3, $4)`,
		entry.ID, entry.EntityID, doc, entry.Timestamp,
	)
	return eris.Wrapf(err, "postgres: append audit %s", entry.ID)
}

func (s *PostgresStore) ListAudit(ctx context.Context, entityID string) ([]model.AuditEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM audit_log WHERE entity_id = $1 ORDER BY created_at`,
		entityID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list audit for %s", entityID)
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit entry")
		}
		var e model.AuditEntry
		if err := json.Unmarshal(doc, &e); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal audit entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list audit iterate")
}
