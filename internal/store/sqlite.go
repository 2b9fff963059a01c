package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/catalog-sync/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Documents are kept
// whole as JSON text; the columns alongside exist only for lookups.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = "catalog.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	university_id TEXT NOT NULL,
	status        TEXT NOT NULL,
	doc           TEXT NOT NULL,
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS programs (
	id            TEXT PRIMARY KEY,
	university_id TEXT NOT NULL,
	doc           TEXT NOT NULL,
	updated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS pending_records (
	id         TEXT PRIMARY KEY,
	job_id     TEXT NOT NULL,
	doc        TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS program_versions (
	program_id TEXT NOT NULL,
	version    INTEGER NOT NULL,
	doc        TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (program_id, version)
);

CREATE TABLE IF NOT EXISTS audit_log (
	id         TEXT PRIMARY KEY,
	entity_id  TEXT NOT NULL,
	doc        TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_university_id ON jobs(university_id);
CREATE INDEX IF NOT EXISTS idx_programs_university_id ON programs(university_id);
CREATE INDEX IF NOT EXISTS idx_pending_records_job_id ON pending_records(job_id);
CREATE INDEX IF NOT EXISTS idx_audit_log_entity_id ON audit_log(entity_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.Job) error {
	doc, err := json.Marshal(job)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal job")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, university_id, status, doc, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.UniversityID, string(job.Status), string(doc), job.CreatedAt, job.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert job %s", job.ID)
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, job *model.Job) error {
	doc, err := json.Marshal(job)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal job")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, doc = ?, updated_at = ? WHERE id = ?`,
		string(job.Status), string(doc), job.UpdatedAt, job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job %s", job.ID)
	}
	return checkRowsAffected(res, "job", job.ID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM jobs WHERE id = ?`, jobID).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", jobID)
	}
	var job model.Job
	if err := json.Unmarshal([]byte(doc), &job); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal job")
	}
	return &job, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT doc FROM jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		var job model.Job
		if err := json.Unmarshal([]byte(doc), &job); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal job")
		}
		jobs = append(jobs, job)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) GetProgram(ctx context.Context, programID string) (*model.Program, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM programs WHERE id = ?`, programID).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get program %s", programID)
	}
	var p model.Program
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal program")
	}
	return &p, nil
}

func (s *SQLiteStore) ListPrograms(ctx context.Context, universityID string) ([]model.Program, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM programs WHERE university_id = ? ORDER BY id`,
		universityID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list programs for %s", universityID)
	}
	defer rows.Close()

	var programs []model.Program
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan program")
		}
		var p model.Program
		if err := json.Unmarshal([]byte(doc), &p); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal program")
		}
		programs = append(programs, p)
	}
	return programs, eris.Wrap(rows.Err(), "sqlite: list programs iterate")
}

func (s *SQLiteStore) UpsertPrograms(ctx context.Context, universityID string, programs []model.Program) error {
	if len(programs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin upsert tx")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for i := range programs {
		doc, err := json.Marshal(&programs[i])
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal program %s", programs[i].ID)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO programs (id, university_id, doc, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
			programs[i].ID, universityID, string(doc), now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert program %s", programs[i].ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit upsert tx")
}

func (s *SQLiteStore) SavePendingRecords(ctx context.Context, records []model.PendingRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin pending tx")
	}
	defer tx.Rollback()

	for i := range records {
		doc, err := json.Marshal(&records[i])
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal pending record %s", records[i].ID)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO pending_records (id, job_id, doc, created_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET doc = excluded.doc`,
			records[i].ID, records[i].JobID, string(doc), records[i].CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert pending record %s", records[i].ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit pending tx")
}

func (s *SQLiteStore) ListPendingRecords(ctx context.Context, jobID string) ([]model.PendingRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM pending_records WHERE job_id = ? ORDER BY id`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list pending records for %s", jobID)
	}
	defer rows.Close()

	var records []model.PendingRecord
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pending record")
		}
		var rec model.PendingRecord
		if err := json.Unmarshal([]byte(doc), &rec); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal pending record")
		}
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list pending records iterate")
}

func (s *SQLiteStore) DeletePendingRecords(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_records WHERE job_id = ?`, jobID)
	return eris.Wrapf(err, "sqlite: delete pending records for %s", jobID)
}

func (s *SQLiteStore) AppendVersion(ctx context.Context, entry model.VersionEntry) error {
	doc, err := json.Marshal(entry)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal version entry")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO program_versions (program_id, version, doc, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (program_id, version) DO NOTHING`,
		entry.ProgramID, entry.Version, string(doc), entry.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: append version %d for %s", entry.Version, entry.ProgramID)
}

func (s *SQLiteStore) ListVersions(ctx context.Context, programID string) ([]model.VersionEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM program_versions WHERE program_id = ? ORDER BY version`,
		programID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list versions for %s", programID)
	}
	defer rows.Close()

	var entries []model.VersionEntry
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan version entry")
		}
		var e model.VersionEntry
		if err := json.Unmarshal([]byte(doc), &e); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal version entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list versions iterate")
}

func (s *SQLiteStore) AppendAudit(ctx context.Context, entry model.AuditEntry) error {
	doc, err := json.Marshal(entry)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal audit entry")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, entity_id, doc, created_at) VALUES (?, ?, ?, ?)`,
		entry.ID, entry.EntityID, string(doc), entry.Timestamp,
	)
	return eris.Wrapf(err, "sqlite: append audit %s", entry.ID)
}

func (s *SQLiteStore) ListAudit(ctx context.Context, entityID string) ([]model.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM audit_log WHERE entity_id = ? ORDER BY created_at`,
		entityID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list audit for %s", entityID)
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audit entry")
		}
		var e model.AuditEntry
		if err := json.Unmarshal([]byte(doc), &e); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal audit entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list audit iterate")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}
