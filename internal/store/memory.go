package store

import (
	"context"
	"sort"
	"sync"

	"github.com/sells-group/catalog-sync/internal/model"
)

// MemoryStore is an in-process Store used by unit tests and the "memory"
// driver. All methods copy on the way in and out so callers never share
// mutable state with the store.
type MemoryStore struct {
	mu         sync.RWMutex
	jobs       map[string]model.Job
	programs   map[string]model.Program
	programUni map[string]string // program ID -> university ID
	pending    map[string]model.PendingRecord
	versions   []model.VersionEntry
	audit      []model.AuditEntry
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		jobs:       make(map[string]model.Job),
		programs:   make(map[string]model.Program),
		programUni: make(map[string]string),
		pending:    make(map[string]model.PendingRecord),
	}
}

func (s *MemoryStore) Migrate(ctx context.Context) error { return nil }
func (s *MemoryStore) Close() error                      { return nil }

func (s *MemoryStore) CreateJob(ctx context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = *job
	return nil
}

func (s *MemoryStore) UpdateJob(ctx context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return ErrNotFound
	}
	s.jobs[job.ID] = *job
	return nil
}

func (s *MemoryStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return &job, nil
}

func (s *MemoryStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var jobs []model.Job
	for _, job := range s.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(jobs) {
			return nil, nil
		}
		jobs = jobs[filter.Offset:]
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *MemoryStore) GetProgram(ctx context.Context, programID string) (*model.Program, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.programs[programID]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) ListPrograms(ctx context.Context, universityID string) ([]model.Program, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var programs []model.Program
	for id, p := range s.programs {
		if s.programUni[id] != universityID {
			continue
		}
		programs = append(programs, *p.Clone())
	}
	sort.Slice(programs, func(i, j int) bool { return programs[i].ID < programs[j].ID })
	return programs, nil
}

func (s *MemoryStore) UpsertPrograms(ctx context.Context, universityID string, programs []model.Program) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range programs {
		s.programs[programs[i].ID] = *programs[i].Clone()
		s.programUni[programs[i].ID] = universityID
	}
	return nil
}

func (s *MemoryStore) SavePendingRecords(ctx context.Context, records []model.PendingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		s.pending[rec.ID] = rec
	}
	return nil
}

func (s *MemoryStore) ListPendingRecords(ctx context.Context, jobID string) ([]model.PendingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var records []model.PendingRecord
	for _, rec := range s.pending {
		if rec.JobID == jobID {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

func (s *MemoryStore) DeletePendingRecords(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range s.pending {
		if rec.JobID == jobID {
			delete(s.pending, id)
		}
	}
	return nil
}

func (s *MemoryStore) AppendVersion(ctx context.Context, entry model.VersionEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions = append(s.versions, entry)
	return nil
}

func (s *MemoryStore) ListVersions(ctx context.Context, programID string) ([]model.VersionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var entries []model.VersionEntry
	for _, e := range s.versions {
		if e.ProgramID == programID {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Version < entries[j].Version })
	return entries, nil
}

func (s *MemoryStore) AppendAudit(ctx context.Context, entry model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
	return nil
}

func (s *MemoryStore) ListAudit(ctx context.Context, entityID string) ([]model.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var entries []model.AuditEntry
	for _, e := range s.audit {
		if e.EntityID == entityID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}
