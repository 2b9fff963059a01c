package job

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-sync/internal/config"
	"github.com/sells-group/catalog-sync/internal/fetcher"
	"github.com/sells-group/catalog-sync/internal/model"
	"github.com/sells-group/catalog-sync/internal/pipeline"
	"github.com/sells-group/catalog-sync/internal/resilience"
	"github.com/sells-group/catalog-sync/internal/store"
	"github.com/sells-group/catalog-sync/pkg/verify"
)

// ErrInvalidState is returned when an operation is attempted against a job
// whose current status does not permit it.
var ErrInvalidState = errors.New("job: invalid state for operation")

// ExecOptions control how a job run concludes.
type ExecOptions struct {
	// AutoPublish skips the manual approval gate and publishes directly.
	AutoPublish bool
	// CreatedBy is recorded as the approver when auto-publishing.
	CreatedBy string
}

// Manager drives jobs through the ingestion lifecycle:
//
//	QUEUED → FETCHING → PARSING → VALIDATING → DIFFING → AI_VERIFYING
//	       → READY_TO_PUBLISH → PUBLISHED
//
// with FAILED and FAILED_BLOCKED reachable from any stage. A finished run
// stages its programs as pending records; nothing touches the accepted data
// set until an operator approves.
type Manager struct {
	cfg       *config.Config
	store     store.Store
	fetcher   *fetcher.Fetcher
	parser    *pipeline.Parser
	validator *pipeline.Validator
	diff      *pipeline.DiffEngine
	verifier  *pipeline.Verifier
	publisher *pipeline.Publisher
}

// NewManager wires the pipeline stages from configuration.
func NewManager(cfg *config.Config, st store.Store) *Manager {
	var client verify.Client
	if cfg.AI.Enabled && cfg.AI.APIKey != "" {
		client = verify.NewClient(cfg.AI.APIKey, cfg.AI.Model)
	}

	return &Manager{
		cfg:       cfg,
		store:     st,
		fetcher:   fetcher.New(cfg.Fetch),
		parser:    pipeline.NewParser(),
		validator: pipeline.NewValidator(),
		diff:      pipeline.NewDiffEngine(cfg.Review),
		verifier:  pipeline.NewVerifier(client, cfg.Review.ConfidenceThreshold),
		publisher: pipeline.NewPublisher(st),
	}
}

// CreateJob registers a new queued job for a university. The job is persisted
// immediately so its status is visible before the worker picks it up.
func (m *Manager) CreateJob(ctx context.Context, universityName string, country model.Country, urls []string, createdBy string) (*model.Job, error) {
	now := time.Now().UTC()
	job := &model.Job{
		ID:             "job_" + uuid.New().String(),
		UniversityID:   model.SubjectID(universityName),
		UniversityName: universityName,
		Country:        country,
		Status:         model.JobQueued,
		Locations:      urls,
		MaxRetries:     m.cfg.Fetch.MaxRetries,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := m.store.CreateJob(ctx, job); err != nil {
		return nil, eris.Wrapf(err, "job: create %s", job.ID)
	}

	m.audit(ctx, model.NewAuditEntry(model.AuditJobCreated, "job", job.ID, createdBy))

	zap.L().Info("job created",
		zap.String("job_id", job.ID),
		zap.String("university", universityName),
		zap.Int("urls", len(urls)),
	)
	return job, nil
}

// Execute runs one job through every pipeline stage. The job's status is
// persisted at each transition so observers see progress in near real time.
// The returned error reflects the failure already recorded on the job.
func (m *Manager) Execute(ctx context.Context, job *model.Job, opts ExecOptions) error {
	if t := m.cfg.Job.Timeout(); t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	start := time.Now()

	if len(job.Locations) == 0 {
		err := &model.JobError{
			Message:   "no locations configured for university " + job.UniversityName,
			Code:      model.CodeNoLocations,
			Retryable: false,
		}
		m.fail(ctx, job, err)
		return err
	}

	// Fetch
	m.setStatus(ctx, job, model.JobFetching)
	zap.L().Info("fetch phase", zap.String("job_id", job.ID), zap.Int("urls", len(job.Locations)))

	results, err := m.fetcher.FetchMany(ctx, job.Locations)
	for _, r := range results {
		job.URLsFetched = append(job.URLsFetched, r.URL)
	}
	if err != nil {
		jerr := m.classify(err)
		m.fail(ctx, job, jerr)
		return jerr
	}

	// Parse
	m.setStatus(ctx, job, model.JobParsing)
	parseResult := m.parser.Parse(results, job.UniversityName, job.Country)
	programs := parseResult.Programs
	job.ProgramsFound = len(programs)
	if len(programs) == 0 {
		// Not a failure: the pages may simply carry no program data.
		zap.L().Warn("no programs found after parsing", zap.String("job_id", job.ID))
	}

	// Validate
	m.setStatus(ctx, job, model.JobValidating)
	validation := m.validator.Validate(programs)
	programs = validation.Valid
	if len(validation.Invalid) > 0 {
		zap.L().Warn("programs dropped by validation",
			zap.String("job_id", job.ID),
			zap.Int("dropped", len(validation.Invalid)),
		)
	}

	// Diff against the accepted data set
	m.setStatus(ctx, job, model.JobDiffing)
	previous, err := m.store.ListPrograms(ctx, job.UniversityID)
	if err != nil {
		zap.L().Warn("could not load previous programs, treating all as new",
			zap.String("university_id", job.UniversityID),
			zap.Error(err),
		)
		previous = nil
	}
	previous = activePrograms(previous)
	diffResult := m.diff.Compute(job.ID, job.UniversityID, previous, programs)
	m.audit(ctx, model.NewAuditEntry(model.AuditDiffComputed, "job", job.ID, ""))

	// Secondary verification
	if m.cfg.AI.Enabled {
		m.setStatus(ctx, job, model.JobAIVerifying)
		verified := m.verifier.Verify(ctx, programs, diffResult.ProgramDiffs)
		programs = verified.Programs
		if len(verified.ManualReview) > 0 {
			zap.L().Warn("verification flagged programs for review",
				zap.String("job_id", job.ID),
				zap.Int("flagged", len(verified.ManualReview)),
			)
		}
	}

	// Stage the run for approval
	if err := m.stagePending(ctx, job, programs, previous, &diffResult); err != nil {
		jerr := &model.JobError{Message: err.Error(), Code: model.CodeUnknown, Retryable: true}
		m.fail(ctx, job, jerr)
		return jerr
	}

	if opts.AutoPublish {
		if err := m.publishPending(ctx, job, opts.CreatedBy, nil); err != nil {
			jerr := &model.JobError{Message: err.Error(), Code: model.CodeUnknown, Retryable: true}
			m.fail(ctx, job, jerr)
			return jerr
		}
	} else {
		m.setStatus(ctx, job, model.JobReadyToPublish)
		zap.L().Info("job ready for manual review",
			zap.String("job_id", job.ID),
			zap.Int("programs", len(programs)),
			zap.Int("requires_review", diffResult.Summary.RequiresReview),
		)
	}

	zap.L().Info("job execution complete",
		zap.String("job_id", job.ID),
		zap.String("status", string(job.Status)),
		zap.Duration("duration", time.Since(start)),
		zap.Int("programs_found", job.ProgramsFound),
	)
	return nil
}

// ApproveAndPublish promotes a job's staged records into the accepted data
// set. Only jobs in READY_TO_PUBLISH can be approved; anything else is an
// invalid-state error. When programIDs is non-empty, only those records are
// published and the rest are discarded with the job.
func (m *Manager) ApproveAndPublish(ctx context.Context, jobID, approvedBy string, programIDs []string) (*model.Job, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "job: load %s", jobID)
	}

	if job.Status != model.JobReadyToPublish {
		return nil, eris.Wrapf(ErrInvalidState,
			"job %s is not ready to publish (status %s)", jobID, job.Status)
	}

	if err := m.publishPending(ctx, job, approvedBy, programIDs); err != nil {
		return nil, err
	}

	zap.L().Info("job approved and published",
		zap.String("job_id", jobID),
		zap.String("approved_by", approvedBy),
	)
	return job, nil
}

// publishPending publishes the job's pending records and moves the job to
// PUBLISHED. The pending records are removed afterwards; a failure to remove
// them is logged but does not undo the publish.
func (m *Manager) publishPending(ctx context.Context, job *model.Job, approvedBy string, programIDs []string) error {
	records, err := m.store.ListPendingRecords(ctx, job.ID)
	if err != nil {
		return eris.Wrapf(err, "job: list pending records for %s", job.ID)
	}

	wanted := make(map[string]bool, len(programIDs))
	for _, id := range programIDs {
		wanted[id] = true
	}

	programs := make([]model.Program, 0, len(records))
	for _, rec := range records {
		if len(wanted) > 0 && !wanted[rec.Program.ID] {
			continue
		}
		programs = append(programs, rec.Program)
	}

	err = m.publisher.Publish(ctx, job.UniversityID, programs, pipeline.PublishOptions{
		CreateVersionHistory: true,
		UpdateAuditLog:       true,
		ApprovedBy:           approvedBy,
	})
	if err != nil {
		return eris.Wrapf(err, "job: publish %s", job.ID)
	}

	if err := m.store.DeletePendingRecords(ctx, job.ID); err != nil {
		zap.L().Error("failed to clear pending records after publish",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
	}

	m.setStatus(ctx, job, model.JobPublished)
	m.audit(ctx, model.NewAuditEntry(model.AuditJobCompleted, "job", job.ID, approvedBy))
	return nil
}

// stagePending replaces the job's pending records with the run's output.
// Programs missing from the new snapshot are staged as deletion tombstones
// so an approval carries the removals too.
func (m *Manager) stagePending(ctx context.Context, job *model.Job, programs, previous []model.Program, diffResult *model.DiffResult) error {
	diffByID := make(map[string]*model.ProgramDiff, len(diffResult.ProgramDiffs))
	for i := range diffResult.ProgramDiffs {
		diffByID[diffResult.ProgramDiffs[i].ProgramID] = &diffResult.ProgramDiffs[i]
	}
	prevByID := make(map[string]*model.Program, len(previous))
	for i := range previous {
		prevByID[previous[i].ID] = &previous[i]
	}

	now := time.Now().UTC()
	records := make([]model.PendingRecord, 0, len(programs))
	for i := range programs {
		d := diffByID[programs[i].ID]
		rec := model.PendingRecord{
			ID:           uuid.New().String(),
			JobID:        job.ID,
			UniversityID: job.UniversityID,
			Program:      *programs[i].Clone(),
			Diff:         d,
			CreatedAt:    now,
		}
		if d != nil {
			rec.RequiresReview = d.RequiresReview
		}
		records = append(records, rec)
	}

	for _, d := range diffResult.ProgramDiffs {
		if !d.IsDeleted {
			continue
		}
		prev := prevByID[d.ProgramID]
		if prev == nil {
			continue
		}
		tombstone := prev.Clone()
		tombstone.IsDeleted = true
		dd := d
		records = append(records, model.PendingRecord{
			ID:             uuid.New().String(),
			JobID:          job.ID,
			UniversityID:   job.UniversityID,
			Program:        *tombstone,
			Diff:           &dd,
			RequiresReview: true,
			CreatedAt:      now,
		})
	}

	if err := m.store.DeletePendingRecords(ctx, job.ID); err != nil {
		return eris.Wrapf(err, "job: clear stale pending records for %s", job.ID)
	}
	if err := m.store.SavePendingRecords(ctx, records); err != nil {
		return eris.Wrapf(err, "job: stage pending records for %s", job.ID)
	}
	return nil
}

// activePrograms drops published deletion tombstones from a stored
// snapshot. Without this an already-deleted program would be re-reported
// as deleted on every subsequent run, re-flagged for review, and bumped
// to a new version on every approval.
func activePrograms(programs []model.Program) []model.Program {
	active := make([]model.Program, 0, len(programs))
	for i := range programs {
		if !programs[i].IsDeleted {
			active = append(active, programs[i])
		}
	}
	return active
}

// setStatus advances the job and persists it. Persistence failures are
// logged rather than propagated: the in-memory job remains authoritative
// for the rest of the run.
func (m *Manager) setStatus(ctx context.Context, job *model.Job, status model.JobStatus) {
	now := time.Now().UTC()
	job.Status = status
	job.UpdatedAt = now

	if status == model.JobFetching && job.StartedAt == nil {
		job.StartedAt = &now
	}
	if status.Terminal() {
		job.CompletedAt = &now
	}

	if err := m.store.UpdateJob(ctx, job); err != nil {
		zap.L().Error("failed to persist job status",
			zap.String("job_id", job.ID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

// fail records a structured failure on the job. Blocked errors land in
// FAILED_BLOCKED so operators know retrying needs intervention first.
func (m *Manager) fail(ctx context.Context, job *model.Job, jerr *model.JobError) {
	now := time.Now().UTC()
	job.Error = jerr

	status := model.JobFailed
	if jerr.Blocked {
		status = model.JobFailedBlocked
	} else {
		job.FailedAt = &now
	}
	m.setStatus(ctx, job, status)

	m.audit(ctx, model.NewAuditEntry(model.AuditJobFailed, "job", job.ID, ""))

	zap.L().Error("job failed",
		zap.String("job_id", job.ID),
		zap.String("code", jerr.Code),
		zap.Bool("blocked", jerr.Blocked),
		zap.String("message", jerr.Message),
	)
}

// classify converts a pipeline error into the structured form stored on the
// job document.
func (m *Manager) classify(err error) *model.JobError {
	if fe := resilience.AsFetchError(err); fe != nil {
		return fe.JobError()
	}
	return &model.JobError{
		Message:   err.Error(),
		Code:      model.CodeUnknown,
		Retryable: true,
	}
}

// audit records a best-effort audit entry.
func (m *Manager) audit(ctx context.Context, entry model.AuditEntry) {
	if err := m.store.AppendAudit(ctx, entry); err != nil {
		zap.L().Warn("audit append failed",
			zap.String("action", string(entry.Action)),
			zap.String("entity_id", entry.EntityID),
			zap.Error(err),
		)
	}
}
