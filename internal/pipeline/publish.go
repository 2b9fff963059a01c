package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-sync/internal/model"
	"github.com/sells-group/catalog-sync/internal/store"
)

// publishBatchSize caps how many programs go into one write batch.
const publishBatchSize = 500

// PublishOptions controls the side channels of a publish.
type PublishOptions struct {
	CreateVersionHistory bool
	UpdateAuditLog       bool
	ApprovedBy           string
}

// Publisher writes approved programs to the accepted data set. It is the
// only component that writes there; every other stage reads at most.
type Publisher struct {
	store store.Store
}

// NewPublisher creates a Publisher.
func NewPublisher(st store.Store) *Publisher {
	return &Publisher{store: st}
}

// Publish writes programs in batches, bumping each program's version past
// the currently accepted one. Version history and audit entries are
// best-effort; their failure never fails the publish.
func (p *Publisher) Publish(ctx context.Context, universityID string, programs []model.Program, opts PublishOptions) error {
	log := zap.L().Named("publisher")
	start := time.Now()

	published := 0
	for offset := 0; offset < len(programs); offset += publishBatchSize {
		end := offset + publishBatchSize
		if end > len(programs) {
			end = len(programs)
		}
		batch := programs[offset:end]

		prepared := make([]model.Program, len(batch))
		for i := range batch {
			now := time.Now().UTC()
			prepared[i] = *batch[i].Clone()
			prepared[i].Version = p.nextVersion(ctx, prepared[i].ID)
			prepared[i].UpdatedAt = now
			prepared[i].PublishedAt = &now
			prepared[i].PublishedBy = opts.ApprovedBy
		}

		if err := p.store.UpsertPrograms(ctx, universityID, prepared); err != nil {
			return eris.Wrapf(err, "publisher: batch at offset %d", offset)
		}
		published += len(prepared)

		log.Info("published batch",
			zap.Int("batch_start", offset),
			zap.Int("batch_size", len(prepared)),
			zap.Int("total_programs", len(programs)))

		for i := range prepared {
			if opts.CreateVersionHistory {
				p.appendVersion(ctx, &prepared[i])
			}
			if opts.UpdateAuditLog {
				p.appendAudit(ctx, &prepared[i], opts.ApprovedBy)
			}
		}
	}

	log.Info("publish complete",
		zap.String("university_id", universityID),
		zap.Int("published", published),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// nextVersion returns one past the accepted version, or 1 for a new program.
func (p *Publisher) nextVersion(ctx context.Context, programID string) int {
	existing, err := p.store.GetProgram(ctx, programID)
	if err != nil {
		if !eris.Is(err, store.ErrNotFound) {
			zap.L().Named("publisher").Warn("failed to look up current version",
				zap.String("program_id", programID), zap.Error(err))
		}
		return 1
	}
	return existing.Version + 1
}

func (p *Publisher) appendVersion(ctx context.Context, program *model.Program) {
	entry := model.VersionEntry{
		ProgramID: program.ID,
		Version:   program.Version,
		Program:   program,
		CreatedAt: time.Now().UTC(),
	}
	if err := p.store.AppendVersion(ctx, entry); err != nil {
		zap.L().Named("publisher").Error("failed to create version history",
			zap.String("program_id", program.ID),
			zap.Int("version", program.Version),
			zap.Error(err))
	}
}

func (p *Publisher) appendAudit(ctx context.Context, program *model.Program, approvedBy string) {
	entry := model.NewAuditEntry(model.AuditDataPublished, "program", program.ID, approvedBy)
	entry.Details = map[string]any{
		"program_name":    program.ProgramName.Value,
		"university_name": program.UniversityName.Value,
		"version":         program.Version,
	}
	if err := p.store.AppendAudit(ctx, entry); err != nil {
		zap.L().Named("publisher").Error("failed to create audit log entry",
			zap.String("program_id", program.ID),
			zap.Error(err))
	}
}
