package model

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction enumerates the significant actions recorded in the audit log.
type AuditAction string

const (
	AuditJobCreated    AuditAction = "job_created"
	AuditJobStarted    AuditAction = "job_started"
	AuditJobCompleted  AuditAction = "job_completed"
	AuditJobFailed     AuditAction = "job_failed"
	AuditDiffComputed  AuditAction = "diff_computed"
	AuditAIVerified    AuditAction = "ai_verified"
	AuditDataPublished AuditAction = "data_published"
	AuditManualReview  AuditAction = "manual_review"
)

// AuditEntry records one significant action. Entries are best-effort:
// a lost entry never fails the action it describes.
type AuditEntry struct {
	ID         string         `json:"id"`
	Action     AuditAction    `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Actor      string         `json:"actor"`
	ActorID    string         `json:"actor_id,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Severity   string         `json:"severity"`
}

// NewAuditEntry builds an info-severity audit entry with a fresh ID.
func NewAuditEntry(action AuditAction, entityType, entityID, actorID string) AuditEntry {
	actor := "user"
	if actorID == "" || actorID == "system" {
		actor = "system"
	}
	return AuditEntry{
		ID:         uuid.New().String(),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Actor:      actor,
		ActorID:    actorID,
		Timestamp:  time.Now().UTC(),
		Severity:   "info",
	}
}

// VersionEntry is one immutable snapshot of a published program.
type VersionEntry struct {
	ProgramID string    `json:"program_id"`
	Version   int       `json:"version"`
	Program   *Program  `json:"program"`
	CreatedAt time.Time `json:"created_at"`
}
