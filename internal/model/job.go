package model

import "time"

// JobStatus is the current state of an ingestion job. Jobs progress through
// the stages in order; FAILED and FAILED_BLOCKED are reachable from any
// stage, and PUBLISHED, FAILED and FAILED_BLOCKED are terminal.
type JobStatus string

const (
	JobQueued         JobStatus = "QUEUED"
	JobFetching       JobStatus = "FETCHING"
	JobParsing        JobStatus = "PARSING"
	JobValidating     JobStatus = "VALIDATING"
	JobDiffing        JobStatus = "DIFFING"
	JobAIVerifying    JobStatus = "AI_VERIFYING"
	JobReadyToPublish JobStatus = "READY_TO_PUBLISH"
	JobPublished      JobStatus = "PUBLISHED"
	JobFailed         JobStatus = "FAILED"
	JobFailedBlocked  JobStatus = "FAILED_BLOCKED"
)

// Terminal reports whether the status ends the job's lifecycle.
func (s JobStatus) Terminal() bool {
	return s == JobPublished || s == JobFailed || s == JobFailedBlocked
}

// Error codes carried on failed jobs.
const (
	CodeBlocked      = "BLOCKED"
	CodeServerError  = "SERVER_ERROR"
	CodeTimeout      = "TIMEOUT"
	CodeNetworkError = "NETWORK_ERROR"
	CodeHTTPError    = "HTTP_ERROR"
	CodeValidation   = "VALIDATION_ERROR"
	CodeNoLocations  = "NO_LOCATIONS"
	CodeInvalidState = "INVALID_STATE"
	CodeUnknown      = "UNKNOWN"
)

// JobError is the structured failure recorded on a job document. Blocked
// errors tell an operator that retrying is pointless without intervention.
type JobError struct {
	Message   string `json:"message"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
	Blocked   bool   `json:"blocked"`
}

func (e *JobError) Error() string {
	return e.Message
}

// Job tracks the lifecycle of one ingestion run for a university.
type Job struct {
	ID             string    `json:"id"`
	UniversityID   string    `json:"university_id"`
	UniversityName string    `json:"university_name"`
	Country        Country   `json:"country"`
	Status         JobStatus `json:"status"`

	Locations []string `json:"locations"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	URLsFetched   []string `json:"urls_fetched"`
	ProgramsFound int      `json:"programs_found"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`

	Error *JobError `json:"error,omitempty"`
}
