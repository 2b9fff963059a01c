package job

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-sync/internal/config"
	"github.com/sells-group/catalog-sync/internal/model"
	"github.com/sells-group/catalog-sync/internal/store"
)

const programPage = `<html><head><title>MSc Data Science - Postgraduate Study</title></head>
<body>
<h1>MSc Data Science</h1>
<p>Tuition: $25,000 per year. Application fee: $125.</p>
<p>IELTS: 6.5 overall. TOEFL: 90.</p>
<p>Fall 2030 intake. Deadline: 2030-06-01</p>
</body></html>`

func testConfig() *config.Config {
	return &config.Config{
		Fetch: config.FetchConfig{
			RequestDelayMs:    1,
			TimeoutSecs:       5,
			MaxRetries:        0,
			BackoffMultiplier: 2,
			UserAgents:        []string{"test-agent"},
		},
		Queue:  config.QueueConfig{SubjectDelayMs: 1},
		Review: config.ReviewConfig{ConfidenceThreshold: 70, FinancialDeltaPct: 20},
		AI:     config.AIConfig{Enabled: false},
		Job:    config.JobConfig{TimeoutSecs: 30},
	}
}

func newTestManager(t *testing.T) (*Manager, store.Store) {
	t.Helper()
	st := store.NewMemory()
	t.Cleanup(func() { _ = st.Close() })
	return NewManager(testConfig(), st), st
}

func TestManager_CreateJob(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	job, err := m.CreateJob(ctx, "Example University", model.CountryCanada, []string{"https://uni.example.edu/msc"}, "system")
	require.NoError(t, err)

	assert.Equal(t, model.JobQueued, job.Status)
	assert.Equal(t, "example-university", job.UniversityID)
	assert.Len(t, job.Locations, 1)

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobQueued, got.Status)

	entries, err := st.ListAudit(ctx, job.ID)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, model.AuditJobCreated, entries[0].Action)
}

func TestManager_Execute_NoLocations(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	job, err := m.CreateJob(ctx, "Example University", model.CountryCanada, nil, "system")
	require.NoError(t, err)

	err = m.Execute(ctx, job, ExecOptions{})
	require.Error(t, err)

	assert.Equal(t, model.JobFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, model.CodeNoLocations, job.Error.Code)
	assert.False(t, job.Error.Retryable)
	assert.NotNil(t, job.FailedAt)
	assert.Empty(t, job.URLsFetched)

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, got.Status)
}

func TestManager_Execute_ReadyToPublish(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(programPage))
	}))
	defer srv.Close()

	m, st := newTestManager(t)
	ctx := context.Background()

	job, err := m.CreateJob(ctx, "Example University", model.CountryCanada, []string{srv.URL + "/msc"}, "system")
	require.NoError(t, err)

	require.NoError(t, m.Execute(ctx, job, ExecOptions{}))

	assert.Equal(t, model.JobReadyToPublish, job.Status)
	assert.Equal(t, 1, job.ProgramsFound)
	assert.Equal(t, []string{srv.URL + "/msc"}, job.URLsFetched)
	assert.NotNil(t, job.StartedAt)

	// The run is staged, not published.
	records, err := st.ListPendingRecords(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "example-university-msc-data-science", records[0].Program.ID)

	accepted, err := st.ListPrograms(ctx, "example-university")
	require.NoError(t, err)
	assert.Empty(t, accepted)
}

func TestManager_Execute_BlockedFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	m, st := newTestManager(t)
	ctx := context.Background()

	job, err := m.CreateJob(ctx, "Example University", model.CountryCanada, []string{srv.URL}, "system")
	require.NoError(t, err)

	err = m.Execute(ctx, job, ExecOptions{})
	require.Error(t, err)

	assert.Equal(t, model.JobFailedBlocked, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, model.CodeBlocked, job.Error.Code)
	assert.True(t, job.Error.Blocked)
	assert.False(t, job.Error.Retryable)
	assert.NotNil(t, job.CompletedAt)

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailedBlocked, got.Status)
}

func TestManager_Execute_SkipsFailedURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(programPage))
	}))
	defer srv.Close()

	m, _ := newTestManager(t)
	ctx := context.Background()

	job, err := m.CreateJob(ctx, "Example University", model.CountryCanada,
		[]string{srv.URL + "/missing", srv.URL + "/msc"}, "system")
	require.NoError(t, err)

	require.NoError(t, m.Execute(ctx, job, ExecOptions{}))

	// The 404 is skipped, not fatal; the good page still comes through.
	assert.Equal(t, model.JobReadyToPublish, job.Status)
	assert.Equal(t, []string{srv.URL + "/msc"}, job.URLsFetched)
	assert.Equal(t, 1, job.ProgramsFound)
}

func TestManager_ApproveAndPublish(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(programPage))
	}))
	defer srv.Close()

	m, st := newTestManager(t)
	ctx := context.Background()

	job, err := m.CreateJob(ctx, "Example University", model.CountryCanada, []string{srv.URL}, "system")
	require.NoError(t, err)
	require.NoError(t, m.Execute(ctx, job, ExecOptions{}))

	published, err := m.ApproveAndPublish(ctx, job.ID, "ops@example.com", nil)
	require.NoError(t, err)
	assert.Equal(t, model.JobPublished, published.Status)
	assert.NotNil(t, published.CompletedAt)

	accepted, err := st.ListPrograms(ctx, "example-university")
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Equal(t, 1, accepted[0].Version)

	// Pending records are consumed by the publish.
	records, err := st.ListPendingRecords(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, records)

	versions, err := st.ListVersions(ctx, accepted[0].ID)
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestManager_ApproveAndPublish_InvalidState(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	job, err := m.CreateJob(ctx, "Example University", model.CountryCanada, []string{"https://uni.example.edu"}, "system")
	require.NoError(t, err)

	_, err = m.ApproveAndPublish(ctx, job.ID, "ops@example.com", nil)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrInvalidState))
}

func TestManager_ApproveAndPublish_UnknownJob(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.ApproveAndPublish(context.Background(), "job_does-not-exist", "ops@example.com", nil)
	require.Error(t, err)
	assert.True(t, eris.Is(err, store.ErrNotFound))
}

func TestManager_Execute_StagesDeletionTombstone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(programPage))
	}))
	defer srv.Close()

	m, st := newTestManager(t)
	ctx := context.Background()

	// A previously accepted program that the new snapshot no longer carries.
	now := time.Now().UTC()
	old := model.Program{
		ID:             "example-university-old-program",
		UniversityName: *model.NewField("Example University", model.DirectSource(srv.URL, now)),
		ProgramName:    *model.NewField("Old Program", model.DirectSource(srv.URL, now)),
		Level:          model.LevelPostgraduate,
		Country:        model.CountryCanada,
		Version:        1,
	}
	require.NoError(t, st.UpsertPrograms(ctx, "example-university", []model.Program{old}))

	job, err := m.CreateJob(ctx, "Example University", model.CountryCanada, []string{srv.URL}, "system")
	require.NoError(t, err)
	require.NoError(t, m.Execute(ctx, job, ExecOptions{}))

	records, err := st.ListPendingRecords(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)

	var tombstone *model.PendingRecord
	for i := range records {
		if records[i].Program.ID == old.ID {
			tombstone = &records[i]
		}
	}
	require.NotNil(t, tombstone)
	assert.True(t, tombstone.Program.IsDeleted)
	assert.True(t, tombstone.RequiresReview)
	require.NotNil(t, tombstone.Diff)
	assert.True(t, tombstone.Diff.IsDeleted)

	// Approving carries the removal into the accepted set.
	_, err = m.ApproveAndPublish(ctx, job.ID, "ops@example.com", nil)
	require.NoError(t, err)

	got, err := st.GetProgram(ctx, old.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDeleted)
	assert.Equal(t, 2, got.Version)
}

func TestManager_Execute_DeletionReportedOnlyOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(programPage))
	}))
	defer srv.Close()

	m, st := newTestManager(t)
	ctx := context.Background()

	now := time.Now().UTC()
	old := model.Program{
		ID:             "example-university-old-program",
		UniversityName: *model.NewField("Example University", model.DirectSource(srv.URL, now)),
		ProgramName:    *model.NewField("Old Program", model.DirectSource(srv.URL, now)),
		Level:          model.LevelPostgraduate,
		Country:        model.CountryCanada,
		Version:        1,
	}
	require.NoError(t, st.UpsertPrograms(ctx, "example-university", []model.Program{old}))

	// First run publishes the tombstone.
	first, err := m.CreateJob(ctx, "Example University", model.CountryCanada, []string{srv.URL}, "system")
	require.NoError(t, err)
	require.NoError(t, m.Execute(ctx, first, ExecOptions{}))
	_, err = m.ApproveAndPublish(ctx, first.ID, "ops@example.com", nil)
	require.NoError(t, err)

	published, err := st.GetProgram(ctx, old.ID)
	require.NoError(t, err)
	require.True(t, published.IsDeleted)
	require.Equal(t, 2, published.Version)

	// An unchanged world must not re-report the same deletion.
	second, err := m.CreateJob(ctx, "Example University", model.CountryCanada, []string{srv.URL}, "system")
	require.NoError(t, err)
	require.NoError(t, m.Execute(ctx, second, ExecOptions{}))

	records, err := st.ListPendingRecords(ctx, second.ID)
	require.NoError(t, err)
	for _, rec := range records {
		assert.NotEqual(t, old.ID, rec.Program.ID)
	}

	_, err = m.ApproveAndPublish(ctx, second.ID, "ops@example.com", nil)
	require.NoError(t, err)

	got, err := st.GetProgram(ctx, old.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDeleted)
	assert.Equal(t, 2, got.Version)
}

func TestManager_Execute_AutoPublish(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(programPage))
	}))
	defer srv.Close()

	m, st := newTestManager(t)
	ctx := context.Background()

	job, err := m.CreateJob(ctx, "Example University", model.CountryCanada, []string{srv.URL}, "system")
	require.NoError(t, err)
	require.NoError(t, m.Execute(ctx, job, ExecOptions{AutoPublish: true, CreatedBy: "scheduler"}))

	assert.Equal(t, model.JobPublished, job.Status)

	accepted, err := st.ListPrograms(ctx, "example-university")
	require.NoError(t, err)
	assert.Len(t, accepted, 1)
}

func TestManager_ApproveAndPublish_FilterByProgramID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(programPage))
	}))
	defer srv.Close()

	m, st := newTestManager(t)
	ctx := context.Background()

	job, err := m.CreateJob(ctx, "Example University", model.CountryCanada, []string{srv.URL}, "system")
	require.NoError(t, err)
	require.NoError(t, m.Execute(ctx, job, ExecOptions{}))

	// Approving with an ID filter that matches nothing publishes nothing.
	_, err = m.ApproveAndPublish(ctx, job.ID, "ops@example.com", []string{"some-other-program"})
	require.NoError(t, err)

	accepted, err := st.ListPrograms(ctx, "example-university")
	require.NoError(t, err)
	assert.Empty(t, accepted)
}
