package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-sync/internal/model"
	"github.com/sells-group/catalog-sync/internal/store"
)

func publishableProgram(id string) model.Program {
	now := time.Now().UTC()
	src := model.DirectSource("https://uni.example.edu", now)
	return model.Program{
		ID:             id,
		UniversityName: *model.NewField("Example University", src),
		ProgramName:    *model.NewField("Program "+id, src),
		Level:          model.LevelUndergraduate,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestPublish_NewProgramGetsVersionOne(t *testing.T) {
	st := store.NewMemory()
	pub := NewPublisher(st)

	err := pub.Publish(context.Background(), "example-university",
		[]model.Program{publishableProgram("example-university-p1")},
		PublishOptions{ApprovedBy: "system"})
	require.NoError(t, err)

	got, err := st.GetProgram(context.Background(), "example-university-p1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version)
	assert.Equal(t, "system", got.PublishedBy)
	require.NotNil(t, got.PublishedAt)
	assert.WithinDuration(t, time.Now().UTC(), *got.PublishedAt, time.Minute)
}

func TestPublish_RepublishIncrementsVersion(t *testing.T) {
	st := store.NewMemory()
	pub := NewPublisher(st)
	ctx := context.Background()
	programs := []model.Program{publishableProgram("example-university-p1")}

	require.NoError(t, pub.Publish(ctx, "example-university", programs, PublishOptions{ApprovedBy: "system"}))
	require.NoError(t, pub.Publish(ctx, "example-university", programs, PublishOptions{ApprovedBy: "system"}))

	got, err := st.GetProgram(ctx, "example-university-p1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
}

func TestPublish_VersionHistoryAndAudit(t *testing.T) {
	st := store.NewMemory()
	pub := NewPublisher(st)
	ctx := context.Background()

	err := pub.Publish(ctx, "example-university",
		[]model.Program{publishableProgram("example-university-p1")},
		PublishOptions{CreateVersionHistory: true, UpdateAuditLog: true, ApprovedBy: "ops@example.com"})
	require.NoError(t, err)

	versions, err := st.ListVersions(ctx, "example-university-p1")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, 1, versions[0].Version)

	stored, err := st.GetProgram(ctx, "example-university-p1")
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", stored.PublishedBy)

	audit, err := st.ListAudit(ctx, "example-university-p1")
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, model.AuditDataPublished, audit[0].Action)
	assert.Equal(t, "user", audit[0].Actor)
	assert.Equal(t, "ops@example.com", audit[0].ActorID)
}

func TestPublish_SideChannelsOffByDefault(t *testing.T) {
	st := store.NewMemory()
	pub := NewPublisher(st)
	ctx := context.Background()

	require.NoError(t, pub.Publish(ctx, "example-university",
		[]model.Program{publishableProgram("example-university-p1")},
		PublishOptions{ApprovedBy: "system"}))

	versions, err := st.ListVersions(ctx, "example-university-p1")
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestPublish_ManyProgramsSpanBatches(t *testing.T) {
	st := store.NewMemory()
	pub := NewPublisher(st)
	ctx := context.Background()

	programs := make([]model.Program, 0, publishBatchSize+25)
	for i := 0; i < publishBatchSize+25; i++ {
		programs = append(programs, publishableProgram(fmt.Sprintf("example-university-p%04d", i)))
	}

	require.NoError(t, pub.Publish(ctx, "example-university", programs, PublishOptions{ApprovedBy: "system"}))

	stored, err := st.ListPrograms(ctx, "example-university")
	require.NoError(t, err)
	assert.Len(t, stored, publishBatchSize+25)
}

func TestPublish_InputNotMutated(t *testing.T) {
	st := store.NewMemory()
	pub := NewPublisher(st)

	original := publishableProgram("example-university-p1")
	require.NoError(t, pub.Publish(context.Background(), "example-university",
		[]model.Program{original}, PublishOptions{ApprovedBy: "system"}))

	assert.Equal(t, 0, original.Version, "publisher works on copies")
}
