package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/venxtra/venxtra/internal/core/taskstore"
	"github.com/venxtra/venxtra/internal/models"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	return NewTracker(taskstore.NewMemoryStore(), 24*time.Hour, zap.NewNop())
}

func TestCreateAndGet(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	id, err := tr.Create(ctx, "user1", 10, map[string]string{"document_id": "doc1"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	task, err := tr.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, models.TaskPending, task.Status)
	assert.Equal(t, "user1", task.OwnerID)
	assert.Equal(t, 10, task.TotalSteps)
	assert.Equal(t, "doc1", task.Metadata["document_id"])
	assert.Equal(t, 0.0, task.PercentDone)
}

func TestGetUnknownTask(t *testing.T) {
	tr := newTestTracker(t)
	task, err := tr.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestLifecycleToCompleted(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	id, err := tr.Create(ctx, "user1", 4, nil)
	require.NoError(t, err)

	require.NoError(t, tr.Start(ctx, id, "parsing"))
	task, _ := tr.Get(ctx, id)
	assert.Equal(t, models.TaskProcessing, task.Status)
	assert.Equal(t, "parsing", task.CurrentStage)

	require.NoError(t, tr.Progress(ctx, id, "extracting", 2))
	task, _ = tr.Get(ctx, id)
	assert.Equal(t, 50.0, task.PercentDone)

	require.NoError(t, tr.Complete(ctx, id, "doc1"))
	task, _ = tr.Get(ctx, id)
	assert.Equal(t, models.TaskCompleted, task.Status)
	assert.Equal(t, 100.0, task.PercentDone)
	assert.Equal(t, "doc1", task.ResultRef)
	require.NotNil(t, task.CompletedAt)
}

func TestPercentNeverDecreases(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	id, _ := tr.Create(ctx, "user1", 10, nil)
	require.NoError(t, tr.Progress(ctx, id, "extracting", 6))
	require.NoError(t, tr.Progress(ctx, id, "extracting", 3))

	task, _ := tr.Get(ctx, id)
	assert.Equal(t, 60.0, task.PercentDone)
	assert.Equal(t, 6, task.CompletedSteps)
}

func TestTerminalTaskIgnoresUpdates(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	id, _ := tr.Create(ctx, "user1", 2, nil)
	require.NoError(t, tr.Fail(ctx, id, "boom"))

	require.NoError(t, tr.Progress(ctx, id, "extracting", 2))
	task, _ := tr.Get(ctx, id)
	assert.Equal(t, models.TaskFailed, task.Status)
	assert.Equal(t, "boom", task.ErrorMessage)
	assert.Equal(t, 0, task.CompletedSteps)
}

func TestCancelPendingTask(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	id, _ := tr.Create(ctx, "user1", 2, nil)
	ok, err := tr.Cancel(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.True(t, tr.IsCancelled(ctx, id))
}

func TestCancelTerminalTaskIsNoop(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	id, _ := tr.Create(ctx, "user1", 2, nil)
	require.NoError(t, tr.Complete(ctx, id, "doc1"))

	ok, err := tr.Cancel(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	task, _ := tr.Get(ctx, id)
	assert.Equal(t, models.TaskCompleted, task.Status)
}

func TestIsCancelledUnknownTask(t *testing.T) {
	tr := newTestTracker(t)
	assert.True(t, tr.IsCancelled(context.Background(), "expired-task"))
}

func TestListByOwnerNewestFirst(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	first, _ := tr.Create(ctx, "user1", 1, nil)
	// Distinct CreatedAt timestamps for a stable sort.
	time.Sleep(5 * time.Millisecond)
	second, _ := tr.Create(ctx, "user1", 1, nil)
	_, _ = tr.Create(ctx, "user2", 1, nil)

	list, err := tr.ListByOwner(ctx, "user1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second, list[0].TaskID)
	assert.Equal(t, first, list[1].TaskID)
}

func TestOnProgressUpdatesTask(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	id, _ := tr.Create(ctx, "user1", 0, nil)
	require.NoError(t, tr.Start(ctx, id, "parsing"))

	tr.OnProgress(ctx, models.TaskProgress{
		TaskID:         id,
		CurrentStage:   "extracting",
		TotalSteps:     8,
		CompletedSteps: 4,
	})

	task, _ := tr.Get(ctx, id)
	assert.Equal(t, "extracting", task.CurrentStage)
	assert.Equal(t, 50.0, task.PercentDone)
}
