package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/venxtra/venxtra/internal/core"
	"github.com/venxtra/venxtra/internal/models"
)

const (
	taskKeyPrefix  = "task:"
	ownerKeyPrefix = "user_tasks:"
)

// Tracker manages the lifecycle of processing tasks on top of a TaskStore.
// Records expire after the retention window; terminal tasks never change
// again; percent done never goes backwards.
type Tracker struct {
	store     core.TaskStore
	retention time.Duration
	log       *zap.Logger
}

func NewTracker(store core.TaskStore, retention time.Duration, log *zap.Logger) *Tracker {
	return &Tracker{store: store, retention: retention, log: log}
}

// Create registers a new pending task for the owner and returns its ID.
func (t *Tracker) Create(ctx context.Context, ownerID string, totalSteps int, metadata map[string]string) (string, error) {
	task := models.TaskProgress{
		TaskID:       uuid.New().String(),
		OwnerID:      ownerID,
		Status:       models.TaskPending,
		CurrentStage: "queued",
		TotalSteps:   totalSteps,
		Metadata:     metadata,
		CreatedAt:    time.Now().UTC(),
	}
	if err := t.save(ctx, task); err != nil {
		return "", err
	}
	if err := t.store.AddToSet(ctx, ownerKeyPrefix+ownerID, task.TaskID, t.retention); err != nil {
		return "", fmt.Errorf("register task for owner: %w", err)
	}
	t.log.Info("task created",
		zap.String("task_id", task.TaskID),
		zap.String("owner_id", ownerID))
	return task.TaskID, nil
}

// Get returns the task, or (nil, nil) when unknown or expired.
func (t *Tracker) Get(ctx context.Context, taskID string) (*models.TaskProgress, error) {
	raw, err := t.store.Get(ctx, taskKeyPrefix+taskID)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var task models.TaskProgress
	if err := json.Unmarshal(raw, &task); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", taskID, err)
	}
	return &task, nil
}

// Update applies mutate to the stored task. Updates on terminal tasks are
// dropped silently; percent is recomputed from steps and never lowered.
func (t *Tracker) Update(ctx context.Context, taskID string, mutate func(*models.TaskProgress)) error {
	task, err := t.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task %s not found", taskID)
	}
	if task.Status.Terminal() {
		return nil
	}

	prevPercent := task.PercentDone
	mutate(task)

	if task.TotalSteps > 0 {
		task.PercentDone = float64(task.CompletedSteps) / float64(task.TotalSteps) * 100
	}
	if task.PercentDone < prevPercent {
		task.PercentDone = prevPercent
	}
	if task.Status.Terminal() {
		now := time.Now().UTC()
		task.CompletedAt = &now
		if task.Status == models.TaskCompleted {
			task.PercentDone = 100
		}
	}
	return t.save(ctx, *task)
}

// Start moves a pending task into processing.
func (t *Tracker) Start(ctx context.Context, taskID, stage string) error {
	return t.Update(ctx, taskID, func(task *models.TaskProgress) {
		task.Status = models.TaskProcessing
		task.CurrentStage = stage
	})
}

// Progress records completed steps and the current stage.
func (t *Tracker) Progress(ctx context.Context, taskID, stage string, completedSteps int) error {
	return t.Update(ctx, taskID, func(task *models.TaskProgress) {
		task.CurrentStage = stage
		if completedSteps > task.CompletedSteps {
			task.CompletedSteps = completedSteps
		}
	})
}

// Complete marks the task finished with a reference to its result.
func (t *Tracker) Complete(ctx context.Context, taskID, resultRef string) error {
	return t.Update(ctx, taskID, func(task *models.TaskProgress) {
		task.Status = models.TaskCompleted
		task.CurrentStage = "done"
		task.CompletedSteps = task.TotalSteps
		task.ResultRef = resultRef
	})
}

// Fail marks the task failed with the error message.
func (t *Tracker) Fail(ctx context.Context, taskID, errMsg string) error {
	return t.Update(ctx, taskID, func(task *models.TaskProgress) {
		task.Status = models.TaskFailed
		task.ErrorMessage = errMsg
	})
}

// Cancel moves a pending or processing task to cancelled. Cancelling a
// terminal task is a no-op and reports false.
func (t *Tracker) Cancel(ctx context.Context, taskID string) (bool, error) {
	task, err := t.Get(ctx, taskID)
	if err != nil {
		return false, err
	}
	if task == nil || task.Status.Terminal() {
		return false, nil
	}
	err = t.Update(ctx, taskID, func(task *models.TaskProgress) {
		task.Status = models.TaskCancelled
		task.CurrentStage = "cancelled"
	})
	if err != nil {
		return false, err
	}
	t.log.Info("task cancelled", zap.String("task_id", taskID))
	return true, nil
}

// IsCancelled reports whether the task has been cancelled. Unknown tasks
// count as cancelled so orphaned runs stop.
func (t *Tracker) IsCancelled(ctx context.Context, taskID string) bool {
	task, err := t.Get(ctx, taskID)
	if err != nil {
		t.log.Warn("cancellation check failed", zap.String("task_id", taskID), zap.Error(err))
		return false
	}
	if task == nil {
		return true
	}
	return task.Status == models.TaskCancelled
}

// ListByOwner returns the owner's unexpired tasks, newest first.
func (t *Tracker) ListByOwner(ctx context.Context, ownerID string) ([]models.TaskProgress, error) {
	ids, err := t.store.SetMembers(ctx, ownerKeyPrefix+ownerID)
	if err != nil {
		return nil, err
	}
	tasks := make([]models.TaskProgress, 0, len(ids))
	for _, id := range ids {
		task, err := t.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if task != nil {
			tasks = append(tasks, *task)
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return tasks, nil
}

// OnProgress lets the tracker act as the pipeline's progress sink.
func (t *Tracker) OnProgress(ctx context.Context, snapshot models.TaskProgress) {
	err := t.Update(ctx, snapshot.TaskID, func(task *models.TaskProgress) {
		if snapshot.CurrentStage != "" {
			task.CurrentStage = snapshot.CurrentStage
		}
		if snapshot.CompletedSteps > task.CompletedSteps {
			task.CompletedSteps = snapshot.CompletedSteps
		}
		if snapshot.TotalSteps > 0 {
			task.TotalSteps = snapshot.TotalSteps
		}
		for k, v := range snapshot.Metadata {
			if task.Metadata == nil {
				task.Metadata = make(map[string]string)
			}
			task.Metadata[k] = v
		}
	})
	if err != nil {
		t.log.Warn("progress update failed",
			zap.String("task_id", snapshot.TaskID),
			zap.Error(err))
	}
}

func (t *Tracker) save(ctx context.Context, task models.TaskProgress) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", task.TaskID, err)
	}
	if err := t.store.Put(ctx, taskKeyPrefix+task.TaskID, raw, t.retention); err != nil {
		return fmt.Errorf("store task %s: %w", task.TaskID, err)
	}
	return nil
}
