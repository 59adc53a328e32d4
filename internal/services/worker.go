package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/venxtra/venxtra/internal/core"
	"github.com/venxtra/venxtra/internal/tasks"
)

// defaultPollInterval is how often the dispatcher looks for pending
// documents when the queue is idle.
const defaultPollInterval = 5 * time.Second

// ErrAlreadyQueued is returned by Enqueue when the document already has a
// queued or running job.
var ErrAlreadyQueued = errors.New("document already queued")

// job pairs a document with the task tracking its run.
type job struct {
	docID  string
	taskID string
}

// Dispatcher feeds pending documents to processing workers through a
// bounded job queue (64). A document has at most one queued-or-running job
// at a time, whether it arrives via Enqueue or the poller.
type Dispatcher struct {
	db           core.DbClient
	processor    *ProcessingService
	tracker      *tasks.Tracker
	jobs         chan job
	pollInterval time.Duration
	log          *zap.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewDispatcher(db core.DbClient, processor *ProcessingService, tracker *tasks.Tracker, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		db:           db,
		processor:    processor,
		tracker:      tracker,
		jobs:         make(chan job, 64),
		pollInterval: defaultPollInterval,
		log:          log,
		inFlight:     make(map[string]struct{}),
	}
}

// Start launches the worker goroutines and the pending-document poller.
// Everything winds down when ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context, numWorkers int) {
	for w := 1; w <= numWorkers; w++ {
		go d.worker(ctx, w)
	}
	go d.poll(ctx)
}

// Enqueue schedules one document for processing under a fresh task and
// returns the task ID. A document already queued or running yields
// ErrAlreadyQueued. Blocks when the queue is full.
func (d *Dispatcher) Enqueue(ctx context.Context, docID, ownerID string) (string, error) {
	if !d.claim(docID) {
		return "", ErrAlreadyQueued
	}

	taskID, err := d.tracker.Create(ctx, ownerID, 0, map[string]string{"document_id": docID})
	if err != nil {
		d.release(docID)
		return "", err
	}
	select {
	case d.jobs <- job{docID: docID, taskID: taskID}:
		return taskID, nil
	case <-ctx.Done():
		d.release(docID)
		return "", ctx.Err()
	}
}

// claim marks the document in flight; false means someone else holds it.
func (d *Dispatcher) claim(docID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inFlight[docID]; busy {
		return false
	}
	d.inFlight[docID] = struct{}{}
	return true
}

// release frees the document for future runs, e.g. after an external reset
// back to pending.
func (d *Dispatcher) release(docID string) {
	d.mu.Lock()
	delete(d.inFlight, docID)
	d.mu.Unlock()
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			d.log.Info("worker shutting down", zap.Int("worker", id))
			return
		case j := <-d.jobs:
			d.log.Info("processing document",
				zap.Int("worker", id),
				zap.String("document_id", j.docID),
				zap.String("task_id", j.taskID))
			if err := d.processor.ProcessDocument(ctx, j.docID, j.taskID); err != nil {
				d.log.Warn("document run ended with error",
					zap.Int("worker", id),
					zap.String("document_id", j.docID),
					zap.Error(err))
			}
			d.release(j.docID)
		}
	}
}

// poll picks up pending documents that have no queued job yet, e.g. after a
// restart, and enqueues them under the document's project as owner.
// Deduplication lives in Enqueue, so a document scheduled externally while
// still pending is not double-queued.
func (d *Dispatcher) poll(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			docs, err := d.db.ListPendingDocuments(ctx, cap(d.jobs))
			if err != nil {
				d.log.Warn("pending document poll failed", zap.Error(err))
				continue
			}
			for _, doc := range docs {
				_, err := d.Enqueue(ctx, doc.ID, doc.ProjectID)
				if errors.Is(err, ErrAlreadyQueued) {
					continue
				}
				if err != nil {
					d.log.Warn("enqueue failed", zap.String("document_id", doc.ID), zap.Error(err))
				}
			}
		}
	}
}
