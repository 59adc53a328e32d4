package extraction_engine

import (
	"context"
	"runtime"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/venxtra/venxtra/internal/core"
	"github.com/venxtra/venxtra/internal/models"
)

// LimitsProvider hands the pool its concurrency and batch knobs. Sampled
// once per batch so a memory squeeze takes effect at the next boundary.
type LimitsProvider interface {
	CurrentLimits() models.ProcessingLimits
}

// RunMonitor lets the pool check whether processing may continue. A false
// return halts dispatch at the batch boundary, keeping results so far.
type RunMonitor interface {
	ContinueProcessing(ctx context.Context, taskID string) bool
}

// RunState reports task cancellation. Checked between batches only; chunks
// already in flight run to completion.
type RunState interface {
	IsCancelled(ctx context.Context, taskID string) bool
}

// staticLimits is the fallback when no controller is wired in.
type staticLimits struct{ limits models.ProcessingLimits }

func (s staticLimits) CurrentLimits() models.ProcessingLimits { return s.limits }

// StaticLimits returns a LimitsProvider that always reports the given
// values.
func StaticLimits(l models.ProcessingLimits) LimitsProvider { return staticLimits{limits: l} }

// WorkerPool fans chunk extractions out in bounded batches. Per-chunk
// failures are logged and skipped; only a cancelled run, a memory halt or
// a fully failed document aborts the run.
type WorkerPool struct {
	extractor *ChunkExtractor
	retry     RetryPolicy
	limits    LimitsProvider
	monitor   RunMonitor
	state     RunState
	pacing    time.Duration
	progress  core.ProgressSink
	log       *zap.Logger
}

// PoolOption configures optional collaborators of a WorkerPool.
type PoolOption func(*WorkerPool)

// WithRetryPolicy overrides the default retry behaviour.
func WithRetryPolicy(p RetryPolicy) PoolOption {
	return func(w *WorkerPool) { w.retry = p }
}

// WithMonitor wires the backpressure monitor consulted at batch boundaries.
func WithMonitor(m RunMonitor) PoolOption {
	return func(w *WorkerPool) { w.monitor = m }
}

// WithRunState wires cancellation checks consulted at batch boundaries.
func WithRunState(s RunState) PoolOption {
	return func(w *WorkerPool) { w.state = s }
}

// WithPacing sets the wait inserted between batches.
func WithPacing(d time.Duration) PoolOption {
	return func(w *WorkerPool) { w.pacing = d }
}

// WithProgressSink registers the observer notified after every batch with a
// snapshot of chunks attempted, succeeded and the current stage.
func WithProgressSink(sink core.ProgressSink) PoolOption {
	return func(w *WorkerPool) { w.progress = sink }
}

func NewWorkerPool(extractor *ChunkExtractor, limits LimitsProvider, log *zap.Logger, opts ...PoolOption) *WorkerPool {
	w := &WorkerPool{
		extractor: extractor,
		retry:     DefaultRetryPolicy(),
		limits:    limits,
		pacing:    time.Second,
		log:       log,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.retry = w.retry.ApplyDefaults()
	return w
}

// Run processes every chunk and returns the successful analyses in chunk
// order. ErrRunCancelled means the task was cancelled mid-run and
// ErrMemoryCritical that the monitor halted dispatch; partial results
// accompany both. ErrAllChunksFailed means not one chunk succeeded.
func (w *WorkerPool) Run(ctx context.Context, taskID string, chunks []models.DocumentChunk) ([]models.ChunkAnalysis, error) {
	total := len(chunks)
	if total == 0 {
		return nil, ErrAllChunksFailed
	}

	var (
		mu      sync.Mutex
		results = make(map[string]models.ChunkAnalysis, total)
	)
	attempted := 0

	for start := 0; start < total; {
		if w.state != nil && w.state.IsCancelled(ctx, taskID) {
			w.log.Info("run cancelled, stopping dispatch",
				zap.String("task_id", taskID),
				zap.Int("attempted", attempted),
				zap.Int("total", total))
			return w.collect(chunks, results), ErrRunCancelled
		}
		if w.monitor != nil && !w.monitor.ContinueProcessing(ctx, taskID) {
			w.log.Warn("memory critical, halting dispatch with partial results",
				zap.String("task_id", taskID),
				zap.Int("attempted", attempted),
				zap.Int("total", total))
			return w.collect(chunks, results), ErrMemoryCritical
		}

		limits := w.limits.CurrentLimits()
		if limits.ForceGC {
			runtime.GC()
		}

		end := start + limits.BatchSize
		if end > total {
			end = total
		}
		batch := chunks[start:end]

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(limits.MaxConcurrent)
		for _, chunk := range batch {
			chunk := chunk
			g.Go(func() error {
				var analysis models.ChunkAnalysis
				err := w.retry.Do(gctx, func(ctx context.Context) error {
					var attErr error
					analysis, attErr = w.extractor.Extract(ctx, chunk, total)
					return attErr
				})
				if err != nil {
					w.log.Warn("chunk extraction failed",
						zap.String("task_id", taskID),
						zap.String("chunk_id", chunk.ID),
						zap.Error(err))
					return nil
				}
				mu.Lock()
				results[chunk.ID] = analysis
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return w.collect(chunks, results), err
		}

		attempted = end
		if w.progress != nil {
			mu.Lock()
			succeeded := len(results)
			mu.Unlock()
			w.progress.OnProgress(ctx, models.TaskProgress{
				TaskID:         taskID,
				CurrentStage:   "extracting",
				TotalSteps:     total,
				CompletedSteps: attempted,
				Metadata:       map[string]string{"chunks_succeeded": strconv.Itoa(succeeded)},
			})
		}

		start = end
		if start < total && w.pacing > 0 {
			if err := sleepCtx(ctx, w.pacing); err != nil {
				return w.collect(chunks, results), err
			}
		}
	}

	out := w.collect(chunks, results)
	if len(out) == 0 {
		return nil, ErrAllChunksFailed
	}
	return out, nil
}

// collect orders the successful analyses by the original chunk order.
func (w *WorkerPool) collect(chunks []models.DocumentChunk, results map[string]models.ChunkAnalysis) []models.ChunkAnalysis {
	out := make([]models.ChunkAnalysis, 0, len(results))
	for _, chunk := range chunks {
		if analysis, ok := results[chunk.ID]; ok {
			out = append(out, analysis)
		}
	}
	return out
}
