package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/venxtra/venxtra/internal/config"
	"github.com/venxtra/venxtra/internal/core"
	engine "github.com/venxtra/venxtra/internal/core/extraction_engine"
	"github.com/venxtra/venxtra/internal/models"
	"github.com/venxtra/venxtra/internal/parsers"
	"github.com/venxtra/venxtra/internal/tasks"
)

// ProcessingService drives one document through the full pipeline: fetch,
// parse, chunk, extract, aggregate, persist.
type ProcessingService struct {
	db         core.DbClient
	objects    core.ObjectClient
	bucket     string
	registry   *parsers.Registry
	chunker    *engine.Chunker
	pool       *engine.WorkerPool
	limits     engine.LimitsProvider
	aggregator *engine.Aggregator
	tracker    *tasks.Tracker
	cfg        *config.Config
	log        *zap.Logger
}

func NewProcessingService(
	db core.DbClient,
	objects core.ObjectClient,
	registry *parsers.Registry,
	pool *engine.WorkerPool,
	limits engine.LimitsProvider,
	tracker *tasks.Tracker,
	cfg *config.Config,
	log *zap.Logger,
) *ProcessingService {
	return &ProcessingService{
		db:         db,
		objects:    objects,
		bucket:     cfg.BucketName,
		registry:   registry,
		chunker:    engine.NewChunker(cfg.QualityThreshold),
		pool:       pool,
		limits:     limits,
		aggregator: engine.NewAggregator(),
		tracker:    tracker,
		cfg:        cfg,
		log:        log,
	}
}

// ProcessDocument runs the pipeline for one document under the given task.
// The document ends in completed or failed; the task mirrors the outcome,
// or ends cancelled when a cancel request landed mid-run.
func (s *ProcessingService) ProcessDocument(ctx context.Context, docID, taskID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProcessingTimeout)
	defer cancel()

	doc, err := s.db.GetDocumentByID(ctx, docID)
	if err != nil {
		return s.failRun(ctx, docID, taskID, fmt.Errorf("fetch document: %w", err))
	}
	if doc == nil {
		return s.failRun(ctx, docID, taskID, fmt.Errorf("document %s not found", docID))
	}

	if err := s.tracker.Start(ctx, taskID, "parsing"); err != nil {
		s.log.Warn("task start failed", zap.String("task_id", taskID), zap.Error(err))
	}
	if err := s.db.UpdateDocumentStatus(ctx, docID, models.DocStatusProcessing); err != nil {
		return s.failRun(ctx, docID, taskID, fmt.Errorf("mark processing: %w", err))
	}

	sections, err := s.loadSections(ctx, doc)
	if err != nil {
		return s.failRun(ctx, docID, taskID, err)
	}

	chunks := s.chunkSections(sections)
	if len(chunks) == 0 {
		return s.failRun(ctx, docID, taskID, fmt.Errorf("document %s has no processable content", docID))
	}

	if err := s.tracker.Update(ctx, taskID, func(t *models.TaskProgress) {
		t.CurrentStage = "extracting"
		t.TotalSteps = len(chunks)
	}); err != nil {
		s.log.Warn("task update failed", zap.String("task_id", taskID), zap.Error(err))
	}

	s.log.Info("extraction started",
		zap.String("document_id", docID),
		zap.String("task_id", taskID),
		zap.Int("chunks", len(chunks)))

	analyses, runErr := s.pool.Run(ctx, taskID, chunks)
	switch {
	case errors.Is(runErr, engine.ErrRunCancelled):
		return s.cancelRun(ctx, docID, taskID)
	case errors.Is(runErr, engine.ErrMemoryCritical):
		if len(analyses) == 0 {
			return s.failRun(ctx, docID, taskID, runErr)
		}
		s.log.Warn("memory critical, completing with partial results",
			zap.String("document_id", docID),
			zap.String("task_id", taskID),
			zap.Int("chunks_succeeded", len(analyses)),
			zap.Int("chunks_total", len(chunks)))
	case runErr != nil:
		return s.failRun(ctx, docID, taskID, runErr)
	}

	merged, err := s.aggregator.Merge(analyses)
	if err != nil {
		return s.failRun(ctx, docID, taskID, err)
	}

	now := time.Now().UTC()
	if err := s.db.SaveProcessingResult(ctx, docID, &merged, models.DocStatusCompleted, "", now); err != nil {
		return s.failRun(ctx, docID, taskID, fmt.Errorf("persist result: %w", err))
	}
	if err := s.tracker.Complete(ctx, taskID, docID); err != nil {
		s.log.Warn("task complete failed", zap.String("task_id", taskID), zap.Error(err))
	}

	s.log.Info("document processed",
		zap.String("document_id", docID),
		zap.String("task_id", taskID),
		zap.Int("chunks_succeeded", len(analyses)),
		zap.Int("chunks_total", len(chunks)),
		zap.Float64("avg_confidence", engine.AverageConfidence(analyses)))
	return nil
}

// loadSections parses the stored raw text when present, otherwise downloads
// the original file, parses it and backfills raw_text.
func (s *ProcessingService) loadSections(ctx context.Context, doc *models.Document) ([]parsers.Section, error) {
	if strings.TrimSpace(doc.RawText) != "" {
		return []parsers.Section{{Locator: "document", Text: doc.RawText}}, nil
	}

	key, err := objectKey(doc.StorageURL)
	if err != nil {
		return nil, fmt.Errorf("resolve storage key: %w", err)
	}
	data, err := s.objects.GetFile(ctx, s.bucket, key)
	if err != nil {
		return nil, fmt.Errorf("download document: %w", err)
	}

	sections, err := s.registry.Parse(doc.FileName, data)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	if err := s.db.UpdateDocumentText(ctx, doc.ID, parsers.FullText(sections)); err != nil {
		s.log.Warn("raw text backfill failed",
			zap.String("document_id", doc.ID),
			zap.Error(err))
	}
	return sections, nil
}

// chunkSections chunks every section with the current memory-aware sizes
// and renumbers sequence indexes across the whole document.
func (s *ProcessingService) chunkSections(sections []parsers.Section) []models.DocumentChunk {
	limits := s.limits.CurrentLimits()

	var all []models.DocumentChunk
	for _, section := range sections {
		chunks := s.chunker.Split(section.Text, section.Locator, limits.ChunkWordSize, limits.OverlapWords, section.Tables)
		all = append(all, chunks...)
	}
	for i := range all {
		all[i].SequenceIndex = i
	}
	return all
}

func (s *ProcessingService) failRun(ctx context.Context, docID, taskID string, cause error) error {
	s.log.Error("document processing failed",
		zap.String("document_id", docID),
		zap.String("task_id", taskID),
		zap.Error(cause))

	if err := s.db.SaveProcessingResult(ctx, docID, nil, models.DocStatusFailed, cause.Error(), time.Now().UTC()); err != nil {
		s.log.Error("failure persist failed", zap.String("document_id", docID), zap.Error(err))
	}
	if err := s.tracker.Fail(ctx, taskID, cause.Error()); err != nil {
		s.log.Warn("task fail update failed", zap.String("task_id", taskID), zap.Error(err))
	}
	return cause
}

func (s *ProcessingService) cancelRun(ctx context.Context, docID, taskID string) error {
	s.log.Info("document processing cancelled",
		zap.String("document_id", docID),
		zap.String("task_id", taskID))

	if err := s.db.SaveProcessingResult(ctx, docID, nil, models.DocStatusFailed, "processing cancelled", time.Now().UTC()); err != nil {
		s.log.Error("cancel persist failed", zap.String("document_id", docID), zap.Error(err))
	}
	return engine.ErrRunCancelled
}

// objectKey recovers the bucket key from the stored public URL.
func objectKey(storageURL string) (string, error) {
	u, err := url.Parse(storageURL)
	if err != nil {
		return "", err
	}
	key := strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", fmt.Errorf("no object key in %q", storageURL)
	}
	return key, nil
}
