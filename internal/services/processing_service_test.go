package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/venxtra/venxtra/internal/config"
	engine "github.com/venxtra/venxtra/internal/core/extraction_engine"
	"github.com/venxtra/venxtra/internal/core/taskstore"
	"github.com/venxtra/venxtra/internal/models"
	"github.com/venxtra/venxtra/internal/parsers"
	"github.com/venxtra/venxtra/internal/tasks"
)

type fakeDB struct {
	mu   sync.Mutex
	docs map[string]*models.Document
}

func newFakeDB(docs ...*models.Document) *fakeDB {
	db := &fakeDB{docs: make(map[string]*models.Document)}
	for _, d := range docs {
		db.docs[d.ID] = d
	}
	return db
}

func (f *fakeDB) CreateDocument(_ context.Context, doc *models.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[doc.ID] = doc
	return nil
}

func (f *fakeDB) GetDocumentByID(_ context.Context, id string) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, nil
	}
	cp := *doc
	return &cp, nil
}

func (f *fakeDB) ListDocumentsByVendor(_ context.Context, vendorID string) ([]models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Document
	for _, d := range f.docs {
		if d.VendorID == vendorID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (f *fakeDB) ListPendingDocuments(_ context.Context, limit int) ([]models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Document
	for _, d := range f.docs {
		if d.Status == models.DocStatusPending && len(out) < limit {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (f *fakeDB) UpdateDocumentStatus(_ context.Context, id string, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return fmt.Errorf("document not found: %s", id)
	}
	doc.Status = status
	return nil
}

func (f *fakeDB) UpdateDocumentText(_ context.Context, id string, rawText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return fmt.Errorf("document not found: %s", id)
	}
	doc.RawText = rawText
	return nil
}

func (f *fakeDB) SaveProcessingResult(_ context.Context, id string, data *models.StructuredData, status, errMsg string, processedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return fmt.Errorf("document not found: %s", id)
	}
	doc.Structured = data
	doc.Status = status
	doc.ErrorMessage = errMsg
	doc.ProcessedAt = &processedAt
	return nil
}

func (f *fakeDB) Close() error { return nil }

type fakeObjects struct {
	files map[string][]byte
}

func (f *fakeObjects) UploadFile(_ context.Context, _, key string, data []byte, _ string) (string, error) {
	f.files[key] = data
	return "https://bucket.s3.us-east-2.amazonaws.com/" + key, nil
}

func (f *fakeObjects) GetFile(_ context.Context, _, key string) ([]byte, error) {
	data, ok := f.files[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}

func (f *fakeObjects) DeleteFile(_ context.Context, _, key string) error {
	delete(f.files, key)
	return nil
}

type stubLLM struct {
	response string
	err      error
}

func (s *stubLLM) Generate(context.Context, string, string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func testConfig() *config.Config {
	return &config.Config{
		BucketName:        "bucket",
		MaxChunkWords:     2000,
		ChunkOverlapWords: 200,
		MaxConcurrent:     3,
		QualityThreshold:  0.1,
		ProcessingTimeout: time.Minute,
		BatchPacing:       0,
		TaskRetention:     time.Hour,
	}
}

func buildService(t *testing.T, db *fakeDB, llm *stubLLM, poolOpts ...engine.PoolOption) (*ProcessingService, *tasks.Tracker) {
	t.Helper()
	log := zap.NewNop()
	cfg := testConfig()
	tracker := tasks.NewTracker(taskstore.NewMemoryStore(), cfg.TaskRetention, log)

	limits := engine.StaticLimits(models.ProcessingLimits{
		ChunkWordSize: cfg.MaxChunkWords,
		OverlapWords:  cfg.ChunkOverlapWords,
		MaxConcurrent: cfg.MaxConcurrent,
		BatchSize:     10,
	})
	extractor := engine.NewChunkExtractor(llm, log)
	opts := append([]engine.PoolOption{
		engine.WithRetryPolicy(engine.RetryPolicy{
			MaxAttempts: 2,
			BaseDelay:   time.Millisecond,
			Sleep:       func(context.Context, time.Duration) error { return nil },
		}),
		engine.WithRunState(tracker),
		engine.WithPacing(0),
	}, poolOpts...)
	pool := engine.NewWorkerPool(extractor, limits, log, opts...)

	objects := &fakeObjects{files: map[string][]byte{}}
	svc := NewProcessingService(db, objects, parsers.NewRegistry(log), pool, limits, tracker, cfg, log)
	return svc, tracker
}

func pendingDoc(rawText string) *models.Document {
	return &models.Document{
		ID:         "doc1",
		ProjectID:  "proj1",
		VendorID:   "vendor1",
		FileName:   "quote.pdf",
		FileType:   ".pdf",
		StorageURL: "https://bucket.s3.us-east-2.amazonaws.com/doc1/quote.pdf",
		RawText:    rawText,
		Status:     models.DocStatusPending,
		UploadedAt: time.Now().UTC(),
	}
}

func TestProcessDocumentCompletes(t *testing.T) {
	db := newFakeDB(pendingDoc("Acme Corp quote for widgets. " + strings.Repeat("Line item detail. ", 50)))
	llm := &stubLLM{response: `{"vendor_name": "Acme Corp", "document_type": "quote", "confidence_score": 0.9}`}
	svc, tracker := buildService(t, db, llm)
	ctx := context.Background()

	taskID, err := tracker.Create(ctx, "proj1", 0, map[string]string{"document_id": "doc1"})
	require.NoError(t, err)

	require.NoError(t, svc.ProcessDocument(ctx, "doc1", taskID))

	doc, _ := db.GetDocumentByID(ctx, "doc1")
	assert.Equal(t, models.DocStatusCompleted, doc.Status)
	require.NotNil(t, doc.Structured)
	assert.Equal(t, "Acme Corp", doc.Structured.VendorName)
	assert.Equal(t, "quote", doc.Structured.DocumentType)
	require.NotNil(t, doc.ProcessedAt)

	task, err := tracker.Get(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, task.Status)
	assert.Equal(t, 100.0, task.PercentDone)
	assert.Equal(t, "doc1", task.ResultRef)
}

func TestProcessDocumentAllChunksFail(t *testing.T) {
	db := newFakeDB(pendingDoc("Acme Corp quote for widgets and gadgets, at least ten characters."))
	llm := &stubLLM{err: errors.New("503 service unavailable")}
	svc, tracker := buildService(t, db, llm)
	ctx := context.Background()

	taskID, _ := tracker.Create(ctx, "proj1", 0, nil)

	err := svc.ProcessDocument(ctx, "doc1", taskID)
	assert.ErrorIs(t, err, engine.ErrAllChunksFailed)

	doc, _ := db.GetDocumentByID(ctx, "doc1")
	assert.Equal(t, models.DocStatusFailed, doc.Status)
	assert.Nil(t, doc.Structured)
	assert.NotEmpty(t, doc.ErrorMessage)

	task, _ := tracker.Get(ctx, taskID)
	assert.Equal(t, models.TaskFailed, task.Status)
}

func TestProcessDocumentUnknownID(t *testing.T) {
	db := newFakeDB()
	svc, tracker := buildService(t, db, &stubLLM{response: "{}"})
	ctx := context.Background()

	taskID, _ := tracker.Create(ctx, "proj1", 0, nil)

	err := svc.ProcessDocument(ctx, "ghost", taskID)
	assert.ErrorContains(t, err, "not found")

	task, _ := tracker.Get(ctx, taskID)
	assert.Equal(t, models.TaskFailed, task.Status)
}

func TestProcessDocumentCancelledBeforeDispatch(t *testing.T) {
	db := newFakeDB(pendingDoc("Acme Corp quote for widgets and gadgets, at least ten characters."))
	svc, tracker := buildService(t, db, &stubLLM{response: "{}"})
	ctx := context.Background()

	taskID, _ := tracker.Create(ctx, "proj1", 0, nil)
	ok, err := tracker.Cancel(ctx, taskID)
	require.NoError(t, err)
	require.True(t, ok)

	err = svc.ProcessDocument(ctx, "doc1", taskID)
	assert.ErrorIs(t, err, engine.ErrRunCancelled)

	doc, _ := db.GetDocumentByID(ctx, "doc1")
	assert.Equal(t, models.DocStatusFailed, doc.Status)
	assert.Equal(t, "processing cancelled", doc.ErrorMessage)

	task, _ := tracker.Get(ctx, taskID)
	assert.Equal(t, models.TaskCancelled, task.Status)
}

func TestProcessDocumentEmptyContent(t *testing.T) {
	db := newFakeDB(pendingDoc("tiny"))
	svc, tracker := buildService(t, db, &stubLLM{response: "{}"})
	ctx := context.Background()

	// RawText "tiny" falls under the ten character floor, so the chunker
	// produces nothing.
	taskID, _ := tracker.Create(ctx, "proj1", 0, nil)
	err := svc.ProcessDocument(ctx, "doc1", taskID)
	assert.ErrorContains(t, err, "no processable content")

	doc, _ := db.GetDocumentByID(ctx, "doc1")
	assert.Equal(t, models.DocStatusFailed, doc.Status)
}

// haltedMonitor refuses every dispatch, as a memory controller under
// sustained critical pressure would.
type haltedMonitor struct{}

func (haltedMonitor) ContinueProcessing(context.Context, string) bool { return false }

func TestProcessDocumentMemoryHaltBeforeAnyResultFails(t *testing.T) {
	db := newFakeDB(pendingDoc("Acme Corp quote for widgets and gadgets, at least ten characters."))
	llm := &stubLLM{response: `{"vendor_name": "Acme Corp", "confidence_score": 0.9}`}
	svc, tracker := buildService(t, db, llm, engine.WithMonitor(haltedMonitor{}))
	ctx := context.Background()

	taskID, _ := tracker.Create(ctx, "proj1", 0, nil)

	err := svc.ProcessDocument(ctx, "doc1", taskID)
	assert.ErrorIs(t, err, engine.ErrMemoryCritical)
	assert.NotErrorIs(t, err, engine.ErrAllChunksFailed)

	doc, _ := db.GetDocumentByID(ctx, "doc1")
	assert.Equal(t, models.DocStatusFailed, doc.Status)
	assert.Contains(t, doc.ErrorMessage, "memory critical")

	task, _ := tracker.Get(ctx, taskID)
	assert.Equal(t, models.TaskFailed, task.Status)
}

func TestObjectKey(t *testing.T) {
	key, err := objectKey("https://bucket.s3.us-east-2.amazonaws.com/proj1/doc1/quote.pdf")
	require.NoError(t, err)
	assert.Equal(t, "proj1/doc1/quote.pdf", key)

	_, err = objectKey("https://bucket.s3.us-east-2.amazonaws.com/")
	assert.Error(t, err)
}
