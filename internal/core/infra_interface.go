package core

import (
	"context"
	"time"

	"github.com/venxtra/venxtra/internal/models"
)

// DbClient defines the document store boundary the pipeline consumes. It
// abstracts Postgres so higher layers never depend on a specific DB.
type DbClient interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	ListDocumentsByVendor(ctx context.Context, vendorID string) ([]models.Document, error)
	ListPendingDocuments(ctx context.Context, limit int) ([]models.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status string) error
	UpdateDocumentText(ctx context.Context, id string, rawText string) error

	// SaveProcessingResult writes the terminal outcome of a run in one
	// statement: structured data (nil on failure), status, error message
	// and the processed_at timestamp.
	SaveProcessingResult(ctx context.Context, id string, data *models.StructuredData, status, errMsg string, processedAt time.Time) error

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage holding
// the raw uploaded document bytes.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (url string, err error)
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
	DeleteFile(ctx context.Context, bucket, key string) error
}

// LLMProvider is the outbound extraction service: one completion per call.
type LLMProvider interface {
	Generate(ctx context.Context, systemPrompt string, userPrompt string) (string, error)
}

// TaskStore is a key-value store with per-key expiry, plus per-owner sets
// for task listing. Implementations: Redis and an in-memory map, selected
// at construction.
type TaskStore interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns (nil, nil) when the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)
	AddToSet(ctx context.Context, key, member string, ttl time.Duration) error
	SetMembers(ctx context.Context, key string) ([]string, error)
}

// ProgressSink observes pipeline progress. The task tracker implements it
// for real runs; tests implement it to record snapshots.
type ProgressSink interface {
	OnProgress(ctx context.Context, snapshot models.TaskProgress)
}
