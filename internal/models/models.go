package models

import (
	"time"
)

// Document represents an uploaded vendor document and its processing state.
type Document struct {
	ID           string          `db:"id" json:"id"`
	ProjectID    string          `db:"project_id" json:"project_id"`
	VendorID     string          `db:"vendor_id" json:"vendor_id"`
	FileName     string          `db:"file_name" json:"file_name"`
	FileType     string          `db:"file_type" json:"file_type"` // ".pdf", ".docx", ".xlsx", ...
	StorageURL   string          `db:"storage_url" json:"storage_url"`
	RawText      string          `db:"raw_text" json:"raw_text"`
	Structured   *StructuredData `db:"structured_data" json:"structured_data,omitempty"`
	Status       string          `db:"status" json:"status"` // pending | processing | completed | failed
	ErrorMessage string          `db:"error_message" json:"error_message,omitempty"`
	UploadedAt   time.Time       `db:"uploaded_at" json:"uploaded_at"`
	ProcessedAt  *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
}

// Document processing statuses.
const (
	DocStatusPending    = "pending"
	DocStatusProcessing = "processing"
	DocStatusCompleted  = "completed"
	DocStatusFailed     = "failed"
)

// PricingItem is one line item extracted from a document.
type PricingItem struct {
	Item       string `json:"item"`
	Quantity   string `json:"quantity"`
	UnitPrice  string `json:"unit_price"`
	TotalPrice string `json:"total_price"`
}

// StructuredData is the document-level extraction record. Every field is
// present with an empty default; the extraction adapter guarantees no field
// is ever null, so merge logic never special-cases absence.
type StructuredData struct {
	VendorName         string        `json:"vendor_name"`
	DocumentType       string        `json:"document_type"`
	Pricing            []PricingItem `json:"pricing"`
	ProductsOrServices []string      `json:"products_or_services"`
	DeliveryTerms      string        `json:"delivery_terms"`
	PaymentTerms       string        `json:"payment_terms"`
	SpecialClauses     string        `json:"special_clauses"`
	Notes              string        `json:"notes"`
}

// NewStructuredData returns a record with all fields at their empty defaults.
func NewStructuredData() StructuredData {
	return StructuredData{
		Pricing:            []PricingItem{},
		ProductsOrServices: []string{},
	}
}

// EmbeddedTable carries tabular content found inside a document section.
// Tables are attached to the first chunk of their section only.
type EmbeddedTable struct {
	TableID string     `json:"table_id"`
	Rows    [][]string `json:"rows"`
}

// DocumentChunk is one bounded, overlapping slice of document text prepared
// for independent extraction. Immutable once created.
//
// ID is a 12-hex content hash, suffixed "_<n>" when a section splits into
// multiple chunks, so it is stable across retries and unique per document.
// SourceLocator records where the text came from, e.g. "page_12_chunk_3".
type DocumentChunk struct {
	ID            string          `json:"id"`
	SequenceIndex int             `json:"sequence_index"`
	SourceLocator string          `json:"source_locator"`
	Text          string          `json:"text"`
	WordCount     int             `json:"word_count"`
	QualityScore  float64         `json:"quality_score"`
	Tables        []EmbeddedTable `json:"tables,omitempty"`
}

// ChunkAnalysis is the extraction result for a single chunk. Produced exactly
// once per successful attempt; failed attempts produce none.
type ChunkAnalysis struct {
	ChunkID    string
	Fields     StructuredData
	Confidence float64 // [0,1]
	Latency    time.Duration
}

// ProcessingLimits are the knobs the backpressure controller hands to the
// worker pool. Sampled at batch boundaries, never mutated mid-batch.
type ProcessingLimits struct {
	ChunkWordSize int
	OverlapWords  int
	MaxConcurrent int
	BatchSize     int
	ForceGC       bool
}

// TaskStatus is the lifecycle state of one pipeline run.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// TaskProgress is the persisted progress record for one document run.
type TaskProgress struct {
	TaskID         string            `json:"task_id"`
	OwnerID        string            `json:"owner_id"`
	Status         TaskStatus        `json:"status"`
	PercentDone    float64           `json:"percent_done"`
	CurrentStage   string            `json:"current_stage"`
	TotalSteps     int               `json:"total_steps"`
	CompletedSteps int               `json:"completed_steps"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	ResultRef      string            `json:"result_ref,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
}
