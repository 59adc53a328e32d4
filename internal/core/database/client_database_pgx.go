package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/venxtra/venxtra/internal/config"
	"github.com/venxtra/venxtra/internal/core"
	"github.com/venxtra/venxtra/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (core.DbClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Pool settings sized for a background worker, not an API tier.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	const q = `
		INSERT INTO documents
			(id, project_id, vendor_id, file_name, file_type, storage_url, raw_text, status, uploaded_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, now()))
	`
	_, err := c.db.ExecContext(ctx, q,
		doc.ID, doc.ProjectID, doc.VendorID, doc.FileName, doc.FileType, doc.StorageURL, doc.RawText, doc.Status, doc.UploadedAt)
	return err
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	const q = `
		SELECT id, project_id, vendor_id, file_name, file_type, storage_url, raw_text,
		       structured_data, status, error_message, uploaded_at, processed_at
		FROM documents
		WHERE id = $1
	`
	var (
		d          models.Document
		structured []byte
		errMsg     sql.NullString
	)
	err := c.db.QueryRowContext(ctx, q, id).Scan(
		&d.ID, &d.ProjectID, &d.VendorID, &d.FileName, &d.FileType, &d.StorageURL, &d.RawText,
		&structured, &d.Status, &errMsg, &d.UploadedAt, &d.ProcessedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d.ErrorMessage = errMsg.String
	if len(structured) > 0 {
		var data models.StructuredData
		if err := json.Unmarshal(structured, &data); err != nil {
			return nil, fmt.Errorf("decode structured_data for %s: %w", id, err)
		}
		d.Structured = &data
	}
	return &d, nil
}

func (c *DatabaseClient) ListDocumentsByVendor(ctx context.Context, vendorID string) ([]models.Document, error) {
	const q = `
		SELECT id, project_id, vendor_id, file_name, file_type, storage_url, status, uploaded_at
		FROM documents
		WHERE vendor_id = $1
		ORDER BY uploaded_at DESC
	`
	rows, err := c.db.QueryContext(ctx, q, vendorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(
			&d.ID, &d.ProjectID, &d.VendorID, &d.FileName, &d.FileType, &d.StorageURL, &d.Status, &d.UploadedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) ListPendingDocuments(ctx context.Context, limit int) ([]models.Document, error) {
	const q = `
		SELECT id, project_id, vendor_id, file_name, file_type, storage_url, raw_text, status, uploaded_at
		FROM documents
		WHERE status = $1
		ORDER BY uploaded_at ASC
		LIMIT $2
	`
	rows, err := c.db.QueryContext(ctx, q, models.DocStatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(
			&d.ID, &d.ProjectID, &d.VendorID, &d.FileName, &d.FileType, &d.StorageURL, &d.RawText, &d.Status, &d.UploadedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) UpdateDocumentStatus(ctx context.Context, id string, status string) error {
	const q = `
		UPDATE documents
		SET status = $2
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, status)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document not found: %s", id)
	}
	return nil
}

func (c *DatabaseClient) UpdateDocumentText(ctx context.Context, id string, rawText string) error {
	const q = `
		UPDATE documents
		SET raw_text = $2
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, rawText)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document not found: %s", id)
	}
	return nil
}

func (c *DatabaseClient) SaveProcessingResult(ctx context.Context, id string, data *models.StructuredData, status, errMsg string, processedAt time.Time) error {
	var structured []byte
	if data != nil {
		var err error
		structured, err = json.Marshal(data)
		if err != nil {
			return fmt.Errorf("encode structured_data for %s: %w", id, err)
		}
	}
	const q = `
		UPDATE documents
		SET structured_data = $2, status = $3, error_message = NULLIF($4, ''), processed_at = $5
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, structured, status, errMsg, processedAt)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document not found: %s", id)
	}
	return nil
}
