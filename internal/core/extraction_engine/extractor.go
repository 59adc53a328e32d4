package extraction_engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/venxtra/venxtra/internal/core"
	"github.com/venxtra/venxtra/internal/models"
)

// maxPromptChars bounds the chunk text included in one request; the service
// enforces an input ceiling and we leave room for the prompt itself.
const maxPromptChars = 6000

const chunkSystemPrompt = `You are a document understanding AI that extracts structured vendor information from document chunks.
This is a CHUNK of a larger document. Extract whatever information is available.

Extract the following information and return it as JSON:
- vendor_name: Name of the vendor/supplier (string, use "Unknown" if not found in this chunk)
- document_type: Type of document like quote, invoice, proposal, contract (string, use "Unknown" if not clear)
- pricing: Array of items with fields: item, quantity, unit_price, total_price (array, can be empty)
- products_or_services: List of products or services mentioned (array of strings, can be empty)
- delivery_terms: Delivery conditions mentioned in this chunk (string, use "" if none)
- payment_terms: Payment conditions mentioned in this chunk (string, use "" if none)
- special_clauses: Any special terms or clauses in this chunk (string, use "" if none)
- notes: Important information from this chunk (string, use "" if none)
- confidence_score: Your confidence in the extraction (0.0 to 1.0)

IMPORTANT:
- This is only a CHUNK, not the complete document
- Extract only what's clearly present in this chunk
- Use empty strings/arrays for missing information
- Be conservative with vendor_name - only extract if clearly stated
- Return ONLY valid JSON without markdown formatting`

// ChunkExtractor wraps one outbound call to the extraction service for a
// single chunk: prompt construction, response cleanup/parsing and error
// classification.
type ChunkExtractor struct {
	llm core.LLMProvider
	log *zap.Logger
}

func NewChunkExtractor(llm core.LLMProvider, log *zap.Logger) *ChunkExtractor {
	return &ChunkExtractor{llm: llm, log: log}
}

// Extract runs a single attempt for one chunk. Failures come back as
// *ExtractionError; the caller owns the retry decision.
func (e *ChunkExtractor) Extract(ctx context.Context, chunk models.DocumentChunk, totalChunks int) (models.ChunkAnalysis, error) {
	start := time.Now()

	userPrompt := e.buildPrompt(chunk, totalChunks)

	raw, err := e.llm.Generate(ctx, chunkSystemPrompt, userPrompt)
	if err != nil {
		return models.ChunkAnalysis{}, classifyServiceError(chunk.ID, err)
	}

	payload := stripCodeFences(raw)

	var parsed map[string]any
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return models.ChunkAnalysis{}, &ExtractionError{
			Kind:    KindMalformed,
			ChunkID: chunk.ID,
			Err:     fmt.Errorf("response is not a JSON object: %w", err),
		}
	}

	fields, confidence := normalizeFields(parsed)

	return models.ChunkAnalysis{
		ChunkID:    chunk.ID,
		Fields:     fields,
		Confidence: confidence,
		Latency:    time.Since(start),
	}, nil
}

// buildPrompt includes position metadata so the service can reason about
// partial content, and truncates the chunk text to the input ceiling.
func (e *ChunkExtractor) buildPrompt(chunk models.DocumentChunk, totalChunks int) string {
	text := chunk.Text
	if len(text) > maxPromptChars {
		text = text[:maxPromptChars]
	}

	return fmt.Sprintf(`Extract structured vendor information from this document chunk:

Chunk ID: %s
Page/Section: %s
Position: chunk %d of %d

Content:
%s`, chunk.ID, chunk.SourceLocator, chunk.SequenceIndex+1, totalChunks, text)
}

// stripCodeFences removes enclosing markdown fence markup the service
// sometimes wraps around its JSON.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = s[len("```json"):]
	} else if strings.HasPrefix(s, "```") {
		s = s[len("```"):]
	}
	if strings.HasSuffix(s, "```") {
		s = s[:len(s)-len("```")]
	}
	return strings.TrimSpace(s)
}

// normalizeFields coerces the loose response object into the result schema:
// every field present, empty string/list instead of null, string fields
// flattened from stray lists, list fields lifted from stray strings.
func normalizeFields(parsed map[string]any) (models.StructuredData, float64) {
	out := models.NewStructuredData()

	out.VendorName = coerceString(parsed["vendor_name"])
	out.DocumentType = coerceString(parsed["document_type"])
	out.DeliveryTerms = coerceString(parsed["delivery_terms"])
	out.PaymentTerms = coerceString(parsed["payment_terms"])
	out.SpecialClauses = coerceString(parsed["special_clauses"])
	out.Notes = coerceString(parsed["notes"])
	out.ProductsOrServices = coerceStringList(parsed["products_or_services"])
	out.Pricing = coercePricing(parsed["pricing"])

	confidence := 0.5
	if c, ok := parsed["confidence_score"].(float64); ok {
		confidence = c
	}
	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}

	return out, confidence
}

func coerceString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := coerceString(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " | ")
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case bool:
		return fmt.Sprintf("%t", t)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", t))
	}
}

func coerceStringList(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s := coerceString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return []string{s}
		}
	}
	return []string{}
}

func coercePricing(v any) []models.PricingItem {
	items, ok := v.([]any)
	if !ok {
		return []models.PricingItem{}
	}
	out := make([]models.PricingItem, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, models.PricingItem{
			Item:       coerceString(m["item"]),
			Quantity:   coerceString(m["quantity"]),
			UnitPrice:  coerceString(m["unit_price"]),
			TotalPrice: coerceString(m["total_price"]),
		})
	}
	return out
}
