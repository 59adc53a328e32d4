package extraction_engine

import (
	"strings"

	"github.com/venxtra/venxtra/internal/models"
)

// FieldKind selects the merge rule for one result field.
type FieldKind int

const (
	// FieldScalar keeps the value from the highest-confidence chunk that
	// produced a non-empty, non-"Unknown" value.
	FieldScalar FieldKind = iota
	// FieldRecordList concatenates and deduplicates structured rows.
	FieldRecordList
	// FieldFlatList unions strings case-insensitively, preserving the first
	// seen casing.
	FieldFlatList
	// FieldFreeText joins unique fragments with " | " in first-occurrence
	// order.
	FieldFreeText
)

// fieldSpec ties one result field to its merge rule. Adding a field to the
// result schema means adding a row here, and the exhaustive switch in Merge
// makes a missing rule a compile-time-visible gap, not silent data loss.
type fieldSpec struct {
	name string
	kind FieldKind
}

var resultSchema = []fieldSpec{
	{"vendor_name", FieldScalar},
	{"document_type", FieldScalar},
	{"pricing", FieldRecordList},
	{"products_or_services", FieldFlatList},
	{"delivery_terms", FieldFreeText},
	{"payment_terms", FieldFreeText},
	{"special_clauses", FieldFreeText},
	{"notes", FieldFreeText},
}

// Aggregator folds per-chunk analyses into one document-level record.
// Deterministic: same analyses in the same order, same output. Merging an
// already merged result with itself changes nothing.
type Aggregator struct{}

func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Merge combines the chunk analyses into a single StructuredData. It returns
// ErrAllChunksFailed when given no analyses; callers should not reach this
// with an empty slice in normal operation.
func (a *Aggregator) Merge(analyses []models.ChunkAnalysis) (models.StructuredData, error) {
	if len(analyses) == 0 {
		return models.StructuredData{}, ErrAllChunksFailed
	}

	out := models.NewStructuredData()
	for _, spec := range resultSchema {
		switch spec.kind {
		case FieldScalar:
			setScalar(&out, spec.name, mergeScalar(analyses, spec.name))
		case FieldRecordList:
			out.Pricing = mergePricing(analyses)
		case FieldFlatList:
			out.ProductsOrServices = mergeFlatList(analyses)
		case FieldFreeText:
			setScalar(&out, spec.name, mergeFreeText(analyses, spec.name))
		}
	}
	return out, nil
}

// AverageConfidence is the mean chunk confidence, reported alongside the
// merged record for logging.
func AverageConfidence(analyses []models.ChunkAnalysis) float64 {
	if len(analyses) == 0 {
		return 0
	}
	var sum float64
	for _, a := range analyses {
		sum += a.Confidence
	}
	return sum / float64(len(analyses))
}

func scalarValue(fields models.StructuredData, name string) string {
	switch name {
	case "vendor_name":
		return fields.VendorName
	case "document_type":
		return fields.DocumentType
	case "delivery_terms":
		return fields.DeliveryTerms
	case "payment_terms":
		return fields.PaymentTerms
	case "special_clauses":
		return fields.SpecialClauses
	case "notes":
		return fields.Notes
	}
	return ""
}

func setScalar(out *models.StructuredData, name, value string) {
	switch name {
	case "vendor_name":
		out.VendorName = value
	case "document_type":
		out.DocumentType = value
	case "delivery_terms":
		out.DeliveryTerms = value
	case "payment_terms":
		out.PaymentTerms = value
	case "special_clauses":
		out.SpecialClauses = value
	case "notes":
		out.Notes = value
	}
}

// mergeScalar picks the value from the strictly highest-confidence chunk
// with a usable value; the earliest chunk wins confidence ties.
func mergeScalar(analyses []models.ChunkAnalysis, name string) string {
	best := ""
	bestConfidence := -1.0
	for _, a := range analyses {
		v := strings.TrimSpace(scalarValue(a.Fields, name))
		if v == "" || strings.EqualFold(v, "Unknown") {
			continue
		}
		if a.Confidence > bestConfidence {
			best = v
			bestConfidence = a.Confidence
		}
	}
	if best == "" {
		return "Unknown"
	}
	return best
}

// mergePricing concatenates line items in chunk order, dropping duplicates
// keyed on lowercase item plus total price. Rows without an item are noise
// and skipped.
func mergePricing(analyses []models.ChunkAnalysis) []models.PricingItem {
	seen := make(map[string]struct{})
	out := []models.PricingItem{}
	for _, a := range analyses {
		for _, item := range a.Fields.Pricing {
			name := strings.TrimSpace(item.Item)
			if name == "" {
				continue
			}
			key := strings.ToLower(name) + "|" + strings.TrimSpace(item.TotalPrice)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, item)
		}
	}
	return out
}

func mergeFlatList(analyses []models.ChunkAnalysis) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, a := range analyses {
		for _, v := range a.Fields.ProductsOrServices {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			key := strings.ToLower(v)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// mergeFreeText joins the unique non-empty fragments across chunks with
// " | " in first-occurrence order.
func mergeFreeText(analyses []models.ChunkAnalysis, name string) string {
	seen := make(map[string]struct{})
	var parts []string
	for _, a := range analyses {
		for _, fragment := range strings.Split(scalarValue(a.Fields, name), " | ") {
			fragment = strings.TrimSpace(fragment)
			if fragment == "" {
				continue
			}
			if _, dup := seen[fragment]; dup {
				continue
			}
			seen[fragment] = struct{}{}
			parts = append(parts, fragment)
		}
	}
	return strings.Join(parts, " | ")
}
