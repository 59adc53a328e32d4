package extraction_engine

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/venxtra/venxtra/internal/models"
)

// minContentChars is the floor under which a section yields no chunks at
// all; the caller treats that as "nothing to process", not an error.
const minContentChars = 10

// Chunker splits section text into overlapping word-bounded chunks and
// applies the quality gate. Pure over its inputs plus the threshold.
type Chunker struct {
	// QualityThreshold drops chunks scoring below it. Kept low by default
	// so legitimate short chunks survive while near-empty noise does not.
	QualityThreshold float64
}

func NewChunker(qualityThreshold float64) *Chunker {
	return &Chunker{QualityThreshold: qualityThreshold}
}

// Split slides a window of targetWords over the text, advancing by
// targetWords-overlapWords per step. Text that fits in one window emits a
// single chunk. Tables attach to the first chunk of the section only.
//
// SequenceIndex is local to this call; callers processing multiple sections
// renumber across the whole document.
func (c *Chunker) Split(text, locator string, targetWords, overlapWords int, tables []models.EmbeddedTable) []models.DocumentChunk {
	if len(strings.TrimSpace(text)) < minContentChars {
		return nil
	}
	if targetWords < 1 {
		targetWords = 1
	}
	// The window must advance every step; both knobs are env-configurable.
	if overlapWords >= targetWords {
		overlapWords = targetWords - 1
	}

	words := strings.Fields(text)

	if len(words) <= targetWords {
		chunk := models.DocumentChunk{
			ID:            chunkID(text),
			SequenceIndex: 0,
			SourceLocator: locator,
			Text:          text,
			WordCount:     len(words),
			QualityScore:  qualityScore(text),
			Tables:        tables,
		}
		if chunk.QualityScore < c.QualityThreshold {
			return nil
		}
		return []models.DocumentChunk{chunk}
	}

	var chunks []models.DocumentChunk
	start, num := 0, 0
	for start < len(words) {
		end := start + targetWords
		if end > len(words) {
			end = len(words)
		}
		chunkText := strings.Join(words[start:end], " ")

		chunk := models.DocumentChunk{
			ID:            fmt.Sprintf("%s_%d", chunkID(chunkText), num),
			SequenceIndex: num,
			SourceLocator: fmt.Sprintf("%s_chunk_%d", locator, num),
			Text:          chunkText,
			WordCount:     end - start,
			QualityScore:  qualityScore(chunkText),
		}
		if num == 0 {
			chunk.Tables = tables
		}
		if chunk.QualityScore >= c.QualityThreshold {
			chunks = append(chunks, chunk)
		}

		if end < len(words) {
			start = end - overlapWords
		} else {
			start = end
		}
		num++
	}
	return chunks
}

// qualityScore is a bounded [0,1] function of character density and mean
// line length.
func qualityScore(text string) float64 {
	if text == "" {
		return 0
	}
	charCount := float64(len(text))
	lineCount := float64(len(strings.Split(text, "\n")))
	avgLineLen := charCount / lineCount

	score := (charCount*0.001 + avgLineLen*0.01) / 2
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// chunkID hashes chunk content to a short stable identifier.
func chunkID(content string) string {
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])[:12]
}
