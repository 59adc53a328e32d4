package extraction_engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind classifies a failed extraction attempt. The worker pool retries
// everything except KindFatal.
type ErrorKind string

const (
	// KindNetwork covers transport failures and timeouts.
	KindNetwork ErrorKind = "network_error"
	// KindMalformed means the service responded but the payload did not
	// parse as the expected field schema.
	KindMalformed ErrorKind = "malformed_response"
	// KindService covers non-2xx responses and error payloads.
	KindService ErrorKind = "service_error"
	// KindFatal is a permanent rejection, e.g. content too large. Never
	// retried.
	KindFatal ErrorKind = "fatal"
)

// ExtractionError is the failure surfaced by the extraction adapter for one
// chunk attempt.
type ExtractionError struct {
	Kind    ErrorKind
	ChunkID string
	Err     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract chunk %s: %s: %v", e.ChunkID, e.Kind, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Retryable reports whether the worker pool may attempt this chunk again.
func (e *ExtractionError) Retryable() bool { return e.Kind != KindFatal }

// ErrAllChunksFailed terminates a run as failed when no chunk produced a
// result; per-chunk failures alone never abort the run.
var ErrAllChunksFailed = errors.New("all chunks failed to process")

// ErrRunCancelled is returned by the worker pool when it observes a
// cancelled task at a batch boundary and stops dispatching.
var ErrRunCancelled = errors.New("run cancelled")

// ErrMemoryCritical is returned by the worker pool when the memory monitor
// halts dispatch at a batch boundary. Results obtained before the halt
// accompany it and remain usable.
var ErrMemoryCritical = errors.New("memory critical, dispatch halted")

// fatalMarkers are service payload fragments that indicate a permanent
// rejection of the request.
var fatalMarkers = []string{
	"content too large",
	"request entity too large",
	"payload too large",
	"prompt is too long",
	"context length exceeded",
}

// classifyServiceError wraps an error from the outbound extraction call into
// an ExtractionError with the right kind.
func classifyServiceError(chunkID string, err error) *ExtractionError {
	kind := KindService

	msg := strings.ToLower(err.Error())
	for _, marker := range fatalMarkers {
		if strings.Contains(msg, marker) {
			return &ExtractionError{Kind: KindFatal, ChunkID: chunkID, Err: err}
		}
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindNetwork
	case errors.As(err, &netErr):
		kind = KindNetwork
	}
	return &ExtractionError{Kind: kind, ChunkID: chunkID, Err: err}
}
