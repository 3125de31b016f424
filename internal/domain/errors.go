package domain

import "errors"

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrDocumentNotFound signals a missing document.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrEntityNotFound signals a missing entity.
	ErrEntityNotFound = errors.New("entity not found")
	// ErrThreadNotFound signals a missing chat thread.
	ErrThreadNotFound = errors.New("thread not found")
	// ErrInvalidInput signals a request that fails validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrContentUnavailable signals that source content could not be fetched or normalized.
	ErrContentUnavailable = errors.New("content unavailable")
	// ErrEnrichmentUnavailable signals an enrichment provider failure (summarize/extract/embed/generate).
	ErrEnrichmentUnavailable = errors.New("enrichment provider unavailable")
)
