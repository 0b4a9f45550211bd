package storage

import (
	"errors"
	"time"

	"github.com/scrypster/council/pkg/types"
)

var (
	// ErrNotFound indicates that the requested record was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// ListFilter narrows a per-character listing. Zero values mean "no filter".
type ListFilter struct {
	// Category restricts results to a single category.
	Category types.Category

	// MinImportance is the inclusive lower bound on importance (0–1 form).
	MinImportance float64

	// Since and Until bound the memory formation timestamp.
	Since time.Time
	Until time.Time

	// Limit caps the number of results; 0 means no cap.
	Limit int

	// Offset skips the first N results.
	Offset int
}
