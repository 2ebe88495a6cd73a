package storage

import (
	"errors"

	"github.com/everkeep/everkeep/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	// Rows owned by a different user are reported identically so existence
	// never leaks across tenants.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict indicates that the operation conflicts with the current
	// state of the resource (e.g. editing a non-pending reminder).
	ErrConflict = errors.New("state conflict")
)

// ListOptions provides pagination for list operations.
type ListOptions struct {
	// Limit is the number of items to return (default: 20, max: 100).
	Limit int

	// Offset is the number of items to skip.
	Offset int
}

// Normalize applies defaults and bounds to the options.
func (o *ListOptions) Normalize() {
	if o.Limit < 1 {
		o.Limit = 20
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

// ScoredMemory pairs a memory with its similarity to a query embedding.
type ScoredMemory struct {
	Memory     types.Memory
	Similarity float64
}
