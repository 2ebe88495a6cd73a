// Package relationship maintains the memory graph: automatic edges
// discovered by embedding similarity and manual edges created by the user.
package relationship

import (
	"context"
	"fmt"

	"github.com/everkeep/everkeep/internal/storage"
)

// Discovery parameters. The discovery threshold sits above the recall
// threshold on purpose: an edge is a durable claim that two memories belong
// together, not just a search hit.
const (
	DefaultThreshold = 0.75
	DefaultMaxLinks  = 10
)

// Store is the slice of the storage layer the engine needs.
type Store interface {
	storage.SearchProvider
	storage.RelationshipStore
}

// Engine discovers and maintains relationships between memories.
type Engine struct {
	store     Store
	threshold float64
	maxLinks  int
}

// NewEngine creates an engine with the default discovery parameters.
func NewEngine(store Store) *Engine {
	return &Engine{
		store:     store,
		threshold: DefaultThreshold,
		maxLinks:  DefaultMaxLinks,
	}
}

// FindRelated returns the IDs of stored memories similar enough to the
// embedding to link, excluding the memory itself. Every operation is scoped
// to the owning user and soft-deleted memories never surface.
func (e *Engine) FindRelated(ctx context.Context, userID, memoryID string, embedding []float32) ([]string, error) {
	if len(embedding) == 0 {
		return nil, nil
	}

	// Fetch one extra so the memory's own row does not eat a slot.
	scored, err := e.store.VectorSearch(ctx, userID, embedding, e.threshold, e.maxLinks+1)
	if err != nil {
		return nil, fmt.Errorf("relationship: find related: %w", err)
	}

	related := make([]string, 0, len(scored))
	for _, s := range scored {
		if s.Memory.ID == memoryID {
			continue
		}
		related = append(related, s.Memory.ID)
		if len(related) == e.maxLinks {
			break
		}
	}
	return related, nil
}

// UpsertRelationships records auto edges from the memory to each related
// memory with the given scores. Existing manual edges are never downgraded;
// existing auto edges get their score refreshed. Safe to call repeatedly.
func (e *Engine) UpsertRelationships(ctx context.Context, memoryID string, related []string, scores map[string]float64) error {
	for _, otherID := range related {
		score := scores[otherID]
		if err := e.store.UpsertAuto(ctx, memoryID, otherID, score); err != nil {
			return fmt.Errorf("relationship: upsert %s<->%s: %w", memoryID, otherID, err)
		}
	}
	return nil
}

// DiscoverAndLink runs discovery for a freshly stored or updated memory and
// records the resulting edges. It returns the linked memory IDs.
func (e *Engine) DiscoverAndLink(ctx context.Context, userID, memoryID string, embedding []float32) ([]string, error) {
	if len(embedding) == 0 {
		return nil, nil
	}

	scored, err := e.store.VectorSearch(ctx, userID, embedding, e.threshold, e.maxLinks+1)
	if err != nil {
		return nil, fmt.Errorf("relationship: discover: %w", err)
	}

	var linked []string
	for _, s := range scored {
		if s.Memory.ID == memoryID {
			continue
		}
		if err := e.store.UpsertAuto(ctx, memoryID, s.Memory.ID, s.Similarity); err != nil {
			return nil, fmt.Errorf("relationship: link %s<->%s: %w", memoryID, s.Memory.ID, err)
		}
		linked = append(linked, s.Memory.ID)
		if len(linked) == e.maxLinks {
			break
		}
	}
	return linked, nil
}

// LinkManual records a user-confirmed edge between two memories. Manual
// edges carry score 1.0 and survive automatic refreshes.
func (e *Engine) LinkManual(ctx context.Context, aID, bID string) error {
	if err := e.store.UpsertManual(ctx, aID, bID); err != nil {
		return fmt.Errorf("relationship: link manual: %w", err)
	}
	return nil
}

// Unlink removes the edge between two memories regardless of its type.
func (e *Engine) Unlink(ctx context.Context, aID, bID string) error {
	if err := e.store.DeleteRelationship(ctx, aID, bID); err != nil {
		return fmt.Errorf("relationship: unlink: %w", err)
	}
	return nil
}
