package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/everkeep/everkeep/internal/storage"
	"github.com/everkeep/everkeep/pkg/types"
)

// NetworkRecall finds direct nearest-neighbor seeds for the embedding, then
// widens the set one hop along stored relationships. Seeds come first in the
// result, followed by neighbors in seed order; each memory appears once.
//
// Neighbors belonging to another user or since soft-deleted are silently
// skipped rather than breaking the recall.
func (s *Searcher) NetworkRecall(ctx context.Context, userID string, embedding []float32, initialCount, relatedCount int, threshold float64) ([]types.Memory, error) {
	if initialCount <= 0 {
		initialCount = 5
	}
	if relatedCount <= 0 {
		relatedCount = 3
	}

	seeds, err := s.store.VectorSearch(ctx, userID, embedding, threshold, initialCount)
	if err != nil {
		return nil, fmt.Errorf("retrieval: seed search: %w", err)
	}

	seen := make(map[string]struct{}, len(seeds))
	out := make([]types.Memory, 0, len(seeds))
	for _, seed := range seeds {
		seen[seed.Memory.ID] = struct{}{}
		out = append(out, seed.Memory)
	}

	for _, seed := range seeds {
		neighborIDs, err := s.store.NeighborIDs(ctx, seed.Memory.ID, relatedCount)
		if err != nil {
			return nil, fmt.Errorf("retrieval: neighbors of %s: %w", seed.Memory.ID, err)
		}

		for _, id := range neighborIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}

			neighbor, err := s.store.GetMemory(ctx, userID, id)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("retrieval: load neighbor %s: %w", id, err)
			}
			out = append(out, *neighbor)
		}
	}

	return out, nil
}
