// Package retrieval answers recall queries over a user's memories. Hybrid
// search fuses the lexical and semantic legs with weighted reciprocal rank
// fusion; network recall widens a seed set along stored memory
// relationships.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/everkeep/everkeep/internal/collab"
	"github.com/everkeep/everkeep/internal/storage"
	"github.com/everkeep/everkeep/pkg/types"
)

// Default fusion parameters. The RRF constant dampens the advantage of the
// very top ranks; the semantic leg is weighted slightly above lexical because
// paraphrased recall queries rarely share exact terms with the memory.
const (
	DefaultRRFK           = 50
	DefaultLexicalWeight  = 1.0
	DefaultSemanticWeight = 1.2
	DefaultMinSimilarity  = 0.3
)

// Store is the slice of the storage layer retrieval needs.
type Store interface {
	storage.MemoryStore
	storage.SearchProvider
	storage.RelationshipStore
}

// Config tunes the fusion.
type Config struct {
	// RRFK is the k constant in score = w / (k + rank).
	RRFK int

	LexicalWeight  float64
	SemanticWeight float64

	// MinSimilarity is the cosine floor for the semantic leg.
	MinSimilarity float64
}

func (c Config) withDefaults() Config {
	if c.RRFK == 0 {
		c.RRFK = DefaultRRFK
	}
	if c.LexicalWeight == 0 {
		c.LexicalWeight = DefaultLexicalWeight
	}
	if c.SemanticWeight == 0 {
		c.SemanticWeight = DefaultSemanticWeight
	}
	if c.MinSimilarity == 0 {
		c.MinSimilarity = DefaultMinSimilarity
	}
	return c
}

// Searcher runs recall queries.
type Searcher struct {
	store    Store
	embedder collab.Embedder
	config   Config
}

// NewSearcher creates a searcher. A nil embedder pins every hybrid query to
// the lexical leg.
func NewSearcher(store Store, embedder collab.Embedder, config Config) *Searcher {
	return &Searcher{
		store:    store,
		embedder: embedder,
		config:   config.withDefaults(),
	}
}

// Result is a fused recall answer.
type Result struct {
	// Memories is the fused list, best first.
	Memories []types.Memory

	// Degraded is set when the semantic leg was skipped because the
	// embedding backend was unavailable.
	Degraded bool
}

// HybridSearch runs both legs and fuses them by weighted RRF. An embedding
// failure degrades the query to lexical-only rather than failing it.
func (s *Searcher) HybridSearch(ctx context.Context, userID, query string, limit int) (*Result, error) {
	if limit <= 0 {
		limit = 10
	}
	// Each leg over-fetches so a memory ranked just outside the final cut
	// on one leg can still be lifted in by the other.
	poolSize := limit * 2

	lexical, err := s.store.FullTextSearch(ctx, userID, query, poolSize)
	if err != nil {
		return nil, fmt.Errorf("retrieval: lexical search: %w", err)
	}

	semantic, degraded := s.semanticLeg(ctx, userID, query, poolSize)

	fused := fuse(s.config, lexical, semantic)
	if len(fused) > limit {
		fused = fused[:limit]
	}

	return &Result{Memories: fused, Degraded: degraded}, nil
}

// semanticLeg embeds the query and runs vector search. Any failure flags
// degradation instead of propagating: a recall answer from the lexical leg
// alone beats no answer.
func (s *Searcher) semanticLeg(ctx context.Context, userID, query string, limit int) ([]storage.ScoredMemory, bool) {
	if s.embedder == nil {
		return nil, true
	}

	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		if !errors.Is(err, collab.ErrUnavailable) {
			log.Printf("WARNING: retrieval: embed query: %v", err)
		}
		return nil, true
	}

	scored, err := s.store.VectorSearch(ctx, userID, embedding, s.config.MinSimilarity, limit)
	if err != nil {
		log.Printf("WARNING: retrieval: vector search: %v", err)
		return nil, true
	}
	return scored, false
}

// fuse combines both ranked lists with weighted reciprocal rank fusion,
// breaking score ties by recency.
func fuse(config Config, lexical []types.Memory, semantic []storage.ScoredMemory) []types.Memory {
	type candidate struct {
		memory types.Memory
		score  float64
	}
	byID := make(map[string]*candidate)

	add := func(memory types.Memory, rank int, weight float64) {
		c, ok := byID[memory.ID]
		if !ok {
			c = &candidate{memory: memory}
			byID[memory.ID] = c
		}
		c.score += weight / float64(config.RRFK+rank)
	}

	for i, m := range lexical {
		add(m, i+1, config.LexicalWeight)
	}
	for i, sm := range semantic {
		add(sm.Memory, i+1, config.SemanticWeight)
	}

	candidates := make([]*candidate, 0, len(byID))
	for _, c := range byID {
		candidates = append(candidates, c)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].memory.CreatedAt.After(candidates[j].memory.CreatedAt)
	})

	out := make([]types.Memory, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.memory)
	}
	return out
}
