package types

import "time"

// RelationType distinguishes automatically discovered relationships from
// links the user created by hand.
type RelationType string

const (
	// RelationAuto marks edges discovered by similarity search.
	RelationAuto RelationType = "auto"

	// RelationManual marks edges the user created explicitly. Manual edges
	// always carry score 1.0 and are never downgraded by auto discovery.
	RelationManual RelationType = "manual"
)

// Relationship is an undirected edge between two memories, stored in
// canonical order (MemoryAID < MemoryBID) so each unordered pair has at most
// one row.
type Relationship struct {
	MemoryAID       string       `json:"memory_a_id"`
	MemoryBID       string       `json:"memory_b_id"`
	Type            RelationType `json:"type"`
	SimilarityScore float64      `json:"similarity_score"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// CanonicalPair orders two memory IDs deterministically so the unordered
// pair {a, b} always maps to the same (first, second) row key.
func CanonicalPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

// IsCanonical reports whether the relationship's endpoints are stored in
// canonical order.
func (r *Relationship) IsCanonical() bool {
	return r.MemoryAID < r.MemoryBID
}

// Other returns the endpoint opposite to the given memory ID, and false when
// the ID is not an endpoint of this relationship.
func (r *Relationship) Other(memoryID string) (string, bool) {
	switch memoryID {
	case r.MemoryAID:
		return r.MemoryBID, true
	case r.MemoryBID:
		return r.MemoryAID, true
	}
	return "", false
}
