package ingest

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/everkeep/everkeep/pkg/types"
)

const (
	// dedupTTL is how long a delivered message ID is remembered. Provider
	// webhook retries arrive well inside this window.
	dedupTTL = 5 * time.Minute

	dedupSize = 8192
)

// Deduper suppresses duplicate webhook deliveries by provider message ID.
// The cache is process-local: after a restart a redelivered message may be
// processed again, which is acceptable because memory creation is the only
// side effect and the durable store is the source of truth.
type Deduper struct {
	cache *expirable.LRU[string, struct{}]
}

// NewDeduper creates a deduplication cache.
func NewDeduper() *Deduper {
	return &Deduper{
		cache: expirable.NewLRU[string, struct{}](dedupSize, nil, dedupTTL),
	}
}

// Seen reports whether the message was already delivered inside the TTL
// window, marking it as seen otherwise. Messages without a provider ID are
// never deduplicated.
func (d *Deduper) Seen(channel types.Channel, messageID string) bool {
	if messageID == "" {
		return false
	}
	key := string(channel) + ":" + messageID
	if _, ok := d.cache.Get(key); ok {
		return true
	}
	d.cache.Add(key, struct{}{})
	return false
}
