// Package tags keeps a user's tag vocabulary tidy. Over time the same
// concept accumulates spellings — "meeting", "meetings", "mtg" — and the
// consolidator folds them into one canonical tag without losing any
// memory↔tag association.
package tags

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/everkeep/everkeep/internal/storage"
	"github.com/everkeep/everkeep/pkg/types"
)

// Similarity thresholds are length-dependent: short tags need a closer match
// because a single edit on a four-letter tag is a big relative change.
const (
	shortTagLen        = 5
	shortTagThreshold  = 0.85
	normalTagThreshold = 0.80
)

// abbreviations maps common shorthand onto the full word. Matching is exact
// or substring in either direction after normalization.
var abbreviations = map[string]string{
	"mtg":   "meeting",
	"mtgs":  "meeting",
	"appt":  "appointment",
	"appts": "appointment",
	"msg":   "message",
	"msgs":  "message",
	"doc":   "document",
	"docs":  "document",
	"pic":   "picture",
	"pics":  "picture",
	"recs":  "recommendation",
	"rec":   "recommendation",
	"fin":   "finance",
	"med":   "medical",
	"meds":  "medical",
	"wk":    "work",
	"hw":    "homework",
	"bday":  "birthday",
	"anniv": "anniversary",
	"gro":   "grocery",
	"tix":   "ticket",
	"resto": "restaurant",
}

// Consolidator merges near-duplicate tags.
type Consolidator struct {
	store storage.TagStore
}

// NewConsolidator creates a consolidator over the given tag store.
func NewConsolidator(store storage.TagStore) *Consolidator {
	return &Consolidator{store: store}
}

// Merge records one absorbed tag.
type Merge struct {
	// Canonical is the surviving tag name.
	Canonical string `json:"canonical"`

	// Absorbed is the tag folded into the canonical one.
	Absorbed string `json:"absorbed"`

	// MovedUsage is the usage count transferred to the canonical tag.
	MovedUsage int `json:"moved_usage"`
}

// MergeReport summarizes one consolidation run.
type MergeReport struct {
	// Examined is the number of tags considered.
	Examined int `json:"examined"`

	Merges []Merge `json:"merges"`
}

// MergeSimilarTags groups a user's tags into equivalence classes (exact
// normalized match, abbreviation dictionary, or edit-distance similarity) and
// folds each group into its most-used member. Associations are reassigned,
// never dropped, and the canonical tag inherits the absorbed usage counts.
//
// Each group merges atomically with respect to its own associations; a
// failure mid-run leaves earlier groups merged and later ones untouched,
// which the next run picks up.
func (c *Consolidator) MergeSimilarTags(ctx context.Context, userID string) (*MergeReport, error) {
	tags, err := c.store.ListTags(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("tags: list for merge: %w", err)
	}

	report := &MergeReport{Examined: len(tags)}
	if len(tags) < 2 {
		return report, nil
	}

	groups := groupEquivalent(tags)
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		merges, err := c.mergeGroup(ctx, group)
		if err != nil {
			return report, fmt.Errorf("tags: merge group around %q: %w", group[0].Name, err)
		}
		report.Merges = append(report.Merges, merges...)
	}

	return report, nil
}

// mergeGroup folds every tag in the group into the highest-usage member.
func (c *Consolidator) mergeGroup(ctx context.Context, group []types.Tag) ([]Merge, error) {
	sort.Slice(group, func(i, j int) bool {
		if group[i].UsageCount != group[j].UsageCount {
			return group[i].UsageCount > group[j].UsageCount
		}
		return group[i].Name < group[j].Name
	})
	canonical := group[0]

	var merges []Merge
	for _, absorbed := range group[1:] {
		if err := c.store.ReassignTagAssociations(ctx, absorbed.ID, canonical.ID); err != nil {
			return merges, fmt.Errorf("reassign %q: %w", absorbed.Name, err)
		}
		if absorbed.UsageCount != 0 {
			if err := c.store.AddTagUsage(ctx, canonical.ID, absorbed.UsageCount); err != nil {
				return merges, fmt.Errorf("transfer usage of %q: %w", absorbed.Name, err)
			}
		}
		if err := c.store.DeleteTag(ctx, absorbed.ID); err != nil {
			return merges, fmt.Errorf("delete %q: %w", absorbed.Name, err)
		}

		log.Printf("tags: merged %q into %q (usage %d)", absorbed.Name, canonical.Name, absorbed.UsageCount)
		merges = append(merges, Merge{
			Canonical:  canonical.Name,
			Absorbed:   absorbed.Name,
			MovedUsage: absorbed.UsageCount,
		})
	}
	return merges, nil
}

// groupEquivalent partitions tags into connected components under the
// pairwise equivalence relation, via union-find. Transitivity is deliberate:
// if "mtg" matches "meeting" and "meetings" matches "meeting", all three
// belong together even though "mtg" and "meetings" alone might not match.
func groupEquivalent(tags []types.Tag) [][]types.Tag {
	parent := make([]int, len(tags))
	for i := range parent {
		parent[i] = i
	}

	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(i, j int) {
		ri, rj := find(i), find(j)
		if ri != rj {
			parent[rj] = ri
		}
	}

	normalized := make([]string, len(tags))
	for i, tag := range tags {
		normalized[i] = Normalize(tag.Name)
	}

	for i := 0; i < len(tags); i++ {
		for j := i + 1; j < len(tags); j++ {
			if equivalent(normalized[i], normalized[j]) {
				union(i, j)
			}
		}
	}

	byRoot := make(map[int][]types.Tag)
	for i, tag := range tags {
		root := find(i)
		byRoot[root] = append(byRoot[root], tag)
	}

	groups := make([][]types.Tag, 0, len(byRoot))
	for _, group := range byRoot {
		groups = append(groups, group)
	}
	return groups
}

// Normalize reduces a tag name to its comparison form: lowercase, trimmed,
// separators stripped, plural suffixes folded.
func Normalize(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, "_", "")

	switch {
	case strings.HasSuffix(s, "ies") && len(s) > 4:
		s = s[:len(s)-3] + "y"
	case strings.HasSuffix(s, "es") && len(s) > 3:
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "s") && len(s) > 3:
		s = s[:len(s)-1]
	}
	return s
}

// equivalent decides whether two normalized tag names denote the same
// concept.
func equivalent(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	if expandsTo(a, b) || expandsTo(b, a) {
		return true
	}
	return similarity(a, b) >= thresholdFor(a, b)
}

// expandsTo reports whether a is a known abbreviation of b, matched exactly
// or as a substring of the expansion.
func expandsTo(a, b string) bool {
	full, ok := abbreviations[a]
	if !ok {
		return false
	}
	return full == b || strings.Contains(b, full) || strings.Contains(full, b)
}

// similarity is 1 - normalized levenshtein distance.
func similarity(a, b string) float64 {
	longest := len([]rune(a))
	if n := len([]rune(b)); n > longest {
		longest = n
	}
	if longest == 0 {
		return 0
	}
	distance := levenshtein.ComputeDistance(a, b)
	return 1 - float64(distance)/float64(longest)
}

func thresholdFor(a, b string) float64 {
	if len([]rune(a)) <= shortTagLen || len([]rune(b)) <= shortTagLen {
		return shortTagThreshold
	}
	return normalTagThreshold
}
