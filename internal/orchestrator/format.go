package orchestrator

import (
	"fmt"
	"strings"

	"github.com/everkeep/everkeep/internal/retrieval"
	"github.com/everkeep/everkeep/pkg/types"
)

// formatRecall renders a retrieval result for the reply body.
func formatRecall(result *retrieval.Result) string {
	header := "Here's what I have:"
	if result.Degraded {
		header = "Here's what I have (keyword match only right now):"
	}
	return formatMemoryList(header, result.Memories)
}

func formatMemoryList(header string, memories []types.Memory) string {
	var b strings.Builder
	b.WriteString(header)
	for i := range memories {
		m := &memories[i]
		b.WriteString("\n\n")
		fmt.Fprintf(&b, "%d. %s", i+1, m.Snippet(snippetLen))
		fmt.Fprintf(&b, "\n   — %s, %s", m.SourcePlatform, m.CreatedAt.Format("Jan 2 2006"))
	}
	return b.String()
}

// formatCaptured renders the confirmation for a stored memory.
func formatCaptured(memory *types.Memory, tagNames []string, linkedCount int, degraded bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Saved: %s", memory.Snippet(snippetLen))

	if len(tagNames) > 0 {
		fmt.Fprintf(&b, "\nTagged: %s", strings.Join(tagNames, ", "))
	}
	switch linkedCount {
	case 0:
	case 1:
		b.WriteString("\nLinked to 1 related memory.")
	default:
		fmt.Fprintf(&b, "\nLinked to %d related memories.", linkedCount)
	}
	if degraded {
		b.WriteString("\n(Semantic index is offline, so this one is keyword-searchable for now.)")
	}
	return b.String()
}
