package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/everkeep/everkeep/pkg/types"
)

type intent int

const (
	intentRecall intent = iota
	intentCreate
)

// Explicit mode overrides. Saying one of these switches the sticky
// conversation mode until the next override.
const (
	overrideCreate = "capture mode"
	overrideRecall = "recall mode"
)

// createPrefixes mark a message as something to store when it starts with
// one of them.
var createPrefixes = []string{
	"remember",
	"note",
	"save",
	"keep in mind",
	"don't forget",
	"dont forget",
	"fyi",
}

// recallSignals mark a message as a question about stored memories.
var recallSignals = []string{
	"what", "when", "where", "who", "which", "why", "how",
	"did i", "do i", "have i",
	"show", "find", "search", "recall", "tell me", "list",
}

const classifyPromptFormat = `You route messages for a personal memory assistant.
Classify the user's message as exactly one word, "recall" (they are asking
about something previously stored) or "create" (they are telling you something
to store).

Message: %q

Answer with one word:`

// classify decides whether the message asks for recall or capture. Keyword
// rules run first; ambiguous messages go to the completion collaborator, and
// when that is unavailable the conversation's sticky mode decides.
func (o *Orchestrator) classify(ctx context.Context, state *types.ConversationState, text string) intent {
	lower := strings.ToLower(strings.TrimSpace(text))

	for _, prefix := range createPrefixes {
		if hasWordPrefix(lower, prefix) {
			return intentCreate
		}
	}

	if strings.HasSuffix(lower, "?") {
		return intentRecall
	}
	for _, signal := range recallSignals {
		if hasWordPrefix(lower, signal) {
			return intentRecall
		}
	}

	// In sticky capture mode everything ambiguous is stored.
	if state.Mode == types.ModeCreate {
		return intentCreate
	}

	if o.completer != nil {
		answer, err := o.completer.Complete(ctx, fmt.Sprintf(classifyPromptFormat, text))
		if err == nil {
			if strings.Contains(strings.ToLower(answer), "create") {
				return intentCreate
			}
			return intentRecall
		}
		log.Printf("WARNING: orchestrator: intent classification: %v", err)
	}

	return intentRecall
}

// hasWordPrefix reports whether lower starts with prefix on a word boundary,
// so "savings" never matches the "save" command.
func hasWordPrefix(lower, prefix string) bool {
	if !strings.HasPrefix(lower, prefix) {
		return false
	}
	if len(lower) == len(prefix) {
		return true
	}
	switch lower[len(prefix)] {
	case ' ', ':', ',', '!', '.':
		return true
	}
	return false
}

// stripCreatePrefix removes the leading capture command from the content so
// "remember the wifi password is hunter2" stores as "the wifi password is
// hunter2".
func stripCreatePrefix(text string) string {
	lower := strings.ToLower(text)
	for _, prefix := range createPrefixes {
		if !hasWordPrefix(lower, prefix) {
			continue
		}
		rest := strings.TrimSpace(text[len(prefix):])
		rest = strings.TrimPrefix(rest, ":")
		rest = strings.TrimPrefix(rest, ",")
		rest = strings.TrimSpace(rest)
		if rest == "" {
			return text
		}
		if strings.HasPrefix(strings.ToLower(rest), "that ") || strings.EqualFold(rest, "that") {
			// "remember that ..." reads better without the filler.
			rest = strings.TrimSpace(rest[4:])
		}
		if rest == "" {
			return text
		}
		return rest
	}
	return text
}
