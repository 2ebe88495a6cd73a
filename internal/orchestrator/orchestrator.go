// Package orchestrator turns resolved inbound messages into actions: recall
// questions become retrieval queries, capture messages become stored
// memories with tags and relationship links. It stays thin — the storage,
// retrieval, and relationship packages do the real work.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/everkeep/everkeep/internal/channel"
	"github.com/everkeep/everkeep/internal/collab"
	"github.com/everkeep/everkeep/internal/relationship"
	"github.com/everkeep/everkeep/internal/reminder"
	"github.com/everkeep/everkeep/internal/retrieval"
	"github.com/everkeep/everkeep/internal/storage"
	"github.com/everkeep/everkeep/internal/tags"
	"github.com/everkeep/everkeep/pkg/types"
)

const (
	// recallLimit is how many memories a recall reply shows at once.
	recallLimit = 3

	// recallMoreLimit is the expanded window behind the "show more" button.
	recallMoreLimit = 10

	snippetLen = 120
)

// Orchestrator implements the ingest handler.
type Orchestrator struct {
	store         storage.Store
	searcher      *retrieval.Searcher
	relationships *relationship.Engine
	embedder      collab.Embedder
	completer     collab.Completer
	clock         func() time.Time
}

// Config wires the orchestrator.
type Config struct {
	Store         storage.Store
	Searcher      *retrieval.Searcher
	Relationships *relationship.Engine
	Embedder      collab.Embedder
	Completer     collab.Completer

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// New creates an orchestrator.
func New(config Config) *Orchestrator {
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &Orchestrator{
		store:         config.Store,
		searcher:      config.Searcher,
		relationships: config.Relationships,
		embedder:      config.Embedder,
		completer:     config.Completer,
		clock:         config.Clock,
	}
}

// Handle processes one message and produces the reply.
func (o *Orchestrator) Handle(ctx context.Context, userID string, state *types.ConversationState, msg types.InboundMessage) (types.Reply, error) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return types.Reply{Text: "I couldn't get any text out of that message. Try sending it as text or a voice note."}, nil
	}

	if reply, handled := o.handleCommand(ctx, userID, state, text); handled {
		return reply, nil
	}

	intent := o.classify(ctx, state, text)
	switch intent {
	case intentCreate:
		state.Mode = types.ModeCreate
		return o.capture(ctx, userID, state, msg, text)
	default:
		state.Mode = types.ModeRecall
		return o.recall(ctx, userID, text, recallLimit)
	}
}

// handleCommand intercepts mode overrides, button follow-ups, and pending
// confirmation answers before intent classification.
func (o *Orchestrator) handleCommand(ctx context.Context, userID string, state *types.ConversationState, text string) (types.Reply, bool) {
	lower := strings.ToLower(text)

	switch {
	case strings.Contains(lower, overrideCreate):
		state.Mode = types.ModeCreate
		return types.Reply{Text: "Capture mode on — I'll store whatever you send until you say \"recall mode\"."}, true

	case strings.Contains(lower, overrideRecall):
		state.Mode = types.ModeRecall
		return types.Reply{Text: "Recall mode on — ask me anything about your memories."}, true

	case lower == "show more results":
		query, ok := lastQuery(state)
		if !ok {
			return types.Reply{Text: "There's no recent search to expand. Ask me something first."}, true
		}
		reply, err := o.recall(ctx, userID, query, recallMoreLimit)
		if err != nil {
			log.Printf("ERROR: orchestrator: show more for user %s: %v", userID, err)
			return types.Reply{Text: "I couldn't expand that search just now."}, true
		}
		return reply, true

	case lower == "show related memories":
		reply, err := o.related(ctx, userID, state)
		if err != nil {
			log.Printf("ERROR: orchestrator: related for user %s: %v", userID, err)
			return types.Reply{Text: "I couldn't pull related memories just now."}, true
		}
		return reply, true

	case lower == "save that as a memory":
		query, ok := lastQuery(state)
		if !ok {
			return types.Reply{Text: "I don't have a recent message to save. Send me the content and I'll remember it."}, true
		}
		msg := types.InboundMessage{Channel: state.Channel, Kind: types.KindText, Text: query}
		reply, err := o.capture(ctx, userID, state, msg, query)
		if err != nil {
			log.Printf("ERROR: orchestrator: save last message for user %s: %v", userID, err)
			return types.Reply{Text: "I couldn't save that just now. Please send it again."}, true
		}
		return reply, true

	case lower == "set a reminder for that":
		reply, err := o.remindLatest(ctx, userID)
		if err != nil {
			log.Printf("ERROR: orchestrator: set reminder for user %s: %v", userID, err)
			return types.Reply{Text: "I couldn't set that reminder just now."}, true
		}
		return reply, true

	case lower == "yes" && state.PendingQuestion != "":
		question := state.PendingQuestion
		state.PendingQuestion = ""
		return o.confirm(ctx, userID, state, question), true

	case lower == "no" && state.PendingQuestion != "":
		state.PendingQuestion = ""
		return types.Reply{Text: "Okay, leaving it as is."}, true
	}

	return types.Reply{}, false
}

// lastQuery finds the most recent user turn that was a genuine message, not
// a button follow-up.
func lastQuery(state *types.ConversationState) (string, bool) {
	turns := state.LastUserTurns(types.HistoryWindow)
	for i := len(turns) - 1; i >= 0; i-- {
		content := strings.TrimSpace(turns[i].Content)
		lower := strings.ToLower(content)
		if content == "" || lower == "show more results" || lower == "show related memories" ||
			lower == "save that as a memory" || lower == "set a reminder for that" ||
			lower == "yes" || lower == "no" {
			continue
		}
		return content, true
	}
	return "", false
}

// recall answers a question from stored memories.
func (o *Orchestrator) recall(ctx context.Context, userID, query string, limit int) (types.Reply, error) {
	result, err := o.searcher.HybridSearch(ctx, userID, query, limit)
	if err != nil {
		return types.Reply{}, fmt.Errorf("orchestrator: recall: %w", err)
	}

	if len(result.Memories) == 0 {
		return types.Reply{
			Text: "I don't have anything stored about that yet. Send me the details and I'll remember them.",
		}, nil
	}

	reply := types.Reply{Text: formatRecall(result), RetrievedMemories: result.Memories}
	if len(result.Memories) >= limit {
		reply.Buttons = append(reply.Buttons, types.Button{ID: channel.ButtonShowMore, Label: "Show more"})
	}
	reply.Buttons = append(reply.Buttons, types.Button{ID: channel.ButtonShowRelated, Label: "Show related"})
	return reply, nil
}

// related widens the last search one hop along the memory graph.
func (o *Orchestrator) related(ctx context.Context, userID string, state *types.ConversationState) (types.Reply, error) {
	query, ok := lastQuery(state)
	if !ok {
		return types.Reply{Text: "There's no recent search to branch out from. Ask me something first."}, nil
	}
	if o.embedder == nil {
		return types.Reply{Text: "Related lookup needs the semantic index, which is offline right now."}, nil
	}

	embedding, err := o.embedder.Embed(ctx, query)
	if err != nil {
		if errors.Is(err, collab.ErrUnavailable) {
			return types.Reply{Text: "Related lookup needs the semantic index, which is offline right now."}, nil
		}
		return types.Reply{}, fmt.Errorf("orchestrator: embed for related: %w", err)
	}

	memories, err := o.searcher.NetworkRecall(ctx, userID, embedding, recallLimit, recallLimit, retrieval.DefaultMinSimilarity)
	if err != nil {
		return types.Reply{}, fmt.Errorf("orchestrator: network recall: %w", err)
	}
	if len(memories) == 0 {
		return types.Reply{Text: "Nothing related turned up."}, nil
	}

	return types.Reply{Text: formatMemoryList("Related memories:", memories), RetrievedMemories: memories}, nil
}

// capture stores the message as a new memory, tags it, and links it into the
// memory graph.
func (o *Orchestrator) capture(ctx context.Context, userID string, state *types.ConversationState, msg types.InboundMessage, text string) (types.Reply, error) {
	content := stripCreatePrefix(text)
	now := o.clock().UTC()

	memory := &types.Memory{
		ID:             uuid.NewString(),
		UserID:         userID,
		Content:        content,
		SourcePlatform: msg.Channel,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	degraded := false
	if o.embedder != nil {
		embedding, err := o.embedder.Embed(ctx, content)
		if err != nil {
			// Store anyway: lexical search still finds it, and losing
			// the memory is worse than losing its vector.
			log.Printf("WARNING: orchestrator: embed new memory for user %s: %v", userID, err)
			degraded = true
		} else {
			memory.Embedding = embedding
		}
	}

	if err := o.store.CreateMemory(ctx, memory); err != nil {
		return types.Reply{}, fmt.Errorf("orchestrator: store memory: %w", err)
	}

	tagNames := extractTags(content)
	for _, name := range tagNames {
		if err := o.attachTag(ctx, userID, memory.ID, name); err != nil {
			log.Printf("WARNING: orchestrator: tag %q on memory %s: %v", name, memory.ID, err)
		}
	}

	var linked []string
	if len(memory.Embedding) > 0 && o.relationships != nil {
		var err error
		linked, err = o.relationships.DiscoverAndLink(ctx, userID, memory.ID, memory.Embedding)
		if err != nil {
			log.Printf("WARNING: orchestrator: link memory %s: %v", memory.ID, err)
		}
	}

	reply := types.Reply{Text: formatCaptured(memory, tagNames, len(linked), degraded), CreatedMemory: memory}
	reply.Buttons = append(reply.Buttons, types.Button{ID: channel.ButtonSetReminder, Label: "Set a reminder"})
	if len(linked) > 0 {
		reply.Buttons = append(reply.Buttons, types.Button{ID: channel.ButtonShowRelated, Label: "Show related"})
	}

	state.PendingQuestion = ""
	return reply, nil
}

// remindLatest schedules a default reminder (24h out) for the user's most
// recent memory. Fine-grained timing lives in the reminders API; the button
// is the one-tap path.
func (o *Orchestrator) remindLatest(ctx context.Context, userID string) (types.Reply, error) {
	memories, err := o.store.ListMemories(ctx, userID, storage.ListOptions{Limit: 1})
	if err != nil {
		return types.Reply{}, fmt.Errorf("orchestrator: latest memory: %w", err)
	}
	if len(memories) == 0 {
		return types.Reply{Text: "There's nothing stored to remind you about yet."}, nil
	}

	m := &memories[0]
	now := o.clock().UTC()
	rem := &types.Reminder{
		ID:        uuid.NewString(),
		MemoryID:  m.ID,
		UserID:    userID,
		Title:     m.Snippet(80),
		RemindAt:  now.Add(24 * time.Hour),
		Channels:  reminder.DefaultChannels(m.SourcePlatform),
		Status:    types.ReminderPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.CreateReminder(ctx, rem); err != nil {
		return types.Reply{}, fmt.Errorf("orchestrator: create reminder: %w", err)
	}

	return types.Reply{
		Text: fmt.Sprintf("Reminder set for %s: %s", rem.RemindAt.Format("Jan 2 at 15:04"), m.Snippet(snippetLen)),
	}, nil
}

func (o *Orchestrator) attachTag(ctx context.Context, userID, memoryID, name string) error {
	tag, err := o.store.GetOrCreateTag(ctx, &types.Tag{
		ID:             uuid.NewString(),
		UserID:         userID,
		Name:           name,
		NormalizedName: tags.Normalize(name),
	})
	if err != nil {
		return err
	}
	return o.store.AssociateTag(ctx, memoryID, tag.ID)
}

// confirm resolves a pending yes-answer. The only question the orchestrator
// currently asks is whether to store the previous message.
func (o *Orchestrator) confirm(ctx context.Context, userID string, state *types.ConversationState, question string) types.Reply {
	msg := types.InboundMessage{Channel: state.Channel, Kind: types.KindText, Text: question}
	reply, err := o.capture(ctx, userID, state, msg, question)
	if err != nil {
		log.Printf("ERROR: orchestrator: confirmed capture for user %s: %v", userID, err)
		return types.Reply{Text: "I couldn't save that after all. Please send it again."}
	}
	return reply
}

// extractTags pulls explicit #hashtags out of the content, deduplicated in
// order of appearance.
func extractTags(content string) []string {
	var out []string
	seen := make(map[string]struct{})

	for _, field := range strings.Fields(content) {
		if !strings.HasPrefix(field, "#") || len(field) < 2 {
			continue
		}
		name := strings.Trim(strings.TrimPrefix(field, "#"), ".,;:!?")
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, name)
	}
	return out
}
