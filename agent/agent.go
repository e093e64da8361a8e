// Package agent runs the assistant loop: consume user messages from the
// bus, assemble prompt context from session history, recalled memory and
// notes, call the model, and feed the exchange back into the memory
// pipeline.
package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/picobot/picobot/config"
	"github.com/picobot/picobot/core"
	"github.com/picobot/picobot/memory"
	"github.com/picobot/picobot/memory/notes"
	"github.com/picobot/picobot/provider"
	"github.com/picobot/picobot/session"
)

const defaultSystemPrompt = `You are picobot, a concise personal assistant. Use the provided memory and notes context when it is relevant; never mention the memory system itself.`

const notesContextBudget = 4000

// Assistant wires the conversation loop to the memory pipeline. The memory
// components are optional; a nil store, extractor or notes store simply
// disables that part of context assembly.
type Assistant struct {
	cfg       config.Config
	completer provider.Completer
	sessions  *session.Sessions
	compactor *session.Compactor

	store        *memory.VectorStore
	extractor    *memory.Extractor
	consolidator *memory.Consolidator
	notes        *notes.Store

	logger *log.Logger
}

// NewAssistant assembles the loop from its parts.
func NewAssistant(cfg config.Config, completer provider.Completer, compactor *session.Compactor,
	store *memory.VectorStore, extractor *memory.Extractor, consolidator *memory.Consolidator,
	notesStore *notes.Store, logger *log.Logger) *Assistant {
	if logger == nil {
		logger = log.Default()
	}
	return &Assistant{
		cfg:          cfg,
		completer:    completer,
		sessions:     session.NewSessions(),
		compactor:    compactor,
		store:        store,
		extractor:    extractor,
		consolidator: consolidator,
		notes:        notesStore,
		logger:       logger,
	}
}

// Run consumes the bus until ctx is done. Each inbound message produces
// exactly one outbound reply; processing failures become an apologetic
// reply rather than a dropped message.
func (a *Assistant) Run(ctx context.Context, bus *Bus) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-bus.Inbound():
			reply := a.processMessage(ctx, msg.SessionID, msg.Content)
			if msg.Synthetic {
				continue
			}
			if err := bus.Publish(ctx, OutboundMessage{SessionID: msg.SessionID, Content: reply}); err != nil {
				return err
			}
		}
	}
}

// processMessage runs one full exchange under the session lock: assemble
// context from the (possibly compacted) history, complete, record both
// turns, and kick the extraction pipeline on its interval. Compaction only
// shapes what is sent; the stored history stays intact.
func (a *Assistant) processMessage(ctx context.Context, sessionID, content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return ""
	}

	sess := a.sessions.Get(sessionID)
	sess.Lock()
	defer sess.Unlock()

	history := sess.Turns()
	if a.compactor != nil {
		history, _ = a.compactor.Compact(ctx, history)
	}

	messages := a.composeContext(ctx, history, content)
	reply, err := a.completer.Complete(ctx, provider.CompletionRequest{
		Model:       a.cfg.Model,
		Messages:    messages,
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: 0.7,
	})
	if err != nil {
		a.logger.Error("completion failed", "session", sessionID, "error", err)
		return fmt.Sprintf("Sorry, I encountered an error: %v", err)
	}

	// The history records the user's original text, not the context-wrapped
	// prompt that was sent to the model.
	sess.Append(core.UserMessage(content), core.AssistantMessage(reply))
	a.maybeExtract(ctx, sess)
	return reply
}

// composeContext builds the model request: system prompt enriched with
// recalled memory and notes, then the session history, then the new user
// message.
func (a *Assistant) composeContext(ctx context.Context, history []core.Message, userText string) []core.Message {
	var sb strings.Builder
	sb.WriteString(defaultSystemPrompt)

	if recalled := a.recall(ctx, userText); recalled != "" {
		sb.WriteString("\n\n[Relevant memories]\n")
		sb.WriteString(recalled)
	}
	if a.notes != nil {
		if notesCtx, err := a.notes.Context(notesContextBudget); err != nil {
			a.logger.Warn("notes context unavailable", "error", err)
		} else if notesCtx != "" {
			sb.WriteString("\n\n[Notes from memory]\n")
			sb.WriteString(notesCtx)
		}
	}

	messages := make([]core.Message, 0, len(history)+2)
	messages = append(messages, core.SystemMessage(sb.String()))
	messages = append(messages, history...)
	messages = append(messages, core.UserMessage(userText))
	return messages
}

// recall searches the vector store for memories related to the user's
// message. Recall failures degrade to no context, never to a failed turn.
func (a *Assistant) recall(ctx context.Context, userText string) string {
	if a.store == nil || !a.cfg.Memory.VectorEnabled {
		return ""
	}
	scored, err := a.store.Search(ctx, userText,
		a.cfg.Memory.RecallK, a.cfg.Memory.RecallThreshold, a.cfg.Memory.Namespace, 0)
	if err != nil {
		a.logger.Warn("memory recall failed", "error", err)
		return ""
	}
	if len(scored) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, sc := range scored {
		fmt.Fprintf(&sb, "- %s\n", sc.Item.Content)
	}
	return strings.TrimSpace(sb.String())
}

// maybeExtract runs extraction and consolidation every Nth user turn.
// Caller holds the session lock; failures are logged and never surface to
// the user.
func (a *Assistant) maybeExtract(ctx context.Context, sess *session.Session) {
	if a.extractor == nil || a.consolidator == nil || !a.cfg.Memory.Enabled {
		return
	}
	if sess.UserTurnCount()%a.cfg.Memory.ExtractionInterval != 0 {
		return
	}

	facts, err := a.extractor.Extract(ctx, sess.Turns())
	if err != nil {
		a.logger.Warn("fact extraction failed", "session", sess.ID, "error", err)
		return
	}
	if len(facts) == 0 {
		return
	}
	results := a.consolidator.Consolidate(ctx, facts)
	for _, res := range results {
		a.logger.Info("memory consolidated",
			"session", sess.ID, "operation", res.Operation.String(),
			"memory_id", res.MemoryID, "reason", res.Reason)
	}
}
