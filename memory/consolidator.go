package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/picobot/picobot/core"
	"github.com/picobot/picobot/provider"
)

// Operation is the consolidation decision for one candidate fact.
type Operation int

const (
	OpAdd Operation = iota
	OpUpdate
	OpDelete
	OpNoop
)

func (o Operation) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpNoop:
		return "noop"
	}
	return "unknown"
}

// ConsolidationResult records what happened to one candidate fact.
type ConsolidationResult struct {
	Fact      ExtractedFact
	Operation Operation
	MemoryID  string
	Reason    string
}

const (
	candidateCount      = 3
	similarityFloor     = 0.3
	consolidationTokens = 500
)

const consolidationSystemPrompt = `You maintain a long-term memory store. Given a new fact and the most similar existing memories, decide one operation:

- "add": the fact is new information not covered by any existing memory
- "update": the fact supersedes or refines one existing memory (give its memory_id, and give "content" as the merged, corrected statement)
- "delete": the fact contradicts an existing memory that is now wrong (give its memory_id; if the new fact itself should be remembered, give it as "content")
- "noop": an existing memory already covers this fact

Respond with a JSON object:
{"operation": "add|update|delete|noop", "memory_id": "...", "content": "...", "reason": "..."}

Only use memory_id values listed below. Omit memory_id for "add" and "noop".`

// decisionPayload is the model's response shape.
type decisionPayload struct {
	Operation string `json:"operation"`
	MemoryID  string `json:"memory_id"`
	Content   string `json:"content"`
	Reason    string `json:"reason"`
}

// Consolidator reconciles extracted facts against the store. The invariant
// it protects: a model failure or hallucinated id can cause a redundant Add,
// never a wrong Update or Delete against an unrelated memory.
type Consolidator struct {
	store     *VectorStore
	completer provider.Completer
	model     string
	threshold float32
	namespace string
	logger    *log.Logger
}

// NewConsolidator creates a consolidator for one namespace. A nil completer
// degrades every decision to Add.
func NewConsolidator(store *VectorStore, completer provider.Completer, model string, threshold float32, namespace string, logger *log.Logger) *Consolidator {
	if logger == nil {
		logger = log.Default()
	}
	return &Consolidator{
		store:     store,
		completer: completer,
		model:     model,
		threshold: threshold,
		namespace: namespace,
		logger:    logger,
	}
}

// Consolidate processes each fact independently. A failure on one fact is
// logged and does not abort the rest; the returned results cover only the
// facts that reached a terminal operation.
func (c *Consolidator) Consolidate(ctx context.Context, facts []ExtractedFact) []ConsolidationResult {
	results := make([]ConsolidationResult, 0, len(facts))
	for _, fact := range facts {
		fact.Content = SanitizeContent(strings.TrimSpace(fact.Content))
		if len(fact.Content) < minFactLength {
			continue
		}
		fact.Importance = clampImportance(fact.Importance)

		res, err := c.consolidateSingle(ctx, fact)
		if err != nil {
			c.logger.Warn("consolidation failed for fact", "fact", fact.Content, "error", err)
			continue
		}
		results = append(results, res)
	}
	return results
}

func (c *Consolidator) consolidateSingle(ctx context.Context, fact ExtractedFact) (ConsolidationResult, error) {
	candidates, err := c.store.Search(ctx, fact.Content, candidateCount, c.threshold, c.namespace, similarityFloor)
	if err != nil {
		return ConsolidationResult{}, fmt.Errorf("search candidates: %w", err)
	}

	if len(candidates) == 0 {
		id, err := c.addFact(ctx, fact)
		if err != nil {
			return ConsolidationResult{}, err
		}
		return ConsolidationResult{
			Fact:      fact,
			Operation: OpAdd,
			MemoryID:  id,
			Reason:    "No similar memories found",
		}, nil
	}

	decision := c.decide(ctx, fact, candidates)
	return c.executeOperation(ctx, fact, decision, candidates)
}

// decide asks the model for an operation, validating any returned id against
// the candidate set. Anything the model gets wrong downgrades to Add.
func (c *Consolidator) decide(ctx context.Context, fact ExtractedFact, candidates []Scored) decisionPayload {
	if c.completer == nil {
		return decisionPayload{Operation: "add", Reason: "No consolidation model configured"}
	}

	validIDs := make(map[string]struct{}, len(candidates))
	var sb strings.Builder
	sb.WriteString("New fact:\n")
	sb.WriteString(sanitizeForPrompt(fact.Content))
	sb.WriteString("\n\nExisting similar memories:\n")
	for i, cand := range candidates {
		validIDs[cand.Item.ID] = struct{}{}
		fmt.Fprintf(&sb, "%d. [memory_id: %s] (similarity %.2f) %s\n",
			i+1, cand.Item.ID, cand.Score, sanitizeForPrompt(cand.Item.Content))
	}

	resp, err := c.completer.Complete(ctx, provider.CompletionRequest{
		Model: c.model,
		Messages: []core.Message{
			core.SystemMessage(consolidationSystemPrompt),
			core.UserMessage(sb.String()),
		},
		MaxTokens:    consolidationTokens,
		Temperature:  0,
		JSONResponse: true,
	})
	if err != nil {
		c.logger.Warn("consolidation model call failed, defaulting to add", "error", err)
		return decisionPayload{Operation: "add", Reason: "LLM failed"}
	}

	var decision decisionPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp)), &decision); err != nil {
		c.logger.Warn("unparsable consolidation decision, defaulting to add", "error", err)
		return decisionPayload{Operation: "add", Reason: "LLM failed"}
	}
	decision.Operation = strings.ToLower(strings.TrimSpace(decision.Operation))

	switch decision.Operation {
	case "update", "delete":
		if _, ok := validIDs[decision.MemoryID]; !ok {
			reason := "Missing memory_id"
			if decision.MemoryID != "" {
				reason = "Invalid memory_id"
			}
			c.logger.Warn("consolidation decision rejected, defaulting to add",
				"operation", decision.Operation, "memory_id", decision.MemoryID, "reason", reason)
			return decisionPayload{Operation: "add", Reason: reason}
		}
	case "add", "noop":
	default:
		return decisionPayload{Operation: "add", Reason: "Unknown operation"}
	}
	return decision
}

func (c *Consolidator) executeOperation(ctx context.Context, fact ExtractedFact, decision decisionPayload, candidates []Scored) (ConsolidationResult, error) {
	res := ConsolidationResult{Fact: fact, Reason: decision.Reason}

	switch decision.Operation {
	case "noop":
		res.Operation = OpNoop
		res.MemoryID = decision.MemoryID
		return res, nil

	case "update":
		content := strings.TrimSpace(decision.Content)
		if content == "" {
			content = fact.Content
		}
		updated, err := c.store.Update(ctx, decision.MemoryID, content, c.factMetadata(fact), c.namespace)
		if err != nil {
			return res, fmt.Errorf("update memory: %w", err)
		}
		if updated == nil {
			// The target vanished between search and update; the fact
			// still deserves storage.
			id, err := c.addFact(ctx, fact)
			if err != nil {
				return res, err
			}
			res.Operation = OpAdd
			res.MemoryID = id
			res.Reason = "Update target missing, stored as new"
			return res, nil
		}
		res.Operation = OpUpdate
		res.MemoryID = updated.ID
		return res, nil

	case "delete":
		old, _, err := c.store.Get(ctx, decision.MemoryID, c.namespace)
		if err != nil {
			return res, fmt.Errorf("load memory: %w", err)
		}
		if _, err := c.store.Delete(ctx, decision.MemoryID, c.namespace); err != nil {
			return res, fmt.Errorf("delete memory: %w", err)
		}
		res.Operation = OpDelete
		res.MemoryID = decision.MemoryID
		// A delete that also carries replacement content stores it, unless
		// it just restates what was deleted.
		replacement := strings.TrimSpace(decision.Content)
		if replacement != "" && !strings.EqualFold(replacement, old.Content) {
			repl := fact
			repl.Content = SanitizeContent(replacement)
			if id, err := c.addFact(ctx, repl); err == nil {
				res.MemoryID = id
			} else {
				c.logger.Warn("failed to store replacement after delete", "error", err)
			}
		}
		return res, nil

	default: // add
		id, err := c.addFact(ctx, fact)
		if err != nil {
			return res, err
		}
		res.Operation = OpAdd
		res.MemoryID = id
		return res, nil
	}
}

func (c *Consolidator) addFact(ctx context.Context, fact ExtractedFact) (string, error) {
	id, err := c.store.Add(ctx, fact.Content, c.factMetadata(fact), c.namespace)
	if err != nil {
		return "", fmt.Errorf("add memory: %w", err)
	}
	return id, nil
}

func (c *Consolidator) factMetadata(fact ExtractedFact) map[string]any {
	return map[string]any{
		"importance": fact.Importance,
		"source":     fact.Source,
	}
}

// clampImportance normalizes a score into [0, 1], mapping NaN to the neutral
// default.
func clampImportance(v float64) float64 {
	if math.IsNaN(v) {
		return 0.5
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
