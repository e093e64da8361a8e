// Package tools exposes memory operations as named, schema-described tools.
// The CLI dispatches through the same registry a model tool-use surface
// would, so both paths share one implementation and one argument contract.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/picobot/picobot/memory"
	"github.com/picobot/picobot/memory/notes"
)

// Definition describes one callable tool.
type Definition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Handler executes one tool call. Args are the decoded JSON arguments.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Registry maps tool names to definitions and handlers.
type Registry struct {
	definitions []Definition
	handlers    map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a tool.
func (r *Registry) Register(def Definition, handler Handler) {
	r.definitions = append(r.definitions, def)
	r.handlers[def.Name] = handler
}

// Definitions returns all registered tool definitions.
func (r *Registry) Definitions() []Definition {
	return r.definitions
}

// Execute runs the named tool with raw JSON arguments.
func (r *Registry) Execute(ctx context.Context, name string, rawArgs []byte) (string, error) {
	handler, ok := r.handlers[name]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	args := map[string]any{}
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return "", fmt.Errorf("decode tool arguments: %w", err)
		}
	}
	return handler(ctx, args)
}

// MemoryTools registers the memory and notes tools against the given
// stores. A nil store skips the vector memory tools; a nil notes store
// skips the notes tool.
func MemoryTools(store *memory.VectorStore, notesStore *notes.Store, namespace string, recallThreshold float32) *Registry {
	r := NewRegistry()
	if store != nil {
		r.registerVectorTools(store, namespace, recallThreshold)
	}
	if notesStore != nil {
		r.Register(Definition{
			Name:        "notes_append",
			Description: "Append a line to today's notes file.",
			InputSchema: ObjectSchema(map[string]any{
				"line": StringProperty("The note to record"),
			}, "line"),
		}, func(ctx context.Context, args map[string]any) (string, error) {
			line, _ := args["line"].(string)
			if err := notesStore.AppendToday(line); err != nil {
				return "", err
			}
			return "Noted.", nil
		})
	}
	return r
}

func (r *Registry) registerVectorTools(store *memory.VectorStore, namespace string, recallThreshold float32) {
	r.Register(Definition{
		Name:        "memory_search",
		Description: "Search long-term memory for facts related to a query.",
		InputSchema: ObjectSchema(map[string]any{
			"query": StringProperty("What to look for"),
			"limit": IntegerProperty("Maximum results (default 5)"),
		}, "query"),
	}, func(ctx context.Context, args map[string]any) (string, error) {
		query, _ := args["query"].(string)
		if strings.TrimSpace(query) == "" {
			return "", fmt.Errorf("missing query")
		}
		limit := intArg(args, "limit", 5)
		scored, err := store.Search(ctx, query, limit, recallThreshold, namespace, 0)
		if err != nil {
			return "", err
		}
		if len(scored) == 0 {
			return "No matching memories.", nil
		}
		var sb strings.Builder
		for _, sc := range scored {
			fmt.Fprintf(&sb, "[%.2f] %s (%s)\n", sc.Score, sc.Item.Content, sc.Item.ID)
		}
		return strings.TrimSpace(sb.String()), nil
	})

	r.Register(Definition{
		Name:        "memory_save",
		Description: "Store a durable fact about the user in long-term memory.",
		InputSchema: ObjectSchema(map[string]any{
			"content":    StringProperty("The fact, phrased in third person"),
			"importance": NumberProperty("Importance from 0 to 1 (default 0.5)"),
		}, "content"),
	}, func(ctx context.Context, args map[string]any) (string, error) {
		content, _ := args["content"].(string)
		importance := floatArg(args, "importance", 0.5)
		id, err := store.Add(ctx, content, map[string]any{"importance": importance, "source": "tool"}, namespace)
		if err != nil {
			return "", err
		}
		return "Saved as " + id, nil
	})

	r.Register(Definition{
		Name:        "memory_forget",
		Description: "Delete a memory by id.",
		InputSchema: ObjectSchema(map[string]any{
			"memory_id": StringProperty("Id returned by memory_search"),
		}, "memory_id"),
	}, func(ctx context.Context, args map[string]any) (string, error) {
		id, _ := args["memory_id"].(string)
		if strings.TrimSpace(id) == "" {
			return "", fmt.Errorf("missing memory_id")
		}
		removed, err := store.Delete(ctx, id, namespace)
		if err != nil {
			return "", err
		}
		if !removed {
			return "No such memory.", nil
		}
		return "Deleted " + id, nil
	})
}

func intArg(args map[string]any, key string, def int) int {
	if v, ok := args[key].(float64); ok && v > 0 {
		return int(v)
	}
	return def
}

func floatArg(args map[string]any, key string, def float64) float64 {
	if v, ok := args[key].(float64); ok {
		return v
	}
	return def
}
