package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picobot/picobot/config"
	"github.com/picobot/picobot/memory"
	"github.com/picobot/picobot/memory/embedder/mock"
	"github.com/picobot/picobot/memory/store/chromem"
	"github.com/picobot/picobot/provider"
)

type scriptedCompleter struct {
	reply    string
	err      error
	requests []provider.CompletionRequest
}

func (s *scriptedCompleter) Complete(ctx context.Context, req provider.CompletionRequest) (string, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Workspace = "/tmp/unused"
	cfg.APIKey = "test"
	return cfg
}

func newTestAssistant(t *testing.T, completer provider.Completer, withMemory bool) (*Assistant, *memory.VectorStore) {
	t.Helper()
	cfg := testConfig()

	var store *memory.VectorStore
	var extractor *memory.Extractor
	var consolidator *memory.Consolidator
	if withMemory {
		store = memory.NewVectorStore(chromem.New(), mock.New(64), 100, nil)
		t.Cleanup(func() { store.Close() })
		// A nil extraction completer keeps the pipeline deterministic.
		extractor = memory.NewExtractor(nil, "", cfg.Memory.MaxFactsPerExtraction, nil)
		consolidator = memory.NewConsolidator(store, nil, "", cfg.Memory.CandidateThreshold, cfg.Memory.Namespace, nil)
	}
	return NewAssistant(cfg, completer, nil, store, extractor, consolidator, nil, nil), store
}

func TestProcessMessageRecordsBothTurns(t *testing.T) {
	completer := &scriptedCompleter{reply: "Hello back!"}
	a, _ := newTestAssistant(t, completer, false)

	reply := a.processMessage(context.Background(), "s1", "Hello there")
	assert.Equal(t, "Hello back!", reply)

	sess := a.sessions.Get("s1")
	sess.Lock()
	defer sess.Unlock()
	turns := sess.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, "Hello there", turns[0].Content)
	assert.Equal(t, "Hello back!", turns[1].Content)
}

func TestProcessMessageCompletionFailure(t *testing.T) {
	completer := &scriptedCompleter{err: errors.New("rate limited")}
	a, _ := newTestAssistant(t, completer, false)

	reply := a.processMessage(context.Background(), "s1", "Hello")
	assert.Contains(t, reply, "Sorry, I encountered an error")

	// A failed exchange leaves no partial history.
	sess := a.sessions.Get("s1")
	sess.Lock()
	defer sess.Unlock()
	assert.Equal(t, 0, sess.Len())
}

func TestComposeContextIncludesRecalledMemory(t *testing.T) {
	completer := &scriptedCompleter{reply: "ok"}
	a, store := newTestAssistant(t, completer, true)
	ctx := context.Background()

	_, err := store.Add(ctx, "User prefers dark mode in editors", nil, "default")
	require.NoError(t, err)

	a.processMessage(ctx, "s1", "what editor theme do I like, dark mode?")
	require.Len(t, completer.requests, 1)

	system := completer.requests[0].Messages[0]
	assert.Contains(t, system.Content, "[Relevant memories]")
	assert.Contains(t, system.Content, "User prefers dark mode in editors")
}

func TestComposeContextOmitsEmptyRecall(t *testing.T) {
	completer := &scriptedCompleter{reply: "ok"}
	a, _ := newTestAssistant(t, completer, true)

	a.processMessage(context.Background(), "s1", "hello there friend")
	require.Len(t, completer.requests, 1)
	assert.NotContains(t, completer.requests[0].Messages[0].Content, "[Relevant memories]")
}

func TestComposeContextOrdersHistoryBeforeNewMessage(t *testing.T) {
	completer := &scriptedCompleter{reply: "ok"}
	a, _ := newTestAssistant(t, completer, false)
	ctx := context.Background()

	a.processMessage(ctx, "s1", "first message here")
	a.processMessage(ctx, "s1", "second message here")

	require.Len(t, completer.requests, 2)
	msgs := completer.requests[1].Messages
	require.Len(t, msgs, 4) // system, prior user, prior assistant, new user
	assert.Equal(t, "first message here", msgs[1].Content)
	assert.Equal(t, "ok", msgs[2].Content)
	assert.Equal(t, "second message here", msgs[3].Content)
}

func TestExtractionRunsOnInterval(t *testing.T) {
	completer := &scriptedCompleter{reply: "That is interesting, tell me more about it."}
	a, store := newTestAssistant(t, completer, true)
	ctx := context.Background()

	// Interval is 3: the first two exchanges must not write memory.
	a.processMessage(ctx, "s1", "My name is Alice and I work on compilers.")
	count, err := store.Count(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	a.processMessage(ctx, "s1", "I live in Lisbon most of the year.")
	count, err = store.Count(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// Third user turn triggers extraction; the heuristic path finds facts.
	a.processMessage(ctx, "s1", "I prefer tabs over spaces, for what it is worth.")
	count, err = store.Count(ctx, "default")
	require.NoError(t, err)
	assert.Greater(t, count, 0)
}

func TestRunPublishesReplies(t *testing.T) {
	completer := &scriptedCompleter{reply: "pong"}
	a, _ := newTestAssistant(t, completer, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewBus()
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.Run(ctx, bus)
	}()

	require.NoError(t, bus.Send(ctx, InboundMessage{SessionID: "s1", Content: "ping"}))
	out := <-bus.Outbound()
	assert.Equal(t, "s1", out.SessionID)
	assert.Equal(t, "pong", out.Content)

	cancel()
	<-done
}

func TestRunSuppressesSyntheticReplies(t *testing.T) {
	completer := &scriptedCompleter{reply: "pong"}
	a, _ := newTestAssistant(t, completer, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewBus()
	go a.Run(ctx, bus)

	require.NoError(t, bus.Send(ctx, InboundMessage{SessionID: "s1", Content: "scheduled check-in", Synthetic: true}))
	require.NoError(t, bus.Send(ctx, InboundMessage{SessionID: "s1", Content: "real question"}))

	// Only the non-synthetic message produces an outbound reply.
	out := <-bus.Outbound()
	assert.Equal(t, "pong", out.Content)

	sess := a.sessions.Get("s1")
	sess.Lock()
	defer sess.Unlock()
	assert.Equal(t, 2, sess.UserTurnCount(), "synthetic turns still enter the history")
}
