package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picobot/picobot/core"
	"github.com/picobot/picobot/provider"
)

type stubCompleter struct {
	response string
	err      error
	requests []provider.CompletionRequest
}

func (s *stubCompleter) Complete(ctx context.Context, req provider.CompletionRequest) (string, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

// history builds n alternating user/assistant turns. User turn i carries a
// recognizable marker.
func history(n int) []core.Message {
	turns := make([]core.Message, 0, n)
	for i := 0; len(turns) < n; i++ {
		turns = append(turns, core.UserMessage(fmt.Sprintf("user turn %d about various things", i)))
		if len(turns) < n {
			turns = append(turns, core.AssistantMessage(fmt.Sprintf("assistant reply %d", i)))
		}
	}
	return turns
}

func TestCompactPassesThroughUnderThreshold(t *testing.T) {
	completer := &stubCompleter{response: "should not be called"}
	c := NewCompactor(completer, "test-model", 50, 8, 15, 10, nil)

	turns := history(49)
	out, compacted := c.Compact(context.Background(), turns)
	assert.False(t, compacted)
	assert.Equal(t, turns, out)
	assert.Empty(t, completer.requests)
}

func TestCompactTriggersExactlyAtThreshold(t *testing.T) {
	completer := &stubCompleter{response: "They discussed several projects."}
	c := NewCompactor(completer, "test-model", 50, 8, 15, 10, nil)

	turns := history(50)
	out, compacted := c.Compact(context.Background(), turns)
	require.True(t, compacted)
	require.GreaterOrEqual(t, len(out), 16)
	assert.Equal(t, turns[len(turns)-16:], out[len(out)-16:])
}

func TestCompactKeepsRecentTurnsVerbatim(t *testing.T) {
	completer := &stubCompleter{response: "They discussed several projects."}
	c := NewCompactor(completer, "test-model", 50, 8, 15, 10, nil)

	turns := history(60)
	out, compacted := c.Compact(context.Background(), turns)
	require.True(t, compacted)

	// Recap turn first, then the last 16 turns untouched.
	require.Len(t, out, 17)
	assert.Equal(t, core.RoleAssistant, out[0].Role)
	assert.Equal(t, turns[len(turns)-16:], out[1:])
}

func TestCompactRecapCarriesFactsAndSummary(t *testing.T) {
	completer := &stubCompleter{response: "They planned a trip to Lisbon."}
	c := NewCompactor(completer, "test-model", 20, 4, 5, 10, nil)

	turns := history(40)
	// Plant a durable fact in the oldest stretch (keyword-scanned, not
	// summarized): recent = 8 turns, middle = 5 before that.
	turns[2] = core.UserMessage("My name is Alice and I enjoy this.")

	out, compacted := c.Compact(context.Background(), turns)
	require.True(t, compacted)

	recap := out[0].Content
	assert.True(t, strings.HasPrefix(recap, "[Recalling from earlier in our conversation]"))
	assert.Contains(t, recap, "Key facts:")
	assert.Contains(t, recap, "My name is Alice and I enjoy this")
	assert.Contains(t, recap, "Recent discussion summary:")
	assert.Contains(t, recap, "They planned a trip to Lisbon.")

	// The summarizer only saw the middle stretch.
	require.Len(t, completer.requests, 1)
	prompt := completer.requests[0].Messages[1].Content
	assert.NotContains(t, prompt, "My name is Alice")
}

func TestCompactOmitsRecapWhenNothingSurvives(t *testing.T) {
	// No completer and no keyword-bearing turns: recap would be empty.
	c := NewCompactor(nil, "", 10, 2, 3, 10, nil)

	turns := make([]core.Message, 0, 20)
	for i := 0; i < 10; i++ {
		turns = append(turns,
			core.UserMessage(fmt.Sprintf("question number %d please", i)),
			core.AssistantMessage(fmt.Sprintf("answer number %d", i)))
	}
	out, compacted := c.Compact(context.Background(), turns)
	require.True(t, compacted)
	require.Len(t, out, 4)
	assert.Equal(t, core.RoleUser, out[0].Role, "no recap message prepended")
}

func TestCompactDeterministicSummaryWithoutModel(t *testing.T) {
	c := NewCompactor(nil, "", 10, 2, 3, 10, nil)

	turns := history(20)
	// recent = last 4 turns, middle = the 6 before that (indices 10..15).
	turns[10] = core.UserMessage("Could you explain how the consolidation step works?")
	turns[11] = core.AssistantMessage("Consolidation reconciles each new fact against similar stored memories. It can add, update, delete or skip.")

	out, compacted := c.Compact(context.Background(), turns)
	require.True(t, compacted)
	recap := out[0].Content
	assert.Contains(t, recap, "User asked: Could you explain how the consolidation step works?")
	assert.Contains(t, recap, "Assistant said: Consolidation reconciles each new fact against similar stored memories.")
}

func TestCompactSummaryFailureKeepsFacts(t *testing.T) {
	completer := &stubCompleter{err: errors.New("provider down")}
	c := NewCompactor(completer, "test-model", 20, 4, 5, 10, nil)

	turns := history(40)
	turns[0] = core.UserMessage("I live in Lisbon, for the record.")

	out, compacted := c.Compact(context.Background(), turns)
	require.True(t, compacted)
	recap := out[0].Content
	assert.Contains(t, recap, "I live in Lisbon, for the record")
	assert.NotContains(t, recap, "Recent discussion summary:")
}
