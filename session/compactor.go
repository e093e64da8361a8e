package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/picobot/picobot/core"
	"github.com/picobot/picobot/memory"
	"github.com/picobot/picobot/provider"
)

const (
	recapPreamble = "[Recalling from earlier in our conversation]"

	summaryMaxTokens = 300
	summaryTurnCap   = 500 // chars of any single turn fed to the summarizer
	summaryTotalCap  = 6000
)

const summarySystemPrompt = `Summarize this conversation segment in at most five sentences. Keep concrete details: names, decisions, preferences, unresolved questions. Write in third person.`

// Compactor bounds what a long session sends to the model. When the history
// exceeds the threshold, the oldest turns are reduced to a keyword scan of
// durable facts, the middle stretch to a summary, and only the most recent
// turns survive verbatim. It is a read-time transform: the stored history is
// never modified.
type Compactor struct {
	completer provider.Completer
	model     string

	threshold  int
	recentKeep int // user-assistant exchanges kept verbatim
	summaryMax int // turns summarized; older turns get the keyword scan
	maxFacts   int
	logger     *log.Logger
}

// NewCompactor creates a compactor. A nil completer uses the deterministic
// summary instead of a model-written one.
func NewCompactor(completer provider.Completer, model string, threshold, recentKeep, summaryMax, maxFacts int, logger *log.Logger) *Compactor {
	if threshold <= 0 {
		threshold = 50
	}
	if recentKeep <= 0 {
		recentKeep = 8
	}
	if summaryMax <= 0 {
		summaryMax = 15
	}
	if maxFacts <= 0 {
		maxFacts = 10
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Compactor{
		completer:  completer,
		model:      model,
		threshold:  threshold,
		recentKeep: recentKeep,
		summaryMax: summaryMax,
		maxFacts:   maxFacts,
		logger:     logger,
	}
}

// Compact returns the turns to send and whether compaction ran. Below the
// threshold the input passes through untouched; at the threshold and above
// it compacts. Compacted output is a single assistant recap turn followed
// by the recent turns verbatim; when neither the scan nor the summary
// yields anything, the recap is omitted.
func (c *Compactor) Compact(ctx context.Context, turns []core.Message) ([]core.Message, bool) {
	if len(turns) < c.threshold {
		return turns, false
	}

	recentCount := c.recentKeep * 2
	if recentCount > len(turns) {
		recentCount = len(turns)
	}
	recent := turns[len(turns)-recentCount:]

	middleStart := len(turns) - recentCount - c.summaryMax*2
	if middleStart < 0 {
		middleStart = 0
	}
	middle := turns[middleStart : len(turns)-recentCount]
	old := turns[:middleStart]

	facts := memory.KeywordScan(old, c.maxFacts)
	summary := c.summarize(ctx, middle)

	recap := buildRecap(facts, summary)
	out := make([]core.Message, 0, len(recent)+1)
	if recap != "" {
		out = append(out, core.AssistantMessage(recap))
	}
	out = append(out, recent...)

	c.logger.Info("session compacted",
		"before", len(turns), "after", len(out), "facts", len(facts), "summarized", len(middle))
	return out, true
}

func (c *Compactor) summarize(ctx context.Context, middle []core.Message) string {
	if len(middle) == 0 {
		return ""
	}
	if c.completer == nil {
		return deterministicSummary(middle)
	}

	var sb strings.Builder
	for _, turn := range middle {
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		if len(content) > summaryTurnCap {
			content = content[:summaryTurnCap] + "..."
		}
		fmt.Fprintf(&sb, "%s: %s\n", strings.ToUpper(string(turn.Role)), content)
		if sb.Len() > summaryTotalCap {
			break
		}
	}

	resp, err := c.completer.Complete(ctx, provider.CompletionRequest{
		Model: c.model,
		Messages: []core.Message{
			core.SystemMessage(summarySystemPrompt),
			core.UserMessage(sb.String()),
		},
		MaxTokens:   summaryMaxTokens,
		Temperature: 0,
	})
	if err != nil {
		c.logger.Warn("compaction summary failed, using deterministic summary", "error", err)
		return deterministicSummary(middle)
	}
	return strings.TrimSpace(resp)
}

const (
	summaryMaxQuestions   = 3
	summaryMaxStatements  = 3
	summaryMinQuestionLen = 20
	summaryMinAnswerLen   = 30
	summaryLineCap        = 150
)

// deterministicSummary is the no-model digest of the middle stretch:
// up to three substantial user questions and three substantial assistant
// lead sentences, each capped.
func deterministicSummary(middle []core.Message) string {
	var questions, statements []string
	for _, turn := range middle {
		content := strings.TrimSpace(turn.Content)
		switch turn.Role {
		case core.RoleUser:
			if len(questions) < summaryMaxQuestions &&
				len(content) > summaryMinQuestionLen && strings.HasSuffix(content, "?") {
				questions = append(questions, capLine(content))
			}
		case core.RoleAssistant:
			if len(statements) < summaryMaxStatements {
				if first := firstSentence(content); len(first) > summaryMinAnswerLen {
					statements = append(statements, capLine(first))
				}
			}
		}
	}
	if len(questions) == 0 && len(statements) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, q := range questions {
		sb.WriteString("User asked: ")
		sb.WriteString(q)
		sb.WriteString("\n")
	}
	for _, st := range statements {
		sb.WriteString("Assistant said: ")
		sb.WriteString(st)
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}

func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			return strings.TrimSpace(text[:i+1])
		}
	}
	return text
}

func capLine(line string) string {
	if len(line) > summaryLineCap {
		return line[:summaryLineCap] + "..."
	}
	return line
}

func buildRecap(facts []string, summary string) string {
	if len(facts) == 0 && summary == "" {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(recapPreamble)
	if len(facts) > 0 {
		sb.WriteString("\n\nKey facts:\n")
		for _, fact := range facts {
			sb.WriteString("- ")
			sb.WriteString(fact)
			sb.WriteString("\n")
		}
	}
	if summary != "" {
		sb.WriteString("\nRecent discussion summary:\n")
		sb.WriteString(summary)
	}
	return strings.TrimSpace(sb.String())
}
