package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/charmbracelet/log"

	"github.com/picobot/picobot/core"
	"github.com/picobot/picobot/provider"
)

// Trivial acknowledgments and symbol-only messages carry no memorable
// content, so a window ending in one is skipped entirely.
var (
	trivialAckPattern = regexp.MustCompile(`(?i)^(ok|okay|yes|no|thanks|sure|got it|cool|nice|great|hmm|ah|oh|lol|yep|yeah)[.!?]?\s*$`)
	symbolOnlyPattern = regexp.MustCompile(`^[\s\W]*$`)
)

// factKeywords flags sentences likely to state a durable fact. Used by the
// heuristic fallback and by KeywordScan when compacting old conversation.
var factKeywords = []string{
	"my name is", "i am", "i'm", "i work", "i live", "i prefer",
	"i like", "i love", "i hate", "i use", "call me", "my favorite",
	"i need", "remember",
}

const (
	minFactLength      = 5
	minTranscriptChars = 50
	maxTurnsInPrompt   = 20
	maxCharsPerTurn    = 500
	maxPromptChars     = 2000
)

const extractionSystemPrompt = `You extract durable facts about the user from a conversation.

A durable fact is something worth remembering across sessions: the user's name, preferences, occupation, location, projects, tools, or standing instructions. Transient chit-chat, questions, and one-off task details are not facts.

Rewrite each fact in third person ("User prefers dark mode", not "I prefer dark mode"). Rate each fact's importance as "high", "medium", or "low".

Respond with a JSON object of the form:
{"facts": [{"content": "...", "importance": "high"}]}

If there are no durable facts, respond with {"facts": []}.`

// Extractor proposes candidate facts from a conversation window. The model
// path produces better facts; when the model fails or returns garbage the
// deterministic keyword heuristic takes over so extraction never hard-fails.
type Extractor struct {
	completer provider.Completer
	model     string
	maxFacts  int
	logger    *log.Logger
}

// NewExtractor creates an extractor. A nil completer forces the heuristic
// path, which is useful for offline operation and tests.
func NewExtractor(completer provider.Completer, model string, maxFacts int, logger *log.Logger) *Extractor {
	if maxFacts <= 0 {
		maxFacts = 5
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Extractor{
		completer: completer,
		model:     model,
		maxFacts:  maxFacts,
		logger:    logger,
	}
}

// Extract returns candidate facts from the window, or nil when the window is
// not worth extracting from: fewer than three user turns, a trivial final
// user message, or a transcript under the minimum length.
func (e *Extractor) Extract(ctx context.Context, turns []core.Message) ([]ExtractedFact, error) {
	if core.CountByRole(turns, core.RoleUser) < 3 {
		return nil, nil
	}
	last := lastUserContent(turns)
	if trivialAckPattern.MatchString(last) || symbolOnlyPattern.MatchString(last) {
		return nil, nil
	}
	transcript := formatConversation(turns)
	if len(transcript) < minTranscriptChars {
		return nil, nil
	}

	if e.completer != nil {
		facts, err := e.extractLLM(ctx, transcript)
		if err == nil {
			return facts, nil
		}
		e.logger.Warn("fact extraction fell back to heuristic", "error", err)
	}
	return e.extractHeuristic(turns), nil
}

// KeywordScan returns user-turn sentences containing a fact keyword, in
// order, deduplicated. It is the cheap scan applied to conversation too old
// to summarize during compaction.
func KeywordScan(turns []core.Message, limit int) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, turn := range turns {
		if turn.Role != core.RoleUser {
			continue
		}
		for _, sentence := range splitSentences(turn.Content) {
			lower := strings.ToLower(sentence)
			for _, kw := range factKeywords {
				if strings.Contains(lower, kw) {
					key := strings.ToLower(strings.TrimSpace(sentence))
					if _, dup := seen[key]; !dup {
						seen[key] = struct{}{}
						out = append(out, strings.TrimSpace(sentence))
					}
					break
				}
			}
			if limit > 0 && len(out) >= limit {
				return out
			}
		}
	}
	return out
}

func (e *Extractor) extractLLM(ctx context.Context, transcript string) ([]ExtractedFact, error) {
	resp, err := e.completer.Complete(ctx, provider.CompletionRequest{
		Model: e.model,
		Messages: []core.Message{
			core.SystemMessage(extractionSystemPrompt),
			core.UserMessage("Conversation:\n\n" + transcript),
		},
		MaxTokens:    800,
		Temperature:  0,
		JSONResponse: true,
	})
	if err != nil {
		return nil, fmt.Errorf("extraction completion: %w", err)
	}

	raw, err := parseFactPayload(resp)
	if err != nil {
		return nil, err
	}

	facts := make([]ExtractedFact, 0, len(raw))
	for _, f := range raw {
		content := SanitizeContent(strings.TrimSpace(f.Content))
		if len(content) < minFactLength {
			continue
		}
		facts = append(facts, ExtractedFact{
			Content:    content,
			Importance: importanceFromLabel(f.Importance),
			Source:     "llm",
		})
		if len(facts) >= e.maxFacts {
			break
		}
	}
	return facts, nil
}

type rawFact struct {
	Content    string `json:"content"`
	Importance string `json:"importance"`
}

// parseFactPayload accepts the documented {"facts": [...]} envelope and,
// tolerantly, a bare JSON array. Models in JSON mode produce both.
func parseFactPayload(resp string) ([]rawFact, error) {
	resp = strings.TrimSpace(resp)
	var envelope struct {
		Facts []rawFact `json:"facts"`
	}
	if err := json.Unmarshal([]byte(resp), &envelope); err == nil {
		return envelope.Facts, nil
	}
	var bare []rawFact
	if err := json.Unmarshal([]byte(resp), &bare); err == nil {
		return bare, nil
	}
	return nil, fmt.Errorf("unparsable extraction response")
}

func importanceFromLabel(label string) float64 {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "high":
		return 0.9
	case "medium":
		return 0.7
	case "low":
		return 0.3
	}
	return 0.5
}

// heuristicPattern maps a first-person lead-in to an importance score. The
// matched clause is rewritten to third person before being emitted.
type heuristicPattern struct {
	prefix     string
	importance float64
}

var heuristicPatterns = []heuristicPattern{
	{"my name is", 0.9},
	{"i am a", 0.7},
	{"i work", 0.8},
	{"i live", 0.8},
	{"i prefer", 0.7},
	{"i like", 0.6},
	{"i use", 0.6},
	{"call me", 0.8},
}

func (e *Extractor) extractHeuristic(turns []core.Message) []ExtractedFact {
	seen := make(map[string]struct{})
	var facts []ExtractedFact
	for _, turn := range turns {
		if turn.Role != core.RoleUser {
			continue
		}
		for _, sentence := range splitSentences(turn.Content) {
			lower := strings.ToLower(sentence)
			for _, pat := range heuristicPatterns {
				idx := strings.Index(lower, pat.prefix)
				if idx < 0 {
					continue
				}
				clause := strings.TrimSpace(sentence[idx:])
				content := SanitizeContent(capitalize(thirdPerson(clause)))
				if len(content) < minFactLength {
					continue
				}
				key := strings.ToLower(content)
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				facts = append(facts, ExtractedFact{
					Content:    content,
					Importance: pat.importance,
					Source:     "heuristic",
				})
				break
			}
			if len(facts) >= e.maxFacts {
				return facts
			}
		}
	}
	return facts
}

// thirdPersonRules rewrite first-person phrasing to "User ..." statements.
// Order matters: longer phrases first so "i am" is not eaten by the bare "i"
// rule, and the final rule collapses the "User User" artifact produced when
// "my" and a following "i" both rewrite in one clause.
var thirdPersonRules = []struct{ from, to string }{
	{"my ", "User's "},
	{"i am ", "User is "},
	{"i'm ", "User is "},
	{"i have ", "User has "},
	{"i work ", "User works "},
	{"i live ", "User lives "},
	{"i prefer ", "User prefers "},
	{"i like ", "User likes "},
	{"i use ", "User uses "},
	{"call me ", "User is called "},
	{"i ", "User "},
	{"User User", "User"},
}

func thirdPerson(clause string) string {
	out := " " + clause
	for _, rule := range thirdPersonRules {
		out = replaceWordInsensitive(out, rule.from, rule.to)
	}
	return strings.TrimSpace(out)
}

// replaceWordInsensitive replaces case-insensitive occurrences of from that
// start at a word boundary.
func replaceWordInsensitive(s, from, to string) string {
	lower := strings.ToLower(s)
	lowerFrom := strings.ToLower(from)
	var sb strings.Builder
	for i := 0; i < len(s); {
		if strings.HasPrefix(lower[i:], lowerFrom) && (i == 0 || isBoundary(rune(s[i-1]))) {
			sb.WriteString(to)
			i += len(from)
			continue
		}
		sb.WriteByte(s[i])
		i++
	}
	return sb.String()
}

func isBoundary(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

// splitSentences breaks text at sentence punctuation and newlines.
func splitSentences(text string) []string {
	var out []string
	var sb strings.Builder
	flush := func() {
		if s := strings.TrimSpace(sb.String()); s != "" {
			out = append(out, s)
		}
		sb.Reset()
	}
	for _, r := range text {
		switch r {
		case '.', '!', '?', '\n':
			flush()
		default:
			sb.WriteRune(r)
		}
	}
	flush()
	return out
}

func lastUserContent(turns []core.Message) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == core.RoleUser {
			return strings.TrimSpace(turns[i].Content)
		}
	}
	return ""
}

// formatConversation renders the last turns as "ROLE: content" lines. Each
// turn is sanitized against prompt injection and capped so a single long
// message cannot dominate the prompt.
func formatConversation(turns []core.Message) string {
	start := 0
	if len(turns) > maxTurnsInPrompt {
		start = len(turns) - maxTurnsInPrompt
	}
	var sb strings.Builder
	for _, turn := range turns[start:] {
		content := sanitizeForPrompt(strings.TrimSpace(turn.Content))
		if content == "" {
			continue
		}
		if len(content) > maxCharsPerTurn {
			content = content[:maxCharsPerTurn] + "..."
		}
		sb.WriteString(strings.ToUpper(string(turn.Role)))
		sb.WriteString(": ")
		sb.WriteString(content)
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String())
}

// sanitizeForPrompt neutralizes content interpolated into a model prompt:
// fenced blocks cannot be closed, tags cannot be opened, and length is
// capped.
func sanitizeForPrompt(text string) string {
	text = strings.ReplaceAll(text, "```", "'''")
	text = strings.ReplaceAll(text, "</", "&lt;/")
	text = strings.ReplaceAll(text, "<", "&lt;")
	text = strings.ReplaceAll(text, ">", "&gt;")
	if len(text) > maxPromptChars {
		text = text[:maxPromptChars] + "..."
	}
	return text
}
