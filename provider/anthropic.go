package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/picobot/picobot/core"
)

const jsonModeInstruction = "Respond with a single valid JSON object and nothing else. No markdown fences, no commentary."

// Anthropic is a Completer backed by the Anthropic Messages API. The API has
// no response_format parameter, so strict JSON mode is enforced through the
// system prompt instead.
type Anthropic struct {
	client  anthropic.Client
	timeout time.Duration
}

// NewAnthropic creates an Anthropic-backed completer.
func NewAnthropic(apiKey string, timeout time.Duration) (*Anthropic, error) {
	if apiKey == "" {
		return nil, errors.New("missing API key")
	}
	return &Anthropic{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		timeout: timeout,
	}, nil
}

// Complete sends one message request and returns the concatenated text blocks.
func (p *Anthropic) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var system []string
	var msgs []anthropic.MessageParam
	for _, msg := range req.Messages {
		switch msg.Role {
		case core.RoleSystem:
			system = append(system, msg.Content)
		case core.RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	if req.JSONResponse {
		system = append(system, jsonModeInstruction)
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		MaxTokens:   req.MaxTokens,
		Messages:    msgs,
		Temperature: anthropic.Float(req.Temperature),
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("message completion: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("missing response content")
	}
	return sb.String(), nil
}
