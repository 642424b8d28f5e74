// Package anthropic implements llm.Provider against the Anthropic Claude
// Messages API via github.com/anthropics/anthropic-sdk-go.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/AriseOS/amid/internal/errkind"
	"github.com/AriseOS/amid/internal/llm"
	"github.com/AriseOS/amid/internal/observability"
)

// Client implements llm.Provider on top of the Anthropic Messages API.
type Client struct {
	msg       *sdk.MessageService
	model     string
	maxTokens int
}

// New builds a Client from an API key and default model identifier (e.g.
// string(sdk.ModelClaudeSonnet4_5_20250929)).
func New(apiKey, model string, maxTokens int) (*Client, error) {
	if apiKey == "" {
		return nil, errkind.New(errkind.Config, "ANTHROPIC_API_KEY is not set")
	}
	if model == "" {
		return nil, errkind.New(errkind.Config, "anthropic model identifier is required")
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	sc := sdk.NewClient(option.WithAPIKey(apiKey))
	return &Client{msg: &sc.Messages, model: model, maxTokens: maxTokens}, nil
}

func (c *Client) Name() string { return "anthropic" }

// Complete issues a single Messages.New call and translates the response
// into llm.Response (spec.md §4.4 agent-loop turn contract).
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	timer := observability.NewTimer()

	params, err := c.buildParams(req)
	if err != nil {
		timer.ObserveProviderRequest(c.Name(), "invalid_input")
		return nil, errkind.Wrap(errkind.InvalidInput, "build anthropic request", err)
	}

	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		timer.ObserveProviderRequest(c.Name(), "error")
		return nil, errkind.Wrap(errkind.Provider, "anthropic messages.new", err)
	}

	timer.ObserveProviderRequest(c.Name(), "ok")
	return translateResponse(msg)
}

func (c *Client) buildParams(req llm.Request) (*sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("at least one message is required")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	msgs, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	params := &sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		toolParams, err := encodeTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = toolParams
	}
	return params, nil
}

func encodeMessages(msgs []llm.Message) ([]sdk.MessageParam, error) {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.ToolCalls)+len(m.ToolResults)+1)

		if m.Text != "" {
			blocks = append(blocks, sdk.NewTextBlock(m.Text))
		}
		for _, tc := range m.ToolCalls {
			var input map[string]interface{}
			if len(tc.Input) > 0 {
				if err := json.Unmarshal(tc.Input, &input); err != nil {
					return nil, fmt.Errorf("unmarshal tool_use %q input: %w", tc.ID, err)
				}
			}
			blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		for _, tr := range m.ToolResults {
			blocks = append(blocks, sdk.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}

		if len(blocks) == 0 {
			continue
		}

		switch m.Role {
		case llm.RoleUser:
			out = append(out, sdk.NewUserMessage(blocks...))
		case llm.RoleAssistant:
			out = append(out, sdk.NewAssistantMessage(blocks...))
		case llm.RoleSystem:
			// System messages are carried via params.System, not conversation turns.
			continue
		default:
			return nil, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("at least one user/assistant message is required")
	}
	return out, nil
}

func encodeTools(defs []llm.ToolDefinition) ([]sdk.ToolUnionParam, error) {
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		schema, err := decodeSchema(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("tool %q schema: %w", def.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(schema, def.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
	}
	return out, nil
}

func decodeSchema(raw []byte) (sdk.ToolInputSchemaParam, error) {
	if len(raw) == 0 {
		return sdk.ToolInputSchemaParam{}, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}

func translateResponse(msg *sdk.Message) (*llm.Response, error) {
	if msg == nil {
		return nil, errors.New("anthropic: nil response message")
	}

	resp := &llm.Response{
		StopReason: mapStopReason(string(msg.StopReason)),
		Usage: llm.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}

	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Text += block.Text
		case "tool_use":
			input, err := json.Marshal(block.Input)
			if err != nil {
				return nil, fmt.Errorf("marshal tool_use %q input: %w", block.ID, err)
			}
			resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: input,
			})
		}
	}

	return resp, nil
}

func mapStopReason(reason string) llm.StopReason {
	switch reason {
	case "tool_use":
		return llm.StopToolUse
	case "max_tokens":
		return llm.StopMaxTokens
	default:
		return llm.StopEndTurn
	}
}
