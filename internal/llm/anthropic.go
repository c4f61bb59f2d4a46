package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	apperrors "github.com/exedev/mcpchat/internal/errors"
	"github.com/exedev/mcpchat/internal/transcript"
)

// DefaultModel is used when neither flags nor settings name a model.
const DefaultModel = "claude-3-5-sonnet-20241022"

// AnthropicClient wraps the Anthropic SDK.
type AnthropicClient struct {
	client *anthropic.Client
	model  string
}

func NewAnthropicClient(apiKey, model, baseURL string) *AnthropicClient {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = DefaultModel
	}
	c := anthropic.NewClient(opts...)
	return &AnthropicClient{
		client: &c,
		model:  model,
	}
}

// CreateResponse sends req and returns its events. With req.Stream unset the
// complete response is fetched first and replayed.
func (c *AnthropicClient) CreateResponse(ctx context.Context, req Request) (EventStream, error) {
	params := c.buildParams(req)

	if !req.Stream {
		resp, err := c.client.Messages.New(ctx, params)
		if err != nil {
			return nil, classifyAPIError(err)
		}
		return NewSliceStream(replayMessage(resp), nil), nil
	}

	return Prime(&anthropicStream{s: c.client.Messages.NewStreaming(ctx, params)})
}

func (c *AnthropicClient) buildParams(req Request) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  toAnthropicMessages(req.Messages),
	}
	if len(req.Tools) > 0 {
		params.Tools = toAnthropicTools(req.Tools)
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	return params
}

func toAnthropicTools(tools []ToolDef) []anthropic.ToolUnionParam {
	apiTools := make([]anthropic.ToolUnionParam, len(tools))
	for i, td := range tools {
		props, _ := td.InputSchema["properties"].(map[string]interface{})
		schema := anthropic.ToolInputSchemaParam{
			Properties: props,
		}
		switch req := td.InputSchema["required"].(type) {
		case []interface{}:
			reqStrings := make([]string, 0, len(req))
			for _, r := range req {
				if s, ok := r.(string); ok {
					reqStrings = append(reqStrings, s)
				}
			}
			schema.Required = reqStrings
		case []string:
			schema.Required = req
		}
		t := anthropic.ToolUnionParamOfTool(schema, td.Name)
		if td.Description != "" {
			t.OfTool.Description = param.NewOpt(td.Description)
		}
		apiTools[i] = t
	}
	return apiTools
}

// toAnthropicMessages converts the transcript into API params. Empty text is
// dropped since the API rejects empty text blocks; a message left with no
// blocks is dropped entirely.
func toAnthropicMessages(msgs []transcript.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		var blocks []anthropic.ContentBlockParamUnion
		if !m.Content.IsBlocks() {
			if m.Content.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content.Text))
			}
		}
		for _, b := range m.Content.Blocks {
			switch v := b.(type) {
			case transcript.TextBlock:
				if v.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(v.Text))
				}
			case transcript.ToolUseBlock:
				input := v.Input
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(v.ID, input, v.Name))
			case transcript.ToolResultBlock:
				blocks = append(blocks, anthropic.NewToolResultBlock(v.ToolUseID, ToolContentText(v.Content), v.IsError))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if m.Role == transcript.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

// ToolContentText renders opaque tool output as the text the model sees.
// MCP content arrays are joined by their text parts; JSON strings are
// unquoted; anything else is passed through verbatim.
func ToolContentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil && len(parts) > 0 {
		texts := make([]string, 0, len(parts))
		for _, p := range parts {
			if p.Type != "text" {
				return string(raw)
			}
			texts = append(texts, p.Text)
		}
		return strings.Join(texts, "\n")
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// replayMessage expands a complete response into the event sequence a stream
// would have produced.
func replayMessage(resp *anthropic.Message) []StreamEvent {
	var events []StreamEvent
	for i, block := range resp.Content {
		switch block.Type {
		case "text":
			events = append(events,
				StreamEvent{Kind: EventBlockStart, Index: i, Block: BlockText},
				StreamEvent{Kind: EventDelta, Index: i, Delta: DeltaText, Text: block.Text},
				StreamEvent{Kind: EventBlockStop, Index: i},
			)
		case "tool_use":
			toolUse := block.AsToolUse()
			events = append(events,
				StreamEvent{Kind: EventBlockStart, Index: i, Block: BlockToolUse, ID: toolUse.ID, Name: toolUse.Name},
				StreamEvent{Kind: EventDelta, Index: i, Delta: DeltaPartialInput, Text: string(toolUse.Input)},
				StreamEvent{Kind: EventBlockStop, Index: i},
			)
		}
	}
	return append(events, StreamEvent{Kind: EventMessageStop, StopReason: string(resp.StopReason)})
}

// classifyAPIError marks API errors by HTTP status: 429 and 5xx are worth
// retrying, other 4xx are not. Transport errors are left to message
// classification.
func classifyAPIError(err error) error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	kind := fmt.Sprintf("http %d", apiErr.StatusCode)
	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError:
		return apperrors.NewRetryableError(err, kind)
	case apiErr.StatusCode >= http.StatusBadRequest:
		return apperrors.NewPermanentError(err, kind)
	}
	return err
}

// sdkStream is the subset of the SDK's SSE stream we consume.
type sdkStream interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
	Close() error
}

// anthropicStream adapts SDK stream events to StreamEvent, skipping the ones
// that carry nothing for assembly (message_start, usage, thinking deltas).
type anthropicStream struct {
	s          sdkStream
	cur        StreamEvent
	stopReason string
}

func (a *anthropicStream) Next() bool {
	for a.s.Next() {
		ev, ok := a.convert(a.s.Current())
		if ok {
			a.cur = ev
			return true
		}
	}
	return false
}

func (a *anthropicStream) Current() StreamEvent { return a.cur }
func (a *anthropicStream) Err() error           { return classifyAPIError(a.s.Err()) }
func (a *anthropicStream) Close() error         { return a.s.Close() }

func (a *anthropicStream) convert(ev anthropic.MessageStreamEventUnion) (StreamEvent, bool) {
	switch e := ev.AsAny().(type) {
	case anthropic.ContentBlockStartEvent:
		out := StreamEvent{Kind: EventBlockStart, Index: int(e.Index), Block: BlockKind(e.ContentBlock.Type)}
		if out.Block == BlockToolUse {
			out.ID = e.ContentBlock.ID
			out.Name = e.ContentBlock.Name
		}
		return out, true
	case anthropic.ContentBlockDeltaEvent:
		switch e.Delta.Type {
		case "text_delta":
			return StreamEvent{Kind: EventDelta, Index: int(e.Index), Delta: DeltaText, Text: e.Delta.Text}, true
		case "input_json_delta":
			return StreamEvent{Kind: EventDelta, Index: int(e.Index), Delta: DeltaPartialInput, Text: e.Delta.PartialJSON}, true
		}
	case anthropic.ContentBlockStopEvent:
		return StreamEvent{Kind: EventBlockStop, Index: int(e.Index)}, true
	case anthropic.MessageDeltaEvent:
		a.stopReason = string(e.Delta.StopReason)
	case anthropic.MessageStopEvent:
		return StreamEvent{Kind: EventMessageStop, StopReason: a.stopReason}, true
	}
	return StreamEvent{}, false
}
