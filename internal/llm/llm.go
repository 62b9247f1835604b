// Package llm wraps the Anthropic API for console assistance: streaming
// chat completions that may resolve to either plain text or a structured
// edit proposal for the code buffer.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joescharf/pyconsole/internal/models"
)

// Client wraps the Anthropic API for console chat.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model.
func NewClient(apiKey, model string) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// ChatRequest is one assistant turn: the user's prompt, the formatted
// console context to attach, and prior conversation history.
type ChatRequest struct {
	Prompt  string
	Context string // formatted console context, may be empty
	History []*models.ChatMessage
}

// ChatResult is the settled outcome of a streamed chat turn. Exactly one of
// Text or Proposal is meaningful: when the assistant answered with a
// propose_edit tool call, Proposal is set and Text is empty.
type ChatResult struct {
	Text     string
	Proposal *EditProposal
}

// ChatStream sends a chat turn and streams the reply. onChunk is invoked
// for each text delta as it arrives; it may be nil. The full reply is
// buffered so that a structured propose_edit tool call can be detected
// after the stream settles, since proposals arrive as one complete JSON
// object rather than incrementally.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest, onChunk func(string)) (*ChatResult, error) {
	messages := buildMessages(req)

	stream := c.api.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 4096,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: messages,
	})

	var full strings.Builder
	for stream.Next() {
		event := stream.Current()
		switch eventVariant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := eventVariant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				full.WriteString(delta.Text)
				if onChunk != nil {
					onChunk(delta.Text)
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic stream: %w", err)
	}

	text := full.String()
	if text == "" {
		return &ChatResult{}, nil
	}

	if proposal, ok := ParseProposal(text); ok {
		return &ChatResult{Proposal: proposal}, nil
	}
	return &ChatResult{Text: text}, nil
}

// buildMessages converts history plus the final prompt+context into the
// message chain for the API. The user's intent leads the final message,
// followed by the supporting context block.
func buildMessages(req ChatRequest) []anthropic.MessageParam {
	var messages []anthropic.MessageParam
	for _, msg := range req.History {
		switch msg.Role {
		case models.ChatRoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	final := strings.TrimSpace(req.Prompt)
	if ctx := strings.TrimSpace(req.Context); ctx != "" {
		final = fmt.Sprintf("## User Request\n%s\n\n%s", final, ctx)
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(final)))
	return messages
}

const systemPrompt = `You are a coding assistant embedded in an interactive Python console.
The user iteratively writes, runs, and repairs a single script in an editor buffer.
You receive the current code, cursor position, recent output, and a structured
analysis of the last traceback when one exists.

When the user asks you to fix or change the code, respond with ONLY a JSON object
of this exact shape and nothing else:

{"tool_name": "propose_edit", "explanation": "<one sentence>", "edit_type": "REPLACE_BLOCK", "start_line": <n>, "end_line": <n>, "code": "<replacement lines>"}

Rules for propose_edit:
- Line numbers are 1-based and inclusive; touch the smallest range that fixes the problem
- Use edit_type "REPLACE_ENTIRE_SCRIPT" (omitting start_line/end_line) only when most of the script must change
- The "code" field holds the exact replacement text; preserve the surrounding indentation
- Never wrap the JSON in markdown fencing or add commentary around it

For questions, explanations, or anything that is not a concrete code change,
answer in plain prose or markdown instead.`
