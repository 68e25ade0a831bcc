// Package openai implements the prompt-only HTTP provider adapter backed by
// the OpenAI Chat Completions API, grounded on features/model/openai/client.go
// from the teacher repo (ChatClient interface seam, New/NewFromAPIKey
// constructor shape, usage-field mapping) but built on the official
// github.com/openai/openai-go SDK, which is the dependency actually declared
// in the teacher's go.mod (see DESIGN.md).
package openai

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/pmflow/orchestrator/internal/provider"
	"github.com/pmflow/orchestrator/internal/provider/errkind"
)

// ChatClient captures the subset of the openai-go client used by the
// adapter, so tests can substitute a fake for the real SDK client.
type ChatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Options configures the adapter.
type Options struct {
	Client       ChatClient
	DefaultModel string
}

// Client implements provider.Adapter via the OpenAI Chat Completions API.
type Client struct {
	chat  ChatClient
	model string
}

// New builds an adapter from the given options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openai: client is required")
	}
	modelID := strings.TrimSpace(opts.DefaultModel)
	if modelID == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{chat: opts.Client, model: modelID}, nil
}

// NewFromAPIKey constructs a client using the SDK's default HTTP transport.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	sc := openai.NewClient(option.WithAPIKey(apiKey))
	return New(Options{Client: &sc.Chat.Completions, DefaultModel: defaultModel})
}

func (c *Client) ID() string        { return "openai" }
func (c *Client) Name() string      { return "OpenAI" }
func (c *Client) Models() []string  { return []string{c.model} }
func (c *Client) Capabilities() provider.Capabilities {
	return provider.Capabilities{FileAccess: false, ShellAccess: false, ToolUse: true, SubAgents: false}
}

func (c *Client) Detect(context.Context) provider.Info {
	return provider.Info{ID: c.ID(), Name: c.Name(), Available: true, Models: c.Models(), Capabilities: c.Capabilities()}
}

// Execute issues a Chat Completions request and maps the response/error into
// an ExecutionResult.
func (c *Client) Execute(ctx context.Context, ec provider.ExecutionContext) (provider.ExecutionResult, error) {
	modelID := strings.TrimSpace(ec.Model)
	if modelID == "" {
		modelID = c.model
	}

	messages := []openai.ChatCompletionMessageParamUnion{}
	if ec.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(ec.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(ec.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    modelID,
		Messages: messages,
	}
	if ec.MaxOutputTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(ec.MaxOutputTokens))
	}

	start := time.Now()
	resp, err := c.chat.New(ctx, params)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		emsg := err.Error()
		return provider.ExecutionResult{
			Success:    false,
			Error:      emsg,
			ErrorKind:  errkind.Classify(emsg),
			DurationMs: duration,
		}, nil
	}

	var text string
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	}
	if ec.OnStream != nil && text != "" {
		ec.OnStream(provider.StreamEvent{Kind: "text", Text: text, At: time.Now()})
	}

	result := provider.ExecutionResult{Success: true, Output: text, DurationMs: duration}
	if resp.Usage.TotalTokens > 0 {
		result.Usage = &provider.TokenUsage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		}
	}
	return result, nil
}
