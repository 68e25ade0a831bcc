// Package anthropic implements the prompt-only HTTP provider adapter backed
// by the Anthropic Messages API, grounded directly on
// features/model/anthropic/client.go from the teacher repo: same
// MessagesClient seam (so a mock can stand in for *sdk.MessageService in
// tests), same New/NewFromAPIKey constructor shape, same usage-field mapping.
package anthropic

import (
	"context"
	"errors"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/pmflow/orchestrator/internal/provider"
	"github.com/pmflow/orchestrator/internal/provider/errkind"
)

// MessagesClient captures the subset of the Anthropic SDK used by the
// adapter, so tests can substitute a fake in place of *sdk.MessageService.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Options configures the adapter's default model set and completion limits.
type Options struct {
	DefaultModel string
	HighModel    string
	SmallModel   string
	MaxTokens    int
	Temperature  float64
}

// Client implements provider.Adapter over the Anthropic Messages API.
type Client struct {
	msg     MessagesClient
	opts    Options
	models  []string
}

// New builds an adapter from an existing Anthropic Messages client.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropic: default model is required")
	}
	models := []string{opts.DefaultModel}
	if opts.HighModel != "" {
		models = append(models, opts.HighModel)
	}
	if opts.SmallModel != "" {
		models = append(models, opts.SmallModel)
	}
	return &Client{msg: msg, opts: opts, models: models}, nil
}

// NewFromAPIKey constructs a client using the SDK's default HTTP transport.
func NewFromAPIKey(apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	sc := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&sc.Messages, opts)
}

func (c *Client) ID() string   { return "anthropic" }
func (c *Client) Name() string { return "Anthropic" }
func (c *Client) Models() []string {
	return append([]string(nil), c.models...)
}
func (c *Client) Capabilities() provider.Capabilities {
	return provider.Capabilities{FileAccess: false, ShellAccess: false, ToolUse: true, SubAgents: false}
}

func (c *Client) Detect(context.Context) provider.Info {
	return provider.Info{ID: c.ID(), Name: c.Name(), Available: true, Models: c.Models(), Capabilities: c.Capabilities()}
}

// Execute issues a non-streaming Messages.New call and maps the response and
// any SDK error into an ExecutionResult (spec.md §4.4 prompt-only adapters).
func (c *Client) Execute(ctx context.Context, ec provider.ExecutionContext) (provider.ExecutionResult, error) {
	model := ec.Model
	if model == "" {
		model = c.opts.DefaultModel
	}
	maxTokens := ec.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = c.opts.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(ec.Prompt)),
		},
	}
	if ec.SystemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: ec.SystemPrompt}}
	}

	start := time.Now()
	msg, err := c.msg.New(ctx, params)
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
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if ec.OnStream != nil && text != "" {
		ec.OnStream(provider.StreamEvent{Kind: "text", Text: text, At: time.Now()})
	}

	result := provider.ExecutionResult{Success: true, Output: text, DurationMs: duration}
	u := msg.Usage
	if u.InputTokens != 0 || u.OutputTokens != 0 {
		result.Usage = &provider.TokenUsage{
			InputTokens:  int(u.InputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens),
			OutputTokens: int(u.OutputTokens),
		}
	}
	return result, nil
}
