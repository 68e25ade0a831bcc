// Package bedrock implements the prompt-only HTTP provider adapter backed by
// the AWS Bedrock Converse API, grounded on features/model/bedrock/client.go
// from the teacher repo: same RuntimeClient interface seam over
// *bedrockruntime.Client, same ConverseInput construction, same usage-field
// translation from output.Usage. Tool use, thinking, and streaming are out of
// scope for this adapter (spec.md §4.4 describes HTTP adapters as prompt-only).
package bedrock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/pmflow/orchestrator/internal/provider"
	"github.com/pmflow/orchestrator/internal/provider/errkind"
)

// RuntimeClient captures the subset of the Bedrock runtime client used by the
// adapter, matching *bedrockruntime.Client so tests can substitute a fake.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Options configures the adapter's default model.
type Options struct {
	DefaultModel string
}

// Client implements provider.Adapter via the Bedrock Converse API.
type Client struct {
	runtime RuntimeClient
	model   string
}

// New builds an adapter from an existing Bedrock runtime client.
func New(runtime RuntimeClient, opts Options) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	modelID := strings.TrimSpace(opts.DefaultModel)
	if modelID == "" {
		return nil, errors.New("bedrock: default model is required")
	}
	return &Client{runtime: runtime, model: modelID}, nil
}

func (c *Client) ID() string       { return "bedrock" }
func (c *Client) Name() string     { return "AWS Bedrock" }
func (c *Client) Models() []string { return []string{c.model} }
func (c *Client) Capabilities() provider.Capabilities {
	return provider.Capabilities{FileAccess: false, ShellAccess: false, ToolUse: false, SubAgents: false}
}

func (c *Client) Detect(context.Context) provider.Info {
	return provider.Info{ID: c.ID(), Name: c.Name(), Available: true, Models: c.Models(), Capabilities: c.Capabilities()}
}

// Execute issues a Converse request and maps the response/error into an
// ExecutionResult.
func (c *Client) Execute(ctx context.Context, ec provider.ExecutionContext) (provider.ExecutionResult, error) {
	modelID := strings.TrimSpace(ec.Model)
	if modelID == "" {
		modelID = c.model
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(modelID),
		Messages: []brtypes.Message{
			{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: ec.Prompt}},
			},
		},
	}
	if ec.SystemPrompt != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: ec.SystemPrompt}}
	}
	if ec.MaxOutputTokens > 0 {
		maxTok := int32(ec.MaxOutputTokens)
		input.InferenceConfig = &brtypes.InferenceConfiguration{MaxTokens: &maxTok}
	}

	start := time.Now()
	output, err := c.runtime.Converse(ctx, input)
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
	if msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			if tb, ok := block.(*brtypes.ContentBlockMemberText); ok {
				text += tb.Value
			}
		}
	}
	if ec.OnStream != nil && text != "" {
		ec.OnStream(provider.StreamEvent{Kind: "text", Text: text, At: time.Now()})
	}

	result := provider.ExecutionResult{Success: true, Output: text, DurationMs: duration}
	if output.Usage != nil {
		result.Usage = &provider.TokenUsage{
			InputTokens:  int(ptrInt32(output.Usage.InputTokens)),
			OutputTokens: int(ptrInt32(output.Usage.OutputTokens)),
		}
	}
	return result, nil
}

func ptrInt32(p *int32) int32 {
	if p == nil {
		return 0
	}
	return *p
}
