package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/okapilabs/steer/internal/engine"
	"github.com/okapilabs/steer/pkg/models"
)

// DefaultAnthropicModel is used when AnthropicConfig.Model is empty.
const DefaultAnthropicModel = "claude-sonnet-4-20250514"

// AnthropicConfig holds configuration for the Anthropic decision policy.
// Only APIKey is required.
type AnthropicConfig struct {
	// APIKey authenticates against the Anthropic API. Format: sk-ant-...
	APIKey string

	// BaseURL overrides the default API base URL.
	BaseURL string

	// Model selects the Claude model. Default: DefaultAnthropicModel.
	Model string

	// System is the system prompt prepended to every request.
	System string

	// MaxTokens bounds the response length. Default: 4096.
	MaxTokens int
}

// AnthropicPolicy decides the next action by asking a Claude model. The
// session history is converted to the Messages API format, registered tool
// schemas plus the synthetic finish tool are offered, and the response is
// mapped back onto the action union.
//
// Safe for concurrent use; each Decide call is an independent request.
type AnthropicPolicy struct {
	client    anthropic.Client
	model     string
	system    string
	maxTokens int64
}

// NewAnthropicPolicy creates an Anthropic-backed decision policy.
func NewAnthropicPolicy(cfg AnthropicConfig) (*AnthropicPolicy, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultAnthropicModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicPolicy{
		client:    anthropic.NewClient(options...),
		model:     cfg.Model,
		system:    cfg.System,
		maxTokens: int64(cfg.MaxTokens),
	}, nil
}

// Decide implements engine.DecisionPolicy.
func (p *AnthropicPolicy) Decide(ctx context.Context, step engine.StepContext) (models.Action, error) {
	messages, err := p.convertHistory(step)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}
	tools, err := p.convertTools(step.Tools)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		Messages:  messages,
		MaxTokens: p.maxTokens,
		Tools:     tools,
	}
	if p.system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: p.system}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: completion failed: %w", err)
	}

	return p.parseResponse(msg)
}

// parseResponse maps the response content blocks onto an action. The first
// tool use block wins; otherwise the concatenated text becomes an agent
// message.
func (p *AnthropicPolicy) parseResponse(msg *anthropic.Message) (models.Action, error) {
	var text strings.Builder
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		case anthropic.ToolUseBlock:
			return toolCallAction(variant.Name, variant.ID, []byte(variant.Input))
		}
	}
	if text.Len() == 0 {
		return nil, errors.New("anthropic: empty response")
	}
	return models.NewMessage(text.String(), models.OriginAgent), nil
}

// convertHistory converts the session history to Anthropic message params.
// Observations without a provider-side representation (success acks) are
// dropped; tool results ride as user-role tool result blocks per the
// Messages API contract.
func (p *AnthropicPolicy) convertHistory(step engine.StepContext) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	if extra := clarificationContext(step.Clarifications); extra != "" {
		result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(extra)))
	}

	for _, event := range step.History {
		switch e := event.(type) {
		case *models.Message:
			block := anthropic.NewTextBlock(e.Content)
			if e.Origin == models.OriginAgent {
				result = append(result, anthropic.NewAssistantMessage(block))
			} else {
				result = append(result, anthropic.NewUserMessage(block))
			}

		case *models.Think:
			result = append(result, anthropic.NewAssistantMessage(anthropic.NewTextBlock(e.Thought)))

		case *models.ToolCall:
			input := e.Input
			if input == nil {
				input = map[string]any{}
			}
			result = append(result, anthropic.NewAssistantMessage(
				anthropic.NewToolUseBlock(e.CallID, input, e.ToolName),
			))

		case *models.ToolResult:
			content, err := payloadText(e.Payload)
			if err != nil {
				return nil, err
			}
			result = append(result, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(e.CallID, content, !e.Success),
			))

		case *models.ErrorObservation:
			result = append(result, anthropic.NewUserMessage(
				anthropic.NewTextBlock("Previous step failed: "+e.Message),
			))
		}
	}
	return result, nil
}

// convertTools projects engine tool schemas plus the synthetic finish tool
// into the Anthropic tool format.
func (p *AnthropicPolicy) convertTools(schemas []engine.ToolSchema) ([]anthropic.ToolUnionParam, error) {
	all := append(append([]engine.ToolSchema(nil), schemas...), finishSchema())

	var result []anthropic.ToolUnionParam
	for _, schema := range all {
		var inputSchema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(schema.Parameters, &inputSchema); err != nil {
			return nil, fmt.Errorf("invalid schema for tool %s: %w", schema.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(inputSchema, schema.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid schema for tool %s: missing tool definition", schema.Name)
		}
		toolParam.OfTool.Description = anthropic.String(schema.Description)
		result = append(result, toolParam)
	}
	return result, nil
}

// payloadText renders a tool result payload as text for the provider.
func payloadText(payload any) (string, error) {
	switch v := payload.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("tool result payload not serializable: %w", err)
		}
		return string(raw), nil
	}
}
