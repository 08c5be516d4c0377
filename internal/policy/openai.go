package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/okapilabs/steer/internal/engine"
	"github.com/okapilabs/steer/pkg/models"
)

// DefaultOpenAIModel is used when OpenAIConfig.Model is empty.
const DefaultOpenAIModel = "gpt-4o"

// OpenAIConfig holds configuration for the OpenAI decision policy. Only
// APIKey is required. BaseURL also covers OpenAI-compatible endpoints.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	System    string
	MaxTokens int
}

// OpenAIPolicy decides the next action by asking an OpenAI chat model.
// Unlike the Anthropic API, the system prompt rides in the messages array
// and tool results are separate tool-role messages.
type OpenAIPolicy struct {
	client    *openai.Client
	model     string
	system    string
	maxTokens int
}

// NewOpenAIPolicy creates an OpenAI-backed decision policy.
func NewOpenAIPolicy(cfg OpenAIConfig) (*OpenAIPolicy, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	var client *openai.Client
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg := openai.DefaultConfig(cfg.APIKey)
		clientCfg.BaseURL = cfg.BaseURL
		client = openai.NewClientWithConfig(clientCfg)
	} else {
		client = openai.NewClient(cfg.APIKey)
	}

	return &OpenAIPolicy{
		client:    client,
		model:     cfg.Model,
		system:    cfg.System,
		maxTokens: cfg.MaxTokens,
	}, nil
}

// Decide implements engine.DecisionPolicy.
func (p *OpenAIPolicy) Decide(ctx context.Context, step engine.StepContext) (models.Action, error) {
	messages, err := p.convertHistory(step)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     p.model,
		Messages:  messages,
		Tools:     p.convertTools(step.Tools),
		MaxTokens: p.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: no choices in response")
	}

	choice := resp.Choices[0].Message
	if len(choice.ToolCalls) > 0 {
		call := choice.ToolCalls[0]
		return toolCallAction(call.Function.Name, call.ID, []byte(call.Function.Arguments))
	}
	if choice.Content == "" {
		return nil, errors.New("openai: empty response")
	}
	return models.NewMessage(choice.Content, models.OriginAgent), nil
}

// convertHistory converts the session history to chat completion messages.
func (p *OpenAIPolicy) convertHistory(step engine.StepContext) ([]openai.ChatCompletionMessage, error) {
	var result []openai.ChatCompletionMessage

	if p.system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: p.system,
		})
	}
	if extra := clarificationContext(step.Clarifications); extra != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: extra,
		})
	}

	for _, event := range step.History {
		switch e := event.(type) {
		case *models.Message:
			role := openai.ChatMessageRoleUser
			if e.Origin == models.OriginAgent {
				role = openai.ChatMessageRoleAssistant
			}
			result = append(result, openai.ChatCompletionMessage{Role: role, Content: e.Content})

		case *models.Think:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: e.Thought,
			})

		case *models.ToolCall:
			args, err := json.Marshal(e.Input)
			if err != nil {
				return nil, fmt.Errorf("tool call input not serializable: %w", err)
			}
			result = append(result, openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{{
					ID:   e.CallID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      e.ToolName,
						Arguments: string(args),
					},
				}},
			})

		case *models.ToolResult:
			content, err := payloadText(e.Payload)
			if err != nil {
				return nil, err
			}
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    content,
				ToolCallID: e.CallID,
			})

		case *models.ErrorObservation:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: "Previous step failed: " + e.Message,
			})
		}
	}
	return result, nil
}

// convertTools projects engine tool schemas plus the synthetic finish tool
// into the OpenAI function format.
func (p *OpenAIPolicy) convertTools(schemas []engine.ToolSchema) []openai.Tool {
	all := append(append([]engine.ToolSchema(nil), schemas...), finishSchema())

	result := make([]openai.Tool, 0, len(all))
	for _, schema := range all {
		result = append(result, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        schema.Name,
				Description: schema.Description,
				Parameters:  schema.Parameters,
			},
		})
	}
	return result
}
