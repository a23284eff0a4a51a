package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

var thinkTagRegex = regexp.MustCompile(`(?s)<think>.*?</think>`)

type OpenAIProviderConfig struct {
	BaseURL     string
	AccessToken string
	Model       string

	// Scorer overrides the default confidence heuristic.
	Scorer ConfidenceScorer
}

type OpenAIProvider struct {
	client openai.Client
	model  string
	scorer ConfidenceScorer
}

func NewOpenAIProvider(config OpenAIProviderConfig) *OpenAIProvider {
	var client openai.Client
	if config.BaseURL != "" {
		client = openai.NewClient(
			option.WithAPIKey(config.AccessToken),
			option.WithBaseURL(config.BaseURL),
		)
	} else {
		client = openai.NewClient(
			option.WithAPIKey(config.AccessToken),
		)
	}
	scorer := config.Scorer
	if scorer == nil {
		scorer = defaultConfidence
	}
	return &OpenAIProvider{
		client: client,
		model:  config.Model,
		scorer: scorer,
	}
}

// defaultConfidence is a conservative stand-in until the upstream model
// reports a usable score: empty drafts score zero, everything else full.
func defaultConfidence(content string) float64 {
	if strings.TrimSpace(content) == "" {
		return 0
	}
	return 1
}

func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemInstruction != "" {
		messages = append(messages, openai.SystemMessage(req.SystemInstruction))
	}
	messages = append(messages, toOpenAIMessages(req.Messages)...)

	response, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       p.model,
		Messages:    messages,
		Temperature: openai.Float(req.GenConfig.Temperature),
		MaxTokens:   openai.Int(req.GenConfig.MaxTokens),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}
	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", ErrProvider)
	}

	content := strings.TrimSpace(thinkTagRegex.ReplaceAllString(response.Choices[0].Message.Content, ""))
	if content == "" {
		return nil, fmt.Errorf("%w: empty completion", ErrProvider)
	}

	return &ChatResponse{
		Content:    content,
		Confidence: p.scorer(content),
		Usage: Usage{
			PromptTokens:     response.Usage.PromptTokens,
			CompletionTokens: response.Usage.CompletionTokens,
			TotalTokens:      response.Usage.TotalTokens,
		},
		Provider: ProviderInfo{Name: "openai", Model: response.Model},
	}, nil
}

func (p *OpenAIProvider) Extract(ctx context.Context, req ExtractionRequest) (*ExtractionResponse, error) {
	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:   req.SchemaName,
		Schema: req.Schema,
		Strict: openai.Bool(true),
	}

	response, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       p.model,
		Messages:    toOpenAIMessages(req.Messages),
		Temperature: openai.Float(req.GenConfig.Temperature),
		MaxTokens:   openai.Int(req.GenConfig.MaxTokens),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{JSONSchema: schemaParam},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}
	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", ErrProvider)
	}

	content := strings.TrimSpace(response.Choices[0].Message.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: empty structured output", ErrProvider)
	}

	return &ExtractionResponse{
		JSON: []byte(content),
		Usage: Usage{
			PromptTokens:     response.Usage.PromptTokens,
			CompletionTokens: response.Usage.CompletionTokens,
			TotalTokens:      response.Usage.TotalTokens,
		},
		Provider: ProviderInfo{Name: "openai", Model: response.Model},
	}, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleModel, RoleTool:
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}
