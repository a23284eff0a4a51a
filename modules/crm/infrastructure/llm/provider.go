package llm

import (
	"context"

	"github.com/leadloop/leadloop/pkg/serrors"
)

var (
	ErrProvider       = serrors.NewError("LLM_PROVIDER_ERROR", "llm provider call failed", "")
	ErrInvalidRequest = serrors.NewError("LLM_INVALID_REQUEST", "invalid llm request", "")
)

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
	RoleTool  Role = "tool"
)

type Message struct {
	Role    Role
	Content string
}

type GenerationConfig struct {
	MaxTokens   int64
	Temperature float64
}

// ChatRequest is the typed payload for a conversational completion.
// Construct via NewChatRequest so invalid payloads fail before transport.
type ChatRequest struct {
	SystemInstruction string
	Messages          []Message
	GenConfig         GenerationConfig
	ToolsEnabled      bool
}

func NewChatRequest(system string, messages []Message, cfg GenerationConfig, toolsEnabled bool) (ChatRequest, error) {
	if len(messages) == 0 {
		return ChatRequest{}, ErrInvalidRequest
	}
	for _, m := range messages {
		if m.Content == "" {
			return ChatRequest{}, ErrInvalidRequest
		}
	}
	return ChatRequest{
		SystemInstruction: system,
		Messages:          messages,
		GenConfig:         cfg,
		ToolsEnabled:      toolsEnabled,
	}, nil
}

type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

type ProviderInfo struct {
	Name  string
	Model string
}

type ChatResponse struct {
	Content    string
	Confidence float64
	Usage      Usage
	Provider   ProviderInfo
}

// ExtractionRequest is the typed payload for a structured-output call.
// Schema is a JSON schema the provider must conform to.
type ExtractionRequest struct {
	Messages   []Message
	SchemaName string
	Schema     map[string]any
	GenConfig  GenerationConfig
}

func NewExtractionRequest(messages []Message, schemaName string, schema map[string]any, cfg GenerationConfig) (ExtractionRequest, error) {
	if len(messages) == 0 || schemaName == "" || schema == nil {
		return ExtractionRequest{}, ErrInvalidRequest
	}
	return ExtractionRequest{
		Messages:   messages,
		SchemaName: schemaName,
		Schema:     schema,
		GenConfig:  cfg,
	}, nil
}

type ExtractionResponse struct {
	JSON     []byte
	Usage    Usage
	Provider ProviderInfo
}

// ConfidenceScorer derives a confidence score for a generated draft. The
// scoring source is pluggable: model-reported where available, otherwise a
// heuristic over the content.
type ConfidenceScorer func(content string) float64

type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Extract(ctx context.Context, req ExtractionRequest) (*ExtractionResponse, error)
}
