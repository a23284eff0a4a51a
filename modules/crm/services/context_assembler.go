package services

import (
	"context"
	"strings"

	"github.com/go-faster/errors"

	"github.com/leadloop/leadloop/modules/crm/domain/aggregates/lead"
	"github.com/leadloop/leadloop/modules/crm/domain/entities/leadmemory"
	"github.com/leadloop/leadloop/modules/crm/domain/entities/strategy"
	"github.com/leadloop/leadloop/modules/crm/domain/entities/workspace"
	"github.com/leadloop/leadloop/modules/crm/infrastructure/knowledge"
	"github.com/leadloop/leadloop/modules/crm/infrastructure/llm"
)

const (
	maxKnowledgeSnippets = 3
	snippetCharBudget    = 1000

	defaultSystemPrompt = "You are a professional sales-qualification assistant. " +
		"Qualify the lead politely, answer their questions and move the conversation " +
		"toward a concrete next step. Keep replies short and conversational."
)

// tierPolicy is the per-tier context budget. Applied identically on every
// call so assembly stays deterministic.
type tierPolicy struct {
	includeKnowledge   bool
	includeMemory      bool
	includeMemoryFacts bool
	toolsEnabled       bool
	maxTokens          int64
	temperature        float64
}

func policyForTier(tier workspace.BudgetTier) tierPolicy {
	switch tier {
	case workspace.TierRed:
		return tierPolicy{
			maxTokens:   512,
			temperature: 0.5,
		}
	case workspace.TierYellow:
		return tierPolicy{
			includeKnowledge: true,
			includeMemory:    true,
			toolsEnabled:     true,
			maxTokens:        1024,
			temperature:      0.7,
		}
	default:
		return tierPolicy{
			includeKnowledge:   true,
			includeMemory:      true,
			includeMemoryFacts: true,
			toolsEnabled:       true,
			maxTokens:          2048,
			temperature:        0.7,
		}
	}
}

// Assembled is the full prompt material for one turn.
type Assembled struct {
	SystemInstruction string
	GenConfig         llm.GenerationConfig
	ToolsEnabled      bool
}

type ContextAssemblerConfig struct {
	StrategyRepo strategy.Repository
	MemoryRepo   leadmemory.Repository
	Retriever    knowledge.Retriever
}

// ContextAssemblerService builds the system instruction and generation
// settings for a turn: active strategy text, retrieved knowledge snippets and
// lead memory, bounded by the workspace budget tier. Output is deterministic
// for identical inputs.
type ContextAssemblerService struct {
	cfg ContextAssemblerConfig
}

func NewContextAssemblerService(cfg ContextAssemblerConfig) *ContextAssemblerService {
	return &ContextAssemblerService{cfg: cfg}
}

func (s *ContextAssemblerService) Assemble(ctx context.Context, l lead.Lead, w workspace.Workspace, query string) (Assembled, error) {
	if l == nil || w == nil {
		return Assembled{}, errors.Wrap(ErrDataIntegrity, "context assembly requires lead and workspace")
	}
	policy := policyForTier(w.BudgetTier())

	var b strings.Builder
	block, err := s.strategyBlock(ctx)
	if err != nil {
		return Assembled{}, err
	}
	b.WriteString(block)

	if policy.includeKnowledge && query != "" {
		block, err := s.knowledgeBlock(ctx, l, query)
		if err != nil {
			return Assembled{}, err
		}
		b.WriteString(block)
	}

	if policy.includeMemory {
		block, err := s.memoryBlock(ctx, l, policy.includeMemoryFacts)
		if err != nil {
			return Assembled{}, err
		}
		b.WriteString(block)
	}

	return Assembled{
		SystemInstruction: strings.TrimRight(b.String(), "\n"),
		GenConfig: llm.GenerationConfig{
			MaxTokens:   policy.maxTokens,
			Temperature: policy.temperature,
		},
		ToolsEnabled: policy.toolsEnabled,
	}, nil
}

func (s *ContextAssemblerService) strategyBlock(ctx context.Context) (string, error) {
	active, err := s.cfg.StrategyRepo.GetActive(ctx)
	if err != nil {
		// Only the absence of an active strategy is a soft condition. Anything
		// else means the strategy state is unreadable and the turn must not
		// proceed on a degraded prompt.
		if errors.Is(err, strategy.ErrNoActiveStrategy) {
			return defaultSystemPrompt + "\n", nil
		}
		return "", errors.Wrap(ErrDataIntegrity, err.Error())
	}
	text := active.PromptText()
	if text == "" {
		return defaultSystemPrompt + "\n", nil
	}
	return text + "\n", nil
}

func (s *ContextAssemblerService) knowledgeBlock(ctx context.Context, l lead.Lead, query string) (string, error) {
	snippets, err := s.cfg.Retriever.Relevant(ctx, l.AgentID(), query, maxKnowledgeSnippets)
	if err != nil {
		return "", errors.Wrap(err, "failed to retrieve knowledge snippets")
	}
	if len(snippets) == 0 {
		return "", nil
	}
	var b strings.Builder
	b.WriteString("\nRelevant knowledge:\n")
	for _, snippet := range snippets {
		b.WriteString("- ")
		if snippet.Title != "" {
			b.WriteString(snippet.Title + ": ")
		}
		b.WriteString(clip(snippet.Content, snippetCharBudget) + "\n")
	}
	return b.String(), nil
}

func (s *ContextAssemblerService) memoryBlock(ctx context.Context, l lead.Lead, includeFacts bool) (string, error) {
	memory, err := s.cfg.MemoryRepo.GetByLeadID(ctx, l.ID())
	if err != nil {
		if errors.Is(err, leadmemory.ErrMemoryNotFound) {
			return "", nil
		}
		return "", errors.Wrap(err, "failed to load lead memory")
	}
	var b strings.Builder
	if memory.Summary() != "" {
		b.WriteString("\nWhat you know about this lead:\n" + memory.Summary() + "\n")
	}
	if includeFacts && len(memory.Facts()) > 0 {
		b.WriteString("Known facts:\n")
		for _, fact := range memory.Facts() {
			b.WriteString("- " + fact + "\n")
		}
	}
	return b.String(), nil
}

func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
