package services_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadloop/leadloop/modules/crm/domain/entities/knowledge"
	"github.com/leadloop/leadloop/modules/crm/domain/entities/leadmemory"
	"github.com/leadloop/leadloop/modules/crm/domain/entities/workspace"
	"github.com/leadloop/leadloop/modules/crm/services"
)

func TestContextAssembler_RedTierExcludesKnowledgeAndMemory(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	w := f.newWorkspace(t, workspace.WithBudgetTier(workspace.TierRed))
	l := f.newLead(t)
	f.newActiveStrategy(t)

	f.docs.Add(knowledge.NewDoc(f.tenantID, f.agentID, "Pricing", "Our pricing starts at $99 per month."))
	_, err := f.memories.Put(f.ctx, leadmemory.New(f.tenantID, l.ID(), "Asked about pricing last week.", []string{"budget: $100"}))
	require.NoError(t, err)

	assembled, err := f.newAssembler().Assemble(f.ctx, l, w, "what is your pricing")
	require.NoError(t, err)

	assert.NotContains(t, assembled.SystemInstruction, "pricing starts")
	assert.NotContains(t, assembled.SystemInstruction, "Asked about pricing")
	assert.NotContains(t, assembled.SystemInstruction, "budget: $100")
	assert.EqualValues(t, 512, assembled.GenConfig.MaxTokens)
	assert.InDelta(t, 0.5, assembled.GenConfig.Temperature, 0.0001)
	assert.False(t, assembled.ToolsEnabled)
}

func TestContextAssembler_GreenTierIncludesEverything(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	w := f.newWorkspace(t, workspace.WithBudgetTier(workspace.TierGreen))
	l := f.newLead(t)
	strat := f.newActiveStrategy(t)

	f.docs.Add(knowledge.NewDoc(f.tenantID, f.agentID, "Pricing", "Our pricing starts at $99 per month."))
	_, err := f.memories.Put(f.ctx, leadmemory.New(f.tenantID, l.ID(), "Asked about pricing last week.", []string{"budget: $100"}))
	require.NoError(t, err)

	assembled, err := f.newAssembler().Assemble(f.ctx, l, w, "what is your pricing")
	require.NoError(t, err)

	assert.Contains(t, assembled.SystemInstruction, strat.Tone())
	assert.Contains(t, assembled.SystemInstruction, "pricing starts at $99")
	assert.Contains(t, assembled.SystemInstruction, "Asked about pricing last week.")
	assert.Contains(t, assembled.SystemInstruction, "budget: $100")
	assert.EqualValues(t, 2048, assembled.GenConfig.MaxTokens)
	assert.InDelta(t, 0.7, assembled.GenConfig.Temperature, 0.0001)
	assert.True(t, assembled.ToolsEnabled)
}

func TestContextAssembler_YellowTierDropsMemoryFacts(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	w := f.newWorkspace(t, workspace.WithBudgetTier(workspace.TierYellow))
	l := f.newLead(t)
	f.newActiveStrategy(t)

	_, err := f.memories.Put(f.ctx, leadmemory.New(f.tenantID, l.ID(), "Asked about pricing last week.", []string{"budget: $100"}))
	require.NoError(t, err)

	assembled, err := f.newAssembler().Assemble(f.ctx, l, w, "")
	require.NoError(t, err)

	assert.Contains(t, assembled.SystemInstruction, "Asked about pricing last week.")
	assert.NotContains(t, assembled.SystemInstruction, "budget: $100")
	assert.EqualValues(t, 1024, assembled.GenConfig.MaxTokens)
	assert.True(t, assembled.ToolsEnabled)
}

func TestContextAssembler_NoQuerySkipsKnowledge(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	w := f.newWorkspace(t, workspace.WithBudgetTier(workspace.TierGreen))
	l := f.newLead(t)
	f.newActiveStrategy(t)
	f.docs.Add(knowledge.NewDoc(f.tenantID, f.agentID, "Pricing", "Our pricing starts at $99 per month."))

	assembled, err := f.newAssembler().Assemble(f.ctx, l, w, "")
	require.NoError(t, err)
	assert.NotContains(t, assembled.SystemInstruction, "pricing starts")
}

func TestContextAssembler_FallsBackToDefaultPrompt(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	w := f.newWorkspace(t)
	l := f.newLead(t)

	assembled, err := f.newAssembler().Assemble(f.ctx, l, w, "")
	require.NoError(t, err)
	assert.Contains(t, assembled.SystemInstruction, "sales-qualification assistant")
}

func TestContextAssembler_UnreadableStrategyFailsTheTurn(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	w := f.newWorkspace(t)
	l := f.newLead(t)

	sut := f.newAssemblerWith(&failingStrategyRepo{err: errors.New("connection refused")})

	_, err := sut.Assemble(f.ctx, l, w, "pricing")
	require.ErrorIs(t, err, services.ErrDataIntegrity)
}

func TestContextAssembler_ClipsLongSnippets(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	w := f.newWorkspace(t, workspace.WithBudgetTier(workspace.TierGreen))
	l := f.newLead(t)
	f.newActiveStrategy(t)

	long := "pricing " + strings.Repeat("x", 3000)
	f.docs.Add(knowledge.NewDoc(f.tenantID, f.agentID, "Pricing", long))

	assembled, err := f.newAssembler().Assemble(f.ctx, l, w, "pricing")
	require.NoError(t, err)
	assert.Contains(t, assembled.SystemInstruction, "pricing xxx")
	assert.NotContains(t, assembled.SystemInstruction, strings.Repeat("x", 1001))
}

func TestContextAssembler_Deterministic(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	w := f.newWorkspace(t, workspace.WithBudgetTier(workspace.TierGreen))
	l := f.newLead(t)
	f.newActiveStrategy(t)
	f.docs.Add(knowledge.NewDoc(f.tenantID, f.agentID, "Pricing", "Our pricing starts at $99 per month."))

	sut := f.newAssembler()
	first, err := sut.Assemble(f.ctx, l, w, "pricing please")
	require.NoError(t, err)
	second, err := sut.Assemble(f.ctx, l, w, "pricing please")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
