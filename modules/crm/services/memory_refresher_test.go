package services_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadloop/leadloop/modules/crm/domain/entities/convthread"
	"github.com/leadloop/leadloop/modules/crm/domain/entities/leadmemory"
	"github.com/leadloop/leadloop/modules/crm/infrastructure/llm"
	"github.com/leadloop/leadloop/modules/crm/services"
)

func newRefresher(f *fixtures, provider llm.Provider) *services.MemoryRefresher {
	return services.NewMemoryRefresher(services.MemoryRefresherConfig{
		Provider:   provider,
		ThreadRepo: f.threads,
		MemoryRepo: f.memories,
		Workers:    1,
	})
}

func TestMemoryRefresher_OverwritesMemory(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	l := f.newLead(t)

	for i, content := range []string{"Hi Alice", "Hi, who is this?", "I work at Acme, want a demo?"} {
		role := convthread.RoleModel
		if i%2 == 1 {
			role = convthread.RoleUser
		}
		msg := convthread.MustNewMessage(role, content, testNow.Add(time.Duration(i)*time.Minute))
		require.NoError(t, f.threads.Append(f.ctx, l.ID(), msg))
	}

	_, err := f.memories.Put(f.ctx, leadmemory.New(f.tenantID, l.ID(), "Stale summary.", []string{"stale fact"}))
	require.NoError(t, err)

	provider := &stubProvider{extractResp: &llm.ExtractionResponse{
		JSON: []byte(`{"summary":"Alice asked who we are and was offered a demo.","facts":["interested in demo"]}`),
	}}
	sut := newRefresher(f, provider)
	sut.Start(f.ctx)
	sut.Submit(f.ctx, l.ID())
	sut.Stop()

	memory, err := f.memories.GetByLeadID(f.ctx, l.ID())
	require.NoError(t, err)
	assert.Equal(t, "Alice asked who we are and was offered a demo.", memory.Summary())
	assert.Equal(t, []string{"interested in demo"}, memory.Facts())
	assert.Equal(t, 1, provider.extractCalls)
}

func TestMemoryRefresher_FailureLeavesMemoryUntouched(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	l := f.newLead(t)

	msg := convthread.MustNewMessage(convthread.RoleUser, "hello", testNow)
	require.NoError(t, f.threads.Append(f.ctx, l.ID(), msg))
	_, err := f.memories.Put(f.ctx, leadmemory.New(f.tenantID, l.ID(), "Existing summary.", nil))
	require.NoError(t, err)

	for _, provider := range []*stubProvider{
		{extractErr: errors.New("upstream 500")},
		{extractResp: &llm.ExtractionResponse{JSON: []byte(`not json`)}},
		{extractResp: &llm.ExtractionResponse{JSON: []byte(`{"summary":"  ","facts":[]}`)}},
	} {
		sut := newRefresher(f, provider)
		sut.Start(f.ctx)
		sut.Submit(f.ctx, l.ID())
		sut.Stop()
	}

	memory, err := f.memories.GetByLeadID(f.ctx, l.ID())
	require.NoError(t, err)
	assert.Equal(t, "Existing summary.", memory.Summary())
}

func TestMemoryRefresher_EmptyThreadSkipsProvider(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	l := f.newLead(t)

	provider := &stubProvider{}
	sut := newRefresher(f, provider)
	sut.Start(f.ctx)
	sut.Submit(f.ctx, l.ID())
	sut.Stop()

	assert.Equal(t, 0, provider.extractCalls)
	_, err := f.memories.GetByLeadID(f.ctx, l.ID())
	assert.ErrorIs(t, err, leadmemory.ErrMemoryNotFound)
}

func TestMemoryRefresher_SubmitAfterStopIsDropped(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	l := f.newLead(t)

	msg := convthread.MustNewMessage(convthread.RoleUser, "hello", testNow)
	require.NoError(t, f.threads.Append(f.ctx, l.ID(), msg))

	provider := &stubProvider{}
	sut := newRefresher(f, provider)
	sut.Start(f.ctx)
	sut.Stop()

	assert.NotPanics(t, func() {
		sut.Submit(f.ctx, l.ID())
	})
	assert.Equal(t, 0, provider.extractCalls)
}
