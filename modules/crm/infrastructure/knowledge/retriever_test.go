package knowledge_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadloop/leadloop/modules/crm/domain/entities/cache"
	domainKnowledge "github.com/leadloop/leadloop/modules/crm/domain/entities/knowledge"
	"github.com/leadloop/leadloop/modules/crm/infrastructure/knowledge"
	"github.com/leadloop/leadloop/modules/crm/infrastructure/persistence"
	"github.com/leadloop/leadloop/pkg/composables"
)

type fixtures struct {
	ctx      context.Context
	tenantID uuid.UUID
	agentID  uuid.UUID
	store    *persistence.InmemKnowledgeStore
}

func setupTest(t *testing.T) *fixtures {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	tenantID := uuid.New()
	ctx := composables.WithTenantID(context.Background(), tenantID)
	ctx = composables.WithLogger(ctx, logrus.NewEntry(logger))

	return &fixtures{
		ctx:      ctx,
		tenantID: tenantID,
		agentID:  uuid.New(),
		store:    persistence.NewInmemKnowledgeStore(),
	}
}

func (f *fixtures) addDoc(title, content string, createdAt time.Time) domainKnowledge.Doc {
	doc := domainKnowledge.NewDoc(f.tenantID, f.agentID, title, content,
		domainKnowledge.WithCreatedAt(createdAt))
	f.store.Add(doc)
	return doc
}

// memCache is a map-backed cache for asserting reads and writes.
type memCache struct {
	values map[string]string
	gets   int
	sets   int
	getErr error
}

func newMemCache() *memCache {
	return &memCache{values: map[string]string{}}
}

func (c *memCache) Get(_ context.Context, key string) (string, error) {
	c.gets++
	if c.getErr != nil {
		return "", c.getErr
	}
	v, ok := c.values[key]
	if !ok {
		return "", cache.ErrKeyNotFound
	}
	return v, nil
}

func (c *memCache) Set(_ context.Context, key, value string) error {
	c.sets++
	c.values[key] = value
	return nil
}

func TestKeywordRetriever_ScoresByQueryWordOverlap(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	base := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

	f.addDoc("Pricing", "Our pricing starts at 99 per seat.", base)
	f.addDoc("Onboarding", "Onboarding takes two weeks.", base.Add(time.Minute))
	f.addDoc("Security", "SOC2 compliance report available.", base.Add(2*time.Minute))

	sut := knowledge.NewKeywordRetriever(f.store, nil)
	snippets, err := sut.Relevant(f.ctx, f.agentID, "pricing per seat", 3)
	require.NoError(t, err)

	require.Len(t, snippets, 1)
	assert.Equal(t, "Pricing", snippets[0].Title)
	assert.InDelta(t, 1.0, snippets[0].Score, 1e-9)
}

func TestKeywordRetriever_RanksByScoreDescending(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	base := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

	f.addDoc("Partial", "pricing details", base)
	f.addDoc("Full", "pricing for enterprise plans", base.Add(time.Minute))

	sut := knowledge.NewKeywordRetriever(f.store, nil)
	snippets, err := sut.Relevant(f.ctx, f.agentID, "enterprise pricing plans", 3)
	require.NoError(t, err)

	require.Len(t, snippets, 2)
	assert.Equal(t, "Full", snippets[0].Title)
	assert.InDelta(t, 1.0, snippets[0].Score, 1e-9)
	assert.Equal(t, "Partial", snippets[1].Title)
	assert.InDelta(t, 1.0/3.0, snippets[1].Score, 1e-9)
}

func TestKeywordRetriever_TiesKeepStoreOrder(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	base := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

	f.addDoc("Older", "pricing overview", base)
	f.addDoc("Newer", "pricing summary", base.Add(time.Minute))

	sut := knowledge.NewKeywordRetriever(f.store, nil)
	snippets, err := sut.Relevant(f.ctx, f.agentID, "pricing", 3)
	require.NoError(t, err)

	require.Len(t, snippets, 2)
	assert.Equal(t, "Older", snippets[0].Title)
	assert.Equal(t, "Newer", snippets[1].Title)
}

func TestKeywordRetriever_RespectsLimit(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	base := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		f.addDoc("Doc", "pricing notes", base.Add(time.Duration(i)*time.Minute))
	}

	sut := knowledge.NewKeywordRetriever(f.store, nil)
	snippets, err := sut.Relevant(f.ctx, f.agentID, "pricing", 2)
	require.NoError(t, err)
	assert.Len(t, snippets, 2)
}

func TestKeywordRetriever_EmptyQueryReturnsNothing(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	f.addDoc("Pricing", "pricing notes", time.Now())

	sut := knowledge.NewKeywordRetriever(f.store, nil)

	snippets, err := sut.Relevant(f.ctx, f.agentID, "  ...  ", 3)
	require.NoError(t, err)
	assert.Empty(t, snippets)

	snippets, err = sut.Relevant(f.ctx, f.agentID, "pricing", 0)
	require.NoError(t, err)
	assert.Empty(t, snippets)
}

func TestKeywordRetriever_ScopedToAgentAndTenant(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	base := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

	f.addDoc("Mine", "pricing notes", base)
	f.store.Add(domainKnowledge.NewDoc(f.tenantID, uuid.New(), "Other agent", "pricing notes",
		domainKnowledge.WithCreatedAt(base)))
	f.store.Add(domainKnowledge.NewDoc(uuid.New(), f.agentID, "Other tenant", "pricing notes",
		domainKnowledge.WithCreatedAt(base)))

	sut := knowledge.NewKeywordRetriever(f.store, nil)
	snippets, err := sut.Relevant(f.ctx, f.agentID, "pricing", 10)
	require.NoError(t, err)

	require.Len(t, snippets, 1)
	assert.Equal(t, "Mine", snippets[0].Title)
}

func TestKeywordRetriever_ServesSecondLookupFromCache(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	f.addDoc("Pricing", "pricing notes", time.Now())

	c := newMemCache()
	sut := knowledge.NewKeywordRetriever(f.store, c)

	first, err := sut.Relevant(f.ctx, f.agentID, "pricing", 3)
	require.NoError(t, err)
	require.Equal(t, 1, c.sets)

	// The store changes, but the cached ranking is returned as-is.
	f.addDoc("Pricing update", "pricing changed", time.Now())

	second, err := sut.Relevant(f.ctx, f.agentID, "pricing", 3)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, c.sets)
	assert.Equal(t, 2, c.gets)
}

func TestKeywordRetriever_CacheFailureFallsBackToStore(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	f.addDoc("Pricing", "pricing notes", time.Now())

	c := newMemCache()
	c.getErr = errors.New("redis down")
	sut := knowledge.NewKeywordRetriever(f.store, c)

	snippets, err := sut.Relevant(f.ctx, f.agentID, "pricing", 3)
	require.NoError(t, err)
	require.Len(t, snippets, 1)
	assert.Equal(t, "Pricing", snippets[0].Title)
}
