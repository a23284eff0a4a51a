package knowledge

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"

	domainCache "github.com/leadloop/leadloop/modules/crm/domain/entities/cache"
	"github.com/leadloop/leadloop/modules/crm/domain/entities/knowledge"
	"github.com/leadloop/leadloop/pkg/composables"
)

type Snippet struct {
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Retriever ranks knowledge content for a query, scoped to an agent and the
// tenant in context.
type Retriever interface {
	Relevant(ctx context.Context, agentID uuid.UUID, query string, limit int) ([]Snippet, error)
}

// KeywordRetriever scores documents by keyword overlap:
// score = matched distinct query words / total distinct query words.
// Ranking is deterministic; ties keep store order.
type KeywordRetriever struct {
	store knowledge.Store
	cache domainCache.Cache
}

func NewKeywordRetriever(store knowledge.Store, cache domainCache.Cache) *KeywordRetriever {
	return &KeywordRetriever{
		store: store,
		cache: cache,
	}
}

func (r *KeywordRetriever) Relevant(ctx context.Context, agentID uuid.UUID, query string, limit int) ([]Snippet, error) {
	queryWords := distinctWords(query)
	if len(queryWords) == 0 || limit <= 0 {
		return nil, nil
	}

	if cached, ok := r.cachedSnippets(ctx, agentID, query, limit); ok {
		return cached, nil
	}

	docs, err := r.store.ListByAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	type ranked struct {
		order   int
		snippet Snippet
	}
	matches := make([]ranked, 0, len(docs))
	for i, doc := range docs {
		docWords := wordSet(doc.Title() + " " + doc.Content())
		matched := 0
		for _, w := range queryWords {
			if _, ok := docWords[w]; ok {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		matches = append(matches, ranked{
			order: i,
			snippet: Snippet{
				Title:   doc.Title(),
				Content: doc.Content(),
				Score:   float64(matched) / float64(len(queryWords)),
			},
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].snippet.Score != matches[j].snippet.Score {
			return matches[i].snippet.Score > matches[j].snippet.Score
		}
		return matches[i].order < matches[j].order
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	snippets := make([]Snippet, 0, len(matches))
	for _, m := range matches {
		snippets = append(snippets, m.snippet)
	}

	r.saveSnippets(ctx, agentID, query, limit, snippets)
	return snippets, nil
}

func (r *KeywordRetriever) cacheKey(ctx context.Context, agentID uuid.UUID, query string, limit int) (string, bool) {
	tenantID, err := composables.UseTenantID(ctx)
	if err != nil {
		return "", false
	}
	raw, err := json.Marshal(struct {
		TenantID uuid.UUID `json:"tenant_id"`
		AgentID  uuid.UUID `json:"agent_id"`
		Query    string    `json:"query"`
		Limit    int       `json:"limit"`
	}{tenantID, agentID, strings.ToLower(query), limit})
	if err != nil {
		return "", false
	}
	hash := md5.Sum(raw)
	return hex.EncodeToString(hash[:]), true
}

func (r *KeywordRetriever) cachedSnippets(ctx context.Context, agentID uuid.UUID, query string, limit int) ([]Snippet, bool) {
	if r.cache == nil {
		return nil, false
	}
	key, ok := r.cacheKey(ctx, agentID, query, limit)
	if !ok {
		return nil, false
	}
	raw, err := r.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, domainCache.ErrKeyNotFound) {
			composables.UseLogger(ctx).WithError(err).Warn("knowledge: snippet cache read failed")
		}
		return nil, false
	}
	var snippets []Snippet
	if err := json.Unmarshal([]byte(raw), &snippets); err != nil {
		return nil, false
	}
	return snippets, true
}

func (r *KeywordRetriever) saveSnippets(ctx context.Context, agentID uuid.UUID, query string, limit int, snippets []Snippet) {
	if r.cache == nil {
		return
	}
	key, ok := r.cacheKey(ctx, agentID, query, limit)
	if !ok {
		return
	}
	raw, err := json.Marshal(snippets)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, key, string(raw)); err != nil {
		composables.UseLogger(ctx).WithError(err).Warn("knowledge: snippet cache write failed")
	}
}

func distinctWords(s string) []string {
	seen := make(map[string]struct{})
	var words []string
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if w == "" {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		words = append(words, w)
	}
	return words
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if w == "" {
			continue
		}
		set[w] = struct{}{}
	}
	return set
}
