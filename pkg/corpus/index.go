package corpus

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// Hit is one similarity match from an index query.
type Hit struct {
	ID         string
	Text       string
	Category   string
	Similarity float64
}

// index is one partition's searchable sample set. Two implementations:
// embedding-backed (chromem) when an embedding source exists, lexical
// token-overlap otherwise, so the feedback loop works even fully offline.
type index interface {
	Add(ctx context.Context, s Sample) error
	Query(ctx context.Context, text string, n int) ([]Hit, error)
	Count() int
}

// --- embedding index ---

type chromemIndex struct {
	collection *chromem.Collection
}

func newChromemIndex(db *chromem.DB, name string, embed chromem.EmbeddingFunc) (*chromemIndex, error) {
	collection, err := db.CreateCollection(name, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("corpus: create collection %s: %w", name, err)
	}
	return &chromemIndex{collection: collection}, nil
}

func (ix *chromemIndex) Add(ctx context.Context, s Sample) error {
	doc := chromem.Document{
		ID:      s.ID,
		Content: s.Text,
		Metadata: map[string]string{
			"category":  s.Category,
			"source_id": s.SourceID,
			"score":     fmt.Sprintf("%.2f", s.Score),
		},
	}
	return ix.collection.AddDocuments(ctx, []chromem.Document{doc}, 1)
}

func (ix *chromemIndex) Query(ctx context.Context, text string, n int) ([]Hit, error) {
	count := ix.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if n > count {
		n = count
	}
	results, err := ix.collection.Query(ctx, text, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("corpus: query: %w", err)
	}
	hits := make([]Hit, len(results))
	for i, r := range results {
		hits[i] = Hit{
			ID:         r.ID,
			Text:       r.Content,
			Category:   r.Metadata["category"],
			Similarity: float64(r.Similarity),
		}
	}
	return hits, nil
}

func (ix *chromemIndex) Count() int { return ix.collection.Count() }

// --- lexical fallback index ---

type lexSample struct {
	sample Sample
	tokens map[string]struct{}
}

type lexicalIndex struct {
	mu      sync.RWMutex
	samples []lexSample
}

func newLexicalIndex() *lexicalIndex { return &lexicalIndex{} }

func (ix *lexicalIndex) Add(ctx context.Context, s Sample) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.samples = append(ix.samples, lexSample{sample: s, tokens: tokenize(s.Text)})
	return nil
}

func (ix *lexicalIndex) Query(ctx context.Context, text string, n int) ([]Hit, error) {
	query := tokenize(text)
	if len(query) == 0 {
		return nil, nil
	}

	ix.mu.RLock()
	hits := make([]Hit, 0, len(ix.samples))
	for _, ls := range ix.samples {
		hits = append(hits, Hit{
			ID:         ls.sample.ID,
			Text:       ls.sample.Text,
			Category:   ls.sample.Category,
			Similarity: jaccard(query, ls.tokens),
		})
	}
	ix.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > n {
		hits = hits[:n]
	}
	return hits, nil
}

func (ix *lexicalIndex) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.samples)
}

// remove drops samples by id. Used by consolidation.
func (ix *lexicalIndex) remove(ids map[string]bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	kept := ix.samples[:0]
	for _, ls := range ix.samples {
		if !ids[ls.sample.ID] {
			kept = append(kept, ls)
		}
	}
	ix.samples = kept
}

// snapshot returns the current samples in insertion order.
func (ix *lexicalIndex) snapshot() []lexSample {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]lexSample, len(ix.samples))
	copy(out, ix.samples)
	return out
}

// tokenize lowercases and keeps words of three or more characters; shorter
// ones are glue that inflates overlap between unrelated texts.
func tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?\"'()[]{}")
		if len(w) >= 3 {
			tokens[w] = struct{}{}
		}
	}
	return tokens
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	shared := 0
	for t := range small {
		if _, ok := large[t]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(a)+len(b)-shared)
}
