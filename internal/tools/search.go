package tools

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/okapilabs/steer/internal/engine"
)

// Document is one entry in the search tool's index.
type Document struct {
	ID    string
	Title string
	Body  string
}

// SearchTool is an in-memory keyword search over a document set. It is the
// default retrieval capability: sessions count its invocations separately
// in their metrics.
//
// Matching is case-insensitive term overlap between the query and the
// document title/body; results are ranked by matched term count.
type SearchTool struct {
	mu   sync.RWMutex
	docs []Document
}

// NewSearchTool creates a search tool over the given documents.
func NewSearchTool(docs ...Document) *SearchTool {
	return &SearchTool{docs: docs}
}

// Add indexes additional documents.
func (t *SearchTool) Add(docs ...Document) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.docs = append(t.docs, docs...)
}

// Name implements engine.Tool.
func (t *SearchTool) Name() string { return "search" }

// Description implements engine.Tool.
func (t *SearchTool) Description() string {
	return "Search the indexed documents by keyword and return the best matches."
}

// Params implements engine.Tool.
func (t *SearchTool) Params() []engine.ParamSpec {
	return []engine.ParamSpec{
		{Name: "query", Type: engine.ParamString, Required: true, Description: "Keywords to search for."},
		{Name: "limit", Type: engine.ParamNumber, Default: 5, Description: "Maximum number of results."},
	}
}

type scoredDoc struct {
	doc   Document
	score int
}

// Execute implements engine.Tool.
func (t *SearchTool) Execute(ctx context.Context, input map[string]any) (*engine.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query, _ := input["query"].(string)
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return &engine.Outcome{Success: false, Error: "query is empty"}, nil
	}
	limit := intArg(input["limit"], 5)
	if limit < 1 {
		limit = 1
	}

	t.mu.RLock()
	var scored []scoredDoc
	for _, doc := range t.docs {
		haystack := strings.ToLower(doc.Title + " " + doc.Body)
		score := 0
		for _, term := range terms {
			if strings.Contains(haystack, term) {
				score++
			}
		}
		if score > 0 {
			scored = append(scored, scoredDoc{doc: doc, score: score})
		}
	}
	t.mu.RUnlock()

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if len(scored) > limit {
		scored = scored[:limit]
	}

	hits := make([]map[string]any, 0, len(scored))
	for _, s := range scored {
		hits = append(hits, map[string]any{
			"id":    s.doc.ID,
			"title": s.doc.Title,
			"body":  s.doc.Body,
			"score": s.score,
		})
	}
	return &engine.Outcome{
		Success: true,
		Result: map[string]any{
			"hits":  hits,
			"total": len(hits),
		},
	}, nil
}
