// Package retrieval implements keyword, vector, and hybrid search over the
// knowledge base.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/pgvector/pgvector-go"

	"github.com/retrocourt/retrocourt/internal/kb/embedding"
	"github.com/retrocourt/retrocourt/internal/storage"
)

// Mode selects the retrieval strategy for a search request.
type Mode string

const (
	ModeKeyword Mode = "keyword"
	ModeVector  Mode = "vector"
	ModeHybrid  Mode = "hybrid"
)

// Fusion tuning constants (spec default weights, overridable per-call).
const (
	DefaultK0       = 60
	DefaultWKeyword = 0.3
	DefaultWVector  = 0.7
)

// Result is one ranked retrieval hit.
type Result struct {
	storage.KeywordSearchResult
	FusedScore float64 `json:"score"`
}

// VectorIndex is the subset of *storage.DB used by retrieval, named per the
// teacher's Searcher/CandidateFinder split so an external ANN index could be
// substituted later without touching callers. No external index ships in
// this implementation; *storage.DB satisfies it directly.
type VectorIndex interface {
	KeywordSearch(ctx context.Context, query, repoFilter string, limit int) ([]storage.KeywordSearchResult, error)
	VectorSearch(ctx context.Context, queryEmbedding pgvector.Vector, embeddingModel string, dims int, repoFilter string, limit int) ([]storage.KeywordSearchResult, error)
}

// Searcher runs queries against the knowledge base.
type Searcher struct {
	db       VectorIndex
	embedder embedding.Provider
	K0       float64
	WKeyword float64
	WVector  float64
}

// NewSearcher builds a Searcher with the default RRF weights. A nil embedder
// degrades ModeHybrid requests to keyword-only results; ModeVector requests
// then fail with an error.
func NewSearcher(db VectorIndex, embedder embedding.Provider) *Searcher {
	return &Searcher{
		db:       db,
		embedder: embedder,
		K0:       DefaultK0,
		WKeyword: DefaultWKeyword,
		WVector:  DefaultWVector,
	}
}

// Search runs the requested mode and returns the top-k results.
func (s *Searcher) Search(ctx context.Context, mode Mode, query, repoFilter string, k int) ([]Result, error) {
	if k <= 0 {
		k = 10
	}

	switch mode {
	case ModeKeyword:
		rows, err := s.db.KeywordSearch(ctx, query, repoFilter, k)
		if err != nil {
			return nil, fmt.Errorf("retrieval: keyword search: %w", err)
		}
		return toResults(rows), nil

	case ModeVector:
		if s.embedder == nil {
			return nil, fmt.Errorf("retrieval: vector search requires an embedding provider")
		}
		vec, err := s.embedder.Embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("retrieval: embed query: %w", err)
		}
		rows, err := s.db.VectorSearch(ctx, vec, s.embedder.Model(), s.embedder.Dimensions(), repoFilter, k)
		if err != nil {
			return nil, fmt.Errorf("retrieval: vector search: %w", err)
		}
		return toResults(rows), nil

	case ModeHybrid, "":
		return s.hybrid(ctx, query, repoFilter, k)

	default:
		return nil, fmt.Errorf("retrieval: unknown search mode %q", mode)
	}
}

// hybrid retrieves 2k keyword and 2k vector results and fuses them with
// Reciprocal Rank Fusion. When no embedder is configured, it degrades to
// keyword-only (consistent with §6's "credential absence degrades
// gracefully").
func (s *Searcher) hybrid(ctx context.Context, query, repoFilter string, k int) ([]Result, error) {
	keywordRows, err := s.db.KeywordSearch(ctx, query, repoFilter, 2*k)
	if err != nil {
		return nil, fmt.Errorf("retrieval: keyword search: %w", err)
	}

	var vectorRows []storage.KeywordSearchResult
	if s.embedder != nil {
		if vec, err := s.embedder.Embed(ctx, query); err == nil {
			vectorRows, err = s.db.VectorSearch(ctx, vec, s.embedder.Model(), s.embedder.Dimensions(), repoFilter, 2*k)
			if err != nil {
				return nil, fmt.Errorf("retrieval: vector search: %w", err)
			}
		} else if !errors.Is(err, embedding.ErrNoProvider) {
			return nil, fmt.Errorf("retrieval: embed query: %w", err)
		}
	}

	fused := fuseRRF(keywordRows, vectorRows, s.K0, s.WKeyword, s.WVector)
	if len(fused) > k {
		fused = fused[:k]
	}
	return fused, nil
}

// fuseRRF combines two rank-ordered result sets into one list scored by
// Reciprocal Rank Fusion: score(doc) = Σ wᵢ · 1/(k0 + rankᵢ), rank 0-based.
// Tie-break: fused score desc, then vector score desc, then kb_id lex asc.
func fuseRRF(keyword, vector []storage.KeywordSearchResult, k0, wKeyword, wVector float64) []Result {
	byID := make(map[string]*Result)
	order := make([]string, 0, len(keyword)+len(vector))
	vectorScore := make(map[string]float64)

	for rank, r := range keyword {
		res, ok := byID[r.KBID]
		if !ok {
			res = &Result{KeywordSearchResult: r}
			byID[r.KBID] = res
			order = append(order, r.KBID)
		}
		res.FusedScore += wKeyword * (1.0 / (k0 + float64(rank)))
	}
	for rank, r := range vector {
		res, ok := byID[r.KBID]
		if !ok {
			res = &Result{KeywordSearchResult: r}
			byID[r.KBID] = res
			order = append(order, r.KBID)
		}
		res.FusedScore += wVector * (1.0 / (k0 + float64(rank)))
		// r.Score is an L2 distance; 1/(1+d) turns it into a similarity so
		// the nearer doc wins the tie-break and a doc with no vector hit
		// (score 0) sorts after every doc that has one.
		vectorScore[r.KBID] = 1 / (1 + r.Score)
	}

	out := make([]Result, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		vi, vj := vectorScore[out[i].KBID], vectorScore[out[j].KBID]
		if vi != vj {
			return vi > vj
		}
		return out[i].KBID < out[j].KBID
	})
	return out
}

func toResults(rows []storage.KeywordSearchResult) []Result {
	out := make([]Result, len(rows))
	for i, r := range rows {
		out[i] = Result{KeywordSearchResult: r, FusedScore: r.Score}
	}
	return out
}
