// Package search provides search capabilities over indexed traffic events.
package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/usestring/trafficlab/internal/filter"
	"github.com/usestring/trafficlab/internal/indexer"
	"github.com/usestring/trafficlab/pkg/types"
)

const (
	fallbackLimit = 20
	maxLimit      = 100
)

// SearchEngine provides search capabilities over the indexer.
type SearchEngine struct {
	indexer      *indexer.Indexer
	defaultLimit int
}

// New creates a new SearchEngine. A non-positive defaultLimit uses 20.
func New(idx *indexer.Indexer, defaultLimit int) *SearchEngine {
	if defaultLimit <= 0 {
		defaultLimit = fallbackLimit
	}
	return &SearchEngine{indexer: idx, defaultLimit: defaultLimit}
}

// Search narrows candidates with bitmap indexes, then evaluates header and
// expression predicates on the events themselves. Results are newest first.
func (s *SearchEngine) Search(ctx context.Context, req *types.SearchRequest) (*types.SearchResponse, error) {
	compiled, err := filter.Compile(req.Filter)
	if err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = s.defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	candidates := s.planFilters(req)

	post, err := s.applyPostFilters(ctx, candidates, req, compiled)
	if err != nil {
		return nil, err
	}
	candidates = post.bitmap
	totalHint := int(candidates.GetCardinality())

	metas := make([]*indexer.EventMeta, 0, totalHint)
	it := candidates.Iterator()
	for it.HasNext() {
		if meta := s.indexer.GetMeta(it.Next()); meta != nil {
			metas = append(metas, meta)
		}
	}
	sort.SliceStable(metas, func(i, j int) bool {
		if metas[i].TsMs != metas[j].TsMs {
			return metas[i].TsMs > metas[j].TsMs
		}
		return metas[i].DocID > metas[j].DocID
	})

	start := req.Offset
	if start < 0 {
		start = 0
	}
	if start > len(metas) {
		start = len(metas)
	}
	end := start + limit
	if end > len(metas) {
		end = len(metas)
	}

	queryTokens := indexer.Tokenize(req.Query)
	results := make([]types.SearchResult, 0, end-start)
	for _, meta := range metas[start:end] {
		results = append(results, types.SearchResult{
			Summary:   meta.ToSummary(),
			MatchedIn: s.matchedIn(meta, queryTokens),
		})
	}

	resp := &types.SearchResponse{Results: results, TotalHint: totalHint}
	if req.Query != "" || len(req.Filter.Headers) > 0 || req.Filter.Expr != "" {
		resp.Scope = &types.SearchScope{
			BodyIndexEnabled:  s.indexer.BodyIndexEnabled(),
			EvictedCandidates: post.evicted,
		}
	}
	return resp, nil
}

// planFilters converts indexed filter dimensions to bitmap operations.
func (s *SearchEngine) planFilters(req *types.SearchRequest) *roaring.Bitmap {
	result := s.indexer.AllDocIDs()
	f := req.Filter

	if req.SessionID != "" {
		bm := s.indexer.GetBitmapForSession(req.SessionID)
		if bm == nil {
			return roaring.New()
		}
		result.And(bm)
	}

	// Values within a dimension are ORed.
	if len(f.Domains) > 0 {
		union := roaring.New()
		for _, d := range f.Domains {
			if bm := s.indexer.GetBitmapForHost(d); bm != nil {
				union.Or(bm)
			}
		}
		result.And(union)
	}
	if len(f.Methods) > 0 {
		union := roaring.New()
		for _, m := range f.Methods {
			if bm := s.indexer.GetBitmapForMethod(m); bm != nil {
				union.Or(bm)
			}
		}
		result.And(union)
	}
	if len(f.StatusCodes) > 0 {
		union := roaring.New()
		for _, code := range f.StatusCodes {
			if bm := s.indexer.GetBitmapForStatus(code); bm != nil {
				union.Or(bm)
			}
		}
		result.And(union)
	}

	// Free text: OR across URL, header and body token indexes per token,
	// AND across tokens.
	for _, token := range indexer.Tokenize(req.Query) {
		union := roaring.New()
		if bm := s.indexer.GetBitmapForToken(token); bm != nil {
			union.Or(bm)
		}
		if bm := s.indexer.GetBitmapForHeaderToken(token); bm != nil {
			union.Or(bm)
		}
		if s.indexer.BodyIndexEnabled() {
			if bm := s.indexer.GetBitmapForBodyToken(token); bm != nil {
				union.Or(bm)
			}
		}
		result.And(union)
	}

	return result
}

type postFilterResult struct {
	bitmap  *roaring.Bitmap
	evicted int
}

// applyPostFilters applies time bounds and the predicates the indexes cannot
// answer. Events evicted from the cache are checked against their metadata.
func (s *SearchEngine) applyPostFilters(ctx context.Context, candidates *roaring.Bitmap, req *types.SearchRequest, compiled *filter.Compiled) (postFilterResult, error) {
	needsEvent := len(req.Filter.Headers) > 0 || strings.TrimSpace(req.Filter.Expr) != ""
	if req.SinceMs <= 0 && req.UntilMs <= 0 && !needsEvent {
		return postFilterResult{bitmap: candidates}, nil
	}

	out := postFilterResult{bitmap: roaring.New()}
	c := s.indexer.Cache()
	it := candidates.Iterator()
	for it.HasNext() {
		if err := ctx.Err(); err != nil {
			return postFilterResult{}, err
		}
		docID := it.Next()
		meta := s.indexer.GetMeta(docID)
		if meta == nil {
			continue
		}
		if req.SinceMs > 0 && meta.TsMs < req.SinceMs {
			continue
		}
		if req.UntilMs > 0 && meta.TsMs > req.UntilMs {
			continue
		}

		if needsEvent {
			var ev *types.TrafficEvent
			if c != nil {
				ev, _ = c.Peek(meta.EventID)
			}
			if ev == nil {
				out.evicted++
				ev = meta.Event()
			}
			if !compiled.Matches(ev) {
				continue
			}
		}
		out.bitmap.Add(docID)
	}
	return out, nil
}

func (s *SearchEngine) matchedIn(meta *indexer.EventMeta, queryTokens []string) []string {
	if len(queryTokens) == 0 {
		return nil
	}
	var matched []string
	for _, qt := range queryTokens {
		if bm := s.indexer.GetBitmapForToken(qt); bm != nil && bm.Contains(meta.DocID) {
			matched = appendUnique(matched, "url")
		}
		if bm := s.indexer.GetBitmapForHeaderToken(qt); bm != nil && bm.Contains(meta.DocID) {
			matched = appendUnique(matched, "header")
		}
		if s.indexer.BodyIndexEnabled() {
			if bm := s.indexer.GetBitmapForBodyToken(qt); bm != nil && bm.Contains(meta.DocID) {
				matched = appendUnique(matched, "body")
			}
		}
	}
	return matched
}

// appendUnique appends a value to a slice if it's not already present.
func appendUnique(slice []string, val string) []string {
	for _, s := range slice {
		if s == val {
			return slice
		}
	}
	return append(slice, val)
}
