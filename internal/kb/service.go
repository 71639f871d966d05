package kb

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

// PostSource is the slice of the esa client the query service needs.
type PostSource interface {
	GetPosts(ctx context.Context, query string) ([]Post, error)
}

// Service exposes the narrow query surface the handlers use. Searches are
// restricted to published (non-wip) posts; duplicates across categories are
// possible and resolved later by the callers' merge step.
type Service struct {
	source PostSource
}

// NewService creates a query service on top of the esa client.
func NewService(source PostSource) *Service {
	return &Service{source: source}
}

// CollectPostsByCategories fetches published posts for each category path
// concurrently and concatenates the results in input order.
func (s *Service) CollectPostsByCategories(ctx context.Context, categories []string) ([]Post, error) {
	results := make([][]Post, len(categories))

	g, gctx := errgroup.WithContext(ctx)
	for i, path := range categories {
		g.Go(func() error {
			posts, err := s.source.GetPosts(gctx, fmt.Sprintf("on:%s wip:false", path))
			if err != nil {
				return err
			}
			results[i] = posts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Post
	for _, posts := range results {
		out = append(out, posts...)
	}
	return out, nil
}

// SearchPostsByKeywords runs a single disjunctive search over the keywords.
func (s *Service) SearchPostsByKeywords(ctx context.Context, keywords []string) ([]Post, error) {
	return s.source.GetPosts(ctx, buildKeywordsQuery(keywords)+" wip:false")
}

func buildKeywordsQuery(keywords []string) string {
	quoted := make([]string, len(keywords))
	for i, kw := range keywords {
		quoted[i] = `"` + kw + `"`
	}
	return strings.Join(quoted, " OR ")
}
