// Package handlers implements the bot's event workflows: answering mentions
// and turning reaction-tagged threads into knowledge-base drafts. Handlers are
// the error boundary; they log and notify but never re-raise.
package handlers

import (
	"context"
	"strconv"

	"esabot/internal/kb"
)

// CategorySource lists the knowledge base's category tree.
type CategorySource interface {
	ListCategories(ctx context.Context, opts kb.ListCategoriesOptions) ([]kb.Category, error)
}

// ArticleCreator creates new knowledge-base articles.
type ArticleCreator interface {
	CreatePost(ctx context.Context, params kb.CreatePostParams) (*kb.Post, error)
}

// PostFinder is the query surface used to gather candidate articles.
type PostFinder interface {
	CollectPostsByCategories(ctx context.Context, categories []string) ([]kb.Post, error)
	SearchPostsByKeywords(ctx context.Context, keywords []string) ([]kb.Post, error)
}

// categoryLines splits categories into the two prompt shapes: "path count"
// lines for category selection and bare paths for keyword generation.
func categoryLines(categories []kb.Category) (withCounts, pathsOnly []string) {
	withCounts = make([]string, 0, len(categories))
	pathsOnly = make([]string, 0, len(categories))
	for _, c := range categories {
		if c.Path == "" {
			continue
		}
		withCounts = append(withCounts, c.Path+" "+strconv.Itoa(c.Posts))
		pathsOnly = append(pathsOnly, c.Path)
	}
	return withCounts, pathsOnly
}
