// Package kb provides access to the esa knowledge base: a thin REST client
// plus the query surface the handlers need (category listing, post collection,
// keyword search, article creation).
package kb

// Post is a knowledge-base article. Posts are request-scoped value objects,
// never mutated after fetch, safe to share across concurrent lookups.
type Post struct {
	Number    int      `json:"number"`
	Name      string   `json:"name"`
	FullName  string   `json:"full_name"`
	BodyMd    string   `json:"body_md"`
	Category  string   `json:"category"`
	Tags      []string `json:"tags"`
	Wip       bool     `json:"wip"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
	URL       string   `json:"url"`
}

// Category is one entry of the team's category tree.
type Category struct {
	Path  string `json:"path"`
	Posts int    `json:"posts"`
}
