package kb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// MaxPostsPerPage is the page size requested from the posts endpoint.
const MaxPostsPerPage = 30

const userAgent = "esabot (https://github.com/esabot/esabot)"

// Client is a REST client for the esa API (https://docs.esa.io/posts/102).
type Client struct {
	apiKey     string
	team       string
	baseURL    string
	httpClient *http.Client
}

// ClientConfig holds configuration for the esa client.
type ClientConfig struct {
	APIKey  string
	Team    string
	BaseURL string
	Timeout time.Duration
}

// NewClient creates a new esa client. APIKey and Team are required.
func NewClient(config ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("esa API key is required")
	}
	if config.Team == "" {
		return nil, fmt.Errorf("esa team name is required")
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "https://api.esa.io"
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		apiKey:  config.APIKey,
		team:    config.Team,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// ListCategoriesOptions controls category listing.
type ListCategoriesOptions struct {
	// ExcludeArchive drops categories whose path contains "Archive".
	ExcludeArchive bool
}

type categoriesResponse struct {
	Categories []Category `json:"categories"`
}

// ListCategories returns the team's category paths with per-category post counts.
func (c *Client) ListCategories(ctx context.Context, opts ListCategoriesOptions) ([]Category, error) {
	apiPath := fmt.Sprintf("/v1/teams/%s/categories/paths", c.team)

	var resp categoriesResponse
	if err := c.get(ctx, apiPath, nil, &resp); err != nil {
		return nil, err
	}

	if !opts.ExcludeArchive {
		return resp.Categories, nil
	}

	filtered := make([]Category, 0, len(resp.Categories))
	for _, cat := range resp.Categories {
		if cat.Path == "" || strings.Contains(cat.Path, "Archive") {
			continue
		}
		filtered = append(filtered, cat)
	}
	return filtered, nil
}

type postsResponse struct {
	Posts      []Post `json:"posts"`
	NextPage   *int   `json:"next_page"`
	PrevPage   *int   `json:"prev_page"`
	TotalCount int    `json:"total_count"`
}

// GetPosts runs a posts search with the given query expression.
func (c *Client) GetPosts(ctx context.Context, query string) ([]Post, error) {
	apiPath := fmt.Sprintf("/v1/teams/%s/posts", c.team)
	params := url.Values{
		"q":            {query},
		"max_per_page": {strconv.Itoa(MaxPostsPerPage)},
	}

	var resp postsResponse
	if err := c.get(ctx, apiPath, params, &resp); err != nil {
		return nil, err
	}
	return resp.Posts, nil
}

// CreatePostParams describes a new article. Wip defaults to true so new
// articles land as drafts unless the caller says otherwise.
type CreatePostParams struct {
	Name     string
	BodyMd   string
	Tags     []string
	Category string
	Wip      *bool
	Message  string
}

type createPostRequest struct {
	Post createPostBody `json:"post"`
}

type createPostBody struct {
	Name     string   `json:"name"`
	BodyMd   string   `json:"body_md"`
	Tags     []string `json:"tags"`
	Category string   `json:"category,omitempty"`
	Wip      bool     `json:"wip"`
	Message  string   `json:"message,omitempty"`
}

// CreatePost creates a new article and returns it.
func (c *Client) CreatePost(ctx context.Context, params CreatePostParams) (*Post, error) {
	apiPath := fmt.Sprintf("/v1/teams/%s/posts", c.team)

	wip := true
	if params.Wip != nil {
		wip = *params.Wip
	}
	tags := params.Tags
	if tags == nil {
		tags = []string{}
	}

	body := createPostRequest{
		Post: createPostBody{
			Name:     params.Name,
			BodyMd:   params.BodyMd,
			Tags:     tags,
			Category: params.Category,
			Wip:      wip,
			Message:  params.Message,
		},
	}

	var post Post
	if err := c.post(ctx, apiPath, body, &post); err != nil {
		return nil, err
	}
	return &post, nil
}

// StatusError reports a non-2xx esa API response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("esa API returned status %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus returns the response status code.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }

func (c *Client) get(ctx context.Context, apiPath string, params url.Values, out any) error {
	u := c.baseURL + apiPath
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, apiPath string, body, out any) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiPath, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
