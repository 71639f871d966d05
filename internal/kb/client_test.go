package kb

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(ClientConfig{
		APIKey:  "test-key",
		Team:    "myteam",
		BaseURL: srv.URL,
	})
	require.NoError(t, err)
	return client
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(ClientConfig{Team: "t"})
	assert.Error(t, err)

	_, err = NewClient(ClientConfig{APIKey: "k"})
	assert.Error(t, err)
}

func TestClient_ListCategories(t *testing.T) {
	t.Run("returns all categories", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/teams/myteam/categories/paths", r.URL.Path)
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
			json.NewEncoder(w).Encode(categoriesResponse{Categories: []Category{
				{Path: "Dev/Guide", Posts: 10},
				{Path: "Archive/Old", Posts: 3},
			}})
		})

		cats, err := client.ListCategories(context.Background(), ListCategoriesOptions{})
		require.NoError(t, err)
		assert.Len(t, cats, 2)
	})

	t.Run("excludes archive categories", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(categoriesResponse{Categories: []Category{
				{Path: "Dev/Guide", Posts: 10},
				{Path: "Archive/Old", Posts: 3},
				{Path: "Ops/Archive/2020", Posts: 1},
				{Path: "", Posts: 0},
			}})
		})

		cats, err := client.ListCategories(context.Background(), ListCategoriesOptions{ExcludeArchive: true})
		require.NoError(t, err)
		require.Len(t, cats, 1)
		assert.Equal(t, "Dev/Guide", cats[0].Path)
	})
}

func TestClient_GetPosts(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/teams/myteam/posts", r.URL.Path)
		assert.Equal(t, "on:Dev wip:false", r.URL.Query().Get("q"))
		assert.Equal(t, "30", r.URL.Query().Get("max_per_page"))
		json.NewEncoder(w).Encode(postsResponse{Posts: []Post{
			{Number: 1, Name: "first"},
			{Number: 2, Name: "second"},
		}})
	})

	posts, err := client.GetPosts(context.Background(), "on:Dev wip:false")
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, 1, posts[0].Number)
}

func TestClient_GetPosts_PropagatesStatusError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"not_found"}`, http.StatusNotFound)
	})

	_, err := client.GetPosts(context.Background(), "on:Dev")
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.HTTPStatus())
}

func TestClient_CreatePost(t *testing.T) {
	t.Run("defaults to draft", func(t *testing.T) {
		var got createPostRequest
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			json.NewEncoder(w).Encode(Post{Number: 99, URL: "https://myteam.esa.io/posts/99"})
		})

		post, err := client.CreatePost(context.Background(), CreatePostParams{
			Name:     "New Article",
			BodyMd:   "# body",
			Tags:     []string{"go", "bot"},
			Category: "Dev/Guide",
			Message:  "created from chat",
		})
		require.NoError(t, err)
		assert.Equal(t, 99, post.Number)
		assert.True(t, got.Post.Wip)
		assert.Equal(t, "New Article", got.Post.Name)
		assert.Equal(t, []string{"go", "bot"}, got.Post.Tags)
	})

	t.Run("explicit wip false publishes", func(t *testing.T) {
		var got createPostRequest
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			json.NewEncoder(w).Encode(Post{Number: 1})
		})

		wip := false
		_, err := client.CreatePost(context.Background(), CreatePostParams{Name: "n", Wip: &wip})
		require.NoError(t, err)
		assert.False(t, got.Post.Wip)
	})
}
