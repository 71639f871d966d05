package answer

import (
	"context"
	"errors"
	"io"
	"iter"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"esabot/internal/kb"
)

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: genai.NewContentFromText(text, genai.RoleModel)},
		},
	}
}

func seqOf(events []*genai.GenerateContentResponse, finalErr error) iter.Seq2[*genai.GenerateContentResponse, error] {
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for _, ev := range events {
			if !yield(ev, nil) {
				return
			}
		}
		if finalErr != nil {
			yield(nil, finalErr)
		}
	}
}

func TestBuildContents(t *testing.T) {
	t.Run("no history yields a single user turn", func(t *testing.T) {
		contents := buildContents("question", nil)
		require.Len(t, contents, 1)
		assert.Equal(t, genai.RoleUser, contents[0].Role)
		assert.Equal(t, "question", contents[0].Parts[0].Text)
	})

	t.Run("history roles map to user and model turns", func(t *testing.T) {
		history := []ChatMessage{
			{Role: RoleUser, Text: "earlier question"},
			{Role: RoleAssistant, Text: "earlier answer"},
		}

		contents := buildContents("new question", history)
		require.Len(t, contents, 3)
		assert.Equal(t, genai.RoleUser, contents[0].Role)
		assert.Equal(t, genai.RoleModel, contents[1].Role)
		assert.Equal(t, genai.RoleUser, contents[2].Role)
		assert.Equal(t, "new question", contents[2].Parts[0].Text)
	})

	t.Run("question already closing the history is not duplicated", func(t *testing.T) {
		history := []ChatMessage{
			{Role: RoleAssistant, Text: "answer"},
			{Role: RoleUser, Text: "the question"},
		}

		contents := buildContents("the question", history)
		require.Len(t, contents, 2)
		assert.Equal(t, "the question", contents[1].Parts[0].Text)
	})
}

func TestFlattenConversation(t *testing.T) {
	got := flattenConversation([]ChatMessage{
		{Role: RoleUser, Text: "どうやって設定しますか"},
		{Role: RoleAssistant, Text: "手順は次の通りです"},
	}, "\n")
	assert.Equal(t, "[user]: どうやって設定しますか\n[assistant]: 手順は次の通りです", got)
}

func TestBuildPostsSection(t *testing.T) {
	posts := []kb.Post{
		{Number: 1, Name: "First", Tags: []string{"a", "b"}, URL: "https://example.esa.io/posts/1", BodyMd: "body one", CreatedAt: "2026-01-01T00:00:00+09:00", UpdatedAt: "2026-01-02T00:00:00+09:00"},
		{Number: 2, Name: "Second", URL: "https://example.esa.io/posts/2", BodyMd: "body two"},
	}

	section := buildPostsSection(posts)
	assert.Contains(t, section, "# ドキュメント一覧")
	assert.Contains(t, section, "title: First")
	assert.Contains(t, section, "tags: a,b")
	assert.Contains(t, section, "id: 2")
	assert.Contains(t, section, "\n===\n")
}

func TestResolveDuplicateVerdict(t *testing.T) {
	posts := []kb.Post{{Number: 10, Name: "Ten"}, {Number: 20, Name: "Twenty"}}

	t.Run("matched ids resolve to posts in input order", func(t *testing.T) {
		got := resolveDuplicateVerdict(duplicateVerdict{
			IsDuplicate:    true,
			MatchedPostIDs: []int{20, 10},
			Reason:         "covered",
		}, posts)

		require.True(t, got.IsDuplicate)
		require.Len(t, got.MatchedPosts, 2)
		assert.Equal(t, 10, got.MatchedPosts[0].Number)
		assert.Equal(t, 20, got.MatchedPosts[1].Number)
		assert.Empty(t, got.AdditionalInfo)
	})

	t.Run("no duplicate ignores matched ids", func(t *testing.T) {
		got := resolveDuplicateVerdict(duplicateVerdict{
			IsDuplicate:    false,
			MatchedPostIDs: []int{10},
			AdditionalInfo: []string{"new detail"},
		}, posts)

		assert.False(t, got.IsDuplicate)
		assert.Empty(t, got.MatchedPosts)
		assert.Equal(t, []string{"new detail"}, got.AdditionalInfo)
	})

	t.Run("unknown ids are dropped", func(t *testing.T) {
		got := resolveDuplicateVerdict(duplicateVerdict{
			IsDuplicate:    true,
			MatchedPostIDs: []int{99},
		}, posts)

		assert.Empty(t, got.MatchedPosts)
	})
}

func TestGeminiStream(t *testing.T) {
	ctx := context.Background()

	collect := func(t *testing.T, st Stream) ([]Chunk, error) {
		t.Helper()
		var chunks []Chunk
		for {
			chunk, err := st.Next(ctx)
			if err != nil {
				return chunks, err
			}
			chunks = append(chunks, chunk)
		}
	}

	t.Run("deltas then a terminal usage chunk then EOF", func(t *testing.T) {
		last := textResponse("!")
		last.UsageMetadata = &genai.GenerateContentResponseUsageMetadata{TotalTokenCount: 42}
		last.Candidates[0].FinishReason = genai.FinishReasonStop

		st, err := openGeminiStream(seqOf([]*genai.GenerateContentResponse{
			textResponse("Hello"),
			textResponse(" world"),
			last,
		}, nil))
		require.NoError(t, err)

		chunks, err := collect(t, st)
		assert.ErrorIs(t, err, io.EOF)

		require.Len(t, chunks, 4)
		assert.Equal(t, "Hello", chunks[0].TextDelta)
		assert.Equal(t, " world", chunks[1].TextDelta)
		assert.Equal(t, "!", chunks[2].TextDelta)

		terminal := chunks[3]
		assert.Empty(t, terminal.TextDelta)
		require.NotNil(t, terminal.TotalTokenCount)
		assert.Equal(t, int32(42), *terminal.TotalTokenCount)
	})

	t.Run("establishment failure surfaces before any chunk", func(t *testing.T) {
		wantErr := genai.APIError{Code: 500, Message: "upstream down"}

		_, err := openGeminiStream(seqOf(nil, wantErr))
		require.Error(t, err)

		var apiErr genai.APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, 500, apiErr.Code)
	})

	t.Run("abnormal finish reason fails the stream", func(t *testing.T) {
		truncated := textResponse("partial")
		truncated.Candidates[0].FinishReason = genai.FinishReasonMaxTokens

		st, err := openGeminiStream(seqOf([]*genai.GenerateContentResponse{
			textResponse("start"),
			truncated,
		}, nil))
		require.NoError(t, err)

		chunks, err := collect(t, st)
		require.Len(t, chunks, 1)
		assert.Equal(t, "start", chunks[0].TextDelta)

		var genErr *GenerationError
		require.True(t, errors.As(err, &genErr))
		assert.Equal(t, string(genai.FinishReasonMaxTokens), genErr.FinishReason)

		// Failure is sticky.
		_, err2 := st.Next(ctx)
		assert.Equal(t, err, err2)
	})

	t.Run("empty sequence yields only the terminal chunk", func(t *testing.T) {
		st, err := openGeminiStream(seqOf(nil, nil))
		require.NoError(t, err)

		chunks, err := collect(t, st)
		assert.ErrorIs(t, err, io.EOF)
		require.Len(t, chunks, 1)
		assert.Nil(t, chunks[0].TotalTokenCount)
	})

	t.Run("mid-stream error propagates", func(t *testing.T) {
		wantErr := errors.New("connection reset")

		st, err := openGeminiStream(seqOf([]*genai.GenerateContentResponse{
			textResponse("ok so far"),
		}, wantErr))
		require.NoError(t, err)

		chunks, err := collect(t, st)
		require.Len(t, chunks, 1)
		assert.ErrorIs(t, err, wantErr)
	})
}

func TestBuildCategorySection(t *testing.T) {
	got := buildCategorySection([]string{"dev/backend 12", "dev/frontend 3"})
	want := "\n\n# カテゴリ一覧\ndev/backend 12\ndev/frontend 3\n"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("section mismatch (-want +got):\n%s", diff)
	}
}
