// Package answer defines the generation-service contract the handlers consume
// and its Gemini-backed implementation. Any concrete backend is a swappable
// variant behind the Service interface.
package answer

import (
	"context"
	"fmt"
	"time"

	"esabot/internal/kb"
)

// Role identifies the author side of one conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one turn of conversation context, ordered chronologically.
// Empty text is preserved as an empty string.
type ChatMessage struct {
	Role Role
	Text string
}

// Chunk is one increment of a generated answer. A chunk carries either a text
// delta or the terminal usage count; the usage-count chunk has no delta and is
// the last chunk of the stream.
type Chunk struct {
	TextDelta       string
	TotalTokenCount *int32
}

// Stream is a lazy, single-pass, non-restartable chunk sequence. Next returns
// io.EOF once the terminal chunk has been consumed.
type Stream interface {
	Next(ctx context.Context) (Chunk, error)
}

// GenerationError reports an abnormal finish condition from the generation
// backend mid-stream. No further chunks follow it.
type GenerationError struct {
	FinishReason string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation finished abnormally with reason %s", e.FinishReason)
}

// DuplicateCheckResult is the outcome of comparing a conversation against
// existing posts. MatchedPosts is empty whenever IsDuplicate is false.
type DuplicateCheckResult struct {
	IsDuplicate    bool
	MatchedPosts   []kb.Post
	AdditionalInfo []string
	Reason         string
}

// GeneratedArticle is a draft produced from a conversation. All fields are
// always present; there are no partial drafts.
type GeneratedArticle struct {
	Title string   `json:"title"`
	Body  string   `json:"body"`
	Tags  []string `json:"tags"`
}

// SelectCategoryParams asks for the categories most relevant to a question.
// Categories are "path count" lines as returned by the knowledge base.
type SelectCategoryParams struct {
	Categories   []string
	UserQuestion string
	History      []ChatMessage
	Now          time.Time
}

// GenerateKeywordsParams asks for search keywords for a question.
type GenerateKeywordsParams struct {
	Categories   []string
	UserQuestion string
	History      []ChatMessage
	Now          time.Time
}

// AnswerQuestionParams asks for a streamed answer grounded in the given posts.
type AnswerQuestionParams struct {
	Posts    []kb.Post
	Question string
	History  []ChatMessage
	Now      time.Time
}

// CheckDuplicateParams asks whether the conversation is already covered by an
// existing post.
type CheckDuplicateParams struct {
	Posts               []kb.Post
	ConversationSummary string
	Now                 time.Time
}

// GenerateArticleParams asks for a draft article built from the conversation.
// Category is an optional placement hint.
type GenerateArticleParams struct {
	Conversation []ChatMessage
	Category     string
	Now          time.Time
}

// Service is the capability contract over the generation backend. All
// operations take the current time through their params so prompt construction
// stays deterministic and testable.
type Service interface {
	// SelectCategory returns at most three category paths relevant to the question.
	SelectCategory(ctx context.Context, p SelectCategoryParams) ([]string, error)

	// GenerateKeywords returns search keywords for the question. Count and
	// minimum length are backend configuration.
	GenerateKeywords(ctx context.Context, p GenerateKeywordsParams) ([]string, error)

	// AnswerQuestion streams an answer grounded in the given posts.
	AnswerQuestion(ctx context.Context, p AnswerQuestionParams) (Stream, error)

	// CheckDuplicate compares the conversation against existing posts.
	CheckDuplicate(ctx context.Context, p CheckDuplicateParams) (*DuplicateCheckResult, error)

	// GenerateArticle drafts a new article from the conversation.
	GenerateArticle(ctx context.Context, p GenerateArticleParams) (*GeneratedArticle, error)
}
