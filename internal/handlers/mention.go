package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"esabot/internal/answer"
	"esabot/internal/chat"
	"esabot/internal/kb"
	"esabot/internal/util"
)

const (
	guestNoticeText = "ゲストの方は利用できないようにしています。"
	placeholderText = ":hourglass_flowing_sand:..."
)

// MentionEvent is a bot mention in a channel. ThreadTS is empty when the
// mention starts a new thread.
type MentionEvent struct {
	Channel  string
	User     string
	TS       string
	ThreadTS string
	Text     string
}

// MentionHandler answers questions asked by mentioning the bot.
type MentionHandler struct {
	transport  chat.Transport
	categories CategorySource
	posts      PostFinder
	answers    answer.Service
	logger     *zap.Logger
	botID      string
	now        func() time.Time
}

// NewMentionHandler wires a mention handler. botID may be empty; it only
// affects how thread history is attributed.
func NewMentionHandler(transport chat.Transport, categories CategorySource, posts PostFinder, answers answer.Service, logger *zap.Logger, botID string) *MentionHandler {
	return &MentionHandler{
		transport:  transport,
		categories: categories,
		posts:      posts,
		answers:    answers,
		logger:     logger,
		botID:      botID,
		now:        time.Now,
	}
}

// Handle processes one mention. It never returns an error: failures are posted
// into the thread as a fresh message and logged.
func (h *MentionHandler) Handle(ctx context.Context, event MentionEvent) {
	start := h.now()
	logger := h.logger.With(
		zap.String("handler", "mention"),
		zap.String("request_id", uuid.NewString()),
		zap.String("channel", event.Channel),
		zap.String("user", event.User),
	)
	logger.Info("start handle")

	threadRoot := event.ThreadTS
	if threadRoot == "" {
		threadRoot = event.TS
	}

	rejected, err := h.guard(ctx, event, threadRoot, logger)
	if err == nil && rejected {
		return
	}

	var tokens *int32
	if err == nil {
		tokens, err = h.respond(ctx, event, threadRoot)
	}
	if err != nil {
		logger.Error("mention handling failed", zap.Error(err))
		notice := fmt.Sprintf("エラーが発生しました。\n%v", err)
		if _, postErr := h.transport.PostMessage(ctx, event.Channel, threadRoot, notice); postErr != nil {
			logger.Error("failed to post error message", zap.Error(postErr))
		}
	}

	fields := []zap.Field{zap.Duration("duration", h.now().Sub(start))}
	if tokens != nil {
		fields = append(fields, zap.Int32("total_tokens", *tokens))
	}
	logger.Info("end handle", fields...)
}

// guard rejects mentions from workspace guests with an in-thread notice.
func (h *MentionHandler) guard(ctx context.Context, event MentionEvent, threadRoot string, logger *zap.Logger) (bool, error) {
	profile, err := h.transport.LookupUser(ctx, event.User)
	if err != nil {
		return false, fmt.Errorf("failed to look up user: %w", err)
	}
	if !profile.IsRestricted && !profile.IsUltraRestricted {
		return false, nil
	}

	logger.Info("ignoring message from restricted user")
	if _, err := h.transport.PostMessage(ctx, event.Channel, threadRoot, guestNoticeText); err != nil {
		return false, fmt.Errorf("failed to post guest notice: %w", err)
	}
	return true, nil
}

func (h *MentionHandler) respond(ctx context.Context, event MentionEvent, threadRoot string) (*int32, error) {
	placeholderTS, err := h.transport.PostMessage(ctx, event.Channel, threadRoot, placeholderText)
	if err != nil {
		return nil, fmt.Errorf("failed to post placeholder: %w", err)
	}

	var history []answer.ChatMessage
	if event.ThreadTS != "" {
		replies, err := h.transport.FetchThreadReplies(ctx, event.Channel, event.ThreadTS)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch thread replies: %w", err)
		}
		history = buildConversation(replies, h.botID)
	}

	posts, err := h.gatherPosts(ctx, event.Text, history)
	if err != nil {
		return nil, err
	}

	stream, err := h.answers.AnswerQuestion(ctx, answer.AnswerQuestionParams{
		Posts:    posts,
		Question: event.Text,
		History:  history,
		Now:      h.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start answer stream: %w", err)
	}

	return h.relayAnswer(ctx, stream, event.Channel, placeholderTS)
}

// gatherPosts runs the two fan-out stages: category selection alongside
// keyword generation, then the two post fetches, merged by article number.
func (h *MentionHandler) gatherPosts(ctx context.Context, question string, history []answer.ChatMessage) ([]kb.Post, error) {
	categories, err := h.categories.ListCategories(ctx, kb.ListCategoriesOptions{ExcludeArchive: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	withCounts, pathsOnly := categoryLines(categories)
	now := h.now()

	var selected, keywords []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		selected, err = h.answers.SelectCategory(gctx, answer.SelectCategoryParams{
			Categories:   withCounts,
			UserQuestion: question,
			History:      history,
			Now:          now,
		})
		return err
	})
	g.Go(func() error {
		var err error
		keywords, err = h.answers.GenerateKeywords(gctx, answer.GenerateKeywordsParams{
			Categories:   pathsOnly,
			UserQuestion: question,
			History:      history,
			Now:          now,
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var collected, searched []kb.Post
	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		collected, err = h.posts.CollectPostsByCategories(gctx, selected)
		return err
	})
	g.Go(func() error {
		var err error
		searched, err = h.posts.SearchPostsByKeywords(gctx, keywords)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return util.Merge(collected, searched, func(p kb.Post) int { return p.Number }), nil
}

// relayAnswer folds stream chunks into the placeholder message: every delta
// triggers exactly one in-place edit with the full accumulated text.
func (h *MentionHandler) relayAnswer(ctx context.Context, stream answer.Stream, channel, ts string) (*int32, error) {
	var accumulated string
	var tokens *int32

	for {
		chunk, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return tokens, nil
		}
		if err != nil {
			return tokens, err
		}

		if chunk.TotalTokenCount != nil {
			tokens = chunk.TotalTokenCount
			continue
		}

		accumulated += chunk.TextDelta
		if err := h.transport.UpdateMessage(ctx, channel, ts, accumulated); err != nil {
			return tokens, fmt.Errorf("failed to update answer message: %w", err)
		}
	}
}
