package handlers

import (
	"context"
	"fmt"
	"strings"
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
	articleProgressText = "記事を作成中です...:writing_hand:"
	createChangeMessage = "Created from Slack conversation by esabot"
)

// ReactionEvent is an emoji reaction added to an item.
type ReactionEvent struct {
	Reaction    string
	User        string
	ItemType    string
	ItemChannel string
	ItemTS      string
}

// ReactionHandler turns a reaction-tagged thread into a knowledge-base draft,
// unless an existing article already covers the conversation.
type ReactionHandler struct {
	transport      chat.Transport
	categories     CategorySource
	creator        ArticleCreator
	posts          PostFinder
	answers        answer.Service
	logger         *zap.Logger
	botID          string
	targetReaction string
	now            func() time.Time
}

// NewReactionHandler wires a reaction handler. targetReaction defaults to
// "esa" when empty.
func NewReactionHandler(transport chat.Transport, categories CategorySource, creator ArticleCreator, posts PostFinder, answers answer.Service, logger *zap.Logger, botID, targetReaction string) *ReactionHandler {
	if targetReaction == "" {
		targetReaction = "esa"
	}
	return &ReactionHandler{
		transport:      transport,
		categories:     categories,
		creator:        creator,
		posts:          posts,
		answers:        answers,
		logger:         logger,
		botID:          botID,
		targetReaction: targetReaction,
		now:            time.Now,
	}
}

// Handle processes one reaction event. Guard rejections are silent skips;
// failures after the progress message exists are reported into the thread
// best-effort. It never returns an error.
func (h *ReactionHandler) Handle(ctx context.Context, event ReactionEvent) {
	if event.Reaction != h.targetReaction || event.ItemType != "message" {
		return
	}

	logger := h.logger.With(
		zap.String("handler", "reaction"),
		zap.String("request_id", uuid.NewString()),
		zap.String("channel", event.ItemChannel),
		zap.String("user", event.User),
	)

	if skip := h.guard(ctx, event, logger); skip {
		return
	}

	logger.Info("article reaction detected", zap.String("message_ts", event.ItemTS))

	threadRoot, err := h.resolveThreadRoot(ctx, event)
	if err != nil {
		logger.Error("error handling reaction", zap.Error(err))
		return
	}
	if threadRoot == "" {
		logger.Info("could not determine thread ts")
		return
	}

	progressTS, err := h.transport.PostMessage(ctx, event.ItemChannel, threadRoot, articleProgressText)
	if err != nil {
		logger.Error("error handling reaction", zap.Error(err))
		return
	}

	if err := h.createOrLink(ctx, event.ItemChannel, threadRoot, progressTS, logger); err != nil {
		logger.Error("error handling reaction", zap.Error(err))
		h.postErrorNotice(ctx, event, err, logger)
	}
}

// guard silently skips reactions that must not produce any chat output:
// unresolvable or restricted users and externally shared channels.
func (h *ReactionHandler) guard(ctx context.Context, event ReactionEvent, logger *zap.Logger) bool {
	profile, err := h.transport.LookupUser(ctx, event.User)
	if err != nil {
		logger.Warn("failed to fetch user info; skipping reaction", zap.Error(err))
		return true
	}
	if profile.IsRestricted || profile.IsUltraRestricted {
		logger.Info("ignoring reaction from restricted user")
		return true
	}

	channelInfo, err := h.transport.LookupChannel(ctx, event.ItemChannel)
	if err != nil {
		logger.Warn("failed to fetch channel info; skipping reaction", zap.Error(err))
		return true
	}
	if channelInfo.ExternallyShared() {
		logger.Info("ignoring reaction from externally shared channel")
		return true
	}
	return false
}

// resolveThreadRoot finds the thread containing the reacted message: its
// thread_ts when it is a reply, otherwise its own ts. Empty when the message
// cannot be found.
func (h *ReactionHandler) resolveThreadRoot(ctx context.Context, event ReactionEvent) (string, error) {
	replies, err := h.transport.FetchThreadReplies(ctx, event.ItemChannel, event.ItemTS)
	if err != nil {
		return "", fmt.Errorf("failed to fetch reacted message: %w", err)
	}
	if len(replies) == 0 {
		return "", nil
	}
	if replies[0].ThreadTS != "" {
		return replies[0].ThreadTS, nil
	}
	return replies[0].TS, nil
}

func (h *ReactionHandler) createOrLink(ctx context.Context, channel, threadRoot, progressTS string, logger *zap.Logger) error {
	replies, err := h.transport.FetchThreadReplies(ctx, channel, threadRoot)
	if err != nil {
		return fmt.Errorf("failed to fetch thread replies: %w", err)
	}

	conversation := buildConversation(replies, h.botID)
	summary := summarizeConversation(conversation)
	now := h.now()

	categories, err := h.categories.ListCategories(ctx, kb.ListCategoriesOptions{ExcludeArchive: true})
	if err != nil {
		return fmt.Errorf("failed to list categories: %w", err)
	}
	withCounts, pathsOnly := categoryLines(categories)

	var selected, keywords []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		selected, err = h.answers.SelectCategory(gctx, answer.SelectCategoryParams{
			Categories:   withCounts,
			UserQuestion: summary,
			Now:          now,
		})
		return err
	})
	g.Go(func() error {
		var err error
		keywords, err = h.answers.GenerateKeywords(gctx, answer.GenerateKeywordsParams{
			Categories:   pathsOnly,
			UserQuestion: summary,
			Now:          now,
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	logger.Debug("selected categories for article", zap.Strings("categories", selected))

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
		return err
	}

	existing := util.Merge(collected, searched, func(p kb.Post) int { return p.Number })
	logger.Info("existing posts found", zap.Int("count", len(existing)))

	duplicate, err := h.answers.CheckDuplicate(ctx, answer.CheckDuplicateParams{
		Posts:               existing,
		ConversationSummary: summary,
		Now:                 now,
	})
	if err != nil {
		return err
	}

	if duplicate.IsDuplicate && len(duplicate.MatchedPosts) > 0 {
		matched := duplicate.MatchedPosts[0]
		if err := h.transport.UpdateMessage(ctx, channel, progressTS, duplicateNotice(matched, duplicate.AdditionalInfo)); err != nil {
			return fmt.Errorf("failed to post duplicate notice: %w", err)
		}
		logger.Info("duplicate found", zap.Int("matched_post_id", matched.Number))
		return nil
	}

	category := ""
	if len(selected) > 0 {
		category = selected[0]
	}

	article, err := h.answers.GenerateArticle(ctx, answer.GenerateArticleParams{
		Conversation: conversation,
		Category:     category,
		Now:          now,
	})
	if err != nil {
		return err
	}
	logger.Info("article generated", zap.String("title", article.Title), zap.Strings("tags", article.Tags))

	created, err := h.creator.CreatePost(ctx, kb.CreatePostParams{
		Name:     article.Title,
		BodyMd:   article.Body,
		Tags:     article.Tags,
		Category: category,
		Message:  createChangeMessage,
	})
	if err != nil {
		return fmt.Errorf("failed to create article: %w", err)
	}

	if err := h.transport.UpdateMessage(ctx, channel, progressTS, fmt.Sprintf("下書きを作成しました: %s", created.URL)); err != nil {
		return fmt.Errorf("failed to post created notice: %w", err)
	}
	logger.Info("article created", zap.Int("post_number", created.Number), zap.String("url", created.URL))
	return nil
}

func duplicateNotice(matched kb.Post, additionalInfo []string) string {
	text := fmt.Sprintf("この記事がカバーしてそうです: %s", matched.URL)
	if len(additionalInfo) > 0 {
		bullets := make([]string, len(additionalInfo))
		for i, info := range additionalInfo {
			bullets[i] = "- " + info
		}
		text += fmt.Sprintf("\n\nスレッドの会話には以下の追加情報がありそうです:\n%s\n\n記事への追記を検討してください。", strings.Join(bullets, "\n"))
	}
	return text
}

// postErrorNotice reports a workflow failure into the reacted thread. The
// thread is re-resolved because the failure may have happened before or after
// the progress message was posted; its own failure is only logged.
func (h *ReactionHandler) postErrorNotice(ctx context.Context, event ReactionEvent, cause error, logger *zap.Logger) {
	threadRoot, err := h.resolveThreadRoot(ctx, event)
	if err != nil || threadRoot == "" {
		logger.Error("failed to post error message", zap.Error(err))
		return
	}

	notice := fmt.Sprintf("記事の作成中にエラーが発生しました。\n%v", cause)
	if _, err := h.transport.PostMessage(ctx, event.ItemChannel, threadRoot, notice); err != nil {
		logger.Error("failed to post error message", zap.Error(err))
	}
}
