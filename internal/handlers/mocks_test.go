package handlers

import (
	"context"
	"fmt"
	"io"
	"sync"

	"esabot/internal/answer"
	"esabot/internal/chat"
	"esabot/internal/kb"
)

type postedMessage struct {
	Channel  string
	ThreadTS string
	Text     string
}

type updatedMessage struct {
	Channel string
	TS      string
	Text    string
}

type fakeTransport struct {
	mu       sync.Mutex
	posted   []postedMessage
	updates  []updatedMessage
	replies  map[string][]chat.Message
	users    map[string]*chat.UserProfile
	channels map[string]*chat.ChannelInfo

	postErr    error
	updateErr  error
	repliesErr error
	userErr    error
	channelErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		replies:  map[string][]chat.Message{},
		users:    map[string]*chat.UserProfile{},
		channels: map[string]*chat.ChannelInfo{},
	}
}

func (f *fakeTransport) PostMessage(ctx context.Context, channel, threadTS, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return "", f.postErr
	}
	f.posted = append(f.posted, postedMessage{Channel: channel, ThreadTS: threadTS, Text: text})
	return fmt.Sprintf("msg-%d", len(f.posted)), nil
}

func (f *fakeTransport) UpdateMessage(ctx context.Context, channel, ts, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, updatedMessage{Channel: channel, TS: ts, Text: text})
	return nil
}

func (f *fakeTransport) FetchThreadReplies(ctx context.Context, channel, threadTS string) ([]chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.repliesErr != nil {
		return nil, f.repliesErr
	}
	return f.replies[threadTS], nil
}

func (f *fakeTransport) LookupUser(ctx context.Context, userID string) (*chat.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.userErr != nil {
		return nil, f.userErr
	}
	if profile, ok := f.users[userID]; ok {
		return profile, nil
	}
	return &chat.UserProfile{ID: userID}, nil
}

func (f *fakeTransport) LookupChannel(ctx context.Context, channelID string) (*chat.ChannelInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.channelErr != nil {
		return nil, f.channelErr
	}
	if info, ok := f.channels[channelID]; ok {
		return info, nil
	}
	return &chat.ChannelInfo{ID: channelID}, nil
}

func (f *fakeTransport) postedMessages() []postedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]postedMessage(nil), f.posted...)
}

func (f *fakeTransport) updatedMessages() []updatedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]updatedMessage(nil), f.updates...)
}

type fakeCategories struct {
	categories []kb.Category
	err        error
}

func (f *fakeCategories) ListCategories(ctx context.Context, opts kb.ListCategoriesOptions) ([]kb.Category, error) {
	return f.categories, f.err
}

type fakeCreator struct {
	mu      sync.Mutex
	created *kb.Post
	err     error
	params  []kb.CreatePostParams
}

func (f *fakeCreator) CreatePost(ctx context.Context, params kb.CreatePostParams) (*kb.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.params = append(f.params, params)
	return f.created, nil
}

type fakeFinder struct {
	mu        sync.Mutex
	collected []kb.Post
	searched  []kb.Post

	collectErr error
	searchErr  error

	gotCategories []string
	gotKeywords   []string
}

func (f *fakeFinder) CollectPostsByCategories(ctx context.Context, categories []string) ([]kb.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotCategories = categories
	return f.collected, f.collectErr
}

func (f *fakeFinder) SearchPostsByKeywords(ctx context.Context, keywords []string) ([]kb.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotKeywords = keywords
	return f.searched, f.searchErr
}

// fakeStream plays back a fixed chunk sequence, then finalErr (io.EOF when nil).
type fakeStream struct {
	chunks   []answer.Chunk
	finalErr error
	pos      int
}

func (f *fakeStream) Next(ctx context.Context) (answer.Chunk, error) {
	if f.pos < len(f.chunks) {
		chunk := f.chunks[f.pos]
		f.pos++
		return chunk, nil
	}
	if f.finalErr != nil {
		return answer.Chunk{}, f.finalErr
	}
	return answer.Chunk{}, io.EOF
}

type fakeAnswers struct {
	mu sync.Mutex

	selected    []string
	selectErr   error
	keywords    []string
	keywordsErr error
	stream      answer.Stream
	streamErr   error
	duplicate   *answer.DuplicateCheckResult
	dupErr      error
	article     *answer.GeneratedArticle
	articleErr  error

	selectParams   []answer.SelectCategoryParams
	keywordParams  []answer.GenerateKeywordsParams
	answerParams   []answer.AnswerQuestionParams
	dupParams      []answer.CheckDuplicateParams
	generateParams []answer.GenerateArticleParams
}

func (f *fakeAnswers) SelectCategory(ctx context.Context, p answer.SelectCategoryParams) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selectParams = append(f.selectParams, p)
	return f.selected, f.selectErr
}

func (f *fakeAnswers) GenerateKeywords(ctx context.Context, p answer.GenerateKeywordsParams) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keywordParams = append(f.keywordParams, p)
	return f.keywords, f.keywordsErr
}

func (f *fakeAnswers) AnswerQuestion(ctx context.Context, p answer.AnswerQuestionParams) (answer.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answerParams = append(f.answerParams, p)
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return f.stream, nil
}

func (f *fakeAnswers) CheckDuplicate(ctx context.Context, p answer.CheckDuplicateParams) (*answer.DuplicateCheckResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dupParams = append(f.dupParams, p)
	return f.duplicate, f.dupErr
}

func (f *fakeAnswers) GenerateArticle(ctx context.Context, p answer.GenerateArticleParams) (*answer.GeneratedArticle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generateParams = append(f.generateParams, p)
	return f.article, f.articleErr
}
