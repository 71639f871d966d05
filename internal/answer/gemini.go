package answer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"strings"
	"time"

	"google.golang.org/genai"

	"esabot/internal/kb"
)

// GeminiConfig holds configuration for the Gemini-backed answer service.
// Either APIKey (Gemini API) or Project+Location (Vertex AI) must be set.
type GeminiConfig struct {
	APIKey   string
	Project  string
	Location string
	Model    string

	// KeywordCount and MinKeywordLength tune the keyword-generation prompt
	// and its response schema.
	KeywordCount     int
	MinKeywordLength int

	MaxRetries        int
	InitialRetryDelay time.Duration
}

// DefaultGeminiConfig returns sensible defaults.
func DefaultGeminiConfig() GeminiConfig {
	return GeminiConfig{
		Model:             "gemini-2.5-flash",
		KeywordCount:      8,
		MinKeywordLength:  2,
		MaxRetries:        3,
		InitialRetryDelay: time.Second,
	}
}

// GeminiService implements Service on top of the Gemini generative API.
type GeminiService struct {
	client           *genai.Client
	model            string
	keywordCount     int
	minKeywordLength int
	maxRetries       int
	initialDelay     time.Duration
}

var _ Service = (*GeminiService)(nil)

// NewGeminiService creates a Gemini answer service. An API key selects the
// Gemini API backend; otherwise project and location select Vertex AI.
func NewGeminiService(ctx context.Context, config GeminiConfig) (*GeminiService, error) {
	cc := &genai.ClientConfig{}
	switch {
	case config.APIKey != "":
		cc.APIKey = config.APIKey
		cc.Backend = genai.BackendGeminiAPI
	case config.Project != "":
		cc.Project = config.Project
		cc.Location = config.Location
		cc.Backend = genai.BackendVertexAI
	default:
		return nil, fmt.Errorf("either an API key or a project/location is required")
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	defaults := DefaultGeminiConfig()
	model := config.Model
	if model == "" {
		model = defaults.Model
	}
	keywordCount := config.KeywordCount
	if keywordCount <= 0 {
		keywordCount = defaults.KeywordCount
	}
	minKeywordLength := config.MinKeywordLength
	if minKeywordLength <= 0 {
		minKeywordLength = defaults.MinKeywordLength
	}
	maxRetries := config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaults.MaxRetries
	}
	initialDelay := config.InitialRetryDelay
	if initialDelay <= 0 {
		initialDelay = defaults.InitialRetryDelay
	}

	return &GeminiService{
		client:           client,
		model:            model,
		keywordCount:     keywordCount,
		minKeywordLength: minKeywordLength,
		maxRetries:       maxRetries,
		initialDelay:     initialDelay,
	}, nil
}

// SelectCategory returns at most three category paths relevant to the question.
func (s *GeminiService) SelectCategory(ctx context.Context, p SelectCategoryParams) ([]string, error) {
	config := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr[float32](0),
		MaxOutputTokens:   2048,
		SystemInstruction: systemInstruction(selectCategoryInstruction(p.Now) + buildCategorySection(p.Categories)),
		ResponseMIMEType:  "application/json",
		ResponseSchema: &genai.Schema{
			Type:        genai.TypeArray,
			Description: "関連するカテゴリ名の一覧",
			Items:       &genai.Schema{Type: genai.TypeString},
			MinItems:    genai.Ptr[int64](1),
			MaxItems:    genai.Ptr[int64](3),
		},
	}

	var paths []string
	if err := s.generateJSON(ctx, buildContents(p.UserQuestion, p.History), config, &paths); err != nil {
		return nil, err
	}
	return paths, nil
}

// GenerateKeywords returns search keywords for the question. The keyword count
// and minimum length come from the service configuration.
func (s *GeminiService) GenerateKeywords(ctx context.Context, p GenerateKeywordsParams) ([]string, error) {
	instruction := generateKeywordsInstruction(p.UserQuestion, p.Now, s.keywordCount, s.minKeywordLength) +
		buildCategorySection(p.Categories)
	config := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr[float32](0),
		MaxOutputTokens:   2048,
		SystemInstruction: systemInstruction(instruction),
		ResponseMIMEType:  "application/json",
		ResponseSchema: &genai.Schema{
			Type:        genai.TypeArray,
			Description: "検索に使うキーワード一覧",
			Items:       &genai.Schema{Type: genai.TypeString},
			MinItems:    genai.Ptr(int64(s.keywordCount)),
			MaxItems:    genai.Ptr(int64(s.keywordCount)),
		},
	}

	var keywords []string
	if err := s.generateJSON(ctx, buildContents(p.UserQuestion, p.History), config, &keywords); err != nil {
		return nil, err
	}
	return keywords, nil
}

// AnswerQuestion streams an answer grounded in the given posts. Only the
// stream establishment is retried; a failure mid-stream surfaces as is.
func (s *GeminiService) AnswerQuestion(ctx context.Context, p AnswerQuestionParams) (Stream, error) {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
		// Keep the answer within the chat transport's message size limit.
		MaxOutputTokens:   40000,
		SystemInstruction: systemInstruction(answerQuestionInstruction(p.Now) + buildPostsSection(p.Posts)),
	}
	contents := buildContents(p.Question, p.History)

	stream, err := Retry(ctx, func(ctx context.Context) (*geminiStream, error) {
		seq := s.client.Models.GenerateContentStream(ctx, s.model, contents, config)
		return openGeminiStream(seq)
	}, s.maxRetries, s.initialDelay)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

type duplicateVerdict struct {
	IsDuplicate    bool     `json:"isDuplicate"`
	MatchedPostIDs []int    `json:"matchedPostIds"`
	AdditionalInfo []string `json:"additionalInfo"`
	Reason         string   `json:"reason"`
}

// CheckDuplicate compares the conversation against existing posts.
func (s *GeminiService) CheckDuplicate(ctx context.Context, p CheckDuplicateParams) (*DuplicateCheckResult, error) {
	config := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr[float32](0),
		MaxOutputTokens:   2048,
		SystemInstruction: systemInstruction(checkDuplicateInstruction(p.Now) + buildPostsSection(p.Posts)),
		ResponseMIMEType:  "application/json",
		ResponseSchema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"isDuplicate": {
					Type:        genai.TypeBoolean,
					Description: "会話内容が既存記事で十分にカバーされているか",
				},
				"matchedPostIds": {
					Type:        genai.TypeArray,
					Description: "重複ありの場合の記事ID一覧。重複なしは空配列",
					Items:       &genai.Schema{Type: genai.TypeInteger},
				},
				"additionalInfo": {
					Type:        genai.TypeArray,
					Description: "既存記事に含まれない追加情報。なければ空配列",
					Items:       &genai.Schema{Type: genai.TypeString},
				},
				"reason": {
					Type:        genai.TypeString,
					Description: "重複あり/なしと判断した理由",
				},
			},
			Required: []string{"isDuplicate", "matchedPostIds", "additionalInfo", "reason"},
		},
	}

	prompt := fmt.Sprintf("以下のSlack会話の内容と、既存のドキュメントを比較してください。\n\n# 会話の要約\n%s", p.ConversationSummary)
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	var verdict duplicateVerdict
	if err := s.generateJSON(ctx, contents, config, &verdict); err != nil {
		return nil, err
	}
	return resolveDuplicateVerdict(verdict, p.Posts), nil
}

func resolveDuplicateVerdict(verdict duplicateVerdict, posts []kb.Post) *DuplicateCheckResult {
	matchedIDs := make(map[int]struct{}, len(verdict.MatchedPostIDs))
	for _, id := range verdict.MatchedPostIDs {
		matchedIDs[id] = struct{}{}
	}

	var matched []kb.Post
	if verdict.IsDuplicate {
		for _, p := range posts {
			if _, ok := matchedIDs[p.Number]; ok {
				matched = append(matched, p)
			}
		}
	}

	info := verdict.AdditionalInfo
	if info == nil {
		info = []string{}
	}

	return &DuplicateCheckResult{
		IsDuplicate:    verdict.IsDuplicate,
		MatchedPosts:   matched,
		AdditionalInfo: info,
		Reason:         verdict.Reason,
	}
}

// GenerateArticle drafts a new article from the conversation.
func (s *GeminiService) GenerateArticle(ctx context.Context, p GenerateArticleParams) (*GeneratedArticle, error) {
	instruction := generateArticleInstruction(p.Now)
	if p.Category != "" {
		instruction += fmt.Sprintf("\n\n# カテゴリ\n記事は「%s」カテゴリに作成されます。", p.Category)
	}

	config := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr[float32](0),
		MaxOutputTokens:   50000,
		SystemInstruction: systemInstruction(instruction),
		ResponseMIMEType:  "application/json",
		ResponseSchema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"title": {Type: genai.TypeString, Description: "記事のタイトル"},
				"body":  {Type: genai.TypeString, Description: "マークダウン形式の本文"},
				"tags": {
					Type:        genai.TypeArray,
					Description: "記事に付与するタグ一覧",
					Items:       &genai.Schema{Type: genai.TypeString},
				},
			},
			Required: []string{"title", "body", "tags"},
		},
	}

	conversationText := flattenConversation(p.Conversation, "\n\n")
	prompt := fmt.Sprintf("以下のSlack会話をもとに、esaの記事を作成してください。\n\n# 会話内容\n%s", conversationText)
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	var article GeneratedArticle
	if err := s.generateJSON(ctx, contents, config, &article); err != nil {
		return nil, err
	}
	return &article, nil
}

// generateJSON runs a structured-output model call through the retry wrapper
// and unmarshals the response text into out.
func (s *GeminiService) generateJSON(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig, out any) error {
	resp, err := Retry(ctx, func(ctx context.Context) (*genai.GenerateContentResponse, error) {
		return s.client.Models.GenerateContent(ctx, s.model, contents, config)
	}, s.maxRetries, s.initialDelay)
	if err != nil {
		return err
	}

	jsonText := strings.TrimSpace(resp.Text())
	if jsonText == "" {
		return fmt.Errorf("empty JSON response from model")
	}
	if err := json.Unmarshal([]byte(jsonText), out); err != nil {
		return fmt.Errorf("failed to parse model response: %w", err)
	}
	return nil
}

func systemInstruction(text string) *genai.Content {
	return genai.NewContentFromText(text, genai.RoleUser)
}

// buildContents maps the conversation history onto model turns and appends the
// question as a fresh user turn unless it already closes the history.
func buildContents(question string, history []ChatMessage) []*genai.Content {
	if len(history) == 0 {
		return []*genai.Content{genai.NewContentFromText(question, genai.RoleUser)}
	}

	contents := make([]*genai.Content, 0, len(history)+1)
	for _, h := range history {
		role := genai.Role(genai.RoleUser)
		if h.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(h.Text, role))
	}

	lastText := history[len(history)-1].Text
	if strings.TrimSpace(lastText) != strings.TrimSpace(question) {
		contents = append(contents, genai.NewContentFromText(question, genai.RoleUser))
	}
	return contents
}

// flattenConversation renders turns as "[role]: text" joined by sep.
func flattenConversation(conversation []ChatMessage, sep string) string {
	lines := make([]string, len(conversation))
	for i, c := range conversation {
		lines[i] = fmt.Sprintf("[%s]: %s", c.Role, c.Text)
	}
	return strings.Join(lines, sep)
}

// geminiStream adapts the SDK's push iterator into the pull-based Stream
// contract. It is single-consumer and non-restartable.
type geminiStream struct {
	next func() (*genai.GenerateContentResponse, error, bool)
	stop func()

	buffered    *genai.GenerateContentResponse
	hasBuffered bool

	totalTokens *int32
	failed      error
	done        bool
	terminal    bool
}

// openGeminiStream pulls the first event eagerly so establishment failures are
// visible (and retryable) before the stream is handed to the consumer.
func openGeminiStream(seq iter.Seq2[*genai.GenerateContentResponse, error]) (*geminiStream, error) {
	next, stop := iter.Pull2(seq)

	resp, err, ok := next()
	if err != nil {
		stop()
		return nil, err
	}

	st := &geminiStream{next: next, stop: stop}
	if ok {
		st.buffered = resp
		st.hasBuffered = true
	} else {
		st.terminal = true
		stop()
	}
	return st, nil
}

// Next yields the following chunk. After the terminal usage-count chunk it
// returns io.EOF; after a failure it keeps returning the same error.
func (st *geminiStream) Next(ctx context.Context) (Chunk, error) {
	if st.failed != nil {
		return Chunk{}, st.failed
	}
	if st.done {
		return Chunk{}, io.EOF
	}

	for {
		if err := ctx.Err(); err != nil {
			return Chunk{}, st.fail(err)
		}
		if st.terminal {
			st.done = true
			return Chunk{TotalTokenCount: st.totalTokens}, nil
		}

		resp, err, ok := st.pull()
		if err != nil {
			return Chunk{}, st.fail(err)
		}
		if !ok {
			st.terminal = true
			st.stop()
			continue
		}

		if resp.UsageMetadata != nil {
			count := resp.UsageMetadata.TotalTokenCount
			st.totalTokens = &count
		}
		if len(resp.Candidates) > 0 {
			if reason := resp.Candidates[0].FinishReason; reason != "" && reason != genai.FinishReasonStop {
				return Chunk{}, st.fail(&GenerationError{FinishReason: string(reason)})
			}
		}
		if text := resp.Text(); text != "" {
			return Chunk{TextDelta: text}, nil
		}
		// No delta in this event (e.g. a bare finish/usage frame); keep pulling.
	}
}

func (st *geminiStream) pull() (*genai.GenerateContentResponse, error, bool) {
	if st.hasBuffered {
		st.hasBuffered = false
		resp := st.buffered
		st.buffered = nil
		return resp, nil, true
	}
	return st.next()
}

func (st *geminiStream) fail(err error) error {
	st.failed = err
	st.stop()
	return err
}
