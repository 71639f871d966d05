package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const repliesPageLimit = 200

// SlackClient is a Slack Web API client covering the handful of methods the
// bot needs. It implements Transport and the health monitor's Pinger.
type SlackClient struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

// SlackClientConfig holds configuration for the Slack client.
type SlackClientConfig struct {
	Token   string
	BaseURL string
	Timeout time.Duration
}

// NewSlackClient creates a new Slack Web API client. Token is required.
func NewSlackClient(config SlackClientConfig) (*SlackClient, error) {
	if config.Token == "" {
		return nil, fmt.Errorf("slack bot token is required")
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = "https://slack.com/api"
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &SlackClient{
		token:   config.Token,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

var _ Transport = (*SlackClient)(nil)

// APIError reports a response with ok=false from the Slack Web API.
type APIError struct {
	Method string
	Reason string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("slack %s failed: %s", e.Method, e.Reason)
}

// StatusError reports a non-2xx HTTP response from the Slack Web API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("slack API returned status %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus returns the response status code.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }

type apiEnvelope struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type postMessageResponse struct {
	apiEnvelope
	TS string `json:"ts"`
}

// PostMessage posts text into a channel, threaded under threadTS when
// non-empty, and returns the timestamp of the new message.
func (c *SlackClient) PostMessage(ctx context.Context, channel, threadTS, text string) (string, error) {
	body := map[string]string{
		"channel": channel,
		"text":    text,
	}
	if threadTS != "" {
		body["thread_ts"] = threadTS
	}

	var resp postMessageResponse
	if err := c.call(ctx, "chat.postMessage", body, &resp); err != nil {
		return "", err
	}
	return resp.TS, nil
}

// UpdateMessage replaces the text of an existing message.
func (c *SlackClient) UpdateMessage(ctx context.Context, channel, ts, text string) error {
	body := map[string]string{
		"channel": channel,
		"ts":      ts,
		"text":    text,
	}

	var resp apiEnvelope
	return c.call(ctx, "chat.update", body, &resp)
}

type slackMessage struct {
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts"`
	Text     string `json:"text"`
	User     string `json:"user"`
	BotID    string `json:"bot_id"`
}

type repliesResponse struct {
	apiEnvelope
	Messages         []slackMessage `json:"messages"`
	HasMore          bool           `json:"has_more"`
	ResponseMetadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

// FetchThreadReplies returns the full thread rooted at threadTS, following
// pagination cursors until the thread is exhausted.
func (c *SlackClient) FetchThreadReplies(ctx context.Context, channel, threadTS string) ([]Message, error) {
	var messages []Message
	cursor := ""

	for {
		params := url.Values{
			"channel": {channel},
			"ts":      {threadTS},
			"limit":   {fmt.Sprint(repliesPageLimit)},
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		var resp repliesResponse
		if err := c.get(ctx, "conversations.replies", params, &resp); err != nil {
			return nil, err
		}

		for _, m := range resp.Messages {
			messages = append(messages, Message{
				TS:       m.TS,
				ThreadTS: m.ThreadTS,
				Text:     m.Text,
				User:     m.User,
				BotID:    m.BotID,
			})
		}

		if !resp.HasMore || resp.ResponseMetadata.NextCursor == "" {
			return messages, nil
		}
		cursor = resp.ResponseMetadata.NextCursor
	}
}

type userInfoResponse struct {
	apiEnvelope
	User struct {
		ID                string `json:"id"`
		Name              string `json:"name"`
		IsBot             bool   `json:"is_bot"`
		IsRestricted      bool   `json:"is_restricted"`
		IsUltraRestricted bool   `json:"is_ultra_restricted"`
	} `json:"user"`
}

// LookupUser fetches a user's profile.
func (c *SlackClient) LookupUser(ctx context.Context, userID string) (*UserProfile, error) {
	var resp userInfoResponse
	if err := c.get(ctx, "users.info", url.Values{"user": {userID}}, &resp); err != nil {
		return nil, err
	}
	return &UserProfile{
		ID:                resp.User.ID,
		Name:              resp.User.Name,
		IsBot:             resp.User.IsBot,
		IsRestricted:      resp.User.IsRestricted,
		IsUltraRestricted: resp.User.IsUltraRestricted,
	}, nil
}

type channelInfoResponse struct {
	apiEnvelope
	Channel struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		IsShared    bool   `json:"is_shared"`
		IsExtShared bool   `json:"is_ext_shared"`
	} `json:"channel"`
}

// LookupChannel fetches a channel's sharing metadata.
func (c *SlackClient) LookupChannel(ctx context.Context, channelID string) (*ChannelInfo, error) {
	var resp channelInfoResponse
	if err := c.get(ctx, "conversations.info", url.Values{"channel": {channelID}}, &resp); err != nil {
		return nil, err
	}
	return &ChannelInfo{
		ID:          resp.Channel.ID,
		Name:        resp.Channel.Name,
		IsShared:    resp.Channel.IsShared,
		IsExtShared: resp.Channel.IsExtShared,
	}, nil
}

// Ping verifies the token against auth.test. The liveness monitor uses it as
// a cheap connectivity probe.
func (c *SlackClient) Ping(ctx context.Context) error {
	var resp apiEnvelope
	return c.call(ctx, "auth.test", map[string]string{}, &resp)
}

// call issues a JSON POST to a Web API method and checks the ok envelope.
func (c *SlackClient) call(ctx context.Context, method string, body any, out interface{ envelope() apiEnvelope }) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	return c.do(req, method, out)
}

// get issues a form GET to a Web API method and checks the ok envelope.
func (c *SlackClient) get(ctx context.Context, method string, params url.Values, out interface{ envelope() apiEnvelope }) error {
	u := c.baseURL + "/" + method
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.do(req, method, out)
}

func (c *SlackClient) do(req *http.Request, method string, out interface{ envelope() apiEnvelope }) error {
	req.Header.Set("Authorization", "Bearer "+c.token)

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
	if env := out.envelope(); !env.OK {
		return &APIError{Method: method, Reason: env.Error}
	}
	return nil
}

func (e apiEnvelope) envelope() apiEnvelope { return e }
