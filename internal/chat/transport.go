// Package chat abstracts the team-chat workspace: posting and editing thread
// messages, reading thread history, and looking up users and channels. The
// Slack Web API client is the production implementation.
package chat

import "context"

// Message is one message in a thread, as the workspace reports it. BotID is
// empty for human-authored messages.
type Message struct {
	TS       string
	ThreadTS string
	Text     string
	User     string
	BotID    string
}

// UserProfile carries the membership restrictions relevant to guard checks.
// Restricted and ultra-restricted users are workspace guests.
type UserProfile struct {
	ID                string
	Name              string
	IsBot             bool
	IsRestricted      bool
	IsUltraRestricted bool
}

// ChannelInfo carries the sharing flags relevant to guard checks.
type ChannelInfo struct {
	ID          string
	Name        string
	IsShared    bool
	IsExtShared bool
}

// ExternallyShared reports whether the channel is visible outside the
// workspace in any form.
func (c *ChannelInfo) ExternallyShared() bool {
	return c.IsShared || c.IsExtShared
}

// Transport is the chat workspace surface the handlers use.
type Transport interface {
	// PostMessage posts text into a channel, threaded under threadTS when
	// non-empty, and returns the timestamp of the new message.
	PostMessage(ctx context.Context, channel, threadTS, text string) (string, error)

	// UpdateMessage replaces the text of an existing message in place.
	UpdateMessage(ctx context.Context, channel, ts, text string) error

	// FetchThreadReplies returns the full thread rooted at threadTS in
	// chronological order, the root message included.
	FetchThreadReplies(ctx context.Context, channel, threadTS string) ([]Message, error)

	// LookupUser fetches a user's profile.
	LookupUser(ctx context.Context, userID string) (*UserProfile, error)

	// LookupChannel fetches a channel's sharing metadata.
	LookupChannel(ctx context.Context, channelID string) (*ChannelInfo, error)
}
