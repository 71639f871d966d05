package handlers

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"esabot/internal/answer"
	"esabot/internal/chat"
	"esabot/internal/util"
)

// buildConversation maps thread messages onto conversation turns. A message is
// assistant-authored iff its bot id matches ours; when the bot id is unknown
// any bot-authorship marker counts. Non-empty text is annotated with its
// author and timestamp; empty text stays empty.
func buildConversation(messages []chat.Message, botID string) []answer.ChatMessage {
	conversation := make([]answer.ChatMessage, len(messages))
	for i, m := range messages {
		role := answer.RoleUser
		if isAssistant(m, botID) {
			role = answer.RoleAssistant
		}

		text := ""
		if m.Text != "" {
			text = fmt.Sprintf("%s\nfrom %s at %s", m.Text, m.User, formatMessageTime(m.TS))
		}
		conversation[i] = answer.ChatMessage{Role: role, Text: text}
	}
	return conversation
}

func isAssistant(m chat.Message, botID string) bool {
	if botID != "" {
		return m.BotID == botID
	}
	return m.BotID != ""
}

// formatMessageTime renders a Slack "seconds.fraction" timestamp in JST.
func formatMessageTime(ts string) string {
	seconds, err := strconv.ParseFloat(ts, 64)
	if err != nil || ts == "" {
		return "unknown time"
	}
	return util.FormatJST(time.UnixMilli(int64(seconds * 1000)))
}

// summarizeConversation renders turns as "[role]: text" lines for the
// duplicate check prompt.
func summarizeConversation(conversation []answer.ChatMessage) string {
	lines := make([]string, len(conversation))
	for i, c := range conversation {
		lines[i] = fmt.Sprintf("[%s]: %s", c.Role, c.Text)
	}
	return strings.Join(lines, "\n")
}
