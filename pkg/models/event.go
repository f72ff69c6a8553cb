package models

import (
	"fmt"
	"regexp"
	"strings"
)

// mentionPattern matches Slack user-mention tags like <@U0123ABCD> that are
// embedded in app_mention text.
var mentionPattern = regexp.MustCompile(`(?i)<@[A-Z0-9]+>`)

// SlackEventBody is the inner event of an event_callback delivery.
type SlackEventBody struct {
	Type     string `json:"type"`
	User     string `json:"user"`
	Text     string `json:"text"`
	Channel  string `json:"channel"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts,omitempty"`
	EventTS  string `json:"event_ts"`
	BotID    string `json:"bot_id,omitempty"`
	SubType  string `json:"subtype,omitempty"`
}

// SlackEventCallback is the envelope Slack posts to the webhook endpoint.
type SlackEventCallback struct {
	Type      string          `json:"type"`
	Token     string          `json:"token,omitempty"`
	Challenge string          `json:"challenge,omitempty"`
	Event     *SlackEventBody `json:"event,omitempty"`
}

// Validate checks that the event carries everything the mention pipeline
// needs. Absence of any field is a client input error (HTTP 400).
func (e *SlackEventBody) Validate() error {
	if e.Text == "" || e.Channel == "" || e.TS == "" || e.User == "" {
		return fmt.Errorf("%w: missing text, channel, thread timestamp, or user ID", ErrInvalidEvent)
	}
	return nil
}

// ThreadRoot returns the timestamp of the thread's root message. A mention
// outside any thread starts a new one rooted at its own ts.
func (e *SlackEventBody) ThreadRoot() string {
	if e.ThreadTS != "" {
		return e.ThreadTS
	}
	return e.TS
}

// CleanText returns the mention text with bot-mention tags removed and
// surrounding whitespace trimmed.
func (e *SlackEventBody) CleanText() string {
	return strings.TrimSpace(mentionPattern.ReplaceAllString(e.Text, ""))
}

// ThreadKey derives the durable conversation key for a (channel, thread root)
// pair: the channel ID joined with the root timestamp stripped of its decimal
// separator, e.g. "C123/p1690000000". Identical pairs always yield the same
// key, across retries and restarts; it is the idempotency key for chat
// creation.
func ThreadKey(channel, threadRoot string) string {
	return channel + "/p" + strings.ReplaceAll(threadRoot, ".", "")
}
