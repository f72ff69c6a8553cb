package slack

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// Client wraps the Slack SDK client for use throughout the application
type Client struct {
	client *slack.Client
}

// NewClient creates a new Slack client with bot token
func NewClient(botToken string) *Client {
	return &Client{
		client: slack.New(botToken),
	}
}

// GetRawClient returns the underlying slack.Client for advanced operations
func (c *Client) GetRawClient() *slack.Client {
	return c.client
}

// PostThreadMessage posts a message into a thread, preserving continuity
// with earlier messages on the same root timestamp.
func (c *Client) PostThreadMessage(ctx context.Context, channelID, text, threadTS string) error {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}
	_, _, err := c.client.PostMessageContext(ctx, channelID, opts...)
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}

	return nil
}

// GetUserEmail returns the email on a Slack user's profile. An empty email
// (workspace hides it, or the scope is missing) is an error: the email is
// the only bridge to a platform account.
func (c *Client) GetUserEmail(ctx context.Context, slackUserID string) (string, error) {
	profile, err := c.client.GetUserProfileContext(ctx, &slack.GetUserProfileParameters{
		UserID: slackUserID,
	})
	if err != nil {
		return "", fmt.Errorf("get user profile: %w", err)
	}
	if profile.Email == "" {
		return "", fmt.Errorf("no email on profile for user %s", slackUserID)
	}

	return profile.Email, nil
}

// AuthTest verifies the bot token is valid
func (c *Client) AuthTest(ctx context.Context) (*slack.AuthTestResponse, error) {
	resp, err := c.client.AuthTestContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth test: %w", err)
	}

	return resp, nil
}
