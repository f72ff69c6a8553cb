package models

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Chat is a durable multi-turn conversation, one per thread key. It is
// created at most once per key and never deleted by this service.
type Chat struct {
	ChatID    string    `dynamodbav:"chat_id"`
	ThreadKey string    `dynamodbav:"thread_key"`
	UserID    string    `dynamodbav:"user_id"`
	CreatedAt time.Time `dynamodbav:"created_at"`
	TTL       int64     `dynamodbav:"ttl"`
}

// Message is a single turn in a chat transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatHistoryItem is a persisted transcript entry.
type ChatHistoryItem struct {
	ChatID       string    `dynamodbav:"chat_id"`
	MessageIndex int       `dynamodbav:"message_index"`
	Role         string    `dynamodbav:"role"`
	Content      string    `dynamodbav:"content"`
	CreatedAt    time.Time `dynamodbav:"created_at"`
	TTL          int64     `dynamodbav:"ttl"`
}

// User is a resolved platform identity, looked up by email. Users are never
// auto-provisioned from Slack events.
type User struct {
	UserID string `dynamodbav:"user_id"`
	Email  string `dynamodbav:"email"`
}

// MessageRole constants
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatTTLDays is how long chat records and transcript entries are retained.
const ChatTTLDays = 90

// NewChat creates a chat owned by userID for the given thread key.
func NewChat(userID, threadKey string) *Chat {
	now := time.Now()
	return &Chat{
		ChatID:    generateChatID(),
		ThreadKey: threadKey,
		UserID:    userID,
		CreatedAt: now,
		TTL:       now.AddDate(0, 0, ChatTTLDays).Unix(),
	}
}

// generateChatID creates a unique chat identifier
func generateChatID() string {
	return "chat-" + generateULID()
}

// generateULID generates a ULID string for unique identifiers
func generateULID() string {
	id, _ := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	return id.String()
}
