package handler

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/naolabs/nao-slack-bridge/pkg/models"
)

// ChatStore is the persistence contract for chat records and transcripts.
// Create must be a conditional insert keyed on the thread key: it returns
// models.ErrChatExists when another writer already owns the key.
type ChatStore interface {
	GetByThreadKey(ctx context.Context, threadKey string) (*models.Chat, error)
	Create(ctx context.Context, chat *models.Chat) error
	AppendMessage(ctx context.Context, chatID, role, content string) error
	GetHistory(ctx context.Context, chatID string) ([]models.Message, error)
}

// ConversationResolver maps a thread key to its single durable chat,
// creating the chat on first contact and appending on every later one.
type ConversationResolver struct {
	chats ChatStore
}

// NewConversationResolver creates a resolver backed by the given store.
func NewConversationResolver(chats ChatStore) *ConversationResolver {
	return &ConversationResolver{chats: chats}
}

// CreateOrAppend records one user turn against the chat owned by threadKey
// and returns that chat. If no chat exists yet, one is created for userID,
// seeded with the message.
//
// Webhook delivery is at-least-once, so two near-simultaneous deliveries for
// the same thread key can race here. The create is a conditional insert; the
// loser re-reads the winner's record and appends to it. One chat per thread
// key, always.
func (r *ConversationResolver) CreateOrAppend(ctx context.Context, threadKey, userID, text string) (*models.Chat, error) {
	chat, err := r.chats.GetByThreadKey(ctx, threadKey)
	if err == nil {
		if err := r.chats.AppendMessage(ctx, chat.ChatID, models.RoleUser, text); err != nil {
			return nil, fmt.Errorf("append message: %w", err)
		}
		return chat, nil
	}
	if !errors.Is(err, models.ErrChatNotFound) {
		return nil, fmt.Errorf("lookup chat: %w", err)
	}

	chat = models.NewChat(userID, threadKey)
	err = r.chats.Create(ctx, chat)
	if errors.Is(err, models.ErrChatExists) {
		// Lost the create race to a concurrent delivery; fall back to the
		// winner's record.
		log.Printf("Chat create conflict for thread key %s, appending instead", threadKey)
		winner, err := r.chats.GetByThreadKey(ctx, threadKey)
		if err != nil {
			return nil, fmt.Errorf("lookup chat after create conflict: %w", err)
		}
		if err := r.chats.AppendMessage(ctx, winner.ChatID, models.RoleUser, text); err != nil {
			return nil, fmt.Errorf("append message: %w", err)
		}
		return winner, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}

	if err := r.chats.AppendMessage(ctx, chat.ChatID, models.RoleUser, text); err != nil {
		return nil, fmt.Errorf("seed message: %w", err)
	}
	return chat, nil
}
