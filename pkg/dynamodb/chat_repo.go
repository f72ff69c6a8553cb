package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/naolabs/nao-slack-bridge/pkg/models"
)

// ChatRepository persists chat records and transcripts.
//
// The chats table is keyed on thread_key, so "one chat per thread" is a
// table-level invariant, not an application convention: Create uses a
// conditional put and loses cleanly when a concurrent delivery for the same
// thread already won.
type ChatRepository struct {
	client       API
	tableName    string
	historyTable string
}

// NewChatRepository creates a new chat repository
func NewChatRepository(client API, tableName, historyTable string) *ChatRepository {
	return &ChatRepository{
		client:       client,
		tableName:    tableName,
		historyTable: historyTable,
	}
}

// GetByThreadKey retrieves the chat owning a thread key, or
// models.ErrChatNotFound when the thread has no chat yet.
func (r *ChatRepository) GetByThreadKey(ctx context.Context, threadKey string) (*models.Chat, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &r.tableName,
		Key: map[string]types.AttributeValue{
			"thread_key": &types.AttributeValueMemberS{Value: threadKey},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}

	if result.Item == nil {
		return nil, models.ErrChatNotFound
	}

	var chat models.Chat
	if err := attributevalue.UnmarshalMap(result.Item, &chat); err != nil {
		return nil, fmt.Errorf("unmarshal chat: %w", err)
	}

	return &chat, nil
}

// Create inserts a chat record iff no record owns its thread key yet.
// Returns models.ErrChatExists when another writer got there first; callers
// are expected to re-read and append.
func (r *ChatRepository) Create(ctx context.Context, chat *models.Chat) error {
	item, err := attributevalue.MarshalMap(chat)
	if err != nil {
		return fmt.Errorf("marshal chat: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &r.tableName,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(thread_key)"),
	})
	if err != nil {
		var conflict *types.ConditionalCheckFailedException
		if errors.As(err, &conflict) {
			return models.ErrChatExists
		}
		return fmt.Errorf("put item: %w", err)
	}

	log.Printf("Created chat %s for thread key %s", chat.ChatID, chat.ThreadKey)
	return nil
}

// maxAppendAttempts bounds the index-conflict retry loop in AppendMessage.
const maxAppendAttempts = 5

// AppendMessage stores one transcript turn for a chat.
//
// The next message_index is read-then-written, so two concurrent appends to
// the same chat can pick the same index. The put is conditional on the index
// being free; the loser re-reads the count and retries, so racing duplicate
// deliveries both land in the transcript instead of one overwriting the
// other.
func (r *ChatRepository) AppendMessage(ctx context.Context, chatID, role, content string) error {
	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		existing, err := r.GetHistory(ctx, chatID)
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}

		item := models.ChatHistoryItem{
			ChatID:       chatID,
			MessageIndex: len(existing),
			Role:         role,
			Content:      content,
			CreatedAt:    time.Now(),
			TTL:          time.Now().AddDate(0, 0, models.ChatTTLDays).Unix(),
		}

		av, err := attributevalue.MarshalMap(item)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}

		_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           &r.historyTable,
			Item:                av,
			ConditionExpression: aws.String("attribute_not_exists(chat_id) AND attribute_not_exists(message_index)"),
		})
		if err != nil {
			var conflict *types.ConditionalCheckFailedException
			if errors.As(err, &conflict) {
				// A concurrent append claimed this index; re-read and retry.
				log.Printf("Message index %d conflict for chat %s, retrying", item.MessageIndex, chatID)
				continue
			}
			return fmt.Errorf("put message: %w", err)
		}

		log.Printf("Saved message %d for chat %s", item.MessageIndex, chatID)
		return nil
	}

	return fmt.Errorf("append message for chat %s: gave up after %d index conflicts", chatID, maxAppendAttempts)
}

// GetHistory retrieves the transcript for a chat, oldest first.
func (r *ChatRepository) GetHistory(ctx context.Context, chatID string) ([]models.Message, error) {
	result, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              &r.historyTable,
		KeyConditionExpression: aws.String("chat_id = :chatId"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":chatId": &types.AttributeValueMemberS{Value: chatID},
		},
		ScanIndexForward: aws.Bool(true), // sort by message_index ascending
	})
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}

	var items []models.ChatHistoryItem
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &items); err != nil {
		return nil, fmt.Errorf("unmarshal messages: %w", err)
	}

	messages := make([]models.Message, len(items))
	for i, item := range items {
		messages[i] = models.Message{
			Role:    item.Role,
			Content: item.Content,
		}
	}

	return messages, nil
}
