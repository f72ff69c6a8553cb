package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/naolabs/nao-slack-bridge/pkg/models"
)

// fakeDynamoAPI mocks the DynamoDB API surface the repositories use.
type fakeDynamoAPI struct {
	GetItemFunc func(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItemFunc func(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	QueryFunc   func(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

var _ API = (*fakeDynamoAPI)(nil)

func (f *fakeDynamoAPI) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.GetItemFunc != nil {
		return f.GetItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.GetItemOutput{}, nil
}

func (f *fakeDynamoAPI) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.PutItemFunc != nil {
		return f.PutItemFunc(ctx, params, optFns...)
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamoAPI) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if f.QueryFunc != nil {
		return f.QueryFunc(ctx, params, optFns...)
	}
	return &dynamodb.QueryOutput{}, nil
}

func conditionalCheckFailed() error {
	return &types.ConditionalCheckFailedException{}
}

func historyItemAV(t *testing.T, chatID string, index int, role, content string) map[string]types.AttributeValue {
	t.Helper()
	av, err := attributevalue.MarshalMap(models.ChatHistoryItem{
		ChatID:       chatID,
		MessageIndex: index,
		Role:         role,
		Content:      content,
	})
	if err != nil {
		t.Fatalf("marshal history item: %v", err)
	}
	return av
}

func putMessageIndex(t *testing.T, item map[string]types.AttributeValue) int {
	t.Helper()
	var hi models.ChatHistoryItem
	if err := attributevalue.UnmarshalMap(item, &hi); err != nil {
		t.Fatalf("unmarshal put item: %v", err)
	}
	return hi.MessageIndex
}

func TestAppendMessageRetriesOnIndexConflict(t *testing.T) {
	// Delivery A and B both read an empty transcript and both try index 0.
	// B's conditional put fails, B re-reads and must land on index 1.
	var putIndexes []int
	putCalls := 0
	fake := &fakeDynamoAPI{
		QueryFunc: func(ctx context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			if putCalls == 0 {
				// Before the first put: A's message is not visible yet.
				return &dynamodb.QueryOutput{}, nil
			}
			return &dynamodb.QueryOutput{
				Items: []map[string]types.AttributeValue{
					historyItemAV(t, "chat-1", 0, models.RoleUser, "from the other delivery"),
				},
			}, nil
		},
		PutItemFunc: func(ctx context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			putCalls++
			if params.ConditionExpression == nil {
				t.Fatal("PutItem without a condition expression; concurrent appends can overwrite each other")
			}
			putIndexes = append(putIndexes, putMessageIndex(t, params.Item))
			if putCalls == 1 {
				return nil, conditionalCheckFailed()
			}
			return &dynamodb.PutItemOutput{}, nil
		},
	}

	repo := NewChatRepository(fake, "chats", "chat-history")
	if err := repo.AppendMessage(context.Background(), "chat-1", models.RoleUser, "retry"); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	if putCalls != 2 {
		t.Errorf("put calls = %d, want 2 (conflict then retry)", putCalls)
	}
	if len(putIndexes) != 2 || putIndexes[0] != 0 || putIndexes[1] != 1 {
		t.Errorf("put indexes = %v, want [0 1]", putIndexes)
	}
}

func TestAppendMessageGivesUpAfterRepeatedConflicts(t *testing.T) {
	putCalls := 0
	fake := &fakeDynamoAPI{
		PutItemFunc: func(ctx context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			putCalls++
			return nil, conditionalCheckFailed()
		},
	}

	repo := NewChatRepository(fake, "chats", "chat-history")
	err := repo.AppendMessage(context.Background(), "chat-1", models.RoleUser, "doomed")
	if err == nil {
		t.Fatal("AppendMessage() should surface an error after exhausting retries, not swallow it")
	}
	if putCalls != maxAppendAttempts {
		t.Errorf("put calls = %d, want %d", putCalls, maxAppendAttempts)
	}
}

// conditionalHistoryStore backs the fake with real conditional-put semantics:
// a put fails when its (chat_id, message_index) is already taken.
type conditionalHistoryStore struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
}

func newConditionalHistoryStore() *conditionalHistoryStore {
	return &conditionalHistoryStore{items: make(map[string]map[string]types.AttributeValue)}
}

func (s *conditionalHistoryStore) put(item map[string]types.AttributeValue) error {
	var hi models.ChatHistoryItem
	if err := attributevalue.UnmarshalMap(item, &hi); err != nil {
		return err
	}
	key := fmt.Sprintf("%s#%d", hi.ChatID, hi.MessageIndex)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.items[key]; taken {
		return conditionalCheckFailed()
	}
	s.items[key] = item
	return nil
}

func (s *conditionalHistoryStore) query() []map[string]types.AttributeValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]map[string]types.AttributeValue, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.items[k])
	}
	return out
}

func TestAppendMessageConcurrentDuplicateDeliveries(t *testing.T) {
	// Duplicate webhook deliveries append concurrently to one chat. Both
	// turns must be committed; neither may overwrite the other.
	store := newConditionalHistoryStore()
	fake := &fakeDynamoAPI{
		QueryFunc: func(ctx context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
			return &dynamodb.QueryOutput{Items: store.query()}, nil
		},
		PutItemFunc: func(ctx context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			if err := store.put(params.Item); err != nil {
				return nil, err
			}
			return &dynamodb.PutItemOutput{}, nil
		},
	}
	repo := NewChatRepository(fake, "chats", "chat-history")

	const deliveries = 4
	var wg sync.WaitGroup
	errs := make([]error, deliveries)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = repo.AppendMessage(context.Background(), "chat-1", models.RoleUser, fmt.Sprintf("delivery %d", i))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("delivery %d failed: %v", i, err)
		}
	}

	history, err := repo.GetHistory(context.Background(), "chat-1")
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(history) != deliveries {
		t.Fatalf("history length = %d, want %d (every delivery appends, none overwritten)", len(history), deliveries)
	}
}

func TestCreateReturnsErrChatExistsOnConflict(t *testing.T) {
	fake := &fakeDynamoAPI{
		PutItemFunc: func(ctx context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			if params.ConditionExpression == nil {
				t.Fatal("Create must guard the put with a thread_key condition")
			}
			return nil, conditionalCheckFailed()
		},
	}

	repo := NewChatRepository(fake, "chats", "chat-history")
	err := repo.Create(context.Background(), models.NewChat("user-1", "C1/p1"))
	if !errors.Is(err, models.ErrChatExists) {
		t.Errorf("Create() error = %v, want ErrChatExists", err)
	}
}

func TestGetByThreadKeyNotFound(t *testing.T) {
	fake := &fakeDynamoAPI{
		GetItemFunc: func(ctx context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
			return &dynamodb.GetItemOutput{}, nil
		},
	}

	repo := NewChatRepository(fake, "chats", "chat-history")
	_, err := repo.GetByThreadKey(context.Background(), "C1/p404")
	if !errors.Is(err, models.ErrChatNotFound) {
		t.Errorf("GetByThreadKey() error = %v, want ErrChatNotFound", err)
	}
}
