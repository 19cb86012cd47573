package knowledge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhub/backend-go/internal/models"
)

func newTestChat(completion CompletionClient, store VectorStore) *ChatOrchestrator {
	if store == nil {
		store = NewMemoryVectorStore()
	}
	return NewChatOrchestrator(NewMockEmbedder(32), store, completion, ChatOptions{
		TopK:          10,
		MinScore:      0.6,
		SearchTimeout: time.Second,
		ChatTimeout:   time.Second,
	})
}

// seedChat 预置一个包含与查询同文本分块的租户集合，保证检索必命中
func seedChat(t *testing.T, store VectorStore, userID, topicID uint, text string) {
	t.Helper()
	embedder := NewMockEmbedder(32)
	vec, err := embedder.Embed(context.Background(), text)
	require.NoError(t, err)

	_, err = store.AddDocuments(context.Background(), CollectionName(userID, topicID), []Document{{
		Text:          text,
		Embedding:     vec,
		EmbeddingMode: EmbeddingModeMock,
		Metadata:      ChunkMetadata{MaterialID: 1, UserID: userID, TopicID: topicID, FileName: "bio.txt"},
	}})
	require.NoError(t, err)
}

func TestChatMessagesNoHistoryWithContext(t *testing.T) {
	store := NewMemoryVectorStore()
	seedChat(t, store, 1, 1, "What is osmosis?")
	stub := &stubCompletionClient{ready: true, reply: "Osmosis is..."}
	chat := newTestChat(stub, store)

	_, err := chat.Chat(context.Background(), ChatRequest{
		Message: "What is osmosis?",
		UserID:  1,
		TopicID: 1,
	})
	require.NoError(t, err)

	// 无历史时上下文并入唯一的user消息，序列恰好2条
	require.Len(t, stub.messages, 2)
	assert.Equal(t, RoleSystem, stub.messages[0].Role)
	assert.Equal(t, RoleUser, stub.messages[1].Role)
	assert.Contains(t, stub.messages[1].Content, "What is osmosis?")
	assert.Contains(t, stub.messages[1].Content, "course materials")
}

func TestChatMessagesWithHistoryAndContext(t *testing.T) {
	store := NewMemoryVectorStore()
	seedChat(t, store, 1, 1, "Tell me about cells")
	stub := &stubCompletionClient{ready: true, reply: "Cells are..."}
	chat := newTestChat(stub, store)

	history := []models.ChatTurn{
		{Role: "user", Content: "Hi"},
		{Role: "assistant", Content: "Hello! How can I help?"},
	}
	_, err := chat.Chat(context.Background(), ChatRequest{
		Message: "Tell me about cells",
		UserID:  1,
		TopicID: 1,
		History: history,
	})
	require.NoError(t, err)

	// 人设、上下文system、重放历史、新问题
	require.Len(t, stub.messages, 5)
	assert.Equal(t, RoleSystem, stub.messages[0].Role)
	assert.Equal(t, RoleSystem, stub.messages[1].Role)
	assert.Contains(t, stub.messages[1].Content, "course materials")
	assert.Equal(t, RoleUser, stub.messages[2].Role)
	assert.Equal(t, "Hi", stub.messages[2].Content)
	assert.Equal(t, RoleAssistant, stub.messages[3].Role)
	assert.Equal(t, RoleUser, stub.messages[4].Role)
	assert.Equal(t, "Tell me about cells", stub.messages[4].Content)
}

func TestChatWithoutTopicSkipsRetrieval(t *testing.T) {
	stub := &stubCompletionClient{ready: true, reply: "General answer"}
	chat := newTestChat(stub, nil)

	reply, err := chat.Chat(context.Background(), ChatRequest{
		Message: "What is 2+2?",
		UserID:  1,
	})
	require.NoError(t, err)
	assert.Equal(t, "General answer", reply.Content)

	// 无topic不检索，消息序列里没有上下文
	require.Len(t, stub.messages, 2)
	assert.NotContains(t, stub.messages[1].Content, "course materials")
	assert.Equal(t, "What is 2+2?", stub.messages[1].Content)
}

func TestChatFallbackOnCompletionError(t *testing.T) {
	stub := &stubCompletionClient{ready: true, err: ErrCompletionUnavailable}
	chat := newTestChat(stub, nil)

	reply, err := chat.Chat(context.Background(), ChatRequest{Message: "hello", UserID: 1})
	require.NoError(t, err)
	assert.True(t, reply.Fallback)
	assert.NotEmpty(t, reply.Content)
}

func TestChatFallbackWithoutCredential(t *testing.T) {
	stub := &stubCompletionClient{ready: false}
	chat := newTestChat(stub, nil)

	reply, err := chat.Chat(context.Background(), ChatRequest{Message: "hello", UserID: 1})
	require.NoError(t, err)
	assert.True(t, reply.Fallback)
	assert.Equal(t, 0, stub.calls)
}

func TestChatInvalidTenant(t *testing.T) {
	chat := newTestChat(&stubCompletionClient{}, nil)

	_, err := chat.Chat(context.Background(), ChatRequest{Message: "hello"})
	assert.True(t, errors.Is(err, ErrInvalidTenant))
}

func TestBuildChatMessagesOrdering(t *testing.T) {
	history := []models.ChatTurn{{Role: "user", Content: "earlier question"}}

	messages := buildChatMessages("persona", "some context", history, "new question")
	require.Len(t, messages, 4)
	assert.Equal(t, "persona", messages[0].Content)
	assert.Contains(t, messages[1].Content, "some context")
	assert.Equal(t, "earlier question", messages[2].Content)
	assert.Equal(t, "new question", messages[3].Content)

	// 未知的历史角色按user处理
	weird := buildChatMessages("persona", "", []models.ChatTurn{{Role: "tool", Content: "x"}}, "q")
	assert.Equal(t, RoleUser, weird[1].Role)
}
