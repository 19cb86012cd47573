package knowledge

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/studyhub/backend-go/internal/logger"
	"github.com/studyhub/backend-go/internal/models"
)

const chatPersona = "You are a friendly study assistant. Answer questions clearly and concisely. " +
	"When course materials are provided, ground your answer in them and say so when they do not cover the question."

const chatFallbackReply = "Sorry, the AI assistant is temporarily unavailable. Please try again in a moment."

// ChatRequest 一次聊天调用。TopicID为0时跳过检索，纯通用问答。
type ChatRequest struct {
	Message string
	UserID  uint
	TopicID uint
	History []models.ChatTurn
}

// ChatOptions 聊天编排器配置
type ChatOptions struct {
	TopK          int
	MinScore      float64
	SearchTimeout time.Duration
	ChatTimeout   time.Duration
	MaxTokens     int
	Temperature   float64 // 低于笔记生成，偏向事实一致性
}

// ChatOrchestrator 无状态聊天编排器。每次调用独立组装消息序列，
// 失败时返回道歉文案而非错误，聊天永不对终端用户硬失败。
type ChatOrchestrator struct {
	embedder   Embedder
	store      VectorStore
	completion CompletionClient
	opts       ChatOptions
}

// NewChatOrchestrator 创建聊天编排器
func NewChatOrchestrator(embedder Embedder, store VectorStore, completion CompletionClient, opts ChatOptions) *ChatOrchestrator {
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	if opts.MinScore <= 0 {
		opts.MinScore = 0.6
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = 10 * time.Second
	}
	if opts.ChatTimeout <= 0 {
		opts.ChatTimeout = 15 * time.Second
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1000
	}
	if opts.Temperature <= 0 {
		opts.Temperature = 0.3
	}
	return &ChatOrchestrator{
		embedder:   embedder,
		store:      store,
		completion: completion,
		opts:       opts,
	}
}

// Chat 处理一轮对话
func (c *ChatOrchestrator) Chat(ctx context.Context, req ChatRequest) (*models.ChatReply, error) {
	if req.UserID == 0 {
		return nil, ErrInvalidTenant
	}

	var contextBlock string
	if req.TopicID > 0 {
		contextBlock = c.retrieveContext(ctx, req)
	}

	messages := buildChatMessages(chatPersona, contextBlock, req.History, req.Message)

	if !c.completion.Ready() {
		return &models.ChatReply{Content: chatFallbackReply, Fallback: true}, nil
	}

	chatCtx, cancel := context.WithTimeout(ctx, c.opts.ChatTimeout)
	defer cancel()

	content, err := c.completion.Complete(chatCtx, messages, CompletionOptions{
		MaxTokens:   c.opts.MaxTokens,
		Temperature: c.opts.Temperature,
	})
	if err != nil {
		logger.Warn("chat completion failed, returning fallback reply",
			zap.Uint("user_id", req.UserID), zap.Error(err))
		return &models.ChatReply{Content: chatFallbackReply, Fallback: true}, nil
	}

	return &models.ChatReply{Content: content}, nil
}

func (c *ChatOrchestrator) retrieveContext(ctx context.Context, req ChatRequest) string {
	vec, err := c.embedder.Embed(ctx, req.Message)
	if err != nil {
		logger.Warn("chat query embedding failed, answering without context", zap.Error(err))
		return ""
	}

	results, err := c.store.Search(ctx, SearchQuery{
		Collection: CollectionName(req.UserID, req.TopicID),
		Vector:     vec,
		TopK:       c.opts.TopK,
		MinScore:   c.opts.MinScore,
		Timeout:    c.opts.SearchTimeout,
	})
	if err != nil || len(results) == 0 {
		return ""
	}
	return BuildContextBlock(results)
}

// buildChatMessages 组装消息序列。顺序有语义：
//   - 人设system消息永远在首位；
//   - 有上下文且有历史：上下文作为第二条system消息，再重放历史，最后新问题；
//   - 有上下文但无历史：上下文并入唯一的user消息（恰好2条），
//     避免开场就是三连消息的尴尬结构。
func buildChatMessages(persona, contextBlock string, history []models.ChatTurn, message string) []Message {
	messages := []Message{{Role: RoleSystem, Content: persona}}

	if contextBlock != "" && len(history) == 0 {
		messages = append(messages, Message{
			Role:    RoleUser,
			Content: "Relevant course materials:\n" + contextBlock + "\n\nQuestion: " + message,
		})
		return messages
	}

	if contextBlock != "" {
		messages = append(messages, Message{
			Role:    RoleSystem,
			Content: "Relevant course materials:\n" + contextBlock,
		})
	}
	for _, turn := range history {
		role := RoleUser
		if turn.Role == RoleAssistant {
			role = RoleAssistant
		}
		messages = append(messages, Message{Role: role, Content: turn.Content})
	}
	messages = append(messages, Message{Role: RoleUser, Content: message})

	return messages
}
