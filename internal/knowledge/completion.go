package knowledge

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// 消息角色
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message 一条对话消息
type Message struct {
	Role    string
	Content string
}

// CompletionOptions 单次生成调用的参数
type CompletionOptions struct {
	MaxTokens   int
	Temperature float64
}

// CompletionClient 文本生成服务抽象
type CompletionClient interface {
	Complete(ctx context.Context, messages []Message, opts CompletionOptions) (string, error)
	Ready() bool
}

// OpenAICompletionClient 调用OpenAI Chat Completion API
type OpenAICompletionClient struct {
	client *openai.Client
	model  string
}

// NewOpenAICompletionClient 创建OpenAI生成客户端
func NewOpenAICompletionClient(apiKey, baseURL, model string) *OpenAICompletionClient {
	if model == "" {
		model = "gpt-4o-mini"
	}

	cfg := openai.DefaultConfig(strings.TrimSpace(apiKey))
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &OpenAICompletionClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (c *OpenAICompletionClient) Complete(ctx context.Context, messages []Message, opts CompletionOptions) (string, error) {
	if c.client == nil {
		return "", ErrCompletionUnavailable
	}
	if len(messages) == 0 {
		return "", fmt.Errorf("%w: no messages", ErrCompletionUnavailable)
	}

	chatMessages := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		chatMessages = append(chatMessages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    chatMessages,
		Temperature: float32(opts.Temperature),
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCompletionUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response", ErrCompletionUnavailable)
	}

	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAICompletionClient) Ready() bool {
	return c.client != nil
}

// NoopCompletionClient mock模式下的占位实现。Ready恒为false，
// 调用方据此直接走降级路径，不发起任何外部请求。
type NoopCompletionClient struct{}

func (c *NoopCompletionClient) Complete(ctx context.Context, messages []Message, opts CompletionOptions) (string, error) {
	return "", ErrCompletionUnavailable
}

func (c *NoopCompletionClient) Ready() bool {
	return false
}
