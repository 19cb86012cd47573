package knowledge

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/studyhub/backend-go/internal/logger"
	"github.com/studyhub/backend-go/internal/models"
)

// MockMarker 降级内容的识别标记。下游和测试据此判断mock模式，
// 不必靠猜测内容本身。
const MockMarker = "[mock-generated]"

// NoContextMarker 检索无命中时填入提示词的占位说明
const NoContextMarker = "(no relevant materials found in the knowledge base)"

// GeneratorOptions 生成编排器配置
type GeneratorOptions struct {
	TopK            int
	MinScore        float64
	SearchTimeout   time.Duration
	GenerateTimeout time.Duration
	NoteMaxTokens   int
	QuizMaxTokens   int
	Temperature     float64
}

// Generator 检索增强生成编排器：笔记与测验。
// 检索、生成、解析的任何失败都降级为确定性mock内容，请求永不失败。
type Generator struct {
	embedder   Embedder
	store      VectorStore
	completion CompletionClient
	opts       GeneratorOptions
}

// NewGenerator 创建生成编排器
func NewGenerator(embedder Embedder, store VectorStore, completion CompletionClient, opts GeneratorOptions) *Generator {
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	if opts.MinScore <= 0 {
		opts.MinScore = 0.6
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = 15 * time.Second
	}
	if opts.GenerateTimeout <= 0 {
		opts.GenerateTimeout = 25 * time.Second
	}
	if opts.NoteMaxTokens <= 0 {
		opts.NoteMaxTokens = 2000
	}
	if opts.QuizMaxTokens <= 0 {
		opts.QuizMaxTokens = 1500
	}
	if opts.Temperature <= 0 {
		opts.Temperature = 0.7
	}
	return &Generator{
		embedder:   embedder,
		store:      store,
		completion: completion,
		opts:       opts,
	}
}

// GenerateNote 围绕学习目标生成笔记
func (g *Generator) GenerateNote(ctx context.Context, goal string, userID, topicID uint) (*models.StudyNote, error) {
	if userID == 0 || topicID == 0 {
		return nil, ErrInvalidTenant
	}

	contextBlock := g.retrieveContext(ctx, goal, userID, topicID)

	if !g.completion.Ready() {
		return g.mockNote(goal), nil
	}

	messages := []Message{
		{
			Role: RoleSystem,
			Content: "You are a patient study tutor. Write a clear, well-structured study note " +
				"in markdown based on the provided course materials. Use headings, bullet points " +
				"and short examples. Stay grounded in the materials; do not invent facts.",
		},
		{
			Role: RoleUser,
			Content: fmt.Sprintf("Course materials:\n%s\n\nWrite a study note about: %s",
				contextBlock, goal),
		},
	}

	genCtx, cancel := context.WithTimeout(ctx, g.opts.GenerateTimeout)
	defer cancel()

	content, err := g.completion.Complete(genCtx, messages, CompletionOptions{
		MaxTokens:   g.opts.NoteMaxTokens,
		Temperature: g.opts.Temperature,
	})
	if err != nil {
		logger.Warn("note generation degraded to mock content",
			zap.String("goal", goal), zap.Error(err))
		return g.mockNote(goal), nil
	}

	return &models.StudyNote{
		Title:           goal,
		Content:         content,
		ReadTimeMinutes: estimateReadTime(content),
	}, nil
}

// GenerateQuiz 围绕标题与难度生成测验。模型输出解析失败同样降级。
func (g *Generator) GenerateQuiz(ctx context.Context, title, difficulty string, userID, topicID uint) (*models.Quiz, error) {
	if userID == 0 || topicID == 0 {
		return nil, ErrInvalidTenant
	}
	if difficulty == "" {
		difficulty = "medium"
	}

	query := fmt.Sprintf("%s (%s difficulty)", title, difficulty)
	contextBlock := g.retrieveContext(ctx, query, userID, topicID)

	if !g.completion.Ready() {
		return g.mockQuiz(title, difficulty), nil
	}

	messages := []Message{
		{
			Role: RoleSystem,
			Content: "You are a quiz writer. Produce exactly 5 multiple-choice questions as a JSON array. " +
				`Each element must have "question", "options" (4 strings), "answer" (one of the options) ` +
				`and "explanation". Output only the JSON array, no prose.`,
		},
		{
			Role: RoleUser,
			Content: fmt.Sprintf("Course materials:\n%s\n\nCreate a %s difficulty quiz about: %s",
				contextBlock, difficulty, title),
		},
	}

	genCtx, cancel := context.WithTimeout(ctx, g.opts.GenerateTimeout)
	defer cancel()

	raw, err := g.completion.Complete(genCtx, messages, CompletionOptions{
		MaxTokens:   g.opts.QuizMaxTokens,
		Temperature: g.opts.Temperature,
	})
	if err != nil {
		logger.Warn("quiz generation degraded to mock content",
			zap.String("title", title), zap.Error(err))
		return g.mockQuiz(title, difficulty), nil
	}

	questions, err := parseQuizQuestions(raw)
	if err != nil {
		logger.Warn("quiz output failed validation, using mock content",
			zap.String("title", title), zap.Error(err))
		return g.mockQuiz(title, difficulty), nil
	}

	return &models.Quiz{
		Title:      title,
		Difficulty: difficulty,
		Questions:  questions,
	}, nil
}

// retrieveContext 向量化查询并检索租户集合，组装上下文块。
// 任何失败（包括检索超时）都降级为无上下文标记，不向上冒泡。
func (g *Generator) retrieveContext(ctx context.Context, query string, userID, topicID uint) string {
	vec, err := g.embedder.Embed(ctx, query)
	if err != nil {
		logger.Warn("query embedding failed, generating without context", zap.Error(err))
		return NoContextMarker
	}

	results, err := g.store.Search(ctx, SearchQuery{
		Collection: CollectionName(userID, topicID),
		Vector:     vec,
		TopK:       g.opts.TopK,
		MinScore:   g.opts.MinScore,
		Timeout:    g.opts.SearchTimeout,
	})
	if err != nil {
		logger.Warn("context search failed, generating without context", zap.Error(err))
		return NoContextMarker
	}

	return BuildContextBlock(results)
}

// BuildContextBlock 把检索结果拼接成上下文块，每段标注来源文件。
// 空结果返回显式的无上下文标记而不是空串。
func BuildContextBlock(results []RetrievalResult) string {
	if len(results) == 0 {
		return NoContextMarker
	}

	var builder strings.Builder
	for i, r := range results {
		if i > 0 {
			builder.WriteString("\n\n")
		}
		builder.WriteString(fmt.Sprintf("[source: %s]\n%s", r.Metadata.FileName, r.Text))
	}
	return builder.String()
}

// mockNote 确定性降级笔记，内容包含原始标题与识别标记
func (g *Generator) mockNote(goal string) *models.StudyNote {
	content := fmt.Sprintf(`# %s

%s This note was generated offline without access to the language model service.

## Overview

Review your uploaded materials about %s. Key steps for self-study:

- Skim the materials once for structure, then re-read the difficult sections.
- Summarize each section in your own words.
- Write down questions you cannot answer and revisit them tomorrow.

## Next steps

Configure an API credential to enable full AI-generated notes.`, goal, MockMarker, goal)

	return &models.StudyNote{
		Title:           goal,
		Content:         content,
		ReadTimeMinutes: estimateReadTime(content),
		Fallback:        true,
	}
}

// mockQuiz 确定性降级测验
func (g *Generator) mockQuiz(title, difficulty string) *models.Quiz {
	return &models.Quiz{
		Title:      title,
		Difficulty: difficulty,
		Fallback:   true,
		Questions: []models.QuizQuestion{
			{
				Question: fmt.Sprintf("%s Which study habit helps most when learning %q?", MockMarker, title),
				Options: []string{
					"Re-reading highlights only",
					"Active recall with self-testing",
					"Listening to music while skimming",
					"Memorizing page numbers",
				},
				Answer:      "Active recall with self-testing",
				Explanation: "Retrieval practice strengthens memory more than passive review.",
			},
			{
				Question: fmt.Sprintf("%s What should you do after finishing a section about %q?", MockMarker, title),
				Options: []string{
					"Move on immediately",
					"Summarize it in your own words",
					"Delete your notes",
					"Skip the exercises",
				},
				Answer:      "Summarize it in your own words",
				Explanation: "Summarizing forces you to process the material actively.",
			},
		},
	}
}

// estimateReadTime 按200词/分钟估算阅读时间，至少1分钟
func estimateReadTime(content string) int {
	words := len(strings.Fields(content))
	minutes := int(math.Ceil(float64(words) / 200.0))
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}
