package knowledge

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubCompletionClient 可编程的生成客户端，记录每次调用
type stubCompletionClient struct {
	reply    string
	err      error
	ready    bool
	calls    int
	messages []Message
}

func (c *stubCompletionClient) Complete(ctx context.Context, messages []Message, opts CompletionOptions) (string, error) {
	c.calls++
	c.messages = messages
	if c.err != nil {
		return "", c.err
	}
	return c.reply, nil
}

func (c *stubCompletionClient) Ready() bool {
	return c.ready
}

func newTestGenerator(completion CompletionClient) *Generator {
	return NewGenerator(NewMockEmbedder(32), NewMemoryVectorStore(), completion, GeneratorOptions{
		TopK:            10,
		MinScore:        0.6,
		SearchTimeout:   time.Second,
		GenerateTimeout: time.Second,
	})
}

func TestGenerateNoteFallbackWithoutCredential(t *testing.T) {
	stub := &stubCompletionClient{ready: false}
	gen := newTestGenerator(stub)

	note, err := gen.GenerateNote(context.Background(), "Newton's Laws", 1, 1)
	require.NoError(t, err)
	require.NotNil(t, note)

	// 降级内容必须包含原始标题与识别标记，且不触发任何外部调用
	assert.True(t, note.Fallback)
	assert.Contains(t, note.Content, "Newton's Laws")
	assert.Contains(t, note.Content, MockMarker)
	assert.GreaterOrEqual(t, note.ReadTimeMinutes, 1)
	assert.Equal(t, 0, stub.calls)
}

func TestGenerateNoteFallbackDeterministic(t *testing.T) {
	gen := newTestGenerator(&stubCompletionClient{ready: false})

	first, err := gen.GenerateNote(context.Background(), "Photosynthesis", 1, 1)
	require.NoError(t, err)
	second, err := gen.GenerateNote(context.Background(), "Photosynthesis", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, first.Content, second.Content)
}

func TestGenerateNoteLive(t *testing.T) {
	stub := &stubCompletionClient{ready: true, reply: "# Notes\n\nForce equals mass times acceleration."}
	gen := newTestGenerator(stub)

	note, err := gen.GenerateNote(context.Background(), "Dynamics", 1, 1)
	require.NoError(t, err)
	assert.False(t, note.Fallback)
	assert.Equal(t, stub.reply, note.Content)
	assert.Equal(t, 1, stub.calls)

	// 检索无命中时提示词带显式标记而不是空上下文
	require.Len(t, stub.messages, 2)
	assert.Equal(t, RoleSystem, stub.messages[0].Role)
	assert.Contains(t, stub.messages[1].Content, NoContextMarker)
	assert.Contains(t, stub.messages[1].Content, "Dynamics")
}

func TestGenerateNoteCompletionFailureFallsBack(t *testing.T) {
	stub := &stubCompletionClient{ready: true, err: ErrCompletionUnavailable}
	gen := newTestGenerator(stub)

	note, err := gen.GenerateNote(context.Background(), "Optics", 1, 1)
	require.NoError(t, err)
	assert.True(t, note.Fallback)
	assert.Contains(t, note.Content, "Optics")
}

func TestGenerateNoteInvalidTenant(t *testing.T) {
	gen := newTestGenerator(&stubCompletionClient{})

	_, err := gen.GenerateNote(context.Background(), "anything", 0, 1)
	assert.True(t, errors.Is(err, ErrInvalidTenant))
}

func TestGenerateQuizParsesModelOutput(t *testing.T) {
	stub := &stubCompletionClient{ready: true, reply: "```json\n" + validQuizJSON + "\n```"}
	gen := newTestGenerator(stub)

	quiz, err := gen.GenerateQuiz(context.Background(), "Mechanics", "hard", 1, 1)
	require.NoError(t, err)
	assert.False(t, quiz.Fallback)
	assert.Equal(t, "Mechanics", quiz.Title)
	assert.Equal(t, "hard", quiz.Difficulty)
	assert.Len(t, quiz.Questions, 2)
}

func TestGenerateQuizMalformedOutputFallsBack(t *testing.T) {
	stub := &stubCompletionClient{ready: true, reply: "Sorry, I cannot help with that."}
	gen := newTestGenerator(stub)

	quiz, err := gen.GenerateQuiz(context.Background(), "Mechanics", "", 1, 1)
	require.NoError(t, err)
	assert.True(t, quiz.Fallback)
	assert.Equal(t, "medium", quiz.Difficulty)
	require.NotEmpty(t, quiz.Questions)
	for _, q := range quiz.Questions {
		assert.NotEmpty(t, q.Question)
		assert.True(t, len(q.Options) >= 2)
		assert.Contains(t, q.Options, q.Answer)
	}
}

func TestGenerateQuizFallbackWithoutCredential(t *testing.T) {
	stub := &stubCompletionClient{ready: false}
	gen := newTestGenerator(stub)

	quiz, err := gen.GenerateQuiz(context.Background(), "Algebra", "easy", 1, 1)
	require.NoError(t, err)
	assert.True(t, quiz.Fallback)
	assert.Equal(t, 0, stub.calls)
	assert.True(t, strings.Contains(quiz.Questions[0].Question, MockMarker))
}

func TestEstimateReadTime(t *testing.T) {
	assert.Equal(t, 1, estimateReadTime(""))
	assert.Equal(t, 1, estimateReadTime("short note"))
	assert.Equal(t, 1, estimateReadTime(strings.Repeat("word ", 200)))
	assert.Equal(t, 2, estimateReadTime(strings.Repeat("word ", 201)))
	assert.Equal(t, 3, estimateReadTime(strings.Repeat("word ", 450)))
}

func TestBuildContextBlock(t *testing.T) {
	assert.Equal(t, NoContextMarker, BuildContextBlock(nil))

	block := BuildContextBlock([]RetrievalResult{
		{Text: "chunk one", Metadata: ChunkMetadata{FileName: "physics.pdf"}},
		{Text: "chunk two", Metadata: ChunkMetadata{FileName: "notes.txt"}},
	})
	assert.Contains(t, block, "[source: physics.pdf]")
	assert.Contains(t, block, "chunk one")
	assert.Contains(t, block, "[source: notes.txt]")
	assert.Contains(t, block, "chunk two")
}
