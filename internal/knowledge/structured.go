package knowledge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/studyhub/backend-go/internal/models"
)

// extractJSON 从模型原始输出中提取JSON。模型经常把结构包在
// markdown代码栅栏里，先尝试严格解析，失败后再剥离栅栏重试。
func extractJSON(raw string, v interface{}) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fmt.Errorf("%w: empty output", ErrMalformedOutput)
	}

	if err := json.Unmarshal([]byte(trimmed), v); err == nil {
		return nil
	}

	if fenced := stripCodeFence(trimmed); fenced != "" {
		if err := json.Unmarshal([]byte(fenced), v); err == nil {
			return nil
		}
	}

	// 最后一搏：截取首个括号到末个括号之间的片段
	if candidate := sliceBrackets(trimmed); candidate != "" {
		if err := json.Unmarshal([]byte(candidate), v); err == nil {
			return nil
		}
	}

	return fmt.Errorf("%w: not valid json", ErrMalformedOutput)
}

// stripCodeFence 剥离```json ... ```栅栏，返回内部内容
func stripCodeFence(s string) string {
	start := strings.Index(s, "```")
	if start < 0 {
		return ""
	}
	rest := s[start+3:]
	// 跳过语言标记行（json、JSON等）
	if newline := strings.IndexByte(rest, '\n'); newline >= 0 {
		firstLine := strings.TrimSpace(rest[:newline])
		if firstLine == "" || strings.EqualFold(firstLine, "json") {
			rest = rest[newline+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(rest[:end])
}

func sliceBrackets(s string) string {
	for _, pair := range [][2]byte{{'[', ']'}, {'{', '}'}} {
		start := strings.IndexByte(s, pair[0])
		end := strings.LastIndexByte(s, pair[1])
		if start >= 0 && end > start {
			return s[start : end+1]
		}
	}
	return ""
}

// parseQuizQuestions 解析并校验题目列表。每题必须有题干、选项、答案，
// 任何一题不合法则整体视为格式错误（由调用方降级）。
func parseQuizQuestions(raw string) ([]models.QuizQuestion, error) {
	var questions []models.QuizQuestion
	if err := extractJSON(raw, &questions); err != nil {
		// 兼容 {"questions": [...]} 包装
		var wrapper struct {
			Questions []models.QuizQuestion `json:"questions"`
		}
		if wrapErr := extractJSON(raw, &wrapper); wrapErr != nil || len(wrapper.Questions) == 0 {
			return nil, err
		}
		questions = wrapper.Questions
	}

	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: no questions", ErrMalformedOutput)
	}
	for i, q := range questions {
		if strings.TrimSpace(q.Question) == "" {
			return nil, fmt.Errorf("%w: question %d has no text", ErrMalformedOutput, i)
		}
		if len(q.Options) < 2 {
			return nil, fmt.Errorf("%w: question %d has %d options", ErrMalformedOutput, i, len(q.Options))
		}
		if strings.TrimSpace(q.Answer) == "" {
			return nil, fmt.Errorf("%w: question %d has no answer", ErrMalformedOutput, i)
		}
		// 正确答案必须是选项之一
		found := false
		for _, opt := range q.Options {
			if opt == q.Answer {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: question %d answer is not among its options", ErrMalformedOutput, i)
		}
	}

	return questions, nil
}
