package knowledge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkerSplitShortText(t *testing.T) {
	chunker := NewChunker(800, 120)

	// 短于窗口的文本返回单块，内容等于全文
	chunks := chunker.Split("Newton's first law describes inertia.")
	require.Len(t, chunks, 1)
	assert.Equal(t, "Newton's first law describes inertia.", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, 0, chunks[0].StartOffset)
}

func TestChunkerSplitEmptyText(t *testing.T) {
	chunker := NewChunker(800, 120)

	assert.Nil(t, chunker.Split(""))
	assert.Nil(t, chunker.Split("   \n\t  "))
}

func TestChunkerSplitOverlap(t *testing.T) {
	chunker := NewChunker(100, 20)

	text := strings.Repeat("abcdefghij", 30) // 300 runes
	chunks := chunker.Split(text)
	require.True(t, len(chunks) > 1)

	// 相邻窗口步长 = size - overlap
	for i := 1; i < len(chunks); i++ {
		assert.Equal(t, 80, chunks[i].StartOffset-chunks[i-1].StartOffset)
	}
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
		assert.LessOrEqual(t, len([]rune(chunk.Text)), 100)
	}
}

func TestChunkerSplitUnicode(t *testing.T) {
	chunker := NewChunker(10, 2)

	// 窗口按rune切分，多字节字符不会被劈开
	text := strings.Repeat("物理学习笔记内容", 5)
	chunks := chunker.Split(text)
	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.True(t, len([]rune(chunk.Text)) <= 10)
	}
}

func TestChunkerNormalizesWhitespace(t *testing.T) {
	chunker := NewChunker(800, 120)

	chunks := chunker.Split("hello \n\n  world\t!")
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello world !", chunks[0].Text)
}

func TestNewChunkerClampsBadValues(t *testing.T) {
	chunker := NewChunker(-1, 5000)
	assert.Equal(t, 800, chunker.chunkSize)
	assert.Equal(t, 200, chunker.chunkOverlap)

	chunker = NewChunker(100, -3)
	assert.Equal(t, 0, chunker.chunkOverlap)
}
