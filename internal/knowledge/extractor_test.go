package knowledge

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractorUnsupportedKind(t *testing.T) {
	extractor := NewExtractor()

	_, err := extractor.ExtractFile("/tmp/whatever", "spreadsheet")
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestExtractorMissingFile(t *testing.T) {
	extractor := NewExtractor()

	_, err := extractor.ExtractFile("/nonexistent/file.txt", FileKindText)
	assert.True(t, errors.Is(err, ErrExtractionFailed))
}

func TestExtractorPlainText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("# Notes\nsome content"), 0644))

	extractor := NewExtractor()
	text, err := extractor.ExtractFile(path, FileKindText)
	require.NoError(t, err)
	assert.Equal(t, "# Notes\nsome content", text)
}

func TestExtractorKindCaseInsensitive(t *testing.T) {
	extractor := NewExtractor()

	_, err := extractor.Extract(strings.NewReader("hello"), "a.txt", " TEXT ")
	assert.NoError(t, err)
}

// buildPNGWithText 构造带tEXt块的最小PNG
func buildPNGWithText(keyword, text string) []byte {
	var buf bytes.Buffer
	buf.Write(pngSignature)

	payload := append(append([]byte(keyword), 0), []byte(text)...)
	writeChunk := func(chunkType string, data []byte) {
		var length [4]byte
		binary.BigEndian.PutUint32(length[:], uint32(len(data)))
		buf.Write(length[:])
		buf.WriteString(chunkType)
		buf.Write(data)
		buf.Write([]byte{0, 0, 0, 0}) // CRC未校验
	}
	writeChunk("tEXt", payload)
	writeChunk("IEND", nil)
	return buf.Bytes()
}

func TestImageParserPNGEmbeddedText(t *testing.T) {
	parser := &ImageParser{}

	data := buildPNGWithText("Description", "lecture diagram about mitosis")
	text, err := parser.Parse(bytes.NewReader(data), "slide.png")
	require.NoError(t, err)
	assert.Equal(t, "lecture diagram about mitosis", text)
}

func TestImageParserJPEGComment(t *testing.T) {
	parser := &ImageParser{}

	comment := []byte("scanned page of chapter 3")
	var buf bytes.Buffer
	buf.Write(jpegSignature)
	buf.WriteByte(0xff)
	buf.WriteByte(0xfe)
	var segLen [2]byte
	binary.BigEndian.PutUint16(segLen[:], uint16(len(comment)+2))
	buf.Write(segLen[:])
	buf.Write(comment)
	buf.Write([]byte{0xff, 0xd9})

	text, err := parser.Parse(bytes.NewReader(buf.Bytes()), "scan.jpg")
	require.NoError(t, err)
	assert.Equal(t, "scanned page of chapter 3", text)
}

func TestImageParserRejectsUnknownFormat(t *testing.T) {
	parser := &ImageParser{}

	_, err := parser.Parse(strings.NewReader("definitely not an image"), "bad.png")
	assert.True(t, errors.Is(err, ErrExtractionFailed))
}

func TestImageParserNoEmbeddedText(t *testing.T) {
	parser := &ImageParser{}

	// 合法PNG但没有文本块：空文本，非错误（上游按无内容处理）
	var buf bytes.Buffer
	buf.Write(pngSignature)
	var length [4]byte
	buf.Write(length[:])
	buf.WriteString("IEND")
	buf.Write([]byte{0, 0, 0, 0})

	text, err := parser.Parse(bytes.NewReader(buf.Bytes()), "plain.png")
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestSupportedKinds(t *testing.T) {
	kinds := NewExtractor().SupportedKinds()
	assert.ElementsMatch(t, []string{FileKindPDF, FileKindDoc, FileKindSlides, FileKindImage, FileKindText}, kinds)
}
