package knowledge

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/unidoc/unioffice/document"
	"github.com/unidoc/unioffice/presentation"
	"github.com/unidoc/unipdf/v3/extractor"
	pdfmodel "github.com/unidoc/unipdf/v3/model"
)

// 资料文件类型
const (
	FileKindPDF    = "pdf"
	FileKindImage  = "image"
	FileKindSlides = "slides"
	FileKindDoc    = "doc"
	FileKindText   = "text"
)

// FileParser 按文件类型提取纯文本
type FileParser interface {
	Parse(reader io.Reader, filename string) (string, error)
	Supports(kind string) bool
}

// TextParser 纯文本/Markdown解析器
type TextParser struct{}

func (p *TextParser) Supports(kind string) bool {
	return kind == FileKindText
}

func (p *TextParser) Parse(reader io.Reader, filename string) (string, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", ErrExtractionFailed, filename, err)
	}
	return string(content), nil
}

// PDFParser PDF文件解析器
type PDFParser struct{}

func (p *PDFParser) Supports(kind string) bool {
	return kind == FileKindPDF
}

func (p *PDFParser) Parse(reader io.Reader, filename string) (string, error) {
	pdfBytes, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", ErrExtractionFailed, filename, err)
	}

	pdfReader, err := pdfmodel.NewPdfReader(bytes.NewReader(pdfBytes))
	if err != nil {
		return "", fmt.Errorf("%w: parse pdf %s: %v", ErrExtractionFailed, filename, err)
	}

	numPages, err := pdfReader.GetNumPages()
	if err != nil {
		return "", fmt.Errorf("%w: pdf page count %s: %v", ErrExtractionFailed, filename, err)
	}

	var textBuilder strings.Builder
	for i := 1; i <= numPages; i++ {
		page, err := pdfReader.GetPage(i)
		if err != nil {
			continue
		}

		ex, err := extractor.New(page)
		if err != nil {
			continue
		}

		text, err := ex.ExtractText()
		if err != nil {
			continue
		}

		textBuilder.WriteString(text)
		textBuilder.WriteString("\n")
	}

	return textBuilder.String(), nil
}

// WordParser Word文档解析器（仅.docx）
type WordParser struct{}

func (p *WordParser) Supports(kind string) bool {
	return kind == FileKindDoc
}

func (p *WordParser) Parse(reader io.Reader, filename string) (string, error) {
	docBytes, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", ErrExtractionFailed, filename, err)
	}

	readerAt := bytes.NewReader(docBytes)
	doc, err := document.Read(readerAt, int64(len(docBytes)))
	if err != nil {
		return "", fmt.Errorf("%w: parse docx %s: %v", ErrExtractionFailed, filename, err)
	}
	defer doc.Close()

	var textBuilder strings.Builder
	for _, para := range doc.Paragraphs() {
		for _, run := range para.Runs() {
			textBuilder.WriteString(run.Text())
		}
		textBuilder.WriteString("\n")
	}

	return textBuilder.String(), nil
}

// SlidesParser 幻灯片解析器（仅.pptx）
type SlidesParser struct{}

func (p *SlidesParser) Supports(kind string) bool {
	return kind == FileKindSlides
}

func (p *SlidesParser) Parse(reader io.Reader, filename string) (string, error) {
	pptBytes, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", ErrExtractionFailed, filename, err)
	}

	readerAt := bytes.NewReader(pptBytes)
	ppt, err := presentation.Read(readerAt, int64(len(pptBytes)))
	if err != nil {
		return "", fmt.Errorf("%w: parse pptx %s: %v", ErrExtractionFailed, filename, err)
	}
	defer ppt.Close()

	return ppt.ExtractText().Text(), nil
}

// ImageParser 图片解析器。没有接入OCR服务，退化为提取嵌入文本：
// PNG的tEXt/iTXt块、JPEG的COM注释段。
type ImageParser struct{}

func (p *ImageParser) Supports(kind string) bool {
	return kind == FileKindImage
}

var (
	pngSignature  = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}
	jpegSignature = []byte{0xff, 0xd8}
)

func (p *ImageParser) Parse(reader io.Reader, filename string) (string, error) {
	imgBytes, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", ErrExtractionFailed, filename, err)
	}

	switch {
	case bytes.HasPrefix(imgBytes, pngSignature):
		return extractPNGText(imgBytes), nil
	case bytes.HasPrefix(imgBytes, jpegSignature):
		return extractJPEGComments(imgBytes), nil
	default:
		return "", fmt.Errorf("%w: %s is not a recognized raster image", ErrExtractionFailed, filename)
	}
}

// extractPNGText 遍历PNG块，收集tEXt与未压缩iTXt的文本内容
func extractPNGText(data []byte) string {
	var texts []string

	pos := len(pngSignature)
	for pos+8 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		chunkType := string(data[pos+4 : pos+8])
		dataStart := pos + 8
		dataEnd := dataStart + length
		if length < 0 || dataEnd > len(data) {
			break
		}

		payload := data[dataStart:dataEnd]
		switch chunkType {
		case "tEXt":
			// 格式: keyword\0text
			if idx := bytes.IndexByte(payload, 0); idx >= 0 && idx+1 < len(payload) {
				texts = append(texts, string(payload[idx+1:]))
			}
		case "iTXt":
			// 格式: keyword\0compFlag compMethod lang\0translated\0text
			if idx := bytes.IndexByte(payload, 0); idx >= 0 && idx+3 <= len(payload) {
				compressed := payload[idx+1] != 0
				rest := payload[idx+3:]
				if langEnd := bytes.IndexByte(rest, 0); langEnd >= 0 {
					rest = rest[langEnd+1:]
					if transEnd := bytes.IndexByte(rest, 0); transEnd >= 0 && !compressed {
						texts = append(texts, string(rest[transEnd+1:]))
					}
				}
			}
		case "IEND":
			return strings.Join(texts, "\n")
		}

		pos = dataEnd + 4 // 跳过CRC
	}

	return strings.Join(texts, "\n")
}

// extractJPEGComments 遍历JPEG段，收集COM(0xFE)注释
func extractJPEGComments(data []byte) string {
	var texts []string

	pos := 2
	for pos+4 <= len(data) {
		if data[pos] != 0xff {
			break
		}
		marker := data[pos+1]
		// SOS之后是压缩数据流，不再有注释段
		if marker == 0xda || marker == 0xd9 {
			break
		}
		// 独立标记没有长度字段
		if marker == 0x01 || (marker >= 0xd0 && marker <= 0xd7) {
			pos += 2
			continue
		}
		segLen := int(binary.BigEndian.Uint16(data[pos+2 : pos+4]))
		if segLen < 2 || pos+2+segLen > len(data) {
			break
		}
		if marker == 0xfe {
			texts = append(texts, string(data[pos+4:pos+2+segLen]))
		}
		pos += 2 + segLen
	}

	return strings.Join(texts, "\n")
}

// Extractor 按文件类型分派解析器
type Extractor struct {
	parsers []FileParser
}

// NewExtractor 创建文本提取器
func NewExtractor() *Extractor {
	return &Extractor{
		parsers: []FileParser{
			&PDFParser{},
			&WordParser{},
			&SlidesParser{},
			&ImageParser{},
			&TextParser{},
		},
	}
}

// ExtractFile 从已存储的文件中提取纯文本。
// 类型无法识别返回ErrUnsupportedFormat，文件不可读返回ErrExtractionFailed。
func (e *Extractor) ExtractFile(path, kind string) (string, error) {
	parser := e.parserFor(kind)
	if parser == nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, kind)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %v", ErrExtractionFailed, path, err)
	}
	defer f.Close()

	return parser.Parse(f, path)
}

// Extract 从reader中提取纯文本（供已经打开文件流的调用方使用）
func (e *Extractor) Extract(reader io.Reader, filename, kind string) (string, error) {
	parser := e.parserFor(kind)
	if parser == nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, kind)
	}
	return parser.Parse(reader, filename)
}

func (e *Extractor) parserFor(kind string) FileParser {
	kind = strings.ToLower(strings.TrimSpace(kind))
	for _, parser := range e.parsers {
		if parser.Supports(kind) {
			return parser
		}
	}
	return nil
}

// SupportedKinds 返回支持的文件类型
func (e *Extractor) SupportedKinds() []string {
	return []string{FileKindPDF, FileKindDoc, FileKindSlides, FileKindImage, FileKindText}
}
