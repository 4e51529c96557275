package pipeline

import (
	"context"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"agent-brain-go/pkg/log"
)

// 解析结果的内容类型，决定分块时的结构边界识别方式。
const (
	ContentTypeText     = "text"
	ContentTypeMarkdown = "markdown"
)

// DocumentConverter 是文档转 Markdown 服务的窄接口，pkg/tika 的客户端实现它。
type DocumentConverter interface {
	ConvertToMarkdown(ctx context.Context, data []byte, mimeType string) (string, int, error)
}

// ParsedDocument 是解析阶段的临时产物，立即交给分块器消费，不单独持久化。
type ParsedDocument struct {
	Content     string
	ContentType string
	Length      int
	TokenCount  int
}

// Parser 将任意受支持 mime 类型的原始字节归一化为纯文本/Markdown。
type Parser struct {
	converter DocumentConverter
}

// NewParser 创建一个新的 Parser 实例。
func NewParser(converter DocumentConverter) *Parser {
	return &Parser{converter: converter}
}

// convertibleMimeTypes 列出需要交给转换服务的二进制/结构化格式。
var convertibleMimeTypes = map[string]bool{
	"application/pdf":       true,
	"application/msword":    true,
	"application/rtf":       true,
	"text/html":             true,
	"application/xhtml+xml": true,
	"text/xml":              true,
	"application/xml":       true,
	"text/csv":              true,
}

var convertibleMimePrefixes = []string{
	"application/vnd.openxmlformats-officedocument.",
	"application/vnd.ms-",
	"application/vnd.oasis.opendocument.",
	"image/",
}

// Parse 将原始字节解析为文本。
// 纯文本与 Markdown 直接透传；可转换的二进制格式交给转换服务，
// 转换失败视为输入本身的问题（不可重试）；未知 mime 按原始文本兜底。
func (p *Parser) Parse(ctx context.Context, data []byte, mimeType, fileName string) (*ParsedDocument, error) {
	normalized := normalizeMime(mimeType, fileName)

	switch {
	case isPlainText(normalized):
		return p.passthrough(data, contentTypeFor(normalized)), nil

	case isConvertible(normalized):
		log.Infof("[Parser] 交给转换服务处理, mime: %s, file: %s", normalized, fileName)
		markdown, tokens, err := p.converter.ConvertToMarkdown(ctx, data, normalized)
		if err != nil {
			return nil, &ParseError{Mime: normalized, Err: err}
		}
		return &ParsedDocument{
			Content:     markdown,
			ContentType: ContentTypeMarkdown,
			Length:      utf8.RuneCountInString(markdown),
			TokenCount:  tokens,
		}, nil

	default:
		// 未知 mime：按原始文本兜底
		log.Warnf("[Parser] 未识别的 mime '%s'，按原始文本处理, file: %s", normalized, fileName)
		return p.passthrough(data, ContentTypeText), nil
	}
}

func (p *Parser) passthrough(data []byte, contentType string) *ParsedDocument {
	content := string(data)
	return &ParsedDocument{
		Content:     content,
		ContentType: contentType,
		Length:      utf8.RuneCountInString(content),
		TokenCount:  (utf8.RuneCountInString(content) + 3) / 4,
	}
}

// normalizeMime 去掉参数部分，必要时根据文件扩展名推断。
func normalizeMime(mimeType, fileName string) string {
	mimeType = strings.TrimSpace(strings.ToLower(mimeType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType != "" {
		return mimeType
	}
	if ext := filepath.Ext(fileName); ext != "" {
		if detected := mime.TypeByExtension(ext); detected != "" {
			return normalizeMime(detected, "")
		}
	}
	return "application/octet-stream"
}

func isPlainText(mimeType string) bool {
	switch mimeType {
	case "text/plain", "text/markdown", "text/x-markdown":
		return true
	}
	return false
}

func isConvertible(mimeType string) bool {
	if convertibleMimeTypes[mimeType] {
		return true
	}
	for _, prefix := range convertibleMimePrefixes {
		if strings.HasPrefix(mimeType, prefix) {
			return true
		}
	}
	return false
}

func contentTypeFor(mimeType string) string {
	if mimeType == "text/markdown" || mimeType == "text/x-markdown" {
		return ContentTypeMarkdown
	}
	return ContentTypeText
}
