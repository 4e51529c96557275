package pipeline

import (
	"errors"
	"fmt"
)

// ErrSourceBusy 表示该知识源已有一次入库在进行中。
var ErrSourceBusy = errors.New("知识源正在入库中")

// ErrEmptyDocument 表示文档解析后没有任何文本内容。
var ErrEmptyDocument = errors.New("文档内容为空")

// ParseError 表示文档本身无法被解析（格式损坏或不受支持）。
// 这是输入问题而非瞬时故障，不可重试。
type ParseError struct {
	Mime string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("文档解析失败 (mime=%s): %v", e.Mime, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
