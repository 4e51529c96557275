// Package tika 提供了一个与 Apache Tika 服务器交互的文档转换客户端。
package tika

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"unicode/utf8"

	"agent-brain-go/internal/config"
)

// Client 是 Tika 服务器的客户端，把二进制文档转换为纯文本/Markdown。
type Client struct {
	serverURL  string
	httpClient *http.Client
}

// NewClient 创建一个新的 Tika 客户端实例。
func NewClient(cfg config.TikaConfig) *Client {
	return &Client{
		serverURL:  cfg.ServerURL,
		httpClient: &http.Client{},
	}
}

// ConvertToMarkdown 将文档字节流发送给 Tika，返回提取出的文本和粗略的 token 估计。
// Tika 对不支持或损坏的输入返回非 200，调用方应将其视为不可重试的解析失败。
func (c *Client) ConvertToMarkdown(ctx context.Context, data []byte, mimeType string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.serverURL+"/tika", bytes.NewReader(data))
	if err != nil {
		return "", 0, fmt.Errorf("创建 Tika 请求失败: %w", err)
	}

	req.Header.Set("Accept", "text/plain")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", mimeType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("调用 Tika 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", 0, fmt.Errorf("Tika 返回错误 [%d]: %s", resp.StatusCode, string(body))
	}

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, resp.Body); err != nil {
		return "", 0, fmt.Errorf("读取 Tika 响应失败: %w", err)
	}

	text := buf.String()
	return text, estimateTokens(text), nil
}

// estimateTokens 按约 4 字符/token 估算，仅用于元数据展示。
func estimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}
