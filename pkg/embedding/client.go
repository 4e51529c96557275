// Package embedding provides a client for interacting with embedding models.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"agent-brain-go/internal/config"
	"agent-brain-go/pkg/log"
)

// MaxBatchSize 是单次 Embedding 调用允许的最大文本条数。
const MaxBatchSize = 50

// Client defines the interface for an embedding client.
type Client interface {
	// EmbedBatch 为一批文本生成向量，输出顺序与输入严格一致。
	// len(texts) 不得超过 MaxBatchSize；返回数量与输入不一致是集成错误。
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions 返回模型约定的向量维度。
	Dimensions() int
}

// tokenCache 持有换取到的短期访问令牌。作为客户端实例字段存在，
// 不使用包级可变状态，替身实现可以整体替换客户端。
type tokenCache struct {
	mu        sync.Mutex
	value     string
	expiresAt time.Time
}

type openAICompatibleClient struct {
	cfg    config.EmbeddingConfig
	client *http.Client
	token  tokenCache
}

// NewClient creates a new embedding client based on the config.
func NewClient(cfg config.EmbeddingConfig) Client {
	return &openAICompatibleClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (c *openAICompatibleClient) Dimensions() int {
	return c.cfg.Dimensions
}

// EmbedBatch calls the OpenAI-compatible API for a batch of texts.
func (c *openAICompatibleClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > MaxBatchSize {
		return nil, fmt.Errorf("embedding 批大小 %d 超过上限 %d", len(texts), MaxBatchSize)
	}

	log.Infof("[EmbeddingClient] 开始调用 Embedding API, model: %s, batch: %d", c.cfg.Model, len(texts))
	reqBody := embeddingRequest{
		Model:      c.cfg.Model,
		Input:      texts,
		Dimensions: c.cfg.Dimensions,
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/embeddings", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}

	bearer, err := c.bearerToken(ctx)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := c.client.Do(req)
	if err != nil {
		log.Errorf("[EmbeddingClient] 调用 Embedding API 失败, error: %v", err)
		return nil, fmt.Errorf("failed to call embedding api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Errorf("[EmbeddingClient] Embedding API 返回非 200 状态码: %s", resp.Status)
		return nil, fmt.Errorf("embedding api returned non-200 status: %s", resp.Status)
	}

	var embeddingResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingResp); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}

	if len(embeddingResp.Data) != len(texts) {
		// 数量不一致说明与服务端的契约被破坏，不可重试
		return nil, fmt.Errorf("embedding 数量不匹配: 期望 %d, 实际 %d", len(texts), len(embeddingResp.Data))
	}

	// 按 index 还原顺序，保证输出向量与输入文本逐一对应
	vectors := make([][]float32, len(texts))
	for _, d := range embeddingResp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("embedding 响应包含越界的 index: %d", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("embedding 响应缺少第 %d 条向量", i)
		}
	}

	log.Infof("[EmbeddingClient] 成功获取 %d 条向量, 维度: %d", len(vectors), len(vectors[0]))
	return vectors, nil
}

// bearerToken 返回可用的 Bearer 令牌。
// 未配置 TokenURL 时直接使用静态 APIKey；配置后用 APIKey 换取短期令牌，
// 缓存在实例内并在过期前 30 秒刷新。
func (c *openAICompatibleClient) bearerToken(ctx context.Context) (string, error) {
	if c.cfg.TokenURL == "" {
		return c.cfg.APIKey, nil
	}

	c.token.mu.Lock()
	defer c.token.mu.Unlock()

	if c.token.value != "" && time.Now().Before(c.token.expiresAt.Add(-30*time.Second)) {
		return c.token.value, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, nil)
	if err != nil {
		return "", fmt.Errorf("创建令牌请求失败: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("换取访问令牌失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("令牌服务返回非 200 状态码: %s", resp.Status)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("解析令牌响应失败: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("令牌服务返回了空令牌")
	}

	c.token.value = tr.AccessToken
	c.token.expiresAt = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	log.Infof("[EmbeddingClient] 访问令牌已刷新, 有效期 %d 秒", tr.ExpiresIn)
	return c.token.value, nil
}
