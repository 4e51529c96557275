// Package es 基于 Elasticsearch dense_vector 实现按命名空间隔离的向量索引。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"agent-brain-go/internal/config"
	"agent-brain-go/internal/model"
	"agent-brain-go/pkg/log"
)

// Client 封装向量索引的写入与删除。命名空间以 agent_id 字段落盘，
// 检索侧按该字段过滤即可保证一个 agent 的向量对其他 agent 不可见。
type Client struct {
	es         *elasticsearch.Client
	indexName  string
	dimensions int
	// lastSeq 记录本客户端观察到的最大 _seq_no，作为变更水位返回给调用方
	lastSeq atomic.Int64
}

// IndexStats 描述索引的当前状态。
type IndexStats struct {
	Dimensions            int    `json:"dimensions"`
	VectorCount           int64  `json:"vectorCount"`
	ProcessedUpToMutation string `json:"processedUpToMutation"`
}

// NewClient 初始化 Elasticsearch 客户端，索引不存在时按向量维度创建。
func NewClient(cfg config.ElasticsearchConfig, dimensions int) (*Client, error) {
	esc, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.Addresses},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	})
	if err != nil {
		return nil, err
	}

	c := &Client{es: esc, indexName: cfg.IndexName, dimensions: dimensions}
	if err := c.createIndexIfNotExists(); err != nil {
		return nil, err
	}
	return c, nil
}

// createIndexIfNotExists 检查索引是否存在，不存在则创建。
func (c *Client) createIndexIfNotExists() error {
	res, err := c.es.Indices.Exists([]string{c.indexName})
	if err != nil {
		return fmt.Errorf("检查索引是否存在时出错: %w", err)
	}
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", c.indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	// 向量之外仅保留最小元数据（source_id / chunk_id / file_name）；
	// 分块全文由关系库按 chunk id 提供，避免触碰索引的元数据体积上限
	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"vector_id": { "type": "keyword" },
				"agent_id":  { "type": "keyword" },
				"source_id": { "type": "keyword" },
				"chunk_id":  { "type": "integer" },
				"file_name": { "type": "keyword" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				}
			}
		}
	}`, c.dimensions)

	res, err = c.es.Indices.Create(
		c.indexName,
		c.es.Indices.Create.WithBody(bytes.NewReader([]byte(mapping))),
	)
	if err != nil {
		return fmt.Errorf("创建索引 '%s' 失败: %w", c.indexName, err)
	}
	if res.IsError() {
		return fmt.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", c.indexName, res.String())
	}

	log.Infof("索引 '%s' 创建成功 (dims=%d)", c.indexName, c.dimensions)
	return nil
}

// bulkItemResponse 是 bulk 响应中需要关心的最小子集。
type bulkItemResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Status int             `json:"status"`
		SeqNo  int64           `json:"_seq_no"`
		Error  json.RawMessage `json:"error"`
	} `json:"items"`
}

// Insert 批量写入向量文档，文档 ID 使用 vector_id。
// 返回本次写入的变更水位（最大 _seq_no）。
func (c *Client) Insert(ctx context.Context, docs []model.VectorDocument) (string, error) {
	if len(docs) == 0 {
		return c.mutationID(), nil
	}

	var body bytes.Buffer
	for i := range docs {
		meta := fmt.Sprintf(`{"index":{"_id":%q}}`, docs[i].VectorID)
		body.WriteString(meta)
		body.WriteByte('\n')
		docBytes, err := json.Marshal(docs[i])
		if err != nil {
			return "", err
		}
		body.Write(docBytes)
		body.WriteByte('\n')
	}

	return c.doBulk(ctx, &body, "写入")
}

// DeleteByIDs 按 vector id 批量删除，返回变更水位。
func (c *Client) DeleteByIDs(ctx context.Context, ids []string) (string, error) {
	if len(ids) == 0 {
		return c.mutationID(), nil
	}

	var body bytes.Buffer
	for _, id := range ids {
		body.WriteString(fmt.Sprintf(`{"delete":{"_id":%q}}`, id))
		body.WriteByte('\n')
	}

	return c.doBulk(ctx, &body, "删除")
}

// doBulk 执行 bulk 请求并解析响应中的 _seq_no 水位。
func (c *Client) doBulk(ctx context.Context, body *bytes.Buffer, action string) (string, error) {
	req := esapi.BulkRequest{
		Index:   c.indexName,
		Body:    body,
		Refresh: "wait_for",
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return "", fmt.Errorf("bulk %s请求失败: %w", action, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return "", fmt.Errorf("bulk %s时 Elasticsearch 返回错误: %s", action, res.String())
	}

	var parsed bulkItemResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("解析 bulk 响应失败: %w", err)
	}

	for _, item := range parsed.Items {
		for _, detail := range item {
			// 删除不存在的文档返回 404，对幂等清理而言不算错误
			if len(detail.Error) > 0 && detail.Status != http.StatusNotFound {
				return "", fmt.Errorf("bulk %s部分条目失败: %s", action, string(detail.Error))
			}
			if detail.SeqNo > c.lastSeq.Load() {
				c.lastSeq.Store(detail.SeqNo)
			}
		}
	}
	if parsed.Errors {
		log.Warnf("[VectorIndex] bulk %s响应包含被忽略的 404 条目", action)
	}

	return c.mutationID(), nil
}

// Describe 返回索引维度、向量总数和本客户端观察到的变更水位。
func (c *Client) Describe(ctx context.Context) (*IndexStats, error) {
	res, err := c.es.Count(
		c.es.Count.WithContext(ctx),
		c.es.Count.WithIndex(c.indexName),
	)
	if err != nil {
		return nil, fmt.Errorf("统计向量数量失败: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, errors.New("统计向量数量时 Elasticsearch 返回错误")
	}

	var countResp struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&countResp); err != nil {
		return nil, fmt.Errorf("解析 count 响应失败: %w", err)
	}

	return &IndexStats{
		Dimensions:            c.dimensions,
		VectorCount:           countResp.Count,
		ProcessedUpToMutation: c.mutationID(),
	}, nil
}

func (c *Client) mutationID() string {
	return strconv.FormatInt(c.lastSeq.Load(), 10)
}
