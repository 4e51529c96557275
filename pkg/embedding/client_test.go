package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-brain-go/internal/config"
	"agent-brain-go/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init("error", "console", "")
	m.Run()
}

// newEmbeddingServer 返回一个按请求顺序回传向量的假 Embedding 服务。
func newEmbeddingServer(t *testing.T, gotReq *embeddingRequest, gotAuth *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/embeddings", r.URL.Path)
		if gotAuth != nil {
			*gotAuth = r.Header.Get("Authorization")
		}

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if gotReq != nil {
			*gotReq = req
		}

		resp := embeddingResponse{}
		for i := range req.Input {
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			}{Index: i, Embedding: []float32{float32(i), 1, 2, 3}})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func testConfig(baseURL string) config.EmbeddingConfig {
	return config.EmbeddingConfig{
		APIKey:     "test-key",
		BaseURL:    baseURL,
		Model:      "text-embedding-3-small",
		Dimensions: 4,
	}
}

func TestEmbedBatch_RequestShape(t *testing.T) {
	var gotReq embeddingRequest
	var gotAuth string
	srv := newEmbeddingServer(t, &gotReq, &gotAuth)
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	vectors, err := c.EmbedBatch(context.Background(), []string{"第一块", "第二块"})

	require.NoError(t, err)
	assert.Equal(t, "text-embedding-3-small", gotReq.Model)
	assert.Equal(t, []string{"第一块", "第二块"}, gotReq.Input)
	assert.Equal(t, 4, gotReq.Dimensions)
	assert.Equal(t, "Bearer test-key", gotAuth)

	require.Len(t, vectors, 2)
	assert.Equal(t, float32(0), vectors[0][0])
	assert.Equal(t, float32(1), vectors[1][0])
}

func TestEmbedBatch_ReordersByIndex(t *testing.T) {
	// 服务端按逆序回传 index，客户端必须按 index 还原与输入一致的顺序
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := embeddingResponse{}
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			}{Index: i, Embedding: []float32{float32(i), 0, 0, 0}})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	vectors, err := c.EmbedBatch(context.Background(), []string{"a", "b", "c"})

	require.NoError(t, err)
	require.Len(t, vectors, 3)
	for i, v := range vectors {
		assert.Equal(t, float32(i), v[0], "第 %d 条向量的顺序不正确", i)
	}
}

func TestEmbedBatch_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := embeddingResponse{}
		resp.Data = append(resp.Data, struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}{Index: 0, Embedding: []float32{1, 2, 3, 4}})
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	_, err := c.EmbedBatch(context.Background(), []string{"a", "b"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "数量不匹配")
}

func TestEmbedBatch_BatchCeiling(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	texts := make([]string, MaxBatchSize+1)
	for i := range texts {
		texts[i] = fmt.Sprintf("chunk-%d", i)
	}

	c := NewClient(testConfig(srv.URL))
	_, err := c.EmbedBatch(context.Background(), texts)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "超过上限")
	assert.False(t, called, "超限批次不应发起网络调用")
}

func TestEmbedBatch_EmptyInput(t *testing.T) {
	c := NewClient(testConfig("http://unused"))
	vectors, err := c.EmbedBatch(context.Background(), nil)

	require.NoError(t, err)
	assert.Nil(t, vectors)
}

func TestEmbedBatch_Non200Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	_, err := c.EmbedBatch(context.Background(), []string{"a"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-200")
}

func TestEmbedBatch_TokenExchangeAndCache(t *testing.T) {
	var tokenCalls atomic.Int32
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		require.Equal(t, "Bearer api-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(tokenResponse{AccessToken: "short-lived-token", ExpiresIn: 3600})
	}))
	defer tokenSrv.Close()

	var gotAuth string
	srv := newEmbeddingServer(t, nil, &gotAuth)
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.APIKey = "api-key"
	cfg.TokenURL = tokenSrv.URL
	c := NewClient(cfg)

	_, err := c.EmbedBatch(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer short-lived-token", gotAuth, "配置 TokenURL 后应使用换取的令牌")

	// 令牌在有效期内复用，不重复换取
	_, err = c.EmbedBatch(context.Background(), []string{"b"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), tokenCalls.Load())
}
