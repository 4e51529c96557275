package model

// VectorDocument 定义了存储在向量索引中的文档结构。
// agent_id 是命名空间字段，检索侧按它过滤实现 agent 间隔离。
// 元数据刻意保持最小：分块全文由关系库按 chunk id 提供。
type VectorDocument struct {
	VectorID string    `json:"vector_id"` // 唯一标识，sourceID + chunkIndex
	AgentID  string    `json:"agent_id"`
	SourceID string    `json:"source_id"`
	ChunkID  int       `json:"chunk_id"`
	FileName string    `json:"file_name"`
	Vector   []float32 `json:"vector"`
}
