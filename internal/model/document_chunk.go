package model

import "time"

// DocumentChunk 对应于数据库中的 document_chunks 表，每条记录是一个文本分块。
// 分块由其所属 KnowledgeSource 独占：仅在入库时插入，随知识源删除而级联删除。
type DocumentChunk struct {
	ID          string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	SourceID    string    `gorm:"type:varchar(36);not null;index;column:source_id" json:"sourceId"`
	AgentID     string    `gorm:"type:varchar(36);not null;index;column:agent_id" json:"agentId"`
	ChunkIndex  int       `gorm:"not null;column:chunk_index" json:"chunkIndex"`
	TextContent string    `gorm:"type:text;column:text_content" json:"textContent"`
	VectorID    string    `gorm:"type:varchar(64);not null;index;column:vector_id" json:"vectorId"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`

	// 外键约束：删除 knowledge_sources 行时级联删除分块
	Source *KnowledgeSource `gorm:"foreignKey:SourceID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (DocumentChunk) TableName() string {
	return "document_chunks"
}
