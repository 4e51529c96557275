// Package model 定义了与数据库表对应的 Go 结构体。
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// 知识源状态机：uploaded → parsed → indexed，任一进行中状态都可进入 failed。
const (
	StatusUploaded = "uploaded"
	StatusParsed   = "parsed"
	StatusIndexed  = "indexed"
	StatusFailed   = "failed"
)

// StringList 以 JSON 数组形式落盘的字符串列表。
type StringList []string

// Value 实现 driver.Valuer 接口。
func (l StringList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner 接口。
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("无法将 %T 扫描为 StringList", value)
	}
}

// KnowledgeSource 对应于数据库中的 knowledge_sources 表，每条记录是一份已上传的文档。
// 不变式：仅当 status=indexed 时 vector_ids 非空，两者总是在同一条 UPDATE 中写入。
type KnowledgeSource struct {
	ID          string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	AgentID     string     `gorm:"type:varchar(36);not null;index;column:agent_id" json:"agentId"`
	SourceType  string     `gorm:"type:varchar(32);not null;column:source_type" json:"sourceType"`
	Bucket      string     `gorm:"type:varchar(128);not null" json:"bucket"`
	ObjectKey   string     `gorm:"type:varchar(512);not null;column:object_key" json:"objectKey"`
	Mime        string     `gorm:"type:varchar(128)" json:"mime"`
	FileName    string     `gorm:"type:varchar(255);not null;column:file_name" json:"fileName"`
	ByteSize    int64      `gorm:"not null;column:byte_size" json:"byteSize"`
	Checksum    string     `gorm:"type:varchar(64);column:checksum" json:"checksum"`
	Status      string     `gorm:"type:varchar(16);not null;default:uploaded" json:"status"`
	ParseErrors StringList `gorm:"type:text;column:parse_errors" json:"parseErrors"`
	VectorIDs   StringList `gorm:"type:text;column:vector_ids" json:"vectorIds"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (KnowledgeSource) TableName() string {
	return "knowledge_sources"
}
