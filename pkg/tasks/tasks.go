// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// IngestTask represents a knowledge-source ingestion job.
// Reindex 任务与首次入库任务同构：管道拿到 sourceID 后自行决定是否清理旧产物。
type IngestTask struct {
	SourceID string `json:"source_id"`
	AgentID  string `json:"agent_id"`
	FileName string `json:"file_name"`
	Reindex  bool   `json:"reindex"`
}
