// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"crypto/sha256"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"agent-brain-go/internal/model"
	"agent-brain-go/internal/pipeline"
	"agent-brain-go/internal/repository"
	"agent-brain-go/pkg/log"
	"agent-brain-go/pkg/tasks"
)

// BlobUploader 是上传路径需要的对象存储窄接口。
type BlobUploader interface {
	Put(ctx context.Context, objectKey string, data []byte, contentType string) error
}

// TaskProducer 把入库任务投递到消息队列。
type TaskProducer interface {
	ProduceIngestTask(ctx context.Context, task tasks.IngestTask) error
}

// KnowledgeSourceDTO 在知识源记录之外附加分块数量。
type KnowledgeSourceDTO struct {
	model.KnowledgeSource
	ChunkCount int64 `json:"chunkCount"`
}

// KnowledgeService 接口定义了知识源管理相关的业务操作。
type KnowledgeService interface {
	// Upload 保存原始文档、创建知识源记录并触发入库任务。
	Upload(ctx context.Context, agentID, fileName, mimeType string, data []byte) (*model.KnowledgeSource, error)
	// Reindex 为已存在的知识源重新触发入库；旧产物由管道先删后写。
	Reindex(ctx context.Context, sourceID string) error
	Get(ctx context.Context, sourceID string) (*KnowledgeSourceDTO, error)
	ListByAgent(ctx context.Context, agentID string) ([]model.KnowledgeSource, error)
	// Delete 删除知识源及其向量、原始文档和分块记录。
	Delete(ctx context.Context, sourceID string) error
}

type knowledgeService struct {
	sourceRepo repository.KnowledgeSourceRepository
	chunkRepo  repository.DocumentChunkRepository
	blob       BlobUploader
	bucket     string
	producer   TaskProducer
	deleter    *pipeline.Deleter
}

// NewKnowledgeService 创建一个新的 KnowledgeService 实例。
func NewKnowledgeService(
	sourceRepo repository.KnowledgeSourceRepository,
	chunkRepo repository.DocumentChunkRepository,
	blob BlobUploader,
	bucket string,
	producer TaskProducer,
	deleter *pipeline.Deleter,
) KnowledgeService {
	return &knowledgeService{
		sourceRepo: sourceRepo,
		chunkRepo:  chunkRepo,
		blob:       blob,
		bucket:     bucket,
		producer:   producer,
		deleter:    deleter,
	}
}

// Upload 保存原始文档并创建知识源记录，随后投递入库任务。
func (s *knowledgeService) Upload(ctx context.Context, agentID, fileName, mimeType string, data []byte) (*model.KnowledgeSource, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("文档内容为空: %s", fileName)
	}

	sourceID := uuid.NewString()
	objectKey := fmt.Sprintf("sources/%s/%s/%s", agentID, sourceID, fileName)
	checksum := fmt.Sprintf("%x", sha256.Sum256(data))

	if err := s.blob.Put(ctx, objectKey, data, mimeType); err != nil {
		return nil, fmt.Errorf("保存原始文档失败: %w", err)
	}

	source := &model.KnowledgeSource{
		ID:         sourceID,
		AgentID:    agentID,
		SourceType: sourceTypeFor(fileName),
		Bucket:     s.bucket,
		ObjectKey:  objectKey,
		Mime:       mimeType,
		FileName:   fileName,
		ByteSize:   int64(len(data)),
		Checksum:   checksum,
		Status:     model.StatusUploaded,
	}
	if err := s.sourceRepo.Create(ctx, source); err != nil {
		return nil, fmt.Errorf("创建知识源记录失败: %w", err)
	}

	task := tasks.IngestTask{
		SourceID: sourceID,
		AgentID:  agentID,
		FileName: fileName,
	}
	if err := s.producer.ProduceIngestTask(ctx, task); err != nil {
		// 任务投递失败不回滚记录：知识源保持 uploaded，可通过 Reindex 重新触发
		log.Errorf("[KnowledgeService] 投递入库任务失败, SourceID: %s, Error: %v", sourceID, err)
		return source, fmt.Errorf("投递入库任务失败: %w", err)
	}

	log.Infof("[KnowledgeService] 知识源已创建并触发入库, SourceID: %s, FileName: %s", sourceID, fileName)
	return source, nil
}

// Reindex 为既有知识源重新投递入库任务。
func (s *knowledgeService) Reindex(ctx context.Context, sourceID string) error {
	source, err := s.sourceRepo.FindByID(ctx, sourceID)
	if err != nil {
		return err
	}

	task := tasks.IngestTask{
		SourceID: source.ID,
		AgentID:  source.AgentID,
		FileName: source.FileName,
		Reindex:  true,
	}
	if err := s.producer.ProduceIngestTask(ctx, task); err != nil {
		return fmt.Errorf("投递重建索引任务失败: %w", err)
	}
	log.Infof("[KnowledgeService] 已触发重建索引, SourceID: %s", sourceID)
	return nil
}

// Get 返回知识源记录及其分块数量。
func (s *knowledgeService) Get(ctx context.Context, sourceID string) (*KnowledgeSourceDTO, error) {
	source, err := s.sourceRepo.FindByID(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	count, err := s.chunkRepo.CountBySourceID(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	return &KnowledgeSourceDTO{KnowledgeSource: *source, ChunkCount: count}, nil
}

// ListByAgent 返回某个 agent 的全部知识源。
func (s *knowledgeService) ListByAgent(ctx context.Context, agentID string) ([]model.KnowledgeSource, error) {
	return s.sourceRepo.FindByAgentID(ctx, agentID)
}

// Delete 删除知识源，具体步骤由 pipeline.Deleter 执行。
func (s *knowledgeService) Delete(ctx context.Context, sourceID string) error {
	return s.deleter.Delete(ctx, sourceID)
}

// sourceTypeFor 根据文件扩展名归类知识源类型。
func sourceTypeFor(fileName string) string {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		return "pdf"
	case ".doc", ".docx":
		return "word"
	case ".xls", ".xlsx", ".csv":
		return "sheet"
	case ".ppt", ".pptx":
		return "slides"
	case ".md", ".markdown":
		return "markdown"
	case ".html", ".htm", ".xml":
		return "web"
	case ".txt":
		return "text"
	default:
		return "other"
	}
}
