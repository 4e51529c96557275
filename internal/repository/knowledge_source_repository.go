// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"agent-brain-go/internal/model"
)

// ErrSourceNotFound 表示知识源记录不存在。
var ErrSourceNotFound = errors.New("知识源记录不存在")

// KnowledgeSourceRepository 定义了对 knowledge_sources 表的数据操作接口。
type KnowledgeSourceRepository interface {
	Create(ctx context.Context, source *model.KnowledgeSource) error
	FindByID(ctx context.Context, id string) (*model.KnowledgeSource, error)
	FindByAgentID(ctx context.Context, agentID string) ([]model.KnowledgeSource, error)
	UpdateStatus(ctx context.Context, id, status string) error
	// MarkFailed 将状态置为 failed 并把错误信息追加到 parse_errors。
	MarkFailed(ctx context.Context, id, message string) error
	// MarkIndexed 在同一条 UPDATE 中写入 vector_ids 和 status=indexed，
	// 保证两者的一致性不变式。
	MarkIndexed(ctx context.Context, id string, vectorIDs []string) error
	// Delete 删除知识源及其全部分块记录，这是删除流程中唯一需要向调用方传播失败的步骤。
	Delete(ctx context.Context, id string) error
}

type knowledgeSourceRepository struct {
	db *gorm.DB
}

// NewKnowledgeSourceRepository 创建一个新的 KnowledgeSourceRepository 实例。
func NewKnowledgeSourceRepository(db *gorm.DB) KnowledgeSourceRepository {
	return &knowledgeSourceRepository{db: db}
}

// Create 创建一条知识源记录。
func (r *knowledgeSourceRepository) Create(ctx context.Context, source *model.KnowledgeSource) error {
	return r.db.WithContext(ctx).Create(source).Error
}

// FindByID 按主键查找知识源记录。
func (r *knowledgeSourceRepository) FindByID(ctx context.Context, id string) (*model.KnowledgeSource, error) {
	var source model.KnowledgeSource
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&source).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSourceNotFound
		}
		return nil, err
	}
	return &source, nil
}

// FindByAgentID 查找某个 agent 的全部知识源。
func (r *knowledgeSourceRepository) FindByAgentID(ctx context.Context, agentID string) ([]model.KnowledgeSource, error) {
	var sources []model.KnowledgeSource
	err := r.db.WithContext(ctx).Where("agent_id = ?", agentID).Order("created_at desc").Find(&sources).Error
	return sources, err
}

// UpdateStatus 更新知识源状态。
func (r *knowledgeSourceRepository) UpdateStatus(ctx context.Context, id, status string) error {
	return r.db.WithContext(ctx).Model(&model.KnowledgeSource{}).
		Where("id = ?", id).Update("status", status).Error
}

// MarkFailed 读出既有错误列表，追加后与 status=failed 一起写回。
func (r *knowledgeSourceRepository) MarkFailed(ctx context.Context, id, message string) error {
	source, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	parseErrors := append(source.ParseErrors, message)
	return r.db.WithContext(ctx).Model(&model.KnowledgeSource{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       model.StatusFailed,
			"parse_errors": parseErrors,
		}).Error
}

// MarkIndexed 原子地写入向量 ID 列表和终态。
func (r *knowledgeSourceRepository) MarkIndexed(ctx context.Context, id string, vectorIDs []string) error {
	if len(vectorIDs) == 0 {
		return errors.New("indexed 状态要求非空的向量 ID 列表")
	}
	return r.db.WithContext(ctx).Model(&model.KnowledgeSource{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     model.StatusIndexed,
			"vector_ids": model.StringList(vectorIDs),
		}).Error
}

// Delete 先删分块再删知识源，模拟外键级联；任一步失败都向上传播。
func (r *knowledgeSourceRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("source_id = ?", id).Delete(&model.DocumentChunk{}).Error; err != nil {
			return fmt.Errorf("删除分块记录失败 (source=%s): %w", id, err)
		}
		if err := tx.Where("id = ?", id).Delete(&model.KnowledgeSource{}).Error; err != nil {
			return fmt.Errorf("删除知识源记录失败 (source=%s): %w", id, err)
		}
		return nil
	})
}
