package repository

import (
	"context"

	"gorm.io/gorm"

	"agent-brain-go/internal/model"
)

// DocumentChunkRepository 定义了对 document_chunks 表的数据操作接口。
type DocumentChunkRepository interface {
	// BatchCreate 用一条多行 INSERT 写入一个子批次。
	// 调用方负责把子批次控制在参数上限以内（10 行 × 7 字段）。
	BatchCreate(ctx context.Context, chunks []*model.DocumentChunk) error
	FindBySourceID(ctx context.Context, sourceID string) ([]*model.DocumentChunk, error)
	CountBySourceID(ctx context.Context, sourceID string) (int64, error)
	DeleteBySourceID(ctx context.Context, sourceID string) error
}

type documentChunkRepository struct {
	db *gorm.DB
}

// NewDocumentChunkRepository 创建一个新的 DocumentChunkRepository 实例。
func NewDocumentChunkRepository(db *gorm.DB) DocumentChunkRepository {
	return &documentChunkRepository{db: db}
}

// BatchCreate 批量创建分块记录。
func (r *documentChunkRepository) BatchCreate(ctx context.Context, chunks []*model.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(chunks).Error
}

// FindBySourceID 按知识源查找全部分块，按 chunk_index 升序。
func (r *documentChunkRepository) FindBySourceID(ctx context.Context, sourceID string) ([]*model.DocumentChunk, error) {
	var chunks []*model.DocumentChunk
	err := r.db.WithContext(ctx).Where("source_id = ?", sourceID).
		Order("chunk_index asc").Find(&chunks).Error
	return chunks, err
}

// CountBySourceID 统计某个知识源的分块数量。
func (r *documentChunkRepository) CountBySourceID(ctx context.Context, sourceID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.DocumentChunk{}).
		Where("source_id = ?", sourceID).Count(&count).Error
	return count, err
}

// DeleteBySourceID 删除某个知识源的全部分块记录（重建索引前的幂等清理）。
func (r *documentChunkRepository) DeleteBySourceID(ctx context.Context, sourceID string) error {
	return r.db.WithContext(ctx).Where("source_id = ?", sourceID).
		Delete(&model.DocumentChunk{}).Error
}
