package pipeline

import (
	"context"
	"fmt"
	"sync"

	"agent-brain-go/pkg/log"
)

// vectorDeleteBatchSize 是向量索引单次删除的 ID 条数上限。
const vectorDeleteBatchSize = 100

// Deleter 反向执行入库管道：删向量、删原始文档、最后删关系库记录。
// 向量与对象存储的清理是尽力而为，只有关系库删除是权威步骤，
// 它的失败才会传播给调用方。
type Deleter struct {
	sources SourceStore
	blob    BlobStore
	index   VectorIndex
}

// NewDeleter 创建一个新的 Deleter 实例。
func NewDeleter(sources SourceStore, blob BlobStore, index VectorIndex) *Deleter {
	return &Deleter{sources: sources, blob: blob, index: index}
}

// Delete 删除一个知识源及其全部产物。
func (d *Deleter) Delete(ctx context.Context, sourceID string) error {
	source, err := d.sources.FindByID(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("读取知识源记录失败 (source=%s): %w", sourceID, err)
	}

	// 1. 按批并发删除向量；失败只记日志，不阻断删除意图
	if len(source.VectorIDs) > 0 {
		log.Infof("[Deleter] 删除向量 %d 条, SourceID: %s", len(source.VectorIDs), sourceID)
		var wg sync.WaitGroup
		for start := 0; start < len(source.VectorIDs); start += vectorDeleteBatchSize {
			end := start + vectorDeleteBatchSize
			if end > len(source.VectorIDs) {
				end = len(source.VectorIDs)
			}
			batch := source.VectorIDs[start:end]
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := d.index.DeleteByIDs(ctx, batch); err != nil {
					log.Warnf("[Deleter] 删除向量批次失败 (source=%s): %v", sourceID, err)
				}
			}()
		}
		wg.Wait()
	}

	// 2. 删除原始文档；失败同样只记日志
	if err := d.blob.Remove(ctx, source.ObjectKey); err != nil {
		log.Warnf("[Deleter] 删除原始文档失败 (key=%s): %v", source.ObjectKey, err)
	}

	// 3. 权威步骤：删除关系库记录并级联分块
	if err := d.sources.Delete(ctx, sourceID); err != nil {
		return err
	}
	log.Infof("[Deleter] 知识源已删除, SourceID: %s", sourceID)
	return nil
}
