// Package pipeline 实现知识源入库的核心流程：解析 → 分块 → 向量化 → 索引。
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"agent-brain-go/internal/config"
	"agent-brain-go/internal/model"
	"agent-brain-go/pkg/embedding"
	"agent-brain-go/pkg/log"
	"agent-brain-go/pkg/retry"
	"agent-brain-go/pkg/tasks"
)

// chunkSubBatchSize 是写入关系库的子批次行数。
// 每行 7 个字段，10 行一批保证参数总数在关系库的占位符上限以内。
const chunkSubBatchSize = 10

// SourceStore 是编排器消费的知识源存储接口，由 repository 实现。
type SourceStore interface {
	FindByID(ctx context.Context, id string) (*model.KnowledgeSource, error)
	UpdateStatus(ctx context.Context, id, status string) error
	MarkFailed(ctx context.Context, id, message string) error
	MarkIndexed(ctx context.Context, id string, vectorIDs []string) error
	Delete(ctx context.Context, id string) error
}

// ChunkStore 是编排器消费的分块存储接口。
type ChunkStore interface {
	BatchCreate(ctx context.Context, chunks []*model.DocumentChunk) error
	DeleteBySourceID(ctx context.Context, sourceID string) error
}

// BlobStore 是对象存储的窄接口。
type BlobStore interface {
	Fetch(ctx context.Context, objectKey string) ([]byte, error)
	Remove(ctx context.Context, objectKey string) error
}

// VectorIndex 是向量索引的窄接口，返回值为变更水位。
type VectorIndex interface {
	Insert(ctx context.Context, docs []model.VectorDocument) (string, error)
	DeleteByIDs(ctx context.Context, ids []string) (string, error)
}

// SourceLock 防止同一知识源被并发入库。
type SourceLock interface {
	Acquire(ctx context.Context, sourceID string) (bool, error)
	Release(ctx context.Context, sourceID string) error
}

// Processor 封装了知识源入库的所有依赖和逻辑。
// 所有外部系统都通过构造函数注入，测试中可整体替换为替身。
type Processor struct {
	sources   SourceStore
	chunks    ChunkStore
	blob      BlobStore
	index     VectorIndex
	embedder  embedding.Client
	parser    *Parser
	lock      SourceLock
	progress  ProgressSink
	ingestCfg config.IngestConfig
}

// NewProcessor 创建一个新的 Processor 实例。sink 传 nil 时使用 no-op。
func NewProcessor(
	sources SourceStore,
	chunks ChunkStore,
	blob BlobStore,
	index VectorIndex,
	embedder embedding.Client,
	parser *Parser,
	lock SourceLock,
	sink ProgressSink,
	ingestCfg config.IngestConfig,
) *Processor {
	if sink == nil {
		sink = NopSink{}
	}
	return &Processor{
		sources:   sources,
		chunks:    chunks,
		blob:      blob,
		index:     index,
		embedder:  embedder,
		parser:    parser,
		lock:      lock,
		progress:  sink,
		ingestCfg: ingestCfg,
	}
}

func (p *Processor) retryOpts() retry.Options {
	return retry.Options{
		Retries:   p.ingestCfg.Retries,
		BaseDelay: time.Duration(p.ingestCfg.BaseDelayMs) * time.Millisecond,
	}
}

// Process 是入库的主函数，实现 kafka.TaskProcessor。
// 状态机：uploaded → parsed → indexed，任一阶段失败都会把状态置为 failed、
// 追加错误信息、发出进度通知并把错误返回给调用方。
// 管道跨三个外部存储，端到端不具备事务性：失败前已提交的分块行和向量会保留。
func (p *Processor) Process(ctx context.Context, task tasks.IngestTask) error {
	sourceID := task.SourceID
	log.Infof("[Processor] 开始处理知识源, SourceID: %s, FileName: %s", sourceID, task.FileName)

	// 按知识源加建议锁，拒绝同一 source 的并发入库
	acquired, err := p.lock.Acquire(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("获取入库锁失败 (source=%s): %w", sourceID, err)
	}
	if !acquired {
		log.Warnf("[Processor] 知识源 %s 已有入库任务在执行，跳过", sourceID)
		return ErrSourceBusy
	}
	defer func() {
		if err := p.lock.Release(context.Background(), sourceID); err != nil {
			log.Warnf("[Processor] 释放入库锁失败 (source=%s): %v", sourceID, err)
		}
	}()

	// 1. 读取知识源记录；记录缺失是契约错误，直接向上传播
	source, err := p.sources.FindByID(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("读取知识源记录失败 (source=%s): %w", sourceID, err)
	}

	// 2. 从对象存储下载原始文档
	log.Infof("[Processor] 步骤1: 下载原始文档, Key: %s", source.ObjectKey)
	var data []byte
	err = retry.Do(ctx, func(ctx context.Context) error {
		var fetchErr error
		data, fetchErr = p.blob.Fetch(ctx, source.ObjectKey)
		return fetchErr
	}, p.retryOpts())
	if err != nil {
		return p.fail(ctx, sourceID, fmt.Errorf("下载原始文档失败: %w", err))
	}
	if len(data) == 0 {
		return p.fail(ctx, sourceID, ErrEmptyDocument)
	}

	// 3. 解析为纯文本/Markdown。转换服务的传输层故障可重试，
	//    ParseError 表示输入本身有问题，立即失败
	log.Infof("[Processor] 步骤2: 解析文档, mime: %s", source.Mime)
	var doc *ParsedDocument
	err = retry.Do(ctx, func(ctx context.Context) error {
		var parseErr error
		doc, parseErr = p.parser.Parse(ctx, data, source.Mime, source.FileName)
		return parseErr
	}, p.retryOpts())
	if err != nil {
		return p.fail(ctx, sourceID, err)
	}
	if doc.Content == "" {
		return p.fail(ctx, sourceID, ErrEmptyDocument)
	}

	// 解析完成立即落盘 parsed 状态
	if err := p.sources.UpdateStatus(ctx, sourceID, model.StatusParsed); err != nil {
		return p.fail(ctx, sourceID, fmt.Errorf("更新状态为 parsed 失败: %w", err))
	}
	p.progress.Notify(ctx, Progress{SourceID: sourceID, Message: "解析完成", Percent: 5})
	log.Infof("[Processor] 步骤2: 解析成功, 内容长度: %d 字符, 约 %d tokens", doc.Length, doc.TokenCount)

	// 4. 文本分块
	chunkTexts := Chunk(doc.Content, ChunkOptions{
		ChunkSize:    p.ingestCfg.ChunkSize,
		ChunkOverlap: p.ingestCfg.ChunkOverlap,
		MinChunkSize: p.ingestCfg.MinChunkSize,
		ContentType:  doc.ContentType,
	})
	if len(chunkTexts) == 0 {
		return p.fail(ctx, sourceID, ErrEmptyDocument)
	}
	p.progress.Notify(ctx, Progress{
		SourceID: sourceID,
		Message:  fmt.Sprintf("分块完成, 共 %d 块", len(chunkTexts)),
		Percent:  10,
	})
	log.Infof("[Processor] 步骤3: 分块完成, 共 %d 块", len(chunkTexts))

	// 5. 重建索引前清理旧产物（策略：先删后写，新旧向量不共存）
	if err := p.cleanupPriorArtifacts(ctx, source); err != nil {
		return p.fail(ctx, sourceID, err)
	}

	// 6. 逐批向量化并写入。批与批严格串行；一批内的关系库子批次并发写入
	vectorIDs, err := p.embedAndWrite(ctx, source, chunkTexts)
	if err != nil {
		return p.fail(ctx, sourceID, err)
	}

	// 7. 终态更新：向量 ID 列表与 indexed 状态写在同一条 UPDATE 中
	if err := p.sources.MarkIndexed(ctx, sourceID, vectorIDs); err != nil {
		return p.fail(ctx, sourceID, fmt.Errorf("写入终态失败: %w", err))
	}
	p.progress.Notify(ctx, Progress{SourceID: sourceID, Message: "入库完成", Percent: 100})
	log.Infof("[Processor] 知识源处理成功, SourceID: %s, 共 %d 个向量", sourceID, len(vectorIDs))
	return nil
}

// cleanupPriorArtifacts 删除该知识源此前生成的向量与分块行，保证重复入库幂等。
func (p *Processor) cleanupPriorArtifacts(ctx context.Context, source *model.KnowledgeSource) error {
	if len(source.VectorIDs) > 0 {
		log.Infof("[Processor] 清理旧向量 %d 条, SourceID: %s", len(source.VectorIDs), source.ID)
		err := retry.Do(ctx, func(ctx context.Context) error {
			_, delErr := p.index.DeleteByIDs(ctx, source.VectorIDs)
			return delErr
		}, p.retryOpts())
		if err != nil {
			return fmt.Errorf("清理旧向量失败: %w", err)
		}
	}
	if err := p.chunks.DeleteBySourceID(ctx, source.ID); err != nil {
		return fmt.Errorf("清理旧分块记录失败: %w", err)
	}
	return nil
}

// embedAndWrite 逐批处理所有分块：向量化 → 写分块行 → 写向量索引。
// 第 n+1 批绝不会在第 n 批的全部写入完成之前开始。
func (p *Processor) embedAndWrite(ctx context.Context, source *model.KnowledgeSource, chunkTexts []string) ([]string, error) {
	batchSize := p.ingestCfg.EmbedBatchSize
	if batchSize <= 0 || batchSize > embedding.MaxBatchSize {
		batchSize = embedding.MaxBatchSize
	}

	total := len(chunkTexts)
	vectorIDs := make([]string, 0, total)

	for batchStart := 0; batchStart < total; batchStart += batchSize {
		batchEnd := batchStart + batchSize
		if batchEnd > total {
			batchEnd = total
		}
		texts := chunkTexts[batchStart:batchEnd]
		log.Infof("[Processor] 向量化批次 [%d:%d)/%d, SourceID: %s", batchStart, batchEnd, total, source.ID)

		// 串行调用 Embedding API，遵守服务端限流并约束峰值内存
		var vectors [][]float32
		err := retry.Do(ctx, func(ctx context.Context) error {
			var embedErr error
			vectors, embedErr = p.embedder.EmbedBatch(ctx, texts)
			return embedErr
		}, p.retryOpts())
		if err != nil {
			return nil, fmt.Errorf("批次 [%d:%d) 向量化失败: %w", batchStart, batchEnd, err)
		}
		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("批次 [%d:%d) 向量数量不匹配: 期望 %d, 实际 %d",
				batchStart, batchEnd, len(texts), len(vectors))
		}

		rows := make([]*model.DocumentChunk, len(texts))
		docs := make([]model.VectorDocument, len(texts))
		for i := range texts {
			chunkIndex := batchStart + i
			vectorID := fmt.Sprintf("%s_%d", source.ID, chunkIndex)
			rows[i] = &model.DocumentChunk{
				ID:          uuid.NewString(),
				SourceID:    source.ID,
				AgentID:     source.AgentID,
				ChunkIndex:  chunkIndex,
				TextContent: texts[i],
				VectorID:    vectorID,
			}
			docs[i] = model.VectorDocument{
				VectorID: vectorID,
				AgentID:  source.AgentID,
				SourceID: source.ID,
				ChunkID:  chunkIndex,
				FileName: source.FileName,
				Vector:   vectors[i],
			}
		}

		// 一个批次内的关系库子批次互相独立，可并发写入
		if err := p.writeChunkRows(ctx, rows); err != nil {
			return nil, fmt.Errorf("批次 [%d:%d) 写入分块记录失败: %w", batchStart, batchEnd, err)
		}

		err = retry.Do(ctx, func(ctx context.Context) error {
			_, insErr := p.index.Insert(ctx, docs)
			return insErr
		}, p.retryOpts())
		if err != nil {
			return nil, fmt.Errorf("批次 [%d:%d) 写入向量索引失败: %w", batchStart, batchEnd, err)
		}

		for i := range docs {
			vectorIDs = append(vectorIDs, docs[i].VectorID)
		}

		percent := 10 + int(float64(batchEnd)/float64(total)*85)
		p.progress.Notify(ctx, Progress{
			SourceID: source.ID,
			Message:  fmt.Sprintf("已完成 %d/%d 块", batchEnd, total),
			Percent:  percent,
		})
	}

	return vectorIDs, nil
}

// writeChunkRows 把一个批次的分块行切成子批次并发写入关系库。
func (p *Processor) writeChunkRows(ctx context.Context, rows []*model.DocumentChunk) error {
	g, gctx := errgroup.WithContext(ctx)
	for subStart := 0; subStart < len(rows); subStart += chunkSubBatchSize {
		subEnd := subStart + chunkSubBatchSize
		if subEnd > len(rows) {
			subEnd = len(rows)
		}
		sub := rows[subStart:subEnd]
		g.Go(func() error {
			return retry.Do(gctx, func(ctx context.Context) error {
				return p.chunks.BatchCreate(ctx, sub)
			}, p.retryOpts())
		})
	}
	return g.Wait()
}

// fail 把失败记录到知识源上并通知进度接收方，然后把原始错误返回给调用方。
func (p *Processor) fail(ctx context.Context, sourceID string, cause error) error {
	log.Errorf("[Processor] 知识源处理失败, SourceID: %s, Error: %v", sourceID, cause)
	// 落盘失败状态本身失败时只记日志，保留原始错误向上传播
	if err := p.sources.MarkFailed(context.WithoutCancel(ctx), sourceID, cause.Error()); err != nil {
		log.Errorf("[Processor] 记录失败状态时出错, SourceID: %s, Error: %v", sourceID, err)
	}
	p.progress.Notify(ctx, Progress{SourceID: sourceID, Percent: -1, Error: cause.Error()})
	return cause
}
