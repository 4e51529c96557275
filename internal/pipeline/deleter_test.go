package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-brain-go/internal/model"
)

func indexedSource(vectorCount int) *model.KnowledgeSource {
	source := testSource()
	source.Status = model.StatusIndexed
	for i := 0; i < vectorCount; i++ {
		source.VectorIDs = append(source.VectorIDs, source.ID+"_"+string(rune('0'+i%10)))
	}
	return source
}

func newDeleterFixture(source *model.KnowledgeSource) (*Deleter, *fakeSourceStore, *fakeBlob, *fakeIndex) {
	sources := &fakeSourceStore{source: source}
	blob := &fakeBlob{}
	index := &fakeIndex{}
	return NewDeleter(sources, blob, index), sources, blob, index
}

func TestDeleter_RemovesAllArtifacts(t *testing.T) {
	source := indexedSource(250)
	d, sources, blob, index := newDeleterFixture(source)

	err := d.Delete(context.Background(), "src-1")
	require.NoError(t, err)

	// 250 个向量 ID 按 100 一批删除，共 3 批
	require.Len(t, index.deletedIDs, 3)
	total := 0
	for _, batch := range index.deletedIDs {
		assert.LessOrEqual(t, len(batch), 100)
		total += len(batch)
	}
	assert.Equal(t, 250, total)

	assert.Equal(t, []string{source.ObjectKey}, blob.removed)
	assert.Equal(t, []string{"src-1"}, sources.deleted)
}

func TestDeleter_SwallowsBestEffortFailures(t *testing.T) {
	// 向量索引和对象存储的清理失败不阻断删除意图，关系库记录照常删除
	source := indexedSource(3)
	d, sources, blob, index := newDeleterFixture(source)
	index.deleteErr = errors.New("index unavailable")
	blob.removeErr = errors.New("bucket unavailable")

	err := d.Delete(context.Background(), "src-1")

	require.NoError(t, err)
	assert.Equal(t, []string{"src-1"}, sources.deleted)
}

func TestDeleter_RowDeleteFailurePropagates(t *testing.T) {
	// 关系库删除是权威步骤，它的失败必须传播
	source := indexedSource(1)
	d, sources, _, _ := newDeleterFixture(source)
	sources.deleteErr = errors.New("deadlock")

	err := d.Delete(context.Background(), "src-1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadlock")
}

func TestDeleter_MissingRecord(t *testing.T) {
	d, sources, blob, _ := newDeleterFixture(testSource())
	sources.findErr = errors.New("record not found")

	err := d.Delete(context.Background(), "src-1")

	require.Error(t, err)
	assert.Empty(t, blob.removed)
	assert.Empty(t, sources.deleted)
}

func TestDeleter_NoVectorsStillDeletesRowAndBlob(t *testing.T) {
	// uploaded/failed 状态下可能没有任何向量
	d, sources, blob, index := newDeleterFixture(testSource())

	err := d.Delete(context.Background(), "src-1")

	require.NoError(t, err)
	assert.Empty(t, index.deletedIDs)
	assert.Len(t, blob.removed, 1)
	assert.Equal(t, []string{"src-1"}, sources.deleted)
}
