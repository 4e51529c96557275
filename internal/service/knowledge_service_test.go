package service

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-brain-go/internal/model"
	"agent-brain-go/internal/repository"
	"agent-brain-go/pkg/log"
	"agent-brain-go/pkg/tasks"
)

func TestMain(m *testing.M) {
	log.Init("error", "console", "")
	m.Run()
}

type fakeSourceRepo struct {
	created []*model.KnowledgeSource
	byID    map[string]*model.KnowledgeSource
}

func newFakeSourceRepo() *fakeSourceRepo {
	return &fakeSourceRepo{byID: make(map[string]*model.KnowledgeSource)}
}

func (f *fakeSourceRepo) Create(_ context.Context, source *model.KnowledgeSource) error {
	f.created = append(f.created, source)
	f.byID[source.ID] = source
	return nil
}

func (f *fakeSourceRepo) FindByID(_ context.Context, id string) (*model.KnowledgeSource, error) {
	source, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrSourceNotFound
	}
	return source, nil
}

func (f *fakeSourceRepo) FindByAgentID(_ context.Context, agentID string) ([]model.KnowledgeSource, error) {
	var out []model.KnowledgeSource
	for _, s := range f.byID {
		if s.AgentID == agentID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeSourceRepo) UpdateStatus(_ context.Context, id, status string) error {
	f.byID[id].Status = status
	return nil
}

func (f *fakeSourceRepo) MarkFailed(_ context.Context, id, message string) error {
	f.byID[id].Status = model.StatusFailed
	f.byID[id].ParseErrors = append(f.byID[id].ParseErrors, message)
	return nil
}

func (f *fakeSourceRepo) MarkIndexed(_ context.Context, id string, vectorIDs []string) error {
	f.byID[id].Status = model.StatusIndexed
	f.byID[id].VectorIDs = vectorIDs
	return nil
}

func (f *fakeSourceRepo) Delete(_ context.Context, id string) error {
	delete(f.byID, id)
	return nil
}

type fakeChunkRepo struct {
	counts map[string]int64
}

func (f *fakeChunkRepo) BatchCreate(context.Context, []*model.DocumentChunk) error { return nil }

func (f *fakeChunkRepo) FindBySourceID(context.Context, string) ([]*model.DocumentChunk, error) {
	return nil, nil
}

func (f *fakeChunkRepo) CountBySourceID(_ context.Context, sourceID string) (int64, error) {
	return f.counts[sourceID], nil
}

func (f *fakeChunkRepo) DeleteBySourceID(context.Context, string) error { return nil }

type fakeUploader struct {
	objects map[string][]byte
	putErr  error
}

func (f *fakeUploader) Put(_ context.Context, objectKey string, data []byte, _ string) error {
	if f.putErr != nil {
		return f.putErr
	}
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[objectKey] = data
	return nil
}

type fakeProducer struct {
	tasks      []tasks.IngestTask
	produceErr error
}

func (f *fakeProducer) ProduceIngestTask(_ context.Context, task tasks.IngestTask) error {
	if f.produceErr != nil {
		return f.produceErr
	}
	f.tasks = append(f.tasks, task)
	return nil
}

func newTestService() (KnowledgeService, *fakeSourceRepo, *fakeChunkRepo, *fakeUploader, *fakeProducer) {
	sourceRepo := newFakeSourceRepo()
	chunkRepo := &fakeChunkRepo{counts: make(map[string]int64)}
	uploader := &fakeUploader{}
	producer := &fakeProducer{}
	svc := NewKnowledgeService(sourceRepo, chunkRepo, uploader, "agent-knowledge", producer, nil)
	return svc, sourceRepo, chunkRepo, uploader, producer
}

func TestUpload_CreatesRecordAndProducesTask(t *testing.T) {
	svc, sourceRepo, _, uploader, producer := newTestService()

	data := []byte("文档内容")
	source, err := svc.Upload(context.Background(), "agent-1", "notes.txt", "text/plain", data)
	require.NoError(t, err)

	assert.Equal(t, "agent-1", source.AgentID)
	assert.Equal(t, model.StatusUploaded, source.Status)
	assert.Equal(t, "text", source.SourceType)
	assert.Equal(t, "agent-knowledge", source.Bucket)
	assert.Equal(t, int64(len(data)), source.ByteSize)
	assert.Equal(t, fmt.Sprintf("%x", sha256.Sum256(data)), source.Checksum)
	assert.Equal(t, fmt.Sprintf("sources/agent-1/%s/notes.txt", source.ID), source.ObjectKey)

	// 原始文档先落对象存储，再建记录，最后投递任务
	assert.Contains(t, uploader.objects, source.ObjectKey)
	require.Len(t, sourceRepo.created, 1)
	require.Len(t, producer.tasks, 1)
	assert.Equal(t, source.ID, producer.tasks[0].SourceID)
	assert.False(t, producer.tasks[0].Reindex)
}

func TestUpload_EmptyDataRejected(t *testing.T) {
	svc, sourceRepo, _, _, producer := newTestService()

	_, err := svc.Upload(context.Background(), "agent-1", "empty.txt", "text/plain", nil)

	require.Error(t, err)
	assert.Empty(t, sourceRepo.created)
	assert.Empty(t, producer.tasks)
}

func TestUpload_ProduceFailureKeepsRecord(t *testing.T) {
	// 任务投递失败不回滚：记录保持 uploaded，可由 Reindex 重新触发
	svc, sourceRepo, _, _, producer := newTestService()
	producer.produceErr = errors.New("kafka unavailable")

	source, err := svc.Upload(context.Background(), "agent-1", "notes.txt", "text/plain", []byte("x"))

	require.Error(t, err)
	require.NotNil(t, source)
	require.Len(t, sourceRepo.created, 1)
	assert.Equal(t, model.StatusUploaded, sourceRepo.created[0].Status)
}

func TestReindex_ProducesTaskWithFlag(t *testing.T) {
	svc, sourceRepo, _, _, producer := newTestService()
	sourceRepo.byID["src-1"] = &model.KnowledgeSource{ID: "src-1", AgentID: "agent-1", FileName: "a.pdf"}

	require.NoError(t, svc.Reindex(context.Background(), "src-1"))

	require.Len(t, producer.tasks, 1)
	assert.True(t, producer.tasks[0].Reindex)
	assert.Equal(t, "src-1", producer.tasks[0].SourceID)
}

func TestReindex_MissingSource(t *testing.T) {
	svc, _, _, _, producer := newTestService()

	err := svc.Reindex(context.Background(), "missing")

	assert.ErrorIs(t, err, repository.ErrSourceNotFound)
	assert.Empty(t, producer.tasks)
}

func TestGet_AttachesChunkCount(t *testing.T) {
	svc, sourceRepo, chunkRepo, _, _ := newTestService()
	sourceRepo.byID["src-1"] = &model.KnowledgeSource{ID: "src-1", Status: model.StatusIndexed}
	chunkRepo.counts["src-1"] = 7

	dto, err := svc.Get(context.Background(), "src-1")

	require.NoError(t, err)
	assert.Equal(t, int64(7), dto.ChunkCount)
	assert.Equal(t, model.StatusIndexed, dto.Status)
}

func TestSourceTypeFor(t *testing.T) {
	cases := map[string]string{
		"report.PDF":  "pdf",
		"a.docx":      "word",
		"b.csv":       "sheet",
		"c.pptx":      "slides",
		"readme.md":   "markdown",
		"page.html":   "web",
		"notes.txt":   "text",
		"archive.zip": "other",
	}
	for fileName, want := range cases {
		assert.Equal(t, want, sourceTypeFor(fileName), fileName)
	}
}
