// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"agent-brain-go/internal/repository"
	"agent-brain-go/internal/service"
	"agent-brain-go/pkg/log"
)

// maxUploadBytes 是单个文档的大小上限 (50MB)。
const maxUploadBytes = 50 * 1024 * 1024

// KnowledgeHandler 负责处理所有与知识源相关的 API 请求。
type KnowledgeHandler struct {
	knowledgeService service.KnowledgeService
}

// NewKnowledgeHandler 创建一个新的 KnowledgeHandler 实例。
func NewKnowledgeHandler(knowledgeService service.KnowledgeService) *KnowledgeHandler {
	return &KnowledgeHandler{knowledgeService: knowledgeService}
}

// Upload 处理文档上传请求，保存文档并触发入库。
func (h *KnowledgeHandler) Upload(c *gin.Context) {
	agentID := c.Param("agentId")
	if agentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 agentId 参数"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "未能获取上传的文件"})
		return
	}
	if fileHeader.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "文件超过大小上限"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "未能读取上传的文件"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "读取文件内容失败"})
		return
	}

	mimeType := fileHeader.Header.Get("Content-Type")
	source, err := h.knowledgeService.Upload(c.Request.Context(), agentID, fileHeader.Filename, mimeType, data)
	if err != nil {
		log.Error("Upload: failed to upload knowledge source", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "上传失败: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "上传成功，入库任务已触发",
		"data":    source,
	})
}

// Reindex 为指定知识源重新触发入库。
func (h *KnowledgeHandler) Reindex(c *gin.Context) {
	sourceID := c.Param("id")

	if err := h.knowledgeService.Reindex(c.Request.Context(), sourceID); err != nil {
		if errors.Is(err, repository.ErrSourceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "知识源不存在"})
			return
		}
		log.Error("Reindex: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "触发重建索引失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "重建索引任务已触发",
	})
}

// Get 返回单个知识源的详情与分块数量。
func (h *KnowledgeHandler) Get(c *gin.Context) {
	sourceID := c.Param("id")

	dto, err := h.knowledgeService.Get(c.Request.Context(), sourceID)
	if err != nil {
		if errors.Is(err, repository.ErrSourceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "知识源不存在"})
			return
		}
		log.Error("Get: failed to load knowledge source", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取知识源失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code": http.StatusOK,
		"data": dto,
	})
}

// List 返回某个 agent 的全部知识源。
func (h *KnowledgeHandler) List(c *gin.Context) {
	agentID := c.Param("agentId")

	sources, err := h.knowledgeService.ListByAgent(c.Request.Context(), agentID)
	if err != nil {
		log.Error("List: failed to list knowledge sources", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取知识源列表失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code": http.StatusOK,
		"data": sources,
	})
}

// Delete 删除一个知识源及其向量、原始文档与分块。
func (h *KnowledgeHandler) Delete(c *gin.Context) {
	sourceID := c.Param("id")

	if err := h.knowledgeService.Delete(c.Request.Context(), sourceID); err != nil {
		if errors.Is(err, repository.ErrSourceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "知识源不存在"})
			return
		}
		log.Error("Delete: failed to delete knowledge source", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "删除知识源失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "知识源已删除",
	})
}
