package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/kbchat/internal/pkg/response"
	"github.com/xxxsen/kbchat/internal/service"
)

type KBHandler struct {
	kb *service.KBService
}

func NewKBHandler(kb *service.KBService) *KBHandler {
	return &KBHandler{kb: kb}
}

func (h *KBHandler) Upload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid_request", "file field is required")
		return
	}
	defer file.Close()
	if header.Size > service.MaxUploadBytes {
		response.Error(c, http.StatusRequestEntityTooLarge, "invalid_file", "file exceeds 10MB limit")
		return
	}
	doc, err := h.kb.CreateDocument(c.Request.Context(), header.Filename, header.Size, file)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Accepted(c, doc)
}

func (h *KBHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	docs, total, err := h.kb.ListDocuments(c.Request.Context(), limit, offset)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"documents": docs, "total": total})
}

func (h *KBHandler) Get(c *gin.Context) {
	doc, err := h.kb.GetDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, doc)
}

func (h *KBHandler) Status(c *gin.Context) {
	status, err := h.kb.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, status)
}

func (h *KBHandler) Delete(c *gin.Context) {
	if err := h.kb.DeleteDocument(c.Request.Context(), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.NoContent(c)
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

func (h *KBHandler) Search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Query == "" {
		response.Error(c, http.StatusBadRequest, "invalid_request", "query is required")
		return
	}
	results, err := h.kb.Search(c.Request.Context(), req.Query, req.TopK)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"results": results})
}
