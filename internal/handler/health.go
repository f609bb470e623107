package handler

import (
	"database/sql"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/kbchat/internal/pkg/response"
)

type HealthHandler struct {
	db *sql.DB
}

func NewHealthHandler(db *sql.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

func (h *HealthHandler) Check(c *gin.Context) {
	status := "ok"
	if err := h.db.PingContext(c.Request.Context()); err != nil {
		status = "degraded"
	}
	response.Success(c, gin.H{"status": status})
}
