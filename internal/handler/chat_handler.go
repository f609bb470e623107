package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/kbchat/internal/middleware"
	"github.com/xxxsen/kbchat/internal/pkg/response"
	"github.com/xxxsen/kbchat/internal/service"
	"github.com/xxxsen/kbchat/internal/sse"
)

type ChatHandler struct {
	chat    *service.ChatService
	streams *middleware.StreamLimiter
}

func NewChatHandler(chat *service.ChatService, streams *middleware.StreamLimiter) *ChatHandler {
	return &ChatHandler{chat: chat, streams: streams}
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type streamEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

// sseSink maps chat turn events onto SSE frames.
type sseSink struct {
	ctx    context.Context
	writer *sse.Writer
}

func (s *sseSink) Start(sessionID string) error {
	return s.writer.Send(s.ctx, streamEvent{Type: "start", SessionID: sessionID})
}

func (s *sseSink) Token(token string) error {
	return s.writer.Send(s.ctx, streamEvent{Type: "token", Content: token})
}

func (s *sseSink) Done(messageID string) error {
	return s.writer.Send(s.ctx, streamEvent{Type: "done", MessageID: messageID})
}

func (s *sseSink) Error(message string) error {
	return s.writer.Send(s.ctx, streamEvent{Type: "error", Message: message})
}

// Message handles one chat turn over SSE. All pre-stream failures are
// normal JSON errors; once streaming starts, failures become error events.
func (h *ChatHandler) Message(c *gin.Context) {
	apiKeyID := middleware.APIKeyID(c)
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	message := h.chat.SanitizeMessage(req.Message)
	if message == "" {
		response.Error(c, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}

	if !h.streams.Acquire(apiKeyID) {
		response.Error(c, http.StatusTooManyRequests, "stream_limit", "too many concurrent streams")
		return
	}
	defer h.streams.Release(apiKeyID)

	ctx := c.Request.Context()
	sess, err := h.chat.GetOrCreateSession(ctx, apiKeyID, req.SessionID, c.GetHeader("Origin"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.Header("X-Session-Id", sess.ID)

	writer, err := sse.NewWriter(c.Writer)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "internal_error", "streaming unsupported")
		return
	}
	// Errors after this point already reached the client as stream events
	// or mean the client went away; either way the response is finished.
	_ = h.chat.StreamTurn(ctx, sess, message, &sseSink{ctx: ctx, writer: writer})
}

func (h *ChatHandler) History(c *gin.Context) {
	messages, err := h.chat.GetHistory(c.Request.Context(), middleware.APIKeyID(c), c.Param("sessionId"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"session_id": c.Param("sessionId"), "messages": messages})
}

func (h *ChatHandler) DeleteSession(c *gin.Context) {
	if err := h.chat.DeleteSession(c.Request.Context(), middleware.APIKeyID(c), c.Param("sessionId")); err != nil {
		handleError(c, err)
		return
	}
	response.NoContent(c)
}
