package http

import (
	"strings"

	"VnStockRAG/internal/modules/rag/application/dto/request"
	"VnStockRAG/internal/modules/rag/application/service"
	"VnStockRAG/pkg/back"
	"VnStockRAG/pkg/xerr"
	"VnStockRAG/pkg/zlog"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ChatHandler serves the conversational endpoints.
type ChatHandler struct {
	svc service.ChatService
}

func NewChatHandler(svc service.ChatService) *ChatHandler {
	return &ChatHandler{svc: svc}
}

// Ask answers one question without streaming.
//
// POST /rag/ask
func (h *ChatHandler) Ask(c *gin.Context) {
	var req request.AskRequest
	if err := c.BindJSON(&req); err != nil {
		zlog.Error("ask bind error", zap.Error(err))
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}

	userID := strings.TrimSpace(c.GetString("user_id"))
	if userID == "" {
		back.Error(c, xerr.Unauthorized, "chưa đăng nhập")
		return
	}

	data, err := h.svc.Ask(c.Request.Context(), req, userID)
	if err != nil {
		zlog.Error("ask failed", zap.Error(err), zap.String("user_id", userID))
	}
	back.Result(c, data, err)
}

// AskStream answers one question as an SSE token stream. Events: "delta"
// carries one token, "done" the full answer with sources and timings,
// "error" a terminal failure.
//
// POST /rag/ask/stream
func (h *ChatHandler) AskStream(c *gin.Context) {
	var req request.AskRequest
	if err := c.BindJSON(&req); err != nil {
		zlog.Error("ask stream bind error", zap.Error(err))
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}

	userID := strings.TrimSpace(c.GetString("user_id"))
	if userID == "" {
		back.Error(c, xerr.Unauthorized, "chưa đăng nhập")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Transfer-Encoding", "chunked")

	eventChan, err := h.svc.AskStream(c.Request.Context(), req, userID)
	if err != nil {
		zlog.Error("ask stream failed", zap.Error(err), zap.String("user_id", userID))
		c.SSEvent("error", map[string]string{"error": err.Error()})
		c.Writer.Flush()
		return
	}

	for event := range eventChan {
		c.SSEvent(event.Event, event.Data)
		c.Writer.Flush()
		if event.Event == "error" {
			return
		}
	}
}

// GetHistory returns the full log of one session.
//
// GET /rag/history/:session_id
func (h *ChatHandler) GetHistory(c *gin.Context) {
	userID := strings.TrimSpace(c.GetString("user_id"))
	if userID == "" {
		back.Error(c, xerr.Unauthorized, "chưa đăng nhập")
		return
	}
	sessionID := strings.TrimSpace(c.Param("session_id"))
	if sessionID == "" {
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}

	data, err := h.svc.GetHistory(c.Request.Context(), userID, sessionID)
	if err != nil {
		zlog.Error("get history failed", zap.Error(err), zap.String("user_id", userID))
	}
	back.Result(c, data, err)
}

// ClearHistory wipes one session.
//
// DELETE /rag/history/:session_id
func (h *ChatHandler) ClearHistory(c *gin.Context) {
	userID := strings.TrimSpace(c.GetString("user_id"))
	if userID == "" {
		back.Error(c, xerr.Unauthorized, "chưa đăng nhập")
		return
	}
	sessionID := strings.TrimSpace(c.Param("session_id"))
	if sessionID == "" {
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}

	err := h.svc.ClearHistory(c.Request.Context(), userID, sessionID)
	if err != nil {
		zlog.Error("clear history failed", zap.Error(err), zap.String("user_id", userID))
	}
	back.Result(c, gin.H{"session_id": sessionID}, err)
}

// ListSessions inventories the caller's sessions.
//
// GET /rag/sessions
func (h *ChatHandler) ListSessions(c *gin.Context) {
	userID := strings.TrimSpace(c.GetString("user_id"))
	if userID == "" {
		back.Error(c, xerr.Unauthorized, "chưa đăng nhập")
		return
	}

	data, err := h.svc.ListSessions(c.Request.Context(), userID)
	if err != nil {
		zlog.Error("list sessions failed", zap.Error(err), zap.String("user_id", userID))
	}
	back.Result(c, data, err)
}
