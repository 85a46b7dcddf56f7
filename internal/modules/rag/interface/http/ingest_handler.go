package http

import (
	"strings"

	"VnStockRAG/internal/modules/rag/application/service"
	"VnStockRAG/pkg/back"
	"VnStockRAG/pkg/xerr"
	"VnStockRAG/pkg/zlog"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// IngestHandler serves CSV batch uploads.
type IngestHandler struct {
	svc service.IngestService
}

func NewIngestHandler(svc service.IngestService) *IngestHandler {
	return &IngestHandler{svc: svc}
}

// Ingest indexes a CSV upload. `async=true` publishes the batch to Kafka
// instead of indexing inline.
//
// POST /rag/ingest  (multipart form, field "file")
func (h *IngestHandler) Ingest(c *gin.Context) {
	userID := strings.TrimSpace(c.GetString("user_id"))
	if userID == "" {
		back.Error(c, xerr.Unauthorized, "chưa đăng nhập")
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		back.Error(c, xerr.BadRequest, "thiếu file CSV")
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		zlog.Error("ingest open upload failed", zap.Error(err))
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	defer f.Close()

	async := c.Query("async") == "true"

	var data interface{}
	if async {
		data, err = h.svc.IngestCSVAsync(c.Request.Context(), f)
	} else {
		data, err = h.svc.IngestCSV(c.Request.Context(), f)
	}
	if err != nil {
		zlog.Error("ingest failed",
			zap.Error(err),
			zap.String("user_id", userID),
			zap.String("filename", fileHeader.Filename),
			zap.Bool("async", async))
	}
	back.Result(c, data, err)
}
