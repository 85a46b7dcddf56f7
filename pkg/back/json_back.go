package back

import (
	"errors"
	"net/http"

	"VnStockRAG/pkg/xerr"

	"github.com/gin-gonic/gin"
)

// Response is the unified JSON envelope for all non-streaming endpoints.
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Result picks Success or Error based on err.
func Result(c *gin.Context, data interface{}, err error) {
	if err == nil {
		Success(c, data)
		return
	}

	var ce *xerr.CodeError
	if errors.As(err, &ce) {
		Error(c, ce.Code, ce.Message)
		return
	}

	Error(c, xerr.ErrServerError.Code, xerr.ErrServerError.Message)
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    xerr.OK,
		Message: "Success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}
