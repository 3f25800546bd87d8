package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeUnauthorized  = 401
	CodeForbidden     = 403
	CodeNotFound      = 404
	CodeServerError   = 500
	CodeServiceBusy   = 503
	CodeBusinessError = 1000
)

const (
	CodeInsufficientFunds      = 1001
	CodeInsufficientHeld       = 1002
	CodeDuplicateRequest       = 1003
	CodeAlreadyRefunded        = 1004
	CodeOriginalNotFound       = 1005
	CodeReleaseExceedsHold     = 1006
	CodeSettlementInProgress   = 1007
	CodeSettlementInconsistent = 1008
	CodeSettlementNotFound     = 1009
	CodeRefundPartiallyFailed  = 1010
)

type Response struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

func requestID(c *gin.Context) string {
	return c.GetString("request_id")
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:      CodeSuccess,
		Message:   "success",
		Data:      data,
		RequestID: requestID(c),
	})
}

func Error(c *gin.Context, code int, message string) {
	ErrorWithData(c, code, message, nil)
}

// ErrorWithData reports a failure that still carries a payload, such as the
// legs of an incomplete settlement.
func ErrorWithData(c *gin.Context, code int, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:      code,
		Message:   message,
		Data:      data,
		RequestID: requestID(c),
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}
