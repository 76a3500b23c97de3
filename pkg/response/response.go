package response

import (
	"errors"
	"net/http"

	"tokenledger/internal/gateway"
	"tokenledger/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeUnauthorized  = 401
	CodeForbidden     = 403
	CodeNotFound      = 404
	CodeServerError   = 500
	CodeUnavailable   = 503
	CodeBusinessError = 1000
)

const (
	CodeInsufficientBalance = 1001
	CodeAdNotFound          = 1002
	CodeAdNotPending        = 1003
	CodePackageNotFound     = 1004
	CodeIntentExpired       = 1005
	CodeOwnerMismatch       = 1006
	CodeMissingTransaction  = 1007
	CodeInvalidSignature    = 1008
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Hint    string      `json:"hint,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
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

// Unavailable 存储不可用，客户端可以重试
func Unavailable(c *gin.Context, message string) {
	c.JSON(http.StatusServiceUnavailable, Response{
		Code:    CodeUnavailable,
		Message: message,
		Hint:    "retry",
	})
}

var errorCodes = []struct {
	target error
	code   int
}{
	{service.ErrInsufficientBalance, CodeInsufficientBalance},
	{service.ErrAdNotFound, CodeAdNotFound},
	{service.ErrAdNotPending, CodeAdNotPending},
	{service.ErrPackageNotFound, CodePackageNotFound},
	{service.ErrExpiredOrMismatchedIntent, CodeIntentExpired},
	{service.ErrTransactionOwnerMismatch, CodeOwnerMismatch},
	{gateway.ErrMissingTransactionID, CodeMissingTransaction},
	{service.ErrInvalidArgument, CodeParamError},
}

// CodeFor 错误对应的业务码
func CodeFor(err error) int {
	if errors.Is(err, service.ErrStorageUnavailable) {
		return CodeUnavailable
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.target) {
			return ec.code
		}
	}
	return CodeServerError
}

// FromError 按错误类型输出；只有存储不可用返回 HTTP 503
func FromError(c *gin.Context, err error, hint string) {
	code := CodeFor(err)
	if code == CodeUnavailable {
		Unavailable(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: err.Error(),
		Hint:    hint,
	})
}
