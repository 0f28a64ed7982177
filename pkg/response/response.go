package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess         = 0
	CodeParamError      = 400
	CodeUnauthorized    = 401
	CodeForbidden       = 403
	CodeNotFound        = 404
	CodeConflict        = 409
	CodeTooManyRequests = 429
	CodeServerError     = 500
	CodeBusinessError   = 1000
)

const (
	CodeAccountNotFound         = 1001
	CodeTransactionNotFound     = 1002
	CodeInsufficientFunds       = 1003
	CodeAccountFrozen           = 1004
	CodeCurrencyMismatch        = 1005
	CodeConcurrencyConflict     = 1006
	CodeDuplicateRequest        = 1007
	CodeInvalidStatusTransition = 1008
	CodeIncompleteTransfer      = 1009
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Created is Success with 201, used when a request wrote new state.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Fail writes an error envelope with the given HTTP status and business code.
func Fail(c *gin.Context, status, code int, message string) {
	c.JSON(status, Response{
		Code:    code,
		Message: message,
	})
}

// Abort is Fail for middleware: it also stops the handler chain.
func Abort(c *gin.Context, status, code int, message string) {
	c.AbortWithStatusJSON(status, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Fail(c, http.StatusBadRequest, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Fail(c, http.StatusInternalServerError, CodeServerError, message)
}
