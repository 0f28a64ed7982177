package handler

import (
	"errors"
	"net/http"

	"payledger/internal/service"
	"payledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// retryAfterConflict is the Retry-After value, in seconds, sent with
// conflicts that clear on their own.
const retryAfterConflict = "1"

type errorMapping struct {
	target error
	status int
	code   int
}

// errorMappings is checked in order; the first sentinel matched by
// errors.Is decides the response.
var errorMappings = []errorMapping{
	{service.ErrInvalidArgument, http.StatusBadRequest, response.CodeParamError},
	{service.ErrAccountNotFound, http.StatusNotFound, response.CodeAccountNotFound},
	{service.ErrTransactionNotFound, http.StatusNotFound, response.CodeTransactionNotFound},
	{service.ErrAccountFrozen, http.StatusForbidden, response.CodeAccountFrozen},
	{service.ErrInsufficientFunds, http.StatusConflict, response.CodeInsufficientFunds},
	{service.ErrCurrencyMismatch, http.StatusBadRequest, response.CodeCurrencyMismatch},
	{service.ErrInvalidStatusTransition, http.StatusConflict, response.CodeInvalidStatusTransition},
	{service.ErrConcurrencyConflict, http.StatusConflict, response.CodeConcurrencyConflict},
	{service.ErrConcurrentDuplicate, http.StatusConflict, response.CodeDuplicateRequest},
	{service.ErrIncompleteTransfer, http.StatusInternalServerError, response.CodeIncompleteTransfer},
}

// writeError maps a ledger rule failure to its status and code. Anything
// else is an infrastructure error: logged and reported without detail.
// Failures a client may simply resend also carry Retry-After.
func (h *Handler) writeError(c *gin.Context, err error) {
	if service.IsBusinessError(err) {
		if service.IsRetryable(err) {
			c.Header("Retry-After", retryAfterConflict)
		}
		for _, m := range errorMappings {
			if errors.Is(err, m.target) {
				if m.status >= http.StatusInternalServerError {
					h.log.Error("request failed", "path", c.FullPath(), "error", err)
				}
				response.Fail(c, m.status, m.code, err.Error())
				return
			}
		}
	}
	h.log.Error("request failed", "path", c.FullPath(), "error", err)
	response.ServerError(c, "internal error")
}
