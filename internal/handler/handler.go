package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"payledger/internal/repository"
	"payledger/internal/service"
	"payledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// HeaderUserID carries the authenticated caller. Authentication itself
// happens upstream; requests without it act as an internal caller and skip
// ownership checks.
const HeaderUserID = "X-User-ID"

// HeaderIdempotencyKey may carry the idempotency key instead of the body.
const HeaderIdempotencyKey = "Idempotency-Key"

var errMissingUser = errors.New("missing " + HeaderUserID + " header")

// Handler binds HTTP requests to the services.
type Handler struct {
	accounts  *service.AccountService
	ledger    *service.LedgerService
	summaries *service.SummaryService
	log       *slog.Logger
}

func NewHandler(accounts *service.AccountService, ledger *service.LedgerService,
	summaries *service.SummaryService, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		accounts:  accounts,
		ledger:    ledger,
		summaries: summaries,
		log:       log.With("component", "http"),
	}
}

// callerID returns the X-User-ID value, 0 when absent.
func callerID(c *gin.Context) (int64, error) {
	raw := strings.TrimSpace(c.GetHeader(HeaderUserID))
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New(HeaderUserID + " must be a positive integer")
	}
	return id, nil
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

// identify reads the caller and writes the error response itself on failure.
func identify(c *gin.Context, required bool) (int64, bool) {
	userID, err := callerID(c)
	if err != nil {
		response.ParamError(c, err.Error())
		return 0, false
	}
	if required && userID == 0 {
		response.Fail(c, http.StatusUnauthorized, response.CodeUnauthorized, errMissingUser.Error())
		return 0, false
	}
	return userID, true
}

// ============================================================
// Accounts
// ============================================================

type CreateAccountRequest struct {
	AccountName string `json:"account_name"`
	Currency    string `json:"currency"`
}

// CreateAccount POST /api/v1/accounts
func (h *Handler) CreateAccount(c *gin.Context) {
	userID, ok := identify(c, true)
	if !ok {
		return
	}
	var req CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request body: "+err.Error())
		return
	}
	account, err := h.accounts.Create(c.Request.Context(), service.CreateAccountCommand{
		UserID:      userID,
		AccountName: req.AccountName,
		Currency:    req.Currency,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Created(c, account)
}

// ListAccounts GET /api/v1/accounts
func (h *Handler) ListAccounts(c *gin.Context) {
	userID, ok := identify(c, true)
	if !ok {
		return
	}
	accounts, err := h.accounts.ListByUser(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, accounts)
}

// GetAccount GET /api/v1/accounts/:id
func (h *Handler) GetAccount(c *gin.Context) {
	userID, ok := identify(c, false)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	account, err := h.accounts.Get(c.Request.Context(), userID, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, account)
}

// GetBalance GET /api/v1/accounts/:id/balance
func (h *Handler) GetBalance(c *gin.Context) {
	userID, ok := identify(c, false)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	view, err := h.accounts.GetBalance(c.Request.Context(), userID, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, view)
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// UpdateAccountStatus PATCH /api/v1/accounts/:id/status
func (h *Handler) UpdateAccountStatus(c *gin.Context) {
	userID, ok := identify(c, false)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request body: "+err.Error())
		return
	}
	account, err := h.accounts.UpdateStatus(c.Request.Context(), service.UpdateStatusCommand{
		UserID:    userID,
		AccountID: id,
		Status:    strings.ToUpper(strings.TrimSpace(req.Status)),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, account)
}

// GetDailySummaries GET /api/v1/accounts/:id/summaries?from=YYYY-MM-DD&to=YYYY-MM-DD
func (h *Handler) GetDailySummaries(c *gin.Context) {
	userID, ok := identify(c, false)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	rows, err := h.summaries.List(c.Request.Context(), userID, id, c.Query("from"), c.Query("to"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, rows)
}

// ============================================================
// Transactions
// ============================================================

type MoneyRequest struct {
	AccountID      int64           `json:"account_id"`
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type TransferRequest struct {
	SourceAccountID      int64           `json:"source_account_id"`
	DestinationAccountID int64           `json:"destination_account_id"`
	Amount               decimal.Decimal `json:"amount"`
	Description          string          `json:"description"`
	IdempotencyKey       string          `json:"idempotency_key"`
}

func idempotencyKey(c *gin.Context, body string) string {
	if body != "" {
		return body
	}
	return c.GetHeader(HeaderIdempotencyKey)
}

// writeResult answers 201 for a fresh write and 200 for a replay.
func writeResult(c *gin.Context, replayed bool, data interface{}) {
	if replayed {
		response.Success(c, data)
		return
	}
	response.Created(c, data)
}

// Deposit POST /api/v1/transactions/deposit
func (h *Handler) Deposit(c *gin.Context) {
	userID, ok := identify(c, false)
	if !ok {
		return
	}
	var req MoneyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request body: "+err.Error())
		return
	}
	result, err := h.ledger.Deposit(c.Request.Context(), service.DepositCommand{
		UserID:         userID,
		AccountID:      req.AccountID,
		Amount:         req.Amount,
		Description:    req.Description,
		IdempotencyKey: idempotencyKey(c, req.IdempotencyKey),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	writeResult(c, result.Replayed, result)
}

// Withdraw POST /api/v1/transactions/withdraw
func (h *Handler) Withdraw(c *gin.Context) {
	userID, ok := identify(c, false)
	if !ok {
		return
	}
	var req MoneyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request body: "+err.Error())
		return
	}
	result, err := h.ledger.Withdraw(c.Request.Context(), service.WithdrawCommand{
		UserID:         userID,
		AccountID:      req.AccountID,
		Amount:         req.Amount,
		Description:    req.Description,
		IdempotencyKey: idempotencyKey(c, req.IdempotencyKey),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	writeResult(c, result.Replayed, result)
}

// Transfer POST /api/v1/transactions/transfer
func (h *Handler) Transfer(c *gin.Context) {
	userID, ok := identify(c, false)
	if !ok {
		return
	}
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request body: "+err.Error())
		return
	}
	result, err := h.ledger.Transfer(c.Request.Context(), service.TransferCommand{
		UserID:               userID,
		SourceAccountID:      req.SourceAccountID,
		DestinationAccountID: req.DestinationAccountID,
		Amount:               req.Amount,
		Description:          req.Description,
		IdempotencyKey:       idempotencyKey(c, req.IdempotencyKey),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	writeResult(c, result.Replayed, result)
}

// GetTransaction GET /api/v1/transactions/:id
func (h *Handler) GetTransaction(c *gin.Context) {
	userID, ok := identify(c, false)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	result, err := h.ledger.GetTransaction(c.Request.Context(), userID, id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, result)
}

// ListTransactions GET /api/v1/transactions?account_id=&type=&status=&from=&to=
// &min_amount=&max_amount=&page=&page_size=&sort_by=&sort_dir=
func (h *Handler) ListTransactions(c *gin.Context) {
	userID, ok := identify(c, false)
	if !ok {
		return
	}
	filter, err := parseFilter(c)
	if err != nil {
		response.ParamError(c, err.Error())
		return
	}
	page, err := h.ledger.ListTransactions(c.Request.Context(), userID, filter)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, page)
}

func parseFilter(c *gin.Context) (repository.TransactionFilter, error) {
	var f repository.TransactionFilter
	accountID, err := strconv.ParseInt(c.Query("account_id"), 10, 64)
	if err != nil || accountID <= 0 {
		return f, errors.New("account_id must be a positive integer")
	}
	f.AccountID = accountID
	f.Type = strings.ToUpper(c.Query("type"))
	f.Status = strings.ToUpper(c.Query("status"))

	for name, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		if raw := c.Query(name); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return f, errors.New(name + " must be an RFC 3339 timestamp")
			}
			*dst = &t
		}
	}
	for name, dst := range map[string]**decimal.Decimal{"min_amount": &f.MinAmount, "max_amount": &f.MaxAmount} {
		if raw := c.Query(name); raw != "" {
			d, err := decimal.NewFromString(raw)
			if err != nil {
				return f, errors.New(name + " must be a decimal number")
			}
			*dst = &d
		}
	}
	if raw := c.Query("page"); raw != "" {
		if f.Page, err = strconv.Atoi(raw); err != nil {
			return f, errors.New("page must be an integer")
		}
	}
	if raw := c.Query("page_size"); raw != "" {
		if f.PageSize, err = strconv.Atoi(raw); err != nil {
			return f, errors.New("page_size must be an integer")
		}
	}
	f.SortBy = c.DefaultQuery("sort_by", "createdAt")
	f.SortDesc = !strings.EqualFold(c.DefaultQuery("sort_dir", "desc"), "asc")
	return f, nil
}
