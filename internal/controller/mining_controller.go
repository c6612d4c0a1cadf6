package controller

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"mining-api/internal/engine"
	"mining-api/internal/middleware"
	"mining-api/internal/models"
)

const (
	defaultTransactionLimit = 50
	maxTransactionLimit     = 200
)

// MiningService is the part of the mining engine the HTTP layer drives
type MiningService interface {
	Tick(ctx context.Context, userID string) (*engine.TickResult, error)
	RecordActivity(ctx context.Context, userID string) error
	OnResume(ctx context.Context, userID string) (*engine.ResumeResult, error)
	ReconcileNow(ctx context.Context, userID string) (*engine.ReconcileResult, error)
	GetPending(ctx context.Context, userID string) (models.PendingEarnings, error)
	ToggleOfflineMining(ctx context.Context, userID string, enabled bool) error
	IsOfflineMiningEnabled(ctx context.Context, userID string) (bool, error)
	AttributeReferral(ctx context.Context, referrerID, referredUserID string) (*models.ReferralRecord, error)
	GetBalance(ctx context.Context, userID string) (*models.BalanceView, error)
	GetTodayEarnings(ctx context.Context, userID string) (*models.DailyEarningsEntry, error)
	GetTransactions(ctx context.Context, userID string, limit, offset int) ([]*models.TransactionRecord, error)
	GetReferrals(ctx context.Context, userID string) ([]*models.ReferralRecord, error)
}

type MiningController struct {
	mining MiningService
}

func NewMiningController(mining MiningService) *MiningController {
	return &MiningController{mining: mining}
}

// RegisterRoutes mounts the mining routes on an authenticated group
func (c *MiningController) RegisterRoutes(api *gin.RouterGroup, auth *middleware.AuthMiddleware) {
	user := api.Group("/mining/:userId", auth.ValidateUserAccess())
	{
		user.POST("/tick", c.Tick)
		user.POST("/activity", c.RecordActivity)
		user.POST("/resume", c.Resume)
		user.POST("/reconcile", c.Reconcile)
		user.GET("/pending", c.GetPending)
		user.GET("/offline", c.GetOfflineMining)
		user.PUT("/offline", c.SetOfflineMining)
		user.GET("/balance", c.GetBalance)
		user.GET("/earnings/today", c.GetTodayEarnings)
		user.GET("/transactions", c.GetTransactions)
		user.GET("/referrals", c.GetReferrals)
	}

	api.POST("/referrals", c.AttributeReferral)
}

// @Summary Live mining tick
// @Description Accrue live mining since the previous tick of the session
// @Tags mining
// @Produce json
// @Param userId path string true "User ID"
// @Success 200 {object} engine.TickResult
// @Failure 503 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/mining/{userId}/tick [post]
func (c *MiningController) Tick(ctx *gin.Context) {
	result, err := c.mining.Tick(ctx.Request.Context(), ctx.Param("userId"))
	if err != nil {
		c.respondError(ctx, "Failed to record tick", err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

// @Summary Record activity
// @Description Stamp the user as active now
// @Tags mining
// @Param userId path string true "User ID"
// @Success 204
// @Failure 503 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/mining/{userId}/activity [post]
func (c *MiningController) RecordActivity(ctx *gin.Context) {
	if err := c.mining.RecordActivity(ctx.Request.Context(), ctx.Param("userId")); err != nil {
		c.respondError(ctx, "Failed to record activity", err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

// @Summary Resume session
// @Description Stage the offline catch-up reward and try to confirm it
// @Tags mining
// @Produce json
// @Param userId path string true "User ID"
// @Success 200 {object} ResumeResponse
// @Failure 503 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/mining/{userId}/resume [post]
func (c *MiningController) Resume(ctx *gin.Context) {
	userID := ctx.Param("userId")

	resume, err := c.mining.OnResume(ctx.Request.Context(), userID)
	if err != nil {
		c.respondError(ctx, "Failed to resume session", err)
		return
	}

	response := ResumeResponse{Resume: resume}

	// The reward is already staged; a failed confirmation is retried later
	reconcile, err := c.mining.ReconcileNow(ctx.Request.Context(), userID)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"user_id":    userID,
			"request_id": requestid.Get(ctx),
			"error":      err.Error(),
		}).Warn("Reconciliation after resume failed, earnings remain pending")
		response.ReconcileError = err.Error()
	} else {
		response.Reconcile = reconcile
	}

	ctx.JSON(http.StatusOK, response)
}

// @Summary Reconcile now
// @Description Move pending earnings into the durable balance
// @Tags mining
// @Produce json
// @Param userId path string true "User ID"
// @Success 200 {object} engine.ReconcileResult
// @Failure 409 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/mining/{userId}/reconcile [post]
func (c *MiningController) Reconcile(ctx *gin.Context) {
	result, err := c.mining.ReconcileNow(ctx.Request.Context(), ctx.Param("userId"))
	if err != nil {
		c.respondError(ctx, "Failed to reconcile balance", err)
		return
	}
	ctx.JSON(http.StatusOK, result)
}

// @Summary Pending earnings
// @Description Earnings not yet confirmed in the balance, by source
// @Tags mining
// @Produce json
// @Param userId path string true "User ID"
// @Success 200 {object} PendingResponse
// @Failure 503 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/mining/{userId}/pending [get]
func (c *MiningController) GetPending(ctx *gin.Context) {
	userID := ctx.Param("userId")

	pending, err := c.mining.GetPending(ctx.Request.Context(), userID)
	if err != nil {
		c.respondError(ctx, "Failed to get pending earnings", err)
		return
	}

	ctx.JSON(http.StatusOK, PendingResponse{
		UserID:  userID,
		Live:    pending.Live,
		Offline: pending.Offline,
		Total:   pending.Total(),
	})
}

// @Summary Offline mining preference
// @Tags mining
// @Produce json
// @Param userId path string true "User ID"
// @Success 200 {object} OfflineMiningResponse
// @Failure 503 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/mining/{userId}/offline [get]
func (c *MiningController) GetOfflineMining(ctx *gin.Context) {
	userID := ctx.Param("userId")

	enabled, err := c.mining.IsOfflineMiningEnabled(ctx.Request.Context(), userID)
	if err != nil {
		c.respondError(ctx, "Failed to get offline mining preference", err)
		return
	}
	ctx.JSON(http.StatusOK, OfflineMiningResponse{UserID: userID, Enabled: enabled})
}

// @Summary Toggle offline mining
// @Tags mining
// @Accept json
// @Produce json
// @Param userId path string true "User ID"
// @Param request body OfflineMiningRequest true "Preference"
// @Success 200 {object} OfflineMiningResponse
// @Failure 400 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/mining/{userId}/offline [put]
func (c *MiningController) SetOfflineMining(ctx *gin.Context) {
	var req OfflineMiningRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request format",
			Message: err.Error(),
		})
		return
	}

	userID := ctx.Param("userId")
	if err := c.mining.ToggleOfflineMining(ctx.Request.Context(), userID, *req.Enabled); err != nil {
		c.respondError(ctx, "Failed to update offline mining preference", err)
		return
	}
	ctx.JSON(http.StatusOK, OfflineMiningResponse{UserID: userID, Enabled: *req.Enabled})
}

// @Summary Get balance
// @Description Current confirmed balance, created at the floor on first use
// @Tags mining
// @Produce json
// @Param userId path string true "User ID"
// @Success 200 {object} models.BalanceView
// @Failure 503 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/mining/{userId}/balance [get]
func (c *MiningController) GetBalance(ctx *gin.Context) {
	balance, err := c.mining.GetBalance(ctx.Request.Context(), ctx.Param("userId"))
	if err != nil {
		c.respondError(ctx, "Failed to get balance", err)
		return
	}
	ctx.JSON(http.StatusOK, balance)
}

// @Summary Today's earnings
// @Tags mining
// @Produce json
// @Param userId path string true "User ID"
// @Success 200 {object} models.DailyEarningsEntry
// @Failure 503 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/mining/{userId}/earnings/today [get]
func (c *MiningController) GetTodayEarnings(ctx *gin.Context) {
	entry, err := c.mining.GetTodayEarnings(ctx.Request.Context(), ctx.Param("userId"))
	if err != nil {
		c.respondError(ctx, "Failed to get today's earnings", err)
		return
	}
	ctx.JSON(http.StatusOK, entry)
}

// @Summary Transaction history
// @Description Ledger entries of the user, newest first
// @Tags mining
// @Produce json
// @Param userId path string true "User ID"
// @Param limit query int false "Page size" default(50)
// @Param offset query int false "Offset" default(0)
// @Success 200 {object} TransactionsResponse
// @Failure 503 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/mining/{userId}/transactions [get]
func (c *MiningController) GetTransactions(ctx *gin.Context) {
	userID := ctx.Param("userId")

	limit := c.getQueryInt(ctx, "limit", defaultTransactionLimit)
	if limit <= 0 || limit > maxTransactionLimit {
		limit = defaultTransactionLimit
	}
	offset := c.getQueryInt(ctx, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	txs, err := c.mining.GetTransactions(ctx.Request.Context(), userID, limit, offset)
	if err != nil {
		c.respondError(ctx, "Failed to get transactions", err)
		return
	}

	ctx.JSON(http.StatusOK, TransactionsResponse{
		UserID:       userID,
		Transactions: txs,
		Limit:        limit,
		Offset:       offset,
	})
}

// @Summary Referrals made by the user
// @Tags referrals
// @Produce json
// @Param userId path string true "User ID"
// @Success 200 {array} models.ReferralRecord
// @Failure 503 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/mining/{userId}/referrals [get]
func (c *MiningController) GetReferrals(ctx *gin.Context) {
	referrals, err := c.mining.GetReferrals(ctx.Request.Context(), ctx.Param("userId"))
	if err != nil {
		c.respondError(ctx, "Failed to get referrals", err)
		return
	}
	ctx.JSON(http.StatusOK, referrals)
}

// @Summary Attribute a referral
// @Description Attribute the authenticated user to a referrer and credit the referral bonus
// @Tags referrals
// @Accept json
// @Produce json
// @Param request body ReferralRequest true "Referrer"
// @Success 201 {object} models.ReferralRecord
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Security BearerAuth
// @Router /api/referrals [post]
func (c *MiningController) AttributeReferral(ctx *gin.Context) {
	referredUserID, ok := middleware.UserID(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "User ID not found",
			Message: "User ID not available in token",
		})
		return
	}

	var req ReferralRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request format",
			Message: err.Error(),
		})
		return
	}

	record, err := c.mining.AttributeReferral(ctx.Request.Context(), req.ReferrerID, referredUserID)
	if err != nil {
		c.respondError(ctx, "Failed to attribute referral", err)
		return
	}
	ctx.JSON(http.StatusCreated, record)
}

// respondError maps engine errors to status codes
func (c *MiningController) respondError(ctx *gin.Context, errMsg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrInvalidReferrer), errors.Is(err, engine.ErrInvalidAmount):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrAlreadyReferred):
		status = http.StatusConflict
	case engine.IsConflict(err):
		status = http.StatusConflict
	case engine.IsUnavailable(err):
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		_ = ctx.Error(err)
	}

	ctx.JSON(status, ErrorResponse{
		Error:     errMsg,
		Message:   err.Error(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: requestid.Get(ctx),
	})
}

func (c *MiningController) getQueryInt(ctx *gin.Context, key string, defaultValue int) int {
	if valueStr := ctx.Query(key); valueStr != "" {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

// Request/Response types

type OfflineMiningRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

type ReferralRequest struct {
	ReferrerID string `json:"referrer_id" binding:"required"`
}

type ResumeResponse struct {
	Resume         *engine.ResumeResult    `json:"resume"`
	Reconcile      *engine.ReconcileResult `json:"reconcile,omitempty"`
	ReconcileError string                  `json:"reconcile_error,omitempty"`
}

type PendingResponse struct {
	UserID  string          `json:"user_id"`
	Live    decimal.Decimal `json:"live"`
	Offline decimal.Decimal `json:"offline"`
	Total   decimal.Decimal `json:"total"`
}

type OfflineMiningResponse struct {
	UserID  string `json:"user_id"`
	Enabled bool   `json:"enabled"`
}

type TransactionsResponse struct {
	UserID       string                      `json:"user_id"`
	Transactions []*models.TransactionRecord `json:"transactions"`
	Limit        int                         `json:"limit"`
	Offset       int                         `json:"offset"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}
