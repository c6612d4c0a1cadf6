package controller

import (
	"context"
	"net/http"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"mining-api/internal/engine"
	"mining-api/internal/scheduler"
)

// Sweeper runs one reconciliation pass over every user with pending earnings
type Sweeper interface {
	Sweep(ctx context.Context) (*scheduler.SweepResult, error)
}

// AdminReconciler is the part of the mining engine the admin API drives
type AdminReconciler interface {
	ReconcileNow(ctx context.Context, userID string) (*engine.ReconcileResult, error)
	PendingUsers(ctx context.Context) ([]string, error)
}

type AdminController struct {
	mining  AdminReconciler
	sweeper Sweeper
}

func NewAdminController(mining AdminReconciler, sweeper Sweeper) *AdminController {
	return &AdminController{
		mining:  mining,
		sweeper: sweeper,
	}
}

func (c *AdminController) RegisterRoutes(admin *gin.RouterGroup) {
	admin.GET("/pending", c.GetPendingUsers)
	admin.POST("/sweep", c.ReconcileAll)
	admin.POST("/users/:userId/reconcile", c.ReconcileUser)
}

// @Summary Users with pending earnings
// @Tags admin
// @Produce json
// @Success 200 {object} PendingUsersResponse
// @Failure 503 {object} ErrorResponse
// @Security InternalAPI
// @Router /api/admin/pending [get]
func (c *AdminController) GetPendingUsers(ctx *gin.Context) {
	users, err := c.mining.PendingUsers(ctx.Request.Context())
	if err != nil {
		ctx.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "Failed to list pending users",
			Message: err.Error(),
		})
		return
	}
	ctx.JSON(http.StatusOK, PendingUsersResponse{Users: users, Count: len(users)})
}

// @Summary Reconcile user
// @Description Force a reconciliation of a single user's pending earnings
// @Tags admin
// @Produce json
// @Param userId path string true "User ID"
// @Success 200 {object} engine.ReconcileResult
// @Failure 409 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Security InternalAPI
// @Router /api/admin/users/{userId}/reconcile [post]
func (c *AdminController) ReconcileUser(ctx *gin.Context) {
	userID := ctx.Param("userId")

	result, err := c.mining.ReconcileNow(ctx.Request.Context(), userID)
	if err != nil {
		status := http.StatusServiceUnavailable
		if engine.IsConflict(err) {
			status = http.StatusConflict
		}
		ctx.JSON(status, ErrorResponse{
			Error:     "Failed to reconcile user",
			Message:   err.Error(),
			RequestID: requestid.Get(ctx),
		})
		return
	}

	c.logAdminAction(ctx, "user_reconciliation", logrus.Fields{
		"user_id": userID,
		"no_op":   result.NoOp,
		"applied": result.AppliedAmount.String(),
	})

	ctx.JSON(http.StatusOK, result)
}

// @Summary Reconcile all users
// @Description Run one reconciliation sweep over every user with pending earnings
// @Tags admin
// @Produce json
// @Success 200 {object} scheduler.SweepResult
// @Failure 503 {object} ErrorResponse
// @Security InternalAPI
// @Router /api/admin/sweep [post]
func (c *AdminController) ReconcileAll(ctx *gin.Context) {
	result, err := c.sweeper.Sweep(ctx.Request.Context())
	if err != nil {
		ctx.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:     "Batch reconciliation failed",
			Message:   err.Error(),
			RequestID: requestid.Get(ctx),
		})
		return
	}

	c.logAdminAction(ctx, "batch_reconciliation", logrus.Fields{
		"users":   result.Users,
		"applied": result.Applied,
		"failed":  result.Failed,
	})

	ctx.JSON(http.StatusOK, result)
}

func (c *AdminController) logAdminAction(ctx *gin.Context, action string, details logrus.Fields) {
	logrus.WithFields(logrus.Fields{
		"type":         "admin_action",
		"action":       action,
		"service_name": ctx.GetString("service_name"),
		"request_id":   requestid.Get(ctx),
		"client_ip":    ctx.ClientIP(),
	}).WithFields(details).Info("Admin action performed")
}

type PendingUsersResponse struct {
	Users []string `json:"users"`
	Count int      `json:"count"`
}
