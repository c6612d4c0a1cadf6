package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"mining-api/internal/engine"
	"mining-api/internal/middleware"
	"mining-api/internal/models"
)

const testSecret = "test-secret"

type MockMiningService struct {
	mock.Mock
}

func (m *MockMiningService) Tick(ctx context.Context, userID string) (*engine.TickResult, error) {
	args := m.Called(ctx, userID)
	result, _ := args.Get(0).(*engine.TickResult)
	return result, args.Error(1)
}

func (m *MockMiningService) RecordActivity(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *MockMiningService) OnResume(ctx context.Context, userID string) (*engine.ResumeResult, error) {
	args := m.Called(ctx, userID)
	result, _ := args.Get(0).(*engine.ResumeResult)
	return result, args.Error(1)
}

func (m *MockMiningService) ReconcileNow(ctx context.Context, userID string) (*engine.ReconcileResult, error) {
	args := m.Called(ctx, userID)
	result, _ := args.Get(0).(*engine.ReconcileResult)
	return result, args.Error(1)
}

func (m *MockMiningService) GetPending(ctx context.Context, userID string) (models.PendingEarnings, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(models.PendingEarnings), args.Error(1)
}

func (m *MockMiningService) ToggleOfflineMining(ctx context.Context, userID string, enabled bool) error {
	return m.Called(ctx, userID, enabled).Error(0)
}

func (m *MockMiningService) IsOfflineMiningEnabled(ctx context.Context, userID string) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockMiningService) AttributeReferral(ctx context.Context, referrerID, referredUserID string) (*models.ReferralRecord, error) {
	args := m.Called(ctx, referrerID, referredUserID)
	result, _ := args.Get(0).(*models.ReferralRecord)
	return result, args.Error(1)
}

func (m *MockMiningService) GetBalance(ctx context.Context, userID string) (*models.BalanceView, error) {
	args := m.Called(ctx, userID)
	result, _ := args.Get(0).(*models.BalanceView)
	return result, args.Error(1)
}

func (m *MockMiningService) GetTodayEarnings(ctx context.Context, userID string) (*models.DailyEarningsEntry, error) {
	args := m.Called(ctx, userID)
	result, _ := args.Get(0).(*models.DailyEarningsEntry)
	return result, args.Error(1)
}

func (m *MockMiningService) GetTransactions(ctx context.Context, userID string, limit, offset int) ([]*models.TransactionRecord, error) {
	args := m.Called(ctx, userID, limit, offset)
	result, _ := args.Get(0).([]*models.TransactionRecord)
	return result, args.Error(1)
}

func (m *MockMiningService) GetReferrals(ctx context.Context, userID string) ([]*models.ReferralRecord, error) {
	args := m.Called(ctx, userID)
	result, _ := args.Get(0).([]*models.ReferralRecord)
	return result, args.Error(1)
}

func setupRouter(t *testing.T, service MiningService) (*gin.Engine, *middleware.AuthMiddleware) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	auth := middleware.NewAuthMiddleware(testSecret, "")
	router := gin.New()
	api := router.Group("/api", auth.JWTAuth())
	NewMiningController(service).RegisterRoutes(api, auth)
	return router, auth
}

func doRequest(t *testing.T, router *gin.Engine, auth *middleware.AuthMiddleware, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		token, err := auth.GenerateJWT(userID, "", time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestMiningController_Auth(t *testing.T) {
	service := new(MockMiningService)
	router, auth := setupRouter(t, service)

	t.Run("missing token", func(t *testing.T) {
		w := doRequest(t, router, auth, http.MethodGet, "/api/mining/user-1/balance", "", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("other user's resources", func(t *testing.T) {
		w := doRequest(t, router, auth, http.MethodGet, "/api/mining/user-1/balance", "user-2", "")
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := middleware.NewAuthMiddleware("another-secret", "")
		w := doRequest(t, router, other, http.MethodGet, "/api/mining/user-1/balance", "user-1", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	service.AssertNotCalled(t, "GetBalance", mock.Anything, mock.Anything)
}

func TestMiningController_GetBalance(t *testing.T) {
	service := new(MockMiningService)
	router, auth := setupRouter(t, service)

	service.On("GetBalance", mock.Anything, "user-1").Return(&models.BalanceView{
		UserID:          "user-1",
		TotalBalance:    decimal.RequireFromString("19.20071"),
		MiningBalance:   decimal.RequireFromString("19.20071"),
		ReferralBalance: decimal.Zero,
		Currency:        "STARZ",
	}, nil)

	w := doRequest(t, router, auth, http.MethodGet, "/api/mining/user-1/balance", "user-1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "19.20071", body["total_balance"])
	assert.Equal(t, "STARZ", body["currency"])
	service.AssertExpectations(t)
}

func TestMiningController_ErrorMapping(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
	}{
		{"invalid referrer", engine.ErrInvalidReferrer, http.StatusBadRequest},
		{"already referred", engine.ErrAlreadyReferred, http.StatusConflict},
		{"conflict", &engine.SyncError{Kind: engine.SyncConflict, Op: "attribute referral", Err: errors.New("version changed")}, http.StatusConflict},
		{"unavailable", &engine.SyncError{Kind: engine.SyncUnavailable, Op: "attribute referral", Err: errors.New("timeout")}, http.StatusServiceUnavailable},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := new(MockMiningService)
			router, auth := setupRouter(t, service)
			service.On("AttributeReferral", mock.Anything, "referrer-1", "new-user").Return(nil, tt.err)

			w := doRequest(t, router, auth, http.MethodPost, "/api/referrals", "new-user", `{"referrer_id":"referrer-1"}`)
			assert.Equal(t, tt.expectedStatus, w.Code)

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, "Failed to attribute referral", body.Error)
			service.AssertExpectations(t)
		})
	}
}

func TestMiningController_AttributeReferral(t *testing.T) {
	service := new(MockMiningService)
	router, auth := setupRouter(t, service)

	service.On("AttributeReferral", mock.Anything, "referrer-1", "new-user").Return(&models.ReferralRecord{
		ID:             "ref-1",
		ReferrerID:     "referrer-1",
		ReferredUserID: "new-user",
		Status:         models.ReferralStatusActive,
		BonusAmount:    decimal.NewFromInt(50),
	}, nil)

	w := doRequest(t, router, auth, http.MethodPost, "/api/referrals", "new-user", `{"referrer_id":"referrer-1"}`)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(t, router, auth, http.MethodPost, "/api/referrals", "new-user", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	service.AssertNumberOfCalls(t, "AttributeReferral", 1)
}

func TestMiningController_ResumeKeepsRewardWhenReconcileFails(t *testing.T) {
	service := new(MockMiningService)
	router, auth := setupRouter(t, service)

	service.On("OnResume", mock.Anything, "user-1").Return(&engine.ResumeResult{
		UserID:  "user-1",
		Enabled: true,
		Reward:  decimal.RequireFromString("4.8"),
	}, nil)
	service.On("ReconcileNow", mock.Anything, "user-1").
		Return(nil, &engine.SyncError{Kind: engine.SyncUnavailable, Op: "reconcile", UserID: "user-1", Err: errors.New("timeout")})

	w := doRequest(t, router, auth, http.MethodPost, "/api/mining/user-1/resume", "user-1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body["reconcile_error"])
	assert.Nil(t, body["reconcile"])
	resume := body["resume"].(map[string]interface{})
	assert.Equal(t, "4.8", resume["reward"])
	service.AssertExpectations(t)
}

func TestMiningController_SetOfflineMining(t *testing.T) {
	service := new(MockMiningService)
	router, auth := setupRouter(t, service)

	service.On("ToggleOfflineMining", mock.Anything, "user-1", false).Return(nil)

	w := doRequest(t, router, auth, http.MethodPut, "/api/mining/user-1/offline", "user-1", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, w.Code)

	var body OfflineMiningResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Enabled)

	w = doRequest(t, router, auth, http.MethodPut, "/api/mining/user-1/offline", "user-1", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	service.AssertExpectations(t)
}

func TestMiningController_GetTransactionsClampsPaging(t *testing.T) {
	service := new(MockMiningService)
	router, auth := setupRouter(t, service)

	service.On("GetTransactions", mock.Anything, "user-1", defaultTransactionLimit, 0).
		Return([]*models.TransactionRecord{}, nil)

	w := doRequest(t, router, auth, http.MethodGet, "/api/mining/user-1/transactions?limit=100000&offset=-3", "user-1", "")
	assert.Equal(t, http.StatusOK, w.Code)
	service.AssertExpectations(t)
}

func TestMiningController_GetPending(t *testing.T) {
	service := new(MockMiningService)
	router, auth := setupRouter(t, service)

	service.On("GetPending", mock.Anything, "user-1").Return(models.PendingEarnings{
		UserID:  "user-1",
		Live:    decimal.RequireFromString("0.0014"),
		Offline: decimal.RequireFromString("19.2"),
	}, nil)

	w := doRequest(t, router, auth, http.MethodGet, "/api/mining/user-1/pending", "user-1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "19.2014", body["total"])
	assert.Equal(t, "19.2", body["offline"])
}
