package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tokenledger/internal/config"
	"tokenledger/internal/gateway"
	"tokenledger/internal/intent"
	"tokenledger/internal/paystatus"
	"tokenledger/internal/testutil"
	"tokenledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Hint    string          `json:"hint"`
	Data    json.RawMessage `json:"data"`
}

func setupRouter(t *testing.T, mutate func(*config.Config)) (*gin.Engine, *gorm.DB) {
	t.Helper()
	db := testutil.OpenDB(t)
	cfg := testutil.Config()
	if mutate != nil {
		mutate(cfg)
	}
	tracker := intent.NewTracker(cfg.Intent.Secret, cfg.Intent.TTL)
	return SetupRouter(db, nil, cfg, tracker), db
}

func do(t *testing.T, r *gin.Engine, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func postJSON(path string, body interface{}) *http.Request {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestGetBalance(t *testing.T) {
	r, db := setupRouter(t, nil)
	testutil.SeedBalance(t, db, "u1", 12)

	w, env := do(t, r, httptest.NewRequest(http.MethodGet, "/api/v1/balance?user_id=u1", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, response.CodeSuccess, env.Code)

	var data struct {
		Balance int64 `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, int64(12), data.Balance)

	_, env = do(t, r, httptest.NewRequest(http.MethodGet, "/api/v1/balance", nil))
	assert.Equal(t, response.CodeParamError, env.Code)
}

func TestGetBalance_StorageUnavailable(t *testing.T) {
	r, db := setupRouter(t, nil)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	w, env := do(t, r, httptest.NewRequest(http.MethodGet, "/api/v1/balance?user_id=u1", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, response.CodeUnavailable, env.Code)
	assert.Equal(t, "retry", env.Hint)
}

func TestActivateAd(t *testing.T) {
	r, db := setupRouter(t, nil)
	testutil.SeedBalance(t, db, "u1", 3)
	poor := testutil.SeedAd(t, db, "u1")

	_, env := do(t, r, postJSON("/api/v1/ads/activate", gin.H{
		"ad_id": poor.ID, "user_id": "u1", "token_cost": 5, "duration_days": 7,
	}))
	assert.Equal(t, response.CodeInsufficientBalance, env.Code)
	assert.Equal(t, paystatus.HintTopUp, env.Hint)

	testutil.SeedBalance(t, db, "u2", 10)
	ad := testutil.SeedAd(t, db, "u2")
	_, env = do(t, r, postJSON("/api/v1/ads/activate", gin.H{
		"ad_id": ad.ID, "user_id": "u2", "token_cost": 5, "duration_days": 7,
	}))
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)

	var data struct {
		Status     string    `json:"status"`
		ExpiresAt  time.Time `json:"expires_at"`
		NewBalance int64     `json:"new_balance"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "active", data.Status)
	assert.Equal(t, int64(5), data.NewBalance)

	_, env = do(t, r, postJSON("/api/v1/ads/activate", gin.H{"ad_id": ad.ID}))
	assert.Equal(t, response.CodeParamError, env.Code)
}

func createIntent(t *testing.T, r *gin.Engine, userID string, packageID int64) (string, *http.Cookie) {
	t.Helper()
	w, env := do(t, r, postJSON("/api/v1/purchases/intent", gin.H{"user_id": userID, "package_id": packageID}))
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)

	var data struct {
		Token       string `json:"token"`
		RedirectURL string `json:"redirect_url"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.NotEmpty(t, data.RedirectURL)

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == IntentCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.Equal(t, data.Token, cookie.Value)
	return data.Token, cookie
}

func paymentReturn(t *testing.T, r *gin.Engine, userID, query string, cookie *http.Cookie) (int, paystatus.View, envelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/return"+query, nil)
	req.Header.Set(HeaderUserID, userID)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w, env := do(t, r, req)
	var view paystatus.View
	require.NoError(t, json.Unmarshal(env.Data, &view))
	return w.Code, view, env
}

func TestPaymentReturn_Flow(t *testing.T) {
	r, db := setupRouter(t, nil)
	pkg := testutil.SeedPackage(t, db, 10, "50000")

	_, cookie := createIntent(t, r, "u1", pkg.ID)

	code, view, _ := paymentReturn(t, r, "u1", "?transaction_no=TX1&status=paid", cookie)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, paystatus.StateSuccess, view.State)
	assert.Equal(t, int64(10), view.TokensAdded)
	assert.Equal(t, int64(10), view.NewBalance)
	assert.False(t, view.Replayed)

	// 用户刷新回跳页
	_, view, _ = paymentReturn(t, r, "u1", "?transaction_no=TX1&status=paid", cookie)
	assert.Equal(t, paystatus.StateSuccess, view.State)
	assert.True(t, view.Replayed)
	assert.Equal(t, int64(10), view.NewBalance)

	assert.Equal(t, int64(10), testutil.Balance(t, db, "u1"))
}

func TestPaymentReturn_States(t *testing.T) {
	r, db := setupRouter(t, nil)
	pkg := testutil.SeedPackage(t, db, 10, "50000")
	_, cookie := createIntent(t, r, "u1", pkg.ID)

	tests := []struct {
		query string
		state paystatus.State
	}{
		{"?transaction_no=TX-exp&status=expired", paystatus.StateFailed},
		{"?payment_token=TX-pend&status=unpaid", paystatus.StatePending},
		{"?transaction_no=TX-odd&status=on_hold", paystatus.StateUnknown},
		{"?status=paid", paystatus.StateError},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			_, view, _ := paymentReturn(t, r, "u1", tt.query, cookie)
			assert.Equal(t, tt.state, view.State)
			assert.Zero(t, view.TokensAdded)
		})
	}
	assert.Zero(t, testutil.Balance(t, db, "u1"))
}

// 无法识别的状态刷新后仍显示 unknown，不变成 failed
func TestPaymentReturn_UnrecognizedStatusStableOnRefresh(t *testing.T) {
	r, db := setupRouter(t, nil)
	pkg := testutil.SeedPackage(t, db, 10, "50000")
	_, cookie := createIntent(t, r, "u1", pkg.ID)

	_, first, _ := paymentReturn(t, r, "u1", "?transaction_no=TX-odd&status=on_hold", cookie)
	assert.Equal(t, paystatus.StateUnknown, first.State)
	assert.False(t, first.Replayed)

	_, again, _ := paymentReturn(t, r, "u1", "?transaction_no=TX-odd&status=on_hold", cookie)
	assert.Equal(t, paystatus.StateUnknown, again.State)
	assert.Equal(t, first.MessageKey, again.MessageKey)
	assert.Equal(t, first.Hint, again.Hint)
	assert.True(t, again.Replayed)

	assert.Zero(t, testutil.Balance(t, db, "u1"))
}

func TestPaymentReturn_IntentProblems(t *testing.T) {
	r, db := setupRouter(t, nil)
	pkg := testutil.SeedPackage(t, db, 10, "50000")
	_, cookie := createIntent(t, r, "u1", pkg.ID)

	// 没有回跳参数
	_, view, _ := paymentReturn(t, r, "u1", "", cookie)
	assert.Equal(t, paystatus.StateError, view.State)

	// 没有意图
	_, view, env := paymentReturn(t, r, "u1", "?transaction_no=TX1&status=paid", nil)
	assert.Equal(t, paystatus.StateError, view.State)
	assert.Equal(t, paystatus.HintRestart, view.Hint)
	assert.Equal(t, response.CodeIntentExpired, env.Code)

	// 意图属于其他用户
	_, view, _ = paymentReturn(t, r, "u2", "?transaction_no=TX1&status=paid", cookie)
	assert.Equal(t, paystatus.StateError, view.State)
	assert.Equal(t, paystatus.HintRestart, view.Hint)

	assert.Zero(t, testutil.Balance(t, db, "u1"))
	assert.Zero(t, testutil.Balance(t, db, "u2"))
}

func TestReconcileWebhook_Signature(t *testing.T) {
	const secret = "hook-secret"
	r, db := setupRouter(t, func(cfg *config.Config) {
		cfg.Gateway.WebhookSecret = secret
	})
	pkg := testutil.SeedPackage(t, db, 10, "50000")

	body, err := json.Marshal(gin.H{
		"user_id":        "u1",
		"package_id":     pkg.ID,
		"transaction_id": "TX1",
		"status":         "PAID",
		"payload":        gin.H{"raw": "value"},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/reconcile", bytes.NewReader(body))
	req.Header.Set(HeaderSignature, "bad")
	w, env := do(t, r, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, response.CodeInvalidSignature, env.Code)

	for i := 0; i < 2; i++ {
		req = httptest.NewRequest(http.MethodPost, "/api/v1/payments/reconcile", bytes.NewReader(body))
		req.Header.Set(HeaderSignature, gateway.Sign(body, secret))
		_, env = do(t, r, req)
		require.Equal(t, response.CodeSuccess, env.Code, env.Message)

		var data struct {
			Status     string `json:"status"`
			NewBalance int64  `json:"new_balance"`
			Replayed   bool   `json:"replayed"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &data))
		assert.Equal(t, "completed", data.Status)
		assert.Equal(t, int64(10), data.NewBalance)
		assert.Equal(t, i == 1, data.Replayed)
	}
	assert.Equal(t, int64(10), testutil.Balance(t, db, "u1"))
}

func TestReconcileWebhook_MissingTransactionID(t *testing.T) {
	r, db := setupRouter(t, nil)
	pkg := testutil.SeedPackage(t, db, 10, "50000")

	_, env := do(t, r, postJSON("/api/v1/payments/reconcile", gin.H{
		"user_id": "u1", "package_id": pkg.ID, "status": "paid",
	}))
	assert.Equal(t, response.CodeMissingTransaction, env.Code)
}

func TestListPackages(t *testing.T) {
	r, db := setupRouter(t, nil)
	testutil.SeedPackage(t, db, 10, "50000")
	testutil.SeedPackage(t, db, 25, "100000")

	_, env := do(t, r, httptest.NewRequest(http.MethodGet, "/api/v1/packages", nil))
	require.Equal(t, response.CodeSuccess, env.Code)

	var packages []struct {
		TokensAmount int64 `json:"tokens_amount"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &packages))
	assert.Len(t, packages, 2)
}

func TestHealthAndMetrics(t *testing.T) {
	r, _ := setupRouter(t, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ledger_gateway_status_unrecognized_total")
}

func TestCORSPreflight(t *testing.T) {
	r, _ := setupRouter(t, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/v1/balance", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), HeaderUserID)
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RecoveryMiddleware())
	r.GET("/boom", func(c *gin.Context) { panic(fmt.Sprintf("boom %d", 1)) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
