package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"tokenledger/internal/config"
	"tokenledger/internal/gateway"
	"tokenledger/internal/intent"
	"tokenledger/internal/metrics"
	"tokenledger/internal/paystatus"
	"tokenledger/internal/service"
	"tokenledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	// IntentCookie 浏览器保存购买意图令牌的 cookie
	IntentCookie = "pending_intent"

	HeaderUserID    = "X-User-ID"
	HeaderIntent    = "X-Purchase-Intent"
	HeaderSignature = "X-Signature"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	balanceService    *service.BalanceService
	activationService *service.ActivationService
	reconcileService  *service.ReconcileService
	purchaseService   *service.PurchaseService
	webhookSecret     string
	intentTTL         int
}

// NewHandler 创建处理器实例
func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config, tracker *intent.Tracker) *Handler {
	ttl := cfg.Intent.TTL
	if ttl <= 0 {
		ttl = intent.DefaultTTL
	}
	return &Handler{
		balanceService:    service.NewBalanceService(db),
		activationService: service.NewActivationService(db, rdb, cfg),
		reconcileService:  service.NewReconcileService(db, rdb, cfg),
		purchaseService:   service.NewPurchaseService(db, tracker),
		webhookSecret:     cfg.Gateway.WebhookSecret,
		intentTTL:         int(ttl.Seconds()),
	}
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

// ============================================================
// 余额
// ============================================================

// GetBalance 查询用户余额，没有账户时返回 0
// GET /api/v1/balance?user_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		response.ParamError(c, "user_id 参数不能为空")
		return
	}

	balance, err := h.balanceService.GetBalance(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, err, paystatus.HintFor(err))
		return
	}

	response.Success(c, gin.H{
		"user_id": userID,
		"balance": balance,
	})
}

// AuditBalance 核对余额与流水
// GET /api/v1/balance/audit?user_id=xxx
func (h *Handler) AuditBalance(c *gin.Context) {
	result, err := h.balanceService.Audit(c.Request.Context(), c.Query("user_id"))
	if err != nil {
		response.FromError(c, err, paystatus.HintFor(err))
		return
	}
	response.Success(c, result)
}

// ListEntries 余额流水
// GET /api/v1/balance/entries?user_id=xxx&page=1&page_size=20
func (h *Handler) ListEntries(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		response.ParamError(c, "user_id 参数不能为空")
		return
	}
	page, pageSize := pageParams(c)

	entries, total, err := h.balanceService.ListEntries(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		response.FromError(c, err, paystatus.HintFor(err))
		return
	}

	response.Success(c, gin.H{
		"list":      entries,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ListTransactions 购买记录
// GET /api/v1/transactions?user_id=xxx&page=1&page_size=20
func (h *Handler) ListTransactions(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		response.ParamError(c, "user_id 参数不能为空")
		return
	}
	page, pageSize := pageParams(c)

	list, total, err := h.balanceService.ListTransactions(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		response.FromError(c, err, paystatus.HintFor(err))
		return
	}

	response.Success(c, gin.H{
		"list":      list,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 广告激活
// ============================================================

type ActivateAdRequest struct {
	AdID         int64  `json:"ad_id" binding:"required,gt=0"`
	UserID       string `json:"user_id" binding:"required"`
	TokenCost    int64  `json:"token_cost" binding:"required,gt=0"`
	DurationDays int    `json:"duration_days" binding:"required,gt=0"`
}

// ActivateAd 扣代币激活广告
// POST /api/v1/ads/activate
func (h *Handler) ActivateAd(c *gin.Context) {
	var req ActivateAdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.activationService.Activate(c.Request.Context(), &service.ActivateRequest{
		AdID:         req.AdID,
		UserID:       req.UserID,
		TokenCost:    req.TokenCost,
		DurationDays: req.DurationDays,
	})
	if err != nil {
		response.FromError(c, err, paystatus.HintFor(err))
		return
	}

	response.Success(c, result)
}

// ============================================================
// 购买
// ============================================================

// ListPackages 上架中的套餐
// GET /api/v1/packages
func (h *Handler) ListPackages(c *gin.Context) {
	packages, err := h.purchaseService.ListPackages(c.Request.Context())
	if err != nil {
		response.FromError(c, err, paystatus.HintFor(err))
		return
	}
	response.Success(c, packages)
}

type CreateIntentRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	PackageID int64  `json:"package_id" binding:"required,gt=0"`
}

// CreateIntent 签发购买意图，同时写入 cookie，客户端随后跳转 redirect_url
// POST /api/v1/purchases/intent
func (h *Handler) CreateIntent(c *gin.Context) {
	var req CreateIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.purchaseService.CreateIntent(c.Request.Context(), req.UserID, req.PackageID)
	if err != nil {
		response.FromError(c, err, paystatus.HintFor(err))
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(IntentCookie, result.Token, h.intentTTL, "/", "", false, true)
	response.Success(c, result)
}

// ============================================================
// 对账
// ============================================================

// WebhookRequest 网关服务端回调
type WebhookRequest struct {
	UserID        string          `json:"user_id"`
	PackageID     int64           `json:"package_id"`
	TransactionID string          `json:"transaction_id"`
	Status        string          `json:"status"`
	Payload       json.RawMessage `json:"payload"`
}

// ReconcileWebhook 网关服务端回调，配置了 webhook_secret 时校验 X-Signature
// POST /api/v1/payments/reconcile
func (h *Handler) ReconcileWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		response.ParamError(c, "读取请求体失败")
		return
	}

	if h.webhookSecret != "" && !gateway.VerifySignature(body, c.GetHeader(HeaderSignature), h.webhookSecret) {
		log.WithField("ip", c.ClientIP()).Warn("回调签名校验失败")
		c.JSON(http.StatusUnauthorized, response.Response{
			Code:    response.CodeInvalidSignature,
			Message: "签名校验失败",
		})
		return
	}

	var req WebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	if req.TransactionID == "" {
		response.FromError(c, gateway.ErrMissingTransactionID, paystatus.HintFor(gateway.ErrMissingTransactionID))
		return
	}

	status := h.normalize(req.Status, req.TransactionID)

	payload := string(req.Payload)
	if payload == "" {
		payload = string(body)
	}

	result, err := h.reconcileService.Reconcile(c.Request.Context(), &service.ReconcileRequest{
		UserID:               req.UserID,
		PackageID:            req.PackageID,
		GatewayTransactionID: req.TransactionID,
		GatewayStatus:        status,
		RawStatus:            req.Status,
		Payload:              payload,
	})
	if err != nil {
		response.FromError(c, err, paystatus.HintFor(err))
		return
	}

	response.Success(c, result)
}

// PaymentReturn 浏览器从网关跳回，凭意图令牌找回套餐并对账
// GET /api/v1/payments/return?transaction_no=xxx&status=paid
func (h *Handler) PaymentReturn(c *gin.Context) {
	userID := c.GetHeader(HeaderUserID)
	if userID == "" {
		response.Error(c, response.CodeUnauthorized, "未登录")
		return
	}

	query := c.Request.URL.Query()
	in := paystatus.Input{HasCallback: len(query) > 0}
	if !in.HasCallback {
		h.renderStatus(c, in)
		return
	}

	token := c.GetHeader(HeaderIntent)
	if token == "" {
		token, _ = c.Cookie(IntentCookie)
	}

	pending, err := h.purchaseService.VerifyIntent(token, userID)
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Info("购买意图无效")
		in.IntentErr = err
		h.clearIntent(c)
		h.renderStatus(c, in)
		return
	}

	txID, err := gateway.TransactionID(query)
	if err != nil {
		in.Err = err
		h.renderStatus(c, in)
		return
	}

	rawStatus := query.Get("status")
	status := h.normalize(rawStatus, txID)

	in.Result, in.Err = h.reconcileService.Reconcile(c.Request.Context(), &service.ReconcileRequest{
		UserID:               userID,
		PackageID:            pending.PackageID,
		GatewayTransactionID: txID,
		GatewayStatus:        status,
		RawStatus:            rawStatus,
		Payload:              gateway.Payload(query),
	})

	// 存储不可用时保留意图，用户可以刷新重试
	if in.Err == nil || response.CodeFor(in.Err) != response.CodeUnavailable {
		h.clearIntent(c)
	}
	h.renderStatus(c, in)
}

func (h *Handler) normalize(raw, txID string) gateway.Status {
	status, recognized := gateway.Normalize(raw)
	if !recognized {
		metrics.UnrecognizedGatewayStatus.Inc()
		log.WithFields(log.Fields{
			"gateway_transaction_id": txID,
			"raw_status":             raw,
		}).Warn("无法识别的网关状态，按 unknown 处理")
	}
	return status
}

func (h *Handler) clearIntent(c *gin.Context) {
	c.SetCookie(IntentCookie, "", -1, "/", "", false, true)
}

func (h *Handler) renderStatus(c *gin.Context, in paystatus.Input) {
	view := paystatus.Resolve(in)

	httpStatus := http.StatusOK
	code := response.CodeSuccess
	message := "success"
	err := in.Err
	if err == nil {
		err = in.IntentErr
	}
	if err != nil {
		code = response.CodeFor(err)
		message = err.Error()
		if code == response.CodeUnavailable {
			httpStatus = http.StatusServiceUnavailable
		}
	} else if view.State == paystatus.StateError {
		code = response.CodeParamError
		message = "没有收到支付回跳参数"
	}

	c.JSON(httpStatus, response.Response{
		Code:    code,
		Message: message,
		Hint:    view.Hint,
		Data:    view,
	})
}
