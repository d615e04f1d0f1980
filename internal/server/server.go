// Package server exposes the escrow core over HTTP: the payment webhook,
// trade endpoints, and the admin dispute surface.
package server

import (
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/telvault/escrow/internal/escrow"
	"github.com/telvault/escrow/internal/rates"
	"github.com/telvault/escrow/internal/wallet"
	"github.com/telvault/escrow/pkg/models"
)

var validate = validator.New()

// Server is the HTTP surface over the escrow core
type Server struct {
	router    *gin.Engine
	logger    *zap.Logger
	escrows   *escrow.Service
	wallets   *wallet.Service
	converter *rates.Converter
}

// NewServer creates the API server
func NewServer(logger *zap.Logger, escrows *escrow.Service, wallets *wallet.Service, converter *rates.Converter) *Server {
	s := &Server{
		logger:    logger,
		escrows:   escrows,
		wallets:   wallets,
		converter: converter,
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/escrows", s.handleCreateEscrow)
		v1.GET("/escrows/:id", s.handleGetEscrow)
		v1.POST("/escrows/:id/fund", s.handleFundFromWallet)
		v1.POST("/escrows/:id/accept", s.handleAcceptTrade)
		v1.POST("/escrows/:id/release", s.handleRelease)
		v1.POST("/escrows/:id/cancel", s.handleCancel)
		v1.POST("/escrows/:id/dispute", s.handleOpenDispute)
		v1.POST("/admin/disputes/resolve", s.handleResolveDispute)
		v1.GET("/rates/:symbol", s.handleGetRate)
		v1.GET("/wallets/:user_id/balance", s.handleGetBalance)
		v1.GET("/wallets/:user_id/transactions", s.handleGetTransactions)
	}
	router.POST("/webhooks/payment", s.handlePaymentWebhook)

	s.router = router
	return s
}

// Handler returns the underlying HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respond maps a lifecycle result onto an HTTP status. Expected non-success
// outcomes keep their detail; internal errors show a generic message, the
// detail goes to logs only.
func respond(c *gin.Context, result *escrow.Result) {
	switch result.Outcome {
	case escrow.OutcomeSuccess, escrow.OutcomeDuplicate:
		c.JSON(http.StatusOK, result)
	case escrow.OutcomeValidationFailed:
		c.JSON(http.StatusBadRequest, result)
	case escrow.OutcomeNotFound:
		c.JSON(http.StatusNotFound, result)
	case escrow.OutcomeConflict:
		c.JSON(http.StatusConflict, result)
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"outcome": escrow.OutcomeError,
			"message": "something went wrong, please try again or contact support",
		})
	}
}

type createEscrowRequest struct {
	BuyerID        string `json:"buyer_id" validate:"required,uuid"`
	SellerID       string `json:"seller_id" validate:"omitempty,uuid"`
	Amount         string `json:"amount" validate:"required"`
	Currency       string `json:"currency" validate:"required"`
	FeeSplitOption string `json:"fee_split_option" validate:"required"`
	FundingSource  string `json:"funding_source" validate:"required"`
}

func (s *Server) handleCreateEscrow(c *gin.Context) {
	var req createEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := validate.Struct(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	buyerID, err := uuid.Parse(req.BuyerID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid buyer_id"})
		return
	}
	var sellerID *uuid.UUID
	if req.SellerID != "" {
		id, err := uuid.Parse(req.SellerID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid seller_id"})
			return
		}
		sellerID = &id
	}

	result, err := s.escrows.Create(c.Request.Context(), escrow.CreateRequest{
		BuyerID:        buyerID,
		SellerID:       sellerID,
		Amount:         amount,
		Currency:       req.Currency,
		FeeSplitOption: models.FeeSplitOption(req.FeeSplitOption),
		FundingSource:  escrow.FundingSource(req.FundingSource),
	})
	if err != nil {
		s.logger.Error("escrow creation failed", zap.Error(err))
	}
	respond(c, result)
}

func (s *Server) handleGetEscrow(c *gin.Context) {
	esc, err := s.escrows.Get(c.Request.Context(), c.Param("id"))
	if err == escrow.ErrEscrowNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "escrow not found"})
		return
	}
	if err != nil {
		s.logger.Error("escrow lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "something went wrong, please try again"})
		return
	}
	c.JSON(http.StatusOK, esc)
}

type paymentWebhookRequest struct {
	EscrowID string `json:"escrow_id" validate:"required"`
	Amount   string `json:"amount" validate:"required"`
}

// handlePaymentWebhook is the provider callback confirming an inbound
// payment. Providers redeliver, so the underlying transition is idempotent.
func (s *Server) handlePaymentWebhook(c *gin.Context) {
	var req paymentWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := validate.Struct(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}

	result, err := s.escrows.ConfirmPayment(c.Request.Context(), req.EscrowID, amount)
	if err != nil {
		s.logger.Error("payment webhook processing failed", zap.Error(err))
	}
	respond(c, result)
}

func (s *Server) handleFundFromWallet(c *gin.Context) {
	result, err := s.escrows.FundFromWallet(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.logger.Error("wallet funding failed", zap.Error(err))
	}
	respond(c, result)
}

type acceptTradeRequest struct {
	SellerID string `json:"seller_id" validate:"required,uuid"`
}

func (s *Server) handleAcceptTrade(c *gin.Context) {
	var req acceptTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := validate.Struct(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sellerID, err := uuid.Parse(req.SellerID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid seller_id"})
		return
	}

	result, err := s.escrows.AcceptTrade(c.Request.Context(), c.Param("id"), sellerID)
	if err != nil {
		s.logger.Error("trade acceptance failed", zap.Error(err))
	}
	respond(c, result)
}

func (s *Server) handleRelease(c *gin.Context) {
	result, err := s.escrows.Release(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.logger.Error("release failed", zap.Error(err))
	}
	respond(c, result)
}

func (s *Server) handleCancel(c *gin.Context) {
	result, err := s.escrows.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.logger.Error("cancellation failed", zap.Error(err))
	}
	respond(c, result)
}

type openDisputeRequest struct {
	InitiatorID string `json:"initiator_id" validate:"required,uuid"`
	Reason      string `json:"reason" validate:"omitempty,max=500"`
}

func (s *Server) handleOpenDispute(c *gin.Context) {
	var req openDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := validate.Struct(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	initiatorID, err := uuid.Parse(req.InitiatorID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid initiator_id"})
		return
	}

	result, err := s.escrows.OpenDispute(c.Request.Context(), c.Param("id"), initiatorID, req.Reason)
	if err != nil {
		s.logger.Error("dispute open failed", zap.Error(err))
	}
	respond(c, result)
}

type resolveDisputeRequest struct {
	EscrowID      string `json:"escrow_id" validate:"required"`
	ResolvedBy    string `json:"resolved_by" validate:"required,uuid"`
	Resolution    string `json:"resolution" validate:"required"`
	BuyerPercent  string `json:"buyer_percent" validate:"omitempty"`
	SellerPercent string `json:"seller_percent" validate:"omitempty"`
}

func (s *Server) handleResolveDispute(c *gin.Context) {
	var req resolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := validate.Struct(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resolvedBy, err := uuid.Parse(req.ResolvedBy)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid resolved_by"})
		return
	}
	buyerPct := parsePercent(req.BuyerPercent)
	sellerPct := parsePercent(req.SellerPercent)

	result, err := s.escrows.Resolve(c.Request.Context(), escrow.ResolveRequest{
		EscrowID:      req.EscrowID,
		ResolvedBy:    resolvedBy,
		Resolution:    escrow.ResolutionType(req.Resolution),
		BuyerPercent:  buyerPct,
		SellerPercent: sellerPct,
	})
	if err != nil {
		s.logger.Error("dispute resolution failed", zap.Error(err))
	}
	respond(c, result)
}

func (s *Server) handleGetRate(c *gin.Context) {
	usd, err := s.converter.CryptoToUSD(c.Request.Context(), c.Param("symbol"), decimal.NewFromInt(1))
	if err != nil {
		s.logger.Warn("rate lookup failed", zap.String("symbol", c.Param("symbol")), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "rate unavailable, please try again"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": c.Param("symbol"), "usd": usd.String()})
}

func (s *Server) handleGetBalance(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		return
	}
	currency := c.DefaultQuery("currency", "USD")
	balance, err := s.wallets.GetBalance(c.Request.Context(), userID, currency)
	if err != nil {
		s.logger.Error("balance lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "something went wrong, please try again"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "currency": currency, "balance": balance.String()})
}

func (s *Server) handleGetTransactions(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		return
	}
	entries, total, err := s.wallets.Transactions(c.Request.Context(), userID, 50, 0)
	if err != nil {
		s.logger.Error("transaction listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "something went wrong, please try again"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "transactions": entries})
}

func parsePercent(raw string) decimal.Decimal {
	if raw == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return v
}
