package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"collectible-market/internal/model"
	"collectible-market/internal/repository"
	"collectible-market/internal/service"
)

// LedgerAPI is the ledger surface used by the HTTP handlers.
type LedgerAPI interface {
	CreditPurchase(ctx context.Context, userID, amount int64, externalPaymentID string) (*service.CreditResult, error)
	GetBalance(ctx context.Context, userID int64) (int64, error)
	History(ctx context.Context, userID int64, limit int) ([]*model.Transaction, error)
	ReconcileAll(ctx context.Context) ([]*model.BalanceMismatch, error)
}

// DropAPI is the pack surface used by the HTTP handlers.
type DropAPI interface {
	OpenPack(ctx context.Context, userID int64, packTierID string) (*service.OpenPackResult, error)
	ListPackTiers(ctx context.Context) ([]*model.PackTier, error)
	Inventory(ctx context.Context, userID int64) ([]*model.OwnedItem, error)
	ScarcityView(ctx context.Context, collectionID string) ([]model.ScarcityView, error)
}

// MarketAPI is the marketplace surface used by the HTTP handlers.
type MarketAPI interface {
	CreateListing(ctx context.Context, sellerID, userItemID, price int64) (*service.ListingResult, error)
	CancelListing(ctx context.Context, sellerID, listingID int64) (*model.Listing, error)
	Purchase(ctx context.Context, listingID, buyerID int64) (*service.PurchaseResult, error)
	AutoSell(ctx context.Context, userID, userItemID int64) (*service.AutoSellResult, error)
	ListActive(ctx context.Context, limit, offset int) ([]*model.ListingView, error)
	GetListing(ctx context.Context, listingID int64) (*model.Listing, error)
}

// RuleAPI is the rule administration surface used by the HTTP handlers.
type RuleAPI interface {
	List(ctx context.Context) (*model.RuleSnapshot, error)
	Categories() []string
	UpdateRule(ctx context.Context, id int64, upd repository.RuleUpdate) (*model.MarketplaceRule, error)
	RiskSignals(ctx context.Context, limit int) ([]*model.RiskSignal, error)
}

// Pinger reports whether the database is reachable.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// Handler serves the HTTP API.
type Handler struct {
	ledger LedgerAPI
	drops  DropAPI
	market MarketAPI
	rules  RuleAPI
	db     Pinger
}

// NewHandler creates a new HTTP handler.
func NewHandler(ledger LedgerAPI, drops DropAPI, market MarketAPI, rules RuleAPI, db Pinger) *Handler {
	return &Handler{ledger: ledger, drops: drops, market: market, rules: rules, db: db}
}

// PaymentConfirmedRequest is sent by the payment processor once a purchase clears.
type PaymentConfirmedRequest struct {
	UserID    int64  `json:"user_id" binding:"required"`
	Amount    int64  `json:"amount" binding:"required"`
	PaymentID string `json:"payment_id" binding:"required"`
}

// CreateListingRequest lists an owned item.
type CreateListingRequest struct {
	UserItemID int64 `json:"user_item_id" binding:"required"`
	Price      int64 `json:"price" binding:"required"`
}

// UpdateRuleRequest edits a rule. Omitted fields are left unchanged. Config
// keys are merged into the stored config; a null value drops the key.
type UpdateRuleRequest struct {
	IsActive *bool          `json:"is_active"`
	Priority *int           `json:"priority"`
	Config   map[string]any `json:"config"`
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	if err := h.db.HealthCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, Response{Code: service.CodeTryAgain, Message: "database unreachable"})
		return
	}
	success(c, gin.H{"status": "ok"})
}

// PaymentConfirmed handles POST /api/v1/payments/confirmed.
func (h *Handler) PaymentConfirmed(c *gin.Context) {
	var req PaymentConfirmedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		paramError(c, err.Error())
		return
	}
	res, err := h.ledger.CreditPurchase(c.Request.Context(), req.UserID, req.Amount, req.PaymentID)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, res)
}

// ListPacks handles GET /api/v1/packs.
func (h *Handler) ListPacks(c *gin.Context) {
	packs, err := h.drops.ListPackTiers(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	success(c, packs)
}

// OpenPack handles POST /api/v1/packs/:id/open.
func (h *Handler) OpenPack(c *gin.Context) {
	res, err := h.drops.OpenPack(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	success(c, res)
}

// Scarcity handles GET /api/v1/collections/:id/scarcity.
func (h *Handler) Scarcity(c *gin.Context) {
	view, err := h.drops.ScarcityView(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	success(c, view)
}

// MyItems handles GET /api/v1/users/me/items.
func (h *Handler) MyItems(c *gin.Context) {
	items, err := h.drops.Inventory(c.Request.Context(), currentUser(c))
	if err != nil {
		fail(c, err)
		return
	}
	success(c, items)
}

// MyBalance handles GET /api/v1/users/me/balance.
func (h *Handler) MyBalance(c *gin.Context) {
	balance, err := h.ledger.GetBalance(c.Request.Context(), currentUser(c))
	if err != nil {
		fail(c, err)
		return
	}
	success(c, gin.H{"balance": balance})
}

// MyTransactions handles GET /api/v1/users/me/transactions.
func (h *Handler) MyTransactions(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		return
	}
	txs, err := h.ledger.History(c.Request.Context(), currentUser(c), limit)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, txs)
}

// ListListings handles GET /api/v1/listings.
func (h *Handler) ListListings(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		return
	}
	listings, err := h.market.ListActive(c.Request.Context(), limit, offset)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, listings)
}

// GetListing handles GET /api/v1/listings/:id.
func (h *Handler) GetListing(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	listing, err := h.market.GetListing(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, listing)
}

// CreateListing handles POST /api/v1/listings.
func (h *Handler) CreateListing(c *gin.Context) {
	var req CreateListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		paramError(c, err.Error())
		return
	}
	res, err := h.market.CreateListing(c.Request.Context(), currentUser(c), req.UserItemID, req.Price)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, res)
}

// CancelListing handles DELETE /api/v1/listings/:id.
func (h *Handler) CancelListing(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	listing, err := h.market.CancelListing(c.Request.Context(), currentUser(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, listing)
}

// Purchase handles POST /api/v1/listings/:id/purchase.
func (h *Handler) Purchase(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	res, err := h.market.Purchase(c.Request.Context(), id, currentUser(c))
	if err != nil {
		fail(c, err)
		return
	}
	success(c, res)
}

// AutoSell handles POST /api/v1/items/:id/autosell.
func (h *Handler) AutoSell(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	res, err := h.market.AutoSell(c.Request.Context(), currentUser(c), id)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, res)
}

// ListRules handles GET /api/v1/admin/rules.
func (h *Handler) ListRules(c *gin.Context) {
	snap, err := h.rules.List(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	success(c, gin.H{
		"version":    snap.Version,
		"rules":      snap.Rules,
		"categories": h.rules.Categories(),
	})
}

// UpdateRule handles PATCH /api/v1/admin/rules/:id.
func (h *Handler) UpdateRule(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req UpdateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		paramError(c, err.Error())
		return
	}
	rule, err := h.rules.UpdateRule(c.Request.Context(), id, repository.RuleUpdate{
		IsActive: req.IsActive,
		Priority: req.Priority,
		Config:   req.Config,
	})
	if err != nil {
		fail(c, err)
		return
	}
	success(c, rule)
}

// RiskSignals handles GET /api/v1/admin/risk-signals.
func (h *Handler) RiskSignals(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		return
	}
	signals, err := h.rules.RiskSignals(c.Request.Context(), limit)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, signals)
}

// Reconcile handles POST /api/v1/admin/reconcile.
func (h *Handler) Reconcile(c *gin.Context) {
	mismatches, err := h.ledger.ReconcileAll(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	success(c, gin.H{"mismatches": mismatches, "consistent": len(mismatches) == 0})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		paramError(c, "invalid id")
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		paramError(c, "invalid "+key)
		return 0, false
	}
	return v, true
}
