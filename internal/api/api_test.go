package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"collectible-market/internal/model"
	"collectible-market/internal/repository"
	"collectible-market/internal/rules"
	"collectible-market/internal/service"
)

type mockLedger struct{ mock.Mock }

func (m *mockLedger) CreditPurchase(ctx context.Context, userID, amount int64, paymentID string) (*service.CreditResult, error) {
	args := m.Called(userID, amount, paymentID)
	res, _ := args.Get(0).(*service.CreditResult)
	return res, args.Error(1)
}

func (m *mockLedger) GetBalance(ctx context.Context, userID int64) (int64, error) {
	args := m.Called(userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockLedger) History(ctx context.Context, userID int64, limit int) ([]*model.Transaction, error) {
	args := m.Called(userID, limit)
	res, _ := args.Get(0).([]*model.Transaction)
	return res, args.Error(1)
}

func (m *mockLedger) ReconcileAll(ctx context.Context) ([]*model.BalanceMismatch, error) {
	args := m.Called()
	res, _ := args.Get(0).([]*model.BalanceMismatch)
	return res, args.Error(1)
}

type mockDrops struct{ mock.Mock }

func (m *mockDrops) OpenPack(ctx context.Context, userID int64, packTierID string) (*service.OpenPackResult, error) {
	args := m.Called(userID, packTierID)
	res, _ := args.Get(0).(*service.OpenPackResult)
	return res, args.Error(1)
}

func (m *mockDrops) ListPackTiers(ctx context.Context) ([]*model.PackTier, error) {
	args := m.Called()
	res, _ := args.Get(0).([]*model.PackTier)
	return res, args.Error(1)
}

func (m *mockDrops) Inventory(ctx context.Context, userID int64) ([]*model.OwnedItem, error) {
	args := m.Called(userID)
	res, _ := args.Get(0).([]*model.OwnedItem)
	return res, args.Error(1)
}

func (m *mockDrops) ScarcityView(ctx context.Context, collectionID string) ([]model.ScarcityView, error) {
	args := m.Called(collectionID)
	res, _ := args.Get(0).([]model.ScarcityView)
	return res, args.Error(1)
}

type mockMarket struct{ mock.Mock }

func (m *mockMarket) CreateListing(ctx context.Context, sellerID, userItemID, price int64) (*service.ListingResult, error) {
	args := m.Called(sellerID, userItemID, price)
	res, _ := args.Get(0).(*service.ListingResult)
	return res, args.Error(1)
}

func (m *mockMarket) CancelListing(ctx context.Context, sellerID, listingID int64) (*model.Listing, error) {
	args := m.Called(sellerID, listingID)
	res, _ := args.Get(0).(*model.Listing)
	return res, args.Error(1)
}

func (m *mockMarket) Purchase(ctx context.Context, listingID, buyerID int64) (*service.PurchaseResult, error) {
	args := m.Called(listingID, buyerID)
	res, _ := args.Get(0).(*service.PurchaseResult)
	return res, args.Error(1)
}

func (m *mockMarket) AutoSell(ctx context.Context, userID, userItemID int64) (*service.AutoSellResult, error) {
	args := m.Called(userID, userItemID)
	res, _ := args.Get(0).(*service.AutoSellResult)
	return res, args.Error(1)
}

func (m *mockMarket) ListActive(ctx context.Context, limit, offset int) ([]*model.ListingView, error) {
	args := m.Called(limit, offset)
	res, _ := args.Get(0).([]*model.ListingView)
	return res, args.Error(1)
}

func (m *mockMarket) GetListing(ctx context.Context, listingID int64) (*model.Listing, error) {
	args := m.Called(listingID)
	res, _ := args.Get(0).(*model.Listing)
	return res, args.Error(1)
}

type mockRules struct{ mock.Mock }

func (m *mockRules) List(ctx context.Context) (*model.RuleSnapshot, error) {
	args := m.Called()
	res, _ := args.Get(0).(*model.RuleSnapshot)
	return res, args.Error(1)
}

func (m *mockRules) Categories() []string {
	return []string{"price_band"}
}

func (m *mockRules) UpdateRule(ctx context.Context, id int64, upd repository.RuleUpdate) (*model.MarketplaceRule, error) {
	args := m.Called(id, upd)
	res, _ := args.Get(0).(*model.MarketplaceRule)
	return res, args.Error(1)
}

func (m *mockRules) RiskSignals(ctx context.Context, limit int) ([]*model.RiskSignal, error) {
	args := m.Called(limit)
	res, _ := args.Get(0).([]*model.RiskSignal)
	return res, args.Error(1)
}

type pinger struct{ err error }

func (p pinger) HealthCheck(context.Context) error { return p.err }

type testServer struct {
	router *gin.Engine
	ledger *mockLedger
	drops  *mockDrops
	market *mockMarket
	rules  *mockRules
}

func newTestServer(t *testing.T, dbErr error) *testServer {
	t.Helper()
	s := &testServer{
		ledger: &mockLedger{},
		drops:  &mockDrops{},
		market: &mockMarket{},
		rules:  &mockRules{},
	}
	h := NewHandler(s.ledger, s.drops, s.market, s.rules, pinger{err: dbErr})
	s.router = NewRouter(h, gin.TestMode, func(id int64) bool { return id == 1 })
	t.Cleanup(func() {
		s.ledger.AssertExpectations(t)
		s.drops.AssertExpectations(t)
		s.market.AssertExpectations(t)
		s.rules.AssertExpectations(t)
	})
	return s
}

func (s *testServer) do(t *testing.T, method, path string, userID int64, body any) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		req.Header.Set(headerUserID, fmt.Sprint(userID))
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func TestHealth(t *testing.T) {
	w, resp := newTestServer(t, nil).do(t, http.MethodGet, "/health", 0, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, service.CodeOK, resp.Code)
	assert.NotEmpty(t, w.Header().Get(headerRequestID))

	w, resp = newTestServer(t, errors.New("down")).do(t, http.MethodGet, "/health", 0, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, service.CodeTryAgain, resp.Code)
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t, nil)
	w, resp := s.do(t, http.MethodPost, "/api/v1/packs/bronze/open", 0, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", resp.Code)
}

func TestOpenPack(t *testing.T) {
	s := newTestServer(t, nil)
	serial := 3
	s.drops.On("OpenPack", int64(7), "bronze").Return(&service.OpenPackResult{
		Serial:     &serial,
		NewBalance: 40,
		Rarity:     model.RarityRaro,
	}, nil).Once()
	s.drops.On("OpenPack", int64(7), "gold").Return(nil, service.ErrInsufficientCredits).Once()
	s.drops.On("OpenPack", int64(7), "nope").Return(nil, service.ErrPackTierNotFound).Once()

	w, resp := s.do(t, http.MethodPost, "/api/v1/packs/bronze/open", 7, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]any)
	assert.EqualValues(t, 40, data["new_balance"])
	assert.EqualValues(t, 3, data["serial"])

	w, resp = s.do(t, http.MethodPost, "/api/v1/packs/gold/open", 7, nil)
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, service.CodeInsufficientCredits, resp.Code)

	w, resp = s.do(t, http.MethodPost, "/api/v1/packs/nope/open", 7, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, service.CodePackTierNotFound, resp.Code)
}

func TestCreateListing_RuleViolation(t *testing.T) {
	s := newTestServer(t, nil)
	s.market.On("CreateListing", int64(7), int64(11), int64(100)).Return(nil, &service.RuleViolationError{
		Reasons:             []string{"price_band: price outside allowed range"},
		SuggestedPriceRange: &rules.PriceRange{Min: 1, Max: 50},
		RetryAfter:          90 * time.Second,
	})

	w, resp := s.do(t, http.MethodPost, "/api/v1/listings", 7, CreateListingRequest{UserItemID: 11, Price: 100})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, service.CodeRuleViolation, resp.Code)

	data := resp.Data.(map[string]any)
	assert.Len(t, data["reasons"], 1)
	assert.EqualValues(t, 90, data["retry_after_seconds"])
	rng := data["suggested_price_range"].(map[string]any)
	assert.EqualValues(t, 1, rng["min"])
	assert.EqualValues(t, 50, rng["max"])
}

func TestCreateListing_BadBody(t *testing.T) {
	s := newTestServer(t, nil)
	w, resp := s.do(t, http.MethodPost, "/api/v1/listings", 7, map[string]any{"price": 10})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, service.CodeInvalidRequest, resp.Code)
}

func TestPurchase(t *testing.T) {
	s := newTestServer(t, nil)
	s.market.On("Purchase", int64(5), int64(8)).Return(&service.PurchaseResult{
		CreditsCharged: 40,
		FeeRetained:    2,
		SellerCredited: 38,
	}, nil).Once()
	s.market.On("Purchase", int64(6), int64(8)).Return(nil, service.ErrListingUnavailable).Once()

	w, resp := s.do(t, http.MethodPost, "/api/v1/listings/5/purchase", 8, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]any)
	assert.EqualValues(t, 2, data["fee_retained"])
	assert.EqualValues(t, 38, data["seller_credited"])

	w, resp = s.do(t, http.MethodPost, "/api/v1/listings/6/purchase", 8, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, service.CodeListingUnavailable, resp.Code)

	w, _ = s.do(t, http.MethodPost, "/api/v1/listings/abc/purchase", 8, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPaymentConfirmed(t *testing.T) {
	s := newTestServer(t, nil)
	s.ledger.On("CreditPurchase", int64(3), int64(500), "pay-1").
		Return(&service.CreditResult{Balance: 500, Applied: true}, nil)

	w, resp := s.do(t, http.MethodPost, "/api/v1/payments/confirmed", 0,
		PaymentConfirmedRequest{UserID: 3, Amount: 500, PaymentID: "pay-1"})
	require.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]any)
	assert.Equal(t, true, data["applied"])
}

func TestInternalErrorIsMasked(t *testing.T) {
	s := newTestServer(t, nil)
	s.ledger.On("GetBalance", int64(7)).Return(int64(0), errors.New("pq: connection reset"))

	w, resp := s.do(t, http.MethodGet, "/api/v1/users/me/balance", 7, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, service.CodeInternal, resp.Code)
	assert.Equal(t, "internal error", resp.Message)
}

func TestListListings_Pagination(t *testing.T) {
	s := newTestServer(t, nil)
	s.market.On("ListActive", 10, 20).Return([]*model.ListingView{}, nil)

	w, _ := s.do(t, http.MethodGet, "/api/v1/listings?limit=10&offset=20", 0, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/v1/listings?limit=x", 0, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminRoutes(t *testing.T) {
	s := newTestServer(t, nil)

	w, resp := s.do(t, http.MethodGet, "/api/v1/admin/rules", 7, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, service.CodeForbidden, resp.Code)

	active := false
	s.rules.On("UpdateRule", int64(4), repository.RuleUpdate{IsActive: &active}).
		Return(&model.MarketplaceRule{ID: 4, Version: 2}, nil)
	w, resp = s.do(t, http.MethodPatch, "/api/v1/admin/rules/4", 1, map[string]any{"is_active": false})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, resp.Data.(map[string]any)["version"])

	s.ledger.On("ReconcileAll").Return([]*model.BalanceMismatch{}, nil)
	w, resp = s.do(t, http.MethodPost, "/api/v1/admin/reconcile", 1, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp.Data.(map[string]any)["consistent"])
}

func TestRecoveryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestIDMiddleware(), RecoveryMiddleware())
	r.GET("/panic", func(*gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRequestIDIsPropagated(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(headerRequestID, "abc-123")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(headerRequestID))
}
