package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"collectible-market/internal/model"
)

type staticSource struct {
	snap *model.RuleSnapshot
	err  error
}

func (s *staticSource) Snapshot(context.Context) (*model.RuleSnapshot, error) {
	return s.snap, s.err
}

type mockActivity struct {
	mock.Mock
}

func (m *mockActivity) CountActions(ctx context.Context, userID int64, action model.MarketAction, since time.Time) (int, error) {
	args := m.Called(ctx, userID, action, since)
	return args.Int(0), args.Error(1)
}

func (m *mockActivity) HasActiveListing(ctx context.Context, userItemID int64) (bool, error) {
	args := m.Called(ctx, userItemID)
	return args.Bool(0), args.Error(1)
}

func (m *mockActivity) LastCancelledAt(ctx context.Context, userItemID int64) (*time.Time, error) {
	args := m.Called(ctx, userItemID)
	at, _ := args.Get(0).(*time.Time)
	return at, args.Error(1)
}

func (m *mockActivity) LastRejectedAt(ctx context.Context, userItemID int64) (*time.Time, error) {
	args := m.Called(ctx, userItemID)
	at, _ := args.Get(0).(*time.Time)
	return at, args.Error(1)
}

func (m *mockActivity) CountPairTrades(ctx context.Context, sellerID, buyerID int64, since time.Time) (int, error) {
	args := m.Called(ctx, sellerID, buyerID, since)
	return args.Int(0), args.Error(1)
}

type recordingSink struct {
	signals []model.RiskSignal
}

func (s *recordingSink) RecordSignal(_ context.Context, signal model.RiskSignal) {
	s.signals = append(s.signals, signal)
}

func rule(id int64, category Category, priority int, cfg map[string]any) model.MarketplaceRule {
	return model.MarketplaceRule{
		ID: id, Name: string(category), Category: string(category),
		IsActive: true, Priority: priority, Config: cfg, Version: 1,
	}
}

func TestEngine_PriceBand(t *testing.T) {
	src := &staticSource{snap: &model.RuleSnapshot{Version: 1, Rules: []model.MarketplaceRule{
		rule(1, CategoryPriceBand, 10, nil),
	}}}
	sink := &recordingSink{}
	engine := NewEngine(src, &mockActivity{}, sink, nil, 50)
	ctx := context.Background()

	tests := []struct {
		name     string
		price    int64
		allow    bool
		warnings int
	}{
		{"at minimum", 10, true, 0},
		{"below minimum", 9, false, 0},
		{"at maximum", 1000, true, 1},
		{"above maximum", 1001, false, 0},
		{"above warning", 600, true, 1},
		{"normal", 100, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := engine.Evaluate(ctx, model.ActionList, EvalContext{UserID: 1, UserItemID: 5, Price: tt.price, BaseValue: 100})
			require.NoError(t, err)
			assert.Equal(t, tt.allow, d.Allow)
			assert.Len(t, d.Warnings, tt.warnings)
			require.NotNil(t, d.SuggestedPriceRange)
			assert.Equal(t, PriceRange{Min: 10, Max: 1000}, *d.SuggestedPriceRange)
		})
	}

	// Only the two vetoes and the two warnings are recorded.
	assert.Len(t, sink.signals, 4)
}

func TestEngine_SkipsInactiveAndBrokenRules(t *testing.T) {
	inactive := rule(1, CategoryBlacklist, 10, map[string]any{"user_ids": []any{float64(1)}})
	inactive.IsActive = false
	broken := rule(2, CategoryPriceBand, 5, map[string]any{"min_percent": "not a number"})
	unknown := rule(3, "mystery", 1, nil)

	src := &staticSource{snap: &model.RuleSnapshot{Rules: []model.MarketplaceRule{inactive, broken, unknown}}}
	engine := NewEngine(src, &mockActivity{}, nil, nil, 50)

	d, err := engine.Evaluate(context.Background(), model.ActionList, EvalContext{UserID: 1, Price: 1, BaseValue: 100})
	require.NoError(t, err)
	assert.True(t, d.Allow)
}

func TestEngine_VelocityAndDuplicate(t *testing.T) {
	activity := &mockActivity{}
	activity.On("CountActions", mock.Anything, int64(1), model.ActionList, mock.Anything).Return(3, nil)
	activity.On("HasActiveListing", mock.Anything, int64(5)).Return(true, nil)

	src := &staticSource{snap: &model.RuleSnapshot{Rules: []model.MarketplaceRule{
		rule(1, CategoryVelocity, 10, map[string]any{"max_actions": 3, "window": "24h"}),
		rule(2, CategoryDuplicateListing, 5, nil),
	}}}
	engine := NewEngine(src, activity, nil, nil, 50)

	d, err := engine.Evaluate(context.Background(), model.ActionList, EvalContext{UserID: 1, UserItemID: 5, Price: 10})
	require.NoError(t, err)
	assert.False(t, d.Allow)
	assert.Len(t, d.Reasons, 2)
	assert.Equal(t, 40, d.RiskScore)
	activity.AssertExpectations(t)
}

func TestEngine_CooldownReturnsRemainingWait(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cancelled := now.Add(-20 * time.Minute)
	rejected := now.Add(-10 * time.Minute)

	activity := &mockActivity{}
	activity.On("LastCancelledAt", mock.Anything, int64(5)).Return(&cancelled, nil)
	activity.On("LastRejectedAt", mock.Anything, int64(5)).Return(&rejected, nil)

	src := &staticSource{snap: &model.RuleSnapshot{Rules: []model.MarketplaceRule{
		rule(1, CategoryCooldown, 1, map[string]any{"wait": "30m"}),
	}}}
	engine := NewEngine(src, activity, nil, nil, 50)

	d, err := engine.Evaluate(context.Background(), model.ActionList, EvalContext{UserID: 1, UserItemID: 5, Price: 10, Now: now})
	require.NoError(t, err)
	assert.False(t, d.Allow)
	assert.Equal(t, 20*time.Minute, d.RetryAfter)

	d, err = engine.Evaluate(context.Background(), model.ActionList, EvalContext{UserID: 1, UserItemID: 5, Price: 10, Now: now.Add(20 * time.Minute)})
	require.NoError(t, err)
	assert.True(t, d.Allow)
}

func TestEngine_PurchaseRules(t *testing.T) {
	activity := &mockActivity{}
	activity.On("CountPairTrades", mock.Anything, int64(2), mock.Anything, mock.Anything).Return(5, nil)

	src := &staticSource{snap: &model.RuleSnapshot{Rules: []model.MarketplaceRule{
		rule(1, CategorySelfTrade, 10, nil),
		rule(2, CategorySuspiciousPattern, 5, nil),
		rule(3, CategoryDuplicateListing, 1, nil),
	}}}
	sink := &recordingSink{}
	engine := NewEngine(src, activity, sink, nil, 50)

	d, err := engine.Evaluate(context.Background(), model.ActionPurchase, EvalContext{
		UserID: 1, SellerID: 2, ListingID: 9, UserItemID: 5, Price: 400, BaseValue: 100,
	})
	require.NoError(t, err)
	assert.True(t, d.Allow, "suspicious patterns never veto")
	assert.Equal(t, 50, d.RiskScore)
	require.Len(t, sink.signals, 1)
	assert.False(t, sink.signals[0].Vetoed)
	require.NotNil(t, sink.signals[0].ListingID)
	assert.Equal(t, int64(9), *sink.signals[0].ListingID)

	d, err = engine.Evaluate(context.Background(), model.ActionPurchase, EvalContext{
		UserID: 2, SellerID: 2, ListingID: 9, Price: 100, BaseValue: 100,
	})
	require.NoError(t, err)
	assert.False(t, d.Allow)
}

func TestEngine_PriceBandWrappingPrice(t *testing.T) {
	src := &staticSource{snap: &model.RuleSnapshot{Rules: []model.MarketplaceRule{
		rule(1, CategoryPriceBand, 10, nil),
	}}}
	engine := NewEngine(src, &mockActivity{}, nil, nil, 50)

	// 184467440737095526*100 wraps to 40 in int64 arithmetic.
	d, err := engine.Evaluate(context.Background(), model.ActionList, EvalContext{Price: 184467440737095526, BaseValue: 40})
	require.NoError(t, err)
	assert.False(t, d.Allow)
	require.NotEmpty(t, d.Reasons)

	d, err = engine.Evaluate(context.Background(), model.ActionList, EvalContext{Price: -5, BaseValue: 40})
	require.NoError(t, err)
	assert.False(t, d.Allow)
}

func TestEngine_SuspiciousOverpayWrappingPrice(t *testing.T) {
	activity := &mockActivity{}
	activity.On("CountPairTrades", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(0, nil)
	src := &staticSource{snap: &model.RuleSnapshot{Rules: []model.MarketplaceRule{
		rule(1, CategorySuspiciousPattern, 5, nil),
	}}}
	engine := NewEngine(src, activity, nil, nil, 50)

	d, err := engine.Evaluate(context.Background(), model.ActionPurchase, EvalContext{
		UserID: 1, SellerID: 2, Price: 184467440737095526, BaseValue: 40,
	})
	require.NoError(t, err)
	assert.True(t, d.Allow)
	assert.Equal(t, 25, d.RiskScore)
}

func TestEngine_ActivityErrorFailsEvaluation(t *testing.T) {
	activity := &mockActivity{}
	activity.On("HasActiveListing", mock.Anything, mock.Anything).Return(false, errors.New("db down"))

	src := &staticSource{snap: &model.RuleSnapshot{Rules: []model.MarketplaceRule{
		rule(1, CategoryDuplicateListing, 1, nil),
	}}}
	engine := NewEngine(src, activity, nil, nil, 50)

	_, err := engine.Evaluate(context.Background(), model.ActionList, EvalContext{UserID: 1, UserItemID: 5})
	assert.Error(t, err)
}

func TestEngine_ObservesNewSnapshotOnNextCall(t *testing.T) {
	src := &staticSource{snap: &model.RuleSnapshot{Version: 1}}
	engine := NewEngine(src, &mockActivity{}, nil, nil, 50)
	ctx := context.Background()

	d, err := engine.Evaluate(ctx, model.ActionList, EvalContext{UserID: 7, Price: 10})
	require.NoError(t, err)
	assert.True(t, d.Allow)

	src.snap = &model.RuleSnapshot{Version: 2, Rules: []model.MarketplaceRule{
		rule(1, CategoryBlacklist, 1, map[string]any{"user_ids": []any{float64(7)}}),
	}}

	d, err = engine.Evaluate(ctx, model.ActionList, EvalContext{UserID: 7, Price: 10})
	require.NoError(t, err)
	assert.False(t, d.Allow)
	assert.Equal(t, int64(2), d.Version)
}

func TestRegistry_Validate(t *testing.T) {
	tests := []struct {
		name     string
		category string
		cfg      map[string]any
		wantErr  bool
	}{
		{"price band defaults", "price_band", nil, false},
		{"price band inverted", "price_band", map[string]any{"min_percent": 500, "max_percent": 100}, true},
		{"unknown key", "price_band", map[string]any{"typo": 1}, true},
		{"velocity window string", "velocity", map[string]any{"window": "1h", "max_actions": 5}, false},
		{"velocity bad action", "velocity", map[string]any{"action": "SELL"}, true},
		{"cooldown zero", "cooldown", map[string]any{"wait": "0s"}, true},
		{"blacklist ids", "blacklist", map[string]any{"user_ids": []int{1, 2}}, false},
		{"unknown category", "mystery", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := DefaultRegistry.Validate(tt.category, tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.Len(t, DefaultRegistry.Categories(), 7)
}
