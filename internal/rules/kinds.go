package rules

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"

	"collectible-market/internal/model"
)

// decode copies a stored config map onto a typed struct that already holds
// the defaults. Unknown keys are rejected; "24h"-style strings become durations.
func decode(cfg map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(cfg)
}

func appliesTo(action model.MarketAction, only string) bool {
	return only == "" || model.MarketAction(only) == action
}

func validAction(only string) error {
	switch model.MarketAction(only) {
	case "", model.ActionList, model.ActionPurchase:
		return nil
	}
	return fmt.Errorf("action must be LIST or PURCHASE, got %q", only)
}

// ========== price_band ==========

type priceBand struct {
	MinPercent  int64 `mapstructure:"min_percent"`
	MaxPercent  int64 `mapstructure:"max_percent"`
	WarnPercent int64 `mapstructure:"warn_percent"`
	Score       int   `mapstructure:"score"`
}

func newPriceBand(cfg map[string]any) (Rule, error) {
	r := &priceBand{MinPercent: 10, MaxPercent: 1000, WarnPercent: 500, Score: 20}
	if err := decode(cfg, r); err != nil {
		return nil, err
	}
	if r.MinPercent < 0 || r.MaxPercent <= r.MinPercent {
		return nil, fmt.Errorf("need 0 <= min_percent < max_percent, got %d and %d", r.MinPercent, r.MaxPercent)
	}
	if r.WarnPercent <= 0 {
		return nil, fmt.Errorf("warn_percent must be positive, got %d", r.WarnPercent)
	}
	return r, nil
}

func (r *priceBand) Applies(model.MarketAction) bool { return true }

func (r *priceBand) Evaluate(_ context.Context, _ model.MarketAction, ec EvalContext, _ Activity) (Outcome, error) {
	if ec.BaseValue <= 0 {
		return Outcome{}, nil
	}

	minBound := percentOf(ec.BaseValue, r.MinPercent)
	maxBound := percentOf(ec.BaseValue, r.MaxPercent)
	band := &PriceRange{
		Min: clampInt64(minBound.Ceil()),
		Max: clampInt64(maxBound.Floor()),
	}
	out := Outcome{Suggested: band}

	// Compared as decimals so prices near math.MaxInt64 cannot wrap into the band.
	price := decimal.NewFromInt(ec.Price)
	switch {
	case ec.Price <= 0 || price.LessThan(minBound):
		out.Veto = true
		out.Score = r.Score
		out.Reason = fmt.Sprintf("price %d is below %d%% of base value %d", ec.Price, r.MinPercent, ec.BaseValue)
	case price.GreaterThan(maxBound):
		out.Veto = true
		out.Score = r.Score
		out.Reason = fmt.Sprintf("price %d is above %d%% of base value %d", ec.Price, r.MaxPercent, ec.BaseValue)
	case price.GreaterThan(percentOf(ec.BaseValue, r.WarnPercent)):
		out.Warning = fmt.Sprintf("price %d is above %d%% of base value %d", ec.Price, r.WarnPercent, ec.BaseValue)
	}
	return out, nil
}

// percentOf returns pct% of base without integer overflow.
func percentOf(base, pct int64) decimal.Decimal {
	return decimal.NewFromInt(base).Mul(decimal.NewFromInt(pct)).Div(decimal.NewFromInt(100))
}

func clampInt64(d decimal.Decimal) int64 {
	if d.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return math.MaxInt64
	}
	return d.IntPart()
}

// ========== velocity ==========

type velocity struct {
	MaxActions int           `mapstructure:"max_actions"`
	Window     time.Duration `mapstructure:"window"`
	Action     string        `mapstructure:"action"`
	Score      int           `mapstructure:"score"`
}

func newVelocity(cfg map[string]any) (Rule, error) {
	r := &velocity{MaxActions: 20, Window: 24 * time.Hour, Score: 30}
	if err := decode(cfg, r); err != nil {
		return nil, err
	}
	if r.MaxActions < 1 {
		return nil, fmt.Errorf("max_actions must be positive, got %d", r.MaxActions)
	}
	if r.Window <= 0 {
		return nil, fmt.Errorf("window must be positive, got %s", r.Window)
	}
	if err := validAction(r.Action); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *velocity) Applies(action model.MarketAction) bool { return appliesTo(action, r.Action) }

func (r *velocity) Evaluate(ctx context.Context, action model.MarketAction, ec EvalContext, activity Activity) (Outcome, error) {
	n, err := activity.CountActions(ctx, ec.UserID, action, ec.Now.Add(-r.Window))
	if err != nil {
		return Outcome{}, err
	}
	if n < r.MaxActions {
		return Outcome{}, nil
	}
	return Outcome{
		Veto:   true,
		Score:  r.Score,
		Reason: fmt.Sprintf("more than %d %s actions in %s", r.MaxActions, action, r.Window),
	}, nil
}

// ========== duplicate_listing ==========

type duplicateListing struct {
	Score int `mapstructure:"score"`
}

func newDuplicateListing(cfg map[string]any) (Rule, error) {
	r := &duplicateListing{Score: 10}
	if err := decode(cfg, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *duplicateListing) Applies(action model.MarketAction) bool { return action == model.ActionList }

func (r *duplicateListing) Evaluate(ctx context.Context, _ model.MarketAction, ec EvalContext, activity Activity) (Outcome, error) {
	listed, err := activity.HasActiveListing(ctx, ec.UserItemID)
	if err != nil {
		return Outcome{}, err
	}
	if !listed {
		return Outcome{}, nil
	}
	return Outcome{Veto: true, Score: r.Score, Reason: "item already has an active listing"}, nil
}

// ========== cooldown ==========

type cooldown struct {
	Wait              time.Duration `mapstructure:"wait"`
	IncludeRejections bool          `mapstructure:"include_rejections"`
	Score             int           `mapstructure:"score"`
}

func newCooldown(cfg map[string]any) (Rule, error) {
	r := &cooldown{Wait: time.Hour, IncludeRejections: true, Score: 5}
	if err := decode(cfg, r); err != nil {
		return nil, err
	}
	if r.Wait <= 0 {
		return nil, fmt.Errorf("wait must be positive, got %s", r.Wait)
	}
	return r, nil
}

func (r *cooldown) Applies(action model.MarketAction) bool { return action == model.ActionList }

func (r *cooldown) Evaluate(ctx context.Context, _ model.MarketAction, ec EvalContext, activity Activity) (Outcome, error) {
	last, err := activity.LastCancelledAt(ctx, ec.UserItemID)
	if err != nil {
		return Outcome{}, err
	}
	if r.IncludeRejections {
		rejected, err := activity.LastRejectedAt(ctx, ec.UserItemID)
		if err != nil {
			return Outcome{}, err
		}
		if rejected != nil && (last == nil || rejected.After(*last)) {
			last = rejected
		}
	}
	if last == nil {
		return Outcome{}, nil
	}

	remaining := last.Add(r.Wait).Sub(ec.Now)
	if remaining <= 0 {
		return Outcome{}, nil
	}
	return Outcome{
		Veto:       true,
		Score:      r.Score,
		RetryAfter: remaining,
		Reason:     fmt.Sprintf("item is cooling down, retry in %s", remaining.Round(time.Second)),
	}, nil
}

// ========== blacklist ==========

type blacklist struct {
	UserIDs []int64 `mapstructure:"user_ids"`
	Score   int     `mapstructure:"score"`
}

func newBlacklist(cfg map[string]any) (Rule, error) {
	r := &blacklist{Score: 100}
	if err := decode(cfg, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *blacklist) Applies(model.MarketAction) bool { return true }

func (r *blacklist) Evaluate(_ context.Context, _ model.MarketAction, ec EvalContext, _ Activity) (Outcome, error) {
	for _, id := range r.UserIDs {
		if id == ec.UserID {
			return Outcome{Veto: true, Score: r.Score, Reason: "user is not allowed to trade"}, nil
		}
	}
	return Outcome{}, nil
}

// ========== suspicious_pattern ==========

// suspiciousPattern never vetoes; it only raises the risk score.
type suspiciousPattern struct {
	Window         time.Duration `mapstructure:"window"`
	PairTrades     int           `mapstructure:"pair_trades"`
	OverpayPercent int64         `mapstructure:"overpay_percent"`
	Score          int           `mapstructure:"score"`
}

func newSuspiciousPattern(cfg map[string]any) (Rule, error) {
	r := &suspiciousPattern{Window: 24 * time.Hour, PairTrades: 3, OverpayPercent: 300, Score: 25}
	if err := decode(cfg, r); err != nil {
		return nil, err
	}
	if r.Window <= 0 || r.PairTrades < 1 || r.OverpayPercent <= 0 {
		return nil, fmt.Errorf("window, pair_trades and overpay_percent must be positive")
	}
	return r, nil
}

func (r *suspiciousPattern) Applies(action model.MarketAction) bool {
	return action == model.ActionPurchase
}

func (r *suspiciousPattern) Evaluate(ctx context.Context, _ model.MarketAction, ec EvalContext, activity Activity) (Outcome, error) {
	var out Outcome

	n, err := activity.CountPairTrades(ctx, ec.SellerID, ec.UserID, ec.Now.Add(-r.Window))
	if err != nil {
		return Outcome{}, err
	}
	if n >= r.PairTrades {
		out.Score += r.Score
		out.Warning = fmt.Sprintf("%d trades between the same seller and buyer in %s", n, r.Window)
	}

	if ec.BaseValue > 0 && decimal.NewFromInt(ec.Price).GreaterThan(percentOf(ec.BaseValue, r.OverpayPercent)) {
		out.Score += r.Score
		if out.Warning == "" {
			out.Warning = fmt.Sprintf("price %d is far above base value %d", ec.Price, ec.BaseValue)
		}
	}
	return out, nil
}

// ========== self_trade ==========

type selfTrade struct {
	Score int `mapstructure:"score"`
}

func newSelfTrade(cfg map[string]any) (Rule, error) {
	r := &selfTrade{Score: 50}
	if err := decode(cfg, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *selfTrade) Applies(action model.MarketAction) bool { return action == model.ActionPurchase }

func (r *selfTrade) Evaluate(_ context.Context, _ model.MarketAction, ec EvalContext, _ Activity) (Outcome, error) {
	if ec.SellerID != ec.UserID {
		return Outcome{}, nil
	}
	return Outcome{Veto: true, Score: r.Score, Reason: "cannot buy your own listing"}, nil
}
