package rules

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"collectible-market/internal/model"
)

// Source yields the current rule set.
type Source interface {
	Snapshot(ctx context.Context) (*model.RuleSnapshot, error)
}

// SignalSink receives risk signals. Implementations must not block the caller
// on slow consumers and must swallow their own failures.
type SignalSink interface {
	RecordSignal(ctx context.Context, signal model.RiskSignal)
}

// Engine evaluates marketplace actions against the rule set in force at the
// time of the call. It holds no rule state between calls.
type Engine struct {
	source        Source
	activity      Activity
	sink          SignalSink
	registry      *Registry
	riskThreshold int
	now           func() time.Time
}

// NewEngine creates a rule engine. sink may be nil.
func NewEngine(source Source, activity Activity, sink SignalSink, registry *Registry, riskThreshold int) *Engine {
	if registry == nil {
		registry = DefaultRegistry
	}
	return &Engine{
		source:        source,
		activity:      activity,
		sink:          sink,
		registry:      registry,
		riskThreshold: riskThreshold,
		now:           time.Now,
	}
}

// Evaluate merges the outcome of every active rule that applies to action.
// Any veto makes the decision a rejection. A rule whose stored config no
// longer parses is skipped and logged.
func (e *Engine) Evaluate(ctx context.Context, action model.MarketAction, ec EvalContext) (*Decision, error) {
	snap, err := e.source.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	if ec.Now.IsZero() {
		ec.Now = e.now()
	}

	active := make([]model.MarketplaceRule, 0, len(snap.Rules))
	for _, r := range snap.Rules {
		if r.IsActive {
			active = append(active, r)
		}
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].Priority > active[j].Priority })

	d := &Decision{Allow: true, Version: snap.Version}
	for _, stored := range active {
		rule, err := e.registry.Build(stored.Category, stored.Config)
		if err != nil {
			log.Error().Err(err).
				Int64("rule_id", stored.ID).
				Str("rule", stored.Name).
				Msg("Skipping unparseable marketplace rule")
			continue
		}
		if !rule.Applies(action) {
			continue
		}

		out, err := rule.Evaluate(ctx, action, ec, e.activity)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", stored.Name, err)
		}
		merge(d, stored.Name, out)
	}

	log.Debug().
		Str("action", string(action)).
		Int64("user_id", ec.UserID).
		Int64("rule_version", d.Version).
		Bool("allow", d.Allow).
		Int("risk_score", d.RiskScore).
		Msg("Marketplace rules evaluated")

	e.signal(ctx, action, ec, d)
	return d, nil
}

func merge(d *Decision, name string, out Outcome) {
	d.RiskScore += out.Score
	if out.Veto {
		d.Allow = false
		d.Reasons = append(d.Reasons, name+": "+out.Reason)
	}
	if out.Warning != "" {
		d.Warnings = append(d.Warnings, name+": "+out.Warning)
	}
	if out.Suggested != nil && d.SuggestedPriceRange == nil {
		d.SuggestedPriceRange = out.Suggested
	}
	if out.RetryAfter > d.RetryAfter {
		d.RetryAfter = out.RetryAfter
	}
}

func (e *Engine) signal(ctx context.Context, action model.MarketAction, ec EvalContext, d *Decision) {
	if e.sink == nil {
		return
	}
	if d.Allow && len(d.Warnings) == 0 && d.RiskScore < e.riskThreshold {
		return
	}

	s := model.RiskSignal{
		UserID:    ec.UserID,
		Action:    action,
		Score:     d.RiskScore,
		Vetoed:    !d.Allow,
		Reasons:   append(append([]string{}, d.Reasons...), d.Warnings...),
		CreatedAt: ec.Now,
	}
	if ec.UserItemID != 0 {
		id := ec.UserItemID
		s.UserItemID = &id
	}
	if ec.ListingID != 0 {
		id := ec.ListingID
		s.ListingID = &id
	}
	e.sink.RecordSignal(ctx, s)
}
