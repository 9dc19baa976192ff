package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"collectible-market/internal/repository"
	"collectible-market/internal/service"
)

// AdminHandler handles admin-related commands.
type AdminHandler struct {
	rules  *service.RuleService
	ledger *service.LedgerService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(rules *service.RuleService, ledger *service.LedgerService) *AdminHandler {
	return &AdminHandler{rules: rules, ledger: ledger}
}

// HandleRules lists every marketplace rule.
func (h *AdminHandler) HandleRules(c tele.Context) error {
	snap, err := h.rules.List(context.Background())
	if err != nil {
		return replyError(c, "rules", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📐 Rules (version %d)\n━━━━━━━━━━━━━━━\n", snap.Version)
	for _, r := range snap.Rules {
		state := "✅"
		if !r.IsActive {
			state = "⛔"
		}
		cfg, _ := json.Marshal(r.Config)
		fmt.Fprintf(&b, "%s [%d] %s (%s, p%d) %s\n", state, r.ID, r.Name, r.Category, r.Priority, cfg)
	}
	return c.Reply(b.String())
}

// HandleRuleToggle handles /rule_toggle <id>.
func (h *AdminHandler) HandleRuleToggle(c tele.Context) error {
	ctx := context.Background()
	id, ok := parseIDArg(c, "Usage: /rule_toggle <rule id>")
	if !ok {
		return nil
	}

	snap, err := h.rules.List(ctx)
	if err != nil {
		return replyError(c, "rule_toggle", err)
	}
	active := true
	found := false
	for _, r := range snap.Rules {
		if r.ID == id {
			active = !r.IsActive
			found = true
			break
		}
	}
	if !found {
		return c.Reply("❌ Rule not found")
	}

	rule, err := h.rules.UpdateRule(ctx, id, repository.RuleUpdate{IsActive: &active})
	if err != nil {
		return replyError(c, "rule_toggle", err)
	}
	h.logAdmin(c, "rule_toggle", rule.ID)
	return c.Reply(fmt.Sprintf("✅ %s is now active=%t (version %d)", rule.Name, rule.IsActive, rule.Version))
}

// HandleRuleSet handles /rule_set <id> <key> <value>. The value is parsed as JSON
// so numbers, booleans and lists keep their type; null resets the key. Only the
// one key is sent, the service merges it into the stored config.
func (h *AdminHandler) HandleRuleSet(c tele.Context) error {
	ctx := context.Background()
	args := c.Args()
	if len(args) < 3 {
		return c.Reply("Usage: /rule_set <rule id> <key> <value>")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.Reply("❌ Invalid rule id")
	}
	key := args[1]
	raw := strings.Join(args[2:], " ")

	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		value = raw
	}

	rule, err := h.rules.UpdateRule(ctx, id, repository.RuleUpdate{Config: map[string]any{key: value}})
	if err != nil {
		return replyError(c, "rule_set", err)
	}
	h.logAdmin(c, "rule_set", rule.ID)
	return c.Reply(fmt.Sprintf("✅ %s.%s = %v (version %d)", rule.Name, key, value, rule.Version))
}

// HandleRiskSignals lists the newest risk signals.
func (h *AdminHandler) HandleRiskSignals(c tele.Context) error {
	signals, err := h.rules.RiskSignals(context.Background(), 10)
	if err != nil {
		return replyError(c, "risk", err)
	}
	if len(signals) == 0 {
		return c.Reply("🛡️ No risk signals")
	}

	var b strings.Builder
	b.WriteString("🛡️ Risk signals\n━━━━━━━━━━━━━━━\n")
	for _, s := range signals {
		mark := "⚠️"
		if s.Vetoed {
			mark = "🚫"
		}
		fmt.Fprintf(&b, "%s user %d %s score %d: %s\n", mark, s.UserID, s.Action, s.Score, strings.Join(s.Reasons, "; "))
	}
	return c.Reply(b.String())
}

// HandleReconcile checks every balance against the ledger.
func (h *AdminHandler) HandleReconcile(c tele.Context) error {
	mismatches, err := h.ledger.ReconcileAll(context.Background())
	if err != nil {
		return replyError(c, "reconcile", err)
	}
	if len(mismatches) == 0 {
		return c.Reply("✅ All balances match the ledger")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "❗ %d mismatched balances\n", len(mismatches))
	for _, m := range mismatches {
		fmt.Fprintf(&b, "user %d: balance %d, ledger %d\n", m.UserID, m.Balance, m.LedgerSum)
	}
	return c.Reply(b.String())
}

func (h *AdminHandler) logAdmin(c tele.Context, op string, ruleID int64) {
	log.Info().
		Int64("admin_id", senderID(c)).
		Int64("rule_id", ruleID).
		Str("operation", op).
		Msg("Admin operation executed")
}
