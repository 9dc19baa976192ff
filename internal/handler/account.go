package handler

import (
	"context"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v3"

	"collectible-market/internal/service"
)

// AccountHandler handles account-related commands.
type AccountHandler struct {
	ledger *service.LedgerService
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(ledger *service.LedgerService) *AccountHandler {
	return &AccountHandler{ledger: ledger}
}

// HandleStart handles the /start command.
// Creates an empty account if the user doesn't exist.
func (h *AccountHandler) HandleStart(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	user, created, err := h.ledger.EnsureUser(ctx, sender.ID, displayName(sender))
	if err != nil {
		return replyError(c, "start", err)
	}

	if created {
		return c.Reply(fmt.Sprintf(
			"🎉 Welcome @%s!\n\n"+
				"Your collection has been created.\n\n"+
				"Commands:\n"+
				"/packs - pack shop\n"+
				"/open <pack> - open a pack\n"+
				"/bag - your collection\n"+
				"/market - browse listings\n"+
				"/sell <item> <price> - list an item\n"+
				"/buy <listing> - buy a listing\n"+
				"/autosell <item> - sell back to the platform\n"+
				"/balance - your credits",
			user.Username,
		))
	}

	return c.Reply(fmt.Sprintf("👋 Welcome back @%s!\n\nBalance: %d credits", user.Username, user.Balance))
}

// HandleBalance handles the /balance command.
func (h *AccountHandler) HandleBalance(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	user, _, err := h.ledger.EnsureUser(ctx, sender.ID, displayName(sender))
	if err != nil {
		return replyError(c, "balance", err)
	}
	return c.Reply(fmt.Sprintf("💰 Balance: %d credits", user.Balance))
}

// HandleHistory handles the /history command.
func (h *AccountHandler) HandleHistory(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	txs, err := h.ledger.History(ctx, sender.ID, 10)
	if err != nil {
		return replyError(c, "history", err)
	}
	if len(txs) == 0 {
		return c.Reply("📜 No transactions yet")
	}

	var b strings.Builder
	b.WriteString("📜 Recent transactions\n━━━━━━━━━━━━━━━\n")
	for _, tx := range txs {
		fmt.Fprintf(&b, "%s %+d %s\n", tx.CreatedAt.Format("01-02 15:04"), tx.Amount, tx.Type)
	}
	return c.Reply(b.String())
}
