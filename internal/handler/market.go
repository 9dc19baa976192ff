package handler

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v3"

	"collectible-market/internal/service"
	"collectible-market/internal/shop"
)

// MarketHandler handles marketplace commands.
type MarketHandler struct {
	market *service.MarketplaceService
	ledger *service.LedgerService
}

// NewMarketHandler creates a new MarketHandler.
func NewMarketHandler(market *service.MarketplaceService, ledger *service.LedgerService) *MarketHandler {
	return &MarketHandler{market: market, ledger: ledger}
}

// HandleMarket handles /market [page].
func (h *MarketHandler) HandleMarket(c tele.Context) error {
	const pageSize = 10
	page := 1
	if args := c.Args(); len(args) > 0 {
		if p, err := strconv.Atoi(args[0]); err == nil && p > 0 {
			page = p
		}
	}

	listings, err := h.market.ListActive(context.Background(), pageSize, (page-1)*pageSize)
	if err != nil {
		return replyError(c, "market", err)
	}
	return c.Reply(shop.FormatListings(listings))
}

// HandleSell handles /sell <item> <price>.
func (h *MarketHandler) HandleSell(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	args := c.Args()
	if len(args) < 2 {
		return c.Reply("Usage: /sell <item> <price>")
	}
	itemID, err1 := strconv.ParseInt(args[0], 10, 64)
	price, err2 := strconv.ParseInt(args[1], 10, 64)
	if err1 != nil || err2 != nil {
		return c.Reply("❌ Item and price must be numbers")
	}

	res, err := h.market.CreateListing(context.Background(), sender.ID, itemID, price)
	if err != nil {
		return replyError(c, "sell", err)
	}

	msg := fmt.Sprintf("🏷️ Listed item %d for %d credits (listing %d)", itemID, price, res.Listing.ID)
	if len(res.Warnings) > 0 {
		msg += "\n⚠️ " + strings.Join(res.Warnings, "\n⚠️ ")
	}
	return c.Reply(msg)
}

// HandleCancel handles /cancel <listing>.
func (h *MarketHandler) HandleCancel(c tele.Context) error {
	listingID, ok := parseIDArg(c, "Usage: /cancel <listing>")
	if !ok {
		return nil
	}

	if _, err := h.market.CancelListing(context.Background(), senderID(c), listingID); err != nil {
		return replyError(c, "cancel", err)
	}
	return c.Reply(fmt.Sprintf("✅ Listing %d cancelled", listingID))
}

// HandleBuy handles /buy <listing>.
func (h *MarketHandler) HandleBuy(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	listingID, ok := parseIDArg(c, "Usage: /buy <listing>")
	if !ok {
		return nil
	}

	ctx := context.Background()
	if _, _, err := h.ledger.EnsureUser(ctx, sender.ID, displayName(sender)); err != nil {
		return replyError(c, "buy", err)
	}
	res, err := h.market.Purchase(ctx, listingID, sender.ID)
	if err != nil {
		return replyError(c, "buy", err)
	}

	return c.Reply(fmt.Sprintf(
		"✅ Purchase complete\n"+
			"━━━━━━━━━━━━━━━\n"+
			"📦 Item: %d\n"+
			"💸 Paid: %d credits\n"+
			"💰 Balance: %d credits",
		res.ItemTransferred, res.CreditsCharged, res.BuyerBalance,
	))
}

// HandleAutoSell handles /autosell <item>.
func (h *MarketHandler) HandleAutoSell(c tele.Context) error {
	itemID, ok := parseIDArg(c, "Usage: /autosell <item>")
	if !ok {
		return nil
	}

	res, err := h.market.AutoSell(context.Background(), senderID(c), itemID)
	if err != nil {
		return replyError(c, "autosell", err)
	}
	return c.Reply(fmt.Sprintf("♻️ Sold %s back for %d credits\n💰 Balance: %d credits", res.Item.Name, res.Payout, res.Balance))
}

// parseIDArg reads the first argument as an id, replying with usage when it is missing.
func parseIDArg(c tele.Context, usage string) (int64, bool) {
	args := c.Args()
	if len(args) < 1 {
		_ = c.Reply(usage)
		return 0, false
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		_ = c.Reply("❌ Invalid id")
		return 0, false
	}
	return id, true
}
