package handler

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"collectible-market/internal/service"
	"collectible-market/internal/shop"
)

// ShopHandler handles pack and collection commands.
type ShopHandler struct {
	drops  *service.DropService
	ledger *service.LedgerService
}

// NewShopHandler creates a new ShopHandler
func NewShopHandler(drops *service.DropService, ledger *service.LedgerService) *ShopHandler {
	return &ShopHandler{drops: drops, ledger: ledger}
}

// HandlePacks shows the pack shop panel.
func (h *ShopHandler) HandlePacks(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	user, _, err := h.ledger.EnsureUser(ctx, sender.ID, displayName(sender))
	if err != nil {
		return replyError(c, "packs", err)
	}
	packs, err := h.drops.ListPackTiers(ctx)
	if err != nil {
		return replyError(c, "packs", err)
	}
	return c.Send(shop.FormatShopMessage(user.Balance, packs), shop.BuildPackPanel(packs))
}

// HandleOpen handles /open <pack>.
func (h *ShopHandler) HandleOpen(c tele.Context) error {
	args := c.Args()
	if len(args) < 1 {
		return c.Reply("Usage: /open <pack>\nSee /packs for the list")
	}
	return h.open(c, strings.ToLower(args[0]))
}

func (h *ShopHandler) open(c tele.Context, packID string) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	if _, _, err := h.ledger.EnsureUser(ctx, sender.ID, displayName(sender)); err != nil {
		return replyError(c, "open", err)
	}
	res, err := h.drops.OpenPack(ctx, sender.ID, packID)
	if err != nil {
		return replyError(c, "open", err)
	}
	return c.Reply(shop.FormatOpenResult(res))
}

// HandleBag handles the /bag command.
func (h *ShopHandler) HandleBag(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	items, err := h.drops.Inventory(context.Background(), sender.ID)
	if err != nil {
		return replyError(c, "bag", err)
	}
	return c.Reply(shop.FormatInventoryMessage(items))
}

// HandleEditions handles /editions <collection>.
func (h *ShopHandler) HandleEditions(c tele.Context) error {
	args := c.Args()
	if len(args) < 1 {
		return c.Reply("Usage: /editions <collection>")
	}

	views, err := h.drops.ScarcityView(context.Background(), args[0])
	if err != nil {
		return replyError(c, "editions", err)
	}
	return c.Reply(shop.FormatScarcity(views))
}

// HandleShopCallback handles pack panel buttons.
func (h *ShopHandler) HandleShopCallback(c tele.Context) error {
	callback := c.Callback()
	if callback == nil {
		return nil
	}
	data := strings.TrimPrefix(callback.Data, "\f")

	if data == shop.CallbackPackRefresh {
		ctx := context.Background()
		balance, err := h.ledger.GetBalance(ctx, senderID(c))
		if err != nil {
			balance = 0
		}
		packs, err := h.drops.ListPackTiers(ctx)
		if err != nil {
			return c.Respond(&tele.CallbackResponse{Text: "Failed to refresh"})
		}
		if err := c.Edit(shop.FormatShopMessage(balance, packs), shop.BuildPackPanel(packs)); err != nil {
			log.Debug().Err(err).Msg("Shop panel unchanged")
		}
		return c.Respond()
	}

	packID, ok := shop.ParsePackCallback(data)
	if !ok {
		return c.Respond()
	}
	if err := c.Respond(); err != nil {
		log.Debug().Err(err).Msg("Failed to answer callback")
	}
	return h.open(c, packID)
}
