// Package bot provides the Telegram bot initialization and handler registration.
package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"collectible-market/internal/config"
	"collectible-market/internal/handler"
	"collectible-market/internal/pkg/lock"
	"collectible-market/internal/service"
	"collectible-market/internal/shop"
)

// Bot wraps the telebot instance with application dependencies.
type Bot struct {
	bot      *tele.Bot
	cfg      *config.Config
	userLock *lock.UserLock

	accountHandler *handler.AccountHandler
	shopHandler    *handler.ShopHandler
	marketHandler  *handler.MarketHandler
	adminHandler   *handler.AdminHandler
}

// Dependencies holds all the dependencies needed by the bot handlers.
type Dependencies struct {
	Config             *config.Config
	LedgerService      *service.LedgerService
	DropService        *service.DropService
	MarketplaceService *service.MarketplaceService
	RuleService        *service.RuleService
}

// New creates a new Bot instance with the given dependencies.
func New(deps *Dependencies) (*Bot, error) {
	if deps.Config.Bot.Token == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	pref := tele.Settings{
		Token:  deps.Config.Bot.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c tele.Context) {
			log.Error().Err(err).Msg("Bot handler error")
		},
	}

	teleBot, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	b := &Bot{
		bot:            teleBot,
		cfg:            deps.Config,
		userLock:       lock.NewUserLock(),
		accountHandler: handler.NewAccountHandler(deps.LedgerService),
		shopHandler:    handler.NewShopHandler(deps.DropService, deps.LedgerService),
		marketHandler:  handler.NewMarketHandler(deps.MarketplaceService, deps.LedgerService),
		adminHandler:   handler.NewAdminHandler(deps.RuleService, deps.LedgerService),
	}

	b.registerMiddleware()
	b.registerHandlers()

	return b, nil
}

func (b *Bot) registerMiddleware() {
	b.bot.Use(RecoveryMiddleware())
	b.bot.Use(LoggingMiddleware())
}

func (b *Bot) registerHandlers() {
	// Account
	b.bot.Handle("/start", b.accountHandler.HandleStart)
	b.bot.Handle("/balance", b.accountHandler.HandleBalance)
	b.bot.Handle("/history", b.accountHandler.HandleHistory)

	// Read-only
	b.bot.Handle("/packs", b.shopHandler.HandlePacks)
	b.bot.Handle("/bag", b.shopHandler.HandleBag)
	b.bot.Handle("/editions", b.shopHandler.HandleEditions)
	b.bot.Handle("/market", b.marketHandler.HandleMarket)

	// Commands that move credits or items, one at a time per user
	trade := b.bot.Group()
	trade.Use(SerializeMiddleware(b.userLock))
	trade.Handle("/open", b.shopHandler.HandleOpen)
	trade.Handle("/sell", b.marketHandler.HandleSell)
	trade.Handle("/cancel", b.marketHandler.HandleCancel)
	trade.Handle("/buy", b.marketHandler.HandleBuy)
	trade.Handle("/autosell", b.marketHandler.HandleAutoSell)
	trade.Handle(tele.OnCallback, b.handleCallback)

	adminGroup := b.bot.Group()
	adminGroup.Use(AdminMiddleware(b.cfg))
	adminGroup.Handle("/rules", b.adminHandler.HandleRules)
	adminGroup.Handle("/rule_toggle", b.adminHandler.HandleRuleToggle)
	adminGroup.Handle("/rule_set", b.adminHandler.HandleRuleSet)
	adminGroup.Handle("/risk", b.adminHandler.HandleRiskSignals)
	adminGroup.Handle("/reconcile", b.adminHandler.HandleReconcile)
}

// handleCallback routes callbacks to appropriate handlers
func (b *Bot) handleCallback(c tele.Context) error {
	callback := c.Callback()
	if callback == nil {
		return nil
	}

	data := strings.TrimPrefix(callback.Data, "\f")
	if strings.HasPrefix(data, shop.CallbackPackOpen) || data == shop.CallbackPackRefresh {
		return b.shopHandler.HandleShopCallback(c)
	}

	log.Debug().Str("data", data).Msg("Unhandled callback")
	return c.Respond()
}

// Start starts the bot polling. It blocks until Stop is called.
func (b *Bot) Start() {
	log.Info().Str("username", b.bot.Me.Username).Msg("Starting bot...")
	b.bot.Start()
}

// Stop stops the bot gracefully.
func (b *Bot) Stop() {
	log.Info().Msg("Stopping bot...")
	b.bot.Stop()
}
