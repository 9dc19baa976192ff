// Package handler provides Telegram bot command handlers.
package handler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"collectible-market/internal/service"
)

// errorText turns a service error into the message shown to the player.
func errorText(err error) string {
	var rv *service.RuleViolationError
	if errors.As(err, &rv) {
		msg := "🚫 Not allowed\n" + strings.Join(rv.Reasons, "\n")
		if rv.SuggestedPriceRange != nil {
			msg += fmt.Sprintf("\n💡 Try a price between %d and %d", rv.SuggestedPriceRange.Min, rv.SuggestedPriceRange.Max)
		}
		if rv.RetryAfter > 0 {
			msg += fmt.Sprintf("\n⏰ Try again in %s", rv.RetryAfter.Round(time.Second))
		}
		return msg
	}

	switch service.Code(err) {
	case service.CodeInsufficientCredits:
		return "❌ Not enough credits"
	case service.CodeTryAgain:
		return "⏳ This collection is sold out for now, please try again later"
	case service.CodeListingUnavailable:
		return "❌ That listing is no longer available"
	case service.CodePackTierNotFound:
		return "❌ Unknown pack, see /packs"
	case service.CodeNotFound:
		return "❌ Not found"
	case service.CodeForbidden:
		return "❌ That item is not yours"
	case service.CodeConflict:
		return "❌ That item is listed, cancel the listing first"
	case service.CodeInvalidRequest:
		return "❌ " + err.Error()
	}
	return "❌ Something went wrong, please try again later"
}

func replyError(c tele.Context, action string, err error) error {
	if service.Code(err) == service.CodeInternal {
		log.Error().Err(err).Str("action", action).Int64("user_id", senderID(c)).Msg("Bot command failed")
	}
	return c.Reply(errorText(err))
}

func senderID(c tele.Context) int64 {
	if s := c.Sender(); s != nil {
		return s.ID
	}
	return 0
}

func displayName(u *tele.User) string {
	if u.Username != "" {
		return u.Username
	}
	return u.FirstName
}
