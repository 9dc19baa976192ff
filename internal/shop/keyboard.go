package shop

import (
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v3"

	"collectible-market/internal/model"
)

// Callback data prefixes
const (
	CallbackPackOpen    = "pack_open:"   // pack_open:bronze
	CallbackPackRefresh = "pack_refresh" // pack_refresh
)

// BuildPackPanel creates the shop panel with one button per pack.
func BuildPackPanel(packs []*model.PackTier) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}

	var rows []tele.Row
	var currentRow []tele.Btn
	for i, p := range packs {
		btn := markup.Data(fmt.Sprintf("📦 %s (%d💰)", p.Name, p.Price), CallbackPackOpen+p.ID)
		currentRow = append(currentRow, btn)

		// 2 buttons per row
		if len(currentRow) == 2 || i == len(packs)-1 {
			rows = append(rows, markup.Row(currentRow...))
			currentRow = nil
		}
	}

	rows = append(rows, markup.Row(markup.Data("🔄 Refresh", CallbackPackRefresh)))

	markup.Inline(rows...)
	return markup
}

// ParsePackCallback extracts the pack id from callback data.
func ParsePackCallback(data string) (string, bool) {
	// Telebot v3 may add a \f prefix to callback data
	data = strings.TrimPrefix(data, "\f")
	id, ok := strings.CutPrefix(data, CallbackPackOpen)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
