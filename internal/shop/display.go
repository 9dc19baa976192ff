// Package shop renders the pack shop and collection panels shown by the bot.
package shop

import (
	"fmt"
	"strings"

	"collectible-market/internal/model"
	"collectible-market/internal/service"
)

const separator = "━━━━━━━━━━━━━━━\n"

var rarityEmoji = map[model.Rarity]string{
	model.RarityComum:    "⚪",
	model.RarityIncomum:  "🟢",
	model.RarityRaro:     "🔵",
	model.RarityEpico:    "🟣",
	model.RarityLendario: "🟡",
}

// RarityEmoji returns the badge shown next to items of rarity r.
func RarityEmoji(r model.Rarity) string {
	if e, ok := rarityEmoji[r]; ok {
		return e
	}
	return "▫️"
}

// FormatSerial renders an edition number, or nothing for unlimited items.
func FormatSerial(serial *int, maxEditions *int) string {
	if serial == nil {
		return ""
	}
	if maxEditions != nil {
		return fmt.Sprintf(" #%d/%d", *serial, *maxEditions)
	}
	return fmt.Sprintf(" #%d", *serial)
}

// FormatShopMessage creates the pack shop welcome message.
func FormatShopMessage(balance int64, packs []*model.PackTier) string {
	var b strings.Builder
	b.WriteString("🏪 Pack Shop\n")
	b.WriteString(separator)
	fmt.Fprintf(&b, "💰 Balance: %d credits\n", balance)
	b.WriteString(separator)
	if len(packs) == 0 {
		b.WriteString("No packs on sale right now.")
		return b.String()
	}
	for _, p := range packs {
		fmt.Fprintf(&b, "📦 %s: %d credits\n", p.Name, p.Price)
		for _, r := range model.Rarities() {
			if w := p.Weights[r]; w > 0 {
				fmt.Fprintf(&b, "   %s %s %.2f%%\n", RarityEmoji(r), r, float64(w)/100)
			}
		}
	}
	b.WriteString("Tap a pack below to open it:")
	return b.String()
}

// FormatOpenResult describes the item a user pulled from a pack.
func FormatOpenResult(res *service.OpenPackResult) string {
	var b strings.Builder
	b.WriteString("🎁 Pack opened!\n")
	b.WriteString(separator)
	fmt.Fprintf(&b, "%s %s%s\n", RarityEmoji(res.Rarity), res.Item.Name, FormatSerial(res.Serial, nil))
	fmt.Fprintf(&b, "✨ Rarity: %s\n", res.Rarity)
	if res.FellBack {
		fmt.Fprintf(&b, "⚠️ Rolled %s, but none were left\n", res.Requested)
	}
	fmt.Fprintf(&b, "💎 Base value: %d\n", res.Item.BaseValue)
	b.WriteString(separator)
	fmt.Fprintf(&b, "💰 Balance: %d credits", res.NewBalance)
	return b.String()
}

// FormatInventoryMessage lists a user's items.
func FormatInventoryMessage(items []*model.OwnedItem) string {
	if len(items) == 0 {
		return "🎒 Your collection is empty\n\nOpen a pack first: /packs"
	}

	var b strings.Builder
	b.WriteString("🎒 My collection\n")
	b.WriteString(separator)
	for _, it := range items {
		fmt.Fprintf(&b, "%s [%d] %s%s (%d)", RarityEmoji(it.Rarity), it.ID, it.Name, FormatSerial(it.Serial, nil), it.BaseValue)
		if it.ListingID != nil {
			fmt.Fprintf(&b, " 🏷️ listing %d", *it.ListingID)
		}
		b.WriteString("\n")
	}
	b.WriteString(separator)
	b.WriteString("/sell <item> <price> · /autosell <item>")
	return b.String()
}

// FormatListings renders a page of active listings.
func FormatListings(listings []*model.ListingView) string {
	if len(listings) == 0 {
		return "🏬 The market is empty"
	}

	var b strings.Builder
	b.WriteString("🏬 Market\n")
	b.WriteString(separator)
	for _, l := range listings {
		fmt.Fprintf(&b, "[%d] %s %s%s: %d credits\n", l.ID, RarityEmoji(l.Rarity), l.Name, FormatSerial(l.Serial, nil), l.Price)
	}
	b.WriteString(separator)
	b.WriteString("/buy <listing>")
	return b.String()
}

// FormatScarcity renders how many editions of each item have been issued.
func FormatScarcity(views []model.ScarcityView) string {
	var b strings.Builder
	b.WriteString("📊 Editions\n")
	b.WriteString(separator)
	for _, v := range views {
		switch v.ScarcityTier {
		case model.ScarcityUnique:
			state := "available"
			if v.Claimed {
				state = "claimed"
			}
			fmt.Fprintf(&b, "%s %s: unique, %s\n", RarityEmoji(v.Rarity), v.Name, state)
		case model.ScarcityLimited:
			limit := 0
			if v.MaxEditions != nil {
				limit = *v.MaxEditions
			}
			fmt.Fprintf(&b, "%s %s: %d/%d\n", RarityEmoji(v.Rarity), v.Name, v.IssuedCount, limit)
		default:
			fmt.Fprintf(&b, "%s %s: unlimited\n", RarityEmoji(v.Rarity), v.Name)
		}
	}
	return b.String()
}
