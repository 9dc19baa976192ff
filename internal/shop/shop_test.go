package shop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collectible-market/internal/model"
	"collectible-market/internal/service"
)

func packs() []*model.PackTier {
	return []*model.PackTier{
		{ID: "bronze", Name: "Bronze", Price: 100, Weights: map[model.Rarity]int{model.RarityComum: 7000, model.RarityLendario: 3000}},
		{ID: "silver", Name: "Silver", Price: 250},
		{ID: "gold", Name: "Gold", Price: 500},
	}
}

func TestBuildPackPanel(t *testing.T) {
	markup := BuildPackPanel(packs())
	require.Len(t, markup.InlineKeyboard, 3)
	assert.Len(t, markup.InlineKeyboard[0], 2)
	assert.Len(t, markup.InlineKeyboard[1], 1)
	assert.Equal(t, CallbackPackRefresh, markup.InlineKeyboard[2][0].Unique)
}

func TestParsePackCallback(t *testing.T) {
	id, ok := ParsePackCallback("\fpack_open:gold")
	assert.True(t, ok)
	assert.Equal(t, "gold", id)

	_, ok = ParsePackCallback("pack_open:")
	assert.False(t, ok)
	_, ok = ParsePackCallback(CallbackPackRefresh)
	assert.False(t, ok)
}

func TestFormatShopMessage(t *testing.T) {
	msg := FormatShopMessage(120, packs())
	assert.Contains(t, msg, "120 credits")
	assert.Contains(t, msg, "COMUM 70.00%")
	assert.Contains(t, msg, "LENDARIO 30.00%")

	assert.Contains(t, FormatShopMessage(0, nil), "No packs")
}

func TestFormatOpenResult(t *testing.T) {
	serial := 2
	msg := FormatOpenResult(&service.OpenPackResult{
		Item:       model.ItemDefinition{Name: "Crown", BaseValue: 2250},
		Serial:     &serial,
		Rarity:     model.RarityEpico,
		Requested:  model.RarityLendario,
		FellBack:   true,
		NewBalance: 5,
	})
	assert.Contains(t, msg, "Crown #2")
	assert.Contains(t, msg, "Rolled LENDARIO")
	assert.Contains(t, msg, "Balance: 5 credits")
}

func TestFormatSerial(t *testing.T) {
	one, three := 1, 3
	assert.Equal(t, "", FormatSerial(nil, nil))
	assert.Equal(t, " #1", FormatSerial(&one, nil))
	assert.Equal(t, " #1/3", FormatSerial(&one, &three))
}

func TestFormatInventoryMessage(t *testing.T) {
	assert.Contains(t, FormatInventoryMessage(nil), "empty")

	listing := int64(9)
	msg := FormatInventoryMessage([]*model.OwnedItem{
		{UserItem: model.UserItem{ID: 4}, Name: "Starter", Rarity: model.RarityComum, BaseValue: 5},
		{UserItem: model.UserItem{ID: 5}, Name: "Crown", Rarity: model.RarityLendario, ListingID: &listing},
	})
	assert.Contains(t, msg, "[4] Starter")
	assert.Contains(t, msg, "listing 9")
}

func TestFormatScarcity(t *testing.T) {
	three := 3
	msg := FormatScarcity([]model.ScarcityView{
		{Name: "Crown", ScarcityTier: model.ScarcityUnique, Claimed: true},
		{Name: "Banner", ScarcityTier: model.ScarcityLimited, IssuedCount: 2, MaxEditions: &three},
		{Name: "Starter", ScarcityTier: model.ScarcityUnlimited},
	})
	assert.Contains(t, msg, "Crown: unique, claimed")
	assert.Contains(t, msg, "Banner: 2/3")
	assert.Contains(t, msg, "Starter: unlimited")
}
