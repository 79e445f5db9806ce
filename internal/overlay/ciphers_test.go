package overlay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/overlay_agent/internal/types"
)

func TestCipherHandlesPromoteKeepsHandle(t *testing.T) {
	var h cipherHandles
	h.rebuild([]types.CipherView{{ID: "a"}, {ID: "b"}, {ID: "c"}})

	require.True(t, h.promote("inline-menu-cipher-2"))
	require.False(t, h.promote("inline-menu-cipher-9"))

	got := h.snapshot()
	assert.Equal(t, "inline-menu-cipher-2", got[0].handle)
	assert.Equal(t, "c", got[0].cipher.ID)
	assert.Equal(t, "a", got[1].cipher.ID)
	assert.Equal(t, "b", got[2].cipher.ID)

	c, ok := h.get("inline-menu-cipher-0")
	require.True(t, ok)
	assert.Equal(t, "a", c.ID)
}

func TestSortCiphersMostRecentThenName(t *testing.T) {
	now := time.Now()
	ciphers := []types.CipherView{
		{ID: "old", Name: "zeta", LastUsed: now.Add(-time.Hour)},
		{ID: "b", Name: "Bravo"},
		{ID: "a", Name: "alpha"},
		{ID: "new", Name: "yak", LastUsed: now},
	}
	sortCiphers(ciphers)

	ids := make([]string, 0, len(ciphers))
	for _, c := range ciphers {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"new", "old", "a", "b"}, ids)
}

func TestInlineMenuCipherDataHidesSecrets(t *testing.T) {
	var h cipherHandles
	h.rebuild([]types.CipherView{
		{ID: "l", Name: "Example", Type: types.CipherTypeLogin, Login: &types.LoginView{Username: "alice", Password: "hunter2", TOTP: "JBSWY3DPEHPK3PXP", URIs: []string{"https://accounts.example.com/login"}}},
		{ID: "c", Name: "Visa", Type: types.CipherTypeCard, Card: &types.CardView{Brand: "Visa", Number: "4111111111111111", Code: "123"}},
		{ID: "i", Name: "Me", Type: types.CipherTypeIdentity, Identity: &types.IdentityView{Email: "me@example.com"}},
	})

	data := inlineMenuCipherData(h.snapshot(), true, "https://icons.example.net/")

	require.Len(t, data, 3)
	assert.Equal(t, "inline-menu-cipher-0", data[0].ID)
	assert.Equal(t, "alice", data[0].Login.Username)
	assert.True(t, data[0].Icon.ImageEnabled)
	assert.Equal(t, "https://icons.example.net/accounts.example.com/icon.png", data[0].Icon.Image)
	assert.Equal(t, "Visa, *1111", data[1].Card)
	assert.Equal(t, "bwi-credit-card", data[1].Icon.Icon)
	assert.Equal(t, "me@example.com", data[2].Identity.Username)
	assert.Equal(t, "bwi-id-card", data[2].Icon.Icon)
}

func TestCipherIconWithoutFavicons(t *testing.T) {
	c := types.CipherView{Type: types.CipherTypeLogin, Login: &types.LoginView{URIs: []string{"example.com"}}}
	icon := cipherIcon(c, false, "https://icons.example.net")
	assert.False(t, icon.ImageEnabled)
	assert.Equal(t, "bwi-globe", icon.Icon)

	icon = cipherIcon(c, true, "https://icons.example.net")
	assert.Equal(t, "https://icons.example.net/example.com/icon.png", icon.Image)
}
