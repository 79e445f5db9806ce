package overlay

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/dgnsrekt/overlay_agent/internal/types"
)

const cipherHandlePrefix = "inline-menu-cipher-"

type cipherEntry struct {
	handle string
	cipher types.CipherView
}

// cipherHandles is the ordered handle -> cipher map served to the list UI.
// Handles are assigned positionally on rebuild and travel with their cipher
// when it is promoted.
type cipherHandles struct {
	entries []cipherEntry
}

func (c *cipherHandles) rebuild(ciphers []types.CipherView) {
	c.entries = make([]cipherEntry, 0, len(ciphers))
	for i, cipher := range ciphers {
		c.entries = append(c.entries, cipherEntry{
			handle: fmt.Sprintf("%s%d", cipherHandlePrefix, i),
			cipher: cipher,
		})
	}
}

func (c *cipherHandles) get(handle string) (types.CipherView, bool) {
	for _, e := range c.entries {
		if e.handle == handle {
			return e.cipher, true
		}
	}
	return types.CipherView{}, false
}

// promote moves handle to the front, keeping the relative order of the rest.
func (c *cipherHandles) promote(handle string) bool {
	for i, e := range c.entries {
		if e.handle != handle {
			continue
		}
		copy(c.entries[1:i+1], c.entries[:i])
		c.entries[0] = e
		return true
	}
	return false
}

func (c *cipherHandles) len() int { return len(c.entries) }

func (c *cipherHandles) snapshot() []cipherEntry {
	out := make([]cipherEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// CipherHandle pairs an opaque inline menu handle with the cipher id it
// resolves to. Only exposed for inspection inside the daemon.
type CipherHandle struct {
	Handle   string           `json:"handle"`
	CipherID string           `json:"cipher_id"`
	Type     types.CipherType `json:"type"`
}

// sortCiphers orders by most recently used first, then by name.
func sortCiphers(ciphers []types.CipherView) {
	sort.SliceStable(ciphers, func(i, j int) bool {
		a, b := ciphers[i], ciphers[j]
		if !a.LastUsed.Equal(b.LastUsed) {
			return a.LastUsed.After(b.LastUsed)
		}
		return strings.ToLower(a.Name) < strings.ToLower(b.Name)
	})
}

func isCardOrIdentity(c types.CipherView) bool {
	return c.Type == types.CipherTypeCard || c.Type == types.CipherTypeIdentity
}

// inlineMenuCipherData maps the handle map to the summaries the list UI is
// allowed to see. Passwords, card numbers and TOTP seeds never leave here.
func inlineMenuCipherData(entries []cipherEntry, showFavicons bool, iconsURL string) []types.InlineMenuCipherData {
	out := make([]types.InlineMenuCipherData, 0, len(entries))
	for _, e := range entries {
		c := e.cipher
		data := types.InlineMenuCipherData{
			ID:       e.handle,
			Name:     c.Name,
			Type:     c.Type,
			Reprompt: c.Reprompt,
			Favorite: c.Favorite,
			Icon:     cipherIcon(c, showFavicons, iconsURL),
		}
		switch c.Type {
		case types.CipherTypeLogin:
			data.Login = &types.InlineMenuLoginData{}
			if c.Login != nil {
				data.Login.Username = c.Login.Username
			}
		case types.CipherTypeCard:
			data.Card = c.Card.SubTitle()
		case types.CipherTypeIdentity:
			data.Identity = &types.InlineMenuIdentityData{}
			if c.Identity != nil {
				data.Identity.Username = c.Identity.Username
				if data.Identity.Username == "" {
					data.Identity.Username = c.Identity.Email
				}
			}
		}
		out = append(out, data)
	}
	return out
}

func cipherIcon(c types.CipherView, showFavicons bool, iconsURL string) types.CipherIcon {
	switch c.Type {
	case types.CipherTypeCard:
		return types.CipherIcon{Icon: "bwi-credit-card"}
	case types.CipherTypeIdentity:
		return types.CipherIcon{Icon: "bwi-id-card"}
	case types.CipherTypeSecureNote:
		return types.CipherIcon{Icon: "bwi-sticky-note"}
	}
	icon := types.CipherIcon{Icon: "bwi-globe", FallbackImage: "images/bwi-globe.png"}
	if !showFavicons || iconsURL == "" || c.Login == nil {
		return icon
	}
	for _, raw := range c.Login.URIs {
		host := uriHost(raw)
		if host == "" {
			continue
		}
		icon.ImageEnabled = true
		icon.Image = strings.TrimRight(iconsURL, "/") + "/" + host + "/icon.png"
		break
	}
	return icon
}

func uriHost(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	return u.Hostname()
}
