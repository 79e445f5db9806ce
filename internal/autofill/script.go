package autofill

import (
	"slices"
	"strings"

	"github.com/dgnsrekt/overlay_agent/internal/types"
)

const (
	opClick = "click_on_opid"
	opFocus = "focus_by_opid"
	opFill  = "fill_by_opid"
)

type scriptBuilder struct {
	script [][]string
	filled map[string]bool
}

func (b *scriptBuilder) fill(f types.AutofillField, value string) {
	if value == "" || b.filled[f.OpID] {
		return
	}
	if b.filled == nil {
		b.filled = make(map[string]bool)
	}
	b.filled[f.OpID] = true
	b.script = append(b.script,
		[]string{opClick, f.OpID},
		[]string{opFocus, f.OpID},
		[]string{opFill, f.OpID, value},
	)
}

func fillable(f types.AutofillField) bool {
	return f.Viewable && !f.Disabled && !f.Readonly
}

func isUsernameType(t string) bool {
	switch strings.ToLower(t) {
	case "", "text", "email", "tel":
		return true
	}
	return false
}

// keywords collects the lowercased attributes fields are matched on.
func keywords(f types.AutofillField) string {
	return strings.ToLower(strings.Join([]string{f.HTMLID, f.HTMLName, f.Placeholder}, " "))
}

func autocompleteIs(f types.AutofillField, values ...string) bool {
	return slices.Contains(values, strings.ToLower(strings.TrimSpace(f.AutoCompleteType)))
}

func hasKeyword(f types.AutofillField, words ...string) bool {
	k := keywords(f)
	for _, w := range words {
		if strings.Contains(k, w) {
			return true
		}
	}
	return false
}

// buildFillScript returns the actions that fill cipher into one frame. An
// empty script means the frame has nothing fillable for this cipher.
func buildFillScript(details types.AutofillPageDetails, cipher types.CipherView, fillNewPassword, fillTOTP bool, totpCode string) types.FillScript {
	fields := slices.Clone(details.Fields)
	slices.SortStableFunc(fields, func(a, b types.AutofillField) int { return a.ElementNumber - b.ElementNumber })

	var b scriptBuilder
	switch cipher.Type {
	case types.CipherTypeLogin:
		buildLogin(&b, fields, cipher.Login, fillNewPassword)
		if fillTOTP && totpCode != "" {
			for _, f := range fields {
				if fillable(f) && (autocompleteIs(f, "one-time-code") || hasKeyword(f, "totp", "otp", "2fa")) {
					b.fill(f, totpCode)
				}
			}
		}
	case types.CipherTypeCard:
		buildCard(&b, fields, cipher.Card)
	case types.CipherTypeIdentity:
		buildIdentity(&b, fields, cipher.Identity)
	}

	fs := types.FillScript{Script: b.script, ItemType: itemType(cipher.Type)}
	if cipher.Login != nil {
		fs.SavedURLs = cipher.Login.URIs
	}
	return fs
}

func buildLogin(b *scriptBuilder, fields []types.AutofillField, login *types.LoginView, fillNewPassword bool) {
	if login == nil {
		return
	}
	var passwords []int
	for i, f := range fields {
		if strings.EqualFold(f.Type, "password") && fillable(f) {
			if !fillNewPassword && autocompleteIs(f, "new-password") {
				continue
			}
			passwords = append(passwords, i)
		}
	}

	if len(passwords) == 0 {
		for _, f := range fields {
			if fillable(f) && (autocompleteIs(f, "username", "email") || hasKeyword(f, "user", "email", "login")) {
				b.fill(f, login.Username)
				return
			}
		}
		return
	}

	for _, pi := range passwords {
		pw := fields[pi]
		// The username is the closest text-like field before the password,
		// in the same form when the password sits in one.
		for i := pi - 1; i >= 0; i-- {
			f := fields[i]
			if !fillable(f) || !isUsernameType(f.Type) {
				continue
			}
			if pw.Form != "" && f.Form != pw.Form {
				continue
			}
			b.fill(f, login.Username)
			break
		}
		b.fill(pw, login.Password)
	}
}

func buildCard(b *scriptBuilder, fields []types.AutofillField, card *types.CardView) {
	if card == nil {
		return
	}
	for _, f := range fields {
		if !fillable(f) {
			continue
		}
		switch {
		case autocompleteIs(f, "cc-name") || hasKeyword(f, "cardholder", "card-name", "ccname"):
			b.fill(f, card.CardholderName)
		case autocompleteIs(f, "cc-number") || hasKeyword(f, "cardnumber", "card-number", "ccnumber"):
			b.fill(f, card.Number)
		case autocompleteIs(f, "cc-exp-month") || hasKeyword(f, "exp-month", "expmonth"):
			b.fill(f, card.ExpMonth)
		case autocompleteIs(f, "cc-exp-year") || hasKeyword(f, "exp-year", "expyear"):
			b.fill(f, card.ExpYear)
		case autocompleteIs(f, "cc-exp"):
			if card.ExpMonth != "" && card.ExpYear != "" {
				year := card.ExpYear
				if len(year) == 4 {
					year = year[2:]
				}
				b.fill(f, card.ExpMonth+"/"+year)
			}
		case autocompleteIs(f, "cc-csc") || hasKeyword(f, "cvc", "cvv", "csc"):
			b.fill(f, card.Code)
		}
	}
}

func buildIdentity(b *scriptBuilder, fields []types.AutofillField, id *types.IdentityView) {
	if id == nil {
		return
	}
	for _, f := range fields {
		if !fillable(f) {
			continue
		}
		switch {
		case autocompleteIs(f, "given-name") || hasKeyword(f, "firstname", "first-name", "first_name"):
			b.fill(f, id.FirstName)
		case autocompleteIs(f, "family-name") || hasKeyword(f, "lastname", "last-name", "last_name"):
			b.fill(f, id.LastName)
		case autocompleteIs(f, "name") || hasKeyword(f, "fullname", "full-name"):
			b.fill(f, id.FullName())
		case autocompleteIs(f, "email") || strings.EqualFold(f.Type, "email") || hasKeyword(f, "email"):
			b.fill(f, id.Email)
		case autocompleteIs(f, "tel") || strings.EqualFold(f.Type, "tel") || hasKeyword(f, "phone"):
			b.fill(f, id.Phone)
		case autocompleteIs(f, "username") || hasKeyword(f, "username"):
			b.fill(f, id.Username)
		}
	}
}

func itemType(t types.CipherType) string {
	switch t {
	case types.CipherTypeLogin:
		return "login"
	case types.CipherTypeCard:
		return "card"
	case types.CipherTypeIdentity:
		return "identity"
	}
	return ""
}
