package types

import (
	"strings"
	"time"
)

// AuthStatus is the active account's authentication state.
type AuthStatus int

const (
	AuthStatusLoggedOut AuthStatus = 0
	AuthStatusLocked    AuthStatus = 1
	AuthStatusUnlocked  AuthStatus = 2
)

func (s AuthStatus) String() string {
	switch s {
	case AuthStatusLocked:
		return "locked"
	case AuthStatusUnlocked:
		return "unlocked"
	default:
		return "logged_out"
	}
}

type CipherType int

const (
	CipherTypeLogin      CipherType = 1
	CipherTypeSecureNote CipherType = 2
	CipherTypeCard       CipherType = 3
	CipherTypeIdentity   CipherType = 4
)

// ParseCipherType accepts the names used in import files.
func ParseCipherType(s string) (CipherType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "login":
		return CipherTypeLogin, true
	case "note", "securenote", "secure_note":
		return CipherTypeSecureNote, true
	case "card":
		return CipherTypeCard, true
	case "identity":
		return CipherTypeIdentity, true
	}
	return 0, false
}

type RepromptType int

const (
	RepromptNone     RepromptType = 0
	RepromptPassword RepromptType = 1
)

type LoginView struct {
	Username string   `json:"username,omitempty" yaml:"username"`
	Password string   `json:"password,omitempty" yaml:"password"`
	TOTP     string   `json:"totp,omitempty" yaml:"totp"`
	URIs     []string `json:"uris,omitempty" yaml:"uris"`
}

type CardView struct {
	CardholderName string `json:"cardholderName,omitempty" yaml:"cardholder_name"`
	Brand          string `json:"brand,omitempty" yaml:"brand"`
	Number         string `json:"number,omitempty" yaml:"number"`
	ExpMonth       string `json:"expMonth,omitempty" yaml:"exp_month"`
	ExpYear        string `json:"expYear,omitempty" yaml:"exp_year"`
	Code           string `json:"code,omitempty" yaml:"code"`
}

// SubTitle is the masked summary shown in the inline menu, e.g. "Visa, *4242".
func (c *CardView) SubTitle() string {
	if c == nil {
		return ""
	}
	sub := c.Brand
	if n := len(c.Number); n >= 4 {
		if sub != "" {
			sub += ", "
		}
		sub += "*" + c.Number[n-4:]
	}
	return sub
}

type IdentityView struct {
	Title     string `json:"title,omitempty" yaml:"title"`
	FirstName string `json:"firstName,omitempty" yaml:"first_name"`
	LastName  string `json:"lastName,omitempty" yaml:"last_name"`
	Username  string `json:"username,omitempty" yaml:"username"`
	Email     string `json:"email,omitempty" yaml:"email"`
	Phone     string `json:"phone,omitempty" yaml:"phone"`
}

// FullName joins the non-empty name parts.
func (i *IdentityView) FullName() string {
	if i == nil {
		return ""
	}
	return strings.TrimSpace(strings.Join([]string{i.FirstName, i.LastName}, " "))
}

// CipherView is a fully decrypted credential. It never leaves the daemon
// except through the autofill collaborator.
type CipherView struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Type     CipherType    `json:"type"`
	Favorite bool          `json:"favorite"`
	Reprompt RepromptType  `json:"reprompt"`
	FolderID string        `json:"folderId,omitempty"`
	LastUsed time.Time     `json:"lastUsed,omitempty"`
	Login    *LoginView    `json:"login,omitempty"`
	Card     *CardView     `json:"card,omitempty"`
	Identity *IdentityView `json:"identity,omitempty"`
}

// CipherIcon tells the list UI how to render a cipher's icon.
type CipherIcon struct {
	ImageEnabled  bool   `json:"imageEnabled"`
	Image         string `json:"image,omitempty"`
	FallbackImage string `json:"fallbackImage,omitempty"`
	Icon          string `json:"icon"`
}

// InlineMenuLoginData is the only login field the list UI ever sees.
type InlineMenuLoginData struct {
	Username string `json:"username"`
}

// InlineMenuIdentityData is the only identity field the list UI ever sees.
type InlineMenuIdentityData struct {
	Username string `json:"username"`
}

// InlineMenuCipherData is the non-sensitive summary posted to the list port.
// ID is an opaque "inline-menu-cipher-N" handle, never the cipher id.
type InlineMenuCipherData struct {
	ID       string                  `json:"id"`
	Name     string                  `json:"name"`
	Type     CipherType              `json:"type"`
	Reprompt RepromptType            `json:"reprompt"`
	Favorite bool                    `json:"favorite"`
	Icon     CipherIcon              `json:"icon"`
	Login    *InlineMenuLoginData    `json:"login,omitempty"`
	Card     string                  `json:"card,omitempty"`
	Identity *InlineMenuIdentityData `json:"identity,omitempty"`
}
