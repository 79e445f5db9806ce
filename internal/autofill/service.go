// Package autofill turns a chosen cipher into per-frame fill scripts and
// generates TOTP codes.
package autofill

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/dgnsrekt/overlay_agent/internal/overlay"
	"github.com/dgnsrekt/overlay_agent/internal/types"
)

// Messenger delivers fill scripts to frames.
type Messenger interface {
	TabSendMessage(ctx context.Context, tab *types.Tab, msg any, frameID int) (json.RawMessage, error)
}

// Vault is the part of the credential store the filler needs.
type Vault interface {
	RepromptRequired(cipher types.CipherView) bool
	MarkUsed(ctx context.Context, id string) error
}

type Service struct {
	messenger Messenger
	vault     Vault
	now       func() time.Time
}

func New(messenger Messenger, vault Vault) *Service {
	return &Service{messenger: messenger, vault: vault, now: time.Now}
}

func (s *Service) IsPasswordRepromptRequired(_ context.Context, cipher types.CipherView, _ *types.Tab) (bool, error) {
	if s.vault == nil {
		return cipher.Reprompt == types.RepromptPassword, nil
	}
	return s.vault.RepromptRequired(cipher), nil
}

// DoAutoFill sends a fill script to every frame of the tab that has fields
// for the cipher and returns the login's current TOTP code, if it has one.
func (s *Service) DoAutoFill(ctx context.Context, req overlay.FillRequest) (string, error) {
	if req.Tab == nil || len(req.PageDetails) == 0 {
		return "", types.NewError(types.CodeValidation, "autofill: nothing to fill", nil)
	}

	var code string
	if req.Cipher.Login != nil && req.Cipher.Login.TOTP != "" {
		t, err := ParseTOTP(req.Cipher.Login.TOTP)
		if err == nil {
			code, err = t.Code(s.now())
		}
		if err != nil {
			slog.Warn("autofill: unusable totp seed", "cipher_id", req.Cipher.ID, "error", err)
		}
	}

	filled := 0
	for _, pd := range req.PageDetails {
		script := buildFillScript(pd.Details, req.Cipher, req.FillNewPassword, req.AllowTOTPAutofill, code)
		if len(script.Script) == 0 {
			continue
		}
		msg := types.FillFormMessage{Command: types.CmdFillForm, FillScript: script, PageURL: pd.Details.URL}
		if _, err := s.messenger.TabSendMessage(ctx, req.Tab, msg, pd.FrameID); err != nil {
			slog.Debug("autofill: frame did not accept fill", "tab_id", req.Tab.ID, "frame_id", pd.FrameID, "error", err)
			continue
		}
		filled++
	}
	if filled == 0 {
		return "", types.NewError(types.CodeNotFound, "autofill: no fillable fields", nil)
	}

	if s.vault != nil && req.Cipher.ID != "" {
		if err := s.vault.MarkUsed(ctx, req.Cipher.ID); err != nil {
			slog.Warn("autofill: mark used failed", "cipher_id", req.Cipher.ID, "error", err)
		}
	}
	slog.Debug("autofill: filled", "tab_id", req.Tab.ID, "frames", filled)
	return code, nil
}
