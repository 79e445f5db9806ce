package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/overlay_agent/internal/overlay"
	"github.com/dgnsrekt/overlay_agent/internal/types"
)

type stubCoordinator struct {
	unlocked int
	locked   int
}

func (s *stubCoordinator) State() overlay.State {
	return overlay.State{IsButtonVisible: true, Ports: []types.PortName{types.PortButton}, CipherHandles: 1}
}

func (s *stubCoordinator) InlineMenuCiphers() []overlay.CipherHandle {
	return []overlay.CipherHandle{{Handle: "inline-menu-cipher-0", CipherID: "c1", Type: types.CipherTypeLogin}}
}

func (s *stubCoordinator) PageDetails(tabID int) []types.PageDetails {
	if tabID != 3 {
		return nil
	}
	return []types.PageDetails{{FrameID: 0, Details: types.AutofillPageDetails{URL: "https://example.com"}}}
}

func (s *stubCoordinator) SubFrameOffsets(tabID int) map[int]*types.SubFrameOffset {
	return map[int]*types.SubFrameOffset{
		9: nil,
		4: {FrameID: 4, Left: 10, Top: 20, ParentFrameIDs: []int{0}},
	}
}

func (s *stubCoordinator) UnlockCompleted(context.Context) { s.unlocked++ }
func (s *stubCoordinator) VaultLocked(context.Context)     { s.locked++ }

type stubVault struct {
	status types.AuthStatus
}

func (v *stubVault) Status(context.Context) (types.AuthStatus, error) { return v.status, nil }

func (v *stubVault) Unlock(_ context.Context, password string) error {
	if password != "secret" {
		return types.NewError(types.CodeValidation, "invalid master password", nil)
	}
	v.status = types.AuthStatusUnlocked
	return nil
}

func (v *stubVault) Lock() { v.status = types.AuthStatusLocked }

func (v *stubVault) ConfirmReprompt(_ context.Context, id, _ string) error {
	if v.status != types.AuthStatusUnlocked {
		return types.NewError(types.CodeLocked, "vault is locked", nil)
	}
	if id == "missing" {
		return types.NewError(types.CodeNotFound, "cipher not found", nil)
	}
	return nil
}

type recordingAudit struct{ events []string }

func (a *recordingAudit) Record(event string, _, _ int, _ string) { a.events = append(a.events, event) }

func newTestServer() (http.Handler, *stubCoordinator, *stubVault, *recordingAudit) {
	c := &stubCoordinator{}
	v := &stubVault{status: types.AuthStatusLocked}
	a := &recordingAudit{}
	h := NewServer(Deps{Overlay: c, Vault: v, Audit: a, Connections: func() int { return 2 }})
	return h, c, v, a
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func TestHealth(t *testing.T) {
	h, _, _, _ := newTestServer()
	rec, body := do(t, h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "locked", body["auth_status"])
	assert.EqualValues(t, 2, body["extensions"])
}

func TestStateIncludesCipherHandles(t *testing.T) {
	h, _, _, _ := newTestServer()
	rec, body := do(t, h, http.MethodGet, "/api/v1/state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["is_button_visible"])
	ciphers := body["ciphers"].([]any)
	require.Len(t, ciphers, 1)
	assert.Equal(t, "inline-menu-cipher-0", ciphers[0].(map[string]any)["handle"])
}

func TestPageDetailsAndSubFrames(t *testing.T) {
	h, _, _, _ := newTestServer()
	rec, body := do(t, h, http.MethodGet, "/api/v1/tabs/3/page-details", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["frames"], 1)

	rec, body = do(t, h, http.MethodGet, "/api/v1/tabs/8/page-details", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["frames"], 0)

	rec, body = do(t, h, http.MethodGet, "/api/v1/tabs/3/sub-frames", "")
	require.Equal(t, http.StatusOK, rec.Code)
	frames := body["frames"].([]any)
	require.Len(t, frames, 2)
	assert.EqualValues(t, 4, frames[0].(map[string]any)["frame_id"])
	assert.Nil(t, frames[1].(map[string]any)["offset"])
}

func TestUnlockAndLockDriveCoordinator(t *testing.T) {
	h, c, _, a := newTestServer()

	rec, _ := do(t, h, http.MethodPost, "/api/v1/vault/unlock", `{"password":"wrong"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, c.unlocked)

	rec, body := do(t, h, http.MethodPost, "/api/v1/vault/unlock", `{"password":"secret"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "unlocked", body["auth_status"])
	assert.Equal(t, 1, c.unlocked)

	rec, body = do(t, h, http.MethodPost, "/api/v1/vault/lock", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "locked", body["auth_status"])
	assert.Equal(t, 1, c.locked)
	assert.Equal(t, []string{"unlock", "lock"}, a.events)
}

func TestRepromptErrorsMapToStatus(t *testing.T) {
	h, _, v, _ := newTestServer()
	rec, _ := do(t, h, http.MethodPost, "/api/v1/vault/ciphers/c1/reprompt", `{"password":"secret"}`)
	assert.Equal(t, http.StatusLocked, rec.Code)

	v.status = types.AuthStatusUnlocked
	rec, _ = do(t, h, http.MethodPost, "/api/v1/vault/ciphers/missing/reprompt", `{"password":"secret"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body := do(t, h, http.MethodPost, "/api/v1/vault/ciphers/c1/reprompt", `{"password":"secret"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "confirmed", body["status"])
}
