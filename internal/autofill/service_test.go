package autofill

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/overlay_agent/internal/overlay"
	"github.com/dgnsrekt/overlay_agent/internal/types"
)

type sent struct {
	frameID int
	msg     types.FillFormMessage
}

type recordingMessenger struct{ sent []sent }

func (m *recordingMessenger) TabSendMessage(_ context.Context, _ *types.Tab, msg any, frameID int) (json.RawMessage, error) {
	m.sent = append(m.sent, sent{frameID: frameID, msg: msg.(types.FillFormMessage)})
	return nil, nil
}

type fakeVault struct {
	reprompt bool
	used     []string
}

func (v *fakeVault) RepromptRequired(types.CipherView) bool { return v.reprompt }

func (v *fakeVault) MarkUsed(_ context.Context, id string) error {
	v.used = append(v.used, id)
	return nil
}

func field(opid string, n int, typ string) types.AutofillField {
	return types.AutofillField{OpID: opid, ElementNumber: n, Type: typ, Viewable: true, Form: "f1"}
}

func loginPage(frameID int) types.PageDetails {
	return types.PageDetails{FrameID: frameID, Details: types.AutofillPageDetails{
		URL: "https://example.com/login",
		Fields: []types.AutofillField{
			field("__0", 0, "text"),
			field("__1", 1, "email"),
			field("__2", 2, "password"),
			{OpID: "__3", ElementNumber: 3, Type: "text", AutoCompleteType: "one-time-code", Viewable: true},
		},
	}}
}

func TestDoAutoFillLogin(t *testing.T) {
	m := &recordingMessenger{}
	v := &fakeVault{}
	s := New(m, v)
	s.now = func() time.Time { return time.Unix(59, 0) }

	cipher := types.CipherView{
		ID:    "c1",
		Type:  types.CipherTypeLogin,
		Login: &types.LoginView{Username: "alice", Password: "hunter2", TOTP: "JBSWY3DPEHPK3PXP", URIs: []string{"https://example.com"}},
	}
	empty := types.PageDetails{FrameID: 7, Details: types.AutofillPageDetails{URL: "https://ads.example"}}
	code, err := s.DoAutoFill(context.Background(), overlay.FillRequest{
		Tab:               &types.Tab{ID: 1},
		Cipher:            cipher,
		PageDetails:       []types.PageDetails{loginPage(0), empty},
		AllowTOTPAutofill: true,
	})
	require.NoError(t, err)
	assert.Len(t, code, 6)

	require.Len(t, m.sent, 1)
	assert.Equal(t, 0, m.sent[0].frameID)
	script := m.sent[0].msg.FillScript
	assert.Equal(t, "login", script.ItemType)
	assert.Contains(t, script.Script, []string{opFill, "__1", "alice"})
	assert.Contains(t, script.Script, []string{opFill, "__2", "hunter2"})
	assert.Contains(t, script.Script, []string{opFill, "__3", code})
	assert.NotContains(t, script.Script, []string{opFill, "__0", "alice"})
	assert.Equal(t, []string{"c1"}, v.used)
}

func TestDoAutoFillSkipsNewPasswordUnlessAsked(t *testing.T) {
	m := &recordingMessenger{}
	s := New(m, &fakeVault{})
	page := types.PageDetails{Details: types.AutofillPageDetails{Fields: []types.AutofillField{
		{OpID: "np", Type: "password", AutoCompleteType: "new-password", Viewable: true},
	}}}
	req := overlay.FillRequest{
		Tab:         &types.Tab{ID: 1},
		Cipher:      types.CipherView{Type: types.CipherTypeLogin, Login: &types.LoginView{Password: "pw"}},
		PageDetails: []types.PageDetails{page},
	}

	_, err := s.DoAutoFill(context.Background(), req)
	var coded *types.CodedError
	require.ErrorAs(t, err, &coded)
	assert.Equal(t, types.CodeNotFound, coded.Code)

	req.FillNewPassword = true
	_, err = s.DoAutoFill(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, m.sent, 1)
}

func TestDoAutoFillCard(t *testing.T) {
	m := &recordingMessenger{}
	s := New(m, nil)
	page := types.PageDetails{Details: types.AutofillPageDetails{Fields: []types.AutofillField{
		{OpID: "num", AutoCompleteType: "cc-number", Viewable: true},
		{OpID: "exp", AutoCompleteType: "cc-exp", Viewable: true},
		{OpID: "cvc", HTMLName: "cvc", Viewable: true},
		{OpID: "ro", AutoCompleteType: "cc-name", Viewable: true, Readonly: true},
	}}}
	_, err := s.DoAutoFill(context.Background(), overlay.FillRequest{
		Tab: &types.Tab{ID: 1},
		Cipher: types.CipherView{Type: types.CipherTypeCard, Card: &types.CardView{
			CardholderName: "A", Number: "4242424242424242", ExpMonth: "04", ExpYear: "2030", Code: "123",
		}},
		PageDetails: []types.PageDetails{page},
	})
	require.NoError(t, err)
	script := m.sent[0].msg.FillScript.Script
	assert.Contains(t, script, []string{opFill, "num", "4242424242424242"})
	assert.Contains(t, script, []string{opFill, "exp", "04/30"})
	assert.Contains(t, script, []string{opFill, "cvc", "123"})
	assert.NotContains(t, script, []string{opFill, "ro", "A"})
}

func TestRepromptDelegatesToVault(t *testing.T) {
	s := New(&recordingMessenger{}, &fakeVault{reprompt: true})
	got, err := s.IsPasswordRepromptRequired(context.Background(), types.CipherView{}, nil)
	require.NoError(t, err)
	assert.True(t, got)

	s = New(&recordingMessenger{}, nil)
	got, _ = s.IsPasswordRepromptRequired(context.Background(), types.CipherView{Reprompt: types.RepromptPassword}, nil)
	assert.True(t, got)
}
