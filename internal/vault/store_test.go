package vault

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/overlay_agent/internal/types"
)

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time { return c.t }

func openTest(t *testing.T, clock *testClock) *Store {
	t.Helper()
	opts := []Option{WithKDFMemory(64)}
	if clock != nil {
		opts = append(opts, WithClock(clock.now))
	}
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "vault.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func codeOf(err error) string {
	var coded *types.CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

func login(name string, uris ...string) types.CipherView {
	return types.CipherView{
		Name:  name,
		Type:  types.CipherTypeLogin,
		Login: &types.LoginView{Username: strings.ToLower(name), Password: "pw-" + name, URIs: uris},
	}
}

func TestAuthStatusLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, nil)

	st, err := s.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.AuthStatusLoggedOut, st)

	require.NoError(t, s.Initialize(ctx, "correct horse"))
	st, _ = s.Status(ctx)
	assert.Equal(t, types.AuthStatusUnlocked, st)

	s.Lock()
	st, _ = s.Status(ctx)
	assert.Equal(t, types.AuthStatusLocked, st)

	err = s.Unlock(ctx, "wrong")
	assert.Equal(t, types.CodeValidation, codeOf(err))
	require.NoError(t, s.Unlock(ctx, "correct horse"))
	st, _ = s.Status(ctx)
	assert.Equal(t, types.AuthStatusUnlocked, st)

	assert.Equal(t, types.CodeValidation, codeOf(s.Initialize(ctx, "again")))
}

func TestLockedVaultRefusesDecryption(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, nil)
	require.NoError(t, s.Initialize(ctx, "pw"))
	id, err := s.Add(ctx, login("Example", "https://example.com"))
	require.NoError(t, err)
	s.Lock()

	_, err = s.AllDecryptedForURL(ctx, "https://example.com", nil)
	assert.Equal(t, types.CodeLocked, codeOf(err))
	_, err = s.Get(ctx, id)
	assert.Equal(t, types.CodeLocked, codeOf(err))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Example", list[0].Name)
}

func TestAllDecryptedForURLMatchesDomainAndIncludedTypes(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := openTest(t, clock)
	require.NoError(t, s.Initialize(ctx, "pw"))

	bravo, err := s.Add(ctx, login("bravo", "https://www.example.com/login"))
	require.NoError(t, err)
	_, err = s.Add(ctx, login("Alpha", "accounts.example.com"))
	require.NoError(t, err)
	_, err = s.Add(ctx, login("Other", "https://other.test"))
	require.NoError(t, err)
	_, err = s.Add(ctx, types.CipherView{Name: "Visa", Type: types.CipherTypeCard, Card: &types.CardView{Brand: "Visa", Number: "4242424242424242"}})
	require.NoError(t, err)
	_, err = s.Add(ctx, types.CipherView{Name: "Note", Type: types.CipherTypeSecureNote})
	require.NoError(t, err)

	clock.t = clock.t.Add(time.Hour)
	require.NoError(t, s.MarkUsed(ctx, bravo))

	got, err := s.AllDecryptedForURL(ctx, "https://example.com/signin", nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "bravo", got[0].Name)
	assert.Equal(t, "Alpha", got[1].Name)
	assert.Equal(t, "pw-bravo", got[0].Login.Password)
	assert.False(t, got[0].LastUsed.IsZero())

	got, err = s.AllDecryptedForURL(ctx, "https://example.com", []types.CipherType{types.CipherTypeCard, types.CipherTypeIdentity})
	require.NoError(t, err)
	names := make([]string, 0, len(got))
	for _, c := range got {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"bravo", "Alpha", "Visa"}, names)
}

func TestAddUpdatesExistingCipher(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, nil)
	require.NoError(t, s.Initialize(ctx, "pw"))

	c := login("Example", "https://example.com")
	id, err := s.Add(ctx, c)
	require.NoError(t, err)
	c.ID = id
	c.Login.Password = "rotated"
	_, err = s.Add(ctx, c)
	require.NoError(t, err)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "rotated", got.Login.Password)

	require.NoError(t, s.Delete(ctx, id))
	_, err = s.Get(ctx, id)
	assert.Equal(t, types.CodeNotFound, codeOf(err))
	assert.Equal(t, types.CodeNotFound, codeOf(s.MarkUsed(ctx, id)))
}

func TestRepromptWindow(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := openTest(t, clock)
	require.NoError(t, s.Initialize(ctx, "pw"))

	c := login("Bank", "https://bank.example")
	c.Reprompt = types.RepromptPassword
	id, err := s.Add(ctx, c)
	require.NoError(t, err)
	c.ID = id

	assert.True(t, s.RepromptRequired(c))
	assert.Equal(t, types.CodeValidation, codeOf(s.ConfirmReprompt(ctx, id, "nope")))
	require.NoError(t, s.ConfirmReprompt(ctx, id, "pw"))
	assert.False(t, s.RepromptRequired(c))

	clock.t = clock.t.Add(RepromptWindow)
	assert.True(t, s.RepromptRequired(c))

	assert.False(t, s.RepromptRequired(login("Plain")))
}

func TestDraftIsConsumedOnce(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, nil)
	assert.Equal(t, types.CodeLocked, codeOf(s.SetAddEditCipherInfo(ctx, login("x"))))

	require.NoError(t, s.Initialize(ctx, "pw"))
	require.NoError(t, s.SetAddEditCipherInfo(ctx, login("Draft")))
	d, ok := s.AddEditCipherInfo()
	require.True(t, ok)
	assert.Equal(t, "Draft", d.Name)
	_, ok = s.AddEditCipherInfo()
	assert.False(t, ok)
}

func TestImport(t *testing.T) {
	ctx := context.Background()
	s := openTest(t, nil)
	require.NoError(t, s.Initialize(ctx, "pw"))

	n, err := s.Import(ctx, strings.NewReader(`
ciphers:
  - name: Example
    type: login
    reprompt: true
    login:
      username: alice
      password: hunter2
      totp: JBSWY3DPEHPK3PXP
      uris: [https://example.com]
  - name: Me
    type: identity
    identity:
      first_name: Alice
      email: alice@example.com
`))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := s.AllDecryptedForURL(ctx, "https://example.com", []types.CipherType{types.CipherTypeIdentity})
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, c := range got {
		if c.Type == types.CipherTypeLogin {
			assert.Equal(t, "hunter2", c.Login.Password)
			assert.Equal(t, types.RepromptPassword, c.Reprompt)
		} else {
			assert.Equal(t, "alice@example.com", c.Identity.Email)
		}
	}

	_, err = s.Import(ctx, strings.NewReader("ciphers:\n  - name: Bad\n    type: spaceship\n"))
	assert.Equal(t, types.CodeValidation, codeOf(err))
}
