package platform

import (
	"context"
	"errors"
	"testing"

	"github.com/atotto/clipboard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/overlay_agent/internal/types"
)

type recorder struct{ msgs []any }

func (r *recorder) SendMessage(_ context.Context, msg any) error {
	r.msgs = append(r.msgs, msg)
	return nil
}

func TestPopoutsBroadcastOpenPopout(t *testing.T) {
	r := &recorder{}
	p := NewPopouts(r)
	tab := &types.Tab{ID: 9}

	require.NoError(t, p.OpenUnlock(context.Background(), tab))
	require.NoError(t, p.OpenAddEditVaultItem(context.Background(), tab, ""))
	require.NoError(t, p.OpenViewVaultItem(context.Background(), tab, "c1"))

	require.Len(t, r.msgs, 3)
	assert.Equal(t, types.PopoutMessage{Command: types.CmdOpenPopout, Popout: PopoutUnlock, TabID: 9}, r.msgs[0])
	assert.Equal(t, "add", r.msgs[1].(types.PopoutMessage).Action)
	assert.Equal(t, "c1", r.msgs[2].(types.PopoutMessage).CipherID)
}

func TestClipboardWrapsErrors(t *testing.T) {
	if clipboard.Unsupported {
		t.Skip("no clipboard on this host")
	}
	c := &SystemClipboard{write: func(string) error { return errors.New("boom") }}
	assert.Error(t, c.Copy("123456"))

	var got string
	c = &SystemClipboard{write: func(s string) error { got = s; return nil }}
	require.NoError(t, c.Copy("123456"))
	assert.Equal(t, "123456", got)
}
