package relay

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/overlay_agent/internal/overlay"
	"github.com/dgnsrekt/overlay_agent/internal/types"
)

func TestPublishFansOutByFeed(t *testing.T) {
	b := NewBroker()
	id, ch := b.Subscribe()
	defer b.Unsubscribe(id)

	b.Publish(overlay.TrafficEvent{Target: "port:autofill-inline-menu-list", Command: types.CmdUpdateAutofillInlineMenuListCiphers, Count: 3})

	evt := <-ch
	assert.Equal(t, "port", evt.Feed)
	assert.JSONEq(t, `{"target":"port:autofill-inline-menu-list","command":"updateAutofillInlineMenuListCiphers","count":3}`, evt.Payload)
	assert.Equal(t, 1, b.ClientCount())
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	b := NewBroker()
	_, _ = b.Subscribe()
	for range subscriberBufSize + 5 {
		b.Publish(overlay.TrafficEvent{Target: "tab"})
	}
	assert.Equal(t, int64(5), b.Dropped())
}

func TestSSEHandlerFiltersFeeds(t *testing.T) {
	b := NewBroker()
	srv := httptest.NewServer(SSEHandler(b))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?feeds=tab", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return b.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	b.Publish(overlay.TrafficEvent{Target: "port:autofill-inline-menu-button", Command: types.CmdFadeInAutofillInlineMenuIframe})
	b.Publish(overlay.TrafficEvent{Target: "tab", Command: types.CmdOpenAutofillInlineMenu, TabID: 4})

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: tab\n", line)
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "id: 1\n", line)
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, "data: "))
	assert.Contains(t, line, `"tab_id":4`)
}

func TestSSEHandlerRejectsUnknownFeed(t *testing.T) {
	srv := httptest.NewServer(SSEHandler(NewBroker()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "?feeds=tab,ports")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestParseFeeds(t *testing.T) {
	feeds, err := parseFeeds(" tab , port,")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{FeedTab: true, FeedPort: true}, feeds)

	feeds, err = parseFeeds(",")
	require.NoError(t, err)
	assert.Nil(t, feeds)

	_, err = parseFeeds("frames")
	assert.ErrorContains(t, err, `unknown feed "frames"`)
}
