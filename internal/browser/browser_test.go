package browser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/chargecapture/internal/logger"
	"github.com/lcalzada-xor/chargecapture/internal/model"
)

func newDetachedPage() *Page {
	return &Page{
		log:      logger.NewNop(),
		handlers: make(map[uint64]subscription),
		inflight: make(map[network.RequestID]string),
	}
}

func TestDispatchRoutesEventsByKind(t *testing.T) {
	p := newDetachedPage()

	var requests, responses []model.Event
	p.Subscribe(model.EventRequest, func(ev model.Event) { requests = append(requests, ev) })
	p.Subscribe(model.EventResponse, func(ev model.Event) { responses = append(responses, ev) })

	p.dispatch(&network.EventRequestWillBeSent{
		RequestID: "1",
		Request:   &network.Request{URL: "https://example.com/api/locations?bbox=1"},
	})
	p.dispatch(&network.EventRequestWillBeSent{
		RequestID: "2",
		Request:   &network.Request{URL: "https://example.com/app.js"},
	})
	p.dispatch(&network.EventLoadingFinished{RequestID: "1"})
	p.dispatch(&network.EventLoadingFailed{RequestID: "2"})
	p.dispatch(&network.EventLoadingFinished{RequestID: "2"})

	require.Len(t, requests, 2)
	require.Equal(t, "https://example.com/api/locations?bbox=1", requests[0].URL)
	require.Nil(t, requests[0].Body)

	require.Len(t, responses, 1)
	require.Equal(t, model.EventResponse, responses[0].Kind)
	require.Equal(t, "1", responses[0].RequestID)
	require.Equal(t, "https://example.com/api/locations?bbox=1", responses[0].URL)
	require.NotNil(t, responses[0].Body)

	require.Empty(t, p.inflight)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	p := newDetachedPage()

	calls := 0
	unsubscribe := p.Subscribe(model.EventRequest, func(model.Event) { calls++ })

	p.dispatch(&network.EventRequestWillBeSent{RequestID: "a", Request: &network.Request{URL: "https://a"}})
	unsubscribe()
	unsubscribe()
	p.dispatch(&network.EventRequestWillBeSent{RequestID: "b", Request: &network.Request{URL: "https://b"}})

	require.Equal(t, 1, calls)
}

func TestFindExecPathHonoursEnv(t *testing.T) {
	bin := filepath.Join(t.TempDir(), "chromium")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))
	t.Setenv("CHROMEDP_EXEC_PATH", bin)

	path, ok := findExecPath()
	require.True(t, ok)
	require.Equal(t, bin, path)
	require.True(t, IsAvailable())
}

func TestFindExecPathIgnoresDirectoryEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CHROMEDP_EXEC_PATH", dir)
	t.Setenv("PATH", t.TempDir())

	_, ok := findExecPath()
	require.False(t, ok)
}

func TestExtraHeadersLeaveRequestHeadersAlone(t *testing.T) {
	require.Empty(t, extraHeaders(Options{}))
	require.Empty(t, extraHeaders(Options{UserAgent: "capture-test", Insecure: true}))

	headers := extraHeaders(Options{Cookies: "session=abc", UserAgent: "capture-test"})
	require.Equal(t, network.Headers{"Cookie": "session=abc"}, headers)
	require.NotContains(t, headers, "Accept")
	require.NotContains(t, headers, "User-Agent")
}
