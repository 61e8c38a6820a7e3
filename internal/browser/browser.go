// Package browser adapts a chromedp-driven Chromium instance to the page
// capability used by the capture session.
package browser

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/lcalzada-xor/chargecapture/internal/logger"
	"github.com/lcalzada-xor/chargecapture/internal/model"
)

// Options configures the launched browser.
type Options struct {
	Headless  bool
	Proxy     string
	Insecure  bool
	Cookies   string
	// UserAgent overrides the browser's own user agent, in headers and
	// navigator.userAgent alike, when set.
	UserAgent string
	// ExecPath overrides browser discovery when set.
	ExecPath string
	Logger   logger.Logger
}

// Page is one browser tab owned by its own Chromium process.
type Page struct {
	opts Options
	log  logger.Logger

	ctx           context.Context
	cancelAlloc   context.CancelFunc
	cancelBrowser context.CancelFunc

	mu       sync.Mutex
	nextID   uint64
	handlers map[uint64]subscription
	inflight map[network.RequestID]string

	closeOnce sync.Once
	closeErr  error
}

type subscription struct {
	kind model.EventKind
	fn   model.Handler
}

// Launch starts a Chromium process with a single page. The browser lives until
// Close is called or ctx is done.
func Launch(ctx context.Context, opts Options) (*Page, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}

	allocatorOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-client-side-phishing-detection", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-hang-monitor", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.Flag("disable-prompt-on-repost", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("metrics-recording-only", true),
		chromedp.Flag("safebrowsing-disable-auto-update", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("ignore-certificate-errors", opts.Insecure),
	)

	// Chromium refuses to start its sandbox as root, as in most containers
	if os.Geteuid() == 0 {
		allocatorOpts = append(allocatorOpts, chromedp.NoSandbox)
	}

	if opts.Proxy != "" {
		allocatorOpts = append(allocatorOpts, chromedp.ProxyServer(opts.Proxy))
	}

	if opts.ExecPath != "" {
		allocatorOpts = append(allocatorOpts, chromedp.ExecPath(opts.ExecPath))
	} else if execPath, ok := findExecPath(); ok {
		allocatorOpts = append(allocatorOpts, chromedp.ExecPath(execPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocatorOpts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	p := &Page{
		opts:          opts,
		log:           log,
		ctx:           browserCtx,
		cancelAlloc:   cancelAlloc,
		cancelBrowser: cancelBrowser,
		handlers:      make(map[uint64]subscription),
		inflight:      make(map[network.RequestID]string),
	}

	// an empty Run starts the browser and opens the first tab
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, err
	}

	chromedp.ListenTarget(browserCtx, p.dispatch)
	log.Debug("browser launched", "headless", opts.Headless, "proxy", opts.Proxy)
	return p, nil
}

// EnableInstrumentation turns on the network domain. Only the overrides the
// user asked for are installed so the page's own requests go out unchanged.
func (p *Page) EnableInstrumentation(ctx context.Context) error {
	actions := []chromedp.Action{network.Enable()}
	if p.opts.UserAgent != "" {
		actions = append(actions, emulation.SetUserAgentOverride(p.opts.UserAgent))
	}
	if headers := extraHeaders(p.opts); len(headers) > 0 {
		actions = append(actions, network.SetExtraHTTPHeaders(headers))
	}
	return p.run(ctx, actions...)
}

// extraHeaders returns the headers forced onto every request. Chrome lets
// these replace the ones the page sets, so nothing content related belongs here.
func extraHeaders(opts Options) network.Headers {
	headers := network.Headers{}
	if opts.Cookies != "" {
		headers["Cookie"] = opts.Cookies
	}
	return headers
}

// Subscribe registers fn for events of the given kind. The returned function
// removes the subscription and is safe to call more than once.
func (p *Page) Subscribe(kind model.EventKind, fn model.Handler) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.handlers[id] = subscription{kind: kind, fn: fn}
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.handlers, id)
		p.mu.Unlock()
	}
}

// Navigate loads rawURL and waits for the load event.
func (p *Page) Navigate(ctx context.Context, rawURL string) error {
	return p.run(ctx, chromedp.Navigate(rawURL))
}

// Close shuts the browser down. Only the first call does any work.
func (p *Page) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.handlers = make(map[uint64]subscription)
		p.mu.Unlock()

		err := chromedp.Cancel(p.ctx)
		p.cancelBrowser()
		p.cancelAlloc()
		if err != nil && !errors.Is(err, context.Canceled) {
			p.closeErr = err
		}
		p.log.Debug("browser closed")
	})
	return p.closeErr
}

// run executes actions on the page while honouring ctx as well as the
// browser's own lifetime.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	if ctx == nil {
		return chromedp.Run(p.ctx, actions...)
	}

	errc := make(chan error, 1)
	go func() {
		errc <- chromedp.Run(p.ctx, actions...)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Page) dispatch(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		url := ""
		if e.Request != nil {
			url = e.Request.URL
		}
		p.mu.Lock()
		p.inflight[e.RequestID] = url
		p.mu.Unlock()
		p.emit(model.Event{Kind: model.EventRequest, RequestID: string(e.RequestID), URL: url})
	case *network.EventLoadingFinished:
		p.mu.Lock()
		url, ok := p.inflight[e.RequestID]
		delete(p.inflight, e.RequestID)
		p.mu.Unlock()
		if !ok {
			return
		}
		p.emit(model.Event{
			Kind:      model.EventResponse,
			RequestID: string(e.RequestID),
			URL:       url,
			Body:      p.bodyReader(e.RequestID),
		})
	case *network.EventLoadingFailed:
		p.mu.Lock()
		delete(p.inflight, e.RequestID)
		p.mu.Unlock()
	}
}

func (p *Page) emit(ev model.Event) {
	p.mu.Lock()
	var fns []model.Handler
	for _, sub := range p.handlers {
		if sub.kind == ev.Kind {
			fns = append(fns, sub.fn)
		}
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// bodyReader returns an accessor for the response body. It must be called off
// the event loop goroutine.
func (p *Page) bodyReader(id network.RequestID) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		var body []byte
		err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			body, err = network.GetResponseBody(id).Do(ctx)
			return err
		}))
		if err != nil {
			return "", err
		}
		return string(body), nil
	}
}

// IsAvailable returns true when a supported Chromium based browser can be located.
func IsAvailable() bool {
	if _, ok := findExecPath(); ok {
		return true
	}

	// chromedp can find the browser automatically even when we don't provide
	// a path. Only report true here when CHROMEDP_EXEC_PATH points somewhere real.
	execPath := strings.TrimSpace(os.Getenv("CHROMEDP_EXEC_PATH"))
	if execPath == "" {
		return false
	}

	if _, err := os.Stat(execPath); err == nil {
		return true
	}

	return false
}

func findExecPath() (string, bool) {
	if env := strings.TrimSpace(os.Getenv("CHROMEDP_EXEC_PATH")); env != "" {
		if stat, err := os.Stat(env); err == nil && !stat.IsDir() {
			return env, true
		}
	}

	names := []string{
		"chromium",
		"chromium-browser",
		"google-chrome",
		"google-chrome-stable",
		"chrome",
		"msedge",
		"microsoft-edge",
	}

	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path, true
		}
	}

	return "", false
}
