// Package capture runs one end-to-end capture: launch a browser, load the
// target page, collect matching responses until the network goes quiet and
// persist them.
package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/lcalzada-xor/chargecapture/internal/config"
	"github.com/lcalzada-xor/chargecapture/internal/idle"
	"github.com/lcalzada-xor/chargecapture/internal/logger"
	"github.com/lcalzada-xor/chargecapture/internal/model"
)

// Page is the browser capability a session drives.
type Page interface {
	EnableInstrumentation(ctx context.Context) error
	Subscribe(kind model.EventKind, fn model.Handler) (unsubscribe func())
	Navigate(ctx context.Context, url string) error
	Close() error
}

// Launcher acquires a browser with a single page.
type Launcher interface {
	Launch(ctx context.Context) (Page, error)
}

// LaunchFunc adapts a function to Launcher.
type LaunchFunc func(ctx context.Context) (Page, error)

// Launch calls f.
func (f LaunchFunc) Launch(ctx context.Context) (Page, error) { return f(ctx) }

// Store persists captured payloads.
type Store interface {
	Prepare(dir string) error
	Save(dir string, payloads []string) ([]string, error)
}

// Session coordinates a single capture run.
type Session struct {
	cfg      config.Config
	launcher Launcher
	store    Store
	log      logger.Logger
}

// New builds a session. cfg is copied and never modified.
func New(cfg config.Config, launcher Launcher, store Store, l logger.Logger) *Session {
	if l == nil {
		l = logger.NewNop()
	}
	return &Session{cfg: cfg, launcher: launcher, store: store, log: l}
}

// Run executes the capture. The browser is always closed before Run returns,
// once it has been launched.
func (s *Session) Run(ctx context.Context) (err error) {
	log := s.log.With("session", uuid.NewString())

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	log.Info("launching browser")
	page, err := s.launcher.Launch(ctx)
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	defer func() {
		closeErr := page.Close()
		if closeErr == nil {
			log.Info("browser closed")
			return
		}
		log.Err(closeErr, "failed to close browser")
		if err == nil {
			err = fmt.Errorf("close browser: %w", closeErr)
		}
	}()

	if err := page.EnableInstrumentation(ctx); err != nil {
		return fmt.Errorf("enable instrumentation: %w", err)
	}

	if err := s.store.Prepare(s.cfg.OutputDir); err != nil {
		return fmt.Errorf("prepare output directory: %w", err)
	}

	buf := newCaptureBuffer()
	unsubscribeResponses := page.Subscribe(model.EventResponse, func(ev model.Event) {
		s.onResponse(ctx, log, buf, ev)
	})
	defer unsubscribeResponses()

	log.Info("navigating", "url", s.cfg.TargetURL)
	if err := page.Navigate(ctx, s.cfg.TargetURL); err != nil {
		return fmt.Errorf("navigate to %s: %w", s.cfg.TargetURL, err)
	}

	detector := idle.New(s.cfg.IdleTimeout)
	unsubscribeRequests := page.Subscribe(model.EventRequest, func(model.Event) {
		detector.OnRequest()
	})
	defer unsubscribeRequests()

	log.Info("waiting for network idle", "idle", s.cfg.IdleTimeout)
	if err := detector.Wait(ctx); err != nil {
		return fmt.Errorf("wait for network idle: %w", err)
	}
	log.Info("network idle")

	unsubscribeRequests()
	unsubscribeResponses()
	payloads := buf.drain()

	paths, err := s.store.Save(s.cfg.OutputDir, payloads)
	if err != nil {
		return fmt.Errorf("save responses: %w", err)
	}
	log.Info("capture complete", "responses", len(paths), "dir", s.cfg.OutputDir)
	return nil
}

// onResponse runs on the browser event loop, so the body read happens in its
// own goroutine. The slot is reserved first to keep arrival order.
func (s *Session) onResponse(ctx context.Context, log logger.Logger, buf *captureBuffer, ev model.Event) {
	if !strings.Contains(ev.URL, s.cfg.Endpoint) || ev.Body == nil {
		return
	}

	slot, ok := buf.reserve()
	if !ok {
		return
	}

	go func() {
		defer buf.release()

		body, err := ev.Body(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Err(err, "failed to read response body", "url", ev.URL)
			}
			return
		}
		if body == "" {
			log.Debug("skipping empty response", "url", ev.URL)
			return
		}

		buf.fill(slot, body)
		log.Info("captured response", append([]any{"url", ev.URL, "slot", slot}, describePayload(body)...)...)
	}()
}

// describePayload summarises a body for logging. The payload itself is never
// altered or rejected.
func describePayload(body string) []any {
	kv := []any{"bytes", len(body)}
	if !gjson.Valid(body) {
		return append(kv, "json", false)
	}
	kv = append(kv, "json", true)
	if root := gjson.Parse(body); root.IsArray() {
		kv = append(kv, "items", root.Get("#").Int())
	}
	return kv
}

// captureBuffer holds response bodies in arrival order.
type captureBuffer struct {
	mu     sync.Mutex
	wg     sync.WaitGroup
	slots  []string
	closed bool
}

func newCaptureBuffer() *captureBuffer {
	return &captureBuffer{}
}

func (b *captureBuffer) reserve() (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, false
	}
	b.slots = append(b.slots, "")
	b.wg.Add(1)
	return len(b.slots) - 1, true
}

func (b *captureBuffer) fill(slot int, body string) {
	b.mu.Lock()
	b.slots[slot] = body
	b.mu.Unlock()
}

func (b *captureBuffer) release() { b.wg.Done() }

// drain stops accepting responses, waits for pending body reads and returns
// the non-empty bodies in arrival order.
func (b *captureBuffer) drain() []string {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.slots))
	for _, body := range b.slots {
		if body != "" {
			out = append(out, body)
		}
	}
	return out
}
