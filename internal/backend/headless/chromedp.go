// Package headless implements the browser-rendered backend using chromedp.
package headless

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/mvalko/scrape-orchestrator/internal/orchestrator"
)

// Config controls the headless backend.
type Config struct {
	UserAgent         string
	UnitCost          float64
	MaxParallel       int
	NavigationTimeout time.Duration
}

// Backend renders a target in headless Chrome and returns the final DOM as
// the attempt payload. Browser sessions are bounded by MaxParallel slots.
type Backend struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a headless Backend backed by a shared Chrome allocator.
func New(cfg Config) (*Backend, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Backend{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context.
func (b *Backend) Close() {
	b.allocCancel()
}

// Attempt renders the target and returns the outer HTML. Navigation errors
// and timeouts are failure outcomes; the configured unit cost is charged
// either way since the browser session was spent.
func (b *Backend) Attempt(ctx context.Context, target string) orchestrator.Outcome {
	start := time.Now()
	out := orchestrator.Outcome{Cost: b.cfg.UnitCost}

	if err := b.acquire(ctx); err != nil {
		out.Err = err
		out.Duration = time.Since(start)
		return out
	}
	defer b.release()

	taskCtx, taskCancel := chromedp.NewContext(b.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, b.cfg.NavigationTimeout)
	defer cancel()

	stop := propagateCancel(ctx, taskCancel)
	defer stop()

	var html string
	actions := []chromedp.Action{
		b.networkSetupAction(),
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		out.Err = fmt.Errorf("chromedp run: %w", err)
		out.Duration = time.Since(start)
		return out
	}

	out.Success = true
	out.Payload = []byte(html)
	out.Duration = time.Since(start)
	return out
}

func (b *Backend) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (b *Backend) acquire(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	select {
	case b.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (b *Backend) release() {
	if b.limiter == nil {
		return
	}
	<-b.limiter
}

// propagateCancel links the caller's context to the chromedp task context,
// which is derived from the allocator rather than the caller.
func propagateCancel(ctx context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
