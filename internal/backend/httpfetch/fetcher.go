// Package httpfetch implements the plain-HTTP backend using gocolly.
package httpfetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/mvalko/scrape-orchestrator/internal/orchestrator"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	UnitCost  float64
	Timeout   time.Duration
}

// Backend fetches a target with a single HTTP GET through a Colly collector.
// It reports the configured unit cost per attempt regardless of outcome.
type Backend struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Backend.
func New(cfg Config) *Backend {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(newTransport())
	return &Backend{cfg: cfg, baseCollector: c}
}

// Attempt executes one GET against the target. Any non-2xx status, transport
// error, or context expiry is a failure outcome; the orchestrator treats all
// of them uniformly.
func (b *Backend) Attempt(ctx context.Context, target string) orchestrator.Outcome {
	start := time.Now()
	out := orchestrator.Outcome{Cost: b.cfg.UnitCost}

	collector := b.baseCollector.Clone()
	if b.cfg.UserAgent != "" {
		collector.UserAgent = b.cfg.UserAgent
	}
	collector.SetRequestTimeout(b.cfg.Timeout)

	collector.OnResponse(func(r *colly.Response) {
		out.Success = r.StatusCode >= 200 && r.StatusCode < 300
		out.Payload = append([]byte(nil), r.Body...)
		if !out.Success {
			out.Err = fmt.Errorf("unexpected status %d", r.StatusCode)
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		out.Err = fmt.Errorf("fetch %s: %w", target, err)
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()
	select {
	case <-ctx.Done():
		// The abandoned goroutine still owns out's hooks; return a fresh
		// outcome instead of racing with it.
		return orchestrator.Outcome{
			Cost:     b.cfg.UnitCost,
			Duration: time.Since(start),
			Err:      fmt.Errorf("fetch canceled: %w", ctx.Err()),
		}
	case err := <-done:
		if err != nil {
			out.Err = fmt.Errorf("visit %s: %w", target, err)
			out.Success = false
		}
	}

	out.Duration = time.Since(start)
	return out
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
