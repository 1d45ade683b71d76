package chrome

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	u "certforge/internal/utils"
)

// A4 paper dimensions in inches, matching the @page rule in the
// certificate template. PrintToPDF still prefers the document's own CSS
// page size.
const (
	a4WidthInches  = 8.27
	a4HeightInches = 11.69
)

// Renderer converts self-contained HTML documents to PDF bytes. When the
// pool is enabled it renders in a pooled tab; otherwise each call launches
// its own isolated browser process.
type Renderer struct {
	cfg u.Config

	poolMu  sync.Mutex
	pool    *Pool
	poolErr error
}

// NewRenderer creates a renderer. The pool is initialized lazily on first
// use so a broken Chrome install surfaces as a render error, not a crash
// at startup.
func NewRenderer(cfg u.Config) *Renderer {
	return &Renderer{cfg: cfg}
}

func (r *Renderer) getPool() (*Pool, error) {
	r.poolMu.Lock()
	defer r.poolMu.Unlock()

	if r.cfg.Chrome.PoolSize <= 0 {
		return nil, nil
	}
	if r.pool != nil {
		return r.pool, nil
	}
	pool, err := NewPool(r.cfg)
	if err != nil {
		r.poolErr = err
		return nil, err
	}
	r.pool = pool
	return r.pool, nil
}

// PoolStats exposes the pool snapshot for the stats endpoint. Returns a
// zero Stats when the pool is disabled.
func (r *Renderer) PoolStats() (Stats, error) {
	pool, err := r.getPool()
	if err != nil {
		return Stats{}, err
	}
	if pool == nil {
		return Stats{PoolSizeConf: r.cfg.Chrome.PoolSize, TimeoutSecs: r.cfg.Chrome.TimeoutSecs}, nil
	}
	return pool.Stats(r.cfg.Chrome.TimeoutSecs), nil
}

// Close releases the pool if one was started.
func (r *Renderer) Close() {
	r.poolMu.Lock()
	defer r.poolMu.Unlock()
	if r.pool != nil {
		r.pool.Close()
		r.pool = nil
	}
}

// RenderPDF renders the HTML document to PDF bytes. Content loading is
// retried with a fixed backoff; all other failures propagate after one
// attempt. On an interrupted Chrome session the pool is restarted and the
// render retried once.
func (r *Renderer) RenderPDF(ctx context.Context, html string) ([]byte, error) {
	pool, err := r.getPool()
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return r.renderWithOwnBrowser(ctx, html)
	}

	timeout := time.Duration(r.cfg.Chrome.TimeoutSecs) * time.Second

	runOnce := func() ([]byte, error) {
		acquireCtx, acquireCancel := context.WithTimeout(ctx, 5*time.Second)
		defer acquireCancel()

		tab, err := pool.Acquire(acquireCtx)
		if err != nil {
			return nil, err
		}

		tabCtx, cancel := context.WithTimeout(tab.Ctx, timeout)
		pdf, renderErr := r.renderInTab(tabCtx, html)
		cancel()

		pool.Release(tab, renderErr)
		return pdf, renderErr
	}

	pdf, renderErr := runOnce()
	if renderErr != nil && ctx.Err() == nil && IsSessionInterrupted(renderErr) {
		u.Warn("chrome session interrupted; restarting pool and retrying once", "error", renderErr.Error())
		if err := pool.Restart(); err != nil {
			return nil, renderErr
		}
		return runOnce()
	}
	return pdf, renderErr
}

// renderWithOwnBrowser launches one isolated browser process for this
// render and tears it down afterwards regardless of outcome.
func (r *Renderer) renderWithOwnBrowser(ctx context.Context, html string) ([]byte, error) {
	profileDir, err := os.MkdirTemp("", "certforge-chrome-*")
	if err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	defer os.RemoveAll(profileDir)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocatorOptions(r.cfg, profileDir)...)
	defer allocCancel()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	// Hard startup deadline: a hung Chrome launch must not hold the
	// request forever.
	launchTimeout := time.Duration(r.cfg.Chrome.LaunchTimeoutSecs) * time.Second
	launchCtx, launchCancel := context.WithTimeout(browserCtx, launchTimeout)
	err = chromedp.Run(launchCtx)
	launchCancel()
	if err != nil {
		return nil, fmt.Errorf("browser launch: %w", err)
	}

	opCtx, opCancel := context.WithTimeout(browserCtx, time.Duration(r.cfg.Chrome.TimeoutSecs)*time.Second)
	defer opCancel()
	return r.renderInTab(opCtx, html)
}

// renderInTab runs the load/settle/print sequence in an existing tab.
func (r *Renderer) renderInTab(ctx context.Context, html string) ([]byte, error) {
	attempts := r.cfg.Pipeline.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := time.Duration(r.cfg.Pipeline.RetryBackoffMS) * time.Millisecond

	err := loadWithRetry(ctx, attempts, backoff, func(ctx context.Context) error {
		return chromedp.Run(ctx,
			chromedp.Navigate("about:blank"),
			chromedp.ActionFunc(func(ctx context.Context) error {
				frame, err := page.GetFrameTree().Do(ctx)
				if err != nil {
					return err
				}
				return page.SetDocumentContent(frame.Frame.ID, html).Do(ctx)
			}),
			chromedp.WaitReady("body", chromedp.ByQuery),
		)
	})
	if err != nil {
		return nil, err
	}

	// Settle delay: layout/paint has no completion signal we can wait on,
	// so give the renderer a fixed window to stabilize.
	settle := time.Duration(r.cfg.Pipeline.SettleDelayMS) * time.Millisecond
	if settle > 0 {
		if err := chromedp.Run(ctx, chromedp.Sleep(settle)); err != nil {
			return nil, err
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("page closed unexpectedly: %w", err)
	}

	var pdf []byte
	err = chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		buf, _, err := page.PrintToPDF().
			WithPrintBackground(true).
			WithPreferCSSPageSize(true).
			WithPaperWidth(a4WidthInches).
			WithPaperHeight(a4HeightInches).
			WithMarginTop(0).
			WithMarginBottom(0).
			WithMarginLeft(0).
			WithMarginRight(0).
			Do(ctx)
		if err != nil {
			return err
		}
		pdf = buf
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return pdf, nil
}

// loadWithRetry invokes load until it succeeds, up to attempts tries with
// a fixed backoff between them. The last error is returned once the
// budget is exhausted. A dead context stops the loop early.
func loadWithRetry(ctx context.Context, attempts int, backoff time.Duration, load func(context.Context) error) error {
	var lastErr error
	for i := 1; i <= attempts; i++ {
		lastErr = load(ctx)
		if lastErr == nil {
			return nil
		}
		u.Warn("content load failed", "attempt", i, "max_attempts", attempts, "error", lastErr.Error())
		if i == attempts || ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("content load failed after retries: %w", lastErr)
}
