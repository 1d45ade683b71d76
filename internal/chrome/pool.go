// Package chrome drives headless Chrome via chromedp: a bounded pool of
// render tabs over one shared browser process, with a per-request
// fallback launcher and a retrying HTML-to-PDF renderer.
package chrome

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	u "certforge/internal/utils"
)

// Tab is one acquired render slot. Ctx is a chromedp context scoped to a
// fresh tab in the pool's browser.
type Tab struct {
	Ctx    context.Context
	cancel context.CancelFunc
}

// Pool is an admission-controlled set of render workers over a single
// browser process. Capacity is enforced with a token channel: Acquire
// blocks until a slot frees up or the caller's context expires, which is
// the service's backpressure under burst load.
type Pool struct {
	mu            sync.Mutex
	cfg           u.Config
	sem           chan struct{}
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	profileDir    string
	closed        bool
	restarts      int
	lastRestart   time.Time
}

// Stats is a snapshot of pool state for the observability endpoint.
type Stats struct {
	Enabled      bool
	Capacity     int
	Idle         int
	InUse        int
	PoolSizeConf int
	ProfileDir   string
	TimeoutSecs  int
	Restarts     int
	LastRestart  string
}

func createProfileDir(cfg u.Config) (string, error) {
	base := cfg.Chrome.UserDataDir
	if base == "" {
		return os.MkdirTemp("", "certforge-chrome-*")
	}
	if err := os.MkdirAll(base, 0o750); err != nil {
		return "", err
	}
	return os.MkdirTemp(base, "profile-*")
}

func allocatorOptions(cfg u.Config, profileDir string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(profileDir),
		// Software rendering only; Vulkan/ANGLE are flaky in minimal containers.
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-gpu-compositing", true),
		chromedp.Flag("disable-features", "Vulkan,UseSkiaRenderer"),
		chromedp.Flag("use-gl", "swiftshader"),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if cfg.Chrome.Path != "" {
		opts = append(opts, chromedp.ExecPath(cfg.Chrome.Path))
	}
	if cfg.Chrome.NoSandbox {
		opts = append(opts, chromedp.Flag("no-sandbox", true))
	}
	return opts
}

// NewPool builds a pool of cfg.Chrome.PoolSize tabs. The browser process
// itself starts lazily on the first render.
func NewPool(cfg u.Config) (*Pool, error) {
	if cfg.Chrome.PoolSize <= 0 {
		return nil, errors.New("chrome: pool disabled (pool_size <= 0)")
	}

	profileDir, err := createProfileDir(cfg)
	if err != nil {
		return nil, err
	}

	p := &Pool{
		cfg:        cfg,
		sem:        make(chan struct{}, cfg.Chrome.PoolSize),
		profileDir: profileDir,
	}
	p.buildBrowser()
	for i := 0; i < cfg.Chrome.PoolSize; i++ {
		p.sem <- struct{}{}
	}
	return p, nil
}

// buildBrowser (re)creates the allocator and browser context.
// Caller must hold mu or have exclusive access.
func (p *Pool) buildBrowser() {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(p.cfg, p.profileDir)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	p.allocCancel = allocCancel
	p.browserCtx = browserCtx
	p.browserCancel = browserCancel
}

// Acquire takes a slot and opens a fresh tab. It blocks until a slot is
// idle or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*Tab, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.New("chrome: pool is closed")
	}
	bctx := p.browserCtx
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.sem:
	}

	tabCtx, cancel := chromedp.NewContext(bctx)
	return &Tab{Ctx: tabCtx, cancel: cancel}, nil
}

// Release closes the tab and returns its slot. renderErr is only used
// for diagnostics; interrupted sessions are handled by the caller via
// Restart.
func (p *Pool) Release(tab *Tab, renderErr error) {
	if tab != nil && tab.cancel != nil {
		tab.cancel()
	}
	if renderErr != nil && IsSessionInterrupted(renderErr) {
		u.Debug("released tab after interrupted session", "error", renderErr.Error())
	}
	select {
	case p.sem <- struct{}{}:
	default:
	}
}

// Restart tears down the browser process and profile dir and builds a
// fresh one at full capacity. Used after the Chrome session died under a
// request.
func (p *Pool) Restart() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.New("chrome: pool is closed")
	}

	if p.browserCancel != nil {
		p.browserCancel()
	}
	if p.allocCancel != nil {
		p.allocCancel()
	}
	if p.profileDir != "" {
		if err := os.RemoveAll(p.profileDir); err != nil {
			u.Warn("failed to remove old chrome profile dir", "dir", p.profileDir, "error", err.Error())
		}
	}

	profileDir, err := createProfileDir(p.cfg)
	if err != nil {
		return err
	}
	p.profileDir = profileDir
	p.buildBrowser()

	// Refill to capacity: slots held by in-flight requests are considered lost.
	for len(p.sem) > 0 {
		<-p.sem
	}
	for i := 0; i < cap(p.sem); i++ {
		p.sem <- struct{}{}
	}

	p.restarts++
	p.lastRestart = time.Now()
	u.Warn("chrome pool restarted", "restarts", p.restarts)
	return nil
}

// Close shuts the pool down. Idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	if p.browserCancel != nil {
		p.browserCancel()
	}
	if p.allocCancel != nil {
		p.allocCancel()
	}
	if p.profileDir != "" {
		_ = os.RemoveAll(p.profileDir)
	}
}

// Stats returns a snapshot for the observability endpoint.
func (p *Pool) Stats(timeoutSecs int) Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		Enabled:      !p.closed && p.sem != nil,
		PoolSizeConf: p.cfg.Chrome.PoolSize,
		ProfileDir:   p.profileDir,
		TimeoutSecs:  timeoutSecs,
		Restarts:     p.restarts,
	}
	if !p.lastRestart.IsZero() {
		s.LastRestart = p.lastRestart.Format(time.RFC3339)
	}
	if p.sem != nil && !p.closed {
		s.Capacity = cap(p.sem)
		s.Idle = len(p.sem)
		s.InUse = s.Capacity - s.Idle
	}
	return s
}

// IsSessionInterrupted reports whether err means the Chrome session died
// under us (crashed target, canceled context), as opposed to a bad
// document.
func IsSessionInterrupted(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"target closed",
		"browser closed",
		"session closed",
		"page closed",
		"websocket: close",
		"context canceled",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
