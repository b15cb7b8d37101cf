// Package browser drives the seller center through a playwright Chromium
// session: navigation to order detail pages, reveal clicking, and text
// collection for extraction. It is the only package that touches the page;
// the engine sees it through the OrderPage interface.
package browser

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	pw "github.com/playwright-community/playwright-go"

	"github.com/aqilrvsb/UNMASK-TIK/internal/engine"
)

// CookieJar persists the authenticated seller-center session between runs.
type CookieJar interface {
	Load(ctx context.Context) ([]pw.OptionalCookie, error)
	Save(ctx context.Context, cookies []pw.Cookie) error
}

// Config holds the browser-level knobs. Timings default to the values the
// seller center is known to tolerate.
type Config struct {
	// BaseURL is the seller center root, e.g. https://seller-my.tiktok.com.
	BaseURL    string
	ShopRegion string

	Headless       bool
	ExecutablePath string

	// SettleAfterReveal is how long to let the page re-render once reveal
	// clicks were performed.
	SettleAfterReveal time.Duration
	// ClickDelay paces individual reveal clicks; jitter is added on top.
	ClickDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://seller-my.tiktok.com"
	}
	if c.ShopRegion == "" {
		c.ShopRegion = "MY"
	}
	if c.SettleAfterReveal <= 0 {
		c.SettleAfterReveal = 2 * time.Second
	}
	if c.ClickDelay <= 0 {
		c.ClickDelay = 300 * time.Millisecond
	}
}

// Session is one live browser with a single page. The engine uses the page
// exclusively for the duration of a run.
type Session struct {
	cfg     Config
	runtime *pw.Playwright
	browser pw.Browser
	page    pw.Page
	jar     CookieJar
}

var _ engine.OrderPage = (*Session)(nil)

// Install fetches the Chromium build playwright needs. One-time setup;
// a failure is survivable when a system browser is configured.
func Install() {
	log.Println("🔧 Installing playwright Chromium (one-time setup)...")
	err := pw.Install(&pw.RunOptions{Browsers: []string{"chromium"}})
	if err != nil {
		log.Printf("⚠️ Playwright installation warning: %v (continuing anyway)", err)
		return
	}
	log.Println("✅ Playwright Chromium installed")
}

// Launch starts Chromium, opens the working page and restores any saved
// session cookies from the jar.
func Launch(ctx context.Context, cfg Config, jar CookieJar) (*Session, error) {
	cfg.applyDefaults()

	runtime, err := pw.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %v", err)
	}

	opts := pw.BrowserTypeLaunchOptions{Headless: pw.Bool(cfg.Headless)}
	if path := resolveExecutable(cfg.ExecutablePath); path != "" {
		opts.ExecutablePath = &path
		log.Printf("🚀 Using browser executable: %s", path)
	}

	browser, err := runtime.Chromium.Launch(opts)
	if err != nil {
		runtime.Stop()
		return nil, fmt.Errorf("failed to launch browser: %v", err)
	}

	page, err := browser.NewPage()
	if err != nil {
		browser.Close()
		runtime.Stop()
		return nil, fmt.Errorf("failed to create page: %v", err)
	}
	page.SetDefaultTimeout(10000)

	s := &Session{cfg: cfg, runtime: runtime, browser: browser, page: page, jar: jar}
	s.restoreCookies(ctx)
	return s, nil
}

func resolveExecutable(configured string) string {
	if configured != "" {
		return configured
	}
	if env := os.Getenv("PLAYWRIGHT_EXECUTABLE_PATH"); env != "" {
		return env
	}
	commonPaths := []string{
		"/usr/bin/chromium",
		"/usr/bin/google-chrome",
		"/bin/google-chrome",
		"/usr/bin/chromium-browser",
	}
	for _, p := range commonPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func (s *Session) restoreCookies(ctx context.Context) {
	if s.jar == nil {
		return
	}
	cookies, err := s.jar.Load(ctx)
	if err != nil {
		log.Printf("⚠️ Failed to load saved session: %v", err)
		return
	}
	if len(cookies) == 0 {
		return
	}
	log.Printf("🍪 Restoring %d cookies for session...", len(cookies))
	if err := s.page.Context().AddCookies(cookies); err != nil {
		log.Printf("⚠️ Failed to restore cookies: %v", err)
	}
}

// Close persists the session cookies and tears the browser down.
func (s *Session) Close() {
	if s.jar != nil {
		if cookies, err := s.page.Context().Cookies(); err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.jar.Save(ctx, cookies); err != nil {
				log.Printf("⚠️ Failed to save session cookies: %v", err)
			}
			cancel()
		}
	}
	s.page.Close()
	s.browser.Close()
	s.runtime.Stop()
}

// OrderURL builds the detail-view address for one order.
func (s *Session) OrderURL(orderID string) string {
	return fmt.Sprintf("%s/order/detail?order_no=%s&shop_region=%s", s.cfg.BaseURL, orderID, s.cfg.ShopRegion)
}

// Navigate requests navigation to the order's detail view. It returns once
// the navigation is committed; readiness is WaitReady's job.
func (s *Session) Navigate(ctx context.Context, orderID string) error {
	url := s.OrderURL(orderID)
	log.Printf("📄 Navigating to: %s", url)
	if _, err := s.page.Goto(url, pw.PageGotoOptions{WaitUntil: pw.WaitUntilStateCommit}); err != nil {
		return fmt.Errorf("navigation request failed: %v", err)
	}
	return nil
}

// WaitReady blocks until the page reaches the load state or the timeout
// elapses. A timeout is reported as engine.ErrNavigationTimeout rather than
// a raw driver error so the caller can classify it.
func (s *Session) WaitReady(ctx context.Context, timeout time.Duration) error {
	err := s.page.WaitForLoadState(pw.PageWaitForLoadStateOptions{
		State:   pw.LoadStateLoad,
		Timeout: pw.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", engine.ErrNavigationTimeout, err)
	}
	return nil
}

// Check inspects where navigation actually landed: the order detail shape,
// or a login/passport redirect meaning the session expired.
func (s *Session) Check(ctx context.Context) (engine.PageCheck, error) {
	url := s.page.URL()
	check := engine.PageCheck{URL: url, IsLoggedIn: !isLoginURL(url)}

	if strings.Contains(url, "order/detail") {
		check.IsOrderDetail = true
		return check, nil
	}
	count, err := s.page.Locator(`[class*="order-detail"]`).Count()
	if err != nil {
		return check, fmt.Errorf("order detail probe failed: %v", err)
	}
	check.IsOrderDetail = count > 0
	return check, nil
}

func isLoginURL(url string) bool {
	lower := strings.ToLower(url)
	return strings.Contains(lower, "login") ||
		strings.Contains(lower, "signin") ||
		strings.Contains(lower, "passport")
}
