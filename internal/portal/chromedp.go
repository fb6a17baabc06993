package portal

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/leaseops/leaseverify/internal/config"
)

// popupWait is how long OpenRecord waits for a secondary target before
// concluding the record opened in place.
const popupWait = 3 * time.Second

// ChromeDriver opens portal connections through headless Chrome.
type ChromeDriver struct {
	headless   bool
	navTimeout time.Duration
}

// NewChromeDriver creates a chromedp-backed driver.
func NewChromeDriver(headless bool, navTimeout time.Duration) *ChromeDriver {
	if navTimeout <= 0 {
		navTimeout = 30 * time.Second
	}
	return &ChromeDriver{headless: headless, navTimeout: navTimeout}
}

// Open starts a browser context and runs the login sequence for the
// system. On any login error all browser resources are released.
func (d *ChromeDriver) Open(ctx context.Context, identity string, sys config.SystemConfig) (Conn, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", d.headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	conn := &chromeConn{
		identity:      identity,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		navTimeout:    d.navTimeout,
	}

	loginCtx, cancel := context.WithTimeout(browserCtx, d.navTimeout)
	defer cancel()

	err := chromedp.Run(loginCtx,
		chromedp.Navigate(sys.BaseURL),
		chromedp.WaitVisible(sys.UserSelector, chromedp.ByQuery),
		chromedp.SendKeys(sys.UserSelector, sys.Username, chromedp.ByQuery),
		chromedp.SendKeys(sys.PassSelector, sys.Password, chromedp.ByQuery),
		chromedp.Click(sys.LoginSelector, chromedp.ByQuery),
		chromedp.WaitVisible(sys.LoggedInSelector, chromedp.ByQuery),
	)
	if err != nil {
		_ = conn.Close()
		return nil, eris.Wrapf(err, "portal: login to %s", identity)
	}

	// Honor caller cancellation that raced the login.
	if ctx.Err() != nil {
		_ = conn.Close()
		return nil, ctx.Err()
	}

	zap.L().Info("portal session authenticated", zap.String("system", identity))
	return conn, nil
}

// chromeConn holds one live browser context. The browser context must be
// kept for the lifetime of the session; chromedp identifies the browser
// by its context.
type chromeConn struct {
	identity      string
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	recordCtx     context.Context
	recordCancel  context.CancelFunc
	navTimeout    time.Duration
}

// active returns the record target if one is open, else the main tab.
func (c *chromeConn) active() context.Context {
	if c.recordCtx != nil {
		return c.recordCtx
	}
	return c.browserCtx
}

func (c *chromeConn) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(c.active(), c.navTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- chromedp.Run(runCtx, actions...) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}

func (c *chromeConn) Click(ctx context.Context, selector string) error {
	return c.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
}

func (c *chromeConn) SetValue(ctx context.Context, selector, value string) error {
	return c.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, value, chromedp.ByQuery),
	)
}

func (c *chromeConn) Exists(ctx context.Context, selector string) (bool, error) {
	var found bool
	expr := fmt.Sprintf("document.querySelector(%q) !== null", selector)
	if err := c.run(ctx, chromedp.Evaluate(expr, &found)); err != nil {
		return false, err
	}
	return found, nil
}

func (c *chromeConn) OpenRecord(ctx context.Context, selector string) (string, error) {
	ch := chromedp.WaitNewTarget(c.browserCtx, func(info *target.Info) bool {
		return info.URL != "" && info.URL != "about:blank"
	})

	if err := c.Click(ctx, selector); err != nil {
		return "", err
	}

	select {
	case id := <-ch:
		recordCtx, recordCancel := chromedp.NewContext(c.browserCtx, chromedp.WithTargetID(id))
		c.recordCtx, c.recordCancel = recordCtx, recordCancel

		var url string
		if err := c.run(ctx,
			chromedp.WaitReady("body", chromedp.ByQuery),
			chromedp.Location(&url),
		); err != nil {
			return "", eris.Wrap(err, "portal: attach record target")
		}
		zap.L().Debug("record opened in popup",
			zap.String("system", c.identity),
			zap.String("url", url),
		)
		return url, nil
	case <-time.After(popupWait):
		// Record opened in the main tab.
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *chromeConn) Snapshot(ctx context.Context) (string, error) {
	var html string
	if err := c.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", eris.Wrap(err, "portal: snapshot record")
	}
	return html, nil
}

func (c *chromeConn) Close() error {
	if c.recordCancel != nil {
		c.recordCancel()
		c.recordCtx = nil
		c.recordCancel = nil
	}
	c.browserCancel()
	c.allocCancel()
	return nil
}
