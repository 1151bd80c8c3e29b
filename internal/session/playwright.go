package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"visa-slot-monitor/config"
)

// PlaywrightLauncher starts headless Chromium through playwright. The driver
// process is shared and started on first use; each Launch returns a separate
// browser.
type PlaywrightLauncher struct {
	cfg    config.SiteConfig
	logger *zap.Logger

	mu sync.Mutex
	pw *playwright.Playwright
}

// NewPlaywrightLauncher creates a launcher for the configured site profile.
func NewPlaywrightLauncher(cfg config.SiteConfig, logger *zap.Logger) *PlaywrightLauncher {
	return &PlaywrightLauncher{cfg: cfg, logger: logger}
}

func (l *PlaywrightLauncher) runtime() (*playwright.Playwright, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pw != nil {
		return l.pw, nil
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to start playwright")
	}
	l.pw = pw
	return pw, nil
}

// Launch starts a new Chromium instance.
func (l *PlaywrightLauncher) Launch(ctx context.Context) (Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pw, err := l.runtime()
	if err != nil {
		return nil, err
	}
	b, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(!l.cfg.ShowBrowser),
		Args: []string{
			"--no-sandbox",
			"--disable-setuid-sandbox",
			"--disable-dev-shm-usage",
			"--disable-blink-features=AutomationControlled",
		},
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to launch chromium")
	}
	l.logger.Debug("browser launched", zap.Bool("headless", !l.cfg.ShowBrowser))
	return &pwBrowser{browser: b, cfg: l.cfg, logger: l.logger}, nil
}

// Stop shuts the playwright driver down. Browsers must be closed first.
func (l *PlaywrightLauncher) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pw == nil {
		return nil
	}
	err := l.pw.Stop()
	l.pw = nil
	if err != nil {
		return goerr.Wrap(err, "failed to stop playwright")
	}
	return nil
}

type pwBrowser struct {
	browser playwright.Browser
	cfg     config.SiteConfig
	logger  *zap.Logger
}

func (b *pwBrowser) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page, err := b.browser.NewPage(playwright.BrowserNewPageOptions{
		UserAgent:  playwright.String(b.cfg.UserAgent),
		Locale:     playwright.String(b.cfg.Locale),
		TimezoneId: playwright.String(b.cfg.Timezone),
		Viewport:   &playwright.Size{Width: 1366, Height: 768},
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open page")
	}
	page.SetDefaultTimeout(float64(b.cfg.ActionTimeoutMs))
	page.SetDefaultNavigationTimeout(float64(b.cfg.NavigationTimeoutMs))

	if len(b.cfg.BlockedHosts) > 0 {
		blocked := b.cfg.BlockedHosts
		err := page.Route("**/*", func(route playwright.Route) {
			if HostMatches(route.Request().URL(), blocked) {
				_ = route.Abort("blockedbyclient")
				return
			}
			_ = route.Continue()
		})
		if err != nil {
			b.logger.Warn("failed to install request filter", zap.Error(err))
		}
	}
	return &pwPage{page: page, navTimeout: float64(b.cfg.NavigationTimeoutMs)}, nil
}

func (b *pwBrowser) Close() error {
	if err := b.browser.Close(); err != nil {
		return goerr.Wrap(err, "failed to close browser")
	}
	return nil
}

type pwPage struct {
	page       playwright.Page
	navTimeout float64
}

func (p *pwPage) Goto(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(p.navTimeout),
	})
	return err
}

func (p *pwPage) URL() string { return p.page.URL() }

func (p *pwPage) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.page.Content()
}

func (p *pwPage) Find(ctx context.Context, selector string) (Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	loc := p.page.Locator(selector)
	n, err := loc.Count()
	if err != nil {
		return nil, goerr.Wrap(err, "invalid selector", goerr.V("selector", selector))
	}
	if n == 0 {
		return nil, goerr.Wrap(ErrElementNotFound, "no match", goerr.V("selector", selector))
	}
	return &pwElement{loc: loc.First()}, nil
}

func (p *pwPage) FindAll(ctx context.Context, selector string) ([]Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	all, err := p.page.Locator(selector).All()
	if err != nil {
		return nil, goerr.Wrap(err, "invalid selector", goerr.V("selector", selector))
	}
	out := make([]Element, 0, len(all))
	for _, loc := range all {
		out = append(out, &pwElement{loc: loc})
	}
	return out, nil
}

func (p *pwPage) WaitFor(ctx context.Context, selector string, timeout time.Duration) (Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	loc := p.page.Locator(selector).First()
	err := loc.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return nil, goerr.Wrap(ErrElementNotFound, "wait timed out",
			goerr.V("selector", selector), goerr.V("cause", err.Error()))
	}
	return &pwElement{loc: loc}, nil
}

func (p *pwPage) Evaluate(ctx context.Context, script string, arg any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if arg == nil {
		return p.page.Evaluate(script)
	}
	return p.page.Evaluate(script, arg)
}

func (p *pwPage) Close() error {
	return p.page.Close()
}

type pwElement struct {
	loc playwright.Locator
}

func (e *pwElement) Tag() string {
	v, err := e.loc.Evaluate("el => el.tagName.toLowerCase()", nil)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func (e *pwElement) Text() (string, error) {
	s, err := e.loc.TextContent()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

func (e *pwElement) Attr(name string) (string, error) {
	return e.loc.GetAttribute(name)
}

func (e *pwElement) Visible() bool {
	ok, err := e.loc.IsVisible()
	return err == nil && ok
}

func (e *pwElement) Enabled() bool {
	ok, err := e.loc.IsEnabled()
	return err == nil && ok
}

func (e *pwElement) Click() error { return e.loc.Click() }

func (e *pwElement) Type(text string) error { return e.loc.Fill(text) }

func (e *pwElement) Select(value string) error {
	_, err := e.loc.SelectOption(playwright.SelectOptionValues{Values: &[]string{value}})
	return err
}

func (e *pwElement) Options() ([]Option, error) {
	items, err := e.loc.Locator("option").All()
	if err != nil {
		return nil, err
	}
	out := make([]Option, 0, len(items))
	for _, it := range items {
		value, _ := it.GetAttribute("value")
		label, _ := it.TextContent()
		out = append(out, Option{Value: value, Label: strings.TrimSpace(label)})
	}
	return out, nil
}
