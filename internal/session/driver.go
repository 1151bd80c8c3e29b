package session

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"

	"visa-slot-monitor/config"
	"visa-slot-monitor/internal/extract"
	"visa-slot-monitor/internal/model"
)

// Options tunes a Driver.
type Options struct {
	CenterURLs    map[string]string
	Location      *time.Location
	SettleDelay   time.Duration
	ClickDelay    time.Duration
	FieldDelay    time.Duration
	RevealTimeout time.Duration
}

// OptionsFromConfig derives driver options from the site section.
func OptionsFromConfig(cfg config.SiteConfig) Options {
	settle := time.Duration(cfg.SettleDelayMs) * time.Millisecond
	return Options{
		CenterURLs:    cfg.CenterURLs,
		Location:      cfg.Location(),
		SettleDelay:   settle,
		ClickDelay:    settle / 2,
		FieldDelay:    300 * time.Millisecond,
		RevealTimeout: time.Duration(cfg.ActionTimeoutMs) * time.Millisecond,
	}
}

// CheckRequest is everything one check needs.
type CheckRequest struct {
	Monitor  *model.Monitor
	Profile  *model.Profile
	Settings *model.Settings // nil when the user has none
	// Slot pre-selects the slot to autofill. When nil the first extracted
	// slot is used.
	Slot *extract.Slot
}

// CaptchaStatus records what happened to a CAPTCHA during a check.
type CaptchaStatus string

const (
	CaptchaNone    CaptchaStatus = "none"
	CaptchaSkipped CaptchaStatus = "skipped"
	CaptchaSolved  CaptchaStatus = "solved"
	CaptchaFailed  CaptchaStatus = "failed"
)

// CheckResult is the outcome of a successful check.
type CheckResult struct {
	Slots          []extract.Slot
	NoSlotsMessage bool
	PerStrategy    map[string]int
	URL            string
	Captcha        CaptchaStatus
	Autofill       *AutofillOutcome
}

// Driver owns the browser of one monitor. Checks on a driver must not overlap;
// Close may be called at any time from another goroutine.
type Driver struct {
	launcher  Launcher
	solver    CaptchaSolver
	extractor *extract.Extractor
	opts      Options
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	browser Browser
	held    Page
	closed  bool
}

// NewDriver creates a driver. solver may be nil to ignore CAPTCHAs.
func NewDriver(launcher Launcher, solver CaptchaSolver, extractor *extract.Extractor, opts Options, logger *zap.Logger) *Driver {
	if extractor == nil {
		extractor = extract.New(logger)
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Driver{
		launcher:  launcher,
		solver:    solver,
		extractor: extractor,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

func fail(kind error, msg string, cause error, values ...goerr.Option) error {
	if cause != nil {
		msg = msg + ": " + cause.Error()
	}
	return goerr.Wrap(kind, msg, values...)
}

// Check runs one full pass against the center's booking surface.
func (d *Driver) Check(ctx context.Context, req CheckRequest) (*CheckResult, error) {
	m := req.Monitor
	log := d.logger.With(zap.String("monitor_id", m.ID), zap.String("center", string(m.Center)))

	// A page held open for manual completion lives until the next check.
	d.releaseHeld()

	target := d.opts.CenterURLs[m.Center.Region()]
	if target == "" {
		return nil, goerr.Wrap(ErrNavigation, "no url configured for center", goerr.V("center", m.Center))
	}

	page, err := d.newPage(ctx)
	if err != nil {
		return nil, err
	}
	keep := false
	defer func() {
		if keep {
			return
		}
		if err := page.Close(); err != nil {
			log.Debug("page close failed", zap.Error(err))
		}
	}()

	if err := page.Goto(ctx, target); err != nil {
		return nil, fail(ErrNavigation, "failed to open center page", err, goerr.V("url", target))
	}
	_ = sleep(ctx, d.opts.SettleDelay)
	if err := d.checkAccess(ctx, page); err != nil {
		return nil, err
	}

	d.dismissInterstitials(ctx, page)
	if req.Profile != nil && req.Profile.HasPortalLogin() {
		d.login(ctx, page, req.Profile, log)
	}
	if d.openBookingSurface(ctx, page, log) {
		if err := d.checkAccess(ctx, page); err != nil {
			return nil, err
		}
		d.dismissInterstitials(ctx, page)
	}
	d.selectContext(ctx, page, m, req.Profile, log)

	res := &CheckResult{Captcha: d.handleCaptcha(ctx, page, req.Settings, log)}

	d.reveal(ctx, page, log)
	_ = sleep(ctx, d.opts.SettleDelay)
	d.materialize(ctx, page, log)

	if err := ctx.Err(); err != nil {
		return nil, fail(ErrExtraction, "check cancelled before snapshot", err)
	}
	html, err := page.Content(ctx)
	if err != nil {
		return nil, fail(ErrExtraction, "failed to snapshot page", err)
	}
	extracted, err := d.extractor.ExtractHTML(html, extract.Env{
		Center:   m.Center,
		Now:      d.now(),
		Location: d.opts.Location,
	})
	if err != nil {
		return nil, fail(ErrExtraction, "failed to extract slots", err)
	}

	res.Slots = extracted.Slots
	res.NoSlotsMessage = extracted.NoSlotsMessage
	res.PerStrategy = extracted.PerStrategy
	res.URL = page.URL()

	mode := m.AutofillMode
	slot, ok := autofillTarget(req, res.Slots)
	if ok && req.Profile != nil && (mode == model.AutofillSemi || mode == model.AutofillFull) {
		out := d.autofill(ctx, page, req.Profile, slot, mode)
		res.Autofill = &out
		if mode == model.AutofillSemi {
			keep = d.hold(page)
		}
	}

	log.Debug("check finished",
		zap.Int("slots", len(res.Slots)),
		zap.Bool("no_slots_message", res.NoSlotsMessage),
		zap.String("captcha", string(res.Captcha)))
	return res, nil
}

func autofillTarget(req CheckRequest, found []extract.Slot) (extract.Slot, bool) {
	if req.Slot != nil {
		return *req.Slot, true
	}
	if len(found) > 0 {
		return found[0], true
	}
	return extract.Slot{}, false
}

// newPage returns a fresh tab, launching the browser on first use.
func (d *Driver) newPage(ctx context.Context) (Page, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, goerr.Wrap(ErrSessionClosed, "driver closed")
	}
	b := d.browser
	d.mu.Unlock()

	if b == nil {
		nb, err := d.launcher.Launch(ctx)
		if err != nil {
			return nil, fail(ErrSessionLaunch, "failed to launch browser", err)
		}
		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			_ = nb.Close()
			return nil, goerr.Wrap(ErrSessionClosed, "driver closed during launch")
		}
		d.browser = nb
		d.mu.Unlock()
		b = nb
	}

	page, err := b.NewPage(ctx)
	if err != nil {
		// A browser that cannot produce a page is discarded; the next check relaunches.
		d.mu.Lock()
		owned := d.browser == b
		if owned {
			d.browser = nil
		}
		d.mu.Unlock()
		if owned {
			if cerr := b.Close(); cerr != nil {
				d.logger.Warn("failed to close broken browser", zap.Error(cerr))
			}
		}
		return nil, fail(ErrSessionLaunch, "failed to open page", err)
	}

	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		_ = page.Close()
		return nil, goerr.Wrap(ErrSessionClosed, "driver closed while opening page")
	}
	return page, nil
}

func (d *Driver) hold(page Page) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.held = page
	return true
}

func (d *Driver) releaseHeld() {
	d.mu.Lock()
	p := d.held
	d.held = nil
	d.mu.Unlock()
	if p != nil {
		_ = p.Close()
	}
}

// HandoffURL is the address of the page held open for manual completion, if any.
func (d *Driver) HandoffURL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.held == nil {
		return ""
	}
	return d.held.URL()
}

// Close releases the held page and the browser. It is idempotent.
func (d *Driver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	held, b := d.held, d.browser
	d.held, d.browser = nil, nil
	d.mu.Unlock()

	if held != nil {
		_ = held.Close()
	}
	if b != nil {
		if err := b.Close(); err != nil {
			return goerr.Wrap(err, "failed to close browser session")
		}
	}
	return nil
}

func (d *Driver) checkAccess(ctx context.Context, page Page) error {
	html, err := page.Content(ctx)
	if err != nil {
		return fail(ErrNavigation, "failed to read page", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fail(ErrNavigation, "failed to parse page", err)
	}
	text := doc.Find("title").Text() + " " + doc.Find("body").Text()
	if IsAccessDenied(text) {
		return goerr.Wrap(ErrAccessDenied, "site refused the session", goerr.V("url", page.URL()))
	}
	return nil
}

var interstitialSelectors = []string{
	"#onetrust-accept-btn-handler",
	"#acceptCookies",
	".cookie-accept",
	".cc-allow",
	"button[data-cookie-accept]",
	".modal.show [data-dismiss='modal']",
	".modal.show [data-bs-dismiss='modal']",
	".modal.show button.close",
	".modal.in button.close",
}

func (d *Driver) dismissInterstitials(ctx context.Context, page Page) {
	for _, sel := range interstitialSelectors {
		el, err := page.Find(ctx, sel)
		if err != nil || !el.Visible() {
			continue
		}
		if err := el.Click(); err != nil {
			d.logger.Debug("dismiss click failed", zap.String("selector", sel), zap.Error(err))
			continue
		}
		_ = sleep(ctx, d.opts.ClickDelay)
	}
}

func (d *Driver) login(ctx context.Context, page Page, p *model.Profile, log *zap.Logger) {
	pass, err := page.Find(ctx, "input[type='password']")
	if err != nil {
		log.Debug("no login form on page")
		return
	}
	user, err := page.Find(ctx, "input[type='email'], input[name*='email'], input[id*='email'], input[name*='user']")
	if err != nil {
		log.Warn("login form has no username field")
		return
	}
	if err := user.Type(p.PortalEmail); err != nil {
		log.Warn("failed to type login email", zap.Error(err))
		return
	}
	if err := pass.Type(p.PortalPassword); err != nil {
		log.Warn("failed to type login password", zap.Error(err))
		return
	}
	btn, err := page.Find(ctx, "form button[type='submit'], form input[type='submit'], #btnSubmit")
	if err != nil {
		log.Warn("login form has no submit control")
		return
	}
	if err := btn.Click(); err != nil {
		log.Warn("login submit failed", zap.Error(err))
		return
	}
	_ = sleep(ctx, d.opts.SettleDelay)
	log.Info("logged in to booking portal")
}

const accordionSelector = ".accordion-button.collapsed, .accordion-toggle, [data-toggle='collapse'], [data-bs-toggle='collapse'], .panel-heading a"

// openBookingSurface follows the booking link: visible links first, then every
// link after expanding collapsed sections. It reports whether it navigated.
func (d *Driver) openBookingSurface(ctx context.Context, page Page, log *zap.Logger) bool {
	if d.followBookingLink(ctx, page, true, log) {
		return true
	}
	toggles, err := page.FindAll(ctx, accordionSelector)
	if err == nil && len(toggles) > 0 {
		for _, t := range toggles {
			if !t.Visible() {
				continue
			}
			if err := t.Click(); err == nil {
				_ = sleep(ctx, d.opts.ClickDelay)
			}
		}
		if d.followBookingLink(ctx, page, false, log) {
			return true
		}
	}
	log.Info("booking link not found, extracting from current page")
	return false
}

func (d *Driver) followBookingLink(ctx context.Context, page Page, visibleOnly bool, log *zap.Logger) bool {
	anchors, err := page.FindAll(ctx, "a[href]")
	if err != nil {
		return false
	}
	links := make([]Link, 0, len(anchors))
	els := make([]Element, 0, len(anchors))
	for _, a := range anchors {
		if visibleOnly && !a.Visible() {
			continue
		}
		href, _ := a.Attr("href")
		text, _ := a.Text()
		links = append(links, Link{Text: text, Href: href})
		els = append(els, a)
	}
	i := ChooseBookingLink(links)
	if i < 0 {
		return false
	}

	target := resolveHref(page.URL(), links[i].Href)
	log.Info("following booking link", zap.String("text", links[i].Text), zap.String("href", target))
	if target != "" {
		if err := page.Goto(ctx, target); err != nil {
			log.Warn("booking link navigation failed", zap.Error(err))
			return false
		}
	} else if err := els[i].Click(); err != nil {
		log.Warn("booking link click failed", zap.Error(err))
		return false
	}
	_ = sleep(ctx, d.opts.SettleDelay)
	return true
}

func resolveHref(base, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil || !b.IsAbs() {
		if ref.IsAbs() {
			return ref.String()
		}
		return ""
	}
	return b.ResolveReference(ref).String()
}

const (
	centerSelect      = "select[name*='center'], select[id*='center'], select[name*='location'], select[id*='location']"
	categorySelect    = "select[name*='category'], select[id*='category'], select[name*='visa'], select[id*='visa']"
	appointmentSelect = "select[name*='appointment'], select[id*='appointment'], select[name*='type'], select[id*='type']"
)

func (d *Driver) selectContext(ctx context.Context, page Page, m *model.Monitor, p *model.Profile, log *zap.Logger) {
	d.choose(ctx, page, "center", centerSelect, log, m.Center.Label(), string(m.Center), m.Center.Region())
	if p == nil {
		return
	}
	d.choose(ctx, page, "visa_category", categorySelect, log, string(p.VisaCategory))
	d.choose(ctx, page, "appointment_type", appointmentSelect, log, p.AppointmentType)
}

func (d *Driver) choose(ctx context.Context, page Page, field, selector string, log *zap.Logger, wants ...string) {
	el, err := page.Find(ctx, selector)
	if err != nil {
		return
	}
	opts, err := el.Options()
	if err != nil {
		log.Debug("failed to read options", zap.String("field", field), zap.Error(err))
		return
	}
	v, ok := MatchOption(opts, wants...)
	if !ok {
		log.Debug("no matching option", zap.String("field", field), zap.Strings("wanted", wants))
		return
	}
	if err := el.Select(v); err != nil {
		log.Warn("select failed", zap.String("field", field), zap.Error(err))
		return
	}
	_ = sleep(ctx, d.opts.ClickDelay)
}

func (d *Driver) handleCaptcha(ctx context.Context, page Page, settings *model.Settings, log *zap.Logger) CaptchaStatus {
	if d.solver == nil {
		return CaptchaNone
	}
	ch, found, err := d.solver.Detect(ctx, page)
	if err != nil {
		log.Debug("captcha detection failed", zap.Error(err))
		return CaptchaNone
	}
	if !found {
		return CaptchaNone
	}
	if settings == nil || !settings.CaptchaEnabled {
		log.Info("captcha present but solving is disabled", zap.String("kind", string(ch.Kind)))
		return CaptchaSkipped
	}
	token, err := d.solver.Solve(ctx, settings.CaptchaAPIKey, ch)
	if err != nil {
		log.Warn("captcha not solved, continuing", zap.String("kind", string(ch.Kind)), zap.Error(err))
		return CaptchaFailed
	}
	if err := d.solver.Inject(ctx, page, ch, token); err != nil {
		log.Warn("captcha token not injected, continuing", zap.Error(err))
		return CaptchaFailed
	}
	_ = sleep(ctx, d.opts.ClickDelay)
	return CaptchaSolved
}

var revealSelectors = []string{
	"#btnAvailability",
	"button[id*='availab']",
	"button[name*='availab']",
	".check-availability",
	"input[type='button'][value*='vailab']",
}

var revealWords = []string{"availability", "check slots", "show slots", "disponibilit", "vérifier"}

const slotSurfaceSelector = ".ui-datepicker-calendar, .datepicker, .calendar, .time-slots, .slots, [data-date]"

// reveal clicks whatever control makes the site render availability.
func (d *Driver) reveal(ctx context.Context, page Page, log *zap.Logger) {
	clicked := false
	for _, sel := range revealSelectors {
		el, err := page.Find(ctx, sel)
		if err != nil || !el.Visible() || !el.Enabled() {
			continue
		}
		if err := el.Click(); err == nil {
			clicked = true
			break
		}
	}
	if !clicked {
		buttons, _ := page.FindAll(ctx, "button, input[type='button']")
		for _, b := range buttons {
			label, _ := b.Text()
			if label == "" {
				label, _ = b.Attr("value")
			}
			if !containsAny(strings.ToLower(label), revealWords) || !b.Visible() || !b.Enabled() {
				continue
			}
			if err := b.Click(); err == nil {
				clicked = true
				break
			}
		}
	}
	if !clicked {
		return
	}
	if _, err := page.WaitFor(ctx, slotSurfaceSelector, d.opts.RevealTimeout); err != nil {
		log.Debug("no slot surface appeared after reveal", zap.Error(err))
	}
}

const materializeScript = `() => {
	document.querySelectorAll('input, textarea').forEach(el => el.setAttribute('value', el.value));
	document.querySelectorAll('select option').forEach(o => {
		if (o.selected) o.setAttribute('selected', 'selected'); else o.removeAttribute('selected');
	});
	return true;
}`

// materialize copies live form values into attributes so the snapshot sees them.
func (d *Driver) materialize(ctx context.Context, page Page, log *zap.Logger) {
	if _, err := page.Evaluate(ctx, materializeScript, nil); err != nil {
		log.Debug("failed to materialise form values", zap.Error(err))
	}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
