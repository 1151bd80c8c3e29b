package session

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"

	"visa-slot-monitor/config"
	"visa-slot-monitor/internal/metrics"
)

var (
	ErrCaptchaUnsupported = goerr.New("captcha type not supported by solver")
	ErrCaptchaTimeout     = goerr.New("captcha solution not ready in time")
	ErrCaptchaRejected    = goerr.New("captcha service rejected the request")
)

// ChallengeKind is the flavour of CAPTCHA on a page.
type ChallengeKind string

const (
	ChallengeReCaptcha ChallengeKind = "recaptcha"
	ChallengeHCaptcha  ChallengeKind = "hcaptcha"
	ChallengeImage     ChallengeKind = "image"
)

// Challenge describes a CAPTCHA found on a page.
type Challenge struct {
	Kind    ChallengeKind
	SiteKey string
	PageURL string
}

// CaptchaSolver detects, solves and injects CAPTCHA challenges.
type CaptchaSolver interface {
	Detect(ctx context.Context, page Page) (Challenge, bool, error)
	Solve(ctx context.Context, apiKey string, ch Challenge) (string, error)
	Inject(ctx context.Context, page Page, ch Challenge, token string) error
}

// TwoCaptcha talks the 2captcha in.php / res.php protocol.
type TwoCaptcha struct {
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	maxAttempts  int
	client       *http.Client
	logger       *zap.Logger
	metrics      *metrics.Metrics
}

// NewTwoCaptcha creates a solver. apiKey is the fallback when a user has none.
func NewTwoCaptcha(cfg config.CaptchaConfig, client *http.Client, logger *zap.Logger, m *metrics.Metrics) *TwoCaptcha {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &TwoCaptcha{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		pollInterval: cfg.PollInterval,
		maxAttempts:  cfg.MaxAttempts,
		client:       client,
		logger:       logger,
		metrics:      m,
	}
}

// Detect looks for a reCAPTCHA or hCaptcha widget, then for a plain image CAPTCHA.
func (s *TwoCaptcha) Detect(ctx context.Context, page Page) (Challenge, bool, error) {
	el, err := page.Find(ctx, "[data-sitekey]")
	if err == nil {
		key, _ := el.Attr("data-sitekey")
		ch := Challenge{Kind: ChallengeReCaptcha, SiteKey: key, PageURL: page.URL()}
		if _, err := page.Find(ctx, ".h-captcha[data-sitekey], .h-captcha [data-sitekey]"); err == nil {
			ch.Kind = ChallengeHCaptcha
		}
		return ch, true, nil
	}
	if !isNotFound(err) {
		return Challenge{}, false, err
	}
	if _, err := page.Find(ctx, "#captcha, .g-recaptcha, .h-captcha, img[src*='captcha']"); err == nil {
		return Challenge{Kind: ChallengeImage, PageURL: page.URL()}, true, nil
	} else if !isNotFound(err) {
		return Challenge{}, false, err
	}
	return Challenge{}, false, nil
}

type twoCaptchaResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

// Solve submits the challenge and polls until a token is ready.
func (s *TwoCaptcha) Solve(ctx context.Context, apiKey string, ch Challenge) (string, error) {
	if apiKey == "" {
		apiKey = s.apiKey
	}
	if apiKey == "" {
		s.metrics.CaptchaSolves.WithLabelValues("no_key").Inc()
		return "", goerr.New("no captcha api key configured")
	}

	form := url.Values{
		"key":     {apiKey},
		"pageurl": {ch.PageURL},
		"json":    {"1"},
	}
	switch ch.Kind {
	case ChallengeReCaptcha:
		form.Set("method", "userrecaptcha")
		form.Set("googlekey", ch.SiteKey)
	case ChallengeHCaptcha:
		form.Set("method", "hcaptcha")
		form.Set("sitekey", ch.SiteKey)
	default:
		s.metrics.CaptchaSolves.WithLabelValues("unsupported").Inc()
		return "", goerr.Wrap(ErrCaptchaUnsupported, "cannot solve", goerr.V("kind", ch.Kind))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/in.php", strings.NewReader(form.Encode()))
	if err != nil {
		return "", goerr.Wrap(err, "failed to build captcha submit request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	submitted, err := s.do(req)
	if err != nil {
		s.metrics.CaptchaSolves.WithLabelValues("error").Inc()
		return "", err
	}
	if submitted.Status != 1 {
		s.metrics.CaptchaSolves.WithLabelValues("rejected").Inc()
		return "", goerr.Wrap(ErrCaptchaRejected, "submit failed", goerr.V("response", submitted.Request))
	}
	id := submitted.Request
	s.logger.Info("captcha submitted", zap.String("captcha_id", id), zap.String("kind", string(ch.Kind)))

	q := url.Values{"key": {apiKey}, "action": {"get"}, "id": {id}, "json": {"1"}}
	pollURL := s.baseURL + "/res.php?" + q.Encode()
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if err := sleep(ctx, s.pollInterval); err != nil {
			s.metrics.CaptchaSolves.WithLabelValues("cancelled").Inc()
			return "", goerr.Wrap(err, "captcha polling cancelled", goerr.V("captcha_id", id))
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL, nil)
		if err != nil {
			return "", goerr.Wrap(err, "failed to build captcha poll request")
		}
		res, err := s.do(req)
		if err != nil {
			s.metrics.CaptchaSolves.WithLabelValues("error").Inc()
			return "", err
		}
		if res.Status == 1 {
			s.metrics.CaptchaSolves.WithLabelValues("solved").Inc()
			return res.Request, nil
		}
		if res.Request != "CAPCHA_NOT_READY" {
			s.metrics.CaptchaSolves.WithLabelValues("rejected").Inc()
			return "", goerr.Wrap(ErrCaptchaRejected, "solve failed", goerr.V("response", res.Request))
		}
	}
	s.metrics.CaptchaSolves.WithLabelValues("timeout").Inc()
	return "", goerr.Wrap(ErrCaptchaTimeout, "gave up polling",
		goerr.V("captcha_id", id), goerr.V("attempts", s.maxAttempts))
}

func (s *TwoCaptcha) do(req *http.Request) (*twoCaptchaResponse, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, goerr.Wrap(err, "captcha service request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, goerr.New("captcha service returned non-200", goerr.V("status", resp.StatusCode))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read captcha response")
	}
	var out twoCaptchaResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, goerr.Wrap(err, "failed to decode captcha response", goerr.V("body", string(body)))
	}
	return &out, nil
}

const injectReCaptcha = `(token) => {
	const el = document.getElementById('g-recaptcha-response') || document.querySelector('[name="g-recaptcha-response"]');
	if (el) { el.innerHTML = token; el.value = token; }
	const cb = window.grecaptchaCallback || window.recaptchaCallback;
	if (typeof cb === 'function') cb(token);
	return !!el;
}`

const injectHCaptcha = `(token) => {
	const el = document.querySelector('[name="h-captcha-response"]');
	if (el) { el.value = token; }
	const cb = window.hcaptchaCallback;
	if (typeof cb === 'function') cb(token);
	return !!el;
}`

// Inject writes the token into the page's response field and fires the widget callback.
func (s *TwoCaptcha) Inject(ctx context.Context, page Page, ch Challenge, token string) error {
	script := injectReCaptcha
	if ch.Kind == ChallengeHCaptcha {
		script = injectHCaptcha
	}
	if _, err := page.Evaluate(ctx, script, token); err != nil {
		return goerr.Wrap(err, "failed to inject captcha token", goerr.V("kind", ch.Kind))
	}
	return nil
}
