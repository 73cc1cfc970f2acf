// Package engine drives a headless browser through the freight
// marketplace's multi-step quote wizard and extracts live carrier rates.
// The target site has no public API; the pipeline navigates its rendered
// UI, tolerating asynchronous form state and selector drift, and degrades
// instead of aborting wherever a stage failure is survivable.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/boothforge/freightquote/internal/browser"
	"github.com/boothforge/freightquote/internal/diag"
	"github.com/boothforge/freightquote/internal/session"
	"github.com/boothforge/freightquote/internal/telemetry"
)

var (
	clickShort   = browser.ClickOptions{TimeoutMs: 3000}
	clickDefault = browser.ClickOptions{TimeoutMs: 5000}
	clickForce   = browser.ClickOptions{TimeoutMs: 2000, Force: true}
)

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/140.0.0.0 Safari/537.36"

type Config struct {
	BaseURL   string
	Browser   string
	Channel   string
	Headless  bool
	UserAgent string

	// Per-keystroke delay when typing into autocomplete fields; typing too
	// fast skips the site's remote lookups.
	TypeDelayMs int

	// ProbeTimeoutMs bounds readiness probes (wait-for-selector).
	ProbeTimeoutMs int

	PollInterval time.Duration
	// SettleDelay is the pause after interactions that trigger an
	// asynchronous re-render with no completion signal.
	SettleDelay time.Duration

	SuggestionAttempts int
	ConfirmAttempts    int
	FilterAttempts     int

	// SellerFilter narrows results to these seller labels; empty disables
	// filtering.
	SellerFilter []string
	// SearchTermOverrides maps a city-name fragment to the locality token
	// known to resolve in the site's address search.
	SearchTermOverrides map[string]string

	GoodsValueDefaultUSD float64
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.TypeDelayMs == 0 {
		c.TypeDelayMs = 150
	}
	if c.ProbeTimeoutMs == 0 {
		c.ProbeTimeoutMs = 5000
	}
	if c.PollInterval == 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = time.Second
	}
	if c.SuggestionAttempts == 0 {
		c.SuggestionAttempts = 10
	}
	if c.ConfirmAttempts == 0 {
		c.ConfirmAttempts = 16
	}
	if c.FilterAttempts == 0 {
		c.FilterAttempts = 5
	}
	if c.GoodsValueDefaultUSD == 0 {
		c.GoodsValueDefaultUSD = 8000
	}
}

type Engine struct {
	cfg       Config
	browser   browser.Engine
	sessions  *session.Provider
	logger    *otelzap.Logger
	tracer    trace.Tracer
	metrics   *telemetry.Metrics
	artifacts *diag.Store
}

// New builds an engine. tracer, metrics, and artifacts may be nil.
func New(cfg Config, b browser.Engine, sessions *session.Provider, logger *otelzap.Logger, tracer trace.Tracer, metrics *telemetry.Metrics, artifacts *diag.Store) *Engine {
	cfg.applyDefaults()
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &Engine{
		cfg:       cfg,
		browser:   b,
		sessions:  sessions,
		logger:    logger,
		tracer:    tracer,
		metrics:   metrics,
		artifacts: artifacts,
	}
}

// run carries the mutable state of one pipeline execution. A run owns its
// browser exclusively; nothing is shared across concurrent requests.
type run struct {
	id          string
	cfg         Config
	page        browser.Page
	req         QuoteRequest
	logger      *otelzap.Logger
	state       State
	quotes      []CarrierQuote
	quoteURL    string
	screenshots []string
	artifacts   *diag.Store
}

func (r *run) settle() {
	settle(context.Background(), r.cfg.SettleDelay)
}

func (r *run) screenshot(label string) {
	if r.artifacts == nil {
		return
	}
	path := r.artifacts.ScreenshotPath(r.id, label)
	if err := r.page.Screenshot(path, true); err != nil {
		r.logger.Warn("Screenshot failed", zap.String("label", label), zap.Error(err))
		return
	}
	r.screenshots = append(r.screenshots, path)
}

type stage struct {
	name  string
	state State
	fn    func(ctx context.Context) StageResult
}

// Quote executes the full pipeline for one request. It always returns a
// QuoteOutcome: recoverable stage failures degrade the run, fatal failures
// abort it, and browser resources are released on every exit path.
func (e *Engine) Quote(ctx context.Context, req QuoteRequest) QuoteOutcome {
	started := time.Now().UTC()
	runID := uuid.NewString()

	out := QuoteOutcome{FinalState: StateIdle, RunID: runID, CapturedAt: started}
	fail := func(kind ErrorKind, detail string) QuoteOutcome {
		out.Success = false
		out.Quotes = nil
		out.ErrorKind = kind
		out.ErrorDetail = detail
		out.FinalState = StateAborted
		out.CapturedAt = time.Now().UTC()
		e.metrics.RunFailed(string(kind))
		e.logger.Error("Quote run aborted",
			zap.String("run_id", runID),
			zap.String("reason", string(kind)),
			zap.String("detail", detail),
		)
		return out
	}

	if err := req.Validate(); err != nil {
		return fail(KindInvalidRequest, err.Error())
	}

	e.metrics.RunStarted()
	e.logger.Info("Starting freight quote run",
		zap.String("run_id", runID),
		zap.String("origin_city", req.Source.City),
		zap.String("destination_city", req.Destination.City),
		zap.Int("packages", len(req.Packages)),
	)

	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.Start(ctx, "engine.Quote",
			trace.WithAttributes(
				attribute.String("run.id", runID),
				attribute.Int("packages", len(req.Packages)),
			))
		defer span.End()
	}

	creds, err := e.sessions.Obtain()
	if err != nil {
		if errors.Is(err, session.ErrSessionInvalid) {
			return fail(KindSessionInvalid, err.Error())
		}
		return fail(KindConfigurationMissing, err.Error())
	}

	sess, err := e.browser.Start(browser.StartOptions{
		Browser:   e.cfg.Browser,
		Channel:   e.cfg.Channel,
		Headless:  e.cfg.Headless,
		UserAgent: e.cfg.UserAgent,
		Args:      []string{"--no-sandbox", "--disable-setuid-sandbox"},
	})
	if err != nil {
		return fail(KindNavigationFailure, fmt.Sprintf("launching browser: %v", err))
	}
	defer sess.Close()

	page, err := sess.NewPage()
	if err != nil {
		return fail(KindNavigationFailure, fmt.Sprintf("opening page: %v", err))
	}
	defer page.Close()

	if err := page.SetViewport(1920, 1080); err != nil {
		e.logger.Warn("Setting viewport failed", zap.Error(err))
	}
	if err := page.Goto(e.cfg.BaseURL); err != nil {
		return fail(KindNavigationFailure, fmt.Sprintf("navigating to %s: %v", e.cfg.BaseURL, err))
	}
	if err := page.WaitReady(); err != nil {
		return fail(KindNavigationFailure, fmt.Sprintf("waiting for page load: %v", err))
	}

	r := &run{
		id:        runID,
		cfg:       e.cfg,
		page:      page,
		req:       req,
		logger:    e.logger,
		state:     StateIdle,
		artifacts: e.artifacts,
	}
	if e.artifacts != nil {
		if err := e.artifacts.EnsureRunDir(runID); err != nil {
			e.logger.Warn("Run artifact dir unavailable", zap.Error(err))
			r.artifacts = nil
		}
	}

	pipeline := []stage{
		{"login", StateLoggingIn, func(ctx context.Context) StageResult { return r.login(ctx, sess, creds) }},
		{"origin", StateFillingOrigin, func(ctx context.Context) StageResult { return r.fillAddress(ctx, "origin", req.Source) }},
		{"destination", StateFillingDestination, func(ctx context.Context) StageResult {
			return r.fillAddress(ctx, "destination", req.Destination)
		}},
		{"cargo", StateFillingCargo, r.fillCargo},
		{"goods", StateFillingGoods, r.fillGoods},
		{"submit", StateSubmitting, r.submit},
		{"confirm-services", StateAwaitingResults, r.confirmServices},
		{"dismiss-modal", StateFilteringResults, r.dismissModal},
		{"seller-filter", StateFilteringResults, r.filterSellers},
		{"extract", StateExtractingResults, r.extractResults},
	}

	for _, s := range pipeline {
		r.state = s.state
		out.FinalState = s.state
		res := e.runStage(ctx, s)
		switch res.Status {
		case stageFailedFatal:
			out = fail(res.Kind, res.Detail)
			e.saveManifest(r, started, out)
			return out
		case stageFailedRecoverable:
			e.metrics.StageRecovered(s.name)
		}
		if ctx.Err() != nil {
			out = fail(KindNavigationFailure, fmt.Sprintf("run cancelled: %v", ctx.Err()))
			e.saveManifest(r, started, out)
			return out
		}
	}

	r.state = StateDone
	out.Success = true
	out.Quotes = r.quotes
	out.QuoteURL = r.quoteURL
	out.FinalState = StateDone
	out.CapturedAt = time.Now().UTC()
	e.metrics.QuotesExtracted(len(r.quotes))
	e.logger.Info("Freight quote run finished",
		zap.String("run_id", runID),
		zap.Int("quotes", len(r.quotes)),
		zap.String("quote_url", r.quoteURL),
	)
	e.saveManifest(r, started, out)
	return out
}

func (e *Engine) runStage(ctx context.Context, s stage) StageResult {
	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.Start(ctx, "engine.stage."+s.name)
		defer span.End()
	}
	res := s.fn(ctx)
	switch res.Status {
	case stageSkipped:
		e.logger.Info("Stage skipped", zap.String("stage", s.name), zap.String("detail", res.Detail))
	case stageFailedRecoverable:
		e.logger.Warn("Stage degraded, continuing",
			zap.String("stage", s.name),
			zap.String("detail", res.Detail),
			zap.Error(res.Err),
		)
	case stageFailedFatal:
		e.logger.Error("Stage failed fatally",
			zap.String("stage", s.name),
			zap.String("detail", res.Detail),
			zap.Error(res.Err),
		)
	}
	return res
}

// login authenticates with credentials through the homepage modal, or
// injects the pre-captured cookie set and reloads. With neither available
// the provider has already failed the run.
func (r *run) login(ctx context.Context, sess browser.Session, creds session.Credentials) StageResult {
	switch {
	case creds.HasLogin():
		if err := r.page.Click("text="+textLoginNav, clickDefault); err != nil {
			return fatal(KindNavigationFailure, "login control not found", err)
		}
		if err := r.page.WaitFor(selLoginEmail, r.cfg.ProbeTimeoutMs); err != nil {
			return fatal(KindNavigationFailure, "login modal never appeared", err)
		}
		if err := r.page.Fill(selLoginEmail, creds.Email); err != nil {
			return fatal(KindNavigationFailure, "filling login email", err)
		}
		if err := r.page.Fill(selLoginPassword, creds.Password); err != nil {
			return fatal(KindNavigationFailure, "filling login password", err)
		}
		if err := r.page.Click("text="+textLoginSubmit, clickDefault); err != nil {
			return fatal(KindNavigationFailure, "submitting login form", err)
		}
		r.settle()
		r.settle()
	case creds.HasCookies():
		if err := sess.AddCookies(creds.Cookies); err != nil {
			return fatal(KindSessionInvalid, "injecting session cookies", err)
		}
		if err := r.page.Goto(r.cfg.BaseURL); err != nil {
			return fatal(KindNavigationFailure, "reloading with session cookies", err)
		}
		if err := r.page.WaitReady(); err != nil {
			return fatal(KindNavigationFailure, "waiting for reload", err)
		}
	}

	loggedIn := false
	for _, sel := range loginIndicators {
		if present, err := r.page.Exists(sel); err == nil && present {
			loggedIn = true
			break
		}
	}
	if loggedIn {
		r.logger.Info("Authenticated session detected")
	} else {
		r.logger.Warn("Could not verify login; proceeding with guest quote")
	}
	r.screenshot("post-login")
	return completed()
}

func (e *Engine) saveManifest(r *run, started time.Time, out QuoteOutcome) {
	if r.artifacts == nil {
		return
	}
	manifest := diag.Run{
		ID:          r.id,
		StartedAt:   started,
		FinishedAt:  time.Now().UTC(),
		State:       string(out.FinalState),
		Success:     out.Success,
		ErrorKind:   string(out.ErrorKind),
		QuoteURL:    out.QuoteURL,
		QuoteCount:  len(out.Quotes),
		Screenshots: r.screenshots,
	}
	if err := r.artifacts.Save(manifest); err != nil {
		e.logger.Warn("Saving run manifest failed", zap.Error(err))
	}
}

func isTimeout(err error) bool {
	return errors.Is(err, ErrStageTimeout)
}
