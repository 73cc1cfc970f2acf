package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"

	"github.com/boothforge/freightquote/internal/browser"
	"github.com/boothforge/freightquote/internal/config"
	"github.com/boothforge/freightquote/internal/diag"
	"github.com/boothforge/freightquote/internal/engine"
	"github.com/boothforge/freightquote/internal/session"
	"github.com/boothforge/freightquote/internal/shipping"
	"github.com/boothforge/freightquote/internal/telemetry"
)

type GlobalFlags struct {
	JSON       bool
	Quiet      bool
	Browser    string
	Channel    string
	Headless   bool
	Headed     bool
	CookieFile string
	RunDir     string
}

type App struct {
	Out io.Writer
	Err io.Writer
}

const (
	exitSuccess  = 0
	exitFailure  = 1
	exitUsage    = 2
	exitNotFound = 3
)

// prepare loads config, applies flag overrides, and wires the run store.
func (a App) prepare(flags GlobalFlags) (*config.Config, diag.Store, *otelzap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, diag.Store{}, nil, err
	}
	if flags.Browser != "" {
		cfg.Browser = flags.Browser
	}
	if flags.Channel != "" {
		cfg.Channel = flags.Channel
	}
	if flags.Headless {
		cfg.Headless = true
	}
	if flags.Headed {
		cfg.Headless = false
	}
	if flags.CookieFile != "" {
		cfg.CookieFile = flags.CookieFile
	}
	if flags.RunDir != "" {
		cfg.RunDir = flags.RunDir
	}
	store := diag.Store{Root: cfg.RunDir, DefaultTTL: cfg.RunTTLDuration()}
	if err := store.EnsureDir(); err != nil {
		return nil, diag.Store{}, nil, err
	}
	logger, err := telemetry.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, diag.Store{}, nil, err
	}
	return cfg, store, logger, nil
}

// buildCalculator assembles the full stack: engine over a real browser,
// session provider, metrics, and the shipping facade on top.
func (a App) buildCalculator(cfg *config.Config, store diag.Store, logger *otelzap.Logger) *shipping.Calculator {
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", telemetry.Handler(reg))
			_ = http.ListenAndServe(cfg.MetricsAddr, mux)
		}()
	}
	tracer := otel.Tracer(cfg.ServiceName)

	sessions := &session.Provider{
		Email:      cfg.Email,
		Password:   cfg.Password,
		CookiePath: cfg.CookieFile,
		Logger:     logger,
	}
	eng := engine.New(engine.Config{
		BaseURL:              cfg.BaseURL,
		Browser:              cfg.Browser,
		Channel:              cfg.Channel,
		Headless:             cfg.Headless,
		TypeDelayMs:          cfg.TypeDelayMs,
		SellerFilter:         cfg.Business.Sellers,
		SearchTermOverrides:  cfg.Business.SearchTermOverrides,
		GoodsValueDefaultUSD: cfg.Business.GoodsValueUSD,
	}, browser.PlaywrightEngine{}, sessions, logger, tracer, metrics, &store)

	return &shipping.Calculator{
		Source:  cfg.Business.Source,
		Quoter:  eng,
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Timeout: cfg.LiveTimeoutDuration(),
	}
}

// quoteRequestFile is the on-disk shape accepted by the quote command.
type quoteRequestFile struct {
	Dimensions  shipping.Dimensions `json:"dimensions"`
	Method      string              `json:"method"`
	Destination *engine.Address     `json:"destination,omitempty"`
}

func (a App) runQuote(flags GlobalFlags, requestPath string, live bool) int {
	cfg, store, logger, err := a.prepare(flags)
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return exitFailure
	}
	data, err := os.ReadFile(requestPath)
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return exitFailure
	}
	var req quoteRequestFile
	if err := json.Unmarshal(data, &req); err != nil {
		fmt.Fprintf(a.Err, "parsing %s: %v\n", requestPath, err)
		return exitUsage
	}
	if req.Method == "" {
		req.Method = "Ocean Freight"
	}

	calc := a.buildCalculator(cfg, store, logger)
	result := calc.Compute(context.Background(), shipping.Input{
		Dimensions: req.Dimensions,
		Method:     req.Method,
	}, req.Destination, live)

	if flags.JSON {
		b, _ := json.MarshalIndent(result, "", "  ")
		fmt.Fprintln(a.Out, string(b))
		return exitSuccess
	}
	fmt.Fprintf(a.Out, "total_cost=%.2f\n", result.TotalCost)
	fmt.Fprintf(a.Out, "transit_days=%d-%d\n", result.TransitTime.Min, result.TransitTime.Max)
	if result.LiveQuote != nil {
		fmt.Fprintf(a.Out, "live_carriers=%d\n", len(result.LiveQuote.Quotes))
		if result.LiveQuote.QuoteURL != "" {
			fmt.Fprintf(a.Out, "quote_url=%s\n", result.LiveQuote.QuoteURL)
		}
	}
	if result.LiveQuoteError != "" {
		fmt.Fprintf(a.Out, "live_quote_error=%s\n", result.LiveQuoteError)
	}
	return exitSuccess
}

func (a App) runCookiesValidate(flags GlobalFlags, path string) int {
	if path == "" {
		path = flags.CookieFile
	}
	if path == "" {
		fmt.Fprintln(a.Err, "cookie file required (--file or FREIGHTOS_COOKIE_FILE)")
		return exitUsage
	}
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return exitNotFound
	}
	cookies, audit, err := session.ParseCookieStore(data, time.Now())
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return exitFailure
	}
	if flags.JSON {
		out := struct {
			Total     int      `json:"total"`
			Expired   int      `json:"expired"`
			Essential []string `json:"essential"`
		}{audit.Total, audit.Expired, audit.Essential}
		b, _ := json.MarshalIndent(out, "", "  ")
		fmt.Fprintln(a.Out, string(b))
	} else {
		fmt.Fprintf(a.Out, "cookies=%d\n", len(cookies))
		fmt.Fprintf(a.Out, "expired=%d\n", audit.Expired)
		fmt.Fprintf(a.Out, "essential=%s\n", strings.Join(audit.Essential, ","))
	}
	if len(audit.Essential) == 0 {
		fmt.Fprintln(a.Err, "no essential session cookies found")
		return exitFailure
	}
	return exitSuccess
}

func (a App) runCookiesInfo(flags GlobalFlags, path string) int {
	if path == "" {
		path = flags.CookieFile
	}
	if path == "" {
		fmt.Fprintln(a.Err, "cookie file required (--file or FREIGHTOS_COOKIE_FILE)")
		return exitUsage
	}
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return exitNotFound
	}
	cookies, _, err := session.ParseCookieStore(data, time.Now())
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return exitFailure
	}
	if flags.JSON {
		b, _ := json.MarshalIndent(cookies, "", "  ")
		fmt.Fprintln(a.Out, string(b))
		return exitSuccess
	}
	for _, c := range cookies {
		expiry := "session"
		if c.Expires > 0 {
			expiry = time.Unix(int64(c.Expires), 0).UTC().Format(time.RFC3339)
		}
		sameSite := c.SameSite
		if sameSite == "" {
			sameSite = "-"
		}
		fmt.Fprintf(a.Out, "%s domain=%s expires=%s samesite=%s\n", c.Name, c.Domain, expiry, sameSite)
	}
	return exitSuccess
}

func (a App) runInstall(flags GlobalFlags) int {
	browsers := []string{}
	if flags.Browser != "" {
		browsers = append(browsers, flags.Browser)
	}
	opts := &playwright.RunOptions{}
	if len(browsers) > 0 {
		opts.Browsers = browsers
	}
	if err := playwright.Install(opts); err != nil {
		fmt.Fprintln(a.Err, err)
		return exitFailure
	}
	if !flags.Quiet {
		if len(browsers) == 0 {
			fmt.Fprintln(a.Out, "Playwright installed")
		} else {
			fmt.Fprintf(a.Out, "Playwright installed: %s\n", strings.Join(browsers, ", "))
		}
	}
	return exitSuccess
}

func (a App) runDoctor(cfg *config.Config, flags GlobalFlags) int {
	type result struct {
		RunDirWritable bool   `json:"run_dir_writable"`
		RunDir         string `json:"run_dir"`
		PlaywrightOK   bool   `json:"playwright_ok"`
		BrowsersPath   string `json:"browsers_path"`
		SessionSource  string `json:"session_source"`
	}
	res := result{RunDir: cfg.RunDir, BrowsersPath: os.Getenv("PLAYWRIGHT_BROWSERS_PATH")}
	if err := os.MkdirAll(cfg.RunDir, 0o755); err == nil {
		res.RunDirWritable = true
	}
	if pw, err := playwright.Run(); err == nil {
		res.PlaywrightOK = true
		pw.Stop()
	}
	switch {
	case cfg.Email != "" && cfg.Password != "":
		res.SessionSource = "login"
	case cfg.CookieFile != "":
		res.SessionSource = "cookies"
	default:
		res.SessionSource = "none"
	}
	if flags.JSON {
		b, _ := json.MarshalIndent(res, "", "  ")
		fmt.Fprintln(a.Out, string(b))
		return exitSuccess
	}
	fmt.Fprintf(a.Out, "run_dir=%s\n", res.RunDir)
	fmt.Fprintf(a.Out, "run_dir_writable=%t\n", res.RunDirWritable)
	fmt.Fprintf(a.Out, "playwright_ok=%t\n", res.PlaywrightOK)
	fmt.Fprintf(a.Out, "session_source=%s\n", res.SessionSource)
	if res.BrowsersPath != "" {
		fmt.Fprintf(a.Out, "browsers_path=%s\n", res.BrowsersPath)
	}
	return exitSuccess
}

func (a App) runRunsList(store diag.Store, flags GlobalFlags) int {
	runs, err := store.List()
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return exitFailure
	}
	if flags.JSON {
		b, _ := json.MarshalIndent(runs, "", "  ")
		fmt.Fprintln(a.Out, string(b))
		return exitSuccess
	}
	for _, r := range runs {
		fmt.Fprintf(a.Out, "%s started=%s state=%s success=%t quotes=%d\n",
			r.ID, r.StartedAt.Format(time.RFC3339), r.State, r.Success, r.QuoteCount)
	}
	return exitSuccess
}

func (a App) runRunsShow(store diag.Store, flags GlobalFlags, id string) int {
	r, err := store.Load(id)
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return exitNotFound
	}
	if flags.JSON {
		b, _ := json.MarshalIndent(r, "", "  ")
		fmt.Fprintln(a.Out, string(b))
		return exitSuccess
	}
	fmt.Fprintf(a.Out, "id=%s\n", r.ID)
	fmt.Fprintf(a.Out, "state=%s success=%t\n", r.State, r.Success)
	if r.ErrorKind != "" {
		fmt.Fprintf(a.Out, "error_kind=%s\n", r.ErrorKind)
	}
	if r.QuoteURL != "" {
		fmt.Fprintf(a.Out, "quote_url=%s\n", r.QuoteURL)
	}
	fmt.Fprintf(a.Out, "quotes=%d\n", r.QuoteCount)
	for _, shot := range r.Screenshots {
		fmt.Fprintf(a.Out, "screenshot=%s\n", shot)
	}
	return exitSuccess
}

func (a App) runRunsPrune(store diag.Store, flags GlobalFlags, dryRun bool) int {
	runs, err := store.List()
	if err != nil {
		fmt.Fprintln(a.Err, err)
		return exitFailure
	}
	removed := []diag.Run{}
	for _, r := range runs {
		if !store.IsExpired(r) {
			continue
		}
		if !dryRun {
			if err := store.Remove(r.ID); err != nil {
				fmt.Fprintln(a.Err, err)
				return exitFailure
			}
		}
		removed = append(removed, r)
	}
	if flags.JSON {
		b, _ := json.MarshalIndent(removed, "", "  ")
		fmt.Fprintln(a.Out, string(b))
		return exitSuccess
	}
	for _, r := range removed {
		fmt.Fprintf(a.Out, "pruned %s\n", r.ID)
	}
	return exitSuccess
}
