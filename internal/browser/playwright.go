package browser

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/playwright-community/playwright-go"
)

type PlaywrightEngine struct{}

func (p PlaywrightEngine) Start(opts StartOptions) (Session, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, err
	}
	bt, err := browserType(pw, opts.Browser)
	if err != nil {
		pw.Stop()
		return nil, err
	}
	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	}
	if opts.Channel != "" {
		launchOpts.Channel = playwright.String(opts.Channel)
	}
	if len(opts.Args) > 0 {
		launchOpts.Args = opts.Args
	}
	b, err := bt.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, err
	}
	ctxOpts := playwright.BrowserNewContextOptions{}
	if opts.UserAgent != "" {
		ctxOpts.UserAgent = playwright.String(opts.UserAgent)
	}
	ctx, err := b.NewContext(ctxOpts)
	if err != nil {
		b.Close()
		pw.Stop()
		return nil, err
	}
	return &playwrightSession{pw: pw, browser: b, ctx: ctx}, nil
}

type playwrightSession struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	ctx     playwright.BrowserContext
}

func (s *playwrightSession) NewPage() (Page, error) {
	page, err := s.ctx.NewPage()
	if err != nil {
		return nil, err
	}
	return &playwrightPage{page: page}, nil
}

func (s *playwrightSession) AddCookies(cookies []Cookie) error {
	converted := make([]playwright.OptionalCookie, 0, len(cookies))
	for _, c := range cookies {
		oc := playwright.OptionalCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   playwright.String(c.Domain),
			Path:     playwright.String(c.Path),
			HttpOnly: playwright.Bool(c.HTTPOnly),
			Secure:   playwright.Bool(c.Secure),
		}
		if c.Expires > 0 {
			oc.Expires = playwright.Float(c.Expires)
		}
		if attr := sameSiteAttribute(c.SameSite); attr != nil {
			oc.SameSite = attr
		}
		converted = append(converted, oc)
	}
	return s.ctx.AddCookies(converted)
}

func (s *playwrightSession) Close() error {
	if s.ctx != nil {
		_ = s.ctx.Close()
	}
	if s.browser != nil {
		_ = s.browser.Close()
	}
	if s.pw != nil {
		s.pw.Stop()
	}
	return nil
}

type playwrightPage struct {
	page playwright.Page
}

func (p *playwrightPage) Goto(url string) error {
	_, err := p.page.Goto(url)
	return err
}

func (p *playwrightPage) WaitReady() error {
	return p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State: playwright.LoadStateDomcontentloaded,
	})
}

func (p *playwrightPage) Click(selector string, opts ClickOptions) error {
	if strings.HasPrefix(selector, "text=") {
		return p.clickByText(strings.TrimPrefix(selector, "text="), opts)
	}
	clickOpts := playwright.PageClickOptions{}
	if opts.TimeoutMs > 0 {
		clickOpts.Timeout = playwright.Float(float64(opts.TimeoutMs))
	}
	if opts.Force {
		clickOpts.Force = playwright.Bool(true)
	}
	return p.page.Click(selector, clickOpts)
}

func (p *playwrightPage) Fill(selector string, value string) error {
	return p.page.Fill(selector, value)
}

func (p *playwrightPage) FillNth(selector string, index int, fromEnd bool, value string) error {
	locator := p.page.Locator(selector)
	if fromEnd {
		count, err := locator.Count()
		if err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("no elements match %q", selector)
		}
		index = count - 1 - index
	}
	if index < 0 {
		return fmt.Errorf("index out of range for %q", selector)
	}
	return locator.Nth(index).Fill(value)
}

func (p *playwrightPage) FocusVisible(selector string) (bool, error) {
	return p.evalBool(`(sel) => {
  const inputs = Array.from(document.querySelectorAll(sel));
  const visible = inputs.find(input => {
    const parent = input.parentElement;
    if (!parent) return false;
    return window.getComputedStyle(parent).display !== "none";
  });
  if (visible) {
    visible.focus();
    return true;
  }
  return false;
}`, selector)
}

func (p *playwrightPage) ClickFirstVisible(selector string) (bool, error) {
	return p.evalBool(`(sel) => {
  const options = Array.from(document.querySelectorAll(sel));
  const visible = options.find(opt => {
    const rect = opt.getBoundingClientRect();
    return rect.width > 0 && rect.height > 0 && window.getComputedStyle(opt).display !== "none";
  });
  if (visible) {
    visible.click();
    return true;
  }
  return false;
}`, selector)
}

func (p *playwrightPage) TypeText(text string, delayMs int) error {
	typeOpts := playwright.KeyboardTypeOptions{}
	if delayMs > 0 {
		typeOpts.Delay = playwright.Float(float64(delayMs))
	}
	return p.page.Keyboard().Type(text, typeOpts)
}

func (p *playwrightPage) Exists(selector string) (bool, error) {
	return p.evalBool(`(sel) => document.querySelector(sel) !== null`, selector)
}

func (p *playwrightPage) IsEnabled(selector string) (bool, error) {
	return p.evalBool(`(sel) => {
  const el = document.querySelector(sel);
  return !!el && !el.hasAttribute("disabled");
}`, selector)
}

func (p *playwrightPage) WaitFor(selector string, timeoutMs int) error {
	waitOpts := playwright.PageWaitForSelectorOptions{}
	if timeoutMs > 0 {
		waitOpts.Timeout = playwright.Float(float64(timeoutMs))
	}
	_, err := p.page.WaitForSelector(selector, waitOpts)
	return err
}

func (p *playwrightPage) Eval(js string, args ...any) (json.RawMessage, error) {
	var v any
	var err error
	if len(args) > 0 {
		v, err = p.page.Evaluate(js, args[0])
	} else {
		v, err = p.page.Evaluate(js)
	}
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (p *playwrightPage) Screenshot(path string, fullPage bool) error {
	_, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(fullPage),
	})
	return err
}

func (p *playwrightPage) SetViewport(width, height int) error {
	return p.page.SetViewportSize(width, height)
}

func (p *playwrightPage) URL() (string, error) {
	return p.page.URL(), nil
}

func (p *playwrightPage) Close() error {
	return p.page.Close()
}

func (p *playwrightPage) evalBool(js string, arg any) (bool, error) {
	v, err := p.page.Evaluate(js, arg)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expected bool from page script, got %T", v)
	}
	return b, nil
}

func (p *playwrightPage) clickByText(text string, opts ClickOptions) error {
	clickOpts := playwright.LocatorClickOptions{}
	if opts.TimeoutMs > 0 {
		clickOpts.Timeout = playwright.Float(float64(opts.TimeoutMs))
	}
	if opts.Force {
		clickOpts.Force = playwright.Bool(true)
	}
	if err := p.page.GetByText(text, playwright.PageGetByTextOptions{Exact: playwright.Bool(true)}).Click(clickOpts); err == nil {
		return nil
	}
	escaped := strings.ReplaceAll(text, "\"", "\\\"")
	selectors := []string{
		fmt.Sprintf("button:has-text(\"%s\")", escaped),
		fmt.Sprintf("a:has-text(\"%s\")", escaped),
		fmt.Sprintf("div:has-text(\"%s\")", escaped),
		fmt.Sprintf("[role=button]:has-text(\"%s\")", escaped),
	}
	for _, sel := range selectors {
		if err := p.page.Locator(sel).First().Click(clickOpts); err == nil {
			return nil
		}
	}
	return fmt.Errorf("no match for text=%q", text)
}

func sameSiteAttribute(value string) *playwright.SameSiteAttribute {
	switch value {
	case "Lax":
		return playwright.SameSiteAttributeLax
	case "Strict":
		return playwright.SameSiteAttributeStrict
	case "None":
		return playwright.SameSiteAttributeNone
	default:
		return nil
	}
}

func browserType(pw *playwright.Playwright, name string) (playwright.BrowserType, error) {
	switch name {
	case "chromium", "":
		return pw.Chromium, nil
	case "firefox":
		return pw.Firefox, nil
	case "webkit":
		return pw.WebKit, nil
	default:
		return nil, errors.New("unknown browser: " + name)
	}
}
