package browser

import (
	"encoding/json"
	"errors"
	"fmt"
)

type FakeEngine struct {
	Session  *FakeSession
	StartErr error
	Started  []StartOptions
}

func (f *FakeEngine) Start(opts StartOptions) (Session, error) {
	f.Started = append(f.Started, opts)
	if f.StartErr != nil {
		return nil, f.StartErr
	}
	if f.Session == nil {
		f.Session = &FakeSession{}
	}
	return f.Session, nil
}

type FakeSession struct {
	Page       *FakePage
	Cookies    []Cookie
	Closed     bool
	NewPageErr error
}

func (s *FakeSession) NewPage() (Page, error) {
	if s.NewPageErr != nil {
		return nil, s.NewPageErr
	}
	if s.Page == nil {
		s.Page = &FakePage{}
	}
	return s.Page, nil
}

func (s *FakeSession) AddCookies(cookies []Cookie) error {
	s.Cookies = append(s.Cookies, cookies...)
	return nil
}

func (s *FakeSession) Close() error {
	s.Closed = true
	return nil
}

// FakeField models one focusable input on the fake page. Display mirrors the
// computed display style FocusVisible filters on.
type FakeField struct {
	Selector string
	Display  string
	Typed    string
}

type FakePage struct {
	URLValue string
	Gotos    []string
	Clicks   []string
	Fills    []string
	Shots    []string
	Typed    []string
	Closed   bool
	Viewport [2]int

	Fields  []*FakeField
	focused *FakeField
	// keystrokes sent with nothing focused
	LostKeystrokes []string

	GotoErr   error
	ClickErrs map[string]error
	WaitErrs  map[string]error

	// Enabled/Present default to true for unlisted selectors.
	Enabled map[string]bool
	Present map[string]bool

	// VisibleAfter counts ClickFirstVisible attempts a selector stays
	// invisible for before the first visible match appears.
	VisibleAfter map[string]int

	// URLAfterClick rewrites the page URL when the given selector is
	// clicked, simulating navigation.
	URLAfterClick map[string]string

	EvalFunc func(js string, args ...any) (json.RawMessage, error)
}

func (p *FakePage) Goto(url string) error {
	if p.GotoErr != nil {
		return p.GotoErr
	}
	p.Gotos = append(p.Gotos, url)
	p.URLValue = url
	return nil
}

func (p *FakePage) WaitReady() error {
	return nil
}

func (p *FakePage) Click(selector string, _ ClickOptions) error {
	if err := p.ClickErrs[selector]; err != nil {
		return err
	}
	p.Clicks = append(p.Clicks, selector)
	if u, ok := p.URLAfterClick[selector]; ok {
		p.URLValue = u
	}
	return nil
}

func (p *FakePage) Fill(selector string, value string) error {
	p.Fills = append(p.Fills, selector+"="+value)
	return nil
}

func (p *FakePage) FillNth(selector string, index int, fromEnd bool, value string) error {
	pos := fmt.Sprintf("%d", index)
	if fromEnd {
		pos = fmt.Sprintf("last-%d", index)
	}
	p.Fills = append(p.Fills, fmt.Sprintf("%s#%s=%s", selector, pos, value))
	return nil
}

func (p *FakePage) FocusVisible(selector string) (bool, error) {
	for _, f := range p.Fields {
		if f.Selector == selector && f.Display != "none" {
			p.focused = f
			return true, nil
		}
	}
	return false, nil
}

func (p *FakePage) ClickFirstVisible(selector string) (bool, error) {
	if p.VisibleAfter != nil {
		if remaining, ok := p.VisibleAfter[selector]; ok && remaining > 0 {
			p.VisibleAfter[selector] = remaining - 1
			return false, nil
		}
	}
	p.Clicks = append(p.Clicks, selector)
	return true, nil
}

func (p *FakePage) TypeText(text string, _ int) error {
	if p.focused == nil {
		p.LostKeystrokes = append(p.LostKeystrokes, text)
		return nil
	}
	p.focused.Typed += text
	p.Typed = append(p.Typed, text)
	return nil
}

func (p *FakePage) Exists(selector string) (bool, error) {
	if p.Present == nil {
		return true, nil
	}
	present, ok := p.Present[selector]
	if !ok {
		return true, nil
	}
	return present, nil
}

func (p *FakePage) IsEnabled(selector string) (bool, error) {
	if p.Enabled == nil {
		return true, nil
	}
	enabled, ok := p.Enabled[selector]
	if !ok {
		return true, nil
	}
	return enabled, nil
}

func (p *FakePage) WaitFor(selector string, _ int) error {
	return p.WaitErrs[selector]
}

func (p *FakePage) Eval(js string, args ...any) (json.RawMessage, error) {
	if p.EvalFunc != nil {
		return p.EvalFunc(js, args...)
	}
	return nil, errors.New("no eval result")
}

func (p *FakePage) Screenshot(path string, _ bool) error {
	p.Shots = append(p.Shots, path)
	return nil
}

func (p *FakePage) SetViewport(width, height int) error {
	p.Viewport = [2]int{width, height}
	return nil
}

func (p *FakePage) URL() (string, error) {
	return p.URLValue, nil
}

func (p *FakePage) Close() error {
	p.Closed = true
	return nil
}
