package browser

import "encoding/json"

type StartOptions struct {
	Browser   string
	Channel   string
	Headless  bool
	UserAgent string
	Args      []string
}

type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	HTTPOnly bool
	Secure   bool
	SameSite string  // "Lax", "Strict", "None", or "" for unset
	Expires  float64 // epoch seconds; 0 means session cookie
}

type ClickOptions struct {
	TimeoutMs int
	Force     bool
}

type Engine interface {
	Start(opts StartOptions) (Session, error)
}

type Session interface {
	NewPage() (Page, error)
	AddCookies(cookies []Cookie) error
	Close() error
}

// Page is the automation engine's only channel to the target site. Selectors
// passed to Click may carry a "text=" prefix to match by visible text instead
// of CSS.
type Page interface {
	Goto(url string) error
	WaitReady() error
	Click(selector string, opts ClickOptions) error
	Fill(selector string, value string) error
	// FillNth fills the Nth element matching selector in DOM order.
	// With fromEnd set, the index counts backwards from the last match.
	FillNth(selector string, index int, fromEnd bool, value string) error
	// FocusVisible focuses the first element matching selector whose
	// container is actually rendered (computed display is not "none").
	// Returns false when no such element exists.
	FocusVisible(selector string) (bool, error)
	// ClickFirstVisible clicks the first matching element with a non-zero
	// bounding box. Returns false when nothing visible matched.
	ClickFirstVisible(selector string) (bool, error)
	// TypeText sends keystrokes to the currently focused element.
	TypeText(text string, delayMs int) error
	Exists(selector string) (bool, error)
	// IsEnabled reports whether the element exists and carries no disabled
	// attribute.
	IsEnabled(selector string) (bool, error)
	WaitFor(selector string, timeoutMs int) error
	Eval(js string, args ...any) (json.RawMessage, error)
	Screenshot(path string, fullPage bool) error
	SetViewport(width, height int) error
	URL() (string, error)
	Close() error
}
