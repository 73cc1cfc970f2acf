// Package session supplies the credentials used to authenticate against the
// freight marketplace: either an email/password pair from the environment or
// a browser-extension cookie export converted to the automation driver's
// cookie format.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"

	"github.com/boothforge/freightquote/internal/browser"
)

var (
	// ErrConfigurationMissing means neither credentials nor a readable
	// cookie store is available.
	ErrConfigurationMissing = errors.New("no freight site credentials or cookie store configured")

	// ErrSessionInvalid means the cookie store exists but is malformed.
	ErrSessionInvalid = errors.New("cookie store is malformed")
)

// essentialCookies are the names the marketplace needs for an authenticated
// session.
var essentialCookies = []string{"session", "JSESSIONID"}

type Credentials struct {
	Email    string
	Password string
	Cookies  []browser.Cookie
}

func (c Credentials) HasLogin() bool {
	return c.Email != "" && c.Password != ""
}

func (c Credentials) HasCookies() bool {
	return len(c.Cookies) > 0
}

// Audit summarizes the health of a loaded cookie store. Expired cookies are
// reported, not discarded; the caller decides whether to proceed.
type Audit struct {
	Total     int
	Expired   int
	Essential []string
}

// cookieRecord matches the export vocabulary of common cookie-manager
// browser extensions.
type cookieRecord struct {
	Domain         string  `json:"domain"`
	ExpirationDate float64 `json:"expirationDate"`
	HostOnly       bool    `json:"hostOnly"`
	HTTPOnly       bool    `json:"httpOnly"`
	Name           string  `json:"name"`
	Path           string  `json:"path"`
	SameSite       string  `json:"sameSite"`
	Secure         bool    `json:"secure"`
	Session        bool    `json:"session"`
	Value          string  `json:"value"`
}

type Provider struct {
	Email      string
	Password   string
	CookiePath string
	Logger     *otelzap.Logger

	// Now is a clock override for tests; defaults to time.Now.
	Now func() time.Time
}

// Obtain loads credentials once per engine invocation. Email/password win
// when both are set; otherwise the cookie store is parsed and converted.
func (p *Provider) Obtain() (Credentials, error) {
	if p.Email != "" && p.Password != "" {
		return Credentials{Email: p.Email, Password: p.Password}, nil
	}
	if p.CookiePath == "" {
		return Credentials{}, ErrConfigurationMissing
	}
	data, err := os.ReadFile(p.CookiePath)
	if err != nil {
		if os.IsNotExist(err) {
			return Credentials{}, fmt.Errorf("%w: %s", ErrConfigurationMissing, p.CookiePath)
		}
		return Credentials{}, fmt.Errorf("reading cookie store: %w", err)
	}
	cookies, audit, err := ParseCookieStore(data, p.now())
	if err != nil {
		return Credentials{}, err
	}
	if p.Logger != nil {
		p.Logger.Info("Loaded cookie store",
			zap.String("path", p.CookiePath),
			zap.Int("cookies", audit.Total),
			zap.Strings("essential", audit.Essential),
		)
		if audit.Expired > 0 {
			p.Logger.Warn("Cookie store contains expired cookies",
				zap.Int("expired", audit.Expired),
			)
		}
	}
	return Credentials{Cookies: cookies}, nil
}

func (p *Provider) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// ParseCookieStore converts a cookie-extension JSON export into driver
// cookies and reports the store's health relative to now.
func ParseCookieStore(data []byte, now time.Time) ([]browser.Cookie, Audit, error) {
	var probe any
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, Audit{}, fmt.Errorf("%w: %v", ErrSessionInvalid, err)
	}
	if _, ok := probe.([]any); !ok {
		return nil, Audit{}, fmt.Errorf("%w: expected an array of cookies", ErrSessionInvalid)
	}
	var records []cookieRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, Audit{}, fmt.Errorf("%w: %v", ErrSessionInvalid, err)
	}

	nowEpoch := float64(now.Unix())
	audit := Audit{Total: len(records)}
	cookies := make([]browser.Cookie, 0, len(records))
	for _, r := range records {
		c := browser.Cookie{
			Name:     r.Name,
			Value:    r.Value,
			Domain:   r.Domain,
			Path:     r.Path,
			HTTPOnly: r.HTTPOnly,
			Secure:   r.Secure,
			SameSite: TranslateSameSite(r.SameSite),
		}
		if r.ExpirationDate > 0 {
			c.Expires = math.Floor(r.ExpirationDate)
			if r.ExpirationDate < nowEpoch {
				audit.Expired++
			}
		}
		cookies = append(cookies, c)
	}
	for _, name := range essentialCookies {
		for _, r := range records {
			if r.Name == name {
				audit.Essential = append(audit.Essential, name)
				break
			}
		}
	}
	return cookies, audit, nil
}

// TranslateSameSite maps the extension export vocabulary onto the driver's.
// Unrecognized or absent values stay unset.
func TranslateSameSite(value string) string {
	switch value {
	case "lax":
		return "Lax"
	case "strict":
		return "Strict"
	case "no_restriction":
		return "None"
	default:
		return ""
	}
}
