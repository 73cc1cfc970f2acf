package engine

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boothforge/freightquote/internal/browser"
	"github.com/boothforge/freightquote/internal/diag"
	"github.com/boothforge/freightquote/internal/session"
)

const resultsURL = "https://ship.freightos.com/results/abc123XYZ"

var errNoElement = errors.New("no element matched")

var sampleRows = []rawQuoteRow{
	{QuoteID: "q1", Vendor: "Seabay International Freight Forwarding Ltd", TransitTime: "32 days", PriceTitle: "1,460.22", Departure: "Oct 12", Arrival: "Nov 13"},
	{QuoteID: "q2", Vendor: "UniPower Logistics Co., Ltd.", TransitTime: "29 days", PriceWhole: "1,339", PriceDecimals: "78"},
}

func testConfig() Config {
	return Config{
		PollInterval:       time.Millisecond,
		SettleDelay:        time.Millisecond,
		TypeDelayMs:        1,
		SuggestionAttempts: 3,
		ConfirmAttempts:    3,
		FilterAttempts:     3,
		SearchTermOverrides: map[string]string{
			"GUANGZHOU": "SHILOU TOWN",
		},
	}
}

func testRequest() QuoteRequest {
	return QuoteRequest{
		Source:      Address{City: "Guangzhou", State: "Guangdong", CountryCode: "CN", PostalCode: "511447"},
		Destination: Address{City: "New York", State: "NY", CountryCode: "US", PostalCode: "10001"},
		Packages: []PackageSpec{{
			Name:     "booth crate",
			Type:     PackagePallet,
			Quantity: 2,
			WeightKg: 120,
			LengthCm: 100,
			WidthCm:  80,
			HeightCm: 60,
		}},
	}
}

// resultPageEval routes the two JS entry points the pipeline evaluates:
// seller filter toggles and result-row extraction.
func resultPageEval(rows []rawQuoteRow) func(js string, args ...any) (json.RawMessage, error) {
	return func(js string, args ...any) (json.RawMessage, error) {
		if strings.Contains(js, "data-quote-id") {
			b, err := json.Marshal(rows)
			return b, err
		}
		return json.RawMessage(`true`), nil
	}
}

func newTestEngine(t *testing.T, cfg Config, fake *browser.FakeEngine) *Engine {
	t.Helper()
	provider := &session.Provider{Email: "ops@example.com", Password: "secret"}
	return New(cfg, fake, provider, nil, nil, nil, nil)
}

func TestQuoteHappyPath(t *testing.T) {
	page := &browser.FakePage{
		Fields:        []*browser.FakeField{{Selector: selSearchField}},
		URLAfterClick: map[string]string{`[data-test-id="search-button"]`: resultsURL + "?step=done"},
		EvalFunc:      resultPageEval(sampleRows),
	}
	fake := &browser.FakeEngine{Session: &browser.FakeSession{Page: page}}
	eng := newTestEngine(t, testConfig(), fake)

	out := eng.Quote(context.Background(), testRequest())

	require.True(t, out.Success, "detail: %s", out.ErrorDetail)
	assert.Equal(t, StateDone, out.FinalState)
	assert.Equal(t, KindNone, out.ErrorKind)
	assert.Equal(t, resultsURL, out.QuoteURL)
	require.Len(t, out.Quotes, 2)
	assert.Equal(t, 1460.22, out.Quotes[0].Price)
	assert.Equal(t, 1339.78, out.Quotes[1].Price)
	assert.NotEmpty(t, out.RunID)

	// Exactly one isolated browser per run, torn down afterward.
	assert.Len(t, fake.Started, 1)
	assert.True(t, fake.Session.Closed)
	assert.True(t, page.Closed)
	assert.Equal(t, [2]int{1920, 1080}, page.Viewport)

	// The positional cargo slots were filled in slot order, weight last
	// from the end.
	fills := strings.Join(page.Fills, "\n")
	assert.Contains(t, fills, selNumericInput+"#0=2")
	assert.Contains(t, fills, selNumericInput+"#1=100")
	assert.Contains(t, fills, selNumericInput+"#2=80")
	assert.Contains(t, fills, selNumericInput+"#3=60")
	assert.Contains(t, fills, selNumericInput+"#last-0=120")
}

func TestQuoteUsesSearchTermOverride(t *testing.T) {
	page := &browser.FakePage{
		Fields:        []*browser.FakeField{{Selector: selSearchField}},
		URLAfterClick: map[string]string{`[data-test-id="search-button"]`: resultsURL},
		EvalFunc:      resultPageEval(nil),
	}
	fake := &browser.FakeEngine{Session: &browser.FakeSession{Page: page}}
	eng := newTestEngine(t, testConfig(), fake)

	out := eng.Quote(context.Background(), testRequest())

	require.True(t, out.Success)
	typed := strings.Join(page.Typed, "|")
	assert.Contains(t, typed, "SHILOU TOWN")
	assert.Contains(t, typed, "New York")
}

func TestQuoteHiddenFieldNeverReceivesKeystrokes(t *testing.T) {
	hidden := &browser.FakeField{Selector: selSearchField, Display: "none"}
	visible := &browser.FakeField{Selector: selSearchField}
	page := &browser.FakePage{
		Fields:        []*browser.FakeField{hidden, visible},
		URLAfterClick: map[string]string{`[data-test-id="search-button"]`: resultsURL},
		EvalFunc:      resultPageEval(sampleRows),
	}
	fake := &browser.FakeEngine{Session: &browser.FakeSession{Page: page}}
	eng := newTestEngine(t, testConfig(), fake)

	out := eng.Quote(context.Background(), testRequest())

	require.True(t, out.Success)
	assert.Empty(t, hidden.Typed, "hidden input must never receive keystrokes")
	assert.Contains(t, visible.Typed, "SHILOU TOWN")
	assert.Empty(t, page.LostKeystrokes)
}

func TestQuoteInvalidRequest(t *testing.T) {
	fake := &browser.FakeEngine{}
	eng := newTestEngine(t, testConfig(), fake)

	out := eng.Quote(context.Background(), QuoteRequest{})

	assert.False(t, out.Success)
	assert.Equal(t, KindInvalidRequest, out.ErrorKind)
	assert.Equal(t, StateAborted, out.FinalState)
	assert.Empty(t, out.Quotes)
	// Validation failures never reach the browser.
	assert.Empty(t, fake.Started)
}

func TestQuoteNoSubmitAvailable(t *testing.T) {
	page := &browser.FakePage{
		Fields: []*browser.FakeField{{Selector: selSearchField}},
		Enabled: map[string]bool{
			`[data-test-id="search-button"]`: false,
			`button[type="submit"]`:          false,
		},
		ClickErrs: map[string]error{
			"text=Get Quote": errNoElement,
			"text=Submit":    errNoElement,
			"text=Calculate": errNoElement,
		},
	}
	fake := &browser.FakeEngine{Session: &browser.FakeSession{Page: page}}
	eng := newTestEngine(t, testConfig(), fake)

	out := eng.Quote(context.Background(), testRequest())

	assert.False(t, out.Success)
	assert.Equal(t, KindNoSubmitAvailable, out.ErrorKind)
	assert.Equal(t, StateAborted, out.FinalState)
	assert.Empty(t, out.Quotes)
	// A disabled control is never clicked.
	assert.NotContains(t, page.Clicks, `[data-test-id="search-button"]`)
	assert.NotContains(t, page.Clicks, `button[type="submit"]`)
	// Resources are still released on the abort path.
	assert.True(t, fake.Session.Closed)
	assert.True(t, page.Closed)
}

func TestQuoteSellerFilterRetriesUntilVisible(t *testing.T) {
	toggleCalls := 0
	page := &browser.FakePage{
		Fields:        []*browser.FakeField{{Selector: selSearchField}},
		URLAfterClick: map[string]string{`[data-test-id="search-button"]`: resultsURL},
	}
	page.EvalFunc = func(js string, args ...any) (json.RawMessage, error) {
		if strings.Contains(js, "data-quote-id") {
			b, _ := json.Marshal(sampleRows)
			return b, nil
		}
		// The filter panel populates asynchronously; the checkbox shows
		// up on the third probe.
		toggleCalls++
		if toggleCalls < 3 {
			return json.RawMessage(`false`), nil
		}
		return json.RawMessage(`true`), nil
	}
	cfg := testConfig()
	cfg.SellerFilter = []string{"Seabay International Freight Forwarding Ltd"}
	fake := &browser.FakeEngine{Session: &browser.FakeSession{Page: page}}
	eng := newTestEngine(t, cfg, fake)

	out := eng.Quote(context.Background(), testRequest())

	require.True(t, out.Success, "detail: %s", out.ErrorDetail)
	assert.Equal(t, 3, toggleCalls)
	require.Len(t, out.Quotes, 2)
}

func TestQuoteCookieLoginInjectsAndReloads(t *testing.T) {
	page := &browser.FakePage{
		Fields:        []*browser.FakeField{{Selector: selSearchField}},
		URLAfterClick: map[string]string{`[data-test-id="search-button"]`: resultsURL},
		EvalFunc:      resultPageEval(sampleRows),
	}
	sess := &browser.FakeSession{Page: page}
	fake := &browser.FakeEngine{Session: sess}
	cfg := testConfig()
	cfg.BaseURL = "https://ship.freightos.com/"
	provider := &session.Provider{CookiePath: writeCookieFile(t)}
	eng := New(cfg, fake, provider, nil, nil, nil, nil)

	out := eng.Quote(context.Background(), testRequest())

	require.True(t, out.Success, "detail: %s", out.ErrorDetail)
	require.NotEmpty(t, sess.Cookies)
	assert.Equal(t, "session", sess.Cookies[0].Name)
	// Initial navigation plus the post-injection reload.
	assert.GreaterOrEqual(t, len(page.Gotos), 2)
}

func TestQuoteCancelledContext(t *testing.T) {
	page := &browser.FakePage{
		Fields:   []*browser.FakeField{{Selector: selSearchField}},
		EvalFunc: resultPageEval(sampleRows),
	}
	fake := &browser.FakeEngine{Session: &browser.FakeSession{Page: page}}
	eng := newTestEngine(t, testConfig(), fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := eng.Quote(ctx, testRequest())

	assert.False(t, out.Success)
	assert.Equal(t, StateAborted, out.FinalState)
	assert.Empty(t, out.Quotes)
}

func TestQuoteSavesRunManifest(t *testing.T) {
	store := diag.Store{Root: t.TempDir(), DefaultTTL: time.Hour}
	page := &browser.FakePage{
		Fields:        []*browser.FakeField{{Selector: selSearchField}},
		URLAfterClick: map[string]string{`[data-test-id="search-button"]`: resultsURL},
		EvalFunc:      resultPageEval(sampleRows),
	}
	fake := &browser.FakeEngine{Session: &browser.FakeSession{Page: page}}
	provider := &session.Provider{Email: "ops@example.com", Password: "secret"}
	eng := New(testConfig(), fake, provider, nil, nil, nil, &store)

	out := eng.Quote(context.Background(), testRequest())
	require.True(t, out.Success)

	runs, err := store.List()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, out.RunID, runs[0].ID)
	assert.True(t, runs[0].Success)
	assert.Equal(t, string(StateDone), runs[0].State)
	assert.Equal(t, 2, runs[0].QuoteCount)
	assert.Equal(t, resultsURL, runs[0].QuoteURL)
	assert.NotEmpty(t, runs[0].Screenshots)
	assert.NotEmpty(t, page.Shots)
}

func TestSearchTermFallbacks(t *testing.T) {
	r := &run{cfg: Config{SearchTermOverrides: map[string]string{"GUANGZHOU": "SHILOU TOWN"}}}

	assert.Equal(t, "SHILOU TOWN", r.searchTerm(Address{City: "Guangzhou City"}))
	assert.Equal(t, "Rotterdam", r.searchTerm(Address{City: "Rotterdam", State: "ZH"}))
	assert.Equal(t, "ZH", r.searchTerm(Address{State: "ZH", PostalCode: "3011"}))
	assert.Equal(t, "3011", r.searchTerm(Address{PostalCode: "3011"}))
}

func writeCookieFile(t *testing.T) string {
	t.Helper()
	future := float64(time.Now().Add(24*time.Hour).Unix()) + 0.5
	records := []map[string]any{
		{"name": "session", "value": "tok", "domain": ".freightos.com", "path": "/", "sameSite": "lax", "expirationDate": future},
	}
	b, err := json.Marshal(records)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "cookies.json")
	require.NoError(t, os.WriteFile(path, b, 0o644))
	return path
}
