package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/boothforge/freightquote/internal/browser"
)

// The results page self-identifies through this path shape; matching it
// yields a durable reference that re-opens the same quote later.
var quoteURLPattern = regexp.MustCompile(`https://ship\.freightos\.com/results/[a-zA-Z0-9]+`)

const defaultServiceType = "Ocean Freight"

type rawQuoteRow struct {
	QuoteID       string `json:"quoteId"`
	Vendor        string `json:"vendor"`
	TransitTime   string `json:"transitTime"`
	PriceTitle    string `json:"priceTitle"`
	PriceWhole    string `json:"priceWhole"`
	PriceDecimals string `json:"priceDecimals"`
	Departure     string `json:"departure"`
	Arrival       string `json:"arrival"`
}

func extractQuoteRows(page browser.Page) ([]rawQuoteRow, error) {
	raw, err := page.Eval(jsExtractQuoteRows)
	if err != nil {
		return nil, err
	}
	var rows []rawQuoteRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decoding result rows: %w", err)
	}
	return rows, nil
}

// parseQuoteRows converts scraped rows into carrier quotes. A row that fails
// to yield a positive price is evidence of a layout change for that row, not
// grounds to lose every other successfully parsed one, so it is dropped and
// parsing continues.
func parseQuoteRows(rows []rawQuoteRow) (quotes []CarrierQuote, dropped int) {
	for _, row := range rows {
		price, err := ParsePrice(row.PriceTitle, row.PriceWhole, row.PriceDecimals)
		if err != nil {
			dropped++
			continue
		}
		vendor := row.Vendor
		if vendor == "" {
			vendor = "Unknown"
		}
		quotes = append(quotes, CarrierQuote{
			Carrier:     vendor,
			Service:     defaultServiceType,
			Price:       price,
			TransitTime: row.TransitTime,
			Schedule:    strings.TrimSpace(row.Departure + " - " + row.Arrival),
		})
	}
	return quotes, dropped
}

// ParsePrice recovers a decimal price from a result row. The title attribute
// carries the unambiguous full value when present (e.g. "1,460.22");
// otherwise the whole and decimals nodes are recombined. Thousands
// separators are stripped before parsing.
func ParsePrice(title, whole, decimals string) (float64, error) {
	candidate := strings.ReplaceAll(strings.TrimSpace(title), ",", "")
	if candidate == "" {
		whole = strings.ReplaceAll(strings.TrimSpace(whole), ",", "")
		if whole == "" {
			return 0, fmt.Errorf("no price text")
		}
		candidate = whole
		if d := strings.TrimSpace(decimals); d != "" {
			candidate = whole + "." + d
		}
	}
	price, err := strconv.ParseFloat(candidate, 64)
	if err != nil {
		return 0, fmt.Errorf("unparsable price %q: %w", candidate, err)
	}
	if math.IsNaN(price) || price <= 0 {
		return 0, fmt.Errorf("non-positive price %q", candidate)
	}
	return price, nil
}

// QuoteURL extracts the durable results link from the current page URL,
// falling back to the raw URL when the known path shape does not match; the
// reference is still usable for manual follow-up.
func QuoteURL(currentURL string) string {
	if match := quoteURLPattern.FindString(currentURL); match != "" {
		return match
	}
	return currentURL
}

// Average computes the arithmetic mean of the carrier prices. ok is false
// for an empty list; the mean is undefined there, never zero.
func Average(quotes []CarrierQuote) (float64, bool) {
	if len(quotes) == 0 {
		return 0, false
	}
	var sum float64
	for _, q := range quotes {
		sum += q.Price
	}
	return sum / float64(len(quotes)), true
}
