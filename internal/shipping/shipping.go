// Package shipping resolves a shipping cost for a quoted product: either
// from the stored static price on the dimension record, or from a live
// freight-marketplace run averaged across carriers. The live path never
// surfaces its failures to the caller; shipping cost always resolves to a
// number.
package shipping

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/boothforge/freightquote/internal/engine"
	"github.com/boothforge/freightquote/internal/telemetry"
)

// LiveQuoter is the interaction engine's surface as the facade sees it.
type LiveQuoter interface {
	Quote(ctx context.Context, req engine.QuoteRequest) engine.QuoteOutcome
}

// TransitRange is an estimated door-to-door window in days.
type TransitRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// DefaultTransitTimes maps shipping method to its estimate.
var DefaultTransitTimes = map[string]TransitRange{
	"Ocean Freight": {Min: 25, Max: 35},
	"Air Freight":   {Min: 3, Max: 7},
	"Express Air":   {Min: 1, Max: 3},
}

// Dimensions is one persisted product dimension record: the package shape
// plus its pre-stored static shipping price.
type Dimensions struct {
	Name           string             `json:"name"`
	Type           engine.PackageType `json:"type"`
	Quantity       int                `json:"quantity"`
	WeightKg       float64            `json:"weightKg"`
	LengthCm       float64            `json:"lengthCm"`
	WidthCm        float64            `json:"widthCm"`
	HeightCm       float64            `json:"heightCm"`
	StaticPriceUSD float64            `json:"staticPriceUsd"`
}

type Input struct {
	Dimensions   Dimensions `json:"dimensions"`
	Method       string     `json:"method"`
	ServiceLevel string     `json:"serviceLevel"`
	PackageType  string     `json:"packageType"`
}

// LiveQuoteData is the audit payload attached when live pricing succeeded.
type LiveQuoteData struct {
	QuoteURL     string                `json:"quoteUrl,omitempty"`
	AveragePrice float64               `json:"averagePrice"`
	Quotes       []engine.CarrierQuote `json:"quotes"`
	CapturedAt   time.Time             `json:"capturedAt"`
}

type Result struct {
	TotalCost    float64      `json:"totalCost"`
	TransitTime  TransitRange `json:"transitTime"`
	Method       string       `json:"method"`
	ServiceLevel string       `json:"serviceLevel"`
	PackageType  string       `json:"packageType"`
	VolumeCbm    float64      `json:"volumeCbm"`
	WeightKg     float64      `json:"weightKg"`
	// LiveQuote is set only when the live path produced the price.
	LiveQuote *LiveQuoteData `json:"liveQuote,omitempty"`
	// LiveQuoteError records why the live path fell back; operational
	// signal only, never surfaced to end users.
	LiveQuoteError string `json:"liveQuoteError,omitempty"`
}

type Calculator struct {
	Source  engine.Address
	Quoter  LiveQuoter
	Logger  *otelzap.Logger
	Tracer  trace.Tracer
	Metrics *telemetry.Metrics
	// Timeout is the whole-run ceiling for one live quote; past it the
	// static fallback is used even if the engine is still working.
	Timeout time.Duration
	// Transit overrides DefaultTransitTimes when non-nil.
	Transit map[string]TransitRange
}

// Compute resolves a shipping cost. With useLive false or no destination it
// is a pure lookup of the stored static price. With useLive true it runs
// the interaction engine and falls back to the static price on any failure,
// including panics and timeouts; no live-path error ever reaches the caller.
func (c *Calculator) Compute(ctx context.Context, input Input, dest *engine.Address, useLive bool) Result {
	if c.Tracer != nil {
		var span trace.Span
		ctx, span = c.Tracer.Start(ctx, "shipping.Compute")
		defer span.End()
	}
	result := c.staticResult(input)
	if !useLive || dest == nil {
		return result
	}

	outcome, err := c.runLive(ctx, input, *dest)
	if err != nil {
		return c.fallback(result, err.Error())
	}
	if !outcome.Success {
		detail := string(outcome.ErrorKind)
		if outcome.ErrorDetail != "" {
			detail = fmt.Sprintf("%s: %s", outcome.ErrorKind, outcome.ErrorDetail)
		}
		return c.fallback(result, detail)
	}
	avg, ok := engine.Average(outcome.Quotes)
	if !ok {
		return c.fallback(result, "live quote returned no carrier rates")
	}

	result.TotalCost = round2(avg)
	result.LiveQuote = &LiveQuoteData{
		QuoteURL:     outcome.QuoteURL,
		AveragePrice: round2(avg),
		Quotes:       outcome.Quotes,
		CapturedAt:   outcome.CapturedAt,
	}
	c.logger().Info("Live freight quote used",
		zap.Float64("average_price", result.TotalCost),
		zap.Int("carriers", len(outcome.Quotes)),
		zap.String("quote_url", outcome.QuoteURL),
	)
	return result
}

// BatchItem pairs one input with its destination for fan-out quoting.
type BatchItem struct {
	Input       Input
	Destination *engine.Address
	UseLive     bool
}

// ComputeBatch resolves several shipping costs concurrently. Each live run
// owns an isolated browser; no page state is shared between requests.
func (c *Calculator) ComputeBatch(ctx context.Context, items []BatchItem) []Result {
	results := make([]Result, len(items))
	g, ctx := errgroup.WithContext(ctx)
	for i, item := range items {
		g.Go(func() error {
			results[i] = c.Compute(ctx, item.Input, item.Destination, item.UseLive)
			return nil
		})
	}
	g.Wait()
	return results
}

// runLive executes one engine run under the configured ceiling, converting
// panics and timeouts into plain errors for the fallback path.
func (c *Calculator) runLive(ctx context.Context, input Input, dest engine.Address) (engine.QuoteOutcome, error) {
	if c.Quoter == nil {
		return engine.QuoteOutcome{}, fmt.Errorf("no live quoter configured")
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	req := engine.QuoteRequest{
		Source:      c.Source,
		Destination: dest,
		Packages: []engine.PackageSpec{{
			Name:     input.Dimensions.Name,
			Type:     input.Dimensions.Type,
			Quantity: input.Dimensions.Quantity,
			WeightKg: input.Dimensions.WeightKg,
			LengthCm: input.Dimensions.LengthCm,
			WidthCm:  input.Dimensions.WidthCm,
			HeightCm: input.Dimensions.HeightCm,
		}},
	}

	done := make(chan engine.QuoteOutcome, 1)
	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				errCh <- fmt.Errorf("live quote panicked: %v", rec)
			}
		}()
		done <- c.Quoter.Quote(ctx, req)
	}()

	select {
	case outcome := <-done:
		return outcome, nil
	case err := <-errCh:
		return engine.QuoteOutcome{}, err
	case <-ctx.Done():
		return engine.QuoteOutcome{}, fmt.Errorf("live quote timed out: %w", ctx.Err())
	}
}

func (c *Calculator) staticResult(input Input) Result {
	d := input.Dimensions
	volume := d.LengthCm * d.WidthCm * d.HeightCm / 1_000_000
	qty := d.Quantity
	if qty < 1 {
		qty = 1
	}
	return Result{
		TotalCost:    round2(d.StaticPriceUSD),
		TransitTime:  c.transitFor(input.Method),
		Method:       input.Method,
		ServiceLevel: input.ServiceLevel,
		PackageType:  input.PackageType,
		VolumeCbm:    round4(volume * float64(qty)),
		WeightKg:     round2(d.WeightKg * float64(qty)),
	}
}

func (c *Calculator) fallback(static Result, reason string) Result {
	c.Metrics.StaticFallback()
	c.logger().Warn("Live freight quote unavailable, using static price",
		zap.String("reason", reason),
		zap.Float64("static_price", static.TotalCost),
	)
	static.LiveQuoteError = reason
	return static
}

func (c *Calculator) transitFor(method string) TransitRange {
	table := c.Transit
	if table == nil {
		table = DefaultTransitTimes
	}
	return table[method]
}

func (c *Calculator) logger() *otelzap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return telemetry.NopLogger()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
