package shipping

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boothforge/freightquote/internal/engine"
)

type stubQuoter struct {
	outcome engine.QuoteOutcome
	delay   time.Duration
	panics  bool
	got     engine.QuoteRequest
}

func (s *stubQuoter) Quote(ctx context.Context, req engine.QuoteRequest) engine.QuoteOutcome {
	s.got = req
	if s.panics {
		panic("browser crashed")
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
		}
	}
	return s.outcome
}

func sampleInput() Input {
	return Input{
		Dimensions: Dimensions{
			Name:           "40x40 booth",
			Type:           engine.PackagePallet,
			Quantity:       2,
			WeightKg:       120,
			LengthCm:       100,
			WidthCm:        80,
			HeightCm:       60,
			StaticPriceUSD: 950.50,
		},
		Method:       "Ocean Freight",
		ServiceLevel: "standard",
		PackageType:  "pallet",
	}
}

func sampleDest() *engine.Address {
	return &engine.Address{City: "New York", State: "NY", CountryCode: "US", PostalCode: "10001"}
}

func TestComputeStaticPath(t *testing.T) {
	calc := &Calculator{}
	res := calc.Compute(context.Background(), sampleInput(), nil, false)

	assert.Equal(t, 950.50, res.TotalCost)
	assert.Equal(t, TransitRange{Min: 25, Max: 35}, res.TransitTime)
	assert.Equal(t, 240.0, res.WeightKg)
	assert.InDelta(t, 0.96, res.VolumeCbm, 0.0001)
	assert.Nil(t, res.LiveQuote)
	assert.Empty(t, res.LiveQuoteError)
}

func TestComputeLiveSuccessUsesMean(t *testing.T) {
	quoter := &stubQuoter{outcome: engine.QuoteOutcome{
		Success:  true,
		QuoteURL: "https://ship.freightos.com/results/abc123",
		Quotes: []engine.CarrierQuote{
			{Carrier: "Seabay", Price: 100},
			{Carrier: "UniPower", Price: 150},
			{Carrier: "Other", Price: 200},
		},
	}}
	calc := &Calculator{
		Source: engine.Address{City: "Guangzhou", CountryCode: "CN"},
		Quoter: quoter,
	}

	res := calc.Compute(context.Background(), sampleInput(), sampleDest(), true)

	assert.Equal(t, 150.0, res.TotalCost)
	require.NotNil(t, res.LiveQuote)
	assert.Equal(t, "https://ship.freightos.com/results/abc123", res.LiveQuote.QuoteURL)
	assert.Len(t, res.LiveQuote.Quotes, 3)
	assert.Empty(t, res.LiveQuoteError)

	// Request was assembled from configured source plus caller destination.
	assert.Equal(t, "Guangzhou", quoter.got.Source.City)
	assert.Equal(t, "New York", quoter.got.Destination.City)
	require.Len(t, quoter.got.Packages, 1)
	assert.Equal(t, 120.0, quoter.got.Packages[0].WeightKg)
}

func TestComputeFallsBackOnEngineFailure(t *testing.T) {
	quoter := &stubQuoter{outcome: engine.QuoteOutcome{
		Success:     false,
		ErrorKind:   engine.KindNoSubmitAvailable,
		ErrorDetail: "no enabled submit control",
	}}
	calc := &Calculator{Quoter: quoter}

	res := calc.Compute(context.Background(), sampleInput(), sampleDest(), true)

	assert.Equal(t, 950.50, res.TotalCost)
	assert.Nil(t, res.LiveQuote)
	assert.Contains(t, res.LiveQuoteError, "no_submit_available")
}

func TestComputeFallsBackOnEmptyQuotes(t *testing.T) {
	quoter := &stubQuoter{outcome: engine.QuoteOutcome{Success: true}}
	calc := &Calculator{Quoter: quoter}

	res := calc.Compute(context.Background(), sampleInput(), sampleDest(), true)

	assert.Equal(t, 950.50, res.TotalCost)
	assert.Contains(t, res.LiveQuoteError, "no carrier rates")
}

func TestComputeFallsBackOnPanic(t *testing.T) {
	calc := &Calculator{Quoter: &stubQuoter{panics: true}}

	res := calc.Compute(context.Background(), sampleInput(), sampleDest(), true)

	assert.Equal(t, 950.50, res.TotalCost)
	assert.Contains(t, res.LiveQuoteError, "panicked")
}

func TestComputeFallsBackOnTimeout(t *testing.T) {
	calc := &Calculator{
		Quoter:  &stubQuoter{delay: time.Second, outcome: engine.QuoteOutcome{Success: true}},
		Timeout: 5 * time.Millisecond,
	}

	start := time.Now()
	res := calc.Compute(context.Background(), sampleInput(), sampleDest(), true)

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 950.50, res.TotalCost)
	assert.Contains(t, res.LiveQuoteError, "timed out")
}

func TestComputeNoQuoterConfigured(t *testing.T) {
	calc := &Calculator{}

	res := calc.Compute(context.Background(), sampleInput(), sampleDest(), true)

	assert.Equal(t, 950.50, res.TotalCost)
	assert.Contains(t, res.LiveQuoteError, "no live quoter")
}

func TestComputeBatch(t *testing.T) {
	quoter := &stubQuoter{outcome: engine.QuoteOutcome{
		Success: true,
		Quotes:  []engine.CarrierQuote{{Carrier: "Seabay", Price: 300}},
	}}
	calc := &Calculator{Quoter: quoter}

	items := []BatchItem{
		{Input: sampleInput()},
		{Input: sampleInput(), Destination: sampleDest(), UseLive: true},
	}
	results := calc.ComputeBatch(context.Background(), items)

	require.Len(t, results, 2)
	assert.Equal(t, 950.50, results[0].TotalCost)
	assert.Nil(t, results[0].LiveQuote)
	assert.Equal(t, 300.0, results[1].TotalCost)
	require.NotNil(t, results[1].LiveQuote)
}

func TestTransitOverrides(t *testing.T) {
	calc := &Calculator{Transit: map[string]TransitRange{"Ocean Freight": {Min: 10, Max: 12}}}
	res := calc.Compute(context.Background(), sampleInput(), nil, false)
	assert.Equal(t, TransitRange{Min: 10, Max: 12}, res.TransitTime)
}
