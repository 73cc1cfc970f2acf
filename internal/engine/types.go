package engine

import (
	"errors"
	"fmt"
	"time"
)

type Address struct {
	Company     string `json:"company,omitempty"`
	Street      string `json:"street"`
	City        string `json:"city"`
	State       string `json:"state"`
	PostalCode  string `json:"postalCode"`
	CountryCode string `json:"countryCode"`
}

type PackageType string

const (
	PackagePallet PackageType = "pallet"
	PackageBox    PackageType = "box"
)

// PackageSpec is immutable once constructed; the engine never mutates it.
type PackageSpec struct {
	Name              string      `json:"name"`
	Type              PackageType `json:"type"`
	Quantity          int         `json:"quantity"`
	WeightKg          float64     `json:"weightKg"`
	LengthCm          float64     `json:"lengthCm"`
	WidthCm           float64     `json:"widthCm"`
	HeightCm          float64     `json:"heightCm"`
	InsuranceValueUSD float64     `json:"insuranceValueUsd,omitempty"`
}

type QuoteRequest struct {
	Source            Address       `json:"sourceAddress"`
	Destination       Address       `json:"destinationAddress"`
	Packages          []PackageSpec `json:"packages"`
	InsuranceRequired bool          `json:"insuranceRequired"`
}

func (r QuoteRequest) Validate() error {
	if len(r.Packages) == 0 {
		return errors.New("at least one package is required")
	}
	for i, pkg := range r.Packages {
		if pkg.Quantity < 1 {
			return fmt.Errorf("package %d: quantity must be at least 1", i)
		}
		if pkg.WeightKg <= 0 || pkg.LengthCm <= 0 || pkg.WidthCm <= 0 || pkg.HeightCm <= 0 {
			return fmt.Errorf("package %d: weight and dimensions must be positive", i)
		}
		if pkg.Type != PackagePallet && pkg.Type != PackageBox {
			return fmt.Errorf("package %d: unknown package type %q", i, pkg.Type)
		}
	}
	return nil
}

// CarrierQuote is one scraped result row. Prices are USD.
type CarrierQuote struct {
	Carrier     string  `json:"carrier"`
	Service     string  `json:"service"`
	Price       float64 `json:"price"`
	TransitTime string  `json:"transitTime"`
	Schedule    string  `json:"schedule"`
}

// QuoteOutcome is the engine's return value. Success=false implies an empty
// quote list and a populated ErrorKind; success with zero quotes is valid
// (the site may return no matching carriers after filtering).
type QuoteOutcome struct {
	Success     bool           `json:"success"`
	QuoteURL    string         `json:"quoteUrl,omitempty"`
	Quotes      []CarrierQuote `json:"quotes,omitempty"`
	ErrorKind   ErrorKind      `json:"errorKind,omitempty"`
	ErrorDetail string         `json:"errorDetail,omitempty"`
	FinalState  State          `json:"finalState"`
	RunID       string         `json:"runId,omitempty"`
	CapturedAt  time.Time      `json:"capturedAt"`
}

// State names the engine-level pipeline position. Transitions are
// one-directional; the wizard UI does not support stepping backward within
// one run.
type State string

const (
	StateIdle               State = "idle"
	StateLoggingIn          State = "logging_in"
	StateFillingOrigin      State = "filling_origin"
	StateFillingDestination State = "filling_destination"
	StateFillingCargo       State = "filling_cargo"
	StateFillingGoods       State = "filling_goods"
	StateSubmitting         State = "submitting"
	StateAwaitingResults    State = "awaiting_results"
	StateFilteringResults   State = "filtering_results"
	StateExtractingResults  State = "extracting_results"
	StateDone               State = "done"
	StateAborted            State = "aborted"
)

type stageStatus int

const (
	stageCompleted stageStatus = iota
	stageSkipped
	stageFailedRecoverable
	stageFailedFatal
)

// StageResult tags one stage handler's outcome and decides whether the
// pipeline continues or aborts.
type StageResult struct {
	Status stageStatus
	Detail string
	Kind   ErrorKind
	Err    error
}

func completed() StageResult {
	return StageResult{Status: stageCompleted}
}

func skipped(detail string) StageResult {
	return StageResult{Status: stageSkipped, Detail: detail}
}

func recoverable(detail string, err error) StageResult {
	return StageResult{Status: stageFailedRecoverable, Detail: detail, Kind: KindStageTimeout, Err: err}
}

func fatal(kind ErrorKind, detail string, err error) StageResult {
	return StageResult{Status: stageFailedFatal, Detail: detail, Kind: kind, Err: err}
}
