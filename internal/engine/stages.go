package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// fillAddress drives one address section of the wizard: open the category,
// open the select that reveals the search field, type into the visible
// instance of that field, wait for the asynchronous suggestions, pick the
// first visible one, then confirm the section once its done button enables.
func (r *run) fillAddress(ctx context.Context, section string, addr Address) StageResult {
	term := r.searchTerm(addr)
	r.logger.Info("Filling address section",
		zap.String("section", section),
		zap.String("search_term", term),
	)

	var notes []string
	note := func(format string, args ...any) {
		notes = append(notes, fmt.Sprintf(format, args...))
	}

	category := selCategoryOrigin
	if section == "destination" {
		category = selCategoryDestination
	}
	if err := r.page.Click(category, clickShort); err != nil {
		note("category control not clickable: %v", err)
	}
	r.settle()

	addressSelect := fmt.Sprintf(selAddressSelectFmt, section)
	if err := r.page.WaitFor(addressSelect, r.cfg.ProbeTimeoutMs); err != nil {
		note("address select never appeared: %v", err)
		return recoverable(strings.Join(notes, "; "), err)
	}
	if err := r.page.Click(addressSelect, clickDefault); err != nil {
		note("address select not clickable: %v", err)
	}
	r.settle()

	// The page renders several same-class search inputs at once; only the
	// one inside the open dropdown accepts keystrokes, so candidates are
	// filtered by computed visibility, not DOM order.
	focused, err := r.page.FocusVisible(selSearchField)
	if err != nil {
		return fatal(KindNavigationFailure, "focusing search field", err)
	}
	if !focused {
		note("no visible search field")
		return recoverable(strings.Join(notes, "; "), nil)
	}
	if err := r.page.TypeText(term, r.cfg.TypeDelayMs); err != nil {
		return fatal(KindNavigationFailure, "typing search term", err)
	}
	r.settle()

	// Suggestions arrive from a remote lookup with unspecified latency.
	err = pollUntil(ctx, r.cfg.SuggestionAttempts, r.cfg.PollInterval, func() (bool, error) {
		return r.page.ClickFirstVisible(selDropdownItem)
	})
	switch {
	case err == nil:
	case isTimeout(err):
		note("no suggestion appeared for %q", term)
	default:
		return fatal(KindNavigationFailure, "waiting for suggestions", err)
	}

	if res := r.confirmSection(ctx); res != "" {
		note("%s", res)
	}

	if len(notes) > 0 {
		return recoverable(strings.Join(notes, "; "), nil)
	}
	return completed()
}

// confirmSection waits for the section's done button to enable, then clicks
// it, falling back to a forced click when the probe times out. Returns a
// diagnostic note on failure, empty string on success.
func (r *run) confirmSection(ctx context.Context) string {
	err := pollUntil(ctx, r.cfg.ConfirmAttempts, r.cfg.PollInterval, func() (bool, error) {
		return r.page.IsEnabled(selSectionDone)
	})
	if err == nil {
		if err := r.page.Click(selSectionDone, clickDefault); err == nil {
			r.settle()
			return ""
		}
	}
	if err := r.page.Click(selSectionDone, clickForce); err != nil {
		return fmt.Sprintf("section done button unusable: %v", err)
	}
	r.settle()
	return "section done button needed a forced click"
}

// fillCargo populates the load section. The package-type tab is matched by
// its visible text, and the numeric inputs are addressed positionally via
// the slot table; the target UI guarantees no stable identifiers for either.
func (r *run) fillCargo(ctx context.Context) StageResult {
	var notes []string
	note := func(format string, args ...any) {
		notes = append(notes, fmt.Sprintf(format, args...))
	}

	for i, pkg := range r.req.Packages {
		r.logger.Info("Adding package",
			zap.Int("index", i),
			zap.String("name", pkg.Name),
			zap.String("type", string(pkg.Type)),
		)
		if i == 0 {
			if err := r.page.Click(selCategoryLoad, clickShort); err != nil {
				note("load category not clickable: %v", err)
			}
			r.settle()
		}

		if pkg.Type == PackagePallet {
			if err := r.page.Click("text="+textLooseCargo, clickShort); err != nil {
				note("package %d: no %q tab: %v", i, textLooseCargo, err)
			}
			if err := r.page.Click("text="+textPallets, clickShort); err != nil {
				note("package %d: no %q button: %v", i, textPallets, err)
			}
			r.settle()
		}

		fills := []struct {
			slot    cargoSlot
			fromEnd bool
			value   string
			label   string
		}{
			{slotQuantity, false, strconv.Itoa(pkg.Quantity), "quantity"},
			{slotLength, false, formatDim(pkg.LengthCm), "length"},
			{slotWidth, false, formatDim(pkg.WidthCm), "width"},
			{slotHeight, false, formatDim(pkg.HeightCm), "height"},
			{slotWeightFromEnd, true, formatDim(pkg.WeightKg), "weight"},
		}
		for _, f := range fills {
			if err := r.page.FillNth(selNumericInput, int(f.slot), f.fromEnd, f.value); err != nil {
				note("package %d: filling %s: %v", i, f.label, err)
			}
		}
	}

	// The load section closes through a plain Confirm button rather than
	// the shared section footer.
	if err := r.page.Click("text="+textConfirm, clickShort); err != nil {
		note("no confirm button after load section: %v", err)
	}
	r.settle()

	if len(notes) > 0 {
		return recoverable(strings.Join(notes, "; "), nil)
	}
	return completed()
}

// fillGoods declares the shipment value and readiness timeframe, both
// required before the wizard enables submission.
func (r *run) fillGoods(ctx context.Context) StageResult {
	var notes []string
	note := func(format string, args ...any) {
		notes = append(notes, fmt.Sprintf(format, args...))
	}

	if err := r.page.Click(selCategoryGoods, clickShort); err != nil {
		note("goods category not clickable: %v", err)
		return recoverable(strings.Join(notes, "; "), err)
	}
	r.settle()

	total := 0.0
	for _, pkg := range r.req.Packages {
		total += pkg.InsuranceValueUSD
	}
	if total == 0 {
		total = r.cfg.GoodsValueDefaultUSD
	}
	if err := r.page.Fill(selGoodsValue, formatDim(total)); err != nil {
		note("goods value input missing: %v", err)
	}

	if err := r.page.Click(selGoodsTimeframe, clickShort); err != nil {
		note("timeframe dropdown not clickable: %v", err)
	} else {
		r.settle()
		if err := r.page.Click(selGoodsTimeframeReady, clickShort); err != nil {
			note("ready-now option not clickable: %v", err)
		}
	}

	if res := r.confirmSection(ctx); res != "" {
		note("%s", res)
	}

	if len(notes) > 0 {
		return recoverable(strings.Join(notes, "; "), nil)
	}
	return completed()
}

// submit tries each known submit control in order and clicks the first
// enabled one. A disabled control is never clicked. With no enabled
// candidate there is nothing downstream to usefully execute.
func (r *run) submit(ctx context.Context) StageResult {
	r.screenshot("pre-submit")
	for _, candidate := range submitCandidates {
		if strings.HasPrefix(candidate, "text=") {
			if err := r.page.Click(candidate, clickShort); err == nil {
				r.logger.Info("Submitted quote request", zap.String("control", candidate))
				r.settle()
				return completed()
			}
			continue
		}
		present, err := r.page.Exists(candidate)
		if err != nil {
			return fatal(KindNavigationFailure, "probing submit control", err)
		}
		if !present {
			continue
		}
		enabled, err := r.page.IsEnabled(candidate)
		if err != nil {
			return fatal(KindNavigationFailure, "probing submit control", err)
		}
		if !enabled {
			r.logger.Warn("Submit control present but disabled", zap.String("control", candidate))
			continue
		}
		if err := r.page.Click(candidate, clickDefault); err != nil {
			r.logger.Warn("Submit click failed", zap.String("control", candidate), zap.Error(err))
			continue
		}
		r.logger.Info("Submitted quote request", zap.String("control", candidate))
		r.settle()
		return completed()
	}
	return fatal(KindNoSubmitAvailable, "no enabled submit control", ErrNoSubmitAvailable)
}

// confirmServices acknowledges the recommended-services interstitial when
// the site shows one.
func (r *run) confirmServices(ctx context.Context) StageResult {
	if err := r.page.Click("text="+textConfirmServices, clickShort); err != nil {
		return skipped("no services confirmation shown")
	}
	r.settle()
	r.settle()
	return completed()
}

// dismissModal closes the promotional modal the results page sometimes
// opens on arrival.
func (r *run) dismissModal(ctx context.Context) StageResult {
	r.settle()
	present, err := r.page.Exists(selModalClose)
	if err != nil {
		return fatal(KindNavigationFailure, "probing results modal", err)
	}
	if !present {
		return skipped("no modal to close")
	}
	if err := r.page.Click(selModalClose, clickShort); err != nil {
		return recoverable("modal close button not clickable", err)
	}
	r.settle()
	return completed()
}

// filterSellers narrows results to the configured seller allow-list. The
// filter panel populates asynchronously, so each label gets a bounded retry.
func (r *run) filterSellers(ctx context.Context) StageResult {
	if len(r.cfg.SellerFilter) == 0 {
		return skipped("no seller filter configured")
	}
	r.settle()

	var notes []string
	for _, seller := range r.cfg.SellerFilter {
		err := pollUntil(ctx, r.cfg.FilterAttempts, r.cfg.PollInterval, func() (bool, error) {
			raw, err := r.page.Eval(jsToggleSellerFilter, seller)
			if err != nil {
				return false, err
			}
			return string(raw) == "true", nil
		})
		switch {
		case err == nil:
			r.logger.Info("Selected seller filter", zap.String("seller", seller))
			r.settle()
		case isTimeout(err):
			notes = append(notes, fmt.Sprintf("seller %q not found in filter panel", seller))
		default:
			notes = append(notes, fmt.Sprintf("seller %q filter failed: %v", seller, err))
		}
	}
	if len(notes) > 0 {
		return recoverable(strings.Join(notes, "; "), nil)
	}
	return completed()
}

// extractResults scrapes the result rows and the durable quote URL.
func (r *run) extractResults(ctx context.Context) StageResult {
	r.screenshot("post-results")

	currentURL, err := r.page.URL()
	if err == nil {
		r.quoteURL = QuoteURL(currentURL)
	}

	rows, err := extractQuoteRows(r.page)
	if err != nil {
		return StageResult{Status: stageFailedRecoverable, Detail: "result rows could not be read", Kind: KindExtractionMismatch, Err: err}
	}
	quotes, dropped := parseQuoteRows(rows)
	r.quotes = quotes
	if dropped > 0 {
		r.logger.Warn("Dropped unparsable result rows",
			zap.Int("dropped", dropped),
			zap.Int("kept", len(quotes)),
		)
		return StageResult{Status: stageFailedRecoverable, Detail: fmt.Sprintf("%d result rows failed to parse", dropped), Kind: KindExtractionMismatch}
	}
	r.logger.Info("Extracted carrier quotes", zap.Int("count", len(quotes)))
	return completed()
}

// searchTerm derives what to type into an address autocomplete. Full postal
// addresses often return zero suggestions from the site's search index, so
// the engine prefers a short locality token known to resolve: a configured
// override for the city when one exists, otherwise city, state, then postal
// code.
func (r *run) searchTerm(addr Address) string {
	city := strings.ToUpper(strings.TrimSpace(addr.City))
	for key, term := range r.cfg.SearchTermOverrides {
		if city != "" && strings.Contains(city, strings.ToUpper(key)) {
			return term
		}
	}
	switch {
	case addr.City != "":
		return addr.City
	case addr.State != "":
		return addr.State
	default:
		return addr.PostalCode
	}
}

func formatDim(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
