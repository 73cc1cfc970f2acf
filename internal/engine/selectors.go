package engine

// Every CSS selector, visible-text match, and positional input slot the
// pipeline depends on is declared here. The target site exposes no API and
// few stable identifiers, so when its markup or wording drifts the fix
// should be a one-line change in this file, not a hunt through the stages.

const (
	DefaultBaseURL = "https://ship.freightos.com/"

	selCategoryOrigin      = `[data-test-id="CategoryWrapper-origin"]`
	selCategoryDestination = `[data-test-id="CategoryWrapper-destination"]`
	selCategoryLoad        = `[data-test-id="CategoryWrapper-load"]`
	selCategoryGoods       = `[data-test-id="CategoryWrapper-goods"]`

	// fmt pattern; %s is "origin" or "destination"
	selAddressSelectFmt = `[data-test-id="%s-address-select"]`

	// Multiple instances of the search field can be mounted at once; only
	// the one inside the open dropdown is interactable, so these are always
	// resolved through the visibility-filtering page primitives.
	selSearchField  = `.ant-select-search__field`
	selDropdownItem = `.ant-select-dropdown-menu-item`

	selSectionDone = `[data-test-id="section-footer-done-btn"]`

	selGoodsValue          = `[data-test-id="goods-section-value"]`
	selGoodsTimeframe      = `[data-test-id="goods-section-timeframe"]`
	selGoodsTimeframeReady = `[data-test-id="goods-section-timeframe-ready-now"]`

	selLoginEmail    = `input[type="email"], input[placeholder*="email" i]`
	selLoginPassword = `input[type="password"], input[placeholder*="password" i]`

	selModalClose = `.ant-modal-close`

	selCheckboxWrapper = `.ant-checkbox-wrapper`

	selQuoteRow     = `[data-quote-id]`
	selTransitTime  = `[data-test-id="transit-time"]`
	selPrice        = `[data-test-id="price"] .price`
	selPriceDecimal = `[data-test-id="price"] .decimals`
	selVendorLabel  = `[data-test-id="vendor-label"]`
	selEstArrival   = `[data-test-id="est-arrival"]`
	selEstDeparture = `[data-test-id="est-departure"]`
)

// Visible-text bindings. These literal strings are part of the contract with
// the target UI; a wording change there is a one-line fix here.
const (
	textLoginNav        = "Login"
	textLoginSubmit     = "Log in"
	textLooseCargo      = "Loose Cargo"
	textPallets         = "Pallets"
	textConfirm         = "Confirm"
	textConfirmServices = "Confirm Services & Get Results"
)

// submitCandidates is the ordered list of submit controls tried in turn; a
// disabled control is never clicked.
var submitCandidates = []string{
	`[data-test-id="search-button"]`,
	`button[type="submit"]`,
	"text=Get Quote",
	"text=Submit",
	"text=Calculate",
}

// loginIndicators suggest an authenticated session when present. Best
// effort only; guest quoting still works.
var loginIndicators = []string{
	`.user-menu`,
	`[data-test-id="user-menu"]`,
	`.header-user`,
}

// cargoSlot maps logical load fields to their position among the numeric,
// non-read-only inputs in DOM order. Ordered-slot binding is imposed by the
// target UI exposing no stable field identifiers.
type cargoSlot int

const (
	slotQuantity cargoSlot = 0
	slotLength   cargoSlot = 1
	slotWidth    cargoSlot = 2
	slotHeight   cargoSlot = 3
)

// The weight input is addressed from the end of the same slot sequence.
const slotWeightFromEnd = 0

const selNumericInput = `input[type="number"]:not([readonly])`

// jsToggleSellerFilter checks the filter checkbox whose label text equals
// the given seller name. An already-checked box is left alone: toggling at
// the UI level would deselect it.
const jsToggleSellerFilter = `(sellerName) => {
  const labels = Array.from(document.querySelectorAll('.ant-checkbox-wrapper'));
  const sellerLabel = labels.find(label => {
    const filterName = label.querySelector('.filter-name span');
    return filterName && filterName.textContent.trim() === sellerName;
  });
  if (sellerLabel) {
    const checkbox = sellerLabel.querySelector('input[type="checkbox"]');
    if (!checkbox) {
      return false;
    }
    if (!checkbox.checked) {
      sellerLabel.click();
    }
    return true;
  }
  return false;
}`

// jsExtractQuoteRows pulls the raw strings out of every result row. Price
// parsing happens Go-side so a malformed row can be dropped without losing
// the rest.
const jsExtractQuoteRows = `() => {
  const rows = [];
  document.querySelectorAll('[data-quote-id]').forEach(element => {
    const text = (sel) => {
      const el = element.querySelector(sel);
      return el && el.textContent ? el.textContent.trim() : "";
    };
    const priceEl = element.querySelector('[data-test-id="price"] .price');
    rows.push({
      quoteId: element.getAttribute('data-quote-id') || "",
      vendor: text('[data-test-id="vendor-label"]'),
      transitTime: text('[data-test-id="transit-time"]'),
      priceTitle: priceEl ? (priceEl.getAttribute('title') || "") : "",
      priceWhole: priceEl && priceEl.textContent ? priceEl.textContent.trim() : "",
      priceDecimals: text('[data-test-id="price"] .decimals'),
      departure: text('[data-test-id="est-departure"]'),
      arrival: text('[data-test-id="est-arrival"]'),
    });
  });
  return rows;
}`
