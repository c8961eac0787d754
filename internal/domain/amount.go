package domain

import "time"

// CalculationVersion identifies the current amount algorithm. Stored
// summaries with any other version are recomputed.
const CalculationVersion = 2

// AmountSummary is the derived monetary aggregate embedded in a record.
type AmountSummary struct {
	TotalAmounts         map[string]float64 `json:"totalAmounts" bson:"totalAmounts"`
	TotalItems           int                `json:"totalItems" bson:"totalItems"`
	Currencies           []string           `json:"currencies" bson:"currencies"`
	HasAmounts           bool               `json:"hasAmounts" bson:"hasAmounts"`
	PrimaryAmount        float64            `json:"primaryAmount" bson:"primaryAmount"`
	PrimaryCurrency      string             `json:"primaryCurrency" bson:"primaryCurrency"`
	OriginalBaseAmount   float64            `json:"originalBaseAmount" bson:"originalBaseAmount"`
	HasConvertedAmounts  bool               `json:"hasConvertedAmounts" bson:"hasConvertedAmounts"`
	Version              int                `json:"version" bson:"version"`
	UpdatedAt            time.Time          `json:"updatedAt" bson:"updatedAt"`
	ExchangeRateDate     *time.Time         `json:"exchangeRateDate,omitempty" bson:"exchangeRateDate,omitempty"`
	SpecialUnitRate      *float64           `json:"specialUnitRate,omitempty" bson:"specialUnitRate,omitempty"`
	WasVersionUpdate     bool               `json:"wasVersionUpdate,omitempty" bson:"wasVersionUpdate,omitempty"`
	PreviousAmount       *float64           `json:"previousAmount,omitempty" bson:"previousAmount,omitempty"`
	UnresolvedCurrencies []string           `json:"unresolvedCurrencies,omitempty" bson:"unresolvedCurrencies,omitempty"`
}

// CurrencyRate holds both directions against the base currency.
// From converts base to the currency, To converts the currency to base.
type CurrencyRate struct {
	From float64 `json:"from"`
	To   float64 `json:"to"`
}

// RateSnapshot is the rate table used for one run. A nil map or nil
// SpecialUnitRate means that source was unavailable.
type RateSnapshot struct {
	BaseCurrency    string                  `json:"baseCurrency"`
	Rates           map[string]CurrencyRate `json:"rates"`
	LastUpdate      *time.Time              `json:"lastUpdate,omitempty"`
	SpecialUnitRate *float64                `json:"specialUnitRate,omitempty"`
}

// RateToBase returns the live currency-to-base rate when usable.
func (s RateSnapshot) RateToBase(currency string) (float64, bool) {
	if s.Rates == nil {
		return 0, false
	}
	r, ok := s.Rates[currency]
	if !ok || r.To <= 0 {
		return 0, false
	}
	return r.To, true
}

// NeedsUpdate reports whether a stored record must have its amount
// recomputed under the current calculation version.
func NeedsUpdate(r *ReleaseRecord) bool {
	if !r.HasItemAmounts() {
		return false
	}
	return r.Amount == nil || r.Amount.Version != CalculationVersion
}
