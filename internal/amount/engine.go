// Package amount computes the base-currency summary of a release's awards.
package amount

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/eduair94/gastos-gub-uy-sub000/internal/domain"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/rates"
)

// Options tune a single computation. ComputedAt is stamped on the summary
// as is, so callers control the clock.
type Options struct {
	IncludeVersionInfo bool
	WasVersionUpdate   bool
	PreviousAmount     *float64
	ComputedAt         time.Time
}

// Engine converts award amounts to the base currency. It performs no I/O.
type Engine struct {
	fallback    *rates.FallbackTable
	specialUnit string
}

// NewEngine returns an engine that falls back to the given table when a live rate is missing.
func NewEngine(fallback *rates.FallbackTable, specialUnit string) *Engine {
	if fallback == nil {
		fallback = rates.DefaultFallback()
	}
	if specialUnit == "" {
		specialUnit = "UI"
	}
	return &Engine{fallback: fallback, specialUnit: strings.ToUpper(specialUnit)}
}

type accumulator struct {
	totals     map[string]float64
	unresolved map[string]struct{}
	converted  float64
	baseOnly   float64
	items      int
}

// Compute builds the AmountSummary for awards under snap.
func (e *Engine) Compute(awards []domain.Award, snap domain.RateSnapshot, opts Options) domain.AmountSummary {
	base := strings.ToUpper(snap.BaseCurrency)
	if base == "" {
		base = e.fallback.BaseCurrency
	}

	acc := &accumulator{
		totals:     make(map[string]float64),
		unresolved: make(map[string]struct{}),
	}

	for _, award := range awards {
		for _, item := range award.Items {
			unitAmount, currency, ok := item.UnitAmount()
			if !ok || !finite(unitAmount) || unitAmount <= 0 {
				continue
			}
			qty := 1.0
			if item.Quantity != nil {
				if !finite(*item.Quantity) {
					continue
				}
				if *item.Quantity > 0 {
					qty = *item.Quantity
				}
			}
			if e.add(acc, unitAmount*qty, currency, base, snap) {
				acc.items++
			}
		}

		if award.Value != nil && award.Value.Amount != nil {
			if v := *award.Value.Amount; finite(v) && v > 0 {
				e.add(acc, v, award.Value.Currency, base, snap)
			}
		}
	}

	summary := domain.AmountSummary{
		TotalAmounts:        acc.totals,
		TotalItems:          acc.items,
		Currencies:          sortedKeys(acc.totals),
		HasAmounts:          len(acc.totals) > 0,
		PrimaryAmount:       round2(acc.converted),
		PrimaryCurrency:     base,
		OriginalBaseAmount:  round2(acc.baseOnly),
		HasConvertedAmounts: acc.converted > acc.baseOnly,
		Version:             domain.CalculationVersion,
		UpdatedAt:           opts.ComputedAt,
		ExchangeRateDate:    snap.LastUpdate,
		SpecialUnitRate:     snap.SpecialUnitRate,
	}
	if len(acc.unresolved) > 0 {
		summary.UnresolvedCurrencies = sortedSet(acc.unresolved)
	}
	if opts.IncludeVersionInfo {
		summary.WasVersionUpdate = opts.WasVersionUpdate
		summary.PreviousAmount = opts.PreviousAmount
	}
	return summary
}

// add folds one amount into acc. Amounts that are not finite after
// conversion are dropped and reported as false.
func (e *Engine) add(acc *accumulator, amount float64, currency, base string, snap domain.RateSnapshot) bool {
	if !finite(amount) {
		return false
	}
	cur := strings.ToUpper(strings.TrimSpace(currency))
	if cur == "" {
		cur = base
	}

	rate := 1.0
	resolved := true
	if cur != base {
		rate, resolved = e.rateToBase(cur, snap)
		if !resolved {
			rate = 1
		}
	}
	converted := amount * rate
	if !finite(converted) || !finite(acc.totals[cur]+amount) || !finite(acc.converted+converted) {
		return false
	}

	acc.totals[cur] += amount
	acc.converted += converted
	if cur == base {
		acc.baseOnly += amount
	} else if !resolved {
		acc.unresolved[cur] = struct{}{}
	}
	return true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// rateToBase resolves live rates first, then the static table.
func (e *Engine) rateToBase(currency string, snap domain.RateSnapshot) (float64, bool) {
	if currency == e.specialUnit {
		if snap.SpecialUnitRate != nil && *snap.SpecialUnitRate > 0 {
			return *snap.SpecialUnitRate, true
		}
		return e.fallback.Rate(currency)
	}
	if r, ok := snap.RateToBase(currency); ok {
		return r, true
	}
	return e.fallback.Rate(currency)
}

func round2(v float64) float64 {
	scaled := v * 100
	if !finite(scaled) {
		return v
	}
	return math.Round(scaled) / 100
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedSet(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
