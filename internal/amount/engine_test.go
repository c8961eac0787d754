package amount

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/eduair94/gastos-gub-uy-sub000/internal/domain"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/rates"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }

func item(amount float64, currency string, qty *float64) domain.Item {
	return domain.Item{
		Quantity: qty,
		Unit:     &domain.Unit{Value: &domain.Value{Amount: f64(amount), Currency: currency}},
	}
}

var computedAt = time.Date(2024, 3, 1, 3, 0, 0, 0, time.UTC)

func TestCompute_USDFallbackScenario(t *testing.T) {
	engine := NewEngine(rates.DefaultFallback(), "UI")
	awards := []domain.Award{{Items: []domain.Item{item(100, "USD", f64(2))}}}

	got := engine.Compute(awards, domain.RateSnapshot{BaseCurrency: "UYU"}, Options{ComputedAt: computedAt})

	usd, _ := rates.DefaultFallback().Rate("USD")
	assert.Equal(t, map[string]float64{"USD": 200}, got.TotalAmounts)
	assert.Equal(t, 200*usd, got.PrimaryAmount)
	assert.Equal(t, 0.0, got.OriginalBaseAmount)
	assert.True(t, got.HasConvertedAmounts)
	assert.True(t, got.HasAmounts)
	assert.Equal(t, 1, got.TotalItems)
	assert.Equal(t, "UYU", got.PrimaryCurrency)
	assert.Equal(t, domain.CalculationVersion, got.Version)
	assert.Equal(t, computedAt, got.UpdatedAt)
	assert.Empty(t, got.UnresolvedCurrencies)
}

func TestCompute_Conversions(t *testing.T) {
	live := domain.RateSnapshot{
		BaseCurrency:    "UYU",
		Rates:           map[string]domain.CurrencyRate{"USD": {From: 0.025, To: 40}, "EUR": {From: 0.02, To: 50}},
		SpecialUnitRate: f64(6.5),
	}

	tests := []struct {
		name          string
		items         []domain.Item
		snap          domain.RateSnapshot
		wantPrimary   float64
		wantBase      float64
		wantConverted bool
		wantUnres     []string
	}{
		{
			name:        "base currency only",
			items:       []domain.Item{item(1000, "UYU", f64(3))},
			snap:        live,
			wantPrimary: 3000,
			wantBase:    3000,
		},
		{
			name:          "live EUR rate",
			items:         []domain.Item{item(10, "EUR", nil), item(500, "UYU", nil)},
			snap:          live,
			wantPrimary:   1000,
			wantBase:      500,
			wantConverted: true,
		},
		{
			name:          "special unit live rate",
			items:         []domain.Item{item(100, "UI", nil)},
			snap:          live,
			wantPrimary:   650,
			wantConverted: true,
		},
		{
			name:          "special unit fallback",
			items:         []domain.Item{item(100, "UI", nil)},
			snap:          domain.RateSnapshot{BaseCurrency: "UYU"},
			wantPrimary:   600,
			wantConverted: true,
		},
		{
			name:          "unknown currency is 1:1 and recorded",
			items:         []domain.Item{item(100, "XAU", nil)},
			snap:          live,
			wantPrimary:   100,
			wantConverted: true,
			wantUnres:     []string{"XAU"},
		},
		{
			name:        "non-positive quantity defaults to one",
			items:       []domain.Item{item(100, "UYU", f64(0)), item(50, "UYU", f64(-2))},
			snap:        live,
			wantPrimary: 150,
			wantBase:    150,
		},
		{
			name:        "non-positive amounts are ignored",
			items:       []domain.Item{item(0, "USD", nil), item(-10, "USD", nil)},
			snap:        live,
			wantPrimary: 0,
		},
		{
			name:        "missing currency counts as base",
			items:       []domain.Item{item(70, "", nil)},
			snap:        live,
			wantPrimary: 70,
			wantBase:    70,
		},
	}

	engine := NewEngine(rates.DefaultFallback(), "UI")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := engine.Compute([]domain.Award{{Items: tt.items}}, tt.snap, Options{ComputedAt: computedAt})
			assert.InDelta(t, tt.wantPrimary, got.PrimaryAmount, 1e-9)
			assert.InDelta(t, tt.wantBase, got.OriginalBaseAmount, 1e-9)
			assert.Equal(t, tt.wantConverted, got.HasConvertedAmounts)
			assert.Equal(t, tt.wantUnres, got.UnresolvedCurrencies)
		})
	}
}

func TestCompute_AwardLevelValue(t *testing.T) {
	engine := NewEngine(nil, "")
	awards := []domain.Award{{
		Value: &domain.Value{Amount: f64(10), Currency: "USD"},
		Items: []domain.Item{item(5, "USD", nil)},
	}}
	got := engine.Compute(awards, domain.RateSnapshot{BaseCurrency: "UYU"}, Options{})
	assert.Equal(t, 15.0, got.TotalAmounts["USD"])
	assert.Equal(t, 1, got.TotalItems)
	assert.Equal(t, 600.0, got.PrimaryAmount)
}

func TestCompute_VersionInfo(t *testing.T) {
	engine := NewEngine(nil, "")
	awards := []domain.Award{{Items: []domain.Item{item(1, "UYU", nil)}}}

	got := engine.Compute(awards, domain.RateSnapshot{}, Options{
		IncludeVersionInfo: true,
		WasVersionUpdate:   true,
		PreviousAmount:     f64(42),
	})
	assert.True(t, got.WasVersionUpdate)
	require.NotNil(t, got.PreviousAmount)
	assert.Equal(t, 42.0, *got.PreviousAmount)

	plain := engine.Compute(awards, domain.RateSnapshot{}, Options{WasVersionUpdate: true, PreviousAmount: f64(42)})
	assert.False(t, plain.WasVersionUpdate)
	assert.Nil(t, plain.PreviousAmount)
}

func randomAwards(r *rand.Rand) []domain.Award {
	currencies := []string{"UYU", "USD", "EUR", "UI", "BRL", "XYZ", ""}
	awards := make([]domain.Award, 1+r.Intn(4))
	for i := range awards {
		n := r.Intn(6)
		for j := 0; j < n; j++ {
			var qty *float64
			if r.Intn(3) > 0 {
				qty = f64(float64(r.Intn(5)))
			}
			awards[i].Items = append(awards[i].Items, item(r.Float64()*10000-500, currencies[r.Intn(len(currencies))], qty))
		}
		if r.Intn(2) == 0 {
			awards[i].Value = &domain.Value{Amount: f64(r.Float64() * 1000), Currency: currencies[r.Intn(len(currencies))]}
		}
	}
	return awards
}

func TestCompute_DeterministicAndMonotonic(t *testing.T) {
	r := rand.New(rand.NewSource(20240301))
	engine := NewEngine(rates.DefaultFallback(), "UI")
	snaps := []domain.RateSnapshot{
		{BaseCurrency: "UYU"},
		{
			BaseCurrency:    "UYU",
			Rates:           map[string]domain.CurrencyRate{"USD": {To: 39.2}, "BRL": {To: 7.7}},
			SpecialUnitRate: f64(6.1),
		},
	}

	for i := 0; i < 500; i++ {
		awards := randomAwards(r)
		snap := snaps[i%len(snaps)]
		a := engine.Compute(awards, snap, Options{ComputedAt: computedAt})
		b := engine.Compute(awards, snap, Options{ComputedAt: computedAt})
		require.Equal(t, a, b, "iteration %d", i)
		require.GreaterOrEqual(t, a.PrimaryAmount, a.OriginalBaseAmount, "iteration %d", i)
	}
}

func TestCompute_SkipsNonFiniteAmounts(t *testing.T) {
	engine := NewEngine(nil, "")
	tests := []struct {
		name string
		bad  domain.Item
	}{
		{"infinite quantity", item(10, "UYU", f64(math.Inf(1)))},
		{"nan amount", item(math.NaN(), "UYU", nil)},
		{"overflowing product", item(math.MaxFloat64, "UYU", f64(10))},
		{"overflowing conversion", item(math.MaxFloat64, "USD", nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			awards := []domain.Award{{Items: []domain.Item{tt.bad, item(50, "UYU", f64(2))}}}
			got := engine.Compute(awards, domain.RateSnapshot{BaseCurrency: "UYU"}, Options{})

			assert.Equal(t, 100.0, got.PrimaryAmount)
			assert.Equal(t, 1, got.TotalItems)
			for cur, v := range got.TotalAmounts {
				assert.False(t, math.IsInf(v, 0) || math.IsNaN(v), cur)
			}
		})
	}

	awards := []domain.Award{{
		Value: &domain.Value{Amount: f64(math.Inf(1)), Currency: "UYU"},
		Items: []domain.Item{item(7, "UYU", nil)},
	}}
	got := engine.Compute(awards, domain.RateSnapshot{BaseCurrency: "UYU"}, Options{})
	assert.Equal(t, 7.0, got.PrimaryAmount)
}
