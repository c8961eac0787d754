package rates

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/eduair94/gastos-gub-uy-sub000/internal/config"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/domain"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/logger"
	"github.com/go-resty/resty/v2"
)

// Provider fetches the live rate table from two independent sources.
type Provider struct {
	client         *resty.Client
	generalURL     string
	specialUnitURL string
	baseCurrency   string
	log            *logger.Logger
}

// general rates endpoint, ExchangeRate-API shape. Rates are base to currency.
type generalResponse struct {
	Result             string             `json:"result"`
	BaseCode           string             `json:"base_code"`
	TimeLastUpdateUnix int64              `json:"time_last_update_unix"`
	Rates              map[string]float64 `json:"rates"`
}

type specialUnitResponse struct {
	Fecha string  `json:"fecha"`
	Valor float64 `json:"valor"`
}

// NewProvider returns a provider for the configured live rate sources.
func NewProvider(cfg *config.RatesConfig, log *logger.Logger) *Provider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := resty.New()
	client.SetHeader("Accept", "application/json")
	client.SetTimeout(timeout)

	base := strings.ToUpper(cfg.BaseCurrency)
	if base == "" {
		base = "UYU"
	}

	return &Provider{
		client:         client,
		generalURL:     cfg.GeneralURL,
		specialUnitURL: cfg.SpecialUnitURL,
		baseCurrency:   base,
		log:            log.WithComponent("rates"),
	}
}

// Fetch never fails. A source that errors leaves its part of the
// snapshot empty and the engine falls back to the static table.
func (p *Provider) Fetch(ctx context.Context) domain.RateSnapshot {
	snap := domain.RateSnapshot{BaseCurrency: p.baseCurrency}

	rates, updated, err := p.fetchGeneral(ctx)
	if err != nil {
		p.log.WithError(err).Warn("General rate source unavailable, using fallback table")
	} else {
		snap.Rates = rates
		snap.LastUpdate = updated
	}

	unit, err := p.fetchSpecialUnit(ctx)
	if err != nil {
		p.log.WithError(err).Warn("Special unit rate source unavailable, using fallback table")
	} else {
		snap.SpecialUnitRate = &unit
	}

	p.log.WithFields(logger.Fields{
		"currencies":        len(snap.Rates),
		"special_unit_live": snap.SpecialUnitRate != nil,
	}).Info("Rate snapshot ready")

	return snap
}

func (p *Provider) fetchGeneral(ctx context.Context) (map[string]domain.CurrencyRate, *time.Time, error) {
	if p.generalURL == "" {
		return nil, nil, errSourceDisabled
	}
	var resp generalResponse
	httpResp, err := p.client.R().
		SetContext(ctx).
		SetResult(&resp).
		Get(p.generalURL)
	if err != nil {
		return nil, nil, &SourceError{Source: "general", Err: err}
	}
	if httpResp.StatusCode() != http.StatusOK {
		return nil, nil, &SourceError{Source: "general", Status: httpResp.StatusCode()}
	}
	if resp.Result != "" && resp.Result != "success" {
		return nil, nil, &SourceError{Source: "general", Detail: resp.Result}
	}
	if len(resp.Rates) == 0 {
		return nil, nil, &SourceError{Source: "general", Detail: "empty rates"}
	}

	out := make(map[string]domain.CurrencyRate, len(resp.Rates))
	for cur, r := range resp.Rates {
		if r <= 0 {
			continue
		}
		out[strings.ToUpper(cur)] = domain.CurrencyRate{From: r, To: 1 / r}
	}

	var updated *time.Time
	if resp.TimeLastUpdateUnix > 0 {
		t := time.Unix(resp.TimeLastUpdateUnix, 0).UTC()
		updated = &t
	}
	return out, updated, nil
}

func (p *Provider) fetchSpecialUnit(ctx context.Context) (float64, error) {
	if p.specialUnitURL == "" {
		return 0, errSourceDisabled
	}
	var resp specialUnitResponse
	httpResp, err := p.client.R().
		SetContext(ctx).
		SetResult(&resp).
		Get(p.specialUnitURL)
	if err != nil {
		return 0, &SourceError{Source: "special_unit", Err: err}
	}
	if httpResp.StatusCode() != http.StatusOK {
		return 0, &SourceError{Source: "special_unit", Status: httpResp.StatusCode()}
	}
	if resp.Valor <= 0 {
		return 0, &SourceError{Source: "special_unit", Detail: "non-positive value"}
	}
	return resp.Valor, nil
}
