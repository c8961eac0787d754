package rates

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed fallback_rates.yaml
var embeddedFallback []byte

// FallbackTable holds static currency-to-base rates.
type FallbackTable struct {
	BaseCurrency string             `yaml:"base_currency"`
	Updated      string             `yaml:"updated"`
	Rates        map[string]float64 `yaml:"rates"`
}

// DefaultFallback returns the table compiled into the binary.
func DefaultFallback() *FallbackTable {
	t, err := ParseFallback(embeddedFallback)
	if err != nil {
		panic(fmt.Sprintf("embedded fallback rates are invalid: %v", err))
	}
	return t
}

// LoadFallback reads a table from path, or returns the embedded table
// when path is empty.
func LoadFallback(path string) (*FallbackTable, error) {
	if path == "" {
		return DefaultFallback(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fallback rates: %w", err)
	}
	return ParseFallback(data)
}

// ParseFallback decodes a YAML fallback rate table.
func ParseFallback(data []byte) (*FallbackTable, error) {
	var t FallbackTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse fallback rates: %w", err)
	}
	if t.BaseCurrency == "" {
		return nil, fmt.Errorf("fallback rates: base_currency is required")
	}
	normalized := make(map[string]float64, len(t.Rates))
	for cur, rate := range t.Rates {
		if rate <= 0 {
			return nil, fmt.Errorf("fallback rates: non-positive rate for %s", cur)
		}
		normalized[strings.ToUpper(cur)] = rate
	}
	t.Rates = normalized
	return &t, nil
}

// Rate returns the static currency-to-base rate.
func (t *FallbackTable) Rate(currency string) (float64, bool) {
	if t == nil {
		return 0, false
	}
	r, ok := t.Rates[strings.ToUpper(currency)]
	return r, ok
}
