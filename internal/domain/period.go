package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Period is the publication unit of the portal index: a calendar month,
// or a whole year when Month is zero.
type Period struct {
	Year  int `json:"year"`
	Month int `json:"month,omitempty"`
}

// MonthPeriod returns the period for the given year and month.
func MonthPeriod(year int, month time.Month) Period {
	return Period{Year: year, Month: int(month)}
}

// YearPeriod returns a year-only period.
func YearPeriod(year int) Period {
	return Period{Year: year}
}

// PeriodOf returns the month period containing t in t's location.
func PeriodOf(t time.Time) Period {
	return MonthPeriod(t.Year(), t.Month())
}

// ParsePeriod accepts "2024" or "2024-03".
func ParsePeriod(s string) (Period, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) == 0 || len(parts) > 2 {
		return Period{}, fmt.Errorf("invalid period %q", s)
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil || year < 1900 {
		return Period{}, fmt.Errorf("invalid period year %q", s)
	}
	if len(parts) == 1 {
		return YearPeriod(year), nil
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil || month < 1 || month > 12 {
		return Period{}, fmt.Errorf("invalid period month %q", s)
	}
	return Period{Year: year, Month: month}, nil
}

func (p Period) IsYearOnly() bool {
	return p.Month == 0
}

// Key is the stable string form stored on records ("2024-03" or "2024").
func (p Period) Key() string {
	if p.IsYearOnly() {
		return fmt.Sprintf("%04d", p.Year)
	}
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// Path is the index path segment ("2024/03" or "2024").
func (p Period) Path() string {
	if p.IsYearOnly() {
		return fmt.Sprintf("%d", p.Year)
	}
	return fmt.Sprintf("%d/%02d", p.Year, p.Month)
}

func (p Period) String() string {
	return p.Key()
}

// Previous returns the preceding month, or the preceding year for a
// year-only period.
func (p Period) Previous() Period {
	if p.IsYearOnly() {
		return YearPeriod(p.Year - 1)
	}
	if p.Month == 1 {
		return Period{Year: p.Year - 1, Month: 12}
	}
	return Period{Year: p.Year, Month: p.Month - 1}
}

// Lookback returns n periods ending at p, oldest first.
func (p Period) Lookback(n int) []Period {
	if n < 1 {
		n = 1
	}
	out := make([]Period, n)
	cur := p
	for i := n - 1; i >= 0; i-- {
		out[i] = cur
		cur = cur.Previous()
	}
	return out
}
