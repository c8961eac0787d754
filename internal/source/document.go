package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/eduair94/gastos-gub-uy-sub000/internal/domain"
)

// Number accepts a JSON number or a numeric string. Anything else,
// including NaN and infinities, decodes as absent instead of failing the
// whole document.
type Number struct {
	Value float64
	Valid bool
}

func (n *Number) UnmarshalJSON(b []byte) error {
	*n = Number{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		n.set(strconv.ParseFloat(s, 64))
		return nil
	}
	n.set(strconv.ParseFloat(string(b), 64))
	return nil
}

func (n *Number) set(v float64, err error) {
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	*n = Number{Value: v, Valid: true}
}

func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

func (n Number) ptr() *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Value
	return &v
}

// Text accepts a JSON string or number.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*t = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(strings.TrimSpace(s))
		return nil
	}
	*t = Text(string(b))
	return nil
}

// ReleaseDocument is the validated shape of an upstream OCDS release.
type ReleaseDocument struct {
	ID             Text       `json:"id"`
	OCID           Text       `json:"ocid"`
	Date           string     `json:"date"`
	Tag            []string   `json:"tag"`
	InitiationType string     `json:"initiationType"`
	Language       string     `json:"language"`
	Parties        []PartyDoc `json:"parties"`
	Buyer          *OrgRefDoc `json:"buyer"`
	Tender         *TenderDoc `json:"tender"`
	Awards         []AwardDoc `json:"awards"`
}

type PartyDoc struct {
	ID         Text           `json:"id"`
	Name       string         `json:"name"`
	Roles      []string       `json:"roles"`
	Identifier *IdentifierDoc `json:"identifier"`
}

type IdentifierDoc struct {
	Scheme    string `json:"scheme"`
	ID        Text   `json:"id"`
	LegalName string `json:"legalName"`
}

type OrgRefDoc struct {
	ID   Text   `json:"id"`
	Name string `json:"name"`
}

type TenderDoc struct {
	ID                       Text       `json:"id"`
	Title                    string     `json:"title"`
	Description              string     `json:"description"`
	Status                   string     `json:"status"`
	ProcurementMethod        string     `json:"procurementMethod"`
	ProcurementMethodDetails string     `json:"procurementMethodDetails"`
	MainProcurementCategory  string     `json:"mainProcurementCategory"`
	TenderPeriod             *PeriodDoc `json:"tenderPeriod"`
	Value                    *ValueDoc  `json:"value"`
	Items                    []ItemDoc  `json:"items"`
}

type AwardDoc struct {
	ID        Text        `json:"id"`
	Title     string      `json:"title"`
	Status    string      `json:"status"`
	Date      string      `json:"date"`
	Value     *ValueDoc   `json:"value"`
	Suppliers []OrgRefDoc `json:"suppliers"`
	Items     []ItemDoc   `json:"items"`
}

type ItemDoc struct {
	ID             Text               `json:"id"`
	Description    string             `json:"description"`
	Quantity       Number             `json:"quantity"`
	Unit           *UnitDoc           `json:"unit"`
	Classification *ClassificationDoc `json:"classification"`
}

type UnitDoc struct {
	Name  string    `json:"name"`
	Value *ValueDoc `json:"value"`
}

type ClassificationDoc struct {
	Scheme      string `json:"scheme"`
	ID          Text   `json:"id"`
	Description string `json:"description"`
}

type ValueDoc struct {
	Amount   Number `json:"amount"`
	Currency string `json:"currency"`
}

type PeriodDoc struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

type releasePackage struct {
	Releases []ReleaseDocument `json:"releases"`
}

// DecodeRelease accepts either a bare release or a release package. For
// a package, the release whose id equals wantID is preferred, else the
// last one (the most recent in OCDS ordering).
func DecodeRelease(raw []byte, wantID string) (*ReleaseDocument, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("decode release: %w", err)
	}

	if _, ok := probe["releases"]; ok {
		var pkg releasePackage
		if err := json.Unmarshal(raw, &pkg); err != nil {
			return nil, fmt.Errorf("decode release package: %w", err)
		}
		if len(pkg.Releases) == 0 {
			return nil, fmt.Errorf("decode release package: no releases")
		}
		for i := range pkg.Releases {
			if wantID != "" && string(pkg.Releases[i].ID) == wantID {
				return &pkg.Releases[i], nil
			}
		}
		return &pkg.Releases[len(pkg.Releases)-1], nil
	}

	var doc ReleaseDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode release: %w", err)
	}
	return &doc, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
}

// ParseTime normalizes the date formats seen upstream to UTC. Unparseable
// or empty values yield nil.
func ParseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}

// ToRecord maps the document onto the stored record shape. Buyer and
// supplier resolution, amounts and source metadata are left to the caller.
func (d *ReleaseDocument) ToRecord() *domain.ReleaseRecord {
	rec := &domain.ReleaseRecord{
		ID:             string(d.ID),
		OCID:           string(d.OCID),
		Date:           ParseTime(d.Date),
		Tag:            d.Tag,
		InitiationType: d.InitiationType,
		Language:       d.Language,
	}

	for _, p := range d.Parties {
		party := domain.Party{ID: string(p.ID), Name: p.Name, Roles: p.Roles}
		if p.Identifier != nil {
			party.Identifier = &domain.Identifier{
				Scheme:    p.Identifier.Scheme,
				ID:        string(p.Identifier.ID),
				LegalName: p.Identifier.LegalName,
			}
		}
		rec.Parties = append(rec.Parties, party)
	}

	if d.Buyer != nil && (d.Buyer.ID != "" || d.Buyer.Name != "") {
		rec.Buyer = &domain.OrgRef{ID: string(d.Buyer.ID), Name: d.Buyer.Name}
	}

	if t := d.Tender; t != nil {
		rec.Tender = &domain.Tender{
			ID:                      string(t.ID),
			Title:                   t.Title,
			Description:             t.Description,
			Status:                  t.Status,
			ProcurementMethod:       t.ProcurementMethod,
			ProcurementMethodDetail: t.ProcurementMethodDetails,
			MainCategory:            t.MainProcurementCategory,
			Value:                   t.Value.toValue(),
			Items:                   toItems(t.Items),
		}
		if t.TenderPeriod != nil {
			rec.Tender.TenderPeriod = &domain.DateRange{
				StartDate: ParseTime(t.TenderPeriod.StartDate),
				EndDate:   ParseTime(t.TenderPeriod.EndDate),
			}
		}
	}

	for _, a := range d.Awards {
		award := domain.Award{
			ID:     string(a.ID),
			Title:  a.Title,
			Status: a.Status,
			Date:   ParseTime(a.Date),
			Value:  a.Value.toValue(),
			Items:  toItems(a.Items),
		}
		for _, s := range a.Suppliers {
			award.Suppliers = append(award.Suppliers, domain.OrgRef{ID: string(s.ID), Name: s.Name})
		}
		rec.Awards = append(rec.Awards, award)
	}

	return rec
}

func (v *ValueDoc) toValue() *domain.Value {
	if v == nil || (!v.Amount.Valid && v.Currency == "") {
		return nil
	}
	return &domain.Value{Amount: v.Amount.ptr(), Currency: strings.ToUpper(strings.TrimSpace(v.Currency))}
}

func toItems(items []ItemDoc) []domain.Item {
	if len(items) == 0 {
		return nil
	}
	out := make([]domain.Item, 0, len(items))
	for _, it := range items {
		item := domain.Item{
			ID:          string(it.ID),
			Description: it.Description,
			Quantity:    it.Quantity.ptr(),
		}
		if it.Unit != nil {
			item.Unit = &domain.Unit{Name: it.Unit.Name, Value: it.Unit.Value.toValue()}
		}
		if c := it.Classification; c != nil {
			item.Class = &domain.Classification{Scheme: c.Scheme, ID: string(c.ID), Description: c.Description}
		}
		out = append(out, item)
	}
	return out
}
