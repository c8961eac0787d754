package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Party roles used to resolve convenience references.
const (
	RoleBuyer           = "buyer"
	RoleProcuringEntity = "procuringEntity"
	RoleSupplier        = "supplier"
	RoleTenderer        = "tenderer"
)

// ReleaseDescriptor is a single entry discovered in a period index.
// It is never persisted.
type ReleaseDescriptor struct {
	ID          string    `json:"id"`
	SourceLink  string    `json:"sourceLink"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	PublishDate time.Time `json:"publishDate"`
	GUID        string    `json:"guid,omitempty"`
	Period      Period    `json:"period"`
}

// ReleaseRecord is the normalized disclosure kept in the store, one per id.
type ReleaseRecord struct {
	ID             string         `json:"id" bson:"id"`
	OCID           string         `json:"ocid" bson:"ocid"`
	Date           *time.Time     `json:"date,omitempty" bson:"date,omitempty"`
	Tag            []string       `json:"tag,omitempty" bson:"tag,omitempty"`
	InitiationType string         `json:"initiationType,omitempty" bson:"initiationType,omitempty"`
	Language       string         `json:"language,omitempty" bson:"language,omitempty"`
	Parties        []Party        `json:"parties,omitempty" bson:"parties,omitempty"`
	Buyer          *OrgRef        `json:"buyer,omitempty" bson:"buyer,omitempty"`
	Supplier       *OrgRef        `json:"supplier,omitempty" bson:"supplier,omitempty"`
	Tender         *Tender        `json:"tender,omitempty" bson:"tender,omitempty"`
	Awards         []Award        `json:"awards,omitempty" bson:"awards,omitempty"`
	Amount         *AmountSummary `json:"amount,omitempty" bson:"amount,omitempty"`
	Source         SourceInfo     `json:"source" bson:"source"`
	ContentHash    string         `json:"contentHash" bson:"contentHash"`
}

// Party is an organization taking part in the process, tagged with its roles.
type Party struct {
	ID         string      `json:"id,omitempty" bson:"id,omitempty"`
	Name       string      `json:"name,omitempty" bson:"name,omitempty"`
	Roles      []string    `json:"roles,omitempty" bson:"roles,omitempty"`
	Identifier *Identifier `json:"identifier,omitempty" bson:"identifier,omitempty"`
}

// HasRole reports whether the party carries the given role tag.
func (p Party) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Identifier is a party's legal registration.
type Identifier struct {
	Scheme    string `json:"scheme,omitempty" bson:"scheme,omitempty"`
	ID        string `json:"id,omitempty" bson:"id,omitempty"`
	LegalName string `json:"legalName,omitempty" bson:"legalName,omitempty"`
}

// OrgRef is a lightweight reference to a party.
type OrgRef struct {
	ID   string `json:"id,omitempty" bson:"id,omitempty"`
	Name string `json:"name,omitempty" bson:"name,omitempty"`
}

// Tender is the call for bids, including the requested items.
type Tender struct {
	ID                      string     `json:"id,omitempty" bson:"id,omitempty"`
	Title                   string     `json:"title,omitempty" bson:"title,omitempty"`
	Description             string     `json:"description,omitempty" bson:"description,omitempty"`
	Status                  string     `json:"status,omitempty" bson:"status,omitempty"`
	ProcurementMethod       string     `json:"procurementMethod,omitempty" bson:"procurementMethod,omitempty"`
	ProcurementMethodDetail string     `json:"procurementMethodDetails,omitempty" bson:"procurementMethodDetails,omitempty"`
	MainCategory            string     `json:"mainProcurementCategory,omitempty" bson:"mainProcurementCategory,omitempty"`
	TenderPeriod            *DateRange `json:"tenderPeriod,omitempty" bson:"tenderPeriod,omitempty"`
	Value                   *Value     `json:"value,omitempty" bson:"value,omitempty"`
	Items                   []Item     `json:"items,omitempty" bson:"items,omitempty"`
}

// Award is a decision granting items to one or more suppliers.
type Award struct {
	ID        string     `json:"id,omitempty" bson:"id,omitempty"`
	Title     string     `json:"title,omitempty" bson:"title,omitempty"`
	Status    string     `json:"status,omitempty" bson:"status,omitempty"`
	Date      *time.Time `json:"date,omitempty" bson:"date,omitempty"`
	Value     *Value     `json:"value,omitempty" bson:"value,omitempty"`
	Suppliers []OrgRef   `json:"suppliers,omitempty" bson:"suppliers,omitempty"`
	Items     []Item     `json:"items,omitempty" bson:"items,omitempty"`
}

// Item is a line of goods or services. Quantity is nil when not published.
type Item struct {
	ID          string          `json:"id,omitempty" bson:"id,omitempty"`
	Description string          `json:"description,omitempty" bson:"description,omitempty"`
	Quantity    *float64        `json:"quantity,omitempty" bson:"quantity,omitempty"`
	Unit        *Unit           `json:"unit,omitempty" bson:"unit,omitempty"`
	Class       *Classification `json:"classification,omitempty" bson:"classification,omitempty"`
}

// UnitAmount returns the item's unit value amount and currency when present.
func (i Item) UnitAmount() (float64, string, bool) {
	if i.Unit == nil || i.Unit.Value == nil || i.Unit.Value.Amount == nil {
		return 0, "", false
	}
	return *i.Unit.Value.Amount, i.Unit.Value.Currency, true
}

// Unit names the unit of measure and its price.
type Unit struct {
	Name  string `json:"name,omitempty" bson:"name,omitempty"`
	Value *Value `json:"value,omitempty" bson:"value,omitempty"`
}

// Classification places an item in a catalogue scheme.
type Classification struct {
	Scheme      string `json:"scheme,omitempty" bson:"scheme,omitempty"`
	ID          string `json:"id,omitempty" bson:"id,omitempty"`
	Description string `json:"description,omitempty" bson:"description,omitempty"`
}

// Value is a monetary amount. Amount is nil when not published.
type Value struct {
	Amount   *float64 `json:"amount,omitempty" bson:"amount,omitempty"`
	Currency string   `json:"currency,omitempty" bson:"currency,omitempty"`
}

// DateRange is an optional start and end pair.
type DateRange struct {
	StartDate *time.Time `json:"startDate,omitempty" bson:"startDate,omitempty"`
	EndDate   *time.Time `json:"endDate,omitempty" bson:"endDate,omitempty"`
}

// SourceInfo is ingestion metadata attached by persistence.
type SourceInfo struct {
	Link       string    `json:"link,omitempty" bson:"link,omitempty"`
	Period     string    `json:"period,omitempty" bson:"period,omitempty"`
	RunID      string    `json:"runId,omitempty" bson:"runId,omitempty"`
	FetchedAt  time.Time `json:"fetchedAt" bson:"fetchedAt"`
	IngestedAt time.Time `json:"ingestedAt" bson:"ingestedAt"`
}

// HasItemAmounts reports whether any award item carries a unit amount.
func (r *ReleaseRecord) HasItemAmounts() bool {
	for _, a := range r.Awards {
		for _, it := range a.Items {
			if _, _, ok := it.UnitAmount(); ok {
				return true
			}
		}
	}
	return false
}

// Fingerprint hashes the record content, ignoring ingestion metadata and
// computation timestamps, so re-ingesting an identical upstream document
// with the same rates yields the same value.
func (r *ReleaseRecord) Fingerprint() (string, error) {
	c := *r
	c.Source = SourceInfo{}
	c.ContentHash = ""
	if r.Amount != nil {
		amt := *r.Amount
		amt.UpdatedAt = time.Time{}
		amt.WasVersionUpdate = false
		amt.PreviousAmount = nil
		c.Amount = &amt
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
