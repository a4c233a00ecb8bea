package models

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"time"
)

// PublicationLayout is the upstream day/month/year date format.
const PublicationLayout = "02/01/2006"

// ListingRecord is one scraped award notice. Every field extracted from markup
// is optional; nil means the card did not carry it.
type ListingRecord struct {
	Reference         *string `json:"reference" bson:"reference"`
	ObjectDescription *string `json:"objet" bson:"objet"`
	Buyer             *string `json:"acheteur" bson:"acheteur"`
	PublicationDate   *string `json:"date_publication" bson:"date_publication"`
	QuoteCount        *string `json:"nombre_devis" bson:"nombre_devis"`
	IsAwarded         bool    `json:"attribue" bson:"attribue"`
	AwardedCompany    *string `json:"entreprise_attributaire" bson:"entreprise_attributaire"`
	Amount            *string `json:"montant" bson:"montant"`
}

// Ref returns the reference or "" when absent.
func (r *ListingRecord) Ref() string {
	if r == nil || r.Reference == nil {
		return ""
	}
	return *r.Reference
}

// PublishedOn parses PublicationDate. ok is false when absent or malformed.
func (r *ListingRecord) PublishedOn() (t time.Time, ok bool) {
	if r.PublicationDate == nil {
		return time.Time{}, false
	}
	t, err := time.Parse(PublicationLayout, strings.TrimSpace(*r.PublicationDate))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ContentHash fingerprints every field so sinks can tell a changed notice
// from a re-scrape of the same one.
func (r *ListingRecord) ContentHash() string {
	var b strings.Builder
	for _, f := range []*string{r.Reference, r.ObjectDescription, r.Buyer, r.PublicationDate,
		r.QuoteCount, r.AwardedCompany, r.Amount} {
		if f != nil {
			b.WriteString(*f)
		}
		b.WriteByte(0)
	}
	if r.IsAwarded {
		b.WriteByte('1')
	}
	h := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(h[:])
}

// Str is a helper for building optional fields.
func Str(s string) *string { return &s }

// Nature is one "nature of prestation" entry from the catalogue.
type Nature struct {
	ID    string `json:"id" bson:"id"`
	Label string `json:"label" bson:"label"`
}

// Facet partitions the corpus. A facet carries a nature, a day, or both.
type Facet struct {
	Nature *Nature
	Day    *time.Time
}

func NatureFacet(n Nature) Facet { return Facet{Nature: &n} }

func DayFacet(day time.Time, n *Nature) Facet {
	d := day
	return Facet{Nature: n, Day: &d}
}

// Name identifies the facet in logs and sink rows.
func (f Facet) Name() string {
	var parts []string
	if f.Nature != nil {
		parts = append(parts, f.Nature.Label)
	}
	if f.Day != nil {
		parts = append(parts, f.Day.Format("2006-01-02"))
	}
	if len(parts) == 0 {
		return "all"
	}
	return strings.Join(parts, "@")
}

// PageResult holds the cards of one (facet, page) pair in document order.
// A nil entry is a card that could not be parsed.
type PageResult struct {
	Page    int
	Records []*ListingRecord
}

// Valid returns the parsed records and the number of failed cards.
func (p PageResult) Valid() ([]ListingRecord, int) {
	out := make([]ListingRecord, 0, len(p.Records))
	failed := 0
	for _, r := range p.Records {
		if r == nil {
			failed++
			continue
		}
		out = append(out, *r)
	}
	return out, failed
}

// CleanRecord is the export shape with the amount parsed to a number.
type CleanRecord struct {
	Reference         *string  `json:"reference"`
	ObjectDescription *string  `json:"objet"`
	Buyer             *string  `json:"acheteur"`
	PublicationDate   *string  `json:"date_publication"`
	AwardedCompany    *string  `json:"entreprise_attributaire"`
	Amount            *float64 `json:"montant"`
}

// RunHistory summarises one orchestrator run for the mirror sinks.
type RunHistory struct {
	ID          string `bson:"_id" json:"id"`
	Mode        string `bson:"mode" json:"mode"`
	Facets      int    `bson:"facets" json:"facets"`
	Pages       int    `bson:"pages" json:"pages"`
	Records     int    `bson:"records" json:"records"`
	Awarded     int    `bson:"awarded" json:"awarded"`
	Infructuous int    `bson:"infructuous" json:"infructuous"`
	FailedCards int    `bson:"failed_cards" json:"failed_cards"`
	NewEntries  int    `bson:"new_entries" json:"new_entries"`
	SinkErrors  int    `bson:"sink_errors" json:"sink_errors"`
	StartedAt   int64  `bson:"started_at" json:"started_at"`
	Duration    int64  `bson:"duration_ms" json:"duration_ms"`
	Status      string `bson:"status" json:"status"` // success, error
	Error       string `bson:"error,omitempty" json:"error,omitempty"`
}

// RecordDocument is the mirror-sink row for a record.
type RecordDocument struct {
	ListingRecord `bson:",inline"`
	Facet         string `bson:"facet" json:"facet"`
	ContentHash   string `bson:"content_hash" json:"content_hash"`
	FirstScraped  int64  `bson:"first_scraped" json:"first_scraped"`
	LastScraped   int64  `bson:"last_scraped" json:"last_scraped"`
	LastModified  int64  `bson:"last_modified" json:"last_modified"`
	ScrapedCount  int    `bson:"scraped_count" json:"scraped_count"`
}
