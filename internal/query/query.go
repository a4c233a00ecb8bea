// Package query builds search URLs for the consultation results endpoint.
package query

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"award_spider/internal/models"
)

const (
	prefix     = "search_consultation_resultats"
	dateLayout = "2006-01-02"
)

// Query mirrors the search form. Zero values are sent as empty parameters,
// the way the form itself submits them.
type Query struct {
	Keyword          string
	Reference        string
	Object           string
	PublicationStart *time.Time
	PublicationEnd   *time.Time
	OnlineStart      *time.Time
	OnlineEnd        *time.Time
	Category         string
	NatureID         string
	Buyer            string
	Service          string
	Location         string
	PageSize         int
	// Page is omitted when zero so the first request matches the bare form.
	Page int
}

func key(name string) string {
	return prefix + "[" + name + "]"
}

func date(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayout)
}

type param struct{ name, value string }

// params lists the form fields in the order the search form submits them.
// The page goes out both as the form field and as the bare "page" parameter
// the listing's pagination links use.
func (q Query) params() []param {
	ps := []param{
		{key("keyword"), q.Keyword},
		{key("reference"), q.Reference},
		{key("objet"), q.Object},
		{key("dateLimitePublicationStart"), date(q.PublicationStart)},
		{key("dateLimitePublicationEnd"), date(q.PublicationEnd)},
		{key("dateMiseEnLigneStart"), date(q.OnlineStart)},
		{key("dateMiseEnLigneEnd"), date(q.OnlineEnd)},
		{key("categorie"), q.Category},
		{key("naturePrestation"), q.NatureID},
		{key("acheteur"), q.Buyer},
		{key("service"), q.Service},
		{key("lieuExecution"), q.Location},
	}
	if q.PageSize > 0 {
		ps = append(ps, param{key("pageSize"), strconv.Itoa(q.PageSize)})
	}
	if q.Page > 0 {
		page := strconv.Itoa(q.Page)
		ps = append(ps, param{key("page"), page}, param{"page", page})
	}
	return ps
}

func (q Query) Values() url.Values {
	v := url.Values{}
	for _, p := range q.params() {
		v.Set(p.name, p.value)
	}
	return v
}

// Encode is the query string with parameters in form order. url.Values
// would sort them.
func (q Query) Encode() string {
	var b strings.Builder
	for i, p := range q.params() {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.name))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.value))
	}
	return b.String()
}

// Build returns base with the encoded query appended.
func (q Query) Build(base string) string {
	return base + "?" + q.Encode()
}

// ForFacet is the query selecting one facet's results.
func ForFacet(f models.Facet, pageSize int, category string) Query {
	q := Query{PageSize: pageSize, Category: category}
	if f.Nature != nil {
		q.NatureID = f.Nature.ID
	}
	if f.Day != nil {
		q.PublicationStart = f.Day
	}
	return q
}

// Builder turns a facet and page number into a URL. Planner and Harvester
// share one so every call site issues identical queries.
type Builder struct {
	Base     string
	PageSize int
	Category string
}

func (b Builder) URL(f models.Facet, page int) string {
	q := ForFacet(f, b.PageSize, b.Category)
	q.Page = page
	return q.Build(b.Base)
}
