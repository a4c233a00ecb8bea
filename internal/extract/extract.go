// Package extract turns result pages into ListingRecords.
package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"award_spider/internal/models"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

const (
	cardSelector     = ".entreprise__card"
	summarySelector  = "div.content__resultat"
	referenceLabel   = "Référence :"
	objectLabel      = "Objet :"
	buyerMarker      = "Acheteur"
	buyerLabel       = "Acheteur :"
	dateMarker       = "Date de publication"
	dateLabel        = "Date de publication du résultat :"
	quotesMarker     = "Nombre de devis reçus"
	rightBlockSelect = ".entreprise__rightSubCard--top"
)

var (
	reWhitespace = regexp.MustCompile(`\s+`)
	reTotal      = regexp.MustCompile(`Nombre de résultats\s*:\s*(\d+)`)
)

func normalizeText(text string) string {
	return strings.TrimSpace(reWhitespace.ReplaceAllString(text, " "))
}

type Extractor struct {
	log *zap.Logger
}

func New(log *zap.Logger) *Extractor {
	return &Extractor{log: log}
}

// Page parses every card of one results page in document order. Unparsable
// markup yields an empty result.
func (e *Extractor) Page(html string, page int) models.PageResult {
	res := models.PageResult{Page: page}
	if html == "" {
		return res
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		e.log.Warn("cannot parse results page", zap.Int("page", page), zap.Error(err))
		return res
	}
	doc.Find(cardSelector).Each(func(i int, card *goquery.Selection) {
		res.Records = append(res.Records, e.Card(card))
	})
	return res
}

// Card extracts one record. Missing sub-elements leave their field nil; a
// failure anywhere else discards the card and returns nil.
func (e *Extractor) Card(card *goquery.Selection) (rec *models.ListingRecord) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Warn("card extraction failed", zap.String("error", fmt.Sprint(r)))
			rec = nil
		}
	}()

	rec = &models.ListingRecord{
		Reference:         labelled(card.Find(".font-bold.table__links").First(), referenceLabel),
		ObjectDescription: labelled(card.Find(`[data-bs-toggle="tooltip"]`).First(), objectLabel),
		Buyer:             labelled(markedSpan(card, buyerMarker).Parent(), buyerLabel),
		PublicationDate:   labelled(markedSpan(card, dateMarker).Parent(), dateLabel),
	}

	right := card.Find(rightBlockSelect).First()
	if right.Length() == 0 {
		return rec
	}

	if strings.Contains(right.Text(), quotesMarker) {
		rec.QuoteCount = text(right.Find("span span.font-bold").First())
	}

	spans := right.ChildrenFiltered("span")
	if spans.Length() >= 3 {
		rec.AwardedCompany = text(spans.Eq(1).Find("span.font-bold").First())
		rec.IsAwarded = rec.AwardedCompany != nil
		if rec.IsAwarded {
			rec.Amount = text(spans.Eq(2).Find("span.font-bold").First())
		}
	}
	return rec
}

// markedSpan finds the first leaf span whose text contains marker.
func markedSpan(card *goquery.Selection, marker string) *goquery.Selection {
	return card.Find("span").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.Children().Length() == 0 && strings.Contains(s.Text(), marker)
	}).First()
}

func text(s *goquery.Selection) *string {
	if s.Length() == 0 {
		return nil
	}
	t := normalizeText(s.Text())
	return &t
}

func labelled(s *goquery.Selection, label string) *string {
	t := text(s)
	if t == nil {
		return nil
	}
	v := strings.TrimSpace(strings.Replace(*t, label, "", 1))
	return &v
}

// TotalResults reads the result count from the summary block. ok is false
// when the block or the count is missing.
func TotalResults(html string) (total int, ok bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return 0, false
	}
	block := doc.Find(summarySelector).First()
	if block.Length() == 0 {
		return 0, false
	}
	m := reTotal.FindStringSubmatch(normalizeText(block.Text()))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
