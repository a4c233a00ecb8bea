// Package cleaning converts scraped records into their numeric export form.
package cleaning

import (
	"regexp"
	"strconv"
	"strings"

	"award_spider/internal/models"
)

var reNumber = regexp.MustCompile(`\d+(?:\.\d+)?`)

var spaceStripper = strings.NewReplacer(
	"MAD", "",
	" ", "",
	"\u00a0", "",
	"\u202f", "",
	",", ".",
)

// ParseAmount reads a monetary string such as "12 345,67 MAD". It returns
// nil when no number can be found.
func ParseAmount(raw string) *float64 {
	m := reNumber.FindString(spaceStripper.Replace(raw))
	if m == "" {
		return nil
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return nil
	}
	return &v
}

// Clean keeps awarded records and parses their amount. Records whose amount
// cannot be parsed are kept with a nil amount.
func Clean(records []models.ListingRecord) []models.CleanRecord {
	out := make([]models.CleanRecord, 0, len(records))
	for _, r := range records {
		if !r.IsAwarded {
			continue
		}
		c := models.CleanRecord{
			Reference:         r.Reference,
			ObjectDescription: r.ObjectDescription,
			Buyer:             r.Buyer,
			PublicationDate:   r.PublicationDate,
			AwardedCompany:    r.AwardedCompany,
		}
		if r.Amount != nil {
			c.Amount = ParseAmount(*r.Amount)
		}
		out = append(out, c)
	}
	return out
}
