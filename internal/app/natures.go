package app

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"award_spider/internal/models"
	"award_spider/internal/store"

	"github.com/gocolly/colly"
	"go.uber.org/zap"
)

const natureOptionSelector = "#search_consultation_resultats_naturePrestation option"

// DiscoverNatures scrapes the nature filter of the search form. Options
// without a numeric value (the "all" placeholder) are skipped.
func DiscoverNatures(searchURL, userAgent string, timeout time.Duration, log *zap.Logger) ([]models.Nature, error) {
	collector := colly.NewCollector(
		colly.UserAgent(userAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(timeout)

	seen := make(map[string]bool)
	var natures []models.Nature

	collector.OnHTML(natureOptionSelector, func(e *colly.HTMLElement) {
		id := strings.TrimSpace(e.Attr("value"))
		if _, err := strconv.Atoi(id); err != nil || seen[id] {
			return
		}
		seen[id] = true
		natures = append(natures, models.Nature{ID: id, Label: strings.TrimSpace(e.Text)})
	})

	var visitErr error
	collector.OnError(func(r *colly.Response, err error) {
		visitErr = fmt.Errorf("discover natures: HTTP %d: %w", r.StatusCode, err)
	})

	if err := collector.Visit(searchURL); err != nil && visitErr == nil {
		visitErr = fmt.Errorf("discover natures: %w", err)
	}
	collector.Wait()
	if visitErr != nil {
		return nil, visitErr
	}

	sort.Slice(natures, func(i, j int) bool {
		a, _ := strconv.Atoi(natures[i].ID)
		b, _ := strconv.Atoi(natures[j].ID)
		return a < b
	})
	log.Info("natures discovered", zap.Int("count", len(natures)))
	return natures, nil
}

// LoadOrDiscoverNatures reads the catalogue at path, discovering and saving
// it first when the file does not exist yet.
func (s *SpiderApp) LoadOrDiscoverNatures() ([]models.Nature, error) {
	path := s.NaturesPath()
	natures, err := store.LoadNatures(path)
	if err == nil {
		return natures, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	s.log.Info("natures catalogue missing, discovering", zap.String("path", path))
	return s.RefreshNatures()
}

// RefreshNatures discovers the catalogue and overwrites the natures file.
func (s *SpiderApp) RefreshNatures() ([]models.Nature, error) {
	natures, err := DiscoverNatures(s.cfg.Site.SearchURL(), s.client.UserAgent(), s.cfg.Logic.Timeout(), s.log)
	if err != nil {
		return nil, err
	}
	if len(natures) == 0 {
		return nil, errors.New("discover natures: no nature options found")
	}
	if err := store.SaveNatures(s.NaturesPath(), natures); err != nil {
		return nil, err
	}
	return natures, nil
}
