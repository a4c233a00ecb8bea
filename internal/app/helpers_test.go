package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"award_spider/internal/config"
	"award_spider/internal/extract"
	"award_spider/internal/fetcher"
	"award_spider/internal/query"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type testCard struct {
	Ref     string
	Awarded bool
	Date    string
}

func cardHTML(c testCard) string {
	var b strings.Builder
	b.WriteString(`<div class="entreprise__card"><div class="entreprise__leftSubCard">`)
	if c.Ref != "" {
		fmt.Fprintf(&b, `<a class="font-bold table__links">Référence : %s</a>`, c.Ref)
	}
	fmt.Fprintf(&b, `<div data-bs-toggle="tooltip">Objet : objet %s</div>`, c.Ref)
	b.WriteString(`<div><span>Acheteur :</span> <span class="font-bold">Commune</span></div>`)
	if c.Date != "" {
		fmt.Fprintf(&b, `<div><span>Date de publication du résultat :</span> %s</div>`, c.Date)
	}
	b.WriteString(`</div><div class="entreprise__rightSubCard--top">`)
	b.WriteString(`<span>Nombre de devis reçus : <span class="font-bold">2</span></span>`)
	if c.Awarded {
		fmt.Fprintf(&b, `<span>Attributaire : <span class="font-bold">SARL %s</span></span>`, c.Ref)
		b.WriteString(`<span>Montant : <span class="font-bold">1 000,00 MAD</span></span>`)
	} else {
		b.WriteString(`<span>Infructueux</span>`)
	}
	b.WriteString(`</div></div>`)
	return b.String()
}

func pageHTML(total int, cards ...testCard) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	if total >= 0 {
		fmt.Fprintf(&b, `<div class="content__resultat">Nombre de résultats : %d</div>`, total)
	}
	for _, c := range cards {
		b.WriteString(cardHTML(c))
	}
	b.WriteString("</body></html>")
	return b.String()
}

// fakeFetcher serves canned bodies by URL and records calls.
type fakeFetcher struct {
	mu     sync.Mutex
	pages  map[string]string
	calls  []string
	getErr error
	delay  time.Duration
}

func (f *fakeFetcher) Get(ctx context.Context, url string) (string, error) {
	if f.getErr != nil {
		return "", f.getErr
	}
	body := f.Fetch(ctx, url)
	if body == "" {
		return "", errors.New("not found")
	}
	return body, nil
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) string {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	return f.pages[url]
}

func testBuilder() query.Builder {
	return query.Builder{Base: "https://example.test/resultat", PageSize: 50}
}

// siteHandler serves a search form and per-nature result pages.
// results maps nature id to the cards of each page (index 0 is page 1).
func siteHandler(t *testing.T, natures map[string]string, results map[string][][]testCard) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		nature := q.Get("search_consultation_resultats[naturePrestation]")
		page := q.Get("page")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")

		if r.URL.RawQuery == "" {
			var b strings.Builder
			b.WriteString(`<html><body><form><select id="search_consultation_resultats_naturePrestation">`)
			b.WriteString(`<option value="">Toutes</option>`)
			for id, label := range natures {
				fmt.Fprintf(&b, `<option value="%s">%s</option>`, id, label)
			}
			b.WriteString(`</select></form></body></html>`)
			_, _ = w.Write([]byte(b.String()))
			return
		}

		pages := results[nature]
		total := 0
		for _, p := range pages {
			total += len(p)
		}
		idx := 0
		if page != "" {
			fmt.Sscanf(page, "%d", &idx)
			idx--
		}
		if idx < 0 || idx >= len(pages) {
			_, _ = w.Write([]byte(pageHTML(total)))
			return
		}
		_, _ = w.Write([]byte(pageHTML(total, pages[idx]...)))
	})
}

func testConfig(t *testing.T, serverURL string) *config.SpiderConfig {
	cfg := config.DefaultConfig()
	cfg.Site.BaseURL = serverURL
	cfg.Site.SearchPath = "/resultat"
	cfg.Site.PageSize = 2
	cfg.Logic.MaxRetries = 1
	cfg.Logic.MinDelayMS = 0
	cfg.Logic.MaxDelayMS = 0
	cfg.Logic.RetryDelayMS = 0
	cfg.Logic.TimeoutSec = 5
	cfg.Storage.DataDir = t.TempDir()
	return cfg
}

func testLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

func newTestHarvester(t *testing.T, f PageFetcher, workers int) *Harvester {
	return NewHarvester(f, extract.New(zap.NewNop()), testBuilder(), workers, testLogger(t))
}

func newTestClient() *fetcher.Client {
	return fetcher.New(fetcher.Options{Timeout: 5 * time.Second, UserAgent: "Mozilla/5.0", Retry: fetcher.RetryPolicy{MaxAttempts: 1}}, zap.NewNop())
}

func newSite(t *testing.T, natures map[string]string, results map[string][][]testCard) *httptest.Server {
	server := httptest.NewServer(siteHandler(t, natures, results))
	t.Cleanup(server.Close)
	return server
}
