package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"award_spider/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverNatures(t *testing.T) {
	server := newSite(t, map[string]string{"12": " Travaux ", "3": "Fournitures"}, nil)

	natures, err := DiscoverNatures(server.URL+"/resultat", "Mozilla/5.0", 5*time.Second, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, []models.Nature{
		{ID: "3", Label: "Fournitures"},
		{ID: "12", Label: "Travaux"},
	}, natures)
}

func TestDiscoverNatures_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	_, err := DiscoverNatures(server.URL, "Mozilla/5.0", 5*time.Second, testLogger(t))
	assert.Error(t, err)
}

func TestRefreshNatures_NoOptions(t *testing.T) {
	server := newSite(t, nil, nil)
	app := NewSpiderApp(testConfig(t, server.URL), nil, testLogger(t))

	_, err := app.RefreshNatures()
	assert.Error(t, err)
}

func TestRefreshNatures_SendsClientUserAgent(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(`<html><body><select id="search_consultation_resultats_naturePrestation"><option value="7">Etudes</option></select></body></html>`))
	}))
	defer server.Close()

	cfg := testConfig(t, server.URL)
	cfg.Site.UserAgent = "award-test/1.0"
	natures, err := NewSpiderApp(cfg, nil, testLogger(t)).RefreshNatures()
	require.NoError(t, err)
	assert.Equal(t, []models.Nature{{ID: "7", Label: "Etudes"}}, natures)
	assert.Equal(t, "award-test/1.0", got)
}
