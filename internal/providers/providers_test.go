package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"submaker/internal/models"
	"submaker/internal/pool"
)

func newTestPool(t *testing.T, name models.Provider) *pool.Pool {
	t.Helper()
	p := pool.New(nil)
	p.Register(pool.Endpoint{Name: string(name)})
	return p
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	_, ok := reg.Get(models.ProviderSubDL)
	assert.False(t, ok)

	p := newTestPool(t, models.ProviderSubDL)
	client := NewRESTProvider(Spec{Name: models.ProviderSubDL, SearchURL: func(models.SearchRequest) string { return "" }}, p, nil)
	reg.Register(models.ProviderSubDL, client)

	got, ok := reg.Get(models.ProviderSubDL)
	require.True(t, ok)
	assert.Same(t, client, got)
	assert.Contains(t, reg.Names(), models.ProviderSubDL)
}

func searchServer(t *testing.T, items []searchResponseItem) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(searchResponse{Data: items})
	}))
}

func TestSearch_PerLanguageCapEnforced(t *testing.T) {
	items := make([]searchResponseItem, 20)
	for i := range items {
		items[i] = searchResponseItem{ID: string(rune('a' + i)), Language: "English", LanguageCode: "eng", Release: "Show.S01E01.srt", Format: "srt"}
	}
	srv := searchServer(t, items)
	defer srv.Close()

	p := newTestPool(t, models.ProviderSubDL)
	client := NewRESTProvider(Spec{
		Name:      models.ProviderSubDL,
		SearchURL: func(models.SearchRequest) string { return srv.URL },
	}, p, nil)

	results, err := client.Search(context.Background(), models.SearchRequest{Languages: []string{"eng"}})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(results), models.PerLanguageCap)
}

func TestSearch_EpisodeFilteringKeepsSeasonPackTagged(t *testing.T) {
	items := []searchResponseItem{
		{ID: "1", LanguageCode: "eng", Release: "Show.S01E02.srt", Format: "srt"},
		{ID: "2", LanguageCode: "eng", Release: "Show.S01E05.srt", Format: "srt"},
		{ID: "3", LanguageCode: "eng", Release: "Show.Complete.Season.srt", Format: "srt"},
	}
	srv := searchServer(t, items)
	defer srv.Close()

	p := newTestPool(t, models.ProviderSubDL)
	client := NewRESTProvider(Spec{
		Name:      models.ProviderSubDL,
		SearchURL: func(models.SearchRequest) string { return srv.URL },
	}, p, nil)

	results, err := client.Search(context.Background(), models.SearchRequest{
		Type: models.SearchTypeEpisode, Season: 1, Episode: 2, Languages: []string{"eng"},
	})
	require.NoError(t, err)

	var sawDirect, sawPack bool
	for _, r := range results {
		if r.ID == "1" {
			sawDirect = true
			assert.False(t, r.IsSeasonPack)
		}
		if r.ID == "3" {
			sawPack = true
			assert.True(t, r.IsSeasonPack)
		}
		assert.NotEqual(t, "2", r.ID, "a release matching a different episode must be dropped")
	}
	assert.True(t, sawDirect)
	assert.True(t, sawPack)
}

func TestSearch_AuthFailurePropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := newTestPool(t, models.ProviderOpenSubtitles)
	client := NewRESTProvider(Spec{
		Name:      models.ProviderOpenSubtitles,
		SearchURL: func(models.SearchRequest) string { return srv.URL },
	}, p, nil)

	_, err := client.Search(context.Background(), models.SearchRequest{})
	require.Error(t, err)
}

func TestSearch_NonFatalFailureReturnsEmptySlice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	p := newTestPool(t, models.ProviderSubDL)
	client := NewRESTProvider(Spec{
		Name:      models.ProviderSubDL,
		SearchURL: func(models.SearchRequest) string { return srv.URL },
	}, p, nil)

	results, err := client.Search(context.Background(), models.SearchRequest{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDownload_ErrorPageSynthesized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<!DOCTYPE html><html><body>not found</body></html>"))
	}))
	defer srv.Close()

	p := newTestPool(t, models.ProviderSubDL)
	client := NewRESTProvider(Spec{
		Name:        models.ProviderSubDL,
		DownloadURL: func(string) string { return srv.URL },
	}, p, nil)

	result, err := client.Download(context.Background(), "missing", models.DownloadOptions{})
	require.NoError(t, err)
	assert.True(t, result.Synthesized)
}

func TestDownload_PlainSubtitlePassesThroughEncodingDetection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("1\n00:00:00,000 --> 00:00:01,000\nHello\n"))
	}))
	defer srv.Close()

	p := newTestPool(t, models.ProviderSubDL)
	client := NewRESTProvider(Spec{
		Name:        models.ProviderSubDL,
		DownloadURL: func(string) string { return srv.URL },
	}, p, nil)

	result, err := client.Download(context.Background(), "ok", models.DownloadOptions{})
	require.NoError(t, err)
	assert.False(t, result.Synthesized)
	assert.Contains(t, string(result.Data), "Hello")
	assert.Equal(t, models.FormatSRT, result.Format)
}

func TestDownload_CDNLinkTriedFirst(t *testing.T) {
	var cdnHit, officialHit bool
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cdnHit = true
		w.Write([]byte("1\n00:00:00,000 --> 00:00:01,000\nFrom CDN\n"))
	}))
	defer cdn.Close()
	official := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		officialHit = true
		w.Write([]byte("1\n00:00:00,000 --> 00:00:01,000\nFrom official\n"))
	}))
	defer official.Close()

	p := newTestPool(t, models.ProviderSubDL)
	client := NewRESTProvider(Spec{
		Name:        models.ProviderSubDL,
		DownloadURL: func(string) string { return official.URL },
	}, p, nil)
	client.cdnLinks.Store("cached", cdn.URL)

	result, err := client.Download(context.Background(), "cached", models.DownloadOptions{})
	require.NoError(t, err)
	assert.True(t, cdnHit)
	assert.False(t, officialHit)
	assert.Contains(t, string(result.Data), "From CDN")
}
