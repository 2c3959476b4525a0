package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"submaker/internal/login"
	"submaker/internal/models"
	"submaker/internal/pool"
)

// BuildCatalog registers the five upstreams named in the spec's Provider
// enum against p (so the pool's breaker/header-template machinery knows
// about them) and returns a Registry wired with a RESTProvider per
// provider. loginCoord drives OpenSubtitles' authenticated Search/Download
// path; it may be nil if only the other four providers are deployed.
func BuildCatalog(p *pool.Pool, loginCoord *login.Coordinator, logger *zap.Logger) *Registry {
	reg := NewRegistry()

	register := func(name models.Provider, ep pool.Endpoint, spec Spec) {
		p.Register(ep)
		reg.Register(name, NewRESTProvider(spec, p, logger))
	}

	register(models.ProviderOpenSubtitles, pool.Endpoint{
		Name: string(models.ProviderOpenSubtitles), BaseURL: "https://api.opensubtitles.com",
		HealthPath: "/api/v1/infos/user", Critical: true,
		HeaderTemplate: http.Header{
			"User-Agent": {"SubMaker v1"},
			"Api-Key":    {""},
		},
	}, Spec{
		Name:         models.ProviderOpenSubtitles,
		RequiresAuth: true,
		Authenticate: func(ctx context.Context) error {
			if loginCoord == nil {
				return nil
			}
			return loginCoord.Login(ctx, func(ctx context.Context) error { return nil })
		},
		SearchURL: func(req models.SearchRequest) string {
			return "https://api.opensubtitles.com/api/v1/subtitles?" + encodeSearch(req)
		},
		DownloadURL: func(id string) string {
			return fmt.Sprintf("https://api.opensubtitles.com/api/v1/download/%s", id)
		},
	})

	register(models.ProviderSubDL, pool.Endpoint{
		Name: string(models.ProviderSubDL), BaseURL: "https://api.subdl.com",
		HealthPath: "/", Critical: false,
	}, Spec{
		Name: models.ProviderSubDL,
		SearchURL: func(req models.SearchRequest) string {
			return "https://api.subdl.com/api/v1/subtitles?" + encodeSearch(req)
		},
		DownloadURL: func(id string) string { return fmt.Sprintf("https://dl.subdl.com/%s", id) },
	})

	register(models.ProviderYifySubtitles, pool.Endpoint{
		Name: string(models.ProviderYifySubtitles), BaseURL: "https://yifysubtitles.ch",
		HealthPath: "/", Critical: false,
	}, Spec{
		Name: models.ProviderYifySubtitles,
		SearchURL: func(req models.SearchRequest) string {
			return "https://yifysubtitles.ch/api/search?" + encodeSearch(req)
		},
		DownloadURL: func(id string) string { return fmt.Sprintf("https://yifysubtitles.ch/download/%s", id) },
	})

	register(models.ProviderSubscene, pool.Endpoint{
		Name: string(models.ProviderSubscene), BaseURL: "https://subscene.com",
		HealthPath: "/", Critical: false,
		HeaderTemplate: http.Header{
			"User-Agent": {"Mozilla/5.0 (compatible; SubMaker)"},
		},
	}, Spec{
		Name: models.ProviderSubscene,
		SearchURL: func(req models.SearchRequest) string {
			return "https://subscene.com/subtitles/searchbytitle?" + encodeSearch(req)
		},
		DownloadURL: func(id string) string { return fmt.Sprintf("https://subscene.com/subtitle/download/%s", id) },
	})

	register(models.ProviderAddic7ed, pool.Endpoint{
		Name: string(models.ProviderAddic7ed), BaseURL: "https://www.addic7ed.com",
		HealthPath: "/", Critical: false,
		HeaderTemplate: http.Header{
			"User-Agent": {"Mozilla/5.0 (compatible; SubMaker)"},
			"Referer":    {"https://www.addic7ed.com/"},
		},
	}, Spec{
		Name: models.ProviderAddic7ed,
		SearchURL: func(req models.SearchRequest) string {
			return "https://www.addic7ed.com/search.php?" + encodeSearch(req)
		},
		DownloadURL: func(id string) string { return fmt.Sprintf("https://www.addic7ed.com/original/%s", id) },
	})

	return reg
}

// encodeSearch renders a SearchRequest as a query string shared by every
// wired provider's SearchURL builder.
func encodeSearch(req models.SearchRequest) string {
	v := url.Values{}
	if req.ImdbID != "" {
		v.Set("imdb_id", req.ImdbID)
	}
	if req.TmdbID != "" {
		v.Set("tmdb_id", req.TmdbID)
	}
	v.Set("type", string(req.Type))
	if req.Season > 0 {
		v.Set("season", fmt.Sprint(req.Season))
	}
	if req.Episode > 0 {
		v.Set("episode", fmt.Sprint(req.Episode))
	}
	for _, lang := range req.Languages {
		v.Add("languages", lang)
	}
	if req.ExcludeHI {
		v.Set("exclude_hi", "1")
	}
	if req.Filename != "" {
		v.Set("filename", req.Filename)
	}
	return v.Encode()
}
