package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"submaker/internal/apierr"
	"submaker/internal/archive"
	"submaker/internal/episode"
	"submaker/internal/models"
	"submaker/internal/pool"
	"submaker/internal/textenc"
)

const (
	defaultProviderTimeout = 20 * time.Second
	cdnTimeout             = 4 * time.Second
	downloadBaseBackoff    = 800 * time.Millisecond
	maxDownloadAttempts    = 3
	maxResponseBytes       = 8 << 20
)

// searchResponseItem is the generic JSON shape a RESTProvider's search
// endpoint is assumed to return. The spec leaves per-provider wire formats
// unspecified; one shared mapper lets every concrete provider in
// catalog.go be wired through the same RESTProvider rather than five
// bespoke parsers guessing at undocumented APIs.
type searchResponseItem struct {
	ID                string  `json:"id"`
	Language          string  `json:"language"`
	LanguageCode      string  `json:"language_code"`
	Release           string  `json:"release"`
	Format            string  `json:"format"`
	Downloads         int64   `json:"downloads"`
	Rating            float64 `json:"rating"`
	HearingImpaired   bool    `json:"hearing_impaired"`
	ForeignPartsOnly  bool    `json:"foreign_parts_only"`
	MachineTranslated bool    `json:"machine_translated"`
	Season            int     `json:"season,omitempty"`
	Episode           int     `json:"episode,omitempty"`
	DownloadLink      string  `json:"download_link,omitempty"`
}

type searchResponse struct {
	Data []searchResponseItem `json:"data"`
}

// Spec configures one RESTProvider instance.
type Spec struct {
	Name models.Provider
	// SearchURL builds the search request URL for req.
	SearchURL func(req models.SearchRequest) string
	// DownloadURL builds the authenticated download URL for a descriptor id.
	DownloadURL func(id string) string
	// RequiresAuth marks providers whose auth-configuration failures must
	// propagate to the orchestrator rather than degrade to empty (spec
	// §4.1/§7). Authenticate, when set on a provider with RequiresAuth, is
	// called before every Search and Download and typically wraps a
	// *login.Coordinator; it is not called when RequiresAuth is false.
	RequiresAuth bool
	Authenticate func(ctx context.Context) error
}

type entryMeta struct {
	season       int
	episode      int
	isSeasonPack bool
	filename     string
}

// RESTProvider is the one concrete Client implementation every wired
// provider configures via Spec. Grounded on
// internal/services/subtitle_service.go's downloadContent (fetch + encoding
// detection) generalized with the retry/CDN-race/archive/error-page
// handling spec §4.1 requires beyond that simple fetch.
type RESTProvider struct {
	spec   Spec
	pool   *pool.Pool
	logger *zap.Logger

	cdnLinks sync.Map // id -> string
	meta     sync.Map // id -> entryMeta
}

// NewRESTProvider builds a RESTProvider. p must already have spec.Name
// registered as an endpoint so ApplyHeaders/Breaker resolve correctly.
func NewRESTProvider(spec Spec, p *pool.Pool, logger *zap.Logger) *RESTProvider {
	return &RESTProvider{spec: spec, pool: p, logger: logger}
}

// classifyRelevance decides, for episode-scoped searches, whether a release
// should be kept and whether it should be tagged as a season pack (spec
// §4.1: "providers that return season-wide results MUST filter client-side
// ... keeping season packs but tagging them isSeasonPack=true").
func classifyRelevance(release string, season, ep int) (include, isSeasonPack bool) {
	if episode.Matches(release, season, ep) {
		return true, false
	}
	if len(episode.FindAll(release)) == 0 {
		// No episode marker at all in the release name: assume a
		// full-season dump rather than drop it outright.
		return true, true
	}
	return false, false
}

// Search implements Client.Search.
func (r *RESTProvider) Search(ctx context.Context, req models.SearchRequest) ([]models.SubtitleDescriptor, error) {
	timeout := time.Duration(req.ProviderTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if r.spec.RequiresAuth && r.spec.Authenticate != nil {
		if err := r.spec.Authenticate(ctx); err != nil {
			return nil, apierr.New(apierr.KindAuthentication, 0, err)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, r.spec.SearchURL(req), nil)
	if err != nil {
		return []models.SubtitleDescriptor{}, nil
	}
	r.pool.ApplyHeaders(string(r.spec.Name), httpReq)

	resp, err := r.pool.Client().Do(httpReq)
	if err != nil {
		r.pool.Breaker(string(r.spec.Name)).RecordFailure()
		return []models.SubtitleDescriptor{}, nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		r.pool.Breaker(string(r.spec.Name)).RecordFailure()
		return nil, apierr.New(apierr.KindAuthentication, resp.StatusCode,
			fmt.Errorf("%s: authentication failed", r.spec.Name))
	}
	if resp.StatusCode >= 400 {
		r.pool.Breaker(string(r.spec.Name)).RecordFailure()
		return []models.SubtitleDescriptor{}, nil
	}
	r.pool.Breaker(string(r.spec.Name)).RecordSuccess()

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return []models.SubtitleDescriptor{}, nil
	}

	episodeScoped := req.Type == models.SearchTypeEpisode || req.Type == models.SearchTypeAnimeEpisode
	perLang := make(map[string]int, len(req.Languages))
	out := make([]models.SubtitleDescriptor, 0, len(parsed.Data))

	for _, item := range parsed.Data {
		desc := models.SubtitleDescriptor{
			ID:                item.ID,
			Provider:          r.spec.Name,
			Language:          item.Language,
			LanguageCode:      item.LanguageCode,
			Name:              item.Release,
			Format:            models.SubtitleFormat(strings.ToLower(item.Format)),
			Downloads:         item.Downloads,
			Rating:            item.Rating,
			HearingImpaired:   item.HearingImpaired,
			ForeignPartsOnly:  item.ForeignPartsOnly,
			MachineTranslated: item.MachineTranslated,
			DownloadLink:      item.DownloadLink,
		}

		if req.ExcludeHI && desc.HearingImpaired {
			continue
		}

		if episodeScoped {
			include, isPack := classifyRelevance(item.Release, req.Season, req.Episode)
			if !include {
				continue
			}
			desc.IsSeasonPack = isPack
			if isPack {
				desc.SeasonPackSeason = req.Season
				desc.SeasonPackEpisode = req.Episode
			}
		}

		if perLang[desc.LanguageCode] >= models.PerLanguageCap {
			continue
		}
		perLang[desc.LanguageCode]++

		r.meta.Store(desc.ID, entryMeta{
			season: req.Season, episode: req.Episode,
			isSeasonPack: desc.IsSeasonPack, filename: req.Filename,
		})
		if item.DownloadLink != "" {
			r.cdnLinks.Store(desc.ID, item.DownloadLink)
		}
		out = append(out, desc)
	}
	return out, nil
}

// Download implements Client.Download.
func (r *RESTProvider) Download(ctx context.Context, id string, opts models.DownloadOptions) (DownloadResult, error) {
	timeout := time.Duration(opts.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if r.spec.RequiresAuth && r.spec.Authenticate != nil {
		if err := r.spec.Authenticate(ctx); err != nil {
			return DownloadResult{}, apierr.New(apierr.KindAuthentication, 0, err)
		}
	}

	if link, ok := r.cdnLinks.Load(id); ok {
		cdnCtx, cancelCDN := context.WithTimeout(ctx, cdnTimeout)
		body, err := r.fetch(cdnCtx, link.(string))
		cancelCDN()
		if err == nil {
			return r.process(id, body), nil
		}
	}

	officialURL := r.spec.DownloadURL(id)
	resultCh := make(chan fetchOutcome, 1)
	var raceStarted bool
	var lastErr error

	for attempt := 0; attempt < maxDownloadAttempts; attempt++ {
		body, err := r.fetch(ctx, officialURL)
		if err == nil {
			return r.process(id, body), nil
		}
		lastErr = err

		kind := classifyDownloadErr(err)
		if !kind.Retryable() {
			return DownloadResult{}, apierr.New(kind, 0, err)
		}

		if !raceStarted {
			if link, ok := r.cdnLinks.Load(id); ok {
				raceStarted = true
				go func(u string) {
					b, e := r.fetch(ctx, u)
					resultCh <- fetchOutcome{body: b, err: e}
				}(link.(string))
			}
		}

		remaining := time.Until(deadlineOr(ctx, time.Now().Add(timeout)))
		backoff := downloadBaseBackoff * time.Duration(1<<uint(attempt))
		if cap := remaining / 3; cap > 0 && backoff > cap {
			backoff = cap
		}

		select {
		case out := <-resultCh:
			if out.err == nil {
				return r.process(id, out.body), nil
			}
		case <-time.After(backoff):
		case <-ctx.Done():
			return DownloadResult{}, ctx.Err()
		}
	}

	select {
	case out := <-resultCh:
		if out.err == nil {
			return r.process(id, out.body), nil
		}
	default:
	}

	return DownloadResult{}, apierr.New(classifyDownloadErr(lastErr), 0, lastErr)
}

type fetchOutcome struct {
	body []byte
	err  error
}

func deadlineOr(ctx context.Context, fallback time.Time) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		return dl
	}
	return fallback
}

func (r *RESTProvider) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/zip, application/x-subrip, text/plain, */*")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	r.pool.ApplyHeaders(string(r.spec.Name), req)

	resp, err := r.pool.Client().Do(req)
	if err != nil {
		r.pool.Breaker(string(r.spec.Name)).RecordFailure()
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		r.pool.Breaker(string(r.spec.Name)).RecordFailure()
		return nil, httpStatusError{status: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, archive.MaxArchiveBytes+1))
	if err != nil {
		r.pool.Breaker(string(r.spec.Name)).RecordFailure()
		return nil, err
	}
	r.pool.Breaker(string(r.spec.Name)).RecordSuccess()
	return body, nil
}

type httpStatusError struct{ status int }

func (e httpStatusError) Error() string { return fmt.Sprintf("providers: http %d", e.status) }

func classifyDownloadErr(err error) apierr.Kind {
	if err == nil {
		return apierr.KindUnknown
	}
	if se, ok := err.(httpStatusError); ok {
		return apierr.ClassifyHTTP(se.status, "")
	}
	return apierr.ClassifyNetwork(err)
}

// process interprets a downloaded body: archive extraction, error-page
// synthesis, or plain encoding-detected subtitle text (spec §4.1).
func (r *RESTProvider) process(id string, body []byte) DownloadResult {
	m, _ := r.meta.Load(id)
	meta, _ := m.(entryMeta)

	if kind := archive.Detect(body); kind != archive.KindUnknown {
		res, err := archive.Extract(kind, body, archive.SelectOptions{
			IsSeasonPack:    meta.isSeasonPack,
			Season:          meta.season,
			Episode:         meta.episode,
			RequestFilename: meta.filename,
		})
		if err != nil {
			return synthesizeDownload("archive could not be processed")
		}
		return DownloadResult{
			Data: res.Data, Format: res.Format, Synthesized: res.Synthesized,
			ContentType: contentTypeFor(res.Format),
		}
	}

	if looksLikeErrorPage(body) {
		return synthesizeDownload("provider returned an error page instead of a subtitle")
	}

	text := textenc.Detect(body)
	return DownloadResult{Data: []byte(text), Format: models.FormatSRT, ContentType: contentTypeFor(models.FormatSRT)}
}

func contentTypeFor(f models.SubtitleFormat) string {
	if f == models.FormatVTT {
		return "text/vtt"
	}
	return "application/x-subrip"
}

func looksLikeErrorPage(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return true
	}
	lower := bytes.ToLower(trimmed)
	if bytes.HasPrefix(lower, []byte("<!doctype")) || bytes.HasPrefix(lower, []byte("<html")) {
		return true
	}
	if bytes.HasPrefix(trimmed, []byte("{")) || bytes.HasPrefix(trimmed, []byte("[")) {
		return json.Valid(trimmed)
	}
	return false
}

func synthesizeDownload(message string) DownloadResult {
	cue := fmt.Sprintf("1\n00:00:00,000 --> 00:00:05,000\n%s\n", message)
	return DownloadResult{Data: []byte(cue), Format: models.FormatSRT, ContentType: contentTypeFor(models.FormatSRT), Synthesized: true}
}
