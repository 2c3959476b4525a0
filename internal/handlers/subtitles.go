package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"submaker/internal/models"
	"submaker/internal/rank"
	"submaker/utils"
)

// SearchResultItem is one ranked descriptor as returned to the addon layer.
// ID is an opaque, provider-prefixed identifier ("<provider>:<providerId>")
// so /subtitle/download can resolve it back to the originating Provider
// Client without the caller needing to track that mapping itself.
type SearchResultItem struct {
	ID                string                `json:"id"`
	Provider          models.Provider       `json:"provider"`
	Language          string                `json:"language"`
	LanguageCode      string                `json:"languageCode"`
	Name              string                `json:"name"`
	Format            models.SubtitleFormat `json:"format"`
	Downloads         int64                 `json:"downloads"`
	Rating            float64               `json:"rating"`
	HearingImpaired   bool                  `json:"hearingImpaired"`
	ForeignPartsOnly  bool                  `json:"foreignPartsOnly"`
	MachineTranslated bool                  `json:"machineTranslated"`
	IsSeasonPack      bool                  `json:"isSeasonPack"`
}

// SearchResponse is the payload for GET /subtitles/...
type SearchResponse struct {
	Success  bool                `json:"success"`
	Results  []SearchResultItem  `json:"results"`
	Skipped  []fanoutSkipPayload `json:"skipped,omitempty"`
	Warnings []string            `json:"warnings,omitempty"`
}

type fanoutSkipPayload struct {
	Provider models.Provider `json:"provider"`
	Reason   string          `json:"reason"`
}

func opaqueID(provider models.Provider, providerID string) string {
	return string(provider) + ":" + providerID
}

func splitOpaqueID(id string) (models.Provider, string, bool) {
	idx := strings.Index(id, ":")
	if idx <= 0 || idx == len(id)-1 {
		return "", "", false
	}
	return models.Provider(id[:idx]), id[idx+1:], true
}

// routeParam is the parsed form of "<id>:<season>:<episode>.json" captured
// from the URL per spec §6's "GET /subtitles/<type>/<id>:<season>:<episode>.json".
type routeParam struct {
	ID      string
	Season  int
	Episode int
}

// parseRouteParam accepts both the movie form ("<id>.json", season/episode
// absent) and the episode form ("<id>:<season>:<episode>.json").
func parseRouteParam(raw string) (routeParam, error) {
	trimmed := strings.TrimSuffix(raw, ".json")
	if trimmed == raw {
		return routeParam{}, fmt.Errorf("handlers: path segment missing .json suffix")
	}
	parts := strings.Split(trimmed, ":")
	switch len(parts) {
	case 1:
		return routeParam{ID: parts[0]}, nil
	case 3:
		season, err := strconv.Atoi(parts[1])
		if err != nil {
			return routeParam{}, fmt.Errorf("handlers: invalid season %q", parts[1])
		}
		episode, err := strconv.Atoi(parts[2])
		if err != nil {
			return routeParam{}, fmt.Errorf("handlers: invalid episode %q", parts[2])
		}
		return routeParam{ID: parts[0], Season: season, Episode: episode}, nil
	default:
		return routeParam{}, fmt.Errorf("handlers: malformed path segment %q", raw)
	}
}

func searchTypeFrom(raw string) (models.SearchType, bool) {
	switch models.SearchType(raw) {
	case models.SearchTypeMovie, models.SearchTypeEpisode, models.SearchTypeAnime, models.SearchTypeAnimeEpisode:
		return models.SearchType(raw), true
	default:
		return "", false
	}
}

// SearchSubtitles handles GET /subtitles/<type>/<id>:<season>:<episode>.json.
// @Summary Search subtitles across every enabled provider
// @Description Fans out to every healthy, enabled provider, merges results, deduplicates and ranks them
// @Tags subtitles
// @Produce json
// @Param type path string true "movie, episode, anime, or anime-episode"
// @Param idparam path string true "<imdbOrTmdbId>[:<season>:<episode>].json"
// @Param languages query string false "comma-separated ISO 639-2/B language codes"
// @Param excludeHi query bool false "exclude hearing-impaired subtitles"
// @Param filename query string false "source video filename, used for ranking"
// @Success 200 {object} SearchResponse
// @Failure 400 {object} utils.ErrorResponse
// @Router /subtitles/{type}/{idparam} [get]
func (h *Handlers) SearchSubtitles(c *gin.Context) {
	searchType, ok := searchTypeFrom(c.Param("type"))
	if !ok {
		utils.SendErrorResponse(c, h.logger, http.StatusBadRequest, fmt.Sprintf("unknown search type %q", c.Param("type")), nil)
		return
	}
	rp, err := parseRouteParam(c.Param("idparam"))
	if err != nil {
		utils.SendErrorResponse(c, h.logger, http.StatusBadRequest, err.Error(), nil)
		return
	}

	req := models.SearchRequest{
		Type:              searchType,
		Season:            rp.Season,
		Episode:           rp.Episode,
		Filename:          c.Query("filename"),
		ExcludeHI:         c.Query("excludeHi") == "true",
		ProviderTimeoutMs: h.cfg.Providers.DefaultTimeoutMs,
	}
	if strings.HasPrefix(rp.ID, "tt") {
		req.ImdbID = rp.ID
	} else {
		req.TmdbID = rp.ID
	}
	if langs := c.Query("languages"); langs != "" {
		req.Languages = strings.Split(langs, ",")
	}

	enabled := make([]models.Provider, 0, len(h.cfg.Providers.Enabled))
	for _, name := range h.cfg.Providers.Enabled {
		enabled = append(enabled, models.Provider(name))
	}

	result := h.orchestrator.Search(c.Request.Context(), req, enabled)
	ranked := rank.Rank(result.Descriptors, rank.Options{RequestFilename: req.Filename})

	items := make([]SearchResultItem, 0, len(ranked))
	for _, d := range ranked {
		items = append(items, SearchResultItem{
			ID:                opaqueID(d.Provider, d.ID),
			Provider:          d.Provider,
			Language:          d.Language,
			LanguageCode:      d.LanguageCode,
			Name:              d.Name,
			Format:            d.Format,
			Downloads:         d.Downloads,
			Rating:            d.Rating,
			HearingImpaired:   d.HearingImpaired,
			ForeignPartsOnly:  d.ForeignPartsOnly,
			MachineTranslated: d.MachineTranslated,
			IsSeasonPack:      d.IsSeasonPack,
		})
	}

	resp := SearchResponse{Success: true, Results: items, Warnings: result.Warnings}
	for _, s := range result.Skipped {
		resp.Skipped = append(resp.Skipped, fanoutSkipPayload{Provider: s.Name, Reason: s.Reason})
	}
	if h.logger != nil {
		h.logger.Debug("handlers: search completed",
			zap.String("type", string(searchType)), zap.Int("results", len(items)), zap.Int("skipped", len(resp.Skipped)))
	}
	c.JSON(http.StatusOK, resp)
}

// DownloadSubtitle handles GET /subtitle/download?id=<opaque>.
// @Summary Download and extract a subtitle's text
// @Description Resolves the opaque id back to its provider and streams UTF-8 subtitle text
// @Tags subtitles
// @Produce text/plain
// @Param id query string true "opaque id returned by the search endpoint"
// @Success 200 {string} string "subtitle text"
// @Failure 400 {object} utils.ErrorResponse
// @Failure 404 {object} utils.ErrorResponse
// @Router /subtitle/download [get]
func (h *Handlers) DownloadSubtitle(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		utils.SendErrorResponse(c, h.logger, http.StatusBadRequest, "id is required", nil)
		return
	}
	providerName, providerID, ok := splitOpaqueID(id)
	if !ok {
		utils.SendErrorResponse(c, h.logger, http.StatusBadRequest, "malformed id", nil)
		return
	}
	client, ok := h.registry.Get(providerName)
	if !ok {
		utils.SendErrorResponse(c, h.logger, http.StatusNotFound, fmt.Sprintf("unknown provider %q", providerName), nil)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.downloadTimeout())
	defer cancel()

	result, err := client.Download(ctx, providerID, models.DownloadOptions{TimeoutMs: h.cfg.Providers.DefaultTimeoutMs})
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("handlers: download failed", zap.String("provider", string(providerName)), zap.Error(err))
		}
		utils.SendErrorResponse(c, nil, http.StatusBadGateway, "download failed", err)
		return
	}

	contentType := result.ContentType
	if contentType == "" {
		if result.Format == models.FormatVTT {
			contentType = "text/vtt"
		} else {
			contentType = "application/x-subrip"
		}
	}
	c.Data(http.StatusOK, contentType, result.Data)
}

func (h *Handlers) downloadTimeout() time.Duration {
	return time.Duration(h.cfg.Providers.DefaultTimeoutMs) * time.Millisecond
}
