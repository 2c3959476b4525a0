// Package models defines the shared data types that flow between the
// provider fan-out, ranking, caching, and streaming layers.
package models

import "time"

// Provider identifies a subtitle upstream.
type Provider string

const (
	ProviderOpenSubtitles Provider = "opensubtitles-v3"
	ProviderSubDL         Provider = "subdl"
	ProviderYifySubtitles Provider = "yifysubtitles"
	ProviderSubscene      Provider = "subscene"
	ProviderAddic7ed      Provider = "addic7ed"
)

// SearchType enumerates the kinds of media a search request can target.
type SearchType string

const (
	SearchTypeMovie         SearchType = "movie"
	SearchTypeEpisode       SearchType = "episode"
	SearchTypeAnime         SearchType = "anime"
	SearchTypeAnimeEpisode  SearchType = "anime-episode"
)

// SubtitleFormat enumerates the subtitle container formats the system
// understands.
type SubtitleFormat string

const (
	FormatSRT SubtitleFormat = "srt"
	FormatVTT SubtitleFormat = "vtt"
	FormatASS SubtitleFormat = "ass"
	FormatSSA SubtitleFormat = "ssa"
	FormatSUB SubtitleFormat = "sub"
)

// PerLanguageCap is the maximum number of descriptors a single provider (or
// the ranker) may return for one languageCode.
const PerLanguageCap = 14

// SubtitleDescriptor is the immutable record produced by a Provider Client's
// Search operation. Its id is sufficient to re-download the subtitle without
// further context, and languageCode must be canonical (ISO 639-2/B, with
// "pob" reserved for Brazilian Portuguese) before it reaches the ranker.
type SubtitleDescriptor struct {
	ID                string         `json:"id"`
	Provider          Provider       `json:"provider"`
	Language          string         `json:"language"`
	LanguageCode      string         `json:"languageCode"`
	Name              string         `json:"name"`
	Format            SubtitleFormat `json:"format"`
	Downloads         int64          `json:"downloads"`
	Rating            float64        `json:"rating"`
	HearingImpaired   bool           `json:"hearingImpaired"`
	ForeignPartsOnly  bool           `json:"foreignPartsOnly"`
	MachineTranslated bool           `json:"machineTranslated"`
	IsSeasonPack      bool           `json:"isSeasonPack"`
	SeasonPackSeason  int            `json:"seasonPackSeason,omitempty"`
	SeasonPackEpisode int            `json:"seasonPackEpisode,omitempty"`
	DownloadLink      string         `json:"downloadLink,omitempty"`
}

// SearchRequest is the normalized request passed to every Provider Client's
// Search method.
type SearchRequest struct {
	ImdbID            string
	TmdbID            string
	Type              SearchType
	Season            int
	Episode           int
	Languages         []string
	ExcludeHI         bool
	Filename          string
	ProviderTimeoutMs int
}

// DownloadOptions configures a Provider Client's Download operation.
type DownloadOptions struct {
	TimeoutMs         int
	LanguageHint      string
	SkipASSConversion bool
}

// CacheStatus is the lifecycle state of a Translation Cache Entry.
type CacheStatus string

const (
	StatusInFlight CacheStatus = "in_flight"
	StatusPartial  CacheStatus = "partial"
	StatusComplete CacheStatus = "complete"
	StatusFailed   CacheStatus = "failed"
)

// Segment is a single subtitle cue within a translated artifact.
type Segment struct {
	Index     int       `json:"index"`
	StartTime string    `json:"startTime"`
	EndTime   string    `json:"endTime"`
	Text      string    `json:"text"`
}

// CacheEntry is the Translation Cache Entry described in spec §3. BaseKey is
// shared across all users; ScopedKey is baseKey for permanent entries or
// baseKey+"__u_"+configHash for bypass entries; RuntimeKey is whichever of
// the two is used for in-flight singleflight tracking.
type CacheEntry struct {
	BaseKey          string      `json:"baseKey"`
	ScopedKey        string      `json:"scopedKey"`
	RuntimeKey       string      `json:"runtimeKey"`
	Segments         []Segment   `json:"segments"`
	Status           CacheStatus `json:"status"`
	CompletedBatches uint64      `json:"completedBatches"`
	TotalBatches     int         `json:"totalBatches"`
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt"`
	OwnerConfigHash  string      `json:"ownerConfigHash,omitempty"`
}

// IsComplete reports whether every batch has been written.
func (e *CacheEntry) IsComplete() bool {
	if e.TotalBatches <= 0 {
		return e.Status == StatusComplete
	}
	full := uint64(1)<<uint(e.TotalBatches) - 1
	return e.CompletedBatches == full
}

// StreamEventType enumerates the event names published on the Stream
// Activity Bus.
type StreamEventType string

const (
	EventReady    StreamEventType = "ready"
	EventEpisode  StreamEventType = "episode"
	EventPartial  StreamEventType = "partial"
	EventComplete StreamEventType = "complete"
	EventPing     StreamEventType = "ping"
)

// StreamActivityEntry is the latest activity snapshot kept per configHash,
// per spec §3 (LRU-bounded, 6h TTL).
type StreamActivityEntry struct {
	VideoID   string    `json:"videoId"`
	Filename  string    `json:"filename"`
	VideoHash string    `json:"videoHash"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StreamEvent is a single SSE payload published on the bus.
type StreamEvent struct {
	Type StreamEventType `json:"type"`
	Data interface{}     `json:"data"`
}
