// Package rank implements the Deduplicator + Ranker (spec §4.7): release
// name normalization, dedup-key collapsing, and a weighted ranking score
// that orders survivors before the per-language cap is reapplied.
package rank

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"submaker/internal/models"
)

var (
	bracketTagPattern = regexp.MustCompile(`\[[^\]]*\]`)
	extensionPattern  = regexp.MustCompile(`(?i)\.(srt|vtt|ass|ssa|sub)$`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// Normalize implements spec §4.7's comparison normalization: lowercase,
// strip subtitle extensions, strip bracket tags, replace "._" with spaces,
// collapse whitespace.
func Normalize(name string) string {
	s := extensionPattern.ReplaceAllString(name, "")
	s = bracketTagPattern.ReplaceAllString(s, "")
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		if r == '.' || r == '_' {
			return ' '
		}
		return r
	}, s)
	s = whitespacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// dedupKey is spec §4.7's dedup key: (languageCode, normalizedName,
// hearingImpaired, format, isSeasonPack).
type dedupKey struct {
	languageCode    string
	normalizedName  string
	hearingImpaired bool
	format          models.SubtitleFormat
	isSeasonPack    bool
}

func keyOf(d models.SubtitleDescriptor) dedupKey {
	return dedupKey{
		languageCode:    d.LanguageCode,
		normalizedName:  Normalize(d.Name),
		hearingImpaired: d.HearingImpaired,
		format:          d.Format,
		isSeasonPack:    d.IsSeasonPack,
	}
}

// releaseTokens are tokens that matter for matching production/release type
// between the request filename and a candidate.
var releaseTokens = []string{"web-dl", "webdl", "webrip", "bluray", "brrip", "bdrip", "hdtv", "dvdrip"}

func tokensIn(s string) map[string]bool {
	lower := strings.ToLower(s)
	out := make(map[string]bool)
	for _, t := range releaseTokens {
		if strings.Contains(lower, t) {
			out[t] = true
		}
	}
	return out
}

// providerReputation weights provider-reported rank trust (spec §4.7:
// "provider reputation weight"); providers not listed default to 1.0.
var providerReputation = map[models.Provider]float64{
	models.ProviderOpenSubtitles: 1.2,
	models.ProviderSubDL:         1.0,
	models.ProviderAddic7ed:      1.05,
	models.ProviderYifySubtitles: 0.9,
	models.ProviderSubscene:      0.95,
}

// Options parametrizes Rank with request-specific preferences.
type Options struct {
	RequestFilename string
	PreferHI        bool
}

// score computes spec §4.7's ranking score for one descriptor: higher is
// better.
func score(d models.SubtitleDescriptor, opts Options) float64 {
	s := 0.0

	s += float64(longestCommonSubstring(strings.ToLower(d.Name), strings.ToLower(opts.RequestFilename))) * 2

	requestTokens := tokensIn(opts.RequestFilename)
	candidateTokens := tokensIn(d.Name)
	for t := range requestTokens {
		if candidateTokens[t] {
			s += 10
		}
	}

	// Bayesian-smoothed rating: pulls low-sample ratings toward a neutral
	// midpoint rather than trusting a 5.0 from a single vote.
	const priorWeight, priorRating = 5.0, 3.0
	votes := math.Max(float64(d.Downloads)/100, 1)
	bayesian := (priorWeight*priorRating + votes*d.Rating) / (priorWeight + votes)
	s += bayesian * 4

	s += math.Log1p(float64(d.Downloads)) * 3

	if rep, ok := providerReputation[d.Provider]; ok {
		s *= rep
	}

	if d.MachineTranslated {
		s -= 25
	}
	if d.HearingImpaired != opts.PreferHI {
		s -= 8
	}
	if d.IsSeasonPack {
		s -= 5
	}

	return s
}

// Dedup collapses descriptors sharing a dedup key, keeping the
// highest-ranked survivor of each group. Different episodes or partially
// matching releases (different normalizedName) never collapse together.
// Dedup is idempotent: calling it again on its own output is a no-op.
func Dedup(descriptors []models.SubtitleDescriptor, opts Options) []models.SubtitleDescriptor {
	type scored struct {
		d models.SubtitleDescriptor
		s float64
	}
	byKey := make(map[dedupKey]scored)
	order := make([]dedupKey, 0, len(descriptors))

	for _, d := range descriptors {
		k := keyOf(d)
		sc := score(d, opts)
		existing, seen := byKey[k]
		if !seen {
			order = append(order, k)
			byKey[k] = scored{d: d, s: sc}
			continue
		}
		if sc > existing.s {
			byKey[k] = scored{d: d, s: sc}
		}
	}

	out := make([]models.SubtitleDescriptor, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k].d)
	}
	return out
}

// Rank deduplicates and sorts descriptors by descending score, then caps
// the result at models.PerLanguageCap per languageCode while preserving
// relative order (spec §4.7 "Post-rank: cap at 14 per languageCode,
// preserving order").
func Rank(descriptors []models.SubtitleDescriptor, opts Options) []models.SubtitleDescriptor {
	deduped := Dedup(descriptors, opts)

	type scored struct {
		d models.SubtitleDescriptor
		s float64
	}
	withScores := make([]scored, len(deduped))
	for i, d := range deduped {
		withScores[i] = scored{d: d, s: score(d, opts)}
	}
	sort.SliceStable(withScores, func(i, j int) bool { return withScores[i].s > withScores[j].s })

	perLang := make(map[string]int)
	out := make([]models.SubtitleDescriptor, 0, len(withScores))
	for _, sc := range withScores {
		if perLang[sc.d.LanguageCode] >= models.PerLanguageCap {
			continue
		}
		perLang[sc.d.LanguageCode]++
		out = append(out, sc.d)
	}
	return out
}

// longestCommonSubstring mirrors internal/archive's helper: the length of
// the longest contiguous match between a and b, used for filename
// similarity scoring.
func longestCommonSubstring(a, b string) int {
	if a == "" || b == "" {
		return 0
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	best := 0
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > best {
					best = cur[j]
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	return best
}
