// Package episode implements the episode-matching regex family shared by
// the Provider Client (client-side season-pack filtering) and the Archive
// Extractor (entry selection within a pack), per spec §4.1/§4.2.
package episode

import (
	"regexp"
	"strconv"
)

// Match is a single episode reference found in a release name or archive
// entry name, tagged with the form that matched it so callers can prefer
// higher-confidence forms when scoring candidates.
type Match struct {
	Season  int
	Episode int
	// RangeEnd is set when the match is an episode range (e.g. "01-12");
	// Episode is the range's start.
	RangeEnd int
	Form     Form
}

// Form ranks match confidence; lower value = higher confidence, matching
// the Archive Extractor's "prefer S×E form over bare episode numbers over
// anime forms" selection policy.
type Form int

const (
	FormSxE Form = iota
	FormAnimeBare
	FormAnimeTagged
	FormRange
)

// patterns is ordered western-first, then anime variants, matching spec
// §4.1's union. Resolution/year-like bare numbers are excluded by requiring
// delimiters that numbers like "1080" or "2024" don't satisfy on their own.
var patterns = []struct {
	re   *regexp.Regexp
	form Form
}{
	// S01E02, S1E2
	{regexp.MustCompile(`(?i)S(\d{1,2})E(\d{1,3})`), FormSxE},
	// 1x02
	{regexp.MustCompile(`(?i)\b(\d{1,2})x(\d{1,3})\b`), FormSxE},
	// Season 1 Episode 2
	{regexp.MustCompile(`(?i)Season\s*(\d{1,2})\s*Episode\s*(\d{1,3})`), FormSxE},
	// S01.E02
	{regexp.MustCompile(`(?i)S(\d{1,2})\.E(\d{1,3})`), FormSxE},
	// E01, EP 01, Episode 01, Capitulo 01, Episódio 01
	{regexp.MustCompile(`(?i)\bEP?\.?\s?(\d{1,3})\b`), FormAnimeTagged},
	{regexp.MustCompile(`(?i)\bEpisode\s*(\d{1,3})\b`), FormAnimeTagged},
	{regexp.MustCompile(`(?i)\bCapitulo\s*(\d{1,3})\b`), FormAnimeTagged},
	{regexp.MustCompile(`(?i)\bEpis[oó]dio\s*(\d{1,3})\b`), FormAnimeTagged},
	{regexp.MustCompile(`第(\d{1,3})話`), FormAnimeTagged},
	{regexp.MustCompile(`(\d{1,3})[話集화]`), FormAnimeTagged},
	// bare "01" bounded by delimiters, not resolution/year tokens
	{regexp.MustCompile(`(?:^|[\s._\-\[\(])(\d{2,3})(?:[\s._\-\]\)]|$)`), FormAnimeBare},
}

var rangePattern = regexp.MustCompile(`\b(\d{1,3})\s*-\s*(\d{1,3})\b`)

// excludeBare filters out bare-number matches that look like resolutions or
// years rather than episode numbers.
var excludeBare = regexp.MustCompile(`^(?:10(?:80|24)|720|480|360|19\d\d|20\d\d)$`)

// FindAll returns every episode reference found in s, in the regex-family
// priority order from spec §4.1, excluding tokens that look like
// resolutions (1080p) or years.
func FindAll(s string) []Match {
	var out []Match

	if m := rangePattern.FindStringSubmatch(s); m != nil {
		start, _ := strconv.Atoi(m[1])
		end, _ := strconv.Atoi(m[2])
		if !excludeBare.MatchString(m[1]) && !excludeBare.MatchString(m[2]) && end > start {
			out = append(out, Match{Episode: start, RangeEnd: end, Form: FormRange})
		}
	}

	for _, p := range patterns {
		matches := p.re.FindAllStringSubmatch(s, -1)
		for _, m := range matches {
			switch p.form {
			case FormSxE:
				season, _ := strconv.Atoi(m[1])
				ep, _ := strconv.Atoi(m[2])
				out = append(out, Match{Season: season, Episode: ep, Form: FormSxE})
			case FormAnimeTagged, FormAnimeBare:
				numStr := m[len(m)-1]
				if excludeBare.MatchString(numStr) {
					continue
				}
				ep, _ := strconv.Atoi(numStr)
				out = append(out, Match{Episode: ep, Form: p.form})
			}
		}
	}
	return out
}

// Matches reports whether s contains any reference to the given
// season/episode pair. season of 0 means "ignore season" (anime releases
// frequently omit it).
func Matches(s string, season, episodeNum int) bool {
	for _, m := range FindAll(s) {
		if m.RangeEnd > 0 {
			if episodeNum >= m.Episode && episodeNum <= m.RangeEnd {
				return true
			}
			continue
		}
		if m.Episode != episodeNum {
			continue
		}
		if m.Form == FormSxE && season > 0 && m.Season != season {
			continue
		}
		return true
	}
	return false
}

// BestMatch returns the highest-confidence match in s for scoring archive
// entries against a requested (season, episode), and whether one was found.
func BestMatch(s string, season, episodeNum int) (Match, bool) {
	var best Match
	found := false
	for _, m := range FindAll(s) {
		candidateEp := m.Episode
		inRange := m.RangeEnd > 0 && episodeNum >= m.Episode && episodeNum <= m.RangeEnd
		if candidateEp != episodeNum && !inRange {
			continue
		}
		if m.Form == FormSxE && season > 0 && m.Season != season {
			continue
		}
		if !found || m.Form < best.Form {
			best = m
			found = true
		}
	}
	return best, found
}
