// Package archive implements the Archive Extractor: detects ZIP/RAR
// payloads, enumerates subtitle entries, and selects the correct one for a
// requested episode or filename per spec §4.2.
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/nwaples/rardecode/v2"

	"submaker/internal/episode"
	"submaker/internal/models"
)

// MaxArchiveBytes is the hard cap from spec §4.2/§5; archives larger than
// this are rejected with a synthesized informational subtitle rather than
// processed.
const MaxArchiveBytes = 25 * 1024 * 1024

// Kind is the detected archive container format.
type Kind int

const (
	KindUnknown Kind = iota
	KindZip
	KindRar
)

// Detect sniffs the magic bytes of buf.
func Detect(buf []byte) Kind {
	switch {
	case bytes.HasPrefix(buf, []byte("PK\x03\x04")):
		return KindZip
	case bytes.HasPrefix(buf, []byte("Rar!\x1a\x07")):
		return KindRar
	default:
		return KindUnknown
	}
}

// SelectOptions parametrizes entry selection.
type SelectOptions struct {
	IsSeasonPack    bool
	Season          int
	Episode         int
	RequestFilename string
}

// Result is the outcome of extracting one subtitle from an archive.
type Result struct {
	Name        string
	Data        []byte
	Format      models.SubtitleFormat
	Synthesized bool
}

var extensionPreference = []models.SubtitleFormat{
	models.FormatSRT, models.FormatVTT, models.FormatASS, models.FormatSSA, models.FormatSUB,
}

func formatOf(name string) (models.SubtitleFormat, bool) {
	lower := strings.ToLower(name)
	for _, f := range extensionPreference {
		if strings.HasSuffix(lower, "."+string(f)) {
			return f, true
		}
	}
	return "", false
}

func extensionRank(f models.SubtitleFormat) int {
	for i, pf := range extensionPreference {
		if pf == f {
			return i
		}
	}
	return len(extensionPreference)
}

type rawEntry struct {
	name string
	data []byte
}

// Extract selects and returns the best subtitle entry from buf, which must
// be a ZIP or RAR archive already known to be one of those formats
// (typically via Detect). If selection fails it returns a synthesized
// single-cue informational subtitle rather than an error, matching the
// Download contract's "never throw for expected operational outcomes" rule.
func Extract(kind Kind, buf []byte, opts SelectOptions) (Result, error) {
	if len(buf) > MaxArchiveBytes {
		return synthesize("archive too large to process"), nil
	}

	entries, err := listEntries(kind, buf)
	if err != nil {
		return Result{}, fmt.Errorf("archive: list entries: %w", err)
	}

	var candidates []rawEntry
	for _, e := range entries {
		if _, ok := formatOf(e.name); ok {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return synthesize(fmt.Sprintf("episode %d not found in pack", opts.Episode)), nil
	}

	if opts.IsSeasonPack {
		return selectFromPack(candidates, opts)
	}
	return selectByFilename(candidates, opts)
}

func listEntries(kind Kind, buf []byte) ([]rawEntry, error) {
	switch kind {
	case KindZip:
		return listZip(buf)
	case KindRar:
		return listRar(buf)
	default:
		return nil, fmt.Errorf("archive: unsupported container")
	}
}

func listZip(buf []byte) ([]rawEntry, error) {
	r, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return nil, err
	}
	var out []rawEntry
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			continue
		}
		data, err := io.ReadAll(io.LimitReader(rc, MaxArchiveBytes+1))
		rc.Close()
		if err != nil {
			continue
		}
		out = append(out, rawEntry{name: f.Name, data: data})
	}
	return out, nil
}

func listRar(buf []byte) ([]rawEntry, error) {
	r, err := rardecode.NewReader(bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	var out []rawEntry
	for {
		hdr, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return out, nil //nolint:nilerr // partial listing is acceptable; selection degrades to synthesized entry if empty
		}
		if hdr.IsDir {
			continue
		}
		data, err := io.ReadAll(io.LimitReader(r, MaxArchiveBytes+1))
		if err != nil {
			continue
		}
		out = append(out, rawEntry{name: hdr.Name, data: data})
	}
	return out, nil
}

func selectFromPack(candidates []rawEntry, opts SelectOptions) (Result, error) {
	var best *rawEntry
	var bestMatch episode.Match
	for i := range candidates {
		m, ok := episode.BestMatch(candidates[i].name, opts.Season, opts.Episode)
		if !ok {
			continue
		}
		if best == nil || m.Form < bestMatch.Form {
			best = &candidates[i]
			bestMatch = m
		}
	}
	if best == nil {
		return synthesize(fmt.Sprintf("episode %d not found in pack", opts.Episode)), nil
	}
	format, _ := formatOf(best.name)
	return Result{Name: best.name, Data: best.data, Format: format}, nil
}

func selectByFilename(candidates []rawEntry, opts SelectOptions) (Result, error) {
	requested := strings.ToLower(opts.RequestFilename)

	bestIdx := 0
	bestScore := -1
	bestExtRank := len(extensionPreference)

	for i, c := range candidates {
		format, _ := formatOf(c.name)
		score := longestCommonSubstring(strings.ToLower(c.name), requested)
		extRank := extensionRank(format)
		if score > bestScore || (score == bestScore && extRank < bestExtRank) {
			bestIdx, bestScore, bestExtRank = i, score, extRank
		}
	}

	chosen := candidates[bestIdx]
	format, _ := formatOf(chosen.name)
	return Result{Name: chosen.name, Data: chosen.data, Format: format}, nil
}

func synthesize(message string) Result {
	cue := fmt.Sprintf("1\n00:00:00,000 --> 00:00:05,000\n%s\n", message)
	return Result{Name: "info.srt", Data: []byte(cue), Format: models.FormatSRT, Synthesized: true}
}

// longestCommonSubstring returns the length of the longest common
// (contiguous) substring between a and b, used to pick the archive entry
// whose base name most closely matches the requesting filename.
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
