package rank

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"submaker/internal/models"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"Show.S01E01.WEB-DL.srt":   "show s01e01 web-dl",
		"Show_Name [SCS].srt":      "show name",
		"Multiple   Spaces.srt":    "multiple spaces",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in))
	}
}

func desc(id, lang, name string, hi bool, format models.SubtitleFormat, pack bool) models.SubtitleDescriptor {
	return models.SubtitleDescriptor{
		ID: id, LanguageCode: lang, Name: name, HearingImpaired: hi, Format: format, IsSeasonPack: pack,
	}
}

func TestDedup_CollapsesIdenticalKey(t *testing.T) {
	in := []models.SubtitleDescriptor{
		desc("1", "eng", "Show.S01E01.srt", false, models.FormatSRT, false),
		desc("2", "eng", "Show.S01E01.srt", false, models.FormatSRT, false),
	}
	out := Dedup(in, Options{})
	assert.Len(t, out, 1)
}

func TestDedup_NeverMergesAcrossDistinguishingFields(t *testing.T) {
	in := []models.SubtitleDescriptor{
		desc("1", "eng", "Show.S01E01.srt", false, models.FormatSRT, false),
		desc("2", "fre", "Show.S01E01.srt", false, models.FormatSRT, false),
		desc("3", "eng", "Show.S01E01.srt", true, models.FormatSRT, false),
		desc("4", "eng", "Show.S01E01.srt", false, models.FormatVTT, false),
		desc("5", "eng", "Show.S01E01.srt", false, models.FormatSRT, true),
	}
	out := Dedup(in, Options{})
	assert.Len(t, out, 5)
}

func TestDedup_IsIdempotent(t *testing.T) {
	in := []models.SubtitleDescriptor{
		desc("1", "eng", "Show.S01E01.srt", false, models.FormatSRT, false),
		desc("2", "eng", "Show.S01E01.srt", false, models.FormatSRT, false),
		desc("3", "eng", "Show.S01E02.srt", false, models.FormatSRT, false),
	}
	once := Dedup(in, Options{})
	twice := Dedup(once, Options{})
	assert.ElementsMatch(t, once, twice)
}

func TestDedup_DifferentEpisodesNeverCollapse(t *testing.T) {
	in := []models.SubtitleDescriptor{
		desc("1", "eng", "Show.S01E01.srt", false, models.FormatSRT, false),
		desc("2", "eng", "Show.S01E02.srt", false, models.FormatSRT, false),
	}
	out := Dedup(in, Options{})
	assert.Len(t, out, 2)
}

func TestRank_CapsAtPerLanguageLimit(t *testing.T) {
	var in []models.SubtitleDescriptor
	for i := 0; i < 30; i++ {
		in = append(in, models.SubtitleDescriptor{
			ID: fmt.Sprint(i), LanguageCode: "eng", Name: fmt.Sprintf("Show.S01E%02d.srt", i),
			Format: models.FormatSRT, Downloads: int64(30 - i), Rating: 4,
		})
	}
	out := Rank(in, Options{RequestFilename: "Show.S01E00"})
	assert.LessOrEqual(t, len(out), models.PerLanguageCap)
}

func TestRank_PenalizesMachineTranslated(t *testing.T) {
	in := []models.SubtitleDescriptor{
		{ID: "good", LanguageCode: "eng", Name: "Show.S01E01.WEB-DL.srt", Format: models.FormatSRT, Downloads: 500, Rating: 4.5},
		{ID: "mt", LanguageCode: "eng", Name: "Show.S01E02.WEB-DL.srt", Format: models.FormatSRT, Downloads: 500, Rating: 4.5, MachineTranslated: true},
	}
	out := Rank(in, Options{RequestFilename: "Show.S01E01.WEB-DL"})
	assert.Equal(t, "good", out[0].ID)
}

func TestRank_HigherProviderReputationWins(t *testing.T) {
	in := []models.SubtitleDescriptor{
		{ID: "os", LanguageCode: "eng", Name: "Show.S01E01.srt", Format: models.FormatSRT, Downloads: 100, Rating: 4, Provider: models.ProviderOpenSubtitles},
		{ID: "yify", LanguageCode: "eng", Name: "Show.S01E02.srt", Format: models.FormatSRT, Downloads: 100, Rating: 4, Provider: models.ProviderYifySubtitles},
	}
	out := Rank(in, Options{})
	assert.Equal(t, "os", out[0].ID)
}
