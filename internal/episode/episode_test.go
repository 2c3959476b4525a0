package episode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatches_SxEForm(t *testing.T) {
	assert.True(t, Matches("Show.S01E02.720p.WEB-DL.srt", 1, 2))
	assert.False(t, Matches("Show.S01E02.720p.WEB-DL.srt", 1, 3))
	assert.False(t, Matches("Show.S01E02.720p.WEB-DL.srt", 2, 2))
}

func TestMatches_AltForms(t *testing.T) {
	assert.True(t, Matches("Show 1x02 HDTV", 1, 2))
	assert.True(t, Matches("Show Season 1 Episode 2", 1, 2))
	assert.True(t, Matches("Show.S01.E02.srt", 1, 2))
}

func TestMatches_AnimeForms(t *testing.T) {
	assert.True(t, Matches("[Group] Show - EP 05 [1080p]", 0, 5))
	assert.True(t, Matches("[Group] Show - E05 [1080p]", 0, 5))
	assert.True(t, Matches("Show Episode 05", 0, 5))
	assert.True(t, Matches("Show Capitulo 05", 0, 5))
	assert.True(t, Matches("Show Episódio 05", 0, 5))
	assert.True(t, Matches("第05話", 0, 5))
}

func TestMatches_DoesNotMatchResolutionOrYear(t *testing.T) {
	assert.False(t, Matches("Show.1080p.WEB-DL.x264", 0, 1080))
	assert.False(t, Matches("Show.2024.1080p", 0, 2024))
}

func TestMatches_BareNumberBoundedByDelimiters(t *testing.T) {
	assert.True(t, Matches("[Group] Show - 05 [1080p]", 0, 5))
}

func TestMatches_Range(t *testing.T) {
	assert.True(t, Matches("Show.S01.01-12.Complete", 0, 7))
	assert.False(t, Matches("Show.S01.01-12.Complete", 0, 13))
}

func TestBestMatch_PrefersSxEOverAnimeForm(t *testing.T) {
	m, ok := BestMatch("Show.S01E05.EP05.srt", 1, 5)
	assert.True(t, ok)
	assert.Equal(t, FormSxE, m.Form)
}
