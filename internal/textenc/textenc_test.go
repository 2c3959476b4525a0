package textenc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/encoding/charmap"
)

func TestDetect_PlainUTF8(t *testing.T) {
	in := "1\n00:00:01,000 --> 00:00:02,000\nHëllo wörld\n"
	assert.Equal(t, in, Detect([]byte(in)))
}

func TestDetect_UTF8BOM(t *testing.T) {
	in := []byte{0xEF, 0xBB, 0xBF}
	in = append(in, []byte("Hello")...)
	assert.Equal(t, "Hello", Detect(in))
}

func TestDetect_UTF16LEBOM(t *testing.T) {
	raw := []byte{0xFF, 0xFE, 'H', 0x00, 'i', 0x00}
	assert.Equal(t, "Hi", Detect(raw))
}

func TestDetect_UTF16BEBOM(t *testing.T) {
	raw := []byte{0xFE, 0xFF, 0x00, 'H', 0x00, 'i'}
	assert.Equal(t, "Hi", Detect(raw))
}

func TestDetect_Windows1252RoundTrip(t *testing.T) {
	original := "café – über naïve"
	enc, err := charmap.Windows1252.NewEncoder().String(original)
	if err != nil {
		t.Skipf("windows-1252 cannot encode this fixture: %v", err)
	}
	got := Detect([]byte(enc))
	assert.Equal(t, original, got)
}

func TestDetect_Windows1256RoundTrip(t *testing.T) {
	original := "English text only"
	enc, err := charmap.Windows1256.NewEncoder().String(original)
	if err != nil {
		t.Skipf("windows-1256 cannot encode this fixture: %v", err)
	}
	got := Detect([]byte(enc))
	assert.Equal(t, original, got)
}

func TestDetect_ISO8859_1RoundTrip(t *testing.T) {
	original := "Résumé"
	enc, err := charmap.ISO8859_1.NewEncoder().String(original)
	if err != nil {
		t.Skipf("iso-8859-1 cannot encode this fixture: %v", err)
	}
	got := Detect([]byte(enc))
	assert.Equal(t, original, got)
}

func TestDetect_NeverPanicsOnGarbage(t *testing.T) {
	assert.NotPanics(t, func() {
		Detect([]byte{0xff, 0xfe, 0x00, 0x01, 0x02, 0xde, 0xad, 0xbe, 0xef})
	})
}
