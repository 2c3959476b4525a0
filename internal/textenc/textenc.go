// Package textenc implements the Encoding Detector: a BOM sniff, then a
// fallback chain through golang.org/x/text's codec tables applied to the
// whole input, validated by counting U+FFFD replacement characters after
// decode. No charset guess is made from a byte-distribution sample.
package textenc

import (
	"bytes"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
)

const sampleSize = 4096

// replacementThreshold is the fraction of decoded runes that may be U+FFFD
// before a decode is considered a failure and the next fallback is tried.
const replacementThreshold = 0.10

// fallbackChain is ordered by regional likelihood, per spec §4.3.
var fallbackChain = []string{
	"utf-8",
	"windows-1252",
	"iso-8859-1",
	"iso-8859-15",
	"windows-1250",
	"windows-1251",
	"windows-1256",
	"windows-1255",
	"windows-1253",
	"windows-1254",
	"windows-1258",
	"windows-874",
	"koi8-r",
}

// Detect decodes raw bytes to a UTF-8 string, trying a BOM sniff first and
// then iterating the fallback chain in order: it returns the first
// candidate whose share of replacement characters is at most
// replacementThreshold, and otherwise the candidate with the fewest
// replacement characters. It always returns a UTF-8 string — when
// every candidate looks equally bad, the best-scoring one is still
// returned rather than erroring, since a subtitle with a handful of mangled
// glyphs is more useful than none at all.
func Detect(raw []byte) string {
	if s, ok := decodeBOM(raw); ok {
		return s
	}

	sample := raw
	if len(sample) > sampleSize {
		sample = sample[:sampleSize]
	}

	type candidate struct {
		name string
		text string
		bad  int
	}
	var best *candidate

	for _, name := range fallbackChain {
		text, err := decodeWith(name, raw)
		if err != nil {
			continue
		}
		bad := countReplacements(text)
		total := utf8.RuneCountInString(text)
		if total == 0 {
			continue
		}
		if float64(bad)/float64(total) <= replacementThreshold {
			return text
		}
		if best == nil || bad < best.bad {
			best = &candidate{name: name, text: text, bad: bad}
		}
		_ = sample
	}

	if best != nil {
		return best.text
	}
	return string(raw)
}

// decodeBOM handles the UTF-8/UTF-16LE/UTF-16BE byte-order-mark cases
// directly, stripping the BOM from the returned text.
func decodeBOM(raw []byte) (string, bool) {
	switch {
	case bytes.HasPrefix(raw, []byte{0xEF, 0xBB, 0xBF}):
		return string(raw[3:]), true
	case bytes.HasPrefix(raw, []byte{0xFF, 0xFE}):
		return decodeUTF16(raw[2:], false), true
	case bytes.HasPrefix(raw, []byte{0xFE, 0xFF}):
		return decodeUTF16(raw[2:], true), true
	}
	return "", false
}

func decodeUTF16(b []byte, bigEndian bool) string {
	if len(b)%2 != 0 {
		b = b[:len(b)-1]
	}
	u16 := make([]uint16, 0, len(b)/2)
	for i := 0; i < len(b); i += 2 {
		if bigEndian {
			u16 = append(u16, uint16(b[i])<<8|uint16(b[i+1]))
		} else {
			u16 = append(u16, uint16(b[i+1])<<8|uint16(b[i]))
		}
	}
	return string(utf16.Decode(u16))
}

func decodeWith(name string, raw []byte) (string, error) {
	if name == "utf-8" {
		if utf8.Valid(raw) {
			return string(raw), nil
		}
		return "", errInvalidUTF8
	}
	enc, err := lookup(name)
	if err != nil {
		return "", err
	}
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func lookup(name string) (encoding.Encoding, error) {
	if enc, ok := charmapAliases[name]; ok {
		return enc, nil
	}
	return htmlindex.Get(name)
}

// charmapAliases covers the codepages htmlindex doesn't expose under the
// exact name used in fallbackChain.
var charmapAliases = map[string]encoding.Encoding{
	"windows-1252": charmap.Windows1252,
	"iso-8859-1":   charmap.ISO8859_1,
	"iso-8859-15":  charmap.ISO8859_15,
	"windows-1250": charmap.Windows1250,
	"windows-1251": charmap.Windows1251,
	"windows-1256": charmap.Windows1256,
	"windows-1255": charmap.Windows1255,
	"windows-1253": charmap.Windows1253,
	"windows-1254": charmap.Windows1254,
	"windows-1258": charmap.Windows1258,
	"windows-874":  charmap.Windows874,
	"koi8-r":       charmap.KOI8R,
}

func countReplacements(s string) int {
	return strings.Count(s, "�")
}

type invalidUTF8Error struct{}

func (invalidUTF8Error) Error() string { return "textenc: invalid utf-8" }

var errInvalidUTF8 = invalidUTF8Error{}
