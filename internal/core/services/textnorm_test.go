package services

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

func TestNormalizeText(t *testing.T) {
	utf16le, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().Bytes([]byte("Größe"))
	assert.NoError(t, err)
	utf16be, err := unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewEncoder().Bytes([]byte("Größe"))
	assert.NoError(t, err)

	tests := []struct {
		name    string
		input   []byte
		want    string
		charset string
	}{
		{"plain utf8", []byte("héllo wörld"), "héllo wörld", "UTF-8"},
		{"utf8 bom stripped", append([]byte{0xEF, 0xBB, 0xBF}, "abc"...), "abc", "UTF-8"},
		{"utf16 little endian", utf16le, "Größe", "UTF-16LE"},
		{"utf16 big endian", utf16be, "Größe", "UTF-16BE"},
		{"empty", []byte{}, "", "UTF-8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, charset := NormalizeText(tt.input)
			assert.Equal(t, tt.want, string(out))
			assert.Equal(t, tt.charset, charset)
		})
	}
}

func TestNormalizeText_LegacyEncoding(t *testing.T) {
	latin, err := charmap.Windows1252.NewEncoder().Bytes([]byte("Le café est très bon, déjà vu à Paris."))
	assert.NoError(t, err)

	out, charset := NormalizeText(latin)
	assert.True(t, utf8.Valid(out))
	assert.Contains(t, string(out), "Paris.")
	assert.Greater(t, len(out), len(latin))
	assert.NotEqual(t, "UTF-8", charset)
}

func TestLookupEncoding(t *testing.T) {
	assert.Equal(t, charmap.ISO8859_1, lookupEncoding("ISO-8859-1"))
	assert.Equal(t, charmap.Windows1252, lookupEncoding("windows-1252"))
	assert.Nil(t, lookupEncoding("x-unknown"))
}
