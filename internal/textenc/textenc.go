// Package textenc detects and converts the text encodings used by optimizer
// exports, tester reports and setfiles.
package textenc

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Encoding identifies how a byte stream was decoded.
type Encoding int

const (
	UTF8 Encoding = iota
	UTF16LE
	UTF16BE
	Windows1252
)

func (e Encoding) String() string {
	switch e {
	case UTF16LE:
		return "utf-16le"
	case UTF16BE:
		return "utf-16be"
	case Windows1252:
		return "windows-1252"
	}
	return "utf-8"
}

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// ErrOddLength is returned when a UTF-16 fallback is attempted on a stream
// that cannot hold whole code units.
var ErrOddLength = errors.New("utf-16 data has odd length")

// Decode returns b as a Go string. A byte-order mark decides the encoding when
// present; otherwise UTF-8 is tried first. Text holding NUL bytes is UTF-16LE
// missing its mark, kept only when it decodes cleanly. Everything else is
// 8-bit text, read as Windows-1252.
func Decode(b []byte) (string, Encoding, error) {
	switch {
	case bytes.HasPrefix(b, bomUTF8):
		return string(b[len(bomUTF8):]), UTF8, nil
	case bytes.HasPrefix(b, bomUTF16LE):
		s, err := decodeUTF16(b[2:], unicode.LittleEndian)
		return s, UTF16LE, err
	case bytes.HasPrefix(b, bomUTF16BE):
		s, err := decodeUTF16(b[2:], unicode.BigEndian)
		return s, UTF16BE, err
	case bytes.IndexByte(b, 0) < 0:
		if utf8.Valid(b) {
			return string(b), UTF8, nil
		}
		s, err := DecodeWindows1252(b)
		return s, Windows1252, err
	}
	s, err := decodeUTF16(b, unicode.LittleEndian)
	if err != nil {
		return "", UTF16LE, err
	}
	if !strings.ContainsRune(s, utf8.RuneError) {
		return s, UTF16LE, nil
	}
	s, err = DecodeWindows1252(b)
	return s, Windows1252, err
}

// DecodeWindows1252 decodes 8-bit text. Every byte maps to a rune.
func DecodeWindows1252(b []byte) (string, error) {
	out, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("decode windows-1252: %w", err)
	}
	return string(out), nil
}

func decodeUTF16(b []byte, order unicode.Endianness) (string, error) {
	if len(b)%2 != 0 {
		return "", ErrOddLength
	}
	out, err := unicode.UTF16(order, unicode.IgnoreBOM).NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("decode utf-16: %w", err)
	}
	return string(out), nil
}

// EncodeUTF16LE encodes s as UTF-16 little-endian preceded by the FF FE mark.
func EncodeUTF16LE(s string) ([]byte, error) {
	body, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("encode utf-16le: %w", err)
	}
	out := make([]byte, 0, len(bomUTF16LE)+len(body))
	out = append(out, bomUTF16LE...)
	return append(out, body...), nil
}

// HasBOM reports whether b starts with any byte-order mark Decode knows.
func HasBOM(b []byte) bool {
	return bytes.HasPrefix(b, bomUTF8) || HasUTF16BOM(b)
}

// HasUTF16BOM reports whether b starts with a UTF-16 byte-order mark.
func HasUTF16BOM(b []byte) bool {
	return bytes.HasPrefix(b, bomUTF16LE) || bytes.HasPrefix(b, bomUTF16BE)
}
