package setfile

import (
	"bytes"
	"errors"
	"os"
	"strings"

	"setforge/internal/faults"
	"setforge/internal/textenc"
)

// Header is the single section line every setfile starts with.
const Header = "[Common]"

// Encode renders params as "[Common]\n" plus one "key=value\n" line each,
// encoded as UTF-16LE behind an FF FE byte-order mark.
func Encode(params []Param) ([]byte, error) {
	var sb strings.Builder
	sb.WriteString(Header)
	sb.WriteByte('\n')
	for _, p := range params {
		sb.WriteString(p.Key)
		sb.WriteByte('=')
		sb.WriteString(p.Value.String())
		sb.WriteByte('\n')
	}
	return textenc.EncodeUTF16LE(sb.String())
}

// Encode renders the setfile's parameters.
func (s *Setfile) Encode() ([]byte, error) { return Encode(s.Params) }

// WriteFile encodes s and writes it to path.
func WriteFile(path string, s *Setfile) error {
	b, err := s.Encode()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0644); err != nil {
		return faults.WrapIO("write setfile", path, err)
	}
	return nil
}

var bomUTF16LE = []byte{0xFF, 0xFE}

// Decode reverses Encode. It insists on the byte-order mark and the header
// line; parameters come back as text.
func Decode(b []byte) ([]Param, error) {
	if !bytes.HasPrefix(b, bomUTF16LE) {
		return nil, &faults.FormatError{Source: "setfile", Element: "utf-16le byte-order mark"}
	}
	content, _, err := textenc.Decode(b)
	if err != nil {
		return nil, &faults.FormatError{Source: "setfile", Element: "utf-16le body", Err: err}
	}
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	if len(lines) == 0 || strings.TrimSuffix(lines[0], "\r") != Header {
		return nil, &faults.FormatError{Source: "setfile", Element: Header + " header"}
	}
	params := make([]Param, 0, len(lines)-1)
	for _, line := range lines[1:] {
		k, v, ok := strings.Cut(strings.TrimSuffix(line, "\r"), "=")
		if !ok {
			continue
		}
		params = append(params, Param{Key: k, Value: Text(v)})
	}
	return params, nil
}

// ReadFile decodes the setfile at path.
func ReadFile(path string) ([]Param, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, faults.WrapIO("read setfile", path, err)
	}
	params, err := Decode(b)
	if err != nil {
		var fe *faults.FormatError
		if errors.As(err, &fe) {
			fe.Source = path
		}
		return nil, err
	}
	return params, nil
}
