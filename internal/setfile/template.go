// Package setfile loads template setfiles, re-keys them with survivor values
// and writes the UTF-16LE files the strategy tester reads.
package setfile

import (
	"errors"
	"os"
	"strings"

	"setforge/internal/faults"
	"setforge/internal/textenc"
)

// Value is a parameter value. Most values are kept as text; booleans are
// tracked separately because they are written as 1 or 0.
type Value struct {
	text    string
	boolean bool
	isBool  bool
}

// Text wraps a literal value.
func Text(s string) Value { return Value{text: s} }

// Bool wraps a boolean value.
func Bool(b bool) Value { return Value{boolean: b, isBool: true} }

// IsBool reports whether v was built by Bool.
func (v Value) IsBool() bool { return v.isBool }

// String renders v the way it appears in a setfile.
func (v Value) String() string {
	if v.isBool {
		if v.boolean {
			return "1"
		}
		return "0"
	}
	return v.text
}

// Param is one key=value line.
type Param struct {
	Key   string
	Value Value
}

// FoldKey is the form keys are compared in: lower case with spaces and
// underscores removed, so risk_percent matches RiskPercent.
func FoldKey(key string) string {
	var sb strings.Builder
	sb.Grow(len(key))
	for _, r := range strings.ToLower(strings.TrimSpace(key)) {
		if r == ' ' || r == '_' {
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// Template is an ordered, read-only parameter list.
type Template struct {
	Source string
	params []Param
	index  map[string]int
}

// ParseTemplate reads key=value lines. Comment lines starting with ';' and
// lines without '=' are skipped. Anything after a "||" in the value is
// discarded, which drops the optimizer's range columns.
func ParseTemplate(source, content string) *Template {
	t := &Template{Source: source, index: make(map[string]int)}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		v, _, _ = strings.Cut(strings.TrimSpace(v), "||")
		fk := FoldKey(key)
		if _, dup := t.index[fk]; !dup {
			t.index[fk] = len(t.params)
		}
		t.params = append(t.params, Param{Key: key, Value: Text(strings.TrimSpace(v))})
	}
	return t
}

// ErrNoParams is returned for a template without a single key=value line.
var ErrNoParams = errors.New("no key=value parameters")

// LoadTemplate reads a template from disk. A missing file, or one without
// parameters, is a FormatError because the run cannot produce anything
// useful without it.
func LoadTemplate(path string) (*Template, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &faults.FormatError{Source: path, Element: "template file", Err: err}
	}
	if err != nil {
		return nil, faults.WrapIO("read template", path, err)
	}
	content, _, err := textenc.Decode(raw)
	if err != nil {
		return nil, &faults.FormatError{Source: path, Element: "template encoding", Err: err}
	}
	tpl := ParseTemplate(path, content)
	if tpl.Len() == 0 {
		return nil, &faults.FormatError{Source: path, Element: "template parameters", Err: ErrNoParams}
	}
	return tpl, nil
}

// Len returns the number of parameters.
func (t *Template) Len() int { return len(t.params) }

// Params returns a copy of the parameters in load order.
func (t *Template) Params() []Param {
	out := make([]Param, len(t.params))
	copy(out, t.params)
	return out
}

// Lookup finds a parameter by folded key.
func (t *Template) Lookup(key string) (Param, bool) {
	i, ok := t.index[FoldKey(key)]
	if !ok {
		return Param{}, false
	}
	return t.params[i], true
}
