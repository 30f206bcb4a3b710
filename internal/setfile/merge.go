package setfile

import (
	"fmt"
	"strings"

	"setforge/internal/normalize"
)

// Setfile is a template re-keyed for one survivor.
type Setfile struct {
	Name   string
	Params []Param

	// Updated lists the keys whose value differs from the template.
	Updated []string
}

// Name builds the output file name for the i-th survivor (zero based).
func Name(i int, symbol, timeframe string) string {
	if symbol == "" {
		symbol = fmt.Sprintf("no_symbol_%d", i)
	}
	if timeframe == "" {
		timeframe = "M15"
	}
	return fmt.Sprintf("%s_%s_set_%03d.set", symbol, timeframe, i+1)
}

// Merge walks tpl in order and substitutes the survivor's value wherever a
// survivor field matches the key after folding. Survivor fields the template
// does not know are ignored.
func Merge(tpl *Template, name string, survivor []normalize.Field) *Setfile {
	values := make(map[string]string, len(survivor))
	for _, f := range survivor {
		// later fields win, so normalized metrics override raw columns
		values[FoldKey(f.Name)] = f.Value
	}

	sf := &Setfile{Name: name, Params: make([]Param, 0, len(tpl.params))}
	for _, p := range tpl.params {
		raw, ok := values[FoldKey(p.Key)]
		if !ok {
			sf.Params = append(sf.Params, p)
			continue
		}
		v := survivorValue(raw)
		if v.String() != p.Value.String() {
			sf.Updated = append(sf.Updated, p.Key)
		}
		sf.Params = append(sf.Params, Param{Key: p.Key, Value: v})
	}
	return sf
}

// MergeRecord merges a normalized record, naming the file after its identity
// fields.
func MergeRecord(tpl *Template, i int, r normalize.Record) *Setfile {
	name := Name(i, r.Identity(normalize.Symbol), r.Identity(normalize.Timeframe))
	return Merge(tpl, name, r.Values())
}

func survivorValue(raw string) Value {
	s := strings.TrimSpace(raw)
	switch strings.ToLower(s) {
	case "true":
		return Bool(true)
	case "false":
		return Bool(false)
	}
	return Text(s)
}
