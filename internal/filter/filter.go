// Package filter selects the records that pass every threshold of a spec.
package filter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"setforge/internal/normalize"
)

// Op is a comparison operator.
type Op string

const (
	GE Op = ">="
	GT Op = ">"
	LE Op = "<="
	LT Op = "<"
)

// Valid reports whether o is one of the four supported operators.
func (o Op) Valid() bool {
	switch o {
	case GE, GT, LE, LT:
		return true
	}
	return false
}

// Compare applies o to a and b with no tolerance.
func (o Op) Compare(a, b float64) bool {
	switch o {
	case GE:
		return a >= b
	case GT:
		return a > b
	case LE:
		return a <= b
	case LT:
		return a < b
	}
	return false
}

// Threshold is one clause of a Spec.
type Threshold struct {
	Metric string  `yaml:"metric"`
	Op     Op      `yaml:"op"`
	Value  float64 `yaml:"value"`
}

func (t Threshold) String() string {
	return t.Metric + string(t.Op) + strconv.FormatFloat(t.Value, 'f', -1, 64)
}

// Spec is an ordered list of thresholds, all of which must hold.
type Spec []Threshold

// DefaultSpec is the permissive first pass.
func DefaultSpec() Spec {
	return Spec{
		{Metric: "recoveryfactor", Op: GE, Value: 2},
		{Metric: "profitfactor", Op: GE, Value: 1.2},
		{Metric: "expectedpayoff", Op: GT, Value: 0},
		{Metric: "sharperatio", Op: GT, Value: 0.5},
		{Metric: "winrate", Op: GE, Value: 50},
		{Metric: "maxdrawdown", Op: LE, Value: 50},
		{Metric: "trades", Op: GE, Value: 50},
	}
}

// Lookup returns the first threshold on metric.
func (s Spec) Lookup(metric string) (Threshold, bool) {
	for _, t := range s {
		if t.Metric == metric {
			return t, true
		}
	}
	return Threshold{}, false
}

// With returns a copy of s with every threshold on metric set to value.
func (s Spec) With(metric string, value float64) Spec {
	out := make(Spec, len(s))
	copy(out, s)
	for i := range out {
		if out[i].Metric == metric {
			out[i].Value = value
		}
	}
	return out
}

func (s Spec) String() string {
	parts := make([]string, len(s))
	for i, t := range s {
		parts[i] = t.String()
	}
	return strings.Join(parts, " && ")
}

// operators in match order; two-character forms first.
var operators = []Op{GE, LE, GT, LT}

// Parse reads a clause such as "profitfactor>=1.2" or "maxdrawdown <= 50".
func Parse(clause string) (Threshold, error) {
	for _, op := range operators {
		i := strings.Index(clause, string(op))
		if i < 0 {
			continue
		}
		metric := strings.TrimSpace(clause[:i])
		raw := strings.TrimSpace(clause[i+len(op):])
		if metric == "" {
			return Threshold{}, fmt.Errorf("threshold %q: missing metric", clause)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Threshold{}, fmt.Errorf("threshold %q: %w", clause, err)
		}
		return Threshold{Metric: strings.ToLower(metric), Op: op, Value: v}, nil
	}
	return Threshold{}, fmt.Errorf("threshold %q: no operator (want one of >=, >, <=, <)", clause)
}

// ParseSpec parses each clause in order.
func ParseSpec(clauses []string) (Spec, error) {
	spec := make(Spec, 0, len(clauses))
	for _, c := range clauses {
		t, err := Parse(c)
		if err != nil {
			return nil, err
		}
		spec = append(spec, t)
	}
	return spec, nil
}

// Filter applies a Spec to normalized records.
type Filter struct {
	spec   Spec
	logger zerolog.Logger
}

// New returns a Filter for spec.
func New(spec Spec, logger zerolog.Logger) *Filter {
	return &Filter{spec: spec, logger: logger.With().Str("component", "filter").Logger()}
}

type clause struct {
	metric normalize.Metric
	Threshold
}

// Active returns the clauses that can be evaluated against records. Clauses
// naming an unknown metric, or a metric no record carries, are dropped with
// a warning.
func (f *Filter) Active(records []normalize.Record) Spec {
	var out Spec
	for _, c := range f.clauses(records) {
		out = append(out, c.Threshold)
	}
	return out
}

func (f *Filter) clauses(records []normalize.Record) []clause {
	var out []clause
	for _, t := range f.spec {
		m, ok := normalize.LookupMetric(t.Metric)
		if !ok {
			f.logger.Warn().Str("threshold", t.String()).Msg("unknown metric; skipping threshold")
			continue
		}
		if !t.Op.Valid() {
			f.logger.Warn().Str("threshold", t.String()).Msg("unknown operator; skipping threshold")
			continue
		}
		if !carried(records, m) {
			f.logger.Warn().Str("threshold", t.String()).Msg("metric not present in any record; skipping threshold")
			continue
		}
		out = append(out, clause{metric: m, Threshold: t})
	}
	return out
}

func carried(records []normalize.Record, m normalize.Metric) bool {
	for _, r := range records {
		if !r.Metric(m).Missing() {
			return true
		}
	}
	return false
}

// Apply returns, in input order, the records that satisfy every active
// clause. A record without a metric that other records carry fails that
// clause.
func (f *Filter) Apply(records []normalize.Record) []normalize.Record {
	active := f.clauses(records)
	var out []normalize.Record
	for _, r := range records {
		if f.pass(r, active) {
			out = append(out, r)
		}
	}
	f.logger.Info().
		Int("records", len(records)).
		Int("survivors", len(out)).
		Int("clauses", len(active)).
		Msg("filter applied")
	return out
}

func (f *Filter) pass(r normalize.Record, active []clause) bool {
	for _, c := range active {
		v := r.Metric(c.metric)
		if v.Missing() || !c.Op.Compare(v.Number, c.Value) {
			return false
		}
	}
	return true
}
