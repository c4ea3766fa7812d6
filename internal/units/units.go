// Package units discovers the fan-out units listed in a stage's output.
package units

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"hazop/internal/config"
	"hazop/internal/extract"
	"hazop/internal/logging"
)

// Unit is one dynamically discovered work item.
type Unit struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func (u Unit) String() string {
	if u.Name == "" {
		return strconv.Itoa(u.ID)
	}
	return fmt.Sprintf("%d (%s)", u.ID, u.Name)
}

// Source tells which path produced the unit list.
type Source string

const (
	SourceStructured Source = "structured"
	SourceHeading    Source = "heading"
)

// ErrNoUnits means neither path found a unit.
var ErrNoUnits = errors.New("no units found")

// EnumerationError is returned when no unit can be recovered.
// It always aborts the run.
type EnumerationError struct {
	SourceStage string
	Cause       error
}

func (e *EnumerationError) Error() string {
	if e.SourceStage == "" {
		return fmt.Sprintf("unit enumeration failed: %v", e.Cause)
	}
	return fmt.Sprintf("unit enumeration from %s failed: %v", e.SourceStage, e.Cause)
}

func (e *EnumerationError) Unwrap() error { return e.Cause }

// Result is an enumerated unit list with its provenance.
type Result struct {
	Units  []Unit
	Source Source
	// Method is set when Source is SourceStructured.
	Method extract.Method
}

// Enumerator derives units from a semi-structured payload.
type Enumerator struct {
	cfg       config.UnitsConfig
	extractor *extract.Extractor
	heading   *regexp.Regexp
}

// NewEnumerator builds an enumerator for the configured record shape.
func NewEnumerator(cfg config.UnitsConfig) *Enumerator {
	marker := cfg.HeadingMarker
	if marker == "" {
		marker = "Node"
	}
	return &Enumerator{
		cfg:       cfg,
		extractor: extract.New(),
		heading:   regexp.MustCompile(`(?m)###\s*` + regexp.QuoteMeta(marker) + `\s+(\d+):[ \t]*(.+)$`),
	}
}

// Stats returns the extraction counters of this enumerator.
func (e *Enumerator) Stats() extract.Stats {
	return e.extractor.Stats()
}

// Enumerate returns the units in payload, in discovery order, first occurrence winning.
// The structured path is tried first; the heading path runs when it fails or finds nothing.
func (e *Enumerator) Enumerate(payload string) (*Result, error) {
	units, method, structErr := e.fromStructured(payload)
	if structErr == nil && len(units) > 0 {
		logging.Units("enumerated %d units via %s", len(units), method)
		return &Result{Units: units, Source: SourceStructured, Method: method}, nil
	}
	if structErr != nil {
		logging.UnitsWarn("structured enumeration failed, falling back to headings: %v", structErr)
	} else {
		logging.UnitsWarn("structured enumeration found no units, falling back to headings")
	}

	units = e.fromHeadings(payload)
	if len(units) > 0 {
		logging.Units("enumerated %d units via headings", len(units))
		return &Result{Units: units, Source: SourceHeading}, nil
	}

	cause := ErrNoUnits
	if structErr != nil {
		cause = errors.Join(ErrNoUnits, structErr)
	}
	return nil, &EnumerationError{SourceStage: e.cfg.SourceStage, Cause: cause}
}

func (e *Enumerator) fromStructured(payload string) ([]Unit, extract.Method, error) {
	res, err := e.extractor.Extract(payload)
	if err != nil {
		return nil, "", err
	}

	var doc map[string]json.RawMessage
	if err := res.Decode(&doc); err != nil {
		return nil, res.Method, fmt.Errorf("payload is not an object: %w", err)
	}
	rawList, ok := doc[e.cfg.Collection]
	if !ok {
		return nil, res.Method, fmt.Errorf("missing %q collection", e.cfg.Collection)
	}

	var records []map[string]interface{}
	if err := json.Unmarshal(rawList, &records); err != nil {
		return nil, res.Method, fmt.Errorf("%q is not a list of records: %w", e.cfg.Collection, err)
	}

	var out []Unit
	seen := make(map[int]bool)
	for i, rec := range records {
		id, err := toID(rec[e.cfg.IDField])
		if err != nil {
			logging.UnitsWarn("skipping %s[%d]: %s %v", e.cfg.Collection, i, e.cfg.IDField, err)
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		name, _ := rec[e.cfg.NameField].(string)
		out = append(out, Unit{ID: id, Name: strings.TrimSpace(name)})
	}
	return out, res.Method, nil
}

func (e *Enumerator) fromHeadings(payload string) []Unit {
	var out []Unit
	seen := make(map[int]bool)
	for _, m := range e.heading.FindAllStringSubmatch(payload, -1) {
		id, err := strconv.Atoi(m[1])
		if err != nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, Unit{ID: id, Name: strings.TrimSpace(m[2])})
	}
	return out
}

// toID accepts integral JSON numbers and numeric strings.
func toID(v interface{}) (int, error) {
	switch x := v.(type) {
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) {
			return 0, fmt.Errorf("not an integer: %v", x)
		}
		if x < float64(math.MinInt) || x >= float64(math.MaxInt) {
			return 0, fmt.Errorf("out of range: %v", x)
		}
		return int(x), nil
	case string:
		id, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, fmt.Errorf("not an integer: %q", x)
		}
		return id, nil
	case nil:
		return 0, errors.New("missing")
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
