// Package extract pulls a JSON document out of semi-structured stage output.
//
// Stage scripts print JSON in three shapes: the whole text, a ```json fenced block
// inside prose, or an untagged ``` block. Each shape has a pure Strategy; the
// Extractor tries them in order and tags the result with the Method that won.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"hazop/internal/logging"
)

// Method identifies which strategy produced a Result.
type Method string

const (
	MethodWholeText    Method = "whole_text"
	MethodTaggedFence  Method = "tagged_fence"
	MethodGenericFence Method = "generic_fence"
)

// MaxSnippetLen bounds the text quoted in an ExtractionError.
const MaxSnippetLen = 200

// ErrNoCandidate is returned by a strategy whose shape is absent from the text.
var ErrNoCandidate = errors.New("no candidate")

// Strategy locates a JSON candidate in text. Find must be pure.
type Strategy struct {
	Method Method
	Find   func(text string) (string, error)
}

// DefaultStrategies is the chain used by Extract, in priority order.
var DefaultStrategies = []Strategy{
	{Method: MethodWholeText, Find: WholeText},
	{Method: MethodTaggedFence, Find: TaggedFence},
	{Method: MethodGenericFence, Find: GenericFence},
}

// Result is a successfully decoded JSON document.
type Result struct {
	Method Method
	Raw    json.RawMessage
	Value  interface{}
}

// Decode unmarshals the document into v.
func (r *Result) Decode(v interface{}) error {
	return json.Unmarshal(r.Raw, v)
}

// MethodError records why one strategy did not produce a document.
type MethodError struct {
	Method Method
	Err    error
}

func (e MethodError) Error() string {
	return fmt.Sprintf("%s: %v", e.Method, e.Err)
}

// ExtractionError is returned when every strategy failed.
type ExtractionError struct {
	Snippet  string
	Attempts []MethodError
}

func (e *ExtractionError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.Error()
	}
	return fmt.Sprintf("no structured data found (%s) in %q", strings.Join(parts, "; "), e.Snippet)
}

// Unwrap exposes the per-strategy errors to errors.Is/As.
func (e *ExtractionError) Unwrap() []error {
	errs := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		errs[i] = a.Err
	}
	return errs
}

// Stats tracks which strategies resolve payloads.
type Stats struct {
	TotalProcessed int
	ByMethod       map[Method]int
	Failures       int
}

// Extractor runs a strategy chain.
type Extractor struct {
	strategies []Strategy

	mu    sync.Mutex
	stats Stats
}

// New creates an extractor. With no strategies it uses DefaultStrategies.
func New(strategies ...Strategy) *Extractor {
	if len(strategies) == 0 {
		strategies = DefaultStrategies
	}
	return &Extractor{
		strategies: strategies,
		stats:      Stats{ByMethod: make(map[Method]int)},
	}
}

var defaultExtractor = New()

// Extract runs DefaultStrategies over text.
func Extract(text string) (*Result, error) {
	return defaultExtractor.Extract(text)
}

// Extract returns the first document a strategy yields.
func (x *Extractor) Extract(text string) (*Result, error) {
	var attempts []MethodError

	for _, s := range x.strategies {
		candidate, err := s.Find(text)
		if err == nil {
			var res *Result
			res, err = decode(candidate)
			if err == nil {
				res.Method = s.Method
				x.record(s.Method, true)
				logging.ExtractDebug("resolved via %s (%d bytes)", s.Method, len(res.Raw))
				return res, nil
			}
		}
		attempts = append(attempts, MethodError{Method: s.Method, Err: err})
	}

	x.record("", false)
	logging.ExtractDebug("extraction failed after %d strategies", len(attempts))
	return nil, &ExtractionError{Snippet: Snippet(text), Attempts: attempts}
}

// Stats returns a copy of the extractor's counters.
func (x *Extractor) Stats() Stats {
	x.mu.Lock()
	defer x.mu.Unlock()

	out := Stats{TotalProcessed: x.stats.TotalProcessed, Failures: x.stats.Failures, ByMethod: make(map[Method]int)}
	for k, v := range x.stats.ByMethod {
		out.ByMethod[k] = v
	}
	return out
}

func (x *Extractor) record(m Method, ok bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.stats.TotalProcessed++
	if ok {
		x.stats.ByMethod[m]++
	} else {
		x.stats.Failures++
	}
}

// decode accepts a JSON object or array.
func decode(candidate string) (*Result, error) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return nil, errors.New("empty candidate")
	}
	if c, _ := utf8.DecodeRuneInString(candidate); c != '{' && c != '[' {
		return nil, fmt.Errorf("not a JSON object or array (starts with %q)", c)
	}

	var v interface{}
	if err := json.Unmarshal([]byte(candidate), &v); err != nil {
		return nil, err
	}
	return &Result{Raw: json.RawMessage(candidate), Value: v}, nil
}

// Snippet trims text to at most MaxSnippetLen runes for diagnostics.
func Snippet(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= MaxSnippetLen {
		return text
	}
	runes := []rune(text)
	return string(runes[:MaxSnippetLen]) + "..."
}
