// Package resolver parses and substitutes {{tasks.<id>.outputs.<field>}}
// references in task payloads. Strings are parsed once into a segment list
// (literal text or output reference); the resolver walks that form, never
// the raw string.
package resolver

import (
	"fmt"
	"regexp"
)

// refPattern matches {{tasks.<node_id>.outputs.<field_name>}} references.
// No other template syntax is supported.
var refPattern = regexp.MustCompile(`\{\{tasks\.([a-zA-Z0-9_-]+)\.outputs\.([a-zA-Z0-9_-]+)\}\}`)

// Ref names one upstream output.
type Ref struct {
	NodeID string
	Field  string
}

func (r Ref) String() string {
	return fmt.Sprintf("{{tasks.%s.outputs.%s}}", r.NodeID, r.Field)
}

// Segment is one piece of a parsed input string: literal text or a
// reference, never both.
type Segment struct {
	Text string
	Ref  *Ref
}

// ParseString splits an input string into literal and reference segments.
// A string with no references parses to a single literal segment.
func ParseString(s string) []Segment {
	matches := refPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return []Segment{{Text: s}}
	}

	var segments []Segment
	last := 0
	for _, m := range matches {
		if m[0] > last {
			segments = append(segments, Segment{Text: s[last:m[0]]})
		}
		segments = append(segments, Segment{Ref: &Ref{
			NodeID: s[m[2]:m[3]],
			Field:  s[m[4]:m[5]],
		}})
		last = m[1]
	}
	if last < len(s) {
		segments = append(segments, Segment{Text: s[last:]})
	}
	return segments
}

// ExactRef reports whether the string is exactly one reference with no
// surrounding text. Only such strings may resolve to non-string values.
func ExactRef(s string) (Ref, bool) {
	segments := ParseString(s)
	if len(segments) == 1 && segments[0].Ref != nil {
		return *segments[0].Ref, true
	}
	return Ref{}, false
}

// ExtractRefs deep-walks a payload value and collects every reference, in
// encounter order. Handles strings, maps, and arrays; scalars carry no
// references.
func ExtractRefs(value interface{}) []Ref {
	var refs []Ref
	walkRefs(value, &refs)
	return refs
}

func walkRefs(value interface{}, refs *[]Ref) {
	switch v := value.(type) {
	case string:
		for _, seg := range ParseString(v) {
			if seg.Ref != nil {
				*refs = append(*refs, *seg.Ref)
			}
		}
	case map[string]interface{}:
		for _, elem := range v {
			walkRefs(elem, refs)
		}
	case []interface{}:
		for _, elem := range v {
			walkRefs(elem, refs)
		}
	}
}

// OutputLookup fetches a completed upstream output by node id and field.
type OutputLookup func(nodeID, field string) (interface{}, bool)

// ResolvePayload substitutes every reference in the payload using completed
// upstream outputs and returns a new payload; the input is not mutated.
//
// A string equal to exactly one reference is replaced by the raw output
// value, whatever its type. References embedded in longer strings
// interpolate string outputs only; a non-string output there is an error.
// Missing outputs are an error: dependency invariants make them impossible
// in a validated DAG, so they are reported loudly rather than papered over.
func ResolvePayload(payload map[string]interface{}, lookup OutputLookup) (map[string]interface{}, error) {
	resolved := make(map[string]interface{}, len(payload))
	for key, value := range payload {
		rv, err := resolveValue(value, lookup)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", key, err)
		}
		resolved[key] = rv
	}
	return resolved, nil
}

func resolveValue(value interface{}, lookup OutputLookup) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return resolveString(v, lookup)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, elem := range v {
			rv, err := resolveValue(elem, lookup)
			if err != nil {
				return nil, fmt.Errorf("%q: %w", key, err)
			}
			out[key] = rv
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, elem := range v {
			rv, err := resolveValue(elem, lookup)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = rv
		}
		return out, nil
	default:
		return value, nil
	}
}

func resolveString(s string, lookup OutputLookup) (interface{}, error) {
	segments := ParseString(s)

	// Whole-string reference: substitute the raw value.
	if len(segments) == 1 && segments[0].Ref != nil {
		ref := segments[0].Ref
		value, ok := lookup(ref.NodeID, ref.Field)
		if !ok {
			return nil, fmt.Errorf("missing output %s", ref)
		}
		return value, nil
	}

	result := ""
	for _, seg := range segments {
		if seg.Ref == nil {
			result += seg.Text
			continue
		}
		value, ok := lookup(seg.Ref.NodeID, seg.Ref.Field)
		if !ok {
			return nil, fmt.Errorf("missing output %s", seg.Ref)
		}
		str, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("cannot interpolate non-string output %s into %q", seg.Ref, s)
		}
		result += str
	}
	return result, nil
}
