// Package httprule compiles google.api.http path templates into matchable
// patterns. The grammar follows
// https://github.com/googleapis/googleapis/blob/master/google/api/http.proto#L224:
//
//	Template = "/" Segments [ Verb ] ;
//	Segments = Segment { "/" Segment } ;
//	Segment  = "*" | "**" | LITERAL | Variable ;
//	Variable = "{" FieldPath [ "=" Segments ] "}" ;
//	FieldPath = IDENT { "." IDENT } ;
//	Verb     = ":" LITERAL ;
//
// Nested variables are not allowed, "**" must be the final segment, and a
// template holds at most one "**".
package httprule

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedSegment reports a segment that does not parse as a literal,
	// wildcard, or variable.
	ErrMalformedSegment = errors.New("malformed segment")
	// ErrMultipleTrailingWildcards reports more than one "**" in a template.
	ErrMultipleTrailingWildcards = errors.New("multiple trailing wildcards")
	// ErrTrailingWildcardNotLast reports a "**" that is not the final segment.
	ErrTrailingWildcardNotLast = errors.New("trailing wildcard must be the last segment")
)

// CompileError describes why a template failed to compile.
type CompileError struct {
	// Template is the full template string handed to Parse.
	Template string
	// Segment is the offending segment, empty when the error concerns the
	// template as a whole.
	Segment string
	// Err is one of the Err* sentinels above.
	Err error
}

func (e *CompileError) Error() string {
	if e.Segment == "" {
		return fmt.Sprintf("parse %q: %v", e.Template, e.Err)
	}
	return fmt.Sprintf("parse %q: segment %q: %v", e.Template, e.Segment, e.Err)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// SegmentKind enumerates the segment forms of a compiled template.
type SegmentKind int

const (
	// KindLiteral matches its text exactly, case-sensitive.
	KindLiteral SegmentKind = iota
	// KindWildcard ("*") matches exactly one path segment without capturing.
	KindWildcard
	// KindDeepWildcard ("**") matches one or more remaining path segments
	// without capturing.
	KindDeepWildcard
	// KindVariable ("{field.path}" or "{field.path=sub/pattern}") matches
	// according to its sub-pattern and captures the matched text under its
	// field path.
	KindVariable
)

// Segment is one "/"-delimited element of a compiled template.
type Segment struct {
	Kind SegmentKind
	// Literal is the exact text for KindLiteral.
	Literal string
	// FieldPath is the dotted capture target for KindVariable.
	FieldPath []string
	// Pattern is the variable's sub-pattern; nil means the variable matches
	// exactly one segment. Sub-pattern segments are literals and wildcards
	// only, never variables.
	Pattern []Segment
}

// Template is a compiled path template. Templates are immutable after Parse
// and safe for concurrent use.
type Template struct {
	// Segments in template order.
	Segments []Segment
	// Verb is the ":verb" suffix, empty when absent.
	Verb string
	// Raw is the original template string.
	Raw string
}

// Variables returns the dotted field paths captured by the template, in
// template order.
func (t *Template) Variables() []string {
	var vars []string
	for _, seg := range t.Segments {
		if seg.Kind == KindVariable {
			vars = append(vars, strings.Join(seg.FieldPath, "."))
		}
	}
	return vars
}

// Covers reports whether t matches every path that o matches. A route table
// that tries templates in registration order can use it to flag a later
// registration that an earlier one makes unreachable; captures play no part
// in the comparison.
func (t *Template) Covers(o *Template) bool {
	if t.Verb != o.Verb {
		return false
	}
	return covers(flatten(t.Segments), flatten(o.Segments))
}

// flatten erases captures: variables without a sub-pattern become single
// wildcards, variables with one are replaced by their sub-pattern segments.
func flatten(segs []Segment) []Segment {
	out := make([]Segment, 0, len(segs))
	for _, seg := range segs {
		switch {
		case seg.Kind == KindVariable && seg.Pattern == nil:
			out = append(out, Segment{Kind: KindWildcard})
		case seg.Kind == KindVariable:
			out = append(out, flatten(seg.Pattern)...)
		default:
			out = append(out, seg)
		}
	}
	return out
}

func covers(a, b []Segment) bool {
	if len(a) == 0 {
		return len(b) == 0
	}
	if a[0].Kind == KindDeepWildcard {
		return len(b) > 0
	}
	if len(b) == 0 {
		return false
	}
	switch a[0].Kind {
	case KindWildcard:
		// one segment of any text, so everything except a greedy tail
		if b[0].Kind == KindDeepWildcard {
			return false
		}
	case KindLiteral:
		if b[0].Kind != KindLiteral || a[0].Literal != b[0].Literal {
			return false
		}
	}
	return covers(a[1:], b[1:])
}

func (t *Template) String() string {
	return t.Raw
}
