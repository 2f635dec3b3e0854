package httprule

import (
	"strings"
)

// Parse compiles a path template string. The returned error, if any, is a
// *CompileError wrapping one of the Err* sentinels.
func Parse(tmpl string) (*Template, error) {
	if !strings.HasPrefix(tmpl, "/") {
		return nil, &CompileError{Template: tmpl, Err: ErrMalformedSegment}
	}

	raw, verb, err := splitVerb(tmpl)
	if err != nil {
		return nil, err
	}

	parts, err := splitSegments(tmpl, raw[1:])
	if err != nil {
		return nil, err
	}

	t := &Template{
		Segments: make([]Segment, 0, len(parts)),
		Verb:     verb,
		Raw:      tmpl,
	}
	seen := make(map[string]bool, len(parts))
	for _, part := range parts {
		seg, err := parseSegment(tmpl, part)
		if err != nil {
			return nil, err
		}
		if seg.Kind == KindVariable {
			name := strings.Join(seg.FieldPath, ".")
			if seen[name] {
				return nil, &CompileError{Template: tmpl, Segment: part, Err: ErrMalformedSegment}
			}
			seen[name] = true
		}
		t.Segments = append(t.Segments, seg)
	}

	if err := checkWildcards(tmpl, t.Segments); err != nil {
		return nil, err
	}
	return t, nil
}

// splitVerb strips a trailing ":verb" suffix. The verb applies to the whole
// template, so only a colon in the final segment and outside braces counts.
func splitVerb(tmpl string) (rest, verb string, err error) {
	depth := 0
	idx := -1
	for i := 0; i < len(tmpl); i++ {
		switch tmpl[i] {
		case '{':
			depth++
		case '}':
			depth--
		case '/':
			if depth == 0 {
				idx = -1
			}
		case ':':
			if depth == 0 {
				idx = i
			}
		}
	}
	if idx < 0 {
		return tmpl, "", nil
	}
	rest, verb = tmpl[:idx], tmpl[idx+1:]
	if verb == "" || !isLiteral(verb) {
		return "", "", &CompileError{Template: tmpl, Segment: tmpl[idx:], Err: ErrMalformedSegment}
	}
	return rest, verb, nil
}

// splitSegments splits on "/" outside braces so that sub-patterns such as
// {name=shelves/*} survive intact.
func splitSegments(tmpl, s string) ([]string, error) {
	var parts []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth < 0 {
				return nil, &CompileError{Template: tmpl, Segment: s[start:], Err: ErrMalformedSegment}
			}
		case '/':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, &CompileError{Template: tmpl, Segment: s[start:], Err: ErrMalformedSegment}
	}
	parts = append(parts, s[start:])
	return parts, nil
}

func parseSegment(tmpl, part string) (Segment, error) {
	switch {
	case part == "*":
		return Segment{Kind: KindWildcard}, nil
	case part == "**":
		return Segment{Kind: KindDeepWildcard}, nil
	case strings.HasPrefix(part, "{"):
		return parseVariable(tmpl, part)
	case isLiteral(part):
		return Segment{Kind: KindLiteral, Literal: part}, nil
	default:
		return Segment{}, &CompileError{Template: tmpl, Segment: part, Err: ErrMalformedSegment}
	}
}

func parseVariable(tmpl, part string) (Segment, error) {
	malformed := &CompileError{Template: tmpl, Segment: part, Err: ErrMalformedSegment}
	if !strings.HasSuffix(part, "}") {
		return Segment{}, malformed
	}
	inner := part[1 : len(part)-1]

	fieldPath := inner
	pattern := ""
	if eq := strings.IndexByte(inner, '='); eq >= 0 {
		fieldPath, pattern = inner[:eq], inner[eq+1:]
		if pattern == "" {
			return Segment{}, malformed
		}
	}

	path := strings.Split(fieldPath, ".")
	for _, ident := range path {
		if !isIdent(ident) {
			return Segment{}, malformed
		}
	}

	seg := Segment{Kind: KindVariable, FieldPath: path}
	if pattern == "" {
		return seg, nil
	}
	for _, sub := range strings.Split(pattern, "/") {
		switch {
		case sub == "*":
			seg.Pattern = append(seg.Pattern, Segment{Kind: KindWildcard})
		case sub == "**":
			seg.Pattern = append(seg.Pattern, Segment{Kind: KindDeepWildcard})
		case isLiteral(sub):
			seg.Pattern = append(seg.Pattern, Segment{Kind: KindLiteral, Literal: sub})
		default:
			// Covers nested variables, empty sub-segments, and stray braces.
			return Segment{}, malformed
		}
	}
	return seg, nil
}

// checkWildcards enforces the template-wide invariant: at most one "**",
// and it must terminate the template. A "**" inside a variable sub-pattern
// counts the same as a bare one.
func checkWildcards(tmpl string, segs []Segment) error {
	greedy := 0
	for _, seg := range segs {
		greedy += countGreedy(seg)
	}
	if greedy > 1 {
		return &CompileError{Template: tmpl, Err: ErrMultipleTrailingWildcards}
	}
	if greedy == 0 {
		return nil
	}
	last := segs[len(segs)-1]
	if countGreedy(last) == 0 || !greedyIsLast(last) {
		return &CompileError{Template: tmpl, Err: ErrTrailingWildcardNotLast}
	}
	return nil
}

func countGreedy(seg Segment) int {
	switch seg.Kind {
	case KindDeepWildcard:
		return 1
	case KindVariable:
		n := 0
		for _, sub := range seg.Pattern {
			if sub.Kind == KindDeepWildcard {
				n++
			}
		}
		return n
	}
	return 0
}

func greedyIsLast(seg Segment) bool {
	if seg.Kind == KindDeepWildcard {
		return true
	}
	for i, sub := range seg.Pattern {
		if sub.Kind == KindDeepWildcard && i != len(seg.Pattern)-1 {
			return false
		}
	}
	return true
}

// isLiteral reports whether s is valid literal text for a single segment:
// non-empty and free of the characters that delimit the template grammar.
func isLiteral(s string) bool {
	if s == "" {
		return false
	}
	return !strings.ContainsAny(s, "/*{}:")
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		case c >= '0' && c <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
