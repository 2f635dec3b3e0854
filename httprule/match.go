package httprule

import (
	"net/url"
	"strings"
)

// Match matches the template against a pre-split request path. Segments come
// from the escaped form of the path and must not include the ":verb" suffix;
// the caller strips it when the template declares one (see the route table).
// On success it returns the captured variables keyed by dotted field path,
// with every captured segment percent-decoded exactly once.
//
// Matching is positional and case-sensitive with no normalization. A variable
// without a sub-pattern consumes exactly one segment; a greedy variable
// consumes all remaining segments joined by "/".
func (t *Template) Match(segments []string) (map[string]string, bool) {
	vars := make(map[string]string)
	i := 0
	for _, seg := range t.Segments {
		switch seg.Kind {
		case KindLiteral:
			if i >= len(segments) || segments[i] != seg.Literal {
				return nil, false
			}
			i++
		case KindWildcard:
			if i >= len(segments) {
				return nil, false
			}
			i++
		case KindDeepWildcard:
			// Greedy tail: one or more remaining segments.
			if i >= len(segments) {
				return nil, false
			}
			i = len(segments)
		case KindVariable:
			n, ok := matchVariable(seg, segments[i:])
			if !ok {
				return nil, false
			}
			captured, err := unescapeJoin(segments[i : i+n])
			if err != nil {
				return nil, false
			}
			vars[strings.Join(seg.FieldPath, ".")] = captured
			i += n
		}
	}
	if i != len(segments) {
		return nil, false
	}
	return vars, true
}

// matchVariable reports how many path segments the variable consumes, or
// false when its sub-pattern does not match.
func matchVariable(seg Segment, rest []string) (int, bool) {
	if seg.Pattern == nil {
		if len(rest) == 0 {
			return 0, false
		}
		return 1, true
	}
	i := 0
	for _, sub := range seg.Pattern {
		switch sub.Kind {
		case KindLiteral:
			if i >= len(rest) || rest[i] != sub.Literal {
				return 0, false
			}
			i++
		case KindWildcard:
			if i >= len(rest) {
				return 0, false
			}
			i++
		case KindDeepWildcard:
			if i >= len(rest) {
				return 0, false
			}
			i = len(rest)
		}
	}
	return i, true
}

// unescapeJoin percent-decodes each segment independently and rejoins with
// "/". Decoding per segment keeps an encoded %2F from splitting a capture.
func unescapeJoin(segments []string) (string, error) {
	if len(segments) == 1 {
		return url.PathUnescape(segments[0])
	}
	decoded := make([]string, len(segments))
	for i, s := range segments {
		d, err := url.PathUnescape(s)
		if err != nil {
			return "", err
		}
		decoded[i] = d
	}
	return strings.Join(decoded, "/"), nil
}
