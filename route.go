package restbridge

import (
	"log/slog"
	"strings"
)

// RouteTable maps HTTP requests onto bindings. Templates are tried strictly
// in registration order per HTTP method and the first match wins; nothing is
// reordered by specificity, so a broad template registered early hides a
// narrower one registered later. Add warns when that happens, it never
// rejects.
//
// Build the table fully before serving; Match takes no lock.
type RouteTable struct {
	log      *slog.Logger
	patterns map[string][]*Binding
}

func NewRouteTable(log *slog.Logger) *RouteTable {
	if log == nil {
		log = slog.Default()
	}
	return &RouteTable{
		log:      log,
		patterns: make(map[string][]*Binding),
	}
}

func (t *RouteTable) Add(b *Binding) {
	for _, earlier := range t.patterns[b.HTTPMethod] {
		if earlier.Template.Covers(b.Template) {
			t.log.Warn("route unreachable, shadowed by earlier registration",
				"method", b.HTTPMethod,
				"template", b.Template.Raw,
				"rpc", b.Method.GetFullyQualifiedName(),
				"shadowed_by", earlier.Template.Raw,
				"shadowed_by_rpc", earlier.Method.GetFullyQualifiedName())
			break
		}
	}
	t.patterns[b.HTTPMethod] = append(t.patterns[b.HTTPMethod], b)
}

// Match finds the first registered binding for the method and path. Path must
// be the escaped request path (url.URL.EscapedPath), so captures percent-decode
// exactly once and an encoded slash cannot split a segment. The returned map
// holds the template's captures keyed by dotted field path.
func (t *RouteTable) Match(method, path string) (*Binding, map[string]string, bool) {
	if t == nil {
		return nil, nil, false
	}
	if !strings.HasPrefix(path, "/") {
		return nil, nil, false
	}
	pathComponents := strings.Split(path[1:], "/")
	lastPathComponent := pathComponents[len(pathComponents)-1]
	for _, b := range t.patterns[method] {
		comps := pathComponents
		if verb := b.Template.Verb; verb != "" {
			idx := -1
			if strings.HasSuffix(lastPathComponent, ":"+verb) {
				idx = len(lastPathComponent) - len(verb) - 1
			}
			if idx < 0 {
				continue
			}
			if idx == 0 {
				return nil, nil, false
			}
			comps = make([]string, len(pathComponents))
			copy(comps, pathComponents)
			comps[len(comps)-1] = lastPathComponent[:idx]
		}
		params, ok := b.Template.Match(comps)
		if !ok {
			continue
		}
		return b, params, true
	}
	return nil, nil, false
}
