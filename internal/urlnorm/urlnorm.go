// Package urlnorm canonicalizes raw URL lists so the pipeline sees exactly
// one representative per scheme/trailing-slash variant group.
package urlnorm

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var schemePattern = regexp.MustCompile(`^(https?)://(.+)$`)

// Canonicalize normalizes rawURLs into a duplicate-free set of canonical
// URLs. URLs differing only by scheme collapse to one entry preferring
// https; URLs differing only by a trailing slash collapse to the
// slash-terminated form. Output order is sorted for determinism.
// A raw URL without an http/https scheme is malformed input.
func Canonicalize(rawURLs []string) ([]string, error) {
	// rest -> set of schemes observed for it
	schemes := make(map[string]map[string]struct{})
	for _, raw := range rawURLs {
		m := schemePattern.FindStringSubmatch(raw)
		if m == nil {
			return nil, fmt.Errorf("malformed url %q: expected http:// or https:// prefix", raw)
		}
		scheme, rest := m[1], m[2]
		if schemes[rest] == nil {
			schemes[rest] = make(map[string]struct{})
		}
		schemes[rest][scheme] = struct{}{}
	}

	// Fold each non-slash-terminated group into its slash-terminated
	// sibling when both exist, accumulating the scheme sets.
	for rest, set := range schemes {
		if strings.HasSuffix(rest, "/") {
			continue
		}
		slashed := rest + "/"
		if other, ok := schemes[slashed]; ok {
			for scheme := range set {
				other[scheme] = struct{}{}
			}
			delete(schemes, rest)
		}
	}

	out := make([]string, 0, len(schemes))
	for rest, set := range schemes {
		names := make([]string, 0, len(set))
		for scheme := range set {
			names = append(names, scheme)
		}
		sort.Strings(names)
		// "https" sorts after "http", so the last entry prefers https.
		out = append(out, names[len(names)-1]+"://"+rest)
	}
	sort.Strings(out)
	return out, nil
}
