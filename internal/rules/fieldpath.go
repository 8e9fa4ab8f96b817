// internal/rules/fieldpath.go
package rules

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/solatis/cepwarden/internal/types"
)

/*
 * Field path resolution over decoded event payloads.
 *
 * Resolves paths through nested objects and arrays with wildcard support.
 * Wildcards have ANY semantics (first match wins, keys visited in sorted
 * order for determinism). MaxPathDepth and MaxNestedWildcards are enforced
 * both when parsing and when resolving.
 *
 * Path syntax accepted by ParsePath: "price", "order.total",
 * "items[0].price", "items[*].sku".
 */

// ResolveResult contains the resolved value and the actual path taken.
type ResolveResult struct {
	Value        any                 // resolved value (nil if not found)
	ResolvedPath []types.PathSegment // path with wildcards replaced by actual indices
	Found        bool                // true if path resolved to a value
}

// ParsePath parses a dotted field path with optional [n] / [*] suffixes.
func ParsePath(s string) ([]types.PathSegment, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var path []types.PathSegment
	for _, part := range strings.Split(s, ".") {
		key, rest, _ := strings.Cut(part, "[")
		if key != "" {
			path = append(path, types.PathSegment{Key: key})
		}
		for rest != "" {
			idx, after, ok := strings.Cut(rest, "]")
			if !ok {
				return nil, fmt.Errorf("unterminated index in path %q", s)
			}
			if idx == "*" {
				path = append(path, types.PathSegment{Wildcard: true})
			} else {
				n, err := strconv.Atoi(idx)
				if err != nil || n < 0 {
					return nil, fmt.Errorf("invalid index %q in path %q", idx, s)
				}
				path = append(path, types.PathSegment{Index: n, IsIndex: true})
			}
			rest = strings.TrimPrefix(after, "[")
			if after != "" && !strings.HasPrefix(after, "[") {
				return nil, fmt.Errorf("unexpected %q after index in path %q", after, s)
			}
		}
	}
	if err := validatePath(path); err != nil {
		return nil, err
	}
	return path, nil
}

func validatePath(path []types.PathSegment) error {
	if len(path) > types.MaxPathDepth {
		return types.ErrPathTooDeep
	}
	wildcards := 0
	for _, seg := range path {
		if seg.Wildcard {
			wildcards++
		}
	}
	if wildcards > types.MaxNestedWildcards {
		return types.ErrTooManyWildcards
	}
	return nil
}

// FormatPath renders a path back into ParsePath syntax.
func FormatPath(path []types.PathSegment) string {
	var b strings.Builder
	for i, seg := range path {
		switch {
		case seg.Wildcard:
			b.WriteString("[*]")
		case seg.IsIndex:
			fmt.Fprintf(&b, "[%d]", seg.Index)
		default:
			if i > 0 {
				b.WriteByte('.')
			}
			b.WriteString(seg.Key)
		}
	}
	return b.String()
}

// Resolve traverses data following path segments.
// Returns ErrFieldNotFound if the path does not exist in data.
func Resolve(path []types.PathSegment, data any) (ResolveResult, error) {
	if err := validatePath(path); err != nil {
		return ResolveResult{}, err
	}
	return resolveRecursive(path, data, nil)
}

func resolveRecursive(path []types.PathSegment, current any, resolvedSoFar []types.PathSegment) (ResolveResult, error) {
	if len(path) == 0 {
		return ResolveResult{Value: current, ResolvedPath: resolvedSoFar, Found: true}, nil
	}

	seg := path[0]
	remaining := path[1:]

	if p, ok := current.(types.Payload); ok {
		current = map[string]any(p)
	}

	switch v := current.(type) {
	case map[string]any:
		if seg.Wildcard {
			keys := make([]string, 0, len(v))
			for k := range v {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, key := range keys {
				resolved := append(resolvedSoFar, types.PathSegment{Key: key})
				result, err := resolveRecursive(remaining, v[key], resolved)
				if err == nil && result.Found {
					return result, nil
				}
			}
			return ResolveResult{}, types.ErrFieldNotFound
		}
		if seg.IsIndex {
			return ResolveResult{}, types.ErrFieldNotFound
		}
		val, ok := v[seg.Key]
		if !ok {
			return ResolveResult{}, types.ErrFieldNotFound
		}
		return resolveRecursive(remaining, val, append(resolvedSoFar, seg))

	case []any:
		if seg.Wildcard {
			for i, elem := range v {
				resolved := append(resolvedSoFar, types.PathSegment{Index: i, IsIndex: true})
				result, err := resolveRecursive(remaining, elem, resolved)
				if err == nil && result.Found {
					return result, nil
				}
			}
			return ResolveResult{}, types.ErrFieldNotFound
		}
		if !seg.IsIndex || seg.Index < 0 || seg.Index >= len(v) {
			return ResolveResult{}, types.ErrFieldNotFound
		}
		return resolveRecursive(remaining, v[seg.Index], append(resolvedSoFar, seg))

	default:
		// nil or scalar while path continues
		return ResolveResult{}, types.ErrFieldNotFound
	}
}
