// Package traverse walks untyped, JSON-shaped values and rewrites their string
// leaves in place.
package traverse

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strconv"
	"strings"
)

// DefaultMaxDepth bounds recursion when Walker.MaxDepth is zero.
const DefaultMaxDepth = 64

var (
	// ErrMaxDepthExceeded is reported for subtrees nested deeper than MaxDepth.
	ErrMaxDepthExceeded = errors.New("traverse: max depth exceeded")

	// ErrCycle is reported when a container is reached a second time, either
	// through a cycle or because it is shared by two keys.
	ErrCycle = errors.New("traverse: container already visited")
)

// Kind classifies a value for the walker.
type Kind int

const (
	KindOther Kind = iota
	KindString
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindObject:
		return "object"
	default:
		return "other"
	}
}

// KindOf returns the Kind of v. Objects are map[string]any and []any, the
// shapes produced by encoding/json.
func KindOf(v any) Kind {
	switch v.(type) {
	case string:
		return KindString
	case map[string]any, []any:
		return KindObject
	default:
		return KindOther
	}
}

// Path locates a leaf. Slice indexes are stored in decimal.
type Path []string

func (p Path) String() string {
	return strings.Join(p, ".")
}

func (p Path) child(key string) Path {
	out := make(Path, len(p)+1)
	copy(out, p)
	out[len(p)] = key
	return out
}

// LeafFunc is called for each string leaf. When changed is true the
// returned value is written back to the leaf.
type LeafFunc func(ctx context.Context, path Path, value string) (result string, changed bool)

// Issue is a subtree the walker skipped.
type Issue struct {
	Path Path
	Err  error
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s: %v", i.Path, i.Err)
}

// Walker visits every string leaf of a value exactly once. Keys are visited in
// sorted order.
type Walker struct {
	MaxDepth int
}

// Walk visits root, which must be an object, and returns the subtrees it had
// to skip. The error is non-nil only when ctx is done.
func (w Walker) Walk(ctx context.Context, root any, fn LeafFunc) ([]Issue, error) {
	limit := w.MaxDepth
	if limit <= 0 {
		limit = DefaultMaxDepth
	}
	s := &walk{ctx: ctx, fn: fn, limit: limit, seen: make(map[identity]bool)}
	s.object(root, nil, 0)
	return s.issues, s.err
}

type identity struct {
	ptr uintptr
	len int
}

type walk struct {
	ctx    context.Context
	fn     LeafFunc
	limit  int
	seen   map[identity]bool
	issues []Issue
	err    error
}

func (s *walk) object(v any, path Path, depth int) {
	if s.err != nil {
		return
	}
	if depth > s.limit {
		s.issues = append(s.issues, Issue{Path: path, Err: ErrMaxDepthExceeded})
		return
	}
	if id, ok := identify(v); ok {
		if s.seen[id] {
			s.issues = append(s.issues, Issue{Path: path, Err: ErrCycle})
			return
		}
		s.seen[id] = true
	}

	switch obj := v.(type) {
	case map[string]any:
		for _, key := range slices.Sorted(maps.Keys(obj)) {
			if next, ok := s.value(obj[key], path.child(key), depth); ok {
				obj[key] = next
			}
		}
	case []any:
		for i := range obj {
			if next, ok := s.value(obj[i], path.child(strconv.Itoa(i)), depth); ok {
				obj[i] = next
			}
		}
	}
}

func (s *walk) value(v any, path Path, depth int) (any, bool) {
	if s.err != nil {
		return nil, false
	}
	switch KindOf(v) {
	case KindString:
		if err := s.ctx.Err(); err != nil {
			s.err = err
			return nil, false
		}
		out, changed := s.fn(s.ctx, path, v.(string))
		return out, changed
	case KindObject:
		s.object(v, path, depth+1)
	}
	return nil, false
}

func identify(v any) (identity, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return identity{}, false
		}
		return identity{ptr: rv.Pointer()}, true
	case reflect.Slice:
		if rv.Len() == 0 {
			return identity{}, false
		}
		return identity{ptr: rv.Pointer(), len: rv.Len()}, true
	}
	return identity{}, false
}
