package gateway

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidPath  = errors.New("invalid target path")
	ErrPathConflict = errors.New("target path conflict")
)

// Lookup walks a decoded JSON value along a dot path. Numeric segments
// index into arrays.
func Lookup(v any, path string) (any, bool) {
	cur := v
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

// Nest right-folds a dot path into nested maps: "a.b.c" becomes {a:{b:{c:value}}}.
func Nest(path string, value any) (map[string]any, error) {
	parts := strings.Split(path, ".")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	var node any = value
	for i := len(parts) - 1; i >= 0; i-- {
		node = map[string]any{parts[i]: node}
	}
	return node.(map[string]any), nil
}

// Merge unions src into dst. Two leaves, or a leaf and an object, at the
// same path are a conflict.
func Merge(dst, src map[string]any) error {
	return merge(dst, src, "")
}

func merge(dst, src map[string]any, prefix string) error {
	for k, sv := range src {
		at := k
		if prefix != "" {
			at = prefix + "." + k
		}
		dv, exists := dst[k]
		if !exists {
			dst[k] = sv
			continue
		}
		dm, dok := dv.(map[string]any)
		sm, sok := sv.(map[string]any)
		if !dok || !sok {
			return fmt.Errorf("%w at %q", ErrPathConflict, at)
		}
		if err := merge(dm, sm, at); err != nil {
			return err
		}
	}
	return nil
}

// Listify turns maps keyed "0".."n-1" into slices, for gateways whose JSON
// bodies need arrays where a field map can only express object keys.
func Listify(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for k, child := range m {
		m[k] = Listify(child)
	}
	if len(m) == 0 {
		return m
	}
	list := make([]any, len(m))
	for k, child := range m {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 || i >= len(m) {
			return m
		}
		list[i] = child
	}
	return list
}
