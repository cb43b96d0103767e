package jsonval

import "strconv"

// EnvelopePaths are the JSON-RPC 2.0 envelope fields that the walker must
// never visit or rewrite: protocol metadata, not user content.
var EnvelopePaths = map[string]bool{
	"/jsonrpc":      true,
	"/id":           true,
	"/method":       true,
	"/error/code":   true,
	"/error/message": true,
}

// StringLeaf is a ⟨path, value⟩ pair yielded by CollectStringLeaves.
type StringLeaf struct {
	Path  string
	Value string
}

// CollectStringLeaves visits every string leaf in v in deterministic
// pre-order (objects: keys in insertion order; arrays: index order),
// skipping any path for which exclude returns true. Non-string leaves
// (numbers, booleans, null) are never visited.
func CollectStringLeaves(v *Value, exclude func(path string) bool) []StringLeaf {
	var out []StringLeaf
	walk(v, "", exclude, func(path, s string) {
		out = append(out, StringLeaf{Path: path, Value: s})
	})
	return out
}

func walk(v *Value, path string, exclude func(string) bool, visit func(path, s string)) {
	if v == nil {
		return
	}
	if exclude != nil && exclude(path) {
		return
	}
	switch v.Kind {
	case KindString:
		if path != "" { // the root value itself is never a "leaf" to rewrite in isolation
			visit(path, v.Str)
		}
	case KindArray:
		for i, el := range v.Array {
			walk(el, path+"/"+strconv.Itoa(i), exclude, visit)
		}
	case KindObject:
		for _, k := range v.Object.Keys() {
			child, _ := v.Object.Get(k)
			walk(child, path+"/"+k, exclude, visit)
		}
	}
}

// Splice rewrites the string leaf at each given path to the given
// replacement value. Paths not present (or not pointing at a string) are
// silently ignored — the caller is expected to only supply paths obtained
// from CollectStringLeaves on the same tree.
func Splice(v *Value, replacements map[string]string) {
	if len(replacements) == 0 || v == nil {
		return
	}
	spliceAt(v, "", replacements)
}

func spliceAt(v *Value, path string, replacements map[string]string) {
	if v == nil {
		return
	}
	switch v.Kind {
	case KindString:
		if repl, ok := replacements[path]; ok {
			v.Str = repl
		}
	case KindArray:
		for i, el := range v.Array {
			spliceAt(el, path+"/"+strconv.Itoa(i), replacements)
		}
	case KindObject:
		for _, k := range v.Object.Keys() {
			child, _ := v.Object.Get(k)
			spliceAt(child, path+"/"+k, replacements)
		}
	}
}

// IsEnvelopePath reports whether path is one of the fixed JSON-RPC envelope
// fields excluded from walking and rewriting.
func IsEnvelopePath(path string) bool {
	return EnvelopePaths[path]
}
