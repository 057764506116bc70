package guardian

import (
	"slices"
	"strings"

	"github.com/ashita-ai/kenbi/internal/frame"
)

// Matcher is a pure structural predicate over a frame.
type Matcher func(n frame.Node) bool

// Exact matches frames named name.
func Exact(name string) Matcher {
	return func(n frame.Node) bool { return n.Name() == name }
}

// Prefix matches frames whose name starts with prefix.
func Prefix(prefix string) Matcher {
	return func(n frame.Node) bool { return strings.HasPrefix(n.Name(), prefix) }
}

// Suffix matches frames whose name ends with suffix.
func Suffix(suffix string) Matcher {
	return func(n frame.Node) bool { return strings.HasSuffix(n.Name(), suffix) }
}

// Contains matches frames whose name contains substr.
func Contains(substr string) Matcher {
	return func(n frame.Node) bool { return strings.Contains(n.Name(), substr) }
}

// Named matches frames named name. A non-empty parent additionally requires
// the frame's parent to be named parent.
func Named(name, parent string) Matcher {
	return func(n frame.Node) bool {
		if n.Name() != name {
			return false
		}
		return parent == "" || n.ParentName() == parent
	}
}

// OfType matches frames of any of the given types.
func OfType(types ...frame.Type) Matcher {
	return func(n frame.Node) bool { return slices.Contains(types, n.Type()) }
}

// And matches when every matcher matches.
func And(ms ...Matcher) Matcher {
	return func(n frame.Node) bool {
		for _, m := range ms {
			if !m(n) {
				return false
			}
		}
		return true
	}
}

// Or matches when any matcher matches.
func Or(ms ...Matcher) Matcher {
	return func(n frame.Node) bool {
		for _, m := range ms {
			if m(n) {
				return true
			}
		}
		return false
	}
}

// Not inverts m.
func Not(m Matcher) Matcher {
	return func(n frame.Node) bool { return !m(n) }
}

// AnyPrefix matches frames whose name starts with any of the prefixes.
func AnyPrefix(prefixes ...string) Matcher {
	return func(n frame.Node) bool {
		name := n.Name()
		for _, p := range prefixes {
			if strings.HasPrefix(name, p) {
				return true
			}
		}
		return false
	}
}

// AnyOf matches frames named any of names.
func AnyOf(names ...string) Matcher {
	return func(n frame.Node) bool { return slices.Contains(names, n.Name()) }
}
