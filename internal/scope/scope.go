// Package scope models capability grants over a user's namespace: a path
// prefix plus an allowed verb set, serialized as "<prefix>:<verbs>" where
// verbs is a combination of 'r' and 'w' ("pub/app1/:rw").
//
// Authorization over a set of scopes is permissive union with prefix
// matching; the empty prefix denotes the whole namespace and is reserved
// for full-account signin sessions.
package scope

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrMalformedScope is returned on unknown verb tokens, an empty verb
	// set, or a path that escapes the namespace root.
	ErrMalformedScope = errors.New("scope: malformed scope")

	// ErrRootScopeDelegated is returned when the root (empty-prefix) scope
	// appears on a delegated grant; root access is only reachable through
	// direct signin.
	ErrRootScopeDelegated = errors.New("scope: root scope cannot be delegated")
)

// Verb is a storage operation class.
type Verb string

const (
	Read  Verb = "read"
	Write Verb = "write"
)

// Scope is a single capability: a namespace-rooted path prefix and the
// verbs it allows.
type Scope struct {
	Prefix string
	Read   bool
	Write  bool
}

// Path segments may use lowercase/uppercase letters, digits and a small
// punctuation set. Colon is excluded (it separates the verb suffix).
var prefixRe = regexp.MustCompile(`^[A-Za-z0-9._~ /-]*$`)

// Parse parses the textual form "<prefix>:<verbs>".
func Parse(text string) (Scope, error) {
	i := strings.LastIndexByte(text, ':')
	if i < 0 {
		return Scope{}, ErrMalformedScope
	}
	prefix, verbs := text[:i], text[i+1:]

	if verbs == "" {
		return Scope{}, ErrMalformedScope
	}
	var s Scope
	for _, c := range verbs {
		switch c {
		case 'r':
			s.Read = true
		case 'w':
			s.Write = true
		default:
			return Scope{}, ErrMalformedScope
		}
	}

	p, ok := normalizePrefix(prefix)
	if !ok {
		return Scope{}, ErrMalformedScope
	}
	s.Prefix = p
	return s, nil
}

// ParseDelegated is Parse plus the delegation restriction: the root scope
// is rejected so a relying application can never request full-account
// access disguised as a narrow grant.
func ParseDelegated(text string) (Scope, error) {
	s, err := Parse(text)
	if err != nil {
		return Scope{}, err
	}
	if s.Root() {
		return Scope{}, ErrRootScopeDelegated
	}
	return s, nil
}

// Root reports whether this scope covers the entire namespace.
func (s Scope) Root() bool { return s.Prefix == "" }

// Allows reports whether the scope's verb set includes v.
func (s Scope) Allows(v Verb) bool {
	switch v {
	case Read:
		return s.Read
	case Write:
		return s.Write
	}
	return false
}

// String is the inverse of Parse. Parse(s.String()) == s for any scope
// produced by this package.
func (s Scope) String() string {
	var b strings.Builder
	b.WriteString(s.Prefix)
	b.WriteByte(':')
	if s.Read {
		b.WriteByte('r')
	}
	if s.Write {
		b.WriteByte('w')
	}
	return b.String()
}

// Covers reports whether the scope's prefix covers path. A prefix ending
// in '/' (or the root prefix) matches by plain prefix; otherwise the match
// must land on a path-segment boundary, so "pub/app1" does not cover
// "pub/app10/x".
func (s Scope) Covers(path string) bool {
	path = NormalizePath(path)
	if s.Prefix == "" {
		return true
	}
	if strings.HasSuffix(s.Prefix, "/") {
		return strings.HasPrefix(path, s.Prefix)
	}
	return path == s.Prefix || strings.HasPrefix(path, s.Prefix+"/")
}

// Set is the scope collection held by a session.
type Set []Scope

// ParseSet parses a list of scope texts.
func ParseSet(texts []string) (Set, error) {
	set := make(Set, 0, len(texts))
	for _, t := range texts {
		s, err := Parse(t)
		if err != nil {
			return nil, err
		}
		set = append(set, s)
	}
	return set, nil
}

// ParseDelegatedSet parses a list of delegated scope texts.
func ParseDelegatedSet(texts []string) (Set, error) {
	set := make(Set, 0, len(texts))
	for _, t := range texts {
		s, err := ParseDelegated(t)
		if err != nil {
			return nil, err
		}
		set = append(set, s)
	}
	return set, nil
}

// Strings serializes the set.
func (set Set) Strings() []string {
	out := make([]string, len(set))
	for i, s := range set {
		out[i] = s.String()
	}
	return out
}

// Authorizes reports whether some scope in the set covers path and allows
// verb. Overlapping scopes are unioned, never intersected.
func (set Set) Authorizes(path string, v Verb) bool {
	for _, s := range set {
		if s.Allows(v) && s.Covers(path) {
			return true
		}
	}
	return false
}

// SubsetOf reports whether every scope in set is covered by some scope in
// outer, both in prefix and in verbs. Used to enforce that a granted scope
// set never exceeds the requested one.
func (set Set) SubsetOf(outer Set) bool {
	for _, s := range set {
		covered := false
		for _, o := range outer {
			if o.Covers(s.Prefix) &&
				(!s.Read || o.Read) && (!s.Write || o.Write) {
				covered = true
				break
			}
		}
		if !covered {
			return false
		}
	}
	return true
}

// NormalizePath brings a storage path to the canonical namespace-rooted
// form used for matching: no leading slash, single separators.
func NormalizePath(p string) string {
	p = strings.TrimLeft(p, "/")
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return p
}

func normalizePrefix(p string) (string, bool) {
	if strings.Contains(p, "\\") || strings.Contains(p, "..") {
		return "", false
	}
	if !prefixRe.MatchString(p) {
		return "", false
	}
	if strings.HasPrefix(p, "/") {
		// Namespace-rooted paths are written without the leading slash.
		return "", false
	}
	return NormalizePath(p), true
}
