// Package title models wiki page identifiers. A Title is a value type: it is
// either an internal page (namespace + key), a special page (name + subpage),
// an external interwiki reference, or invalid. Parsing user input and building
// URLs both go through a configured Codec.
package title

import "strings"

// Kind says which of the mutually exclusive identifier forms a Title holds.
type Kind int

const (
	KindInvalid Kind = iota
	KindInternal
	KindSpecial
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "internal"
	case KindSpecial:
		return "special"
	case KindExternal:
		return "external"
	default:
		return "invalid"
	}
}

// Title identifies a logical target. The zero value is invalid.
type Title struct {
	kind      Kind
	ns        Namespace
	nsName    string
	dbKey     string
	interwiki string
	fragment  string
}

// Kind returns the identifier form.
func (t Title) Kind() Kind { return t.kind }

// IsValid reports whether t identifies anything at all.
func (t Title) IsValid() bool { return t.kind != KindInvalid }

// IsSpecialPage reports whether t lives in the Special namespace.
func (t Title) IsSpecialPage() bool { return t.kind == KindSpecial }

// IsExternal reports whether t points at another wiki.
func (t Title) IsExternal() bool { return t.kind == KindExternal }

// CanExist reports whether a stored page can back this title.
func (t Title) CanExist() bool { return t.kind == KindInternal && t.ns >= NSMain }

func (t Title) Namespace() Namespace { return t.ns }

// DBKey is the namespace-less key with underscores.
func (t Title) DBKey() string { return t.dbKey }

// Text is the namespace-less key with spaces.
func (t Title) Text() string { return strings.ReplaceAll(t.dbKey, "_", " ") }

func (t Title) Interwiki() string { return t.interwiki }

func (t Title) Fragment() string { return t.fragment }

// PrefixedDBKey is the canonical string form: interwiki and namespace
// prefixes followed by the key, underscores for spaces.
func (t Title) PrefixedDBKey() string {
	var b strings.Builder
	if t.interwiki != "" {
		b.WriteString(t.interwiki)
		b.WriteByte(':')
	}
	if t.nsName != "" {
		b.WriteString(t.nsName)
		b.WriteByte(':')
	}
	b.WriteString(t.dbKey)
	return b.String()
}

// PrefixedText is PrefixedDBKey with spaces.
func (t Title) PrefixedText() string {
	return strings.ReplaceAll(t.PrefixedDBKey(), "_", " ")
}

func (t Title) String() string {
	if !t.IsValid() {
		return "<invalid>"
	}
	return t.PrefixedText()
}

// Equals compares identity; fragments are ignored.
func (t Title) Equals(o Title) bool {
	return t.kind == o.kind && t.ns == o.ns && t.dbKey == o.dbKey && t.interwiki == o.interwiki
}

// WithFragment returns a copy of t pointing at a section.
func (t Title) WithFragment(fragment string) Title {
	t.fragment = fragment
	return t
}

// SpecialName splits a special page key into page name and subpage.
func (t Title) SpecialName() (name, sub string) {
	if t.kind != KindSpecial {
		return "", ""
	}
	name, sub, _ = strings.Cut(t.dbKey, "/")
	return name, sub
}

// IsSpecial reports whether t is the named special page, ignoring case.
func (t Title) IsSpecial(name string) bool {
	n, _ := t.SpecialName()
	return n != "" && strings.EqualFold(n, name)
}
