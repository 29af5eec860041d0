package title

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	maxTitleBytes   = 255
	maxSpecialBytes = 512
)

// MalformedError is returned when text cannot be turned into a Title.
type MalformedError struct {
	Reason string
	Text   string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed title %q: %s", e.Text, e.Reason)
}

// Interwiki describes a foreign wiki reachable through a title prefix.
type Interwiki struct {
	// URL holds $1 where the encoded page key goes.
	URL string
	// Local marks wikis run by the same farm; only those are redirected to.
	Local bool
}

// Options configures a Codec.
type Options struct {
	Server          string
	CanonicalServer string
	InternalServer  string
	ScriptPath      string
	ArticlePath     string
	MainPage        string
	CapitalLinks    bool
	Namespaces      map[int]string
	Interwiki       map[string]Interwiki
}

// Codec parses user text into titles and renders titles as URLs.
// It is safe for concurrent use.
type Codec struct {
	opts      Options
	ns        *namespaceTable
	interwiki map[string]Interwiki
}

// NewCodec builds a codec, filling unset paths with the usual defaults.
func NewCodec(opts Options) *Codec {
	if opts.ScriptPath == "" {
		opts.ScriptPath = "/index.php"
	}
	if opts.ArticlePath == "" {
		opts.ArticlePath = "/wiki/$1"
	}
	if opts.MainPage == "" {
		opts.MainPage = "Main Page"
	}
	opts.Server = strings.TrimSuffix(opts.Server, "/")
	if opts.CanonicalServer == "" {
		opts.CanonicalServer = opts.Server
		if strings.HasPrefix(opts.CanonicalServer, "//") {
			opts.CanonicalServer = "http:" + opts.CanonicalServer
		}
	}
	if opts.InternalServer == "" {
		opts.InternalServer = opts.Server
	}
	iw := make(map[string]Interwiki, len(opts.Interwiki))
	for prefix, w := range opts.Interwiki {
		iw[strings.ToLower(prefix)] = w
	}
	return &Codec{
		opts:      opts,
		ns:        newNamespaceTable(opts.Namespaces),
		interwiki: iw,
	}
}

// Options returns the effective configuration.
func (c *Codec) Options() Options { return c.opts }

var (
	percentEscape = regexp.MustCompile(`%[0-9A-Fa-f]{2}`)
	htmlEntity    = regexp.MustCompile(`&[A-Za-z0-9\x{80}-\x{10FFFF}#]+;`)
)

const illegalTitleChars = "<>[]|{}"

// Parse turns user or URL text into a Title in the main namespace by default.
func (c *Codec) Parse(text string) (Title, error) {
	return c.ParseIn(text, NSMain)
}

// ParseIn parses text, using defaultNS when no namespace prefix is present.
func (c *Codec) ParseIn(text string, defaultNS Namespace) (Title, error) {
	s := normaliseWhitespace(norm.NFC.String(text))
	if s == "" {
		return Title{}, &MalformedError{Reason: "title-invalid-empty", Text: text}
	}

	ns := defaultNS
	if s[0] == ':' {
		ns = NSMain
		s = strings.TrimLeft(s[1:], "_")
	}

	var fragment string
	if i := strings.IndexByte(s, '#'); i >= 0 {
		fragment = strings.Trim(s[i+1:], "_")
		s = strings.TrimRight(s[:i], "_")
	}

	var interwiki string
	if prefix, rest, ok := strings.Cut(s, ":"); ok && prefix != "" {
		rest = strings.TrimLeft(rest, "_")
		if pns, found := c.ns.find(prefix); found {
			if strings.HasPrefix(rest, ":") {
				return Title{}, &MalformedError{Reason: "title-invalid-leading-colon", Text: text}
			}
			ns = pns
			s = rest
		} else if _, found := c.interwiki[strings.ToLower(prefix)]; found {
			interwiki = strings.ToLower(prefix)
			ns = NSMain
			s = rest
		}
	}

	if reason := checkKey(s, interwiki != ""); reason != "" {
		return Title{}, &MalformedError{Reason: reason, Text: text}
	}

	limit := maxTitleBytes
	if ns == NSSpecial {
		limit = maxSpecialBytes
	}
	if interwiki == "" && len(s) > limit {
		return Title{}, &MalformedError{Reason: "title-invalid-too-long", Text: text}
	}
	if interwiki == "" && s == "" {
		return Title{}, &MalformedError{Reason: "title-invalid-empty", Text: text}
	}
	if interwiki == "" && strings.HasPrefix(s, ":") {
		return Title{}, &MalformedError{Reason: "title-invalid-leading-colon", Text: text}
	}
	if interwiki == "" && (c.opts.CapitalLinks || ns == NSSpecial) {
		s = upperFirst(s)
	}

	t := c.MakeTitle(ns, s)
	if interwiki != "" {
		t = Title{kind: KindExternal, dbKey: s, interwiki: interwiki}
	}
	t.fragment = fragment
	return t, nil
}

// MakeTitle builds a title from trusted namespace and key without validation.
func (c *Codec) MakeTitle(ns Namespace, dbKey string) Title {
	name, ok := c.ns.name(ns)
	if !ok {
		name = fmt.Sprintf("NS%d", ns)
	}
	kind := KindInternal
	if ns == NSSpecial {
		kind = KindSpecial
	}
	return Title{
		kind:   kind,
		ns:     ns,
		nsName: name,
		dbKey:  strings.ReplaceAll(dbKey, " ", "_"),
	}
}

// SpecialTitle builds Special:name/sub.
func (c *Codec) SpecialTitle(name, sub string) Title {
	key := name
	if sub != "" {
		key += "/" + sub
	}
	return c.MakeTitle(NSSpecial, key)
}

// BadTitle is the sentinel shown in place of unusable or hidden titles.
func (c *Codec) BadTitle() Title {
	return c.SpecialTitle("Badtitle", "")
}

// IsBadTitle reports whether t is the BadTitle sentinel.
func (c *Codec) IsBadTitle(t Title) bool {
	return t.IsSpecial("Badtitle")
}

// MainPage returns the configured home title.
func (c *Codec) MainPage() Title {
	t, err := c.Parse(c.opts.MainPage)
	if err != nil || t.IsExternal() {
		return c.MakeTitle(NSMain, "Main_Page")
	}
	return t.WithFragment("")
}

// NamespaceName returns the canonical prefix for ns.
func (c *Codec) NamespaceName(ns Namespace) string {
	name, _ := c.ns.name(ns)
	return name
}

// LookupNamespace resolves a prefix such as "image" or "User talk".
func (c *Codec) LookupNamespace(prefix string) (Namespace, bool) {
	return c.ns.find(prefix)
}

// InterwikiFor returns the interwiki entry for prefix.
func (c *Codec) InterwikiFor(prefix string) (Interwiki, bool) {
	w, ok := c.interwiki[strings.ToLower(prefix)]
	return w, ok
}

func checkKey(s string, external bool) string {
	if strings.ContainsAny(s, illegalTitleChars) {
		return "title-invalid-characters"
	}
	for _, r := range s {
		if r == utf8.RuneError || unicode.IsControl(r) {
			return "title-invalid-characters"
		}
	}
	if percentEscape.MatchString(s) || htmlEntity.MatchString(s) {
		return "title-invalid-characters"
	}
	if external {
		return ""
	}
	if isRelativePath(s) {
		return "title-invalid-relative"
	}
	if strings.Contains(s, "~~~") {
		return "title-invalid-magic-tilde"
	}
	return ""
}

func isRelativePath(s string) bool {
	if !strings.Contains(s, ".") {
		return false
	}
	return s == "." || s == ".." ||
		strings.HasPrefix(s, "./") || strings.HasPrefix(s, "../") ||
		strings.Contains(s, "/./") || strings.Contains(s, "/../") ||
		strings.HasSuffix(s, "/.") || strings.HasSuffix(s, "/..")
}

// normaliseWhitespace folds underscores and unicode spaces into single
// underscores, drops directional marks and trims both ends.
func normaliseWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pending := false
	for _, r := range s {
		switch {
		case r == '\u200e' || r == '\u200f' || (r >= '\u202a' && r <= '\u202e'):
			continue
		case r == '_' || r == '\u180e' || unicode.IsSpace(r):
			pending = true
			continue
		}
		if pending && b.Len() > 0 {
			b.WriteByte('_')
		}
		pending = false
		b.WriteRune(r)
	}
	return b.String()
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	up := unicode.ToUpper(r)
	if up == r {
		return s
	}
	return string(up) + s[size:]
}
