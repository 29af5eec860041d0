package title

import (
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCodec() *Codec {
	return NewCodec(Options{
		Server:       "http://wiki.example.org",
		CapitalLinks: true,
		Interwiki: map[string]Interwiki{
			"wikipedia": {URL: "https://en.wikipedia.org/wiki/$1"},
			"meta":      {URL: "http://wiki.example.org/meta/$1", Local: true},
		},
	})
}

func TestParse(t *testing.T) {
	c := newTestCodec()

	tests := []struct {
		name      string
		in        string
		wantKey   string
		wantNS    Namespace
		wantKind  Kind
		wantFrag  string
		wantIWiki string
	}{
		{name: "plain", in: "foo bar", wantKey: "Foo_bar", wantNS: NSMain, wantKind: KindInternal},
		{name: "underscores collapse", in: "  Foo__ bar_ ", wantKey: "Foo_bar", wantNS: NSMain, wantKind: KindInternal},
		{name: "namespace", in: "user talk:jane doe", wantKey: "User_talk:Jane_doe", wantNS: NSUserTalk, wantKind: KindInternal},
		{name: "alias", in: "Image:Cat.png", wantKey: "File:Cat.png", wantNS: NSFile, wantKind: KindInternal},
		{name: "media", in: "Media:Cat.png", wantKey: "Media:Cat.png", wantNS: NSMedia, wantKind: KindInternal},
		{name: "special", in: "special:search/foo", wantKey: "Special:Search/foo", wantNS: NSSpecial, wantKind: KindSpecial},
		{name: "fragment", in: "Foo#Some section", wantKey: "Foo", wantNS: NSMain, wantKind: KindInternal, wantFrag: "Some_section"},
		{name: "leading colon", in: ":Talk:Foo", wantKey: "Talk:Foo", wantNS: NSTalk, wantKind: KindInternal},
		{name: "interwiki", in: "Wikipedia:foo", wantKey: "wikipedia:foo", wantNS: NSMain, wantKind: KindExternal, wantIWiki: "wikipedia"},
		{name: "nfc", in: "Café", wantKey: "Café", wantNS: NSMain, wantKind: KindInternal},
		{name: "unknown prefix stays in key", in: "Foo:bar", wantKey: "Foo:bar", wantNS: NSMain, wantKind: KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKey, got.PrefixedDBKey())
			assert.Equal(t, tt.wantNS, got.Namespace())
			assert.Equal(t, tt.wantKind, got.Kind())
			assert.Equal(t, tt.wantFrag, got.Fragment())
			assert.Equal(t, tt.wantIWiki, got.Interwiki())
		})
	}
}

func TestParseRejects(t *testing.T) {
	c := newTestCodec()

	tests := []struct {
		in     string
		reason string
	}{
		{"", "title-invalid-empty"},
		{"   ", "title-invalid-empty"},
		{"Talk:", "title-invalid-empty"},
		{"Foo[bar]", "title-invalid-characters"},
		{"A{{b}}", "title-invalid-characters"},
		{"A%20B", "title-invalid-characters"},
		{"A&amp;B", "title-invalid-characters"},
		{"Foo\x01", "title-invalid-characters"},
		{"../etc", "title-invalid-relative"},
		{"Foo/./bar", "title-invalid-relative"},
		{"..", "title-invalid-relative"},
		{"Talk::Foo", "title-invalid-leading-colon"},
		{"Sig~~~", "title-invalid-magic-tilde"},
		{strings.Repeat("a", 256), "title-invalid-too-long"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, err := c.Parse(tt.in)
			var me *MalformedError
			require.True(t, errors.As(err, &me), "expected MalformedError, got %v", err)
			assert.Equal(t, tt.reason, me.Reason)
		})
	}
}

func TestParseLengthLimitIsBytes(t *testing.T) {
	c := newTestCodec()

	_, err := c.Parse(strings.Repeat("a", 255))
	assert.NoError(t, err)

	// 128 two-byte runes exceed the byte limit.
	_, err = c.Parse(strings.Repeat("é", 128))
	assert.Error(t, err)
}

func TestCapitalLinksOff(t *testing.T) {
	c := NewCodec(Options{Server: "http://w"})
	got, err := c.Parse("iPhone")
	require.NoError(t, err)
	assert.Equal(t, "iPhone", got.DBKey())
}

func TestEqualsIgnoresFragment(t *testing.T) {
	c := newTestCodec()
	a, _ := c.Parse("Foo#one")
	b, _ := c.Parse("foo#two")
	assert.True(t, a.Equals(b))

	other, _ := c.Parse("Talk:Foo")
	assert.False(t, a.Equals(other))
	assert.False(t, Title{}.Equals(a))
}

func TestSpecialHelpers(t *testing.T) {
	c := newTestCodec()

	bad := c.BadTitle()
	assert.True(t, c.IsBadTitle(bad))
	assert.Equal(t, "Special:Badtitle", bad.PrefixedDBKey())

	s := c.SpecialTitle("Search", "some thing")
	name, sub := s.SpecialName()
	assert.Equal(t, "Search", name)
	assert.Equal(t, "some_thing", sub)
	assert.True(t, s.IsSpecial("search"))

	assert.Equal(t, "Main_Page", c.MainPage().PrefixedDBKey())
}

func TestURLEncode(t *testing.T) {
	assert.Equal(t, "a+b%7E%2F", URLEncode("a b~/"))
	assert.Equal(t, "A%26B/C:D~(x)", WikiURLEncode("A&B/C:D~(x)"))
	assert.Equal(t, "a=1&b=x+y&c=%3A", EncodeQuery(url.Values{"c": {":"}, "a": {"1"}, "b": {"x y"}}))
}

func TestURLs(t *testing.T) {
	c := newTestCodec()
	foo, err := c.Parse("Foo bar/baz")
	require.NoError(t, err)

	assert.Equal(t, "/wiki/Foo_bar/baz", c.LocalURL(foo, ""))
	assert.Equal(t, "/index.php?title=Foo_bar/baz&action=history", c.LocalURL(foo, "action=history"))
	assert.Equal(t, "http://wiki.example.org/wiki/Foo_bar/baz", c.FullURL(foo, ""))
	assert.Equal(t, []string{
		"http://wiki.example.org/wiki/Foo_bar/baz",
		"http://wiki.example.org/index.php?title=Foo_bar/baz&action=history",
	}, c.CDNURLs(foo))

	frag, _ := c.Parse("Foo#a b")
	assert.Equal(t, "http://wiki.example.org/wiki/Foo#a_b", c.FullURL(frag, ""))

	iw, _ := c.Parse("wikipedia:Go (language)")
	assert.Equal(t, "https://en.wikipedia.org/wiki/Go_(language)", c.FullURL(iw, ""))
	assert.Equal(t, "https://en.wikipedia.org/wiki/Go_(language)?rdfrom=x", c.LocalURL(iw, "rdfrom=x"))
}

func TestExpandProtocolRelative(t *testing.T) {
	c := NewCodec(Options{Server: "//wiki.example.org"})
	foo := c.MakeTitle(NSMain, "Foo")

	assert.Equal(t, "//wiki.example.org/wiki/Foo", c.FullURL(foo, ""))
	assert.Equal(t, "https://wiki.example.org/wiki/Foo", c.Expand(c.FullURL(foo, ""), "https"))
	assert.Equal(t, "http://wiki.example.org/wiki/Foo", c.Expand("/wiki/Foo", "http"))
	assert.Equal(t, "http://wiki.example.org/index.php?x=1", c.CanonicalScriptURL("x=1"))
}

func TestCDNURLsMatchInternalExpansion(t *testing.T) {
	c := NewCodec(Options{Server: "//wiki.example.org", InternalServer: "http://10.0.0.5"})
	foo := c.MakeTitle(NSMain, "Foo_Bar")

	assert.Equal(t, []string{
		"http://10.0.0.5/wiki/Foo_Bar",
		"http://10.0.0.5/index.php?title=Foo_Bar&action=history",
	}, c.CDNURLs(foo))
	assert.Contains(t, c.CDNURLs(foo), c.ExpandInternal("/wiki/Foo_Bar"))
	assert.Equal(t, "https://elsewhere.org/x", c.ExpandInternal("https://elsewhere.org/x"))
}
