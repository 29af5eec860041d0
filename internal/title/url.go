package title

import (
	"net/url"
	"sort"
	"strings"
)

// URLEncode escapes s the way PHP's urlencode does: spaces become '+' and
// everything but [A-Za-z0-9_.-] is percent-encoded.
func URLEncode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "~", "%7E")
}

var wikiURLUnescaper = strings.NewReplacer(
	"%3B", ";", "%40", "@", "%24", "$", "%21", "!", "%2A", "*",
	"%28", "(", "%29", ")", "%2C", ",", "%2F", "/", "%7E", "~", "%3A", ":",
)

// WikiURLEncode is URLEncode with the characters that read well in paths
// left alone.
func WikiURLEncode(s string) string {
	return wikiURLUnescaper.Replace(URLEncode(s))
}

// EncodeQuery renders values as k=v pairs joined by '&' in sorted key order.
func EncodeQuery(values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		for _, v := range values[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(URLEncode(k))
			b.WriteByte('=')
			b.WriteString(URLEncode(v))
		}
	}
	return b.String()
}

// LocalURL is the server-relative URL of t. Interwiki titles yield the
// foreign wiki's absolute URL.
func (c *Codec) LocalURL(t Title, query string) string {
	if t.IsExternal() {
		return c.interwikiURL(t, query)
	}
	key := WikiURLEncode(t.PrefixedDBKey())
	if query == "" {
		return strings.Replace(c.opts.ArticlePath, "$1", key, 1)
	}
	return c.opts.ScriptPath + "?title=" + key + "&" + query
}

// FullURL is the public URL of t including its fragment. It is
// protocol-relative when the configured server is.
func (c *Codec) FullURL(t Title, query string) string {
	u := c.LocalURL(t, query)
	if !t.IsExternal() {
		u = c.opts.Server + u
	}
	return u + fragmentForURL(t)
}

// InternalURL is the URL CDN purges are sent to.
func (c *Codec) InternalURL(t Title, query string) string {
	u := c.LocalURL(t, query)
	if t.IsExternal() {
		return u
	}
	return c.Expand(c.opts.InternalServer+u, "http")
}

// CanonicalURL is the absolute URL used for links leaving the site.
func (c *Codec) CanonicalURL(t Title, query string) string {
	u := c.LocalURL(t, query)
	if !t.IsExternal() {
		u = c.opts.CanonicalServer + u
	}
	return u + fragmentForURL(t)
}

// CanonicalScriptURL is the canonical entry point URL with query attached.
func (c *Codec) CanonicalScriptURL(query string) string {
	u := c.opts.CanonicalServer + c.opts.ScriptPath
	if query != "" {
		u += "?" + query
	}
	return u
}

// CDNURLs lists the internal URLs an edge cache may hold for t.
func (c *Codec) CDNURLs(t Title) []string {
	return []string{
		c.InternalURL(t, ""),
		c.InternalURL(t, "action=history"),
	}
}

// Expand makes u absolute. Server-relative URLs get the configured server and
// protocol-relative ones get scheme.
func (c *Codec) Expand(u, scheme string) string {
	if strings.HasPrefix(u, "/") && !strings.HasPrefix(u, "//") {
		u = c.opts.Server + u
	}
	if strings.HasPrefix(u, "//") {
		u = scheme + ":" + u
	}
	return u
}

// ExpandInternal makes u absolute against the internal server, the form
// CDNURLs are listed in.
func (c *Codec) ExpandInternal(u string) string {
	if strings.HasPrefix(u, "/") && !strings.HasPrefix(u, "//") {
		u = c.opts.InternalServer + u
	}
	return c.Expand(u, "http")
}

// Server returns the configured public server, possibly protocol-relative.
func (c *Codec) Server() string { return c.opts.Server }

func (c *Codec) interwikiURL(t Title, query string) string {
	w := c.interwiki[t.interwiki]
	u := strings.Replace(w.URL, "$1", WikiURLEncode(t.dbKey), 1)
	if query != "" {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + query
	}
	return u
}

func fragmentForURL(t Title) string {
	if t.fragment == "" {
		return ""
	}
	return "#" + WikiURLEncode(strings.ReplaceAll(t.fragment, " ", "_"))
}
