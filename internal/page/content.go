package page

import (
	"html"
	"regexp"
	"strings"

	"github.com/tjfontaine/wikifront/internal/title"
)

var (
	redirectPattern = regexp.MustCompile(`(?i)^\s*#REDIRECT\s*:?\s*\[\[([^\]|]+)(?:\|[^\]]*)?\]\]`)
	linkPattern     = regexp.MustCompile(`\[\[([^\]|]+)(?:\|([^\]]*))?\]\]`)
	paragraphBreak  = regexp.MustCompile(`\n\s*\n`)
)

// ParseRedirect returns the target of a #REDIRECT [[Target]] text.
func ParseRedirect(text string) (string, bool) {
	m := redirectPattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// ParseLinks returns the distinct [[link]] targets of text in order.
func ParseLinks(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range linkPattern.FindAllStringSubmatch(text, -1) {
		target := strings.TrimSpace(m[1])
		if target == "" || seen[target] {
			continue
		}
		seen[target] = true
		out = append(out, target)
	}
	return out
}

// Render turns text into escaped HTML paragraphs with [[links]] as anchors.
func Render(codec *title.Codec, text string) string {
	var b strings.Builder
	for _, para := range paragraphBreak.Split(strings.TrimSpace(text), -1) {
		if strings.TrimSpace(para) == "" {
			continue
		}
		b.WriteString("<p>")
		last := 0
		for _, loc := range linkPattern.FindAllStringSubmatchIndex(para, -1) {
			b.WriteString(html.EscapeString(para[last:loc[0]]))
			target := para[loc[2]:loc[3]]
			label := target
			if loc[4] >= 0 && loc[5] > loc[4] {
				label = para[loc[4]:loc[5]]
			}
			b.WriteString(renderLink(codec, target, label, para[loc[0]:loc[1]]))
			last = loc[1]
		}
		b.WriteString(html.EscapeString(para[last:]))
		b.WriteString("</p>\n")
	}
	return b.String()
}

func renderLink(codec *title.Codec, target, label, literal string) string {
	t, err := codec.Parse(strings.TrimSpace(target))
	if err != nil {
		return html.EscapeString(literal)
	}
	return `<a href="` + html.EscapeString(codec.LocalURL(t, "")+fragment(t)) + `" title="` +
		html.EscapeString(t.PrefixedText()) + `">` + html.EscapeString(strings.TrimSpace(label)) + `</a>`
}

func fragment(t title.Title) string {
	if t.Fragment() == "" || t.IsExternal() {
		return ""
	}
	return "#" + title.WikiURLEncode(strings.ReplaceAll(t.Fragment(), " ", "_"))
}
