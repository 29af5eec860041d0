// Package variant converts title text between the script or spelling
// variants of a language so links written in one variant reach pages
// stored under another.
package variant

import (
	"sort"
	"strings"

	"github.com/tjfontaine/wikifront/internal/config"
	"github.com/tjfontaine/wikifront/internal/title"
)

// Variant is one target form of the language.
type Variant struct {
	Code     string
	replacer *strings.Replacer
}

// NewVariant builds a variant from literal replacements. Longer source
// strings are tried first.
func NewVariant(code string, replacements map[string]string) Variant {
	from := make([]string, 0, len(replacements))
	for k := range replacements {
		if k != "" {
			from = append(from, k)
		}
	}
	sort.Slice(from, func(i, j int) bool {
		if len(from[i]) != len(from[j]) {
			return len(from[i]) > len(from[j])
		}
		return from[i] < from[j]
	})
	pairs := make([]string, 0, 2*len(from))
	for _, k := range from {
		pairs = append(pairs, k, replacements[k])
	}
	return Variant{Code: code, replacer: strings.NewReplacer(pairs...)}
}

// Convert rewrites text into this variant.
func (v Variant) Convert(text string) string {
	if v.replacer == nil {
		return text
	}
	return v.replacer.Replace(text)
}

// Converter tries every configured variant of a title.
type Converter struct {
	codec    *title.Codec
	variants []Variant
}

// NewConverter returns a converter over variants, in order.
func NewConverter(codec *title.Codec, variants ...Variant) *Converter {
	return &Converter{codec: codec, variants: variants}
}

// FromConfig builds a converter from the site variant list.
func FromConfig(codec *title.Codec, cfgs []config.VariantConfig) *Converter {
	vs := make([]Variant, 0, len(cfgs))
	for _, c := range cfgs {
		vs = append(vs, NewVariant(c.Code, c.Replacements))
	}
	return NewConverter(codec, vs...)
}

// HasVariants reports whether the language has more than one variant.
func (c *Converter) HasVariants() bool {
	return c != nil && len(c.variants) > 1
}

// Codes lists the variant codes in order.
func (c *Converter) Codes() []string {
	codes := make([]string, len(c.variants))
	for i, v := range c.variants {
		codes[i] = v.Code
	}
	return codes
}

// FindVariantLink converts text into each variant and returns the first
// resulting title that exists, with the converted text. ok is false when
// no variant names an existing page other than t.
func (c *Converter) FindVariantLink(text string, t title.Title, exists func(title.Title) bool) (found title.Title, converted string, ok bool) {
	if !c.HasVariants() {
		return title.Title{}, "", false
	}
	for _, v := range c.variants {
		candidate := v.Convert(text)
		if candidate == text {
			continue
		}
		vt, err := c.codec.Parse(candidate)
		if err != nil || vt.Equals(t) || vt.IsExternal() {
			continue
		}
		if exists(vt) {
			return vt, candidate, true
		}
	}
	return title.Title{}, "", false
}
