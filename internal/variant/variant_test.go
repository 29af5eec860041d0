package variant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/wikifront/internal/config"
	"github.com/tjfontaine/wikifront/internal/title"
)

func TestVariantConvertPrefersLongerSources(t *testing.T) {
	v := NewVariant("en-gb", map[string]string{"or": "our", "color": "colour", "": "ignored"})
	assert.Equal(t, "colour of honour", v.Convert("color of honor"))
	assert.Equal(t, "text", Variant{}.Convert("text"))
}

func TestFindVariantLink(t *testing.T) {
	codec := title.NewCodec(title.Options{CapitalLinks: true})
	conv := FromConfig(codec, []config.VariantConfig{
		{Code: "en"},
		{Code: "en-gb", Replacements: map[string]string{"Color": "Colour"}},
		{Code: "en-x", Replacements: map[string]string{"Color": "Kolor"}},
	})
	require.True(t, conv.HasVariants())
	assert.Equal(t, []string{"en", "en-gb", "en-x"}, conv.Codes())

	orig := codec.MakeTitle(title.NSMain, "Color_wheel")
	existing := map[string]bool{"Colour_wheel": true, "Kolor_wheel": true}
	exists := func(t title.Title) bool { return existing[t.PrefixedDBKey()] }

	found, text, ok := conv.FindVariantLink("Color wheel", orig, exists)
	require.True(t, ok)
	assert.Equal(t, "Colour_wheel", found.PrefixedDBKey())
	assert.Equal(t, "Colour wheel", text)

	_, _, ok = conv.FindVariantLink("Plain", codec.MakeTitle(title.NSMain, "Plain"), exists)
	assert.False(t, ok)
}

func TestSingleVariantIsNoop(t *testing.T) {
	codec := title.NewCodec(title.Options{})
	conv := NewConverter(codec, NewVariant("en-gb", map[string]string{"a": "b"}))
	assert.False(t, conv.HasVariants())
	var nilConv *Converter
	assert.False(t, nilConv.HasVariants())
	_, _, ok := conv.FindVariantLink("a", codec.MakeTitle(title.NSMain, "A"), func(title.Title) bool { return true })
	assert.False(t, ok)
}
