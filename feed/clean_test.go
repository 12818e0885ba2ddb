package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanIsNoOpOnValidXML(t *testing.T) {
	inputs := []string{
		`<hektor><ad><titre>Maison &amp; jardin</titre></ad></hektor>`,
		`<a b="&quot;x&quot;">&lt;tag&gt; &#233; &#xE9; &eacute; &apos;</a>`,
		"<a>\tline one\r\nline two</a>",
		`<a><![CDATA[raw & unescaped < text]]></a>`,
		``,
	}
	for _, in := range inputs {
		assert.Equal(t, in, string(Clean([]byte(in))), "input %q", in)
	}
}

func TestCleanRepairsDoubleEscaping(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`<t>&amp;quot;Belle vue&amp;quot;</t>`, `<t>&quot;Belle vue&quot;</t>`},
		{`<t>&amp;lt;b&amp;gt;</t>`, `<t>&lt;b&gt;</t>`},
		{`<t>&amp;amp;quot;</t>`, `<t>&quot;</t>`},
		{`<t>l&amp;#39;entr&amp;#xE9;e</t>`, `<t>l&#39;entr&#xE9;e</t>`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, string(Clean([]byte(tt.in))))
	}
}

func TestCleanTreatsEscapedReferenceTextAsDoubleEscape(t *testing.T) {
	// Well-formed text that spells out an escaped reference is collapsed too.
	assert.Equal(t, `<t>Tom &amp; Jerry</t>`, string(Clean([]byte(`<t>Tom &amp;amp; Jerry</t>`))))
	assert.Equal(t, `<t>&lt;</t>`, string(Clean([]byte(`<t>&amp;lt;</t>`))))

	root, err := Parse(Clean([]byte(`<t>Tom &amp;amp; Jerry</t>`)))
	require.NoError(t, err)
	assert.Equal(t, "Tom & Jerry", root.Value)
}

func TestCleanEscapesBareAmpersands(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`<t>Salle & cuisine</t>`, `<t>Salle &amp; cuisine</t>`},
		{`<t>R&D</t>`, `<t>R&amp;D</t>`},
		{`<u>http://x.fr/?a=1&b=2</u>`, `<u>http://x.fr/?a=1&amp;b=2</u>`},
		{`<t>&#;</t>`, `<t>&amp;#;</t>`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, string(Clean([]byte(tt.in))))
	}
}

func TestCleanStripsControlCharacters(t *testing.T) {
	in := "<t>a\x00b\x08c\x1fd\x7fe\tf</t>"
	assert.Equal(t, "<t>abcde\tf</t>", string(Clean([]byte(in))))
}

func TestCleanKeepsLatin1Bytes(t *testing.T) {
	in := []byte("<t>caf\xe9</t>")
	assert.Equal(t, in, Clean(in))
}

func TestCleanIsIdempotent(t *testing.T) {
	in := []byte("<t>&amp;quot;A & B&amp;quot; \x01</t>")
	once := Clean(in)
	assert.Equal(t, once, Clean(once))
}

func TestCleanThenParseDoubleEscapedQuote(t *testing.T) {
	raw := []byte(`<hektor><ad><titre>&amp;quot;Loft&amp;quot; & terrasse</titre></ad></hektor>`)
	root, err := Parse(Clean(raw))
	require.NoError(t, err)
	assert.Equal(t, `"Loft" & terrasse`, root.Child("ad").Text("titre"))
}
