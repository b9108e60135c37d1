package drawio

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validDiagram = `<mxGraphModel><root><mxCell id="0"/><mxCell id="1" parent="0"/></root></mxGraphModel>`

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text untouched", "  <a/>  ", "<a/>"},
		{"xml fence", "Here you go:\n```xml\n<a/>\n```\nHope it helps", "<a/>"},
		{"think then fence", "<think>reasoning about <b/></think>\n```xml\n<a/>\n```", "<a/>"},
		{"think without close left alone", "<think>still thinking <a/>", "<think>still thinking <a/>"},
		{"repeated think pairs", "<think>one</think>noise<think>two</think><a/>", "<a/>"},
		{"generic fence", "```\n<a/>\n```", "<a/>"},
		{"trailing stray fence", "<a/>\n```", "<a/>"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.in))
		})
	}
}

func TestCleanIdempotent(t *testing.T) {
	samples := []string{
		"",
		"<a/>",
		"no markers at all",
		"```xml\n<a/>\n```",
		"<think>x</think>```xml\n<a>```</a>\n```",
		"A```xml B```xml C```",
		"```xml a ``` b ```",
		"<think>open only ```xml <a/>",
		"x</think>y",
		"```json\n{}\n```\n```xml\n<a/>\n```",
	}
	for _, s := range samples {
		once := Clean(s)
		assert.Equal(t, once, Clean(once), "input %q", s)
	}
}

func TestEscapeAmpersands(t *testing.T) {
	assert.Equal(t, "<a>Q&amp;A</a>", EscapeAmpersands("<a>Q&A</a>"))
	assert.Equal(t, "<a>1 &amp; 2</a>", EscapeAmpersands("<a>1 &amp; 2</a>"))
	assert.Equal(t, `<a v="&lt;&#xa;&#10;&quot;&apos;&gt;"/>`, EscapeAmpersands(`<a v="&lt;&#xa;&#10;&quot;&apos;&gt;"/>`))
	assert.Equal(t, "&amp;nbsp;", EscapeAmpersands("&nbsp;"))
}

func TestRecoverXMLEntityRoundTrip(t *testing.T) {
	out := RecoverXML("<a>1 &amp; 2</a>")
	assert.Equal(t, 1, strings.Count(out, "&amp;"))
	assert.NotContains(t, out, "&amp;amp;")
	assert.True(t, Validate(out).Valid, out)
}

func TestRecoverXMLBareAmpersand(t *testing.T) {
	out := RecoverXML("<a>Q&A</a>")
	assert.Contains(t, out, "Q&amp;A")
	assert.True(t, Validate(out).Valid, out)
}

func TestRecoverXMLAddsDeclarationAndIndent(t *testing.T) {
	out := RecoverXML(validDiagram)
	require.True(t, strings.HasPrefix(out, "<?xml"), out)
	assert.Contains(t, out, "\n  <root>")
	assert.True(t, Validate(out).Valid, out)
}

func TestRecoverXMLFragments(t *testing.T) {
	t.Run("siblings keep synthetic root", func(t *testing.T) {
		out := RecoverXML(`<mxCell id="2"/><mxCell id="3"/>`)
		assert.Contains(t, out, "<root>")
		assert.Contains(t, out, `id="2"`)
		assert.Contains(t, out, `id="3"`)
		assert.True(t, Validate(out).Valid, out)
	})
	t.Run("plain text wrapped", func(t *testing.T) {
		out := RecoverXML("just words")
		assert.Contains(t, out, "<root>just words</root>")
	})
}

func TestRecoverXMLTruncated(t *testing.T) {
	out := RecoverXML(`<mxGraphModel><root><mxCell id="0"/><mxCell id="1" parent="0"/>`)
	assert.Contains(t, out, "<mxGraphModel>")
	assert.Contains(t, out, `id="1"`)
	assert.True(t, Validate(out).Valid, out)
}

func TestRecoverXMLKeepsContentAfterSyntaxError(t *testing.T) {
	htmlLabel := `<mxGraphModel><root><mxCell id="0"/><mxCell id="1" parent="0"/>` +
		`<mxCell id="2" value="<b>Encoder</b>" vertex="1" parent="1"/>` +
		`<mxCell id="3" value="Decoder" vertex="1" parent="1"/>` +
		`<mxCell id="4" value="Output" vertex="1" parent="1"/></root></mxGraphModel>`
	tests := map[string]string{
		"html label":         htmlLabel,
		"lt in attribute":    `<a x="1 < 2"/>`,
		"invalid utf8":       "<a>\xff\xfe</a>",
		"mismatched closing": `<a><b>one</a><c>two</c>`,
		"mismatch then cut":  `<a><b>one</a><c>two`,
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, in, RecoverXML("  "+in+"\n"))
		})
	}

	out := RecoverXML(htmlLabel)
	assert.Contains(t, out, "Decoder")
	assert.Contains(t, out, "Output")
}

func TestRecoverXMLEmpty(t *testing.T) {
	assert.Equal(t, "", RecoverXML("   \n"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		in         string
		valid      bool
		detailPart string
	}{
		{"root cell with parent", `<mxGraphModel><root><mxCell id="0" parent="0"/></root></mxGraphModel>`, false, RootParentMessage},
		{"root cell without parent", `<mxGraphModel><root><mxCell id="0"/></root></mxGraphModel>`, true, ""},
		{"full diagram", validDiagram, true, ""},
		{"with declaration", `<?xml version="1.0" encoding="UTF-8"?>` + "\n" + validDiagram, true, ""},
		{"mismatched tags", "<a>\n<b></a>", false, "line 2"},
		{"truncated", "<a><b>", false, "unexpected EOF"},
		{"bare ampersand", "<a>Q&A</a>", false, "XML syntax error"},
		{"two roots", "<a/><b/>", false, "extra content"},
		{"empty", "   ", false, "empty"},
		{"text outside root", "<a/> trailing words", false, "outside the root"},
		{"duplicate attribute", "<mxGraphModel>\n<mxCell id=\"0\" id=\"1\"/></mxGraphModel>", false, "line 2: attribute id redefined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Validate(tt.in)
			assert.Equal(t, tt.valid, got.Valid)
			if tt.valid {
				assert.Empty(t, got.ErrorDetail)
				return
			}
			assert.Contains(t, got.ErrorDetail, tt.detailPart)
		})
	}
}

func TestPatchRootParent(t *testing.T) {
	in := `<mxGraphModel><root><mxCell id="0" parent="0"/><mxCell id="1" parent="0"/></root></mxGraphModel>`
	out, patched := PatchRootParent(in)
	assert.True(t, patched)
	assert.Equal(t, `<mxGraphModel><root><mxCell id="0"/><mxCell id="1" parent="0"/></root></mxGraphModel>`, out)
	assert.True(t, Validate(out).Valid)

	same, patched := PatchRootParent(validDiagram)
	assert.False(t, patched)
	assert.Equal(t, validDiagram, same)
}
