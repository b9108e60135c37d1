package drawio

import "strings"

// 兜底补丁：只认这几种字面写法，不做结构化修复。
var rootParentFragments = []struct{ bad, good string }{
	{`<mxCell id="0" parent="0"/>`, `<mxCell id="0"/>`},
	{`<mxCell id="0" parent="0" />`, `<mxCell id="0" />`},
	{`<mxCell id="0" parent="0"></mxCell>`, `<mxCell id="0"></mxCell>`},
	{`<mxCell id="0" parent="1"/>`, `<mxCell id="0"/>`},
	{`<mxCell id="0" parent="1" />`, `<mxCell id="0" />`},
}

// PatchRootParent replaces the literal invalid root-cell-with-parent
// fragments with their parent-less form. Anything else is left alone.
func PatchRootParent(candidate string) (string, bool) {
	patched := false
	for _, f := range rootParentFragments {
		if strings.Contains(candidate, f.bad) {
			candidate = strings.ReplaceAll(candidate, f.bad, f.good)
			patched = true
		}
	}
	return candidate, patched
}
