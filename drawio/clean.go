package drawio

import "strings"

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
	fenceXML   = "```xml"
	fence      = "```"
)

// Clean 去掉模型回答里的思维链和 markdown 代码块包装，只保留 XML 正文。
//
// Clean is a textual strip, not a parser. It is idempotent: once the last
// closing think marker and the first closing fence have been cut away,
// nothing is left for a second pass to remove.
func Clean(raw string) string {
	s := raw

	// 只有成对出现时才裁剪；只有开标签时保持原样。
	if strings.Contains(s, thinkOpen) {
		if i := strings.LastIndex(s, thinkClose); i >= 0 {
			s = s[i+len(thinkClose):]
		}
	}

	if i := strings.LastIndex(s, fenceXML); i >= 0 {
		s = s[i+len(fenceXML):]
	} else if i := strings.Index(s, fence); i >= 0 && strings.Contains(s[i+len(fence):], fence) {
		// 没有 xml 语言标记的完整代码块，丢掉开头那一行（可能带别的语言名）。
		s = s[i+len(fence):]
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
	}
	if i := strings.Index(s, fence); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
