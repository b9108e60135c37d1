package generator

import (
	"strings"
)

// Section labels that separate a template from the material it works on.
const (
	labelPerception = "[PERCEPTUAL ANALYSIS]"
	labelPlan       = "[DIAGRAM PLAN]"
	labelCurrentXML = "[CURRENT XML]"
	labelError      = "[VALIDATION ERROR]"
)

const directClosing = "Analyse the provided image according to the instructions above and output the final Draw.io XML directly."

func section(label, body string) string {
	return "\n\n" + label + "\n" + body
}

// BuildSemanticPrompt 把感知结果原样附在语义模板后面（这一步不带图片）。
func BuildSemanticPrompt(semanticTemplate, perception string) string {
	return semanticTemplate + section(labelPerception, perception)
}

// BuildCodeGenerationPrompt 生成首版 XML 的提示词。
func BuildCodeGenerationPrompt(codeGenTemplate, plan string) string {
	return codeGenTemplate + section(labelPlan, plan)
}

// BuildRefinementPrompt 生成修订提示词：当前 XML + 校验器的报错。
func BuildRefinementPrompt(refinementTemplate, candidate, errorDetail string) string {
	var sb strings.Builder
	sb.WriteString(refinementTemplate)
	sb.WriteString(section(labelCurrentXML, candidate))
	sb.WriteString(section(labelError, errorDetail))
	return sb.String()
}

// BuildDirectPrompt merges the first three templates for the single-call mode.
func BuildDirectPrompt(t Templates) string {
	parts := []string{
		strings.TrimSpace(t.Perceptual),
		strings.TrimSpace(t.Semantic),
		strings.TrimSpace(t.CodeGeneration),
	}
	return strings.Join(parts, "\n\n---\n\n") + "\n\n" + directClosing
}
