package publisher

import (
	"bytes"
	"html/template"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// 规划文档里基本都是 markdown 表格，需要 GFM 扩展。
var planMarkdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// PlanToHTML renders the plan markdown as an HTML fragment. Raw HTML in the
// plan is not passed through.
func PlanToHTML(plan string) (string, error) {
	var buf bytes.Buffer
	if err := planMarkdown.Convert([]byte(plan), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Report is the content of the optional plan report page.
type Report struct {
	Title      string
	Source     string
	Perception string
	Plan       string
	Valid      bool
	Warnings   []string
	CreatedAt  time.Time
}

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}} - diagram plan</title>
<style>
body { font-family: sans-serif; max-width: 960px; margin: 2em auto; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: 4px 8px; }
pre { white-space: pre-wrap; background: #f6f6f6; padding: 1em; }
.invalid { color: #b00; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p>{{if .Source}}source: <code>{{.Source}}</code> · {{end}}generated {{.CreatedAt.Format "2006-01-02 15:04:05"}} ·
{{if .Valid}}XML valid{{else}}<span class="invalid">XML invalid</span>{{end}}</p>
{{if .Warnings}}<ul>{{range .Warnings}}<li>{{.}}</li>{{end}}</ul>{{end}}
{{if .Perception}}<h2>Perception</h2>
<pre>{{.Perception}}</pre>{{end}}
<h2>Plan</h2>
{{.PlanHTML}}
</body>
</html>
`))

// RenderReport renders a standalone HTML page for a finished conversion.
func RenderReport(r Report) (string, error) {
	planHTML, err := PlanToHTML(r.Plan)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	err = reportTemplate.Execute(&buf, struct {
		Report
		PlanHTML template.HTML
	}{r, template.HTML(planHTML)})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
