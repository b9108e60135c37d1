package generator

import (
	"context"
	"strings"
)

// MockDiagram is the canned diagram MockLLM answers with.
const MockDiagram = `<mxfile host="app.diagrams.net">
  <diagram id="mock" name="Page-1">
    <mxGraphModel dx="800" dy="600" grid="1" gridSize="10">
      <root>
        <mxCell id="0"/>
        <mxCell id="1" parent="0"/>
        <mxCell id="2" value="Input" style="rounded=1;whiteSpace=wrap;html=1;" vertex="1" parent="1">
          <mxGeometry x="40" y="40" width="120" height="60" as="geometry"/>
        </mxCell>
        <mxCell id="3" value="Output" style="rounded=1;whiteSpace=wrap;html=1;" vertex="1" parent="1">
          <mxGeometry x="240" y="40" width="120" height="60" as="geometry"/>
        </mxCell>
        <mxCell id="4" edge="1" source="2" target="3" parent="1">
          <mxGeometry relative="1" as="geometry"/>
        </mxCell>
      </root>
    </mxGraphModel>
  </diagram>
</mxfile>`

// MockLLM 一个简单的占位实现，便于本地调试，不调用外部模型。
type MockLLM struct{}

func (m MockLLM) Name() string { return "mock" }

func (m MockLLM) Complete(_ context.Context, req Request) (Completion, error) {
	var sb strings.Builder
	switch req.Stage {
	case StagePerception:
		sb.WriteString("The image shows two rounded boxes, \"Input\" on the left and \"Output\" on the right, ")
		sb.WriteString("connected by one arrow pointing right.")
	case StagePlanning:
		sb.WriteString("## Nodes\n\n")
		sb.WriteString("| id | label | shape |\n|----|-------|-------|\n")
		sb.WriteString("| 2 | Input | rounded rectangle |\n| 3 | Output | rounded rectangle |\n\n")
		sb.WriteString("## Edges\n\n- 2 -> 3\n")
	default:
		sb.WriteString("<think>mock reasoning</think>\n```xml\n")
		sb.WriteString(MockDiagram)
		sb.WriteString("\n```\n")
	}
	return Completion{Text: sb.String()}, nil
}
