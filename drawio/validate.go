package drawio

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// RootParentMessage is the detail reported when the reserved root cell
// declares a parent.
const RootParentMessage = `the root cell <mxCell id="0"> cannot have a parent attribute; remove parent from the cell with id "0"`

const (
	cellTag    = "mxCell"
	rootCellID = "0"
)

// ValidationResult is the outcome of a single Validate call.
type ValidationResult struct {
	Valid       bool
	ErrorDetail string
}

func invalid(detail string) ValidationResult {
	return ValidationResult{Valid: false, ErrorDetail: detail}
}

// Validate parses xmlText strictly and then checks the draw.io root cell rule.
// Parser diagnostics carry the line number so they can be fed back to the
// model verbatim.
func Validate(xmlText string) ValidationResult {
	dec := xml.NewDecoder(strings.NewReader(xmlText))
	dec.Strict = true

	depth, roots := 0, 0
	rootHasParent := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return invalid(err.Error())
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				roots++
				if roots > 1 {
					line, _ := dec.InputPos()
					return invalid(fmt.Sprintf("XML syntax error on line %d: extra content at the end of the document (second root element <%s>)", line, t.Name.Local))
				}
			}
			depth++
			if name, dup := duplicateAttr(t.Attr); dup {
				line, _ := dec.InputPos()
				return invalid(fmt.Sprintf("XML syntax error on line %d: attribute %s redefined on <%s>", line, name, t.Name.Local))
			}
			if t.Name.Local == cellTag && isRootCellWithParent(t.Attr) {
				rootHasParent = true
			}
		case xml.EndElement:
			depth--
		case xml.CharData:
			if depth == 0 && len(strings.TrimSpace(string(t))) > 0 {
				line, _ := dec.InputPos()
				return invalid(fmt.Sprintf("XML syntax error on line %d: text content outside the root element", line))
			}
		}
	}
	if roots == 0 {
		return invalid("XML syntax error: document is empty, no root element found")
	}
	if rootHasParent {
		return invalid(RootParentMessage)
	}
	return ValidationResult{Valid: true}
}

// encoding/xml 不检查重复属性，这里补上。
func duplicateAttr(attrs []xml.Attr) (string, bool) {
	if len(attrs) < 2 {
		return "", false
	}
	seen := make(map[xml.Name]struct{}, len(attrs))
	for _, a := range attrs {
		if _, ok := seen[a.Name]; ok {
			if a.Name.Space != "" {
				return a.Name.Space + ":" + a.Name.Local, true
			}
			return a.Name.Local, true
		}
		seen[a.Name] = struct{}{}
	}
	return "", false
}

func isRootCellWithParent(attrs []xml.Attr) bool {
	isRoot, hasParent := false, false
	for _, a := range attrs {
		switch a.Name.Local {
		case "id":
			isRoot = a.Value == rootCellID
		case "parent":
			hasParent = true
		}
	}
	return isRoot && hasParent
}
