package drawio

import (
	"encoding/xml"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/google/uuid"
)

var (
	// The five predefined entities plus numeric character references, which
	// draw.io uses for line breaks inside labels (&#xa;).
	reEntity      = regexp.MustCompile(`&(?:amp|lt|gt|quot|apos|#[0-9]+|#[xX][0-9a-fA-F]+);`)
	reDeclaration = regexp.MustCompile(`^\s*<\?xml[^>]*\?>`)
)

const syntheticRoot = "root"

// EscapeAmpersands escapes every bare & while leaving existing entity
// references untouched, so `Q&A` becomes `Q&amp;A` and `1 &amp; 2` stays.
func EscapeAmpersands(s string) string {
	if !strings.Contains(s, "&") {
		return s
	}
	prefix := "__ENT_" + strings.ReplaceAll(uuid.NewString(), "-", "") + "_"
	var kept []string
	s = reEntity.ReplaceAllStringFunc(s, func(m string) string {
		kept = append(kept, m)
		return prefix + strconv.Itoa(len(kept)-1) + "__"
	})
	s = strings.ReplaceAll(s, "&", "&amp;")
	if len(kept) == 0 {
		return s
	}
	restore := regexp.MustCompile(regexp.QuoteMeta(prefix) + `([0-9]+)__`)
	return restore.ReplaceAllStringFunc(s, func(m string) string {
		n, err := strconv.Atoi(m[len(prefix) : len(m)-2])
		if err != nil || n >= len(kept) {
			return m
		}
		return kept[n]
	})
}

// RecoverXML 尽量把模型给出的粗糙 XML 变成可解析、带缩进和声明的文本。
// 只接受截断造成的残缺树；其它语法错误或解析失败时原样返回（去掉首尾空白），从不报错。
func RecoverXML(candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return trimmed
	}
	text := EscapeAmpersands(trimmed)

	if doc, _ := parseLenient(text); doc != nil {
		if roots := doc.ChildElements(); len(roots) == 1 {
			if out, err := serialize(roots[0]); err == nil {
				return out
			}
		}
	}

	// 碎片输出（没有根或多个根）：套一层合成根再试。
	body := reDeclaration.ReplaceAllString(text, "")
	wrapped := fmt.Sprintf("<%s>%s</%s>", syntheticRoot, body, syntheticRoot)
	doc, _ := parseLenient(wrapped)
	if doc == nil || doc.Root() == nil {
		return trimmed
	}
	root := doc.Root()
	target := root
	if children := root.ChildElements(); len(children) == 1 {
		target = children[0]
	}
	out, err := serialize(target)
	if err != nil {
		return trimmed
	}
	return out
}

// parseLenient builds the tree with the permissive decoder. A partial tree is
// only kept when the input simply stops early; any other syntax error would
// drop everything after it, so the document is rejected instead.
func parseLenient(s string) (*etree.Document, error) {
	doc := etree.NewDocument()
	doc.ReadSettings.Permissive = true
	err := doc.ReadFromString(s)
	if len(doc.ChildElements()) == 0 {
		if err == nil {
			err = fmt.Errorf("drawio: no element found")
		}
		return nil, err
	}
	if err != nil && !truncated(s) {
		return nil, err
	}
	return doc, nil
}

// truncated reports whether the first problem in s is running out of input.
func truncated(s string) bool {
	dec := xml.NewDecoder(strings.NewReader(s))
	dec.Entity = xml.HTMLEntity
	for {
		if _, err := dec.Token(); err != nil {
			var se *xml.SyntaxError
			return errors.As(err, &se) && strings.HasPrefix(se.Msg, "unexpected EOF")
		}
	}
}

func serialize(root *etree.Element) (string, error) {
	out := etree.NewDocument()
	out.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	out.SetRoot(root.Copy())
	out.Indent(2)
	// 属性值里的换行要写成 &#xA;，否则重新解析时会被折叠成空格。
	out.WriteSettings.CanonicalAttrVal = true
	return out.WriteToString()
}
