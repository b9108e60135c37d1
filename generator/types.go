package generator

import (
	"strings"
	"time"

	"github.com/YunX-a/image-to-diagram-xml/imageprep"
)

// Stage names, used for logging, metrics and mock routing.
const (
	StagePerception = "perception"
	StagePlanning   = "planning"
	StageGeneration = "generation"
	StageRefinement = "refinement"
)

// Pipeline modes.
const (
	ModeStaged = "staged"
	ModeDirect = "direct"
)

// Templates 是四个预先写好的提示词模板，启动时加载一次，之后不再修改。
type Templates struct {
	Perceptual     string
	Semantic       string
	CodeGeneration string
	Refinement     string
}

// Missing lists the names of empty templates.
func (t Templates) Missing() []string {
	var missing []string
	for _, f := range []struct{ name, v string }{
		{"perceptual", t.Perceptual},
		{"semantic", t.Semantic},
		{"code_generation", t.CodeGeneration},
		{"refinement", t.Refinement},
	} {
		if strings.TrimSpace(f.v) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// TokenBudget holds the output-token ceiling per stage. Generation gets the
// largest one since it writes the bulk of the document.
type TokenBudget struct {
	Perception int
	Planning   int
	Generation int
	Refinement int
}

// DefaultTokenBudget returns the ceilings used when none are configured.
func DefaultTokenBudget() TokenBudget {
	return TokenBudget{Perception: 4096, Planning: 4096, Generation: 8192, Refinement: 6144}
}

// Request is one call to the model. Image is only set for the first
// planning call (or the single call in direct mode).
type Request struct {
	Stage     string
	Prompt    string
	Image     *imageprep.Payload
	MaxTokens int
}

// Response carries the model text, or Err when the call failed. A failed
// call has no text; Truncated means the provider stopped at its length limit.
type Response struct {
	Text      string
	Truncated bool
	Err       error
}

// Failed reports whether the response has no usable text.
func (r Response) Failed() bool { return r.Err != nil }

// Plan is the output of the planning stage.
type Plan struct {
	Perception string `json:"perception"`
	Document   string `json:"document"`
	Truncated  bool   `json:"truncated"`
}

// Iteration 记录一次校验的结果（只记元数据，不保留候选 XML 本身）。
type Iteration struct {
	Index       int    `json:"index"`
	Valid       bool   `json:"valid"`
	ErrorDetail string `json:"error_detail,omitempty"`
	Truncated   bool   `json:"truncated"`
	Bytes       int    `json:"bytes"`
}

// Result is the terminal artifact of one pipeline run plus its trace.
type Result struct {
	Mode         string        `json:"mode"`
	Perception   string        `json:"perception,omitempty"`
	Plan         string        `json:"plan,omitempty"`
	XML          string        `json:"xml"`
	Valid        bool          `json:"valid"`
	Refinements  int           `json:"refinements"`
	Exhausted    bool          `json:"exhausted"`
	Patched      bool          `json:"patched"`
	StoppedEarly bool          `json:"stopped_early"`
	Truncated    bool          `json:"truncated"`
	LastError    string        `json:"last_error,omitempty"`
	Iterations   []Iteration   `json:"iterations"`
	Warnings     []string      `json:"warnings,omitempty"`
	Duration     time.Duration `json:"duration"`
}

func (r *Result) warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}
