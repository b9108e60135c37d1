package publisher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/YunX-a/image-to-diagram-xml/drawio"
	"github.com/YunX-a/image-to-diagram-xml/logging"
)

const (
	xmlSuffix    = ".drawio.xml"
	reportSuffix = ".plan.html"

	contentTypeXML  = "application/xml; charset=utf-8"
	contentTypeHTML = "text/html; charset=utf-8"
)

// Sink 是产物的落地位置（本地目录或对象存储）。
type Sink interface {
	// Put stores content under name and returns where it ended up.
	Put(ctx context.Context, name string, content []byte, contentType string) (string, error)
}

// Options controls what Publish writes besides the XML itself.
type Options struct {
	// Pretty runs the fault-tolerant formatter over the XML before writing.
	Pretty bool
	// PlanReport additionally writes the plan rendered as an HTML page.
	PlanReport bool
}

// PublishParams describes one finished conversion.
type PublishParams struct {
	Name       string
	Source     string
	XML        string
	Perception string
	Plan       string
	Valid      bool
	Warnings   []string
}

// Published lists where the artifacts went.
type Published struct {
	XML    string `json:"xml"`
	Report string `json:"report,omitempty"`
}

// Publisher writes conversion artifacts to a Sink.
type Publisher struct {
	sink   Sink
	opts   Options
	logger *zap.Logger
}

func New(sink Sink, opts Options, logger *zap.Logger) (*Publisher, error) {
	if sink == nil {
		return nil, errors.New("publisher sink is required")
	}
	logger = logging.OrNop(logger)
	return &Publisher{sink: sink, opts: opts, logger: logger}, nil
}

// ArtifactName derives the artifact base name from an image path:
// "imgs/flow.v2.png" -> "flow.v2".
func ArtifactName(imagePath string) string {
	base := filepath.Base(imagePath)
	if ext := filepath.Ext(base); ext != "" && ext != base {
		base = strings.TrimSuffix(base, ext)
	}
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "diagram"
	}
	return base
}

// FormatXML is the final formatting step applied to the XML on its way out.
// The formatted text is used only when it validates; otherwise the input is
// written unchanged.
func (p *Publisher) FormatXML(xmlText string) string {
	if !p.opts.Pretty {
		return xmlText
	}
	out := drawio.RecoverXML(xmlText)
	if !drawio.Validate(out).Valid {
		return xmlText
	}
	return out
}

// Publish writes <name>.drawio.xml and, when enabled, <name>.plan.html.
func (p *Publisher) Publish(ctx context.Context, params PublishParams) (Published, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return Published{}, errors.New("artifact name is required")
	}
	if strings.TrimSpace(params.XML) == "" {
		return Published{}, errors.New("nothing to publish: xml is empty")
	}

	var out Published
	loc, err := p.sink.Put(ctx, name+xmlSuffix, []byte(p.FormatXML(params.XML)), contentTypeXML)
	if err != nil {
		return Published{}, fmt.Errorf("write xml: %w", err)
	}
	out.XML = loc
	p.logger.Info("xml written", zap.String("name", name), zap.String("location", loc), zap.Bool("valid", params.Valid))

	if p.opts.PlanReport && strings.TrimSpace(params.Plan) != "" {
		page, err := RenderReport(Report{
			Title:      name,
			Source:     params.Source,
			Perception: params.Perception,
			Plan:       params.Plan,
			Valid:      params.Valid,
			Warnings:   params.Warnings,
			CreatedAt:  time.Now(),
		})
		if err != nil {
			return out, fmt.Errorf("render plan report: %w", err)
		}
		loc, err := p.sink.Put(ctx, name+reportSuffix, []byte(page), contentTypeHTML)
		if err != nil {
			return out, fmt.Errorf("write plan report: %w", err)
		}
		out.Report = loc
		p.logger.Info("plan report written", zap.String("name", name), zap.String("location", loc))
	}
	return out, nil
}
