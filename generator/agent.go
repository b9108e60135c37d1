package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/YunX-a/image-to-diagram-xml/drawio"
	"github.com/YunX-a/image-to-diagram-xml/imageprep"
	"github.com/YunX-a/image-to-diagram-xml/logging"
	"github.com/YunX-a/image-to-diagram-xml/metrics"
)

// Options tune one Agent.
type Options struct {
	MaxRefinements int
	Tokens         TokenBudget
}

// Agent 负责整条流水线：先规划，再生成并按校验结果修订。
// An Agent holds no per-run state, so one instance can serve concurrent runs.
type Agent struct {
	gw     ModelGateway
	tpl    Templates
	opts   Options
	logger *zap.Logger
}

func NewAgent(gw ModelGateway, tpl Templates, opts Options, logger *zap.Logger) (*Agent, error) {
	if gw == nil {
		return nil, errors.New("model gateway is required")
	}
	if missing := tpl.Missing(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingTemplate, strings.Join(missing, ", "))
	}
	if opts.MaxRefinements < 0 {
		return nil, fmt.Errorf("max refinements must be >= 0, got %d", opts.MaxRefinements)
	}
	def := DefaultTokenBudget()
	if opts.Tokens.Perception <= 0 {
		opts.Tokens.Perception = def.Perception
	}
	if opts.Tokens.Planning <= 0 {
		opts.Tokens.Planning = def.Planning
	}
	if opts.Tokens.Generation <= 0 {
		opts.Tokens.Generation = def.Generation
	}
	if opts.Tokens.Refinement <= 0 {
		opts.Tokens.Refinement = def.Refinement
	}
	logger = logging.OrNop(logger)
	return &Agent{gw: gw, tpl: tpl, opts: opts, logger: logger}, nil
}

// Plan runs the two planning calls: perception with the image, then semantic
// normalisation of that perception without it. The plan is returned as the
// model wrote it; only the final XML is ever sanitised.
func (a *Agent) Plan(ctx context.Context, img imageprep.Payload) (Plan, error) {
	perceived := a.gw.Invoke(ctx, Request{
		Stage:     StagePerception,
		Prompt:    a.tpl.Perceptual,
		Image:     &img,
		MaxTokens: a.opts.Tokens.Perception,
	})
	if perceived.Failed() {
		return Plan{}, &StageError{Stage: StagePerception, Kind: ErrPerceptionFailed, Err: perceived.Err}
	}

	planned := a.gw.Invoke(ctx, Request{
		Stage:     StagePlanning,
		Prompt:    BuildSemanticPrompt(a.tpl.Semantic, perceived.Text),
		MaxTokens: a.opts.Tokens.Planning,
	})
	if planned.Failed() {
		return Plan{}, &StageError{Stage: StagePlanning, Kind: ErrPlanningFailed, Err: planned.Err}
	}
	return Plan{
		Perception: perceived.Text,
		Document:   planned.Text,
		Truncated:  perceived.Truncated || planned.Truncated,
	}, nil
}

// Generate turns a plan into XML and refines it until it validates or the
// refinement budget runs out.
func (a *Agent) Generate(ctx context.Context, plan string) (Result, error) {
	res := Result{Mode: ModeStaged, Plan: plan}
	err := a.generate(ctx, &res, Request{
		Stage:     StageGeneration,
		Prompt:    BuildCodeGenerationPrompt(a.tpl.CodeGeneration, plan),
		MaxTokens: a.opts.Tokens.Generation,
	})
	return res, err
}

// Run is the staged pipeline: Plan, then Generate.
func (a *Agent) Run(ctx context.Context, img imageprep.Payload) (Result, error) {
	start := time.Now()
	p, err := a.Plan(ctx, img)
	if err != nil {
		metrics.RunOutcomes.WithLabelValues(ModeStaged, "failed").Inc()
		return Result{Mode: ModeStaged, Duration: time.Since(start)}, err
	}
	res := Result{Mode: ModeStaged, Perception: p.Perception, Plan: p.Document}
	if p.Truncated {
		res.Truncated = true
		res.warn("planning output hit the length limit")
	}
	err = a.generate(ctx, &res, Request{
		Stage:     StageGeneration,
		Prompt:    BuildCodeGenerationPrompt(a.tpl.CodeGeneration, p.Document),
		MaxTokens: a.opts.Tokens.Generation,
	})
	res.Duration = time.Since(start)
	return res, err
}

// RunDirect skips planning: one call with the combined templates and the
// image, followed by the same refinement loop.
func (a *Agent) RunDirect(ctx context.Context, img imageprep.Payload) (Result, error) {
	start := time.Now()
	res := Result{Mode: ModeDirect}
	err := a.generate(ctx, &res, Request{
		Stage:     StageGeneration,
		Prompt:    BuildDirectPrompt(a.tpl),
		Image:     &img,
		MaxTokens: a.opts.Tokens.Generation,
	})
	res.Duration = time.Since(start)
	return res, err
}

func (a *Agent) generate(ctx context.Context, res *Result, first Request) error {
	initial := a.gw.Invoke(ctx, first)
	text, err := cleanedText(initial)
	if err != nil {
		metrics.RunOutcomes.WithLabelValues(res.Mode, "failed").Inc()
		return &StageError{Stage: StageGeneration, Kind: ErrInitialGenerationFailed, Err: err}
	}
	if initial.Truncated {
		res.Truncated = true
		res.warn("initial generation hit the length limit")
	}
	a.refine(ctx, res, text, initial.Truncated)
	return nil
}

// cleanedText returns the XML body of r. A reply that is nothing but a think
// block or an empty fence counts as empty.
func cleanedText(r Response) (string, error) {
	if r.Failed() {
		return "", r.Err
	}
	text := drawio.Clean(r.Text)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// refine is the validate -> repair -> re-validate loop. Only the current
// candidate is kept; a failed repair call leaves it in place and ends the loop.
func (a *Agent) refine(ctx context.Context, res *Result, current string, truncated bool) {
	for {
		v := drawio.Validate(current)
		res.Iterations = append(res.Iterations, Iteration{
			Index:       res.Refinements,
			Valid:       v.Valid,
			ErrorDetail: v.ErrorDetail,
			Truncated:   truncated,
			Bytes:       len(current),
		})
		if v.Valid {
			res.XML, res.Valid = current, true
			a.finish(res, "valid")
			return
		}
		res.LastError = v.ErrorDetail

		if res.Refinements >= a.opts.MaxRefinements {
			patched, ok := drawio.PatchRootParent(current)
			res.XML, res.Patched, res.Exhausted = patched, ok, true
			if ok {
				res.Valid = drawio.Validate(patched).Valid
			}
			a.finish(res, "exhausted")
			return
		}

		a.logger.Info("candidate invalid, requesting repair",
			zap.Int("refinement", res.Refinements+1),
			zap.Int("budget", a.opts.MaxRefinements),
			zap.String("error", v.ErrorDetail))
		repaired := a.gw.Invoke(ctx, Request{
			Stage:     StageRefinement,
			Prompt:    BuildRefinementPrompt(a.tpl.Refinement, current, v.ErrorDetail),
			MaxTokens: a.opts.Tokens.Refinement,
		})
		next, err := cleanedText(repaired)
		if err != nil {
			res.XML, res.StoppedEarly = current, true
			res.warn(fmt.Sprintf("refinement %d failed, keeping previous candidate: %v", res.Refinements+1, err))
			a.finish(res, "stopped")
			return
		}
		if repaired.Truncated {
			res.Truncated = true
			res.warn(fmt.Sprintf("refinement %d hit the length limit", res.Refinements+1))
		}
		current, truncated = next, repaired.Truncated
		res.Refinements++
		metrics.Refinements.WithLabelValues(res.Mode).Inc()
	}
}

func (a *Agent) finish(res *Result, outcome string) {
	metrics.RunOutcomes.WithLabelValues(res.Mode, outcome).Inc()
	a.logger.Info("generation finished",
		zap.String("mode", res.Mode),
		zap.String("outcome", outcome),
		zap.Bool("valid", res.Valid),
		zap.Int("refinements", res.Refinements),
		zap.Bool("patched", res.Patched),
		zap.Bool("truncated", res.Truncated))
}
