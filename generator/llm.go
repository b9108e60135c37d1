package generator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/YunX-a/image-to-diagram-xml/logging"
	"github.com/YunX-a/image-to-diagram-xml/metrics"
)

// LLMClient 抽象具体的模型后端，便于替换/Mock。
// Implementations make exactly one outbound call per Complete and never retry.
type LLMClient interface {
	Name() string
	Complete(ctx context.Context, req Request) (Completion, error)
}

// Completion is the raw answer of a backend.
type Completion struct {
	Text      string
	Truncated bool
}

// LLMSettings 提供给具体实现的基础配置。
type LLMSettings struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
}

// ModelGateway is the single capability the pipeline needs: ask the model.
// Failures are reported inside the Response, never returned as errors.
type ModelGateway interface {
	Invoke(ctx context.Context, req Request) Response
}

// DefaultTimeout bounds a single gateway call.
const DefaultTimeout = 3 * time.Minute

// Gateway adapts an LLMClient to ModelGateway: it applies the per-call
// timeout, folds transport failures and empty answers into Response.Err,
// and logs/measures every call.
type Gateway struct {
	llm     LLMClient
	timeout time.Duration
	logger  *zap.Logger
}

func NewGateway(llm LLMClient, timeout time.Duration, logger *zap.Logger) (*Gateway, error) {
	if llm == nil {
		return nil, fmt.Errorf("llm client is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger = logging.OrNop(logger)
	return &Gateway{llm: llm, timeout: timeout, logger: logger}, nil
}

func (g *Gateway) Invoke(ctx context.Context, req Request) (resp Response) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			resp = Response{Err: fmt.Errorf("%s: panic: %v", g.llm.Name(), r)}
		}
		g.observe(req, resp, time.Since(start))
	}()

	c, err := g.llm.Complete(ctx, req)
	if err != nil {
		return Response{Err: fmt.Errorf("%s: %w", g.llm.Name(), err)}
	}
	if strings.TrimSpace(c.Text) == "" {
		return Response{Err: fmt.Errorf("%s: %w", g.llm.Name(), ErrEmptyResponse)}
	}
	return Response{Text: c.Text, Truncated: c.Truncated}
}

func (g *Gateway) observe(req Request, resp Response, took time.Duration) {
	fields := []zap.Field{
		zap.String("backend", g.llm.Name()),
		zap.String("stage", req.Stage),
		zap.Int("prompt_bytes", len(req.Prompt)),
		zap.Bool("image", req.Image != nil),
		zap.Int("max_tokens", req.MaxTokens),
		zap.Duration("took", took),
	}
	outcome := "ok"
	switch {
	case resp.Failed():
		outcome = "failed"
		g.logger.Warn("model call failed", append(fields, zap.Error(resp.Err))...)
	case resp.Truncated:
		outcome = "truncated"
		g.logger.Warn("model output hit the length limit; result may be incomplete",
			append(fields, zap.Int("response_bytes", len(resp.Text)))...)
	default:
		g.logger.Info("model call", append(fields, zap.Int("response_bytes", len(resp.Text)))...)
	}
	metrics.GatewayCalls.WithLabelValues(g.llm.Name(), req.Stage, outcome).Inc()
	metrics.GatewayDuration.WithLabelValues(g.llm.Name(), req.Stage).Observe(took.Seconds())
}

// NewLLM 根据 provider 选择具体实现（启动时选定一次）。
func NewLLM(ctx context.Context, cfg LLMSettings) (LLMClient, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAILLMFromConfig(&cfg, ImagePartsContent)
	case "deepseek":
		// DeepSeek 提供 OpenAI 兼容接口，但图片要以内联 <img> 标签放进文本消息里。
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("llm provider deepseek requires base_url (OpenAI-compatible endpoint)")
		}
		return NewOpenAILLMFromConfig(&cfg, ImageInlineTag)
	case "zhipu":
		return NewZhipuLLMFromConfig(&cfg, nil)
	case "gemini":
		return NewGeminiLLMFromConfig(ctx, &cfg)
	case "ollama":
		return NewOllamaLLMFromConfig(ctx, &cfg)
	case "mock":
		return MockLLM{}, nil
	case "":
		return nil, fmt.Errorf("llm config missing; please set provider/model/api_key in config")
	default:
		return nil, fmt.Errorf("llm provider %s not supported", cfg.Provider)
	}
}
