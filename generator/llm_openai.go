package generator

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ImageMode decides how an image is attached to an OpenAI-compatible request.
type ImageMode int

const (
	// ImagePartsContent sends a multimodal content list with an image_url part.
	ImagePartsContent ImageMode = iota
	// ImageInlineTag embeds <img src="data:..."> in a flat text message (DeepSeek).
	ImageInlineTag
)

// OpenAILLM implements LLMClient using the official openai-go SDK (chat completions).
type OpenAILLM struct {
	Provider    string
	Model       string
	Temperature float64
	ImageMode   ImageMode
	client      openai.Client
}

func NewOpenAILLMFromConfig(cfg *LLMSettings, mode ImageMode, extra ...option.RequestOption) (*OpenAILLM, error) {
	if cfg == nil {
		return nil, errors.New("llm config is nil")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key missing; provide api_key")
	}
	if cfg.Model == "" {
		return nil, errors.New("llm model is required")
	}
	// 网关不做重试：一次调用只对应一次网络请求。
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	opts = append(opts, extra...)
	provider := cfg.Provider
	if provider == "" {
		provider = "openai"
	}
	return &OpenAILLM{
		Provider:    provider,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		ImageMode:   mode,
		client:      openai.NewClient(opts...),
	}, nil
}

func (o *OpenAILLM) Name() string { return o.Provider + ":" + o.Model }

func (o *OpenAILLM) Complete(ctx context.Context, req Request) (Completion, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(o.Model),
		Messages:    []openai.ChatCompletionMessageParamUnion{o.userMessage(req)},
		Temperature: openai.Float(o.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Completion{}, err
	}
	if len(resp.Choices) == 0 {
		return Completion{}, errors.New("openai: empty choices")
	}
	choice := resp.Choices[0]
	return Completion{
		Text:      choice.Message.Content,
		Truncated: choice.FinishReason == "length",
	}, nil
}

func (o *OpenAILLM) userMessage(req Request) openai.ChatCompletionMessageParamUnion {
	if req.Image == nil {
		return openai.UserMessage(req.Prompt)
	}
	if o.ImageMode == ImageInlineTag {
		return openai.UserMessage(fmt.Sprintf("%s\n<img src=\"%s\">", req.Prompt, req.Image.DataURL()))
	}
	return openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(req.Prompt),
		openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: req.Image.DataURL(),
		}),
	})
}
