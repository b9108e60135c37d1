package generator

import (
	"context"
	"errors"

	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// EinoLLM adapts any eino chat model to LLMClient. The ollama provider is
// built on top of it.
type EinoLLM struct {
	name        string
	cm          model.BaseChatModel
	temperature float32
}

func NewEinoLLM(name string, cm model.BaseChatModel, temperature float64) (*EinoLLM, error) {
	if cm == nil {
		return nil, errors.New("eino chat model is required")
	}
	return &EinoLLM{name: name, cm: cm, temperature: float32(temperature)}, nil
}

func NewOllamaLLMFromConfig(ctx context.Context, cfg *LLMSettings) (*EinoLLM, error) {
	if cfg == nil {
		return nil, errors.New("llm config is nil")
	}
	if cfg.Model == "" {
		return nil, errors.New("llm model is required")
	}
	cm, err := ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
	})
	if err != nil {
		return nil, err
	}
	return NewEinoLLM("ollama:"+cfg.Model, cm, cfg.Temperature)
}

func (e *EinoLLM) Name() string { return e.name }

func (e *EinoLLM) Complete(ctx context.Context, req Request) (Completion, error) {
	msg := schema.UserMessage(req.Prompt)
	if req.Image != nil {
		msg = schema.UserMessage("")
		msg.MultiContent = append(msg.MultiContent,
			schema.ChatMessagePart{
				Type: schema.ChatMessagePartTypeText,
				Text: req.Prompt,
			},
			schema.ChatMessagePart{
				Type: schema.ChatMessagePartTypeImageURL,
				ImageURL: &schema.ChatMessageImageURL{
					URL: req.Image.DataURL(),
				},
			})
	}

	opts := []model.Option{model.WithTemperature(e.temperature)}
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}
	out, err := e.cm.Generate(ctx, []*schema.Message{msg}, opts...)
	if err != nil {
		return Completion{}, err
	}
	if out == nil {
		return Completion{}, errors.New("eino: nil message")
	}
	fr := ""
	if out.ResponseMeta != nil {
		fr = out.ResponseMeta.FinishReason
	}
	return Completion{Text: out.Content, Truncated: fr == "length"}, nil
}
