package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

const zhipuChatPath = "/chat/completions"

// ZhipuLLM talks to the GLM chat completions endpoint over plain HTTP.
// GLM-4.5V needs the thinking/do_sample switches which are not part of the
// OpenAI request schema.
type ZhipuLLM struct {
	Model   string
	APIKey  string
	BaseURL string
	client  *http.Client
}

type zhipuContentPart struct {
	Type     string         `json:"type"`
	Text     string         `json:"text,omitempty"`
	ImageURL *zhipuImageURL `json:"image_url,omitempty"`
}

type zhipuImageURL struct {
	URL string `json:"url"`
}

type zhipuMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type zhipuThinking struct {
	Type string `json:"type"`
}

type zhipuPayload struct {
	Model     string         `json:"model"`
	Messages  []zhipuMessage `json:"messages"`
	MaxTokens int            `json:"max_tokens,omitempty"`
	Thinking  zhipuThinking  `json:"thinking"`
	DoSample  bool           `json:"do_sample"`
}

// NewZhipuLLMFromConfig builds the client. The gateway owns the per-call
// timeout, so a nil client falls back to one without its own deadline.
func NewZhipuLLMFromConfig(cfg *LLMSettings, client *http.Client) (*ZhipuLLM, error) {
	if cfg == nil {
		return nil, errors.New("llm config is nil")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("zhipu api key missing; provide api_key")
	}
	if cfg.Model == "" {
		return nil, errors.New("llm model is required")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("zhipu base_url is required")
	}
	if client == nil {
		client = &http.Client{}
	}
	return &ZhipuLLM{
		Model:   cfg.Model,
		APIKey:  cfg.APIKey,
		BaseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
	}, nil
}

func (z *ZhipuLLM) Name() string { return "zhipu:" + z.Model }

func (z *ZhipuLLM) Complete(ctx context.Context, req Request) (Completion, error) {
	msg := zhipuMessage{Role: "user", Content: req.Prompt}
	if req.Image != nil {
		msg.Content = []zhipuContentPart{
			{Type: "text", Text: req.Prompt},
			{Type: "image_url", ImageURL: &zhipuImageURL{URL: req.Image.DataURL()}},
		}
	}
	payload := zhipuPayload{
		Model:     z.Model,
		Messages:  []zhipuMessage{msg},
		MaxTokens: req.MaxTokens,
		Thinking:  zhipuThinking{Type: "enabled"},
		DoSample:  false,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Completion{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", z.BaseURL+zhipuChatPath, bytes.NewReader(body))
	if err != nil {
		return Completion{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+z.APIKey)

	resp, err := z.client.Do(httpReq)
	if err != nil {
		return Completion{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Completion{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Completion{}, fmt.Errorf("zhipu: status %d: %s", resp.StatusCode, snippet(data, 300))
	}
	if !gjson.ValidBytes(data) {
		return Completion{}, fmt.Errorf("zhipu: malformed response: %s", snippet(data, 300))
	}
	content := gjson.GetBytes(data, "choices.0.message.content")
	if !content.Exists() {
		return Completion{}, fmt.Errorf("zhipu: response has no message content: %s", snippet(data, 300))
	}
	return Completion{
		Text:      content.String(),
		Truncated: gjson.GetBytes(data, "choices.0.finish_reason").String() == "length",
	}, nil
}

func snippet(b []byte, limit int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
