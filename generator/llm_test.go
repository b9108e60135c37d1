package generator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap/zaptest"
)

type funcLLM struct {
	fn func(ctx context.Context, req Request) (Completion, error)
}

func (f funcLLM) Name() string { return "func" }

func (f funcLLM) Complete(ctx context.Context, req Request) (Completion, error) {
	return f.fn(ctx, req)
}

func TestGateway_Invoke(t *testing.T) {
	tests := []struct {
		name      string
		fn        func(ctx context.Context, req Request) (Completion, error)
		wantText  string
		wantTrunc bool
		wantErr   error
	}{
		{
			name:     "ok",
			fn:       func(context.Context, Request) (Completion, error) { return Completion{Text: "<a/>"}, nil },
			wantText: "<a/>",
		},
		{
			name:      "truncated still returns text",
			fn:        func(context.Context, Request) (Completion, error) { return Completion{Text: "<a>", Truncated: true}, nil },
			wantText:  "<a>",
			wantTrunc: true,
		},
		{
			name:    "transport error",
			fn:      func(context.Context, Request) (Completion, error) { return Completion{}, errBoom },
			wantErr: errBoom,
		},
		{
			name:    "blank answer",
			fn:      func(context.Context, Request) (Completion, error) { return Completion{Text: " \n "}, nil },
			wantErr: ErrEmptyResponse,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, err := NewGateway(funcLLM{tt.fn}, time.Second, zaptest.NewLogger(t))
			require.NoError(t, err)
			resp := gw.Invoke(context.Background(), Request{Stage: StageGeneration, Prompt: "p"})
			if tt.wantErr != nil {
				assert.True(t, resp.Failed())
				assert.ErrorIs(t, resp.Err, tt.wantErr)
				assert.Empty(t, resp.Text)
				return
			}
			assert.False(t, resp.Failed())
			assert.Equal(t, tt.wantText, resp.Text)
			assert.Equal(t, tt.wantTrunc, resp.Truncated)
		})
	}
}

func TestGateway_Timeout(t *testing.T) {
	slow := funcLLM{func(ctx context.Context, _ Request) (Completion, error) {
		<-ctx.Done()
		return Completion{}, ctx.Err()
	}}
	gw, err := NewGateway(slow, 20*time.Millisecond, nil)
	require.NoError(t, err)

	resp := gw.Invoke(context.Background(), Request{Stage: StagePerception})
	assert.ErrorIs(t, resp.Err, context.DeadlineExceeded)
}

func TestGateway_RecoversPanic(t *testing.T) {
	bad := funcLLM{func(context.Context, Request) (Completion, error) { panic("nil map") }}
	gw, err := NewGateway(bad, time.Second, nil)
	require.NoError(t, err)

	resp := gw.Invoke(context.Background(), Request{Stage: StagePlanning})
	require.True(t, resp.Failed())
	assert.Contains(t, resp.Err.Error(), "panic")
}

func TestNewGateway_RequiresClient(t *testing.T) {
	_, err := NewGateway(nil, 0, nil)
	assert.Error(t, err)
}

func TestNewLLM(t *testing.T) {
	ctx := context.Background()

	c, err := NewLLM(ctx, LLMSettings{Provider: "mock"})
	require.NoError(t, err)
	assert.Equal(t, "mock", c.Name())

	_, err = NewLLM(ctx, LLMSettings{})
	assert.Error(t, err)

	_, err = NewLLM(ctx, LLMSettings{Provider: "nope"})
	assert.ErrorContains(t, err, "not supported")

	_, err = NewLLM(ctx, LLMSettings{Provider: "deepseek", APIKey: "k", Model: "m"})
	assert.ErrorContains(t, err, "base_url")

	c, err = NewLLM(ctx, LLMSettings{Provider: "deepseek", APIKey: "k", Model: "deepseek-chat", BaseURL: "https://api.deepseek.com"})
	require.NoError(t, err)
	assert.Equal(t, "deepseek:deepseek-chat", c.Name())

	_, err = NewLLM(ctx, LLMSettings{Provider: "zhipu", Model: "glm-4.5v", BaseURL: "http://x"})
	assert.ErrorContains(t, err, "api key")
}

func TestZhipuLLM_Complete(t *testing.T) {
	var captured []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/paas/v4/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		captured, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"choices":[{"finish_reason":"length","message":{"role":"assistant","content":"<mxfile/>"}}]}`)
	}))
	defer srv.Close()

	z, err := NewZhipuLLMFromConfig(&LLMSettings{Model: "glm-4.5v", APIKey: "secret", BaseURL: srv.URL + "/api/paas/v4/"}, srv.Client())
	require.NoError(t, err)

	out, err := z.Complete(context.Background(), Request{Prompt: "draw", Image: &testImage, MaxTokens: 4096})
	require.NoError(t, err)
	assert.Equal(t, "<mxfile/>", out.Text)
	assert.True(t, out.Truncated)

	assert.Equal(t, "glm-4.5v", gjson.GetBytes(captured, "model").String())
	assert.Equal(t, "enabled", gjson.GetBytes(captured, "thinking.type").String())
	assert.False(t, gjson.GetBytes(captured, "do_sample").Bool())
	assert.Equal(t, int64(4096), gjson.GetBytes(captured, "max_tokens").Int())
	assert.Equal(t, "draw", gjson.GetBytes(captured, "messages.0.content.0.text").String())
	assert.True(t, strings.HasPrefix(gjson.GetBytes(captured, "messages.0.content.1.image_url.url").String(), "data:image/jpeg;base64,"))
}

func TestZhipuLLM_TextOnlyAndErrors(t *testing.T) {
	status := http.StatusOK
	body := `{"choices":[{"finish_reason":"stop","message":{"content":"plan"}}]}`
	var captured []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = io.ReadAll(r.Body)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	defer srv.Close()

	z, err := NewZhipuLLMFromConfig(&LLMSettings{Model: "glm", APIKey: "k", BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	out, err := z.Complete(context.Background(), Request{Prompt: "text only"})
	require.NoError(t, err)
	assert.Equal(t, "plan", out.Text)
	assert.False(t, out.Truncated)
	assert.Equal(t, "text only", gjson.GetBytes(captured, "messages.0.content").String())

	status, body = http.StatusTooManyRequests, `{"error":"rate limited"}`
	_, err = z.Complete(context.Background(), Request{Prompt: "x"})
	assert.ErrorContains(t, err, "429")

	status, body = http.StatusOK, `not json`
	_, err = z.Complete(context.Background(), Request{Prompt: "x"})
	assert.ErrorContains(t, err, "malformed")
}

func TestOpenAILLM_Complete(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"<mxfile/>"}}]}`)
	}))
	defer srv.Close()

	tests := []struct {
		name  string
		mode  ImageMode
		check func(t *testing.T, msg map[string]any)
	}{
		{
			name: "content parts",
			mode: ImagePartsContent,
			check: func(t *testing.T, msg map[string]any) {
				parts, ok := msg["content"].([]any)
				require.True(t, ok, "content should be a parts list")
				require.Len(t, parts, 2)
				assert.Equal(t, "image_url", parts[1].(map[string]any)["type"])
			},
		},
		{
			name: "inline img tag",
			mode: ImageInlineTag,
			check: func(t *testing.T, msg map[string]any) {
				content, ok := msg["content"].(string)
				require.True(t, ok, "content should be flat text")
				assert.Contains(t, content, `<img src="data:image/jpeg;base64,`)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := NewOpenAILLMFromConfig(&LLMSettings{Model: "gpt-4o", APIKey: "k", BaseURL: srv.URL + "/v1/"}, tt.mode)
			require.NoError(t, err)

			out, err := o.Complete(context.Background(), Request{Prompt: "draw", Image: &testImage, MaxTokens: 100})
			require.NoError(t, err)
			assert.Equal(t, "<mxfile/>", out.Text)
			assert.False(t, out.Truncated)

			msgs := got["messages"].([]any)
			require.Len(t, msgs, 1)
			tt.check(t, msgs[0].(map[string]any))
		})
	}
}

func TestOpenAILLM_ErrorIsNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":{"message":"down"}}`)
	}))
	defer srv.Close()

	o, err := NewOpenAILLMFromConfig(&LLMSettings{Model: "m", APIKey: "k", BaseURL: srv.URL + "/v1/"}, ImagePartsContent)
	require.NoError(t, err)
	_, err = o.Complete(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.False(t, errors.Is(err, ErrEmptyResponse))
}
