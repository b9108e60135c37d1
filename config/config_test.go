package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setPrompts(t *testing.T) {
	t.Setenv("PERCEPTUAL_PROMPT", "perceive")
	t.Setenv("SEMANTIC_PROMPT_TEMPLATE", "normalise")
	t.Setenv("CODE_GENERATION_PROMPT_TEMPLATE", "generate")
	t.Setenv("REFINEMENT_PROMPT_TEMPLATE", "repair")
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ZHIPUAI_API_KEY", "")
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "zhipu", cfg.Provider)
	assert.Equal(t, "glm-4.5v", cfg.Model)
	assert.Equal(t, "https://open.bigmodel.cn/api/paas/v4", cfg.BaseURL)
	assert.Equal(t, 3*time.Minute, cfg.Timeout)
	assert.Equal(t, 3, cfg.MaxRefinements)
	assert.Equal(t, 1024, cfg.MaxImageDimension)
	assert.Equal(t, TokenConfig{Perception: 4096, Planning: 4096, Generation: 8192, Refinement: 6144}, cfg.Tokens)
	assert.True(t, cfg.Output.Pretty)
	assert.Equal(t, time.Hour, cfg.Server.SessionTTL)
	assert.False(t, cfg.S3.Enabled())
}

func TestLoad_LegacyEnvNames(t *testing.T) {
	setPrompts(t)
	t.Setenv("DIAGRAM_PROVIDER", "deepseek")
	t.Setenv("DEEPSEEK_API_KEY", "sk-legacy")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "perceive", cfg.Prompts.Perceptual)
	assert.Equal(t, "repair", cfg.Prompts.Refinement)
	assert.Equal(t, "sk-legacy", cfg.APIKey)
	assert.Equal(t, "deepseek-chat", cfg.Model)
	assert.Equal(t, "https://api.deepseek.com", cfg.BaseURL)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_PrefixedEnvWins(t *testing.T) {
	setPrompts(t)
	t.Setenv("DIAGRAM_PROMPTS_PERCEPTUAL", "new-style")
	t.Setenv("DIAGRAM_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "fallback")
	t.Setenv("DIAGRAM_API_KEY", "explicit")
	t.Setenv("DIAGRAM_S3_BUCKET", "diagrams")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "new-style", cfg.Prompts.Perceptual)
	assert.Equal(t, "explicit", cfg.APIKey)
	assert.Equal(t, "diagrams", cfg.S3.Bucket)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
provider: mock
max_refinements: 5
timeout: 30s
tokens:
  generation: 1000
prompts:
  perceptual: p
  semantic: s
  code_generation: g
  refinement: r
output:
  dir: out
  plan_report: true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mock", cfg.Provider)
	assert.Equal(t, "mock", cfg.Model)
	assert.Equal(t, 5, cfg.MaxRefinements)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 1000, cfg.Tokens.Generation)
	assert.Equal(t, 4096, cfg.Tokens.Planning)
	assert.Equal(t, "out", cfg.Output.Dir)
	assert.True(t, cfg.Output.PlanReport)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestValidate(t *testing.T) {
	base := Config{
		Provider: "zhipu",
		Model:    "glm-4.5v",
		APIKey:   "k",
		Timeout:  time.Minute,
		Prompts:  PromptConfig{Perceptual: "p", Semantic: "s", CodeGeneration: "g", Refinement: "r"},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   []string
	}{
		{"missing key names legacy env", func(c *Config) { c.APIKey = "" }, []string{"api_key", "ZHIPUAI_API_KEY"}},
		{"all prompts", func(c *Config) { c.Prompts = PromptConfig{} }, []string{
			"prompts.perceptual", "prompts.semantic", "prompts.code_generation", "prompts.refinement",
		}},
		{"unknown provider", func(c *Config) { c.Provider = "acme" }, []string{`"acme"`}},
		{"negative budget", func(c *Config) { c.MaxRefinements = -1 }, []string{"max_refinements"}},
		{"bucket without endpoint", func(c *Config) { c.S3.Bucket = "b" }, []string{"s3.endpoint"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			err := c.Validate()
			require.ErrorIs(t, err, ErrConfiguration)
			for _, w := range tt.want {
				assert.Contains(t, err.Error(), w)
			}
		})
	}
}

func TestValidate_KeylessProviders(t *testing.T) {
	for _, p := range []string{"mock", "ollama"} {
		c := Config{
			Provider: p,
			Model:    "m",
			Timeout:  time.Second,
			Prompts:  PromptConfig{Perceptual: "p", Semantic: "s", CodeGeneration: "g", Refinement: "r"},
		}
		assert.NoError(t, c.Validate(), p)
	}
}
