package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrConfiguration is wrapped by every pre-flight configuration failure.
var ErrConfiguration = errors.New("configuration error")

const envPrefix = "DIAGRAM"

// Config 是整个进程的配置，加载后不再修改。
type Config struct {
	Provider          string        `mapstructure:"provider"`
	Model             string        `mapstructure:"model"`
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	Temperature       float64       `mapstructure:"temperature"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRefinements    int           `mapstructure:"max_refinements"`
	MaxImageDimension int           `mapstructure:"max_image_dimension"`
	Tokens            TokenConfig   `mapstructure:"tokens"`
	Prompts           PromptConfig  `mapstructure:"prompts"`
	Log               LogConfig     `mapstructure:"log"`
	Server            ServerConfig  `mapstructure:"server"`
	Output            OutputConfig  `mapstructure:"output"`
	S3                S3Config      `mapstructure:"s3"`
}

type TokenConfig struct {
	Perception int `mapstructure:"perception"`
	Planning   int `mapstructure:"planning"`
	Generation int `mapstructure:"generation"`
	Refinement int `mapstructure:"refinement"`
}

// PromptConfig holds the four prompt templates verbatim.
type PromptConfig struct {
	Perceptual     string `mapstructure:"perceptual"`
	Semantic       string `mapstructure:"semantic"`
	CodeGeneration string `mapstructure:"code_generation"`
	Refinement     string `mapstructure:"refinement"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ServerConfig struct {
	Addr        string        `mapstructure:"addr"`
	MaxSessions int           `mapstructure:"max_sessions"`
	SessionTTL  time.Duration `mapstructure:"session_ttl"`
	MaxUpload   int64         `mapstructure:"max_upload"`
}

type OutputConfig struct {
	Dir        string `mapstructure:"dir"`
	PlanReport bool   `mapstructure:"plan_report"`
	Pretty     bool   `mapstructure:"pretty"`
}

// S3Config enables the bucket sink when Bucket is set.
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Prefix    string `mapstructure:"prefix"`
}

// Enabled reports whether artifacts should go to a bucket.
func (s S3Config) Enabled() bool { return s.Bucket != "" }

type providerDefaults struct {
	model   string
	baseURL string
	keyEnv  string
}

var providers = map[string]providerDefaults{
	"zhipu":    {model: "glm-4.5v", baseURL: "https://open.bigmodel.cn/api/paas/v4", keyEnv: "ZHIPUAI_API_KEY"},
	"deepseek": {model: "deepseek-chat", baseURL: "https://api.deepseek.com", keyEnv: "DEEPSEEK_API_KEY"},
	"openai":   {model: "gpt-4o", keyEnv: "OPENAI_API_KEY"},
	"gemini":   {model: "gemini-2.5-flash", keyEnv: "GEMINI_API_KEY"},
	"ollama":   {model: "llava", baseURL: "http://localhost:11434"},
	"mock":     {model: "mock"},
}

// 原脚本里的环境变量名，继续兼容。
var legacyPromptEnv = map[string]string{
	"prompts.perceptual":      "PERCEPTUAL_PROMPT",
	"prompts.semantic":        "SEMANTIC_PROMPT_TEMPLATE",
	"prompts.code_generation": "CODE_GENERATION_PROMPT_TEMPLATE",
	"prompts.refinement":      "REFINEMENT_PROMPT_TEMPLATE",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", "zhipu")
	v.SetDefault("temperature", 0.1)
	v.SetDefault("timeout", "3m")
	v.SetDefault("max_refinements", 3)
	v.SetDefault("max_image_dimension", 1024)
	v.SetDefault("tokens.perception", 4096)
	v.SetDefault("tokens.planning", 4096)
	v.SetDefault("tokens.generation", 8192)
	v.SetDefault("tokens.refinement", 6144)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.max_sessions", 256)
	v.SetDefault("server.session_ttl", "1h")
	v.SetDefault("server.max_upload", 20<<20)
	v.SetDefault("output.dir", "output")
	v.SetDefault("output.plan_report", false)
	v.SetDefault("output.pretty", true)
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.use_ssl", true)
}

// Load reads .env (if any), the optional config file and the environment,
// in increasing priority. It does not validate; call Validate before use.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("%w: load .env: %v", ErrConfiguration, err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyPromptEnv {
		envKey := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return Config{}, fmt.Errorf("%w: bind %s: %v", ErrConfiguration, key, err)
		}
	}
	// 只出现在环境变量里的 key 需要显式绑定，Unmarshal 才能看到。
	for _, key := range []string{"model", "api_key", "base_url",
		"s3.endpoint", "s3.access_key", "s3.secret_key", "s3.bucket", "s3.prefix"} {
		_ = v.BindEnv(key)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("%w: read %s: %v", ErrConfiguration, path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: decode: %v", ErrConfiguration, err)
	}
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	applyProviderDefaults(&cfg)
	return cfg, nil
}

func applyProviderDefaults(cfg *Config) {
	d, ok := providers[cfg.Provider]
	if !ok {
		return
	}
	if cfg.Model == "" {
		cfg.Model = d.model
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = d.baseURL
	}
	if cfg.APIKey == "" && d.keyEnv != "" {
		cfg.APIKey = os.Getenv(d.keyEnv)
	}
}

// Validate names every missing or invalid value in one error.
func (c Config) Validate() error {
	var problems []string
	if c.Provider == "" {
		problems = append(problems, "provider")
	} else if _, ok := providers[c.Provider]; !ok {
		problems = append(problems, fmt.Sprintf("provider %q (unknown)", c.Provider))
	}
	if c.Model == "" {
		problems = append(problems, "model")
	}
	if c.APIKey == "" && c.Provider != "mock" && c.Provider != "ollama" {
		if d, ok := providers[c.Provider]; ok && d.keyEnv != "" {
			problems = append(problems, "api_key (or "+d.keyEnv+")")
		} else {
			problems = append(problems, "api_key")
		}
	}
	for _, p := range []struct{ key, v string }{
		{"prompts.perceptual", c.Prompts.Perceptual},
		{"prompts.semantic", c.Prompts.Semantic},
		{"prompts.code_generation", c.Prompts.CodeGeneration},
		{"prompts.refinement", c.Prompts.Refinement},
	} {
		if strings.TrimSpace(p.v) == "" {
			problems = append(problems, p.key+" (or "+legacyPromptEnv[p.key]+")")
		}
	}
	if c.MaxRefinements < 0 {
		problems = append(problems, "max_refinements must be >= 0")
	}
	if c.Timeout <= 0 {
		problems = append(problems, "timeout must be positive")
	}
	if c.S3.Enabled() && c.S3.Endpoint == "" {
		problems = append(problems, "s3.endpoint")
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: missing or invalid: %s", ErrConfiguration, strings.Join(problems, ", "))
}
