package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	ProviderGemini   = "gemini"
	ProviderTogether = "together"

	DefaultGeminiModel   = "gemini-2.0-flash"
	DefaultTogetherModel = "meta-llama/Llama-3-8b-chat-hf"
)

type Config struct {
	Bot         BotConfig     `mapstructure:"bot"`
	LLM         LLMConfig     `mapstructure:"llm"`
	RAG         RAGConfig     `mapstructure:"rag"`
	Catalog     CatalogConfig `mapstructure:"catalog"`
	History     HistoryConfig `mapstructure:"history"`
	HTTP        HTTPConfig    `mapstructure:"http"`
	Log         LogConfig     `mapstructure:"log"`
	PersonaFile string        `mapstructure:"persona_file"`
}

type BotConfig struct {
	NapCat   NapCatConfig `mapstructure:"napcat"`
	OwnerQQ  int64        `mapstructure:"owner_qq"`
	NickName string       `mapstructure:"nickname"`
}

type NapCatConfig struct {
	WSURL       string `mapstructure:"ws_url"`
	AccessToken string `mapstructure:"access_token"`
}

type LLMConfig struct {
	Provider        string        `mapstructure:"provider"`
	APIKey          string        `mapstructure:"api_key"`
	Models          []string      `mapstructure:"models"`
	BaseURL         string        `mapstructure:"base_url"`
	Temperature     float32       `mapstructure:"temperature"`
	MaxOutputTokens int32         `mapstructure:"max_output_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RPMLimit        int           `mapstructure:"rpm_limit"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
}

type RAGConfig struct {
	TopK      int `mapstructure:"top_k"`
	Threshold int `mapstructure:"threshold"`
	Workers   int `mapstructure:"workers"`
}

type CatalogConfig struct {
	Path   string `mapstructure:"path"`
	Format string `mapstructure:"format"`
}

type HistoryConfig struct {
	DBPath      string `mapstructure:"db_path"`
	RecentLimit int    `mapstructure:"recent_limit"`
}

type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bot.napcat.ws_url", "ws://127.0.0.1:3001")
	v.SetDefault("bot.nickname", "cinema-bot")

	v.SetDefault("llm.provider", ProviderGemini)
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_output_tokens", 200)
	v.SetDefault("llm.timeout", "30s")
	v.SetDefault("llm.rpm_limit", 15)
	v.SetDefault("llm.max_attempts", 1)
	v.SetDefault("llm.retry_backoff", "1s")

	v.SetDefault("rag.top_k", 3)
	v.SetDefault("rag.threshold", 50)

	v.SetDefault("catalog.path", "data/kinopoisk-top250.csv")
	v.SetDefault("catalog.format", "auto")

	v.SetDefault("history.db_path", "data/dialog_history.db")
	v.SetDefault("history.recent_limit", 10)

	v.SetDefault("http.enabled", false)
	v.SetDefault("http.addr", "127.0.0.1:8080")

	v.SetDefault("log.level", "info")
}

// Load 读取配置文件；path 为空时只使用默认值和环境变量
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	// 环境变量覆盖
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && v.GetString("llm.provider") == ProviderGemini {
		v.Set("llm.api_key", key)
	}
	if key := os.Getenv("TOGETHER_API_KEY"); key != "" && v.GetString("llm.provider") == ProviderTogether {
		v.Set("llm.api_key", key)
	}
	if token := os.Getenv("NAPCAT_ACCESS_TOKEN"); token != "" {
		v.Set("bot.napcat.access_token", token)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// 模型默认值取决于 provider
	if len(cfg.LLM.Models) == 0 {
		switch cfg.LLM.Provider {
		case ProviderGemini:
			cfg.LLM.Models = []string{DefaultGeminiModel}
		case ProviderTogether:
			cfg.LLM.Models = []string{DefaultTogetherModel}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查必填项和取值范围
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderGemini:
		if c.LLM.APIKey == "" {
			return fmt.Errorf("llm.api_key is required (set in config or GEMINI_API_KEY env)")
		}
	case ProviderTogether:
		if c.LLM.APIKey == "" {
			return fmt.Errorf("llm.api_key is required (set in config or TOGETHER_API_KEY env)")
		}
	default:
		return fmt.Errorf("unknown llm.provider %q", c.LLM.Provider)
	}
	if c.RAG.TopK <= 0 {
		return fmt.Errorf("rag.top_k must be positive, got %d", c.RAG.TopK)
	}
	if c.RAG.Threshold < 0 || c.RAG.Threshold > 100 {
		return fmt.Errorf("rag.threshold must be within 0..100, got %d", c.RAG.Threshold)
	}
	if c.Catalog.Path == "" {
		return fmt.Errorf("catalog.path is required")
	}
	if c.History.DBPath == "" {
		return fmt.Errorf("history.db_path is required")
	}
	return nil
}
