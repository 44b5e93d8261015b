package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type TelegramConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	Token     string   `json:"token" yaml:"token"`
	AllowFrom []string `json:"allowFrom" yaml:"allowFrom"`
	ChatID    string   `json:"chatId,omitempty" yaml:"chatId,omitempty"` // operator chat for resumed jobs
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
}

type ProviderConfig struct {
	APIKey  string `json:"apiKey" yaml:"apiKey"`
	APIBase string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
	Model   string `json:"model,omitempty" yaml:"model,omitempty"`
}

type ProvidersConfig struct {
	Replicate   ProviderConfig `json:"replicate" yaml:"replicate"`
	OpenAI      ProviderConfig `json:"openai" yaml:"openai"`
	SiliconFlow ProviderConfig `json:"siliconflow" yaml:"siliconflow"`
	Luma        ProviderConfig `json:"luma" yaml:"luma"`
	Runway      ProviderConfig `json:"runway" yaml:"runway"`
}

// PollConfig overrides a provider's polling bounds. Zero values keep the
// provider defaults.
type PollConfig struct {
	GraceSeconds    int `json:"graceSeconds,omitempty" yaml:"graceSeconds,omitempty"`
	IntervalSeconds int `json:"intervalSeconds,omitempty" yaml:"intervalSeconds,omitempty"`
	MaxAttempts     int `json:"maxAttempts,omitempty" yaml:"maxAttempts,omitempty"`
}

type ImageConfig struct {
	Primary          []string `json:"primary" yaml:"primary"`
	Secondary        []string `json:"secondary" yaml:"secondary"`
	RetryBudget      int      `json:"retryBudget" yaml:"retryBudget"`
	BaseDelaySeconds int      `json:"baseDelaySeconds" yaml:"baseDelaySeconds"`
	OutputFormat     string   `json:"outputFormat" yaml:"outputFormat"`
}

type VideoConfig struct {
	Providers []string              `json:"providers" yaml:"providers"`
	Loop      bool                  `json:"loop" yaml:"loop"`
	Poll      map[string]PollConfig `json:"poll,omitempty" yaml:"poll,omitempty"`
}

type MediaConfig struct {
	Image        ImageConfig `json:"image" yaml:"image"`
	Video        VideoConfig `json:"video" yaml:"video"`
	AspectRatios []string    `json:"aspectRatios" yaml:"aspectRatios"`
	SweepCron    string      `json:"sweepCron" yaml:"sweepCron"`
}

type StorageConfig struct {
	Backend     string `json:"backend" yaml:"backend"` // file, postgres
	StateFile   string `json:"stateFile,omitempty" yaml:"stateFile,omitempty"`
	DatabaseURL string `json:"databaseUrl,omitempty" yaml:"databaseUrl,omitempty"`
}

type GatewayConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Host    string `json:"host" yaml:"host"`
	Port    int    `json:"port" yaml:"port"`
}

type Config struct {
	Workspace string          `json:"workspace" yaml:"workspace"`
	LogLevel  string          `json:"logLevel" yaml:"logLevel"`
	AppEnv    string          `json:"appEnv" yaml:"appEnv"`
	Channels  ChannelsConfig  `json:"channels" yaml:"channels"`
	Providers ProvidersConfig `json:"providers" yaml:"providers"`
	Media     MediaConfig     `json:"media" yaml:"media"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Gateway   GatewayConfig   `json:"gateway" yaml:"gateway"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Workspace: ".mediabot/workspace",
		LogLevel:  "info",
		AppEnv:    "production",
		Media: MediaConfig{
			Image: ImageConfig{
				Primary:          []string{"flux-ultra", "flux-pro"},
				Secondary:        []string{"dall-e"},
				RetryBudget:      3,
				BaseDelaySeconds: 5,
				OutputFormat:     "webp",
			},
			Video: VideoConfig{
				Providers: []string{"luma", "luma-replicate", "runway"},
			},
			AspectRatios: []string{"horizontal", "vertical"},
			SweepCron:    "*/15 * * * *",
		},
		Storage: StorageConfig{Backend: "file"},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18790,
		},
	}
}

// LoadConfig loads the configuration from the given path. YAML and JSON are
// both accepted; a missing file yields the defaults. Secrets from the
// environment (and a .env file, if present) override file values.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = filepath.Join(".mediabot", "config.yaml")
	}

	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json":
			err = json.Unmarshal(data, config)
		default:
			err = yaml.Unmarshal(data, config)
		}
		if err != nil {
			return nil, err
		}
	}

	config.applyEnv()
	return config, nil
}

func (c *Config) applyEnv() {
	checkEnv := func(cfgVal *string, envKey string) {
		if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
			*cfgVal = v
		}
	}
	checkEnv(&c.Channels.Telegram.Token, "TELEGRAM_BOT_TOKEN")
	checkEnv(&c.Channels.Telegram.ChatID, "TELEGRAM_CHAT_ID")
	checkEnv(&c.Providers.Replicate.APIKey, "REPLICATE_API_TOKEN")
	checkEnv(&c.Providers.OpenAI.APIKey, "OPENAI_API_KEY")
	checkEnv(&c.Providers.SiliconFlow.APIKey, "SILICONFLOW_API_KEY")
	checkEnv(&c.Providers.Luma.APIKey, "LUMA_API_KEY")
	checkEnv(&c.Providers.Runway.APIKey, "RUNWAY_API_KEY")
	checkEnv(&c.Storage.DatabaseURL, "DATABASE_URL")
	checkEnv(&c.Storage.StateFile, "MEDIABOT_STATE_FILE")
	checkEnv(&c.LogLevel, "LOG_LEVEL")
	checkEnv(&c.AppEnv, "APP_ENV")

	if c.Channels.Telegram.Token != "" && os.Getenv("TELEGRAM_BOT_TOKEN") != "" {
		c.Channels.Telegram.Enabled = true
	}
}

// WorkspacePath expands a leading "~/" in the workspace.
func (c *Config) WorkspacePath() string {
	return ExpandPath(c.Workspace)
}

// StatePath is where the file repository keeps visualizations.
func (c *Config) StatePath() string {
	if c.Storage.StateFile != "" {
		return ExpandPath(c.Storage.StateFile)
	}
	return filepath.Join(c.WorkspacePath(), "visualizations.json")
}

// ExpandPath resolves "~/" against the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
