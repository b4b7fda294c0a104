package rtvoice

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/rtvoice/rtvoice/pkg/configutil"
)

type Config struct {
	Namespace   string          `mapstructure:"namespace"`
	Environment string          `mapstructure:"environment"`
	LogLevel    string          `mapstructure:"log_level"`
	BasePrompt  string          `mapstructure:"base_prompt"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Transport   VendorConfig    `mapstructure:"transport"`
	Vendors     VendorsConfig   `mapstructure:"vendors"`
	Turn        TurnConfig      `mapstructure:"turn"`
	Privacy     PrivacyConfig   `mapstructure:"privacy"`
	Lifecycle   LifecycleConfig `mapstructure:"lifecycle"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	STT VendorConfig `mapstructure:"stt"`
	TTS VendorConfig `mapstructure:"tts"`
	LLM VendorConfig `mapstructure:"llm"`
}

type TurnConfig struct {
	QueueCapacity    int `mapstructure:"queue_capacity"`
	CancelDeadlineMS int `mapstructure:"cancel_deadline_ms"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

type LifecycleConfig struct {
	DrainTimeoutMS int `mapstructure:"drain_timeout_ms"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("RTVOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("namespace", "rtvoice")
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("turn.queue_capacity", 4)
	v.SetDefault("turn.cancel_deadline_ms", 2000)
	v.SetDefault("privacy.redact_pii", true)
	v.SetDefault("lifecycle.drain_timeout_ms", 30000)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := configutil.RequireString(c.Transport.Provider, "transport.provider"); err != nil {
		return err
	}
	if err := configutil.RequireString(c.Vendors.STT.Provider, "vendors.stt.provider"); err != nil {
		return err
	}
	if err := configutil.RequireString(c.Vendors.TTS.Provider, "vendors.tts.provider"); err != nil {
		return err
	}
	if err := configutil.RequireString(c.Vendors.LLM.Provider, "vendors.llm.provider"); err != nil {
		return err
	}
	if err := configutil.RequireString(c.Redis.Addr, "redis.addr"); err != nil {
		return err
	}
	return nil
}

// expandEnvStrings resolves ${VAR} references in config values so secrets can
// stay out of the config file.
func expandEnvStrings(cfg *Config) {
	cfg.Namespace = os.ExpandEnv(cfg.Namespace)
	cfg.Environment = os.ExpandEnv(cfg.Environment)
	cfg.BasePrompt = os.ExpandEnv(cfg.BasePrompt)
	cfg.Redis.Addr = os.ExpandEnv(cfg.Redis.Addr)
	cfg.Redis.Password = os.ExpandEnv(cfg.Redis.Password)
	cfg.Transport.Settings = expandSettings(cfg.Transport.Settings)
	cfg.Vendors.STT.Settings = expandSettings(cfg.Vendors.STT.Settings)
	cfg.Vendors.TTS.Settings = expandSettings(cfg.Vendors.TTS.Settings)
	cfg.Vendors.LLM.Settings = expandSettings(cfg.Vendors.LLM.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}
