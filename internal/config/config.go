package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type CaptionConfig struct {
	MinConfidence float64       `mapstructure:"min_confidence"`
	LatencyBudget time.Duration `mapstructure:"latency_budget"`
	DisplayFor    time.Duration `mapstructure:"display_for"`
	HistoryCap    int           `mapstructure:"history_cap"`
	TTSEnabled    bool          `mapstructure:"tts_enabled"`
}

type Config struct {
	Mode          string        `mapstructure:"mode"`
	Port          int           `mapstructure:"port"`
	Secret        string        `mapstructure:"secret"`
	ReadLimit     int64         `mapstructure:"read_limit"`
	IdleWindow    time.Duration `mapstructure:"idle_window"`
	StatsInterval time.Duration `mapstructure:"stats_interval"`
	EmptyGrace    time.Duration `mapstructure:"empty_grace"`
	GroupMax      int           `mapstructure:"group_max"`
	JoinRateLimit int           `mapstructure:"join_rate_limit"`
	JoinRateWin   time.Duration `mapstructure:"join_rate_window"`
	Caption       CaptionConfig `mapstructure:"caption"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("idle_window", "54s")
	v.SetDefault("stats_interval", "10s")
	v.SetDefault("empty_grace", "5s")
	v.SetDefault("group_max", 20)
	v.SetDefault("join_rate_limit", 5)
	v.SetDefault("join_rate_window", "10s")
	v.SetDefault("caption.min_confidence", 0.3)
	v.SetDefault("caption.latency_budget", "3s")
	v.SetDefault("caption.display_for", "5s")
	v.SetDefault("caption.history_cap", 150)
	v.SetDefault("caption.tts_enabled", true)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
