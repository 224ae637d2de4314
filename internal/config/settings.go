package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type RealtimeConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	Voice   string `mapstructure:"voice"`
	STUNURL string `mapstructure:"stun_url"`
}

type ChatConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type SearchConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Location   string `mapstructure:"location"`
	DeviceType string `mapstructure:"device_type"`
	PageSize   int    `mapstructure:"page_size"`
}

type VisionConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

type GeoConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type Settings struct {
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Chat     ChatConfig     `mapstructure:"chat"`
	Search   SearchConfig   `mapstructure:"search"`
	Vision   VisionConfig   `mapstructure:"vision"`
	Geo      GeoConfig      `mapstructure:"geo"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Addr     string         `mapstructure:"addr"`
	Env      string         `mapstructure:"env"`
	Debug    bool           `mapstructure:"debug" default:"false"`
}

func Load() (*Settings, error) {
	viper.SetConfigName("config_" + genEnv())
	viper.AddConfigPath(".")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var settings Settings
	if err := viper.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	settings.applyDefaults()

	return &settings, nil
}

func (s *Settings) applyDefaults() {
	if s.Addr == "" {
		s.Addr = ":8080"
	}
	if s.Realtime.BaseURL == "" {
		s.Realtime.BaseURL = "https://api.openai.com/v1"
	}
	if s.Realtime.Model == "" {
		s.Realtime.Model = "gpt-4o-realtime-preview-2024-12-17"
	}
	if s.Realtime.Voice == "" {
		s.Realtime.Voice = "verse"
	}
	if s.Realtime.STUNURL == "" {
		s.Realtime.STUNURL = "stun:stun.l.google.com:19302"
	}
	if s.Chat.Model == "" {
		s.Chat.Model = "gpt-4o-mini"
	}
	if s.Search.PageSize == 0 {
		s.Search.PageSize = 10
	}
	if s.Search.DeviceType == "" {
		s.Search.DeviceType = "mobile"
	}
	if s.Vision.Model == "" {
		s.Vision.Model = "llama-4-maverick"
	}
}

func genEnv() string {
	env := viper.GetString("ENV")
	if env == "" {
		return "dev"
	}
	return env
}
