package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// APIConfig locates the REST backend and the realtime endpoint.
type APIConfig struct {
	BaseURL   string `json:"baseUrl"`
	SocketURL string `json:"socketUrl"`
	AuthToken string `json:"authToken"`
}

// BotConfig identifies the embedded bot.
type BotConfig struct {
	ID     string `json:"id"`
	Secret string `json:"secret"`
}

// CacheConfig controls the local conversation cache.
type CacheConfig struct {
	Path       string `json:"path"`
	TTLSeconds int    `json:"ttlSeconds"`
}

// TimersConfig holds every timing knob of the session engine. The values
// ship with the widget's historical defaults but are tunable per deployment.
type TimersConfig struct {
	GroupWindowSeconds    int `json:"groupWindowSeconds"`
	SilenceSeconds        int `json:"silenceSeconds"`
	CloseSeconds          int `json:"closeSeconds"`
	HeartbeatSeconds      int `json:"heartbeatSeconds"`
	HeartbeatRetries      int `json:"heartbeatRetries"`
	HeartbeatBackoffMs    int `json:"heartbeatBackoffMs"`
	SendRetries           int `json:"sendRetries"`
	SendRetryBackoffMs    int `json:"sendRetryBackoffMs"`
	WelcomeDelayMinMs     int `json:"welcomeDelayMinMs"`
	WelcomeDelayMaxMs     int `json:"welcomeDelayMaxMs"`
	RequestTimeoutSeconds int `json:"requestTimeoutSeconds"`
}

// Config is the main configuration structure for the widget engine.
type Config struct {
	API    APIConfig    `json:"api"`
	Bot    BotConfig    `json:"bot"`
	Cache  CacheConfig  `json:"cache"`
	Timers TimersConfig `json:"timers"`
	Debug  bool         `json:"debug,omitempty"`
}

const (
	appName          = "hoverchat"
	defaultCachePath = ".hoverchat/cache.db"
)

// Load reads configuration from file (.hoverchat.json in $HOME or
// $XDG_CONFIG_HOME/hoverchat) and HOVERCHAT_* environment variables, applying
// the engine defaults underneath.
func Load(debug bool) (*Config, error) {
	configureViper()
	setDefaults(debug)

	if err := readConfig(viper.ReadInConfig()); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return cfg, nil
}

func configureViper() {
	viper.SetConfigName(fmt.Sprintf(".%s", appName))
	viper.SetConfigType("json")
	viper.AddConfigPath("$HOME")
	viper.AddConfigPath(fmt.Sprintf("$XDG_CONFIG_HOME/%s", appName))
	viper.AddConfigPath(fmt.Sprintf("$HOME/.config/%s", appName))
	viper.SetEnvPrefix(strings.ToUpper(appName))
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

func setDefaults(debug bool) {
	viper.SetDefault("cache.path", defaultCachePath)
	viper.SetDefault("cache.ttlSeconds", 210)

	viper.SetDefault("timers.groupWindowSeconds", 60)
	viper.SetDefault("timers.silenceSeconds", 60)
	viper.SetDefault("timers.closeSeconds", 30)
	viper.SetDefault("timers.heartbeatSeconds", 30)
	viper.SetDefault("timers.heartbeatRetries", 10)
	viper.SetDefault("timers.heartbeatBackoffMs", 200)
	viper.SetDefault("timers.sendRetries", 3)
	viper.SetDefault("timers.sendRetryBackoffMs", 500)
	viper.SetDefault("timers.welcomeDelayMinMs", 1500)
	viper.SetDefault("timers.welcomeDelayMaxMs", 2500)
	viper.SetDefault("timers.requestTimeoutSeconds", 15)

	viper.SetDefault("debug", debug)
}

func readConfig(err error) error {
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; defaults and env still apply.
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// Duration helpers so callers never hand-convert units.

func (t TimersConfig) GroupWindow() time.Duration {
	return time.Duration(t.GroupWindowSeconds) * time.Second
}

func (t TimersConfig) SilenceTimeout() time.Duration {
	return time.Duration(t.SilenceSeconds) * time.Second
}

func (t TimersConfig) CloseTimeout() time.Duration {
	return time.Duration(t.CloseSeconds) * time.Second
}

func (t TimersConfig) HeartbeatInterval() time.Duration {
	return time.Duration(t.HeartbeatSeconds) * time.Second
}

func (t TimersConfig) HeartbeatBackoff() time.Duration {
	return time.Duration(t.HeartbeatBackoffMs) * time.Millisecond
}

func (t TimersConfig) SendRetryBackoff() time.Duration {
	return time.Duration(t.SendRetryBackoffMs) * time.Millisecond
}

func (t TimersConfig) WelcomeDelayMin() time.Duration {
	return time.Duration(t.WelcomeDelayMinMs) * time.Millisecond
}

func (t TimersConfig) WelcomeDelayMax() time.Duration {
	return time.Duration(t.WelcomeDelayMaxMs) * time.Millisecond
}

func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}
