package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "BALLGOAL"

// Config is the server and peer configuration
type Config struct {
	Addr          string        `mapstructure:"addr"`
	ClientDir     string        `mapstructure:"client_dir"`
	PublicURL     string        `mapstructure:"public_url"`
	DBPath        string        `mapstructure:"db_path"`
	LogLevel      string        `mapstructure:"log_level"`
	LogFormat     string        `mapstructure:"log_format"`
	MaxConnsPerIP int           `mapstructure:"max_conns_per_ip"`
	MaxTotalConns int           `mapstructure:"max_total_conns"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	ICEServers    []string      `mapstructure:"ice_servers"`

	RoundSeconds int     `mapstructure:"round_seconds"`
	PlayerSpeed  float64 `mapstructure:"player_speed"`
	JumpStrength float64 `mapstructure:"jump_strength"`
	OutOfBoundsY float64 `mapstructure:"out_of_bounds_y"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8080")
	v.SetDefault("client_dir", "")
	v.SetDefault("public_url", "")
	v.SetDefault("db_path", "ballgoal.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("max_conns_per_ip", DefaultLimits().MaxConnsPerIP)
	v.SetDefault("max_total_conns", DefaultLimits().MaxTotalConns)
	v.SetDefault("idle_timeout", SessionIdleTimeout)
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("round_seconds", RoundSeconds)
	v.SetDefault("player_speed", PlayerSpeed)
	v.SetDefault("jump_strength", JumpStrength)
	v.SetDefault("out_of_bounds_y", OutOfBoundsY)
}

// LoadConfig reads .env (when present), then the optional config file, then
// BALLGOAL_* environment variables, over the defaults
func LoadConfig(v *viper.Viper, configFile string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.RoundSeconds <= 0 {
		return Config{}, fmt.Errorf("round_seconds must be positive, got %d", cfg.RoundSeconds)
	}
	return cfg, nil
}

// GameConfig derives the per-room game settings
func (c Config) GameConfig() GameConfig {
	gc := DefaultGameConfig()
	gc.RoundSeconds = c.RoundSeconds
	gc.Arena.PlayerSpeed = c.PlayerSpeed
	gc.Arena.JumpStrength = c.JumpStrength
	gc.Arena.OutOfBoundsY = c.OutOfBoundsY
	return gc
}

// Limits derives the hub connection limits
func (c Config) Limits() Limits {
	return Limits{MaxConnsPerIP: c.MaxConnsPerIP, MaxTotalConns: c.MaxTotalConns}
}

// NewLogger builds the process logger from level and format
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
