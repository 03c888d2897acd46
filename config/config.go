package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/Skryldev/imagestream/core"
)

// Config is the top-level configuration struct.  All fields have safe defaults
// so callers can start with Default() and override only what they need.
type Config struct {
	// Streaming / memory limits.
	ChunkSize     int   `yaml:"chunk_size" json:"chunk_size"`           // read and emit chunk size in bytes; default 32 KiB
	MaxInputBytes int64 `yaml:"max_input_bytes" json:"max_input_bytes"` // 0 = no limit
	MaxPixels     int64 `yaml:"max_pixels" json:"max_pixels"`           // 0 = no limit

	// Default encode options applied when the caller does not override.
	DefaultQuality int    `yaml:"default_quality" json:"default_quality"` // 1-100; default 85
	DefaultFormat  string `yaml:"default_format" json:"default_format"`
	Compression    string `yaml:"compression" json:"compression"` // none, lz4, zstd

	// Quantization.
	Colors int  `yaml:"colors" json:"colors"` // palette size, 2-256
	Dither bool `yaml:"dither" json:"dither"`

	// Concurrency bounds the number of files the CLI transcodes at once.
	// Each file is still a single-threaded session.
	Concurrency int `yaml:"concurrency" json:"concurrency"`

	// Logging.
	LogLevel string `yaml:"log_level" json:"log_level"` // "debug", "info", "warn", "error"
}

// Default returns a Config populated with sensible production defaults.
func Default() Config {
	return Config{
		ChunkSize:      32 * 1024,
		MaxPixels:      100_000_000,
		DefaultQuality: 85,
		DefaultFormat:  "image/png",
		Compression:    "zstd",
		Colors:         256,
		Concurrency:    4,
		LogLevel:       "info",
	}
}

// Validate returns an error if the configuration is inconsistent.
func Validate(c Config) error {
	if c.DefaultQuality < 1 || c.DefaultQuality > 100 {
		return errors.New("config: DefaultQuality must be between 1 and 100")
	}
	if c.ChunkSize <= 0 {
		return errors.New("config: ChunkSize must be positive")
	}
	if c.Colors < 2 || c.Colors > 256 {
		return errors.New("config: Colors must be between 2 and 256")
	}
	if c.Concurrency <= 0 {
		return errors.New("config: Concurrency must be positive")
	}
	switch c.Compression {
	case "", "none", "lz4", "zstd":
	default:
		return fmt.Errorf("config: unknown compression %q", c.Compression)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Load reads a YAML or JSON(C) file on top of Default().  The file type is
// chosen by extension; anything but .json/.jsonc is treated as YAML.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		err = json.Unmarshal(jsonc.ToJSON(data), &cfg)
	default:
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, Validate(cfg)
}

// SlogLevel maps LogLevel to a slog.Level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	l, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return l
}

// DecodeOptions derives per-session decoder options.
func (c Config) DecodeOptions() core.DecodeOptions {
	return core.DecodeOptions{MaxPixels: c.MaxPixels, ChunkSize: c.ChunkSize}
}

// EncodeOptions derives per-session encoder options.
func (c Config) EncodeOptions() core.EncodeOptions {
	return core.EncodeOptions{
		Quality:     c.DefaultQuality,
		Compression: c.Compression,
		Colors:      c.Colors,
		Dither:      &c.Dither,
	}
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("config: unknown log level %q", s)
}
