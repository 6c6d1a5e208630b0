package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fmueller/holaamigo/internal/platform"
	"github.com/fmueller/holaamigo/internal/whisper"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. HOLAAMIGO_ADDR or
// HOLAAMIGO_LOG_JSON.
const EnvPrefix = "HOLAAMIGO"

type Config struct {
	Addr                 string        `mapstructure:"addr"`
	ModelDir             string        `mapstructure:"model_dir"`
	BaseModel            string        `mapstructure:"base_model"`
	MediumModel          string        `mapstructure:"medium_model"`
	AutoDownload         bool          `mapstructure:"auto_download"`
	WhisperPath          string        `mapstructure:"whisper_path"`
	Device               string        `mapstructure:"device"`
	MaxBodyBytes         int64         `mapstructure:"max_body_bytes"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout"`
	ReadTimeout          time.Duration `mapstructure:"read_timeout"`
	WriteTimeout         time.Duration `mapstructure:"write_timeout"`
	SilenceGate          bool          `mapstructure:"silence_gate"`
	SilenceThresholdDBFS float64       `mapstructure:"silence_threshold_dbfs"`
	NoProgress           bool          `mapstructure:"no_progress"`
	Log                  LogConfig     `mapstructure:"log"`
}

type LogConfig struct {
	Verbose bool `mapstructure:"verbose"`
	JSON    bool `mapstructure:"json"`
}

func Default() Config {
	return Config{
		Addr:                 ":8080",
		BaseModel:            string(whisper.QualityBase),
		MediumModel:          string(whisper.QualityMedium),
		AutoDownload:         true,
		Device:               string(platform.DeviceAuto),
		MaxBodyBytes:         64 << 20,
		RequestTimeout:       time.Hour,
		ReadTimeout:          time.Hour,
		WriteTimeout:         time.Hour,
		SilenceGate:          true,
		SilenceThresholdDBFS: -65,
	}
}

// Flag names map onto config keys; dashes become underscores.
var flagKeys = map[string]string{
	"addr":                   "addr",
	"model-dir":              "model_dir",
	"base-model":             "base_model",
	"medium-model":           "medium_model",
	"auto-download":          "auto_download",
	"whisper-path":           "whisper_path",
	"device":                 "device",
	"max-body-bytes":         "max_body_bytes",
	"request-timeout":        "request_timeout",
	"read-timeout":           "read_timeout",
	"write-timeout":          "write_timeout",
	"silence-gate":           "silence_gate",
	"silence-threshold-dbfs": "silence_threshold_dbfs",
	"no-progress":            "no_progress",
	"verbose":                "log.verbose",
	"json":                   "log.json",
}

type LoadOptions struct {
	// File is an optional yaml, toml or json config file.
	File string
	// Flags whose values, when changed on the command line, win over every
	// other source.
	Flags *pflag.FlagSet
	// EnvFile is loaded with godotenv before reading the environment. Missing
	// files are ignored.
	EnvFile string
}

// Load layers defaults, config file, environment and flags, in that order.
func Load(opts LoadOptions) (Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", opts.EnvFile, err)
		}
	}

	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.File != "" {
		v.SetConfigFile(opts.File)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", opts.File, err)
		}
	}

	if opts.Flags != nil {
		for flagName, key := range flagKeys {
			flag := opts.Flags.Lookup(flagName)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", flagName, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("addr must not be empty")
	}
	if _, err := platform.ParseDevice(c.Device); err != nil {
		return err
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be positive, got %d", c.MaxBodyBytes)
	}
	if c.RequestTimeout < 0 || c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	return nil
}

// ModelRef returns the configured model reference for a quality tier.
func (c Config) ModelRef(q whisper.Quality) string {
	if q == whisper.QualityMedium {
		return c.MediumModel
	}
	return c.BaseModel
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("addr", d.Addr)
	v.SetDefault("model_dir", d.ModelDir)
	v.SetDefault("base_model", d.BaseModel)
	v.SetDefault("medium_model", d.MediumModel)
	v.SetDefault("auto_download", d.AutoDownload)
	v.SetDefault("whisper_path", d.WhisperPath)
	v.SetDefault("device", d.Device)
	v.SetDefault("max_body_bytes", d.MaxBodyBytes)
	v.SetDefault("request_timeout", d.RequestTimeout)
	v.SetDefault("read_timeout", d.ReadTimeout)
	v.SetDefault("write_timeout", d.WriteTimeout)
	v.SetDefault("silence_gate", d.SilenceGate)
	v.SetDefault("silence_threshold_dbfs", d.SilenceThresholdDBFS)
	v.SetDefault("no_progress", d.NoProgress)
	v.SetDefault("log.verbose", d.Log.Verbose)
	v.SetDefault("log.json", d.Log.JSON)
}
