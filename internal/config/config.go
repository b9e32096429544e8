// Package config reads process configuration from the environment.
package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	DefaultGitHubOwner       = "SandyCompetent"
	DefaultMaxQuestionLength = 1000
)

// Config is read once at startup.
type Config struct {
	// ParamPrefix is the SSM path holding the Gemini key and model override.
	ParamPrefix string `env:"PARAM_PREFIX,required,notEmpty"`
	// TranscriptTable enables DynamoDB transcript storage when set.
	TranscriptTable   string        `env:"TRANSCRIPT_TABLE"`
	GitHubOwner       string        `env:"GITHUB_OWNER" envDefault:"SandyCompetent"`
	GeminiModel       string        `env:"GEMINI_MODEL"`
	MaxQuestionLength int           `env:"MAX_QUESTION_LENGTH" envDefault:"1000"`
	LogLevel          zapcore.Level `env:"LOG_LEVEL" envDefault:"info"`
}

// FromEnv reads the Lambda configuration from the process environment.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg.normalize()
}

// Load reads the configuration from vars instead of the process environment.
func Load(vars map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg.normalize()
}

func (c Config) normalize() (Config, error) {
	c.ParamPrefix = strings.TrimSpace(c.ParamPrefix)
	c.TranscriptTable = strings.TrimSpace(c.TranscriptTable)
	c.GitHubOwner = strings.TrimSpace(c.GitHubOwner)
	c.GeminiModel = strings.TrimSpace(c.GeminiModel)
	if c.ParamPrefix == "" {
		return Config{}, fmt.Errorf("config: PARAM_PREFIX must not be blank")
	}
	if c.GitHubOwner == "" {
		c.GitHubOwner = DefaultGitHubOwner
	}
	if c.MaxQuestionLength <= 0 {
		return Config{}, fmt.Errorf("config: MAX_QUESTION_LENGTH must be positive, got %d", c.MaxQuestionLength)
	}
	return c, nil
}

// NewLogger builds a production JSON logger at level.
func NewLogger(level zapcore.Level) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.TimeKey = "time"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	log, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("config: build logger: %w", err)
	}
	return log, nil
}
