package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/MegaGrindStone/duet-web-ui/internal/services"
	"gopkg.in/yaml.v3"
)

type llmConfig interface {
	llm(logger *slog.Logger) (llmBackend, error)
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider string `yaml:"provider"`
}

type config struct {
	Port         string        `yaml:"port"`
	SystemPrompt string        `yaml:"systemPrompt"`
	SeedPrompt   string        `yaml:"seedPrompt"`
	MaxTurns     int           `yaml:"maxTurns"`
	Splash       time.Duration `yaml:"splash"`
	LogLevel     string        `yaml:"logLevel"`
	LogFormat    string        `yaml:"logFormat"`
	StorePath    string        `yaml:"storePath"`
	LLM          llmConfig     `yaml:"llm"`
	Speech       speechConfig  `yaml:"speech"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
	API           string `yaml:"api"`
}

type openAIConfig struct {
	BaseLLMConfig `yaml:",inline"`
	BaseURL       string `yaml:"baseURL"`
	APIKey        string `yaml:"apiKey"`
}

type speechConfig struct {
	Enabled *bool    `yaml:"enabled"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	VoiceA  string   `yaml:"voiceA"`
	VoiceB  string   `yaml:"voiceB"`
}

const (
	defaultPort   = "8080"
	defaultSplash = 3 * time.Second
)

func defaultConfig() config {
	voiceA, voiceB := services.DefaultSpeechVoices()
	return config{
		Port:     defaultPort,
		Splash:   defaultSplash,
		LogLevel: "info",
		LLM:      &ollamaConfig{BaseLLMConfig: BaseLLMConfig{Provider: "ollama"}},
		Speech:   speechConfig{VoiceA: voiceA, VoiceB: voiceB},
	}
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port         string         `yaml:"port"`
		SystemPrompt string         `yaml:"systemPrompt"`
		SeedPrompt   string         `yaml:"seedPrompt"`
		MaxTurns     int            `yaml:"maxTurns"`
		Splash       *time.Duration `yaml:"splash"`
		LogLevel     string         `yaml:"logLevel"`
		LogFormat    string         `yaml:"logFormat"`
		StorePath    string         `yaml:"storePath"`
		LLM          map[string]any `yaml:"llm"`
		Speech       speechConfig   `yaml:"speech"`
	}

	// Voices left out of the file keep their defaults.
	rawConfig.Speech = c.Speech
	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	if rawConfig.Port != "" {
		c.Port = rawConfig.Port
	}
	if rawConfig.Splash != nil {
		c.Splash = *rawConfig.Splash
	}
	if rawConfig.LogLevel != "" {
		c.LogLevel = rawConfig.LogLevel
	}
	if rawConfig.MaxTurns < 0 {
		return errors.New("maxTurns can't be negative")
	}
	c.SystemPrompt = rawConfig.SystemPrompt
	c.SeedPrompt = rawConfig.SeedPrompt
	c.MaxTurns = rawConfig.MaxTurns
	c.LogFormat = rawConfig.LogFormat
	c.StorePath = rawConfig.StorePath
	c.Speech = rawConfig.Speech

	if rawConfig.LLM == nil {
		return nil
	}

	llmProvider, ok := rawConfig.LLM["provider"].(string)
	if !ok {
		return fmt.Errorf("llm provider is required")
	}

	llmRawYAML, err := yaml.Marshal(rawConfig.LLM)
	if err != nil {
		return err
	}

	var llm llmConfig
	switch llmProvider {
	case "ollama":
		llm = &ollamaConfig{}
	case "openai":
		llm = &openAIConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
		return err
	}

	c.LLM = llm

	return nil
}

func (o ollamaConfig) llm(logger *slog.Logger) (llmBackend, error) {
	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host != "" && !strings.Contains(host, "://") {
		// OLLAMA_HOST is commonly set without a scheme, e.g. "0.0.0.0:11434".
		host = "http://" + host
	}
	return services.NewOllama(host, o.API, logger)
}

func (o openAIConfig) llm(logger *slog.Logger) (llmBackend, error) {
	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	return services.NewOpenAI(o.BaseURL, apiKey, logger)
}

func (s speechConfig) enabled() bool {
	return s.Enabled == nil || *s.Enabled
}

func (c config) logLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

func (c config) newLogger() (*slog.Logger, error) {
	level, err := c.logLevel()
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(c.LogFormat) {
	case "", "text":
		return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format: %s", c.LogFormat)
	}
}
