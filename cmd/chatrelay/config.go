package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/MegaGrindStone/chatrelay/internal/answer"
	"github.com/MegaGrindStone/chatrelay/internal/services"
	"gopkg.in/yaml.v3"
)

type llmConfig interface {
	completer(logger *slog.Logger) (answer.Completer, error)
	provider() string
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type config struct {
	Port          string           `yaml:"port"`
	LogLevel      string           `yaml:"logLevel"`
	LogFormat     string           `yaml:"logFormat"`
	MarkdownStyle string           `yaml:"markdownStyle"`
	Store         storeConfig      `yaml:"store"`
	Auth          authConfig       `yaml:"auth"`
	LLM           llmConfig        `yaml:"llm"`
	Moderation    moderationConfig `yaml:"moderation"`
}

type storeConfig struct {
	Backend   string `yaml:"backend"`
	Path      string `yaml:"path"`
	ProjectID string `yaml:"projectID"`
}

type authConfig struct {
	HMACSecret    string `yaml:"hmacSecret"`
	PublicKeyFile string `yaml:"publicKeyFile"`
	Issuer        string `yaml:"issuer"`
	Audience      string `yaml:"audience"`
}

type moderationConfig struct {
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseURL"`
	Model   string `yaml:"model"`
}

type openAIConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	BaseURL       string `yaml:"baseURL"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

type anthropicConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	BaseURL       string `yaml:"baseURL"`
	MaxTokens     int    `yaml:"maxTokens"`
}

const (
	backendBolt      = "bolt"
	backendFirestore = "firestore"

	providerOpenAI    = "openai"
	providerOllama    = "ollama"
	providerAnthropic = "anthropic"

	defaultOllamaHost = "http://localhost:11434"
)

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port          string           `yaml:"port"`
		LogLevel      string           `yaml:"logLevel"`
		LogFormat     string           `yaml:"logFormat"`
		MarkdownStyle string           `yaml:"markdownStyle"`
		Store         storeConfig      `yaml:"store"`
		Auth          authConfig       `yaml:"auth"`
		LLM           map[string]any   `yaml:"llm"`
		Moderation    moderationConfig `yaml:"moderation"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	c.LogLevel = rawConfig.LogLevel
	c.LogFormat = rawConfig.LogFormat
	c.MarkdownStyle = rawConfig.MarkdownStyle
	c.Store = rawConfig.Store
	c.Auth = rawConfig.Auth
	c.Moderation = rawConfig.Moderation

	llm, err := parseLLMConfig(rawConfig.LLM)
	if err != nil {
		return err
	}
	c.LLM = llm

	return nil
}

// parseLLMConfig decodes the llm block into the configuration of its provider. Without a block,
// OpenAI with its default model is used.
func parseLLMConfig(raw map[string]any) (llmConfig, error) {
	if raw == nil {
		return &openAIConfig{BaseLLMConfig: BaseLLMConfig{Provider: providerOpenAI}}, nil
	}

	llmProvider, ok := raw["provider"].(string)
	if !ok {
		return nil, fmt.Errorf("llm provider is required")
	}

	llmRawYAML, err := yaml.Marshal(raw)
	if err != nil {
		return nil, err
	}

	var llm llmConfig
	switch llmProvider {
	case providerOpenAI:
		llm = &openAIConfig{}
	case providerOllama:
		llm = &ollamaConfig{}
	case providerAnthropic:
		llm = &anthropicConfig{}
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
		return nil, err
	}
	return llm, nil
}

// loadConfig reads the YAML configuration file at path and fills in defaults. Secrets missing
// from the file are taken from the environment.
func loadConfig(path string) (config, error) {
	cfgFile, err := os.Open(path)
	if err != nil {
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}
	defer cfgFile.Close()

	cfg := config{}
	if err := yaml.NewDecoder(cfgFile).Decode(&cfg); err != nil {
		return config{}, fmt.Errorf("error decoding config file: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c *config) applyDefaults(dir string) {
	if c.Port == "" {
		c.Port = "8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.Store.Backend == "" {
		c.Store.Backend = backendBolt
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(dir, "store.db")
	}
	if c.Store.ProjectID == "" {
		c.Store.ProjectID = os.Getenv("GOOGLE_CLOUD_PROJECT")
	}
	if c.Auth.HMACSecret == "" {
		c.Auth.HMACSecret = os.Getenv("CHATRELAY_JWT_SECRET")
	}
	if c.LLM == nil {
		c.LLM = &openAIConfig{BaseLLMConfig: BaseLLMConfig{Provider: providerOpenAI}}
	}
	if c.Moderation.APIKey == "" {
		if o, ok := c.LLM.(*openAIConfig); ok && o.BaseURL == "" && o.APIKey != "" {
			c.Moderation.APIKey = o.APIKey
		} else {
			c.Moderation.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
}

func (c config) validate() error {
	var errs []error
	switch c.Store.Backend {
	case backendBolt:
	case backendFirestore:
		if c.Store.ProjectID == "" {
			errs = append(errs, errors.New("store.projectID is required for the firestore backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend: %s", c.Store.Backend))
	}
	if c.Auth.HMACSecret == "" && c.Auth.PublicKeyFile == "" {
		errs = append(errs, errors.New("auth.hmacSecret or auth.publicKeyFile is required"))
	}
	return errors.Join(errs...)
}

func (c config) logger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(c.LogFormat) {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format: %s", c.LogFormat)
	}
}

func (c config) jwtConfig() services.JWTConfig {
	return services.JWTConfig{
		HMACSecret:    c.Auth.HMACSecret,
		PublicKeyFile: c.Auth.PublicKeyFile,
		Issuer:        c.Auth.Issuer,
		Audience:      c.Auth.Audience,
	}
}

func (c config) moderator(logger *slog.Logger) services.OpenAI {
	return services.NewOpenAI(services.OpenAIConfig{
		APIKey:          c.Moderation.APIKey,
		BaseURL:         c.Moderation.BaseURL,
		ModerationModel: c.Moderation.Model,
	}, logger)
}

func (b BaseLLMConfig) provider() string {
	return b.Provider
}

func (o openAIConfig) completer(logger *slog.Logger) (answer.Completer, error) {
	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("apiKey is required")
	}
	return services.NewOpenAI(services.OpenAIConfig{
		APIKey:  apiKey,
		BaseURL: o.BaseURL,
		Model:   o.Model,
	}, logger), nil
}

func (o ollamaConfig) completer(*slog.Logger) (answer.Completer, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = defaultOllamaHost
	}
	return services.NewOllama(host, o.Model)
}

func (a anthropicConfig) completer(*slog.Logger) (answer.Completer, error) {
	if a.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if a.MaxTokens == 0 {
		return nil, fmt.Errorf("maxTokens is required")
	}

	apiKey := a.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return services.NewAnthropic(apiKey, a.Model, a.BaseURL, a.MaxTokens), nil
}
