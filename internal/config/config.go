// Package config provides configuration loading and management for mdia.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPrefix prefixes environment overrides, e.g. MDIA_MODEL_PROVIDER.
	EnvPrefix = "MDIA"

	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"

	WorkflowLoop = "loop"
	WorkflowADK  = "adk"
)

//go:embed default.yaml
var defaultYAML []byte

// Config is the root configuration.
type Config struct {
	Model     ModelConfig     `json:"model"     mapstructure:"model"`
	Analysis  AnalysisConfig  `json:"analysis"  mapstructure:"analysis"`
	Capture   CaptureConfig   `json:"capture"   mapstructure:"capture"`
	Tools     ToolsConfig     `json:"tools"     mapstructure:"tools"`
	Retention RetentionPolicy `json:"retention" mapstructure:"retention"`
	Serve     ServeConfig     `json:"serve"     mapstructure:"serve"`
}

// ModelConfig selects the text model gateway.
type ModelConfig struct {
	Provider  string        `json:"provider"             mapstructure:"provider"`
	Model     string        `json:"model"                mapstructure:"model"`
	BaseURL   string        `json:"base_url,omitempty"   mapstructure:"base_url"`
	APIKey    string        `json:"api_key,omitempty"    mapstructure:"api_key"`
	APIKeyEnv string        `json:"api_key_env,omitempty" mapstructure:"api_key_env"`
	Timeout   time.Duration `json:"timeout"              mapstructure:"timeout"`
}

// AnalysisConfig tunes the pipeline.
type AnalysisConfig struct {
	MaxModulesPerPage  int    `json:"max_modules_per_page" mapstructure:"max_modules_per_page"`
	PageConcurrency    int    `json:"page_concurrency"     mapstructure:"page_concurrency"`
	RepairSummaryChars int    `json:"repair_summary_chars" mapstructure:"repair_summary_chars"`
	Workflow           string `json:"workflow"             mapstructure:"workflow"`
}

// CaptureConfig controls document capture.
type CaptureConfig struct {
	PDFTool        string        `json:"pdf_tool"        mapstructure:"pdf_tool"`
	PDFDPI         int           `json:"pdf_dpi"         mapstructure:"pdf_dpi"`
	BrowserTimeout time.Duration `json:"browser_timeout" mapstructure:"browser_timeout"`
	ViewportWidth  int           `json:"viewport_width"  mapstructure:"viewport_width"`
	ViewportHeight int           `json:"viewport_height" mapstructure:"viewport_height"`
}

// ToolsConfig configures the analysis tool registry.
type ToolsConfig struct {
	Timeout  time.Duration  `json:"timeout"            mapstructure:"timeout"`
	Builtin  []string       `json:"builtin"            mapstructure:"builtin"`
	External []ExternalTool `json:"external,omitempty" mapstructure:"external"`
}

// ExternalTool describes a tool backed by an external command.
type ExternalTool struct {
	Name         string      `json:"name"                    mapstructure:"name"`
	Description  string      `json:"description"             mapstructure:"description"`
	Cmd          []string    `json:"cmd"                     mapstructure:"cmd"`
	Params       []ToolParam `json:"params,omitempty"        mapstructure:"params"`
	SystemPrompt string      `json:"system_prompt,omitempty" mapstructure:"system_prompt"`
	UseTTY       bool        `json:"use_tty,omitempty"       mapstructure:"use_tty"`
}

// ToolParam describes one parameter of an external tool.
type ToolParam struct {
	Name        string `json:"name"                  mapstructure:"name"`
	Type        string `json:"type"                  mapstructure:"type"`
	Default     string `json:"default,omitempty"     mapstructure:"default"`
	Description string `json:"description,omitempty" mapstructure:"description"`
}

// RetentionPolicy defines how many old analyses to keep.
type RetentionPolicy struct {
	KeepLast int `json:"keep_last,omitempty" mapstructure:"keep_last"`
	KeepDays int `json:"keep_days,omitempty" mapstructure:"keep_days"`
}

// ServeConfig configures the web UI.
type ServeConfig struct {
	Addr string `json:"addr" mapstructure:"addr"`
}

// DefaultYAML returns the default configuration document.
func DefaultYAML() []byte {
	return bytes.Clone(defaultYAML)
}

// DefaultSettings returns the default configuration as a settings tree.
func DefaultSettings() (map[string]any, error) {
	var settings map[string]any
	if err := yaml.Unmarshal(defaultYAML, &settings); err != nil {
		return nil, fmt.Errorf("parse default config: %w", err)
	}
	return settings, nil
}

// Render encodes a settings tree as YAML.
func Render(settings map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(settings); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// Default returns the decoded default configuration, ignoring the
// environment.
func Default() Config {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaultYAML)); err != nil {
		panic(fmt.Sprintf("default config is invalid: %v", err))
	}
	cfg, err := decode(v)
	if err != nil {
		panic(fmt.Sprintf("default config is invalid: %v", err))
	}
	return cfg
}

// Load layers the defaults, the YAML file at path and MDIA_* environment
// variables into v and decodes the result. A missing file is an error only
// when required is set.
func Load(v *viper.Viper, path string, required bool) (Config, error) {
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaultYAML)); err != nil {
		return Config{}, fmt.Errorf("read default config: %w", err)
	}
	if path != "" {
		_, statErr := os.Stat(path)
		switch {
		case statErr == nil:
			v.SetConfigFile(path)
			if err := v.MergeInConfig(); err != nil {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		case errors.Is(statErr, fs.ErrNotExist) && !required:
		default:
			return Config{}, fmt.Errorf("read config: %w", statErr)
		}
	}

	// Environment values are strings, so the schema sees file settings only.
	if err := ValidateSettings(v.AllSettings()); err != nil {
		return Config{}, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return decode(v)
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks constraints the schema cannot express.
func (c Config) Validate() error {
	switch c.Model.Provider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("model.provider must be %q or %q, got %q", ProviderOpenAI, ProviderGemini, c.Model.Provider)
	}
	switch c.Analysis.Workflow {
	case WorkflowLoop, WorkflowADK:
	default:
		return fmt.Errorf("analysis.workflow must be %q or %q, got %q", WorkflowLoop, WorkflowADK, c.Analysis.Workflow)
	}
	seen := map[string]bool{}
	for _, t := range c.Tools.External {
		if seen[t.Name] {
			return fmt.Errorf("tools.external: duplicate tool %q", t.Name)
		}
		seen[t.Name] = true
	}
	return nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. A missing file is ignored.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
