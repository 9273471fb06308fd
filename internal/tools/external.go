package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/metalagman/ainvoke"
	"github.com/rs/zerolog/log"
)

const externalInputSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "tool": { "type": "string" },
    "parameters": { "type": "object" },
    "context": { "type": "string" }
  },
  "required": ["tool", "parameters", "context"]
}`

const externalOutputSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "report": { "type": "string" }
  },
  "required": ["report"]
}`

// ExternalConfig declares a tool backed by an external command.
type ExternalConfig struct {
	Name         string
	Description  string
	Cmd          []string
	Params       []Param
	SystemPrompt string
	UseTTY       bool
}

type externalInput struct {
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters"`
	Context    string         `json:"context"`
}

type externalOutput struct {
	Report string `json:"report"`
}

// ExternalTool runs an agent or script through ainvoke. The command runs in a
// fresh directory holding input.json and must write output.json shaped like
// {"report": "..."}.
type ExternalTool struct {
	cfg    ExternalConfig
	runner ainvoke.Runner
}

var _ Tool = (*ExternalTool)(nil)

// NewExternalTool constructs an external tool.
func NewExternalTool(cfg ExternalConfig) (*ExternalTool, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, fmt.Errorf("external tool name is required")
	}
	if len(cfg.Cmd) == 0 {
		return nil, fmt.Errorf("external tool %q requires cmd", cfg.Name)
	}
	r, err := ainvoke.NewRunner(ainvoke.AgentConfig{
		Cmd:    cfg.Cmd,
		UseTTY: cfg.UseTTY,
	})
	if err != nil {
		return nil, fmt.Errorf("create runner for %q: %w", cfg.Name, err)
	}
	return &ExternalTool{cfg: cfg, runner: r}, nil
}

// Descriptor implements Tool.
func (t *ExternalTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        t.cfg.Name,
		Description: t.cfg.Description,
		Params:      append([]Param(nil), t.cfg.Params...),
	}
}

// Invoke implements Tool.
func (t *ExternalTool) Invoke(ctx context.Context, params map[string]any, fallback string) (string, error) {
	runDir, err := os.MkdirTemp("", "mdia-tool-*")
	if err != nil {
		return "", fmt.Errorf("create run dir: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(runDir)
	}()

	var stderr bytes.Buffer
	_, _, exitCode, err := t.runner.Run(ctx, ainvoke.Invocation{
		RunDir:       runDir,
		SystemPrompt: t.systemPrompt(),
		Input: externalInput{
			Tool:       t.cfg.Name,
			Parameters: params,
			Context:    fallback,
		},
		InputSchema:  externalInputSchema,
		OutputSchema: externalOutputSchema,
	}, ainvoke.WithStderr(&stderr))
	if err != nil {
		log.Debug().Str("tool", t.cfg.Name).Int("exit_code", exitCode).Str("stderr", stderr.String()).Msg("external tool failed")
		return "", fmt.Errorf("run %s (exit %d): %w", t.cfg.Cmd[0], exitCode, err)
	}

	// The command's result is the output file, not its stdout.
	data, err := os.ReadFile(filepath.Join(runDir, ainvoke.OutputFileName))
	if err != nil {
		return "", fmt.Errorf("read output: %w", err)
	}
	var res externalOutput
	if err := json.Unmarshal(data, &res); err != nil {
		return "", fmt.Errorf("decode output: %w", err)
	}
	return res.Report, nil
}

func (t *ExternalTool) systemPrompt() string {
	if strings.TrimSpace(t.cfg.SystemPrompt) != "" {
		return t.cfg.SystemPrompt
	}
	var b strings.Builder
	fmt.Fprintf(&b, "你是分析工具「%s」。%s\n", t.cfg.Name, t.cfg.Description)
	b.WriteString("- 输入中的 parameters 是本次调用的参数，context 是分析步骤的描述。\n")
	b.WriteString("- 只依据真实获取到的数据作答，禁止编造数据。\n")
	b.WriteString("- 将完整的中文分析结果写入 report 字段。\n")
	return b.String()
}
