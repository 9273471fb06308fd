// Package tools holds the analysis tools a plan step may invoke.
package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrUnknownTool is wrapped by ToolError when a name is not registered.
var ErrUnknownTool = errors.New("unknown tool")

// Param describes one tool parameter for the plan prompt.
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Default     string `json:"default"`
	Description string `json:"description"`
}

// Descriptor is the static description of a tool.
type Descriptor struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Params      []Param `json:"params"`
}

// Tool is an analysis capability. fallback is free text the tool may mine
// for arguments missing from params.
type Tool interface {
	Descriptor() Descriptor
	Invoke(ctx context.Context, params map[string]any, fallback string) (string, error)
}

// ToolError reports a failed or unknown tool invocation.
type ToolError struct {
	Tool      string
	Available []string
	Err       error
}

func (e *ToolError) Error() string {
	if errors.Is(e.Err, ErrUnknownTool) {
		return fmt.Sprintf("错误：未知工具 '%s'，无法执行。可用工具：%s", e.Tool, strings.Join(e.Available, ", "))
	}
	return fmt.Sprintf("执行工具 '%s' 时发生错误: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// Observer is notified after every invocation.
type Observer func(tool string, elapsed time.Duration, err error)

// Registry maps tool names to tools, keeping registration order.
type Registry struct {
	tools    map[string]Tool
	order    []string
	timeout  time.Duration
	observer Observer
}

// NewRegistry returns an empty registry. A positive timeout bounds every
// invocation.
func NewRegistry(timeout time.Duration) *Registry {
	return &Registry{tools: make(map[string]Tool), timeout: timeout}
}

// Observe installs an invocation observer.
func (r *Registry) Observe(o Observer) {
	r.observer = o
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(t Tool) error {
	name := t.Descriptor().Name
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("tool name is required")
	}
	if _, ok := r.tools[name]; ok {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Descriptors returns all descriptors in registration order.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Descriptor())
	}
	return out
}

// Catalog renders the tool list embedded into planning and repair prompts.
func (r *Registry) Catalog() string {
	blocks := make([]string, 0, len(r.order))
	for i, d := range r.Descriptors() {
		var b strings.Builder
		fmt.Fprintf(&b, "%d. 工具名称：%s\n", i+1, d.Name)
		fmt.Fprintf(&b, "   工具描述：%s\n", orDefault(d.Description, "无描述"))
		b.WriteString("   参数列表：")
		for _, p := range d.Params {
			fmt.Fprintf(&b, "\n   - %s（类型：%s，默认值：%s）：%s",
				p.Name, orDefault(p.Type, "未指定"), orDefault(p.Default, "必填"), orDefault(p.Description, "无描述"))
		}
		blocks = append(blocks, b.String())
	}
	return "# 可用工具列表（含参数说明）\n" + strings.Join(blocks, "\n\n")
}

// Run invokes the named tool. Failures, including panics, come back as a
// *ToolError.
func (r *Registry) Run(ctx context.Context, name string, params map[string]any, fallback string) (out string, err error) {
	t, ok := r.tools[name]
	if !ok {
		return "", &ToolError{Tool: name, Available: r.Names(), Err: ErrUnknownTool}
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			out = ""
			err = &ToolError{Tool: name, Err: fmt.Errorf("%v", rec)}
		}
		if r.observer != nil {
			r.observer(name, time.Since(start), err)
		}
	}()

	if params == nil {
		params = map[string]any{}
	}
	out, err = t.Invoke(ctx, params, fallback)
	if err != nil {
		return "", &ToolError{Tool: name, Err: err}
	}
	return out, nil
}

// Execute invokes the named tool and always returns text: the tool output, or
// the error report when the tool is unknown or fails.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any, fallback string) string {
	out, err := r.Run(ctx, name, params, fallback)
	if err != nil {
		log.Warn().Err(err).Str("tool", name).Msg("tool invocation failed")
		return err.Error()
	}
	return out
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
