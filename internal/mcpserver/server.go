// Package mcpserver exposes the analysis tools and stored reports over the
// Model Context Protocol.
package mcpserver

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/kkk0312/mdia/internal/analysis"
	"github.com/kkk0312/mdia/internal/render"
	"github.com/kkk0312/mdia/internal/tools"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"
)

// ReportTool is the name of the tool that returns a stored report.
const ReportTool = "get_report"

var safeName = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

var aliases = map[string]string{
	tools.StockToolName: "stock_analysis",
	tools.FundToolName:  "fund_analysis",
}

// Reports resolves stored analyses by id or id prefix.
type Reports interface {
	Resolve(ctx context.Context, ref string) (*analysis.Session, error)
}

// ToolArgs is the input of every registry-backed tool.
type ToolArgs struct {
	Parameters map[string]any `json:"parameters,omitempty" jsonschema:"tool parameters as listed in the description"`
	Context    string         `json:"context,omitempty" jsonschema:"free text the tool may mine for missing parameters"`
}

// ReportArgs is the input of the report tool.
type ReportArgs struct {
	ID string `json:"id,omitempty" jsonschema:"analysis id or unique prefix; empty selects the latest analysis"`
}

// New builds an MCP server exposing every tool in reg, and the report tool
// when reports is non-nil.
func New(reg *tools.Registry, reports Reports, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "mdia", Version: version}, nil)
	for i, d := range reg.Descriptors() {
		name := mcpName(d.Name, i)
		desc := describe(d)
		toolName := d.Name
		mcp.AddTool(server, &mcp.Tool{Name: name, Title: d.Name, Description: desc},
			func(ctx context.Context, _ *mcp.CallToolRequest, in ToolArgs) (*mcp.CallToolResult, any, error) {
				out, err := reg.Run(ctx, toolName, in.Parameters, in.Context)
				if err != nil {
					log.Warn().Err(err).Str("tool", toolName).Msg("mcp tool call failed")
					return textResult(err.Error(), true), nil, nil
				}
				return textResult(out, false), nil, nil
			})
	}
	if reports != nil {
		mcp.AddTool(server, &mcp.Tool{Name: ReportTool, Description: "返回已保存分析的完整 Markdown 报告"},
			func(ctx context.Context, _ *mcp.CallToolRequest, in ReportArgs) (*mcp.CallToolResult, any, error) {
				s, err := reports.Resolve(ctx, strings.TrimSpace(in.ID))
				if err != nil {
					return textResult(err.Error(), true), nil, nil
				}
				return textResult(render.Markdown(s), false), nil, nil
			})
	}
	return server
}

// Serve runs the server over stdio until ctx is done or the client leaves.
func Serve(ctx context.Context, server *mcp.Server) error {
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

func mcpName(name string, i int) string {
	if alias, ok := aliases[name]; ok {
		return alias
	}
	if safeName.MatchString(name) {
		return name
	}
	return fmt.Sprintf("tool_%d", i+1)
}

func describe(d tools.Descriptor) string {
	var b strings.Builder
	b.WriteString(d.Name)
	if d.Description != "" {
		b.WriteString(": ")
		b.WriteString(d.Description)
	}
	if len(d.Params) > 0 {
		b.WriteString("\nparameters:")
		for _, p := range d.Params {
			fmt.Fprintf(&b, "\n- %s (%s)", p.Name, p.Type)
			if p.Default != "" {
				fmt.Fprintf(&b, " 默认 %s", p.Default)
			}
			if p.Description != "" {
				b.WriteString(": " + p.Description)
			}
		}
	}
	return b.String()
}

func textResult(text string, isErr bool) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: isErr,
	}
}
