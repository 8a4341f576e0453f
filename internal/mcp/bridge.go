package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/quantumclaw/quantumclaw/internal/tools"
)

// BridgeTool adapts a tool discovered on a remote MCP server to the
// runtime's tools.Tool interface, so agent loops can call it exactly like
// a builtin tool.
type BridgeTool struct {
	server     string
	prefix     string
	mcpTool    mcpgo.Tool
	client     *mcpclient.Client
	timeout    time.Duration
	connected  *atomic.Bool
	parameters map[string]interface{}
}

// NewBridgeTool wraps a discovered MCP tool. toolPrefix, when non-empty, is
// prepended to the tool's name to avoid collisions across servers.
func NewBridgeTool(server string, mcpTool mcpgo.Tool, client *mcpclient.Client, toolPrefix string, timeoutSec int, connected *atomic.Bool) *BridgeTool {
	return &BridgeTool{
		server:     server,
		prefix:     toolPrefix,
		mcpTool:    mcpTool,
		client:     client,
		timeout:    time.Duration(timeoutSec) * time.Second,
		connected:  connected,
		parameters: schemaToParameters(mcpTool.InputSchema),
	}
}

// Name returns the tool's registry name, prefixed to avoid cross-server
// collisions when toolPrefix was configured.
func (b *BridgeTool) Name() string {
	if b.prefix == "" {
		return b.mcpTool.Name
	}
	return b.prefix + b.mcpTool.Name
}

// OriginalName returns the tool's name as advertised by the MCP server,
// before any prefix is applied — used for allow/deny-list matching.
func (b *BridgeTool) OriginalName() string {
	return b.mcpTool.Name
}

func (b *BridgeTool) Description() string {
	return fmt.Sprintf("[mcp:%s] %s", b.server, b.mcpTool.Description)
}

func (b *BridgeTool) Parameters() map[string]interface{} {
	return b.parameters
}

func (b *BridgeTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	if b.connected != nil && !b.connected.Load() {
		return tools.ErrorResult(fmt.Sprintf("mcp server %q is disconnected", b.server))
	}

	callCtx := ctx
	if b.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	req := mcpgo.CallToolRequest{}
	req.Params.Name = b.mcpTool.Name
	req.Params.Arguments = args

	res, err := b.client.CallTool(callCtx, req)
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("mcp tool %s: %v", b.Name(), err))
	}

	text := extractText(res)
	if res.IsError {
		return tools.ErrorResult(text)
	}
	return tools.SilentResult(text)
}

func extractText(res *mcpgo.CallToolResult) string {
	if res == nil {
		return ""
	}
	out := ""
	for _, c := range res.Content {
		if tc, ok := c.(mcpgo.TextContent); ok {
			if out != "" {
				out += "\n"
			}
			out += tc.Text
		}
	}
	if out == "" {
		if raw, err := json.Marshal(res.Content); err == nil {
			return string(raw)
		}
	}
	return out
}

// schemaToParameters converts an MCP tool's input schema into the plain
// map[string]interface{} JSON-schema shape providers expect.
func schemaToParameters(schema mcpgo.ToolInputSchema) map[string]interface{} {
	raw, err := json.Marshal(schema)
	if err != nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	return m
}
