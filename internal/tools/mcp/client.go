// Package mcp adapts external MCP (Model Context Protocol) servers into
// amid's own tools.Tool interface, so an agent can call a third-party MCP
// tool exactly like any in-process tool (spec.md §4.3's "MCP-backed
// services" tool category).
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/AriseOS/amid/internal/common/logger"
	"github.com/AriseOS/amid/internal/errkind"
	"github.com/AriseOS/amid/internal/tools"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
)

// ServerSpec describes one external MCP server to connect to at startup.
type ServerSpec struct {
	Name    string            `mapstructure:"name"`
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
}

// Adapter owns a connection to one MCP server and exposes its advertised
// tools as tools.Tool implementations.
type Adapter struct {
	name string
	cli  *client.Client
	log  *logger.Logger
}

// Dial spawns the MCP server described by spec over stdio and performs the
// protocol handshake.
func Dial(ctx context.Context, spec ServerSpec, log *logger.Logger) (*Adapter, error) {
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	c, err := client.NewStdioMCPClient(spec.Command, env, spec.Args...)
	if err != nil {
		return nil, errkind.Wrap(errkind.Config, fmt.Sprintf("start mcp server %q", spec.Name), err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "amid", Version: "1.0.0"}

	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, errkind.Wrap(errkind.Config, fmt.Sprintf("initialize mcp server %q", spec.Name), err)
	}

	return &Adapter{
		name: spec.Name,
		cli:  c,
		log:  log.WithFields(zap.String("component", "mcp_adapter"), zap.String("server", spec.Name)),
	}, nil
}

// Close tears down the underlying connection/subprocess.
func (a *Adapter) Close() error {
	return a.cli.Close()
}

// ListTools fetches the server's tool catalog and wraps each entry as a
// tools.Tool, namespaced by the server name to avoid collisions across
// multiple MCP servers registered on the same agent.
func (a *Adapter) ListTools(ctx context.Context) ([]tools.Tool, error) {
	resp, err := a.cli.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, errkind.Wrap(errkind.Provider, fmt.Sprintf("list tools on mcp server %q", a.name), err)
	}

	out := make([]tools.Tool, 0, len(resp.Tools))
	for _, t := range resp.Tools {
		schema, err := json.Marshal(t.InputSchema)
		if err != nil {
			a.log.Warn("failed to marshal mcp tool schema", zap.String("tool", t.Name), zap.Error(err))
			schema = json.RawMessage(`{}`)
		}
		out = append(out, &remoteTool{
			adapter:     a,
			name:        fmt.Sprintf("%s.%s", a.name, t.Name),
			remoteName:  t.Name,
			description: t.Description,
			schema:      schema,
		})
	}
	return out, nil
}

// remoteTool implements tools.Tool by delegating to a single MCP server
// tool call.
type remoteTool struct {
	adapter     *Adapter
	name        string
	remoteName  string
	description string
	schema      json.RawMessage
}

func (r *remoteTool) Name() string                     { return r.name }
func (r *remoteTool) Label() string                    { return r.remoteName }
func (r *remoteTool) Description() string              { return r.description }
func (r *remoteTool) ParametersSchema() json.RawMessage { return r.schema }
func (r *remoteTool) Async() bool                       { return true }

func (r *remoteTool) Execute(ctx context.Context, toolCallID string, params json.RawMessage, cancel <-chan struct{}) (tools.Result, error) {
	var args map[string]interface{}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return tools.Result{}, errkind.Wrap(errkind.InvalidInput, "unmarshal mcp tool params", err)
		}
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = r.remoteName
	req.Params.Arguments = args

	resp, err := r.adapter.cli.CallTool(ctx, req)
	if err != nil {
		return tools.Result{}, errkind.Wrap(errkind.ToolFailure, fmt.Sprintf("mcp tool %q call failed", r.name), err)
	}

	blocks := make([]tools.ContentBlock, 0, len(resp.Content))
	for _, c := range resp.Content {
		if tc, ok := mcp.AsTextContent(c); ok {
			blocks = append(blocks, tools.ContentBlock{Type: tools.ContentText, Text: tc.Text})
			continue
		}
		if ic, ok := mcp.AsImageContent(c); ok {
			blocks = append(blocks, tools.ContentBlock{Type: tools.ContentImage, Data: ic.Data, MimeType: ic.MIMEType})
		}
	}
	if len(blocks) == 0 {
		blocks = append(blocks, tools.ContentBlock{Type: tools.ContentText, Text: ""})
	}

	result := tools.Result{Content: blocks}
	if resp.IsError {
		return result, errkind.New(errkind.ToolFailure, fmt.Sprintf("mcp tool %q reported an error result", r.name))
	}
	return result, nil
}
