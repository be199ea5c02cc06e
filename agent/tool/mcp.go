package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	contractx "github.com/tanpawarit/Chative-Studio-Agent/agent/contract"
)

const (
	clientName    = "studio-agent"
	clientVersion = "1.0.0"
)

// MCPTransport talks to an MCP server over SSE.
type MCPTransport struct {
	client *client.Client
	cancel context.CancelFunc
}

var _ Transport = (*MCPTransport)(nil)

// DialMCP opens the SSE stream and performs the MCP handshake. ctx bounds the
// handshake only; the stream lives until Close.
func DialMCP(ctx context.Context, endpoint string, headers map[string]string) (*MCPTransport, error) {
	var opts []transport.ClientOption
	if len(headers) > 0 {
		opts = append(opts, transport.WithHeaders(headers))
	}

	c, err := client.NewSSEMCPClient(endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", contractx.ErrConnection, endpoint, err)
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := c.Start(streamCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: start %s: %v", contractx.ErrConnection, endpoint, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		cancel()
		return nil, fmt.Errorf("%w: initialize %s: %v", contractx.ErrConnection, endpoint, err)
	}

	return &MCPTransport{client: c, cancel: cancel}, nil
}

func (t *MCPTransport) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	var (
		tools []mcp.Tool
		req   mcp.ListToolsRequest
	)
	for {
		res, err := t.client.ListTools(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("%w: list tools: %v", contractx.ErrConnection, err)
		}
		tools = append(tools, res.Tools...)
		if res.NextCursor == "" {
			return tools, nil
		}
		req.Params.Cursor = res.NextCursor
	}
}

func (t *MCPTransport) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := t.client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: call %s: %v", contractx.ErrConnection, name, err)
	}
	return res, nil
}

func (t *MCPTransport) Close() error {
	defer t.cancel()
	return t.client.Close()
}

// ContentText flattens tool result content. Text items are joined by newlines; other
// content kinds are rendered as their JSON form.
func ContentText(contents []mcp.Content) string {
	parts := make([]string, 0, len(contents))
	for _, c := range contents {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				continue
			}
			parts = append(parts, string(raw))
		}
	}
	return strings.Join(parts, "\n")
}
