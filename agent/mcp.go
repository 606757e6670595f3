package agent

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/stashbridge/kit"
)

// RegisterMCP registers the agent's tools on an MCP server.
func RegisterMCP(srv *mcp.Server, a *Agent) {
	registerInventoryTool(srv, a)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func registerInventoryTool(srv *mcp.Server, a *Agent) {
	tool := &mcp.Tool{
		Name:        "stash_get_inventory",
		Description: "Fetch the logged-in user's merged inventory for an app/context pair.",
		InputSchema: inputSchema(map[string]any{
			"appId":     map[string]any{"type": "string", "description": "Item collection id"},
			"contextId": map[string]any{"type": "string", "description": "Inventory context id"},
		}, []string{"appId", "contextId"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*InventoryRequest)
		return a.GetInventory(ctx, *r)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r InventoryRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
