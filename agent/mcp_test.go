package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var testMCPImpl = &mcp.Implementation{Name: "stashbridge-test", Version: "0.1.0"}

func mcpSession(t *testing.T, a *Agent) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testMCPImpl, nil)
	RegisterMCP(srv, a)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func TestMCP_GetInventory(t *testing.T) {
	community := newCommunity(t, "76561198012345678",
		`{"assets":[{"assetid":"1"},{"assetid":"2"}],"descriptions":[{"classid":"a"}],"more_items":false}`)
	a := newAgent(t, &stubBridge{}, community)
	session := mcpSession(t, a)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "stash_get_inventory",
		Arguments: map[string]any{"appId": "730", "contextId": "2"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %v", result.Content)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}

	var merged struct {
		Assets       []json.RawMessage `json:"assets"`
		Descriptions []json.RawMessage `json:"descriptions"`
	}
	if err := json.Unmarshal([]byte(tc.Text), &merged); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(merged.Assets) != 2 {
		t.Errorf("assets = %d, want 2", len(merged.Assets))
	}
	if len(merged.Descriptions) != 1 {
		t.Errorf("descriptions = %d, want 1", len(merged.Descriptions))
	}
}

func TestMCP_GetInventory_LoggedOut(t *testing.T) {
	community := newCommunity(t, "", `{}`)
	a := newAgent(t, &stubBridge{}, community)
	session := mcpSession(t, a)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "stash_get_inventory",
		Arguments: map[string]any{"appId": "730", "contextId": "2"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for logged-out user")
	}
	var text string
	if len(result.Content) > 0 {
		if tc, ok := result.Content[0].(*mcp.TextContent); ok {
			text = tc.Text
		}
	}
	if !strings.Contains(text, "no logged-in session") {
		t.Errorf("tool error = %q, want it to mention the missing session", text)
	}
}
