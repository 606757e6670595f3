// Package kit carries the small transport-agnostic pieces shared by the
// agent's surfaces: the Endpoint shape, context keys, and the MCP tool
// adapter.
package kit

import "context"

// Endpoint is a transport-neutral operation: a typed request in, a
// serializable response out. HTTP and MCP adapters both terminate here.
type Endpoint func(ctx context.Context, req any) (any, error)
