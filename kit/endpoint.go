// Package kit holds the transport-neutral plumbing shared by the HTTP and
// MCP surfaces: the Endpoint abstraction, middleware chaining, and request
// context accessors.
package kit

import "context"

// Endpoint is a transport-neutral operation: decoded request in, response
// out. HTTP handlers and MCP tools both terminate in an Endpoint.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint with cross-cutting behaviour.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares outermost-first: Chain(a, b, c) runs a, then
// b, then c, then the endpoint.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}
