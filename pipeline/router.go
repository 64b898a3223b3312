package pipeline

import "fmt"

// TypeRouter is a total, deterministic, side-effect-free mapping from request
// types to downstream node ids. The fan-out node uses it to resolve the
// type-designated second-tier queue; the relay nodes use the degenerate 1:1
// form to find their fixed terminal peer.
type TypeRouter struct {
	routes map[string]string
}

// NewTypeRouter creates a router over a fixed route table. The table is
// copied; the router never mutates shared state.
func NewTypeRouter(routes map[string]string) *TypeRouter {
	copied := make(map[string]string, len(routes))
	for k, v := range routes {
		copied[k] = v
	}
	return &TypeRouter{routes: copied}
}

// Route maps a request type to its designated target id. The same input
// always yields the same output; unknown keys are an error.
func (r *TypeRouter) Route(key string) (string, error) {
	target, ok := r.routes[key]
	if !ok {
		return "", fmt.Errorf("no route for %q", key)
	}
	return target, nil
}

// DefaultTypeRoutes maps the three request types to their designated
// second-tier queues.
func DefaultTypeRoutes() map[string]string {
	return map[string]string{
		TypeZ1: "Q21",
		TypeZ2: "Q22",
		TypeZ3: "Q23",
	}
}

// DefaultRelayRoutes maps each second-tier queue to its fixed terminal peer.
func DefaultRelayRoutes() map[string]string {
	return map[string]string{
		"Q21": "P21",
		"Q22": "P22",
		"Q23": "P23",
	}
}
