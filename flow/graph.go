package flow

import "context"

// Reserved step names. Start marks the entry transition of a graph; End is
// the terminal marker that completes a run. Neither may be used as a node
// name.
const (
	Start = "__start__"
	End   = "__end__"
)

// NodeFunc is a step implementation. It receives a private copy of the
// accumulated state and returns a partial update to be merged via the
// graph's reducers.
//
// At-least-once contract: a node may be re-executed if the process crashes
// after the node ran but before its checkpoint was persisted. Nodes must be
// idempotent or carry compensating logic for their external side effects.
//
// A non-nil error is fatal for the run; the prior step's checkpoint remains
// so the run can be retried from there.
type NodeFunc func(ctx context.Context, state State) (Delta, error)

// RouterFunc is a conditional edge: given the state after a step, it returns
// the name of the next step (or End). Returning a name that is not a node and
// not End fails the run with InvalidTransitionError.
//
// Routers should be pure functions of the state.
type RouterFunc func(state State) string

// edge is the compiled transition rule out of one node: either a fixed
// target or a router.
type edge struct {
	to     string
	router RouterFunc
}

// Builder accumulates nodes, edges, and reducers for compilation.
//
// Builders are not safe for concurrent use; build the graph once during
// startup, then share the compiled Graph across runs.
type Builder struct {
	nodes    map[string]NodeFunc
	edges    map[string]edge
	reducers map[string]Reducer
	entry    string
	errs     []error
}

// NewBuilder creates an empty graph builder.
//
// Example:
//
//	b := flow.NewBuilder()
//	b.AddNode("intake", intakeNode)
//	b.AddNode("enrich", enrichNode)
//	b.AddNode("finalize", finalizeNode)
//	b.StartAt("intake")
//	b.AddEdge("intake", "enrich")
//	b.AddEdge("enrich", "finalize")
//	b.AddEdge("finalize", flow.End)
//	g, err := b.Compile()
func NewBuilder() *Builder {
	return &Builder{
		nodes:    make(map[string]NodeFunc),
		edges:    make(map[string]edge),
		reducers: make(map[string]Reducer),
	}
}

// AddNode registers a named step. Names must be unique, non-empty, and must
// not collide with the reserved Start/End markers. Violations are reported by
// Compile.
func (b *Builder) AddNode(name string, fn NodeFunc) *Builder {
	switch {
	case name == "":
		b.errs = append(b.errs, &CompileError{Code: "EMPTY_NODE_NAME", Message: "node name cannot be empty"})
	case name == Start || name == End:
		b.errs = append(b.errs, &CompileError{Code: "RESERVED_NODE_NAME", Message: "node name collides with reserved marker: " + name})
	case fn == nil:
		b.errs = append(b.errs, &CompileError{Code: "NIL_NODE", Message: "node function cannot be nil: " + name})
	default:
		if _, exists := b.nodes[name]; exists {
			b.errs = append(b.errs, &CompileError{Code: "DUPLICATE_NODE", Message: "duplicate node name: " + name})
			return b
		}
		b.nodes[name] = fn
	}
	return b
}

// StartAt designates the node executed first for fresh runs. Exactly one
// entry must be set.
func (b *Builder) StartAt(name string) *Builder {
	if b.entry != "" && b.entry != name {
		b.errs = append(b.errs, &CompileError{Code: "DUPLICATE_ENTRY", Message: "start already resolves to " + b.entry})
		return b
	}
	b.entry = name
	return b
}

// AddEdge declares a fixed transition: after from completes, execution moves
// to to. Use flow.End as the target to terminate the run after from.
func (b *Builder) AddEdge(from, to string) *Builder {
	if _, exists := b.edges[from]; exists {
		b.errs = append(b.errs, &CompileError{Code: "DUPLICATE_EDGE", Message: "node already has an outgoing edge: " + from})
		return b
	}
	b.edges[from] = edge{to: to}
	return b
}

// AddConditionalEdge declares a routed transition: after from completes, the
// router picks the next step from the post-step state.
func (b *Builder) AddConditionalEdge(from string, router RouterFunc) *Builder {
	if router == nil {
		b.errs = append(b.errs, &CompileError{Code: "NIL_ROUTER", Message: "router cannot be nil: " + from})
		return b
	}
	if _, exists := b.edges[from]; exists {
		b.errs = append(b.errs, &CompileError{Code: "DUPLICATE_EDGE", Message: "node already has an outgoing edge: " + from})
		return b
	}
	b.edges[from] = edge{router: router}
	return b
}

// AddReducer declares the merge policy for one state field. Fields without a
// declared reducer default to Overwrite.
func (b *Builder) AddReducer(field string, r Reducer) *Builder {
	if r == nil {
		b.errs = append(b.errs, &CompileError{Code: "NIL_REDUCER", Message: "reducer cannot be nil: " + field})
		return b
	}
	b.reducers[field] = r
	return b
}

// Compile validates the definition and produces an immutable Graph.
//
// Validation rules:
//   - at least one node, and an entry designated via StartAt
//   - the entry names an existing node
//   - every fixed edge targets an existing node or End
//   - every node has an outgoing edge (fixed or conditional)
//   - every node is reachable from the entry; a conditional edge is treated
//     as potentially reaching any node, since its targets are dynamic
//
// Cycles are permitted. Termination is the graph author's responsibility,
// bounded at runtime by the executor's step limit.
//
// The returned Graph holds no per-run state and is safe for any number of
// concurrent runs.
func (b *Builder) Compile() (*Graph, error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}

	if len(b.nodes) == 0 {
		return nil, &CompileError{Code: "NO_NODES", Message: "graph has no nodes"}
	}
	if b.entry == "" {
		return nil, &CompileError{Code: "NO_ENTRY", Message: "start node not set (call StartAt)"}
	}
	if _, ok := b.nodes[b.entry]; !ok {
		return nil, &CompileError{Code: "UNKNOWN_ENTRY", Message: "start node does not exist: " + b.entry}
	}

	for from, e := range b.edges {
		if _, ok := b.nodes[from]; !ok {
			return nil, &CompileError{Code: "UNKNOWN_EDGE_SOURCE", Message: "edge from unknown node: " + from}
		}
		if e.router != nil || e.to == End {
			continue
		}
		if _, ok := b.nodes[e.to]; !ok {
			return nil, &CompileError{Code: "UNKNOWN_EDGE_TARGET", Message: "edge from " + from + " targets unknown node: " + e.to}
		}
	}

	for name := range b.nodes {
		if _, ok := b.edges[name]; !ok {
			return nil, &CompileError{Code: "DEAD_END", Message: "node has no outgoing edge: " + name}
		}
	}

	if err := b.checkReachability(); err != nil {
		return nil, err
	}

	g := &Graph{
		nodes:    make(map[string]NodeFunc, len(b.nodes)),
		edges:    make(map[string]edge, len(b.edges)),
		reducers: make(map[string]Reducer, len(b.reducers)),
		entry:    b.entry,
	}
	for k, v := range b.nodes {
		g.nodes[k] = v
	}
	for k, v := range b.edges {
		g.edges[k] = v
	}
	for k, v := range b.reducers {
		g.reducers[k] = v
	}

	return g, nil
}

// checkReachability walks fixed edges from the entry. A node carrying a
// conditional edge may route anywhere, so once one is reached the whole
// graph is considered reachable.
func (b *Builder) checkReachability() error {
	visited := map[string]bool{b.entry: true}
	queue := []string{b.entry}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		e, ok := b.edges[current]
		if !ok {
			continue
		}
		if e.router != nil {
			// Dynamic targets: conservatively assume every node is reachable.
			return nil
		}
		if e.to == End || visited[e.to] {
			continue
		}
		visited[e.to] = true
		queue = append(queue, e.to)
	}

	for name := range b.nodes {
		if !visited[name] {
			return &CompileError{Code: "UNREACHABLE_NODE", Message: "node not reachable from start: " + name}
		}
	}

	return nil
}

// Graph is an immutable, compiled workflow definition. It carries no per-run
// mutable state and may back any number of concurrent runs.
type Graph struct {
	nodes    map[string]NodeFunc
	edges    map[string]edge
	reducers map[string]Reducer
	entry    string
}

// Entry returns the name of the node executed first for fresh runs.
func (g *Graph) Entry() string {
	return g.entry
}

// Nodes returns the names of the graph's nodes. The slice is a copy.
func (g *Graph) Nodes() []string {
	names := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		names = append(names, name)
	}
	return names
}

// route evaluates the outgoing edge of a step against the post-step state.
// The second return is false when the step has no outgoing edge, which cannot
// happen for compiled graphs and indicates a checkpoint produced by a
// different graph version.
func (g *Graph) route(from string, state State) (string, bool) {
	e, ok := g.edges[from]
	if !ok {
		return "", false
	}
	if e.router != nil {
		return e.router(state), true
	}
	return e.to, true
}
