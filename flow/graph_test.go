package flow

import (
	"context"
	"errors"
	"testing"
)

func noopNode(_ context.Context, _ State) (Delta, error) {
	return nil, nil
}

func TestCompileValidGraph(t *testing.T) {
	g, err := NewBuilder().
		AddNode("a", noopNode).
		AddNode("b", noopNode).
		StartAt("a").
		AddEdge("a", "b").
		AddEdge("b", End).
		Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if g.Entry() != "a" {
		t.Errorf("expected entry 'a', got %q", g.Entry())
	}
	if len(g.Nodes()) != 2 {
		t.Errorf("expected 2 nodes, got %v", g.Nodes())
	}
}

func TestCompileSingleNodeLoop(t *testing.T) {
	// A self-loop with a router exit is valid; termination is the router's
	// job, bounded at runtime by the step limit.
	_, err := NewBuilder().
		AddNode("only", noopNode).
		StartAt("only").
		AddConditionalEdge("only", func(State) string { return End }).
		Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name  string
		build func() *Builder
		code  string
	}{
		{
			name:  "no nodes",
			build: func() *Builder { return NewBuilder() },
			code:  "NO_NODES",
		},
		{
			name: "no entry",
			build: func() *Builder {
				return NewBuilder().
					AddNode("a", noopNode).
					AddEdge("a", End)
			},
			code: "NO_ENTRY",
		},
		{
			name: "unknown entry",
			build: func() *Builder {
				return NewBuilder().
					AddNode("a", noopNode).
					StartAt("ghost").
					AddEdge("a", End)
			},
			code: "UNKNOWN_ENTRY",
		},
		{
			name: "empty node name",
			build: func() *Builder {
				return NewBuilder().AddNode("", noopNode)
			},
			code: "EMPTY_NODE_NAME",
		},
		{
			name: "reserved node name",
			build: func() *Builder {
				return NewBuilder().AddNode(End, noopNode)
			},
			code: "RESERVED_NODE_NAME",
		},
		{
			name: "nil node function",
			build: func() *Builder {
				return NewBuilder().AddNode("a", nil)
			},
			code: "NIL_NODE",
		},
		{
			name: "duplicate node",
			build: func() *Builder {
				return NewBuilder().
					AddNode("a", noopNode).
					AddNode("a", noopNode)
			},
			code: "DUPLICATE_NODE",
		},
		{
			name: "duplicate entry",
			build: func() *Builder {
				return NewBuilder().
					AddNode("a", noopNode).
					AddNode("b", noopNode).
					StartAt("a").
					StartAt("b")
			},
			code: "DUPLICATE_ENTRY",
		},
		{
			name: "duplicate edge",
			build: func() *Builder {
				return NewBuilder().
					AddNode("a", noopNode).
					AddNode("b", noopNode).
					StartAt("a").
					AddEdge("a", "b").
					AddEdge("a", End)
			},
			code: "DUPLICATE_EDGE",
		},
		{
			name: "nil router",
			build: func() *Builder {
				return NewBuilder().
					AddNode("a", noopNode).
					StartAt("a").
					AddConditionalEdge("a", nil)
			},
			code: "NIL_ROUTER",
		},
		{
			name: "nil reducer",
			build: func() *Builder {
				return NewBuilder().
					AddNode("a", noopNode).
					StartAt("a").
					AddEdge("a", End).
					AddReducer("field", nil)
			},
			code: "NIL_REDUCER",
		},
		{
			name: "edge from unknown node",
			build: func() *Builder {
				return NewBuilder().
					AddNode("a", noopNode).
					StartAt("a").
					AddEdge("a", End).
					AddEdge("ghost", End)
			},
			code: "UNKNOWN_EDGE_SOURCE",
		},
		{
			name: "edge to unknown node",
			build: func() *Builder {
				return NewBuilder().
					AddNode("a", noopNode).
					StartAt("a").
					AddEdge("a", "ghost")
			},
			code: "UNKNOWN_EDGE_TARGET",
		},
		{
			name: "node without outgoing edge",
			build: func() *Builder {
				return NewBuilder().
					AddNode("a", noopNode).
					AddNode("b", noopNode).
					StartAt("a").
					AddEdge("a", "b")
			},
			code: "DEAD_END",
		},
		{
			name: "unreachable node",
			build: func() *Builder {
				return NewBuilder().
					AddNode("a", noopNode).
					AddNode("island", noopNode).
					StartAt("a").
					AddEdge("a", End).
					AddEdge("island", End)
			},
			code: "UNREACHABLE_NODE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build().Compile()
			if err == nil {
				t.Fatal("expected compile error, got nil")
			}
			var ce *CompileError
			if !errors.As(err, &ce) {
				t.Fatalf("expected *CompileError, got %T: %v", err, err)
			}
			if ce.Code != tt.code {
				t.Errorf("expected code %s, got %s (%s)", tt.code, ce.Code, ce.Message)
			}
		})
	}
}

func TestCompileConditionalEdgeSatisfiesReachability(t *testing.T) {
	// A router's targets are dynamic, so nodes reachable only through it
	// must not be flagged as unreachable.
	_, err := NewBuilder().
		AddNode("a", noopNode).
		AddNode("b", noopNode).
		AddNode("c", noopNode).
		StartAt("a").
		AddConditionalEdge("a", func(State) string { return "b" }).
		AddEdge("b", End).
		AddEdge("c", End).
		Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
}

func TestRouteFixedAndConditional(t *testing.T) {
	g, err := NewBuilder().
		AddNode("a", noopNode).
		AddNode("b", noopNode).
		StartAt("a").
		AddEdge("a", "b").
		AddConditionalEdge("b", func(s State) string {
			if done, _ := s["done"].(bool); done {
				return End
			}
			return "a"
		}).
		Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	if next, ok := g.route("a", nil); !ok || next != "b" {
		t.Errorf("route(a): expected b, got %q (ok=%v)", next, ok)
	}
	if next, ok := g.route("b", State{"done": false}); !ok || next != "a" {
		t.Errorf("route(b, not done): expected a, got %q (ok=%v)", next, ok)
	}
	if next, ok := g.route("b", State{"done": true}); !ok || next != End {
		t.Errorf("route(b, done): expected End, got %q (ok=%v)", next, ok)
	}
	if _, ok := g.route("ghost", nil); ok {
		t.Error("route(ghost): expected ok=false for unknown node")
	}
}

func TestGraphSharedAcrossRuns(t *testing.T) {
	// Compiled graphs hold no per-run state; mutating the Nodes() copy must
	// not affect the graph.
	g, err := NewBuilder().
		AddNode("a", noopNode).
		StartAt("a").
		AddEdge("a", End).
		Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	names := g.Nodes()
	names[0] = "mutated"
	if g.Nodes()[0] != "a" {
		t.Error("Nodes() must return a copy")
	}
}
