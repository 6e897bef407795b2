package depgraph

import (
	"fmt"
	"strings"
	"testing"
)

type testNode struct {
	Base
	name string
}

func newNode(name string) *testNode { return &testNode{name: name} }

func names(nodes []Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.(*testNode).name
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func mustPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s: expected panic", name)
		}
	}()
	fn()
}

// =============================================================================
// Registration
// =============================================================================

func TestAddNode(t *testing.T) {
	g := New()
	a, b := newNode("a"), newNode("b")
	g.AddNode(a)
	g.AddNode(b)

	if g.Len() != 2 {
		t.Errorf("Len() = %d, want 2", g.Len())
	}
	if !g.Contains(a) || !g.Contains(b) {
		t.Error("Contains() = false for registered node")
	}
	if got := names(g.Nodes()); !equalStrings(got, []string{"a", "b"}) {
		t.Errorf("Nodes() = %v, want [a b]", got)
	}
}

func TestAddNodePanics(t *testing.T) {
	g := New()
	a := newNode("a")
	g.AddNode(a)

	mustPanic(t, "duplicate", func() { g.AddNode(a) })
	mustPanic(t, "nil", func() { g.AddNode(nil) })
	mustPanic(t, "other graph", func() { New().AddNode(a) })
}

func TestTypedNilNode(t *testing.T) {
	g := New()
	var n *testNode

	defer func() {
		msg := fmt.Sprint(recover())
		if !strings.HasPrefix(msg, "depgraph: AddNode called with nil node") {
			t.Errorf("AddNode(typed nil) panic = %q", msg)
		}
	}()
	if !IsIsolate(n) {
		t.Error("IsIsolate(typed nil) = false, want true")
	}
	if g.Contains(n) {
		t.Error("Contains(typed nil) = true")
	}
	g.AddNode(n)
}

func TestAddEdgeRefCount(t *testing.T) {
	g := New()
	pass, res1, res2 := newNode("pass"), newNode("r1"), newNode("r2")
	g.AddNode(pass)
	g.AddNode(res1)
	g.AddNode(res2)

	g.AddEdge(pass, res1)
	g.AddEdge(pass, res2)
	g.AddEdge(res1, pass)

	tests := []struct {
		node *testNode
		want int
	}{
		{pass, 2},
		{res1, 1},
		{res2, 0},
	}
	for _, tt := range tests {
		if got := tt.node.RefCount(); got != tt.want {
			t.Errorf("%s.RefCount() = %d, want %d", tt.node.name, got, tt.want)
		}
	}
	if g.EdgeCount() != 3 {
		t.Errorf("EdgeCount() = %d, want 3", g.EdgeCount())
	}
	if got := names(g.Successors(pass)); !equalStrings(got, []string{"r1", "r2"}) {
		t.Errorf("Successors(pass) = %v", got)
	}
	if got := names(g.Predecessors(pass)); !equalStrings(got, []string{"r1"}) {
		t.Errorf("Predecessors(pass) = %v", got)
	}
}

func TestAddEdgeUnregisteredPanics(t *testing.T) {
	g := New()
	a := newNode("a")
	g.AddNode(a)
	mustPanic(t, "unregistered to", func() { g.AddEdge(a, newNode("b")) })
	mustPanic(t, "unregistered from", func() { g.AddEdge(newNode("b"), a) })
}

// =============================================================================
// Isolates and culling
// =============================================================================

func TestIsIsolate(t *testing.T) {
	g := New()
	a, b := newNode("a"), newNode("b")
	g.AddNode(a)
	g.AddNode(b)
	g.AddEdge(a, b)

	if IsIsolate(a) {
		t.Error("IsIsolate(a) = true, want false")
	}
	if !IsIsolate(b) {
		t.Error("IsIsolate(b) = false, want true")
	}
	if !IsIsolate(nil) {
		t.Error("IsIsolate(nil) = false, want true")
	}

	b.Pin()
	if IsIsolate(b) {
		t.Error("IsIsolate(pinned) = true, want false")
	}
}

func TestCullIsolateNodes(t *testing.T) {
	// writer -> unread   (unread is culled, writer survives)
	// orphan             (no edges, culled)
	// read -> consumer -> out, out pinned
	g := New()
	writer, unread := newNode("writer"), newNode("unread")
	orphan := newNode("orphan")
	read, consumer, out := newNode("read"), newNode("consumer"), newNode("out")
	for _, n := range []*testNode{writer, unread, orphan, read, consumer, out} {
		g.AddNode(n)
	}
	g.AddEdge(writer, unread)
	g.AddEdge(read, consumer)
	g.AddEdge(consumer, out)
	out.Pin()

	culled := g.CullIsolateNodes()
	if got := names(culled); !equalStrings(got, []string{"unread", "orphan"}) {
		t.Errorf("CullIsolateNodes() = %v, want [unread orphan]", got)
	}
	if got := names(g.Nodes()); !equalStrings(got, []string{"writer", "read", "consumer", "out"}) {
		t.Errorf("Nodes() after cull = %v", got)
	}
	if g.Contains(unread) {
		t.Error("culled node still contained")
	}
	if writer.RefCount() != 1 {
		t.Errorf("writer.RefCount() = %d, want 1 (no cascade)", writer.RefCount())
	}
	if len(g.Successors(writer)) != 0 {
		t.Errorf("Successors(writer) = %v, want none", names(g.Successors(writer)))
	}
	if g.EdgeCount() != 2 {
		t.Errorf("EdgeCount() = %d, want 2", g.EdgeCount())
	}

	// A second cull finds nothing new: counts never drop.
	if again := g.CullIsolateNodes(); len(again) != 0 {
		t.Errorf("second CullIsolateNodes() = %v, want none", names(again))
	}
}

func TestCullEmptyGraph(t *testing.T) {
	g := New()
	if culled := g.CullIsolateNodes(); culled != nil {
		t.Errorf("CullIsolateNodes() on empty graph = %v, want nil", culled)
	}
}
