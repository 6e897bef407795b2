// Copyright 2026 The JoshuaVulkanEngine Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package depgraph implements the directed dependency graph underlying the
// render graph.
//
// Nodes carry an intrusive reference count equal to their out-degree. A node
// whose count is zero is an isolate and is removed by CullIsolateNodes. The
// graph performs no cycle detection; callers build it acyclic.
package depgraph

import (
	"fmt"
	"reflect"
)

// Node is a vertex of the graph. Types become nodes by embedding Base.
type Node interface {
	RefCount() int
	base() *Base
}

// Base carries the per-node bookkeeping. Embed it by value.
type Base struct {
	refCount int
	pinned   bool
	graph    *Graph
}

// RefCount returns the number of edges originating at the node.
func (b *Base) RefCount() int { return b.refCount }

// Pin retains the node during culling regardless of its reference count.
func (b *Base) Pin() { b.pinned = true }

// Pinned reports whether Pin was called.
func (b *Base) Pinned() bool { return b.pinned }

func (b *Base) base() *Base { return b }

// Graph is a directed graph with forward and backward adjacency.
//
// Graph is not safe for concurrent use.
type Graph struct {
	nodes    []Node
	forward  map[Node][]Node
	backward map[Node][]Node
	edges    int
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		forward:  make(map[Node][]Node),
		backward: make(map[Node][]Node),
	}
}

// AddNode registers n. It panics if n is nil or already registered.
func (g *Graph) AddNode(n Node) {
	if isNil(n) {
		panic("depgraph: AddNode called with nil node")
	}
	b := n.base()
	if b.graph != nil {
		panic(fmt.Sprintf("depgraph: node %v registered twice", n))
	}
	b.graph = g
	g.nodes = append(g.nodes, n)
}

// AddEdge records the edge from -> to and increments from's reference count.
// Both nodes must already be registered with g.
func (g *Graph) AddEdge(from, to Node) {
	if !g.Contains(from) || !g.Contains(to) {
		panic("depgraph: AddEdge on unregistered node")
	}
	g.forward[from] = append(g.forward[from], to)
	g.backward[to] = append(g.backward[to], from)
	from.base().refCount++
	g.edges++
}

// Contains reports whether n is an active node of g.
func (g *Graph) Contains(n Node) bool {
	return !isNil(n) && n.base().graph == g
}

// IsIsolate reports whether n has no outgoing edges. A nil node is an
// isolate; a pinned node never is.
func IsIsolate(n Node) bool {
	if isNil(n) {
		return true
	}
	b := n.base()
	return b.refCount == 0 && !b.pinned
}

// CullIsolateNodes removes every isolate from the graph and returns them in
// registration order. Reference counts of the surviving nodes are left
// untouched, so culling does not cascade; a writer keeps its count even when
// the resource it writes is culled.
func (g *Graph) CullIsolateNodes() []Node {
	var culled []Node
	kept := g.nodes[:0]
	for _, n := range g.nodes {
		if IsIsolate(n) {
			culled = append(culled, n)
			continue
		}
		kept = append(kept, n)
	}
	// Clear the tail so dropped nodes can be collected.
	for i := len(kept); i < len(g.nodes); i++ {
		g.nodes[i] = nil
	}
	g.nodes = kept

	for _, n := range culled {
		n.base().graph = nil
		for _, to := range g.forward[n] {
			g.backward[to] = remove(g.backward[to], n)
			g.edges--
		}
		for _, from := range g.backward[n] {
			g.forward[from] = remove(g.forward[from], n)
			g.edges--
		}
		delete(g.forward, n)
		delete(g.backward, n)
	}
	return culled
}

// Nodes returns the active nodes in registration order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Len returns the number of active nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// EdgeCount returns the number of edges between active nodes.
func (g *Graph) EdgeCount() int { return g.edges }

// Successors returns the targets of edges leaving n.
func (g *Graph) Successors(n Node) []Node { return g.forward[n] }

// Predecessors returns the sources of edges entering n.
func (g *Graph) Predecessors(n Node) []Node { return g.backward[n] }

func remove(list []Node, n Node) []Node {
	out := list[:0]
	for _, m := range list {
		if m != n {
			out = append(out, m)
		}
	}
	return out
}

// isNil reports whether n is nil or a typed nil pointer.
func isNil(n Node) bool {
	if n == nil {
		return true
	}
	v := reflect.ValueOf(n)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
