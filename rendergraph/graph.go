// Copyright 2026 The JoshuaVulkanEngine Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package rendergraph schedules GPU passes declared against named resources.
//
// Pass-authoring code registers passes through a Builder. Each pass's setup
// callback creates or looks up resources, declares what it reads and writes,
// and returns an ExecuteFunc that records its commands. Reads and writes are
// edges of a dependency graph: pass -> resource is a write, resource -> pass
// is a read. A node's reference count is its out-degree.
//
// Compile runs once, after all passes are registered:
//
//  1. cull: nodes with no outgoing edges are removed; culled resources
//     release their GPU objects.
//  2. merge: consecutive compatible passes become subpasses of one native
//     render pass (a CompiledRenderPass).
//  3. descriptors: one pool per compiled pass, sets per pass and per mesh,
//     one batched update.
//  4. layout, render pass, pipelines and framebuffers.
//  5. one command buffer, fence and semaphore pair per swapchain image.
//
// Execute then records and presents one frame per call:
//
//	g := rendergraph.New(dev)
//	b := g.Builder()
//	b.AddPassNode("lighting", func(b *rendergraph.Builder, reg *rendergraph.Registry) rendergraph.ExecuteFunc {
//	    b.Read(gbuffer.ID(), rhi.AccessInputAttachmentRead)
//	    b.Write(b.Present().ID(), rhi.AccessColorAttachmentWrite)
//	    ...
//	    return func(reg *rendergraph.Registry, cmd rhi.CommandBuffer) {
//	        cmd.Draw(3, 1, 0, 0)
//	    }
//	})
//	if err := g.Compile(); err != nil { ... }
//	for running {
//	    if err := g.Execute(); err != nil { ... }
//	}
//
// A RenderGraph records and submits from one goroutine. Compile and Execute
// exclude each other.
package rendergraph

import (
	"log/slog"
	"sync"

	"github.com/JIA-ss/JoshuaVulkanEngine/internal/depgraph"
	"github.com/JIA-ss/JoshuaVulkanEngine/rhi"
)

// RenderGraph owns the passes, resources and compiled state of one frame
// topology.
type RenderGraph struct {
	mu sync.Mutex

	device rhi.Device
	opts   options

	dag            *depgraph.Graph
	passes         []*PassNode
	passByName     map[string]*PassNode
	resources      []*ResourceNode
	resourceByName map[string]ResourceID
	presentID      ResourceID

	builder  *Builder
	registry *Registry

	compiled  bool
	destroyed bool
	groups    []*CompiledRenderPass
	frames    []*frameSync
	slot      int

	// retained holds the images of culled textures that surviving passes
	// still attach.
	retained map[ResourceID]*Resource[*Texture]

	stats Stats
}

// New creates an empty graph that builds on device.
func New(device rhi.Device, opts ...Option) *RenderGraph {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	g := &RenderGraph{
		device:         device,
		opts:           o,
		dag:            depgraph.New(),
		passByName:     make(map[string]*PassNode),
		resourceByName: make(map[string]ResourceID),
	}
	g.builder = &Builder{g: g}
	g.registry = &Registry{g: g}
	propagateLogger(device, g.logger())

	present := RegisterResourceNode(g.registry, o.presentName, UnboundDescription(), &PresentImage{})
	g.presentID = present.ID()
	// The swapchain consumes the present image outside the graph.
	g.resources[g.presentID].Pin()
	return g
}

func (g *RenderGraph) logger() *slog.Logger {
	if g.opts.logger != nil {
		return g.opts.logger
	}
	return Logger()
}

// Builder returns the graph's builder.
func (g *RenderGraph) Builder() *Builder { return g.builder }

// Registry returns the graph's registry.
func (g *RenderGraph) Registry() *Registry { return g.registry }

// Device returns the device the graph builds on.
func (g *RenderGraph) Device() rhi.Device { return g.device }

// Present returns the handle of the swapchain image.
func (g *RenderGraph) Present() Handle[*PresentImage] {
	return Handle[*PresentImage]{id: g.presentID}
}

// Passes returns the passes in registration order.
func (g *RenderGraph) Passes() []*PassNode {
	return append([]*PassNode(nil), g.passes...)
}

// Resources returns the resource nodes in id order, culled ones included.
func (g *RenderGraph) Resources() []*ResourceNode {
	return append([]*ResourceNode(nil), g.resources...)
}

// Compiled reports whether Compile has succeeded.
func (g *RenderGraph) Compiled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.compiled
}

// Destroy waits for the device to go idle and releases everything the graph
// owns, in reverse construction order: sync objects, compiled passes,
// resources, then the present-image node. Destroy is idempotent.
func (g *RenderGraph) Destroy() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.destroyed {
		return
	}
	g.destroyed = true
	if err := g.device.WaitIdle(); err != nil {
		g.logger().Warn("rendergraph: wait idle before destroy", "err", err)
	}

	g.destroySync()
	g.destroyGroups()
	for id, r := range g.retained {
		r.Release()
		delete(g.retained, id)
	}
	for _, n := range g.resources {
		if n.id != g.presentID {
			n.virtual.release()
		}
	}
	g.resources[g.presentID].virtual.release()
	g.compiled = false
	g.logger().Debug("rendergraph: destroyed", "label", g.opts.label)
}

func (g *RenderGraph) destroySync() {
	for _, f := range g.frames {
		f.destroy()
	}
	g.frames = nil
}

func (g *RenderGraph) destroyGroups() {
	for i := len(g.groups) - 1; i >= 0; i-- {
		g.groups[i].destroy()
	}
	g.groups = nil
}
