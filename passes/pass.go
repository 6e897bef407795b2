// Copyright 2026 The JoshuaVulkanEngine Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package passes provides reusable render graph passes: a deferred pipeline
// made of a depth prepass, a g-buffer fill and a full-screen lighting pass.
//
// A pass is added to a graph with Add, which runs its Prepare methods inside
// the Builder setup callback and uses Render as the executor:
//
//	d, err := passes.NewDeferred(g, passes.DemoScene())
//	if err != nil {
//		return err
//	}
//	if err := d.Add(g.Builder()); err != nil {
//		return err
//	}
//	err = g.Compile()
package passes

import (
	"fmt"

	"github.com/JIA-ss/JoshuaVulkanEngine/rendergraph"
	"github.com/JIA-ss/JoshuaVulkanEngine/rhi"
)

// Pass is a render graph pass with a fixed set of build steps.
type Pass interface {
	// Name is the unique pass name within a graph.
	Name() string

	// PrepareResources declares reads, writes and draws through b.
	PrepareResources(b *rendergraph.Builder)

	// PrepareAttachments sets the attachments, attachment meta and subpass
	// description of p.
	PrepareAttachments(p *rendergraph.PassNode)

	// PreparePipeline sets the descriptor layout and pipeline state of p.
	PreparePipeline(p *rendergraph.PassNode)

	// Render records the pass. The pipeline and pass descriptor sets are
	// already bound.
	Render(reg *rendergraph.Registry, cmd rhi.CommandBuffer)
}

// Add registers p with b.
func Add(b *rendergraph.Builder, p Pass) (*rendergraph.PassNode, error) {
	node, err := b.AddPassNode(p.Name(), func(b *rendergraph.Builder, _ *rendergraph.Registry) rendergraph.ExecuteFunc {
		p.PrepareResources(b)
		node := b.CurrentPass()
		p.PrepareAttachments(node)
		p.PreparePipeline(node)
		return p.Render
	})
	if err != nil {
		return node, fmt.Errorf("passes: add %q: %w", p.Name(), err)
	}
	return node, nil
}

// AddAll registers passes in order and stops at the first error.
func AddAll(b *rendergraph.Builder, passes ...Pass) error {
	for _, p := range passes {
		if _, err := Add(b, p); err != nil {
			return err
		}
	}
	return nil
}
