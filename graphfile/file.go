// Copyright 2026 The JoshuaVulkanEngine Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package graphfile describes render graphs in HCL.
//
// A graph file declares resources and passes:
//
//	resource "texture" "Scene" {
//	  format = "rgba8unorm"
//	  usage  = ["render_attachment", "texture_binding"]
//	  binding {
//	    set     = 0
//	    binding = 0
//	    type    = "input_attachment"
//	    stages  = ["fragment"]
//	  }
//	}
//
//	pass "Composite" {
//	  reads  = ["Scene"]
//	  writes = ["Present"]
//	  attachment "Present" { final_layout = "present_src" }
//	  attachment "Scene" {}
//	  input = ["Scene"]
//	  color = ["Present"]
//	  draw_vertices = 3
//	  shader { file = "composite.wgsl" }
//	}
//
// Expressions may use screen.width, screen.height, frames_in_flight and
// var.<name> for caller-supplied values, and the functions min, max, floor
// and ceil.
package graphfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gogpu/gputypes"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/JIA-ss/JoshuaVulkanEngine/rhi"
)

var (
	// ErrUnknownName is returned for an unrecognized enum name, such as a
	// texture format or a descriptor type.
	ErrUnknownName = errors.New("graphfile: unknown name")

	// ErrUnknownResource is returned when a pass refers to a resource that
	// is not declared.
	ErrUnknownResource = errors.New("graphfile: unknown resource")

	// ErrInvalid is returned for a structurally invalid document.
	ErrInvalid = errors.New("graphfile: invalid graph")
)

// Vars are the values graph file expressions can refer to.
type Vars struct {
	ScreenWidth    uint32
	ScreenHeight   uint32
	FramesInFlight int

	// SwapchainFormat is the format of attachments of the present image.
	SwapchainFormat gputypes.TextureFormat

	// Extra values are exposed as var.<name>.
	Extra map[string]cty.Value
}

// VarsFor returns the Vars of dev's swapchain.
func VarsFor(dev rhi.Device) Vars {
	sc := dev.Swapchain()
	w, h := sc.Extent()
	return Vars{
		ScreenWidth:     w,
		ScreenHeight:    h,
		FramesInFlight:  sc.ImageCount(),
		SwapchainFormat: sc.Format(),
	}
}

func (v Vars) evalContext() *hcl.EvalContext {
	extra := v.Extra
	if extra == nil {
		extra = map[string]cty.Value{}
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"screen": cty.ObjectVal(map[string]cty.Value{
				"width":  cty.NumberIntVal(int64(v.ScreenWidth)),
				"height": cty.NumberIntVal(int64(v.ScreenHeight)),
			}),
			"frames_in_flight": cty.NumberIntVal(int64(v.FramesInFlight)),
			"var":              cty.ObjectVal(extra),
		},
		Functions: map[string]function.Function{
			"min":   stdlib.MinFunc,
			"max":   stdlib.MaxFunc,
			"floor": stdlib.FloorFunc,
			"ceil":  stdlib.CeilFunc,
		},
	}
}

// File is a decoded graph file.
type File struct {
	Filename  string
	Resources []*ResourceBlock
	Passes    []*PassBlock

	vars Vars
	dir  string
}

// Load reads and decodes the graph file at path. Shader files are resolved
// relative to its directory.
func Load(path string, vars Vars) (*File, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("graphfile: %w", err)
	}
	f, err := Parse(src, path, vars)
	if err != nil {
		return nil, err
	}
	f.dir = filepath.Dir(path)
	return f, nil
}

// Parse decodes src. filename is used in diagnostics.
func Parse(src []byte, filename string, vars Vars) (*File, error) {
	parser := hclparse.NewParser()
	hf, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("graphfile: parse %s: %w", filename, diags)
	}

	var doc document
	diags = gohcl.DecodeBody(hf.Body, vars.evalContext(), &doc)
	if diags.HasErrors() {
		return nil, fmt.Errorf("graphfile: decode %s: %w", filename, diags)
	}

	f := &File{
		Filename:  filename,
		Resources: doc.Resources,
		Passes:    doc.Passes,
		vars:      vars,
	}
	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return f, nil
}

// validate checks names and references without touching a device.
func (f *File) validate() error {
	names := map[string]string{}
	for _, r := range f.Resources {
		switch r.Kind {
		case KindTexture, KindBuffer, KindVertexBuffer, KindIndexBuffer:
		default:
			return fmt.Errorf("%w: resource %q has unknown kind %q", ErrInvalid, r.Name, r.Kind)
		}
		if _, dup := names[r.Name]; dup {
			return fmt.Errorf("%w: duplicate resource %q", ErrInvalid, r.Name)
		}
		names[r.Name] = r.Kind
	}

	passes := map[string]bool{}
	for _, p := range f.Passes {
		if passes[p.Name] {
			return fmt.Errorf("%w: duplicate pass %q", ErrInvalid, p.Name)
		}
		passes[p.Name] = true

		check := func(what, name string) error {
			if name == PresentName {
				return nil
			}
			if _, ok := names[name]; !ok {
				return fmt.Errorf("%w: pass %q %s %q", ErrUnknownResource, p.Name, what, name)
			}
			return nil
		}
		for _, group := range []struct {
			what string
			list []string
		}{{"reads", p.Reads}, {"writes", p.Writes}, {"input", p.Input}, {"color", p.Color}} {
			for _, n := range group.list {
				if err := check(group.what, n); err != nil {
					return err
				}
			}
		}
		slots := map[string]bool{}
		for _, a := range p.Attachments {
			if err := check("attachment", a.Resource); err != nil {
				return err
			}
			slots[a.Resource] = true
		}
		refs := append(append([]string{}, p.Input...), p.Color...)
		if p.Depth != "" {
			refs = append(refs, p.Depth)
		}
		for _, n := range refs {
			if !slots[n] {
				return fmt.Errorf("%w: pass %q references %q without an attachment block", ErrInvalid, p.Name, n)
			}
		}
		for i, m := range p.Meshes {
			if names[m.Vertex] != KindVertexBuffer {
				return fmt.Errorf("%w: pass %q mesh %d vertex %q", ErrUnknownResource, p.Name, i, m.Vertex)
			}
			if m.Index != "" && names[m.Index] != KindIndexBuffer {
				return fmt.Errorf("%w: pass %q mesh %d index %q", ErrUnknownResource, p.Name, i, m.Index)
			}
			for _, n := range m.Resources {
				if err := check("mesh resource", n); err != nil {
					return err
				}
			}
		}
		if s := p.Shader; s != nil && (s.WGSL == "") == (s.File == "") {
			return fmt.Errorf("%w: pass %q shader needs exactly one of wgsl and file", ErrInvalid, p.Name)
		}
	}
	return nil
}
