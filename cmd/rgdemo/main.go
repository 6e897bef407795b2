// Command rgdemo compiles a render graph and executes it on one of the
// registered device backends.
//
//	rgdemo -frames 10 -log-level debug
//	rgdemo -graph forward.hcl -dot graph.dot
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/JIA-ss/JoshuaVulkanEngine/graphfile"
	"github.com/JIA-ss/JoshuaVulkanEngine/passes"
	"github.com/JIA-ss/JoshuaVulkanEngine/rendergraph"
	"github.com/JIA-ss/JoshuaVulkanEngine/rhi"
	_ "github.com/JIA-ss/JoshuaVulkanEngine/rhi/halrhi"
	_ "github.com/JIA-ss/JoshuaVulkanEngine/rhi/headless"
)

func main() {
	if err := run(os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "rgdemo:", err)
		if e, ok := err.(*exitError); ok {
			os.Exit(e.code)
		}
		os.Exit(1)
	}
}

// run executes the demo. The summary goes to out and log records to logW.
func run(out, logW io.Writer, args []string) error {
	cfg, err := parseArgs(args, out)
	if err != nil || cfg == nil {
		return err
	}
	log := newLogger(cfg.logLevel, cfg.logFormat, logW)

	dev, err := rhi.Open(cfg.backend, cfg.device())
	if err != nil {
		return err
	}
	defer dev.Destroy()

	g := rendergraph.New(dev, rendergraph.WithLogger(log), rendergraph.WithLabel("rgdemo"))
	defer g.Destroy()

	if err := build(g, cfg.graph); err != nil {
		return err
	}
	if err := g.Compile(); err != nil {
		return err
	}
	if cfg.dot != "" {
		if err := writeDOT(g, cfg.dot); err != nil {
			return err
		}
	}
	for i := 0; i < cfg.frames; i++ {
		if err := g.Execute(); err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
	}
	if err := dev.WaitIdle(); err != nil {
		return err
	}

	printSummary(out, g)
	return nil
}

// build adds the passes of the graph file at path, or the deferred demo
// scene when path is empty.
func build(g *rendergraph.RenderGraph, path string) error {
	if path == "" {
		d, err := passes.NewDeferred(g, passes.DemoScene())
		if err != nil {
			return err
		}
		return d.Add(g.Builder())
	}
	f, err := graphfile.Load(path, graphfile.VarsFor(g.Device()))
	if err != nil {
		return err
	}
	return f.Apply(g.Builder(), nil)
}

func writeDOT(g *rendergraph.RenderGraph, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := g.WriteDOT(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printSummary(w io.Writer, g *rendergraph.RenderGraph) {
	for i, c := range g.CompiledPasses() {
		info := c.Info()
		fmt.Fprintf(w, "render pass %d: %v sets=%v framebuffers=%d present=%t\n",
			i, info.Passes, info.Sets, info.Framebuffers, info.Present)
	}
	st := g.Stats()
	fmt.Fprintf(w, "passes=%d (culled %d) resources=%d (culled %d)\n",
		st.Passes, st.CulledPasses, st.Resources, st.CulledResources)
	fmt.Fprintf(w, "frames executed=%d skipped=%d recreations=%d\n",
		st.FramesExecuted, st.FramesSkipped, st.Recreations)
}
