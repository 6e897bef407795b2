package rendergraph

import (
	"fmt"
	"io"
	"strings"
)

// WriteDOT writes the graph in Graphviz DOT form. Passes are boxes and
// resources ellipses; culled nodes are dashed. After Compile each compiled
// render pass is drawn as a cluster of its subpasses.
func (g *RenderGraph) WriteDOT(w io.Writer) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var sb strings.Builder
	fmt.Fprintf(&sb, "digraph %q {\n", g.opts.label)
	sb.WriteString("\trankdir=LR;\n")

	clustered := make(map[*PassNode]bool)
	for i, grp := range g.groups {
		fmt.Fprintf(&sb, "\tsubgraph cluster_%d {\n", i)
		fmt.Fprintf(&sb, "\t\tlabel=%q;\n", fmt.Sprintf("render pass %d [%d..%d]", i, grp.head, grp.tail))
		for _, p := range grp.passes {
			sb.WriteString("\t\t" + passNode(p) + "\n")
			clustered[p] = true
		}
		sb.WriteString("\t}\n")
	}
	for _, p := range g.passes {
		if !clustered[p] {
			sb.WriteString("\t" + passNode(p) + "\n")
		}
	}
	for _, r := range g.resources {
		style := "solid"
		if r.Released() {
			style = "dashed"
		}
		fmt.Fprintf(&sb, "\t%q [shape=ellipse style=%s label=%q];\n",
			resourceID(r.id), style, r.name+"\n"+r.kind.String())
	}
	for _, p := range g.passes {
		for _, a := range p.reads {
			fmt.Fprintf(&sb, "\t%q -> %q;\n", resourceID(a.id), passID(p))
		}
		for _, a := range p.writes {
			fmt.Fprintf(&sb, "\t%q -> %q [color=red];\n", passID(p), resourceID(a.id))
		}
	}
	sb.WriteString("}\n")
	_, err := io.WriteString(w, sb.String())
	return err
}

func passID(p *PassNode) string       { return fmt.Sprintf("pass%d", p.index) }
func resourceID(id ResourceID) string { return fmt.Sprintf("res%d", uint32(id)) }

func passNode(p *PassNode) string {
	style := "solid"
	if p.culled {
		style = "dashed"
	}
	return fmt.Sprintf("%q [shape=box style=%s label=%q];", passID(p), style, p.name)
}
