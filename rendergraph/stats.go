package rendergraph

// Stats reports the shape of a graph and how many frames it ran.
type Stats struct {
	Passes          int
	Resources       int
	CulledPasses    int
	CulledResources int

	// Groups is the number of compiled render passes and Subpasses the
	// number of passes scheduled in them.
	Groups    int
	Subpasses int

	FramesExecuted int
	FramesSkipped  int
	Recreations    int
}

// Stats returns a snapshot of the graph's counters.
func (g *RenderGraph) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.stats
	s.Passes = len(g.passes)
	s.Resources = len(g.resources)
	return s
}
