package convograph

import (
	"fmt"
)

// Graph is the executable form of a FlowDefinition: incoming and outgoing
// adjacency maps over canonicalized, portal-resolved edges.
//
// Graph is immutable after BuildGraph and safe for concurrent reads.
type Graph struct {
	nodes    map[string]Node
	incoming map[string][]Edge
	outgoing map[string][]Edge

	// portalOutputs indexes portal-output node ids by portal key, for
	// TriggerPortalOutputs.
	portalOutputs map[string][]string
}

// BuildGraph converts a flat node/edge list into adjacency maps.
//
// Handle names are canonicalized, portal node pairs are resolved into
// synthetic bridge edges, and edges touching portal nodes directly are
// dropped. Malformed edges (missing source or target) are silently
// excluded rather than failing the build; the scheduler surfaces the
// resulting missing-dependency condition at execution time.
func BuildGraph(def FlowDefinition) *Graph {
	g := &Graph{
		nodes:         make(map[string]Node, len(def.Nodes)),
		incoming:      make(map[string][]Edge),
		outgoing:      make(map[string][]Edge),
		portalOutputs: make(map[string][]string),
	}

	portalInputs := make(map[string][]string) // portal key -> portal-in node ids
	isPortal := make(map[string]bool)

	for _, n := range def.Nodes {
		if n.ID == "" {
			continue
		}
		g.nodes[n.ID] = n

		switch n.Type {
		case NodeTypePortalIn:
			isPortal[n.ID] = true
			if key := portalKey(n); key != "" {
				portalInputs[key] = append(portalInputs[key], n.ID)
			}
		case NodeTypePortalOut:
			isPortal[n.ID] = true
			if key := portalKey(n); key != "" {
				g.portalOutputs[key] = append(g.portalOutputs[key], n.ID)
			}
		}
	}

	// Canonicalize handles and split edges into the portal-touching set
	// and the regular set.
	var regular []Edge
	intoPortal := make(map[string][]Edge)  // portal-in node id -> incoming edges
	outOfPortal := make(map[string][]Edge) // portal-out node id -> outgoing edges

	for _, e := range def.Edges {
		if e.Source == "" || e.Target == "" {
			continue
		}
		e.SourceOutput = CanonicalHandle(e.SourceOutput)
		e.TargetInput = CanonicalHandle(e.TargetInput)

		switch {
		case isPortal[e.Target]:
			intoPortal[e.Target] = append(intoPortal[e.Target], e)
		case isPortal[e.Source]:
			outOfPortal[e.Source] = append(outOfPortal[e.Source], e)
		default:
			regular = append(regular, e)
		}
	}

	// Cross every edge arriving at a portal input with every edge leaving
	// a matching portal output. The handle the payload enters through must
	// match the handle it leaves through; the bridge then behaves exactly
	// like an authored edge between the original endpoints.
	var bridges []Edge
	for key, inNodes := range portalInputs {
		outNodes := g.portalOutputs[key]
		if len(outNodes) == 0 {
			continue
		}
		for _, inNode := range inNodes {
			for _, in := range intoPortal[inNode] {
				for _, outNode := range outNodes {
					for _, out := range outOfPortal[outNode] {
						if in.TargetInput != out.SourceOutput {
							continue
						}
						bridges = append(bridges, Edge{
							ID:            fmt.Sprintf("bridge:%s=>%s", inNode, outNode),
							Source:        in.Source,
							SourceOutput:  in.SourceOutput,
							Target:        out.Target,
							TargetInput:   out.TargetInput,
							IsContextEdge: in.IsContextEdge || out.IsContextEdge,
						})
					}
				}
			}
		}
	}

	// De-duplicate by endpoint/handle tuple, then populate adjacency.
	seen := make(map[string]bool)
	for _, e := range append(regular, bridges...) {
		key := e.Source + "\x00" + e.SourceOutput + "\x00" + e.Target + "\x00" + e.TargetInput
		if seen[key] {
			continue
		}
		seen[key] = true
		g.outgoing[e.Source] = append(g.outgoing[e.Source], e)
		g.incoming[e.Target] = append(g.incoming[e.Target], e)
	}

	return g
}

// portalKey extracts the portal pairing key from a portal node's config.
func portalKey(n Node) string {
	if n.Config == nil {
		return ""
	}
	if key, ok := n.Config["id"].(string); ok {
		return key
	}
	return ""
}

// NodeByID returns the node declaration for an id.
func (g *Graph) NodeByID(id string) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Incoming returns the edges targeting a node.
// The returned slice must not be modified.
func (g *Graph) Incoming(nodeID string) []Edge {
	return g.incoming[nodeID]
}

// Outgoing returns the edges leaving a node.
// The returned slice must not be modified.
func (g *Graph) Outgoing(nodeID string) []Edge {
	return g.outgoing[nodeID]
}

// PortalOutputs returns the portal-output node ids registered for a key.
func (g *Graph) PortalOutputs(portalID string) []string {
	return g.portalOutputs[portalID]
}

// Entry selects the run's entry node: the single node whose type marks it
// as the designated start, else the unique non-portal node with zero
// incoming edges. More than one candidate, or none, is a fatal graph
// error.
func (g *Graph) Entry() (string, error) {
	var starts []string
	for id, n := range g.nodes {
		if n.Type == NodeTypeStart {
			starts = append(starts, id)
		}
	}
	if len(starts) == 1 {
		return starts[0], nil
	}
	if len(starts) > 1 {
		return "", &GraphError{Err: fmt.Errorf("%w: %d start nodes", ErrAmbiguousEntry, len(starts))}
	}

	var roots []string
	for id, n := range g.nodes {
		if n.Type == NodeTypePortalIn || n.Type == NodeTypePortalOut {
			continue
		}
		if len(g.incoming[id]) == 0 {
			roots = append(roots, id)
		}
	}
	switch len(roots) {
	case 1:
		return roots[0], nil
	case 0:
		return "", &GraphError{Err: ErrNoEntryNode}
	default:
		return "", &GraphError{Err: fmt.Errorf("%w: %d zero-indegree nodes", ErrAmbiguousEntry, len(roots))}
	}
}
