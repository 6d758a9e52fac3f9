package convograph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func simpleEdge(id, source, sourceOutput, target, targetInput string) Edge {
	return Edge{ID: id, Source: source, SourceOutput: sourceOutput, Target: target, TargetInput: targetInput}
}

// TestBuildGraph_Adjacency populates both maps with canonicalized
// handles.
func TestBuildGraph_Adjacency(t *testing.T) {
	g := BuildGraph(FlowDefinition{
		Nodes: []Node{{ID: "a", Type: "start"}, {ID: "b", Type: "llm"}},
		Edges: []Edge{simpleEdge("e1", "a", "contextOut", "b", "ctx")},
	})

	out := g.Outgoing("a")
	require.Len(t, out, 1)
	assert.Equal(t, HandleContext, out[0].SourceOutput)
	assert.Equal(t, HandleContext, out[0].TargetInput)

	in := g.Incoming("b")
	require.Len(t, in, 1)
	assert.Equal(t, "a", in[0].Source)
}

// TestBuildGraph_DropsMalformedEdges excludes edges missing an endpoint
// without failing the build.
func TestBuildGraph_DropsMalformedEdges(t *testing.T) {
	g := BuildGraph(FlowDefinition{
		Nodes: []Node{{ID: "a", Type: "start"}, {ID: "b", Type: "llm"}},
		Edges: []Edge{
			simpleEdge("ok", "a", "data", "b", "data"),
			simpleEdge("no-target", "a", "data", "", "data"),
			simpleEdge("no-source", "", "data", "b", "data"),
		},
	})

	assert.Len(t, g.Outgoing("a"), 1)
	assert.Len(t, g.Incoming("b"), 1)
}

// TestBuildGraph_Deduplicates collapses edges with identical endpoint and
// handle tuples.
func TestBuildGraph_Deduplicates(t *testing.T) {
	g := BuildGraph(FlowDefinition{
		Nodes: []Node{{ID: "a", Type: "start"}, {ID: "b", Type: "llm"}},
		Edges: []Edge{
			simpleEdge("e1", "a", "data", "b", "data"),
			simpleEdge("e2", "a", "data", "b", "data"),
		},
	})

	assert.Len(t, g.Outgoing("a"), 1)
}

// TestBuildGraph_PortalBridging cross-wires edges through a matching
// portal pair and drops the portal-touching edges.
func TestBuildGraph_PortalBridging(t *testing.T) {
	g := BuildGraph(FlowDefinition{
		Nodes: []Node{
			{ID: "a", Type: "llm"},
			{ID: "in", Type: NodeTypePortalIn, Config: map[string]any{"id": "p1"}},
			{ID: "out", Type: NodeTypePortalOut, Config: map[string]any{"id": "p1"}},
			{ID: "b", Type: "llm"},
		},
		Edges: []Edge{
			simpleEdge("e1", "a", "data", "in", "data"),
			simpleEdge("e2", "out", "data", "b", "data"),
		},
	})

	bridged := g.Outgoing("a")
	require.Len(t, bridged, 1)
	assert.Equal(t, "bridge:in=>out", bridged[0].ID)
	assert.Equal(t, "a", bridged[0].Source)
	assert.Equal(t, "b", bridged[0].Target)
	assert.Equal(t, HandleData, bridged[0].TargetInput)

	// Portal nodes keep no logical edges of their own.
	assert.Empty(t, g.Incoming("in"))
	assert.Empty(t, g.Outgoing("out"))

	assert.Equal(t, []string{"out"}, g.PortalOutputs("p1"))
}

// TestBuildGraph_PortalBridging_HandleMismatch: a payload entering on one
// handle never bridges to an exit on another.
func TestBuildGraph_PortalBridging_HandleMismatch(t *testing.T) {
	g := BuildGraph(FlowDefinition{
		Nodes: []Node{
			{ID: "a", Type: "llm"},
			{ID: "in", Type: NodeTypePortalIn, Config: map[string]any{"id": "p1"}},
			{ID: "out", Type: NodeTypePortalOut, Config: map[string]any{"id": "p1"}},
			{ID: "b", Type: "llm"},
		},
		Edges: []Edge{
			simpleEdge("e1", "a", "data", "in", "data"),
			simpleEdge("e2", "out", "context", "b", "context"),
		},
	})

	assert.Empty(t, g.Outgoing("a"))
	assert.Empty(t, g.Incoming("b"))
}

// TestBuildGraph_PortalBridging_ContextFlag: the bridge carries the union
// of the isContextEdge flags.
func TestBuildGraph_PortalBridging_ContextFlag(t *testing.T) {
	edgeIn := simpleEdge("e1", "a", "context", "in", "context")
	edgeIn.IsContextEdge = true

	g := BuildGraph(FlowDefinition{
		Nodes: []Node{
			{ID: "a", Type: "llm"},
			{ID: "in", Type: NodeTypePortalIn, Config: map[string]any{"id": "p1"}},
			{ID: "out", Type: NodeTypePortalOut, Config: map[string]any{"id": "p1"}},
			{ID: "b", Type: "llm"},
		},
		Edges: []Edge{
			edgeIn,
			simpleEdge("e2", "out", "context", "b", "context"),
		},
	})

	bridged := g.Outgoing("a")
	require.Len(t, bridged, 1)
	assert.True(t, bridged[0].IsContextEdge)
}

// TestGraph_Entry_StartNode prefers the designated start node.
func TestGraph_Entry_StartNode(t *testing.T) {
	g := BuildGraph(FlowDefinition{
		Nodes: []Node{
			{ID: "root", Type: "llm"},
			{ID: "entry", Type: NodeTypeStart},
		},
		Edges: []Edge{simpleEdge("e1", "entry", "data", "root", "data")},
	})

	entry, err := g.Entry()
	require.NoError(t, err)
	assert.Equal(t, "entry", entry)
}

// TestGraph_Entry_UniqueRoot falls back to the unique zero-indegree
// node.
func TestGraph_Entry_UniqueRoot(t *testing.T) {
	g := BuildGraph(FlowDefinition{
		Nodes: []Node{{ID: "a", Type: "llm"}, {ID: "b", Type: "llm"}},
		Edges: []Edge{simpleEdge("e1", "a", "data", "b", "data")},
	})

	entry, err := g.Entry()
	require.NoError(t, err)
	assert.Equal(t, "a", entry)
}

// TestGraph_Entry_IgnoresPortals: portal nodes never qualify as entry
// candidates.
func TestGraph_Entry_IgnoresPortals(t *testing.T) {
	g := BuildGraph(FlowDefinition{
		Nodes: []Node{
			{ID: "a", Type: "llm"},
			{ID: "b", Type: "llm"},
			{ID: "out", Type: NodeTypePortalOut, Config: map[string]any{"id": "p1"}},
		},
		Edges: []Edge{simpleEdge("e1", "a", "data", "b", "data")},
	})

	entry, err := g.Entry()
	require.NoError(t, err)
	assert.Equal(t, "a", entry)
}

// TestGraph_Entry_NoCandidate fails with the sentinel.
func TestGraph_Entry_NoCandidate(t *testing.T) {
	g := BuildGraph(FlowDefinition{
		Nodes: []Node{{ID: "a", Type: "llm"}, {ID: "b", Type: "llm"}},
		Edges: []Edge{
			simpleEdge("e1", "a", "data", "b", "data"),
			simpleEdge("e2", "b", "data", "a", "data"),
		},
	})

	_, err := g.Entry()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoEntryNode)
	var graphErr *GraphError
	assert.ErrorAs(t, err, &graphErr)
}

// TestGraph_Entry_Ambiguous fails when several roots qualify.
func TestGraph_Entry_Ambiguous(t *testing.T) {
	g := BuildGraph(FlowDefinition{
		Nodes: []Node{{ID: "a", Type: "llm"}, {ID: "b", Type: "llm"}, {ID: "c", Type: "llm"}},
		Edges: []Edge{
			simpleEdge("e1", "a", "data", "c", "data"),
			simpleEdge("e2", "b", "data", "c", "data"),
		},
	})

	_, err := g.Entry()
	assert.ErrorIs(t, err, ErrAmbiguousEntry)
}

// TestGraph_Entry_MultipleStarts is ambiguous too.
func TestGraph_Entry_MultipleStarts(t *testing.T) {
	g := BuildGraph(FlowDefinition{
		Nodes: []Node{{ID: "a", Type: NodeTypeStart}, {ID: "b", Type: NodeTypeStart}},
	})

	_, err := g.Entry()
	assert.ErrorIs(t, err, ErrAmbiguousEntry)
}

// TestGraph_NodeByID looks nodes up by id.
func TestGraph_NodeByID(t *testing.T) {
	g := BuildGraph(FlowDefinition{
		Nodes: []Node{{ID: "a", Type: "llm", Config: map[string]any{"k": "v"}}},
	})

	n, ok := g.NodeByID("a")
	require.True(t, ok)
	assert.Equal(t, "llm", n.Type)

	_, ok = g.NodeByID("missing")
	assert.False(t, ok)
}
