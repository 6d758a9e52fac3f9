package convograph

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCanonicalHandle maps synonyms onto the canonical vocabulary and
// passes unrecognized names through verbatim.
func TestCanonicalHandle(t *testing.T) {
	testCases := []struct {
		name string
		in   string
		want string
	}{
		{"plain context", "context", HandleContext},
		{"ctx synonym", "ctx", HandleContext},
		{"context out", "context-out", HandleContext},
		{"spaced and cased", "  Context_In ", HandleContext},
		{"data", "data", HandleData},
		{"payload synonym", "payload", HandleData},
		{"data out dotted", "data.out", HandleData},
		{"tools", "tools", HandleTools},
		{"tool singular", "Tool", HandleTools},
		{"empty defaults to data", "", HandleData},
		{"whitespace defaults to data", "   ", HandleData},
		{"dynamic intent handle", "bookFlight", "bookFlight"},
		{"dynamic handle trimmed", "  bookFlight ", "bookFlight"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CanonicalHandle(tc.in))
		})
	}
}

// TestDefinitionFromYAML accepts both type spellings and edge metadata.
func TestDefinitionFromYAML(t *testing.T) {
	def, err := DefinitionFromYAML([]byte(`
nodes:
  - id: entry
    type: start
  - id: respond
    nodeType: llm
    config:
      stream: true
edges:
  - id: e1
    source: entry
    sourceHandle: contextOut
    target: respond
    targetHandle: ctx
    metadata:
      isContextEdge: true
`))
	require.NoError(t, err)

	require.Len(t, def.Nodes, 2)
	assert.Equal(t, "start", def.Nodes[0].Type)
	assert.Equal(t, "llm", def.Nodes[1].Type)
	assert.Equal(t, true, def.Nodes[1].Config["stream"])

	require.Len(t, def.Edges, 1)
	assert.Equal(t, "contextOut", def.Edges[0].SourceOutput)
	assert.True(t, def.Edges[0].IsContextEdge)
}

// TestDefinitionFromJSON parses the editor's JSON export shape.
func TestDefinitionFromJSON(t *testing.T) {
	def, err := DefinitionFromJSON([]byte(`{
		"nodes": [{"id": "a", "type": "start"}],
		"edges": [{"id": "e", "source": "a", "sourceHandle": "data", "target": "b", "targetHandle": "data"}]
	}`))
	require.NoError(t, err)
	assert.Len(t, def.Nodes, 1)
	assert.Len(t, def.Edges, 1)
}

// TestDefinitionFromYAML_Invalid surfaces parse errors.
func TestDefinitionFromYAML_Invalid(t *testing.T) {
	_, err := DefinitionFromYAML([]byte("nodes: [unclosed"))
	assert.Error(t, err)
}

// TestLoadDefinition detects the format by extension.
func TestLoadDefinition(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("nodes:\n  - id: a\n    type: start\n"), 0o644))

	def, err := LoadDefinition(path)
	require.NoError(t, err)
	assert.Len(t, def.Nodes, 1)

	_, err = LoadDefinition(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "flow.toml")
	require.NoError(t, os.WriteFile(bad, []byte(""), 0o644))
	_, err = LoadDefinition(bad)
	assert.Error(t, err)
}
