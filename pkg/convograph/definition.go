package convograph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Canonical handle names. Edges attach to named input/output slots on
// nodes; the builder maps common synonyms onto this small vocabulary and
// passes unrecognized names through verbatim, which keeps node-type
// specific dynamic handles (e.g. intent-routed outputs) working.
const (
	HandleContext = "context"
	HandleData    = "data"
	HandleTools   = "tools"
)

// Reserved node types recognized by the engine itself.
const (
	// NodeTypeStart marks the designated entry node.
	NodeTypeStart = "start"

	// NodeTypePortalIn and NodeTypePortalOut are the portal pair: two
	// non-adjacent subgraphs sharing a portal key behave as if directly
	// wired. Portal nodes are keyed by config "id".
	NodeTypePortalIn  = "portalIn"
	NodeTypePortalOut = "portalOut"
)

// FlowDefinition is the immutable input to a single execution run:
// a flat node and edge list, as authored in the flow editor.
type FlowDefinition struct {
	Nodes []Node `json:"nodes" yaml:"nodes"`
	Edges []Edge `json:"edges" yaml:"edges"`
}

// Node declares one step of the flow. Type discriminates behavior via the
// node registry; Config is opaque to the engine and handed to the node
// function as-is.
type Node struct {
	ID     string         `json:"id" yaml:"id"`
	Type   string         `json:"type" yaml:"type"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// Edge wires a named output of one node to a named input of another.
// SourceOutput and TargetInput hold canonicalized handle names once the
// graph is built.
type Edge struct {
	ID            string `json:"id" yaml:"id"`
	Source        string `json:"source" yaml:"source"`
	SourceOutput  string `json:"sourceHandle" yaml:"sourceHandle"`
	Target        string `json:"target" yaml:"target"`
	TargetInput   string `json:"targetHandle" yaml:"targetHandle"`
	IsContextEdge bool   `json:"isContextEdge,omitempty" yaml:"isContextEdge,omitempty"`
}

// handleSynonyms maps normalized handle spellings onto the canonical
// vocabulary.
var handleSynonyms = map[string]string{
	"context":    HandleContext,
	"ctx":        HandleContext,
	"contextin":  HandleContext,
	"contextout": HandleContext,
	"ctxin":      HandleContext,
	"ctxout":     HandleContext,
	"convo":      HandleContext,

	"data":    HandleData,
	"datain":  HandleData,
	"dataout": HandleData,
	"payload": HandleData,
	"value":   HandleData,

	"tools":    HandleTools,
	"tool":     HandleTools,
	"toolsin":  HandleTools,
	"toolsout": HandleTools,
	"toolset":  HandleTools,
}

// CanonicalHandle normalizes a handle name: whitespace and separator
// punctuation are stripped, case is folded, and known synonyms map to
// context/data/tools. Unrecognized names pass through trimmed but
// otherwise verbatim. An empty handle defaults to data.
func CanonicalHandle(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return HandleData
	}

	normalized := strings.ToLower(trimmed)
	normalized = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '-', '_', '.':
			return -1
		}
		return r
	}, normalized)

	if canonical, ok := handleSynonyms[normalized]; ok {
		return canonical
	}
	return trimmed
}

// nodeWire accepts both "type" and "nodeType" spellings for the node type.
type nodeWire struct {
	ID       string         `json:"id" yaml:"id"`
	Type     string         `json:"type" yaml:"type"`
	NodeType string         `json:"nodeType" yaml:"nodeType"`
	Config   map[string]any `json:"config" yaml:"config"`
}

type edgeWire struct {
	ID           string         `json:"id" yaml:"id"`
	Source       string         `json:"source" yaml:"source"`
	SourceHandle string         `json:"sourceHandle" yaml:"sourceHandle"`
	Target       string         `json:"target" yaml:"target"`
	TargetHandle string         `json:"targetHandle" yaml:"targetHandle"`
	Metadata     map[string]any `json:"metadata" yaml:"metadata"`
}

type definitionWire struct {
	Nodes []nodeWire `json:"nodes" yaml:"nodes"`
	Edges []edgeWire `json:"edges" yaml:"edges"`
}

func (w definitionWire) toDefinition() FlowDefinition {
	def := FlowDefinition{
		Nodes: make([]Node, 0, len(w.Nodes)),
		Edges: make([]Edge, 0, len(w.Edges)),
	}
	for _, n := range w.Nodes {
		nodeType := n.Type
		if nodeType == "" {
			nodeType = n.NodeType
		}
		def.Nodes = append(def.Nodes, Node{ID: n.ID, Type: nodeType, Config: n.Config})
	}
	for _, e := range w.Edges {
		edge := Edge{
			ID:           e.ID,
			Source:       e.Source,
			SourceOutput: e.SourceHandle,
			Target:       e.Target,
			TargetInput:  e.TargetHandle,
		}
		if v, ok := e.Metadata["isContextEdge"].(bool); ok {
			edge.IsContextEdge = v
		}
		def.Edges = append(def.Edges, edge)
	}
	return def
}

// LoadDefinition reads a flow definition from a file, auto-detecting the
// format by extension. Supported extensions: .yaml, .yml, .json
func LoadDefinition(path string) (FlowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FlowDefinition{}, fmt.Errorf("read flow definition: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return DefinitionFromYAML(data)
	case ".json":
		return DefinitionFromJSON(data)
	default:
		return FlowDefinition{}, fmt.Errorf("unsupported flow definition extension: %s", filepath.Ext(path))
	}
}

// DefinitionFromYAML parses a YAML flow definition.
func DefinitionFromYAML(data []byte) (FlowDefinition, error) {
	var w definitionWire
	if err := yaml.Unmarshal(data, &w); err != nil {
		return FlowDefinition{}, fmt.Errorf("parse yaml flow definition: %w", err)
	}
	return w.toDefinition(), nil
}

// DefinitionFromJSON parses a JSON flow definition.
func DefinitionFromJSON(data []byte) (FlowDefinition, error) {
	var w definitionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return FlowDefinition{}, fmt.Errorf("parse json flow definition: %w", err)
	}
	return w.toDefinition(), nil
}
