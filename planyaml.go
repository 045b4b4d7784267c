package layercake

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// yamlPlanDocument is the human-editable mirror of a Plan DAG that lives in
// Plan.YAMLContent. The DB rows (plan_dag_nodes/plan_dag_edges) remain the
// source of truth for execution; the YAML form exists so a plan can be
// reviewed, diffed, or hand-authored the way the rest of this stack's
// configuration is, and is kept in sync by the facade on every DAG mutation.
type yamlPlanDocument struct {
	Nodes []yamlPlanNode `yaml:"nodes"`
	Edges []yamlPlanEdge `yaml:"edges"`
}

type yamlPlanNode struct {
	ID       string         `yaml:"id"`
	Type     NodeType       `yaml:"type"`
	Position yamlPosition   `yaml:"position"`
	Config   map[string]any `yaml:"config,omitempty"`
	Metadata map[string]any `yaml:"metadata,omitempty"`
}

type yamlPosition struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

type yamlPlanEdge struct {
	ID       string         `yaml:"id"`
	Source   string         `yaml:"source"`
	Target   string         `yaml:"target"`
	Metadata map[string]any `yaml:"metadata,omitempty"`
}

// SerializePlanYAML renders a plan's current DAG as YAML.
func SerializePlanYAML(nodes []*PlanDagNode, edges []*PlanDagEdge) (string, error) {
	doc := yamlPlanDocument{}
	for _, n := range nodes {
		yn := yamlPlanNode{ID: n.ID, Type: n.NodeType, Position: yamlPosition{X: n.Position.X, Y: n.Position.Y}}
		if len(n.Config) > 0 {
			if err := json.Unmarshal(n.Config, &yn.Config); err != nil {
				return "", fmt.Errorf("decode node %s config: %w", n.ID, err)
			}
		}
		if len(n.Metadata) > 0 {
			if err := json.Unmarshal(n.Metadata, &yn.Metadata); err != nil {
				return "", fmt.Errorf("decode node %s metadata: %w", n.ID, err)
			}
		}
		doc.Nodes = append(doc.Nodes, yn)
	}
	for _, e := range edges {
		ye := yamlPlanEdge{ID: e.ID, Source: e.SourceNodeID, Target: e.TargetNodeID}
		if len(e.Metadata) > 0 {
			if err := json.Unmarshal(e.Metadata, &ye.Metadata); err != nil {
				return "", fmt.Errorf("decode edge %s metadata: %w", e.ID, err)
			}
		}
		doc.Edges = append(doc.Edges, ye)
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal plan yaml: %w", err)
	}
	return string(out), nil
}

// ParsePlanYAML reads a plan's YAML form back into DAG nodes/edges. PlanID
// is left zero-valued; the caller stamps it before persisting.
func ParsePlanYAML(content string) ([]*PlanDagNode, []*PlanDagEdge, error) {
	if content == "" {
		return nil, nil, nil
	}
	var doc yamlPlanDocument
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return nil, nil, fmt.Errorf("parse plan yaml: %w", err)
	}

	nodes := make([]*PlanDagNode, 0, len(doc.Nodes))
	for _, yn := range doc.Nodes {
		config, err := json.Marshal(yn.Config)
		if err != nil {
			return nil, nil, fmt.Errorf("encode node %s config: %w", yn.ID, err)
		}
		metadata, err := json.Marshal(yn.Metadata)
		if err != nil {
			return nil, nil, fmt.Errorf("encode node %s metadata: %w", yn.ID, err)
		}
		nodes = append(nodes, &PlanDagNode{
			ID:       yn.ID,
			NodeType: yn.Type,
			Position: Position{X: yn.Position.X, Y: yn.Position.Y},
			Config:   config,
			Metadata: metadata,
		})
	}

	edges := make([]*PlanDagEdge, 0, len(doc.Edges))
	for _, ye := range doc.Edges {
		metadata, err := json.Marshal(ye.Metadata)
		if err != nil {
			return nil, nil, fmt.Errorf("encode edge %s metadata: %w", ye.ID, err)
		}
		edges = append(edges, &PlanDagEdge{
			ID:           ye.ID,
			SourceNodeID: ye.Source,
			TargetNodeID: ye.Target,
			Metadata:     metadata,
		})
	}

	return nodes, edges, nil
}
