package layercake

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
)

// ComputeSourceHash derives a deterministic content hash for a computed
// GraphData from the hashes of its topologically-ordered upstream inputs
// plus its own node type and config (§4.D). Two Plan DAG nodes with
// identical config and identically-hashed upstream inputs always produce
// the same hash, which is what memoization in the executor keys off of.
//
// inputHashes must already be in the node's declared input order (stable,
// not sorted) — order is part of the content being hashed, since e.g. a
// Merge node's result depends on which upstream graph is "first" under
// ConflictPreferFirst.
func ComputeSourceHash(nodeType NodeType, config json.RawMessage, inputHashes []string) (string, error) {
	canonicalConfig, err := canonicalizeJSON(config)
	if err != nil {
		return "", fmt.Errorf("canonicalize node config: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(nodeType))
	h.Write([]byte{0})
	h.Write(canonicalConfig)
	for _, ih := range inputHashes {
		h.Write([]byte{0})
		h.Write([]byte(ih))
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// canonicalizeJSON re-marshals arbitrary JSON with map keys sorted, so
// structurally identical config with differently-ordered object keys
// hashes identically. json.Marshal on a map[string]any already sorts keys;
// this normalizes nested maps by round-tripping through any.
func canonicalizeJSON(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return []byte("null"), nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.Marshal(sortedValue(v))
}

// datasetContentNode/datasetContentEdge carry only the fields that define a
// row's content, for ComputeDatasetContentHash. Row id, graph_data_id and
// created_at are excluded: they differ across re-ingests of equivalent data
// and would otherwise bust every downstream DataSet/Graph node's memoization.
type datasetContentNode struct {
	ExternalID  string          `json:"externalId"`
	Label       *string         `json:"label,omitempty"`
	Layer       *string         `json:"layer,omitempty"`
	Weight      *float64        `json:"weight,omitempty"`
	IsPartition bool            `json:"isPartition,omitempty"`
	BelongsTo   *string         `json:"belongsTo,omitempty"`
	Comment     *string         `json:"comment,omitempty"`
	Attributes  json.RawMessage `json:"attributes,omitempty"`
}

type datasetContentEdge struct {
	ExternalID string          `json:"externalId"`
	Source     string          `json:"source"`
	Target     string          `json:"target"`
	Label      *string         `json:"label,omitempty"`
	Layer      *string         `json:"layer,omitempty"`
	Weight     *float64        `json:"weight,omitempty"`
	Comment    *string         `json:"comment,omitempty"`
	Attributes json.RawMessage `json:"attributes,omitempty"`
}

// ComputeDatasetContentHash derives a content hash for a dataset header's
// current rows. §3.1 reserves source_hash for computed rows that completed
// a successful execution, so dataset headers never persist one; DataSet and
// Graph nodes instead hash their referenced dataset's content fresh, at the
// moment the executor resolves it as an upstream, so that re-ingesting
// equivalent content into the same header still hits the memoization cache.
// A new header has a new id, which changes the referencing node's config
// and therefore its source hash.
func ComputeDatasetContentHash(nodes []*GraphDataNode, edges []*GraphDataEdge) (string, error) {
	cn := make([]datasetContentNode, len(nodes))
	for i, n := range nodes {
		cn[i] = datasetContentNode{
			ExternalID:  n.ExternalID,
			Label:       n.Label,
			Layer:       n.Layer,
			Weight:      n.Weight,
			IsPartition: n.IsPartition,
			BelongsTo:   n.BelongsTo,
			Comment:     n.Comment,
			Attributes:  n.Attributes,
		}
	}
	sort.Slice(cn, func(i, j int) bool { return cn[i].ExternalID < cn[j].ExternalID })

	ce := make([]datasetContentEdge, len(edges))
	for i, e := range edges {
		ce[i] = datasetContentEdge{
			ExternalID: e.ExternalID,
			Source:     e.Source,
			Target:     e.Target,
			Label:      e.Label,
			Layer:      e.Layer,
			Weight:     e.Weight,
			Comment:    e.Comment,
			Attributes: e.Attributes,
		}
	}
	sort.Slice(ce, func(i, j int) bool { return ce[i].ExternalID < ce[j].ExternalID })

	payload, err := json.Marshal(struct {
		Nodes []datasetContentNode `json:"nodes"`
		Edges []datasetContentEdge `json:"edges"`
	}{cn, ce})
	if err != nil {
		return "", fmt.Errorf("marshal dataset content: %w", err)
	}
	canonical, err := canonicalizeJSON(payload)
	if err != nil {
		return "", fmt.Errorf("canonicalize dataset content: %w", err)
	}
	h := sha256.New()
	h.Write(canonical)
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// sortedValue recursively normalizes map key order for deterministic
// encoding/json output. Slices retain their original order, since sequence
// is semantically meaningful (e.g. Filter rule groups, edge order).
func sortedValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out[k] = sortedValue(t[k])
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = sortedValue(e)
		}
		return out
	default:
		return t
	}
}
