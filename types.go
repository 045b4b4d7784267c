// Package layercake implements the core of a multi-tenant service for
// building, transforming, and materializing layered property graphs.
package layercake

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SourceType distinguishes an uploaded dataset from a Plan-DAG-computed graph.
type SourceType string

const (
	SourceTypeDataset  SourceType = "dataset"
	SourceTypeComputed SourceType = "computed"
)

// GraphDataStatus is the processing lifecycle of a GraphData header.
type GraphDataStatus string

const (
	StatusPending    GraphDataStatus = "pending"
	StatusProcessing GraphDataStatus = "processing"
	StatusActive     GraphDataStatus = "active"
	StatusError      GraphDataStatus = "error"
)

// NodeType is the tagged variant of a Plan DAG node (§3.1, §9 "polymorphism
// of Plan DAG nodes"). Builders switch on this; it is never modeled as an
// inheritance hierarchy.
type NodeType string

const (
	NodeTypeDataSet          NodeType = "DataSet"
	NodeTypeGraph            NodeType = "Graph"
	NodeTypeMerge            NodeType = "Merge"
	NodeTypeTransform        NodeType = "Transform"
	NodeTypeFilter           NodeType = "Filter"
	NodeTypeGraphArtefact    NodeType = "GraphArtefact"
	NodeTypeTreeArtefact     NodeType = "TreeArtefact"
	NodeTypeProjection       NodeType = "Projection"
	NodeTypeStory            NodeType = "Story"
	NodeTypeSequenceArtefact NodeType = "SequenceArtefact"
)

// EditTargetType is what a GraphEdit mutates.
type EditTargetType string

const (
	EditTargetNode  EditTargetType = "node"
	EditTargetEdge  EditTargetType = "edge"
	EditTargetLayer EditTargetType = "layer"
)

// EditOperation is the kind of mutation a GraphEdit records.
type EditOperation string

const (
	EditOpUpdate EditOperation = "update"
	EditOpInsert EditOperation = "insert"
	EditOpDelete EditOperation = "delete"
)

// MergeStrategy controls how a Merge node combines upstream graphs.
type MergeStrategy string

const (
	MergeUnion        MergeStrategy = "Union"
	MergeIntersection MergeStrategy = "Intersection"
	MergeDifference   MergeStrategy = "Difference"
)

// ConflictResolution controls how a Merge node resolves key collisions.
type ConflictResolution string

const (
	ConflictPreferFirst ConflictResolution = "PreferFirst"
	ConflictPreferLast  ConflictResolution = "PreferLast"
	ConflictError       ConflictResolution = "Error"
)

// FilterCombinator joins a Filter node's rule group.
type FilterCombinator string

const (
	CombinatorAnd FilterCombinator = "and"
	CombinatorOr  FilterCombinator = "or"
)

// FilterMode selects whether matching rows are kept or dropped.
type FilterMode string

const (
	FilterInclude FilterMode = "include"
	FilterExclude FilterMode = "exclude"
)

// LinkPruningMode controls what happens to edges incident to a node removed
// by a Filter or by edit replay's node.delete.
type LinkPruningMode string

const (
	LinkRetainEdges  LinkPruningMode = "retainEdges"
	LinkDropOrphans  LinkPruningMode = "dropOrphans"
	LinkDropIncident LinkPruningMode = "dropIncident"
)

// Position is a Plan DAG node's canvas position.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Project is the top-level tenant-scoped container. Deleting a Project
// cascades to every entity below it.
type Project struct {
	ID          uuid.UUID
	Name        string
	Description string
	Tags        []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// GraphData is the unified header row for both datasets and computed
// graphs (§3.1, §9 "legacy graphs table is deprecated").
type GraphData struct {
	ID                 uuid.UUID
	ProjectID          uuid.UUID
	Name               string
	SourceType         SourceType
	DagNodeID          *string
	Status             GraphDataStatus
	SourceHash         *string
	ComputedDate       *time.Time
	NodeCount          int
	EdgeCount          int
	LastEditSequence   int64
	HasPendingEdits    bool
	LastReplayAt       *time.Time
	FileFormat         *string
	Origin             *string
	Filename           *string
	FileSize           *int64
	Blob               []byte
	Metadata           json.RawMessage
	Annotations        json.RawMessage
	ErrorMessage       *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// GraphDataNode is a node row owned by a GraphData header.
type GraphDataNode struct {
	ID              uuid.UUID
	GraphDataID     uuid.UUID
	ExternalID      string
	Label           *string
	Layer           *string
	Weight          *float64
	IsPartition     bool
	BelongsTo       *string
	Comment         *string
	SourceDatasetID *uuid.UUID
	Attributes      json.RawMessage
	CreatedAt       time.Time
}

// GraphDataEdge is an edge row owned by a GraphData header. Source/Target
// reference ExternalID values within the same GraphData.
type GraphDataEdge struct {
	ID              uuid.UUID
	GraphDataID     uuid.UUID
	ExternalID      string
	Source          string
	Target          string
	Label           *string
	Layer           *string
	Weight          *float64
	Comment         *string
	SourceDatasetID *uuid.UUID
	Attributes      json.RawMessage
	CreatedAt       time.Time
}

// ProjectLayer is a project-scoped palette entry.
type ProjectLayer struct {
	ID              uuid.UUID
	ProjectID       uuid.UUID
	LayerID         string
	Name            string
	BackgroundColor string
	TextColor       string
	BorderColor     string
	Alias           *string
	SourceDatasetID *uuid.UUID
	Enabled         bool
}

// LayerAlias indirects one data layer id onto another palette entry.
type LayerAlias struct {
	ID            uuid.UUID
	ProjectID     uuid.UUID
	AliasLayerID  string
	TargetLayerID uuid.UUID
}

// LayerDisplay is the resolved rendering attributes for a layer id.
type LayerDisplay struct {
	LayerID         string
	Label           string
	BackgroundColor string
	TextColor       string
	BorderColor     string
	Synthesized     bool
}

// Plan owns a Plan DAG.
type Plan struct {
	ID           uuid.UUID
	ProjectID    uuid.UUID
	Name         string
	YAMLContent  string
	Status       string
	Dependencies json.RawMessage
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PlanDagNode is one typed node in a Plan DAG. Config is a JSON tagged
// variant interpreted per NodeType by the builder in builders.go.
type PlanDagNode struct {
	ID        string
	PlanID    uuid.UUID
	NodeType  NodeType
	Position  Position
	Metadata  json.RawMessage
	Config    json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PlanDagEdge is a directed edge in a Plan DAG.
type PlanDagEdge struct {
	ID           string
	PlanID       uuid.UUID
	SourceNodeID string
	TargetNodeID string
	Metadata     json.RawMessage
}

// GraphEdit is one append-only entry in a graph's edit log (§4.C).
type GraphEdit struct {
	ID             uuid.UUID
	GraphDataID    uuid.UUID
	SequenceNumber int64
	TargetType     EditTargetType
	TargetID       string
	Operation      EditOperation
	Field          *string
	OldValue       json.RawMessage
	NewValue       json.RawMessage
	Applied        bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Projection names a rendering configuration bound to a computed graph.
type Projection struct {
	ID             uuid.UUID
	ProjectID      uuid.UUID
	GraphID        uuid.UUID
	Name           string
	ProjectionType string
	SettingsJSON   json.RawMessage
	StateJSON      json.RawMessage
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Story groups one or more Sequences that narrate a path through a project's
// graphs, independent of any single computed-graph instance.
type Story struct {
	ID        uuid.UUID
	ProjectID uuid.UUID
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EdgeOrderEntry references a narrated edge by dataset-relative identity so
// it survives graph recomputation (§3.1).
type EdgeOrderEntry struct {
	DatasetID    uuid.UUID `json:"dataset_id"`
	EdgeID       string    `json:"edge_id"`
	Note         *string   `json:"note,omitempty"`
	NotePosition *int      `json:"note_position,omitempty"`
}

// Sequence is an ordered set of edge references within a Story.
type Sequence struct {
	ID                uuid.UUID
	StoryID           uuid.UUID
	Name              string
	EnabledDatasetIDs []uuid.UUID
	EdgeOrder         []EdgeOrderEntry
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ActorKind distinguishes human actors from system-initiated operations
// (e.g. scheduled sweeps).
type ActorKind string

const (
	ActorUser   ActorKind = "user"
	ActorSystem ActorKind = "system"
)

// Actor identifies who is invoking a Service method, for the authorization
// check every mutation runs before touching storage (§4.J).
type Actor struct {
	Kind ActorKind
	ID   string
	// Roles maps a project id to the actor's role within it ("owner",
	// "editor", "viewer"). A system actor bypasses role checks.
	Roles map[uuid.UUID]string
}

// IsSystem reports whether this actor is the system (bypasses authorization).
func (a Actor) IsSystem() bool { return a.Kind == ActorSystem }
