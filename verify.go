package layercake

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Verifier is the Projection & Story Verifier (§4.G): it confirms that a
// Story's narrated edge references still resolve against a projection's
// recomputed graph content.
type Verifier struct {
	store    *Store
	projects *ProjectStore
}

func NewVerifier(store *Store, projects *ProjectStore) *Verifier {
	return &Verifier{store: store, projects: projects}
}

// SequenceSelection narrows verification to one story's enabled sequences.
// A nil EnabledSequenceIDs means "verify every sequence belonging to this story".
type SequenceSelection struct {
	StoryID            uuid.UUID
	EnabledSequenceIDs []uuid.UUID
}

// MissingReference is one edge_order entry that no longer resolves.
type MissingReference struct {
	StoryID    uuid.UUID
	SequenceID uuid.UUID
	DatasetID  uuid.UUID
	EdgeID     string
}

// VerifyResult is the Verifier's report.
type VerifyResult struct {
	Success            bool
	MissingPerSequence map[uuid.UUID][]MissingReference
}

// Verify loads the projection's computed graph edges, builds a
// (source_dataset_id, external_id) hash set, and checks every selected
// sequence's edge_order against it. Every story referenced must belong to
// the projection's project, or the whole call fails with
// Validation(cross_project_reference) before any sequence is checked.
func (v *Verifier) Verify(ctx context.Context, projection *Projection, stories []*Story, sequencesByStory map[uuid.UUID][]*Sequence, selections []SequenceSelection) (*VerifyResult, error) {
	storyByID := make(map[uuid.UUID]*Story, len(stories))
	for _, s := range stories {
		if s.ProjectID != projection.ProjectID {
			return nil, newValidationError("cross_project_reference", s.ID.String())
		}
		storyByID[s.ID] = s
	}

	_, _, edges, err := v.store.LoadFull(ctx, projection.GraphID)
	if err != nil {
		return nil, fmt.Errorf("load projection graph: %w", err)
	}
	known := make(map[edgeRefKey]bool, len(edges))
	for _, e := range edges {
		if e.SourceDatasetID == nil {
			continue
		}
		known[edgeRefKey{*e.SourceDatasetID, e.ExternalID}] = true
	}

	result := &VerifyResult{Success: true, MissingPerSequence: make(map[uuid.UUID][]MissingReference)}

	for _, sel := range selections {
		story, ok := storyByID[sel.StoryID]
		if !ok {
			return nil, newValidationError("cross_project_reference", sel.StoryID.String())
		}
		sequences := sequencesByStory[story.ID]
		enabled := toUUIDSet(sel.EnabledSequenceIDs)

		for _, seq := range sequences {
			if enabled != nil && !enabled[seq.ID] {
				continue
			}
			for _, ref := range seq.EdgeOrder {
				if !known[edgeRefKey{ref.DatasetID, ref.EdgeID}] {
					result.Success = false
					result.MissingPerSequence[seq.ID] = append(result.MissingPerSequence[seq.ID], MissingReference{
						StoryID:    story.ID,
						SequenceID: seq.ID,
						DatasetID:  ref.DatasetID,
						EdgeID:     ref.EdgeID,
					})
				}
			}
		}
	}

	return result, nil
}

type edgeRefKey struct {
	datasetID uuid.UUID
	edgeID    string
}

func toUUIDSet(ids []uuid.UUID) map[uuid.UUID]bool {
	if ids == nil {
		return nil
	}
	m := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}
