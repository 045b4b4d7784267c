package layercake

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// StoryStore owns Story and Sequence CRUD. Stories and Sequences hold weak
// references to datasets/graphs (§3.2): deleting a referenced graph never
// cascades here, which is exactly what the Verifier (§4.G) exists to
// detect.
type StoryStore struct {
	db *sql.DB
}

func NewStoryStore(db *sql.DB) *StoryStore {
	return &StoryStore{db: db}
}

const queryInsertStory = `
	INSERT INTO stories (project_id, name) VALUES ($1, $2)
	RETURNING id, created_at, updated_at`

const queryGetStory = `
	SELECT id, project_id, name, created_at, updated_at FROM stories WHERE id = $1`

const queryListStoriesForProject = `
	SELECT id, project_id, name, created_at, updated_at FROM stories
	WHERE project_id = $1 ORDER BY created_at`

const queryDeleteStory = `DELETE FROM stories WHERE id = $1`

const queryInsertSequence = `
	INSERT INTO sequences (story_id, name, enabled_dataset_ids, edge_order)
	VALUES ($1, $2, $3, $4)
	RETURNING id, created_at, updated_at`

const queryListSequencesForStory = `
	SELECT id, story_id, name, enabled_dataset_ids, edge_order, created_at, updated_at
	FROM sequences WHERE story_id = $1 ORDER BY created_at`

const queryUpdateSequence = `
	UPDATE sequences SET name = $2, enabled_dataset_ids = $3, edge_order = $4, updated_at = NOW()
	WHERE id = $1`

const queryDeleteSequence = `DELETE FROM sequences WHERE id = $1`

// CreateStory inserts a new Story.
func (s *StoryStore) CreateStory(ctx context.Context, story *Story) error {
	row := s.db.QueryRowContext(ctx, queryInsertStory, story.ProjectID, story.Name)
	if err := row.Scan(&story.ID, &story.CreatedAt, &story.UpdatedAt); err != nil {
		return fmt.Errorf("create story: %w", err)
	}
	return nil
}

// GetStory loads a Story by id.
func (s *StoryStore) GetStory(ctx context.Context, id uuid.UUID) (*Story, error) {
	row := s.db.QueryRowContext(ctx, queryGetStory, id)
	var story Story
	err := row.Scan(&story.ID, &story.ProjectID, &story.Name, &story.CreatedAt, &story.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, newNotFoundError("story", id.String())
	}
	if err != nil {
		return nil, err
	}
	return &story, nil
}

// ListStories returns every Story belonging to a project.
func (s *StoryStore) ListStories(ctx context.Context, projectID uuid.UUID) ([]*Story, error) {
	rows, err := s.db.QueryContext(ctx, queryListStoriesForProject, projectID)
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	defer rows.Close()

	var stories []*Story
	for rows.Next() {
		var story Story
		if err := rows.Scan(&story.ID, &story.ProjectID, &story.Name, &story.CreatedAt, &story.UpdatedAt); err != nil {
			return nil, err
		}
		stories = append(stories, &story)
	}
	return stories, rows.Err()
}

// DeleteStory removes a Story and, via FK cascade, its Sequences.
func (s *StoryStore) DeleteStory(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, queryDeleteStory, id)
	if err != nil {
		return fmt.Errorf("delete story: %w", err)
	}
	return requireRowsAffected(res, "story", id.String())
}

// CreateSequence inserts a new Sequence under a Story.
func (s *StoryStore) CreateSequence(ctx context.Context, seq *Sequence) error {
	edgeOrder, err := json.Marshal(seq.EdgeOrder)
	if err != nil {
		return fmt.Errorf("marshal edge_order: %w", err)
	}
	row := s.db.QueryRowContext(ctx, queryInsertSequence, seq.StoryID, seq.Name, pq.Array(uuidStrings(seq.EnabledDatasetIDs)), edgeOrder)
	if err := row.Scan(&seq.ID, &seq.CreatedAt, &seq.UpdatedAt); err != nil {
		return fmt.Errorf("create sequence: %w", err)
	}
	return nil
}

// ListSequences returns every Sequence belonging to a Story.
func (s *StoryStore) ListSequences(ctx context.Context, storyID uuid.UUID) ([]*Sequence, error) {
	rows, err := s.db.QueryContext(ctx, queryListSequencesForStory, storyID)
	if err != nil {
		return nil, fmt.Errorf("list sequences: %w", err)
	}
	defer rows.Close()

	var sequences []*Sequence
	for rows.Next() {
		seq, err := scanSequence(rows)
		if err != nil {
			return nil, err
		}
		sequences = append(sequences, seq)
	}
	return sequences, rows.Err()
}

// UpdateSequence overwrites a Sequence's mutable fields.
func (s *StoryStore) UpdateSequence(ctx context.Context, seq *Sequence) error {
	edgeOrder, err := json.Marshal(seq.EdgeOrder)
	if err != nil {
		return fmt.Errorf("marshal edge_order: %w", err)
	}
	res, err := s.db.ExecContext(ctx, queryUpdateSequence, seq.ID, seq.Name, pq.Array(uuidStrings(seq.EnabledDatasetIDs)), edgeOrder)
	if err != nil {
		return fmt.Errorf("update sequence: %w", err)
	}
	return requireRowsAffected(res, "sequence", seq.ID.String())
}

// DeleteSequence removes a single Sequence.
func (s *StoryStore) DeleteSequence(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, queryDeleteSequence, id)
	if err != nil {
		return fmt.Errorf("delete sequence: %w", err)
	}
	return requireRowsAffected(res, "sequence", id.String())
}

func scanSequence(scanner interface{ Scan(dest ...any) error }) (*Sequence, error) {
	var seq Sequence
	var enabledIDs pq.StringArray
	var edgeOrderRaw []byte
	if err := scanner.Scan(&seq.ID, &seq.StoryID, &seq.Name, &enabledIDs, &edgeOrderRaw, &seq.CreatedAt, &seq.UpdatedAt); err != nil {
		return nil, err
	}
	ids, err := parseUUIDs(enabledIDs)
	if err != nil {
		return nil, err
	}
	seq.EnabledDatasetIDs = ids
	if len(edgeOrderRaw) > 0 {
		if err := json.Unmarshal(edgeOrderRaw, &seq.EdgeOrder); err != nil {
			return nil, fmt.Errorf("unmarshal edge_order: %w", err)
		}
	}
	return &seq, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, len(raw))
	for i, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("parse uuid %q: %w", s, err)
		}
		out[i] = id
	}
	return out, nil
}
