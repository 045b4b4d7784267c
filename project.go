package layercake

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ProjectStore owns Project CRUD and cascade delete. A Project exclusively
// owns every GraphData, Plan, ProjectLayer, LayerAlias, Story and Sequence
// beneath it (§3.2); deletion relies on FK ON DELETE CASCADE from those
// tables to projects.id.
type ProjectStore struct {
	db *sql.DB
}

func NewProjectStore(db *sql.DB) *ProjectStore {
	return &ProjectStore{db: db}
}

const queryInsertProject = `
	INSERT INTO projects (name, description, tags)
	VALUES ($1, $2, $3)
	RETURNING id, created_at, updated_at`

const queryGetProject = `
	SELECT id, name, description, tags, created_at, updated_at
	FROM projects WHERE id = $1`

const queryListProjects = `
	SELECT id, name, description, tags, created_at, updated_at
	FROM projects ORDER BY created_at DESC`

const queryUpdateProject = `
	UPDATE projects SET name = $2, description = $3, tags = $4, updated_at = NOW()
	WHERE id = $1`

const queryDeleteProject = `DELETE FROM projects WHERE id = $1`

// Create inserts a new Project.
func (p *ProjectStore) Create(ctx context.Context, proj *Project) error {
	row := p.db.QueryRowContext(ctx, queryInsertProject, proj.Name, proj.Description, pq.Array(proj.Tags))
	if err := row.Scan(&proj.ID, &proj.CreatedAt, &proj.UpdatedAt); err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

// Get loads one Project by id.
func (p *ProjectStore) Get(ctx context.Context, id uuid.UUID) (*Project, error) {
	row := p.db.QueryRowContext(ctx, queryGetProject, id)
	proj, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, newNotFoundError("project", id.String())
	}
	if err != nil {
		return nil, err
	}
	return proj, nil
}

// List returns every Project, most recently created first.
func (p *ProjectStore) List(ctx context.Context) ([]*Project, error) {
	rows, err := p.db.QueryContext(ctx, queryListProjects)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		proj, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, proj)
	}
	return projects, rows.Err()
}

// Update overwrites a Project's name/description/tags.
func (p *ProjectStore) Update(ctx context.Context, proj *Project) error {
	res, err := p.db.ExecContext(ctx, queryUpdateProject, proj.ID, proj.Name, proj.Description, pq.Array(proj.Tags))
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return requireRowsAffected(res, "project", proj.ID.String())
}

// Delete removes a Project and, via FK cascade, everything beneath it.
func (p *ProjectStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := p.db.ExecContext(ctx, queryDeleteProject, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return requireRowsAffected(res, "project", id.String())
}

func scanProject(scanner interface{ Scan(dest ...any) error }) (*Project, error) {
	var proj Project
	var tags pq.StringArray
	if err := scanner.Scan(&proj.ID, &proj.Name, &proj.Description, &tags, &proj.CreatedAt, &proj.UpdatedAt); err != nil {
		return nil, err
	}
	proj.Tags = []string(tags)
	return &proj, nil
}
