package layercake

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// PaletteStore is the Palette & Layer Resolver (§4.B): project-scoped layer
// display entries plus aliases that redirect one data-side layer id onto
// another palette entry's display attributes.
type PaletteStore struct {
	db *sql.DB
}

func NewPaletteStore(db *sql.DB) *PaletteStore {
	return &PaletteStore{db: db}
}

const queryListLayers = `
	SELECT id, project_id, layer_id, name, background_color, text_color,
	       border_color, alias, source_dataset_id, enabled
	FROM project_layers
	WHERE project_id = $1
	ORDER BY layer_id`

const queryGetLayer = `
	SELECT id, project_id, layer_id, name, background_color, text_color,
	       border_color, alias, source_dataset_id, enabled
	FROM project_layers
	WHERE project_id = $1 AND layer_id = $2`

const queryUpsertLayer = `
	INSERT INTO project_layers (
		project_id, layer_id, name, background_color, text_color,
		border_color, alias, source_dataset_id, enabled
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (project_id, layer_id) DO UPDATE SET
		name = EXCLUDED.name,
		background_color = EXCLUDED.background_color,
		text_color = EXCLUDED.text_color,
		border_color = EXCLUDED.border_color,
		alias = EXCLUDED.alias,
		source_dataset_id = EXCLUDED.source_dataset_id,
		enabled = EXCLUDED.enabled
	RETURNING id`

const queryListAliases = `
	SELECT id, project_id, alias_layer_id, target_layer_id
	FROM layer_aliases
	WHERE project_id = $1`

const queryInsertAlias = `
	INSERT INTO layer_aliases (project_id, alias_layer_id, target_layer_id)
	VALUES ($1, $2, $3)
	RETURNING id`

const queryDeleteAlias = `
	DELETE FROM layer_aliases WHERE project_id = $1 AND alias_layer_id = $2`

const queryDeleteLayer = `DELETE FROM project_layers WHERE project_id = $1 AND layer_id = $2`

// ListPalette returns every layer entry for a project, enabled or not, in
// layer_id order.
func (p *PaletteStore) ListPalette(ctx context.Context, projectID uuid.UUID) ([]*ProjectLayer, error) {
	rows, err := p.db.QueryContext(ctx, queryListLayers, projectID)
	if err != nil {
		return nil, fmt.Errorf("list palette: %w", err)
	}
	defer rows.Close()

	var layers []*ProjectLayer
	for rows.Next() {
		l, err := scanLayer(rows)
		if err != nil {
			return nil, err
		}
		layers = append(layers, l)
	}
	return layers, rows.Err()
}

// UpsertLayer creates or replaces one palette entry.
func (p *PaletteStore) UpsertLayer(ctx context.Context, l *ProjectLayer) error {
	row := p.db.QueryRowContext(ctx, queryUpsertLayer,
		l.ProjectID, l.LayerID, l.Name, l.BackgroundColor, l.TextColor,
		l.BorderColor, l.Alias, l.SourceDatasetID, l.Enabled)
	if err := row.Scan(&l.ID); err != nil {
		return fmt.Errorf("upsert layer %s: %w", l.LayerID, err)
	}
	return nil
}

// AddAlias redirects aliasLayerID's display onto targetLayerID's palette
// entry. targetLayerID must already exist as a project_layers.id; the
// caller resolves layer_id -> id via ListPalette/GetLayer first.
func (p *PaletteStore) AddAlias(ctx context.Context, projectID uuid.UUID, aliasLayerID string, targetLayerID uuid.UUID) (*LayerAlias, error) {
	a := &LayerAlias{ProjectID: projectID, AliasLayerID: aliasLayerID, TargetLayerID: targetLayerID}
	row := p.db.QueryRowContext(ctx, queryInsertAlias, projectID, aliasLayerID, targetLayerID)
	if err := row.Scan(&a.ID); err != nil {
		return nil, fmt.Errorf("add alias %s: %w", aliasLayerID, err)
	}
	return a, nil
}

// RemoveAlias deletes an alias, leaving the underlying data-side layer id to
// fall back to synthesized display attributes on next resolution.
func (p *PaletteStore) RemoveAlias(ctx context.Context, projectID uuid.UUID, aliasLayerID string) error {
	res, err := p.db.ExecContext(ctx, queryDeleteAlias, projectID, aliasLayerID)
	if err != nil {
		return fmt.Errorf("remove alias %s: %w", aliasLayerID, err)
	}
	return requireRowsAffected(res, "layer_alias", aliasLayerID)
}

// DeleteLayer removes one palette entry, leaving its layer id to fall back
// to alias resolution or synthesized display on next resolution.
func (p *PaletteStore) DeleteLayer(ctx context.Context, projectID uuid.UUID, layerID string) error {
	res, err := p.db.ExecContext(ctx, queryDeleteLayer, projectID, layerID)
	if err != nil {
		return fmt.Errorf("delete layer %s: %w", layerID, err)
	}
	return requireRowsAffected(res, "project_layer", layerID)
}

// ResolveLayers resolves display attributes for every distinct layer id
// observed across a set of loaded graphs, in the order described by §4.B:
//  1. a matching project_layers.layer_id entry wins outright;
//  2. otherwise a layer_aliases entry redirects onto its target entry;
//  3. otherwise a synthesized entry is produced so every layer id used in a
//     graph renders with *something*, never an error.
func (p *PaletteStore) ResolveLayers(ctx context.Context, projectID uuid.UUID, layerIDs []string) (map[string]LayerDisplay, error) {
	palette, err := p.ListPalette(ctx, projectID)
	if err != nil {
		return nil, err
	}
	byLayerID := make(map[string]*ProjectLayer, len(palette))
	byEntryID := make(map[uuid.UUID]*ProjectLayer, len(palette))
	for _, l := range palette {
		byLayerID[l.LayerID] = l
		byEntryID[l.ID] = l
	}

	rows, err := p.db.QueryContext(ctx, queryListAliases, projectID)
	if err != nil {
		return nil, fmt.Errorf("list aliases: %w", err)
	}
	defer rows.Close()
	aliases := make(map[string]uuid.UUID)
	for rows.Next() {
		var a LayerAlias
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.AliasLayerID, &a.TargetLayerID); err != nil {
			return nil, err
		}
		aliases[a.AliasLayerID] = a.TargetLayerID
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	resolved := make(map[string]LayerDisplay, len(layerIDs))
	for _, id := range layerIDs {
		if l, ok := byLayerID[id]; ok {
			resolved[id] = LayerDisplay{
				LayerID:         id,
				Label:           l.Name,
				BackgroundColor: l.BackgroundColor,
				TextColor:       l.TextColor,
				BorderColor:     l.BorderColor,
			}
			continue
		}
		if target, ok := aliases[id]; ok {
			if l, ok := byEntryID[target]; ok {
				resolved[id] = LayerDisplay{
					LayerID:         id,
					Label:           l.Name,
					BackgroundColor: l.BackgroundColor,
					TextColor:       l.TextColor,
					BorderColor:     l.BorderColor,
				}
				continue
			}
		}
		resolved[id] = synthesizeLayerDisplay(id)
	}
	return resolved, nil
}

// synthesizeLayerDisplay produces the fixed default display for a layer id
// that has no palette entry or alias (§4.B: label echoes the raw layer_id,
// colors default to #fff/#000/#000).
func synthesizeLayerDisplay(layerID string) LayerDisplay {
	return LayerDisplay{
		LayerID:         layerID,
		Label:           layerID,
		BackgroundColor: "#fff",
		TextColor:       "#000",
		BorderColor:     "#000",
		Synthesized:     true,
	}
}

func scanLayer(scanner interface{ Scan(dest ...any) error }) (*ProjectLayer, error) {
	var l ProjectLayer
	var alias sql.NullString
	var sourceDatasetID uuid.NullUUID
	err := scanner.Scan(
		&l.ID, &l.ProjectID, &l.LayerID, &l.Name, &l.BackgroundColor,
		&l.TextColor, &l.BorderColor, &alias, &sourceDatasetID, &l.Enabled,
	)
	if err != nil {
		return nil, err
	}
	if alias.Valid {
		l.Alias = &alias.String
	}
	if sourceDatasetID.Valid {
		id := sourceDatasetID.UUID
		l.SourceDatasetID = &id
	}
	return &l, nil
}
