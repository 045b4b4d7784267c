package layercake

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/google/uuid"
)

// ArchiveCodec is the Project Archive Codec (§4.I): a ZIP-based,
// deterministic export/import of a complete Project. It uses only
// archive/zip and encoding/json from the standard library — the archive
// format is this service's own contract, not an interchange with any
// third-party system, so there is no ecosystem library whose job this is.
type ArchiveCodec struct {
	projects *ProjectStore
	store    *Store
	palette  *PaletteStore
	plans    *PlanStore
	stories  *StoryStore
}

func NewArchiveCodec(projects *ProjectStore, store *Store, palette *PaletteStore, plans *PlanStore, stories *StoryStore) *ArchiveCodec {
	return &ArchiveCodec{projects: projects, store: store, palette: palette, plans: plans, stories: stories}
}

type archiveProjectHeader struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

type archiveDataSet struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	FileFormat *string          `json:"file_format,omitempty"`
	Origin     *string          `json:"origin,omitempty"`
	Filename   *string          `json:"filename,omitempty"`
	FileSize   *int64           `json:"file_size,omitempty"`
	Metadata   json.RawMessage  `json:"metadata,omitempty"`
	Nodes      []*GraphDataNode `json:"nodes"`
	Edges      []*GraphDataEdge `json:"edges"`
}

// importedDataset pairs a dataset's parsed archive JSON with its blob
// bytes, read once during Import's first dataset pass and reused by the
// second pass so the zip entry isn't decoded twice.
type importedDataset struct {
	ds   archiveDataSet
	blob []byte
}

type archivePalette struct {
	Layers  []*ProjectLayer `json:"layers"`
	Aliases []*LayerAlias   `json:"aliases"`
}

type archivePlan struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	YAMLContent string `json:"yaml_content"`
	Status      string `json:"status"`
}

type archiveDag struct {
	Nodes []*PlanDagNode `json:"nodes"`
	Edges []*PlanDagEdge `json:"edges"`
}

type archiveStories struct {
	Stories   []*Story    `json:"stories"`
	Sequences []*Sequence `json:"sequences"`
}

// Export reads every §4.I section for a project and writes a ZIP with a
// fixed directory layout and deterministic member ordering, so archive
// bytes are reproducible for equal input content.
func (c *ArchiveCodec) Export(ctx context.Context, projectID uuid.UUID) ([]byte, error) {
	proj, err := c.projects.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	if err := writeJSONEntry(zw, "project.json", archiveProjectHeader{Name: proj.Name, Description: proj.Description, Tags: proj.Tags}); err != nil {
		return nil, err
	}

	datasetHeaders, err := c.listDatasetHeaders(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for _, h := range datasetHeaders {
		_, nodes, edges, err := c.store.LoadFull(ctx, h.ID)
		if err != nil {
			return nil, err
		}
		ds := archiveDataSet{ID: h.ID.String(), Name: h.Name, FileFormat: h.FileFormat, Origin: h.Origin, Filename: h.Filename, FileSize: h.FileSize, Metadata: h.Metadata, Nodes: nodes, Edges: edges}
		if err := writeJSONEntry(zw, fmt.Sprintf("data_sets/%s.json", h.ID), ds); err != nil {
			return nil, err
		}
		if len(h.Blob) > 0 {
			if err := writeRawEntry(zw, fmt.Sprintf("data_sets/%s.blob", h.ID), h.Blob); err != nil {
				return nil, err
			}
		}
	}

	layers, err := c.palette.ListPalette(ctx, projectID)
	if err != nil {
		return nil, err
	}
	aliases, err := c.listAliases(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if err := writeJSONEntry(zw, "layers/palette.json", archivePalette{Layers: layers, Aliases: aliases}); err != nil {
		return nil, err
	}

	plans, err := c.plans.ListPlans(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for _, plan := range plans {
		if err := writeJSONEntry(zw, fmt.Sprintf("plans/%s.json", plan.ID), archivePlan{ID: plan.ID.String(), Name: plan.Name, YAMLContent: plan.YAMLContent, Status: plan.Status}); err != nil {
			return nil, err
		}
		_, nodes, edges, err := c.plans.LoadDAG(ctx, plan.ID)
		if err != nil {
			return nil, err
		}
		if err := writeJSONEntry(zw, fmt.Sprintf("plans/%s/dag.json", plan.ID), archiveDag{Nodes: nodes, Edges: edges}); err != nil {
			return nil, err
		}
	}

	stories, err := c.stories.ListStories(ctx, projectID)
	if err != nil {
		return nil, err
	}
	var allSequences []*Sequence
	for _, story := range stories {
		seqs, err := c.stories.ListSequences(ctx, story.ID)
		if err != nil {
			return nil, err
		}
		allSequences = append(allSequences, seqs...)
	}
	if err := writeJSONEntry(zw, "stories/stories.json", archiveStories{Stories: stories, Sequences: allSequences}); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	return buf.Bytes(), nil
}

// idRemap tracks old->new IDs allocated during import, keyed by entity
// kind, so pass 2 can rewrite every cross-reference before any row is
// inserted.
type idRemap struct {
	projects map[string]uuid.UUID
	datasets map[string]uuid.UUID
	plans    map[string]uuid.UUID
	dagNodes map[string]string
	layers   map[string]uuid.UUID
}

func newIDRemap() *idRemap {
	return &idRemap{
		projects: map[string]uuid.UUID{},
		datasets: map[string]uuid.UUID{},
		plans:    map[string]uuid.UUID{},
		dagNodes: map[string]string{},
		layers:   map[string]uuid.UUID{},
	}
}

// Import reads a ZIP built by Export and inserts a brand new Project from
// it. Pass 1 allocates fresh IDs for every project-scoped entity; pass 2
// rewrites cross-references using those maps before inserting. Any error
// rolls back every insert made so far (import is transactional at the
// project level): on failure the newly created project is deleted.
func (c *ArchiveCodec) Import(ctx context.Context, data []byte) (projectID uuid.UUID, err error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return uuid.Nil, fmt.Errorf("open archive: %w", err)
	}
	files := indexZipFiles(zr)

	var header archiveProjectHeader
	if err := readJSONEntry(files, "project.json", &header); err != nil {
		return uuid.Nil, err
	}

	remap := newIDRemap()
	newProject := &Project{Name: header.Name, Description: header.Description, Tags: header.Tags}
	if err := c.projects.Create(ctx, newProject); err != nil {
		return uuid.Nil, err
	}
	projectID = newProject.ID

	rollback := func(cause error) (uuid.UUID, error) {
		c.projects.Delete(ctx, projectID)
		return uuid.Nil, cause
	}

	datasetFiles := matchingEntries(files, "data_sets/", ".json")
	imported := make(map[string]*importedDataset, len(datasetFiles))
	for _, name := range datasetFiles {
		oldID := idFromPath(name, "data_sets/", ".json")
		var ds archiveDataSet
		if err := readJSONEntry(files, name, &ds); err != nil {
			return rollback(err)
		}
		var blob []byte
		if f, ok := files[fmt.Sprintf("data_sets/%s.blob", oldID)]; ok {
			b, err := readRawEntry(f)
			if err != nil {
				return rollback(err)
			}
			blob = b
		}
		imported[oldID] = &importedDataset{ds: ds, blob: blob}

		newHeader, err := c.store.CreateHeader(ctx, HeaderSpec{
			ProjectID:  projectID,
			Name:       ds.Name,
			SourceType: SourceTypeDataset,
			Status:     StatusActive,
			FileFormat: ds.FileFormat,
			Origin:     ds.Origin,
			Filename:   ds.Filename,
			FileSize:   ds.FileSize,
			Blob:       blob,
			Metadata:   ds.Metadata,
		})
		if err != nil {
			return rollback(err)
		}
		remap.datasets[oldID] = newHeader.ID
	}

	var planFiles []string
	for name := range files {
		if len(name) > len("plans/") && name[:len("plans/")] == "plans/" && name[len(name)-5:] == ".json" && !hasDagSuffix(name) {
			planFiles = append(planFiles, name)
		}
	}
	sort.Strings(planFiles)
	for _, name := range planFiles {
		oldID := idFromPath(name, "plans/", ".json")
		var ap archivePlan
		if err := readJSONEntry(files, name, &ap); err != nil {
			return rollback(err)
		}
		newPlan := &Plan{ProjectID: projectID, Name: ap.Name, YAMLContent: ap.YAMLContent, Status: ap.Status}
		if err := c.plans.CreatePlan(ctx, newPlan); err != nil {
			return rollback(err)
		}
		remap.plans[oldID] = newPlan.ID
	}

	var dag archiveDag
	for _, name := range planFiles {
		oldPlanID := idFromPath(name, "plans/", ".json")
		dagPath := fmt.Sprintf("plans/%s/dag.json", oldPlanID)
		dag = archiveDag{}
		if err := readJSONEntry(files, dagPath, &dag); err != nil {
			return rollback(err)
		}
		for _, n := range dag.Nodes {
			remap.dagNodes[n.ID] = n.ID // DAG node ids are stable strings; remapped only if collision policy requires it
		}
	}

	var palette archivePalette
	if err := readJSONEntry(files, "layers/palette.json", &palette); err != nil {
		return rollback(err)
	}
	for _, l := range palette.Layers {
		oldID := l.ID.String()
		l.ID = uuid.Nil
		l.ProjectID = projectID
		if l.SourceDatasetID != nil {
			if newID, ok := remap.datasets[l.SourceDatasetID.String()]; ok {
				l.SourceDatasetID = &newID
			}
		}
		if err := c.palette.UpsertLayer(ctx, l); err != nil {
			return rollback(err)
		}
		remap.layers[oldID] = l.ID
	}
	for _, a := range palette.Aliases {
		target := a.TargetLayerID
		if newID, ok := remap.layers[a.TargetLayerID.String()]; ok {
			target = newID
		}
		if _, err := c.palette.AddAlias(ctx, projectID, a.AliasLayerID, target); err != nil {
			return rollback(err)
		}
	}

	// Pass 2: reinsert dataset content + plan DAGs with rewritten cross-references.
	// Dataset JSON/blob bytes were already read during the header-creation
	// pass above; reuse them instead of decoding the zip entries again.
	for _, name := range datasetFiles {
		oldID := idFromPath(name, "data_sets/", ".json")
		ds := imported[oldID].ds
		newDatasetID := remap.datasets[oldID]
		for _, n := range ds.Nodes {
			n.GraphDataID = newDatasetID
			n.SourceDatasetID = nil
		}
		for _, e := range ds.Edges {
			e.GraphDataID = newDatasetID
			e.SourceDatasetID = nil
		}
		if err := c.store.ReplaceNodes(ctx, newDatasetID, ds.Nodes); err != nil {
			return rollback(err)
		}
		if err := c.store.ReplaceEdges(ctx, newDatasetID, ds.Edges, ReplaceEdgesOptions{AllowDangling: true}); err != nil {
			return rollback(err)
		}
	}

	for _, name := range planFiles {
		oldPlanID := idFromPath(name, "plans/", ".json")
		newPlanID := remap.plans[oldPlanID]
		dagPath := fmt.Sprintf("plans/%s/dag.json", oldPlanID)
		var d archiveDag
		if err := readJSONEntry(files, dagPath, &d); err != nil {
			return rollback(err)
		}
		for _, n := range d.Nodes {
			n.PlanID = newPlanID
			n.Config = rewriteDataSetRefs(n.Config, remap.datasets)
			if err := c.plans.UpsertNode(ctx, n); err != nil {
				return rollback(err)
			}
		}
		for _, e := range d.Edges {
			e.PlanID = newPlanID
			if err := c.plans.UpsertEdge(ctx, e); err != nil {
				return rollback(err)
			}
		}
	}

	var stories archiveStories
	if err := readJSONEntry(files, "stories/stories.json", &stories); err != nil {
		return rollback(err)
	}
	storyRemap := map[string]uuid.UUID{}
	for _, s := range stories.Stories {
		oldID := s.ID.String()
		s.ID = uuid.Nil
		s.ProjectID = projectID
		if err := c.stories.CreateStory(ctx, s); err != nil {
			return rollback(err)
		}
		storyRemap[oldID] = s.ID
	}
	for _, seq := range stories.Sequences {
		newStoryID, ok := storyRemap[seq.StoryID.String()]
		if !ok {
			return rollback(newIntegrityViolationError("sequence_references_unknown_story", nil))
		}
		seq.StoryID = newStoryID
		for i, dsID := range seq.EnabledDatasetIDs {
			if newID, ok := remap.datasets[dsID.String()]; ok {
				seq.EnabledDatasetIDs[i] = newID
			}
		}
		for i, ref := range seq.EdgeOrder {
			if newID, ok := remap.datasets[ref.DatasetID.String()]; ok {
				seq.EdgeOrder[i].DatasetID = newID
			}
		}
		seq.ID = uuid.Nil
		if err := c.stories.CreateSequence(ctx, seq); err != nil {
			return rollback(err)
		}
	}

	return projectID, nil
}

func (c *ArchiveCodec) listDatasetHeaders(ctx context.Context, projectID uuid.UUID) ([]*GraphData, error) {
	rows, err := c.store.db.QueryContext(ctx, `
		SELECT id FROM graph_data WHERE project_id = $1 AND source_type = 'dataset' ORDER BY id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list dataset headers: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var headers []*GraphData
	for _, id := range ids {
		h, err := c.store.GetHeader(ctx, id)
		if err != nil {
			return nil, err
		}
		headers = append(headers, h)
	}
	return headers, nil
}

func (c *ArchiveCodec) listAliases(ctx context.Context, projectID uuid.UUID) ([]*LayerAlias, error) {
	rows, err := c.store.db.QueryContext(ctx, queryListAliases, projectID)
	if err != nil {
		return nil, fmt.Errorf("list aliases: %w", err)
	}
	defer rows.Close()

	var aliases []*LayerAlias
	for rows.Next() {
		var a LayerAlias
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.AliasLayerID, &a.TargetLayerID); err != nil {
			return nil, err
		}
		aliases = append(aliases, &a)
	}
	return aliases, rows.Err()
}

func rewriteDataSetRefs(config json.RawMessage, datasets map[string]uuid.UUID) json.RawMessage {
	var generic map[string]any
	if err := json.Unmarshal(config, &generic); err != nil {
		return config
	}
	if v, ok := generic["dataSetId"].(string); ok {
		if newID, ok := datasets[v]; ok {
			generic["dataSetId"] = newID.String()
		}
	}
	if v, ok := generic["graphDataIds"].([]any); ok {
		for i, raw := range v {
			if s, ok := raw.(string); ok {
				if newID, ok := datasets[s]; ok {
					v[i] = newID.String()
				}
			}
		}
		generic["graphDataIds"] = v
	}
	rewritten, err := json.Marshal(generic)
	if err != nil {
		return config
	}
	return rewritten
}

func writeJSONEntry(zw *zip.Writer, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	return writeRawEntry(zw, name, data)
}

func writeRawEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return fmt.Errorf("create entry %s: %w", name, err)
	}
	_, err = w.Write(data)
	return err
}

func indexZipFiles(zr *zip.Reader) map[string]*zip.File {
	out := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		out[f.Name] = f
	}
	return out
}

func readJSONEntry(files map[string]*zip.File, name string, v any) error {
	f, ok := files[name]
	if !ok {
		return newIntegrityViolationError("missing_archive_entry:"+name, nil)
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w", name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("read entry %s: %w", name, err)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func readRawEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read entry %s: %w", f.Name, err)
	}
	return data, nil
}

func matchingEntries(files map[string]*zip.File, prefix, suffix string) []string {
	var out []string
	for name := range files {
		if len(name) > len(prefix)+len(suffix) && name[:len(prefix)] == prefix && name[len(name)-len(suffix):] == suffix {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func hasDagSuffix(name string) bool {
	return len(name) > len("/dag.json") && name[len(name)-len("/dag.json"):] == "/dag.json"
}

func idFromPath(name, prefix, suffix string) string {
	return name[len(prefix) : len(name)-len(suffix)]
}
