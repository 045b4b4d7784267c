package layercake

import "context"

// DatasetParser turns an uploaded file's bytes into graph content. §1 lists
// file-format parsers (CSV/XLSX/PDF/DOCX) among the deliberately external
// collaborators the core only references the contract of; this package
// never implements one, but Dataset ingest (CreateDatasetFromFile,
// BulkUploadDatasets, ReprocessDataset) depends on a configured parser.
type DatasetParser interface {
	Parse(ctx context.Context, format string, data []byte) ([]*GraphDataNode, []*GraphDataEdge, error)
}

// SpreadsheetCodec round-trips a dataset to and from a spreadsheet
// representation for the Dataset export_spreadsheet/import_spreadsheet
// operations (§6). Like DatasetParser, the concrete XLSX/CSV encoding is an
// external collaborator; this package only references its contract.
type SpreadsheetCodec interface {
	Encode(ctx context.Context, nodes []*GraphDataNode, edges []*GraphDataEdge) ([]byte, error)
	Decode(ctx context.Context, data []byte) ([]*GraphDataNode, []*GraphDataEdge, error)
}

// GraphRenderer previews a computed graph in an external presentation
// format (§6 `preview_export`). §1 names template-based exporters
// (Handlebars/DOT/Mermaid renderers) as out of scope for this core.
type GraphRenderer interface {
	Render(ctx context.Context, format string, nodes []*GraphDataNode, edges []*GraphDataEdge, renderConfig []byte) ([]byte, error)
}

// SetDatasetParser wires a DatasetParser implementation. Left nil, dataset
// ingest operations that need one fail with Validation rather than panic.
func (s *Service) SetDatasetParser(p DatasetParser) { s.parser = p }

// SetSpreadsheetCodec wires a SpreadsheetCodec implementation.
func (s *Service) SetSpreadsheetCodec(c SpreadsheetCodec) { s.spreadsheets = c }

// SetGraphRenderer wires a GraphRenderer implementation.
func (s *Service) SetGraphRenderer(r GraphRenderer) { s.renderer = r }

func (s *Service) requireParser() (DatasetParser, error) {
	if s.parser == nil {
		return nil, newValidationError("dataset_parser", "no DatasetParser configured")
	}
	return s.parser, nil
}

func (s *Service) requireSpreadsheetCodec() (SpreadsheetCodec, error) {
	if s.spreadsheets == nil {
		return nil, newValidationError("spreadsheet_codec", "no SpreadsheetCodec configured")
	}
	return s.spreadsheets, nil
}

func (s *Service) requireRenderer() (GraphRenderer, error) {
	if s.renderer == nil {
		return nil, newValidationError("graph_renderer", "no GraphRenderer configured")
	}
	return s.renderer, nil
}
