package layercake

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
)

func TestRewriteDataSetRefsRewritesScalarAndArray(t *testing.T) {
	oldID := "old-ds-1"
	newID := uuid.New()
	datasets := map[string]uuid.UUID{oldID: newID}

	cfg, _ := json.Marshal(map[string]any{
		"dataSetId":    oldID,
		"graphDataIds": []string{oldID, "untouched"},
		"other":        "value",
	})

	out := rewriteDataSetRefs(cfg, datasets)

	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("unmarshal rewritten config: %v", err)
	}
	if decoded["dataSetId"] != newID.String() {
		t.Fatalf("expected dataSetId rewritten to %s, got %v", newID, decoded["dataSetId"])
	}
	ids, ok := decoded["graphDataIds"].([]any)
	if !ok || len(ids) != 2 {
		t.Fatalf("expected graphDataIds array of 2, got %v", decoded["graphDataIds"])
	}
	if ids[0] != newID.String() {
		t.Fatalf("expected first graphDataIds entry rewritten, got %v", ids[0])
	}
	if ids[1] != "untouched" {
		t.Fatalf("expected unrelated id left untouched, got %v", ids[1])
	}
	if decoded["other"] != "value" {
		t.Fatalf("expected unrelated fields preserved, got %v", decoded["other"])
	}
}

func TestRewriteDataSetRefsPassesThroughInvalidJSON(t *testing.T) {
	raw := json.RawMessage(`not json`)
	out := rewriteDataSetRefs(raw, map[string]uuid.UUID{})
	if string(out) != string(raw) {
		t.Fatalf("expected non-object config to pass through unchanged, got %s", out)
	}
}

func TestHasDagSuffix(t *testing.T) {
	cases := map[string]bool{
		"plans/p1/dag.json": true,
		"plans/p1.json":     false,
		"dag.json":          false,
	}
	for name, want := range cases {
		if got := hasDagSuffix(name); got != want {
			t.Fatalf("hasDagSuffix(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestIdFromPath(t *testing.T) {
	got := idFromPath("data_sets/abc123.json", "data_sets/", ".json")
	if got != "abc123" {
		t.Fatalf("idFromPath = %q, want abc123", got)
	}
}

func TestMatchingEntries(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range []string{"data_sets/a.json", "data_sets/b.json", "layers/palette.json"} {
		if err := writeRawEntry(zw, name, []byte("{}")); err != nil {
			t.Fatalf("writeRawEntry: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zw.Close: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("zip.NewReader: %v", err)
	}
	files := indexZipFiles(zr)

	got := matchingEntries(files, "data_sets/", ".json")
	want := []string{"data_sets/a.json", "data_sets/b.json"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("matchingEntries = %v, want %v", got, want)
	}
}
