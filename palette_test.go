package layercake

import "testing"

func TestSynthesizeLayerDisplayDeterministic(t *testing.T) {
	a := synthesizeLayerDisplay("layer-x")
	b := synthesizeLayerDisplay("layer-x")
	if a != b {
		t.Fatalf("expected synthesizeLayerDisplay to be pure/deterministic, got %+v vs %+v", a, b)
	}
	if !a.Synthesized {
		t.Fatal("expected synthesized display to be flagged Synthesized")
	}
	if a.LayerID != "layer-x" || a.Label != "layer-x" {
		t.Fatalf("expected fallback label/layerID to echo the layer ID, got %+v", a)
	}
}

func TestSynthesizeLayerDisplayDefaultColors(t *testing.T) {
	a := synthesizeLayerDisplay("layer-x")
	b := synthesizeLayerDisplay("layer-y")
	if a.BackgroundColor != "#fff" || a.TextColor != "#000" || a.BorderColor != "#000" {
		t.Fatalf("expected fixed default colors (#fff/#000/#000), got %+v", a)
	}
	if a.BackgroundColor != b.BackgroundColor || a.TextColor != b.TextColor || a.BorderColor != b.BorderColor {
		t.Fatalf("expected every unresolved layer id to share the same default colors, got %+v vs %+v", a, b)
	}
}
