// store_test.go - Unit Tests fuer den Settings-Store
package settings

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "settings.db"))
	if err != nil {
		t.Fatalf("Open fehlgeschlagen: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestSnapshotDefaults testet die Default-Werte eines frischen Stores
func TestSnapshotDefaults(t *testing.T) {
	s := openTestStore(t)

	snap, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot fehlgeschlagen: %v", err)
	}

	if snap.Generator.Section != "txt2img" {
		t.Errorf("Section = %q, erwartet txt2img", snap.Generator.Section)
	}
	if snap.Generator.Scale != 750 {
		t.Errorf("Scale = %d, erwartet 750", snap.Generator.Scale)
	}
	if !snap.Memory.AttentionSlicing {
		t.Error("AttentionSlicing sollte per Default aktiv sein")
	}
	if snap.ActiveGrid.Width != 512 || snap.ActiveGrid.Height != 512 {
		t.Errorf("ActiveGrid = %dx%d, erwartet 512x512", snap.ActiveGrid.Width, snap.ActiveGrid.Height)
	}
}

// TestUpdateRoundTrip testet Schreiben und erneutes Lesen
func TestUpdateRoundTrip(t *testing.T) {
	s := openTestStore(t)

	g := GeneratorSettings{
		Prompt:             "a painting of a fox",
		NegativePrompt:     "blurry",
		Steps:              30,
		Scale:              900,
		Seed:               1234,
		RandomSeed:         false,
		Model:              "sdxl-base",
		Scheduler:          "Euler a",
		Strength:           75,
		ImageGuidanceScale: 150,
		ClipSkip:           1,
		Section:            "img2img",
		Version:            "SDXL 1.0",
	}
	if err := s.UpdateGenerator(g); err != nil {
		t.Fatalf("UpdateGenerator fehlgeschlagen: %v", err)
	}

	snap, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot fehlgeschlagen: %v", err)
	}
	if diff := cmp.Diff(g, snap.Generator); diff != "" {
		t.Errorf("GeneratorSettings stimmen nicht ueberein (-want +got):\n%s", diff)
	}
}

// TestSnapshotIsolation testet dass ein Snapshot nach einem Update
// unveraendert bleibt
func TestSnapshotIsolation(t *testing.T) {
	s := openTestStore(t)

	before, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot fehlgeschlagen: %v", err)
	}

	g := before.Generator
	g.Prompt = "changed"
	if err := s.UpdateGenerator(g); err != nil {
		t.Fatalf("UpdateGenerator fehlgeschlagen: %v", err)
	}

	// Der alte Snapshot ist ein Wert und darf sich nicht aendern
	if before.Generator.Prompt == "changed" {
		t.Error("Snapshot wurde durch Update mutiert")
	}
}

// TestSchemaVersion testet die Schema-Versionierung
func TestSchemaVersion(t *testing.T) {
	s := openTestStore(t)

	v, err := s.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion fehlgeschlagen: %v", err)
	}
	if v != currentSchemaVersion {
		t.Errorf("SchemaVersion = %d, erwartet %d", v, currentSchemaVersion)
	}
}

// TestResolveModelByName testet Lookup und Tippfehler-Vorschlag
func TestResolveModelByName(t *testing.T) {
	s := openTestStore(t)

	m := AIModel{
		Name:           "sdxl-base",
		Path:           "/models/sdxl-base",
		Branch:         "main",
		Version:        "SDXL 1.0",
		Category:       "stablediffusion",
		PipelineAction: "txt2img",
		Enabled:        true,
		IsDefault:      true,
	}
	if err := s.UpsertModel(m); err != nil {
		t.Fatalf("UpsertModel fehlgeschlagen: %v", err)
	}

	got, err := s.ResolveModelByName("sdxl-base")
	if err != nil {
		t.Fatalf("ResolveModelByName fehlgeschlagen: %v", err)
	}
	if diff := cmp.Diff(m, got); diff != "" {
		t.Errorf("Modell stimmt nicht ueberein (-want +got):\n%s", diff)
	}

	// Tippfehler sollte Vorschlag liefern
	_, err = s.ResolveModelByName("sdxl-bsae")
	if !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("Erwartet ErrModelNotFound, erhalten %v", err)
	}
	if !strings.Contains(err.Error(), "sdxl-base") {
		t.Errorf("Fehlermeldung sollte Vorschlag enthalten: %v", err)
	}

	// Voellig fremder Name bekommt keinen Vorschlag
	_, err = s.ResolveModelByName("zzzzzzzzzzzzzzzz")
	if !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("Erwartet ErrModelNotFound, erhalten %v", err)
	}
	if strings.Contains(err.Error(), "did you mean") {
		t.Errorf("Kein Vorschlag erwartet: %v", err)
	}
}

// TestBackfill testet das Ergaenzen fehlender Modell-Felder
func TestBackfill(t *testing.T) {
	resolved := AIModel{
		Name:           "sdxl-base",
		Path:           "/models/sdxl-base",
		Branch:         "main",
		Version:        "SDXL 1.0",
		Category:       "stablediffusion",
		PipelineAction: "txt2img",
	}

	partial := AIModel{Name: "sdxl-base", Version: "custom"}
	Backfill(&partial, resolved)

	if partial.Path != resolved.Path {
		t.Errorf("Path = %q, erwartet %q", partial.Path, resolved.Path)
	}
	if partial.Version != "custom" {
		t.Errorf("Version = %q, gesetzte Felder duerfen nicht ueberschrieben werden", partial.Version)
	}
	if partial.Category != resolved.Category || partial.PipelineAction != resolved.PipelineAction {
		t.Error("Category/PipelineAction wurden nicht backfilled")
	}
}
