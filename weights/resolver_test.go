// resolver_test.go - Unit Tests fuer die Gewichts-Aufloesung
package weights

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// writeTestSafetensors schreibt eine minimale Safetensors-Datei mit
// einem F32-Tensor
func writeTestSafetensors(t *testing.T, path string, values []float32) {
	t.Helper()
	data := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	tensors := map[string]tensorMeta{
		"weight": {DType: "F32", Shape: []int64{int64(len(values))}, Offsets: [2]int64{0, int64(len(data))}},
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Testdatei anlegen fehlgeschlagen: %v", err)
	}
	defer f.Close()
	if err := writeSafetensors(f, tensors, nil, data); err != nil {
		t.Fatalf("Safetensors schreiben fehlgeschlagen: %v", err)
	}
}

// writeModelDir legt ein Modellverzeichnis mit config.json und einer
// Gewichtsdatei an
func writeModelDir(t *testing.T, dir string, diffusion bool) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("Modellverzeichnis anlegen fehlgeschlagen: %v", err)
	}
	config := []byte(`{"model_type": "llama", "max_position_embeddings": 4096}`)
	if err := os.WriteFile(filepath.Join(dir, "config.json"), config, 0o644); err != nil {
		t.Fatalf("config.json schreiben fehlgeschlagen: %v", err)
	}
	if diffusion {
		index := []byte(`{"_class_name": "StableDiffusionPipeline"}`)
		if err := os.WriteFile(filepath.Join(dir, "model_index.json"), index, 0o644); err != nil {
			t.Fatalf("model_index.json schreiben fehlgeschlagen: %v", err)
		}
	}
	writeTestSafetensors(t, filepath.Join(dir, "model.safetensors"), []float32{0, 1, 2, 3})
}

// TestResolveFull testet dass full-Praezision nie den Cache beruehrt
func TestResolveFull(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "llama")
	writeModelDir(t, dir, false)

	loc, err := NewResolver().Resolve(context.Background(), dir, DTypeFull)
	if err != nil {
		t.Fatalf("Resolve fehlgeschlagen: %v", err)
	}
	if loc.Path != dir {
		t.Errorf("Path = %q, erwartet %q", loc.Path, dir)
	}
	if loc.Quant != nil {
		t.Error("full-Praezision darf keine Quantisierungskonfiguration tragen")
	}
	if _, ok := loc.LoadKwargs()["quantization_config"]; ok {
		t.Error("LoadKwargs darf bei full keinen quantization_config-Key enthalten")
	}
}

// TestQuantizedCacheIdempotence testet den Kern-Invariant: erster
// Aufruf quantisiert und persistiert genau einmal, zweiter Aufruf
// trifft den Cache und haengt keine Konfiguration mehr an
func TestQuantizedCacheIdempotence(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "llama")
	writeModelDir(t, dir, false)

	r := NewResolver()
	persists := 0
	base := r.persist
	r.persist = func(src, dst string) error {
		persists++
		return base(src, dst)
	}

	// Erster Aufruf: Miss, Original-Pfad mit Quantisierung
	loc, err := r.Resolve(context.Background(), dir, DType4Bit)
	if err != nil {
		t.Fatalf("Resolve fehlgeschlagen: %v", err)
	}
	if loc.CacheHit {
		t.Error("erster Aufruf darf kein Cache-Treffer sein")
	}
	if loc.Quant == nil || !loc.Quant.LoadIn4Bit || loc.Quant.QuantType != "nf4" {
		t.Errorf("Quant = %+v, erwartet nf4 4bit-Konfiguration", loc.Quant)
	}

	cacheDir := dir + "_4bit_quantized"
	if !ValidCache(cacheDir, FamilyTransformer) {
		t.Fatal("Cache-Verzeichnis fehlt oder unvollstaendig nach erstem Aufruf")
	}

	// Zweiter Aufruf: Treffer ohne erneute Persistierung
	loc, err = r.Resolve(context.Background(), dir, DType4Bit)
	if err != nil {
		t.Fatalf("Resolve fehlgeschlagen: %v", err)
	}
	if !loc.CacheHit {
		t.Error("zweiter Aufruf muss ein Cache-Treffer sein")
	}
	if loc.Path != cacheDir {
		t.Errorf("Path = %q, erwartet %q", loc.Path, cacheDir)
	}
	if loc.Quant != nil {
		t.Error("Cache-Treffer darf keine Quantisierungskonfiguration tragen")
	}
	if _, ok := loc.LoadKwargs()["quantization_config"]; ok {
		t.Error("LoadKwargs darf beim Treffer keinen quantization_config-Key enthalten")
	}
	if persists != 1 {
		t.Errorf("persist-Aufrufe = %d, erwartet genau 1", persists)
	}
}

// TestPartialCacheIsMiss testet dass unvollstaendige Verzeichnisse
// als Miss behandelt werden, nicht als Fehler
func TestPartialCacheIsMiss(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "llama")
	writeModelDir(t, dir, false)

	// Nur config.json, keine Gewichte: korrupt
	cacheDir := dir + "_8bit_quantized"
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cacheDir, "config.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if ValidCache(cacheDir, FamilyTransformer) {
		t.Error("Verzeichnis ohne Gewichtsdatei darf kein gueltiger Cache sein")
	}

	loc, err := NewResolver().Resolve(context.Background(), dir, DType8Bit)
	if err != nil {
		t.Fatalf("Resolve fehlgeschlagen: %v", err)
	}
	if loc.CacheHit {
		t.Error("unvollstaendiger Cache darf nicht getroffen werden")
	}
	if loc.Quant == nil || !loc.Quant.LoadIn8Bit {
		t.Errorf("Quant = %+v, erwartet 8bit-Konfiguration", loc.Quant)
	}
}

// TestDiffusionCacheSuffix testet das historische 4bit-Suffix fuer
// Diffusion-Modelle unabhaengig vom DType
func TestDiffusionCacheSuffix(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sdxl")
	writeModelDir(t, dir, true)

	if got := CacheDir(dir, DType8Bit, FamilyDiffusion); got != dir+"_4bit_quantized" {
		t.Errorf("CacheDir = %q, erwartet 4bit-Suffix", got)
	}

	r := NewResolver()
	loc, err := r.Resolve(context.Background(), dir, DType4Bit)
	if err != nil {
		t.Fatalf("Resolve fehlgeschlagen: %v", err)
	}
	if loc.Family != FamilyDiffusion {
		t.Errorf("Family = %q, erwartet diffusion", loc.Family)
	}
	if !ValidCache(dir+"_4bit_quantized", FamilyDiffusion) {
		t.Error("Diffusion-Cache fehlt nach erstem Aufruf")
	}
}

// TestMissingWeights testet Download-Hook und Fehlerpfad
func TestMissingWeights(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing")

	_, err := NewResolver().Resolve(context.Background(), missing, DTypeFull)
	if !errors.Is(err, ErrWeightsMissing) {
		t.Errorf("Erwartet ErrWeightsMissing, erhalten %v", err)
	}

	// Download-Hook beschafft die Gewichte, danach genau ein Retry
	r := NewResolver()
	downloads := 0
	r.Download = func(ctx context.Context, path string) error {
		downloads++
		writeModelDir(t, path, false)
		return nil
	}
	loc, err := r.Resolve(context.Background(), missing, DTypeFull)
	if err != nil {
		t.Fatalf("Resolve nach Download fehlgeschlagen: %v", err)
	}
	if loc.Path != missing {
		t.Errorf("Path = %q, erwartet %q", loc.Path, missing)
	}
	if downloads != 1 {
		t.Errorf("Download-Aufrufe = %d, erwartet 1", downloads)
	}
}

// TestParseDType testet die DType-Validierung
func TestParseDType(t *testing.T) {
	for _, valid := range []string{"full", "8bit", "4bit"} {
		if _, err := ParseDType(valid); err != nil {
			t.Errorf("ParseDType(%q) fehlgeschlagen: %v", valid, err)
		}
	}
	if _, err := ParseDType("16bit"); err == nil {
		t.Error("ParseDType(16bit) sollte fehlschlagen")
	}
}
