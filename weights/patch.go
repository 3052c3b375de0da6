// patch.go - Konfigurations-Patches fuer bekannte Upstream-Macken
//
// Diese Datei enthaelt:
// - PatchConfig: config.json/tokenizer_config.json vor dem Laden fixen
//
// Einige Modellfamilien liefern inkompatible Feldwerte aus (falscher
// model_type, falsche Tokenizer-Klasse). Der Patch ist idempotent und
// ueberspringt Dateien die er nicht sicher parsen kann, mit Warnung
// statt Fehler: der nachfolgende Load schlaegt dann regulaer fehl.
package weights

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
)

// Bekannte falsche model_type-Werte und ihre Korrekturen
var modelTypePatches = map[string]string{
	"ministral3": "mistral",
}

// Bekannte falsche Tokenizer-Klassen und ihre Korrekturen
var tokenizerClassPatches = map[string]string{
	"Ministral3Tokenizer": "LlamaTokenizerFast",
}

// PatchConfig wendet alle bekannten Patches auf ein Modellverzeichnis
// an. Bereits gepatchte Dateien werden erkannt und unveraendert
// gelassen.
func PatchConfig(modelPath string) {
	patchJSONField(filepath.Join(modelPath, "config.json"), "model_type", modelTypePatches)
	patchJSONField(filepath.Join(modelPath, "tokenizer_config.json"), "tokenizer_class", tokenizerClassPatches)
}

// patchJSONField ersetzt ein String-Feld falls sein Wert in der
// Patch-Tabelle steht. Schreibt nur bei tatsaechlicher Aenderung.
func patchJSONField(path, field string, patches map[string]string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		// Datei fehlt: nichts zu patchen
		return
	}

	var cfg map[string]any
	if err := json.Unmarshal(raw, &cfg); err != nil {
		slog.Warn("config patch skipped, file not parseable", "path", path, "error", err)
		return
	}

	current, ok := cfg[field].(string)
	if !ok {
		return
	}
	fixed, ok := patches[current]
	if !ok {
		return
	}

	cfg[field] = fixed
	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		slog.Warn("config patch skipped, marshal failed", "path", path, "error", err)
		return
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		slog.Warn("config patch skipped, write failed", "path", path, "error", err)
		return
	}
	slog.Info("patched model config", "path", path, "field", field, "from", current, "to", fixed)
}
