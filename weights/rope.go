// rope.go - YaRN-Kontextverlaengerung ueber RoPE-Skalierung
//
// Diese Datei enthaelt:
// - ExtendContext: Skalierungsfaktor berechnen und ins config.json
//   injizieren
//
// Der Faktor ist Zielkontext geteilt durch nativen Kontext. Modelle
// ohne deklarierte YaRN-Unterstuetzung werden nie ueber ihr natives
// Fenster hinaus verlaengert.
package weights

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ErrContextNotSupported meldet dass das Modell keine
// Kontextverlaengerung deklariert
var ErrContextNotSupported = errors.New("model does not declare extended context support")

// ExtendContext injiziert eine YaRN-RoPE-Skalierung fuer den
// Zielkontext in das config.json des Modells. Gibt zurueck ob die
// Konfiguration geaendert wurde.
//
// Ein Ziel unterhalb des nativen Fensters ist ein No-op. Deklariert
// das Modell einen maximalen Faktor, wird das Ziel darauf gekappt.
func ExtendContext(modelPath string, target int) (bool, error) {
	configPath := filepath.Join(modelPath, "config.json")
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return false, fmt.Errorf("read model config: %w", err)
	}

	var cfg map[string]any
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return false, fmt.Errorf("parse model config: %w", err)
	}

	native := intField(cfg, "max_position_embeddings")
	if native <= 0 {
		return false, fmt.Errorf("model config declares no max_position_embeddings")
	}

	// Bereits verlaengerte Configs tragen das native Fenster im
	// rope_scaling-Block
	scaling, _ := cfg["rope_scaling"].(map[string]any)
	if scaling != nil {
		if orig := intField(scaling, "original_max_position_embeddings"); orig > 0 {
			native = orig
		}
	}

	if target <= native {
		return false, nil
	}
	if scaling == nil {
		return false, fmt.Errorf("%w: %s", ErrContextNotSupported, modelPath)
	}
	scalingType, _ := scaling["type"].(string)
	if scalingType != "yarn" {
		return false, fmt.Errorf("%w: rope_scaling type %q", ErrContextNotSupported, scalingType)
	}

	// Deklarierter Maximalfaktor begrenzt den Zielkontext
	if declared := floatField(scaling, "factor"); declared > 0 {
		if max := int(float64(native) * declared); target > max {
			slog.Warn("requested context exceeds declared support, clamping",
				"requested", target, "max", max)
			target = max
		}
	}

	factor := float64(target) / float64(native)
	if current := intField(cfg, "max_position_embeddings"); current == target {
		return false, nil // bereits verlaengert
	}

	cfg["rope_scaling"] = map[string]any{
		"type":                             "yarn",
		"factor":                           factor,
		"original_max_position_embeddings": native,
	}
	cfg["max_position_embeddings"] = target

	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return false, fmt.Errorf("marshal model config: %w", err)
	}
	if err := os.WriteFile(configPath, out, 0o644); err != nil {
		return false, fmt.Errorf("write model config: %w", err)
	}

	slog.Info("extended model context via rope scaling",
		"model", modelPath, "native", native, "target", target, "factor", factor)
	return true, nil
}

// ModelContextLength liest das Kontextfenster aus dem config.json.
// 0 wenn das Modell keins deklariert.
func ModelContextLength(modelPath string) int {
	raw, err := os.ReadFile(filepath.Join(modelPath, "config.json"))
	if err != nil {
		return 0
	}
	var cfg map[string]any
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return 0
	}
	return intField(cfg, "max_position_embeddings")
}

func intField(m map[string]any, key string) int {
	if f, ok := m[key].(float64); ok {
		return int(f)
	}
	return 0
}

func floatField(m map[string]any, key string) float64 {
	if f, ok := m[key].(float64); ok {
		return f
	}
	return 0
}
