// cache.go - Quantisierter Modell-Cache auf der Platte
//
// Diese Datei enthaelt:
// - Family: Modellfamilie (Diffusion vs. Transformer)
// - CacheDir: Benennung des Cache-Verzeichnisses
// - ValidCache: Marker-Dateien-Pruefung
//
// Ein Cache-Verzeichnis zaehlt nur dann als vorhanden wenn alle
// Marker-Dateien und mindestens eine Gewichtsdatei existieren;
// unvollstaendige Verzeichnisse sind Cache-Misses, keine Fehler.
package weights

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Family unterscheidet Diffusion-Pipelines von Transformer-LLMs
type Family string

const (
	FamilyDiffusion   Family = "diffusion"
	FamilyTransformer Family = "transformer"
)

// DetectFamily bestimmt die Modellfamilie anhand der Verzeichnisstruktur.
// Diffusion-Pipelines tragen ein model_index.json im Wurzelverzeichnis.
func DetectFamily(modelPath string) Family {
	if _, err := os.Stat(filepath.Join(modelPath, "model_index.json")); err == nil {
		return FamilyDiffusion
	}
	return FamilyTransformer
}

// CacheDir gibt das Cache-Verzeichnis fuer (Pfad, DType) zurueck.
// Diffusion-Modelle verwenden historisch immer das 4bit-Suffix.
func CacheDir(modelPath string, dtype DType, family Family) string {
	if family == FamilyDiffusion {
		return modelPath + "_4bit_quantized"
	}
	return modelPath + "_" + string(dtype) + "_quantized"
}

// ValidCache prueft ob dir ein vollstaendiger quantisierter Cache ist:
// config.json, fuer Diffusion zusaetzlich model_index.json, und
// mindestens eine *.safetensors- oder *.bin-Gewichtsdatei.
func ValidCache(dir string, family Family) bool {
	if stat, err := os.Stat(dir); err != nil || !stat.IsDir() {
		return false
	}
	if _, err := os.Stat(filepath.Join(dir, "config.json")); err != nil {
		return false
	}
	if family == FamilyDiffusion {
		if _, err := os.Stat(filepath.Join(dir, "model_index.json")); err != nil {
			return false
		}
	} else if !hasEmbeddedQuantConfig(filepath.Join(dir, "config.json")) {
		// Transformer-Caches tragen die Quantisierung im config.json;
		// fehlt sie, stammt das Verzeichnis nicht vom Persist-Schritt
		return false
	}
	return hasWeightFile(dir)
}

// embedQuantConfig schreibt die Quantisierung in das config.json des
// Cache-Verzeichnisses, damit der Cache als solcher erkennbar ist
func embedQuantConfig(cacheDir string, quant *QuantConfig) error {
	configPath := filepath.Join(cacheDir, "config.json")
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}
	var cfg map[string]any
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return err
	}
	cfg["quantization_config"] = quant

	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(configPath, out, 0o644)
}

func hasEmbeddedQuantConfig(configPath string) bool {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return false
	}
	var cfg map[string]json.RawMessage
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return false
	}
	_, ok := cfg["quantization_config"]
	return ok
}

func hasWeightFile(dir string) bool {
	found := false
	filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".safetensors") || strings.HasSuffix(path, ".bin") {
			found = true
			return fs.SkipAll
		}
		return nil
	})
	return found
}
