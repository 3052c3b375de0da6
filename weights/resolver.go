// resolver.go - Quantisierungsbewusste Aufloesung von Modellgewichten
//
// Diese Datei enthaelt:
// - DType: Ziel-Praezision (full/8bit/4bit)
// - QuantConfig: bitsandbytes-artige Quantisierungskonfiguration
// - Resolver.Resolve: logischer Pfad -> konkrete Gewichtsquelle
//
// Kernregel: ein Cache-Treffer laedt direkt aus dem Cache und haengt
// NIE eine Quantisierungskonfiguration an. Bereits quantisierte
// Tensoren erneut zu quantisieren wuerde sie korrumpieren.
package weights

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// ErrWeightsMissing meldet dass die Originalgewichte fehlen und auch
// nicht beschafft werden konnten
var ErrWeightsMissing = errors.New("model weights not found")

// DType ist die angeforderte Ziel-Praezision
type DType string

const (
	DTypeFull DType = "full"
	DType8Bit DType = "8bit"
	DType4Bit DType = "4bit"
)

// ParseDType validiert einen DType-String
func ParseDType(s string) (DType, error) {
	switch DType(s) {
	case DTypeFull, DType8Bit, DType4Bit:
		return DType(s), nil
	default:
		return "", fmt.Errorf("invalid dtype %q (expected full, 8bit or 4bit)", s)
	}
}

// QuantConfig beschreibt die Laufzeit-Quantisierung im
// bitsandbytes-Stil
type QuantConfig struct {
	LoadIn8Bit           bool   `json:"load_in_8bit"`
	LoadIn4Bit           bool   `json:"load_in_4bit"`
	QuantType            string `json:"bnb_4bit_quant_type,omitempty"`
	ComputeDType         string `json:"bnb_4bit_compute_dtype,omitempty"`
	UseDoubleQuant       bool   `json:"bnb_4bit_use_double_quant,omitempty"`
	LLMInt8EnableFP32CPU bool   `json:"llm_int8_enable_fp32_cpu_offload,omitempty"`
}

// newQuantConfig baut die Konfiguration fuer einen Cache-Miss
func newQuantConfig(dtype DType) *QuantConfig {
	switch dtype {
	case DType8Bit:
		return &QuantConfig{LoadIn8Bit: true, LLMInt8EnableFP32CPU: true}
	case DType4Bit:
		return &QuantConfig{
			LoadIn4Bit:     true,
			QuantType:      "nf4",
			ComputeDType:   "float16",
			UseDoubleQuant: true,
		}
	default:
		return nil
	}
}

// Location ist das Ergebnis einer Aufloesung
type Location struct {
	Path     string
	DType    DType
	Family   Family
	Quant    *QuantConfig // nil bei Cache-Treffer oder full
	CacheHit bool
}

// LoadKwargs baut die Lade-Argumente fuer den Runner. Bei einem
// Cache-Treffer enthaelt die Map keinen quantization_config-Key.
func (l Location) LoadKwargs() map[string]any {
	kwargs := map[string]any{
		"pretrained_model_name_or_path": l.Path,
		"torch_dtype":                   "float16",
	}
	if l.DType == DTypeFull {
		kwargs["torch_dtype"] = "float32"
	}
	if l.Quant != nil {
		kwargs["quantization_config"] = l.Quant
	}
	return kwargs
}

// Resolver loest Modellpfade quantisierungsbewusst auf
type Resolver struct {
	// Download beschafft fehlende Gewichte. Nil bedeutet: fehlende
	// Gewichte sind sofort ein Fehler.
	Download func(ctx context.Context, modelPath string) error

	// persist schreibt die quantisierte Cache-Kopie; austauschbar
	// fuer Tests
	persist func(srcDir, dstDir string) error
}

// NewResolver erstellt einen Resolver mit F16-Persistierung
func NewResolver() *Resolver {
	return &Resolver{persist: ConvertDirF16}
}

// Resolve bestimmt die konkrete Gewichtsquelle fuer (Pfad, DType).
//
// Reihenfolge: Gewichte beschaffen falls noetig, bekannte
// Config-Macken patchen, Cache pruefen. Treffer laden aus dem Cache
// ohne Quantisierungskonfiguration; Misses laden vom Original mit
// frischer Konfiguration und persistieren die Kopie best-effort.
func (r *Resolver) Resolve(ctx context.Context, modelPath string, dtype DType) (Location, error) {
	if err := r.ensureWeights(ctx, modelPath); err != nil {
		return Location{}, err
	}

	PatchConfig(modelPath)
	family := DetectFamily(modelPath)

	if dtype == DTypeFull {
		return Location{Path: modelPath, DType: dtype, Family: family}, nil
	}

	cacheDir := CacheDir(modelPath, dtype, family)
	if ValidCache(cacheDir, family) {
		slog.Info("using quantized model cache", "path", cacheDir, "dtype", dtype)
		return Location{Path: cacheDir, DType: dtype, Family: family, CacheHit: true}, nil
	}

	quant := newQuantConfig(dtype)
	slog.Info("no quantized cache, loading original weights",
		"path", modelPath, "dtype", dtype, "cache", cacheDir)

	// Persistieren ist best-effort: ein Fehler kostet nur den
	// naechsten Start, nicht diese Session
	if err := r.persistCache(modelPath, cacheDir, family, quant); err != nil {
		slog.Warn("failed to persist quantized cache", "path", cacheDir, "error", err)
		if rmErr := os.RemoveAll(cacheDir); rmErr != nil {
			slog.Warn("failed to remove partial cache", "path", cacheDir, "error", rmErr)
		}
	}

	return Location{Path: modelPath, DType: dtype, Family: family, Quant: quant}, nil
}

// ensureWeights prueft die Originalgewichte und stoesst bei Bedarf
// einen Download an, mit genau einem Wiederholungsversuch
func (r *Resolver) ensureWeights(ctx context.Context, modelPath string) error {
	if _, err := os.Stat(modelPath); err == nil {
		return nil
	}
	if r.Download == nil {
		return fmt.Errorf("%w: %s", ErrWeightsMissing, modelPath)
	}

	slog.Info("model weights missing, requesting download", "path", modelPath)
	if err := r.Download(ctx, modelPath); err != nil {
		return fmt.Errorf("%w: %s: download failed: %v", ErrWeightsMissing, modelPath, err)
	}
	if _, err := os.Stat(modelPath); err != nil {
		return fmt.Errorf("%w: %s: still missing after download", ErrWeightsMissing, modelPath)
	}
	return nil
}

// persistCache schreibt die quantisierte Kopie und bettet fuer
// Transformer die Quantisierung ins config.json ein
func (r *Resolver) persistCache(modelPath, cacheDir string, family Family, quant *QuantConfig) error {
	persist := r.persist
	if persist == nil {
		persist = ConvertDirF16
	}
	if err := persist(modelPath, cacheDir); err != nil {
		return err
	}
	if family == FamilyTransformer {
		if err := embedQuantConfig(cacheDir, quant); err != nil {
			return err
		}
	}
	return nil
}
