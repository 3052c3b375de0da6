// loader.go - LoadFunc-Fabriken fuer die Model-Slots
//
// Diese Datei enthaelt:
// - dtypeForVRAM: VRAM-Groesse -> Ziel-Praezision
// - ChatLoader: LoadFunc fuer den Chat-Slot (Aufloesung + Runner-Start)
// - DiffusionLoader: LoadFunc fuer den Diffusion-Slot
//
// Die Fabriken binden die Gewichts-Aufloesung an den eigentlichen
// Prozess-Start. Der Start selbst ist injiziert, damit die Slots ohne
// laufende Runner testbar bleiben.
package server

import (
	"context"
	"errors"
	"log/slog"

	"github.com/airunner/airunner/diffusion"
	"github.com/airunner/airunner/envconfig"
	"github.com/airunner/airunner/llm"
	"github.com/airunner/airunner/weights"
)

// dtypeForVRAM waehlt die Ziel-Praezision nach verfuegbarem VRAM.
// Unbekannte Groesse (0) wird konservativ behandelt.
func dtypeForVRAM(vram uint64) weights.DType {
	switch {
	case vram == 0:
		return weights.DType4Bit
	case vram >= envconfig.VRAMResident():
		return weights.DTypeFull
	case vram >= envconfig.VRAMSequential():
		return weights.DType8Bit
	default:
		return weights.DType4Bit
	}
}

// ChatLoader baut den LoadFunc fuer den Chat-Slot. spawn startet den
// Runner-Prozess fuer eine aufgeloeste Gewichtsquelle.
func ChatLoader(resolver *weights.Resolver, spawn func(ctx context.Context, loc weights.Location) (llm.Runner, error)) LoadFunc {
	return func(ctx context.Context, modelPath string) (Handle, error) {
		if envconfig.ExtendContext() {
			extended, err := weights.ExtendContext(modelPath, int(envconfig.ContextLength()))
			switch {
			case errors.Is(err, weights.ErrContextNotSupported):
				// Beratend, kein Abbruch: das Modell laeuft mit
				// nativem Kontext weiter
				slog.Warn("context extension not supported by model", "model", modelPath)
			case err != nil:
				slog.Warn("context extension failed", "model", modelPath, "error", err)
			case extended:
				slog.Info("extended model context", "model", modelPath, "target", envconfig.ContextLength())
			}
		}

		loc, err := resolver.Resolve(ctx, modelPath, dtypeForVRAM(envconfig.VRAMOverride()))
		if err != nil {
			return nil, err
		}
		return spawn(ctx, loc)
	}
}

// DiffusionLoader baut den LoadFunc fuer den Diffusion-Slot
func DiffusionLoader(resolver *weights.Resolver, spawn func(ctx context.Context, loc weights.Location) (diffusion.Pipeline, error)) LoadFunc {
	return func(ctx context.Context, modelPath string) (Handle, error) {
		loc, err := resolver.Resolve(ctx, modelPath, dtypeForVRAM(envconfig.VRAMOverride()))
		if err != nil {
			return nil, err
		}
		return spawn(ctx, loc)
	}
}
