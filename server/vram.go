// vram.go - VRAM-gestaffelte Speicher-Optimierungen
//
// Diese Datei enthaelt:
// - MemoryPlan: welche Optimierungen fuer eine VRAM-Groesse gelten
// - Plan: Schwellen-Politik (Werte sind Politik, keine Physik)
// - Apply: Anwendung ueber Faehigkeits-Interfaces der Pipeline
//
// Staffelung: ab der Resident-Schwelle bleibt das Modell voll auf dem
// Beschleuniger; darunter Model-CPU-Offload; unter der
// Sequential-Schwelle zusaetzlich sequentielles Offloading. VAE- und
// Attention-Slicing sind immer an wo die Pipeline sie unterstuetzt.
package server

import (
	"log/slog"

	"github.com/airunner/airunner/diffusion"
	"github.com/airunner/airunner/envconfig"
	"github.com/airunner/airunner/format"
)

// MemoryPlan beschreibt die aktiven Optimierungen eines Ladevorgangs
type MemoryPlan struct {
	VRAM uint64

	AttentionSlicing     bool
	VAESlicing           bool
	ModelCPUOffload      bool
	SequentialCPUOffload bool
}

// Plan bestimmt den Speicherplan fuer die verfuegbare VRAM-Groesse.
// Die Schwellen kommen aus envconfig und sind pro Deployment tunebar.
func Plan(vram uint64) MemoryPlan {
	plan := MemoryPlan{
		VRAM: vram,
		// Kostenlose Optimierungen sind immer aktiv
		AttentionSlicing: true,
		VAESlicing:       true,
	}
	if vram >= envconfig.VRAMResident() {
		return plan
	}

	plan.ModelCPUOffload = true
	if vram < envconfig.VRAMSequential() {
		plan.SequentialCPUOffload = true
	}
	return plan
}

// Apply wendet den Plan auf eine Pipeline an. Optimierungen die die
// Pipeline nicht unterstuetzt werden uebersprungen; das ist kein
// Fehler, die Faehigkeit fehlt schlicht.
func Apply(plan MemoryPlan, pipeline any) {
	slog.Info("applying memory plan",
		"vram", format.HumanBytes2(plan.VRAM),
		"model_offload", plan.ModelCPUOffload,
		"sequential_offload", plan.SequentialCPUOffload)

	if plan.AttentionSlicing {
		if p, ok := pipeline.(diffusion.SupportsAttentionSlicing); ok {
			if err := p.EnableAttentionSlicing(); err != nil {
				slog.Warn("attention slicing failed", "error", err)
			}
		}
	}
	if plan.VAESlicing {
		if p, ok := pipeline.(diffusion.SupportsVAESlicing); ok {
			if err := p.EnableVAESlicing(); err != nil {
				slog.Warn("vae slicing failed", "error", err)
			}
		}
	}
	if plan.ModelCPUOffload {
		if p, ok := pipeline.(diffusion.SupportsModelOffload); ok {
			if err := p.EnableModelCPUOffload(); err != nil {
				slog.Warn("model cpu offload failed", "error", err)
			}
		}
	}
	if plan.SequentialCPUOffload {
		if p, ok := pipeline.(diffusion.SupportsSequentialOffload); ok {
			if err := p.EnableSequentialCPUOffload(); err != nil {
				slog.Warn("sequential cpu offload failed", "error", err)
			}
		}
	}
}
