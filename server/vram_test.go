// vram_test.go - Unit Tests fuer die VRAM-Staffelung
package server

import (
	"testing"

	"github.com/airunner/airunner/format"
)

// TestPlanTiers testet die Schwellen-Politik ueber die dokumentierten
// VRAM-Groessen
func TestPlanTiers(t *testing.T) {
	tests := []struct {
		gb         uint64
		offload    bool
		sequential bool
	}{
		{8, true, true},
		{12, true, true},
		{16, true, false},
		{20, true, false},
		{24, false, false},
		{32, false, false},
	}

	for _, tt := range tests {
		plan := Plan(tt.gb * format.GigaByte)
		if plan.ModelCPUOffload != tt.offload {
			t.Errorf("%d GB: ModelCPUOffload = %v, erwartet %v", tt.gb, plan.ModelCPUOffload, tt.offload)
		}
		if plan.SequentialCPUOffload != tt.sequential {
			t.Errorf("%d GB: SequentialCPUOffload = %v, erwartet %v", tt.gb, plan.SequentialCPUOffload, tt.sequential)
		}
		// Kostenlose Optimierungen sind in jeder Stufe aktiv
		if !plan.AttentionSlicing || !plan.VAESlicing {
			t.Errorf("%d GB: Slicing-Optimierungen muessen immer aktiv sein", tt.gb)
		}
	}
}

// TestPlanThresholdOverride testet die Umgebungs-Overrides
func TestPlanThresholdOverride(t *testing.T) {
	t.Setenv("AIRUNNER_VRAM_RESIDENT_GB", "12")
	t.Setenv("AIRUNNER_VRAM_SEQUENTIAL_GB", "8")

	plan := Plan(12 * format.GigaByte)
	if plan.ModelCPUOffload {
		t.Error("12 GB mit Resident-Schwelle 12 darf kein Offloading aktivieren")
	}

	plan = Plan(7 * format.GigaByte)
	if !plan.SequentialCPUOffload {
		t.Error("7 GB unter Sequential-Schwelle 8 muss sequentiell offloaden")
	}
}

// fakePipeline zaehlt angewendete Optimierungen
type fakePipeline struct {
	attention, vae, offload, sequential bool
}

func (f *fakePipeline) EnableAttentionSlicing() error     { f.attention = true; return nil }
func (f *fakePipeline) EnableVAESlicing() error           { f.vae = true; return nil }
func (f *fakePipeline) EnableModelCPUOffload() error      { f.offload = true; return nil }
func (f *fakePipeline) EnableSequentialCPUOffload() error { f.sequential = true; return nil }

// fakeLimitedPipeline unterstuetzt nur Attention-Slicing
type fakeLimitedPipeline struct {
	attention bool
}

func (f *fakeLimitedPipeline) EnableAttentionSlicing() error { f.attention = true; return nil }

// TestApplyCapabilities testet die Anwendung ueber
// Faehigkeits-Interfaces
func TestApplyCapabilities(t *testing.T) {
	full := &fakePipeline{}
	Apply(Plan(8*format.GigaByte), full)
	if !full.attention || !full.vae || !full.offload || !full.sequential {
		t.Errorf("Pipeline = %+v, alle Optimierungen erwartet", full)
	}

	resident := &fakePipeline{}
	Apply(Plan(32*format.GigaByte), resident)
	if resident.offload || resident.sequential {
		t.Errorf("Pipeline = %+v, kein Offloading bei voller Residenz", resident)
	}

	// Fehlende Faehigkeiten werden uebersprungen, kein Fehler
	limited := &fakeLimitedPipeline{}
	Apply(Plan(8*format.GigaByte), limited)
	if !limited.attention {
		t.Error("unterstuetzte Optimierung wurde nicht angewendet")
	}
}
