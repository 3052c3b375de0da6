// capabilities.go - Pipeline-Schnittstelle und Faehigkeits-Interfaces
//
// Diese Datei enthaelt:
// - Pipeline: Minimale Schnittstelle einer geladenen Diffusion-Pipeline
// - Faehigkeits-Interfaces fuer optionale Speicher-Optimierungen
//
// Ob eine Pipeline eine Optimierung unterstuetzt wird ueber
// Interface-Zusicherungen geprueft, nicht ueber reflektives Probing.
package diffusion

import "context"

// Pipeline ist eine geladene Diffusion-Pipeline. Implementierungen
// leben hinter der Runner-Prozessgrenze.
type Pipeline interface {
	// Generate fuehrt einen Aufruf aus und meldet Fortschritt ueber fn.
	// Die Implementierung prueft ctx an jedem Denoising-Schritt.
	Generate(ctx context.Context, bundle Bundle, fn func(Progress)) error

	ModelPath() string
	VRAMSize() uint64
	Close() error
}

// Progress ist ein Zwischenstand der Bildgenerierung
type Progress struct {
	Step       int    `json:"step"`
	TotalSteps int    `json:"total_steps"`
	Image      []byte `json:"image,omitempty"` // gesetzt beim finalen Schritt
	Done       bool   `json:"done"`
}

// SupportsAttentionSlicing kennzeichnet Pipelines mit Attention-Slicing
type SupportsAttentionSlicing interface {
	EnableAttentionSlicing() error
}

// SupportsVAESlicing kennzeichnet Pipelines mit VAE-Slicing
type SupportsVAESlicing interface {
	EnableVAESlicing() error
}

// SupportsVAETiling kennzeichnet Pipelines mit VAE-Tiling
type SupportsVAETiling interface {
	EnableVAETiling() error
}

// SupportsModelOffload kennzeichnet Pipelines mit Model-CPU-Offloading
type SupportsModelOffload interface {
	EnableModelCPUOffload() error
}

// SupportsSequentialOffload kennzeichnet Pipelines mit sequentiellem
// CPU-Offloading
type SupportsSequentialOffload interface {
	EnableSequentialCPUOffload() error
}

// SupportsAdapters kennzeichnet Pipelines die LoRA-Gewichte nachladen
// koennen
type SupportsAdapters interface {
	LoadLoRAWeights(path string) error
}
