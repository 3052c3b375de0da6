// types.go - Settings-Snapshot-Typen
//
// Diese Datei enthaelt:
// - Snapshot: Unveraenderlicher Gesamtstand aller Einstellungen
// - GeneratorSettings, ControlnetSettings, MemorySettings
// - PathSettings, ActiveGridSettings, CanvasSettings
//
// Ein Snapshot wird pro Top-Level-Aufruf einmal aus dem Store gelesen
// und danach nur noch per Wert weitergereicht. Mutation laeuft
// ausschliesslich ueber die Update-Funktionen des Stores.
package settings

// Snapshot ist der unveraenderliche Stand aller Einstellungen zum
// Zeitpunkt eines Generierungsaufrufs
type Snapshot struct {
	Generator  GeneratorSettings
	Controlnet ControlnetSettings
	Memory     MemorySettings
	Paths      PathSettings
	ActiveGrid ActiveGridSettings
	Canvas     CanvasSettings
}

// GeneratorSettings sind die benutzerseitigen Generierungsoptionen.
// Skalierte Felder (Scale, Strength, ImageGuidanceScale) werden als
// Integer-Prozent persistiert, siehe units.go.
type GeneratorSettings struct {
	Prompt             string
	NegativePrompt     string
	Steps              int
	Scale              int // CFG, gespeichert *100 (750 = 7.5)
	Seed               int64
	RandomSeed         bool
	Model              string
	Scheduler          string
	Strength           int // img2img-Blend, gespeichert *100 (75 = 0.75)
	ImageGuidanceScale int // gespeichert *100 (150 = 1.5)
	ClipSkip           int
	Section            string // Operationsmodus, siehe diffusion.ParseMode
	Version            string
}

// ControlnetSettings sind die verschachtelten Controlnet-Einstellungen
type ControlnetSettings struct {
	Enabled           bool
	Variant           string // canny, depth, pose, ...
	ConditioningScale int    // gespeichert *100
	GuidanceScale     int    // gespeichert *10000
	ImageSource       string // imported, canvas, grid
	UseGridImage      bool
	LinkToMask        bool
	ImagePath         string
}

// MemorySettings sind advisory Inferenz-Speicher-Flags. Der Lifecycle-
// Manager darf sie je nach erkanntem VRAM ignorieren oder abschwaechen.
type MemorySettings struct {
	AttentionSlicing     bool
	VAESlicing           bool
	VAETiling            bool
	ModelCPUOffload      bool
	SequentialCPUOffload bool
	ChannelsLast         bool
	TF32                 bool
	CudnnBenchmark       bool
	TorchCompile         bool
	ToMeRatio            int // gespeichert *1000 (400 = 0.4)
	UnloadUnusedModels   bool
}

// PathSettings sind die konfigurierten Verzeichnisse
type PathSettings struct {
	BaseDir   string
	ModelsDir string
	ImageDir  string
}

// ActiveGridSettings beschreiben das aktive Raster auf der Zeichenflaeche
type ActiveGridSettings struct {
	Enabled bool
	PosX    int
	PosY    int
	Width   int
	Height  int
}

// CanvasSettings beschreiben den Zustand der Zeichenflaeche
type CanvasSettings struct {
	PanX      int
	PanY      int
	ImagePath string
	MaskPath  string
}
