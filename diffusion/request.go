// request.go - Request-Builder fuer Diffusion-Aufrufe
//
// Diese Datei enthaelt:
// - Overrides: Call-Time-Overrides zum Settings-Snapshot
// - Bundle: Flaches Keyword-Argument-Buendel fuer die Pipeline
// - Builder.Build: Snapshot + Overrides -> Bundle pro Operationsmodus
//
// Der Builder liest nur (Settings-Snapshot, Model-Lookup, Canvas) und
// mutiert nichts; jede Konvertierung skalierten Werte laeuft ueber
// settings/units.go.
package diffusion

import (
	"errors"
	"fmt"
	"image"

	"github.com/airunner/airunner/settings"
)

// ErrModelResolution wird zurueckgegeben wenn kein Modell bestimmbar ist
var ErrModelResolution = errors.New("unable to resolve model")

// ModelLookup loest einen Model-Namen zur vollen Identitaet auf
type ModelLookup interface {
	ResolveModelByName(name string) (settings.AIModel, error)
}

// Overrides sind optionale Call-Time-Overrides. Nil-/Zero-Felder
// bedeuten "Wert aus dem Snapshot verwenden".
type Overrides struct {
	Section    string
	ActiveRect *image.Rectangle
	Strength   *int // Integer-Prozent wie im Store
	Seed       *int64

	Model     *settings.AIModel // vollstaendige Identitaet, kein Lookup
	ModelData *settings.AIModel // Teilidentitaet, wird backfilled

	ControlnetImage image.Image

	PromptEmbeds         []float32
	NegativePromptEmbeds []float32
	Latents              []float32

	MemoryOptions map[string]any
	ExtraOptions  map[string]any
}

// Bundle ist das flache Argument-Buendel eines Generierungsaufrufs
type Bundle struct {
	Action Mode
	Model  settings.AIModel
	Args   map[string]any
}

// Builder uebersetzt Settings-Snapshots in Request-Bundles
type Builder struct {
	Lookup ModelLookup

	// CanvasFn erstellt den Canvas-Zugriff fuer einen Snapshot.
	// Default ist der dateibasierte Provider.
	CanvasFn func(settings.CanvasSettings) CanvasProvider
}

// NewBuilder erstellt einen Builder mit Datei-Canvas
func NewBuilder(lookup ModelLookup) *Builder {
	return &Builder{Lookup: lookup, CanvasFn: NewFileCanvas}
}

// Build erzeugt das Request-Bundle fuer genau einen Operationsmodus
func (b *Builder) Build(snap settings.Snapshot, ov Overrides) (Bundle, error) {
	section := ov.Section
	if section == "" {
		section = snap.Generator.Section
	}
	mode, err := ParseMode(section)
	if err != nil {
		return Bundle{}, err
	}

	model, err := b.resolveModel(snap, ov)
	if err != nil {
		return Bundle{}, err
	}

	rect := DefaultActiveRect(snap.ActiveGrid, snap.Canvas)
	if ov.ActiveRect != nil {
		rect = *ov.ActiveRect
	}

	args := map[string]any{
		"num_inference_steps": snap.Generator.Steps,
		"guidance_scale":      settings.Percent(snap.Generator.Scale),
		"scheduler":           snap.Generator.Scheduler,
	}
	if snap.Generator.ClipSkip > 0 {
		args["clip_skip"] = snap.Generator.ClipSkip
	}

	seed := snap.Generator.Seed
	if ov.Seed != nil {
		seed = *ov.Seed
	} else if snap.Generator.RandomSeed {
		seed = -1 // Runner wuerfelt
	}
	args["seed"] = seed

	// Prompt vs. Embeddings: gegenseitiger Ausschluss wird am Ende
	// nochmal erzwungen, weil Extra-Options Keys einschleusen koennen
	args["prompt"] = snap.Generator.Prompt
	args["negative_prompt"] = snap.Generator.NegativePrompt
	if len(ov.PromptEmbeds) > 0 {
		args["prompt_embeds"] = ov.PromptEmbeds
		args["negative_prompt_embeds"] = ov.NegativePromptEmbeds
	}

	if len(ov.Latents) > 0 {
		args["latents"] = ov.Latents
	}

	if err := b.applyModeArgs(mode, snap, ov, rect, args); err != nil {
		return Bundle{}, err
	}

	if err := b.applyControlnet(snap, ov, rect, args); err != nil {
		return Bundle{}, err
	}

	// Options-Merge: Basis < Memory < Extra, letzte gewinnen
	memoryOpts := ov.MemoryOptions
	if memoryOpts == nil {
		memoryOpts = memoryOptions(snap.Memory)
	}
	for k, v := range memoryOpts {
		args[k] = v
	}
	for k, v := range ov.ExtraOptions {
		args[k] = v
	}

	// Pix2Pix-Pipelines lehnen latents ab, auch aus Extra-Options
	if mode == ModePix2Pix {
		delete(args, "latents")
	}

	// Embeddings und Text-Prompts schliessen sich aus
	if _, ok := args["prompt_embeds"]; ok {
		delete(args, "prompt")
		delete(args, "negative_prompt")
	}

	return Bundle{Action: mode, Model: model, Args: args}, nil
}

// resolveModel bestimmt die Modell-Identitaet fuer den Request
func (b *Builder) resolveModel(snap settings.Snapshot, ov Overrides) (settings.AIModel, error) {
	if ov.Model != nil {
		return *ov.Model, nil
	}

	name := snap.Generator.Model
	if ov.ModelData != nil && ov.ModelData.Name != "" {
		name = ov.ModelData.Name
	}
	if name == "" {
		return settings.AIModel{}, fmt.Errorf("%w: no model name in settings or overrides", ErrModelResolution)
	}

	resolved, err := b.Lookup.ResolveModelByName(name)
	if err != nil {
		return settings.AIModel{}, fmt.Errorf("%w: %v", ErrModelResolution, err)
	}

	if ov.ModelData != nil {
		md := *ov.ModelData
		settings.Backfill(&md, resolved)
		return md, nil
	}
	return resolved, nil
}

// applyModeArgs injiziert die modusspezifischen Argumente
func (b *Builder) applyModeArgs(mode Mode, snap settings.Snapshot, ov Overrides, rect image.Rectangle, args map[string]any) error {
	strength := snap.Generator.Strength
	if ov.Strength != nil {
		strength = *ov.Strength
	}

	var source image.Image
	if mode.NeedsSourceImage() {
		canvas := b.canvas(snap)
		img, err := canvas.Image()
		if err != nil {
			return fmt.Errorf("canvas image for %s: %w", mode, err)
		}
		source = ExtractRect(img, rect, rect.Dx(), rect.Dy())
	}

	switch mode {
	case ModeTxt2Img:
		args["width"] = rect.Dx()
		args["height"] = rect.Dy()
	case ModeImg2Img:
		args["image"] = source
		args["strength"] = settings.Percent(strength)
	case ModeDepth2Img:
		args["image"] = source
		args["strength"] = settings.Percent(strength)
	case ModePix2Pix:
		args["image"] = source
		args["image_guidance_scale"] = settings.Percent(snap.Generator.ImageGuidanceScale)
	case ModeOutpaint:
		canvas := b.canvas(snap)
		mask, err := canvas.Mask()
		if err != nil {
			return fmt.Errorf("canvas mask for %s: %w", mode, err)
		}
		args["image"] = source
		args["mask_image"] = ExtractRect(mask, rect, rect.Dx(), rect.Dy())
		args["width"] = rect.Dx()
		args["height"] = rect.Dy()
	case ModeUpscale:
		args["image"] = source
	}

	return nil
}

// applyControlnet injiziert Controlnet-Argumente falls aktiviert
func (b *Builder) applyControlnet(snap settings.Snapshot, ov Overrides, rect image.Rectangle, args map[string]any) error {
	cn := snap.Controlnet
	if !cn.Enabled {
		return nil
	}

	control := ov.ControlnetImage
	if control == nil {
		switch cn.ImageSource {
		case "imported":
			img, err := loadPNG(cn.ImagePath)
			if err != nil {
				return fmt.Errorf("controlnet image: %w", err)
			}
			control = img
		default:
			// canvas und grid beziehen das Bild von der Zeichenflaeche
			img, err := b.canvas(snap).Image()
			if err != nil {
				return fmt.Errorf("controlnet canvas image: %w", err)
			}
			control = ExtractRect(img, rect, rect.Dx(), rect.Dy())
		}
	}

	args["control_image"] = control
	args["controlnet"] = cn.Variant
	args["controlnet_conditioning_scale"] = settings.Percent(cn.ConditioningScale)
	args["controlnet_guidance_scale"] = settings.Permyriad(cn.GuidanceScale)
	return nil
}

func (b *Builder) canvas(snap settings.Snapshot) CanvasProvider {
	if b.CanvasFn != nil {
		return b.CanvasFn(snap.Canvas)
	}
	return NewFileCanvas(snap.Canvas)
}

// memoryOptions uebersetzt die Store-Speicherflags in Options-Keys.
// Diese Flags sind advisory; der Lifecycle-Manager darf sie je nach
// VRAM abschwaechen.
func memoryOptions(m settings.MemorySettings) map[string]any {
	opts := map[string]any{
		"attention_slicing":      m.AttentionSlicing,
		"vae_slicing":            m.VAESlicing,
		"vae_tiling":             m.VAETiling,
		"model_cpu_offload":      m.ModelCPUOffload,
		"sequential_cpu_offload": m.SequentialCPUOffload,
		"channels_last":          m.ChannelsLast,
		"tf32":                   m.TF32,
		"cudnn_benchmark":        m.CudnnBenchmark,
		"torch_compile":          m.TorchCompile,
	}
	if m.ToMeRatio > 0 {
		opts["tome_ratio"] = settings.Permille(m.ToMeRatio)
	}
	return opts
}
