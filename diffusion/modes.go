// modes.go - Operationsmodi der Diffusion-Pipelines
//
// Diese Datei enthaelt:
// - Mode: Typ fuer den Operationsmodus (section)
// - ParseMode: String -> Mode mit Fehler fuer unbekannte Werte
package diffusion

import (
	"errors"
	"fmt"
)

// ErrUnsupportedOperation wird zurueckgegeben wenn die section keinem
// bekannten Operationsmodus entspricht
var ErrUnsupportedOperation = errors.New("unsupported operation mode")

// Mode ist der Operationsmodus eines Generierungsaufrufs
type Mode string

const (
	ModeTxt2Img   Mode = "txt2img"
	ModeImg2Img   Mode = "img2img"
	ModeOutpaint  Mode = "outpaint"
	ModeDepth2Img Mode = "depth2img"
	ModePix2Pix   Mode = "pix2pix"
	ModeUpscale   Mode = "upscale"
)

// ParseMode loest eine section zum Operationsmodus auf.
// "inpaint" ist ein historisches Alias fuer outpaint.
func ParseMode(section string) (Mode, error) {
	switch section {
	case "txt2img":
		return ModeTxt2Img, nil
	case "img2img":
		return ModeImg2Img, nil
	case "outpaint", "inpaint":
		return ModeOutpaint, nil
	case "depth2img":
		return ModeDepth2Img, nil
	case "pix2pix":
		return ModePix2Pix, nil
	case "upscale":
		return ModeUpscale, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedOperation, section)
	}
}

// NeedsSourceImage gibt zurueck ob der Modus ein Eingangsbild benoetigt
func (m Mode) NeedsSourceImage() bool {
	switch m {
	case ModeImg2Img, ModeOutpaint, ModeDepth2Img, ModePix2Pix, ModeUpscale:
		return true
	default:
		return false
	}
}
