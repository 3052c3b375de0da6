// canvas.go - Zeichenflaechen-Zugriff fuer den Request-Builder
//
// Diese Datei enthaelt:
// - CanvasProvider: Schnittstelle fuer Bild- und Masken-Zugriff
// - fileCanvas: Dateibasierte Implementierung (PNG)
// - DefaultActiveRect: Raster-Rechteck minus Pan-Offset
// - ExtractRect: Ausschnitt skaliert auf Zielgroesse
package diffusion

import (
	"fmt"
	"image"
	"image/png"
	"os"

	"golang.org/x/image/draw"

	"github.com/airunner/airunner/settings"
)

// CanvasProvider liefert das aktuelle Zeichenflaechen-Bild und die Maske
type CanvasProvider interface {
	Image() (image.Image, error)
	Mask() (image.Image, error)
}

// fileCanvas laedt Bild und Maske von den im Store konfigurierten Pfaden
type fileCanvas struct {
	imagePath string
	maskPath  string
}

// NewFileCanvas erstellt einen CanvasProvider fuer die Snapshot-Pfade
func NewFileCanvas(canvas settings.CanvasSettings) CanvasProvider {
	return &fileCanvas{imagePath: canvas.ImagePath, maskPath: canvas.MaskPath}
}

func (f *fileCanvas) Image() (image.Image, error) {
	return loadPNG(f.imagePath)
}

func (f *fileCanvas) Mask() (image.Image, error) {
	return loadPNG(f.maskPath)
}

func loadPNG(path string) (image.Image, error) {
	if path == "" {
		return nil, fmt.Errorf("no canvas image configured")
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open canvas image: %w", err)
	}
	defer file.Close()

	img, err := png.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode canvas image %q: %w", path, err)
	}
	return img, nil
}

// DefaultActiveRect berechnet das aktive Rechteck: Raster-Position und
// -Groesse, uebersetzt um den negierten Pan-Offset der Zeichenflaeche
func DefaultActiveRect(grid settings.ActiveGridSettings, canvas settings.CanvasSettings) image.Rectangle {
	r := image.Rect(grid.PosX, grid.PosY, grid.PosX+grid.Width, grid.PosY+grid.Height)
	return r.Sub(image.Pt(canvas.PanX, canvas.PanY))
}

// ExtractRect schneidet das Rechteck aus dem Bild aus und skaliert es
// auf die Zielgroesse. Bereiche ausserhalb des Bildes bleiben leer.
func ExtractRect(src image.Image, rect image.Rectangle, width, height int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, rect, draw.Over, nil)
	return dst
}
