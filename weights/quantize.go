// quantize.go - Praezisionsreduktion persistierter Gewichte
//
// Diese Datei enthaelt:
// - ConvertFileF16: F32/BF16-Tensoren einer Safetensors-Datei -> F16
// - ConvertDirF16: Modellverzeichnis rekursiv konvertieren
//
// Die Konvertierung laeuft beim Persistieren der quantisierten
// Cache-Kopie; bereits kompakte Tensoren werden unveraendert kopiert.
package weights

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// ConvertFileF16 konvertiert eine Safetensors-Datei nach F16.
// F32- und BF16-Tensoren werden reduziert, alle anderen Typen
// unveraendert uebernommen.
func ConvertFileF16(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	hdr, err := readSafetensorsHeader(src)
	if err != nil {
		return fmt.Errorf("%s: %w", srcPath, err)
	}

	out := make(map[string]tensorMeta, len(hdr.Tensors))
	var data []byte
	var cursor int64

	for _, name := range hdr.sortedTensorNames() {
		meta := hdr.Tensors[name]
		raw := make([]byte, meta.Offsets[1]-meta.Offsets[0])
		if _, err := src.ReadAt(raw, hdr.DataAt+meta.Offsets[0]); err != nil && err != io.EOF {
			return fmt.Errorf("%s: tensor %q: %w", srcPath, name, err)
		}

		converted, dtype := convertTensorF16(raw, meta.DType)
		out[name] = tensorMeta{
			DType:   dtype,
			Shape:   meta.Shape,
			Offsets: [2]int64{cursor, cursor + int64(len(converted))},
		}
		data = append(data, converted...)
		cursor += int64(len(converted))
	}

	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	return writeSafetensors(dst, out, hdr.Metadata, data)
}

// convertTensorF16 reduziert einen Tensor auf F16 falls moeglich
func convertTensorF16(raw []byte, dtype string) ([]byte, string) {
	switch dtype {
	case "F32":
		out := make([]byte, len(raw)/2)
		for i := 0; i+4 <= len(raw); i += 4 {
			f := math.Float32frombits(binary.LittleEndian.Uint32(raw[i:]))
			binary.LittleEndian.PutUint16(out[i/2:], float16.Fromfloat32(f).Bits())
		}
		return out, "F16"
	case "BF16":
		f32s := bfloat16.DecodeFloat32(raw)
		out := make([]byte, len(f32s)*2)
		for i, f := range f32s {
			binary.LittleEndian.PutUint16(out[i*2:], float16.Fromfloat32(f).Bits())
		}
		return out, "F16"
	default:
		return raw, dtype
	}
}

// ConvertDirF16 kopiert ein Modellverzeichnis und reduziert dabei alle
// Safetensors-Dateien auf F16. Konfigurations- und Tokenizer-Dateien
// werden unveraendert uebernommen.
func ConvertDirF16(srcDir, dstDir string) error {
	return filepath.WalkDir(srcDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dstDir, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}

		if strings.HasSuffix(path, ".safetensors") {
			slog.Debug("converting weights to f16", "file", rel)
			return ConvertFileF16(path, target)
		}
		return copyFile(path, target)
	})
}

func copyFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}
