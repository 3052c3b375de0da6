// safetensors.go - Lesen und Schreiben des Safetensors-Formats
//
// Diese Datei enthaelt:
// - tensorMeta: Header-Eintrag eines Tensors
// - readSafetensorsHeader: 8-Byte-Laenge + JSON-Header parsen
// - writeSafetensors: Header und Tensordaten sequentiell schreiben
//
// Das Format: 8 Byte Little-Endian Header-Laenge, JSON-Header mit
// dtype/shape/data_offsets pro Tensor, danach die Rohdaten.
package weights

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
)

// tensorMeta beschreibt einen Tensor im Safetensors-Header
type tensorMeta struct {
	DType   string   `json:"dtype"`
	Shape   []int64  `json:"shape"`
	Offsets [2]int64 `json:"data_offsets"`
}

// safetensorsHeader ist der geparste Header einer Datei
type safetensorsHeader struct {
	Tensors  map[string]tensorMeta
	Metadata map[string]string
	DataAt   int64 // Dateioffset des Datenblocks
}

// readSafetensorsHeader liest und validiert den Header
func readSafetensorsHeader(f *os.File) (*safetensorsHeader, error) {
	var size uint64
	if err := binary.Read(f, binary.LittleEndian, &size); err != nil {
		return nil, fmt.Errorf("safetensors header size: %w", err)
	}
	if size == 0 || size > 256<<20 {
		return nil, fmt.Errorf("safetensors header size %d out of range", size)
	}

	raw := make([]byte, size)
	if _, err := io.ReadFull(f, raw); err != nil {
		return nil, fmt.Errorf("safetensors header: %w", err)
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, fmt.Errorf("safetensors header json: %w", err)
	}

	hdr := &safetensorsHeader{
		Tensors: make(map[string]tensorMeta, len(all)),
		DataAt:  int64(8 + size),
	}
	for name, msg := range all {
		if name == "__metadata__" {
			if err := json.Unmarshal(msg, &hdr.Metadata); err != nil {
				return nil, fmt.Errorf("safetensors metadata: %w", err)
			}
			continue
		}
		var meta tensorMeta
		if err := json.Unmarshal(msg, &meta); err != nil {
			return nil, fmt.Errorf("safetensors tensor %q: %w", name, err)
		}
		if meta.Offsets[1] < meta.Offsets[0] {
			return nil, fmt.Errorf("safetensors tensor %q: invalid offsets", name)
		}
		hdr.Tensors[name] = meta
	}
	return hdr, nil
}

// sortedTensorNames gibt die Tensornamen in Datenreihenfolge zurueck
func (h *safetensorsHeader) sortedTensorNames() []string {
	names := make([]string, 0, len(h.Tensors))
	for name := range h.Tensors {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return h.Tensors[names[i]].Offsets[0] < h.Tensors[names[j]].Offsets[0]
	})
	return names
}

// writeSafetensors schreibt Header und Datenblock. Die Offsets in
// tensors muessen bereits relativ zum Datenblock berechnet sein und
// data die Tensoren in Offset-Reihenfolge enthalten.
func writeSafetensors(f *os.File, tensors map[string]tensorMeta, metadata map[string]string, data []byte) error {
	all := make(map[string]any, len(tensors)+1)
	for name, meta := range tensors {
		all[name] = meta
	}
	if len(metadata) > 0 {
		all["__metadata__"] = metadata
	}

	hdr, err := json.Marshal(all)
	if err != nil {
		return fmt.Errorf("safetensors header json: %w", err)
	}

	if err := binary.Write(f, binary.LittleEndian, uint64(len(hdr))); err != nil {
		return fmt.Errorf("safetensors header size: %w", err)
	}
	if _, err := f.Write(hdr); err != nil {
		return fmt.Errorf("safetensors header: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("safetensors data: %w", err)
	}
	return nil
}
