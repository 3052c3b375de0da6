// Package format - Formatierung von Byte-Groessen fuer Logging
//
// Diese Datei enthaelt:
// - Byte-Konstanten (KiloByte, MegaByte, GigaByte)
// - HumanBytes2: Menschlich lesbare Groesse mit Binaer-Praefixen
package format

import "fmt"

const (
	Byte     = 1
	KiloByte = Byte * 1024
	MegaByte = KiloByte * 1024
	GigaByte = MegaByte * 1024
)

// HumanBytes2 formatiert Bytes mit Binaer-Praefixen (KiB, MiB, GiB)
func HumanBytes2(b uint64) string {
	switch {
	case b >= GigaByte:
		return fmt.Sprintf("%.1f GiB", float64(b)/GigaByte)
	case b >= MegaByte:
		return fmt.Sprintf("%.1f MiB", float64(b)/MegaByte)
	case b >= KiloByte:
		return fmt.Sprintf("%.1f KiB", float64(b)/KiloByte)
	default:
		return fmt.Sprintf("%d B", b)
	}
}
