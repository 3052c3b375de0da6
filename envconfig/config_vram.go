// config_vram.go - VRAM-Policy-Konfiguration
//
// Dieses Modul enthaelt:
// - VRAMOverride: Erzwungene VRAM-Groesse (AIRUNNER_VRAM)
// - VRAMResident: Schwelle fuer volle Residenz (AIRUNNER_VRAM_RESIDENT_GB)
// - VRAMSequential: Schwelle fuer sequentielles Offloading (AIRUNNER_VRAM_SEQUENTIAL_GB)
//
// Die Schwellen sind Policy, keine Physik: Defaults 24 GiB / 16 GiB
// entsprechen den getesteten Ziel-GPUs und sind pro Deployment anpassbar.
package envconfig

import (
	"log/slog"
	"strconv"

	"github.com/airunner/airunner/format"
)

// VRAMOverride erzwingt eine feste VRAM-Groesse in Bytes.
// 0 = Erkennung des Runners verwenden
func VRAMOverride() uint64 {
	if s := Var("AIRUNNER_VRAM"); s != "" {
		if n, err := strconv.ParseFloat(s, 64); err == nil && n > 0 {
			return uint64(n * format.GigaByte)
		}
		slog.Warn("invalid vram override, ignoring", "value", s)
	}
	return 0
}

// VRAMResident gibt die Schwelle zurueck ab der ein Model vollstaendig
// auf dem Accelerator resident bleibt. Default: 24 GiB
func VRAMResident() uint64 {
	return vramThreshold("AIRUNNER_VRAM_RESIDENT_GB", 24)
}

// VRAMSequential gibt die Schwelle zurueck unterhalb derer zusaetzlich
// sequentielles CPU-Offloading aktiviert wird. Default: 16 GiB
func VRAMSequential() uint64 {
	return vramThreshold("AIRUNNER_VRAM_SEQUENTIAL_GB", 16)
}

func vramThreshold(key string, defaultGB uint64) uint64 {
	if s := Var(key); s != "" {
		if n, err := strconv.ParseUint(s, 10, 32); err == nil && n > 0 {
			return n * format.GigaByte
		}
		slog.Warn("invalid vram threshold, using default", "key", key, "value", s)
	}
	return defaultGB * format.GigaByte
}
