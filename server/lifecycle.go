// lifecycle.go - Lebenszyklus des einen Model-Slots pro Handler-Typ
//
// Diese Datei enthaelt:
// - HandlerKind/Status: Slot-Identitaet und Zustandsmaschine
// - Manager: UNLOADED -> LOADING -> {LOADED|FAILED}, LOADED -> UNLOADED
//
// Pro Handler-Typ ist hoechstens ein Modell resident; ein Load fuer
// einen anderen Pfad entlaedt implizit das alte Modell. Ladefehler
// ueberschreiten die Lifecycle-Grenze nie als Panik: sie werden
// geloggt, der Slot geht auf FAILED und der Status-Event traegt die
// Meldung.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/airunner/airunner/diffusion"
	"github.com/airunner/airunner/envconfig"
	"github.com/airunner/airunner/events"
)

// HandlerKind identifiziert einen Model-Slot
type HandlerKind string

const (
	KindDiffusion HandlerKind = "diffusion"
	KindChat      HandlerKind = "chat"
	KindVision    HandlerKind = "vision"
)

// Status ist der Zustand eines Model-Slots
type Status string

const (
	StatusUnloaded Status = "unloaded"
	StatusLoading  Status = "loading"
	StatusLoaded   Status = "loaded"
	StatusFailed   Status = "failed"
)

// Handle ist ein geladenes Modell aus Sicht des Lifecycle-Managers
type Handle interface {
	ModelPath() string
	Close() error
}

// LoadFunc laedt ein Modell fuer den Slot. Implementierungen gehen
// ueber den Resolver und starten den Runner-Subprozess.
type LoadFunc func(ctx context.Context, modelPath string) (Handle, error)

// Manager verwaltet genau einen Model-Slot
type Manager struct {
	kind   HandlerKind
	loadFn LoadFunc
	bus    *events.Bus

	// vramFn liefert die verfuegbare VRAM-Groesse fuer die Staffelung
	vramFn func() uint64

	mu        sync.Mutex
	status    Status
	handle    Handle
	modelPath string
	lastErr   error
	plan      MemoryPlan

	keepAlive   time.Duration
	expireTimer *time.Timer

	adapters []string
}

// NewManager erstellt einen Manager im Zustand UNLOADED
func NewManager(kind HandlerKind, loadFn LoadFunc, bus *events.Bus) *Manager {
	return &Manager{
		kind:      kind,
		loadFn:    loadFn,
		bus:       bus,
		vramFn:    envconfig.VRAMOverride,
		status:    StatusUnloaded,
		keepAlive: envconfig.KeepAlive(),
	}
}

// Status gibt den aktuellen Slot-Zustand zurueck
func (m *Manager) Status() (Status, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.modelPath, m.lastErr
}

// Handle gibt das geladene Modell zurueck, nil wenn keins geladen ist
func (m *Manager) Handle() Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle
}

// Load laedt das Modell am Pfad. Bereits geladen mit gleichem Pfad
// ist ein No-op; ein anderer Pfad entlaedt erst das alte Modell.
// Fehler gehen an den Aufrufer UND als Status-Event an den Bus.
func (m *Manager) Load(ctx context.Context, modelPath string) error {
	m.mu.Lock()
	if m.status == StatusLoaded && m.modelPath == modelPath {
		m.mu.Unlock()
		m.touch()
		return nil
	}
	if m.status == StatusLoading {
		m.mu.Unlock()
		return fmt.Errorf("%s slot is already loading", m.kind)
	}
	if m.handle != nil {
		m.unloadLocked()
	}
	m.status = StatusLoading
	m.modelPath = modelPath
	m.lastErr = nil
	m.mu.Unlock()
	m.publishStatus(StatusLoading, modelPath, nil)

	loadCtx, cancel := context.WithTimeout(ctx, envconfig.LoadTimeout())
	defer cancel()

	handle, err := m.loadFn(loadCtx, modelPath)

	m.mu.Lock()
	if err != nil {
		slog.Error("model load failed", "kind", m.kind, "model", modelPath, "error", err)
		m.status = StatusFailed
		m.lastErr = err
		m.mu.Unlock()
		m.publishStatus(StatusFailed, modelPath, err)
		return err
	}

	m.handle = handle
	m.status = StatusLoaded
	m.plan = Plan(m.vramFn())
	Apply(m.plan, handle)
	m.applyAdaptersLocked()
	m.mu.Unlock()

	m.publishStatus(StatusLoaded, modelPath, nil)
	m.touch()
	slog.Info("model loaded", "kind", m.kind, "model", modelPath)
	return nil
}

// EnsureLoaded ist die Pfad-Abgleich-Wache vor jeder Generierung:
// stimmt der geladene Pfad nicht mit dem konfigurierten ueberein,
// wird transparent neu geladen.
func (m *Manager) EnsureLoaded(ctx context.Context, modelPath string) error {
	m.mu.Lock()
	loaded := m.status == StatusLoaded
	current := m.modelPath
	m.mu.Unlock()

	if loaded && current == modelPath {
		m.touch()
		return nil
	}
	if loaded && current != modelPath {
		slog.Info("model path changed, reloading", "kind", m.kind, "old", current, "new", modelPath)
	}
	return m.Load(ctx, modelPath)
}

// Unload entlaedt den Slot. Auf einem leeren Slot ein No-op.
func (m *Manager) Unload() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle == nil && m.status != StatusFailed {
		return
	}
	path := m.modelPath
	m.unloadLocked()
	go m.publishStatus(StatusUnloaded, path, nil)
}

// unloadLocked gibt Handle und Timer frei. mu muss gehalten werden.
func (m *Manager) unloadLocked() {
	if m.expireTimer != nil {
		m.expireTimer.Stop()
		m.expireTimer = nil
	}
	if m.handle != nil {
		if err := m.handle.Close(); err != nil {
			slog.Warn("closing model handle", "kind", m.kind, "error", err)
		}
	}
	m.handle = nil
	m.status = StatusUnloaded
	m.modelPath = ""
	m.lastErr = nil
}

// SetAdapters setzt die LoRA-Pfade die nach jedem Load nachgeladen
// werden. Auf einem bereits geladenen Slot sofort angewendet.
func (m *Manager) SetAdapters(paths []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adapters = paths
	if m.status == StatusLoaded {
		m.applyAdaptersLocked()
	}
}

// applyAdaptersLocked laedt LoRA-Gewichte nach. Der Schritt ist vom
// Laden abtrennbar: ein Fehler laesst das Basismodell geladen und
// wird nur gewarnt. mu muss gehalten werden.
func (m *Manager) applyAdaptersLocked() {
	if len(m.adapters) == 0 {
		return
	}
	p, ok := m.handle.(diffusion.SupportsAdapters)
	if !ok {
		slog.Warn("adapters configured but model cannot load them", "kind", m.kind)
		return
	}
	for _, path := range m.adapters {
		if err := p.LoadLoRAWeights(path); err != nil {
			slog.Warn("loading adapter failed", "kind", m.kind, "adapter", path, "error", err)
			continue
		}
		slog.Info("adapter loaded", "kind", m.kind, "adapter", path)
	}
}

// SetKeepAlive setzt die Leerlauf-Dauer bis zum automatischen
// Entladen. Negativ bedeutet: nie entladen.
func (m *Manager) SetKeepAlive(d time.Duration) {
	m.mu.Lock()
	m.keepAlive = d
	m.mu.Unlock()
	m.touch()
}

// touch startet den Keep-Alive-Timer neu
func (m *Manager) touch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expireTimer != nil {
		m.expireTimer.Stop()
		m.expireTimer = nil
	}
	if m.status != StatusLoaded || m.keepAlive < 0 {
		return
	}
	m.expireTimer = time.AfterFunc(m.keepAlive, func() {
		slog.Info("model idle, unloading", "kind", m.kind, "keep_alive", m.keepAlive)
		m.Unload()
	})
}

func (m *Manager) publishStatus(status Status, path string, err error) {
	if m.bus == nil {
		return
	}
	ev := events.ModelStatusEvent{Kind: string(m.kind), Status: string(status), Path: path}
	if err != nil {
		ev.Error = err.Error()
	}
	m.bus.Publish(ev)
}
