// Package events - Engine-Event-Bus
//
// Diese Datei enthaelt:
// - Event-Typen (ModelStatusEvent, TokenStreamedEvent, GenerationErrorEvent)
// - Bus: Fan-out an Subscriber ohne Blockieren der Worker
//
// Die Worker-Threads publizieren hier; die Zustellung an Konsumenten
// (HTTP-Streams, UI) laeuft ueber gepufferte Channels, damit ein
// langsamer Konsument niemals eine laufende Generierung blockiert.
package events

import (
	"log/slog"
	"sync"
)

// Event ist ein benanntes Engine-Event
type Event interface {
	Name() string
}

// ModelStatusEvent meldet einen Statuswechsel eines Model-Slots
type ModelStatusEvent struct {
	Kind   string // Handler-Typ (diffusion, chat, vision)
	Status string // unloaded, loading, loaded, failed
	Path   string
	Error  string // gesetzt bei failed
}

func (ModelStatusEvent) Name() string { return "model-status-changed" }

// TokenStreamedEvent ist ein gestreamtes Nachrichtenfragment
type TokenStreamedEvent struct {
	RequestID string
	Seq       uint64
	Content   string
	First     bool
	Done      bool
}

func (TokenStreamedEvent) Name() string { return "generation-token-streamed" }

// GenerationErrorEvent meldet einen Generierungsfehler
type GenerationErrorEvent struct {
	RequestID string
	Message   string
}

func (GenerationErrorEvent) Name() string { return "generation-error" }

// Bus verteilt Events an Subscriber
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registriert einen Konsumenten. Der zurueckgegebene Cancel
// muss aufgerufen werden, sonst leakt der Channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, 256)
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

// Publish stellt ein Event an alle Subscriber zu. Volle Subscriber
// verlieren das Event statt den Publisher zu blockieren.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			slog.Warn("event subscriber is not keeping up, dropping event", "event", e.Name())
		}
	}
}
