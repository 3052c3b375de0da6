// sched.go - Worker-Scheduler fuer die Generierungs-Subsysteme
//
// Diese Datei enthaelt:
// - Scheduler: ein Hintergrund-Worker pro Handler-Typ, FIFO-Queue
// - Submit/Interrupt: Einreihen und kooperatives Abbrechen
//
// Kein Thread-Pool: jeder Worker besitzt seinen Model-Slot exklusiv
// und verarbeitet genau eine Anfrage zur Zeit, in Einreichungs-
// Reihenfolge. Ein Interrupt stoppt den laufenden Aufruf kooperativ
// und leert zusaetzlich die Warteschlange des Workers.
package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/airunner/airunner/envconfig"
)

// ErrMaxQueue wird zurueckgegeben wenn die Warteschlange voll ist
var ErrMaxQueue = errors.New("server busy, please try again. maximum pending requests exceeded")

// task ist eine eingereihte Arbeitseinheit. Genau einer der beiden
// Wege laeuft: run bei Ausfuehrung, abort wenn die Einheit verworfen
// wird (Interrupt oder vorab abgebrochener Request-Kontext).
type task struct {
	ctx   context.Context //nolint:containedctx
	run   func(ctx context.Context)
	abort func()
}

func (t *task) dropped() {
	if t.abort != nil {
		t.abort()
	}
}

// Scheduler verteilt Anfragen auf die Worker der Handler-Typen
type Scheduler struct {
	mu     sync.Mutex
	queues map[HandlerKind]chan *task

	// interruptFns stoppen nach dem Leeren der Queue den laufenden
	// Aufruf kooperativ; gesetzt vom Worker fuer die Dauer eines Aufrufs
	interruptFns map[HandlerKind]func()
}

// NewScheduler erstellt einen Scheduler mit leeren Queues
func NewScheduler() *Scheduler {
	maxQueue := envconfig.MaxQueue()
	queues := make(map[HandlerKind]chan *task)
	for _, kind := range []HandlerKind{KindDiffusion, KindChat, KindVision} {
		queues[kind] = make(chan *task, maxQueue)
	}
	return &Scheduler{
		queues:       queues,
		interruptFns: make(map[HandlerKind]func()),
	}
}

// Run startet einen Worker pro Handler-Typ und blockiert bis ctx
// beendet wird
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for kind, queue := range s.queues {
		wg.Add(1)
		go func(kind HandlerKind, queue chan *task) {
			defer wg.Done()
			s.worker(ctx, kind, queue)
		}(kind, queue)
	}
	wg.Wait()
}

func (s *Scheduler) worker(ctx context.Context, kind HandlerKind, queue chan *task) {
	slog.Debug("scheduler worker started", "kind", kind)
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-queue:
			if t.ctx.Err() != nil {
				// Anfrage wurde vor der Ausfuehrung abgebrochen
				t.dropped()
				continue
			}
			t.run(t.ctx)
		}
	}
}

// Submit reiht eine Arbeitseinheit in die FIFO-Queue des Workers ein.
// Gibt ErrMaxQueue zurueck wenn die Queue voll ist. abort (optional)
// wird aufgerufen wenn die Einheit verworfen statt ausgefuehrt wird;
// wartende Konsumenten bekommen so immer einen Abschluss.
func (s *Scheduler) Submit(ctx context.Context, kind HandlerKind, run func(ctx context.Context), abort func()) error {
	queue, ok := s.queues[kind]
	if !ok {
		return errors.New("unknown handler kind: " + string(kind))
	}
	select {
	case queue <- &task{ctx: ctx, run: run, abort: abort}:
		return nil
	default:
		return ErrMaxQueue
	}
}

// SetInterrupt registriert den Abbruch-Hook fuer den laufenden
// Aufruf des Handler-Typs; nil loescht ihn
func (s *Scheduler) SetInterrupt(kind HandlerKind, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		delete(s.interruptFns, kind)
		return
	}
	s.interruptFns[kind] = fn
}

// Interrupt leert die Warteschlange des Handler-Typs und stoesst den
// kooperativen Abbruch des laufenden Aufrufs an. Gibt die Anzahl
// verworfener Anfragen zurueck.
func (s *Scheduler) Interrupt(kind HandlerKind) int {
	queue, ok := s.queues[kind]
	if !ok {
		return 0
	}

	dropped := 0
	for {
		select {
		case t := <-queue:
			dropped++
			t.dropped()
		default:
			s.mu.Lock()
			fn := s.interruptFns[kind]
			s.mu.Unlock()
			if fn != nil {
				fn()
			}
			if dropped > 0 {
				slog.Info("interrupt cleared pending work", "kind", kind, "dropped", dropped)
			}
			return dropped
		}
	}
}

// Pending gibt die Anzahl wartender Anfragen eines Handler-Typs
// zurueck
func (s *Scheduler) Pending(kind HandlerKind) int {
	if queue, ok := s.queues[kind]; ok {
		return len(queue)
	}
	return 0
}
