// orchestrator.go - Ausfuehrung eines einzelnen Generierungsaufrufs
//
// Diese Datei enthaelt:
// - Orchestrator: IDLE -> STREAMING -> {COMPLETED|INTERRUPTED|ERRORED}
// - Generate: streamt Token mit Sequenznummern, filtert Tool-Aufrufe
//   und normalisiert Fehler in den Stream
//
// Cleanup (Callback loeschen, Interrupt-Flag ruecksetzen, Zustand auf
// IDLE) laeuft ueber defer auf jedem Pfad. Fehler waehrend des
// Streamens erreichen den Aufrufer nie als error: sie werden als
// synthetische Fehlermeldung ueber denselben Stream geliefert, damit
// bereits gelieferte Teilergebnisse nicht widerrufen werden.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/airunner/airunner/api"
	"github.com/airunner/airunner/events"
)

// State ist der Zustand des Orchestrators
type State string

const (
	StateIdle        State = "idle"
	StateStreaming   State = "streaming"
	StateCompleted   State = "completed"
	StateInterrupted State = "interrupted"
	StateErrored     State = "errored"
)

// actionMarker ist der ReAct-Delimiter: ab hier ist der Inhalt
// Tool-Syntax und darf den Nutzer nie erreichen
const actionMarker = "\nAction:"

// Orchestrator fuehrt genau einen Generierungsaufruf zur Zeit aus
type Orchestrator struct {
	runner Runner
	bus    *events.Bus

	mu       sync.Mutex
	state    State
	callback func(api.TokenEvent)

	interrupted atomic.Bool
}

// NewOrchestrator erstellt einen Orchestrator fuer den Runner
func NewOrchestrator(runner Runner, bus *events.Bus) *Orchestrator {
	return &Orchestrator{runner: runner, bus: bus, state: StateIdle}
}

// State gibt den aktuellen Zustand zurueck
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// SetCallback registriert den Single-Slot-Callback fuer Token-Events.
// Der Callback laeuft auf der Worker-Goroutine und darf nicht blockieren.
func (o *Orchestrator) SetCallback(fn func(api.TokenEvent)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.callback = fn
}

// Interrupt setzt das kooperative Abbruch-Flag. Der laufende Aufruf
// stoppt am naechsten Token; es gibt keinen praeemptiven Abbruch.
func (o *Orchestrator) Interrupt() {
	o.interrupted.Store(true)
}

// Generate fuehrt einen Chat-Aufruf aus und streamt Token an den
// registrierten Callback und den Event-Bus.
//
// Fehler vor dem Streamen (Validierung) kommen als error zurueck.
// Fehler waehrend des Streamens liefern ein leeres, wohlgeformtes
// Ergebnis mit nil error; die Meldung steht im Stream.
func (o *Orchestrator) Generate(ctx context.Context, requestID string, req api.ChatRequest) (api.ChatResponse, error) {
	// Vorab-Validierung: faellt frueh und verstaendlich aus
	if err := ValidateChatModel(o.runner.ModelPath()); err != nil {
		return api.ChatResponse{}, err
	}

	// Erzwungene Tool-Wahl: das Tool muss angeboten sein; danach kennt
	// der Filter nur noch dieses eine Tool
	if req.ForceTool != "" {
		forced, ok := findTool(req.Tools, req.ForceTool)
		if !ok {
			return api.ChatResponse{}, fmt.Errorf("forced tool %q is not among the provided tools", req.ForceTool)
		}
		req.Tools = api.Tools{forced}
	}

	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return api.ChatResponse{}, fmt.Errorf("orchestrator busy: state %s", o.state)
	}
	o.state = StateStreaming
	callback := o.callback
	o.mu.Unlock()

	// Token-Budget kappen; ohne bekannte Kontextlaenge keine Kappung
	if ctxLen := o.runner.ContextLength(); ctxLen > 0 && req.MaxTokens > ctxLen {
		slog.Warn("max_tokens exceeds model context length, clamping",
			"requested", req.MaxTokens, "context", ctxLen)
		req.MaxTokens = ctxLen
	}

	final := StateCompleted
	defer func() {
		o.mu.Lock()
		o.state = StateIdle
		o.callback = nil
		o.mu.Unlock()
		o.interrupted.Store(false)
		slog.Debug("generation call finished", "request", requestID, "state", final)
	}()

	var seq uint64
	var doneSent bool
	emit := func(ev api.TokenEvent) {
		ev.RequestID = requestID
		ev.Seq = seq
		ev.First = seq == 0
		seq++
		if ev.Done {
			doneSent = true
		}
		if callback != nil {
			callback(ev)
		}
		if o.bus != nil {
			o.bus.Publish(events.TokenStreamedEvent{
				RequestID: ev.RequestID,
				Seq:       ev.Seq,
				Content:   ev.Content,
				First:     ev.First,
				Done:      ev.Done,
			})
		}
	}

	var parser *toolStreamFilter
	if len(req.Tools) > 0 {
		parser = newToolStreamFilter(req.Tools)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var visible strings.Builder
	var doneReason string

	err := o.runner.Completion(streamCtx, completionRequest(req), func(c CompletionResponse) {
		if o.interrupted.Load() {
			cancel()
			return
		}
		if c.Done {
			doneReason = c.DoneReason.String()
			return
		}

		content := c.Content
		if parser != nil {
			content = parser.filter(content)
		}
		if content == "" {
			return
		}
		visible.WriteString(content)
		emit(api.TokenEvent{Content: content})
	})

	resp := api.ChatResponse{
		Model: o.runner.ModelPath(),
		Done:  true,
	}

	switch {
	case o.interrupted.Load():
		// Abbruch: keine weiteren Token, genau ein terminales Event
		final = StateInterrupted
		resp.DoneReason = "interrupted"
		emit(api.TokenEvent{Done: true})

	case err != nil && ctx.Err() == nil:
		// Fehler waehrend des Streamens: loggen, in den Stream
		// normalisieren, wohlgeformtes leeres Ergebnis liefern
		final = StateErrored
		slog.Error("generation failed", "request", requestID, "error", err)
		msg := fmt.Sprintf("An error occurred during generation: %v", err)
		if o.bus != nil {
			o.bus.Publish(events.GenerationErrorEvent{RequestID: requestID, Message: msg})
		}
		resp.DoneReason = "error"
		emit(api.TokenEvent{Content: msg, Error: msg, Done: true})

	case err != nil:
		// Aufrufer hat den Kontext beendet
		final = StateInterrupted
		resp.DoneReason = "canceled"
		emit(api.TokenEvent{Done: true})

	default:
		final = StateCompleted
		content := visible.String()
		// Tool-Syntax hinter dem Action-Marker nie ausliefern
		if i := strings.Index(content, actionMarker); i >= 0 {
			content = content[:i]
		}
		resp.Message = api.Message{Role: "assistant", Content: content}
		resp.DoneReason = doneReason
		if resp.DoneReason == "" {
			resp.DoneReason = "stop"
		}
		if parser != nil {
			resp.ExecutedTools = parser.executed()
		}
		emit(api.TokenEvent{Done: true})
	}

	if !doneSent {
		emit(api.TokenEvent{Done: true})
	}
	return resp, nil
}

// completionRequest uebersetzt den Chat-Request in den Runner-Request
func completionRequest(req api.ChatRequest) CompletionRequest {
	return CompletionRequest{
		Prompt:      renderPrompt(req),
		Format:      req.Format,
		Images:      req.Images,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		TopK:        req.TopK,
	}
}

// renderPrompt baut den flachen Prompt aus den Chat-Nachrichten.
// Ein System-Override ersetzt alle System-Nachrichten des Verlaufs.
func renderPrompt(req api.ChatRequest) string {
	var sb strings.Builder
	if req.System != "" {
		sb.WriteString("<|system|>\n")
		sb.WriteString(req.System)
		sb.WriteString("\n")
	}
	for _, msg := range req.Messages {
		if msg.Role == "system" && req.System != "" {
			continue
		}
		sb.WriteString("<|")
		sb.WriteString(msg.Role)
		sb.WriteString("|>\n")
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}
	if req.ForceTool != "" {
		sb.WriteString("<|system|>\nRespond with a call to the \"")
		sb.WriteString(req.ForceTool)
		sb.WriteString("\" tool.\n")
	}
	sb.WriteString("<|assistant|>\n")
	return sb.String()
}

// findTool sucht ein angebotenes Tool nach Namen
func findTool(ts api.Tools, name string) (api.Tool, bool) {
	for _, t := range ts {
		if t.Function.Name == name {
			return t, true
		}
	}
	return api.Tool{}, false
}
