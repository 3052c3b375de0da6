// orchestrator_test.go - Unit Tests fuer den Generierungs-Orchestrator
package llm

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/airunner/airunner/api"
	"github.com/airunner/airunner/events"
)

// fakeRunner streamt vorgegebene Token und respektiert den Kontext
type fakeRunner struct {
	tokens   []string
	err      error
	path     string
	ctxLen   int
	captured CompletionRequest
}

func (f *fakeRunner) Completion(ctx context.Context, req CompletionRequest, fn func(CompletionResponse)) error {
	f.captured = req
	for _, tok := range f.tokens {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		fn(CompletionResponse{Content: tok})
	}
	if f.err != nil {
		return f.err
	}
	fn(CompletionResponse{Done: true, DoneReason: DoneReasonStop})
	return nil
}

func (f *fakeRunner) ModelPath() string  { return f.path }
func (f *fakeRunner) ContextLength() int { return f.ctxLen }
func (f *fakeRunner) Close() error       { return nil }

// writeChatModel legt ein Modellverzeichnis an das die
// Vorab-Validierung besteht
func writeChatModel(t *testing.T, arch string) string {
	t.Helper()
	dir := t.TempDir()
	config := `{"architectures": ["` + arch + `"], "max_position_embeddings": 4096}`
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(config), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func collectEvents(o *Orchestrator) *[]api.TokenEvent {
	var got []api.TokenEvent
	o.SetCallback(func(ev api.TokenEvent) {
		got = append(got, ev)
	})
	return &got
}

// TestStreamingSequence testet Sequenznummern, First-Flag und genau
// ein Done-Event pro Aufruf
func TestStreamingSequence(t *testing.T) {
	runner := &fakeRunner{
		tokens: []string{"Hal", "lo ", "Welt"},
		path:   writeChatModel(t, "LlamaForCausalLM"),
		ctxLen: 4096,
	}
	o := NewOrchestrator(runner, nil)
	got := collectEvents(o)

	resp, err := o.Generate(context.Background(), "req-1", api.ChatRequest{
		Messages: []api.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Generate fehlgeschlagen: %v", err)
	}
	if resp.Message.Content != "Hallo Welt" {
		t.Errorf("Content = %q, erwartet Hallo Welt", resp.Message.Content)
	}
	if resp.DoneReason != "stop" {
		t.Errorf("DoneReason = %q, erwartet stop", resp.DoneReason)
	}

	events := *got
	if len(events) != 4 {
		t.Fatalf("Events = %d, erwartet 4 (3 Token + Terminal)", len(events))
	}
	var doneCount int
	for i, ev := range events {
		if ev.Seq != uint64(i) {
			t.Errorf("Seq[%d] = %d, nicht streng monoton", i, ev.Seq)
		}
		if (ev.First && i != 0) || (!ev.First && i == 0) {
			t.Errorf("First-Flag bei Event %d falsch", i)
		}
		if ev.RequestID != "req-1" {
			t.Errorf("RequestID[%d] = %q", i, ev.RequestID)
		}
		if ev.Done {
			doneCount++
		}
	}
	if doneCount != 1 {
		t.Errorf("Done-Events = %d, erwartet genau 1", doneCount)
	}
	if !events[len(events)-1].Done {
		t.Error("letztes Event muss Done tragen")
	}
	if o.State() != StateIdle {
		t.Errorf("State = %q, erwartet idle nach Cleanup", o.State())
	}
}

// TestInterruptMidStream testet den kooperativen Abbruch: keine
// weiteren Token nach dem Interrupt, genau ein Terminal-Event
func TestInterruptMidStream(t *testing.T) {
	runner := &fakeRunner{
		tokens: []string{"a", "b", "c", "d", "e", "f", "g", "h"},
		path:   writeChatModel(t, "LlamaForCausalLM"),
		ctxLen: 4096,
	}
	o := NewOrchestrator(runner, nil)

	var got []api.TokenEvent
	o.SetCallback(func(ev api.TokenEvent) {
		got = append(got, ev)
		if len(got) == 3 {
			o.Interrupt()
		}
	})

	resp, err := o.Generate(context.Background(), "req-2", api.ChatRequest{
		Messages: []api.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Interrupt darf keinen Fehler liefern: %v", err)
	}
	if resp.DoneReason != "interrupted" {
		t.Errorf("DoneReason = %q, erwartet interrupted", resp.DoneReason)
	}

	if len(got) != 4 {
		t.Fatalf("Events = %d, erwartet 3 Token + 1 Terminal", len(got))
	}
	last := got[len(got)-1]
	if !last.Done || last.Content != "" {
		t.Errorf("Terminal-Event = %+v, erwartet leeres Done-Event", last)
	}
	for _, ev := range got[:3] {
		if ev.Done {
			t.Error("Done-Event vor dem Terminal-Event")
		}
	}
}

// TestErrorNormalizedIntoStream testet dass Stream-Fehler nie als
// error propagieren sondern als Meldung im Stream landen
func TestErrorNormalizedIntoStream(t *testing.T) {
	runner := &fakeRunner{
		tokens: []string{"Teil"},
		err:    errors.New("CUDA out of memory"),
		path:   writeChatModel(t, "LlamaForCausalLM"),
		ctxLen: 4096,
	}
	bus := events.NewBus()
	errCh, cancel := bus.Subscribe()
	defer cancel()

	o := NewOrchestrator(runner, bus)
	got := collectEvents(o)

	resp, err := o.Generate(context.Background(), "req-3", api.ChatRequest{
		Messages: []api.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Stream-Fehler darf nicht propagieren: %v", err)
	}
	if !resp.Done || resp.DoneReason != "error" {
		t.Errorf("Response = %+v, erwartet wohlgeformtes Fehler-Ergebnis", resp)
	}

	evts := *got
	last := evts[len(evts)-1]
	if !last.Done || last.Error == "" {
		t.Errorf("Terminal-Event = %+v, erwartet Done mit Fehlermeldung", last)
	}

	// GenerationErrorEvent muss auf dem Bus liegen; Publish laeuft
	// synchron vor der Rueckkehr von Generate
	found := false
	for drained := false; !drained; {
		select {
		case ev := <-errCh:
			if _, ok := ev.(events.GenerationErrorEvent); ok {
				found = true
			}
		default:
			drained = true
		}
	}
	if !found {
		t.Error("GenerationErrorEvent fehlt auf dem Bus")
	}
}

// TestPreflightRejectsEmbeddingModel testet die Vorab-Validierung
func TestPreflightRejectsEmbeddingModel(t *testing.T) {
	runner := &fakeRunner{
		path:   writeChatModel(t, "BertModel"),
		ctxLen: 4096,
	}
	o := NewOrchestrator(runner, nil)
	got := collectEvents(o)

	_, err := o.Generate(context.Background(), "req-4", api.ChatRequest{})
	if err == nil {
		t.Fatal("Embedding-Modell muss abgelehnt werden")
	}
	if len(*got) != 0 {
		t.Error("Vorab-Fehler darf keine Events streamen")
	}
}

// TestTokenBudgetClamp testet die Kappung an der Kontextlaenge
func TestTokenBudgetClamp(t *testing.T) {
	runner := &fakeRunner{
		path:   writeChatModel(t, "LlamaForCausalLM"),
		ctxLen: 4096,
	}
	o := NewOrchestrator(runner, nil)

	_, err := o.Generate(context.Background(), "req-5", api.ChatRequest{
		MaxTokens: 100000,
		Messages:  []api.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Generate fehlgeschlagen: %v", err)
	}
	if runner.captured.MaxTokens != 4096 {
		t.Errorf("MaxTokens = %d, erwartet Kappung auf 4096", runner.captured.MaxTokens)
	}
}

// TestTokenBudgetUnknownContext testet dass ohne bekannte
// Kontextlaenge nicht auf 0 gekappt wird
func TestTokenBudgetUnknownContext(t *testing.T) {
	runner := &fakeRunner{
		path:   writeChatModel(t, "LlamaForCausalLM"),
		ctxLen: 0,
	}
	o := NewOrchestrator(runner, nil)

	_, err := o.Generate(context.Background(), "req-5b", api.ChatRequest{
		MaxTokens: 50,
		Messages:  []api.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Generate fehlgeschlagen: %v", err)
	}
	if runner.captured.MaxTokens != 50 {
		t.Errorf("MaxTokens = %d, erwartet unveraenderte 50", runner.captured.MaxTokens)
	}
}

// TestForcedToolSelection testet die erzwungene Tool-Wahl: der Filter
// kennt nur das erzwungene Tool und der Prompt traegt die Anweisung
func TestForcedToolSelection(t *testing.T) {
	runner := &fakeRunner{
		tokens: []string{`{"name": "get_weather", "arguments": {"city": "Berlin"}}`},
		path:   writeChatModel(t, "LlamaForCausalLM"),
		ctxLen: 4096,
	}
	o := NewOrchestrator(runner, nil)

	resp, err := o.Generate(context.Background(), "req-8", api.ChatRequest{
		Messages: []api.Message{{Role: "user", Content: "Wetter?"}},
		Tools: api.Tools{
			{Function: api.ToolFunction{Name: "search"}},
			{Function: api.ToolFunction{Name: "get_weather"}},
		},
		ForceTool: "get_weather",
	})
	if err != nil {
		t.Fatalf("Generate fehlgeschlagen: %v", err)
	}
	if len(resp.ExecutedTools) != 1 || resp.ExecutedTools[0] != "get_weather" {
		t.Errorf("ExecutedTools = %v, erwartet [get_weather]", resp.ExecutedTools)
	}
	if !strings.Contains(runner.captured.Prompt, `"get_weather"`) {
		t.Errorf("Prompt = %q, erzwungenes Tool fehlt in der Anweisung", runner.captured.Prompt)
	}
}

// TestForcedToolUnknown testet die Ablehnung eines nicht angebotenen
// erzwungenen Tools
func TestForcedToolUnknown(t *testing.T) {
	runner := &fakeRunner{
		path:   writeChatModel(t, "LlamaForCausalLM"),
		ctxLen: 4096,
	}
	o := NewOrchestrator(runner, nil)
	got := collectEvents(o)

	_, err := o.Generate(context.Background(), "req-9", api.ChatRequest{
		Messages:  []api.Message{{Role: "user", Content: "hi"}},
		Tools:     api.Tools{{Function: api.ToolFunction{Name: "search"}}},
		ForceTool: "get_weather",
	})
	if err == nil {
		t.Fatal("unbekanntes erzwungenes Tool muss abgelehnt werden")
	}
	if len(*got) != 0 {
		t.Error("Vorab-Fehler darf keine Events streamen")
	}
}

// TestToolCallFiltering testet dass Tool-Aufrufe nie als sichtbarer
// Text gestreamt werden aber als ausgefuehrt gemeldet sind
func TestToolCallFiltering(t *testing.T) {
	runner := &fakeRunner{
		tokens: []string{`{"name": "get_weath`, `er", "arguments": {"city": "Berlin"}}`},
		path:   writeChatModel(t, "LlamaForCausalLM"),
		ctxLen: 4096,
	}
	o := NewOrchestrator(runner, nil)
	got := collectEvents(o)

	resp, err := o.Generate(context.Background(), "req-6", api.ChatRequest{
		Messages: []api.Message{{Role: "user", Content: "Wetter?"}},
		Tools:    api.Tools{{Function: api.ToolFunction{Name: "get_weather"}}},
	})
	if err != nil {
		t.Fatalf("Generate fehlgeschlagen: %v", err)
	}
	if resp.Message.Content != "" {
		t.Errorf("Content = %q, Tool-Syntax darf nicht sichtbar sein", resp.Message.Content)
	}
	if len(resp.ExecutedTools) != 1 || resp.ExecutedTools[0] != "get_weather" {
		t.Errorf("ExecutedTools = %v, erwartet [get_weather]", resp.ExecutedTools)
	}
	for _, ev := range *got {
		if !ev.Done && ev.Content != "" {
			t.Errorf("sichtbares Token %q trotz Tool-Aufruf", ev.Content)
		}
	}
}

// TestActionMarkerTruncation testet die ReAct-Kappung des sichtbaren
// Inhalts
func TestActionMarkerTruncation(t *testing.T) {
	runner := &fakeRunner{
		tokens: []string{"Ich pruefe das Wetter.", "\nAction: get_weather(Berlin)"},
		path:   writeChatModel(t, "LlamaForCausalLM"),
		ctxLen: 4096,
	}
	o := NewOrchestrator(runner, nil)

	resp, err := o.Generate(context.Background(), "req-7", api.ChatRequest{
		Messages: []api.Message{{Role: "user", Content: "Wetter?"}},
	})
	if err != nil {
		t.Fatalf("Generate fehlgeschlagen: %v", err)
	}
	if resp.Message.Content != "Ich pruefe das Wetter." {
		t.Errorf("Content = %q, Action-Marker nicht gekappt", resp.Message.Content)
	}
}
