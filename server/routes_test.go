// routes_test.go - Unit Tests fuer die HTTP-Endpunkte
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/airunner/airunner/api"
	"github.com/airunner/airunner/llm"
	"github.com/airunner/airunner/settings"
)

func testServerRouter(t *testing.T, store *settings.Store, managers map[HandlerKind]*Manager, sched *Scheduler) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if sched == nil {
		sched = NewScheduler()
	}
	s := NewServer(store, sched, nil, managers)
	return s.GenerateRoutes()
}

func testStoreWithModels(t *testing.T, models ...settings.AIModel) *settings.Store {
	t.Helper()
	store, err := settings.Open(filepath.Join(t.TempDir(), "settings.db"))
	if err != nil {
		t.Fatalf("Open fehlgeschlagen: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	for _, m := range models {
		if err := store.UpsertModel(m); err != nil {
			t.Fatalf("UpsertModel fehlgeschlagen: %v", err)
		}
	}
	return store
}

// writeRunnerModel legt ein Modellverzeichnis mit config.json an
func writeRunnerModel(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := `{"architectures": ["MistralForCausalLM"], "max_position_embeddings": 4096}`
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

// postChat schickt eine nicht-streamende Chat-Anfrage
func postChat(router *gin.Engine, model string) *httptest.ResponseRecorder {
	body := `{"model": "` + model + `", "stream": false, "messages": [{"role": "user", "content": "hi"}]}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

// blockingRunner haelt Completion bis release geschlossen wird.
// Implementiert Handle und llm.Runner zugleich.
type blockingRunner struct {
	path      string
	startOnce sync.Once
	started   chan struct{}
	release   chan struct{}
}

func newBlockingRunner(path string) *blockingRunner {
	return &blockingRunner{path: path, started: make(chan struct{}), release: make(chan struct{})}
}

func (r *blockingRunner) Completion(ctx context.Context, req llm.CompletionRequest, fn func(llm.CompletionResponse)) error {
	r.startOnce.Do(func() { close(r.started) })
	select {
	case <-r.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	fn(llm.CompletionResponse{Content: "ok"})
	fn(llm.CompletionResponse{Done: true, DoneReason: llm.DoneReasonStop})
	return nil
}

func (r *blockingRunner) ModelPath() string  { return r.path }
func (r *blockingRunner) ContextLength() int { return 4096 }
func (r *blockingRunner) Close() error       { return nil }

// TestStatusEndpoint testet GET /api/status ueber alle Slots
func TestStatusEndpoint(t *testing.T) {
	m, _, _ := testManager(nil)
	if err := m.Load(context.Background(), "/models/a"); err != nil {
		t.Fatal(err)
	}
	router := testServerRouter(t, nil, map[HandlerKind]*Manager{KindChat: m}, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, erwartet 200", w.Code)
	}
	var resp api.StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Antwort nicht parsebar: %v", err)
	}
	if len(resp.Slots) != 1 {
		t.Fatalf("Slots = %d, erwartet 1", len(resp.Slots))
	}
	slot := resp.Slots[0]
	if slot.Kind != "chat" || slot.Status != "loaded" || slot.ModelPath != "/models/a" {
		t.Errorf("Slot = %+v", slot)
	}
}

// TestInterruptEndpoint testet POST /api/interrupt mit Handler-Typ
func TestInterruptEndpoint(t *testing.T) {
	t.Setenv("AIRUNNER_MAX_QUEUE", "8")
	sched := NewScheduler()
	// Kein Worker laeuft: die Anfragen bleiben in der Queue
	for i := 0; i < 2; i++ {
		if err := sched.Submit(context.Background(), KindChat, func(ctx context.Context) {}, nil); err != nil {
			t.Fatal(err)
		}
	}
	router := testServerRouter(t, nil, nil, sched)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/interrupt", strings.NewReader(`{"kind": "chat"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, erwartet 200", w.Code)
	}
	var resp struct {
		Interrupted bool `json:"interrupted"`
		Dropped     int  `json:"dropped"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Interrupted || resp.Dropped != 2 {
		t.Errorf("Antwort = %+v, erwartet 2 verworfene Anfragen", resp)
	}
}

// TestChatLoadWaitsForRunningStream testet dass ein Modellwechsel
// sich hinter die laufende Generierung einordnet statt das Modell
// unter dem aktiven Stream zu entladen
func TestChatLoadWaitsForRunningStream(t *testing.T) {
	dirA := writeRunnerModel(t)
	dirB := writeRunnerModel(t)

	runners := map[string]*blockingRunner{
		dirA: newBlockingRunner(dirA),
		dirB: newBlockingRunner(dirB),
	}
	// Nur die erste Generierung blockiert
	close(runners[dirB].release)

	var mu sync.Mutex
	var loads []string
	mgr := NewManager(KindChat, func(ctx context.Context, path string) (Handle, error) {
		mu.Lock()
		loads = append(loads, path)
		mu.Unlock()
		return runners[path], nil
	}, nil)

	store := testStoreWithModels(t,
		settings.AIModel{Name: "alpha", Path: dirA, Category: "llm", Enabled: true},
		settings.AIModel{Name: "beta", Path: dirB, Category: "llm", Enabled: true},
	)

	sched := NewScheduler()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	router := testServerRouter(t, store, map[HandlerKind]*Manager{KindChat: mgr}, sched)

	done := make(chan *httptest.ResponseRecorder, 2)
	go func() { done <- postChat(router, "alpha") }()
	<-runners[dirA].started

	// Zweite Anfrage mit anderem Modell waehrend alpha noch streamt
	go func() { done <- postChat(router, "beta") }()

	// beta darf nicht laden solange alpha generiert
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	n := len(loads)
	mu.Unlock()
	if n != 1 {
		t.Fatalf("Ladevorgaenge waehrend laufendem Stream = %d, erwartet 1", n)
	}

	close(runners[dirA].release)
	for i := 0; i < 2; i++ {
		w := <-done
		if w.Code != http.StatusOK {
			t.Fatalf("Status = %d, erwartet 200", w.Code)
		}
		var resp api.ChatResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if resp.DoneReason != "stop" {
			t.Errorf("DoneReason = %q, Antwort = %+v", resp.DoneReason, resp)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(loads) != 2 || loads[0] != dirA || loads[1] != dirB {
		t.Errorf("Ladereihenfolge = %v, erwartet [%s %s]", loads, dirA, dirB)
	}
}

// TestDroppedChatRequestCompletes testet dass eine per Interrupt
// verworfene Anfrage eine Fehler-Antwort bekommt statt zu haengen
func TestDroppedChatRequestCompletes(t *testing.T) {
	dir := writeRunnerModel(t)
	store := testStoreWithModels(t,
		settings.AIModel{Name: "alpha", Path: dir, Category: "llm", Enabled: true})

	// Kein Worker laeuft: die Anfrage bleibt in der Queue
	sched := NewScheduler()
	mgr := NewManager(KindChat, func(ctx context.Context, path string) (Handle, error) {
		t.Error("verworfene Anfrage darf kein Modell laden")
		return nil, nil
	}, nil)
	router := testServerRouter(t, store, map[HandlerKind]*Manager{KindChat: mgr}, sched)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() { done <- postChat(router, "alpha") }()

	for i := 0; sched.Pending(KindChat) == 0 && i < 100; i++ {
		time.Sleep(10 * time.Millisecond)
	}
	if dropped := sched.Interrupt(KindChat); dropped != 1 {
		t.Fatalf("dropped = %d, erwartet 1", dropped)
	}

	select {
	case w := <-done:
		if w.Code != http.StatusOK {
			t.Fatalf("Status = %d, erwartet 200", w.Code)
		}
		var resp api.ChatResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if resp.DoneReason != "error" {
			t.Errorf("DoneReason = %q, erwartet error", resp.DoneReason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("verworfene Anfrage haengt ohne Abschluss")
	}
}
