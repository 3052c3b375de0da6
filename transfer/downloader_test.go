// downloader_test.go - Unit Tests fuer den Download-Worker
package transfer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testServer(t *testing.T, files map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Pfadform: /<repo>/resolve/main/<file>
		parts := strings.SplitN(r.URL.Path, "/resolve/main/", 2)
		if len(parts) != 2 {
			http.NotFound(w, r)
			return
		}
		body, ok := files[parts[1]]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// TestFetchDownloadsFiles testet einen kompletten Auftrag inklusive
// Verzeichnis-Anlage und verschachtelter Pfade
func TestFetchDownloadsFiles(t *testing.T) {
	srv := testServer(t, map[string]string{
		"config.json":            `{"model_type": "mistral"}`,
		"unet/model.safetensors": "weights",
	})

	d := NewDownloaderWithBase(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	dir := filepath.Join(t.TempDir(), "mistral-7b")
	err := d.Fetch(ctx, "org/mistral-7b", dir, []string{"config.json", "unet/model.safetensors"})
	if err != nil {
		t.Fatalf("Fetch fehlgeschlagen: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "unet", "model.safetensors"))
	if err != nil {
		t.Fatalf("heruntergeladene Datei fehlt: %v", err)
	}
	if string(data) != "weights" {
		t.Errorf("Inhalt = %q, erwartet %q", data, "weights")
	}
}

// TestFetchSkipsExisting testet dass vorhandene Dateien nicht erneut
// geladen werden
func TestFetchSkipsExisting(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, "fresh")
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte("cached"), 0o644); err != nil {
		t.Fatal(err)
	}

	d := NewDownloaderWithBase(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	if err := d.Fetch(ctx, "org/model", dir, []string{"config.json"}); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 0 {
		t.Errorf("Server-Zugriffe = %d, erwartet 0", hits.Load())
	}
	data, _ := os.ReadFile(filepath.Join(dir, "config.json"))
	if string(data) != "cached" {
		t.Errorf("vorhandene Datei wurde ueberschrieben: %q", data)
	}
}

// TestFetchMissingFile testet die Fehlermeldung bei 404
func TestFetchMissingFile(t *testing.T) {
	srv := testServer(t, map[string]string{})

	d := NewDownloaderWithBase(srv.URL)
	// Ohne Wartezeit zwischen Wiederholungen dauert der Test sonst
	// mehrere Sekunden
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	fetchCtx, fetchCancel := context.WithTimeout(ctx, 10*time.Second)
	defer fetchCancel()
	err := d.Fetch(fetchCtx, "org/model", t.TempDir(), []string{"missing.json"})
	if err == nil {
		t.Fatal("Fetch sollte bei 404 fehlschlagen")
	}
}

// TestFetchModelListsRepo testet Listen-Abruf plus Download
func TestFetchModelListsRepo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/models/"):
			fmt.Fprint(w, `{"siblings": [{"rfilename": "config.json"}, {"rfilename": "model.safetensors"}]}`)
		case strings.Contains(r.URL.Path, "/resolve/main/"):
			fmt.Fprint(w, "data")
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	d := NewDownloaderWithBase(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	dir := t.TempDir()
	if err := d.FetchModel(ctx, "org/model", dir); err != nil {
		t.Fatalf("FetchModel fehlgeschlagen: %v", err)
	}
	for _, name := range []string{"config.json", "model.safetensors"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("Datei %s fehlt: %v", name, err)
		}
	}
}

// TestQueueFull testet ErrQueueFull ohne laufenden Worker
func TestQueueFull(t *testing.T) {
	d := NewDownloaderWithBase("http://127.0.0.1:0")
	for i := 0; i < cap(d.queue); i++ {
		if err := d.Queue(Request{RepoID: "org/model"}); err != nil {
			t.Fatalf("Queue %d fehlgeschlagen: %v", i, err)
		}
	}
	if err := d.Queue(Request{RepoID: "org/model"}); err != ErrQueueFull {
		t.Errorf("Erwartet ErrQueueFull, erhalten %v", err)
	}
}
