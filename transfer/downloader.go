// downloader.go - Hintergrund-Download von Modellgewichten
//
// Diese Datei enthaelt:
// - Request: ein Download-Auftrag mit Abschluss-Callback
// - Downloader: ein einzelner Download-Worker mit FIFO-Queue
//
// Genau ein Worker verarbeitet Auftraege in Einreichungs-Reihenfolge.
// Abgebrochene Downloads hinterlassen eine .partial-Datei und werden
// beim naechsten Versuch per Range-Request fortgesetzt.
package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/airunner/airunner/format"
)

const (
	maxRetries = 3
	retryDelay = 2 * time.Second
)

// ErrQueueFull wird zurueckgegeben wenn die Download-Queue voll ist
var ErrQueueFull = errors.New("download queue is full")

// Request ist ein Download-Auftrag. Done wird nach Abschluss mit dem
// Ergebnis aufgerufen, auf der Worker-Goroutine.
type Request struct {
	RepoID string
	Files  []string
	Dir    string
	Done   func(error)
}

// Downloader laedt Modellgewichte von einem HuggingFace-artigen
// Endpunkt herunter
type Downloader struct {
	base   string
	client *http.Client
	queue  chan Request
}

// NewDownloader erstellt einen Downloader gegen den Standard-Endpunkt
func NewDownloader() *Downloader {
	return NewDownloaderWithBase("https://huggingface.co")
}

// NewDownloaderWithBase erstellt einen Downloader gegen einen
// eigenen Endpunkt, etwa einen Mirror
func NewDownloaderWithBase(base string) *Downloader {
	return &Downloader{
		base:   base,
		client: &http.Client{},
		queue:  make(chan Request, 64),
	}
}

// Queue reiht einen Auftrag ein. Blockiert nie; bei voller Queue
// kommt ErrQueueFull zurueck.
func (d *Downloader) Queue(req Request) error {
	select {
	case d.queue <- req:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run verarbeitet die Queue bis ctx beendet wird. Genau ein Auftrag
// laeuft zur Zeit.
func (d *Downloader) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-d.queue:
			err := d.download(ctx, req)
			if err != nil {
				slog.Error("download failed", "repo", req.RepoID, "error", err)
			}
			if req.Done != nil {
				req.Done(err)
			}
		}
	}
}

// Fetch laedt einen Auftrag synchron: einreihen und auf den
// Abschluss warten
func (d *Downloader) Fetch(ctx context.Context, repoID, dir string, files []string) error {
	done := make(chan error, 1)
	err := d.Queue(Request{
		RepoID: repoID,
		Files:  files,
		Dir:    dir,
		Done:   func(err error) { done <- err },
	})
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// FetchModel laedt ein komplettes Repository: Dateiliste vom Endpunkt
// holen, dann synchron herunterladen
func (d *Downloader) FetchModel(ctx context.Context, repoID, dir string) error {
	files, err := d.listRepoFiles(ctx, repoID)
	if err != nil {
		return fmt.Errorf("list %s: %w", repoID, err)
	}
	return d.Fetch(ctx, repoID, dir, files)
}

// listRepoFiles fragt die Dateiliste eines Repositories ab
func (d *Downloader) listRepoFiles(ctx context.Context, repoID string) ([]string, error) {
	url := fmt.Sprintf("%s/api/models/%s", d.base, repoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	res, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", res.StatusCode)
	}

	var info struct {
		Siblings []struct {
			Rfilename string `json:"rfilename"`
		} `json:"siblings"`
	}
	if err := json.NewDecoder(res.Body).Decode(&info); err != nil {
		return nil, err
	}

	files := make([]string, 0, len(info.Siblings))
	for _, s := range info.Siblings {
		files = append(files, s.Rfilename)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("repository %s lists no files", repoID)
	}
	return files, nil
}

func (d *Downloader) download(ctx context.Context, req Request) error {
	if err := os.MkdirAll(req.Dir, 0o755); err != nil {
		return err
	}

	start := time.Now()
	var total int64
	for _, file := range req.Files {
		n, err := d.downloadFile(ctx, req.RepoID, file, req.Dir)
		if err != nil {
			return fmt.Errorf("download %s/%s: %w", req.RepoID, file, err)
		}
		total += n
	}

	slog.Info("download complete", "repo", req.RepoID,
		"files", len(req.Files), "size", format.HumanBytes2(uint64(total)),
		"duration", time.Since(start).Round(time.Millisecond))
	return nil
}

// downloadFile laedt eine Datei mit Wiederholungen und Resume
func (d *Downloader) downloadFile(ctx context.Context, repoID, file, dir string) (int64, error) {
	target := filepath.Join(dir, file)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}
	if stat, err := os.Stat(target); err == nil {
		slog.Debug("file already present, skipping", "file", file)
		return stat.Size(), nil
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			slog.Warn("retrying download", "file", file, "attempt", attempt+1, "error", lastErr)
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(retryDelay):
			}
		}

		n, err := d.fetchOnce(ctx, repoID, file, target)
		if err == nil {
			return n, nil
		}
		if errors.Is(err, context.Canceled) {
			return 0, err
		}
		lastErr = err
	}
	return 0, lastErr
}

func (d *Downloader) fetchOnce(ctx context.Context, repoID, file, target string) (int64, error) {
	partial := target + ".partial"

	var offset int64
	if stat, err := os.Stat(partial); err == nil {
		offset = stat.Size()
	}

	url := fmt.Sprintf("%s/%s/resolve/main/%s", d.base, repoID, file)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}

	res, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		// Server ignoriert Range: von vorn
		offset = 0
	case http.StatusPartialContent:
	default:
		return 0, fmt.Errorf("unexpected status %d", res.StatusCode)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(partial, flags, 0o644)
	if err != nil {
		return 0, err
	}

	written, err := io.Copy(f, res.Body)
	f.Close()
	if err != nil {
		return 0, err
	}

	if err := os.Rename(partial, target); err != nil {
		return 0, err
	}
	return offset + written, nil
}
