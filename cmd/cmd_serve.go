// cmd_serve.go - Server-Start und Subsystem-Verdrahtung
// Hauptfunktionen: RunServer, spawnChatRunner, spawnImagePipeline
package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/airunner/airunner/diffusion"
	"github.com/airunner/airunner/envconfig"
	"github.com/airunner/airunner/events"
	"github.com/airunner/airunner/llm"
	"github.com/airunner/airunner/logutil"
	"github.com/airunner/airunner/server"
	"github.com/airunner/airunner/settings"
	"github.com/airunner/airunner/transfer"
	"github.com/airunner/airunner/weights"
)

// RunServer - Startet den AI-Runner-Server
func RunServer(_ *cobra.Command, _ []string) error {
	slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	store, err := settings.Open(envconfig.Settings())
	if err != nil {
		return err
	}
	defer store.Close()

	downloader := transfer.NewDownloader()
	go downloader.Run(ctx)

	resolver := weights.NewResolver()
	resolver.Download = func(ctx context.Context, modelPath string) error {
		return downloader.FetchModel(ctx, repoFromPath(modelPath), modelPath)
	}

	bus := events.NewBus()
	managers := map[server.HandlerKind]*server.Manager{
		server.KindChat: server.NewManager(server.KindChat,
			server.ChatLoader(resolver, spawnChatRunner), bus),
		server.KindDiffusion: server.NewManager(server.KindDiffusion,
			server.DiffusionLoader(resolver, spawnImagePipeline), bus),
	}

	sched := server.NewScheduler()
	go sched.Run(ctx)

	s := server.NewServer(store, sched, bus, managers)

	ln, err := net.Listen("tcp", envconfig.Host().Host)
	if err != nil {
		return err
	}
	slog.Info("server listening", "addr", ln.Addr())

	srv := &http.Server{Handler: s.GenerateRoutes()}
	go func() {
		<-ctx.Done()
		for _, m := range managers {
			m.Unload()
		}
		srv.Close()
	}()

	err = srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// repoFromPath leitet die Repository-ID aus dem Modellpfad unterhalb
// des Model-Verzeichnisses ab (models/org/name -> org/name)
func repoFromPath(modelPath string) string {
	if rel, err := filepath.Rel(envconfig.Models(), modelPath); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return filepath.Base(modelPath)
}

// spawnChatRunner verbindet den Chat-Slot mit dem Sprachmodell-Runner
func spawnChatRunner(ctx context.Context, loc weights.Location) (llm.Runner, error) {
	port := envconfig.RunnerPort()
	if err := loadRunnerModel(ctx, port, loc); err != nil {
		return nil, err
	}

	ctxLen := weights.ModelContextLength(loc.Path)
	if ctxLen <= 0 {
		ctxLen = int(envconfig.ContextLength())
	}
	return llm.NewHTTPRunner(port, loc.Path, ctxLen), nil
}

// spawnImagePipeline verbindet den Diffusion-Slot mit dem Bild-Runner
func spawnImagePipeline(ctx context.Context, loc weights.Location) (diffusion.Pipeline, error) {
	port := envconfig.ImageRunnerPort()
	if err := loadRunnerModel(ctx, port, loc); err != nil {
		return nil, err
	}
	return diffusion.NewHTTPPipeline(port, loc.Path, envconfig.VRAMOverride()), nil
}

// loadRunnerModel weist den Subprozess an die aufgeloesten Gewichte zu
// laden. Die Lade-Argumente kommen aus der Aufloesung; ein
// Cache-Treffer traegt keine Quantisierungskonfiguration.
func loadRunnerModel(ctx context.Context, port int, loc weights.Location) error {
	payload, err := json.Marshal(loc.LoadKwargs())
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("http://127.0.0.1:%d/load", port)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("model runner is not reachable on port %d: %w", port, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("runner refused to load model: %s", strings.TrimSpace(string(body)))
	}
	return nil
}
