// cmd_model_ops.go - Pull und Quantize Commands
// Hauptfunktionen: PullHandler, QuantizeHandler
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/airunner/airunner/envconfig"
	"github.com/airunner/airunner/transfer"
	"github.com/airunner/airunner/weights"
)

// PullHandler - Laedt Modellgewichte in das Model-Verzeichnis
func PullHandler(cmd *cobra.Command, args []string) error {
	repoID := args[0]
	dir := filepath.Join(envconfig.Models(), filepath.FromSlash(repoID))

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	downloader := transfer.NewDownloader()
	go downloader.Run(ctx)

	fmt.Printf("pulling %s\n", repoID)
	if err := downloader.FetchModel(ctx, repoID, dir); err != nil {
		return err
	}
	fmt.Printf("pulled to %s\n", dir)
	return nil
}

// QuantizeHandler - Baut die quantisierte Cache-Kopie eines Modells
func QuantizeHandler(cmd *cobra.Command, args []string) error {
	dtypeStr, _ := cmd.Flags().GetString("dtype")
	dtype, err := weights.ParseDType(dtypeStr)
	if err != nil {
		return err
	}
	if dtype == weights.DTypeFull {
		return fmt.Errorf("full precision needs no cache, nothing to do")
	}

	modelPath := args[0]
	if _, err := os.Stat(modelPath); err != nil {
		return fmt.Errorf("model directory %q not found", modelPath)
	}

	loc, err := weights.NewResolver().Resolve(context.Background(), modelPath, dtype)
	if err != nil {
		return err
	}

	cacheDir := weights.CacheDir(modelPath, dtype, loc.Family)
	if !weights.ValidCache(cacheDir, loc.Family) {
		return fmt.Errorf("cache at %s is incomplete, see server log", cacheDir)
	}
	fmt.Printf("quantized cache ready at %s\n", cacheDir)
	return nil
}
