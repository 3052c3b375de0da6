// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs map[string]string) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, name := range []string{
		"AIRUNNER_HOST", "AIRUNNER_MODELS", "AIRUNNER_SETTINGS",
		"AIRUNNER_KEEP_ALIVE", "AIRUNNER_MAX_QUEUE", "AIRUNNER_VRAM",
		"AIRUNNER_DEBUG",
	} {
		if desc, ok := envs[name]; ok {
			envUsage += fmt.Sprintf("      %-28s   %s\n", name, desc)
		}
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "airunner",
		Short:         "Local image and text generation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Print(cmd.UsageString())
		},
	}

	serveCmd := newServeCmd()
	runCmd := newRunCmd()
	imageCmd := newImageCmd()
	listCmd := newListCmd()
	pullCmd := newPullCmd()
	quantizeCmd := newQuantizeCmd()

	rootCmd.AddCommand(
		serveCmd,
		runCmd,
		imageCmd,
		listCmd,
		pullCmd,
		quantizeCmd,
	)

	return rootCmd
}

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the engine server",
		Args:    cobra.ExactArgs(0),
		RunE:    RunServer,
	}

	appendEnvDocs(serveCmd, map[string]string{
		"AIRUNNER_HOST":       "IP address and port for the server (default \"127.0.0.1:11770\")",
		"AIRUNNER_MODELS":     "Directory for model weights",
		"AIRUNNER_SETTINGS":   "Path to the settings database",
		"AIRUNNER_KEEP_ALIVE": "Duration models stay loaded when idle (default \"5m\")",
		"AIRUNNER_MAX_QUEUE":  "Maximum number of queued requests",
		"AIRUNNER_VRAM":       "Accelerator memory in GB, overrides detection",
		"AIRUNNER_DEBUG":      "Log verbosity: 1 for debug, 2 for trace",
	})

	return serveCmd
}

func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run MODEL [PROMPT]",
		Short: "Run a chat model",
		Args:  cobra.MinimumNArgs(1),
		RunE:  RunHandler,
	}

	runCmd.Flags().String("system", "", "Override the configured system prompt")
	runCmd.Flags().String("format", "", "Response format (e.g. json)")

	return runCmd
}

func newImageCmd() *cobra.Command {
	imageCmd := &cobra.Command{
		Use:   "image PROMPT",
		Short: "Generate an image",
		Args:  cobra.ExactArgs(1),
		RunE:  ImageHandler,
	}

	imageCmd.Flags().String("model", "", "Model name from the settings store")
	imageCmd.Flags().String("section", "", "Operation mode (txt2img, img2img, ...)")
	imageCmd.Flags().StringP("output", "o", "output.png", "Output file")

	return imageCmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list [NAME]",
		Aliases: []string{"ls"},
		Short:   "List configured models",
		RunE:    ListHandler,
	}
}

func newPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull REPO",
		Short: "Download model weights from a repository",
		Args:  cobra.ExactArgs(1),
		RunE:  PullHandler,
	}
}

func newQuantizeCmd() *cobra.Command {
	quantizeCmd := &cobra.Command{
		Use:   "quantize MODEL_DIR",
		Short: "Build the quantized cache copy of a model",
		Args:  cobra.ExactArgs(1),
		RunE:  QuantizeHandler,
	}

	quantizeCmd.Flags().String("dtype", "4bit", "Target precision: full, 8bit or 4bit")

	return quantizeCmd
}
