// cmd_run.go - Run und Image Commands (Client-Seite)
// Hauptfunktionen: RunHandler, ImageHandler, streamRequest
package cmd

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/airunner/airunner/api"
	"github.com/airunner/airunner/envconfig"
)

// RunHandler - Schickt einen Prompt an den laufenden Server und
// streamt die Antwort auf stdout
func RunHandler(cmd *cobra.Command, args []string) error {
	prompt := strings.Join(args[1:], " ")
	if prompt == "" {
		return fmt.Errorf("a prompt is required")
	}

	system, _ := cmd.Flags().GetString("system")
	formatStr, _ := cmd.Flags().GetString("format")

	req := api.ChatRequest{
		Model:    args[0],
		System:   system,
		Messages: []api.Message{{Role: "user", Content: prompt}},
	}
	if formatStr == "json" {
		req.Format = json.RawMessage(`"json"`)
	}

	return streamRequest(cmd, "/api/generate", req, func(line []byte) (bool, error) {
		var ev api.TokenEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return false, err
		}
		if ev.Error != "" {
			return true, fmt.Errorf("%s", ev.Error)
		}
		fmt.Print(ev.Content)
		if ev.Done {
			fmt.Println()
			return true, nil
		}
		return false, nil
	})
}

// ImageHandler - Generiert ein Bild ueber den laufenden Server
func ImageHandler(cmd *cobra.Command, args []string) error {
	model, _ := cmd.Flags().GetString("model")
	section, _ := cmd.Flags().GetString("section")
	output, _ := cmd.Flags().GetString("output")

	req := api.ImageGenerateRequest{
		Prompt:  args[0],
		Model:   model,
		Section: section,
	}

	var image string
	err := streamRequest(cmd, "/api/image", req, func(line []byte) (bool, error) {
		var ev api.ImageGenerateResponse
		if err := json.Unmarshal(line, &ev); err != nil {
			return false, err
		}
		if ev.Error != "" {
			return true, fmt.Errorf("%s", ev.Error)
		}
		if ev.TotalSteps > 0 {
			fmt.Fprintf(os.Stderr, "\rstep %d/%d", ev.Step, ev.TotalSteps)
		}
		if ev.Image != "" {
			image = ev.Image
		}
		return ev.Done, nil
	})
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}
	if image == "" {
		return fmt.Errorf("server returned no image")
	}

	data, err := base64.StdEncoding.DecodeString(image)
	if err != nil {
		return fmt.Errorf("decoding image: %w", err)
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", output)
	return nil
}

// streamRequest postet payload an den Server und reicht jede
// NDJSON-Zeile an handle weiter bis handle fertig meldet
func streamRequest(cmd *cobra.Command, path string, payload any, handle func(line []byte) (bool, error)) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	endpoint := envconfig.Host().JoinPath(path).String()
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("could not connect to the server, is it running? (%w)", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		msg, _ := io.ReadAll(res.Body)
		return api.StatusError{StatusCode: res.StatusCode, ErrorMessage: strings.TrimSpace(string(msg))}
	}

	scanner := bufio.NewScanner(res.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 32*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		done, err := handle(line)
		if err != nil || done {
			return err
		}
	}
	return scanner.Err()
}
