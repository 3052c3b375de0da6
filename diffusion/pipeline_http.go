// pipeline_http.go - HTTP-Client zur Diffusion-Runner-Prozessgrenze
//
// Diese Datei enthaelt:
// - httpPipeline: Pipeline-Implementierung gegen den lokalen
//   Inferenz-Subprozess
// - processProgressStream: NDJSON-Fortschritts-Verarbeitung
//
// Der Subprozess serialisiert ohnehin auf ein Modell; das Semaphor
// verhindert nur, dass wir ihm parallele Aufrufe schicken.
package diffusion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/airunner/airunner/api"
	"github.com/airunner/airunner/format"
)

const progressBufferSize = 32 * format.MegaByte // finale Bilder kommen inline

type httpPipeline struct {
	port      int
	modelPath string
	vram      uint64
	sem       *semaphore.Weighted
	client    *http.Client
}

// NewHTTPPipeline erstellt einen Pipeline-Client fuer den Subprozess
// auf dem gegebenen Port
func NewHTTPPipeline(port int, modelPath string, vram uint64) Pipeline {
	return &httpPipeline{
		port:      port,
		modelPath: modelPath,
		vram:      vram,
		sem:       semaphore.NewWeighted(1),
		client:    http.DefaultClient,
	}
}

func (p *httpPipeline) ModelPath() string { return p.modelPath }
func (p *httpPipeline) VRAMSize() uint64  { return p.vram }
func (p *httpPipeline) Close() error      { return nil }

// Generate fuehrt einen Generierungsaufruf gegen den Subprozess aus
func (p *httpPipeline) Generate(ctx context.Context, bundle Bundle, fn func(Progress)) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)

	buffer := &bytes.Buffer{}
	enc := json.NewEncoder(buffer)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]any{
		"action": string(bundle.Action),
		"model":  bundle.Model.Path,
		"args":   bundle.Args,
	}); err != nil {
		return fmt.Errorf("failed to marshal generate request: %v", err)
	}

	endpoint := fmt.Sprintf("http://127.0.0.1:%d/generate", p.port)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, buffer)
	if err != nil {
		return fmt.Errorf("error creating POST request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := p.client.Do(req)
	if err != nil && errors.Is(err, context.Canceled) {
		return err
	} else if err != nil {
		return errors.New("image runner has unexpectedly stopped, check server logs for details")
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		bodyBytes, err := io.ReadAll(res.Body)
		if err != nil {
			return fmt.Errorf("failed reading runner error response: %w", err)
		}
		return api.StatusError{StatusCode: res.StatusCode, ErrorMessage: strings.TrimSpace(string(bodyBytes))}
	}

	return processProgressStream(ctx, res.Body, fn)
}

func processProgressStream(ctx context.Context, body io.Reader, fn func(Progress)) error {
	scanner := bufio.NewScanner(body)
	buf := make([]byte, 0, 64*format.KiloByte)
	scanner.Buffer(buf, progressBufferSize)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var prog Progress
			if err := json.Unmarshal(line, &prog); err != nil {
				return fmt.Errorf("error unmarshalling runner progress: %v", err)
			}
			fn(prog)
			if prog.Done {
				return nil
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading runner response: %v", err)
	}
	return nil
}

// setOption schaltet eine Speicher-Optimierung im Subprozess um
func (p *httpPipeline) setOption(name string) error {
	payload, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("http://127.0.0.1:%d/option", p.port)
	res, err := p.client.Post(endpoint, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 400 {
		bodyBytes, _ := io.ReadAll(res.Body)
		return api.StatusError{StatusCode: res.StatusCode, ErrorMessage: strings.TrimSpace(string(bodyBytes))}
	}
	return nil
}

func (p *httpPipeline) EnableAttentionSlicing() error     { return p.setOption("attention_slicing") }
func (p *httpPipeline) EnableVAESlicing() error           { return p.setOption("vae_slicing") }
func (p *httpPipeline) EnableVAETiling() error            { return p.setOption("vae_tiling") }
func (p *httpPipeline) EnableModelCPUOffload() error      { return p.setOption("model_cpu_offload") }
func (p *httpPipeline) EnableSequentialCPUOffload() error { return p.setOption("sequential_cpu_offload") }

// LoadLoRAWeights laedt LoRA-Gewichte in den Subprozess nach
func (p *httpPipeline) LoadLoRAWeights(path string) error {
	payload, err := json.Marshal(map[string]string{"path": path})
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("http://127.0.0.1:%d/lora", p.port)
	res, err := p.client.Post(endpoint, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 400 {
		bodyBytes, _ := io.ReadAll(res.Body)
		return api.StatusError{StatusCode: res.StatusCode, ErrorMessage: strings.TrimSpace(string(bodyBytes))}
	}
	return nil
}
