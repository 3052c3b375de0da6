// server.go - HTTP-Client zum Runner-Subprozess
//
// Diese Datei enthaelt:
// - httpRunner: Runner-Implementierung gegen den lokalen
//   Inferenz-Subprozess
// - processCompletionStream: NDJSON-Stream-Verarbeitung mit
//   Wiederholungs-Erkennung
//
// Der Runner laeuft als eigener Prozess auf 127.0.0.1; der Client
// serialisiert Requests ueber ein Semaphor, weil das Modell keine
// parallelen Forward-Passes vertraegt.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/airunner/airunner/api"
	"github.com/airunner/airunner/format"
	"github.com/airunner/airunner/logutil"
)

// maxBufferSize fuer den Scanner-Buffer
const maxBufferSize = 512 * format.KiloByte

// tokenRepeatLimit bricht degenerierte Endlos-Wiederholungen ab
const tokenRepeatLimit = 30

type httpRunner struct {
	port      int
	modelPath string
	ctxLen    int
	sem       *semaphore.Weighted
	client    *http.Client
}

// NewHTTPRunner erstellt einen Runner-Client fuer den Subprozess auf
// dem gegebenen Port
func NewHTTPRunner(port int, modelPath string, ctxLen int) Runner {
	return &httpRunner{
		port:      port,
		modelPath: modelPath,
		ctxLen:    ctxLen,
		sem:       semaphore.NewWeighted(1),
		client:    http.DefaultClient,
	}
}

func (s *httpRunner) ModelPath() string  { return s.modelPath }
func (s *httpRunner) ContextLength() int { return s.ctxLen }

func (s *httpRunner) Close() error { return nil }

// Completion fuehrt eine Text-Generierung gegen den Subprozess aus
func (s *httpRunner) Completion(ctx context.Context, req CompletionRequest, fn func(CompletionResponse)) error {
	slog.Debug("completion request", "images", len(req.Images), "prompt", len(req.Prompt), "format", string(req.Format))
	logutil.Trace("completion request", "prompt", req.Prompt)

	if err := s.sem.Acquire(ctx, 1); err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Info("aborting completion request due to client closing the connection")
		} else {
			slog.Error("failed to acquire runner semaphore", "error", err)
		}
		return err
	}
	defer s.sem.Release(1)

	// MaxTokens begrenzen
	if req.MaxTokens <= 0 || req.MaxTokens > 10*s.ctxLen {
		req.MaxTokens = 10 * s.ctxLen
	}

	return s.executeCompletion(ctx, req, fn)
}

func (s *httpRunner) executeCompletion(ctx context.Context, req CompletionRequest, fn func(CompletionResponse)) error {
	// JSON-Marshaling ohne HTML-Escaping
	buffer := &bytes.Buffer{}
	enc := json.NewEncoder(buffer)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(req); err != nil {
		return fmt.Errorf("failed to marshal completion request: %v", err)
	}

	endpoint := fmt.Sprintf("http://127.0.0.1:%d/completion", s.port)
	serverReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, buffer)
	if err != nil {
		return fmt.Errorf("error creating POST request: %v", err)
	}
	serverReq.Header.Set("Content-Type", "application/json")

	res, err := s.client.Do(serverReq)
	if err != nil && errors.Is(err, context.Canceled) {
		return err
	} else if err != nil {
		slog.Error("post completion", "error", err)
		return errors.New("model runner has unexpectedly stopped, this may be due to resource limitations or an internal error, check server logs for details")
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		bodyBytes, err := io.ReadAll(res.Body)
		if err != nil {
			return fmt.Errorf("failed reading runner error response: %w", err)
		}
		slog.Error("runner completion error", "body", string(bodyBytes))
		return api.StatusError{StatusCode: res.StatusCode, ErrorMessage: strings.TrimSpace(string(bodyBytes))}
	}

	return processCompletionStream(ctx, res.Body, fn)
}

func processCompletionStream(ctx context.Context, body io.Reader, fn func(CompletionResponse)) error {
	scanner := bufio.NewScanner(body)
	buf := make([]byte, 0, maxBufferSize)
	scanner.Buffer(buf, maxBufferSize)

	var lastToken string
	var tokenRepeat int

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			evt, ok := bytes.CutPrefix(line, []byte("data: "))
			if !ok {
				evt = line
			}

			var c CompletionResponse
			if err := json.Unmarshal(evt, &c); err != nil {
				return fmt.Errorf("error unmarshalling runner response: %v", err)
			}

			// Token-Wiederholung erkennen
			switch {
			case strings.TrimSpace(c.Content) == lastToken:
				tokenRepeat++
			default:
				lastToken = strings.TrimSpace(c.Content)
				tokenRepeat = 0
			}
			if tokenRepeat > tokenRepeatLimit {
				slog.Debug("prediction aborted, token repeat limit reached")
				return ctx.Err()
			}

			if c.Content != "" {
				fn(CompletionResponse{Content: c.Content})
			}
			if c.Done {
				fn(c)
				return nil
			}
		}
	}

	if err := scanner.Err(); err != nil {
		if strings.Contains(err.Error(), "unexpected EOF") || strings.Contains(err.Error(), "forcibly closed") {
			return fmt.Errorf("an error was encountered while running the model: %s", err)
		}
		return fmt.Errorf("error reading runner response: %v", err)
	}

	return nil
}
