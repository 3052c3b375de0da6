// runner.go - Runner-Schnittstelle und Vorab-Validierung
//
// Diese Datei enthaelt:
// - CompletionRequest/CompletionResponse: Wire-Typen zum Runner
// - Runner: Schnittstelle eines geladenen Sprachmodell-Runners
// - ValidateChatModel: lehnt z.B. Embedding-Modelle als Chat-Modell ab
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/airunner/airunner/api"
)

// CompletionRequest enthaelt alle Parameter fuer Text-Generierung
type CompletionRequest struct {
	Prompt string          `json:"prompt"`
	Format json.RawMessage `json:"format,omitempty"`
	Images []api.ImageData `json:"images,omitempty"`

	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
}

// DoneReason gibt an warum die Generierung beendet wurde
type DoneReason int

const (
	DoneReasonStop             DoneReason = iota // natuerliches Ende
	DoneReasonLength                             // Laengenlimit erreicht
	DoneReasonConnectionClosed                   // Verbindung geschlossen
)

func (d DoneReason) String() string {
	switch d {
	case DoneReasonLength:
		return "length"
	case DoneReasonStop:
		return "stop"
	default:
		return "" // closed
	}
}

// CompletionResponse ist ein Stream-Fragment des Runners
type CompletionResponse struct {
	Content    string        `json:"content"`
	Done       bool          `json:"done"`
	DoneReason DoneReason    `json:"done_reason"`
	EvalCount  int           `json:"eval_count,omitempty"`
	EvalTime   time.Duration `json:"eval_duration,omitempty"`
}

// Runner ist ein geladener Sprachmodell-Runner. Implementierungen
// leben hinter der Prozessgrenze (HTTP) oder in Tests in-process.
type Runner interface {
	// Completion streamt Fragmente ueber fn bis Done oder Fehler.
	// fn laeuft auf der Stream-Goroutine und darf nicht blockieren.
	Completion(ctx context.Context, req CompletionRequest, fn func(CompletionResponse)) error

	ModelPath() string
	ContextLength() int
	Close() error
}

// Architekturen die nur Embeddings liefern und deshalb kein
// Chat-Modell sein koennen
var embeddingOnlyArchitectures = map[string]bool{
	"BertModel":         true,
	"NomicBertModel":    true,
	"NomicBertMoEModel": true,
}

// ValidateChatModel prueft vorab ob der Modellpfad ein ladbares
// Chat-Modell enthaelt. Die Pruefung ist bewusst frueh und liefert
// eine verstaendliche Meldung statt eines kryptischen Ladefehlers.
func ValidateChatModel(modelPath string) error {
	raw, err := os.ReadFile(filepath.Join(modelPath, "config.json"))
	if err != nil {
		return fmt.Errorf("model %q is not loadable: missing config.json: %w", modelPath, err)
	}

	var cfg struct {
		Architectures []string `json:"architectures"`
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("model %q is not loadable: invalid config.json: %w", modelPath, err)
	}
	if len(cfg.Architectures) == 0 {
		return fmt.Errorf("model %q declares no architecture", modelPath)
	}

	for _, arch := range cfg.Architectures {
		if embeddingOnlyArchitectures[arch] {
			return fmt.Errorf("model %q is an embedding model (%s) and cannot be used for chat", modelPath, arch)
		}
	}
	return nil
}
