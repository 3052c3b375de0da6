// types_generate.go - Request/Response-Typen fuer Generierung
// Enthaelt: ChatRequest, Message, ChatResponse, TokenEvent,
//           ImageGenerateRequest, ImageGenerateResponse, StatusResponse
package api

import "encoding/json"

// ChatRequest ist eine Chat-Anfrage an das geladene Sprachmodell
type ChatRequest struct {
	Model    string    `json:"model,omitempty"`
	Messages []Message `json:"messages"`

	// System ueberschreibt den konfigurierten System-Prompt fuer diesen Aufruf
	System string `json:"system,omitempty"`

	Stream    *bool           `json:"stream,omitempty"`
	Format    json.RawMessage `json:"format,omitempty"`
	KeepAlive *Duration       `json:"keep_alive,omitempty"`

	Tools     Tools  `json:"tools,omitempty"`
	ForceTool string `json:"force_tool,omitempty"`

	// Sampling-Parameter pro Aufruf
	MaxTokens   int         `json:"max_tokens,omitempty"`
	Temperature *float32    `json:"temperature,omitempty"`
	TopP        *float32    `json:"top_p,omitempty"`
	TopK        *int        `json:"top_k,omitempty"`
	Images      []ImageData `json:"images,omitempty"`
}

// Message ist eine einzelne Chat-Nachricht
type Message struct {
	Role      string      `json:"role"`
	Content   string      `json:"content"`
	Images    []ImageData `json:"images,omitempty"`
	ToolCalls []ToolCall  `json:"tool_calls,omitempty"`
}

// ChatResponse ist die finale Antwort eines Chat-Aufrufs
type ChatResponse struct {
	Model         string   `json:"model"`
	Message       Message  `json:"message"`
	Done          bool     `json:"done"`
	DoneReason    string   `json:"done_reason,omitempty"`
	ExecutedTools []string `json:"executed_tools,omitempty"`
}

// TokenEvent ist ein einzelnes Streaming-Fragment.
// Seq ist pro Aufruf streng monoton steigend; genau ein Event pro
// Aufruf traegt Done=true, auch bei Abbruch oder Fehler.
type TokenEvent struct {
	RequestID string `json:"request_id"`
	Seq       uint64 `json:"seq"`
	Content   string `json:"content"`
	First     bool   `json:"first,omitempty"`
	Done      bool   `json:"done,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ImageGenerateRequest ist eine Diffusion-Anfrage. Nicht gesetzte Felder
// werden aus dem Settings-Store befuellt; gesetzte Felder sind
// Call-Time-Overrides fuer den Request-Builder.
type ImageGenerateRequest struct {
	Prompt         string `json:"prompt,omitempty"`
	NegativePrompt string `json:"negative_prompt,omitempty"`

	// Section waehlt den Operationsmodus (txt2img, img2img, outpaint,
	// depth2img, pix2pix, upscale); leer = Wert aus dem Settings-Store
	Section string `json:"section,omitempty"`

	Model string `json:"model,omitempty"`

	// Strength als Integer-Prozent wie im Settings-Store (75 = 0.75)
	Strength *int `json:"strength,omitempty"`

	Seed            *int64    `json:"seed,omitempty"`
	ControlnetImage ImageData `json:"controlnet_image,omitempty"`

	// Vorberechnete Prompt-Embeddings; schliessen Text-Prompts aus
	PromptEmbeds         []float32 `json:"prompt_embeds,omitempty"`
	NegativePromptEmbeds []float32 `json:"negative_prompt_embeds,omitempty"`

	Latents []float32 `json:"latents,omitempty"`

	MemoryOptions map[string]any `json:"memory_options,omitempty"`
	ExtraOptions  map[string]any `json:"extra_options,omitempty"`

	KeepAlive *Duration `json:"keep_alive,omitempty"`
}

// ImageGenerateResponse ist ein Fortschritts- oder Endergebnis
type ImageGenerateResponse struct {
	RequestID  string `json:"request_id"`
	Image      string `json:"image,omitempty"` // Base64-encoded
	Step       int    `json:"step,omitempty"`
	TotalSteps int    `json:"total_steps,omitempty"`
	Done       bool   `json:"done"`
	Error      string `json:"error,omitempty"`
}

// StatusResponse meldet den Zustand aller Model-Slots
type StatusResponse struct {
	Slots []SlotStatus `json:"slots"`
}

// SlotStatus ist der Zustand eines einzelnen Handler-Slots
type SlotStatus struct {
	Kind      string `json:"kind"`
	Status    string `json:"status"`
	ModelPath string `json:"model_path,omitempty"`
	VRAMSize  uint64 `json:"vram_size,omitempty"`
	LastError string `json:"last_error,omitempty"`
}
