// types_tools.go - Tool Types fuer Function Calling
// Enthaelt: Tools, Tool, ToolFunction, ToolCall, ToolCallFunction
package api

import "encoding/json"

type Tools []Tool

func (t Tools) String() string {
	bts, _ := json.Marshal(t)
	return string(bts)
}

// Tool beschreibt eine dem Modell angebotene Funktion
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction ist die Signatur einer Tool-Funktion
type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolCall ist ein vom Modell angeforderter Tool-Aufruf
type ToolCall struct {
	ID       string           `json:"id,omitempty"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction enthaelt Name und Argumente eines Tool-Aufrufs
type ToolCallFunction struct {
	Index     int            `json:"index"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (t ToolCallFunction) String() string {
	bts, _ := json.Marshal(t)
	return string(bts)
}
