// search.go - Suche nach Tool-Namen und Argument-Objekten im Puffer
//
// Diese Datei enthaelt:
// - findTool: erster passender Tool-Name, wartet bei Teilpraefixen
// - findArguments: erstes JSON-Objekt das wie Argumente aussieht
package tools

import (
	"bytes"
	"encoding/json"

	"github.com/airunner/airunner/api"
)

// findTool findet den ersten Tool-Namen im Puffer. Endet der Puffer
// mit einem Teilpraefix eines Namens, wird nil geliefert bis mehr
// Daten eintreffen ("get" darf nicht vor "get_weather" matchen).
// Zweiter Rueckgabewert ist die Endposition des Namens.
func findTool(tools []api.Tool, buf []byte) (*api.Tool, int) {
	if len(buf) == 0 {
		return nil, 0
	}

	var longest string
	for _, t := range tools {
		if len(t.Function.Name) > len(longest) {
			longest = t.Function.Name
		}
	}

	for i := 1; i <= min(len(buf), len(longest)); i++ {
		tail := buf[len(buf)-i:]
		for _, t := range tools {
			name := []byte(t.Function.Name)
			if len(tail) < len(name) && bytes.HasPrefix(name, tail) {
				return nil, 0
			}
		}
	}

	// Fruehester Treffer gewinnt; bei gleicher Position der laengste
	var found *api.Tool
	start := -1
	end := -1

	for i := range tools {
		name := []byte(tools[i].Function.Name)
		pos := bytes.Index(buf, name)
		if pos == -1 {
			continue
		}
		if start != -1 {
			if pos > start {
				continue
			}
			if pos == start && len(name) <= len(found.Function.Name) {
				continue
			}
		}
		found = &tools[i]
		start = pos
		end = pos + len(name)
	}

	if found != nil {
		return found, end
	}
	return nil, 0
}

// findArguments findet das erste balancierte JSON-Objekt im Puffer
// das als Argumente des Tools durchgeht. Rueckgabe nil solange kein
// vollstaendiges Objekt vorliegt.
func findArguments(tool *api.Tool, buffer []byte) (map[string]any, int) {
	if len(buffer) == 0 {
		return nil, 0
	}

	start := -1
	var braces int
	var inString, escaped bool

	for i := range buffer {
		c := buffer[i]

		if escaped {
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		if c == '{' {
			if braces == 0 {
				start = i
			}
			braces++
		} else if c == '}' {
			braces--
			if braces == 0 && start != -1 {
				object := buffer[start : i+1]

				var data map[string]any
				if err := json.Unmarshal(object, &data); err != nil {
					// kein gueltiges Objekt, weitersuchen
					start = -1
					continue
				}

				if args, found := findObject(tool, data); found {
					return args, i
				}
				return data, i
			}
			if braces < 0 {
				braces = 0
			}
		}
	}

	return nil, 0
}

// findObject sucht rekursiv nach dem Argument-Objekt in einem
// geparsten JSON-Baum
func findObject(tool *api.Tool, obj map[string]any) (map[string]any, bool) {
	findMap := func(name string, obj map[string]any) (map[string]any, bool) {
		if args, ok := obj[name].(map[string]any); ok {
			return args, true
		}
		// Manche Modelle liefern Argumente als JSON-String
		if argsStr, ok := obj[name].(string); ok {
			var argsData map[string]any
			if err := json.Unmarshal([]byte(argsStr), &argsData); err == nil {
				return argsData, true
			}
		}
		return nil, false
	}

	if _, hasName := obj["name"]; hasName {
		if args, ok := findMap("arguments", obj); ok {
			return args, true
		}
		if args, ok := findMap("parameters", obj); ok {
			return args, true
		}
		return nil, true
	}

	if args, ok := findMap(tool.Function.Name, obj); ok {
		return args, true
	}

	for _, v := range obj {
		switch child := v.(type) {
		case map[string]any:
			if result, found := findObject(tool, child); found {
				return result, true
			}
		case []any:
			for _, item := range child {
				if childObj, ok := item.(map[string]any); ok {
					if result, found := findObject(tool, childObj); found {
						return result, true
					}
				}
			}
		}
	}

	return nil, false
}
