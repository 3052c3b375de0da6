// parser.go - Inkrementeller Parser fuer Tool-Aufrufe im Token-Strom
//
// Diese Datei enthaelt:
// - Parser: Zustandsmaschine Tag-Suche -> Tool-Parsing -> Fertig
// - Add: Verarbeitet Stream-Fragmente und trennt Tool-Aufrufe von
//   sichtbarem Inhalt
//
// Der Parser arbeitet auf unvollstaendigen Fragmenten: Teilpraefixe
// des Tags oder eines Tool-Namens am Pufferende werden zurueckgehalten
// bis genug Daten zur Disambiguierung eintreffen.
package tools

import (
	"bytes"
	"strings"

	"github.com/airunner/airunner/api"
)

type parserState int

const (
	stateLookingForTag parserState = iota
	stateToolCalling
	stateDone
)

// Parser erkennt Tool-Aufrufe in einem inkrementellen Token-Strom
type Parser struct {
	tag   string
	tools []api.Tool

	state  parserState
	buffer []byte
	n      int
}

// NewParser erstellt einen Parser fuer die gegebenen Tools. tag ist
// der Oeffnungs-Marker des Modells, typischerweise "{" oder ein
// expliziter Tag wie "<tool_call>".
func NewParser(tools []api.Tool, tag string) *Parser {
	if tag == "" {
		tag = "{"
	}
	return &Parser{tag: tag, tools: tools}
}

// Add verarbeitet ein Stream-Fragment. Gibt vollstaendig geparste
// Tool-Aufrufe und den Anteil zurueck der als sichtbarer Inhalt an
// den Nutzer gehen soll.
func (p *Parser) Add(s string) (calls []api.ToolCall, content string) {
	if p.state == stateDone {
		return nil, s
	}

	p.buffer = append(p.buffer, s...)

	if p.state == stateLookingForTag {
		i, found := p.findTag()
		if i == -1 {
			content = string(p.buffer)
			p.buffer = []byte{}
		} else {
			content = string(p.buffer[:i])
			p.buffer = p.buffer[i:]
		}

		// Bei { oder [ als Tag zaehlt nur ein Tool-Aufruf am
		// Antwortanfang; spaetere Klammern sind normaler Text
		if p.tag == "{" || p.tag == "[" {
			if strings.TrimSpace(content) != "" {
				p.state = stateDone
				return nil, content + string(p.buffer)
			}
		}

		if !found {
			return nil, content
		}

		p.state = stateToolCalling
	}

	for {
		call := p.parseToolCall()
		if call == nil {
			break
		}
		calls = append(calls, *call)
	}

	if p.closed() {
		p.state = stateDone
		content = string(p.buffer)
		p.buffer = []byte{}
	}

	return calls, content
}

// findTag sucht den Tag im Puffer. Rueckgabe ist die Fundposition und
// ob der Tag vollstaendig gefunden wurde; ein Teilpraefix am Ende
// liefert die Position des Praefixes mit found=false.
func (p *Parser) findTag() (int, bool) {
	if i := bytes.Index(p.buffer, []byte(p.tag)); i > -1 {
		return i, true
	}

	max := min(len(p.buffer), len(p.tag))
	for i := max; i > 0; i-- {
		if bytes.HasSuffix(p.buffer, []byte(p.tag[:i])) {
			return len(p.buffer) - i, false
		}
	}
	return -1, false
}

// parseToolCall extrahiert den naechsten vollstaendigen Tool-Aufruf
// aus dem Puffer
func (p *Parser) parseToolCall() *api.ToolCall {
	tool, end := findTool(p.tools, p.buffer)
	if tool == nil {
		return nil
	}

	args, i := findArguments(tool, p.buffer)
	if args == nil {
		return nil
	}
	if i > end {
		end = i
	}

	tc := &api.ToolCall{
		Function: api.ToolCallFunction{
			Index:     p.n,
			Name:      tool.Function.Name,
			Arguments: args,
		},
	}

	p.n++
	p.buffer = p.buffer[end:]
	return tc
}

// closed prueft auf den schliessenden Marker. Nur } und ] werden als
// Abschluss erkannt, weil andere Tags nicht zuverlaessig paaren.
func (p *Parser) closed() bool {
	var open, close byte
	switch p.tag {
	case "{":
		open, close = '{', '}'
	case "[":
		open, close = '[', ']'
	default:
		return false
	}

	var depth int
	for _, c := range p.buffer {
		if c == open {
			depth++
		} else if c == close {
			depth--
			if depth == 0 {
				return true
			}
		}
	}
	return false
}

// Content gibt zurueckgehaltenen Text zurueck der doch kein
// Tool-Aufruf war. Nur relevant fuer { und [ als Tag.
func (p *Parser) Content() string {
	if p.n > 0 {
		return ""
	}
	if p.tag == "{" || p.tag == "[" {
		return string(p.buffer)
	}
	return ""
}

// Calls gibt die Anzahl bisher geparster Tool-Aufrufe zurueck
func (p *Parser) Calls() int {
	return p.n
}
