// toolfilter.go - Tool-Aufruf-Filter fuer den sichtbaren Token-Strom
//
// Nur Nachrichten ohne anstehende Tool-Aufrufe sind sichtbare
// Ausgabe; die Identitaet ausgefuehrter Tools wird getrennt
// gesammelt und im Ergebnis gemeldet.
package llm

import (
	"github.com/airunner/airunner/api"
	"github.com/airunner/airunner/tools"
)

type toolStreamFilter struct {
	parser *tools.Parser
	names  []string
}

func newToolStreamFilter(ts api.Tools) *toolStreamFilter {
	return &toolStreamFilter{parser: tools.NewParser([]api.Tool(ts), "{")}
}

// filter verarbeitet ein Fragment und gibt nur den Anteil zurueck
// der den Nutzer erreichen darf
func (f *toolStreamFilter) filter(s string) string {
	calls, content := f.parser.Add(s)
	for _, c := range calls {
		f.names = append(f.names, c.Function.Name)
	}
	return content
}

// executed gibt die Namen aller erkannten Tool-Aufrufe zurueck
func (f *toolStreamFilter) executed() []string {
	return f.names
}
