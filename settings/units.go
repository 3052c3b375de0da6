// units.go - Zentrale Einheiten-Konvertierung fuer skalierte Settings
//
// Alle skalierten Felder des Stores werden ausschliesslich hier in
// Gleitkommawerte umgerechnet. Verstreute Division war in der
// Vergangenheit eine haeufige Fehlerquelle.
//
// ImageGuidanceScale wird wie jedes andere Prozentfeld mit /100
// konvertiert. Eine aeltere zweistufige Form (/10000 * 100) war
// algebraisch identisch und wurde zugunsten der einfachen Formel
// aufgegeben.
package settings

// Percent konvertiert einen gespeicherten Integer-Prozentwert (75 -> 0.75)
func Percent(v int) float64 {
	return float64(v) / 100.0
}

// Permyriad konvertiert einen *10000 gespeicherten Wert (15000 -> 1.5).
// Wird fuer die Controlnet-GuidanceScale verwendet.
func Permyriad(v int) float64 {
	return float64(v) / 10000.0
}

// Permille konvertiert einen *1000 gespeicherten Wert (400 -> 0.4).
// Wird fuer die ToMe-Merging-Ratio verwendet.
func Permille(v int) float64 {
	return float64(v) / 1000.0
}
