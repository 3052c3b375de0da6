// models.go - Model-Registry und Namensaufloesung
//
// Diese Datei enthaelt:
// - AIModel: Identitaet eines konfigurierten Modells
// - ResolveModelByName: Lookup mit Tippfehler-Vorschlag
// - Backfill: Fehlende Felder aus aufgeloester Identitaet ergaenzen
package settings

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
)

// ErrModelNotFound wird zurueckgegeben wenn kein Modell zum Namen existiert
var ErrModelNotFound = errors.New("model not found")

// AIModel ist die Identitaet eines konfigurierten Modells
type AIModel struct {
	Name           string
	Path           string
	Branch         string
	Version        string
	Category       string
	PipelineAction string
	Enabled        bool
	IsDefault      bool
}

// UpsertModel legt ein Modell an oder aktualisiert es
func (s *Store) UpsertModel(m AIModel) error {
	_, err := s.conn.Exec(`
		INSERT INTO ai_models (name, path, branch, version, category, pipeline_action, enabled, is_default)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			path = excluded.path, branch = excluded.branch, version = excluded.version,
			category = excluded.category, pipeline_action = excluded.pipeline_action,
			enabled = excluded.enabled, is_default = excluded.is_default
	`, m.Name, m.Path, m.Branch, m.Version, m.Category, m.PipelineAction, m.Enabled, m.IsDefault)
	if err != nil {
		return fmt.Errorf("upsert model %q: %w", m.Name, err)
	}
	return nil
}

// ListModels gibt alle konfigurierten Modelle zurueck
func (s *Store) ListModels() ([]AIModel, error) {
	rows, err := s.conn.Query(`
		SELECT name, path, branch, version, category, pipeline_action, enabled, is_default
		FROM ai_models ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	var models []AIModel
	for rows.Next() {
		var m AIModel
		if err := rows.Scan(&m.Name, &m.Path, &m.Branch, &m.Version, &m.Category,
			&m.PipelineAction, &m.Enabled, &m.IsDefault); err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		models = append(models, m)
	}
	return models, rows.Err()
}

// ResolveModelByName loest einen Model-Namen zur vollen Identitaet auf.
// Bei unbekanntem Namen wird der naechstaehnliche konfigurierte Name
// als Vorschlag in die Fehlermeldung aufgenommen.
func (s *Store) ResolveModelByName(name string) (AIModel, error) {
	var m AIModel
	err := s.conn.QueryRow(`
		SELECT name, path, branch, version, category, pipeline_action, enabled, is_default
		FROM ai_models WHERE name = ?
	`, name).Scan(&m.Name, &m.Path, &m.Branch, &m.Version, &m.Category,
		&m.PipelineAction, &m.Enabled, &m.IsDefault)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return AIModel{}, fmt.Errorf("resolve model %q: %w", name, err)
	}

	if suggestion := s.closestModelName(name); suggestion != "" {
		return AIModel{}, fmt.Errorf("%w: %q (did you mean %q?)", ErrModelNotFound, name, suggestion)
	}
	return AIModel{}, fmt.Errorf("%w: %q", ErrModelNotFound, name)
}

// closestModelName findet den aehnlichsten konfigurierten Model-Namen.
// Distanzen ueber 5 gelten nicht mehr als Tippfehler.
func (s *Store) closestModelName(name string) string {
	models, err := s.ListModels()
	if err != nil {
		return ""
	}

	best, bestDist := "", 6
	for _, m := range models {
		d := levenshtein.ComputeDistance(strings.ToLower(name), strings.ToLower(m.Name))
		if d < bestDist {
			best, bestDist = m.Name, d
		}
	}
	return best
}

// Backfill ergaenzt fehlende Felder von dst aus der aufgeloesten
// Identitaet. Ein Modell geht niemals teilbefuellt in einen Request.
func Backfill(dst *AIModel, resolved AIModel) {
	if dst.Name == "" {
		dst.Name = resolved.Name
	}
	if dst.Path == "" {
		dst.Path = resolved.Path
	}
	if dst.Branch == "" {
		dst.Branch = resolved.Branch
	}
	if dst.Version == "" {
		dst.Version = resolved.Version
	}
	if dst.Category == "" {
		dst.Category = resolved.Category
	}
	if dst.PipelineAction == "" {
		dst.PipelineAction = resolved.PipelineAction
	}
}
