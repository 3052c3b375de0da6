// store.go - SQLite-basierter Settings-Store
//
// Diese Datei enthaelt:
// - Store: Verbindung und Schema-Initialisierung
// - Snapshot: Konsistenter Lese-Stand aller Settings-Tabellen
// - Update-Funktionen pro Settings-Gruppe
//
// SQLite verwaltet sein eigenes Locking fuer konkurrierende Zugriffe;
// WAL-Modus erlaubt Lesern, Schreiber nicht zu blockieren. Daher
// benoetigen wir keine Application-Level-Locks fuer Store-Operationen.
package settings

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // SQLite-Treiber registrieren
)

// currentSchemaVersion definiert die aktuelle Datenbank-Schema-Version.
// Wird bei Schema-Aenderungen erhoeht, die Migrationen erfordern.
const currentSchemaVersion = 3

// Store umhuellt die SQLite-Verbindung zum Settings-Bestand
type Store struct {
	conn *sql.DB
}

// Open oeffnet (oder erstellt) die Settings-Datenbank
func Open(dbPath string) (*Store, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open settings database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping settings database: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.init(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize settings database: %w", err)
	}

	return s, nil
}

// Close schliesst die Datenbankverbindung
func (s *Store) Close() error {
	_, _ = s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE);")
	return s.conn.Close()
}

// init initialisiert das Datenbankschema. Jede Settings-Gruppe ist eine
// Ein-Zeilen-Tabelle (id = 1) mit Defaults, dazu die ai_models-Tabelle.
func (s *Store) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS generator_settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		prompt TEXT NOT NULL DEFAULT '',
		negative_prompt TEXT NOT NULL DEFAULT '',
		steps INTEGER NOT NULL DEFAULT 20,
		scale INTEGER NOT NULL DEFAULT 750,
		seed INTEGER NOT NULL DEFAULT 42,
		random_seed BOOLEAN NOT NULL DEFAULT 1,
		model TEXT NOT NULL DEFAULT '',
		scheduler TEXT NOT NULL DEFAULT 'DPM++ 2M Karras',
		strength INTEGER NOT NULL DEFAULT 50,
		image_guidance_scale INTEGER NOT NULL DEFAULT 150,
		clip_skip INTEGER NOT NULL DEFAULT 0,
		section TEXT NOT NULL DEFAULT 'txt2img',
		version TEXT NOT NULL DEFAULT 'SDXL 1.0'
	);
	CREATE TABLE IF NOT EXISTS controlnet_settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		enabled BOOLEAN NOT NULL DEFAULT 0,
		variant TEXT NOT NULL DEFAULT 'canny',
		conditioning_scale INTEGER NOT NULL DEFAULT 100,
		guidance_scale INTEGER NOT NULL DEFAULT 7500,
		image_source TEXT NOT NULL DEFAULT 'canvas',
		use_grid_image BOOLEAN NOT NULL DEFAULT 0,
		link_to_mask BOOLEAN NOT NULL DEFAULT 0,
		image_path TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS memory_settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		attention_slicing BOOLEAN NOT NULL DEFAULT 1,
		vae_slicing BOOLEAN NOT NULL DEFAULT 1,
		vae_tiling BOOLEAN NOT NULL DEFAULT 0,
		model_cpu_offload BOOLEAN NOT NULL DEFAULT 0,
		sequential_cpu_offload BOOLEAN NOT NULL DEFAULT 0,
		channels_last BOOLEAN NOT NULL DEFAULT 0,
		tf32 BOOLEAN NOT NULL DEFAULT 0,
		cudnn_benchmark BOOLEAN NOT NULL DEFAULT 0,
		torch_compile BOOLEAN NOT NULL DEFAULT 0,
		tome_ratio INTEGER NOT NULL DEFAULT 0,
		unload_unused_models BOOLEAN NOT NULL DEFAULT 1
	);
	CREATE TABLE IF NOT EXISTS path_settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		base_dir TEXT NOT NULL DEFAULT '',
		models_dir TEXT NOT NULL DEFAULT '',
		image_dir TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS active_grid_settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		enabled BOOLEAN NOT NULL DEFAULT 1,
		pos_x INTEGER NOT NULL DEFAULT 0,
		pos_y INTEGER NOT NULL DEFAULT 0,
		width INTEGER NOT NULL DEFAULT 512,
		height INTEGER NOT NULL DEFAULT 512
	);
	CREATE TABLE IF NOT EXISTS canvas_settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		pan_x INTEGER NOT NULL DEFAULT 0,
		pan_y INTEGER NOT NULL DEFAULT 0,
		image_path TEXT NOT NULL DEFAULT '',
		mask_path TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS ai_models (
		name TEXT PRIMARY KEY,
		path TEXT NOT NULL DEFAULT '',
		branch TEXT NOT NULL DEFAULT 'main',
		version TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT 'stablediffusion',
		pipeline_action TEXT NOT NULL DEFAULT 'txt2img',
		enabled BOOLEAN NOT NULL DEFAULT 1,
		is_default BOOLEAN NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS schema_info (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL
	);
	`
	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	// Default-Zeilen anlegen falls nicht vorhanden
	for _, table := range []string{
		"generator_settings", "controlnet_settings", "memory_settings",
		"path_settings", "active_grid_settings", "canvas_settings",
	} {
		if _, err := s.conn.Exec(fmt.Sprintf("INSERT OR IGNORE INTO %s (id) VALUES (1)", table)); err != nil {
			return fmt.Errorf("seed %s: %w", table, err)
		}
	}

	if _, err := s.conn.Exec("INSERT OR IGNORE INTO schema_info (id, version) VALUES (1, ?)", currentSchemaVersion); err != nil {
		return fmt.Errorf("seed schema version: %w", err)
	}

	return nil
}

// SchemaVersion gibt die aktuelle Schema-Version zurueck
func (s *Store) SchemaVersion() (int, error) {
	var version int
	err := s.conn.QueryRow("SELECT version FROM schema_info").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return version, nil
}

// Snapshot liest alle Settings-Gruppen in einer Transaktion und gibt
// einen unveraenderlichen Stand zurueck
func (s *Store) Snapshot() (Snapshot, error) {
	tx, err := s.conn.Begin()
	if err != nil {
		return Snapshot{}, fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback()

	var snap Snapshot

	g := &snap.Generator
	err = tx.QueryRow(`
		SELECT prompt, negative_prompt, steps, scale, seed, random_seed, model,
		       scheduler, strength, image_guidance_scale, clip_skip, section, version
		FROM generator_settings
	`).Scan(&g.Prompt, &g.NegativePrompt, &g.Steps, &g.Scale, &g.Seed, &g.RandomSeed,
		&g.Model, &g.Scheduler, &g.Strength, &g.ImageGuidanceScale, &g.ClipSkip,
		&g.Section, &g.Version)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read generator settings: %w", err)
	}

	c := &snap.Controlnet
	err = tx.QueryRow(`
		SELECT enabled, variant, conditioning_scale, guidance_scale, image_source,
		       use_grid_image, link_to_mask, image_path
		FROM controlnet_settings
	`).Scan(&c.Enabled, &c.Variant, &c.ConditioningScale, &c.GuidanceScale,
		&c.ImageSource, &c.UseGridImage, &c.LinkToMask, &c.ImagePath)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read controlnet settings: %w", err)
	}

	m := &snap.Memory
	err = tx.QueryRow(`
		SELECT attention_slicing, vae_slicing, vae_tiling, model_cpu_offload,
		       sequential_cpu_offload, channels_last, tf32, cudnn_benchmark,
		       torch_compile, tome_ratio, unload_unused_models
		FROM memory_settings
	`).Scan(&m.AttentionSlicing, &m.VAESlicing, &m.VAETiling, &m.ModelCPUOffload,
		&m.SequentialCPUOffload, &m.ChannelsLast, &m.TF32, &m.CudnnBenchmark,
		&m.TorchCompile, &m.ToMeRatio, &m.UnloadUnusedModels)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read memory settings: %w", err)
	}

	p := &snap.Paths
	err = tx.QueryRow("SELECT base_dir, models_dir, image_dir FROM path_settings").
		Scan(&p.BaseDir, &p.ModelsDir, &p.ImageDir)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read path settings: %w", err)
	}

	a := &snap.ActiveGrid
	err = tx.QueryRow("SELECT enabled, pos_x, pos_y, width, height FROM active_grid_settings").
		Scan(&a.Enabled, &a.PosX, &a.PosY, &a.Width, &a.Height)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read active grid settings: %w", err)
	}

	cv := &snap.Canvas
	err = tx.QueryRow("SELECT pan_x, pan_y, image_path, mask_path FROM canvas_settings").
		Scan(&cv.PanX, &cv.PanY, &cv.ImagePath, &cv.MaskPath)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read canvas settings: %w", err)
	}

	return snap, tx.Commit()
}

// UpdateGenerator speichert die Generator-Einstellungen
func (s *Store) UpdateGenerator(g GeneratorSettings) error {
	_, err := s.conn.Exec(`
		UPDATE generator_settings
		SET prompt = ?, negative_prompt = ?, steps = ?, scale = ?, seed = ?,
		    random_seed = ?, model = ?, scheduler = ?, strength = ?,
		    image_guidance_scale = ?, clip_skip = ?, section = ?, version = ?
	`, g.Prompt, g.NegativePrompt, g.Steps, g.Scale, g.Seed, g.RandomSeed,
		g.Model, g.Scheduler, g.Strength, g.ImageGuidanceScale, g.ClipSkip,
		g.Section, g.Version)
	if err != nil {
		return fmt.Errorf("update generator settings: %w", err)
	}
	return nil
}

// UpdateControlnet speichert die Controlnet-Einstellungen
func (s *Store) UpdateControlnet(c ControlnetSettings) error {
	_, err := s.conn.Exec(`
		UPDATE controlnet_settings
		SET enabled = ?, variant = ?, conditioning_scale = ?, guidance_scale = ?,
		    image_source = ?, use_grid_image = ?, link_to_mask = ?, image_path = ?
	`, c.Enabled, c.Variant, c.ConditioningScale, c.GuidanceScale,
		c.ImageSource, c.UseGridImage, c.LinkToMask, c.ImagePath)
	if err != nil {
		return fmt.Errorf("update controlnet settings: %w", err)
	}
	return nil
}

// UpdateMemory speichert die Speicher-Einstellungen
func (s *Store) UpdateMemory(m MemorySettings) error {
	_, err := s.conn.Exec(`
		UPDATE memory_settings
		SET attention_slicing = ?, vae_slicing = ?, vae_tiling = ?,
		    model_cpu_offload = ?, sequential_cpu_offload = ?, channels_last = ?,
		    tf32 = ?, cudnn_benchmark = ?, torch_compile = ?, tome_ratio = ?,
		    unload_unused_models = ?
	`, m.AttentionSlicing, m.VAESlicing, m.VAETiling, m.ModelCPUOffload,
		m.SequentialCPUOffload, m.ChannelsLast, m.TF32, m.CudnnBenchmark,
		m.TorchCompile, m.ToMeRatio, m.UnloadUnusedModels)
	if err != nil {
		return fmt.Errorf("update memory settings: %w", err)
	}
	return nil
}

// UpdatePaths speichert die Pfad-Einstellungen
func (s *Store) UpdatePaths(p PathSettings) error {
	_, err := s.conn.Exec(`
		UPDATE path_settings SET base_dir = ?, models_dir = ?, image_dir = ?
	`, p.BaseDir, p.ModelsDir, p.ImageDir)
	if err != nil {
		return fmt.Errorf("update path settings: %w", err)
	}
	return nil
}

// UpdateActiveGrid speichert die Raster-Einstellungen
func (s *Store) UpdateActiveGrid(a ActiveGridSettings) error {
	_, err := s.conn.Exec(`
		UPDATE active_grid_settings SET enabled = ?, pos_x = ?, pos_y = ?, width = ?, height = ?
	`, a.Enabled, a.PosX, a.PosY, a.Width, a.Height)
	if err != nil {
		return fmt.Errorf("update active grid settings: %w", err)
	}
	return nil
}

// UpdateCanvas speichert die Zeichenflaechen-Einstellungen
func (s *Store) UpdateCanvas(c CanvasSettings) error {
	_, err := s.conn.Exec(`
		UPDATE canvas_settings SET pan_x = ?, pan_y = ?, image_path = ?, mask_path = ?
	`, c.PanX, c.PanY, c.ImagePath, c.MaskPath)
	if err != nil {
		return fmt.Errorf("update canvas settings: %w", err)
	}
	return nil
}
