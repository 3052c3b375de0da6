// config.go - Haupt-Konfigurationsfunktionen fuer AI Runner
//
// Dieses Modul enthaelt:
// - Host: Gibt Scheme und Host zurueck (AIRUNNER_HOST)
// - AllowedOrigins: Gibt erlaubte Origins zurueck (AIRUNNER_ORIGINS)
// - Models: Gibt Model-Verzeichnis zurueck (AIRUNNER_MODELS)
// - Settings: Gibt Pfad zur Settings-Datenbank zurueck (AIRUNNER_SETTINGS)
// - KeepAlive: Gibt Keep-Alive-Dauer zurueck (AIRUNNER_KEEP_ALIVE)
// - LoadTimeout: Gibt Load-Timeout zurueck (AIRUNNER_LOAD_TIMEOUT)
// - MaxQueue: Gibt Warteschlangen-Limit zurueck (AIRUNNER_MAX_QUEUE)
// - RunnerPort/ImageRunnerPort: Ports der Runner-Subprozesse
// - ContextLength/ExtendContext: Kontextlaengen-Konfiguration
// - LogLevel: Gibt Log-Level zurueck (AIRUNNER_DEBUG)
//
// VRAM-Policy-Variablen sind ausgelagert in config_vram.go
package envconfig

import (
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Host gibt Scheme und Host zurueck
// Konfigurierbar via AIRUNNER_HOST
// Default: http://127.0.0.1:11770
func Host() *url.URL {
	defaultPort := "11770"

	s := strings.TrimSpace(Var("AIRUNNER_HOST"))
	scheme, hostport, ok := strings.Cut(s, "://")
	switch {
	case !ok:
		scheme, hostport = "http", s
	case scheme == "http":
		defaultPort = "80"
	case scheme == "https":
		defaultPort = "443"
	}

	hostport, path, _ := strings.Cut(hostport, "/")
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		host, port = "127.0.0.1", defaultPort
		if ip := net.ParseIP(strings.Trim(hostport, "[]")); ip != nil {
			host = ip.String()
		} else if hostport != "" {
			host = hostport
		}
	}

	if n, err := strconv.ParseInt(port, 10, 32); err != nil || n > 65535 || n < 0 {
		slog.Warn("invalid port, using default", "port", port, "default", defaultPort)
		port = defaultPort
	}

	return &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, port),
		Path:   path,
	}
}

// AllowedOrigins gibt erlaubte Origins zurueck
// Konfigurierbar via AIRUNNER_ORIGINS (komma-separiert)
// Enthaelt Standard-Origins fuer localhost
func AllowedOrigins() (origins []string) {
	if s := Var("AIRUNNER_ORIGINS"); s != "" {
		origins = strings.Split(s, ",")
	}

	// Standard-Origins fuer localhost
	for _, origin := range []string{"localhost", "127.0.0.1", "0.0.0.0"} {
		origins = append(origins,
			fmt.Sprintf("http://%s", origin),
			fmt.Sprintf("https://%s", origin),
			fmt.Sprintf("http://%s", net.JoinHostPort(origin, "*")),
			fmt.Sprintf("https://%s", net.JoinHostPort(origin, "*")),
		)
	}

	// App-Protokolle
	origins = append(origins,
		"app://*",
		"file://*",
	)

	return origins
}

// Models gibt das Model-Verzeichnis zurueck
// Konfigurierbar via AIRUNNER_MODELS
// Default: $HOME/.airunner/models
func Models() string {
	if s := Var("AIRUNNER_MODELS"); s != "" {
		return s
	}

	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}

	return filepath.Join(home, ".airunner", "models")
}

// Settings gibt den Pfad zur Settings-Datenbank zurueck
// Konfigurierbar via AIRUNNER_SETTINGS
// Default: $HOME/.airunner/settings.db
func Settings() string {
	if s := Var("AIRUNNER_SETTINGS"); s != "" {
		return s
	}

	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}

	return filepath.Join(home, ".airunner", "settings.db")
}

// KeepAlive gibt die Dauer zurueck, die Models im Speicher bleiben
// Konfigurierbar via AIRUNNER_KEEP_ALIVE
// Negative Werte = unendlich, 0 = kein Keep-Alive
// Default: 5 Minuten
func KeepAlive() (keepAlive time.Duration) {
	keepAlive = 5 * time.Minute
	if s := Var("AIRUNNER_KEEP_ALIVE"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			keepAlive = d
		} else if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			keepAlive = time.Duration(n) * time.Second
		}
	}

	if keepAlive < 0 {
		return time.Duration(math.MaxInt64)
	}

	return keepAlive
}

// LoadTimeout gibt das Timeout fuer Model-Laden zurueck
// Konfigurierbar via AIRUNNER_LOAD_TIMEOUT
// 0 oder negative Werte = unendlich
// Default: 5 Minuten
func LoadTimeout() (loadTimeout time.Duration) {
	loadTimeout = 5 * time.Minute
	if s := Var("AIRUNNER_LOAD_TIMEOUT"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			loadTimeout = d
		} else if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			loadTimeout = time.Duration(n) * time.Second
		}
	}

	if loadTimeout <= 0 {
		return time.Duration(math.MaxInt64)
	}

	return loadTimeout
}

// MaxQueue gibt die maximale Anzahl wartender Requests zurueck
// Konfigurierbar via AIRUNNER_MAX_QUEUE
// Default: 512
func MaxQueue() uint {
	if s := Var("AIRUNNER_MAX_QUEUE"); s != "" {
		if n, err := strconv.ParseUint(s, 10, 32); err == nil && n > 0 {
			return uint(n)
		}
		slog.Warn("invalid max queue, using default", "value", s)
	}
	return 512
}

// RunnerPort gibt den Port des Sprachmodell-Runner-Subprozesses zurueck
// Konfigurierbar via AIRUNNER_RUNNER_PORT
// Default: 11771
func RunnerPort() int {
	return portVar("AIRUNNER_RUNNER_PORT", 11771)
}

// ImageRunnerPort gibt den Port des Diffusion-Runner-Subprozesses zurueck
// Konfigurierbar via AIRUNNER_IMAGE_RUNNER_PORT
// Default: 11772
func ImageRunnerPort() int {
	return portVar("AIRUNNER_IMAGE_RUNNER_PORT", 11772)
}

func portVar(key string, defaultPort int) int {
	if s := Var(key); s != "" {
		if n, err := strconv.ParseInt(s, 10, 32); err == nil && n > 0 && n <= 65535 {
			return int(n)
		}
		slog.Warn("invalid port, using default", "key", key, "default", defaultPort)
	}
	return defaultPort
}

// ContextLength gibt die Ziel-Kontextlaenge zurueck
// Konfigurierbar via AIRUNNER_CONTEXT_LENGTH
// Default: 4096
func ContextLength() uint {
	if s := Var("AIRUNNER_CONTEXT_LENGTH"); s != "" {
		if n, err := strconv.ParseUint(s, 10, 32); err == nil && n > 0 {
			return uint(n)
		}
		slog.Warn("invalid context length, using default", "value", s)
	}
	return 4096
}

// ExtendContext gibt zurueck ob der Benutzer erweiterten Kontext (YaRN)
// aktiviert hat. Konfigurierbar via AIRUNNER_EXTEND_CONTEXT
func ExtendContext() bool {
	b, _ := strconv.ParseBool(Var("AIRUNNER_EXTEND_CONTEXT"))
	return b
}

// LogLevel gibt das Log-Level zurueck
// Konfigurierbar via AIRUNNER_DEBUG
// Werte: 0/false = INFO (Default), 1/true = DEBUG, 2 = TRACE
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("AIRUNNER_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// Var gibt eine Environment-Variable zurueck
// Entfernt fuehrende/trailing Quotes und Leerzeichen
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}
