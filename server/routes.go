// routes.go - HTTP-API des Servers
//
// Diese Datei enthaelt:
// - Server: Verdrahtung von Store, Builder, Scheduler und Slots
// - GenerateRoutes: Gin-Router mit CORS-Middleware
package server

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/airunner/airunner/diffusion"
	"github.com/airunner/airunner/envconfig"
	"github.com/airunner/airunner/events"
	"github.com/airunner/airunner/llm"
	"github.com/airunner/airunner/settings"
)

// Server buendelt alle Abhaengigkeiten der HTTP-Handler
type Server struct {
	store   *settings.Store
	builder *diffusion.Builder
	sched   *Scheduler
	bus     *events.Bus

	managers map[HandlerKind]*Manager

	// newOrchestrator erstellt den Orchestrator fuer einen geladenen
	// Chat-Runner; austauschbar fuer Tests
	newOrchestrator func(runner llm.Runner) *llm.Orchestrator
}

// NewServer verdrahtet die Subsysteme zu einem Server
func NewServer(store *settings.Store, sched *Scheduler, bus *events.Bus, managers map[HandlerKind]*Manager) *Server {
	s := &Server{
		store:    store,
		builder:  diffusion.NewBuilder(store),
		sched:    sched,
		bus:      bus,
		managers: managers,
	}
	s.newOrchestrator = func(runner llm.Runner) *llm.Orchestrator {
		return llm.NewOrchestrator(runner, bus)
	}
	return s
}

// GenerateRoutes baut den Gin-Router mit allen Endpunkten
func (s *Server) GenerateRoutes() *gin.Engine {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowWildcard = true
	corsConfig.AllowBrowserExtensions = true
	corsConfig.AllowHeaders = []string{"Authorization", "Content-Type", "User-Agent", "Accept", "X-Requested-With"}
	corsConfig.AllowOrigins = envconfig.AllowedOrigins()

	r := gin.Default()
	r.Use(cors.New(corsConfig))

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "AI Runner is running")
	})
	r.HEAD("/", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	r.POST("/api/generate", s.GenerateHandler)
	r.POST("/api/image", s.ImageHandler)
	r.GET("/api/status", s.StatusHandler)
	r.POST("/api/interrupt", s.InterruptHandler)

	return r
}

func (s *Server) manager(kind HandlerKind) *Manager {
	return s.managers[kind]
}
