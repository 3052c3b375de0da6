// routes_misc.go - Status- und Interrupt-Endpunkte
//
// Diese Datei enthaelt:
// - StatusHandler: GET /api/status, Zustand aller Model-Slots
// - InterruptHandler: POST /api/interrupt, kooperativer Abbruch
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/airunner/airunner/api"
)

// statusOrder haelt die Slot-Reihenfolge der Antwort stabil
var statusOrder = []HandlerKind{KindDiffusion, KindChat, KindVision}

// StatusHandler bedient GET /api/status
func (s *Server) StatusHandler(c *gin.Context) {
	resp := api.StatusResponse{}
	for _, kind := range statusOrder {
		mgr := s.managers[kind]
		if mgr == nil {
			continue
		}
		status, path, err := mgr.Status()
		slot := api.SlotStatus{
			Kind:      string(kind),
			Status:    string(status),
			ModelPath: path,
		}
		if err != nil {
			slot.LastError = err.Error()
		}
		if h, ok := mgr.Handle().(interface{ VRAMSize() uint64 }); ok {
			slot.VRAMSize = h.VRAMSize()
		}
		resp.Slots = append(resp.Slots, slot)
	}
	c.JSON(http.StatusOK, resp)
}

// InterruptHandler bedient POST /api/interrupt. Ohne kind werden
// alle Worker abgebrochen.
func (s *Server) InterruptHandler(c *gin.Context) {
	var req struct {
		Kind string `json:"kind"`
	}
	// Leerer Body ist erlaubt
	_ = c.ShouldBindJSON(&req)

	kinds := statusOrder
	if req.Kind != "" {
		kinds = []HandlerKind{HandlerKind(req.Kind)}
	}

	dropped := 0
	for _, kind := range kinds {
		dropped += s.sched.Interrupt(kind)
	}
	c.JSON(http.StatusOK, gin.H{"interrupted": true, "dropped": dropped})
}
