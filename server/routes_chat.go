// routes_chat.go - Chat-Generierung mit Token-Streaming
//
// Diese Datei enthaelt:
// - GenerateHandler: POST /api/generate, NDJSON-Token-Stream
//
// Der Handler reiht den Aufruf beim Chat-Worker ein und streamt die
// Token-Events des Orchestrators als NDJSON an den Client. Fehler
// waehrend des Streamens erscheinen als Fehler-Event im Stream, nicht
// als HTTP-Fehler: der Statuscode ist dann schon geschrieben.
//
// Das Laden des Modells laeuft IM Worker-Task: ein Pfadwechsel
// ordnet sich so hinter laufende und wartende Generierungen ein und
// entlaedt nie ein Modell unter einem aktiven Stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/airunner/airunner/api"
	"github.com/airunner/airunner/llm"
	"github.com/airunner/airunner/settings"
)

// GenerateHandler bedient POST /api/generate
func (s *Server) GenerateHandler(c *gin.Context) {
	var req api.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Model == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "model is required"})
		return
	}

	mgr := s.manager(KindChat)
	if mgr == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "no chat slot configured"})
		return
	}

	model, err := s.store.ResolveModelByName(req.Model)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, settings.ErrModelNotFound) {
			status = http.StatusNotFound
		}
		c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
		return
	}

	requestID := uuid.NewString()
	ch := make(chan api.TokenEvent, 256)
	fail := func(msg string) {
		ch <- api.TokenEvent{RequestID: requestID, Error: msg, Done: true}
		close(ch)
	}

	submitErr := s.sched.Submit(c.Request.Context(), KindChat, func(ctx context.Context) {
		// Laden im Worker: serialisiert mit allen Generierungen
		if err := mgr.EnsureLoaded(ctx, model.Path); err != nil {
			fail(err.Error())
			return
		}
		runner, ok := mgr.Handle().(llm.Runner)
		if !ok {
			fail("chat slot holds no runner")
			return
		}
		if req.KeepAlive != nil {
			mgr.SetKeepAlive(req.KeepAlive.Duration)
		}

		orch := s.newOrchestrator(runner)
		orch.SetCallback(func(ev api.TokenEvent) {
			ch <- ev
			if ev.Done {
				close(ch)
			}
		})
		s.sched.SetInterrupt(KindChat, orch.Interrupt)
		defer s.sched.SetInterrupt(KindChat, nil)

		if _, err := orch.Generate(ctx, requestID, req); err != nil {
			// Vorab-Fehler: der Orchestrator hat nichts gestreamt
			fail(err.Error())
		}
	}, func() {
		fail("request dropped before generation started")
	})
	if submitErr != nil {
		status := http.StatusInternalServerError
		if errors.Is(submitErr, ErrMaxQueue) {
			status = http.StatusServiceUnavailable
		}
		c.AbortWithStatusJSON(status, gin.H{"error": submitErr.Error()})
		return
	}

	if req.Stream != nil && !*req.Stream {
		s.waitChatResponse(c, ch, model.Name)
		return
	}

	c.Header("Content-Type", "application/x-ndjson")
	enc := json.NewEncoder(c.Writer)
	c.Stream(func(w io.Writer) bool {
		ev, ok := <-ch
		if !ok {
			return false
		}
		if err := enc.Encode(ev); err != nil {
			return false
		}
		return !ev.Done
	})
}

// waitChatResponse sammelt den Stream zu einer einzelnen Antwort
func (s *Server) waitChatResponse(c *gin.Context, ch <-chan api.TokenEvent, model string) {
	var sb strings.Builder
	var lastErr string
	for ev := range ch {
		sb.WriteString(ev.Content)
		if ev.Error != "" {
			lastErr = ev.Error
		}
	}
	if lastErr != "" {
		c.JSON(http.StatusOK, api.ChatResponse{
			Model: model, Done: true, DoneReason: "error",
			Message: api.Message{Role: "assistant", Content: lastErr},
		})
		return
	}
	c.JSON(http.StatusOK, api.ChatResponse{
		Model: model, Done: true, DoneReason: "stop",
		Message: api.Message{Role: "assistant", Content: sb.String()},
	})
}
