// routes_image.go - Bildgenerierung mit Fortschritts-Streaming
//
// Diese Datei enthaelt:
// - ImageHandler: POST /api/image, NDJSON-Fortschritt + Endbild
// - buildOverrides: API-Request -> Builder-Overrides
//
// Wie beim Chat laeuft das Laden des Modells im Worker-Task, damit
// ein Pfadwechsel nie ein Modell unter einer laufenden Generierung
// wegzieht.
package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image/png"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/airunner/airunner/api"
	"github.com/airunner/airunner/diffusion"
	"github.com/airunner/airunner/events"
	"github.com/airunner/airunner/settings"
)

// ImageHandler bedient POST /api/image
func (s *Server) ImageHandler(c *gin.Context) {
	var req api.ImageGenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mgr := s.manager(KindDiffusion)
	if mgr == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "no diffusion slot configured"})
		return
	}

	snap, err := s.store.Snapshot()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	ov, err := buildOverrides(req)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	bundle, err := s.builder.Build(snap, ov)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, diffusion.ErrUnsupportedOperation) || errors.Is(err, diffusion.ErrModelResolution) {
			status = http.StatusBadRequest
		}
		c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
		return
	}

	requestID := uuid.NewString()
	ch := make(chan api.ImageGenerateResponse, 16)
	fail := func(msg string) {
		ch <- api.ImageGenerateResponse{RequestID: requestID, Error: msg, Done: true}
		close(ch)
	}

	submitErr := s.sched.Submit(c.Request.Context(), KindDiffusion, func(ctx context.Context) {
		// Laden im Worker: serialisiert mit allen Generierungen
		if err := mgr.EnsureLoaded(ctx, bundle.Model.Path); err != nil {
			fail(err.Error())
			return
		}
		pipeline, ok := mgr.Handle().(diffusion.Pipeline)
		if !ok {
			fail("diffusion slot holds no pipeline")
			return
		}
		if req.KeepAlive != nil {
			mgr.SetKeepAlive(req.KeepAlive.Duration)
		}

		genCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		s.sched.SetInterrupt(KindDiffusion, cancel)
		defer s.sched.SetInterrupt(KindDiffusion, nil)

		err := pipeline.Generate(genCtx, bundle, func(p diffusion.Progress) {
			resp := api.ImageGenerateResponse{
				RequestID:  requestID,
				Step:       p.Step,
				TotalSteps: p.TotalSteps,
				Done:       p.Done,
			}
			if len(p.Image) > 0 {
				resp.Image = base64.StdEncoding.EncodeToString(p.Image)
			}
			ch <- resp
		})
		if err != nil && genCtx.Err() == nil {
			msg := err.Error()
			if s.bus != nil {
				s.bus.Publish(events.GenerationErrorEvent{RequestID: requestID, Message: msg})
			}
			ch <- api.ImageGenerateResponse{RequestID: requestID, Error: msg, Done: true}
		} else if genCtx.Err() != nil {
			ch <- api.ImageGenerateResponse{RequestID: requestID, Done: true}
		}
		close(ch)
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

	c.Header("Content-Type", "application/x-ndjson")
	enc := json.NewEncoder(c.Writer)
	c.Stream(func(w io.Writer) bool {
		resp, ok := <-ch
		if !ok {
			return false
		}
		if err := enc.Encode(resp); err != nil {
			return false
		}
		return true
	})
}

// buildOverrides uebersetzt den API-Request in Builder-Overrides
func buildOverrides(req api.ImageGenerateRequest) (diffusion.Overrides, error) {
	ov := diffusion.Overrides{
		Section:              req.Section,
		Strength:             req.Strength,
		Seed:                 req.Seed,
		PromptEmbeds:         req.PromptEmbeds,
		NegativePromptEmbeds: req.NegativePromptEmbeds,
		Latents:              req.Latents,
		MemoryOptions:        req.MemoryOptions,
	}

	if req.Model != "" {
		ov.ModelData = &settings.AIModel{Name: req.Model}
	}

	if len(req.ControlnetImage) > 0 {
		img, err := png.Decode(bytes.NewReader(req.ControlnetImage))
		if err != nil {
			return diffusion.Overrides{}, errors.New("controlnet_image is not a valid PNG")
		}
		ov.ControlnetImage = img
	}

	// Prompt-Overrides laufen ueber die Extra-Options, damit der
	// Embeddings-Ausschluss des Builders weiterhin greift
	if req.Prompt != "" || req.NegativePrompt != "" || len(req.ExtraOptions) > 0 {
		ov.ExtraOptions = make(map[string]any, len(req.ExtraOptions)+2)
		for k, v := range req.ExtraOptions {
			ov.ExtraOptions[k] = v
		}
		if req.Prompt != "" {
			ov.ExtraOptions["prompt"] = req.Prompt
		}
		if req.NegativePrompt != "" {
			ov.ExtraOptions["negative_prompt"] = req.NegativePrompt
		}
	}

	return ov, nil
}
