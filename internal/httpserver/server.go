// Package httpserver exposes the shopping assistant to the storefront
// frontend: a small REST surface for the catalog, transcription, and typed
// turns, plus a WebSocket gateway for full voice sessions.
package httpserver

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/chadiek/shop-voice/internal/assistant"
	"github.com/chadiek/shop-voice/internal/catalog"
	"github.com/chadiek/shop-voice/internal/recommend"
	"github.com/chadiek/shop-voice/internal/session"
	"github.com/chadiek/shop-voice/internal/speech"
)

// Options carries the collaborators the server is built from.
type Options struct {
	Catalog    *catalog.Snapshot
	Store      session.Store
	BackendURL string
	// Coordinator configures every assistant session the server creates.
	Coordinator assistant.Config
	// Transcriber may be nil, which disables /api/transcribe.
	Transcriber *speech.WhisperTranscriber
	CORSOrigin  string
}

// Server bundles the HTTP router and dependencies.
type Server struct {
	echo *echo.Echo
	opts Options
	// typed serves REST-only clients: one shared coordinator with voice off.
	typed *assistant.Coordinator
}

// nopSynth backs coordinators that never speak.
type nopSynth struct{}

func (nopSynth) Speak(ctx context.Context, text string) error { return nil }

// New constructs the HTTP server with routes.
func New(opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	if opts.CORSOrigin != "" {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: []string{opts.CORSOrigin},
		}))
	}

	s := &Server{echo: e, opts: opts}
	s.typed = assistant.New(opts.Coordinator, opts.Catalog,
		restoreConversation(opts.Store, opts.Coordinator.StorageKey),
		opts.Store, recommend.NewClient(opts.BackendURL), nopSynth{}, nil)

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/api/devices", s.devices)
	e.GET("/api/plans", s.plans)
	e.POST("/api/transcribe", s.transcribe)
	e.POST("/api/assistant/message", s.message)
	e.GET("/ws/assistant", s.assistantSocket)
	return s
}

// Router returns the handler for an http.Server.
func (s *Server) Router() http.Handler { return s.echo }

// Close releases the shared typed coordinator.
func (s *Server) Close() { s.typed.Close() }

func (s *Server) devices(c echo.Context) error {
	return c.JSON(http.StatusOK, s.opts.Catalog.Devices())
}

func (s *Server) plans(c echo.Context) error {
	return c.JSON(http.StatusOK, s.opts.Catalog.Plans())
}

func (s *Server) transcribe(c echo.Context) error {
	if s.opts.Transcriber == nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "transcription is not configured"})
	}
	fh, err := c.FormFile("audio")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing audio file"})
	}
	if !speech.SupportedAudioFile(fh.Filename) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unsupported audio format"})
	}
	src, err := fh.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unreadable audio file"})
	}
	defer src.Close()

	text, err := s.opts.Transcriber.Transcribe(c.Request().Context(), fh.Filename, src)
	if err != nil {
		log.Printf("httpserver: transcription failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "transcription failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"transcript": text})
}

type typedRequest struct {
	Text string `json:"text"`
}

func (s *Server) message(c echo.Context) error {
	var req typedRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.Text == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "text is required"})
	}

	msg, err := s.typed.SubmitTyped(req.Text)
	if errors.Is(err, recommend.ErrAlreadyInProgress) {
		return c.JSON(http.StatusConflict, echo.Map{"error": "a request is already being processed"})
	}
	if err != nil {
		log.Printf("httpserver: typed turn failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "assistant unavailable"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message":         msg,
		"recommendations": msg.Recommendations,
	})
}

// restoreConversation loads persisted session state so page reloads resume
// the dialogue; a missing or broken record starts fresh.
func restoreConversation(store session.Store, key string) *session.Conversation {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	st, err := store.Load(ctx, key)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			log.Printf("httpserver: loading persisted session: %v", err)
		}
		return session.NewConversation()
	}
	return session.Restore(st.SessionID, st.History)
}
