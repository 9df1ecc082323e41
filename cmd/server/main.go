package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chadiek/shop-voice/internal/assistant"
	"github.com/chadiek/shop-voice/internal/catalog"
	"github.com/chadiek/shop-voice/internal/config"
	"github.com/chadiek/shop-voice/internal/httpserver"
	"github.com/chadiek/shop-voice/internal/session"
	"github.com/chadiek/shop-voice/internal/speech"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	var store session.Store
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatalf("redis unreachable at %s: %v", cfg.RedisAddr, err)
		}
		store = session.NewRedisStore(rdb)
		log.Printf("sessions: redis at %s", cfg.RedisAddr)
	} else {
		fs, err := session.NewFileStore(cfg.SessionPath)
		if err != nil {
			log.Fatalf("session store: %v", err)
		}
		store = fs
		log.Printf("sessions: file store at %s", cfg.SessionPath)
	}

	snap := catalog.FromLists(nil, nil)
	if cfg.CatalogURL != "" {
		loadCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		loaded, err := catalog.NewClient(cfg.CatalogURL).Load(loadCtx)
		cancel()
		if err != nil {
			log.Printf("catalog: load failed, local recommendations disabled: %v", err)
		} else {
			snap = loaded
			log.Printf("catalog: %d devices, %d plans", len(snap.Devices()), len(snap.Plans()))
		}
	} else {
		log.Println("Warning: no catalog source configured - local recommendations disabled")
	}

	var transcriber *speech.WhisperTranscriber
	if cfg.OpenAIKey != "" {
		transcriber = speech.NewWhisperTranscriber(cfg.OpenAIKey)
	}

	srv := httpserver.New(httpserver.Options{
		Catalog:     snap,
		Store:       store,
		BackendURL:  cfg.BackendURL,
		Coordinator: assistant.DefaultConfig(),
		Transcriber: transcriber,
		CORSOrigin:  cfg.CORSOrigin,
	})
	defer srv.Close()

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddress)
		serverErrors <- server.ListenAndServe()
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = server.Close()
	}
}
