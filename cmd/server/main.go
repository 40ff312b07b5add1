package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Aryanpatel2001/voiceflow/internal/config"
	"github.com/Aryanpatel2001/voiceflow/internal/engine"
	"github.com/Aryanpatel2001/voiceflow/internal/httpserver"
	"github.com/Aryanpatel2001/voiceflow/internal/llm"
	"github.com/Aryanpatel2001/voiceflow/internal/session"
	"github.com/Aryanpatel2001/voiceflow/internal/store"
	"github.com/Aryanpatel2001/voiceflow/internal/tts"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	var st store.Store
	if cfg.SupabaseURL != "" && cfg.SupabaseKey != "" {
		sb, err := store.NewSupabase(store.Config{URL: cfg.SupabaseURL, ServiceRoleKey: cfg.SupabaseKey})
		if err != nil {
			log.Fatalf("supabase: %v", err)
		}
		st = sb
	} else {
		log.Println("using in-memory flow store")
		st = store.NewMemory()
	}

	var reasoner engine.Reasoner
	if cfg.SimulationMode || cfg.CerebrasKey == "" {
		log.Println("using simulated reasoner")
		reasoner = engine.SimulatedReasoner{}
	} else {
		reasoner = &engine.LiveReasoner{Client: llm.NewClient(cfg.CerebrasKey, cfg.CerebrasModelID)}
	}
	eng := engine.New(reasoner)

	var synth tts.Synthesizer
	if cfg.ElevenLabsKey != "" {
		synth = tts.NewElevenLabsClient(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID)
	} else {
		synth = tts.NewDeepgramClient(cfg.DeepgramKey, cfg.DeepgramModelID)
	}

	registry := session.NewRegistry()
	srv := httpserver.New(cfg, st, eng, synth, registry)

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Echo,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddress)
		serverErrors <- server.ListenAndServe()
	}()

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
	if n := registry.Len(); n > 0 {
		log.Printf("shutting down with %d live calls", n)
	}
}
