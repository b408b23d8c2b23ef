package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	duetwebui "github.com/MegaGrindStone/duet-web-ui"
	"github.com/MegaGrindStone/duet-web-ui/internal/duet"
	"github.com/MegaGrindStone/duet-web-ui/internal/handlers"
	"github.com/MegaGrindStone/duet-web-ui/internal/services"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type llmBackend interface {
	duet.LLM
	handlers.ModelLister
}

func main() {
	// A missing .env file is fine, the environment may already be set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatal(fmt.Errorf("error loading .env file: %w", err))
	}

	cfgDir, err := os.UserConfigDir()
	if err != nil {
		log.Fatal(fmt.Errorf("error getting user config dir: %w", err))
	}
	cfgPath := filepath.Join(cfgDir, "duetwebui")
	if err := os.MkdirAll(cfgPath, 0755); err != nil {
		log.Fatal(fmt.Errorf("error creating config directory: %w", err))
	}

	cfgFilePath := os.Getenv("DUET_CONFIG")
	if cfgFilePath == "" {
		cfgFilePath = filepath.Join(cfgPath, "config.yaml")
	}
	cfg, err := loadConfig(cfgFilePath)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := cfg.newLogger()
	if err != nil {
		log.Fatal(err)
	}

	llm, err := cfg.LLM.llm(logger)
	if err != nil {
		logger.Error("Failed to create LLM backend", slog.String("err", err.Error()))
		os.Exit(1)
	}

	storePath := cfg.StorePath
	if storePath == "" {
		storePath = filepath.Join(cfgPath, "store.db")
	}
	boltDB, err := services.NewBoltDB(storePath)
	if err != nil {
		logger.Error("Failed to open store", slog.String("path", storePath), slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer boltDB.Close()

	var speech duet.Speech = services.Mute{}
	if cfg.Speech.enabled() {
		speech = services.NewSystemSpeech(cfg.Speech.Command, cfg.Speech.Args, logger)
	}

	tmpl, err := handlers.ParseTemplates()
	if err != nil {
		logger.Error("Failed to parse templates", slog.String("err", err.Error()))
		os.Exit(1)
	}
	events := handlers.NewEvents(tmpl, logger)

	controller := duet.NewController(llm, events, speech, boltDB, duet.Config{
		SystemPrompt: cfg.SystemPrompt,
		VoiceA:       cfg.Speech.VoiceA,
		VoiceB:       cfg.Speech.VoiceB,
		MaxTurns:     cfg.MaxTurns,
	}, logger)

	m := handlers.NewMain(tmpl, events, llm, controller, boltDB, handlers.Settings{
		SeedPrompt: cfg.SeedPrompt,
		Splash:     cfg.Splash,
	}, logger)

	// Serve static files
	staticFS, err := fs.Sub(duetwebui.StaticFS, "static")
	if err != nil {
		panic(err)
	}
	fileServer := http.FileServer(http.FS(staticFS))

	// Create custom mux
	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("/", m.HandleHome)
	mux.HandleFunc("/duet/start", m.HandleStart)
	mux.HandleFunc("/duet/stop", m.HandleStop)
	mux.HandleFunc("/duet/reset", m.HandleReset)
	mux.HandleFunc("/duet/say", m.HandleSay)
	mux.HandleFunc("/transcripts", m.HandleTranscripts)
	mux.Handle("/sse", events)

	// Create custom server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String("err", err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", slog.String("addr", srv.Addr), slog.String("config", cfgFilePath))
		serverErrors <- srv.ListenAndServe()
	}()

	// Channel to listen for interrupt/terminate signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Blocking select waiting for either interrupt or server error
	select {
	case err := <-serverErrors:
		logger.Error("Server error", slog.String("err", err.Error()))

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		// Create context with timeout for shutdown
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Gracefully shutdown the server
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String("err", err.Error()))
			}
		}
	}
}

// loadConfig reads the YAML config at path. A missing file yields the defaults: Ollama on localhost with
// the platform's speech synthesizer.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()

	cfgFile, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("error opening config file: %w", err)
	}
	defer cfgFile.Close()

	if err := yaml.NewDecoder(cfgFile).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("error decoding config file: %w", err)
	}
	return cfg, nil
}
