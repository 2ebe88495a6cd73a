// Command everkeep-server runs the Everkeep memory assistant: webhook intake
// for Telegram and WhatsApp, the chat API and widget socket, hybrid recall,
// and the reminder scheduler.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/everkeep/everkeep/internal/api"
	"github.com/everkeep/everkeep/internal/channel"
	"github.com/everkeep/everkeep/internal/collab"
	"github.com/everkeep/everkeep/internal/config"
	"github.com/everkeep/everkeep/internal/ingest"
	"github.com/everkeep/everkeep/internal/orchestrator"
	"github.com/everkeep/everkeep/internal/relationship"
	"github.com/everkeep/everkeep/internal/reminder"
	"github.com/everkeep/everkeep/internal/retrieval"
	"github.com/everkeep/everkeep/internal/server"
	"github.com/everkeep/everkeep/internal/storage"
	"github.com/everkeep/everkeep/internal/storage/postgres"
	"github.com/everkeep/everkeep/internal/storage/sqlite"
	"github.com/everkeep/everkeep/internal/tags"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (default: EVERKEEP_CONFIG_FILE)")
	flag.Parse()

	// .env is a developer convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Collaborator clients. Embedding and completion always have a target;
	// transcription, extraction, and mail are enabled by configuration.
	embedder := collab.NewHTTPEmbedder(collab.EmbedderConfig{
		BaseURL:   cfg.Embedding.URL,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
	})
	completer := collab.NewHTTPCompleter(collab.CompleterConfig{
		BaseURL: cfg.Completion.URL,
		Model:   cfg.Completion.Model,
	})

	reporters := map[string]api.StateReporter{
		"embedding":  embedder,
		"completion": completer,
	}

	var transcriber collab.Transcriber
	if cfg.Transcription.URL != "" {
		t := collab.NewHTTPTranscriber(collab.TranscriberConfig{
			BaseURL: cfg.Transcription.URL,
			Model:   cfg.Transcription.Model,
		})
		transcriber = t
		reporters["transcription"] = t
	}

	var extractor collab.AttachmentExtractor
	if cfg.Extraction.URL != "" {
		e := collab.NewHTTPExtractor(collab.ExtractorConfig{BaseURL: cfg.Extraction.URL})
		extractor = e
		reporters["extraction"] = e
	}

	var notifier collab.Notifier
	if cfg.Mail.URL != "" {
		n := collab.NewHTTPEmailNotifier(collab.EmailNotifierConfig{
			BaseURL: cfg.Mail.URL,
			APIKey:  cfg.Mail.APIKey,
		})
		notifier = n
		reporters["mail"] = n
	}

	// Channel adapters. A channel without credentials stays disabled.
	hub := server.NewEventHub()
	go hub.Run()
	defer hub.Stop()

	adapters := []channel.Adapter{channel.NewChatAdapter(hub)}

	var telegram *channel.TelegramAdapter
	if cfg.Telegram.Token != "" {
		telegram = channel.NewTelegramAdapter(channel.TelegramConfig{
			Token:       cfg.Telegram.Token,
			SecretToken: cfg.Telegram.SecretToken,
		})
		adapters = append(adapters, telegram)
		log.Println("Telegram channel enabled")
	}

	var whatsapp *channel.WhatsAppAdapter
	if cfg.WhatsApp.AccessToken != "" {
		whatsapp = channel.NewWhatsAppAdapter(channel.WhatsAppConfig{
			AccessToken:   cfg.WhatsApp.AccessToken,
			AppSecret:     cfg.WhatsApp.AppSecret,
			PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
			VerifyToken:   cfg.WhatsApp.VerifyToken,
		})
		adapters = append(adapters, whatsapp)
		log.Println("WhatsApp channel enabled")
	}

	// Core components.
	searcher := retrieval.NewSearcher(store, embedder, retrieval.Config{})
	relationships := relationship.NewEngine(store)
	consolidator := tags.NewConsolidator(store)

	brain := orchestrator.New(orchestrator.Config{
		Store:         store,
		Searcher:      searcher,
		Relationships: relationships,
		Embedder:      embedder,
		Completer:     completer,
	})

	pipeline := ingest.NewPipeline(ingest.PipelineConfig{
		Store:       store,
		Handler:     brain,
		Adapters:    adapters,
		Transcriber: transcriber,
		Extractor:   extractor,
	})

	scheduler := reminder.NewScheduler(reminder.Config{
		Store:    store,
		Notifier: notifier,
		Adapters: adapters,
		Interval: cfg.Reminder.Interval,
	})
	go scheduler.Run(ctx)

	handlers := api.New(api.Config{
		Store:         store,
		Pipeline:      pipeline,
		Searcher:      searcher,
		Relationships: relationships,
		Consolidator:  consolidator,
		Embedder:      embedder,
		Telegram:      telegram,
		WhatsApp:      whatsapp,
		Hub:           hub,
		Reporters:     reporters,
	})

	addr, done, err := server.Start(ctx, cfg, handlers.Router(server.RequireAuth(cfg)))
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	log.Printf("Everkeep running at http://%s (storage: %s)", addr, cfg.Storage.Driver)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")
	cancel()
	<-done
}

func openStore(cfg *config.Config) (storage.Store, error) {
	if cfg.Storage.Driver == "postgres" {
		return postgres.New(cfg.Storage.PostgresDSN)
	}
	return sqlite.New(cfg.Storage.SQLitePath)
}
