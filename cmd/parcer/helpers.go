package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/worq1337/parcer-sub000/internal/events"
	"github.com/worq1337/parcer-sub000/internal/extract"
	"github.com/worq1337/parcer-sub000/internal/fastpath"
	"github.com/worq1337/parcer-sub000/internal/ingest"
	"github.com/worq1337/parcer-sub000/internal/llm"
	"github.com/worq1337/parcer-sub000/internal/ocr"
	"github.com/worq1337/parcer-sub000/internal/operators"
	"github.com/worq1337/parcer-sub000/internal/service"
	"github.com/worq1337/parcer-sub000/internal/storage"

	"github.com/spf13/viper"
)

// expandPath resolves ~ and environment variables in a configured path.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// initStorage opens the database and brings the schema up to date.
func initStorage(ctx context.Context) (service.Storage, error) {
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		dbPath = "$HOME/.local/share/parcer/parcer.db"
	}
	dbPath = expandPath(dbPath)

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// pipeline bundles the wired ingestion services for one command invocation.
type pipeline struct {
	store       service.Storage
	trail       *events.Trail
	notifier    *events.Notifier
	normalizer  *extract.Normalizer
	dispatcher  *extract.Dispatcher
	coordinator *ingest.Coordinator
}

// logNotifications drains the bus into the structured log until the
// notifier is closed. Commands stay quiet by default; run with
// --log-level debug to see the per-record outcomes.
func logNotifications(ch <-chan events.Notification, logger *slog.Logger) {
	for n := range ch {
		attrs := []any{"kind", n.Kind, "source", n.Source}
		if n.Record != nil {
			attrs = append(attrs,
				"record_id", n.Record.ID,
				"amount", n.Record.Amount,
				"debit", n.Record.Debit(),
			)
		}
		logger.Debug("Pipeline notification", attrs...)
	}
}

func (p *pipeline) Close() {
	p.notifier.Close()
	if err := p.store.Close(); err != nil {
		slog.Warn("Failed to close storage", "error", err)
	}
}

// buildPipeline wires storage, the audit trail, the extraction strategies,
// and the dedup coordinator from the active configuration. The language
// model and OCR tiers are optional: without an API key only the fast path
// handles text, and without an OCR URL image input is rejected.
func buildPipeline(ctx context.Context) (*pipeline, error) {
	store, err := initStorage(ctx)
	if err != nil {
		return nil, err
	}

	logger := slog.Default()
	trail := events.NewTrail(store, logger)
	notifier := events.NewNotifier(logger)
	go logNotifications(notifier.Subscribe(), logger)

	directory := operators.NewDirectory(store)
	normalizer := extract.NewNormalizer(directory, logger)

	var textModel extract.TextStrategy
	var client *llm.Client
	if viper.GetString("llm.api_key") != "" {
		client, err = llm.NewClient(llm.Config{
			APIKey:      viper.GetString("llm.api_key"),
			Model:       viper.GetString("llm.model"),
			VisionModel: viper.GetString("llm.vision_model"),
			BaseURL:     viper.GetString("llm.base_url"),
		}, logger)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to create LLM client: %w", err)
		}
		textModel = llm.NewStrategy(client, logger)
	}

	var images extract.ImageStrategy
	if ocrURL := viper.GetString("ocr.url"); ocrURL != "" {
		primary, ocrErr := ocr.NewClient(ocrURL, 30*time.Second)
		if ocrErr != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to create OCR client: %w", ocrErr)
		}
		cfg := ocr.Config{
			ConfidenceThreshold: viper.GetFloat64("ocr.threshold"),
			FallbackEnabled:     viper.GetBool("ocr.fallback_enabled"),
		}
		if client != nil {
			images = ocr.NewOrchestrator(primary, ocr.NewVisionStrategy(client), trail, cfg, logger)
		} else {
			images = ocr.NewOrchestrator(primary, nil, trail, cfg, logger)
		}
	}

	dispatcher := extract.NewDispatcher(fastpath.NewExtractor(), textModel, images, normalizer, trail, logger)
	coordinator := ingest.NewCoordinator(store, trail, notifier, viper.GetDuration("dedup.window"), logger)

	return &pipeline{
		store:       store,
		trail:       trail,
		notifier:    notifier,
		normalizer:  normalizer,
		dispatcher:  dispatcher,
		coordinator: coordinator,
	}, nil
}
