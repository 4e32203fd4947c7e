package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mmynk/tallyledger/internal/api"
	"github.com/mmynk/tallyledger/internal/auth"
	"github.com/mmynk/tallyledger/internal/config"
	"github.com/mmynk/tallyledger/internal/ingest"
	"github.com/mmynk/tallyledger/internal/repository"
	"github.com/mmynk/tallyledger/internal/service"
	"github.com/mmynk/tallyledger/internal/storage"
	"github.com/mmynk/tallyledger/internal/storage/memory"
	"github.com/mmynk/tallyledger/internal/storage/mongo"
	"github.com/mmynk/tallyledger/internal/storage/postgres"
	"github.com/mmynk/tallyledger/internal/storage/sqlite"
	"github.com/mmynk/tallyledger/pkg/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logging.Setup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.New()
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	transcriber, extractor, err := newIngestion(ctx, cfg)
	if err != nil {
		return err
	}

	ledger := service.NewLedgerService(
		repository.New(store, repository.WithRetries(cfg.AppendRetries)),
		cfg.StoreTimeout,
	)
	ingestSvc := service.NewIngestService(transcriber, extractor, ledger, cfg.UpstreamTimeout)

	handler := api.NewRouter(api.Deps{
		Handler:    api.NewHandler(ledger, ingestSvc, store, cfg.MaxAudioBytes),
		Verifier:   auth.NewJWTManager(cfg.JWTSecret, cfg.TokenTTL),
		CORSOrigin: cfg.CORSOrigin,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Ledger server starting", "address", srv.Addr, "url", fmt.Sprintf("http://localhost%s", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (storage.DocStore, error) {
	switch cfg.DBDriver {
	case config.DriverSQLite:
		store, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		slog.Info("Storage initialized", "driver", cfg.DBDriver, "database", cfg.DBPath)
		return store, nil
	case config.DriverPostgres:
		store, err := postgres.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		slog.Info("Storage initialized", "driver", cfg.DBDriver)
		return store, nil
	case config.DriverMongo:
		store, err := mongo.New(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		slog.Info("Storage initialized", "driver", cfg.DBDriver, "database", cfg.MongoDatabase)
		return store, nil
	case config.DriverMemory:
		slog.Warn("Using in-memory storage; data is lost on exit")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.DBDriver)
	}
}

// newIngestion builds the speech collaborators. Missing credentials leave the
// capability unavailable rather than failing startup.
func newIngestion(ctx context.Context, cfg *config.Config) (ingest.Transcriber, ingest.Extractor, error) {
	var (
		transcriber ingest.Transcriber = ingest.Unavailable{}
		extractor   ingest.Extractor   = ingest.Unavailable{}
	)

	if cfg.GeminiAPIKey != "" {
		client, err := ingest.NewGeminiClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, nil, err
		}
		extractor = ingest.NewGeminiExtractor(client, cfg.GeminiModel)
		if cfg.Transcriber == config.TranscriberGemini {
			transcriber = ingest.NewGeminiTranscriber(client, cfg.GeminiModel)
		}
	} else {
		slog.Warn("LEDGER_GEMINI_API_KEY not set; extraction is unavailable")
	}

	if cfg.Transcriber == config.TranscriberWhisper {
		if cfg.WhisperAPIKey == "" {
			slog.Warn("LEDGER_WHISPER_API_KEY not set; the transcription service may reject requests")
		}
		transcriber = ingest.NewWhisperTranscriber(cfg.WhisperURL, cfg.WhisperAPIKey, cfg.WhisperModel, cfg.UpstreamTimeout)
	}

	return transcriber, extractor, nil
}
