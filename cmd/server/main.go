package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"medos.dev/biovault/internal/api"
	"medos.dev/biovault/internal/auth"
	"medos.dev/biovault/internal/config"
	"medos.dev/biovault/internal/core"
	"medos.dev/biovault/internal/logging"
	"medos.dev/biovault/internal/objectstore"
	"medos.dev/biovault/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (defaults to $MEDOS_CONFIG)")
	exportPath := flag.String("export", "", "Write the active profile's export document to this path and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, *exportPath, logger); err != nil {
		logger.Fatal("Service stopped", zap.Error(err))
	}
}

func run(cfg config.Config, exportPath string, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	medium, err := openMedium(cfg)
	if err != nil {
		return err
	}
	records := store.NewRecordStore(medium, cfg.StoreKeyPrefix, store.DefaultSchemas(), logger.Named("store"))
	defer records.Close()
	if err := records.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize %s store: %w", cfg.StoreMedium, err)
	}

	profiles := core.NewProfileService(records, logger.Named("profiles"))

	if exportPath != "" {
		return writeExport(ctx, profiles, exportPath, logger)
	}

	deps := api.Deps{
		Profiles: profiles,
		Tokens:   auth.NewIssuer(cfg.JWTSecret, cfg.JWTTTL),
		Logger:   logger.Named("api"),
	}

	// A nil *LLMService must not leak into the interfaces as a non-nil value.
	var chatModel core.ChatModel
	llm, err := core.NewLLMService(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logger.Named("llm"))
	switch {
	case errors.Is(err, core.ErrAIUnavailable):
		logger.Warn("GEMINI_API_KEY not set; AI endpoints will answer 503")
	case err != nil:
		return err
	default:
		defer llm.Close()
		chatModel = llm
		deps.Analyzer = llm
	}
	deps.Chat = core.NewChatService(records, chatModel, logger.Named("chat"))

	if cfg.ExportBucket != "" {
		archiver, err := objectstore.NewS3Archiver(ctx, objectstore.Options{
			Bucket:    cfg.ExportBucket,
			Region:    cfg.AWSRegion,
			AccessKey: cfg.AWSAccessKey,
			SecretKey: cfg.AWSSecretKey,
		}, logger.Named("objectstore"))
		if err != nil {
			return err
		}
		deps.Archiver = archiver
	}

	router := api.NewRouter(api.NewAPIHandler(deps), cfg.AllowedOrigins)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // document analysis can take a while
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting server",
			zap.String("addr", srv.Addr),
			zap.String("medium", cfg.StoreMedium),
			zap.Bool("ai_enabled", deps.Analyzer != nil))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("could not listen on %s: %w", srv.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server exited gracefully")
	return nil
}

func openMedium(cfg config.Config) (store.Medium, error) {
	switch cfg.StoreMedium {
	case config.MediumMemory:
		return store.NewMemoryMedium(), nil
	case config.MediumRedis:
		return store.NewRedisMedium(cfg.RedisAddr, cfg.RedisPassword), nil
	case config.MediumSQLite:
		m, err := store.NewSQLiteMedium(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown store medium %q", cfg.StoreMedium)
	}
}

// writeExport reads the store as it is; it never creates a profile or a session.
func writeExport(ctx context.Context, profiles *core.ProfileService, path string, logger *zap.Logger) error {
	data, doc, err := exportJSON(ctx, profiles)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	logger.Info("Export written", zap.String("path", path), zap.String("profile_id", doc.Profile.ID))
	return nil
}

func exportJSON(ctx context.Context, profiles *core.ProfileService) ([]byte, core.ExportDocument, error) {
	doc, err := profiles.Export(ctx)
	if errors.Is(err, core.ErrNotSignedIn) {
		return nil, doc, fmt.Errorf("nothing to export, no profile is signed in: %w", err)
	}
	if err != nil {
		return nil, doc, fmt.Errorf("export failed: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, doc, err
	}
	return data, doc, nil
}
