package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"physio/physio/config"
	"physio/physio/controllers"
	"physio/physio/middlewares"
	"physio/physio/routes"
	"physio/physio/services/llm"
	"physio/physio/sources/psql"
	"physio/physio/sources/psql/dao"
	"physio/physio/sources/storage"
	"physio/physio/utils/logging"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.LoadConfig()
	if err := logging.InitLogger(cfg.LogDir); err != nil {
		fmt.Fprintln(os.Stderr, "logger init:", err)
		os.Exit(1)
	}
	defer logging.Sync()

	if err := run(cfg); err != nil {
		logging.ErrorLogger.Error("server stopped", zap.Error(err))
		logging.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prompts, err := config.LoadPrompts(cfg.PromptsFile)
	if err != nil {
		return err
	}

	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	db, err := psql.NewDatabase(dbCtx, cfg)
	if err != nil {
		return fmt.Errorf("database connection: %w", err)
	}
	defer db.Close()

	provider, err := llm.NewProvider(cfg)
	if err != nil {
		return err
	}

	// transcript archiving is optional
	var archive controllers.Archive
	if cfg.MinIOEndpoint != "" {
		minioClient, err := storage.NewMinIOClient(dbCtx, cfg)
		if err != nil {
			return fmt.Errorf("minio connection: %w", err)
		}
		archive = minioClient
	}

	patientDAO := dao.NewPatientDAO(db.DB)
	conversationDAO := dao.NewConversationDAO(db.DB)

	completionCtrl := controllers.NewCompletionController(provider, patientDAO, prompts, cfg)
	conversationCtrl := controllers.NewConversationController(conversationDAO, archive, prompts)
	sessionCtrl := controllers.NewSessionController(conversationDAO, completionCtrl, prompts, cfg)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewares.RequestLogger)
	r.Use(middleware.Recoverer)

	r.Mount("/health", routes.HealthRoutes(controllers.NewHealthController(db)))
	r.Mount("/api/patients", routes.PatientRoutes(controllers.NewPatientController(patientDAO), cfg))
	r.Mount("/api/conversations", routes.ConversationRoutes(conversationCtrl, patientDAO, cfg))
	r.Mount("/api/archives", routes.ArchiveRoutes(conversationCtrl, patientDAO, cfg))
	r.Mount("/api/chat", routes.ChatRoutes(completionCtrl, patientDAO, cfg))
	r.Mount("/ws/session", routes.SessionRoutes(sessionCtrl, patientDAO, cfg))

	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.AppLogger.Info("server listening",
			zap.String("addr", cfg.ServerAddr), zap.String("provider", provider.Name()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		logging.AppLogger.Info("server shutdown complete")
		return nil
	})
	return g.Wait()
}
