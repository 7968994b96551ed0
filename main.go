package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"geotig/internal/api"
	"geotig/internal/config"
	"geotig/internal/logging"
	"geotig/internal/middleware"
	"geotig/internal/repository"

	"go.uber.org/zap"
)

func main() {
	root := os.Getenv("GEOTIG_ROOT")
	if root == "" {
		root = "."
	}

	// An environment config wins over the repository's own config file
	cfgPath := filepath.Join(root, repository.DirName, repository.ConfigName)
	if _, err := os.Stat(config.EnvPath()); err == nil {
		cfgPath = config.EnvPath()
	}
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		log.Fatal("failed to load config:", err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger:", err)
	}
	defer logger.Sync()

	repo, err := repository.Open(root, cfg, logger.Logger)
	if err != nil {
		logger.Fatal("failed to open repository", zap.Error(err))
	}
	defer repo.Close()

	mux := api.NewHandler(repo, logger).Routes()

	handler := middleware.Chain(
		mux,
		middleware.Recover(logger),
		middleware.Logger(logger),
		middleware.RequestID,
	)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("starting server",
		zap.String("address", addr),
		zap.String("root", repo.Root))

	if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server failed", zap.Error(err))
	}
}
