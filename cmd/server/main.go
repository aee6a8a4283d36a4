package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Demedah/Appsjiabao/internal/api"
	"github.com/Demedah/Appsjiabao/internal/config"
	"github.com/Demedah/Appsjiabao/internal/jobs"
	"github.com/Demedah/Appsjiabao/internal/logging"
	"github.com/Demedah/Appsjiabao/internal/persistence"
	"github.com/Demedah/Appsjiabao/internal/pipeline"
)

func main() {
	configFile := flag.String("config", "config/config.yaml", "Path to configuration file")
	addr := flag.String("addr", "", "Listen address (overrides server.addr)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	logger, err := logging.NewLogger(logging.Options{Level: cfg.Logging.Level, File: cfg.Logging.File})
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	store := persistence.NewStore(cfg.Model.Path)
	predictor := pipeline.NewPredictor(store, logger)
	trainer := pipeline.NewTrainer(cfg.Training, cfg.Image.Size, logger)
	manager := jobs.NewManager()

	srv, err := api.NewServer(cfg, predictor, trainer, store, manager, logger)
	if err != nil {
		logger.Fatal("failed to create server", zap.Error(err))
	}

	if err := predictor.Reload(); err != nil {
		logger.Warn("no model loaded, serving untrained until /train", zap.String("path", cfg.Model.Path), zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.Server.WatchModel {
		go func() {
			if err := api.WatchModel(ctx, cfg.Model.Path, predictor, srv.InvalidateCache, logger); err != nil {
				logger.Error("model watcher stopped", zap.Error(err))
			}
		}()
	}

	r := gin.Default()
	srv.RegisterRoutes(r)

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: r,
	}

	logger.Info("skin classifier listening", zap.String("addr", cfg.Server.Addr))
	if err := serveHTTPServer(server, 15*time.Second, logger, nil, nil); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
	manager.Wait()
}

// serveHTTPServer runs server until it fails or a shutdown signal arrives.
// listener and signalCh are optional.
func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := signalCh
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
