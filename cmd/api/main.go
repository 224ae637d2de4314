package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xpanvictor/tabletalk/internal/config"
	"github.com/xpanvictor/tabletalk/internal/handlers"
	"github.com/xpanvictor/tabletalk/internal/server"
	"github.com/xpanvictor/tabletalk/pkg/Logger"
)

// This is the main entry point for the API server.
// Loads in all system components
// Exposes functionalities
func main() {
	// fetch cfg
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	// load global logger
	logger := Logger.New(cfg.Debug)
	logger.Info("Logger initialized")

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// compose router
	router := gin.New()
	router.Use(handlers.RequestLoggerMiddleware(logger))
	dep := server.NewServerDependencies(cfg, logger)
	server.InitializeRoutes(cfg, router, dep)

	// listen with graceful exit
	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: router.Handler(),
	}
	go func() {
		logger.Infof("Listening on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server exiting %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// 5 secs then cancel
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Shutdown err %v", err)
	}
	logger.Info("Shutdown system")
}
