package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/flowbill/flowbill-api/internal/helpers"
	"github.com/flowbill/flowbill-api/internal/logger"
	"github.com/flowbill/flowbill-api/internal/server"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found: %v\n", err)
	}

	stage := helpers.EnvOrDefault("STAGE", "dev")
	if !helpers.IsValidStage(stage) {
		log.Fatalf("invalid STAGE %q", stage)
	}
	logger.InitLogger(stage)
	defer logger.Sync() //nolint:errcheck

	router := gin.New()
	router.Use(gin.Recovery())

	server.InitializeHandlers()
	defer server.Close()
	server.InitializeRoutes(router)

	port := helpers.EnvOrDefault("PORT", "8000")
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           router,
		ReadHeaderTimeout: 20 * time.Second, // Prevent Slowloris attacks
	}

	go func() {
		logger.Info("server starting", zap.String("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	// Give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exiting")
}
