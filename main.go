package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/7930navid/users-server/internal/cache"
	"github.com/7930navid/users-server/internal/config"
	"github.com/7930navid/users-server/internal/controllers"
	"github.com/7930navid/users-server/internal/database"
	"github.com/7930navid/users-server/internal/logger"
	"github.com/7930navid/users-server/internal/middleware"
	"github.com/7930navid/users-server/internal/repository"
	"github.com/7930navid/users-server/internal/service"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	if err := logger.Init(cfg.LogLevel); err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	// Connect to database
	db, err := database.NewConnection(cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close() // Close connection pool when the process exits

	// Run database migrations
	if err := database.RunMigrations(db); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	// Initialize Redis cache (optional - continue if Redis is unavailable)
	var cacheClient cache.Cache
	if cfg.RedisURL != "" {
		cacheClient, err = cache.NewRedisCache(cfg.RedisURL)
		if err != nil {
			logger.Warn("failed to connect to Redis, continuing without cache", zap.Error(err))
			cacheClient = nil
		} else {
			logger.Info("connected to Redis cache")
		}
	}

	// Initialize repository, service and controller
	userRepo := repository.NewUserRepository(db)
	userService := service.NewUserService(userRepo, cacheClient)
	userController := controllers.NewUserController(userService)

	// Create a Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger())

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})

	// API v1 routes group
	api := router.Group("/api/v1")
	{
		users := api.Group("/users")
		{
			users.POST("/register", userController.Register)
			users.POST("/login", userController.Login)
			users.PUT("/update", userController.UpdateProfile)
			users.POST("/verify-password", userController.VerifyPassword)
			users.DELETE("/:email", userController.DeleteUser)
			users.GET("", userController.ListUsers)
		}
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Serve until interrupted, then drain in-flight requests
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
