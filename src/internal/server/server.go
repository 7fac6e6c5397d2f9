package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hotspot-captive-svc/src/clients"
	"hotspot-captive-svc/src/internal/config"
	"hotspot-captive-svc/src/internal/dependency"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

var log = *logrus.StandardLogger()

type Server struct {
	cfg  *config.Configuration
	deps *dependency.Manager
}

func New(cfg *config.Configuration) *Server {
	return &Server{cfg: cfg}
}

// Start connects the backing services, resyncs persisted sessions against
// the packet filter and serves the captive portal API until SIGINT/SIGTERM.
func (s *Server) Start() error {
	gin.SetMode(s.cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery())

	mongodb, err := clients.NewMongoDB(&s.cfg.Database)
	if err != nil {
		return err
	}

	redisClient, err := clients.NewRedisClient(&s.cfg.Redis)
	if err != nil {
		return err
	}

	rabbitMQ, err := clients.NewRabbitMQ(&s.cfg.Queue)
	if err != nil {
		return err
	}
	if err := rabbitMQ.SetupExchange(); err != nil {
		return err
	}

	s.deps = dependency.NewDependencyManager(router, mongodb, redisClient, rabbitMQ, s.cfg)
	SetupRoutes(s.deps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if s.cfg.Session.ResyncOnStart {
		if err := s.deps.LifecycleService.Resync(ctx); err != nil {
			log.WithError(err).Error("Session resync failed, continuing with empty state")
		}
	}
	s.deps.LifecycleService.StartGC(ctx)

	httpServer := &http.Server{
		Addr:         ":" + s.cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Server.IdleTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Captive portal API listening on :%s", s.cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Infof("Received signal %s, shutting down", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("HTTP server shutdown failed")
	}

	// Timers are stopped, not fired: sessions stay persisted and the next
	// start resyncs enforcement.
	s.deps.LifecycleService.Shutdown()

	if err := rabbitMQ.Close(); err != nil {
		log.WithError(err).Error("RabbitMQ close failed")
	}
	if err := redisClient.Close(); err != nil {
		log.WithError(err).Error("Redis close failed")
	}
	if err := mongodb.Close(shutdownCtx); err != nil {
		log.WithError(err).Error("MongoDB close failed")
	}

	return nil
}
