package dependency

import (
	"hotspot-captive-svc/src/clients"
	"hotspot-captive-svc/src/internal/admin"
	"hotspot-captive-svc/src/internal/cache"
	"hotspot-captive-svc/src/internal/captive"
	"hotspot-captive-svc/src/internal/config"
	"hotspot-captive-svc/src/internal/enforcement"
	"hotspot-captive-svc/src/internal/lifecycle"
	"hotspot-captive-svc/src/internal/session"

	"github.com/gin-gonic/gin"
)

type Manager struct {
	Router           *gin.Engine
	Config           *config.Configuration
	Mongodb          *clients.MongoDB
	Redis            *clients.RedisClient
	RabbitMQ         *clients.RabbitMQ
	SessionStore     session.Store
	SessionRepo      session.Repository
	CacheService     cache.Service
	Enforcement      enforcement.Adapter
	OracleClient     *clients.OracleClient
	EventPublisher   *clients.EventPublisher
	LifecycleService lifecycle.Service
	CaptiveHandler   captive.Handler
	AdminService     admin.Service
	AdminHandler     admin.Handler
}

func NewDependencyManager(router *gin.Engine,
	mongodb *clients.MongoDB,
	redisClient *clients.RedisClient,
	rabbitMQ *clients.RabbitMQ,
	cfg *config.Configuration) *Manager {
	cacheService := cache.NewCacheService(redisClient.Client, cfg)
	sessionStore := session.NewStore()
	sessionRepo := session.NewSessionRepository(mongodb, cfg.Database.SessionCollection)
	adapter := enforcement.NewAdapter(&cfg.Enforcement)
	oracleClient := clients.NewOracleClient(&cfg.Oracle)
	eventPublisher := clients.NewEventPublisher(rabbitMQ.Channel, cfg)
	lifecycleService := lifecycle.NewManager(cfg, sessionStore, sessionRepo, adapter, oracleClient, cacheService, eventPublisher)
	captiveHandler := captive.NewHandler(cfg, lifecycleService)
	adminRepo := admin.NewRepository(mongodb, cfg.Database.SessionCollection)
	adminService := admin.NewService(adminRepo, cfg)
	adminHandler := admin.NewHandler(cfg, adminService)

	return &Manager{
		Router:           router,
		Config:           cfg,
		Mongodb:          mongodb,
		Redis:            redisClient,
		RabbitMQ:         rabbitMQ,
		SessionStore:     sessionStore,
		SessionRepo:      sessionRepo,
		CacheService:     cacheService,
		Enforcement:      adapter,
		OracleClient:     oracleClient,
		EventPublisher:   eventPublisher,
		LifecycleService: lifecycleService,
		CaptiveHandler:   captiveHandler,
		AdminService:     adminService,
		AdminHandler:     adminHandler,
	}
}
