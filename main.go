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
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apirest "github.com/kasuganosora/factionbot/api/rest"
	"github.com/kasuganosora/factionbot/audit"
	"github.com/kasuganosora/factionbot/bot/quest"
	"github.com/kasuganosora/factionbot/bot/roles"
	"github.com/kasuganosora/factionbot/cache"
	"github.com/kasuganosora/factionbot/config"
	dbadapter "github.com/kasuganosora/factionbot/db"
	"github.com/kasuganosora/factionbot/gateway"
	mw "github.com/kasuganosora/factionbot/middleware"
	"github.com/kasuganosora/factionbot/model"
	"github.com/kasuganosora/factionbot/scheduler"
	"github.com/kasuganosora/factionbot/store"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	if cfg.Discord.Token == "" {
		log.Fatalf("discord.token is not set")
	}
	if cfg.Server.AdminKeyHash == "" {
		logger.Warn("server.admin_key_hash is not set; admin endpoints are disabled")
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized")

	// ---- Audit ----
	auditSvc := audit.New(db, logger)

	// ---- Cache ----
	c, err := cache.New(cache.Config{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
	})
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	logger.Info("Cache initialized")

	// ---- Store ----
	st := store.New(db, c, logger)

	// ---- Shutdown context ----
	// Canceled by SIGINT/SIGTERM or by the in-chat exit command.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// ---- Gateway / Engine ----
	gw, err := gateway.New(gateway.Config{
		Token:       cfg.Discord.Token,
		EventBuffer: cfg.Discord.EventBuffer,
	}, logger)
	if err != nil {
		log.Fatalf("gateway: %v", err)
	}
	rq := roles.NewQueue(gw, cfg.Bot.RoleMutationRPS, cfg.Bot.RoleMutationBurst, logger)
	eng := quest.New(st, gw, rq, auditSvc, logger, quest.Options{
		CommandPrefix: cfg.Discord.CommandPrefix,
		Shutdown:      cancel,
	})
	gw.SetHandler(eng)

	if err := gw.Open(); err != nil {
		log.Fatalf("gateway open: %v", err)
	}
	go gw.Run(ctx)

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	scheduler.RegisterBotTasks(sched, st, gw, cfg.Bot, logger)

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	authH := apirest.NewAuthHandler(c, cfg.Security, cfg.Server.AdminKeyHash)
	adminH := apirest.NewAdminHandler(db, st, eng.Sessions(), logger)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/login", authH.Login)
		authG.POST("/logout", mw.Auth(cfg.Security, c), authH.Logout)

		adminG := api.Group("/admin")
		adminG.Use(mw.Auth(cfg.Security, c))
		adminG.GET("/status", adminH.Status)
		adminG.POST("/save", adminH.Save)
		adminG.GET("/guilds/:guild_id/scoreboard", adminH.Scoreboard)
		adminG.GET("/guilds/:guild_id/users/:user_id", adminH.UserProgress)
		adminG.DELETE("/guilds/:guild_id/users/:user_id", adminH.ResetUser)
		adminG.GET("/guilds/:guild_id/audit", adminH.AuditLog)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}
	go func() {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	// Stop inbound work first, then flush what remains.
	sched.Stop()
	if err := gw.Close(); err != nil {
		logger.Warn("gateway close failed", zap.Error(err))
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}
	rq.Stop()
	if err := st.SaveAll(shutdownCtx); err != nil {
		logger.Error("final save failed", zap.Error(err))
	}
	auditSvc.Stop(shutdownCtx)
	logger.Info("Shutdown complete")
}
