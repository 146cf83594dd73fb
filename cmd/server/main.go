package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jengzang/sessionmap/internal/api"
	"github.com/jengzang/sessionmap/internal/config"
	"github.com/jengzang/sessionmap/internal/database"
	"github.com/jengzang/sessionmap/internal/repository"
	"github.com/jengzang/sessionmap/internal/service"
)

func main() {
	// 加载配置
	cfg := config.Load()

	// 初始化数据库
	dbConfig := database.Config{
		Path: cfg.DBPath,
	}
	if err := database.Init(dbConfig); err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	defer database.Close()

	sessionRepo := repository.NewSessionRepository(database.GetDB())
	sessionService := service.NewSessionService(sessionRepo, cfg.ActiveWindow)
	mapService := service.NewMapService(sessionService)
	defer mapService.CloseAll()

	// 初始化路由
	router := api.SetupRouter(cfg, sessionService, mapService)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:    cfg.Port,
		Handler: router,
	}

	// 启动服务器
	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server:", err)
		}
	}()

	<-ctx.Done()
	log.Printf("Shutting down, %d map views mounted", mapService.Count())

	mapService.CloseAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}
