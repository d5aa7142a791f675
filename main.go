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

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"BookNet-backend/docs"
	"BookNet-backend/internal/app"
	"BookNet-backend/internal/books"
	"BookNet-backend/internal/lending"
	"BookNet-backend/internal/platform/auth"
	"BookNet-backend/internal/platform/db"
	"BookNet-backend/internal/realtime"
)

func main() {
	// 設定読み込み（BOOKNET_CONFIG で差し替え可）
	path := os.Getenv("BOOKNET_CONFIG")
	if path == "" {
		path = db.DefaultConfigPath
	}
	cfg, err := db.LoadConfig(path)
	if err != nil {
		panic(err)
	}

	// 動作モード取得
	mode := cfg.Mode
	log.Printf("[INFO] mode:%s\n", mode)

	if cfg.Mode != "dev" && cfg.Mode != "release" {
		fmt.Println("config: mode must be dev or release")
		return
	}

	a, err := app.Build(cfg)
	if err != nil {
		panic(err)
	}
	// 通知は呼び出し元のリクエストとは切り離して配送する
	a.Start(context.Background())
	defer a.Close()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	_ = r.SetTrustedProxies(nil)

	if mode == "dev" {
		// CORS（開発中のみ必要）
		r.Use(cors.New(cors.Config{
			AllowOrigins:     []string{"http://localhost:3000", "http://localhost:4200"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "Location", "Retry-After"},
			AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
			AllowCredentials: true,
		}))

		docs.SwaggerInfo.Host = cfg.Listen
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// ヘルス
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	// /api/v1 （/auth 以外はトークン必須）
	api := r.Group("/api/v1")
	api.Use(auth.RequireAuth(a.Auth.Secret(), "/api/v1/auth"))
	auth.RegisterRoutes(api.Group("/auth"), a.Auth)
	auth.RegisterAdminRoutes(api.Group("/admin", auth.RequireRole(auth.RoleAdmin)), a.Auth)
	books.RegisterRoutes(api, a.Books)
	lending.RegisterRoutes(api, a.Lending)
	realtime.RegisterRoutes(api, a.Hub)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "NOT_FOUND", "message": "no such endpoint"}})
	})

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var certFile, keyFile string

	// TLS設定
	if cfg.Certificate.Cert != "" && cfg.Certificate.Key != "" {
		certFile = fmt.Sprintf("config/tls/%s/%s", mode, cfg.Certificate.Cert)
		keyFile = fmt.Sprintf("config/tls/%s/%s", mode, cfg.Certificate.Key)
	}

	go func() {
		var err error
		if certFile != "" {
			log.Printf("[INFO] listening on https://%s", cfg.Listen)
			err = srv.ListenAndServeTLS(certFile, keyFile)
		} else {
			log.Printf("[WARN] certificate not configured, listening on http://%s", cfg.Listen)
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Println("[INFO] shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("[ERROR] shutdown: %v", err)
	}
}
