package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/aqilrvsb/UNMASK-TIK/internal/browser"
	"github.com/aqilrvsb/UNMASK-TIK/internal/bus"
	"github.com/aqilrvsb/UNMASK-TIK/internal/config"
	"github.com/aqilrvsb/UNMASK-TIK/internal/engine"
	"github.com/aqilrvsb/UNMASK-TIK/internal/server"
	"github.com/aqilrvsb/UNMASK-TIK/internal/session"
	"github.com/aqilrvsb/UNMASK-TIK/internal/store"
)

const version = "1.0.0"

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Config error: %v", err)
	}

	log.Printf("🚀 Starting unmasker v%s", version)
	log.Printf("📋 Seller center: %s (region %s)", cfg.SellerBaseURL, cfg.ShopRegion)

	b := bus.New()
	if cfg.NatsURL != "" {
		nc, err := nats.Connect(cfg.NatsURL,
			nats.Name("unmask-tik"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			log.Printf("⚠️ NATS unavailable, events stay local: %v", err)
		} else {
			defer nc.Close()
			b.AttachNATS(nc, cfg.NatsSubject)
			log.Printf("📡 Mirroring events to NATS subject %s", cfg.NatsSubject)
		}
	}

	var jar browser.CookieJar
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("❌ Invalid REDIS_URL: %v", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		jar = session.New(rdb, cfg.Account)
		log.Printf("🍪 Session cookies persisted in Redis for account %q", cfg.Account)
	} else {
		log.Println("⚠️ No Redis configured; browser session will not survive restarts")
	}

	if os.Getenv("SKIP_PLAYWRIGHT_INSTALL") == "" {
		browser.Install()
	}

	ctx := context.Background()
	sess, err := browser.Launch(ctx, browser.Config{
		BaseURL:           cfg.SellerBaseURL,
		ShopRegion:        cfg.ShopRegion,
		Headless:          cfg.Headless,
		ExecutablePath:    cfg.BrowserPath,
		SettleAfterReveal: cfg.RevealSettle(),
		ClickDelay:        cfg.ClickDelay(),
	}, jar)
	if err != nil {
		log.Fatalf("❌ Browser launch failed: %v", err)
	}

	if cfg.SupabaseURL == "" {
		log.Fatal("❌ SUPABASE_URL is required; there is nowhere to persist results")
	}
	resultStore := store.New(cfg.SupabaseURL, cfg.SupabaseKey)

	eng := engine.New(sess, resultStore, b, engine.Config{
		NavTimeout:  cfg.NavTimeout(),
		SettleDelay: cfg.Settle(),
		PacingMin:   cfg.PacingMin(),
		PacingMax:   cfg.PacingMax(),
	})

	srv := server.New(eng, resultStore, b, version)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Handler(),
	}

	go func() {
		log.Printf("🌐 Listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ HTTP server error: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	log.Println("🛑 Shutting down...")

	eng.Close()
	srv.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ HTTP shutdown error: %v", err)
	}

	sess.Close()
	log.Println("✅ Shutdown complete")
}
