package main

import (
	"log"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"kindfriend-backend/chat"
	"kindfriend-backend/config"
	"kindfriend-backend/conn"
	"kindfriend-backend/entitlement"
	"kindfriend-backend/login"
	"kindfriend-backend/memories"
	"kindfriend-backend/migrations"
	"kindfriend-backend/openai"
	"kindfriend-backend/profile"
	"kindfriend-backend/ratelimit"
	"kindfriend-backend/stats"
	"kindfriend-backend/subscriptions"
	"kindfriend-backend/usage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	db, err := conn.NewMySQL()
	if err != nil {
		log.Fatalf("db connection failed: %v", err)
	}
	migrations.Init(db)
	if err := migrations.Migrate(); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	clock := entitlement.NewLocationClock(cfg.TimeZone)
	ledger := usage.NewRepository(db)
	subsRepo := subscriptions.NewRepository(db)
	engine := entitlement.NewEngine(cfg.Catalog, ledger, subsRepo, clock)

	stripeSvc := subscriptions.NewStripeService(engine, subsRepo,
		cfg.StripeSecretKey, cfg.StripeWebhookSecret,
		cfg.StripeSuccessURL, cfg.StripeCancelURL, cfg.PriceToPlan)
	if stripeSvc == nil {
		log.Printf("[main] stripe disabled (no STRIPE_SECRET_KEY)")
	}

	limiter := ratelimit.NewLimiter(cfg.ChatRatePerMinute)
	aiClient := openai.NewClient(cfg.OpenAIKey)
	memRepo := memories.NewRepository(db)
	chatStore := chat.NewStore(db)

	r := gin.Default()

	login.NewHandler(subsRepo).RegisterRoutes(r)
	profile.RegisterRoutes(r)
	subscriptions.NewHandler(subsRepo, engine, stripeSvc).RegisterRoutes(r)
	memories.NewHandler(memRepo, engine, ledger).RegisterRoutes(r)
	chat.NewHandler(aiClient, chatStore, engine, ledger, memRepo).RegisterRoutes(r, limiter.Middleware())
	stats.NewHandler(db, clock).RegisterRoutes(r)

	if err := r.Run(cfg.Addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
