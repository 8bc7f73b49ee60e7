package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/garagebot-core/server/internal/booking"
	"github.com/garagebot-core/server/internal/booking/checkpoint"
	"github.com/garagebot-core/server/internal/booking/extract"
	"github.com/garagebot-core/server/internal/booking/extract/fallback"
	"github.com/garagebot-core/server/internal/booking/extract/gemini"
	"github.com/garagebot-core/server/internal/booking/lock"
	"github.com/garagebot-core/server/internal/booking/steps"
	"github.com/garagebot-core/server/internal/core"
	logx "github.com/garagebot-core/server/pkg/logger"
	pkgredis "github.com/garagebot-core/server/pkg/redis"
)

// AppConfig defines all configurable parameters for the booking
// assistant, sourced from environment variables (loaded from .env for
// local runs).
type AppConfig struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	// Infrastructure
	Redis         pkgredis.Config
	CheckpointTTL time.Duration `envconfig:"CHECKPOINT_TTL" default:"720h"`

	// LLM provider. Optional: without a key the deterministic fallback
	// tier handles everything it can and the rest reprompts.
	APIKey  string `envconfig:"GEMINI_API_KEY"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	// Booking flow configs
	Resolver gemini.Config
	Extract  extract.Config
	Flow     steps.Config
	Engine   booking.Config
}

func main() {
	ctx := context.Background()
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Failed to process environment config: %v", err)
	}
	logx.Init(logx.LoggerOpts{Environment: core.ParseEnvironment(cfg.Environment)})

	rdb, err := cfg.Redis.New()
	if err != nil {
		log.Fatalf("Failed to initialise Redis client: %v", err)
	}
	defer rdb.Close()
	fmt.Println("Connected to Redis successfully")

	var primary extract.Resolver
	if cfg.APIKey != "" {
		resolver, err := gemini.NewResolver(ctx, cfg.APIKey, cfg.BaseURL, cfg.Resolver)
		if err != nil {
			log.Fatalf("Failed to build field resolver: %v", err)
		}
		primary = resolver
	} else {
		log.Println("Warning: GEMINI_API_KEY not set, running on fallback extraction only")
	}

	runner, err := steps.Build(steps.Deps{
		Pipeline: extract.NewPipeline(primary, fallback.Defaults(), cfg.Extract),
		Catalog:  steps.NewStaticCatalog(),
		Slots:    steps.NewStaticSlots(),
		Backend:  steps.NewMemoryBackend(),
		Config:   cfg.Flow,
	})
	if err != nil {
		log.Fatalf("Failed to build booking graph: %v", err)
	}

	engine := booking.NewEngine(
		lock.NewRedisLocker(rdb),
		checkpoint.NewRedisStore(rdb, cfg.CheckpointTTL),
		runner,
		steps.StepNew,
		cfg.Engine,
	)

	conversationID := fmt.Sprintf("demo-%d", time.Now().Unix())
	turns := []struct {
		description string
		message     string
	}{
		{"Initial greeting", "hi"},
		{"Name", "I'm Rahul Sharma"},
		{"Phone number", "9876543210"},
		{"Vehicle", "it's a Hyundai"},
		{"Service selection", "2"},
		{"Slot selection", "1"},
		{"Confirmation", "yes"},
		{"Payment preference", "no, I'll pay at the garage"},
	}

	for i, turn := range turns {
		fmt.Printf("\nTurn %d: %s\n", i+1, turn.description)
		fmt.Printf("User: %q\n", turn.message)

		res, err := engine.HandleTurn(ctx, conversationID, turn.message)
		if err != nil {
			log.Fatalf("Turn %d failed: %v", i+1, err)
		}

		fmt.Printf("Assistant: %s\n", res.Reply)
		fmt.Printf("[step=%s version=%d suspended=%v]\n", res.Step, res.Version, res.Suspended)
	}

	final, err := engine.GetState(ctx, conversationID)
	if err != nil {
		log.Fatalf("Failed to load final state: %v", err)
	}
	fmt.Printf("\nFinal completeness: %.0f%%, booking: %s\n",
		final.Completeness*100, final.StringField(steps.PathBookingID))
}
