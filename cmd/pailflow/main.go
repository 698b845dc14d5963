// PailFlow server - places bot sessions into video rooms, drives the
// STT/LLM/TTS pipeline, and runs the durable post-call workflow.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/gin-gonic/gin"

	"github.com/pailflow/pailflow/pkg/accounting"
	"github.com/pailflow/pailflow/pkg/api"
	"github.com/pailflow/pailflow/pkg/bot"
	"github.com/pailflow/pailflow/pkg/config"
	"github.com/pailflow/pailflow/pkg/crypto"
	"github.com/pailflow/pailflow/pkg/database"
	"github.com/pailflow/pailflow/pkg/llm"
	"github.com/pailflow/pailflow/pkg/orchestrator"
	"github.com/pailflow/pailflow/pkg/persistence"
	"github.com/pailflow/pailflow/pkg/pipeline"
	"github.com/pailflow/pailflow/pkg/placement"
	"github.com/pailflow/pailflow/pkg/postcall"
	"github.com/pailflow/pailflow/pkg/speech"
	"github.com/pailflow/pailflow/pkg/usage"
	"github.com/pailflow/pailflow/pkg/version"
	"github.com/pailflow/pailflow/pkg/workflow"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to a directory containing an optional .env file")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: Could not load %s file: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	gin.SetMode(getEnv("GIN_MODE", "release"))

	log.Printf("Starting PailFlow %s", version.Full())

	ctx := context.Background()

	cfg, err := config.Initialize()
	if err != nil {
		log.Fatalf("Failed to initialize configuration: %v", err)
	}

	pool, err := database.NewPool(ctx, database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()
	log.Println("Connected to PostgreSQL and applied migrations")

	field, err := crypto.NewField(cfg.Encryption.MasterKey)
	if err != nil {
		log.Fatalf("Failed to initialize field encryption: %v", err)
	}
	store := persistence.NewPostgresAdapter(pool, field)

	llmClient, err := llm.NewAnthropicClient(llm.AnthropicConfig{
		APIKey: os.Getenv("ANTHROPIC_API_KEY"),
	})
	if err != nil {
		log.Fatalf("Failed to initialize LLM client: %v", err)
	}
	model := getEnv("PAILFLOW_MODEL", "claude-3-7-sonnet-latest")

	tracker := usage.NewTracker(store)
	ledger := accounting.NewLedger(store, cfg.Pricing.BotCallRatePerMinute)

	postCall := postcall.New(postcall.Config{
		Store:   store,
		LLM:     llmClient,
		Model:   model,
		Tracker: tracker,
		Ledger:  ledger,
		Email: postcall.EmailConfig{
			APIKey: cfg.Email.ResendAPIKey,
			Domain: cfg.Email.ResendDomain,
		},
		Webhook: postcall.WebhookConfig{
			MaxAttempts:  cfg.Webhook.MaxAttempts,
			InitialDelay: cfg.Webhook.InitialDelay,
		},
	})

	backends := buildBackends(cfg, store, tracker, ledger, llmClient, model)
	orch := orchestrator.New(store, backends,
		cfg.Bot.WarningThreshold, cfg.Bot.TransportCleanupTimeout, cfg.Bot.WorkerAwaitTimeout, cfg.Bot.TransportDrainSleep)

	checkpointer := workflow.NewSQLCheckpointer(store)
	engine := workflow.New(store, checkpointer, orch, postCall)

	var verify api.KeyVerifier
	if cfg.KeyVerify.VerifyURL != "" {
		verify = api.NewHTTPKeyVerifier(cfg.KeyVerify.VerifyURL, nil)
	} else {
		verify = api.NoopVerifier{}
	}

	server := api.NewServer(api.Config{
		Engine:       engine,
		Orchestrator: orch,
		Ledger:       ledger,
		Store:        store,
		Verify:       verify,
		MeetBaseURL:  getEnv("MEET_BASE_URL", ""),
	})

	go runCleanupLoop(ctx, orch, cfg.Bot.CleanupMaxHours)

	go func() {
		log.Printf("HTTP server listening on :%s", cfg.HTTPPort)
		if err := server.Run(":" + cfg.HTTPPort); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	waitForShutdown(ctx, server, orch)
}

// buildBackends wires the Function and VM placement backends when
// configured, plus an InProcess backend that runs sessions in this
// process via bot.SessionLauncher. A backend whose credentials are absent
// is simply omitted — Orchestrator.StartBot's fallback loop skips missing keys.
func buildBackends(cfg *config.Config, store persistence.Adapter, tracker *usage.Tracker, ledger *accounting.Ledger, llmClient llm.Client, model string) map[string]placement.Backend {
	backends := make(map[string]placement.Backend)

	if cfg.Placement.UseFunctionBots {
		if fn, err := placement.NewFunctionBackend(placement.FunctionConfig{
			BaseURL:      cfg.Placement.FunctionBaseURL,
			AppName:      cfg.Placement.FunctionAppName,
			FunctionName: cfg.Placement.FunctionName,
			APIKey:       cfg.Placement.FunctionAPIKey,
		}); err == nil {
			backends["function"] = fn
		} else {
			slog.Info("placement: function backend unavailable, skipping", "error", err)
		}
	}

	if vm, err := placement.NewVMBackend(placement.VMConfig{
		APIHost: cfg.Placement.FlyAPIHost,
		AppName: cfg.Placement.FlyAppName,
		APIKey:  cfg.Placement.FlyAPIKey,
	}, ""); err == nil {
		backends["vm"] = vm
	} else {
		slog.Info("placement: vm backend unavailable, skipping", "error", err)
	}

	shutdownCfg := bot.ShutdownConfig{
		TransportCleanupTimeout: cfg.Bot.TransportCleanupTimeout,
		TransportDrainSleep:     cfg.Bot.TransportDrainSleep,
	}
	pipelineCfg := pipeline.Config{
		AggregationTimeout:       cfg.Bot.AggregationTimeout,
		EmulatedVADTimeout:       cfg.Bot.EmulatedVADTimeout,
		AnimationFramesPerSprite: cfg.Bot.AnimationFramesPerSprite,
		BotCallRatePerMinute:     cfg.Pricing.BotCallRatePerMinute,
	}

	launcher := bot.NewSessionLauncher(
		store, tracker, ledger, llmClient,
		pipelineCfg, shutdownCfg, model, defaultSystemPrompt,
		pipeline.Animation{},
		unconfiguredTransport, unconfiguredSTT, unconfiguredTTS,
		nil,
	)
	backends["in_process"] = placement.NewInProcessBackend(launcher)

	return backends
}

// defaultSystemPrompt is used when a join_bot request does not override it
// via bot_config's system_message/bot_prompt fields.
const defaultSystemPrompt = "You are conducting a structured conversation. Ask clear, " +
	"focused questions and let the other participant speak at length."

// unconfiguredTransport, unconfiguredSTT, and unconfiguredTTS are the
// in-process backend's room-provider and speech vendor boundaries (§1's
// external collaborators). No concrete vendor SDK lives in this module;
// a deployment wires its own factories here before going live.
func unconfiguredTransport(_ context.Context, _ placement.SpawnRequest) (pipeline.Transport, error) {
	return nil, errUnconfiguredCollaborator
}

func unconfiguredSTT() speech.STT { return nil }

func unconfiguredTTS() speech.TTS { return nil }

var errUnconfiguredCollaborator = unconfiguredError("pailflow: no room-provider transport is configured for this deployment")

type unconfiguredError string

func (e unconfiguredError) Error() string { return string(e) }

func runCleanupLoop(ctx context.Context, orch *orchestrator.Orchestrator, maxHours float64) {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := orch.CleanupLongRunningBots(ctx, maxHours); n > 0 {
				slog.Info("orchestrator: stopped long-running bots", "count", n)
			}
		}
	}
}

func waitForShutdown(ctx context.Context, server *api.Server, orch *orchestrator.Orchestrator) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	orch.Cleanup(shutdownCtx, nil)

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error during HTTP server shutdown: %v", err)
	}
}
