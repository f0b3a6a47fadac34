// OpsForge agent server — provides the HTTP API, the terminal WebSocket
// relay, and the SSH-backed agent runtime.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opsforge/opsforge/pkg/agentloop"
	"github.com/opsforge/opsforge/pkg/api"
	"github.com/opsforge/opsforge/pkg/config"
	"github.com/opsforge/opsforge/pkg/dispatch"
	"github.com/opsforge/opsforge/pkg/events"
	"github.com/opsforge/opsforge/pkg/llm"
	"github.com/opsforge/opsforge/pkg/monitor"
	"github.com/opsforge/opsforge/pkg/orchestrator"
	"github.com/opsforge/opsforge/pkg/research"
	"github.com/opsforge/opsforge/pkg/sshexec"
	"github.com/opsforge/opsforge/pkg/store"
	"github.com/opsforge/opsforge/pkg/terminal"
	"github.com/opsforge/opsforge/pkg/tools"
	"github.com/opsforge/opsforge/pkg/vault"
	"github.com/opsforge/opsforge/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./config"),
		"Path to configuration directory")
	flag.Parse()

	// 1. Load .env and resolve configuration
	config.LoadEnvFile(*configDir)
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting OpsForge",
		"version", version.Full(),
		"http_port", cfg.HTTPPort,
		"config_dir", *configDir)

	ctx := context.Background()

	// 2. Derive the three vaults. Each secret seals a different class of
	// ciphertext; see pkg/config for the split.
	serverVault, err := vault.New(cfg.SessionSecret)
	if err != nil {
		slog.Error("Failed to derive server credential vault", "error", err)
		os.Exit(1)
	}
	keyVault, err := vault.New(cfg.APIKeyEncryptionSecret)
	if err != nil {
		slog.Error("Failed to derive API key vault", "error", err)
		os.Exit(1)
	}
	backupVault, err := vault.New(cfg.EncryptionKey)
	if err != nil {
		slog.Error("Failed to derive backup vault", "error", err)
		os.Exit(1)
	}

	// 3. Initialize the store. DATABASE_URL selects PostgreSQL; without it
	// the process runs on the in-memory store and loses state on restart.
	var st store.Store
	if cfg.DatabaseURL != "" {
		if err := store.Migrate(cfg.DatabaseURL); err != nil {
			slog.Error("Failed to run database migrations", "error", err)
			os.Exit(1)
		}
		pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		st = pg
		slog.Info("Connected to PostgreSQL database")
	} else {
		slog.Warn("DATABASE_URL is not set — using the in-memory store; state is lost on restart")
		st = store.NewMemory()
	}

	// 4. Build the tool catalog and the SSH runtime
	catalog, err := tools.NewCatalog()
	if err != nil {
		slog.Error("Failed to build tool catalog", "error", err)
		os.Exit(1)
	}
	runner := sshexec.NewExecutor()

	dispatcher := dispatch.New(dispatch.Config{
		Catalog:      catalog,
		Runner:       runner,
		Store:        st,
		SessionVault: serverVault,
		APIKeyVault:  keyVault,
		BackupVault:  backupVault,
	})
	slog.Info("Tool dispatcher initialized", "tools", len(catalog.Definitions()))

	// 5. Agent loop with the research gateway
	gateway := research.New(st, nil)
	loop := agentloop.New(agentloop.Config{
		Store:         st,
		Catalog:       catalog,
		Dispatcher:    dispatcher,
		Research:      gateway,
		ServerVault:   serverVault,
		APIKeyVault:   keyVault,
		AnthropicKey:  cfg.AnthropicAPIKey,
		PerplexityKey: cfg.PerplexityAPIKey,
	})

	// 6. Task orchestrator and its event bus
	bus := events.NewBus()
	orch := orchestrator.New(orchestrator.Config{
		Tasks:       orchestrator.NewMemoryTaskStore(),
		Runner:      runner,
		Bus:         bus,
		Store:       st,
		ServerVault: serverVault,
	})

	// 7. Monitoring collector
	collector := monitor.New(monitor.Config{
		Runner:      runner,
		Store:       st,
		ServerVault: serverVault,
	})

	// 8. Terminal relay. The AI assistant and the task planner need a
	// process-level Anthropic key; without one those features degrade and
	// everything else still works.
	var planner llm.Client
	var assistant terminal.Assistant
	if cfg.AnthropicAPIKey != "" {
		client, err := llm.NewAnthropic(cfg.AnthropicAPIKey)
		if err != nil {
			slog.Error("Failed to initialize Anthropic client", "error", err)
			os.Exit(1)
		}
		planner = client
		assistant = terminal.NewLLMAssistant(client, llm.DefaultModel)
	} else {
		slog.Warn("ANTHROPIC_API_KEY is not set — task planning and terminal AI assist are disabled")
	}
	relay := terminal.New(terminal.Config{
		Store:       st,
		ServerVault: serverVault,
		Assistant:   assistant,
	})

	// 9. HTTP server
	server := api.NewServer(api.Config{
		Loop:         loop,
		Dispatcher:   dispatcher,
		Catalog:      catalog,
		Orchestrator: orch,
		Bus:          bus,
		Monitor:      collector,
		Relay:        relay,
		Store:        st,
		ServerVault:  serverVault,
		Planner:      planner,
	})

	// 10. Bind and serve. The listener is opened here so a port conflict
	// exits with a distinct code before any traffic is accepted.
	addr := ":" + cfg.HTTPPort
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		slog.Error("Failed to bind HTTP listener", "addr", addr, "error", err)
		os.Exit(2)
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("OpsForge started successfully")

	// 11. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 12. Graceful shutdown: closes terminal sessions, then drains requests
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
