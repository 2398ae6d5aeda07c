// Command chiyoko runs the Discord bot's Twitch live monitor.
// It:
//   - Loads configuration and initializes structured logging.
//   - Opens the monitor store (JSON file, or Postgres with versioned migrations).
//   - Builds the Twitch status client (public GQL or Helix with an app token).
//   - Connects to Discord, registers the /twitch command and posts go-live embeds.
//   - Runs the monitor loop and an HTTP server with /healthz, /readyz, /status,
//     /metrics and the /api/twitch registry endpoints.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/chiyoko-haruka/chiyoko/config"
	"github.com/chiyoko-haruka/chiyoko/db"
	"github.com/chiyoko-haruka/chiyoko/discord"
	"github.com/chiyoko-haruka/chiyoko/monitor"
	"github.com/chiyoko-haruka/chiyoko/server"
	"github.com/chiyoko-haruka/chiyoko/store"
	"github.com/chiyoko-haruka/chiyoko/telemetry"
	"github.com/chiyoko-haruka/chiyoko/twitchapi"
)

const version = "1.0.0"

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdownTracing, err := telemetry.InitTracing("chiyoko", version)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, database, err := openBackend(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store backend", slog.String("backend", cfg.StoreBackend), slog.Any("err", err))
		os.Exit(1)
	}
	if database != nil {
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
	}
	st := store.Open(ctx, backend)
	st.SetTimeout(cfg.StoreTimeout)

	client := statusClient(ctx, cfg)
	notifier := discord.NewNotifier(nil)
	mon := monitor.New(st, client, notifier,
		monitor.WithInterval(cfg.Interval),
		monitor.WithInitialDelay(cfg.InitialDelay),
		monitor.WithStreamerDelay(cfg.StreamerDelay),
		monitor.WithReloadInterval(cfg.ReloadInterval),
		monitor.WithSettle(cfg.SettleDelay, cfg.SettleAttempts),
	)
	registry := monitor.NewRegistry(st, mon)

	// Discord is optional: without a token the monitor still runs and the notifier only logs.
	var heartbeat func() time.Duration
	if err := cfg.ValidateDiscordReady(); err != nil {
		slog.Warn("discord disabled", slog.Any("reason", err), slog.String("component", "discord"))
	} else {
		bot, err := discord.NewBot(cfg.DiscordToken, cfg.DiscordGuildID, discord.NewRouter(registry))
		if err != nil {
			slog.Error("failed to create discord bot", slog.Any("err", err))
			os.Exit(1)
		}
		if err := bot.Open(); err != nil {
			slog.Error("failed to connect to discord", slog.Any("err", err))
			os.Exit(1)
		}
		defer func() {
			if err := bot.Close(); err != nil {
				slog.Error("failed to close discord session", slog.Any("err", err))
			}
		}()
		notifier.Sender = bot.Session()
		heartbeat = bot.HeartbeatLatency
	}

	mon.Start(ctx)
	defer mon.Stop()

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	mux := server.NewMux(ctx, server.Deps{
		Registry:  registry,
		Monitor:   mon,
		Store:     st,
		Heartbeat: heartbeat,
		Auth: server.AuthConfig{
			Username: cfg.AdminUsername,
			Password: cfg.AdminPassword,
			Token:    cfg.AdminToken,
		},
		RateLimit: server.RateLimitConfig{RPS: cfg.RateLimitRPS, Burst: cfg.RateLimitBurst},
	})
	go func() {
		if err := server.Start(ctx, cfg.HTTPAddr, mux); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
			stop()
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}

// openBackend returns the configured store backend. The database is non-nil only for postgres.
func openBackend(ctx context.Context, cfg *config.Config) (store.Backend, *sql.DB, error) {
	if cfg.StoreBackend != config.StorePostgres {
		slog.Info("using file store", slog.String("path", cfg.MonitorFile), slog.String("component", "store"))
		return store.NewFileBackend(cfg.MonitorFile), nil, nil
	}
	database, err := db.Connect(ctx, cfg.DBDsn)
	if err != nil {
		return nil, nil, err
	}
	// Versioned migrations first; the idempotent statements cover databases that predate them.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL", slog.Any("err", err), slog.String("component", "db_migrate"))
		if err := db.Migrate(ctx, database); err != nil {
			_ = database.Close()
			return nil, nil, err
		}
	}
	return store.NewPostgresBackend(database), database, nil
}

func statusClient(ctx context.Context, cfg *config.Config) monitor.StatusClient {
	if cfg.StatusBackend == config.StatusHelix {
		slog.Info("using helix status backend", slog.String("component", "twitch"))
		return twitchapi.NewHelixClient(ctx, cfg.TwitchClientID, cfg.TwitchClientSecret, cfg.RequestTimeout)
	}
	slog.Info("using gql status backend", slog.String("component", "twitch"))
	return twitchapi.NewGQLClient(cfg.GQLClientID, cfg.RequestTimeout)
}
