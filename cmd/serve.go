package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/omnidesk-io/omnidesk/internal/assign"
	"github.com/omnidesk-io/omnidesk/internal/automation"
	"github.com/omnidesk-io/omnidesk/internal/bus"
	"github.com/omnidesk-io/omnidesk/internal/channels"
	"github.com/omnidesk-io/omnidesk/internal/channels/email"
	"github.com/omnidesk-io/omnidesk/internal/channels/meta"
	"github.com/omnidesk-io/omnidesk/internal/channels/whatsapp"
	"github.com/omnidesk-io/omnidesk/internal/config"
	"github.com/omnidesk-io/omnidesk/internal/gateway"
	"github.com/omnidesk-io/omnidesk/internal/identity"
	"github.com/omnidesk-io/omnidesk/internal/ingest"
	"github.com/omnidesk-io/omnidesk/internal/presence"
	"github.com/omnidesk-io/omnidesk/internal/providers"
	"github.com/omnidesk-io/omnidesk/internal/store"
	"github.com/omnidesk-io/omnidesk/internal/store/pg"
	"github.com/omnidesk-io/omnidesk/internal/store/sqlite"
	"github.com/omnidesk-io/omnidesk/internal/tracing"
	"github.com/omnidesk-io/omnidesk/pkg/protocol"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the omnidesk server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logLevel := new(slog.LevelVar)
	if verbose || cfg.Verbose {
		logLevel.Set(slog.LevelDebug)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, Version)
	if err != nil {
		slog.Error("tracing setup failed", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	stores, err := openStores(cfg)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	msgBus := bus.New()
	registry := presence.NewRegistry()
	manager := channels.NewManager()

	var waChannel *whatsapp.Channel
	if cfg.Channels.WhatsApp.Enabled {
		waChannel, err = whatsapp.New(cfg.Channels.WhatsApp, cfg.Media, msgBus)
		if err != nil {
			slog.Error("whatsapp channel setup failed", "error", err)
			os.Exit(1)
		}
		manager.Register(waChannel)
	}

	var webhook http.Handler
	if cfg.Channels.Meta.Enabled {
		metaChannel, err := meta.New(cfg.Channels.Meta, msgBus)
		if err != nil {
			slog.Error("meta channel setup failed", "error", err)
			os.Exit(1)
		}
		manager.Register(metaChannel, store.ChannelInstagram, store.ChannelMessenger)
		webhook = metaChannel.WebhookHandler()
	}

	if cfg.Channels.Email.Enabled {
		emailChannel, err := email.New(cfg.Channels.Email, stores.Messages, msgBus)
		if err != nil {
			slog.Error("email channel setup failed", "error", err)
			os.Exit(1)
		}
		manager.Register(emailChannel)
	}

	var provider providers.Provider
	if cfg.Automation.AI.APIKey != "" {
		provider = providers.NewOpenAIProvider(
			cfg.Automation.AI.APIKey, cfg.Automation.AI.APIBase, cfg.Automation.AI.Model)
	}

	resolver := identity.NewResolver(stores.Clients)
	assigner := assign.NewEngine(stores.Clients, stores.Agents, registry, cfg.Assignment)
	engine := automation.NewEngine(stores, manager, provider, cfg.Automation)
	pipeline := ingest.New(msgBus, resolver, assigner, engine, stores, registry, 0)

	if waChannel != nil {
		waChannel.OnReceipt(func(externalID string, status store.DeliveryStatus) {
			pipeline.HandleReceipt(ctx, store.ChannelWhatsApp, externalID, status)
		})
	}

	server := gateway.NewServer(cfg.Gateway, msgBus, registry, webhook, cfg.Media.Dir)

	if err := manager.StartAll(ctx); err != nil {
		slog.Error("failed to start channels", "error", err)
		os.Exit(1)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(ctx) })
	g.Go(func() error { return pipeline.Run(ctx) })
	g.Go(func() error {
		// Log level and the automation toggle apply live; channel and
		// store changes need a restart.
		return config.Watch(ctx, cfgPath, func(next *config.Config) {
			level := slog.LevelInfo
			if verbose || next.Verbose {
				level = slog.LevelDebug
			}
			logLevel.Set(level)
			engine.SetEnabled(next.Automation.Enabled)
			slog.Info("config reloaded",
				"verbose", next.Verbose, "automation", next.Automation.Enabled)
		})
	})

	slog.Info("omnidesk running", "version", Version)

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		slog.Error("server error", "error", err)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	manager.StopAll(stopCtx)
	msgBus.Broadcast(bus.Event{Name: protocol.EventShutdown})
	slog.Info("omnidesk stopped")
}

// openStores selects the backend: Postgres when a DSN is configured,
// otherwise the standalone SQLite file.
func openStores(cfg *config.Config) (*store.Stores, error) {
	if cfg.Database.PostgresDSN != "" {
		return pg.NewStores(cfg.Database.PostgresDSN)
	}
	return sqlite.NewStores(cfg.Database.SQLitePath)
}
