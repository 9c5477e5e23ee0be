package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/DavidFlores79/wadesk/internal/agent"
	"github.com/DavidFlores79/wadesk/internal/bus"
	"github.com/DavidFlores79/wadesk/internal/channels"
	"github.com/DavidFlores79/wadesk/internal/channels/whatsapp"
	"github.com/DavidFlores79/wadesk/internal/config"
	"github.com/DavidFlores79/wadesk/internal/events"
	"github.com/DavidFlores79/wadesk/internal/gateway"
	"github.com/DavidFlores79/wadesk/internal/lifecycle"
	"github.com/DavidFlores79/wadesk/internal/provider"
	"github.com/DavidFlores79/wadesk/internal/store"
	"github.com/DavidFlores79/wadesk/internal/store/pg"
	"github.com/DavidFlores79/wadesk/internal/store/sqlite"
	"github.com/DavidFlores79/wadesk/internal/tools"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway, consumer and lifecycle sweep",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	stores, err := openStores(cfg)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}

	client, err := provider.NewOpenAIClient(cfg.Assistant.APIKey, cfg.Assistant.AssistantID, cfg.Assistant.Model)
	if err != nil {
		slog.Error("failed to create assistant client", "error", err)
		os.Exit(1)
	}

	msgBus := bus.NewMessageBus()

	// Lifecycle machine first: the escalate tool needs it.
	machine := lifecycle.New(stores, client, nil, msgBus, msgBus, cfg.Lifecycle, slog.Default())

	registry := tools.NewRegistry()
	registry.Register(tools.NewCreateTicketTool(stores.Tickets))
	registry.Register(tools.NewEscalateTool(machine))
	if cfg.Assistant.OrdersAPIBase != "" {
		registry.Register(tools.NewOrderStatusTool(httpOrderLookup(cfg.Assistant.OrdersAPIBase)))
	}

	manager := agent.NewManager(client, stores.Threads, tools.NewDispatcher(registry), agentConfig(cfg))
	machine.SetTranscript(manager.Transcript)

	whatsappChannel, err := whatsapp.New(cfg.WhatsApp)
	if err != nil {
		slog.Error("failed to create whatsapp channel", "error", err)
		os.Exit(1)
	}
	channelMgr := channels.NewManager(msgBus)
	channelMgr.RegisterChannel(whatsappChannel.Name(), whatsappChannel)

	server := gateway.NewServer(cfg, msgBus, msgBus, machine, stores)
	sweeper := lifecycle.NewSweeper(machine)
	consumer := newConsumer(cfg, msgBus, manager, machine, stores)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	// Optional AMQP fan-out for external systems.
	if cfg.Events.AMQPURL != "" {
		publisher, err := events.NewPublisher(cfg.Events, msgBus, slog.Default())
		if err != nil {
			slog.Error("failed to start amqp publisher", "error", err)
			os.Exit(1)
		}
		publisher.Start(ctx)
		defer publisher.Close()
	}

	if err := channelMgr.StartAll(ctx); err != nil {
		slog.Error("failed to start channels", "error", err)
		os.Exit(1)
	}
	defer channelMgr.StopAll(context.Background())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error { return consumer.Run(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })

	if err := g.Wait(); err != nil && err != context.Canceled {
		slog.Error("service stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("wadesk stopped")
}

func openStores(cfg *config.Config) (*store.Stores, error) {
	switch cfg.Database.Driver {
	case "", "sqlite":
		path := cfg.Database.SQLitePath
		if path == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("resolve home dir: %w", err)
			}
			path = home + "/.wadesk/wadesk.db"
		}
		slog.Info("using sqlite store", "path", path)
		return sqlite.NewStores(path)
	case "postgres":
		if cfg.Database.PostgresDSN == "" {
			return nil, fmt.Errorf("driver postgres requires WADESK_POSTGRES_DSN")
		}
		slog.Info("using postgres store")
		return pg.NewStores(cfg.Database.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

func agentConfig(cfg *config.Config) agent.Config {
	ac := agent.DefaultConfig()
	a := cfg.Assistant
	if a.PollIntervalMs > 0 {
		ac.PollInterval = time.Duration(a.PollIntervalMs) * time.Millisecond
	}
	if a.PollBudgetMs > 0 {
		ac.PollBudget = time.Duration(a.PollBudgetMs) * time.Millisecond
	}
	if a.AppendRetries > 0 {
		ac.AppendRetries = a.AppendRetries
	}
	if a.MaxToolIterations > 0 {
		ac.MaxToolIterations = a.MaxToolIterations
	}
	if a.CleanupHighWater > 0 {
		ac.CleanupHighWater = a.CleanupHighWater
	}
	if a.CleanupLowWater > 0 {
		ac.CleanupLowWater = a.CleanupLowWater
	}
	return ac
}

// httpOrderLookup resolves order references against a simple REST
// order service: GET {base}/orders/{ref} returning a plain-text status.
func httpOrderLookup(base string) tools.OrderLookupFunc {
	client := &http.Client{Timeout: 10 * time.Second}
	return func(ctx context.Context, orderRef string) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/orders/"+orderRef, nil)
		if err != nil {
			return "", err
		}
		resp, err := client.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return "no order found with reference " + orderRef, nil
		}
		if resp.StatusCode >= 300 {
			return "", fmt.Errorf("order service status %d", resp.StatusCode)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if err != nil {
			return "", err
		}
		return string(body), nil
	}
}
