package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/tradegate/internal/broker"
	"github.com/sawpanic/tradegate/internal/config"
	"github.com/sawpanic/tradegate/internal/engine"
	"github.com/sawpanic/tradegate/internal/httpapi"
	"github.com/sawpanic/tradegate/internal/lock"
	"github.com/sawpanic/tradegate/internal/notify"
	"github.com/sawpanic/tradegate/internal/sched"
	"github.com/sawpanic/tradegate/internal/store"
	"github.com/sawpanic/tradegate/internal/store/memory"
	"github.com/sawpanic/tradegate/internal/store/postgres"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		useMemory  bool
		mode       string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and execution scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if mode != "" {
				cfg.Engine.Mode = config.ExecutionMode(mode)
			}
			return runServe(cmd.Context(), cfg, useMemory)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "tradegate.yaml", "path to the YAML config file")
	cmd.Flags().BoolVar(&useMemory, "memory", false, "use the in-memory store instead of Postgres")
	cmd.Flags().StringVar(&mode, "mode", "", "override execution mode (safe|full)")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, useMemory bool) error {
	st, err := buildStore(cfg, useMemory)
	if err != nil {
		return err
	}

	locks := lock.NewService(buildLockStore(cfg))
	fwd := buildForwarder(cfg)

	var hub *notify.Hub
	channels := []notify.Channel{}
	if cfg.Notify.EnableLog {
		channels = append(channels, notify.LogChannel{})
	}
	if cfg.Notify.WebhookURL != "" {
		channels = append(channels, notify.NewWebhookChannel(cfg.Notify.WebhookURL, cfg.Notify.Timeout))
	}
	if cfg.Notify.EnableSocket {
		hub = notify.NewHub(cfg.Notify.SocketBacklog)
		go hub.Run()
		defer hub.Close()
		channels = append(channels, hub)
	}
	notifier := notify.NewFanout(cfg.Notify.Timeout, channels...)

	eng := engine.New(st, locks, fwd, notifier, nil, nil, cfg.Engine)
	runner := sched.New(eng, cfg.Engine.SchedulerPoll)
	eng.SetScheduler(runner)

	go runner.Run(ctx)

	srv := httpapi.New(eng, hub, cfg.Server)
	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	log.Info().
		Str("mode", string(cfg.Engine.Mode)).
		Bool("memory_store", useMemory || cfg.Database.DSN == "").
		Msg("tradegate serving")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildStore(cfg *config.Config, useMemory bool) (store.Store, error) {
	if useMemory || cfg.Database.DSN == "" {
		log.Warn().Msg("using in-memory store; state is lost on restart")
		return memory.New(), nil
	}
	pg, err := postgres.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	return pg, nil
}

func buildLockStore(cfg *config.Config) lock.Store {
	if cfg.Redis.Addr == "" {
		return lock.NewMemoryStore(nil)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	log.Info().Str("addr", cfg.Redis.Addr).Msg("using redis lock store")
	return lock.NewRedisStore(client)
}

func buildForwarder(cfg *config.Config) broker.Forwarder {
	if cfg.Broker.URL == "" {
		log.Warn().Msg("no broker url configured; forwarding in dry-run mode")
		return broker.DryRun{}
	}
	return broker.NewHTTP(cfg.Broker)
}
