package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"lookout/internal/broadcast"
	"lookout/internal/bus"
	"lookout/internal/config"
	"lookout/internal/core"
	"lookout/internal/dedup"
	"lookout/internal/filter"
	"lookout/internal/sanitize"
	"lookout/internal/sinks"
	"lookout/internal/upstream"
	"lookout/pkg/clients"
	"lookout/pkg/kafka"
	"lookout/pkg/logging"
	"lookout/pkg/monitoring"
	"lookout/pkg/server"
	"lookout/pkg/version"
)

const serviceName = "lookout"

func main() {
	logger := logging.NewLoggerWithService(serviceName)
	sanitize.InstallHook(logger)

	if err := run(logger); err != nil {
		logger.WithError(err).Error("Service failed")
		os.Exit(1)
	}
}

func run(logger logging.Logger) error {
	cfg, err := config.Load(logger)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if level, perr := logrus.ParseLevel(cfg.Log.Level); perr == nil {
		logger.SetLevel(level)
	}
	if cfg.Log.Debug {
		logger.SetLevel(logrus.DebugLevel)
	}
	if cfg.Log.File != "" {
		logFile, ferr := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if ferr != nil {
			return fmt.Errorf("open log file: %w", ferr)
		}
		defer logFile.Close()
		logger.SetOutput(io.MultiWriter(os.Stdout, logFile))
	}

	logger.WithFields(logging.Fields{
		"version": version.Version,
		"commit":  version.GetShortCommit(),
	}).Info("Starting lookout")

	channels, err := core.NormalizeChannels(cfg.Crawler.Channels)
	if err != nil {
		return fmt.Errorf("normalize channels: %w", err)
	}
	users := core.NormalizeUsers(cfg.Crawler.Users)

	source := upstream.New(upstream.Config{
		BaseURL:  cfg.Crawler.BaseURL,
		Token:    cfg.Crawler.Token,
		Channels: channels,
		Users:    users,
		Reconnect: clients.ReconnectConfig{
			InitialDelay: time.Duration(cfg.Crawler.Reconnect.InitialDelaySeconds) * time.Second,
			MaxDelay:     time.Duration(cfg.Crawler.Reconnect.MaxDelaySeconds) * time.Second,
			Multiplier:   cfg.Crawler.Reconnect.Multiplier,
			MaxAttempts:  cfg.Crawler.Reconnect.MaxAttempts,
		},
		Logger: logger,
	})

	pipeline := filter.FromConfig(filter.Config{
		Users:    cfg.Filters.Users,
		Keywords: cfg.Filters.Keywords,
		Kinds:    cfg.Filters.Kinds,
	})
	cache := dedup.New()
	eventBus := bus.New(logger)

	mc := monitoring.NewMetricsCollector(serviceName, version.Version, version.GetShortCommit())
	pipelineEvents, pipelineRate, _ := mc.CreatePipelineMetrics()
	sinkDeliveries, _, sinkDuration := mc.CreateSinkMetrics()
	hubConnections, hubMessages := mc.CreateHubMetrics()

	topics := enabledTopics(cfg)
	streamCore, err := core.New(core.Config{
		DedupTTL: time.Duration(cfg.Dedup.TTLSeconds) * time.Second,
		Topics:   topics,
		Channels: channels,
		Users:    users,
	}, source, pipeline, cache, eventBus, logger, core.Metrics{
		Events: pipelineEvents,
		Rate:   pipelineRate,
	})
	if err != nil {
		return fmt.Errorf("build stream core: %w", err)
	}

	hc := monitoring.NewHealthChecker(serviceName, version.Version)
	hc.AddCheck("upstream", monitoring.UpstreamStreamHealthCheck(func() string {
		return string(streamCore.ConnState())
	}))
	hc.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"crawler_url":   cfg.Crawler.BaseURL,
		"crawler_token": cfg.Crawler.Token,
	}))

	// CLI sink
	var cliSink *sinks.CLISink
	if cfg.CLI.Enabled {
		cliSink = sinks.NewCLISink(os.Stdout, streamCore.Stats().Snapshot,
			time.Duration(cfg.CLI.StatsIntervalSeconds)*time.Second, logger)
		eventBus.Subscribe(bus.TopicCLI, cliSink.Handle)
		cliSink.Start()
		defer cliSink.Stop()
	}

	// Alert sinks, each with its own rate limiter and subscription.
	alertWindow := time.Duration(cfg.Alerts.RateWindowSeconds) * time.Second
	sinkMetrics := sinks.Metrics{Deliveries: sinkDeliveries, Duration: sinkDuration}
	if cfg.Alerts.Telegram.Enabled {
		tg := sinks.NewTelegramSink(sinks.TelegramConfig{
			BotToken: cfg.Alerts.Telegram.BotToken,
			ChatID:   cfg.Alerts.Telegram.ChatID,
		})
		eventBus.Subscribe(bus.TopicAlerts, sinks.NewAlerter(tg, cfg.Alerts.RateLimit, alertWindow, logger, sinkMetrics).Handle)
	}
	if cfg.Alerts.Discord.Enabled {
		dc := sinks.NewDiscordSink(sinks.DiscordConfig{WebhookURL: cfg.Alerts.Discord.WebhookURL})
		eventBus.Subscribe(bus.TopicAlerts, sinks.NewAlerter(dc, cfg.Alerts.RateLimit, alertWindow, logger, sinkMetrics).Handle)
	}
	if cfg.Alerts.Webhook.Enabled {
		wh, werr := sinks.NewWebhookSink(sinks.WebhookConfig{
			URL:     cfg.Alerts.Webhook.URL,
			Method:  cfg.Alerts.Webhook.Method,
			Headers: cfg.Alerts.Webhook.Headers,
		})
		if werr != nil {
			return fmt.Errorf("configure webhook sink: %w", werr)
		}
		eventBus.Subscribe(bus.TopicAlerts, sinks.NewAlerter(wh, cfg.Alerts.RateLimit, alertWindow, logger, sinkMetrics).Handle)
	}

	// Kafka firehose
	var producer *kafka.Producer
	if cfg.Firehose.Enabled {
		producer, err = kafka.NewProducer(cfg.Firehose.Brokers, serviceName, logger)
		if err != nil {
			return fmt.Errorf("connect kafka firehose: %w", err)
		}
		defer producer.Close()
		hc.AddCheck("kafka", monitoring.KafkaProducerHealthCheck(producer.GetClient()))
		firehose := sinks.NewFirehoseSink(producer, cfg.Firehose.Topic, logger)
		eventBus.Subscribe(bus.TopicFirehose, firehose.Handle)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return streamCore.Run(gctx)
	})

	// Periodic re-application of the active user set.
	if cfg.Crawler.UserRefreshSeconds > 0 {
		refreshEvery := time.Duration(cfg.Crawler.UserRefreshSeconds) * time.Second
		g.Go(func() error {
			ticker := time.NewTicker(refreshEvery)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if rerr := streamCore.Subscriptions().Refresh(); rerr != nil {
						logger.WithError(rerr).Warn("Active user refresh failed")
					}
				}
			}
		})
	}

	// Health and metrics listener
	healthRouter := server.SetupServiceRouter(logger, serviceName, hc, mc)
	g.Go(func() error {
		healthCfg := server.DefaultConfig(serviceName, cfg.Health.Port)
		healthCfg.Port = cfg.Health.Port
		return server.Run(gctx, healthCfg, healthRouter, logger)
	})

	// Dashboard
	if cfg.Dashboard.Enabled {
		hub := broadcast.NewHub(logger, broadcast.HubMetrics{
			Connections: hubConnections,
			Messages:    hubMessages,
		})
		dashboard := broadcast.NewServer(broadcast.Config{
			Port:       cfg.Dashboard.Port,
			StaticDir:  cfg.Dashboard.StaticDir,
			RecentSize: cfg.Dashboard.RecentSize,
			AdminToken: cfg.Admin.Token,
		}, streamCore, hub, logger)
		eventBus.Subscribe(bus.TopicDashboard, dashboard.HandleEvent)

		g.Go(func() error {
			hub.Run(gctx)
			return nil
		})
		g.Go(func() error {
			dashCfg := server.DefaultConfig(serviceName, cfg.Dashboard.Port)
			dashCfg.Port = cfg.Dashboard.Port
			return server.Run(gctx, dashCfg, dashboard.Router(hc, mc), logger)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Shutdown complete")
	return nil
}

// enabledTopics lists the bus topics the pipeline publishes to, one per
// enabled sink group.
func enabledTopics(cfg *config.Config) []string {
	var topics []string
	if cfg.CLI.Enabled {
		topics = append(topics, bus.TopicCLI)
	}
	if cfg.Alerts.Telegram.Enabled || cfg.Alerts.Discord.Enabled || cfg.Alerts.Webhook.Enabled {
		topics = append(topics, bus.TopicAlerts)
	}
	if cfg.Dashboard.Enabled {
		topics = append(topics, bus.TopicDashboard)
	}
	if cfg.Firehose.Enabled {
		topics = append(topics, bus.TopicFirehose)
	}
	return topics
}
