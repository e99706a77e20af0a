package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"callrec-server/pkg/app"
	"callrec-server/pkg/config"
	httpserver "callrec-server/pkg/http"
	"callrec-server/pkg/media"
	"callrec-server/pkg/messaging"
	"callrec-server/pkg/metrics"
	"callrec-server/pkg/platform"
	"callrec-server/pkg/registry"
	"callrec-server/pkg/util"
	"callrec-server/pkg/version"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})

	cfg, err := config.LoadConfig(logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	logger.SetLevel(cfg.LogLevel)

	logger.WithField("version", version.Version).Info("Starting call recording server")

	metrics.Init(logger)
	metrics.EnableMetrics(cfg.HTTPEnableMetrics)

	store, err := media.NewArtifactStore(logger, cfg.RecordingDir)
	if err != nil {
		logger.WithError(err).Fatal("Failed to prepare recording directory")
	}

	var notifier *messaging.AMQPClient
	if cfg.AMQPUrl != "" && cfg.AMQPQueueName != "" {
		notifier = messaging.NewAMQPClient(logger, cfg.AMQPUrl, cfg.AMQPQueueName)
		if err := notifier.Connect(); err != nil {
			logger.WithError(err).Warn("AMQP unavailable, recording notifications disabled until reconnect")
		}
	} else {
		logger.Info("AMQP not configured, recording notifications disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var client platform.Client
	var wsClient *platform.WSClient
	if cfg.PlatformEventURL != "" {
		wsClient = platform.NewWSClient(logger, cfg.PlatformEventURL)
		client = wsClient
	} else {
		logger.Warn("PLATFORM_EVENT_URL not set, using in-process platform stub")
		client = platform.NewFakePlatform(logger)
	}

	var facadeNotifier app.Notifier
	if notifier != nil {
		facadeNotifier = notifier
	}

	facade := app.NewFacade(logger, cfg, client, registry.New(64), store, facadeNotifier)

	switch c := client.(type) {
	case *platform.WSClient:
		c.SetHandler(facade)
	case *platform.FakePlatform:
		c.SetHandler(facade)
	}

	if wsClient != nil {
		go wsClient.Run(ctx)
	}

	var broker httpserver.BrokerStatus
	if notifier != nil {
		broker = notifier
	}

	server := httpserver.NewServer(logger, cfg, facade, broker)
	server.Start()

	shutdown := util.NewGracefulShutdown(logger, cfg.ShutdownTimeout)
	shutdown.Register(util.ShutdownResource{
		Name:     "http_server",
		Priority: 10,
		Shutdown: server.Shutdown,
	})
	shutdown.Register(util.ShutdownResource{
		Name:     "sessions",
		Priority: 20,
		Shutdown: func(ctx context.Context) error {
			facade.Shutdown(ctx)
			return nil
		},
	})
	if notifier != nil {
		shutdown.Register(util.ShutdownResource{
			Name:     "amqp",
			Priority: 30,
			Shutdown: func(ctx context.Context) error {
				notifier.Disconnect()
				return nil
			},
		})
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.WithField("signal", sig.String()).Info("Shutdown signal received")

	cancel()
	if err := shutdown.Shutdown(context.Background()); err != nil {
		logger.WithError(err).Error("Graceful shutdown finished with errors")
		os.Exit(1)
	}
}
