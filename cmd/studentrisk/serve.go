package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"studentrisk/agent"
	"studentrisk/cache"
	"studentrisk/config"
	"studentrisk/db"
	qhttp "studentrisk/http"
	"studentrisk/messaging"
	"studentrisk/ml"
	"studentrisk/monitoring"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve predictions over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer logger.Sync()
		return serve(cmd.Context(), cfg, logger)
	},
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// 1. 加载模型，失败直接退出
	artifact, err := ml.LoadArtifact(cfg.Model.Dir)
	if err != nil {
		logger.Error("failed to load model artifact", zap.String("dir", cfg.Model.Dir), zap.Error(err))
		return err
	}
	logger.Info("model loaded",
		zap.String("dir", cfg.Model.Dir),
		zap.Strings("classes", artifact.Manifest.Classes),
		zap.Int("trees", artifact.Manifest.Estimators),
		zap.String("fingerprint", artifact.Manifest.Fingerprint))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 2. 决策副作用：本地的同步执行，涉及外部I/O的放到后台
	hub := monitoring.NewWebSocketHub(logger, cfg.Http.AllowedOrigins)
	go hub.Run(ctx)
	metrics := monitoring.NewMetrics(hub)

	effects := []agent.Effect{
		agent.LogEffect(logger),
		monitoring.DecisionEffect(metrics),
		monitoring.BroadcastEffect(hub),
	}
	var background []agent.Effect

	store, err := db.Open(ctx, cfg.Database.Driver, cfg.Database.Path, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if store != nil {
		defer store.Close()
		background = append(background, db.HistoryEffect(store))
	}

	if len(cfg.Kafka.Brokers) > 0 {
		publisher := messaging.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, artifact.Manifest.Fingerprint)
		defer publisher.Close()
		background = append(background, publisher)
	}

	if cfg.Alerts.WebhookURL != "" {
		alerter, err := monitoring.NewAlerter(monitoring.AlertConfig{
			WebhookURL: cfg.Alerts.WebhookURL,
			RateLimit: monitoring.RateLimit{
				MaxPerHour: cfg.Alerts.MaxPerHour,
				Cooldown:   cfg.Alerts.Cooldown,
			},
		}, logger)
		if err != nil {
			return err
		}
		background = append(background, alerter)
	}

	opts := []agent.Option{agent.WithEffects(effects...), agent.WithLogger(logger)}
	if len(background) > 0 {
		opts = append(opts, agent.WithBackgroundEffects(0, 0, background...))
	}
	labelCache, closeCache, err := openCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()
	if labelCache != nil {
		opts = append(opts, agent.WithCache(labelCache))
	}

	decisionAgent, err := agent.New(artifact, opts...)
	if err != nil {
		return err
	}
	defer decisionAgent.Close()

	// 3. 模型文件变更只告警
	if changes, err := config.WatchArtifact(ctx, cfg.Model.Dir, logger); err != nil {
		logger.Warn("artifact watcher disabled", zap.Error(err))
	} else {
		go func() {
			for range changes {
			}
		}()
	}

	// 4. HTTP
	server := qhttp.NewServer(qhttp.ServerConfig{
		Port:           cfg.Http.Port,
		Timeout:        cfg.Http.Timeout,
		AllowedOrigins: cfg.Http.AllowedOrigins,
	}, qhttp.Deps{
		Agent:     decisionAgent,
		Manifest:  artifact.Manifest,
		Store:     store,
		Hub:       hub,
		Metrics:   metrics,
		ReportDir: cfg.Report.Dir,
		JWTSecret: cfg.Auth.JWTSecret,
		Logger:    logger,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	if err := server.Stop(context.Background()); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}
	cancel()
	<-hub.Done()
	return nil
}

func openCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (agent.LabelCache, func(), error) {
	switch cfg.Cache.Driver {
	case "lru":
		c, err := cache.NewLRU(cfg.Cache.Size)
		if err != nil {
			return nil, func() {}, err
		}
		return c, func() {}, nil
	case "redis":
		c, err := cache.NewRedis(ctx, cfg.Cache.RedisAddr, cfg.Cache.TTL, logger)
		if err != nil {
			return nil, func() {}, err
		}
		return c, func() { c.Close() }, nil
	default:
		return nil, func() {}, nil
	}
}
