package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/rushteam/cropkit/api"
	"github.com/rushteam/cropkit/config"
	"github.com/rushteam/cropkit/feedback"
	"github.com/rushteam/cropkit/pkg/dsl"
	"github.com/rushteam/cropkit/service"
	"github.com/rushteam/cropkit/store"
)

func main() {
	_ = godotenv.Load()

	var cfgPath, addr string
	flag.StringVar(&cfgPath, "config", "cropkit.yaml", "Path to YAML config file (defaults are used if it does not exist)")
	flag.StringVar(&addr, "addr", "", "Listen address, overrides server.addr")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if err := run(cfg); err != nil {
		log.Fatal(err)
	}
}

func run(cfg *config.AppConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	artifacts, report := service.LoadArtifacts(ctx, service.ArtifactPaths{
		YieldModel:     cfg.Artifacts.YieldModelPath(),
		LabelEncoders:  cfg.Artifacts.LabelEncodersPath(),
		RecommendModel: cfg.Artifacts.RecommendModelPath(),
		Dataset:        cfg.Artifacts.DatasetPath,
	})
	service.LogReport(report)

	rules, err := dsl.Compile(cfg.Rules)
	if err != nil {
		return fmt.Errorf("failed to compile rules: %w", err)
	}

	opts := []service.Option{service.WithRules(rules)}

	cache, err := store.New(ctx, store.Options{
		Backend:   cfg.Cache.Backend,
		Size:      cfg.Cache.Size,
		RedisAddr: cfg.Cache.RedisAddr,
		RedisDB:   cfg.Cache.RedisDB,
	})
	if err != nil {
		return fmt.Errorf("failed to init cache: %w", err)
	}
	if cache != nil {
		defer cache.Close()
		opts = append(opts, service.WithCache(cache, cfg.Cache.TTLSecs))
		log.Printf("prediction cache: %s (ttl %ds)", cache.Name(), cfg.Cache.TTLSecs)
	}

	recorder, err := feedback.New(ctx, feedback.Options{
		Backend: cfg.Recorder.Backend,
		Kafka: feedback.KafkaRecorderConfig{
			Brokers:       cfg.Recorder.Kafka.Brokers,
			Topic:         cfg.Recorder.Kafka.Topic,
			BatchSize:     cfg.Recorder.Kafka.BatchSize,
			FlushInterval: cfg.Recorder.Kafka.FlushInterval(),
			Compression:   cfg.Recorder.Kafka.Compression,
		},
		PostgresDSN: cfg.Recorder.PostgresDSN,
	})
	if err != nil {
		return fmt.Errorf("failed to init recorder: %w", err)
	}
	defer func() {
		if err := recorder.Close(); err != nil {
			log.Printf("recorder close: %v", err)
		}
	}()
	opts = append(opts, service.WithRecorder(recorder))

	svc := service.NewPredictionService(artifacts, opts...)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.NewHandler(svc, cfg.Server.CORSOrigins),
		ReadTimeout:  config.Duration(cfg.Server.ReadTimeoutSecs),
		WriteTimeout: config.Duration(cfg.Server.WriteTimeoutSecs),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("running on %s (%d rules)", cfg.Server.Addr, rules.Len())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Printf("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Duration(cfg.Server.ShutdownTimeoutSecs))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
