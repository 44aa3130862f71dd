package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/sushant-115/gojostore/api/server"
	"github.com/sushant-115/gojostore/core/engine"
	internaltelemetry "github.com/sushant-115/gojostore/internal/telemetry"
	"github.com/sushant-115/gojostore/pkg/telemetry"
	"go.uber.org/zap"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Open a store and serve it over TCP",
		Args:  cobra.NoArgs,
		RunE:  runServeCommand,
	}
	addStoreFlags(cmd)
	cmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	return cmd
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()
	if cmd.Flags().Changed("addr") {
		cfg.Server.Addr, _ = cmd.Flags().GetString("addr")
	}

	tel, shutdownTelemetry, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		log.Fatal("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			log.Error("telemetry shutdown failed", zap.Error(err))
		}
	}()
	if tel.MetricsAddr != "" {
		log.Info("metrics endpoint started", zap.String("addr", tel.MetricsAddr))
	}

	storageMetrics, err := internaltelemetry.NewStorageMetrics(tel.Meter)
	if err != nil {
		log.Fatal("failed to create storage metrics", zap.Error(err))
	}
	serverMetrics, err := internaltelemetry.NewServerMetrics(tel.Meter)
	if err != nil {
		log.Fatal("failed to create server metrics", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mem, err := cfg.Store.MemoryBytes()
	if err != nil {
		return err
	}
	db, err := engine.Open(ctx, engine.Options{
		Path:    cfg.Store.Path,
		Memory:  mem,
		Logger:  log,
		Metrics: storageMetrics,
	})
	if err != nil {
		log.Fatal("failed to open store", zap.String("path", cfg.Store.Path), zap.Error(err))
	}

	srv := server.NewServer(server.Config{
		Addr:              cfg.Server.Addr,
		RequestsPerSecond: cfg.Server.RequestsPerSecond,
		Burst:             cfg.Server.Burst,
	}, db, log, serverMetrics)
	if err := srv.Listen(); err != nil {
		return errors.Join(err, db.Close())
	}

	err = srv.Serve(ctx)
	if errors.Is(err, server.ErrServerClosed) {
		err = nil
	}
	log.Info("shutting down", zap.Bool("interrupted", ctx.Err() != nil))
	return errors.Join(err, db.Close())
}
