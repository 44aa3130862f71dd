package main

import (
	"github.com/spf13/cobra"
	"github.com/sushant-115/gojostore/core/engine"
	"go.uber.org/zap"
)

func newCreateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an empty store",
		Args:  cobra.NoArgs,
		RunE:  runCreateCommand,
	}
	addStoreFlags(cmd)
	return cmd
}

func runCreateCommand(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	mem, err := cfg.Store.MemoryBytes()
	if err != nil {
		return err
	}
	db, err := engine.Create(engine.Options{Path: cfg.Store.Path, Memory: mem, Logger: log})
	if err != nil {
		log.Error("create failed", zap.String("path", cfg.Store.Path), zap.Error(err))
		return err
	}
	if err := db.Close(); err != nil {
		return err
	}
	log.Info("store created", zap.String("path", cfg.Store.Path))
	return nil
}
