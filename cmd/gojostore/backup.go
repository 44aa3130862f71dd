package main

import (
	"fmt"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"
	"github.com/sushant-115/gojostore/core/storage_engine/backup"
	"go.uber.org/zap"
)

func newBackupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Copy a closed store to a new file prefix",
		Args:  cobra.NoArgs,
		RunE:  runBackupCommand,
	}
	addStoreFlags(cmd)
	cmd.Flags().String("to", "", "File prefix of the copy")
	cmd.Flags().String("rate", "0", "Copy rate limit per second, e.g. 50MiB (0 means unlimited)")
	cmd.Flags().Bool("verify", false, "Only verify the backup at --to against its manifest")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func runBackupCommand(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()
	to, _ := cmd.Flags().GetString("to")

	if verify, _ := cmd.Flags().GetBool("verify"); verify {
		m, err := backup.Verify(to)
		if err != nil {
			return err
		}
		log.Info("backup verified", zap.String("prefix", to), zap.String("source", m.Source), zap.Time("created_at", m.CreatedAt))
		return nil
	}

	rateFlag, _ := cmd.Flags().GetString("rate")
	bytesPerSec, err := units.RAMInBytes(rateFlag)
	if err != nil {
		return fmt.Errorf("invalid --rate %q: %w", rateFlag, err)
	}
	if _, err := backup.Store(cmd.Context(), cfg.Store.Path, to, bytesPerSec, log); err != nil {
		return err
	}
	log.Info("backup written", zap.String("prefix", to))
	return nil
}
