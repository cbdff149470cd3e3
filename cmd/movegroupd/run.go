package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/Opentrons/opentrons-sub010/internal/config"
	"github.com/Opentrons/opentrons-sub010/internal/movegroup"
	"github.com/Opentrons/opentrons-sub010/internal/storage"
	"github.com/Opentrons/opentrons-sub010/internal/system"
	"github.com/Opentrons/opentrons-sub010/internal/types"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run PLAN",
	Short: "Run a move plan and print the final node positions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg.Logging)
		if err != nil {
			return err
		}
		defer logger.Sync()

		p, err := loadPlan(args[0])
		if err != nil {
			return err
		}
		if rep := validatePlan(p); !rep.Valid {
			writeJSON(cmd.OutOrStdout(), rep)
			return fmt.Errorf("plan %s is invalid", args[0])
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var db *storage.PostgresClient
		if cfg.Database.Enabled {
			db, err = storage.NewPostgresClient(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.EnsureSchema(ctx); err != nil {
				return err
			}
			logger.Info("Run journal connected")
		}

		lifecycle := system.NewLifecycleManager(db, cfg, logger)
		if err := lifecycle.Start(); err != nil {
			return err
		}
		logger.Debug("Bus status", zap.Any("status", lifecycle.Status()))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lifecycle.Shutdown(shutdownCtx); err != nil {
				logger.Error("Shutdown failed", zap.Error(err))
			}
		}()

		positions, err := lifecycle.RunPlan(ctx, p)
		if err != nil {
			writeJSON(cmd.OutOrStdout(), types.NewErrorResponse(p.Name, movegroup.ErrorCode(err), err.Error(), movegroup.ErrorDetails(err)))
			return err
		}

		out := make(map[string]movegroup.NodePosition, len(positions))
		for node, pos := range positions {
			out[node.String()] = pos
		}
		return writeJSON(cmd.OutOrStdout(), map[string]any{
			"plan":      p.Name,
			"positions": out,
		})
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
