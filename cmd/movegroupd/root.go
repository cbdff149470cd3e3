package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/Opentrons/opentrons-sub010/internal/config"
	"github.com/Opentrons/opentrons-sub010/internal/plan"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var configPath string

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "movegroupd",
	Short: "movegroupd runs move plans on the motion controller bus",
	Long: `movegroupd uploads move groups to the motor controller nodes on the
bus, executes them in order and reports each node's final position.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (YAML)")
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.OutputPaths = []string{"stderr"}
	return zcfg.Build()
}

func loadPlan(path string) (*plan.Plan, error) {
	loader, err := plan.NewLoader()
	if err != nil {
		return nil, err
	}
	return loader.Load(path)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
