// Package cli implements the memtier CLI commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rcliao/memtier/internal/config"
	"github.com/rcliao/memtier/internal/engine"
	"github.com/rcliao/memtier/internal/logging"
	"github.com/rcliao/memtier/internal/tier"
)

var (
	configPath   string
	formatFlag   string
	disableTiers []string
	logLevel     string

	cfg    *config.Config
	logger = zap.NewNop()
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "memtier",
	Short: "Tiered persistence for agent memory records",
	Long: "memtier stores categorized memory records in a bounded in-process store " +
		"and pushes them to fast, local, and permanent tiers.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			path = config.DefaultPath()
		}
		c, err := config.Load(path)
		if err != nil {
			return err
		}
		if logLevel != "" {
			c.Log.Level = logLevel
		}
		for _, name := range disableTiers {
			t, err := tier.Parse(name)
			if err != nil {
				return err
			}
			switch t {
			case tier.Fast:
				c.Tiers.Fast.Enabled = false
			case tier.Local:
				c.Tiers.Local.Enabled = false
			case tier.Permanent:
				c.Tiers.Permanent.Enabled = false
			}
		}

		l, err := logging.New(c.Log.Level, c.Log.Format)
		if err != nil {
			return err
		}
		cfg, logger = c, l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: $MEMTIER_CONFIG or ~/.memtier/config.yaml)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
	RootCmd.PersistentFlags().StringSliceVar(&disableTiers, "disable-tier", nil, "Tiers to disable for this run (fast, local, permanent)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level: debug, info, warn, error")
}

func openEngine(cmd *cobra.Command) *engine.Engine {
	e, err := engine.Open(cmd.Context(), cfg, logger)
	if err != nil {
		exitErr("open engine", err)
	}
	return e
}

// closeTimeout bounds the final drain. An interrupt does not cut it short;
// records left when it expires are spilled for the next run.
const closeTimeout = 30 * time.Second

func closeContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(cmd.Context()), closeTimeout)
}

// closeEngine drains the tiers and writes the durability log.
func closeEngine(cmd *cobra.Command, e *engine.Engine) {
	ctx, cancel := closeContext(cmd)
	defer cancel()
	if err := e.Close(ctx); err != nil {
		exitErr("close engine", err)
	}
}

// failEngine closes e before exiting so queued records are not lost.
func failEngine(cmd *cobra.Command, e *engine.Engine, msg string, err error) {
	ctx, cancel := closeContext(cmd)
	_ = e.Close(ctx)
	cancel()
	exitErr(msg, err)
}

func textOutput() bool {
	return formatFlag == "text"
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
