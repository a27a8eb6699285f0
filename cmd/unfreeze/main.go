package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/yourorg/unfreeze/internal/config"
	"github.com/yourorg/unfreeze/internal/logging"
	"go.uber.org/zap"
)

var (
	// Global flags
	verbose bool

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "unfreeze",
	Short: "Recover Python sources from PyInstaller-frozen binaries",
	Long: `unfreeze unpacks a frozen binary, resolves the Python version it was built
with, and runs every compiled unit through a cascade of decompilers,
a disassembler and a raw code-object scan until something usable comes out.

Configuration is read from the environment (and .env files); flags override it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		logger, err = logging.New(verbose)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(newRunCmd(), newResolveCmd(), newResetCmd(), newReplayCmd())
}

func main() {
	// Local development convenience; missing files are fine.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}
