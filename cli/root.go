// Package cli wires the command line: a one-shot scan command and the API
// server.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"strobe/config"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

// NewRootCommand builds the strobe command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "strobe",
		Short:         "High-throughput port scanner",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to a YAML, TOML or JSON config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level (debug|info|warn|error)")

	cmd.AddCommand(newScanCommand(opts), newServeCommand(opts))
	return cmd
}

// load resolves settings for a subcommand, letting explicitly set flags win.
func (o *rootOptions) load(cmd *cobra.Command, binds ...config.Binding) (*config.Settings, error) {
	binds = append(binds, config.Binding{Key: "log.level", Flag: cmd.Flags().Lookup("log-level")})
	return config.Load(o.configPath, binds...)
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
