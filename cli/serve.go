package cli

import (
	"github.com/spf13/cobra"

	"strobe/api"
	"strobe/config"
	"strobe/logging"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scan API server and its workers",
		Args:  cobra.NoArgs,
	}
	f := cmd.Flags()
	f.String("addr", ":8080", "Listen address")
	f.String("redis", "", "Redis address, e.g. localhost:6379; empty keeps tasks in memory")
	f.Int("workers", 5, "Concurrent scan workers")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		settings, err := root.load(cmd,
			config.Binding{Key: "server.addr", Flag: f.Lookup("addr")},
			config.Binding{Key: "redis.addr", Flag: f.Lookup("redis")},
			config.Binding{Key: "workers", Flag: f.Lookup("workers")},
		)
		if err != nil {
			return err
		}
		level, err := logging.ParseLevel(settings.Log.Level)
		if err != nil {
			return err
		}
		return api.Run(cmd.Context(), settings, logging.Configure(level))
	}
	return cmd
}
