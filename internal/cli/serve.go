package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/credgate/credgate/internal/daemon"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("config", "", "Path to config.toml (default: $CREDGATE_HOME/config.toml)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the credit service daemon",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	var (
		conf daemon.Config
		err  error
	)
	if configPath != "" {
		conf, err = daemon.LoadFile(configPath)
	} else {
		conf, err = daemon.Load()
	}
	if err != nil {
		return err
	}

	d, err := daemon.New(conf)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return d.Run(ctx)
}
