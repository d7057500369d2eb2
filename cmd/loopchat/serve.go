package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ashton/loopchat/internal/server"
)

var serveSeed bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the development backend",
	Long: `Run an HTTP backend that implements the Loop Chat API over SQLite and
forwards messages to agent webhooks. Point clients at it with
LOOPCHAT_REMOTE_MODE=http and LOOPCHAT_BASE_URL=http://localhost:<port>/api.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return server.Run(ctx, cfg, serveSeed, logger)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveSeed, "seed", false, "Insert demo agents and a welcome chat")
}
