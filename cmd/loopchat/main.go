package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ashton/loopchat/internal/config"
	"github.com/ashton/loopchat/internal/logging"
)

var (
	// Global flags
	configPath string
	verbose    bool
	offline    bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "loopchat",
	Short: "Chat with n8n and Make.com agents from the terminal",
	Long: `loopchat keeps your agents, chats and messages in step with a Loop Chat
backend. State is cached locally, so listings work offline and a chat's
history is fetched only once.

Use "loopchat serve" to run a development backend.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(); err != nil {
			return err
		}
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		logger, err = logging.New(cfg.Logging, verbose)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath(), "Config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "Use cached state without contacting the backend")

	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(chatsCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(subscriptionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
		os.Exit(1)
	}
}
