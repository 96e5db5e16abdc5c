package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	configPath string
	verbose    bool

	v = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "patchline",
	Short: "patchline - turns repo-change requests into pull requests",
	Long: `A service that listens for @mentions on GitHub pull requests and
messages in Slack, classifies them as repository write requests, runs an
executor over a fresh checkout, and publishes the result as a pushed branch
and pull request.`,
	Run: func(cmd *cobra.Command, args []string) {
		if show, _ := cmd.Flags().GetBool("version"); show {
			fmt.Printf("patchline version %s (%s)\n", Version, Build)
			return
		}
		_ = cmd.Help()
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Secrets come from the environment, never the config file on
		// disk: PATCHLINE_SLACK_BOT_TOKEN, PATCHLINE_SLACK_APP_TOKEN,
		// PATCHLINE_WEBHOOK_SECRET, PATCHLINE_GITHUB_TOKEN,
		// ANTHROPIC_API_KEY.
		v.SetEnvPrefix("PATCHLINE")
		v.AutomaticEnv()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", ".patchline.yml", "path to the configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.Flags().Bool("version", false, "print version and exit")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
