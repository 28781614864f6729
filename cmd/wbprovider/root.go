package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configFile     string
	providerName   string
	credentialFile string
	tokenFlag      string
	logLevel       string
	serveMetrics   bool
)

var rootCmd = &cobra.Command{
	Use:   "wbprovider",
	Short: "Run storage provider operations against S3-compatible and Google Drive backends",
	Long: `wbprovider resolves paths and runs metadata, transfer and management
operations against a configured storage provider. Credentials come from the
configured auth extensions: a static credential file or a signed token.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "YAML configuration file")
	flags.StringVarP(&providerName, "provider", "p", "", "provider name (s3compat, googledrive)")
	flags.StringVar(&credentialFile, "credential", "", "JSON file with credentials, settings and callback_url")
	flags.StringVar(&tokenFlag, "token", "", "signed credential token for the jwt auth extension")
	flags.StringVar(&logLevel, "log-level", "", "override the configured log level")
	flags.BoolVar(&serveMetrics, "serve-metrics", false, "serve prometheus metrics while the command runs")

	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(metadataCmd)
	rootCmd.AddCommand(revisionsCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(zipCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(mkdirCmd)
	rootCmd.AddCommand(copyCmd)
	rootCmd.AddCommand(moveCmd)
}

func main() {
	Execute()
}
