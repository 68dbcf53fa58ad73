package cmd

import (
	"github.com/spf13/cobra"
	"recording-ingest/config"
)

func Root(config *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "recording-ingest",
		Short: "receive chunked screen recordings, upload them and enrich paid plans",
	}
	rootCmd.AddCommand(server(config))
	return rootCmd
}
