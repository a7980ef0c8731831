package commands

import (
	"encoding/json"
	"laptop-scraper/internal/service"

	"github.com/spf13/cobra"
)

var docsPort *int

func init() {
	docsPort = docsCmd.Flags().Int("port", 3000, "The port the document lists in its servers.")
	rootCmd.AddCommand(docsCmd)
}

var docsCmd = &cobra.Command{
	Use:   "docs [--port <port>]",
	Short: "Prints the OpenAPI document of the http server.",
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := service.NewOpenAPIDocument(*docsPort)
		if err != nil {
			return err
		}
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(doc)
	},
}
