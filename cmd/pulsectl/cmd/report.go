package cmd

import (
	"encoding/json"

	"compliancepulse/pkg/api"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report <scan-id>",
	Short: "Show the report of a completed scan",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := uuid.Parse(args[0])
		if err != nil {
			cmd.Printf("Error: invalid scan id %q\n", args[0])
			return
		}

		client, err := newClient(cmd.Context())
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		defer client.Close()

		report, err := client.service.GetReport(cmd.Context(), client.tenant, id)
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}

		out, _ := json.MarshalIndent(api.FromReport(report), "", "  ")
		cmd.Println(string(out))
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
}
