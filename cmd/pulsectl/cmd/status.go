package cmd

import (
	"encoding/json"

	"compliancepulse/pkg/api"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the state of a scan job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := uuid.Parse(args[0])
		if err != nil {
			cmd.Printf("Error: invalid job id %q\n", args[0])
			return
		}

		client, err := newClient(cmd.Context())
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		defer client.Close()

		job, err := client.service.GetJob(cmd.Context(), client.tenant, id)
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}

		out, _ := json.MarshalIndent(api.FromJob(job), "", "  ")
		cmd.Println(string(out))
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
