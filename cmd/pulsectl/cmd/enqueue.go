package cmd

import (
	"errors"

	"compliancepulse/internal/service"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <rule-group-id>",
	Short: "Queue an asynchronous scan of a rule group",
	Long: `Queue a scan job for a rule group. The worker pool picks it up,
runs the group's rules, and persists the scored report.

Example:
  pulsectl enqueue 3f1d9a2c-6a0e-4f6d-9f3b-0c8f6f2e7a11`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		groupID, err := uuid.Parse(args[0])
		if err != nil {
			cmd.Printf("Error: invalid rule group id %q\n", args[0])
			return
		}

		client, err := newClient(cmd.Context())
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		defer client.Close()

		job, err := client.service.EnqueueGroupScan(cmd.Context(), client.tenant, groupID)
		if err != nil {
			if errors.Is(err, service.ErrTooManyJobs) {
				cmd.Println("Error: organization is at its concurrent job capacity; try again later")
			} else {
				cmd.Printf("Error: %v\n", err)
			}
			return
		}

		cmd.Printf("✓ Scan job queued!\nJob ID: %s\nStatus: %s\n", job.ID, job.Status)
	},
}

func init() {
	rootCmd.AddCommand(enqueueCmd)
}
