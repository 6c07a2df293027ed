package cmd

import (
	"compliancepulse/internal/store"
	"compliancepulse/pkg/api"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var schedulesCmd = &cobra.Command{
	Use:   "schedules",
	Short: "Manage recurring scan schedules",
}

var schedulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the organization's schedules",
	Run: func(cmd *cobra.Command, args []string) {
		client, err := newClient(cmd.Context())
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		defer client.Close()

		schedules, err := client.service.ListSchedules(cmd.Context(), client.tenant)
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}

		if len(schedules) == 0 {
			cmd.Println("No schedules.")
			return
		}

		for _, s := range schedules {
			resp := api.FromSchedule(s)
			state := "disabled"
			if resp.Enabled {
				state = "enabled"
			}
			lastRun := "never"
			if resp.LastRunAt != nil {
				lastRun = resp.LastRunAt.Format("2006-01-02 15:04:05")
			}
			cmd.Printf("%s  %-20s %s/%dm  %s  last run: %s\n",
				resp.ScheduleID, resp.Name, resp.Frequency, resp.IntervalMinutes, state, lastRun)
		}
	},
}

var schedulesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a recurring schedule for a rule group",
	Long: `Create a schedule. Frequency is hourly, daily, or custom; custom
intervals are floored at 5 minutes.

Example:
  pulsectl schedules create --name nightly --group <rule-group-id> --frequency daily
  pulsectl schedules create --name often --group <rule-group-id> --frequency custom --interval 30`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		name, _ := flags.GetString("name")
		groupRaw, _ := flags.GetString("group")
		frequency, _ := flags.GetString("frequency")
		interval, _ := flags.GetInt("interval")

		if name == "" {
			cmd.Println("Error: --name is required")
			return
		}
		groupID, err := uuid.Parse(groupRaw)
		if err != nil {
			cmd.Printf("Error: invalid rule group id %q\n", groupRaw)
			return
		}

		client, err := newClient(cmd.Context())
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		defer client.Close()

		schedule := &store.Schedule{
			Name:            name,
			RuleGroupID:     groupID,
			Frequency:       store.ScheduleFrequency(frequency),
			IntervalMinutes: interval,
			Enabled:         true,
		}
		if err := client.service.CreateSchedule(cmd.Context(), client.tenant, schedule); err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}

		cmd.Printf("✓ Schedule created!\nID: %s\nName: %s\n", schedule.ID, schedule.Name)
	},
}

var schedulesDeleteCmd = &cobra.Command{
	Use:   "delete <schedule-id>",
	Short: "Delete a schedule",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := uuid.Parse(args[0])
		if err != nil {
			cmd.Printf("Error: invalid schedule id %q\n", args[0])
			return
		}

		client, err := newClient(cmd.Context())
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		defer client.Close()

		if err := client.service.DeleteSchedule(cmd.Context(), client.tenant, id); err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}

		cmd.Println("✓ Schedule deleted.")
	},
}

func init() {
	flags := schedulesCreateCmd.Flags()
	flags.StringP("name", "n", "", "Schedule name (required)")
	flags.StringP("group", "g", "", "Rule group UUID (required)")
	flags.StringP("frequency", "f", "daily", "hourly, daily, or custom")
	flags.Int("interval", 60, "Interval in minutes for custom frequency")

	schedulesCmd.AddCommand(schedulesListCmd)
	schedulesCmd.AddCommand(schedulesCreateCmd)
	schedulesCmd.AddCommand(schedulesDeleteCmd)
	rootCmd.AddCommand(schedulesCmd)
}
