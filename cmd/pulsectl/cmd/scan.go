package cmd

import (
	"errors"

	"compliancepulse/internal/service"
	"compliancepulse/internal/store"

	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a benchmark scan synchronously",
	Long: `Run every rule of a benchmark against the local host and print the
scored result.

Example:
  pulsectl scan --hostname web-01 --benchmark cis-ubuntu-22
  pulsectl scan --hostname db-02 --benchmark cis-ubuntu-22 --tag production`,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		hostname, _ := flags.GetString("hostname")
		benchmarkID, _ := flags.GetString("benchmark")
		ip, _ := flags.GetString("ip")
		tags, _ := flags.GetStringSlice("tag")

		if hostname == "" {
			cmd.Println("Error: --hostname is required")
			return
		}
		if benchmarkID == "" {
			cmd.Println("Error: --benchmark is required")
			return
		}

		client, err := newClient(cmd.Context())
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		defer client.Close()

		req := service.StartScanRequest{
			OrgID:       client.tenant.OrgID,
			Hostname:    hostname,
			BenchmarkID: benchmarkID,
			Tags:        tags,
		}
		if ip != "" {
			req.IP = &ip
		}

		result, err := client.service.StartScan(cmd.Context(), req)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				cmd.Printf("Error: benchmark %q has no rules for this organization\n", benchmarkID)
			} else {
				cmd.Printf("Error: %v\n", err)
			}
			return
		}

		passed := 0
		for _, r := range result.Results {
			if r.Passed {
				passed++
			}
		}

		cmd.Printf("✓ Scan completed!\nScan ID: %s\nScore: %d\nRules passed: %d/%d\nArtifact: %s\n",
			result.Scan.ID, result.Report.Score, passed, len(result.Results), result.Report.ArtifactPath)
	},
}

func init() {
	flags := scanCmd.Flags()
	flags.StringP("hostname", "H", "", "Target hostname recorded on the scan (required)")
	flags.StringP("benchmark", "b", "", "Benchmark ID to evaluate (required)")
	flags.String("ip", "", "Target IP recorded on the scan (optional)")
	flags.StringSlice("tag", []string{}, "Extra tags for the scan (repeatable)")

	rootCmd.AddCommand(scanCmd)
}
