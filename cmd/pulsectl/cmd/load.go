package cmd

import (
	"compliancepulse/internal/loader"

	"github.com/spf13/cobra"
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load benchmark definitions from YAML files",
	Long: `Parse every benchmark document in a directory and reload it for the
organization. Each benchmark is replaced wholesale: its previous rules
are removed and the document's rules take their place.

Example:
  pulsectl load --dir ./benchmarks`,
	Run: func(cmd *cobra.Command, args []string) {
		dir, _ := cmd.Flags().GetString("dir")

		client, err := newClient(cmd.Context())
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}
		defer client.Close()

		l := loader.New(dir, client.db)
		benchmarks, err := l.LoadAll(cmd.Context(), client.tenant)
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}

		if len(benchmarks) == 0 {
			cmd.Printf("No benchmark documents found in %s\n", dir)
			return
		}

		cmd.Printf("✓ Loaded %d benchmark(s):\n", len(benchmarks))
		for _, b := range benchmarks {
			cmd.Printf("  %s (%s) version %s\n", b.ID, b.Name, b.Version)
		}
	},
}

func init() {
	loadCmd.Flags().StringP("dir", "d", "benchmarks", "Directory containing benchmark YAML documents")
	rootCmd.AddCommand(loadCmd)
}
