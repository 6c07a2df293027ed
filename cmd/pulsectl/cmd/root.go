package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "pulsectl",
	Short: "Pulsectl is a command line tool for operating the compliancepulse platform",
	Long: `pulsectl is the admin command-line interface for the CompliancePulse
compliance scanning platform.

CompliancePulse periodically and on demand evaluates declarative compliance
benchmarks against target hosts, scores the results, and persists auditable
reports per tenant.

Common workflows:

  Load benchmark definitions:
    pulsectl load --dir ./benchmarks

  Run a scan synchronously:
    pulsectl scan --hostname web-01 --benchmark cis-ubuntu-22

  Queue an async group scan:
    pulsectl enqueue <rule-group-id>

  Manage schedules:
    pulsectl schedules list
    pulsectl schedules create --name nightly --group <rule-group-id> --frequency daily
    pulsectl schedules delete <schedule-id>

  Check a job or report:
    pulsectl status <job-id>
    pulsectl report <scan-id>

Configuration:
  Set the database and tenant via environment variables or a config file:
    PULSE_DATABASE_URL    PostgreSQL connection string
    PULSE_ORG             Tenant (organization) UUID to operate as`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".pulsectl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".pulsectl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "PULSE_VARNAME"
	viper.SetEnvPrefix("PULSE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.pulsectl.yaml)")

	rootCmd.PersistentFlags().String("database-url", "", "PostgreSQL connection string")
	viper.BindPFlag("database_url", rootCmd.PersistentFlags().Lookup("database-url"))

	rootCmd.PersistentFlags().StringP("org", "o", "", "Tenant (organization) UUID")
	viper.BindPFlag("org", rootCmd.PersistentFlags().Lookup("org"))
}
