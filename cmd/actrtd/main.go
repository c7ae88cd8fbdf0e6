package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	redisAddr  string
	redisPass  string
	redisDB    int
	configFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "actrtd",
		Short: "actrtd - activity runtime host",
		Long:  "Runs the activity runtime's snapshot store, notifier, recovery sweeper, and metrics endpoints as a long-lived process.",
	}

	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis", "localhost:6379", "Redis address, used when snapshot/notifier backend is redis")
	rootCmd.PersistentFlags().StringVar(&redisPass, "redis-pass", "", "Redis password")
	rootCmd.PersistentFlags().IntVar(&redisDB, "redis-db", 0, "Redis database")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (optional, flags override)")

	rootCmd.AddCommand(
		daemonCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the actrtd version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("actrtd (activity runtime host) dev")
			return nil
		},
	}
}
