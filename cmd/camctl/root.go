package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/your-org/iaction/internal/client"
)

var jsonOutput bool

var rootCmd = &cobra.Command{
	Use:           "camctl",
	Short:         "Control an IAction agent",
	Long:          `Start and stop camera capture and manage AI detections on a running agent.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("server", "http://localhost:5002", "agent base URL (env IACTION_SERVER)")
	rootCmd.PersistentFlags().Duration("timeout", 15*time.Second, "request timeout")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")

	viper.SetEnvPrefix("IACTION")
	viper.AutomaticEnv()
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))

	rootCmd.AddCommand(camerasCmd, detectionsCmd)
}

func newClient() *client.Client {
	return client.New(viper.GetString("server"), viper.GetDuration("timeout"))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
