package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "vidctl",
	Short: "vidctl submits and reviews video generation jobs",
	Long: `vidctl is the command-line interface for the videogen API.

Jobs are prompts sent to the video generation agent. A worker waits for the
agent's reply, downloads the video and parks the job in "ready" until an
operator approves or rejects it.

Common workflows:

  Submit a prompt:
    vidctl submit "a red fox running through snow"

  Follow a job:
    vidctl get <job-id> --events

  Review finished videos:
    vidctl list --status ready
    vidctl approve <job-id>

Configuration:
  VIDEOGEN_URL    API endpoint (default: http://localhost:8080)`,
	SilenceUsage: true,
}

// Execute runs the root command
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

		viper.AddConfigPath(home)
		viper.SetConfigName(".vidctl")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("VIDEOGEN")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.vidctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:8080", "videogen API URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
}

// newClient builds a client for the configured API
func newClient() *JobClient {
	return NewJobClient(viper.GetString("url"))
}
