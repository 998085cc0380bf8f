package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get [job_id]",
	Short: "Show a job",
	Long:  `Show a job's status, the chat messages it is bound to and its artifacts. With --events, also list its status history.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		job, err := client.GetJob(args[0])
		if err != nil {
			return fmt.Errorf("failed to get job: %w", err)
		}
		printJob(cmd, job)

		withEvents, _ := cmd.Flags().GetBool("events")
		if !withEvents {
			return nil
		}

		events, err := client.GetEvents(args[0])
		if err != nil {
			return fmt.Errorf("failed to get job events: %w", err)
		}

		cmd.Println()
		cmd.Printf("%sHistory%s\n", colorBold, colorReset)
		for _, e := range events.Events {
			from := e.FromStatus
			if from == "" {
				from = "-"
			}
			cmd.Printf("  %s  %s → %s  %s%s%s\n", e.CreatedAt, from, colorizeStatus(e.ToStatus), colorDim, e.Message, colorReset)
		}
		return nil
	},
}

func init() {
	getCmd.Flags().Bool("events", false, "also show the status history")
	rootCmd.AddCommand(getCmd)
}
