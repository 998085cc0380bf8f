package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/videogen/internal/api/dto"
)

var submitCmd = &cobra.Command{
	Use:   "submit [prompt]",
	Short: "Submit a prompt to the video generation agent",
	Long: `Create a job for the prompt and queue it for the worker.

In marker mode (the default) the prompt is tagged with the job id so the reply
can be matched even when several jobs are in flight. Legacy mode matches by
reply link and timing and is only safe with one job at a time.

Example:
  vidctl submit "a red fox running through snow"
  vidctl submit --mode legacy "sunset over the sea"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, _ := cmd.Flags().GetString("mode")

		job, err := newClient().SubmitJob(dto.CreateJobRequest{
			Prompt:          strings.Join(args, " "),
			CorrelationMode: mode,
		})
		if err != nil {
			return fmt.Errorf("failed to submit job: %w", err)
		}

		cmd.Printf("%s✓%s Job submitted\n", colorGreen, colorReset)
		cmd.Printf("%sJob ID:%s  %s\n", colorDim, colorReset, job.JobID)
		cmd.Printf("%sStatus:%s  %s\n", colorDim, colorReset, colorizeStatus(job.Status))
		return nil
	},
}

func init() {
	submitCmd.Flags().String("mode", "", "correlation mode: marker or legacy (default: the server's)")
	rootCmd.AddCommand(submitCmd)
}
