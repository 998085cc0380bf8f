package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var approveCmd = &cobra.Command{
	Use:   "approve [job_id]",
	Short: "Approve a ready video for upload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := newClient().ApproveJob(args[0])
		if err != nil {
			return fmt.Errorf("failed to approve job: %w", err)
		}
		cmd.Printf("%s✓%s Job %s approved, now %s\n", colorGreen, colorReset, job.JobID, colorizeStatus(job.Status))
		return nil
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject [job_id]",
	Short: "Reject a ready video",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := newClient().RejectJob(args[0])
		if err != nil {
			return fmt.Errorf("failed to reject job: %w", err)
		}
		cmd.Printf("Job %s %s\n", job.JobID, colorizeStatus(job.Status))
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry [job_id]",
	Short: "Run a failed job again",
	Long: `Queue a failed job again with the same prompt.

Marker-mode jobs are retried under a new job id, so a late reply to the first
attempt can never be taken for the retry's. Legacy jobs are reset in place.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		retry, err := newClient().RetryJob(args[0])
		if err != nil {
			return fmt.Errorf("failed to retry job: %w", err)
		}

		if retry.Job.JobID == retry.RetryOf {
			cmd.Printf("%s✓%s Job %s queued again\n", colorGreen, colorReset, retry.Job.JobID)
		} else {
			cmd.Printf("%s✓%s Job %s retried as %s\n", colorGreen, colorReset, retry.RetryOf, retry.Job.JobID)
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [job_id]",
	Short: "Delete a job",
	Long:  `Delete a job that no worker is processing. With --cascade, its history and downloaded file are removed too.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cascade, _ := cmd.Flags().GetBool("cascade")

		if err := newClient().DeleteJob(args[0], cascade); err != nil {
			return fmt.Errorf("failed to delete job: %w", err)
		}
		cmd.Printf("Job %s deleted\n", args[0])
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job counts by status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := newClient().GetStats()
		if err != nil {
			return fmt.Errorf("failed to get stats: %w", err)
		}

		cmd.Printf("%sTotal:%s   %d\n", colorDim, colorReset, stats.Total)
		cmd.Printf("%sActive:%s  %d\n", colorDim, colorReset, stats.Active)
		for _, status := range []string{"queued", "sending", "waiting_video", "downloading", "ready", "uploading", "uploaded", "rejected", "error"} {
			if n := stats.ByStatus[status]; n > 0 {
				cmd.Printf("  %-14s %d\n", colorizeStatus(status), n)
			}
		}
		return nil
	},
}

func init() {
	deleteCmd.Flags().Bool("cascade", false, "also remove the job's history and downloaded file")

	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(statsCmd)
}
