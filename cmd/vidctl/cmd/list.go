package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	Long: `List jobs, newest first, one page at a time.

Example:
  vidctl list --status ready
  vidctl list --status error,rejected --page-size 50
  vidctl list --active`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		status, _ := flags.GetString("status")
		active, _ := flags.GetBool("active")
		pageSize, _ := flags.GetInt("page-size")
		cursor, _ := flags.GetString("cursor")

		list, err := newClient().ListJobs(ListOptions{
			Status:   status,
			Active:   active,
			PageSize: pageSize,
			Cursor:   cursor,
		})
		if err != nil {
			return fmt.Errorf("failed to list jobs: %w", err)
		}

		if len(list.Jobs) == 0 {
			cmd.Println("No jobs found")
			return nil
		}

		cmd.Printf("%s%-36s  %-14s  %-7s  %s%s\n", colorBold, "JOB ID", "STATUS", "MODE", "PROMPT", colorReset)
		for _, job := range list.Jobs {
			// pad before coloring so the columns line up
			cmd.Printf("%-36s  %s%-14s%s  %-7s  %s\n",
				job.JobID, statusColor(job.Status), job.Status, colorReset, job.CorrelationMode, truncate(job.Prompt, 48))
		}

		if list.NextCursor != "" {
			cmd.Printf("\n%sMore jobs: vidctl list --cursor %s%s\n", colorDim, list.NextCursor, colorReset)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().String("status", "", "comma-separated statuses to show")
	listCmd.Flags().Bool("active", false, "only jobs not yet finished")
	listCmd.Flags().Int("page-size", 0, "jobs per page (default: the server's)")
	listCmd.Flags().String("cursor", "", "continue from a previous page")
	rootCmd.AddCommand(listCmd)
}
