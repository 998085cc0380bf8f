package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/videogen/internal/api/dto"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func statusColor(status string) string {
	switch status {
	case "uploaded":
		return colorGreen
	case "ready":
		return colorCyan
	case "error", "rejected":
		return colorRed
	case "queued":
		return colorDim
	default:
		return colorYellow
	}
}

func colorizeStatus(status string) string {
	return statusColor(status) + status + colorReset
}

func printJob(cmd *cobra.Command, job *dto.JobDTO) {
	cmd.Printf("%sJob %s%s\n", colorBold, job.JobID, colorReset)
	cmd.Println("──────────────────────────────")
	cmd.Printf("%sStatus:%s      %s\n", colorDim, colorReset, colorizeStatus(job.Status))
	cmd.Printf("%sMode:%s        %s\n", colorDim, colorReset, job.CorrelationMode)
	cmd.Printf("%sPrompt:%s      %s\n", colorDim, colorReset, job.Prompt)

	if job.RequestMessageID != nil {
		cmd.Printf("%sRequest:%s     message %d\n", colorDim, colorReset, *job.RequestMessageID)
	}
	if job.VideoMessageID != nil {
		cmd.Printf("%sVideo:%s       message %d\n", colorDim, colorReset, *job.VideoMessageID)
	}
	if job.LocalArtifactPath != "" {
		cmd.Printf("%sFile:%s        %s\n", colorDim, colorReset, job.LocalArtifactPath)
	}
	if job.StorageURL != "" {
		cmd.Printf("%sURL:%s         %s\n", colorDim, colorReset, job.StorageURL)
	}
	if job.ErrorMessage != "" {
		cmd.Printf("%sError:%s       %s%s%s\n", colorDim, colorReset, colorRed, job.ErrorMessage, colorReset)
	}

	cmd.Printf("%sCreated:%s     %s\n", colorDim, colorReset, formatTimestamp(job.CreatedAt))
	cmd.Printf("%sUpdated:%s     %s\n", colorDim, colorReset, formatTimestamp(job.UpdatedAt))
}

// formatTimestamp renders an RFC 3339 timestamp with its age, or as-is when unparsable
func formatTimestamp(s string) string {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return s
	}
	return fmt.Sprintf("%s %s(%s ago)%s", t.Local().Format("Mon, 02 Jan 2006 15:04:05 MST"), colorDim, relativeTime(t), colorReset)
}

func relativeTime(t time.Time) string {
	duration := time.Since(t)

	switch {
	case duration < time.Minute:
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	case duration < time.Hour:
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	case duration < 24*time.Hour:
		return fmt.Sprintf("%dh", int(duration.Hours()))
	}
	days := int(duration.Hours() / 24)
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
