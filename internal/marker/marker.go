// Package marker embeds a job id into outbound prompt text and recovers it from replies.
//
// The wire format is the literal "[JOB_ID: <id>]" where <id> is non-empty and
// contains no "[" or "]". It is visible to the agent and must stay stable.
package marker

import (
	"regexp"
	"strings"
)

const (
	prefix    = "[JOB_ID: "
	suffix    = "]"
	separator = "\n\n"
)

var pattern = regexp.MustCompile(`\[JOB_ID: ([^\[\]]+)\]`)

// Format returns the bare marker for jobID
func Format(jobID string) string {
	return prefix + jobID + suffix
}

// Embed appends the marker for jobID to prompt. The prompt itself is left untouched.
func Embed(prompt, jobID string) string {
	if prompt == "" {
		return Format(jobID)
	}
	return prompt + separator + Format(jobID)
}

// Extract returns the id of the first well-formed marker in text
func Extract(text string) (string, bool) {
	if !strings.Contains(text, prefix) {
		return "", false
	}
	m := pattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ExtractFrom scans each text in order (message text, then caption) and
// returns the first marker found
func ExtractFrom(texts ...string) (string, bool) {
	for _, text := range texts {
		if id, ok := Extract(text); ok {
			return id, true
		}
	}
	return "", false
}

// Valid reports whether jobID can be carried by a marker
func Valid(jobID string) bool {
	return jobID != "" && !strings.ContainsAny(jobID, "[]")
}
