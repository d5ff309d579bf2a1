package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a ReplayResult as a human-readable text timeline.
func FormatTimeline(result *ReplayResult) string {
	label := result.Filter.SessionID
	if label == "" {
		label = result.Filter.CallerID
	}
	if label == "" {
		label = "all"
	}
	if len(result.Records) == 0 {
		return fmt.Sprintf("Session: %s | No records found.\n", label)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s | %s–%s UTC\n", label,
		formatDateTime(result.Summary.FirstTimestamp), formatTimeOnly(result.Summary.LastTimestamp))
	b.WriteString(separator + "\n")

	for _, r := range result.Records {
		b.WriteString(FormatLine(r))
	}

	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(result.Summary))
	return b.String()
}

// FormatLine renders one record as a single timeline row.
func FormatLine(r Record) string {
	tag := ""
	if r.Safeguard {
		tag = "  [safeguard]"
	}
	return fmt.Sprintf("%-10s %-6s %-24s %-12s %s%s\n",
		formatTimeOnly(r.Timestamp),
		strings.ToUpper(r.Outcome),
		truncate(r.Reason, 24),
		truncate(r.CallerID, 12),
		r.AuditID,
		tag)
}

// FormatJSON renders a ReplayResult as indented JSON.
func FormatJSON(result *ReplayResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal replay result: %w", err)
	}
	return string(data), nil
}

func formatDateTime(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatTimeOnly(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("15:04:05")
}

func formatSummary(s ReplaySummary) string {
	parts := []string{}
	if s.AllowCount > 0 {
		parts = append(parts, fmt.Sprintf("%d allow", s.AllowCount))
	}
	if s.WarnCount > 0 {
		parts = append(parts, fmt.Sprintf("%d warn", s.WarnCount))
	}
	if s.BlockCount > 0 {
		parts = append(parts, fmt.Sprintf("%d block", s.BlockCount))
	}
	return fmt.Sprintf("Summary: %s | Safeguarded: %d\n", strings.Join(parts, ", "), s.SafeguardCount)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
