package backup

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

const (
	SubjectStorageWarning = "Backup Storage Warning"
	SubjectSuccess        = "Backup Completed Successfully"
	SubjectFailed         = "Backup Failed"
)

func successBody(job *Job, target string, report *runReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Backup completed at %s.\n", job.Timestamp)
	fmt.Fprintf(&b, "Run: %s (%s)\n", job.RunID, job.Mode)
	fmt.Fprintf(&b, "Target: %s\n", target)
	fmt.Fprintf(&b, "Stored %d file(s), %s\n", len(report.storedKeys), humanize.IBytes(uint64(report.storedBytes)))
	for _, key := range report.storedKeys {
		fmt.Fprintf(&b, "  %s\n", key)
	}
	if usage, ok := report.currentUsage(); ok {
		fmt.Fprintf(&b, "Storage usage: %s", humanize.IBytes(uint64(usage)))
		if report.usage.LimitBytes > 0 {
			fmt.Fprintf(&b, " of %s", humanize.IBytes(uint64(report.usage.LimitBytes)))
		}
		b.WriteString("\n")
	} else {
		b.WriteString("Storage usage: unknown\n")
	}
	return b.String()
}
