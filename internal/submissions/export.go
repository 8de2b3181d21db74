package submissions

import (
	"encoding/csv"
	"io"
	"strings"
	"time"
)

var exportHeader = []string{
	"submissionId", "tenantSlug", "callerName", "status", "failedStage",
	"sentiment", "summary", "transcript", "errorCode", "createdAt", "completedAt",
}

// writeSubmissionsCSV renders the admin export. Semicolon-delimited so the
// files open directly in spreadsheet tools, with newlines flattened out of
// free-text fields.
func writeSubmissionsCSV(w io.Writer, subs []Submission) error {
	cw := csv.NewWriter(w)
	cw.Comma = ';'

	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for _, sub := range subs {
		row := []string{
			sub.ID,
			sub.TenantSlug,
			flattenCSV(sub.CallerName),
			sub.Status,
			sub.FailedStage,
			sub.Sentiment,
			flattenCSV(sub.Summary),
			flattenCSV(sub.Transcript),
			sub.ErrorCode,
			sub.CreatedAt.UTC().Format(time.RFC3339),
			formatExportTime(sub.CompletedAt),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func flattenCSV(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.TrimSpace(s)
}

func formatExportTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
