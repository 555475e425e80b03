package service

import (
	"bufio"
	"io"
	"strings"

	"havosec-api/internal/models"
)

const (
	csvHeader     = "ID,Event Type,Severity,Source IP,Target,Description,Status,Created At"
	csvTimeLayout = "2006-01-02T15:04:05.000Z07:00"
)

// WriteCSV renders events with every string field double-quoted. Embedded
// quotes are doubled so descriptions cannot break the row.
func WriteCSV(w io.Writer, logs []*models.SecurityEvent) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(csvHeader + "\n"); err != nil {
		return err
	}
	for i, e := range logs {
		fields := []string{
			e.ID,
			quote(string(e.EventType)),
			quote(string(e.Severity)),
			quote(e.Source.IP),
			quote(e.Target.Endpoint),
			quote(e.Description),
			quote(string(e.Status)),
			quote(e.CreatedAt.UTC().Format(csvTimeLayout)),
		}
		line := strings.Join(fields, ",")
		if i < len(logs)-1 {
			line += "\n"
		}
		if _, err := bw.WriteString(line); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
