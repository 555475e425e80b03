package service

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"havosec-api/internal/models"
)

func TestWriteCSV(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 600_000_000, time.UTC)
	logs := []*models.SecurityEvent{
		{
			ID:          "evt-1",
			EventType:   models.EventTypeAttackBlocked,
			Severity:    models.SeverityHigh,
			Source:      models.EventSource{IP: "198.51.100.4"},
			Target:      models.EventTarget{Endpoint: "/wp-admin"},
			Description: `SQL injection: ' OR "1"="1`,
			Status:      models.StatusBlocked,
			CreatedAt:   at,
		},
		{
			ID:          "evt-2",
			EventType:   models.EventTypeSystemAlert,
			Severity:    models.SeverityLow,
			Description: "Disk, almost full",
			Status:      models.StatusDetected,
			CreatedAt:   at.Add(time.Hour),
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, logs))

	want := "ID,Event Type,Severity,Source IP,Target,Description,Status,Created At\n" +
		`evt-1,"attack_blocked","high","198.51.100.4","/wp-admin","SQL injection: ' OR ""1""=""1","blocked","2025-01-02T03:04:05.600Z"` + "\n" +
		`evt-2,"system_alert","low","","","Disk, almost full","detected","2025-01-02T04:04:05.600Z"`
	assert.Equal(t, want, buf.String())
}

func TestWriteCSV_HeaderOnly(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))
	assert.Equal(t, csvHeader+"\n", buf.String())
}
