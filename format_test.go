package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name string
		d    time.Duration
		want string
	}{
		{"over a second", 1234567 * time.Microsecond, "1.2s"},
		{"milliseconds", 15300 * time.Microsecond, "15ms"},
		{"seconds", 12340 * time.Millisecond, "12.3s"},
		{"minutes", 125*time.Second + 400*time.Millisecond, "2m5s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatDuration(tt.d))
		})
	}
}

func TestFormatDayAndTime(t *testing.T) {
	cairo := time.FixedZone("EET", 2*60*60)
	ts := time.Date(2024, 3, 5, 22, 30, 0, 0, time.UTC)

	assert.Equal(t, "-", formatDay(time.Time{}))
	assert.Equal(t, "2024-03-05", formatDay(ts))
	assert.Equal(t, "-", formatTime(time.Time{}, cairo))
	assert.Equal(t, "2024-03-06 00:30:00", formatTime(ts, cairo))
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer

	headers := []string{"ACCOUNT", "CURSOR", "RETRY"}
	rows := [][]string{
		{"acme", "2024-03-05 12:00:00", "3"},
		{"globex-eg", "-", "0"},
	}

	printTable(&buf, headers, rows)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "ACCOUNT    CURSOR               RETRY", lines[0])
	assert.Equal(t, "acme       2024-03-05 12:00:00  3", lines[1])
	assert.Equal(t, "globex-eg  -                    0", lines[2])
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, printJSON(&buf, map[string]int{"retry": 2}))
	assert.Equal(t, "{\n  \"retry\": 2\n}\n", buf.String())
}
