package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"focuslens/internal/activity"
	"focuslens/internal/classify"
	"focuslens/internal/report"
)

func sampleReport() report.Report {
	t0 := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	return report.Build([]activity.Segment{
		{SessionID: "a", AppName: "code", Category: activity.CategoryCoding, StartTime: t0, EndTime: t0.Add(65 * time.Minute), Keystrokes: 300},
		{SessionID: "a", AppName: "firefox", Category: activity.CategoryBrowsing, StartTime: t0.Add(65 * time.Minute), EndTime: t0.Add(80 * time.Minute)},
	}, t0, t0.Add(24*time.Hour), 5)
}

func TestWriteReportTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, sampleReport(), "table"))
	out := buf.String()
	assert.Contains(t, out, "CATEGORY")
	assert.Contains(t, out, "coding")
	assert.Contains(t, out, "1h 5m")
	assert.Contains(t, out, "firefox")
}

func TestWriteReportEmptyTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, report.Report{}, "table"))
	assert.Contains(t, buf.String(), "No activity recorded")
}

func TestWriteReportYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, sampleReport(), "yaml"))

	var decoded struct {
		Sessions   int `yaml:"sessions"`
		Categories []struct {
			Category string  `yaml:"category"`
			Minutes  float64 `yaml:"minutes"`
		} `yaml:"categories"`
	}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, 1, decoded.Sessions)
	require.Len(t, decoded.Categories, 2)
	assert.Equal(t, "coding", decoded.Categories[0].Category)
	assert.InDelta(t, 65, decoded.Categories[0].Minutes, 0.001)
}

func TestWriteReportUnknownFormat(t *testing.T) {
	assert.Error(t, writeReport(&bytes.Buffer{}, report.Report{}, "xml"))
}

func TestFormatMatch(t *testing.T) {
	m := classify.New().Explain("Code", "main.go")
	out := formatMatch(m, true)
	assert.Contains(t, out, "category:   coding")
	assert.Contains(t, out, "rule:       ide/editor-process")
}

func TestRenderSnapshot(t *testing.T) {
	out := renderSnapshot(activity.Snapshot{
		AppName:    "code",
		Category:   activity.CategoryCoding,
		Categories: []activity.Category{activity.CategoryCoding, activity.CategoryMusic},
		ContextTag: "editor",
		Keystrokes: 12,
	}, true)
	assert.Contains(t, out, "away")
	assert.Contains(t, out, "coding, music")
	assert.Contains(t, out, "Keystrokes:  12")
}
