package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/fatih/color"
	"github.com/sogobanwo/GiG-Economy/pkg/ledgerServer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func sampleTasks() []*ledgerServer.TaskView {
	return []*ledgerServer.TaskView{
		{Id: 1, Creator: "0xA1", Bounty: "1000", Token: "0xE1", Description: "Design a logo", Status: "completed", Winner: "0xB0"},
		{Id: 2, Creator: "0xA1", Bounty: "5", Token: "0xE1", Description: "Write docs", Status: "open"},
	}
}

func TestFormatter(t *testing.T) {
	color.NoColor = true

	t.Run("Should reject unknown formats", func(t *testing.T) {
		_, err := NewFormatter("xml", &bytes.Buffer{})
		assert.ErrorContains(t, err, "unsupported output format")
	})

	t.Run("Should render tasks as a table", func(t *testing.T) {
		var buf bytes.Buffer
		f, err := NewFormatter("", &buf)
		require.NoError(t, err)
		require.NoError(t, f.PrintTasks(sampleTasks()))

		out := buf.String()
		assert.Contains(t, out, "DESCRIPTION")
		assert.Contains(t, out, "Design a logo")
		assert.Contains(t, out, "completed")
		assert.Contains(t, out, "-")
	})

	t.Run("Should say when there is nothing to show", func(t *testing.T) {
		var buf bytes.Buffer
		f, _ := NewFormatter(FormatTable, &buf)
		require.NoError(t, f.PrintSubmissions(nil))
		assert.Equal(t, "No results\n", buf.String())
	})

	t.Run("Should emit JSON", func(t *testing.T) {
		var buf bytes.Buffer
		f, _ := NewFormatter(FormatJSON, &buf)
		require.NoError(t, f.PrintTasks(sampleTasks()))

		var decoded []*ledgerServer.TaskView
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, sampleTasks(), decoded)
	})

	t.Run("Should emit YAML", func(t *testing.T) {
		var buf bytes.Buffer
		f, _ := NewFormatter(FormatYAML, &buf)
		require.NoError(t, f.PrintValue("taskId", 7))

		var decoded map[string]uint64
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, uint64(7), decoded["taskId"])
	})

	t.Run("Should rank the leaderboard from one", func(t *testing.T) {
		var buf bytes.Buffer
		f, _ := NewFormatter(FormatTable, &buf)
		require.NoError(t, f.PrintLeaderboard([]*ledgerServer.UserStatsView{
			{Address: "0xB0", CompletedCount: 1, TotalEarned: "1000"},
		}))
		assert.Contains(t, buf.String(), "RANK")
		assert.Contains(t, buf.String(), "1000")
	})

	t.Run("Should stay quiet on success in structured formats", func(t *testing.T) {
		var buf bytes.Buffer
		f, _ := NewFormatter(FormatJSON, &buf)
		f.Success("done")
		assert.Empty(t, buf.String())
	})
}
