package report

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/wikimannia/refreshstats/internal/model"
)

func sampleReport() model.Report {
	rep := model.Report{
		Results: []model.Result{
			{Metric: model.GoodArticles, Label: "Good articles", Field: model.FieldGood,
				Computed: 10, Cached: 7, Confirmed: 10, Status: model.StatusCorrected, Wrote: true, Affected: 1},
			{Metric: model.TotalPages, Label: "Total pages", Field: model.FieldTotal,
				Computed: 500, Cached: 500, Confirmed: 500, Status: model.StatusConsistent},
			{Metric: model.Images, Label: "Images", Field: model.FieldImages,
				Computed: 3, Cached: 1, Confirmed: 99, Status: model.StatusUnresolved, Wrote: true,
				Error: "summary holds 99 after update, want 3"},
		},
		StartedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Duration:  1500 * time.Millisecond,
	}
	rep.Summarize()
	return rep
}

func TestRenderText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sampleReport(), FormatText))
	out := buf.String()

	assert.Contains(t, out, "Site statistics (reconcile)")
	assert.Contains(t, out, "Good articles")
	assert.Contains(t, out, "Counted in database")
	assert.Contains(t, out, "After update")
	assert.Contains(t, out, "The number of good articles was corrected from 7 to 10.")
	assert.Contains(t, out, "The number of total pages (500) is correct.")
	assert.Contains(t, out, "could not be corrected: summary holds 99")
	assert.Contains(t, out, "Please run the update again.")
}

func TestRenderText_Check(t *testing.T) {
	rep := model.Report{
		DryRun: true,
		Results: []model.Result{
			{Metric: model.Users, Label: "Users", Computed: 8, Cached: 2, Confirmed: 2, Status: model.StatusDrift},
		},
	}
	rep.Summarize()

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, rep, ""))
	out := buf.String()
	assert.Contains(t, out, "(check)")
	assert.NotContains(t, out, "After update")
	assert.Contains(t, out, "is 8 but the statistics table holds 2")
	assert.Contains(t, out, "Run reconcile")
}

func TestRenderJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sampleReport(), FormatJSON))

	var got struct {
		OK      bool `json:"ok"`
		Results []struct {
			Metric string `json:"metric"`
			Status string `json:"status"`
			Error  string `json:"error"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.False(t, got.OK)
	require.Len(t, got.Results, 3)
	assert.Equal(t, "corrected", got.Results[0].Status)
	assert.Equal(t, "unresolved", got.Results[2].Status)
	assert.NotEmpty(t, got.Results[2].Error)
	assert.NotContains(t, buf.String(), `"error": ""`)
}

func TestRenderYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sampleReport(), FormatYAML))

	var got map[string]interface{}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, false, got["ok"])
	assert.Equal(t, "1.5s", got["duration"])
	results, ok := got["results"].([]interface{})
	require.True(t, ok)
	assert.Len(t, results, 3)
}

func TestRender_UnknownFormat(t *testing.T) {
	err := Render(&bytes.Buffer{}, sampleReport(), "xml")
	assert.Error(t, err)
}
