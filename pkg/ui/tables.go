package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"feedcrawler/pkg/models"
)

const previewWidth = 60

// NewTable returns a rounded table writer mirrored to w
func NewTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	return t
}

// RenderRecords prints up to limit records as a preview table
func RenderRecords(w io.Writer, records []models.Record, limit int) {
	t := NewTable(w)
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, WidthMax: previewWidth},
	})
	t.AppendHeader(table.Row{"#", "Author", "Posted", "Content", "Likes", "Views"})

	for i, r := range records {
		if limit > 0 && i == limit {
			break
		}
		t.AppendRow(table.Row{i + 1, r.Handle, r.PostedAt, Preview(r.Content, previewWidth), r.Metrics.Likes, r.Metrics.Views})
	}

	footer := fmt.Sprintf("%d records", len(records))
	if limit > 0 && len(records) > limit {
		footer = fmt.Sprintf("showing %d of %d", limit, len(records))
	}
	t.AppendFooter(table.Row{"", "", "", footer})
	t.Render()
}

// KeyValue is one row of a two-column table
type KeyValue struct {
	Key   string
	Value interface{}
}

// RenderKeyValues prints rows under title
func RenderKeyValues(w io.Writer, title string, rows []KeyValue) {
	t := NewTable(w)
	if title != "" {
		t.SetTitle(title)
	}
	for _, kv := range rows {
		t.AppendRow(table.Row{kv.Key, kv.Value})
	}
	t.Render()
}

// Preview flattens whitespace and truncates s to n runes
func Preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
