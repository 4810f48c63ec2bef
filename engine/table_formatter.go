package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
)

// TableFormatter renders Relations as markdown tables.
type TableFormatter struct {
	// MaxWidth is the maximum width for a column value
	MaxWidth int
	// TruncateString is the string to append when truncating
	TruncateString string
}

// NewTableFormatter creates a table formatter with default settings.
func NewTableFormatter() *TableFormatter {
	return &TableFormatter{
		MaxWidth:       50,
		TruncateString: "...",
	}
}

// FormatRelation formats a Relation as a markdown table.
func (tf *TableFormatter) FormatRelation(rel *Relation) string {
	if rel == nil || rel.IsEmpty() {
		if rel != nil && len(rel.Columns()) > 0 {
			return fmt.Sprintf("_Columns: %v_\n\n_No rows_", rel.Columns())
		}
		return "_Empty relation_"
	}

	tableString := &strings.Builder{}

	columns := rel.Columns()
	alignment := make([]tw.Align, len(columns))
	for i := range alignment {
		alignment[i] = tw.AlignNone
	}

	table := tablewriter.NewTable(tableString,
		tablewriter.WithRenderer(renderer.NewMarkdown()),
		tablewriter.WithAlignment(alignment),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)
	table.Header(columns)

	for _, tuple := range rel.Tuples() {
		row := make([]string, len(tuple))
		for j, val := range tuple {
			row[j] = tf.truncate(formatValue(val))
		}
		table.Append(row)
	}

	table.Render()
	tableString.WriteString(fmt.Sprintf("\n_%d rows_\n", rel.Size()))
	return tableString.String()
}

func (tf *TableFormatter) truncate(s string) string {
	if tf.MaxWidth <= 0 || len(s) <= tf.MaxWidth {
		return s
	}
	return s[:tf.MaxWidth-len(tf.TruncateString)] + tf.TruncateString
}

// formatValue converts a value to its display representation.
func formatValue(val interface{}) string {
	if val == nil {
		return "nil"
	}

	switch v := val.(type) {
	case string:
		return v
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case float64:
		return fmt.Sprintf("%.2f", v)
	case bool:
		return fmt.Sprintf("%t", v)
	case time.Time:
		return v.Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprintf("%v", v)
	}
}

// PrintRelation prints a relation to stdout.
func PrintRelation(rel *Relation) {
	formatter := NewTableFormatter()
	fmt.Println(formatter.FormatRelation(rel))
}
