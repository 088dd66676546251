// Tabular summary of replay results
package replay

import (
	"fmt"
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// WriteTable renders results as a table on w.
func WriteTable(w io.Writer, results []Result) error {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Invocation", "Method", "Operation", "Status", "Errored", "Duration", "Trace ID"})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Status", Align: text.AlignRight},
		{Name: "Duration", Align: text.AlignRight},
	})

	for _, r := range results {
		if !r.Traced {
			note := "not traced"
			if r.Err != nil {
				note = r.Err.Error()
			}
			tw.AppendRow(table.Row{r.Name, "", note, "", "", "", ""})
			continue
		}
		tw.AppendRow(table.Row{
			r.Name,
			r.Method,
			r.Operation,
			statusText(r.Status),
			strconv.FormatBool(r.Errored),
			r.Duration.String(),
			r.TraceID,
		})
	}
	stats := Summarize(results)
	tw.AppendFooter(table.Row{
		fmt.Sprintf("%d invocations", stats.Invocations),
		"", fmt.Sprintf("%d traced", stats.Traced), "", fmt.Sprintf("%d errored", stats.Errored), "", "",
	})

	_, err := fmt.Fprintln(w, tw.Render())
	return err
}

func statusText(code int) string {
	if code == 0 {
		return "-"
	}
	return strconv.Itoa(code)
}
