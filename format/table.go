package format

import (
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
)

const noData = "No data found"

// renderTable writes a markdown table with sorted headers.
func renderTable(rows []map[string]interface{}) string {
	if len(rows) == 0 {
		return noData
	}
	cols := headers(rows)

	var b strings.Builder
	table := tablewriter.NewWriter(&b)
	table.SetHeader(cols)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
	table.SetCenterSeparator("|")

	data := make([][]string, 0, len(rows))
	for _, row := range rows {
		line := make([]string, len(cols))
		for i, col := range cols {
			line[i] = cell(row[col])
		}
		data = append(data, line)
	}
	table.AppendBulk(data)
	table.Render()
	return b.String()
}

// renderText writes one "Item n:" block per record, skipping null values.
func renderText(rows []map[string]interface{}) string {
	if len(rows) == 0 {
		return noData
	}
	var lines []string
	for i, row := range rows {
		lines = append(lines, "Item "+strconv.Itoa(i+1)+":")
		for _, key := range headers([]map[string]interface{}{row}) {
			if row[key] == nil {
				continue
			}
			lines = append(lines, "  "+key+": "+cell(row[key]))
		}
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}
