package format

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	policyOnce sync.Once
	policy     *bluemonday.Policy
)

// tablePolicy allows the table markup produced by renderHTML and nothing
// executable.
func tablePolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		policy = bluemonday.UGCPolicy()
		policy.AllowAttrs("border").Matching(bluemonday.Integer).OnElements("table")
		policy.AllowAttrs("style").OnElements("table")
		policy.AllowStyles("width", "border-collapse").OnElements("table")
	})
	return policy
}

// renderHTML writes an HTML table with sorted headers and escaped cells.
func renderHTML(rows []map[string]interface{}) string {
	if len(rows) == 0 {
		return "<p>" + noData + "</p>"
	}
	cols := headers(rows)

	var b strings.Builder
	b.WriteString(`<table border="1" style="width:100%; border-collapse: collapse;">` + "\n")
	b.WriteString("  <thead>\n    <tr>")
	for _, col := range cols {
		b.WriteString("<th>" + html.EscapeString(col) + "</th>")
	}
	b.WriteString("</tr>\n  </thead>\n  <tbody>\n")
	for _, row := range rows {
		b.WriteString("    <tr>")
		for _, col := range cols {
			b.WriteString("<td>" + html.EscapeString(cell(row[col])) + "</td>")
		}
		b.WriteString("</tr>\n")
	}
	b.WriteString("  </tbody>\n</table>")

	return tablePolicy().Sanitize(b.String())
}
