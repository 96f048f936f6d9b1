// Package format renders the last step's response for humans.
package format

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Supported output formats
const (
	Table = "table"
	Text  = "text"
	HTML  = "html"
)

// ErrUnknownFormat is returned by Render for names it does not support.
var ErrUnknownFormat = errors.New("unknown output format")

// Supported reports whether name is a renderable format.
func Supported(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case Table, Text, HTML:
		return true
	}
	return false
}

// Render formats data as a table, plain text or an HTML table.
func Render(name string, data interface{}) (string, error) {
	rows := Rows(data)
	switch strings.ToLower(strings.TrimSpace(name)) {
	case Table:
		return renderTable(rows), nil
	case Text:
		return renderText(rows), nil
	case HTML:
		return renderHTML(rows), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
}

// Rows normalizes a response into records. A "content" pagination envelope
// is unwrapped and a single object becomes one record; list items that are
// not objects are kept under a "value" column.
func Rows(data interface{}) []map[string]interface{} {
	if obj, ok := data.(map[string]interface{}); ok {
		if content, has := obj["content"]; has {
			data = content
		}
	}

	switch t := data.(type) {
	case map[string]interface{}:
		return []map[string]interface{}{t}
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]interface{}); ok {
				out = append(out, m)
			} else {
				out = append(out, map[string]interface{}{"value": item})
			}
		}
		return out
	case []map[string]interface{}:
		return t
	default:
		return nil
	}
}

// headers returns the union of all record keys, sorted.
func headers(rows []map[string]interface{}) []string {
	seen := make(map[string]bool)
	var out []string
	for _, row := range rows {
		for k := range row {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	sort.Strings(out)
	return out
}

func cell(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(data)
	}
}
