package sqlstore

import "strings"

// jsonColumns lists the JSONB columns a dotted filter field may reach into,
// per table. Only fields rooted at one of these are rewritten as a JSON
// path expression; anything else is treated as a plain column.
var jsonColumns = map[string]bool{
	"content":  true,
	"params":   true,
	"task_metadata": true,
	"data":     true,
	"arguments": true,
}

// columnExpr flattens a dotted filter key such as "content.tool_name" into
// the Postgres JSON path expression "content->>'tool_name'" (original spec
// §4.3, "filter algebra for message queries" operating over the tagged
// Content column). A bare column name (no dot, or not rooted at a JSONB
// column) passes through unchanged.
func columnExpr(field string) string {
	parts := strings.Split(field, ".")
	if len(parts) < 2 || !jsonColumns[parts[0]] {
		return field
	}
	expr := parts[0]
	for i, p := range parts[1:] {
		op := "->"
		if i == len(parts)-2 {
			op = "->>"
		}
		expr += op + "'" + p + "'"
	}
	return expr
}
