package sqlstore

import (
	"sort"
	"strconv"
	"strings"

	"github.com/agentflow/acpctl/storage"
)

// applyFilters ANDs a plain equality-filter map onto b, JSON-path-flattening
// any dotted key via columnExpr.
func applyFilters(b *Builder, filters map[string]any) {
	for _, field := range sortedKeys(filters) {
		b.Where(columnExpr(field)+" = ?", filters[field])
	}
}

// applyMessageFilters implements the inclusionary/exclusionary filter
// algebra for message queries (original spec §4.3): rows must match at
// least one Include group (each group's fields ANDed together, groups
// ORed) and must match none of the Exclude groups.
func applyMessageFilters(b *Builder, mf storage.MessageFilters) {
	if clause, args := groupClause(mf.Include); clause != "" {
		b.WhereRaw(clause, args...)
	}
	if clause, args := groupClause(mf.Exclude); clause != "" {
		b.WhereRaw("NOT ("+clause+")", args...)
	}
}

// groupClause renders `(f1 = $1 AND f2 = $2) OR (f3 = $3)` for a set of
// filter groups together with the matching argument slice, iterating each
// group's fields in a fixed (sorted) order so the $N placeholders and the
// args they bind never drift apart.
func groupClause(groups []storage.Filter) (string, []any) {
	if len(groups) == 0 {
		return "", nil
	}
	idx := 1
	var args []any
	var clauses []string
	for _, g := range groups {
		var terms []string
		for _, field := range sortedKeys(g.Fields) {
			terms = append(terms, columnExpr(field)+" = $"+strconv.Itoa(idx))
			args = append(args, g.Fields[field])
			idx++
		}
		if len(terms) == 0 {
			continue
		}
		clauses = append(clauses, "("+strings.Join(terms, " AND ")+")")
	}
	return strings.Join(clauses, " OR "), args
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
