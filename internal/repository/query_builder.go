package repository

import (
	"fmt"
	"strings"
)

// whereBuilder accumulates AND-ed predicates with positional arguments.
type whereBuilder struct {
	clauses []string
	args    []interface{}
}

func (w *whereBuilder) raw(clause string) {
	w.clauses = append(w.clauses, clause)
}

// eq adds column = value, skipping empty values.
func (w *whereBuilder) eq(column, value string) {
	if value == "" {
		return
	}
	w.args = append(w.args, value)
	w.clauses = append(w.clauses, fmt.Sprintf("%s = $%d", column, len(w.args)))
}

func (w *whereBuilder) in(column string, values []string) {
	if len(values) == 0 {
		return
	}
	w.clauses = append(w.clauses, fmt.Sprintf("%s IN (%s)", column, w.placeholders(values)))
}

func (w *whereBuilder) notIn(column string, values []string) {
	if len(values) == 0 {
		return
	}
	w.clauses = append(w.clauses, fmt.Sprintf("%s NOT IN (%s)", column, w.placeholders(values)))
}

func (w *whereBuilder) placeholders(values []string) string {
	marks := make([]string, len(values))
	for i, v := range values {
		w.args = append(w.args, v)
		marks[i] = fmt.Sprintf("$%d", len(w.args))
	}
	return strings.Join(marks, ", ")
}

func (w *whereBuilder) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}
