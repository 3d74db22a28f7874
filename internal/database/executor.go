// Package database provides query executors for the two backends the
// pipeline targets: MySQL for device and customer master data, InfluxDB
// 1.x for telemetry.
package database

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrInvalidConfig indicates invalid executor configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrStatementNotAllowed is returned for non-read statements.
	// Generated queries are never trusted with writes.
	ErrStatementNotAllowed = errors.New("statement not allowed")

	// ErrQueryFailed wraps backend execution failures.
	ErrQueryFailed = errors.New("query execution failed")
)

// Executor runs one query and returns its rows. Implementations apply
// their configured query timeout when the context carries no deadline.
type Executor interface {
	Execute(ctx context.Context, query string) ([]map[string]any, error)
	Close() error
}

// readPrefixes are the statement verbs executors accept.
var readPrefixes = []string{"SELECT", "SHOW", "DESCRIBE", "DESC", "EXPLAIN"}

// checkReadOnly rejects statements that could mutate data.
func checkReadOnly(query string) error {
	trimmed := strings.ToUpper(strings.TrimSpace(query))
	for _, prefix := range readPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return nil
		}
	}
	return ErrStatementNotAllowed
}
