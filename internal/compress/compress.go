// Package compress summarizes query results into bounded context strings
// so intermediate results can be fed to later pipeline steps without
// blowing the prompt budget.
package compress

import (
	"fmt"
	"sort"
	"strings"
)

const (
	// DefaultMaxRows caps the number of rows rendered into the summary.
	DefaultMaxRows = 20

	// DefaultMaxTokens caps the estimated token size of the summary.
	DefaultMaxTokens = 2000

	// collapsedIDLimit caps the id list emitted by the second-tier
	// collapse.
	collapsedIDLimit = 10

	// NoResult is the sentinel summary for an empty result set.
	NoResult = "previous step returned no result"
)

// keyFields are the columns likely to serve as conditions in follow-up
// queries. Only these survive row summarization.
var keyFields = map[string]bool{
	"id":        true,
	"serial":    true,
	"client_id": true,
	"name":      true,
	"device_id": true,
	"node_id":   true,
}

// keyFieldOrder fixes the render order for key fields.
var keyFieldOrder = []string{"id", "serial", "client_id", "name", "device_id", "node_id"}

// Config bounds the produced summary.
type Config struct {
	MaxRows   int
	MaxTokens int
}

// DefaultConfig returns the standard bounds.
func DefaultConfig() Config {
	return Config{MaxRows: DefaultMaxRows, MaxTokens: DefaultMaxTokens}
}

// Rows compresses a query result into a bounded summary string.
//
// Three tiers apply in order: row-count truncation, key-field extraction
// per row, and a final collapse to a bare id list when the token estimate
// still exceeds the budget. Empty input yields the NoResult sentinel.
func Rows(results []map[string]any, cfg Config) string {
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = DefaultMaxRows
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	if len(results) == 0 {
		return NoResult
	}

	totalCount := len(results)
	truncated := false
	rows := results
	if totalCount > cfg.MaxRows {
		rows = results[:cfg.MaxRows]
		truncated = true
	}

	summaries := make([]string, 0, len(rows))
	for _, row := range rows {
		summaries = append(summaries, summarizeRow(row))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "previous step returned %d rows", totalCount)
	if truncated {
		fmt.Fprintf(&b, " (showing first %d)", cfg.MaxRows)
	}
	b.WriteString(":\n")
	b.WriteString(strings.Join(summaries, "\n"))
	context := b.String()

	// Rough token estimate at four characters per token.
	if len(context)/4 > cfg.MaxTokens {
		context = collapse(results, totalCount)
	}

	return context
}

// summarizeRow renders the key fields of one row, falling back to the
// first three columns (alphabetically) when none are present.
func summarizeRow(row map[string]any) string {
	parts := make([]string, 0, len(keyFieldOrder))
	for _, field := range keyFieldOrder {
		if v, ok := row[field]; ok && v != nil {
			parts = append(parts, fmt.Sprintf("%s=%v", field, v))
		}
	}
	if len(parts) > 0 {
		return "{" + strings.Join(parts, ", ") + "}"
	}

	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 3 {
		keys = keys[:3]
	}
	parts = parts[:0]
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, row[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// collapse reduces the summary to a row count plus a short id list when
// even the per-row summaries exceed the token budget.
func collapse(results []map[string]any, totalCount int) string {
	ids := make([]string, 0, collapsedIDLimit)
	for _, row := range results {
		if len(ids) == collapsedIDLimit {
			break
		}
		if v, ok := row["id"]; ok && v != nil {
			ids = append(ids, fmt.Sprintf("%v", v))
			continue
		}
		if v, ok := row["serial"]; ok && v != nil {
			ids = append(ids, fmt.Sprintf("%v", v))
		}
	}
	return fmt.Sprintf("previous step returned %d rows, key ids: [%s]", totalCount, strings.Join(ids, ", "))
}

// KeyFields extracts only the key columns from the first maxRows rows,
// for storage in conversation history. Rows without any key column are
// skipped.
func KeyFields(results []map[string]any, maxRows int) []map[string]any {
	if maxRows <= 0 {
		maxRows = 5
	}
	if len(results) > maxRows {
		results = results[:maxRows]
	}

	extracted := make([]map[string]any, 0, len(results))
	for _, row := range results {
		keyValues := make(map[string]any)
		for k, v := range row {
			if keyFields[k] {
				keyValues[k] = v
			}
		}
		if len(keyValues) > 0 {
			extracted = append(extracted, keyValues)
		}
	}
	return extracted
}
