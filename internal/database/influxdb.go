package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	client "github.com/influxdata/influxdb1-client/v2"
	"go.uber.org/zap"
)

// InfluxDBConfig holds connection settings for the time-series store.
type InfluxDBConfig struct {
	Addr         string
	Username     string
	Password     string
	Database     string
	QueryTimeout time.Duration
}

// Validate checks the configuration.
func (c InfluxDBConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr is required", ErrInvalidConfig)
	}
	if c.Database == "" {
		return fmt.Errorf("%w: database is required", ErrInvalidConfig)
	}
	return nil
}

// InfluxDBExecutor executes InfluxQL statements against InfluxDB 1.x.
type InfluxDBExecutor struct {
	client   client.Client
	database string
	logger   *zap.Logger
}

var _ Executor = (*InfluxDBExecutor)(nil)

// NewInfluxDBExecutor creates an HTTP client for the configured server.
func NewInfluxDBExecutor(cfg InfluxDBConfig, logger *zap.Logger) (*InfluxDBExecutor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c, err := client.NewHTTPClient(client.HTTPConfig{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("creating influxdb client: %w", err)
	}

	return &InfluxDBExecutor{
		client:   c,
		database: cfg.Database,
		logger:   logger.Named("influxdb"),
	}, nil
}

// Execute runs an InfluxQL statement and flattens all series into rows.
// GROUP BY tag values are merged into each row.
func (e *InfluxDBExecutor) Execute(ctx context.Context, query string) ([]map[string]any, error) {
	if err := checkReadOnly(query); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	q := client.NewQuery(query, e.database, "")
	resp, err := e.client.Query(q)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	if err := resp.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	results := flattenResponse(resp)

	e.logger.Debug("executed query",
		zap.Int("rows", len(results)),
		zap.Duration("elapsed", time.Since(start)))
	return results, nil
}

// Close releases the HTTP client.
func (e *InfluxDBExecutor) Close() error {
	return e.client.Close()
}

func flattenResponse(resp *client.Response) []map[string]any {
	var results []map[string]any
	for _, result := range resp.Results {
		for _, series := range result.Series {
			for _, values := range series.Values {
				row := make(map[string]any, len(series.Columns)+len(series.Tags))
				for i, col := range series.Columns {
					if i < len(values) {
						row[col] = normalizeInfluxValue(values[i])
					}
				}
				for tag, value := range series.Tags {
					row[tag] = value
				}
				results = append(results, row)
			}
		}
	}
	return results
}

// normalizeInfluxValue unwraps json.Number into int64 where exact,
// float64 otherwise.
func normalizeInfluxValue(v any) any {
	num, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := num.Int64(); err == nil {
		return i
	}
	if f, err := num.Float64(); err == nil {
		return f
	}
	return num.String()
}
