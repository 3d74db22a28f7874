package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

// MySQLConfig holds connection settings for the relational store.
type MySQLConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	QueryTimeout time.Duration
}

// Validate checks the configuration.
func (c MySQLConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port must be in range 1-65535, got %d", ErrInvalidConfig, c.Port)
	}
	if c.User == "" {
		return fmt.Errorf("%w: user is required", ErrInvalidConfig)
	}
	if c.Database == "" {
		return fmt.Errorf("%w: database is required", ErrInvalidConfig)
	}
	return nil
}

// MySQLExecutor executes read statements against MySQL.
type MySQLExecutor struct {
	db      *sql.DB
	timeout time.Duration
	logger  *zap.Logger
}

var _ Executor = (*MySQLExecutor)(nil)

// NewMySQLExecutor opens a connection pool. The connection is verified
// lazily on first use.
func NewMySQLExecutor(cfg MySQLConfig, logger *zap.Logger) (*MySQLExecutor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dsnCfg := mysql.NewConfig()
	dsnCfg.Net = "tcp"
	dsnCfg.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	dsnCfg.User = cfg.User
	dsnCfg.Passwd = cfg.Password
	dsnCfg.DBName = cfg.Database
	dsnCfg.ParseTime = true

	db, err := sql.Open("mysql", dsnCfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("opening mysql connection: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &MySQLExecutor{db: db, timeout: timeout, logger: logger.Named("mysql")}, nil
}

// Execute runs a read statement and returns its rows as maps keyed by
// column name. Byte columns are returned as strings, time columns in
// RFC 3339.
func (e *MySQLExecutor) Execute(ctx context.Context, query string) ([]map[string]any, error) {
	if err := checkReadOnly(query); err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: reading columns: %v", ErrQueryFailed, err)
	}

	var results []map[string]any
	values := make([]any, len(columns))
	scanArgs := make([]any, len(columns))
	for i := range values {
		scanArgs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, fmt.Errorf("%w: scanning row: %v", ErrQueryFailed, err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	e.logger.Debug("executed query",
		zap.Int("rows", len(results)),
		zap.Duration("elapsed", time.Since(start)))
	return results, nil
}

// Close releases the connection pool.
func (e *MySQLExecutor) Close() error {
	return e.db.Close()
}

// normalizeValue converts driver types into JSON-friendly values.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return v
	}
}
