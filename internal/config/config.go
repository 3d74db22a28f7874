// Package config provides configuration loading for queryd.
//
// Configuration is loaded from a YAML file, then overridden by environment
// variables with the QUERYD_ prefix. Hardcoded defaults apply last.
package config

import (
	"fmt"
	"time"
)

// Config holds the complete queryd configuration.
type Config struct {
	Logging       LoggingConfig       `koanf:"logging"`
	Server        ServerConfig        `koanf:"server"`
	LLM           LLMConfig           `koanf:"llm"`
	Embedding     EmbeddingConfig     `koanf:"embedding"`
	MySQL         MySQLConfig         `koanf:"mysql"`
	InfluxDB      InfluxDBConfig      `koanf:"influxdb"`
	Elasticsearch ElasticsearchConfig `koanf:"elasticsearch"`
	Qdrant        QdrantConfig        `koanf:"qdrant"`
	Session       SessionConfig       `koanf:"session"`
	Engine        EngineConfig        `koanf:"engine"`
}

// LoggingConfig holds logger construction settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json or console
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LLMConfig holds settings for the planner/generator model collaborator.
type LLMConfig struct {
	BaseURL        string   `koanf:"base_url"`
	Model          string   `koanf:"model"`
	APIKey         Secret   `koanf:"api_key"`
	RequestTimeout Duration `koanf:"request_timeout"`
}

// EmbeddingConfig holds settings for the embedding provider.
// Works with OpenAI-compatible APIs, including local TEI servers.
type EmbeddingConfig struct {
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
	APIKey  Secret `koanf:"api_key"`
}

// MySQLConfig holds the relational execution backend settings.
type MySQLConfig struct {
	Host         string   `koanf:"host"`
	Port         int      `koanf:"port"`
	User         string   `koanf:"user"`
	Password     Secret   `koanf:"password"`
	Database     string   `koanf:"database"`
	QueryTimeout Duration `koanf:"query_timeout"`
}

// InfluxDBConfig holds the time-series execution backend settings (InfluxDB 1.x).
type InfluxDBConfig struct {
	Addr         string   `koanf:"addr"`
	Username     string   `koanf:"username"`
	Password     Secret   `koanf:"password"`
	Database     string   `koanf:"database"`
	QueryTimeout Duration `koanf:"query_timeout"`
}

// ElasticsearchConfig holds the keyword search provider settings.
type ElasticsearchConfig struct {
	Addresses   []string `koanf:"addresses"`
	Username    string   `koanf:"username"`
	Password    Secret   `koanf:"password"`
	MySQLIndex  string   `koanf:"mysql_index"`
	InfluxIndex string   `koanf:"influx_index"`
}

// QdrantConfig holds the vector store settings (semantic search + long-term memory).
type QdrantConfig struct {
	Host             string   `koanf:"host"`
	Port             int      `koanf:"port"` // gRPC port, typically 6334
	UseTLS           bool     `koanf:"use_tls"`
	MySQLCollection  string   `koanf:"mysql_collection"`
	InfluxCollection string   `koanf:"influx_collection"`
	MemoryCollection string   `koanf:"memory_collection"`
	VectorSize       uint64   `koanf:"vector_size"`
	MaxRetries       int      `koanf:"max_retries"`
	RetryBackoff     Duration `koanf:"retry_backoff"`
}

// SessionConfig holds conversation window and checkpoint store settings.
type SessionConfig struct {
	StorePath     string `koanf:"store_path"` // SQLite file for session checkpoints
	TrimThreshold int    `koanf:"trim_threshold"`
	KeepAfterTrim int    `koanf:"keep_after_trim"`
}

// EngineConfig holds orchestration engine tunables.
type EngineConfig struct {
	MaxRetries        int      `koanf:"max_retries"`
	LowConfidence     float64  `koanf:"low_confidence"`  // below this, ask for clarification
	WarnConfidence    float64  `koanf:"warn_confidence"` // below this, execute with a warning
	RetrievalTopK     int      `koanf:"retrieval_top_k"`
	SearchLimit       int      `koanf:"search_limit"` // per-source candidate limit
	FusionK           int      `koanf:"fusion_k"`
	CompressMaxRows   int      `koanf:"compress_max_rows"`
	CompressMaxTokens int      `koanf:"compress_max_tokens"`
	MemoryLimit       int      `koanf:"memory_limit"` // archived records recalled per turn
	MemoryThreshold   float64  `koanf:"memory_threshold"`
	StepTimeout       Duration `koanf:"step_timeout"` // bound on each external call
}

// applyDefaults fills in zero values with production defaults.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.RequestTimeout == 0 {
		cfg.LLM.RequestTimeout = Duration(60 * time.Second)
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "http://localhost:8080/v1"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.MySQL.Host == "" {
		cfg.MySQL.Host = "localhost"
	}
	if cfg.MySQL.Port == 0 {
		cfg.MySQL.Port = 3306
	}
	if cfg.MySQL.QueryTimeout == 0 {
		cfg.MySQL.QueryTimeout = Duration(30 * time.Second)
	}
	if cfg.InfluxDB.Addr == "" {
		cfg.InfluxDB.Addr = "http://localhost:8086"
	}
	if cfg.InfluxDB.QueryTimeout == 0 {
		cfg.InfluxDB.QueryTimeout = Duration(30 * time.Second)
	}
	if len(cfg.Elasticsearch.Addresses) == 0 {
		cfg.Elasticsearch.Addresses = []string{"http://localhost:9200"}
	}
	if cfg.Elasticsearch.MySQLIndex == "" {
		cfg.Elasticsearch.MySQLIndex = "mysql_table_schema"
	}
	if cfg.Elasticsearch.InfluxIndex == "" {
		cfg.Elasticsearch.InfluxIndex = "influxdb_measurement_schema"
	}
	if cfg.Qdrant.Host == "" {
		cfg.Qdrant.Host = "localhost"
	}
	if cfg.Qdrant.Port == 0 {
		cfg.Qdrant.Port = 6334
	}
	if cfg.Qdrant.MySQLCollection == "" {
		cfg.Qdrant.MySQLCollection = "mysql_table_schema"
	}
	if cfg.Qdrant.InfluxCollection == "" {
		cfg.Qdrant.InfluxCollection = "influxdb_measurement_schema"
	}
	if cfg.Qdrant.MemoryCollection == "" {
		cfg.Qdrant.MemoryCollection = "conversation_memory"
	}
	if cfg.Qdrant.VectorSize == 0 {
		cfg.Qdrant.VectorSize = 1536
	}
	if cfg.Qdrant.MaxRetries == 0 {
		cfg.Qdrant.MaxRetries = 3
	}
	if cfg.Qdrant.RetryBackoff == 0 {
		cfg.Qdrant.RetryBackoff = Duration(time.Second)
	}
	if cfg.Session.StorePath == "" {
		cfg.Session.StorePath = "queryd.db"
	}
	if cfg.Session.TrimThreshold == 0 {
		cfg.Session.TrimThreshold = 20
	}
	if cfg.Session.KeepAfterTrim == 0 {
		cfg.Session.KeepAfterTrim = 10
	}
	if cfg.Engine.MaxRetries == 0 {
		cfg.Engine.MaxRetries = 2
	}
	if cfg.Engine.LowConfidence == 0 {
		cfg.Engine.LowConfidence = 0.5
	}
	if cfg.Engine.WarnConfidence == 0 {
		cfg.Engine.WarnConfidence = 0.8
	}
	if cfg.Engine.RetrievalTopK == 0 {
		cfg.Engine.RetrievalTopK = 5
	}
	if cfg.Engine.SearchLimit == 0 {
		cfg.Engine.SearchLimit = 20
	}
	if cfg.Engine.FusionK == 0 {
		cfg.Engine.FusionK = 60
	}
	if cfg.Engine.CompressMaxRows == 0 {
		cfg.Engine.CompressMaxRows = 20
	}
	if cfg.Engine.CompressMaxTokens == 0 {
		cfg.Engine.CompressMaxTokens = 2000
	}
	if cfg.Engine.MemoryLimit == 0 {
		cfg.Engine.MemoryLimit = 3
	}
	if cfg.Engine.MemoryThreshold == 0 {
		cfg.Engine.MemoryThreshold = 0.5
	}
	if cfg.Engine.StepTimeout == 0 {
		cfg.Engine.StepTimeout = Duration(90 * time.Second)
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Qdrant.Port <= 0 || c.Qdrant.Port > 65535 {
		return fmt.Errorf("qdrant.port out of range: %d", c.Qdrant.Port)
	}
	if c.Engine.MaxRetries < 0 {
		return fmt.Errorf("engine.max_retries cannot be negative: %d", c.Engine.MaxRetries)
	}
	if c.Engine.LowConfidence < 0 || c.Engine.LowConfidence > 1 {
		return fmt.Errorf("engine.low_confidence must be in [0,1]: %f", c.Engine.LowConfidence)
	}
	if c.Engine.WarnConfidence < c.Engine.LowConfidence || c.Engine.WarnConfidence > 1 {
		return fmt.Errorf("engine.warn_confidence must be in [low_confidence,1]: %f", c.Engine.WarnConfidence)
	}
	if c.Session.KeepAfterTrim > c.Session.TrimThreshold {
		return fmt.Errorf("session.keep_after_trim (%d) cannot exceed session.trim_threshold (%d)",
			c.Session.KeepAfterTrim, c.Session.TrimThreshold)
	}
	return nil
}
