package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the materialized application configuration: a YAML file merged
// with MYGRAM_-prefixed environment overrides.
type Config struct {
	MySQL       MySQLConfig       `yaml:"mysql"`
	Tables      []TableConfig     `yaml:"tables"`
	Build       BuildConfig       `yaml:"build"`
	Replication ReplicationConfig `yaml:"replication"`
	Memory      MemoryConfig      `yaml:"memory"`
	Dump        DumpConfig        `yaml:"dump"`
	API         APIConfig         `yaml:"api"`
	Network     NetworkConfig     `yaml:"network"`
	Cache       CacheConfig       `yaml:"cache"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// MySQLConfig points at the source-of-truth database.
type MySQLConfig struct {
	Host     string `yaml:"host" env:"MYSQL_HOST"`
	Port     int    `yaml:"port" env:"MYSQL_PORT"`
	User     string `yaml:"user" env:"MYSQL_USER"`
	Password string `yaml:"password" env:"MYSQL_PASSWORD"`
	Database string `yaml:"database" env:"MYSQL_DATABASE"`
}

// DSN renders a go-sql-driver connection string.
func (m MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=false", m.User, m.Password, m.Host, m.Port, m.Database)
}

// TextSource selects the indexed text: a single column or a concatenation.
type TextSource struct {
	Column    string   `yaml:"column"`
	Concat    []string `yaml:"concat"`
	Delimiter string   `yaml:"delimiter"`
}

// RequiredFilter is a predicate a row must satisfy to be mirrored at all.
type RequiredFilter struct {
	Column string `yaml:"column"`
	Value  string `yaml:"value"`
}

// TableConfig describes one mirrored table.
type TableConfig struct {
	Name            string           `yaml:"name"`
	PrimaryKey      string           `yaml:"primary_key"`
	NgramSize       int              `yaml:"ngram_size"`
	KanjiNgramSize  int              `yaml:"kanji_ngram_size"`
	TextSource      TextSource       `yaml:"text_source"`
	Filters         []string         `yaml:"filters"`
	RequiredFilters []RequiredFilter `yaml:"required_filters"`
}

// BuildConfig governs the initial bulk load.
type BuildConfig struct {
	Mode        string `yaml:"mode"`
	BatchSize   int    `yaml:"batch_size"`
	Parallelism int    `yaml:"parallelism"`
	ThrottleMS  int    `yaml:"throttle_ms"`
}

// ReplicationConfig governs the binlog follower.
type ReplicationConfig struct {
	Enable              bool   `yaml:"enable"`
	AutoInitialSnapshot bool   `yaml:"auto_initial_snapshot"`
	ServerID            uint32 `yaml:"server_id"`
	StartFrom           string `yaml:"start_from"`
	QueueSize           int    `yaml:"queue_size"`
	ReconnectBackoffMin int    `yaml:"reconnect_backoff_min_ms"`
	ReconnectBackoffMax int    `yaml:"reconnect_backoff_max_ms"`
}

// NormalizeConfig toggles the text folds.
type NormalizeConfig struct {
	NFKC  bool `yaml:"nfkc"`
	Width bool `yaml:"width"`
	Lower bool `yaml:"lower"`
}

// MemoryConfig bounds memory and tunes posting strategy selection.
type MemoryConfig struct {
	HardLimitMB      int             `yaml:"hard_limit_mb"`
	SoftTargetMB     int             `yaml:"soft_target_mb"`
	RoaringThreshold float64         `yaml:"roaring_threshold"`
	Normalize        NormalizeConfig `yaml:"normalize"`
}

// DumpConfig governs snapshot files.
type DumpConfig struct {
	Dir             string `yaml:"dir"`
	DefaultFilename string `yaml:"default_filename"`
	IntervalSec     int    `yaml:"interval_sec"`
	Retain          int    `yaml:"retain"`
}

// TCPConfig is the text-protocol listener.
type TCPConfig struct {
	Bind string `yaml:"bind" env:"TCP_BIND"`
	Port int    `yaml:"port" env:"TCP_PORT"`
}

// HTTPConfig is the JSON API listener.
type HTTPConfig struct {
	Enable          bool   `yaml:"enable"`
	Bind            string `yaml:"bind" env:"HTTP_BIND"`
	Port            int    `yaml:"port" env:"HTTP_PORT"`
	EnableCORS      bool   `yaml:"enable_cors"`
	CORSAllowOrigin string `yaml:"cors_allow_origin"`
}

// APIConfig groups both listeners.
type APIConfig struct {
	TCP            TCPConfig  `yaml:"tcp"`
	HTTP           HTTPConfig `yaml:"http"`
	DefaultLimit   uint32     `yaml:"default_limit"`
	MaxQueryLength int        `yaml:"max_query_length"`
}

// NetworkConfig is the access-control layer.
type NetworkConfig struct {
	AllowCIDRs []string `yaml:"allow_cidrs"`
}

// CacheInvalidationConfig tunes the async invalidation queue.
type CacheInvalidationConfig struct {
	BatchSize  int `yaml:"batch_size"`
	MaxDelayMS int `yaml:"max_delay_ms"`
}

// CacheConfig governs the query result cache.
type CacheConfig struct {
	Enabled              bool                    `yaml:"enabled"`
	MaxMemoryMB          int                     `yaml:"max_memory_mb"`
	MinQueryCostMS       float64                 `yaml:"min_query_cost_ms"`
	TTLSeconds           int                     `yaml:"ttl_seconds"`
	InvalidationStrategy string                  `yaml:"invalidation_strategy"`
	CompressionEnabled   bool                    `yaml:"compression_enabled"`
	EvictionBatchSize    int                     `yaml:"eviction_batch_size"`
	Invalidation         CacheInvalidationConfig `yaml:"invalidation"`
}

// LoggingConfig selects level and format.
type LoggingConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL"`
	JSON  bool   `yaml:"json" env:"LOG_JSON"`
}

// Default returns a configuration with every tunable at its documented
// default; Load starts from this.
func Default() *Config {
	return &Config{
		MySQL: MySQLConfig{Host: "127.0.0.1", Port: 3306},
		Build: BuildConfig{Mode: "auto", BatchSize: 1000, Parallelism: 2},
		Replication: ReplicationConfig{
			ServerID:            10116,
			QueueSize:           10000,
			ReconnectBackoffMin: 500,
			ReconnectBackoffMax: 30000,
		},
		Memory: MemoryConfig{
			RoaringThreshold: 0.18,
			Normalize:        NormalizeConfig{NFKC: true, Width: true, Lower: true},
		},
		Dump: DumpConfig{Dir: "./snapshots", DefaultFilename: "mygram.dmp", Retain: 5},
		API: APIConfig{
			TCP:            TCPConfig{Bind: "0.0.0.0", Port: 11016},
			HTTP:           HTTPConfig{Bind: "0.0.0.0", Port: 8080},
			DefaultLimit:   100,
			MaxQueryLength: 4096,
		},
		Cache: CacheConfig{
			MaxMemoryMB:       64,
			MinQueryCostMS:    1,
			EvictionBatchSize: 16,
			Invalidation:      CacheInvalidationConfig{BatchSize: 64, MaxDelayMS: 50},
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads path (optional), applies environment overrides, validates and
// returns the materialized configuration.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "MYGRAM_"}); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks structural constraints.
func (c *Config) Validate() error {
	if len(c.Tables) == 0 {
		return fmt.Errorf("config: at least one table is required")
	}
	seen := make(map[string]struct{})
	for i := range c.Tables {
		t := &c.Tables[i]
		if t.Name == "" {
			return fmt.Errorf("config: tables[%d].name is required", i)
		}
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("config: duplicate table %q", t.Name)
		}
		seen[t.Name] = struct{}{}
		if t.PrimaryKey == "" {
			return fmt.Errorf("config: table %q: primary_key is required", t.Name)
		}
		if t.NgramSize == 0 {
			t.NgramSize = 2
		}
		if t.KanjiNgramSize == 0 {
			t.KanjiNgramSize = 1
		}
		if t.NgramSize < 1 || t.NgramSize > 4 {
			return fmt.Errorf("config: table %q: ngram_size must be 1..4", t.Name)
		}
		if t.KanjiNgramSize < 1 || t.KanjiNgramSize > 4 {
			return fmt.Errorf("config: table %q: kanji_ngram_size must be 1..4", t.Name)
		}
		if t.TextSource.Column == "" && len(t.TextSource.Concat) == 0 {
			return fmt.Errorf("config: table %q: text_source requires column or concat", t.Name)
		}
	}
	if c.API.DefaultLimit == 0 || c.API.DefaultLimit > 1000 {
		return fmt.Errorf("config: api.default_limit must be 1..1000")
	}
	if c.Memory.RoaringThreshold <= 0 || c.Memory.RoaringThreshold >= 1 {
		return fmt.Errorf("config: memory.roaring_threshold must be in (0, 1)")
	}
	if c.Dump.Retain < 1 {
		return fmt.Errorf("config: dump.retain must be at least 1")
	}
	return nil
}

// Table returns the named table config.
func (c *Config) Table(name string) (*TableConfig, bool) {
	for i := range c.Tables {
		if c.Tables[i].Name == name {
			return &c.Tables[i], true
		}
	}
	return nil, false
}

// Masked keys: any config key whose name contains one of these substrings
// is replaced with *** in every display path. primary_key is structural,
// not a secret, and stays visible.
var sensitiveSubstrings = []string{"password", "secret", "token", "key"}

var maskExemptions = map[string]struct{}{
	"primary_key": {},
}

func keyIsSensitive(key string) bool {
	lower := strings.ToLower(key)
	if _, exempt := maskExemptions[lower]; exempt {
		return false
	}
	for _, s := range sensitiveSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// MaskedYAML renders the configuration with secrets replaced by ***.
func (c *Config) MaskedYAML() (string, error) {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return "", err
	}
	maskTree(tree)
	masked, err := yaml.Marshal(tree)
	if err != nil {
		return "", err
	}
	return string(masked), nil
}

func maskTree(node any) {
	switch n := node.(type) {
	case map[string]any:
		for k, v := range n {
			if keyIsSensitive(k) {
				if s, ok := v.(string); !ok || s != "" {
					n[k] = "***"
				}
				continue
			}
			maskTree(v)
		}
	case []any:
		for _, v := range n {
			maskTree(v)
		}
	}
}
