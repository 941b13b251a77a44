package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
mysql:
  host: db.internal
  port: 3306
  user: mirror
  password: hunter2
  database: app
tables:
  - name: posts
    primary_key: id
    ngram_size: 3
    kanji_ngram_size: 2
    text_source:
      column: body
    filters: [status, author_id]
cache:
  enabled: true
  max_memory_mb: 32
logging:
  level: debug
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.MySQL.Host)
	assert.Equal(t, "hunter2", cfg.MySQL.Password)
	require.Len(t, cfg.Tables, 1)
	assert.Equal(t, 3, cfg.Tables[0].NgramSize)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched keys keep their defaults.
	assert.Equal(t, 11016, cfg.API.TCP.Port)
	assert.Equal(t, uint32(100), cfg.API.DefaultLimit)
	assert.Equal(t, 0.18, cfg.Memory.RoaringThreshold)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MYGRAM_MYSQL_PASSWORD", "env-secret")
	t.Setenv("MYGRAM_LOG_LEVEL", "warn")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "env-secret", cfg.MySQL.Password)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "no tables",
			mutate: func(c *Config) { c.Tables = nil },
			want:   "at least one table",
		},
		{
			name: "duplicate table",
			mutate: func(c *Config) {
				c.Tables = append(c.Tables, c.Tables[0])
			},
			want: "duplicate table",
		},
		{
			name:   "missing primary key",
			mutate: func(c *Config) { c.Tables[0].PrimaryKey = "" },
			want:   "primary_key",
		},
		{
			name:   "ngram size out of range",
			mutate: func(c *Config) { c.Tables[0].NgramSize = 9 },
			want:   "ngram_size",
		},
		{
			name:   "default limit too large",
			mutate: func(c *Config) { c.API.DefaultLimit = 5000 },
			want:   "default_limit",
		},
		{
			name:   "missing text source",
			mutate: func(c *Config) { c.Tables[0].TextSource = TextSource{} },
			want:   "text_source",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, sampleYAML))
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMaskedYAMLHidesSecrets(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	out, err := cfg.MaskedYAML()
	require.NoError(t, err)

	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "***")
	// Structural keys stay visible.
	assert.Contains(t, out, "primary_key: id")
	assert.Contains(t, out, "db.internal")
}

func TestMaskedYAMLKeySubstring(t *testing.T) {
	assert.True(t, keyIsSensitive("password"))
	assert.True(t, keyIsSensitive("MySQLPassword"))
	assert.True(t, keyIsSensitive("api_token"))
	assert.True(t, keyIsSensitive("secret_ref"))
	assert.False(t, keyIsSensitive("primary_key"))
	assert.False(t, keyIsSensitive("host"))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "read config"))
}
