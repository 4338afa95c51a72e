package filestore

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/koustreak/reshape/internal/errs"
)

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig("localhost:9000", "key", "secret", "snapshots").Validate())

	tests := map[string]func(*Config){
		"provider": func(c *Config) { c.Provider = "gcs" },
		"endpoint": func(c *Config) { c.Endpoint = "" },
		"bucket":   func(c *Config) { c.Bucket = "" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig("localhost:9000", "key", "secret", "snapshots")
			mutate(cfg)
			assert.True(t, errs.IsInvalidInput(cfg.Validate()))
		})
	}
}
