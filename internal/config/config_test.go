package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CrmSync/internal/model"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o600))
	return dir
}

func TestLoadConfigDefaultsAndEnv(t *testing.T) {
	t.Setenv("CRM_ACCESS_TOKEN", "secret")
	t.Setenv("DATABASE_DSN", "postgres://u:p@db:5432/crm")
	dir := writeConfig(t, `
crm:
  page_size: 50
sync:
  object_types: [calls, deals]
  overlap_window: 2m
`)

	cfg, err := LoadConfigFrom(dir)
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.CRM.AccessToken)
	assert.Equal(t, "postgres://u:p@db:5432/crm", cfg.Database.DSN)
	assert.Equal(t, 50, cfg.CRM.PageSize)
	assert.Equal(t, MaxCRMBatchSize, cfg.CRM.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.CRM.RetryInitialInterval)
	assert.Equal(t, 2*time.Minute, cfg.Sync.OverlapWindow)
	assert.Equal(t, 20*time.Minute, cfg.Sync.RunTimeout)
	assert.Equal(t, []model.ObjectType{model.ObjectCalls, model.ObjectDeals}, cfg.Sync.ObjectTypeList())
	assert.Equal(t, []string{"closedwon"}, cfg.Attribution.ClosedStages)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfigFrom(t.TempDir())
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			CRM: CRMConfig{BaseURL: "https://api.hubapi.com", PageSize: 100, BatchSize: 100, RequestsPerSecond: 9},
			Sync: SyncConfig{
				Cron:        "*/15 * * * *",
				ObjectTypes: []string{"contacts", "calls", "deals"},
				RunTimeout:  time.Minute,
			},
		}
	}
	require.NoError(t, valid().Validate())

	longer := valid()
	longer.Sync.StaleRunAfter = 2 * longer.Sync.RunTimeout
	require.NoError(t, longer.Validate())

	cases := map[string]func(*Config){
		"page size over max":   func(c *Config) { c.CRM.PageSize = MaxCRMPageSize + 1 },
		"empty base url":       func(c *Config) { c.CRM.BaseURL = " " },
		"zero rate":            func(c *Config) { c.CRM.RequestsPerSecond = 0 },
		"unknown object type":  func(c *Config) { c.Sync.ObjectTypes = []string{"companies"} },
		"no object types":      func(c *Config) { c.Sync.ObjectTypes = nil },
		"bad cron":             func(c *Config) { c.Sync.Cron = "every minute" },
		"zero run timeout":     func(c *Config) { c.Sync.RunTimeout = 0 },
		"negative overlap":     func(c *Config) { c.Sync.OverlapWindow = -time.Second },
		"stale before timeout": func(c *Config) { c.Sync.StaleRunAfter = c.Sync.RunTimeout },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
