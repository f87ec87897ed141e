package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/and161185/timesync/internal/cvr"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadConfig_Defaults(t *testing.T) {
	c, err := loadConfig(nil, envMap(nil))
	require.NoError(t, err)
	require.Equal(t, ":8080", c.Addr)
	require.Equal(t, cvr.DefaultBaseURL, c.CVRURL)
	require.Equal(t, cvr.DefaultCacheTTL, c.CVRCacheTTL)
	require.Equal(t, 200, c.SendLimit)
	require.Empty(t, c.DSN)
	require.False(t, c.Dev)
}

func TestLoadConfig_EnvThenFlags(t *testing.T) {
	env := envMap(map[string]string{
		"ADDR":             ":9000",
		"SENDGRID_API_KEY": "SG.x",
		"REDIS_DB":         "3",
		"SEND_WINDOW":      "1h",
		"SEND_LIMIT":       "not-a-number",
	})
	c, err := loadConfig([]string{"-addr", ":9100", "-db-max-conns", "8"}, env)
	require.NoError(t, err)
	require.Equal(t, ":9100", c.Addr)
	require.Equal(t, "SG.x", c.SendGridKey)
	require.Equal(t, 3, c.RedisDB)
	require.Equal(t, time.Hour, c.SendWindow)
	require.Equal(t, 200, c.SendLimit)
	require.Equal(t, int32(8), c.MaxConns)
}

func TestLoadConfig_BadFlag(t *testing.T) {
	_, err := loadConfig([]string{"-nope"}, envMap(nil))
	require.Error(t, err)
}
