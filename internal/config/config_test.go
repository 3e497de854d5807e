package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"GEMINI_API_KEY", "GEMINI_MODEL", "STORE_MEDIUM", "DATABASE_URL", "REDIS_ADDR",
		"REDIS_PASSWORD", "STORE_KEY_PREFIX", "HTTP_PORT", "LOG_LEVEL", "JWT_SECRET",
		"JWT_TTL", "ALLOWED_ORIGINS", "EXPORT_BUCKET", "AWS_REGION", "MEDOS_CONFIG",
	} {
		t.Setenv(k, "")
	}
	// Keep a stray .env in the package directory from leaking in.
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, MediumSQLite, cfg.StoreMedium)
	assert.Equal(t, "medos_", cfg.StoreKeyPrefix)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 24*time.Hour, cfg.JWTTTL)
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "medos.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storeMedium: redis
redisAddr: cache:6379
httpPort: "9000"
jwtSecret: from-file
jwtTTL: 2h
allowedOrigins: [https://app.example]
`), 0o600))
	t.Setenv("HTTP_PORT", "9100")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, MediumRedis, cfg.StoreMedium)
	assert.Equal(t, "cache:6379", cfg.RedisAddr)
	assert.Equal(t, "9100", cfg.HTTPPort)
	assert.Equal(t, "from-file", cfg.JWTSecret)
	assert.Equal(t, 2*time.Hour, cfg.JWTTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoadConfig_Validation(t *testing.T) {
	cases := map[string]map[string]string{
		"missing secret":  {},
		"unknown medium":  {"JWT_SECRET": "x", "STORE_MEDIUM": "floppy"},
		"redis sans addr": {"JWT_SECRET": "x", "STORE_MEDIUM": "redis"},
		"bad port":        {"JWT_SECRET": "x", "HTTP_PORT": "eighty"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig("")
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "x")
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
