package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsAndEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://mom:mom@db:5432/mom?sslmode=disable")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("MOM_ALLOWED_ORIGINS", "https://app.example.com, https://admin.example.com ,")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("MOM_LOGIN_RATE_LIMIT_PER_MINUTE", "7")
	t.Setenv("MOM_MAX_UPLOAD_BYTES", "1048576")

	path := writeConfig(t, `
port: "8090"
logLevel: "debug"
databaseURL: "postgres://ignored"
minioEndpoint: "minio:9000"
minioAccessKey: "key"
minioSecretKey: "secret"
minioBucket: "moms"
dispatchTimeout: "45s"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DatabaseURL != "postgres://mom:mom@db:5432/mom?sslmode=disable" {
		t.Fatalf("databaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.RedisAddr != "redis:6379" {
		t.Fatalf("redisAddr = %q", cfg.RedisAddr)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://admin.example.com" {
		t.Fatalf("allowedOrigins = %v", cfg.AllowedOrigins)
	}
	if !cfg.MinioUseSSL {
		t.Fatalf("minioUseSSL = false, want true")
	}
	if cfg.LoginRateLimitPerMinute != 7 {
		t.Fatalf("loginRateLimitPerMinute = %d, want 7", cfg.LoginRateLimitPerMinute)
	}
	if cfg.MaxUploadBytes != 1<<20 {
		t.Fatalf("maxUploadBytes = %d", cfg.MaxUploadBytes)
	}
	if cfg.QueueName != "momflow:effects" || cfg.QueueConcurrency != 2 || cfg.MailQueue != "mom.mail" {
		t.Fatalf("queue defaults not applied: %+v", cfg)
	}
	timeout, err := ParseDuration("dispatchTimeout", cfg.DispatchTimeout)
	if err != nil || timeout != 45*time.Second {
		t.Fatalf("dispatchTimeout = %v (%v)", timeout, err)
	}
}

func TestLoadDefaultsPort(t *testing.T) {
	cfg, err := Load(writeConfig(t, "logLevel: info\n"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Port != "8080" || cfg.StorageDir != "data/objects" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestValidateConfigRejectsInvalidSettings(t *testing.T) {
	base := FileConfig{Port: "8080"}
	cases := []struct {
		name   string
		mutate func(*FileConfig)
		want   string
	}{
		{"port", func(c *FileConfig) { c.Port = "http" }, "port"},
		{"public key without private", func(c *FileConfig) { c.JWTPublicKeyPath = "pub.pem" }, "jwtPublicKeyPath"},
		{"partial minio", func(c *FileConfig) { c.MinioEndpoint = "minio:9000" }, "minioEndpoint"},
		{"negative rate", func(c *FileConfig) { c.LoginRateLimitPerMinute = -1 }, "rate limits"},
		{"bad duration", func(c *FileConfig) { c.DispatchTimeout = "soon" }, "dispatchTimeout"},
		{"negative duration", func(c *FileConfig) { c.SessionTTL = "-1h" }, "sessionTTL"},
		{"bad verify keys", func(c *FileConfig) { c.JWTVerifyPublicKeys = "old" }, "jwtVerifyPublicKeys"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			err := validateConfig(cfg)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestParseVerifyPublicKeys(t *testing.T) {
	keys, err := ParseVerifyPublicKeys(" old=keys/old.pem , older=keys/older.pem ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(keys) != 2 || keys["older"] != "keys/older.pem" {
		t.Fatalf("unexpected keys %v", keys)
	}
	if keys, err := ParseVerifyPublicKeys(""); err != nil || keys != nil {
		t.Fatalf("empty input should yield nil, got %v (%v)", keys, err)
	}
}

func TestPathHonorsEnv(t *testing.T) {
	t.Setenv("MOM_CONFIG", "/etc/mom/config.yaml")
	if got := Path(); got != "/etc/mom/config.yaml" {
		t.Fatalf("Path() = %q", got)
	}
	t.Setenv("MOM_CONFIG", "")
	if got := Path(); got != ConfigPath {
		t.Fatalf("Path() = %q, want %q", got, ConfigPath)
	}
}
