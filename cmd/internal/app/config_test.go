package app

import (
	"reflect"
	"testing"
	"time"

	"tasker/cmd/security/token"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("TASKER_JWT_SECRET", testSecret)
	t.Setenv("TASKER_HTTP_ADDR", "")
	t.Setenv("PORT", "")
	t.Setenv("TASKER_DATABASE_URL", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("TASKER_CORS_ALLOWED_ORIGINS", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.HTTPAddr != "0.0.0.0:5000" {
		t.Fatalf("HTTPAddr=%q", cfg.HTTPAddr)
	}
	if cfg.BasePath != "" || cfg.DatabaseURL != "" || cfg.DBSchema != "tasker" || !cfg.DBAutoMigrate {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.CORSAllowedOrigins, []string{"http://localhost:3000"}) || cfg.CORSMaxAgeSeconds != 600 {
		t.Fatalf("unexpected CORS defaults: %v %d", cfg.CORSAllowedOrigins, cfg.CORSMaxAgeSeconds)
	}
	if !cfg.MetricsEnabled || cfg.ReadTimeout != 15*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Token.Format != token.FormatJWT || cfg.Token.TTL != time.Hour || string(cfg.Token.Secret) != testSecret {
		t.Fatalf("unexpected token config: format=%q ttl=%v", cfg.Token.Format, cfg.Token.TTL)
	}
}

func TestLoadConfig_Fallbacks(t *testing.T) {
	t.Setenv("TASKER_JWT_SECRET", "")
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("TASKER_HTTP_ADDR", "")
	t.Setenv("PORT", "8081")
	t.Setenv("TASKER_DATABASE_URL", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/tasker")
	t.Setenv("TASKER_HTTP_BASE_PATH", "api/")
	t.Setenv("TASKER_CORS_ALLOWED_ORIGINS", " https://a.example.com , ,http://127.0.0.1:* ")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.HTTPAddr != "0.0.0.0:8081" {
		t.Fatalf("HTTPAddr=%q", cfg.HTTPAddr)
	}
	if cfg.DatabaseURL != "postgres://localhost/tasker" {
		t.Fatalf("DatabaseURL=%q", cfg.DatabaseURL)
	}
	if cfg.BasePath != "/api" {
		t.Fatalf("BasePath=%q", cfg.BasePath)
	}
	if !reflect.DeepEqual(cfg.CORSAllowedOrigins, []string{"https://a.example.com", "http://127.0.0.1:*"}) {
		t.Fatalf("CORSAllowedOrigins=%v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing secret", env: map[string]string{"TASKER_JWT_SECRET": "", "JWT_SECRET": ""}},
		{name: "short secret", env: map[string]string{"TASKER_JWT_SECRET": "short"}},
		{name: "bad schema", env: map[string]string{"TASKER_JWT_SECRET": testSecret, "TASKER_DB_SCHEMA": "bad-schema"}},
		{name: "bad password algorithm", env: map[string]string{"TASKER_JWT_SECRET": testSecret, "TASKER_PASSWORD_ALGORITHM": "md5"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestNormalizeBasePath(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]string{"": "", "/": "", "api": "/api", "/api/": "/api", " /v1/api ": "/v1/api"} {
		if got := normalizeBasePath(in); got != want {
			t.Fatalf("normalizeBasePath(%q)=%q want %q", in, got, want)
		}
	}
}

func TestEnvCSV(t *testing.T) {
	t.Setenv("TASKER_TEST_CSV", "")
	if got := EnvCSV("TASKER_TEST_CSV", "a,b"); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("default: %v", got)
	}
	t.Setenv("TASKER_TEST_CSV", "x, ,y")
	if got := EnvCSV("TASKER_TEST_CSV", "a"); !reflect.DeepEqual(got, []string{"x", "y"}) {
		t.Fatalf("set: %v", got)
	}
}
