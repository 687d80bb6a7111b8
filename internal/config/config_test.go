package config

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

// setEnvs устанавливает переменные окружения на время теста.
func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

// minimalEnvs возвращает минимальный набор обязательных переменных.
func minimalEnvs() map[string]string {
	return map[string]string{
		"MF_DB_HOST":                "localhost",
		"MF_DB_NAME":                "metaform",
		"MF_DB_USER":                "metaform",
		"MF_DB_PASSWORD":            "secret",
		"MF_KEYCLOAK_URL":           "https://keycloak.example.com",
		"MF_KEYCLOAK_CLIENT_ID":     "metaform-admin-client",
		"MF_KEYCLOAK_CLIENT_SECRET": "kc-secret",
	}
}

// resetEnvs очищает обязательные переменные перед установкой нового набора.
func resetEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k := range minimalEnvs() {
		os.Unsetenv(k)
	}
	setEnvs(t, envs)
}

func TestLoad_MinimalConfig(t *testing.T) {
	setEnvs(t, minimalEnvs())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, ожидается 8080", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, ожидается Info", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, ожидается json", cfg.LogFormat)
	}
	if cfg.DBPort != 5432 {
		t.Errorf("DBPort = %d, ожидается 5432", cfg.DBPort)
	}
	if cfg.KeycloakRealm != "metaform" {
		t.Errorf("KeycloakRealm = %q, ожидается metaform", cfg.KeycloakRealm)
	}
	if cfg.KeycloakResourceClientID != "metaform-api" {
		t.Errorf("KeycloakResourceClientID = %q, ожидается metaform-api", cfg.KeycloakResourceClientID)
	}
	if len(cfg.RoleAdminRoles) != 1 || cfg.RoleAdminRoles[0] != "metaform-admin" {
		t.Errorf("RoleAdminRoles = %v, ожидается [metaform-admin]", cfg.RoleAdminRoles)
	}
	if cfg.OwnerPolicyName != "owner" {
		t.Errorf("OwnerPolicyName = %q, ожидается owner", cfg.OwnerPolicyName)
	}
	if cfg.FilterBestEffort {
		t.Error("FilterBestEffort по умолчанию должен быть false")
	}
	if cfg.MetaformCacheSize != 256 {
		t.Errorf("MetaformCacheSize = %d, ожидается 256", cfg.MetaformCacheSize)
	}
	if cfg.MetaformCacheTTL != time.Minute {
		t.Errorf("MetaformCacheTTL = %v, ожидается 1m", cfg.MetaformCacheTTL)
	}
	if cfg.MaxAttachmentSize != 10*1024*1024 {
		t.Errorf("MaxAttachmentSize = %d, ожидается 10 MiB", cfg.MaxAttachmentSize)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v, ожидается 5s", cfg.ShutdownTimeout)
	}
}

func TestLoad_JWTAutoDerive(t *testing.T) {
	setEnvs(t, minimalEnvs())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	expectedIssuer := "https://keycloak.example.com/realms/metaform"
	if cfg.JWTIssuer != expectedIssuer {
		t.Errorf("JWTIssuer = %q, ожидается %q", cfg.JWTIssuer, expectedIssuer)
	}

	expectedJWKS := "https://keycloak.example.com/realms/metaform/protocol/openid-connect/certs"
	if cfg.JWTJWKSURL != expectedJWKS {
		t.Errorf("JWTJWKSURL = %q, ожидается %q", cfg.JWTJWKSURL, expectedJWKS)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	envs := minimalEnvs()
	envs["MF_PORT"] = "9090"
	envs["MF_LOG_LEVEL"] = "debug"
	envs["MF_LOG_FORMAT"] = "text"
	envs["MF_DB_SSL_MODE"] = "require"
	envs["MF_ROLE_ADMIN_ROLES"] = "metaform-admin, super-admin"
	envs["MF_FILTER_BEST_EFFORT"] = "true"
	envs["MF_METAFORM_CACHE_TTL"] = "30s"
	envs["MF_SHUTDOWN_TIMEOUT"] = "10s"
	setEnvs(t, envs)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, ожидается 9090", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, ожидается Debug", cfg.LogLevel)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %q, ожидается text", cfg.LogFormat)
	}
	if cfg.DBSSLMode != "require" {
		t.Errorf("DBSSLMode = %q, ожидается require", cfg.DBSSLMode)
	}
	if len(cfg.RoleAdminRoles) != 2 || cfg.RoleAdminRoles[1] != "super-admin" {
		t.Errorf("RoleAdminRoles = %v, ожидается [metaform-admin super-admin]", cfg.RoleAdminRoles)
	}
	if !cfg.FilterBestEffort {
		t.Error("FilterBestEffort = false, ожидается true")
	}
	if cfg.MetaformCacheTTL != 30*time.Second {
		t.Errorf("MetaformCacheTTL = %v, ожидается 30s", cfg.MetaformCacheTTL)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, ожидается 10s", cfg.ShutdownTimeout)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	requiredVars := []string{
		"MF_DB_HOST", "MF_DB_NAME", "MF_DB_USER", "MF_DB_PASSWORD",
		"MF_KEYCLOAK_URL", "MF_KEYCLOAK_CLIENT_ID", "MF_KEYCLOAK_CLIENT_SECRET",
	}

	for _, missing := range requiredVars {
		t.Run(missing, func(t *testing.T) {
			envs := minimalEnvs()
			delete(envs, missing)
			resetEnvs(t, envs)

			if _, err := Load(); err == nil {
				t.Errorf("Load() не вернул ошибку при отсутствии %s", missing)
			}
		})
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"порт вне диапазона", "MF_PORT", "70000"},
		{"порт не число", "MF_PORT", "abc"},
		{"уровень логов", "MF_LOG_LEVEL", "verbose"},
		{"формат логов", "MF_LOG_FORMAT", "xml"},
		{"ssl mode", "MF_DB_SSL_MODE", "prefer"},
		{"длительность", "MF_METAFORM_CACHE_TTL", "abc"},
		{"размер кэша", "MF_METAFORM_CACHE_SIZE", "0"},
		{"best effort", "MF_FILTER_BEST_EFFORT", "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envs := minimalEnvs()
			envs[tt.key] = tt.value
			resetEnvs(t, envs)

			if _, err := Load(); err == nil {
				t.Errorf("Load() не вернул ошибку при %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestLoad_KeycloakURLTrailingSlash(t *testing.T) {
	envs := minimalEnvs()
	envs["MF_KEYCLOAK_URL"] = "https://keycloak.example.com/"
	resetEnvs(t, envs)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}
	if cfg.KeycloakURL != "https://keycloak.example.com" {
		t.Errorf("KeycloakURL = %q, ожидается без trailing slash", cfg.KeycloakURL)
	}
}

func TestDatabaseDSN(t *testing.T) {
	cfg := &Config{
		DBHost:     "db.example.com",
		DBPort:     5432,
		DBName:     "metaform",
		DBUser:     "user",
		DBPassword: "pass",
		DBSSLMode:  "disable",
	}
	expected := "host=db.example.com port=5432 dbname=metaform user=user password=pass sslmode=disable"
	if dsn := cfg.DatabaseDSN(); dsn != expected {
		t.Errorf("DatabaseDSN() = %q, ожидается %q", dsn, expected)
	}

	// Пароль не попадает в URL для метрик
	if u := cfg.DatabaseURL(); u != "postgres://user@db.example.com:5432/metaform" {
		t.Errorf("DatabaseURL() = %q", u)
	}
}

func TestSetupLogger(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		t.Run(format, func(t *testing.T) {
			logger := SetupLogger(&Config{LogLevel: slog.LevelInfo, LogFormat: format})
			if logger == nil {
				t.Error("SetupLogger() вернул nil")
			}
		})
	}
}

func TestParseCSV(t *testing.T) {
	tests := []struct {
		input    string
		expected []string
	}{
		{"", nil},
		{"admins", []string{"admins"}},
		{"admins, viewers", []string{"admins", "viewers"}},
		{"admins,,viewers,", []string{"admins", "viewers"}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := parseCSV(tt.input)
			if len(result) != len(tt.expected) {
				t.Fatalf("parseCSV(%q) = %v, ожидается %v", tt.input, result, tt.expected)
			}
			for i, v := range result {
				if v != tt.expected[i] {
					t.Errorf("parseCSV(%q)[%d] = %q, ожидается %q", tt.input, i, v, tt.expected[i])
				}
			}
		})
	}
}
