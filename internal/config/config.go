// Пакет config — загрузка и валидация конфигурации Metaform API
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Metaform API.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Имя пользователя PostgreSQL
	DBUser string
	// Пароль пользователя PostgreSQL
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Keycloak ---

	// URL Keycloak (например, https://keycloak.example.com)
	KeycloakURL string
	// Имя realm в Keycloak
	KeycloakRealm string
	// Client ID для доступа к Keycloak Admin API
	KeycloakClientID string
	// Client Secret для доступа к Keycloak Admin API
	KeycloakClientSecret string
	// Client ID клиента, который содержит resource server (ресурсы ответов)
	KeycloakResourceClientID string
	// Путь к CA-сертификату для TLS-соединений с Keycloak (опционально)
	CACertPath string

	// --- JWT ---

	// Issuer JWT (авто-вычисляется из KeycloakURL, если не задан)
	JWTIssuer string
	// URL JWKS endpoint (авто-вычисляется из KeycloakURL, если не задан)
	JWTJWKSURL string
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration

	// --- Роли и политики ---

	// Realm-роли, дающие права администратора форм (через запятую)
	RoleAdminRoles []string
	// Realm-роли обычного пользователя (через запятую)
	RoleUserRoles []string
	// Имя политики администратора в resource server
	AdminPolicyName string
	// Имя политики владельца ресурса в resource server
	OwnerPolicyName string
	// Имя политики «любой вошедший пользователь»
	UserPolicyName string

	// --- Ответы и фильтры ---

	// Размер LRU-кэша определений форм
	MetaformCacheSize int
	// TTL записи в кэше определений форм
	MetaformCacheTTL time.Duration
	// Режим best-effort: нераспознанный тип фильтра пропускается вместо ошибки
	FilterBestEffort bool
	// Максимальный размер вложения в байтах
	MaxAttachmentSize int64

	// --- Мониторинг ---

	// Группа topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
//
//nolint:cyclop,funlen // линейная загрузка переменных окружения
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// MF_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("MF_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("MF_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("MF_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// MF_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("MF_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("MF_LOG_LEVEL: %w", err)
	}

	// MF_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("MF_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("MF_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("MF_DB_HOST"); err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("MF_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("MF_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("MF_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("MF_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("MF_DB_PASSWORD"); err != nil {
		return nil, err
	}

	// MF_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("MF_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("MF_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Keycloak ---

	if cfg.KeycloakURL, err = getEnvRequired("MF_KEYCLOAK_URL"); err != nil {
		return nil, err
	}
	// Убираем trailing slash
	cfg.KeycloakURL = strings.TrimRight(cfg.KeycloakURL, "/")

	// MF_KEYCLOAK_REALM — realm (по умолчанию metaform)
	cfg.KeycloakRealm = getEnvDefault("MF_KEYCLOAK_REALM", "metaform")

	if cfg.KeycloakClientID, err = getEnvRequired("MF_KEYCLOAK_CLIENT_ID"); err != nil {
		return nil, err
	}
	if cfg.KeycloakClientSecret, err = getEnvRequired("MF_KEYCLOAK_CLIENT_SECRET"); err != nil {
		return nil, err
	}

	// MF_KEYCLOAK_RESOURCE_CLIENT_ID — клиент resource server (по умолчанию metaform-api)
	cfg.KeycloakResourceClientID = getEnvDefault("MF_KEYCLOAK_RESOURCE_CLIENT_ID", "metaform-api")

	// MF_CA_CERT_PATH — путь к CA-сертификату (опционально)
	cfg.CACertPath = getEnvDefault("MF_CA_CERT_PATH", "")

	// --- JWT ---

	cfg.JWTIssuer = getEnvDefault("MF_JWT_ISSUER",
		fmt.Sprintf("%s/realms/%s", cfg.KeycloakURL, cfg.KeycloakRealm))
	cfg.JWTJWKSURL = getEnvDefault("MF_JWT_JWKS_URL",
		fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", cfg.KeycloakURL, cfg.KeycloakRealm))

	cfg.JWKSRefreshInterval, err = getEnvDuration("MF_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("MF_JWKS_REFRESH_INTERVAL: %w", err)
	}
	cfg.JWTLeeway, err = getEnvDuration("MF_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("MF_JWT_LEEWAY: %w", err)
	}

	// --- Роли и политики ---

	cfg.RoleAdminRoles = parseCSV(getEnvDefault("MF_ROLE_ADMIN_ROLES", "metaform-admin"))
	cfg.RoleUserRoles = parseCSV(getEnvDefault("MF_ROLE_USER_ROLES", "user"))
	if len(cfg.RoleAdminRoles) == 0 {
		return nil, fmt.Errorf("MF_ROLE_ADMIN_ROLES: требуется хотя бы одна роль")
	}

	cfg.AdminPolicyName = getEnvDefault("MF_ADMIN_POLICY_NAME", "metaform-admin")
	cfg.OwnerPolicyName = getEnvDefault("MF_OWNER_POLICY_NAME", "owner")
	cfg.UserPolicyName = getEnvDefault("MF_USER_POLICY_NAME", "user")

	// --- Ответы и фильтры ---

	cfg.MetaformCacheSize, err = getEnvInt("MF_METAFORM_CACHE_SIZE", 256)
	if err != nil {
		return nil, fmt.Errorf("MF_METAFORM_CACHE_SIZE: %w", err)
	}
	if cfg.MetaformCacheSize < 1 {
		return nil, fmt.Errorf("MF_METAFORM_CACHE_SIZE: значение %d должно быть положительным", cfg.MetaformCacheSize)
	}
	cfg.MetaformCacheTTL, err = getEnvDuration("MF_METAFORM_CACHE_TTL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("MF_METAFORM_CACHE_TTL: %w", err)
	}
	cfg.FilterBestEffort, err = getEnvBool("MF_FILTER_BEST_EFFORT", false)
	if err != nil {
		return nil, fmt.Errorf("MF_FILTER_BEST_EFFORT: %w", err)
	}
	maxAttachment, err := getEnvInt("MF_MAX_ATTACHMENT_SIZE", 10*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("MF_MAX_ATTACHMENT_SIZE: %w", err)
	}
	cfg.MaxAttachmentSize = int64(maxAttachment)

	// --- Мониторинг ---

	cfg.DephealthGroup = getEnvDefault("MF_DEPHEALTH_GROUP", "metaform")
	cfg.DephealthCheckInterval, err = getEnvDuration("MF_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("MF_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("MF_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("MF_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL для лейблов topologymetrics.
// Пароль в URL не включается.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.User(c.DBUser),
		Host:   fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:   "/" + c.DBName,
	}
	return u.String()
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает логическое значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное логическое значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
