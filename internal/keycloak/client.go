// client.go — HTTP-клиент к Keycloak Admin REST API.
// Реализует автоматическое получение service account token через Client Credentials flow,
// кэширование токена (обновление за 30s до expiration), разрешение UUID клиента
// resource server. Операции Authorization Services — в authz.go.
package keycloak

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// Ошибки клиента Keycloak.
var (
	// ErrNotFound — объект не найден (HTTP 404 или пустой результат поиска).
	ErrNotFound = errors.New("keycloak: объект не найден")
	// ErrConflict — объект с таким именем уже существует (HTTP 409).
	ErrConflict = errors.New("keycloak: объект уже существует")
	// ErrAmbiguous — поиск по имени вернул больше одного объекта.
	ErrAmbiguous = errors.New("keycloak: найдено несколько объектов с одним именем")
	// ErrClientNotResolved — клиент resource server не найден в realm.
	ErrClientNotResolved = errors.New("keycloak: клиент resource server не найден")
)

// Client — HTTP-клиент к Keycloak Admin REST API.
type Client struct {
	baseURL          string // Базовый URL Keycloak (без trailing slash)
	realm            string // Имя realm
	clientID         string // Client ID для Client Credentials flow
	clientSecret     string // Client Secret
	resourceClientID string // Client ID клиента с resource server

	httpClient *http.Client
	logger     *slog.Logger

	// Кэш токена доступа
	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time

	// Кэш UUID клиента resource server
	resolveMu          sync.Mutex
	resourceClientUUID string
}

// New создаёт клиент к Keycloak Admin REST API.
// baseURL — базовый URL Keycloak (например, https://keycloak.example.com).
// realm — имя realm (например, metaform).
// clientID, clientSecret — credentials для Client Credentials flow.
// resourceClientID — clientId клиента, в котором хранятся ресурсы ответов.
// httpClient — HTTP-клиент (может содержать TLS конфигурацию).
func New(
	baseURL, realm, clientID, clientSecret, resourceClientID string,
	httpClient *http.Client,
	logger *slog.Logger,
) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		baseURL:          strings.TrimRight(baseURL, "/"),
		realm:            realm,
		clientID:         clientID,
		clientSecret:     clientSecret,
		resourceClientID: resourceClientID,
		httpClient:       httpClient,
		logger:           logger.With(slog.String("component", "keycloak_client")),
	}
}

// NewHTTPClient создаёт HTTP-клиент с кастомным CA-сертификатом.
// Пустой caCertPath — стандартный пул доверия.
func NewHTTPClient(caCertPath string, timeout time.Duration) (*http.Client, error) {
	if caCertPath == "" {
		return &http.Client{Timeout: timeout}, nil
	}

	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата %s: %w", caCertPath, err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("CA-сертификат %s не содержит PEM-блоков", caCertPath)
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs:    caCertPool,
				MinVersion: tls.VersionTLS12,
			},
		},
	}, nil
}

// --- Аутентификация ---

// tokenEndpoint возвращает URL endpoint'а получения токена.
func (c *Client) tokenEndpoint() string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", c.baseURL, c.realm)
}

// adminBaseURL возвращает базовый URL Admin REST API для realm.
func (c *Client) adminBaseURL() string {
	return fmt.Sprintf("%s/admin/realms/%s", c.baseURL, c.realm)
}

// getToken возвращает актуальный access token, обновляя при необходимости.
// Токен обновляется за 30 секунд до истечения.
func (c *Client) getToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Проверяем кэш: если токен валиден ещё 30 секунд — используем его
	if c.accessToken != "" && time.Now().Add(30*time.Second).Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	// Запрашиваем новый токен через Client Credentials flow
	token, err := c.requestToken(ctx)
	if err != nil {
		return "", err
	}

	c.accessToken = token.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)

	c.logger.Debug("Keycloak токен обновлён",
		slog.Time("expires_at", c.tokenExpiry),
	)

	return c.accessToken, nil
}

// requestToken выполняет Client Credentials flow.
func (c *Client) requestToken(ctx context.Context) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenEndpoint(), strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("создание запроса токена: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос токена Keycloak: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("Keycloak вернул статус %d при запросе токена: %s", resp.StatusCode, string(body))
	}

	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("декодирование токена Keycloak: %w", err)
	}

	return &token, nil
}

// --- HTTP helpers ---

// doAuthorized выполняет HTTP-запрос к Admin REST API с авторизацией.
func (c *Client) doAuthorized(ctx context.Context, method, path string, body any) (*http.Response, error) {
	token, err := c.getToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение токена: %w", err)
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("сериализация тела запроса: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	reqURL := c.adminBaseURL() + path
	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("создание запроса: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// statusError формирует ошибку по статусу ответа.
// 404 и 409 оборачивают ErrNotFound и ErrConflict.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, string(body))
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrConflict, string(body))
	default:
		return fmt.Errorf("Keycloak API вернул статус %d: %s", resp.StatusCode, string(body))
	}
}

// decodeResponse декодирует JSON ответ в target.
func decodeResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("декодирование ответа Keycloak: %w", err)
		}
	}

	return nil
}

// checkResponse проверяет статус ответа (для запросов без тела ответа).
func checkResponse(resp *http.Response, expectedStatus int) error {
	defer resp.Body.Close()

	if resp.StatusCode != expectedStatus {
		return statusError(resp)
	}

	return nil
}

// --- Clients API ---

// FindClients возвращает клиентов realm с точным совпадением clientId.
func (c *Client) FindClients(ctx context.Context, clientID string) ([]KeycloakClient, error) {
	resp, err := c.doAuthorized(ctx, http.MethodGet, "/clients?clientId="+url.QueryEscape(clientID), nil)
	if err != nil {
		return nil, err
	}

	var clients []KeycloakClient
	if err := decodeResponse(resp, &clients); err != nil {
		return nil, fmt.Errorf("FindClients: %w", err)
	}

	return clients, nil
}

// ResourceServerID возвращает внутренний UUID клиента resource server.
// Результат кэшируется; если клиент не найден — ErrClientNotResolved.
func (c *Client) ResourceServerID(ctx context.Context) (string, error) {
	c.resolveMu.Lock()
	defer c.resolveMu.Unlock()

	if c.resourceClientUUID != "" {
		return c.resourceClientUUID, nil
	}

	clients, err := c.FindClients(ctx, c.resourceClientID)
	if err != nil {
		return "", fmt.Errorf("поиск клиента %s: %w", c.resourceClientID, err)
	}

	for _, cl := range clients {
		if cl.ClientID == c.resourceClientID {
			c.resourceClientUUID = cl.ID
			c.logger.Info("Клиент resource server найден",
				slog.String("client_id", cl.ClientID),
				slog.String("id", cl.ID),
			)
			return cl.ID, nil
		}
	}

	return "", fmt.Errorf("%w: clientId=%s", ErrClientNotResolved, c.resourceClientID)
}

// --- Realm API ---

// RealmInfo возвращает информацию о realm.
func (c *Client) RealmInfo(ctx context.Context) (*RealmRepresentation, error) {
	resp, err := c.doAuthorized(ctx, http.MethodGet, "", nil)
	if err != nil {
		return nil, err
	}

	var realm RealmRepresentation
	if err := decodeResponse(resp, &realm); err != nil {
		return nil, fmt.Errorf("RealmInfo: %w", err)
	}

	return &realm, nil
}

// --- Readiness checker ---

// CheckReady проверяет доступность Keycloak через realm info.
// Реализует handlers.ReadinessChecker.
func (c *Client) CheckReady() (string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	realm, err := c.RealmInfo(ctx)
	if err != nil {
		return "fail", fmt.Sprintf("Keycloak недоступен: %v", err)
	}

	if !realm.Enabled {
		return "degraded", fmt.Sprintf("Realm %s отключён", realm.Realm)
	}

	return "ok", fmt.Sprintf("Realm %s доступен", realm.Realm)
}
