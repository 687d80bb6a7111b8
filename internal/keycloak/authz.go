// authz.go — Keycloak Authorization Services (resource server клиента ответов):
// защищённые ресурсы, групповые и ролевые политики, разрешения на scope,
// проверка доступа пользователя через UMA.
// Все upsert-операции идемпотентны: объекты ищутся по детерминированному имени.
package keycloak

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// authzPath возвращает путь к resource server клиента ответов.
func (c *Client) authzPath(ctx context.Context, suffix string) (string, error) {
	id, err := c.ResourceServerID(ctx)
	if err != nil {
		return "", err
	}
	return "/clients/" + id + "/authz/resource-server/" + suffix, nil
}

// authzRequest выполняет запрос к resource server.
func (c *Client) authzRequest(ctx context.Context, method, suffix string, body any) (*http.Response, error) {
	path, err := c.authzPath(ctx, suffix)
	if err != nil {
		return nil, err
	}
	return c.doAuthorized(ctx, method, path, body)
}

// --- Scopes ---

// EnsureScope создаёт scope, если его ещё нет.
func (c *Client) EnsureScope(ctx context.Context, name string) error {
	resp, err := c.authzRequest(ctx, http.MethodPost, "scope", ScopeRepresentation{Name: name})
	if err != nil {
		return err
	}
	if err := decodeResponse(resp, nil); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil
		}
		return fmt.Errorf("EnsureScope %s: %w", name, err)
	}
	return nil
}

// --- Resources ---

// CreateResource создаёт защищённый ресурс. Ресурс с тем же именем — ErrConflict.
func (c *Client) CreateResource(ctx context.Context, res ResourceRepresentation) (*ResourceRepresentation, error) {
	resp, err := c.authzRequest(ctx, http.MethodPost, "resource", res)
	if err != nil {
		return nil, err
	}

	var created ResourceRepresentation
	if err := decodeResponse(resp, &created); err != nil {
		return nil, fmt.Errorf("CreateResource %s: %w", res.Name, err)
	}
	return &created, nil
}

// FindResourcesByName возвращает ресурсы с точным совпадением имени.
func (c *Client) FindResourcesByName(ctx context.Context, name string) ([]ResourceRepresentation, error) {
	resp, err := c.authzRequest(ctx, http.MethodGet,
		"resource?exactName=true&deep=false&name="+url.QueryEscape(name), nil)
	if err != nil {
		return nil, err
	}

	var found []ResourceRepresentation
	if err := decodeResponse(resp, &found); err != nil {
		return nil, fmt.Errorf("FindResourcesByName %s: %w", name, err)
	}

	result := found[:0]
	for _, r := range found {
		if r.Name == name {
			result = append(result, r)
		}
	}
	return result, nil
}

// EnsureResource создаёт ресурс или, при конфликте имени, находит существующий.
// Больше одного ресурса с тем же именем — ErrAmbiguous.
func (c *Client) EnsureResource(ctx context.Context, res ResourceRepresentation) (string, error) {
	created, err := c.CreateResource(ctx, res)
	if err == nil {
		return created.ID, nil
	}
	if !errors.Is(err, ErrConflict) {
		return "", err
	}

	found, err := c.FindResourcesByName(ctx, res.Name)
	if err != nil {
		return "", err
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("%w: ресурс %s после конфликта создания", ErrNotFound, res.Name)
	case 1:
		c.logger.Debug("Ресурс уже существует",
			slog.String("name", res.Name),
			slog.String("id", found[0].ID),
		)
		return found[0].ID, nil
	default:
		return "", fmt.Errorf("%w: ресурс %s (%d шт.)", ErrAmbiguous, res.Name, len(found))
	}
}

// DeleteResource удаляет защищённый ресурс.
func (c *Client) DeleteResource(ctx context.Context, id string) error {
	resp, err := c.authzRequest(ctx, http.MethodDelete, "resource/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	if err := checkResponse(resp, http.StatusNoContent); err != nil {
		return fmt.Errorf("DeleteResource %s: %w", id, err)
	}
	return nil
}

// --- Policies ---

// FindPolicyByName ищет политику или разрешение по точному имени.
// Нет совпадений — ErrNotFound, больше одного — ErrAmbiguous.
func (c *Client) FindPolicyByName(ctx context.Context, name string) (*PolicyRepresentation, error) {
	resp, err := c.authzRequest(ctx, http.MethodGet,
		"policy?first=0&max=20&permission=&name="+url.QueryEscape(name), nil)
	if err != nil {
		return nil, err
	}

	var found []PolicyRepresentation
	if err := decodeResponse(resp, &found); err != nil {
		return nil, fmt.Errorf("FindPolicyByName %s: %w", name, err)
	}

	var match []PolicyRepresentation
	for _, p := range found {
		if p.Name == name {
			match = append(match, p)
		}
	}
	switch len(match) {
	case 0:
		return nil, fmt.Errorf("%w: политика %s", ErrNotFound, name)
	case 1:
		return &match[0], nil
	default:
		return nil, fmt.Errorf("%w: политика %s", ErrAmbiguous, name)
	}
}

// GroupPolicyName — имя групповой политики для группы Keycloak.
func GroupPolicyName(groupID string) string {
	return "group-" + groupID
}

// EnsureGroupPolicy возвращает ID групповой политики для группы, создавая её при отсутствии.
func (c *Client) EnsureGroupPolicy(ctx context.Context, groupID string) (string, error) {
	return c.ensurePolicy(ctx, "policy/group", PolicyRepresentation{
		Name:             GroupPolicyName(groupID),
		Description:      "Члены группы " + groupID,
		Logic:            LogicPositive,
		DecisionStrategy: DecisionUnanimous,
		Groups:           []GroupDefinition{{ID: groupID}},
	})
}

// EnsureRolePolicy возвращает ID ролевой политики с указанным именем, создавая её при отсутствии.
// Достаточно любой из ролей.
func (c *Client) EnsureRolePolicy(ctx context.Context, name string, roles []string) (string, error) {
	defs := make([]RoleDefinition, len(roles))
	for i, r := range roles {
		defs[i] = RoleDefinition{ID: r}
	}
	return c.ensurePolicy(ctx, "policy/role", PolicyRepresentation{
		Name:             name,
		Description:      "Realm-роли: " + strings.Join(roles, ", "),
		Logic:            LogicPositive,
		DecisionStrategy: DecisionUnanimous,
		Roles:            defs,
	})
}

// ensurePolicy ищет политику по имени и создаёт её при отсутствии.
// Конфликт при создании (параллельный запрос) разрешается повторным поиском.
func (c *Client) ensurePolicy(ctx context.Context, suffix string, policy PolicyRepresentation) (string, error) {
	existing, err := c.FindPolicyByName(ctx, policy.Name)
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	resp, err := c.authzRequest(ctx, http.MethodPost, suffix, policy)
	if err != nil {
		return "", err
	}
	var created PolicyRepresentation
	if err := decodeResponse(resp, &created); err != nil {
		if errors.Is(err, ErrConflict) {
			existing, findErr := c.FindPolicyByName(ctx, policy.Name)
			if findErr != nil {
				return "", findErr
			}
			return existing.ID, nil
		}
		return "", fmt.Errorf("создание политики %s: %w", policy.Name, err)
	}

	c.logger.Info("Политика создана",
		slog.String("name", created.Name),
		slog.String("id", created.ID),
	)
	return created.ID, nil
}

// --- Permissions ---

// UpsertScopePermission создаёт или обновляет разрешение на scope по имени.
func (c *Client) UpsertScopePermission(ctx context.Context, perm PolicyRepresentation) (string, error) {
	perm.Type = "scope"
	return c.upsertPermission(ctx, "permission/scope", perm)
}

// UpsertResourcePermission создаёт или обновляет разрешение на ресурс (или тип ресурса) по имени.
func (c *Client) UpsertResourcePermission(ctx context.Context, perm PolicyRepresentation) (string, error) {
	perm.Type = "resource"
	return c.upsertPermission(ctx, "permission/resource", perm)
}

// upsertPermission: поиск по имени → PUT существующего или POST нового.
func (c *Client) upsertPermission(ctx context.Context, suffix string, perm PolicyRepresentation) (string, error) {
	existing, err := c.FindPolicyByName(ctx, perm.Name)
	switch {
	case err == nil:
		return existing.ID, c.updatePermission(ctx, suffix, existing.ID, perm)
	case !errors.Is(err, ErrNotFound):
		return "", err
	}

	resp, err := c.authzRequest(ctx, http.MethodPost, suffix, perm)
	if err != nil {
		return "", err
	}
	var created PolicyRepresentation
	if err := decodeResponse(resp, &created); err != nil {
		if !errors.Is(err, ErrConflict) {
			return "", fmt.Errorf("создание разрешения %s: %w", perm.Name, err)
		}
		existing, findErr := c.FindPolicyByName(ctx, perm.Name)
		if findErr != nil {
			return "", findErr
		}
		return existing.ID, c.updatePermission(ctx, suffix, existing.ID, perm)
	}
	return created.ID, nil
}

// updatePermission перезаписывает разрешение целиком.
func (c *Client) updatePermission(ctx context.Context, suffix, id string, perm PolicyRepresentation) error {
	perm.ID = id
	resp, err := c.authzRequest(ctx, http.MethodPut, suffix+"/"+url.PathEscape(id), perm)
	if err != nil {
		return err
	}
	// Keycloak отвечает 201 или 204 в зависимости от версии
	if err := decodeResponse(resp, nil); err != nil {
		return fmt.Errorf("обновление разрешения %s: %w", perm.Name, err)
	}
	return nil
}

// DeletePolicy удаляет политику или разрешение по ID.
func (c *Client) DeletePolicy(ctx context.Context, id string) error {
	resp, err := c.authzRequest(ctx, http.MethodDelete, "policy/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	if err := checkResponse(resp, http.StatusNoContent); err != nil {
		return fmt.Errorf("DeletePolicy %s: %w", id, err)
	}
	return nil
}

// --- UMA ---

// Evaluate проверяет через UMA, разрешён ли пользователю scope на ресурс.
// userToken — access token пользователя. Отказ в доступе — (false, nil).
func (c *Client) Evaluate(ctx context.Context, userToken, resourceID, scope string) (bool, error) {
	data := url.Values{
		"grant_type":    {"urn:ietf:params:oauth:grant-type:uma-ticket"},
		"audience":      {c.resourceClientID},
		"permission":    {resourceID + "#" + scope},
		"response_mode": {"decision"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenEndpoint(), strings.NewReader(data.Encode()))
	if err != nil {
		return false, fmt.Errorf("создание UMA-запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+userToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("UMA-запрос к Keycloak: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var decision umaDecision
		if err := decodeResponse(resp, &decision); err != nil {
			return false, err
		}
		return decision.Result, nil
	case http.StatusForbidden, http.StatusUnauthorized:
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, nil
	default:
		return false, fmt.Errorf("UMA: %w", statusError(resp))
	}
}
