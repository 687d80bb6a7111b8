// Пакет keycloak — HTTP-клиент к Keycloak Admin REST API и Authorization Services.
// models.go — модели данных Keycloak.
package keycloak

// TokenResponse — ответ на запрос токена через Client Credentials flow.
type TokenResponse struct {
	AccessToken string `json:"access_token"` //nolint:gosec // G117: структура токена OAuth2
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// KeycloakClient — клиент (application) в Keycloak.
type KeycloakClient struct { //nolint:revive // stuttering допустим — внешний API Keycloak
	ID                           string `json:"id"`
	ClientID                     string `json:"clientId"`
	Name                         string `json:"name,omitempty"`
	Enabled                      bool   `json:"enabled"`
	AuthorizationServicesEnabled bool   `json:"authorizationServicesEnabled"`
}

// RealmRepresentation — краткая информация о realm.
type RealmRepresentation struct {
	Realm   string `json:"realm"`
	Enabled bool   `json:"enabled"`
}

// Стратегии принятия решения и логика политик.
const (
	DecisionAffirmative = "AFFIRMATIVE"
	DecisionUnanimous   = "UNANIMOUS"
	LogicPositive       = "POSITIVE"
)

// ResourceOwner — владелец защищённого ресурса.
type ResourceOwner struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// ScopeRepresentation — scope resource server.
type ScopeRepresentation struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// ResourceRepresentation — защищённый ресурс.
type ResourceRepresentation struct {
	ID                 string                `json:"_id,omitempty"`
	Name               string                `json:"name"`
	Type               string                `json:"type,omitempty"`
	URIs               []string              `json:"uris,omitempty"`
	Owner              *ResourceOwner        `json:"owner,omitempty"`
	OwnerManagedAccess bool                  `json:"ownerManagedAccess"`
	Scopes             []ScopeRepresentation `json:"scopes,omitempty"`
}

// GroupDefinition — группа в групповой политике.
type GroupDefinition struct {
	ID             string `json:"id"`
	ExtendChildren bool   `json:"extendChildren"`
}

// RoleDefinition — роль в ролевой политике.
type RoleDefinition struct {
	ID       string `json:"id"`
	Required bool   `json:"required"`
}

// PolicyRepresentation — политика или разрешение resource server.
// Разрешения (scope / resource) — это политики с типом "scope" / "resource".
type PolicyRepresentation struct {
	ID               string            `json:"id,omitempty"`
	Name             string            `json:"name"`
	Description      string            `json:"description,omitempty"`
	Type             string            `json:"type,omitempty"`
	Logic            string            `json:"logic,omitempty"`
	DecisionStrategy string            `json:"decisionStrategy,omitempty"`
	Groups           []GroupDefinition `json:"groups,omitempty"`
	Roles            []RoleDefinition  `json:"roles,omitempty"`
	Resources        []string          `json:"resources,omitempty"`
	ResourceType     string            `json:"resourceType,omitempty"`
	Scopes           []string          `json:"scopes,omitempty"`
	Policies         []string          `json:"policies,omitempty"`
}

// umaDecision — ответ token endpoint при response_mode=decision.
type umaDecision struct {
	Result bool `json:"result"`
}
