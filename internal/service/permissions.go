// permissions.go — проекция прав на ответ в Keycloak Authorization Services.
// Для каждого ответа: защищённый ресурс reply-<id> и по одному scope-разрешению
// на область доступа (reply-<id>-<scope>). Все объекты ищутся по имени,
// поэтому повторная синхронизация с теми же значениями ничего не дублирует.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Metatavu/metaform-api-sub001/internal/domain/model"
	"github.com/Metatavu/metaform-api-sub001/internal/domain/rbac"
	"github.com/Metatavu/metaform-api-sub001/internal/keycloak"
)

// ReplyResourceType — тип защищённого ресурса ответа.
const ReplyResourceType = "urn:metaform:resources:reply"

// defaultPermissionName — разрешение на тип ресурса, создаётся один раз на realm.
const defaultPermissionName = "replies-default-permission"

var permissionSyncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mf_permission_sync_total",
	Help: "Количество синхронизаций прав ответов с Keycloak.",
}, []string{"result"})

// AuthzClient — операции Keycloak Authorization Services, нужные синхронизатору.
type AuthzClient interface {
	EnsureScope(ctx context.Context, name string) error
	EnsureResource(ctx context.Context, res keycloak.ResourceRepresentation) (string, error)
	DeleteResource(ctx context.Context, id string) error
	FindPolicyByName(ctx context.Context, name string) (*keycloak.PolicyRepresentation, error)
	EnsureGroupPolicy(ctx context.Context, groupID string) (string, error)
	EnsureRolePolicy(ctx context.Context, name string, roles []string) (string, error)
	UpsertScopePermission(ctx context.Context, perm keycloak.PolicyRepresentation) (string, error)
	UpsertResourcePermission(ctx context.Context, perm keycloak.PolicyRepresentation) (string, error)
	DeletePolicy(ctx context.Context, id string) error
	Evaluate(ctx context.Context, userToken, resourceID, scope string) (bool, error)
}

// ReplyPermissions — проекция и проверка прав на ответ.
type ReplyPermissions interface {
	Sync(ctx context.Context, form *model.Metaform, reply *model.Reply, values map[string]model.FieldValue) (string, error)
	Remove(ctx context.Context, reply *model.Reply) error
	Check(ctx context.Context, userToken, resourceID string, scope model.Scope) (bool, error)
}

// PermissionService — синхронизатор прав ответов.
type PermissionService struct {
	authz      AuthzClient
	policies   rbac.PolicyNames
	adminRoles []string
	userRoles  []string
	locks      *keyedMutex
	logger     *slog.Logger
}

// NewPermissionService создаёт синхронизатор прав.
// adminRoles, userRoles — realm-роли, из которых строятся ролевые политики.
func NewPermissionService(
	authz AuthzClient,
	policies rbac.PolicyNames,
	adminRoles, userRoles []string,
	logger *slog.Logger,
) *PermissionService {
	return &PermissionService{
		authz:      authz,
		policies:   policies,
		adminRoles: adminRoles,
		userRoles:  userRoles,
		locks:      newKeyedMutex(),
		logger:     logger.With(slog.String("component", "permission_service")),
	}
}

// ReplyResourceName — имя защищённого ресурса ответа.
func ReplyResourceName(replyID string) string {
	return "reply-" + replyID
}

// ScopePermissionName — имя scope-разрешения ответа.
func ScopePermissionName(replyID string, scope model.Scope) string {
	return "reply-" + replyID + "-" + string(scope)
}

// EnsureDefaults подготавливает resource server при старте:
// scopes, ролевые политики администратора и пользователя, проверка политики владельца,
// разрешение по умолчанию на тип ресурса ответа (UNANIMOUS).
func (s *PermissionService) EnsureDefaults(ctx context.Context) error {
	for _, scope := range model.AllScopes {
		if err := s.authz.EnsureScope(ctx, string(scope)); err != nil {
			return fmt.Errorf("%w: scope %s: %w", ErrIDPUnavailable, scope, err)
		}
	}

	adminID, err := s.authz.EnsureRolePolicy(ctx, s.policies.Admin, s.adminRoles)
	if err != nil {
		return fmt.Errorf("%w: политика %s: %w", ErrIDPUnavailable, s.policies.Admin, err)
	}
	if _, err := s.authz.EnsureRolePolicy(ctx, s.policies.User, s.userRoles); err != nil {
		return fmt.Errorf("%w: политика %s: %w", ErrIDPUnavailable, s.policies.User, err)
	}

	// Политика владельца — JS-политика, через REST не создаётся
	if _, err := s.authz.FindPolicyByName(ctx, s.policies.Owner); err != nil {
		return fmt.Errorf("%w: политика владельца %s: %w", ErrIDPUnavailable, s.policies.Owner, err)
	}

	if _, err := s.authz.UpsertResourcePermission(ctx, keycloak.PolicyRepresentation{
		Name:             defaultPermissionName,
		Description:      "Доступ к ответам по умолчанию",
		ResourceType:     ReplyResourceType,
		DecisionStrategy: keycloak.DecisionUnanimous,
		Logic:            keycloak.LogicPositive,
		Policies:         []string{adminID},
	}); err != nil {
		return fmt.Errorf("%w: разрешение по умолчанию: %w", ErrIDPUnavailable, err)
	}

	s.logger.Info("Resource server подготовлен",
		slog.String("admin_policy", s.policies.Admin),
		slog.String("user_policy", s.policies.User),
		slog.String("owner_policy", s.policies.Owner),
	)
	return nil
}

// Sync проецирует права на ответ: создаёт ресурс при отсутствии и перезаписывает
// scope-разрешения по всем областям. Возвращает ID ресурса.
// Для одного ответа синхронизации выполняются последовательно.
func (s *PermissionService) Sync(
	ctx context.Context,
	form *model.Metaform,
	reply *model.Reply,
	values map[string]model.FieldValue,
) (string, error) {
	unlock := s.locks.Lock(reply.ID)
	defer unlock()

	resourceID, err := s.sync(ctx, form, reply, values)
	if err != nil {
		permissionSyncTotal.WithLabelValues("error").Inc()
		s.logger.Error("Ошибка синхронизации прав ответа",
			slog.String("reply_id", reply.ID),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("%w: %w", ErrIDPUnavailable, err)
	}
	permissionSyncTotal.WithLabelValues("ok").Inc()
	return resourceID, nil
}

func (s *PermissionService) sync(
	ctx context.Context,
	form *model.Metaform,
	reply *model.Reply,
	values map[string]model.FieldValue,
) (string, error) {
	resourceID, err := s.ensureResource(ctx, reply)
	if err != nil {
		return "", err
	}

	grants := rbac.ComputeGrants(form, values)
	implicit := rbac.ImplicitPolicies(form, s.policies)
	groupPolicies := make(map[string]string)

	for _, scope := range model.AllScopes {
		policies := append([]string(nil), implicit[scope]...)
		for _, groupID := range grants.Groups(scope) {
			policyID, ok := groupPolicies[groupID]
			if !ok {
				policyID, err = s.authz.EnsureGroupPolicy(ctx, groupID)
				if err != nil {
					return "", fmt.Errorf("политика группы %s: %w", groupID, err)
				}
				groupPolicies[groupID] = policyID
			}
			policies = append(policies, policyID)
		}

		if _, err := s.authz.UpsertScopePermission(ctx, keycloak.PolicyRepresentation{
			Name:             ScopePermissionName(reply.ID, scope),
			Logic:            keycloak.LogicPositive,
			DecisionStrategy: keycloak.DecisionAffirmative,
			Resources:        []string{resourceID},
			Scopes:           []string{string(scope)},
			Policies:         policies,
		}); err != nil {
			return "", fmt.Errorf("разрешение %s: %w", ScopePermissionName(reply.ID, scope), err)
		}
	}

	s.logger.Debug("Права ответа синхронизированы",
		slog.String("reply_id", reply.ID),
		slog.String("resource_id", resourceID),
		slog.Int("grants", len(grants.Permissions())),
	)
	return resourceID, nil
}

// ensureResource возвращает ресурс ответа. Сохранённый ID используется как есть,
// создание с поиском по имени при конфликте выполняется только при первой синхронизации.
func (s *PermissionService) ensureResource(ctx context.Context, reply *model.Reply) (string, error) {
	if reply.ResourceID != nil && *reply.ResourceID != "" {
		return *reply.ResourceID, nil
	}

	scopes := make([]keycloak.ScopeRepresentation, len(model.AllScopes))
	for i, scope := range model.AllScopes {
		scopes[i] = keycloak.ScopeRepresentation{Name: string(scope)}
	}

	res := keycloak.ResourceRepresentation{
		Name:   ReplyResourceName(reply.ID),
		Type:   ReplyResourceType,
		URIs:   []string{fmt.Sprintf("/v1/metaforms/%s/replies/%s", reply.MetaformID, reply.ID)},
		Scopes: scopes,
	}
	if reply.UserID != nil {
		res.Owner = &keycloak.ResourceOwner{ID: *reply.UserID}
	}

	resourceID, err := s.authz.EnsureResource(ctx, res)
	if err != nil {
		return "", fmt.Errorf("ресурс %s: %w", res.Name, err)
	}
	return resourceID, nil
}

// Remove удаляет scope-разрешения и ресурс ответа. Отсутствующие объекты пропускаются.
func (s *PermissionService) Remove(ctx context.Context, reply *model.Reply) error {
	unlock := s.locks.Lock(reply.ID)
	defer unlock()

	for _, scope := range model.AllScopes {
		name := ScopePermissionName(reply.ID, scope)
		perm, err := s.authz.FindPolicyByName(ctx, name)
		if errors.Is(err, keycloak.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: поиск разрешения %s: %w", ErrIDPUnavailable, name, err)
		}
		if err := s.authz.DeletePolicy(ctx, perm.ID); err != nil && !errors.Is(err, keycloak.ErrNotFound) {
			return fmt.Errorf("%w: удаление разрешения %s: %w", ErrIDPUnavailable, name, err)
		}
	}

	if reply.ResourceID != nil {
		if err := s.authz.DeleteResource(ctx, *reply.ResourceID); err != nil && !errors.Is(err, keycloak.ErrNotFound) {
			return fmt.Errorf("%w: удаление ресурса %s: %w", ErrIDPUnavailable, *reply.ResourceID, err)
		}
	}
	return nil
}

// Check проверяет через UMA, разрешена ли пользователю область на ресурс ответа.
func (s *PermissionService) Check(ctx context.Context, userToken, resourceID string, scope model.Scope) (bool, error) {
	allowed, err := s.authz.Evaluate(ctx, userToken, resourceID, string(scope))
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrIDPUnavailable, err)
	}
	return allowed, nil
}

// keyedMutex — мьютексы по ключу; запись удаляется, когда её никто не держит.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock захватывает мьютекс ключа и возвращает функцию освобождения.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
