package service

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/Metatavu/metaform-api-sub001/internal/domain/model"
	"github.com/Metatavu/metaform-api-sub001/internal/domain/rbac"
	"github.com/Metatavu/metaform-api-sub001/internal/keycloak"
)

var testPolicies = rbac.PolicyNames{Admin: "metaform-admin", Owner: "owner", User: "user"}

func newTestPermissionService(authz AuthzClient) *PermissionService {
	return NewPermissionService(authz, testPolicies, []string{"metaform-admin"}, []string{"user"}, testLogger())
}

// TestPermissionService_Sync проверяет состав scope-разрешений ответа.
func TestPermissionService_Sync(t *testing.T) {
	authz := newMockAuthz()
	svc := newTestPermissionService(authz)
	form := testForm(model.ReplyStrategyUpdate, true)
	reply := &model.Reply{ID: "r-1", MetaformID: form.ID, UserID: strPtr("user-alice")}

	resourceID, err := svc.Sync(context.Background(), form, reply, map[string]model.FieldValue{
		"status": model.StringValue("urgent"),
	})
	if err != nil {
		t.Fatalf("Sync ошибка: %v", err)
	}
	if resourceID != "rid-reply-r-1" {
		t.Errorf("resourceID = %s", resourceID)
	}

	tests := []struct {
		scope    model.Scope
		policies []string
	}{
		{model.ScopeCreate, []string{"metaform-admin", "owner"}},
		{model.ScopeView, []string{"metaform-admin", "owner", "user", "pid-group-g-duty"}},
		{model.ScopeEdit, []string{"metaform-admin", "owner", "pid-group-g-editors"}},
		{model.ScopeNotify, []string{"metaform-admin", "owner"}},
	}
	for _, tt := range tests {
		perm, ok := authz.policies[ScopePermissionName("r-1", tt.scope)]
		if !ok {
			t.Errorf("разрешение для %s не создано", tt.scope)
			continue
		}
		if !reflect.DeepEqual(perm.Policies, tt.policies) {
			t.Errorf("%s: политики = %v, ожидались %v", tt.scope, perm.Policies, tt.policies)
		}
		if perm.DecisionStrategy != keycloak.DecisionAffirmative {
			t.Errorf("%s: стратегия = %s", tt.scope, perm.DecisionStrategy)
		}
		if !reflect.DeepEqual(perm.Resources, []string{resourceID}) || !reflect.DeepEqual(perm.Scopes, []string{string(tt.scope)}) {
			t.Errorf("%s: ресурсы %v, scopes %v", tt.scope, perm.Resources, perm.Scopes)
		}
	}
}

// TestPermissionService_SyncReusesResource проверяет, что ресурс создаётся
// только при первой синхронизации, дальше используется сохранённый ID.
func TestPermissionService_SyncReusesResource(t *testing.T) {
	authz := newMockAuthz()
	svc := newTestPermissionService(authz)
	form := testForm(model.ReplyStrategyUpdate, false)
	reply := &model.Reply{ID: "r-1", MetaformID: form.ID}

	first, err := svc.Sync(context.Background(), form, reply, nil)
	if err != nil {
		t.Fatalf("Sync ошибка: %v", err)
	}
	if authz.ensureCalls != 1 {
		t.Fatalf("EnsureResource вызван %d раз, ожидался 1", authz.ensureCalls)
	}

	reply.ResourceID = &first
	second, err := svc.Sync(context.Background(), form, reply, nil)
	if err != nil {
		t.Fatalf("повторный Sync ошибка: %v", err)
	}
	if second != first {
		t.Errorf("resourceID = %s, ожидался %s", second, first)
	}
	if authz.ensureCalls != 1 {
		t.Errorf("EnsureResource вызван повторно: %d", authz.ensureCalls)
	}

	stored := "rid-stored"
	other := &model.Reply{ID: "r-2", MetaformID: form.ID, ResourceID: &stored}
	if _, err := svc.Sync(context.Background(), form, other, nil); err != nil {
		t.Fatalf("Sync ошибка: %v", err)
	}
	perm := authz.policies[ScopePermissionName("r-2", model.ScopeView)]
	if !reflect.DeepEqual(perm.Resources, []string{stored}) {
		t.Errorf("ресурсы разрешения = %v, ожидался %s", perm.Resources, stored)
	}
}

// TestPermissionService_SyncIdempotent проверяет, что повторная синхронизация
// ничего не создаёт заново и даёт тот же набор разрешений.
func TestPermissionService_SyncIdempotent(t *testing.T) {
	authz := newMockAuthz()
	svc := newTestPermissionService(authz)
	form := testForm(model.ReplyStrategyUpdate, false)
	reply := &model.Reply{ID: "r-1", MetaformID: form.ID}
	values := map[string]model.FieldValue{"status": model.StringValue("urgent")}

	if _, err := svc.Sync(context.Background(), form, reply, values); err != nil {
		t.Fatalf("Sync ошибка: %v", err)
	}
	creates := authz.creates
	snapshot := make(map[string]keycloak.PolicyRepresentation, len(authz.policies))
	for k, v := range authz.policies {
		snapshot[k] = v
	}

	if _, err := svc.Sync(context.Background(), form, reply, values); err != nil {
		t.Fatalf("повторный Sync ошибка: %v", err)
	}
	if authz.creates != creates {
		t.Errorf("повторный Sync создал %d объектов", authz.creates-creates)
	}
	if !reflect.DeepEqual(snapshot, authz.policies) {
		t.Error("повторный Sync изменил разрешения")
	}
	if len(authz.resources) != 1 {
		t.Errorf("ресурсов: %d, ожидался 1", len(authz.resources))
	}
}

// TestPermissionService_SyncValueChange проверяет снятие динамического права
// при смене значения поля.
func TestPermissionService_SyncValueChange(t *testing.T) {
	authz := newMockAuthz()
	svc := newTestPermissionService(authz)
	form := testForm(model.ReplyStrategyUpdate, false)
	reply := &model.Reply{ID: "r-1", MetaformID: form.ID}

	if _, err := svc.Sync(context.Background(), form, reply, map[string]model.FieldValue{"status": model.StringValue("urgent")}); err != nil {
		t.Fatalf("Sync ошибка: %v", err)
	}
	if _, err := svc.Sync(context.Background(), form, reply, map[string]model.FieldValue{"status": model.StringValue("normal")}); err != nil {
		t.Fatalf("Sync ошибка: %v", err)
	}

	view := authz.policies[ScopePermissionName("r-1", model.ScopeView)]
	if !reflect.DeepEqual(view.Policies, []string{"metaform-admin", "owner"}) {
		t.Errorf("политики просмотра = %v", view.Policies)
	}
}

// TestPermissionService_SyncError проверяет, что ошибка Keycloak не проглатывается.
func TestPermissionService_SyncError(t *testing.T) {
	authz := newMockAuthz()
	authz.resourceErr = keycloak.ErrClientNotResolved
	svc := newTestPermissionService(authz)
	form := testForm(model.ReplyStrategyUpdate, false)

	_, err := svc.Sync(context.Background(), form, &model.Reply{ID: "r-1", MetaformID: form.ID}, nil)
	if !errors.Is(err, ErrIDPUnavailable) || !errors.Is(err, keycloak.ErrClientNotResolved) {
		t.Errorf("ошибка = %v, ожидались ErrIDPUnavailable и ErrClientNotResolved", err)
	}
}

// TestPermissionService_EnsureDefaults проверяет подготовку resource server.
func TestPermissionService_EnsureDefaults(t *testing.T) {
	authz := newMockAuthz()
	svc := newTestPermissionService(authz)

	// Без политики владельца подготовка невозможна
	if err := svc.EnsureDefaults(context.Background()); !errors.Is(err, ErrIDPUnavailable) {
		t.Fatalf("ошибка = %v, ожидалась ErrIDPUnavailable", err)
	}

	authz.policies["owner"] = keycloak.PolicyRepresentation{ID: "owner-id", Name: "owner"}
	if err := svc.EnsureDefaults(context.Background()); err != nil {
		t.Fatalf("EnsureDefaults ошибка: %v", err)
	}

	for _, scope := range model.AllScopes {
		if !authz.scopes[string(scope)] {
			t.Errorf("scope %s не создан", scope)
		}
	}
	def, ok := authz.policies[defaultPermissionName]
	if !ok {
		t.Fatal("разрешение по умолчанию не создано")
	}
	if def.DecisionStrategy != keycloak.DecisionUnanimous || def.ResourceType != ReplyResourceType || def.Type != "resource" {
		t.Errorf("разрешение по умолчанию = %+v", def)
	}
	if _, ok := authz.policies["user"]; !ok {
		t.Error("политика пользователя не создана")
	}
}

// TestPermissionService_Remove проверяет удаление разрешений и ресурса.
func TestPermissionService_Remove(t *testing.T) {
	authz := newMockAuthz()
	svc := newTestPermissionService(authz)
	form := testForm(model.ReplyStrategyUpdate, false)
	reply := &model.Reply{ID: "r-1", MetaformID: form.ID}

	resourceID, err := svc.Sync(context.Background(), form, reply, nil)
	if err != nil {
		t.Fatalf("Sync ошибка: %v", err)
	}
	reply.ResourceID = &resourceID

	if err := svc.Remove(context.Background(), reply); err != nil {
		t.Fatalf("Remove ошибка: %v", err)
	}
	for _, scope := range model.AllScopes {
		if _, ok := authz.policies[ScopePermissionName("r-1", scope)]; ok {
			t.Errorf("разрешение %s не удалено", scope)
		}
	}
	if len(authz.resources) != 0 {
		t.Error("ресурс не удалён")
	}

	// Повторное удаление не ошибка
	if err := svc.Remove(context.Background(), reply); err != nil {
		t.Errorf("повторный Remove ошибка: %v", err)
	}
}

// TestPermissionService_Check проверяет маппинг ошибки UMA.
func TestPermissionService_Check(t *testing.T) {
	authz := newMockAuthz()
	authz.evaluateFn = func(_ context.Context, token, resourceID, scope string) (bool, error) {
		if token == "broken" {
			return false, errors.New("connection refused")
		}
		return resourceID == "res-1" && scope == string(model.ScopeView), nil
	}
	svc := newTestPermissionService(authz)

	ok, err := svc.Check(context.Background(), "t", "res-1", model.ScopeView)
	if err != nil || !ok {
		t.Errorf("Check = %v, %v", ok, err)
	}
	ok, err = svc.Check(context.Background(), "t", "res-1", model.ScopeEdit)
	if err != nil || ok {
		t.Errorf("Check(edit) = %v, %v", ok, err)
	}
	if _, err := svc.Check(context.Background(), "broken", "res-1", model.ScopeView); !errors.Is(err, ErrIDPUnavailable) {
		t.Errorf("ошибка = %v, ожидалась ErrIDPUnavailable", err)
	}
}

// TestKeyedMutex проверяет взаимное исключение по ключу и очистку записей.
func TestKeyedMutex(t *testing.T) {
	km := newKeyedMutex()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("reply-1")
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("одновременно удерживали ключ: %d", maxSeen)
	}
	if len(km.locks) != 0 {
		t.Errorf("записей после освобождения: %d", len(km.locks))
	}

	// Разные ключи не блокируют друг друга
	unlockA := km.Lock("a")
	done := make(chan struct{})
	go func() {
		km.Lock("b")()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("ключ b заблокирован ключом a")
	}
	unlockA()
}
