package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/Metatavu/metaform-api-sub001/internal/domain/model"
	"github.com/Metatavu/metaform-api-sub001/internal/keycloak"
	"github.com/Metatavu/metaform-api-sub001/internal/repository"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- In-memory Store ---

// memStore — мок repository.Store в памяти. InTx откатывает изменения при ошибке.
type memStore struct {
	replies map[string]*model.Reply
	fields  map[string]map[string]model.FieldValue
	clock   time.Time

	// lastFilter — последний фильтр, переданный в Replies().List
	lastFilter model.ReplyListFilter
	// listErr — ошибка, возвращаемая Replies().List
	listErr error
}

func newMemStore() *memStore {
	return &memStore{
		replies: make(map[string]*model.Reply),
		fields:  make(map[string]map[string]model.FieldValue),
		clock:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (s *memStore) Replies() repository.ReplyRepository         { return &memReplies{s: s} }
func (s *memStore) Fields() repository.FieldRepository          { return &memFields{s: s} }
func (s *memStore) Metaforms() repository.MetaformRepository    { return nil }
func (s *memStore) Attachments() repository.AttachmentRepository { return nil }

func (s *memStore) InTx(_ context.Context, fn func(tx repository.Store) error) error {
	replies := make(map[string]*model.Reply, len(s.replies))
	for id, r := range s.replies {
		cp := *r
		replies[id] = &cp
	}
	fields := make(map[string]map[string]model.FieldValue, len(s.fields))
	for id, f := range s.fields {
		cp := make(map[string]model.FieldValue, len(f))
		for k, v := range f {
			cp[k] = v
		}
		fields[id] = cp
	}

	if err := fn(s); err != nil {
		s.replies = replies
		s.fields = fields
		return err
	}
	return nil
}

func (s *memStore) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

// current возвращает актуальные ответы пользователя на форму.
func (s *memStore) current(metaformID, userID string) []*model.Reply {
	var result []*model.Reply
	for _, r := range s.replies {
		if r.MetaformID == metaformID && r.UserID != nil && *r.UserID == userID && r.Revision == nil {
			result = append(result, r)
		}
	}
	return result
}

type memReplies struct{ s *memStore }

func (m *memReplies) Create(_ context.Context, reply *model.Reply) error {
	if reply.UserID != nil && len(m.s.current(reply.MetaformID, *reply.UserID)) > 0 && reply.Revision == nil {
		return fmt.Errorf("%w: актуальный ответ уже есть", repository.ErrConflict)
	}
	now := m.s.tick()
	reply.CreatedAt, reply.ModifiedAt = now, now
	cp := *reply
	m.s.replies[reply.ID] = &cp
	return nil
}

func (m *memReplies) GetByID(_ context.Context, id string) (*model.Reply, error) {
	r, ok := m.s.replies[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memReplies) FindCurrent(_ context.Context, metaformID, userID string) (*model.Reply, error) {
	cur := m.s.current(metaformID, userID)
	if len(cur) == 0 {
		return nil, repository.ErrNotFound
	}
	cp := *cur[0]
	return &cp, nil
}

func (m *memReplies) MarkRevision(_ context.Context, id string, at time.Time) error {
	r, ok := m.s.replies[id]
	if !ok || r.Revision != nil {
		return repository.ErrNotFound
	}
	r.Revision = &at
	return nil
}

func (m *memReplies) Touch(_ context.Context, id string, modifiedBy *string) error {
	r, ok := m.s.replies[id]
	if !ok || r.Revision != nil {
		return repository.ErrNotFound
	}
	r.LastModifiedBy = modifiedBy
	r.ModifiedAt = m.s.tick()
	return nil
}

func (m *memReplies) SetResourceID(_ context.Context, id, resourceID string) error {
	r, ok := m.s.replies[id]
	if !ok {
		return repository.ErrNotFound
	}
	r.ResourceID = &resourceID
	return nil
}

func (m *memReplies) List(_ context.Context, filter model.ReplyListFilter) ([]*model.Reply, error) {
	m.s.lastFilter = filter
	if m.s.listErr != nil {
		return nil, m.s.listErr
	}
	var result []*model.Reply
	for _, r := range m.s.replies {
		if r.MetaformID != filter.MetaformID {
			continue
		}
		if !filter.IncludeRevisions && r.Revision != nil {
			continue
		}
		cp := *r
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (m *memReplies) ListChain(_ context.Context, reply *model.Reply) ([]*model.Reply, error) {
	if reply.UserID == nil {
		cp := *reply
		return []*model.Reply{&cp}, nil
	}
	var result []*model.Reply
	for _, r := range m.s.replies {
		if r.MetaformID == reply.MetaformID && r.UserID != nil && *r.UserID == *reply.UserID {
			cp := *r
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *memReplies) Delete(_ context.Context, ids []string) error {
	for _, id := range ids {
		delete(m.s.replies, id)
		delete(m.s.fields, id)
	}
	return nil
}

type memFields struct{ s *memStore }

func (m *memFields) SetField(_ context.Context, replyID, name string, value model.FieldValue) error {
	f, ok := m.s.fields[replyID]
	if !ok {
		f = make(map[string]model.FieldValue)
		m.s.fields[replyID] = f
	}
	f[name] = value
	return nil
}

func (m *memFields) ListFieldNames(_ context.Context, replyID string) ([]string, error) {
	names := make([]string, 0, len(m.s.fields[replyID]))
	for name := range m.s.fields[replyID] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *memFields) DeleteFields(_ context.Context, replyID string, names []string) error {
	for _, name := range names {
		delete(m.s.fields[replyID], name)
	}
	return nil
}

func (m *memFields) ListFields(ctx context.Context, replyID string) ([]model.Field, error) {
	names, _ := m.ListFieldNames(ctx, replyID)
	result := make([]model.Field, len(names))
	for i, name := range names {
		result[i] = model.Field{ReplyID: replyID, Name: name, Value: m.s.fields[replyID][name]}
	}
	return result, nil
}

// --- Mock MetaformProvider ---

type mockForms struct {
	forms map[string]*model.Metaform
}

func (m *mockForms) Get(_ context.Context, id string) (*model.Metaform, error) {
	if f, ok := m.forms[id]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("%w: форма %s", ErrNotFound, id)
}

// --- Mock ReplyPermissions ---

type mockPerms struct {
	syncFn   func(ctx context.Context, form *model.Metaform, reply *model.Reply, values map[string]model.FieldValue) (string, error)
	removeFn func(ctx context.Context, reply *model.Reply) error
	checkFn  func(ctx context.Context, userToken, resourceID string, scope model.Scope) (bool, error)

	synced  []string
	removed []string
}

func (m *mockPerms) Sync(ctx context.Context, form *model.Metaform, reply *model.Reply, values map[string]model.FieldValue) (string, error) {
	m.synced = append(m.synced, reply.ID)
	if m.syncFn != nil {
		return m.syncFn(ctx, form, reply, values)
	}
	return "res-" + reply.ID, nil
}

func (m *mockPerms) Remove(ctx context.Context, reply *model.Reply) error {
	m.removed = append(m.removed, reply.ID)
	if m.removeFn != nil {
		return m.removeFn(ctx, reply)
	}
	return nil
}

func (m *mockPerms) Check(ctx context.Context, userToken, resourceID string, scope model.Scope) (bool, error) {
	if m.checkFn != nil {
		return m.checkFn(ctx, userToken, resourceID, scope)
	}
	return false, nil
}

// --- Mock AuthzClient ---

// mockAuthz — мок Keycloak Authorization Services. По умолчанию хранит объекты
// в памяти по имени, чтобы проверять идемпотентность.
type mockAuthz struct {
	resources   map[string]string
	policies    map[string]keycloak.PolicyRepresentation
	scopes      map[string]bool
	creates     int
	ensureCalls int
	evaluateFn  func(ctx context.Context, userToken, resourceID, scope string) (bool, error)
	resourceErr error
	deleted     []string
}

func newMockAuthz() *mockAuthz {
	return &mockAuthz{
		resources: make(map[string]string),
		policies:  make(map[string]keycloak.PolicyRepresentation),
		scopes:    make(map[string]bool),
	}
}

func (m *mockAuthz) EnsureScope(_ context.Context, name string) error {
	m.scopes[name] = true
	return nil
}

func (m *mockAuthz) EnsureResource(_ context.Context, res keycloak.ResourceRepresentation) (string, error) {
	m.ensureCalls++
	if m.resourceErr != nil {
		return "", m.resourceErr
	}
	if id, ok := m.resources[res.Name]; ok {
		return id, nil
	}
	m.creates++
	id := "rid-" + res.Name
	m.resources[res.Name] = id
	return id, nil
}

func (m *mockAuthz) DeleteResource(_ context.Context, id string) error {
	for name, rid := range m.resources {
		if rid == id {
			delete(m.resources, name)
			m.deleted = append(m.deleted, id)
			return nil
		}
	}
	return keycloak.ErrNotFound
}

func (m *mockAuthz) FindPolicyByName(_ context.Context, name string) (*keycloak.PolicyRepresentation, error) {
	p, ok := m.policies[name]
	if !ok {
		return nil, keycloak.ErrNotFound
	}
	return &p, nil
}

func (m *mockAuthz) ensure(p keycloak.PolicyRepresentation) string {
	if existing, ok := m.policies[p.Name]; ok {
		return existing.ID
	}
	m.creates++
	p.ID = "pid-" + p.Name
	m.policies[p.Name] = p
	return p.ID
}

func (m *mockAuthz) EnsureGroupPolicy(_ context.Context, groupID string) (string, error) {
	return m.ensure(keycloak.PolicyRepresentation{
		Name:   keycloak.GroupPolicyName(groupID),
		Groups: []keycloak.GroupDefinition{{ID: groupID}},
	}), nil
}

func (m *mockAuthz) EnsureRolePolicy(_ context.Context, name string, roles []string) (string, error) {
	defs := make([]keycloak.RoleDefinition, len(roles))
	for i, r := range roles {
		defs[i] = keycloak.RoleDefinition{ID: r}
	}
	return m.ensure(keycloak.PolicyRepresentation{Name: name, Roles: defs}), nil
}

func (m *mockAuthz) upsert(perm keycloak.PolicyRepresentation) string {
	if existing, ok := m.policies[perm.Name]; ok {
		perm.ID = existing.ID
		m.policies[perm.Name] = perm
		return perm.ID
	}
	m.creates++
	perm.ID = "pid-" + perm.Name
	m.policies[perm.Name] = perm
	return perm.ID
}

func (m *mockAuthz) UpsertScopePermission(_ context.Context, perm keycloak.PolicyRepresentation) (string, error) {
	perm.Type = "scope"
	return m.upsert(perm), nil
}

func (m *mockAuthz) UpsertResourcePermission(_ context.Context, perm keycloak.PolicyRepresentation) (string, error) {
	perm.Type = "resource"
	return m.upsert(perm), nil
}

func (m *mockAuthz) DeletePolicy(_ context.Context, id string) error {
	for name, p := range m.policies {
		if p.ID == id {
			delete(m.policies, name)
			m.deleted = append(m.deleted, id)
			return nil
		}
	}
	return keycloak.ErrNotFound
}

func (m *mockAuthz) Evaluate(ctx context.Context, userToken, resourceID, scope string) (bool, error) {
	if m.evaluateFn != nil {
		return m.evaluateFn(ctx, userToken, resourceID, scope)
	}
	return false, nil
}

// --- Фикстуры ---

// testForm возвращает форму со всеми вариантами хранения.
func testForm(strategy model.ReplyStrategy, allowAnonymous bool) *model.Metaform {
	return &model.Metaform{
		ID:             "form-1",
		Slug:           "test-form",
		AllowAnonymous: allowAnonymous,
		ReplyStrategy:  strategy,
		DefaultPermissionGroups: &model.PermissionGroups{
			EditGroupIDs: []string{"g-editors"},
		},
		Sections: []model.FormSection{{
			Fields: []model.FormField{
				{Name: "intro", Type: "html"},
				{
					Name: "status",
					Type: "select",
					Options: []model.FieldOption{
						{Name: "urgent", PermissionGroups: &model.PermissionGroups{ViewGroupIDs: []string{"g-duty"}}},
						{Name: "normal"},
					},
				},
				{Name: "amount", Type: "number"},
				{Name: "agree", Type: "boolean"},
				{Name: "tags", Type: "checklist"},
				{
					Name: "rows",
					Type: "table",
					Columns: []model.TableColumn{
						{Name: "item", Type: "text"},
						{Name: "qty", Type: "number"},
					},
				},
				{Name: "files", Type: "files"},
			},
		}},
	}
}

func strPtr(s string) *string {
	return &s
}
