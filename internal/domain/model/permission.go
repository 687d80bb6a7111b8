package model

import "sort"

// Scope — область доступа к одному ответу.
// Значение совпадает с именем scope в Keycloak resource server.
type Scope string

const (
	ScopeCreate Scope = "reply:create"
	ScopeView   Scope = "reply:view"
	ScopeEdit   Scope = "reply:edit"
	ScopeNotify Scope = "reply:notify"
)

// AllScopes — все области доступа в порядке синхронизации.
var AllScopes = []Scope{ScopeCreate, ScopeView, ScopeEdit, ScopeNotify}

// GroupMemberPermission — пара (область, группа). Не хранится в БД,
// транслируется в политики и разрешения Keycloak.
type GroupMemberPermission struct {
	Scope   Scope
	GroupID string
}

// Grants — множество групп по областям доступа.
type Grants map[Scope]map[string]struct{}

// Add добавляет группу к области.
func (g Grants) Add(scope Scope, groupID string) {
	if groupID == "" {
		return
	}
	set, ok := g[scope]
	if !ok {
		set = make(map[string]struct{})
		g[scope] = set
	}
	set[groupID] = struct{}{}
}

// Groups возвращает отсортированный список групп области.
func (g Grants) Groups(scope Scope) []string {
	set := g[scope]
	result := make([]string, 0, len(set))
	for id := range set {
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}

// Permissions разворачивает множество в плоский список пар,
// упорядоченный по AllScopes и ID группы.
func (g Grants) Permissions() []GroupMemberPermission {
	var result []GroupMemberPermission
	for _, scope := range AllScopes {
		for _, id := range g.Groups(scope) {
			result = append(result, GroupMemberPermission{Scope: scope, GroupID: id})
		}
	}
	return result
}
