// Пакет rbac — определение роли пользователя по realm-ролям Keycloak
// и вычисление матрицы доступа к ответу (область → группы).
// Вычисления чистые: проекция в Keycloak выполняется слоем service.
package rbac

import (
	"github.com/Metatavu/metaform-api-sub001/internal/domain/model"
)

// Роли в порядке возрастания привилегий.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// roleWeight — вес роли для сравнения.
// Чем выше вес, тем больше привилегий.
var roleWeight = map[string]int{
	RoleUser:  1,
	RoleAdmin: 2,
}

// maxRole возвращает роль с максимальными привилегиями из двух.
func maxRole(a, b string) string {
	if roleWeight[a] >= roleWeight[b] {
		return a
	}
	return b
}

// HighestRole возвращает максимальную роль из набора.
// Если набор пуст — возвращает пустую строку.
func HighestRole(roles []string) string {
	if len(roles) == 0 {
		return ""
	}
	highest := roles[0]
	for _, r := range roles[1:] {
		highest = maxRole(highest, r)
	}
	return highest
}

// MapRealmRoles определяет роль пользователя по realm-ролям из JWT.
// Возвращает максимальную роль из всех совпадений или пустую строку.
func MapRealmRoles(realmRoles []string, adminRoles, userRoles []string) string {
	adminSet := toSet(adminRoles)
	userSet := toSet(userRoles)

	var roles []string
	for _, r := range realmRoles {
		if adminSet[r] {
			roles = append(roles, RoleAdmin)
		}
		if userSet[r] {
			roles = append(roles, RoleUser)
		}
	}

	return HighestRole(roles)
}

// IsValidRole проверяет, является ли строка допустимой ролью.
func IsValidRole(role string) bool {
	_, ok := roleWeight[role]
	return ok
}

// ComputeGrants вычисляет группы, получающие доступ к ответу:
// группы по умолчанию из определения формы плюс группы вариантов выбора,
// совпавших с отправленными значениями. В сопоставлении участвуют
// только строковые значения, сравнение точное.
func ComputeGrants(form *model.Metaform, values map[string]model.FieldValue) model.Grants {
	grants := model.Grants{}
	if form == nil {
		return grants
	}

	addGroups(grants, form.DefaultPermissionGroups)

	for _, field := range form.Fields() {
		value, ok := values[field.Name]
		if !ok {
			continue
		}
		str, ok := value.(model.StringValue)
		if !ok {
			continue
		}
		for _, option := range field.Options {
			if option.Name == string(str) {
				addGroups(grants, option.PermissionGroups)
			}
		}
	}

	return grants
}

// PolicyNames — имена неявных политик resource server.
type PolicyNames struct {
	Admin string
	Owner string
	User  string
}

// ImplicitPolicies возвращает политики, которые входят в разрешение каждой области
// независимо от отправленных значений: администратор и владелец получают все области,
// «любой вошедший пользователь» получает просмотр, если форма допускает анонимные ответы.
func ImplicitPolicies(form *model.Metaform, names PolicyNames) map[model.Scope][]string {
	result := make(map[model.Scope][]string, len(model.AllScopes))
	for _, scope := range model.AllScopes {
		result[scope] = []string{names.Admin, names.Owner}
	}
	if form != nil && form.AllowAnonymous {
		result[model.ScopeView] = append(result[model.ScopeView], names.User)
	}
	return result
}

// addGroups добавляет группы по областям edit/view/notify.
func addGroups(grants model.Grants, groups *model.PermissionGroups) {
	if groups == nil {
		return
	}
	for _, id := range groups.EditGroupIDs {
		grants.Add(model.ScopeEdit, id)
	}
	for _, id := range groups.ViewGroupIDs {
		grants.Add(model.ScopeView, id)
	}
	for _, id := range groups.NotifyGroupIDs {
		grants.Add(model.ScopeNotify, id)
	}
}

// toSet конвертирует срез строк в map для быстрого поиска.
func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, item := range items {
		s[item] = true
	}
	return s
}
