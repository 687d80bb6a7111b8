package model

import "time"

// Metaform — определение формы. Хранится в таблице metaforms,
// структура разделов и полей — в JSONB-столбце data.
// Для ядра ответов определение доступно только на чтение.
type Metaform struct {
	// ID — UUID формы
	ID string `json:"id"`
	// Slug — человекочитаемый уникальный идентификатор
	Slug string `json:"slug,omitempty"`
	// Title — заголовок формы
	Title string `json:"title,omitempty"`
	// AllowAnonymous — разрешены ли ответы без входа в систему
	AllowAnonymous bool `json:"allowAnonymous"`
	// ReplyStrategy — поведение при повторной отправке (UPDATE, REVISION, CUMULATIVE)
	ReplyStrategy ReplyStrategy `json:"replyStrategy,omitempty"`
	// DefaultPermissionGroups — группы, получающие доступ ко всем ответам формы
	DefaultPermissionGroups *PermissionGroups `json:"defaultPermissionGroups,omitempty"`
	// Sections — разделы формы
	Sections []FormSection `json:"sections"`
	// CreatedBy — кто создал форму
	CreatedBy *string `json:"-"`
	// CreatedAt — время создания
	CreatedAt time.Time `json:"-"`
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time `json:"-"`
}

// FormSection — раздел формы.
type FormSection struct {
	Title  string      `json:"title,omitempty"`
	Fields []FormField `json:"fields"`
}

// FormField — объявление поля формы.
type FormField struct {
	// Name — имя поля; пустое у декоративных элементов (html, submit)
	Name string `json:"name,omitempty"`
	// Type — объявленный тип поля (text, number, checklist, table, files и т.д.)
	Type string `json:"type"`
	// Title — подпись поля
	Title string `json:"title,omitempty"`
	// Required — обязательно ли поле
	Required bool `json:"required,omitempty"`
	// Options — варианты выбора (radio, select, checklist)
	Options []FieldOption `json:"options,omitempty"`
	// Columns — столбцы таблицы (только для type=table)
	Columns []TableColumn `json:"columns,omitempty"`
}

// FieldOption — вариант выбора. PermissionGroups активируются,
// когда отправленное значение поля совпадает с Name.
type FieldOption struct {
	Name             string            `json:"name"`
	Text             string            `json:"text,omitempty"`
	PermissionGroups *PermissionGroups `json:"permissionGroups,omitempty"`
}

// TableColumn — столбец табличного поля.
type TableColumn struct {
	Name string `json:"name"`
	// Type — тип ячейки: text/memo/... (строка) или number
	Type string `json:"type"`
}

// PermissionGroups — ID групп Keycloak по областям доступа.
type PermissionGroups struct {
	EditGroupIDs   []string `json:"editGroupIds,omitempty"`
	ViewGroupIDs   []string `json:"viewGroupIds,omitempty"`
	NotifyGroupIDs []string `json:"notifyGroupIds,omitempty"`
}

// EffectiveReplyStrategy возвращает стратегию ответа; по умолчанию UPDATE.
func (m *Metaform) EffectiveReplyStrategy() ReplyStrategy {
	if m.ReplyStrategy == "" {
		return ReplyStrategyUpdate
	}
	return m.ReplyStrategy
}

// Fields возвращает все именованные поля формы во всех разделах.
func (m *Metaform) Fields() []FormField {
	var result []FormField
	for _, section := range m.Sections {
		for _, f := range section.Fields {
			if f.Name != "" {
				result = append(result, f)
			}
		}
	}
	return result
}

// FieldByName ищет объявление поля по имени.
func (m *Metaform) FieldByName(name string) (FormField, bool) {
	for _, section := range m.Sections {
		for _, f := range section.Fields {
			if f.Name != "" && f.Name == name {
				return f, true
			}
		}
	}
	return FormField{}, false
}

// declaredTypes — соответствие объявленного типа поля варианту хранения.
// Типы, отсутствующие в таблице (html, submit, logo и т.п.), не хранятся.
var declaredTypes = map[string]FieldType{
	"text":         FieldTypeString,
	"memo":         FieldTypeString,
	"email":        FieldTypeString,
	"url":          FieldTypeString,
	"radio":        FieldTypeString,
	"select":       FieldTypeString,
	"hidden":       FieldTypeString,
	"date":         FieldTypeString,
	"date-time":    FieldTypeString,
	"time":         FieldTypeString,
	"autocomplete": FieldTypeString,
	"number":       FieldTypeNumber,
	"slider":       FieldTypeNumber,
	"boolean":      FieldTypeBoolean,
	"checklist":    FieldTypeList,
	"table":        FieldTypeTable,
	"files":        FieldTypeAttachment,
}

// StorageType возвращает вариант хранения для объявленного типа поля.
// ok=false — тип не хранится в ответе.
func StorageType(declared string) (FieldType, bool) {
	t, ok := declaredTypes[declared]
	return t, ok
}

// CellStorageType возвращает вариант хранения ячейки таблицы:
// number — число, остальные типы — строка.
func CellStorageType(declared string) FieldType {
	if declared == "number" {
		return FieldTypeNumber
	}
	return FieldTypeString
}
