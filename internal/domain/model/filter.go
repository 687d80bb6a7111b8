package model

// FilterOperator — оператор сравнения в фильтре по полю.
type FilterOperator string

const (
	FilterEquals    FilterOperator = "EQUALS"
	FilterNotEquals FilterOperator = "NOT_EQUALS"
)

// FieldFilter — фильтр по значению поля ответа.
// DeclaredType передаётся явно: по строке reply_fields тип не восстанавливается.
type FieldFilter struct {
	// Field — имя поля
	Field string
	// DeclaredType — вариант хранения поля по определению формы
	DeclaredType FieldType
	// Operator — EQUALS или NOT_EQUALS
	Operator FilterOperator
	// Value — сравниваемое значение в строковом виде
	Value string
}
