package repository

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Metatavu/metaform-api-sub001/internal/domain/model"
)

// Фильтрация ответов строится как дерево предикатов: каждый узел
// компилируется независимо в SQL-фрагмент с позиционными параметрами ($n),
// значения никогда не подставляются в текст запроса.

// predicate — узел дерева условий выборки ответов.
// В SQL ответ доступен под псевдонимом r.
type predicate interface {
	compile(b *sqlBuilder) string
}

// sqlBuilder накапливает аргументы запроса и выдаёт номера параметров.
type sqlBuilder struct {
	args []any
}

// arg регистрирует значение и возвращает ссылку на параметр ($n).
func (b *sqlBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

// andNode — конъюнкция; пустая конъюнкция истинна.
type andNode []predicate

func (n andNode) compile(b *sqlBuilder) string {
	if len(n) == 0 {
		return "TRUE"
	}
	parts := make([]string, len(n))
	for i, p := range n {
		parts[i] = p.compile(b)
	}
	return "(" + strings.Join(parts, " AND ") + ")"
}

// orNode — дизъюнкция; пустая дизъюнкция ложна.
type orNode []predicate

func (n orNode) compile(b *sqlBuilder) string {
	if len(n) == 0 {
		return "FALSE"
	}
	parts := make([]string, len(n))
	for i, p := range n {
		parts[i] = p.compile(b)
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

// compareNode — сравнение столбца ответа со значением.
type compareNode struct {
	column string
	op     string
	value  any
}

func (n compareNode) compile(b *sqlBuilder) string {
	return fmt.Sprintf("r.%s %s %s", n.column, n.op, b.arg(n.value))
}

// nullNode — проверка столбца ответа на NULL.
type nullNode struct {
	column string
	isNull bool
}

func (n nullNode) compile(*sqlBuilder) string {
	if n.isNull {
		return fmt.Sprintf("r.%s IS NULL", n.column)
	}
	return fmt.Sprintf("r.%s IS NOT NULL", n.column)
}

// inMatchingNode — ответ входит в множество, выбранное подзапросом.
type inMatchingNode struct {
	matching matchingSet
}

func (n inMatchingNode) compile(b *sqlBuilder) string {
	return "r.id IN (" + n.matching.compile(b) + ")"
}

// fieldAbsentNode — у ответа нет поля с указанным именем.
type fieldAbsentNode struct {
	name string
}

func (n fieldAbsentNode) compile(b *sqlBuilder) string {
	return fmt.Sprintf(
		"NOT EXISTS (SELECT 1 FROM reply_fields af WHERE af.reply_id = r.id AND af.name = %s)",
		b.arg(n.name))
}

// matchingSet — подзапрос, возвращающий reply_id ответов, удовлетворяющих одному фильтру.
type matchingSet interface {
	compile(b *sqlBuilder) string
}

// scalarMatch — сравнение значения в таблице скалярного варианта.
type scalarMatch struct {
	table string
	name  string
	op    string
	value any
}

func (m scalarMatch) compile(b *sqlBuilder) string {
	return fmt.Sprintf(
		"SELECT f.reply_id FROM reply_fields f JOIN %s v ON v.field_id = f.id WHERE f.name = %s AND v.value %s %s",
		m.table, b.arg(m.name), m.op, b.arg(m.value))
}

// listMatch — наличие (или отсутствие) элемента в списке.
type listMatch struct {
	name     string
	value    string
	contains bool
}

func (m listMatch) compile(b *sqlBuilder) string {
	exists := "EXISTS"
	if !m.contains {
		exists = "NOT EXISTS"
	}
	return fmt.Sprintf(
		"SELECT f.reply_id FROM reply_fields f WHERE f.name = %s AND %s "+
			"(SELECT 1 FROM list_reply_field_items i WHERE i.field_id = f.id AND i.value = %s)",
		b.arg(m.name), exists, b.arg(m.value))
}

// FilterSupported сообщает, можно ли фильтровать по полю данного варианта.
func FilterSupported(t model.FieldType) bool {
	switch t {
	case model.FieldTypeString, model.FieldTypeNumber, model.FieldTypeBoolean, model.FieldTypeList:
		return true
	}
	return false
}

// fieldPredicate строит условие для одного фильтра по полю.
// EQUALS: ответ в множестве совпадений.
// NOT_EQUALS: ответ в множестве несовпадений ИЛИ поле у ответа отсутствует.
func fieldPredicate(f model.FieldFilter) (predicate, error) {
	var equals bool
	switch f.Operator {
	case model.FilterEquals:
		equals = true
	case model.FilterNotEquals:
		equals = false
	default:
		return nil, fmt.Errorf("%w: неизвестный оператор %q", ErrInvalidFilter, f.Operator)
	}

	op := "="
	if !equals {
		op = "<>"
	}

	var matching matchingSet
	switch f.DeclaredType {
	case model.FieldTypeString:
		matching = scalarMatch{table: "string_reply_fields", name: f.Field, op: op, value: f.Value}
	case model.FieldTypeNumber:
		n, err := strconv.ParseFloat(f.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: поле %q ожидает число, получено %q", ErrInvalidFilter, f.Field, f.Value)
		}
		matching = scalarMatch{table: "number_reply_fields", name: f.Field, op: op, value: n}
	case model.FieldTypeBoolean:
		v, err := strconv.ParseBool(f.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: поле %q ожидает true/false, получено %q", ErrInvalidFilter, f.Field, f.Value)
		}
		matching = scalarMatch{table: "boolean_reply_fields", name: f.Field, op: op, value: v}
	case model.FieldTypeList:
		matching = listMatch{name: f.Field, value: f.Value, contains: equals}
	default:
		return nil, fmt.Errorf("%w: поле %q типа %q", ErrUnsupportedFilter, f.Field, f.DeclaredType)
	}

	if equals {
		return inMatchingNode{matching: matching}, nil
	}
	return orNode{inMatchingNode{matching: matching}, fieldAbsentNode{name: f.Field}}, nil
}

// replyPredicate строит полное условие выборки: базовые ограничения
// (форма, пользователь, ревизии, интервалы времени) AND все фильтры по полям.
func replyPredicate(filter model.ReplyListFilter) (predicate, error) {
	conditions := andNode{
		compareNode{column: "metaform_id", op: "=", value: filter.MetaformID},
	}

	if filter.UserID != nil {
		conditions = append(conditions, compareNode{column: "user_id", op: "=", value: *filter.UserID})
	}
	if !filter.IncludeRevisions {
		conditions = append(conditions, nullNode{column: "revision", isNull: true})
	}
	if filter.CreatedBefore != nil {
		conditions = append(conditions, compareNode{column: "created_at", op: "<", value: *filter.CreatedBefore})
	}
	if filter.CreatedAfter != nil {
		conditions = append(conditions, compareNode{column: "created_at", op: ">", value: *filter.CreatedAfter})
	}
	if filter.ModifiedBefore != nil {
		conditions = append(conditions, compareNode{column: "modified_at", op: "<", value: *filter.ModifiedBefore})
	}
	if filter.ModifiedAfter != nil {
		conditions = append(conditions, compareNode{column: "modified_at", op: ">", value: *filter.ModifiedAfter})
	}

	for _, f := range filter.Fields {
		p, err := fieldPredicate(f)
		if err != nil {
			return nil, err
		}
		conditions = append(conditions, p)
	}

	return conditions, nil
}

// buildListQuery компилирует фильтр в один SELECT по replies,
// упорядоченный по времени создания (при равенстве — по id).
func buildListQuery(filter model.ReplyListFilter) (string, []any, error) {
	p, err := replyPredicate(filter)
	if err != nil {
		return "", nil, err
	}

	b := &sqlBuilder{}
	where := p.compile(b)
	query := fmt.Sprintf(`
		SELECT %s
		FROM replies r
		WHERE %s
		ORDER BY r.created_at ASC, r.id ASC`, replyColumns, where)
	return query, b.args, nil
}
