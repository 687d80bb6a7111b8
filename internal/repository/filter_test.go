package repository

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/Metatavu/metaform-api-sub001/internal/domain/model"
)

func TestFieldPredicate_Equals(t *testing.T) {
	p, err := fieldPredicate(model.FieldFilter{
		Field: "status", DeclaredType: model.FieldTypeString, Operator: model.FilterEquals, Value: "waiting",
	})
	if err != nil {
		t.Fatalf("fieldPredicate() ошибка: %v", err)
	}

	b := &sqlBuilder{}
	got := p.compile(b)
	want := "r.id IN (SELECT f.reply_id FROM reply_fields f JOIN string_reply_fields v ON v.field_id = f.id " +
		"WHERE f.name = $1 AND v.value = $2)"
	if got != want {
		t.Errorf("compile() =\n%s\nхотели\n%s", got, want)
	}
	if !reflect.DeepEqual(b.args, []any{"status", "waiting"}) {
		t.Errorf("args = %v", b.args)
	}
}

func TestFieldPredicate_NotEqualsIncludesAbsence(t *testing.T) {
	p, err := fieldPredicate(model.FieldFilter{
		Field: "status", DeclaredType: model.FieldTypeString, Operator: model.FilterNotEquals, Value: "done",
	})
	if err != nil {
		t.Fatalf("fieldPredicate() ошибка: %v", err)
	}

	b := &sqlBuilder{}
	got := p.compile(b)
	if !strings.HasPrefix(got, "(r.id IN (") || !strings.Contains(got, "v.value <> $2") {
		t.Errorf("compile() = %s: ожидалось несовпадение значения", got)
	}
	if !strings.Contains(got, " OR NOT EXISTS (SELECT 1 FROM reply_fields af WHERE af.reply_id = r.id AND af.name = $3)") {
		t.Errorf("compile() = %s: ожидалась ветка отсутствия поля", got)
	}
	if !reflect.DeepEqual(b.args, []any{"status", "done", "status"}) {
		t.Errorf("args = %v", b.args)
	}
}

func TestFieldPredicate_TypeRouting(t *testing.T) {
	tests := []struct {
		name      string
		filter    model.FieldFilter
		wantTable string
		wantValue any
	}{
		{
			name:      "число",
			filter:    model.FieldFilter{Field: "n", DeclaredType: model.FieldTypeNumber, Operator: model.FilterEquals, Value: "2.5"},
			wantTable: "number_reply_fields",
			wantValue: 2.5,
		},
		{
			name:      "логическое",
			filter:    model.FieldFilter{Field: "b", DeclaredType: model.FieldTypeBoolean, Operator: model.FilterEquals, Value: "true"},
			wantTable: "boolean_reply_fields",
			wantValue: true,
		},
		{
			name:      "список",
			filter:    model.FieldFilter{Field: "l", DeclaredType: model.FieldTypeList, Operator: model.FilterEquals, Value: "x"},
			wantTable: "list_reply_field_items",
			wantValue: "x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := fieldPredicate(tt.filter)
			if err != nil {
				t.Fatalf("fieldPredicate() ошибка: %v", err)
			}
			b := &sqlBuilder{}
			sql := p.compile(b)
			if !strings.Contains(sql, tt.wantTable) {
				t.Errorf("compile() = %s, ожидалась таблица %s", sql, tt.wantTable)
			}
			if len(b.args) != 2 || b.args[1] != tt.wantValue {
				t.Errorf("args = %v, ожидалось значение %v", b.args, tt.wantValue)
			}
		})
	}
}

func TestFieldPredicate_ListNotEquals(t *testing.T) {
	p, err := fieldPredicate(model.FieldFilter{
		Field: "tags", DeclaredType: model.FieldTypeList, Operator: model.FilterNotEquals, Value: "red",
	})
	if err != nil {
		t.Fatalf("fieldPredicate() ошибка: %v", err)
	}
	sql := p.compile(&sqlBuilder{})
	if !strings.Contains(sql, "AND NOT EXISTS (SELECT 1 FROM list_reply_field_items") {
		t.Errorf("compile() = %s: ожидалась проверка отсутствия элемента", sql)
	}
}

func TestFieldPredicate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		filter  model.FieldFilter
		wantErr error
	}{
		{"таблица", model.FieldFilter{Field: "t", DeclaredType: model.FieldTypeTable, Operator: model.FilterEquals}, ErrUnsupportedFilter},
		{"вложение", model.FieldFilter{Field: "a", DeclaredType: model.FieldTypeAttachment, Operator: model.FilterEquals}, ErrUnsupportedFilter},
		{"тип не определён", model.FieldFilter{Field: "x", Operator: model.FilterEquals}, ErrUnsupportedFilter},
		{"не число", model.FieldFilter{Field: "n", DeclaredType: model.FieldTypeNumber, Operator: model.FilterEquals, Value: "abc"}, ErrInvalidFilter},
		{"не логическое", model.FieldFilter{Field: "b", DeclaredType: model.FieldTypeBoolean, Operator: model.FilterEquals, Value: "yes"}, ErrInvalidFilter},
		{"оператор", model.FieldFilter{Field: "s", DeclaredType: model.FieldTypeString, Operator: "LIKE"}, ErrInvalidFilter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := fieldPredicate(tt.filter); !errors.Is(err, tt.wantErr) {
				t.Errorf("fieldPredicate() ошибка = %v, хотели %v", err, tt.wantErr)
			}
		})
	}
}

func TestBuildListQuery(t *testing.T) {
	userID := "7c1b7e3a-0000-4000-8000-000000000001"
	before := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	query, args, err := buildListQuery(model.ReplyListFilter{
		MetaformID:    "form-1",
		UserID:        &userID,
		CreatedBefore: &before,
		Fields: []model.FieldFilter{
			{Field: "status", DeclaredType: model.FieldTypeString, Operator: model.FilterEquals, Value: "ok"},
		},
	})
	if err != nil {
		t.Fatalf("buildListQuery() ошибка: %v", err)
	}

	for _, fragment := range []string{
		"r.metaform_id = $1",
		"r.user_id = $2",
		"r.revision IS NULL",
		"r.created_at < $3",
		"f.name = $4 AND v.value = $5",
		"ORDER BY r.created_at ASC, r.id ASC",
	} {
		if !strings.Contains(query, fragment) {
			t.Errorf("запрос не содержит %q:\n%s", fragment, query)
		}
	}
	if len(args) != 5 {
		t.Errorf("len(args) = %d, хотели 5", len(args))
	}

	// С ревизиями условие на revision отсутствует
	query, _, err = buildListQuery(model.ReplyListFilter{MetaformID: "form-1", IncludeRevisions: true})
	if err != nil {
		t.Fatalf("buildListQuery() ошибка: %v", err)
	}
	if strings.Contains(query, "revision IS NULL") {
		t.Errorf("запрос с ревизиями содержит фильтр revision:\n%s", query)
	}
}

func TestAndOrNodes_Empty(t *testing.T) {
	if got := (andNode{}).compile(&sqlBuilder{}); got != "TRUE" {
		t.Errorf("пустой AND = %s", got)
	}
	if got := (orNode{}).compile(&sqlBuilder{}); got != "FALSE" {
		t.Errorf("пустой OR = %s", got)
	}
}

func TestFilterSupported(t *testing.T) {
	for _, ft := range []model.FieldType{model.FieldTypeString, model.FieldTypeNumber, model.FieldTypeBoolean, model.FieldTypeList} {
		if !FilterSupported(ft) {
			t.Errorf("FilterSupported(%s) = false", ft)
		}
	}
	for _, ft := range []model.FieldType{model.FieldTypeTable, model.FieldTypeAttachment, ""} {
		if FilterSupported(ft) {
			t.Errorf("FilterSupported(%q) = true", ft)
		}
	}
}
