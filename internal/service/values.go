// values.go — преобразование и проверка значений полей ответа
// по объявленным типам формы.
package service

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/Metatavu/metaform-api-sub001/internal/domain/model"
)

// DecodeValues преобразует значения из JSON (map[string]any после encoding/json)
// в типизированные значения полей. null означает отсутствие значения.
func DecodeValues(form *model.Metaform, raw map[string]any) (map[string]model.FieldValue, error) {
	values := make(map[string]model.FieldValue, len(raw))
	for name, v := range raw {
		if v == nil {
			continue
		}
		field, ok := form.FieldByName(name)
		if !ok {
			return nil, fmt.Errorf("%w: неизвестное поле %q", ErrValidation, name)
		}
		st, ok := model.StorageType(field.Type)
		if !ok {
			return nil, fmt.Errorf("%w: поле %q типа %s не хранится", ErrValidation, name, field.Type)
		}

		value, err := decodeValue(field, st, v)
		if err != nil {
			return nil, fmt.Errorf("%w: поле %q: %v", ErrValidation, name, err)
		}
		values[name] = value
	}
	return values, nil
}

func decodeValue(field model.FormField, st model.FieldType, v any) (model.FieldValue, error) {
	switch st {
	case model.FieldTypeString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("ожидалась строка")
		}
		return model.StringValue(s), nil
	case model.FieldTypeNumber:
		n, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("ожидалось число")
		}
		return model.NumberValue(n), nil
	case model.FieldTypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("ожидалось логическое значение")
		}
		return model.BooleanValue(b), nil
	case model.FieldTypeList:
		items, err := stringSlice(v)
		if err != nil {
			return nil, err
		}
		return model.ListValue(items), nil
	case model.FieldTypeAttachment:
		ids, err := stringSlice(v)
		if err != nil {
			return nil, err
		}
		return model.AttachmentValue(ids), nil
	case model.FieldTypeTable:
		return decodeTable(field, v)
	}
	return nil, fmt.Errorf("неподдерживаемый тип %s", st)
}

func stringSlice(v any) ([]string, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("ожидался массив строк")
	}
	result := make([]string, len(arr))
	for i, item := range arr {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("элемент %d: ожидалась строка", i)
		}
		result[i] = s
	}
	return result, nil
}

func decodeTable(field model.FormField, v any) (model.FieldValue, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("ожидался массив строк таблицы")
	}

	columns := make(map[string]model.FieldType, len(field.Columns))
	for _, c := range field.Columns {
		columns[c.Name] = model.CellStorageType(c.Type)
	}

	table := make(model.TableValue, 0, len(arr))
	for i, item := range arr {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("строка %d: ожидался объект", i)
		}

		names := make([]string, 0, len(obj))
		for name := range obj {
			names = append(names, name)
		}
		sort.Strings(names)

		row := make(model.TableRow, 0, len(obj))
		for _, name := range names {
			cellType, ok := columns[name]
			if !ok {
				return nil, fmt.Errorf("строка %d: неизвестный столбец %q", i, name)
			}
			raw := obj[name]
			if raw == nil {
				continue
			}
			switch cellType {
			case model.FieldTypeNumber:
				n, ok := raw.(float64)
				if !ok {
					return nil, fmt.Errorf("строка %d, столбец %q: ожидалось число", i, name)
				}
				row = append(row, model.TableCell{Name: name, Value: model.NumberValue(n)})
			default:
				s, ok := raw.(string)
				if !ok {
					return nil, fmt.Errorf("строка %d, столбец %q: ожидалась строка", i, name)
				}
				row = append(row, model.TableCell{Name: name, Value: model.StringValue(s)})
			}
		}
		table = append(table, row)
	}
	return table, nil
}

// validateValues проверяет, что каждое значение соответствует варианту хранения,
// заданному объявленным типом поля, и что обязательные поля заполнены.
func validateValues(form *model.Metaform, values map[string]model.FieldValue) error {
	for name, value := range values {
		field, ok := form.FieldByName(name)
		if !ok {
			return fmt.Errorf("%w: неизвестное поле %q", ErrValidation, name)
		}
		st, ok := model.StorageType(field.Type)
		if !ok {
			return fmt.Errorf("%w: поле %q типа %s не хранится", ErrValidation, name, field.Type)
		}
		if value == nil || value.Type() != st {
			return fmt.Errorf("%w: поле %q: ожидался тип %s", ErrValidation, name, st)
		}

		switch v := value.(type) {
		case model.TableValue:
			if err := validateTable(field, v); err != nil {
				return fmt.Errorf("%w: поле %q: %v", ErrValidation, name, err)
			}
		case model.AttachmentValue:
			for _, id := range v {
				if _, err := uuid.Parse(id); err != nil {
					return fmt.Errorf("%w: поле %q: некорректный ID вложения %q", ErrValidation, name, id)
				}
			}
		}
	}

	for _, field := range form.Fields() {
		if !field.Required {
			continue
		}
		if _, stored := model.StorageType(field.Type); !stored {
			continue
		}
		if _, ok := values[field.Name]; !ok {
			return fmt.Errorf("%w: обязательное поле %q не заполнено", ErrValidation, field.Name)
		}
	}
	return nil
}

func validateTable(field model.FormField, table model.TableValue) error {
	columns := make(map[string]model.FieldType, len(field.Columns))
	for _, c := range field.Columns {
		columns[c.Name] = model.CellStorageType(c.Type)
	}
	for i, row := range table {
		seen := make(map[string]bool, len(row))
		for _, cell := range row {
			want, ok := columns[cell.Name]
			if !ok {
				return fmt.Errorf("строка %d: неизвестный столбец %q", i, cell.Name)
			}
			if seen[cell.Name] {
				return fmt.Errorf("строка %d: столбец %q повторяется", i, cell.Name)
			}
			seen[cell.Name] = true
			if cell.Value == nil || cell.Value.Type() != want {
				return fmt.Errorf("строка %d, столбец %q: ожидался тип %s", i, cell.Name, want)
			}
		}
	}
	return nil
}
