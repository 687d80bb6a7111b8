package model

// FieldType — физический вариант хранения поля ответа.
// Совпадает со значением столбца reply_fields.field_type.
type FieldType string

const (
	FieldTypeString     FieldType = "string"
	FieldTypeNumber     FieldType = "number"
	FieldTypeBoolean    FieldType = "boolean"
	FieldTypeList       FieldType = "list"
	FieldTypeTable      FieldType = "table"
	FieldTypeAttachment FieldType = "attachment"
)

// FieldValue — значение поля ответа. Закрытое множество вариантов:
// StringValue, NumberValue, BooleanValue, ListValue, TableValue, AttachmentValue.
type FieldValue interface {
	// Type возвращает вариант хранения значения.
	Type() FieldType
	fieldValue()
}

// CellValue — значение ячейки таблицы: StringValue или NumberValue.
type CellValue interface {
	FieldValue
	cellValue()
}

// StringValue — строковое значение.
type StringValue string

// NumberValue — числовое значение.
type NumberValue float64

// BooleanValue — логическое значение.
type BooleanValue bool

// ListValue — множество строковых элементов; порядок не важен, дубликаты схлопываются.
type ListValue []string

// TableValue — строки таблицы в порядке отправки.
type TableValue []TableRow

// AttachmentValue — ID вложений, на которые ссылается поле.
type AttachmentValue []string

// TableRow — одна строка таблицы: именованные типизированные ячейки.
type TableRow []TableCell

// TableCell — именованная ячейка строки таблицы.
type TableCell struct {
	Name  string
	Value CellValue
}

func (StringValue) Type() FieldType     { return FieldTypeString }
func (NumberValue) Type() FieldType     { return FieldTypeNumber }
func (BooleanValue) Type() FieldType    { return FieldTypeBoolean }
func (ListValue) Type() FieldType       { return FieldTypeList }
func (TableValue) Type() FieldType      { return FieldTypeTable }
func (AttachmentValue) Type() FieldType { return FieldTypeAttachment }

func (StringValue) fieldValue()     {}
func (NumberValue) fieldValue()     {}
func (BooleanValue) fieldValue()    {}
func (ListValue) fieldValue()       {}
func (TableValue) fieldValue()      {}
func (AttachmentValue) fieldValue() {}

func (StringValue) cellValue() {}
func (NumberValue) cellValue() {}

// Distinct возвращает элементы списка без повторов, сохраняя порядок первого вхождения.
func (l ListValue) Distinct() []string {
	seen := make(map[string]struct{}, len(l))
	result := make([]string, 0, len(l))
	for _, item := range l {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		result = append(result, item)
	}
	return result
}

// Field — именованный ответ внутри Reply.
// Уникален по (ReplyID, Name) независимо от варианта.
type Field struct {
	// ID — UUID строки reply_fields
	ID string
	// ReplyID — UUID ответа
	ReplyID string
	// Name — имя поля из определения формы
	Name string
	// Value — типизированное значение
	Value FieldValue
}

// ToJSONValue преобразует значение поля в структуру, пригодную для JSON-ответа.
func ToJSONValue(v FieldValue) any {
	switch val := v.(type) {
	case StringValue:
		return string(val)
	case NumberValue:
		return float64(val)
	case BooleanValue:
		return bool(val)
	case ListValue:
		return []string(val)
	case AttachmentValue:
		return []string(val)
	case TableValue:
		rows := make([]map[string]any, len(val))
		for i, row := range val {
			cells := make(map[string]any, len(row))
			for _, cell := range row {
				cells[cell.Name] = ToJSONValue(cell.Value)
			}
			rows[i] = cells
		}
		return rows
	default:
		return nil
	}
}
