package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Metatavu/metaform-api-sub001/internal/domain/model"
)

// FieldRepository — хранилище типизированных полей ответа.
// Каждое поле — строка reply_fields (общая идентичность, уникальна по reply_id+name)
// плюс данные в таблице своего варианта. Тип значения репозиторий не проверяет:
// соответствие объявленному типу формы проверяет вызывающий.
type FieldRepository interface {
	// SetField записывает значение поля. Если поле с этим именем уже хранится
	// в другом варианте, старое поле удаляется и создаётся новое.
	// Дочерние элементы списков, таблиц и вложений заменяются целиком.
	SetField(ctx context.Context, replyID, name string, value model.FieldValue) error
	// ListFieldNames возвращает имена полей, сохранённых для ответа.
	ListFieldNames(ctx context.Context, replyID string) ([]string, error)
	// DeleteFields удаляет поля ответа по именам.
	DeleteFields(ctx context.Context, replyID string, names []string) error
	// ListFields возвращает все поля ответа со значениями, упорядоченные по имени.
	ListFields(ctx context.Context, replyID string) ([]model.Field, error)
}

// fieldRepo — реализация FieldRepository.
type fieldRepo struct {
	db DBTX
}

// NewFieldRepository создаёт хранилище полей ответа.
func NewFieldRepository(db DBTX) FieldRepository {
	return &fieldRepo{db: db}
}

func (r *fieldRepo) SetField(ctx context.Context, replyID, name string, value model.FieldValue) error {
	if value == nil {
		return fmt.Errorf("поле %q: пустое значение", name)
	}

	fieldID, err := r.ensureField(ctx, replyID, name, value.Type())
	if err != nil {
		return err
	}

	switch v := value.(type) {
	case model.StringValue:
		return r.upsertScalar(ctx, "string_reply_fields", fieldID, string(v))
	case model.NumberValue:
		return r.upsertScalar(ctx, "number_reply_fields", fieldID, float64(v))
	case model.BooleanValue:
		return r.upsertScalar(ctx, "boolean_reply_fields", fieldID, bool(v))
	case model.ListValue:
		return r.replaceListItems(ctx, fieldID, v.Distinct())
	case model.TableValue:
		return r.replaceTableRows(ctx, fieldID, v)
	case model.AttachmentValue:
		return r.replaceAttachmentItems(ctx, fieldID, model.ListValue(v).Distinct())
	default:
		return fmt.Errorf("поле %q: неизвестный вариант значения %T", name, value)
	}
}

// ensureField возвращает ID строки reply_fields нужного варианта.
// Строка другого варианта удаляется вместе с данными (ON DELETE CASCADE).
func (r *fieldRepo) ensureField(ctx context.Context, replyID, name string, fieldType model.FieldType) (string, error) {
	var (
		existingID   string
		existingType model.FieldType
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, field_type
		FROM reply_fields
		WHERE reply_id = $1 AND name = $2
		FOR UPDATE`, replyID, name,
	).Scan(&existingID, &existingType)

	switch {
	case err == nil && existingType == fieldType:
		return existingID, nil
	case err == nil:
		if _, err := r.db.Exec(ctx, `DELETE FROM reply_fields WHERE id = $1`, existingID); err != nil {
			return "", fmt.Errorf("ошибка удаления поля %q другого типа: %w", name, err)
		}
	case !errors.Is(err, pgx.ErrNoRows):
		return "", fmt.Errorf("ошибка поиска поля %q: %w", name, err)
	}

	id := uuid.NewString()
	_, err = r.db.Exec(ctx, `
		INSERT INTO reply_fields (id, reply_id, name, field_type)
		VALUES ($1, $2, $3, $4)`, id, replyID, name, fieldType)
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("%w: поле %q уже существует", ErrConflict, name)
		}
		if isForeignKeyViolation(err) {
			return "", fmt.Errorf("%w: ответ %s", ErrNotFound, replyID)
		}
		return "", fmt.Errorf("ошибка создания поля %q: %w", name, err)
	}
	return id, nil
}

// upsertScalar записывает значение скалярного поля в таблицу варианта.
// table — всегда константа из SetField.
func (r *fieldRepo) upsertScalar(ctx context.Context, table, fieldID string, value any) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (field_id, value) VALUES ($1, $2)
		ON CONFLICT (field_id) DO UPDATE SET value = EXCLUDED.value`, table)
	if _, err := r.db.Exec(ctx, query, fieldID, value); err != nil {
		return fmt.Errorf("ошибка записи значения в %s: %w", table, err)
	}
	return nil
}

// replaceListItems заменяет элементы списка: отсутствующие в новом значении удаляются.
func (r *fieldRepo) replaceListItems(ctx context.Context, fieldID string, items []string) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM list_reply_field_items
		WHERE field_id = $1 AND NOT (value = ANY($2::text[]))`, fieldID, items)
	if err != nil {
		return fmt.Errorf("ошибка удаления элементов списка: %w", err)
	}

	for _, item := range items {
		_, err := r.db.Exec(ctx, `
			INSERT INTO list_reply_field_items (id, field_id, value)
			VALUES ($1, $2, $3)
			ON CONFLICT (field_id, value) DO NOTHING`, uuid.NewString(), fieldID, item)
		if err != nil {
			return fmt.Errorf("ошибка записи элемента списка: %w", err)
		}
	}
	return nil
}

// replaceTableRows заменяет строки таблицы целиком; ячейки удаляются каскадно.
func (r *fieldRepo) replaceTableRows(ctx context.Context, fieldID string, rows model.TableValue) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM table_reply_field_rows WHERE field_id = $1`, fieldID); err != nil {
		return fmt.Errorf("ошибка удаления строк таблицы: %w", err)
	}

	for i, row := range rows {
		rowID := uuid.NewString()
		_, err := r.db.Exec(ctx, `
			INSERT INTO table_reply_field_rows (id, field_id, row_index)
			VALUES ($1, $2, $3)`, rowID, fieldID, i)
		if err != nil {
			return fmt.Errorf("ошибка записи строки таблицы %d: %w", i, err)
		}

		for _, cell := range row {
			var (
				stringValue *string
				numberValue *float64
			)
			switch v := cell.Value.(type) {
			case model.StringValue:
				s := string(v)
				stringValue = &s
			case model.NumberValue:
				n := float64(v)
				numberValue = &n
			default:
				return fmt.Errorf("ячейка %q: неизвестный тип %T", cell.Name, cell.Value)
			}

			_, err := r.db.Exec(ctx, `
				INSERT INTO table_reply_field_row_cells (id, row_id, name, cell_type, string_value, number_value)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				uuid.NewString(), rowID, cell.Name, cell.Value.Type(), stringValue, numberValue)
			if err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: ячейка %q повторяется в строке %d", ErrConflict, cell.Name, i)
				}
				return fmt.Errorf("ошибка записи ячейки %q: %w", cell.Name, err)
			}
		}
	}
	return nil
}

// replaceAttachmentItems заменяет ссылки поля на вложения.
func (r *fieldRepo) replaceAttachmentItems(ctx context.Context, fieldID string, attachmentIDs []string) error {
	_, err := r.db.Exec(ctx, `
		DELETE FROM attachment_reply_field_items
		WHERE field_id = $1 AND NOT (attachment_id::text = ANY($2::text[]))`, fieldID, attachmentIDs)
	if err != nil {
		return fmt.Errorf("ошибка удаления ссылок на вложения: %w", err)
	}

	for _, attachmentID := range attachmentIDs {
		if _, err := uuid.Parse(attachmentID); err != nil {
			return fmt.Errorf("%w: вложение %q", ErrNotFound, attachmentID)
		}
		_, err := r.db.Exec(ctx, `
			INSERT INTO attachment_reply_field_items (id, field_id, attachment_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (field_id, attachment_id) DO NOTHING`, uuid.NewString(), fieldID, attachmentID)
		if err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("%w: вложение %s", ErrNotFound, attachmentID)
			}
			return fmt.Errorf("ошибка записи ссылки на вложение: %w", err)
		}
	}
	return nil
}

func (r *fieldRepo) ListFieldNames(ctx context.Context, replyID string) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT name FROM reply_fields WHERE reply_id = $1 ORDER BY name`, replyID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения имён полей: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования имён полей: %w", err)
	}
	return names, nil
}

func (r *fieldRepo) DeleteFields(ctx context.Context, replyID string, names []string) error {
	if len(names) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, `
		DELETE FROM reply_fields
		WHERE reply_id = $1 AND name = ANY($2::text[])`, replyID, names)
	if err != nil {
		return fmt.Errorf("ошибка удаления полей: %w", err)
	}
	return nil
}

func (r *fieldRepo) ListFields(ctx context.Context, replyID string) ([]model.Field, error) {
	rows, err := r.db.Query(ctx, `
		SELECT f.id, f.name, f.field_type, s.value, n.value, b.value
		FROM reply_fields f
		LEFT JOIN string_reply_fields s ON s.field_id = f.id
		LEFT JOIN number_reply_fields n ON n.field_id = f.id
		LEFT JOIN boolean_reply_fields b ON b.field_id = f.id
		WHERE f.reply_id = $1
		ORDER BY f.name`, replyID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения полей: %w", err)
	}
	defer rows.Close()

	var fields []model.Field
	index := make(map[string]int)
	for rows.Next() {
		var (
			f           model.Field
			fieldType   model.FieldType
			stringValue *string
			numberValue *float64
			boolValue   *bool
		)
		if err := rows.Scan(&f.ID, &f.Name, &fieldType, &stringValue, &numberValue, &boolValue); err != nil {
			return nil, fmt.Errorf("ошибка сканирования поля: %w", err)
		}
		f.ReplyID = replyID

		switch fieldType {
		case model.FieldTypeString:
			f.Value = model.StringValue(deref(stringValue))
		case model.FieldTypeNumber:
			f.Value = model.NumberValue(deref(numberValue))
		case model.FieldTypeBoolean:
			f.Value = model.BooleanValue(deref(boolValue))
		case model.FieldTypeList:
			f.Value = model.ListValue{}
		case model.FieldTypeTable:
			f.Value = model.TableValue{}
		case model.FieldTypeAttachment:
			f.Value = model.AttachmentValue{}
		default:
			return nil, fmt.Errorf("поле %q: неизвестный тип хранения %q", f.Name, fieldType)
		}

		index[f.ID] = len(fields)
		fields = append(fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения полей: %w", err)
	}

	if err := r.loadListItems(ctx, replyID, fields, index); err != nil {
		return nil, err
	}
	if err := r.loadTableRows(ctx, replyID, fields, index); err != nil {
		return nil, err
	}
	if err := r.loadAttachmentItems(ctx, replyID, fields, index); err != nil {
		return nil, err
	}
	return fields, nil
}

// loadListItems заполняет значения списков.
func (r *fieldRepo) loadListItems(ctx context.Context, replyID string, fields []model.Field, index map[string]int) error {
	rows, err := r.db.Query(ctx, `
		SELECT i.field_id, i.value
		FROM list_reply_field_items i
		JOIN reply_fields f ON f.id = i.field_id
		WHERE f.reply_id = $1
		ORDER BY i.value`, replyID)
	if err != nil {
		return fmt.Errorf("ошибка получения элементов списков: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var fieldID, value string
		if err := rows.Scan(&fieldID, &value); err != nil {
			return fmt.Errorf("ошибка сканирования элемента списка: %w", err)
		}
		if i, ok := index[fieldID]; ok {
			fields[i].Value = append(fields[i].Value.(model.ListValue), value)
		}
	}
	return rows.Err()
}

// loadTableRows заполняет значения таблиц. Строки возвращаются в порядке отправки.
func (r *fieldRepo) loadTableRows(ctx context.Context, replyID string, fields []model.Field, index map[string]int) error {
	rows, err := r.db.Query(ctx, `
		SELECT t.field_id, t.id, c.name, c.cell_type, c.string_value, c.number_value
		FROM table_reply_field_rows t
		JOIN reply_fields f ON f.id = t.field_id
		LEFT JOIN table_reply_field_row_cells c ON c.row_id = t.id
		WHERE f.reply_id = $1
		ORDER BY t.field_id, t.row_index, c.name`, replyID)
	if err != nil {
		return fmt.Errorf("ошибка получения строк таблиц: %w", err)
	}
	defer rows.Close()

	lastRowID := ""
	for rows.Next() {
		var (
			fieldID, rowID string
			cellName       *string
			cellType       *model.FieldType
			stringValue    *string
			numberValue    *float64
		)
		if err := rows.Scan(&fieldID, &rowID, &cellName, &cellType, &stringValue, &numberValue); err != nil {
			return fmt.Errorf("ошибка сканирования строки таблицы: %w", err)
		}
		i, ok := index[fieldID]
		if !ok {
			continue
		}

		table := fields[i].Value.(model.TableValue)
		if rowID != lastRowID {
			table = append(table, model.TableRow{})
			lastRowID = rowID
		}
		if cellName != nil && cellType != nil {
			var value model.CellValue
			if *cellType == model.FieldTypeNumber {
				value = model.NumberValue(deref(numberValue))
			} else {
				value = model.StringValue(deref(stringValue))
			}
			last := len(table) - 1
			table[last] = append(table[last], model.TableCell{Name: *cellName, Value: value})
		}
		fields[i].Value = table
	}
	return rows.Err()
}

// loadAttachmentItems заполняет ссылки на вложения.
func (r *fieldRepo) loadAttachmentItems(ctx context.Context, replyID string, fields []model.Field, index map[string]int) error {
	rows, err := r.db.Query(ctx, `
		SELECT a.field_id, a.attachment_id
		FROM attachment_reply_field_items a
		JOIN reply_fields f ON f.id = a.field_id
		WHERE f.reply_id = $1
		ORDER BY a.attachment_id`, replyID)
	if err != nil {
		return fmt.Errorf("ошибка получения ссылок на вложения: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var fieldID, attachmentID string
		if err := rows.Scan(&fieldID, &attachmentID); err != nil {
			return fmt.Errorf("ошибка сканирования ссылки на вложение: %w", err)
		}
		if i, ok := index[fieldID]; ok {
			fields[i].Value = append(fields[i].Value.(model.AttachmentValue), attachmentID)
		}
	}
	return rows.Err()
}

// deref возвращает значение указателя или нулевое значение типа.
func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
