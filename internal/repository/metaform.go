package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Metatavu/metaform-api-sub001/internal/domain/model"
)

// MetaformRepository — интерфейс доступа к определениям форм.
type MetaformRepository interface {
	// Create сохраняет определение формы.
	Create(ctx context.Context, form *model.Metaform) error
	// GetByID возвращает определение формы по UUID.
	GetByID(ctx context.Context, id string) (*model.Metaform, error)
}

// metaformRepo — реализация MetaformRepository.
type metaformRepo struct {
	db DBTX
}

// NewMetaformRepository создаёт репозиторий форм.
func NewMetaformRepository(db DBTX) MetaformRepository {
	return &metaformRepo{db: db}
}

func (r *metaformRepo) Create(ctx context.Context, form *model.Metaform) error {
	data, err := json.Marshal(form)
	if err != nil {
		return fmt.Errorf("ошибка сериализации формы: %w", err)
	}

	query := `
		INSERT INTO metaforms (id, slug, allow_anonymous, data, created_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`

	err = r.db.QueryRow(ctx, query,
		form.ID, form.Slug, form.AllowAnonymous, data, form.CreatedBy,
	).Scan(&form.CreatedAt, &form.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: slug %q уже занят", ErrConflict, form.Slug)
		}
		return fmt.Errorf("ошибка создания формы: %w", err)
	}
	return nil
}

func (r *metaformRepo) GetByID(ctx context.Context, id string) (*model.Metaform, error) {
	query := `
		SELECT id, slug, allow_anonymous, data, created_by, created_at, updated_at
		FROM metaforms
		WHERE id = $1`

	var (
		form   = &model.Metaform{}
		data   []byte
		formID string
		slug   string
		anon   bool
	)
	err := r.db.QueryRow(ctx, query, id).Scan(
		&formID, &slug, &anon, &data, &form.CreatedBy, &form.CreatedAt, &form.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения формы: %w", err)
	}

	if err := json.Unmarshal(data, form); err != nil {
		return nil, fmt.Errorf("ошибка разбора определения формы %s: %w", id, err)
	}
	// Столбцы таблицы приоритетнее содержимого JSONB
	form.ID = formID
	form.Slug = slug
	form.AllowAnonymous = anon
	return form, nil
}
