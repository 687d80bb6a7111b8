package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Metatavu/metaform-api-sub001/internal/domain/model"
)

// AttachmentRepository — интерфейс доступа к таблице attachments.
type AttachmentRepository interface {
	// Create сохраняет вложение вместе с содержимым.
	Create(ctx context.Context, a *model.Attachment) error
	// GetByID возвращает метаданные вложения (без содержимого).
	GetByID(ctx context.Context, id string) (*model.Attachment, error)
	// GetContent возвращает вложение вместе с содержимым.
	GetContent(ctx context.Context, id string) (*model.Attachment, error)
	// Delete удаляет вложение. Вложение, на которое ссылается поле ответа, — ErrConflict.
	Delete(ctx context.Context, id string) error
}

// attachmentRepo — реализация AttachmentRepository.
type attachmentRepo struct {
	db DBTX
}

// NewAttachmentRepository создаёт репозиторий вложений.
func NewAttachmentRepository(db DBTX) AttachmentRepository {
	return &attachmentRepo{db: db}
}

func (r *attachmentRepo) Create(ctx context.Context, a *model.Attachment) error {
	query := `
		INSERT INTO attachments (id, user_id, name, content_type, content)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query, a.ID, a.UserID, a.Name, a.ContentType, a.Content).Scan(&a.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: вложение %s", ErrConflict, a.ID)
		}
		return fmt.Errorf("ошибка создания вложения: %w", err)
	}
	a.Size = int64(len(a.Content))
	return nil
}

func (r *attachmentRepo) GetByID(ctx context.Context, id string) (*model.Attachment, error) {
	query := `
		SELECT id, user_id, name, content_type, octet_length(content), created_at
		FROM attachments
		WHERE id = $1`

	a := &model.Attachment{}
	err := r.db.QueryRow(ctx, query, id).Scan(&a.ID, &a.UserID, &a.Name, &a.ContentType, &a.Size, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения вложения: %w", err)
	}
	return a, nil
}

func (r *attachmentRepo) GetContent(ctx context.Context, id string) (*model.Attachment, error) {
	query := `
		SELECT id, user_id, name, content_type, content, created_at
		FROM attachments
		WHERE id = $1`

	a := &model.Attachment{}
	err := r.db.QueryRow(ctx, query, id).Scan(&a.ID, &a.UserID, &a.Name, &a.ContentType, &a.Content, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения содержимого вложения: %w", err)
	}
	a.Size = int64(len(a.Content))
	return a, nil
}

func (r *attachmentRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM attachments WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: вложение используется в ответах", ErrConflict)
		}
		return fmt.Errorf("ошибка удаления вложения: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
