package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Metatavu/metaform-api-sub001/internal/domain/model"
)

// replyColumns — столбцы replies в порядке scanReply. Псевдоним таблицы — r.
const replyColumns = `r.id, r.metaform_id, r.user_id, r.revision, r.resource_id, r.private_key,
			r.created_by, r.last_modified_by, r.created_at, r.modified_at`

// ReplyRepository — интерфейс доступа к таблице replies.
type ReplyRepository interface {
	// Create создаёт ответ. Нарушение единственности актуального ответа — ErrConflict.
	Create(ctx context.Context, reply *model.Reply) error
	// GetByID возвращает ответ по UUID.
	GetByID(ctx context.Context, id string) (*model.Reply, error)
	// FindCurrent возвращает актуальный (revision IS NULL) ответ пользователя на форму.
	FindCurrent(ctx context.Context, metaformID, userID string) (*model.Reply, error)
	// MarkRevision переводит актуальный ответ в историческую ревизию.
	MarkRevision(ctx context.Context, id string, at time.Time) error
	// Touch обновляет автора и время изменения ответа.
	Touch(ctx context.Context, id string, modifiedBy *string) error
	// SetResourceID сохраняет ссылку на защищённый ресурс Keycloak.
	SetResourceID(ctx context.Context, id, resourceID string) error
	// List возвращает ответы, удовлетворяющие фильтру, по возрастанию времени создания.
	List(ctx context.Context, filter model.ReplyListFilter) ([]*model.Reply, error)
	// ListChain возвращает цепочку ответа: сам ответ и все ответы того же
	// пользователя на ту же форму (актуальный и ревизии). Для анонимного ответа — только его.
	ListChain(ctx context.Context, reply *model.Reply) ([]*model.Reply, error)
	// Delete удаляет ответы по UUID; поля удаляются каскадно.
	Delete(ctx context.Context, ids []string) error
}

// replyRepo — реализация ReplyRepository.
type replyRepo struct {
	db DBTX
}

// NewReplyRepository создаёт репозиторий ответов.
func NewReplyRepository(db DBTX) ReplyRepository {
	return &replyRepo{db: db}
}

func (r *replyRepo) Create(ctx context.Context, reply *model.Reply) error {
	query := `
		INSERT INTO replies (id, metaform_id, user_id, revision, resource_id, private_key,
			created_by, last_modified_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, modified_at`

	err := r.db.QueryRow(ctx, query,
		reply.ID, reply.MetaformID, reply.UserID, reply.Revision, reply.ResourceID,
		reply.PrivateKey, reply.CreatedBy, reply.LastModifiedBy,
	).Scan(&reply.CreatedAt, &reply.ModifiedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: у пользователя уже есть актуальный ответ на форму", ErrConflict)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: форма %s", ErrNotFound, reply.MetaformID)
		}
		return fmt.Errorf("ошибка создания ответа: %w", err)
	}
	return nil
}

func (r *replyRepo) GetByID(ctx context.Context, id string) (*model.Reply, error) {
	query := `SELECT ` + replyColumns + ` FROM replies r WHERE r.id = $1`
	reply, err := scanReply(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения ответа: %w", err)
	}
	return reply, nil
}

func (r *replyRepo) FindCurrent(ctx context.Context, metaformID, userID string) (*model.Reply, error) {
	query := `
		SELECT ` + replyColumns + `
		FROM replies r
		WHERE r.metaform_id = $1 AND r.user_id = $2 AND r.revision IS NULL
		FOR UPDATE`
	reply, err := scanReply(r.db.QueryRow(ctx, query, metaformID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка поиска актуального ответа: %w", err)
	}
	return reply, nil
}

func (r *replyRepo) MarkRevision(ctx context.Context, id string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE replies SET revision = $2
		WHERE id = $1 AND revision IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("ошибка перевода ответа в ревизию: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *replyRepo) Touch(ctx context.Context, id string, modifiedBy *string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE replies SET last_modified_by = $2, modified_at = NOW()
		WHERE id = $1 AND revision IS NULL`, id, modifiedBy)
	if err != nil {
		return fmt.Errorf("ошибка обновления ответа: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *replyRepo) SetResourceID(ctx context.Context, id, resourceID string) error {
	tag, err := r.db.Exec(ctx, `UPDATE replies SET resource_id = $2 WHERE id = $1`, id, resourceID)
	if err != nil {
		return fmt.Errorf("ошибка сохранения ресурса ответа: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *replyRepo) List(ctx context.Context, filter model.ReplyListFilter) ([]*model.Reply, error) {
	query, args, err := buildListQuery(filter)
	if err != nil {
		return nil, err
	}
	return r.queryReplies(ctx, query, args...)
}

func (r *replyRepo) ListChain(ctx context.Context, reply *model.Reply) ([]*model.Reply, error) {
	if reply.UserID == nil {
		return []*model.Reply{reply}, nil
	}
	query := `
		SELECT ` + replyColumns + `
		FROM replies r
		WHERE r.metaform_id = $1 AND r.user_id = $2
		ORDER BY r.created_at ASC, r.id ASC`
	return r.queryReplies(ctx, query, reply.MetaformID, *reply.UserID)
}

func (r *replyRepo) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM replies WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		return fmt.Errorf("ошибка удаления ответов: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// queryReplies выполняет запрос и сканирует результат в список ответов.
func (r *replyRepo) queryReplies(ctx context.Context, query string, args ...any) ([]*model.Reply, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка ответов: %w", err)
	}
	defer rows.Close()

	var result []*model.Reply
	for rows.Next() {
		reply, err := scanReply(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования ответа: %w", err)
		}
		result = append(result, reply)
	}
	return result, rows.Err()
}

// scanReply сканирует строку с replyColumns.
func scanReply(row pgx.Row) (*model.Reply, error) {
	reply := &model.Reply{}
	err := row.Scan(
		&reply.ID, &reply.MetaformID, &reply.UserID, &reply.Revision, &reply.ResourceID,
		&reply.PrivateKey, &reply.CreatedBy, &reply.LastModifiedBy,
		&reply.CreatedAt, &reply.ModifiedAt,
	)
	if err != nil {
		return nil, err
	}
	return reply, nil
}
