// attachments.go — сервис вложений: загрузка, метаданные, содержимое, удаление.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Metatavu/metaform-api-sub001/internal/domain/model"
	"github.com/Metatavu/metaform-api-sub001/internal/repository"
)

// AttachmentService — сервис вложений.
type AttachmentService struct {
	repo    repository.AttachmentRepository
	maxSize int64
	logger  *slog.Logger
}

// NewAttachmentService создаёт сервис вложений.
// maxSize — максимальный размер содержимого в байтах.
func NewAttachmentService(repo repository.AttachmentRepository, maxSize int64, logger *slog.Logger) *AttachmentService {
	return &AttachmentService{
		repo:    repo,
		maxSize: maxSize,
		logger:  logger.With(slog.String("component", "attachment_service")),
	}
}

// MaxSize возвращает максимальный размер вложения.
func (s *AttachmentService) MaxSize() int64 {
	return s.maxSize
}

// Upload сохраняет вложение.
func (s *AttachmentService) Upload(ctx context.Context, p Principal, name, contentType string, content []byte) (*model.Attachment, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("%w: пустое вложение", ErrValidation)
	}
	if int64(len(content)) > s.maxSize {
		return nil, fmt.Errorf("%w: размер вложения превышает %d байт", ErrValidation, s.maxSize)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	a := &model.Attachment{
		ID:          uuid.New().String(),
		Name:        name,
		ContentType: contentType,
		Content:     content,
	}
	if !p.Anonymous() {
		a.UserID = &p.UserID
	}

	if err := s.repo.Create(ctx, a); err != nil {
		return nil, mapRepoError(err)
	}

	s.logger.Info("Вложение загружено",
		slog.String("attachment_id", a.ID),
		slog.Int64("size", a.Size),
	)
	a.Content = nil
	return a, nil
}

// Get возвращает метаданные вложения.
func (s *AttachmentService) Get(ctx context.Context, p Principal, id string) (*model.Attachment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err)
	}
	if err := checkAttachmentAccess(p, a); err != nil {
		return nil, err
	}
	return a, nil
}

// GetContent возвращает вложение вместе с содержимым.
func (s *AttachmentService) GetContent(ctx context.Context, p Principal, id string) (*model.Attachment, error) {
	a, err := s.repo.GetContent(ctx, id)
	if err != nil {
		return nil, mapRepoError(err)
	}
	if err := checkAttachmentAccess(p, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Delete удаляет вложение, на которое не ссылается ни одно поле.
func (s *AttachmentService) Delete(ctx context.Context, p Principal, id string) error {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return mapRepoError(err)
	}
	if err := checkAttachmentAccess(p, a); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return mapRepoError(err)
	}

	s.logger.Info("Вложение удалено", slog.String("attachment_id", id))
	return nil
}

// checkAttachmentAccess: вложение пользователя доступно ему и администратору,
// анонимное вложение доступно по ID.
func checkAttachmentAccess(p Principal, a *model.Attachment) error {
	if a.UserID == nil || p.Admin {
		return nil
	}
	if !p.Anonymous() && *a.UserID == p.UserID {
		return nil
	}
	return ErrForbidden
}
