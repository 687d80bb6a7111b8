// handler.go — основной обработчик API, реализующий contract.ServerInterface.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/Metatavu/metaform-api-sub001/internal/api/errors"
	"github.com/Metatavu/metaform-api-sub001/internal/api/middleware"
	"github.com/Metatavu/metaform-api-sub001/internal/domain/model"
	"github.com/Metatavu/metaform-api-sub001/internal/service"
)

// MetaformManager — операции над определениями форм.
type MetaformManager interface {
	Create(ctx context.Context, form *model.Metaform, createdBy string) (*model.Metaform, error)
	Get(ctx context.Context, id string) (*model.Metaform, error)
}

// ReplyManager — жизненный цикл ответов.
type ReplyManager interface {
	Create(ctx context.Context, p service.Principal, metaformID string, values map[string]model.FieldValue) (*service.ReplyWithFields, error)
	Update(ctx context.Context, p service.Principal, metaformID, replyID string, data map[string]any) (*service.ReplyWithFields, error)
	Get(ctx context.Context, p service.Principal, metaformID, replyID string) (*service.ReplyWithFields, error)
	Delete(ctx context.Context, p service.Principal, metaformID, replyID string) error
	ListWithFields(ctx context.Context, p service.Principal, q service.ListQuery) ([]*service.ReplyWithFields, error)
}

// AttachmentManager — операции над вложениями.
type AttachmentManager interface {
	MaxSize() int64
	Upload(ctx context.Context, p service.Principal, name, contentType string, content []byte) (*model.Attachment, error)
	Get(ctx context.Context, p service.Principal, id string) (*model.Attachment, error)
	GetContent(ctx context.Context, p service.Principal, id string) (*model.Attachment, error)
	Delete(ctx context.Context, p service.Principal, id string) error
}

// APIHandler — основной обработчик API Metaform.
// Реализует contract.ServerInterface, делегируя запросы в сервисный слой.
type APIHandler struct {
	health      *HealthHandler
	metaforms   MetaformManager
	replies     ReplyManager
	attachments AttachmentManager
	logger      *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	metaforms MetaformManager,
	replies ReplyManager,
	attachments AttachmentManager,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:      health,
		metaforms:   metaforms,
		replies:     replies,
		attachments: attachments,
		logger:      logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// principal собирает вызывающую сторону из JWT claims и заголовка X-Owner-Key.
func principal(r *http.Request, ownerKey *string) service.Principal {
	var p service.Principal
	if claims := middleware.ClaimsFromContext(r.Context()); claims != nil {
		p.UserID = claims.Subject
		p.Admin = claims.IsAdmin()
		p.Token = claims.Token
	}
	if ownerKey != nil {
		p.OwnerKey = *ownerKey
	}
	return p
}

// writeServiceError переводит ошибку сервисного слоя в HTTP-ответ.
// Отказ в доступе всегда одинаков: причина не раскрывается.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, service.ErrUnsupportedFilter):
		apierrors.UnsupportedFilter(w, err.Error())
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, "Ресурс не найден")
	case errors.Is(err, service.ErrForbidden):
		apierrors.Forbidden(w, "Доступ запрещён")
	case errors.Is(err, service.ErrConflict):
		apierrors.Conflict(w, err.Error())
	case errors.Is(err, service.ErrIDPUnavailable):
		h.logger.Error("Сервис авторизации недоступен", slog.String("op", op), slog.String("error", err.Error()))
		apierrors.IDPUnavailable(w, "Сервис авторизации недоступен")
	default:
		h.logger.Error("Внутренняя ошибка", slog.String("op", op), slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
