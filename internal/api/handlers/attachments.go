// attachments.go — обработчики /v1/attachments.
// Загрузка сырым телом запроса, метаданные, содержимое, удаление.
package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/Metatavu/metaform-api-sub001/internal/api/contract"
	apierrors "github.com/Metatavu/metaform-api-sub001/internal/api/errors"
	"github.com/Metatavu/metaform-api-sub001/internal/domain/model"
)

// UploadAttachment — POST /v1/attachments.
// Имя файла — query-параметр name, тип — заголовок Content-Type.
func (h *APIHandler) UploadAttachment(w http.ResponseWriter, r *http.Request, params contract.UploadAttachmentParams) {
	body := http.MaxBytesReader(w, r.Body, h.attachments.MaxSize())
	content, err := io.ReadAll(body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierrors.PayloadTooLarge(w, "Вложение превышает допустимый размер "+strconv.FormatInt(maxErr.Limit, 10)+" байт")
			return
		}
		apierrors.ValidationError(w, "Ошибка чтения тела запроса")
		return
	}

	a, err := h.attachments.Upload(r.Context(), principal(r, nil), deref(params.Name), r.Header.Get("Content-Type"), content)
	if err != nil {
		h.writeServiceError(w, err, "upload_attachment")
		return
	}

	writeJSON(w, http.StatusCreated, mapAttachment(a))
}

// GetAttachment — GET /v1/attachments/{attachmentId}.
func (h *APIHandler) GetAttachment(w http.ResponseWriter, r *http.Request, attachmentId openapi_types.UUID) { //nolint:revive // имя из контракта
	a, err := h.attachments.Get(r.Context(), principal(r, nil), attachmentId.String())
	if err != nil {
		h.writeServiceError(w, err, "get_attachment")
		return
	}

	writeJSON(w, http.StatusOK, mapAttachment(a))
}

// GetAttachmentData — GET /v1/attachments/{attachmentId}/data.
func (h *APIHandler) GetAttachmentData(w http.ResponseWriter, r *http.Request, attachmentId openapi_types.UUID) { //nolint:revive // имя из контракта
	a, err := h.attachments.GetContent(r.Context(), principal(r, nil), attachmentId.String())
	if err != nil {
		h.writeServiceError(w, err, "get_attachment_data")
		return
	}

	w.Header().Set("Content-Type", a.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(a.Content)))
	if a.Name != "" {
		w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(a.Name))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(a.Content)
}

// DeleteAttachment — DELETE /v1/attachments/{attachmentId}.
// Вложение, на которое ссылаются ответы, не удаляется (409).
func (h *APIHandler) DeleteAttachment(w http.ResponseWriter, r *http.Request, attachmentId openapi_types.UUID) { //nolint:revive // имя из контракта
	if err := h.attachments.Delete(r.Context(), principal(r, nil), attachmentId.String()); err != nil {
		h.writeServiceError(w, err, "delete_attachment")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func mapAttachment(a *model.Attachment) contract.Attachment {
	return contract.Attachment{
		Id:          parseUUID(a.ID),
		UserId:      a.UserID,
		Name:        a.Name,
		ContentType: a.ContentType,
		Size:        a.Size,
		CreatedAt:   a.CreatedAt,
	}
}
