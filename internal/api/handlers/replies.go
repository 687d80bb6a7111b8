// replies.go — обработчики /v1/metaforms/{metaformId}/replies.
// Разбор фильтров по полям, декодирование значений по определению формы,
// передача owner-key из заголовка X-Owner-Key.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/Metatavu/metaform-api-sub001/internal/api/contract"
	apierrors "github.com/Metatavu/metaform-api-sub001/internal/api/errors"
	"github.com/Metatavu/metaform-api-sub001/internal/domain/model"
	"github.com/Metatavu/metaform-api-sub001/internal/service"
)

// CreateReply — POST /v1/metaforms/{metaformId}/replies.
// Анонимная отправка допускается, если форма это разрешает;
// в этом случае в ответе один раз возвращается ownerKey.
func (h *APIHandler) CreateReply(w http.ResponseWriter, r *http.Request, metaformId openapi_types.UUID) { //nolint:revive // имя из контракта
	values, ok := h.decodeReplyData(w, r, metaformId.String())
	if !ok {
		return
	}

	reply, err := h.replies.Create(r.Context(), principal(r, nil), metaformId.String(), values)
	if err != nil {
		h.writeServiceError(w, err, "create_reply")
		return
	}

	writeJSON(w, http.StatusCreated, mapReply(reply))
}

// UpdateReply — PUT /v1/metaforms/{metaformId}/replies/{replyId}.
func (h *APIHandler) UpdateReply(
	w http.ResponseWriter, r *http.Request,
	metaformId openapi_types.UUID, replyId openapi_types.UUID, //nolint:revive // имена из контракта
	params contract.UpdateReplyParams,
) {
	body, ok := decodeReplyBody(w, r)
	if !ok {
		return
	}

	// Значения разбираются в сервисе после проверки доступа
	reply, err := h.replies.Update(r.Context(), principal(r, params.XOwnerKey), metaformId.String(), replyId.String(), body.Data)
	if err != nil {
		h.writeServiceError(w, err, "update_reply")
		return
	}

	writeJSON(w, http.StatusOK, mapReply(reply))
}

// GetReply — GET /v1/metaforms/{metaformId}/replies/{replyId}.
func (h *APIHandler) GetReply(
	w http.ResponseWriter, r *http.Request,
	metaformId openapi_types.UUID, replyId openapi_types.UUID, //nolint:revive // имена из контракта
	params contract.GetReplyParams,
) {
	reply, err := h.replies.Get(r.Context(), principal(r, params.XOwnerKey), metaformId.String(), replyId.String())
	if err != nil {
		h.writeServiceError(w, err, "get_reply")
		return
	}

	writeJSON(w, http.StatusOK, mapReply(reply))
}

// DeleteReply — DELETE /v1/metaforms/{metaformId}/replies/{replyId}.
// Администратор удаляет ответ вместе с ревизиями.
func (h *APIHandler) DeleteReply(
	w http.ResponseWriter, r *http.Request,
	metaformId openapi_types.UUID, replyId openapi_types.UUID, //nolint:revive // имена из контракта
	params contract.DeleteReplyParams,
) {
	err := h.replies.Delete(r.Context(), principal(r, params.XOwnerKey), metaformId.String(), replyId.String())
	if err != nil {
		h.writeServiceError(w, err, "delete_reply")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListReplies — GET /v1/metaforms/{metaformId}/replies.
func (h *APIHandler) ListReplies(
	w http.ResponseWriter, r *http.Request,
	metaformId openapi_types.UUID, //nolint:revive // имя из контракта
	params contract.ListRepliesParams,
) {
	q := service.ListQuery{
		MetaformID:     metaformId.String(),
		UserID:         params.UserId,
		CreatedBefore:  params.CreatedBefore,
		CreatedAfter:   params.CreatedAfter,
		ModifiedBefore: params.ModifiedBefore,
		ModifiedAfter:  params.ModifiedAfter,
	}
	if params.IncludeRevisions != nil {
		q.IncludeRevisions = *params.IncludeRevisions
	}
	if params.BestEffort != nil {
		q.BestEffort = *params.BestEffort
	}
	if params.Fields != nil {
		filters, err := parseFieldFilters(*params.Fields)
		if err != nil {
			apierrors.ValidationError(w, err.Error())
			return
		}
		q.Fields = filters
	}

	replies, err := h.replies.ListWithFields(r.Context(), principal(r, nil), q)
	if err != nil {
		h.writeServiceError(w, err, "list_replies")
		return
	}

	items := make([]contract.Reply, len(replies))
	for i, reply := range replies {
		items[i] = mapReply(reply)
	}
	writeJSON(w, http.StatusOK, contract.ReplyList{Items: items, Total: len(items)})
}

// decodeReplyBody разбирает JSON-тело с данными ответа.
func decodeReplyBody(w http.ResponseWriter, r *http.Request) (contract.ReplyData, bool) {
	var body contract.ReplyData
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return body, false
	}
	return body, true
}

// decodeReplyData разбирает тело запроса и приводит значения
// к вариантам хранения по определению формы.
func (h *APIHandler) decodeReplyData(w http.ResponseWriter, r *http.Request, metaformID string) (map[string]model.FieldValue, bool) {
	body, ok := decodeReplyBody(w, r)
	if !ok {
		return nil, false
	}

	form, err := h.metaforms.Get(r.Context(), metaformID)
	if err != nil {
		h.writeServiceError(w, err, "get_metaform")
		return nil, false
	}

	values, err := service.DecodeValues(form, body.Data)
	if err != nil {
		h.writeServiceError(w, err, "decode_reply")
		return nil, false
	}
	return values, true
}

// parseFieldFilters разбирает фильтры вида name:value (равно) и name^value (не равно).
// Оператор определяется первым встреченным разделителем.
func parseFieldFilters(raw []string) ([]service.FieldQuery, error) {
	result := make([]service.FieldQuery, 0, len(raw))
	for _, item := range raw {
		idx := strings.IndexAny(item, ":^")
		if idx <= 0 {
			return nil, fmt.Errorf("некорректный фильтр %q: ожидается name:value или name^value", item)
		}

		op := model.FilterEquals
		if item[idx] == '^' {
			op = model.FilterNotEquals
		}
		result = append(result, service.FieldQuery{
			Field:    item[:idx],
			Operator: op,
			Value:    item[idx+1:],
		})
	}
	return result, nil
}

// mapReply конвертирует ответ со значениями полей в DTO контракта.
func mapReply(r *service.ReplyWithFields) contract.Reply {
	data := make(map[string]any, len(r.Fields))
	for _, f := range r.Fields {
		data[f.Name] = model.ToJSONValue(f.Value)
	}

	resp := contract.Reply{
		Id:         parseUUID(r.ID),
		UserId:     r.UserID,
		Revision:   r.Revision,
		CreatedAt:  r.CreatedAt,
		ModifiedAt: r.ModifiedAt,
		Data:       data,
	}
	if r.OwnerKey != "" {
		key := r.OwnerKey
		resp.OwnerKey = &key
	}
	return resp
}

// parseUUID разбирает UUID из БД; некорректное значение даёт нулевой UUID.
func parseUUID(s string) openapi_types.UUID {
	id, _ := uuid.Parse(s)
	return id
}
