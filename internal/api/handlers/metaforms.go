// metaforms.go — обработчики /v1/metaforms.
package handlers

import (
	"encoding/json"
	"net/http"

	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/Metatavu/metaform-api-sub001/internal/api/contract"
	apierrors "github.com/Metatavu/metaform-api-sub001/internal/api/errors"
	"github.com/Metatavu/metaform-api-sub001/internal/api/middleware"
	"github.com/Metatavu/metaform-api-sub001/internal/domain/model"
)

// CreateMetaform — POST /v1/metaforms.
// Доступ: роль admin.
func (h *APIHandler) CreateMetaform(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return
	}
	if !claims.IsAdmin() {
		apierrors.Forbidden(w, "Недостаточно прав: требуется роль admin")
		return
	}

	var req contract.CreateMetaformJSONRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}

	form, err := h.metaforms.Create(r.Context(), toModelMetaform(req), claims.Subject)
	if err != nil {
		h.writeServiceError(w, err, "create_metaform")
		return
	}

	writeJSON(w, http.StatusCreated, mapMetaform(form))
}

// GetMetaform — GET /v1/metaforms/{metaformId}.
// Определение формы открыто: оно нужно и анонимному отправителю.
func (h *APIHandler) GetMetaform(w http.ResponseWriter, r *http.Request, metaformId openapi_types.UUID) { //nolint:revive // имя из контракта
	form, err := h.metaforms.Get(r.Context(), metaformId.String())
	if err != nil {
		h.writeServiceError(w, err, "get_metaform")
		return
	}

	writeJSON(w, http.StatusOK, mapMetaform(form))
}

// --- Маппинг contract ↔ model ---

func toModelMetaform(req contract.Metaform) *model.Metaform {
	form := &model.Metaform{
		Slug:                    req.Slug,
		Title:                   deref(req.Title),
		AllowAnonymous:          req.AllowAnonymous != nil && *req.AllowAnonymous,
		DefaultPermissionGroups: toModelGroups(req.DefaultPermissionGroups),
		Sections:                make([]model.FormSection, len(req.Sections)),
	}
	if req.ReplyStrategy != nil {
		form.ReplyStrategy = model.ReplyStrategy(*req.ReplyStrategy)
	}

	for i, s := range req.Sections {
		section := model.FormSection{Title: deref(s.Title), Fields: make([]model.FormField, len(s.Fields))}
		for j, f := range s.Fields {
			field := model.FormField{
				Name:     deref(f.Name),
				Type:     f.Type,
				Title:    deref(f.Title),
				Required: f.Required != nil && *f.Required,
			}
			if f.Options != nil {
				for _, o := range *f.Options {
					field.Options = append(field.Options, model.FieldOption{
						Name:             o.Name,
						Text:             deref(o.Text),
						PermissionGroups: toModelGroups(o.PermissionGroups),
					})
				}
			}
			if f.Columns != nil {
				for _, c := range *f.Columns {
					field.Columns = append(field.Columns, model.TableColumn{Name: c.Name, Type: c.Type})
				}
			}
			section.Fields[j] = field
		}
		form.Sections[i] = section
	}
	return form
}

func toModelGroups(g *contract.PermissionGroups) *model.PermissionGroups {
	if g == nil {
		return nil
	}
	return &model.PermissionGroups{
		EditGroupIDs:   derefSlice(g.EditGroupIds),
		ViewGroupIDs:   derefSlice(g.ViewGroupIds),
		NotifyGroupIDs: derefSlice(g.NotifyGroupIds),
	}
}

func mapMetaform(form *model.Metaform) contract.Metaform {
	id := parseUUID(form.ID)
	strategy := contract.ReplyStrategy(form.EffectiveReplyStrategy())
	resp := contract.Metaform{
		Id:                      &id,
		Slug:                    form.Slug,
		Title:                   optional(form.Title),
		AllowAnonymous:          &form.AllowAnonymous,
		ReplyStrategy:           &strategy,
		DefaultPermissionGroups: mapGroups(form.DefaultPermissionGroups),
		Sections:                make([]contract.MetaformSection, len(form.Sections)),
	}

	for i, s := range form.Sections {
		section := contract.MetaformSection{Title: optional(s.Title), Fields: make([]contract.MetaformField, len(s.Fields))}
		for j, f := range s.Fields {
			field := contract.MetaformField{
				Name:  optional(f.Name),
				Type:  f.Type,
				Title: optional(f.Title),
			}
			if f.Required {
				field.Required = &f.Required
			}
			if len(f.Options) > 0 {
				options := make([]contract.MetaformFieldOption, len(f.Options))
				for k, o := range f.Options {
					options[k] = contract.MetaformFieldOption{
						Name:             o.Name,
						Text:             optional(o.Text),
						PermissionGroups: mapGroups(o.PermissionGroups),
					}
				}
				field.Options = &options
			}
			if len(f.Columns) > 0 {
				columns := make([]contract.MetaformTableColumn, len(f.Columns))
				for k, c := range f.Columns {
					columns[k] = contract.MetaformTableColumn{Name: c.Name, Type: c.Type}
				}
				field.Columns = &columns
			}
			section.Fields[j] = field
		}
		resp.Sections[i] = section
	}
	return resp
}

func mapGroups(g *model.PermissionGroups) *contract.PermissionGroups {
	if g == nil {
		return nil
	}
	return &contract.PermissionGroups{
		EditGroupIds:   optionalSlice(g.EditGroupIDs),
		ViewGroupIds:   optionalSlice(g.ViewGroupIDs),
		NotifyGroupIds: optionalSlice(g.NotifyGroupIDs),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefSlice(s *[]string) []string {
	if s == nil {
		return nil
	}
	return *s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optionalSlice(s []string) *[]string {
	if len(s) == 0 {
		return nil
	}
	return &s
}
