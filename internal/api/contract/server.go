package contract

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"
)

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// Liveness probe
	// (GET /health/live)
	HealthLive(w http.ResponseWriter, r *http.Request)
	// Readiness probe
	// (GET /health/ready)
	HealthReady(w http.ResponseWriter, r *http.Request)
	// Prometheus метрики
	// (GET /metrics)
	GetMetrics(w http.ResponseWriter, r *http.Request)
	// Загрузка вложения (сырое тело запроса)
	// (POST /v1/attachments)
	UploadAttachment(w http.ResponseWriter, r *http.Request, params UploadAttachmentParams)
	// Удаление вложения
	// (DELETE /v1/attachments/{attachmentId})
	DeleteAttachment(w http.ResponseWriter, r *http.Request, attachmentId openapi_types.UUID)
	// Метаданные вложения
	// (GET /v1/attachments/{attachmentId})
	GetAttachment(w http.ResponseWriter, r *http.Request, attachmentId openapi_types.UUID)
	// Содержимое вложения
	// (GET /v1/attachments/{attachmentId}/data)
	GetAttachmentData(w http.ResponseWriter, r *http.Request, attachmentId openapi_types.UUID)
	// Создание формы
	// (POST /v1/metaforms)
	CreateMetaform(w http.ResponseWriter, r *http.Request)
	// Определение формы
	// (GET /v1/metaforms/{metaformId})
	GetMetaform(w http.ResponseWriter, r *http.Request, metaformId openapi_types.UUID)
	// Список ответов формы
	// (GET /v1/metaforms/{metaformId}/replies)
	ListReplies(w http.ResponseWriter, r *http.Request, metaformId openapi_types.UUID, params ListRepliesParams)
	// Отправка ответа
	// (POST /v1/metaforms/{metaformId}/replies)
	CreateReply(w http.ResponseWriter, r *http.Request, metaformId openapi_types.UUID)
	// Удаление ответа вместе с ревизиями
	// (DELETE /v1/metaforms/{metaformId}/replies/{replyId})
	DeleteReply(w http.ResponseWriter, r *http.Request, metaformId openapi_types.UUID, replyId openapi_types.UUID, params DeleteReplyParams)
	// Ответ со значениями полей
	// (GET /v1/metaforms/{metaformId}/replies/{replyId})
	GetReply(w http.ResponseWriter, r *http.Request, metaformId openapi_types.UUID, replyId openapi_types.UUID, params GetReplyParams)
	// Обновление ответа
	// (PUT /v1/metaforms/{metaformId}/replies/{replyId})
	UpdateReply(w http.ResponseWriter, r *http.Request, metaformId openapi_types.UUID, replyId openapi_types.UUID, params UpdateReplyParams)
}

// ServerInterfaceWrapper converts contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler            ServerInterface
	HandlerMiddlewares []MiddlewareFunc
	ErrorHandlerFunc   func(w http.ResponseWriter, r *http.Request, err error)
}

// MiddlewareFunc — middleware отдельного обработчика.
type MiddlewareFunc func(http.Handler) http.Handler

// HealthLive operation middleware
func (siw *ServerInterfaceWrapper) HealthLive(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.HealthLive(w, r)
	})
}

// HealthReady operation middleware
func (siw *ServerInterfaceWrapper) HealthReady(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.HealthReady(w, r)
	})
}

// GetMetrics operation middleware
func (siw *ServerInterfaceWrapper) GetMetrics(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.GetMetrics(w, r)
	})
}

// UploadAttachment operation middleware
func (siw *ServerInterfaceWrapper) UploadAttachment(w http.ResponseWriter, r *http.Request) {
	var err error

	// Parameter object where we will unmarshal all parameters from the context
	var params UploadAttachmentParams

	// ------------- Optional query parameter "name" -------------

	err = runtime.BindQueryParameter("form", true, false, "name", r.URL.Query(), &params.Name)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "name", Err: err})
		return
	}

	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.UploadAttachment(w, r, params)
	})
}

// DeleteAttachment operation middleware
func (siw *ServerInterfaceWrapper) DeleteAttachment(w http.ResponseWriter, r *http.Request) {
	attachmentId, ok := siw.bindUUID(w, r, "attachmentId")
	if !ok {
		return
	}

	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.DeleteAttachment(w, r, attachmentId)
	})
}

// GetAttachment operation middleware
func (siw *ServerInterfaceWrapper) GetAttachment(w http.ResponseWriter, r *http.Request) {
	attachmentId, ok := siw.bindUUID(w, r, "attachmentId")
	if !ok {
		return
	}

	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.GetAttachment(w, r, attachmentId)
	})
}

// GetAttachmentData operation middleware
func (siw *ServerInterfaceWrapper) GetAttachmentData(w http.ResponseWriter, r *http.Request) {
	attachmentId, ok := siw.bindUUID(w, r, "attachmentId")
	if !ok {
		return
	}

	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.GetAttachmentData(w, r, attachmentId)
	})
}

// CreateMetaform operation middleware
func (siw *ServerInterfaceWrapper) CreateMetaform(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.CreateMetaform(w, r)
	})
}

// GetMetaform operation middleware
func (siw *ServerInterfaceWrapper) GetMetaform(w http.ResponseWriter, r *http.Request) {
	metaformId, ok := siw.bindUUID(w, r, "metaformId")
	if !ok {
		return
	}

	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.GetMetaform(w, r, metaformId)
	})
}

// ListReplies operation middleware
func (siw *ServerInterfaceWrapper) ListReplies(w http.ResponseWriter, r *http.Request) {
	metaformId, ok := siw.bindUUID(w, r, "metaformId")
	if !ok {
		return
	}

	var params ListRepliesParams
	query := r.URL.Query()

	bindings := []struct {
		name string
		dest any
	}{
		{"userId", &params.UserId},
		{"createdBefore", &params.CreatedBefore},
		{"createdAfter", &params.CreatedAfter},
		{"modifiedBefore", &params.ModifiedBefore},
		{"modifiedAfter", &params.ModifiedAfter},
		{"includeRevisions", &params.IncludeRevisions},
		{"fields", &params.Fields},
		{"bestEffort", &params.BestEffort},
	}
	for _, b := range bindings {
		if err := runtime.BindQueryParameter("form", true, false, b.name, query, b.dest); err != nil {
			siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: b.name, Err: err})
			return
		}
	}

	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.ListReplies(w, r, metaformId, params)
	})
}

// CreateReply operation middleware
func (siw *ServerInterfaceWrapper) CreateReply(w http.ResponseWriter, r *http.Request) {
	metaformId, ok := siw.bindUUID(w, r, "metaformId")
	if !ok {
		return
	}

	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.CreateReply(w, r, metaformId)
	})
}

// DeleteReply operation middleware
func (siw *ServerInterfaceWrapper) DeleteReply(w http.ResponseWriter, r *http.Request) {
	metaformId, replyId, ok := siw.bindReplyPath(w, r)
	if !ok {
		return
	}
	var params DeleteReplyParams
	if params.XOwnerKey, ok = siw.bindOwnerKey(w, r); !ok {
		return
	}

	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.DeleteReply(w, r, metaformId, replyId, params)
	})
}

// GetReply operation middleware
func (siw *ServerInterfaceWrapper) GetReply(w http.ResponseWriter, r *http.Request) {
	metaformId, replyId, ok := siw.bindReplyPath(w, r)
	if !ok {
		return
	}
	var params GetReplyParams
	if params.XOwnerKey, ok = siw.bindOwnerKey(w, r); !ok {
		return
	}

	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.GetReply(w, r, metaformId, replyId, params)
	})
}

// UpdateReply operation middleware
func (siw *ServerInterfaceWrapper) UpdateReply(w http.ResponseWriter, r *http.Request) {
	metaformId, replyId, ok := siw.bindReplyPath(w, r)
	if !ok {
		return
	}
	var params UpdateReplyParams
	if params.XOwnerKey, ok = siw.bindOwnerKey(w, r); !ok {
		return
	}

	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.UpdateReply(w, r, metaformId, replyId, params)
	})
}

// serve применяет middleware обработчика и вызывает его.
func (siw *ServerInterfaceWrapper) serve(w http.ResponseWriter, r *http.Request, fn http.HandlerFunc) {
	handler := http.Handler(fn)
	for _, middleware := range siw.HandlerMiddlewares {
		handler = middleware(handler)
	}
	handler.ServeHTTP(w, r)
}

// bindUUID разбирает обязательный path-параметр формата uuid.
func (siw *ServerInterfaceWrapper) bindUUID(w http.ResponseWriter, r *http.Request, name string) (openapi_types.UUID, bool) {
	var id openapi_types.UUID
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: name, Err: err})
		return id, false
	}
	return id, true
}

func (siw *ServerInterfaceWrapper) bindReplyPath(w http.ResponseWriter, r *http.Request) (openapi_types.UUID, openapi_types.UUID, bool) {
	metaformId, ok := siw.bindUUID(w, r, "metaformId")
	if !ok {
		return metaformId, openapi_types.UUID{}, false
	}
	replyId, ok := siw.bindUUID(w, r, "replyId")
	return metaformId, replyId, ok
}

// bindOwnerKey разбирает необязательный заголовок X-Owner-Key.
func (siw *ServerInterfaceWrapper) bindOwnerKey(w http.ResponseWriter, r *http.Request) (*XOwnerKey, bool) {
	valueList, found := r.Header[http.CanonicalHeaderKey("X-Owner-Key")]
	if !found {
		return nil, true
	}
	if n := len(valueList); n != 1 {
		siw.ErrorHandlerFunc(w, r, &TooManyValuesForParamError{ParamName: "X-Owner-Key", Count: n})
		return nil, false
	}

	var key XOwnerKey
	err := runtime.BindStyledParameterWithOptions("simple", "X-Owner-Key", valueList[0], &key,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationHeader, Explode: false, Required: false})
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "X-Owner-Key", Err: err})
		return nil, false
	}
	return &key, true
}

// InvalidParamFormatError — параметр не соответствует формату контракта.
type InvalidParamFormatError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("Invalid format for parameter %s: %s", e.ParamName, e.Err.Error())
}

func (e *InvalidParamFormatError) Unwrap() error {
	return e.Err
}

// TooManyValuesForParamError — параметр передан несколько раз.
type TooManyValuesForParamError struct {
	ParamName string
	Count     int
}

func (e *TooManyValuesForParamError) Error() string {
	return fmt.Sprintf("Expected one value for %s, got %d", e.ParamName, e.Count)
}

// Handler creates http.Handler with routing matching OpenAPI spec.
func Handler(si ServerInterface) http.Handler {
	return HandlerWithOptions(si, ChiServerOptions{})
}

// ChiServerOptions — параметры регистрации маршрутов.
type ChiServerOptions struct {
	BaseURL          string
	BaseRouter       chi.Router
	Middlewares      []MiddlewareFunc
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

// HandlerFromMux creates http.Handler with routing matching OpenAPI spec based on the provided mux.
func HandlerFromMux(si ServerInterface, r chi.Router) http.Handler {
	return HandlerWithOptions(si, ChiServerOptions{
		BaseRouter: r,
	})
}

// HandlerWithOptions creates http.Handler with additional options
func HandlerWithOptions(si ServerInterface, options ChiServerOptions) http.Handler {
	r := options.BaseRouter

	if r == nil {
		r = chi.NewRouter()
	}
	if options.ErrorHandlerFunc == nil {
		options.ErrorHandlerFunc = func(w http.ResponseWriter, r *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}
	wrapper := ServerInterfaceWrapper{
		Handler:            si,
		HandlerMiddlewares: options.Middlewares,
		ErrorHandlerFunc:   options.ErrorHandlerFunc,
	}

	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/health/live", wrapper.HealthLive)
	})
	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/health/ready", wrapper.HealthReady)
	})
	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/metrics", wrapper.GetMetrics)
	})
	r.Group(func(r chi.Router) {
		r.Post(options.BaseURL+"/v1/attachments", wrapper.UploadAttachment)
	})
	r.Group(func(r chi.Router) {
		r.Delete(options.BaseURL+"/v1/attachments/{attachmentId}", wrapper.DeleteAttachment)
	})
	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/v1/attachments/{attachmentId}", wrapper.GetAttachment)
	})
	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/v1/attachments/{attachmentId}/data", wrapper.GetAttachmentData)
	})
	r.Group(func(r chi.Router) {
		r.Post(options.BaseURL+"/v1/metaforms", wrapper.CreateMetaform)
	})
	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/v1/metaforms/{metaformId}", wrapper.GetMetaform)
	})
	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/v1/metaforms/{metaformId}/replies", wrapper.ListReplies)
	})
	r.Group(func(r chi.Router) {
		r.Post(options.BaseURL+"/v1/metaforms/{metaformId}/replies", wrapper.CreateReply)
	})
	r.Group(func(r chi.Router) {
		r.Delete(options.BaseURL+"/v1/metaforms/{metaformId}/replies/{replyId}", wrapper.DeleteReply)
	})
	r.Group(func(r chi.Router) {
		r.Get(options.BaseURL+"/v1/metaforms/{metaformId}/replies/{replyId}", wrapper.GetReply)
	})
	r.Group(func(r chi.Router) {
		r.Put(options.BaseURL+"/v1/metaforms/{metaformId}/replies/{replyId}", wrapper.UpdateReply)
	})

	return r
}
