package contract

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	openapi_types "github.com/oapi-codegen/runtime/types"
)

// recordingServer запоминает последний вызов и связанные параметры.
type recordingServer struct {
	called     string
	metaformID openapi_types.UUID
	replyID    openapi_types.UUID
	list       ListRepliesParams
	ownerKey   *XOwnerKey
	upload     UploadAttachmentParams
}

func (s *recordingServer) ok(w http.ResponseWriter, name string) {
	s.called = name
	w.WriteHeader(http.StatusNoContent)
}

func (s *recordingServer) HealthLive(w http.ResponseWriter, _ *http.Request)  { s.ok(w, "HealthLive") }
func (s *recordingServer) HealthReady(w http.ResponseWriter, _ *http.Request) { s.ok(w, "HealthReady") }
func (s *recordingServer) GetMetrics(w http.ResponseWriter, _ *http.Request)  { s.ok(w, "GetMetrics") }

func (s *recordingServer) UploadAttachment(w http.ResponseWriter, _ *http.Request, params UploadAttachmentParams) {
	s.upload = params
	s.ok(w, "UploadAttachment")
}

func (s *recordingServer) DeleteAttachment(w http.ResponseWriter, _ *http.Request, _ openapi_types.UUID) {
	s.ok(w, "DeleteAttachment")
}

func (s *recordingServer) GetAttachment(w http.ResponseWriter, _ *http.Request, _ openapi_types.UUID) {
	s.ok(w, "GetAttachment")
}

func (s *recordingServer) GetAttachmentData(w http.ResponseWriter, _ *http.Request, _ openapi_types.UUID) {
	s.ok(w, "GetAttachmentData")
}

func (s *recordingServer) CreateMetaform(w http.ResponseWriter, _ *http.Request) {
	s.ok(w, "CreateMetaform")
}

func (s *recordingServer) GetMetaform(w http.ResponseWriter, _ *http.Request, metaformId openapi_types.UUID) { //nolint:revive
	s.metaformID = metaformId
	s.ok(w, "GetMetaform")
}

func (s *recordingServer) ListReplies(w http.ResponseWriter, _ *http.Request, metaformId openapi_types.UUID, params ListRepliesParams) { //nolint:revive
	s.metaformID = metaformId
	s.list = params
	s.ok(w, "ListReplies")
}

func (s *recordingServer) CreateReply(w http.ResponseWriter, _ *http.Request, metaformId openapi_types.UUID) { //nolint:revive
	s.metaformID = metaformId
	s.ok(w, "CreateReply")
}

func (s *recordingServer) DeleteReply(w http.ResponseWriter, _ *http.Request, metaformId, replyId openapi_types.UUID, params DeleteReplyParams) { //nolint:revive
	s.metaformID, s.replyID, s.ownerKey = metaformId, replyId, params.XOwnerKey
	s.ok(w, "DeleteReply")
}

func (s *recordingServer) GetReply(w http.ResponseWriter, _ *http.Request, metaformId, replyId openapi_types.UUID, params GetReplyParams) { //nolint:revive
	s.metaformID, s.replyID, s.ownerKey = metaformId, replyId, params.XOwnerKey
	s.ok(w, "GetReply")
}

func (s *recordingServer) UpdateReply(w http.ResponseWriter, _ *http.Request, metaformId, replyId openapi_types.UUID, params UpdateReplyParams) { //nolint:revive
	s.metaformID, s.replyID, s.ownerKey = metaformId, replyId, params.XOwnerKey
	s.ok(w, "UpdateReply")
}

func TestHandler_Routes(t *testing.T) {
	formID := uuid.New().String()
	replyID := uuid.New().String()
	attID := uuid.New().String()

	tests := []struct {
		method, path string
		want         string
	}{
		{http.MethodGet, "/health/live", "HealthLive"},
		{http.MethodGet, "/health/ready", "HealthReady"},
		{http.MethodGet, "/metrics", "GetMetrics"},
		{http.MethodPost, "/v1/attachments", "UploadAttachment"},
		{http.MethodGet, "/v1/attachments/" + attID, "GetAttachment"},
		{http.MethodDelete, "/v1/attachments/" + attID, "DeleteAttachment"},
		{http.MethodGet, "/v1/attachments/" + attID + "/data", "GetAttachmentData"},
		{http.MethodPost, "/v1/metaforms", "CreateMetaform"},
		{http.MethodGet, "/v1/metaforms/" + formID, "GetMetaform"},
		{http.MethodGet, "/v1/metaforms/" + formID + "/replies", "ListReplies"},
		{http.MethodPost, "/v1/metaforms/" + formID + "/replies", "CreateReply"},
		{http.MethodGet, "/v1/metaforms/" + formID + "/replies/" + replyID, "GetReply"},
		{http.MethodPut, "/v1/metaforms/" + formID + "/replies/" + replyID, "UpdateReply"},
		{http.MethodDelete, "/v1/metaforms/" + formID + "/replies/" + replyID, "DeleteReply"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			srv := &recordingServer{}
			rec := httptest.NewRecorder()
			Handler(srv).ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			if rec.Code != http.StatusNoContent {
				t.Fatalf("status = %d, ожидался 204", rec.Code)
			}
			if srv.called != tt.want {
				t.Errorf("вызван %q, ожидался %q", srv.called, tt.want)
			}
		})
	}
}

func TestHandler_InvalidUUID(t *testing.T) {
	var gotErr error
	srv := &recordingServer{}
	h := HandlerWithOptions(srv, ChiServerOptions{
		ErrorHandlerFunc: func(w http.ResponseWriter, _ *http.Request, err error) {
			gotErr = err
			http.Error(w, err.Error(), http.StatusBadRequest)
		},
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/metaforms/not-a-uuid", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, ожидался 400", rec.Code)
	}
	if srv.called != "" {
		t.Errorf("обработчик не должен вызываться, вызван %q", srv.called)
	}
	var paramErr *InvalidParamFormatError
	if pe, ok := gotErr.(*InvalidParamFormatError); ok {
		paramErr = pe
	}
	if paramErr == nil || paramErr.ParamName != "metaformId" {
		t.Errorf("ошибка = %v, ожидалась InvalidParamFormatError(metaformId)", gotErr)
	}
}

func TestHandler_ListRepliesQuery(t *testing.T) {
	srv := &recordingServer{}
	formID := uuid.New()
	path := "/v1/metaforms/" + formID.String() + "/replies" +
		"?userId=u1&includeRevisions=true&bestEffort=true&fields=color:red&fields=size%5E10" +
		"&createdAfter=2024-01-02T03:04:05Z"

	rec := httptest.NewRecorder()
	Handler(srv).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, ожидался 204: %s", rec.Code, rec.Body.String())
	}
	p := srv.list
	if srv.metaformID != formID {
		t.Errorf("metaformId = %s", srv.metaformID)
	}
	if p.UserId == nil || *p.UserId != "u1" {
		t.Errorf("userId = %v", p.UserId)
	}
	if p.IncludeRevisions == nil || !*p.IncludeRevisions || p.BestEffort == nil || !*p.BestEffort {
		t.Errorf("флаги: includeRevisions=%v bestEffort=%v", p.IncludeRevisions, p.BestEffort)
	}
	if p.Fields == nil || len(*p.Fields) != 2 || (*p.Fields)[1] != "size^10" {
		t.Errorf("fields = %v", p.Fields)
	}
	if p.CreatedAfter == nil || p.CreatedAfter.Year() != 2024 {
		t.Errorf("createdAfter = %v", p.CreatedAfter)
	}
	if p.CreatedBefore != nil || p.ModifiedAfter != nil {
		t.Error("незаданные параметры должны оставаться nil")
	}
}

func TestHandler_OwnerKeyHeader(t *testing.T) {
	path := "/v1/metaforms/" + uuid.NewString() + "/replies/" + uuid.NewString()

	t.Run("передаётся", func(t *testing.T) {
		srv := &recordingServer{}
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("X-Owner-Key", "secret-key")

		rec := httptest.NewRecorder()
		Handler(srv).ServeHTTP(rec, req)

		if srv.ownerKey == nil || *srv.ownerKey != "secret-key" {
			t.Errorf("ownerKey = %v", srv.ownerKey)
		}
	})

	t.Run("отсутствует", func(t *testing.T) {
		srv := &recordingServer{}
		rec := httptest.NewRecorder()
		Handler(srv).ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, path, nil))

		if srv.called != "DeleteReply" || srv.ownerKey != nil {
			t.Errorf("called=%q ownerKey=%v", srv.called, srv.ownerKey)
		}
	})

	t.Run("несколько значений", func(t *testing.T) {
		srv := &recordingServer{}
		req := httptest.NewRequest(http.MethodPut, path, nil)
		req.Header.Add("X-Owner-Key", "a")
		req.Header.Add("X-Owner-Key", "b")

		rec := httptest.NewRecorder()
		Handler(srv).ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest || srv.called != "" {
			t.Errorf("status=%d called=%q, ожидался отказ 400", rec.Code, srv.called)
		}
	})
}
