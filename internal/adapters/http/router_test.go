package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v4"

	"github.com/kirillkom/docvault/internal/core/domain"
)

func doRequest(handler http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(devUserHeader, "user-1")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func multipartUpload(t *testing.T, filename, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if filename != "" {
		part, err := writer.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("CreateFormFile() error = %v", err)
		}
		if _, err := part.Write([]byte(content)); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("WriteField() error = %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return &body, writer.FormDataContentType()
}

func decodeBody(t *testing.T, res *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(res.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthzEndpoint(t *testing.T) {
	handler := newTestHandler(t, newBackendFake(), Options{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestHealthzReportsFailingDependency(t *testing.T) {
	handler := newTestHandler(t, newBackendFake(), Options{
		HealthCheck: func(context.Context) error { return errors.New("postgres down") },
	})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
}

func TestV1RequiresUser(t *testing.T) {
	handler := newTestHandler(t, newBackendFake(), Options{})
	req := httptest.NewRequest(http.MethodGet, "/v1/queue", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
	if res.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("expected WWW-Authenticate header")
	}
}

func TestBearerTokenSubjectBecomesUser(t *testing.T) {
	backend := newBackendFake()
	handler := newTestHandler(t, backend, Options{AuthSecret: "s3cret"})

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "user-42"}).SignedString([]byte("s3cret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/v1/queue", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if len(backend.filters) != 1 || backend.filters[0].UserID != "user-42" {
		t.Fatalf("expected listing scoped to token subject, got %+v", backend.filters)
	}
}

func TestBearerTokenWithWrongSecretIsRejected(t *testing.T) {
	handler := newTestHandler(t, newBackendFake(), Options{AuthSecret: "s3cret"})

	signed, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "user-42"}).SignedString([]byte("other"))
	req := httptest.NewRequest(http.MethodGet, "/v1/queue", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	req.Header.Set(devUserHeader, "user-1")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestUploadUsesSessionFolder(t *testing.T) {
	backend := newBackendFake()
	backend.lastFolder = "folder-9"
	handler := newTestHandler(t, backend, Options{ValidateRequests: true})

	body, contentType := multipartUpload(t, "contrato.txt", "hello", nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/queue", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(devUserHeader, "user-1")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	var item domain.QueueItem
	decodeBody(t, res, &item)
	if item.FolderID == nil || *item.FolderID != "folder-9" {
		t.Fatalf("expected session folder, got %v", item.FolderID)
	}
	if backend.uploadBody != "hello" {
		t.Fatalf("unexpected uploaded body %q", backend.uploadBody)
	}
}

func TestUploadRequiresFile(t *testing.T) {
	handler := newTestHandler(t, newBackendFake(), Options{})

	body, contentType := multipartUpload(t, "", "", map[string]string{"pasta_id": testFolderID})
	req := httptest.NewRequest(http.MethodPost, "/v1/queue", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(devUserHeader, "user-1")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestUploadRejectsOversizedBody(t *testing.T) {
	backend := newBackendFake()
	handler := newTestHandler(t, backend, Options{UploadMaxBytes: 64})

	body, contentType := multipartUpload(t, "big.txt", strings.Repeat("x", 1024), nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/queue", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(devUserHeader, "user-1")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", res.Code)
	}
	if backend.calls != 0 {
		t.Fatalf("expected ingestor not to be called")
	}
}

func TestListQueueBindsStatusFilter(t *testing.T) {
	backend := newBackendFake()
	handler := newTestHandler(t, backend, Options{ValidateRequests: true})

	res := doRequest(handler, http.MethodGet, "/v1/queue?status=aguardando&status=erro", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if len(backend.filters) != 1 {
		t.Fatalf("expected one listing, got %d", len(backend.filters))
	}
	got := backend.filters[0].Statuses
	if len(got) != 2 || got[0] != domain.QueueWaiting || got[1] != domain.QueueFailed {
		t.Fatalf("unexpected statuses %v", got)
	}
}

func TestListQueueRejectsUnknownStatus(t *testing.T) {
	for _, validate := range []bool{false, true} {
		backend := newBackendFake()
		handler := newTestHandler(t, backend, Options{ValidateRequests: validate})

		res := doRequest(handler, http.MethodGet, "/v1/queue?status=pronto", nil)
		if res.Code != http.StatusBadRequest {
			t.Fatalf("validate=%v: expected 400, got %d", validate, res.Code)
		}
		if len(backend.filters) != 0 {
			t.Fatalf("validate=%v: expected no listing", validate)
		}
	}
}

func TestProcessPassesManualFlag(t *testing.T) {
	backend := newBackendFake()
	backend.items[testQueueID] = domain.QueueItem{ID: testQueueID, UserID: "user-1", Status: domain.QueueDuplicateWaiting}
	handler := newTestHandler(t, backend, Options{ValidateRequests: true})

	res := doRequest(handler, http.MethodPost, "/v1/queue/"+testQueueID+"/process", []byte(`{"manual":true}`))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if len(backend.processed) != 1 || !backend.processed[0].Manual {
		t.Fatalf("expected manual processing, got %+v", backend.processed)
	}
}

func TestProcessOtherUsersRowIsNotFound(t *testing.T) {
	backend := newBackendFake()
	backend.items[testQueueID] = domain.QueueItem{ID: testQueueID, UserID: "user-2", Status: domain.QueueWaiting}
	handler := newTestHandler(t, backend, Options{})

	res := doRequest(handler, http.MethodPost, "/v1/queue/"+testQueueID+"/process", nil)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
	if len(backend.processed) != 0 {
		t.Fatalf("expected no processing")
	}
}

func TestMalformedPathIDIsBadRequest(t *testing.T) {
	paths := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/v1/queue/not-a-uuid/process"},
		{http.MethodGet, "/v1/queue/123/review"},
		{http.MethodDelete, "/v1/documents/" + testQueueID + "/entities/e-1"},
	}
	for _, validate := range []bool{false, true} {
		backend := newBackendFake()
		handler := newTestHandler(t, backend, Options{ValidateRequests: validate})
		for _, p := range paths {
			res := doRequest(handler, p.method, p.path, nil)
			if res.Code != http.StatusBadRequest {
				t.Fatalf("%s %s (validate=%v): expected 400, got %d: %s", p.method, p.path, validate, res.Code, res.Body.String())
			}
		}
		if len(backend.processed) != 0 {
			t.Fatalf("expected no processing")
		}
	}
}

func TestApproveDefaultsToSessionFolder(t *testing.T) {
	backend := newBackendFake()
	backend.lastFolder = "folder-3"
	handler := newTestHandler(t, backend, Options{ValidateRequests: true})

	res := doRequest(handler, http.MethodPost, "/v1/queue/"+testQueueID+"/approve", []byte(`{"descricao":"Contrato","entidades":[]}`))
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}
	if len(backend.approved) != 1 {
		t.Fatalf("expected one approval")
	}
	in := backend.approved[0]
	if in.QueueID != testQueueID || in.FolderID != "folder-3" {
		t.Fatalf("unexpected approve input %+v", in)
	}
}

func TestResolveConflictReturnsResolvedCandidate(t *testing.T) {
	handler := newTestHandler(t, newBackendFake(), Options{ValidateRequests: true})

	payload, _ := json.Marshal(map[string]any{
		"entidade": domain.CandidateEntity{
			ClientID:    "c-1",
			TypeID:      "pj",
			Name:        "Acme",
			Identifier1: "11.222.333/0001-81",
			Status:      domain.CandidateConflict,
			Conflicts: []domain.ConflictMatch{{
				Entity: domain.Entity{ID: testEntityID, TypeID: "pj", Name: "Acme Ltda", Identifier1: "11.222.333/0001-81"},
				Reason: domain.ReasonIdentifier,
			}},
		},
		"entidade_id": testEntityID,
		"resolucao":   "manter",
		"campos":      map[string]string{"nome": "existente"},
	})
	res := doRequest(handler, http.MethodPost, "/v1/queue/"+testQueueID+"/resolve", payload)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var got domain.CandidateEntity
	decodeBody(t, res, &got)
	if got.Status != domain.CandidateExisting || got.EntityID != testEntityID || got.Name != "Acme Ltda" {
		t.Fatalf("unexpected resolved candidate %+v", got)
	}
}

func TestUpdateEntityValidatedAgainstOpenAPI(t *testing.T) {
	backend := newBackendFake()
	handler := newTestHandler(t, backend, Options{ValidateRequests: true})

	res := doRequest(handler, http.MethodPut, "/v1/entities/"+testEntityID, []byte(`{"identificador_1":"123"}`))
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if len(backend.updated) != 0 {
		t.Fatalf("expected handler not to run")
	}

	res = doRequest(handler, http.MethodPut, "/v1/entities/"+testEntityID, []byte(`{"nome":"Acme","identificador_1":"123"}`))
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if len(backend.updated) != 1 || backend.updated[0].EntityID != testEntityID {
		t.Fatalf("unexpected update %+v", backend.updated)
	}
}

func TestExportFolderServesWorkbook(t *testing.T) {
	backend := newBackendFake()
	backend.exportBytes = []byte("PK\x03\x04")
	handler := newTestHandler(t, backend, Options{})

	res := doRequest(handler, http.MethodGet, "/v1/folders/"+testFolderID+"/export.xlsx", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if got := res.Header().Get("Content-Type"); got != xlsxContentType {
		t.Fatalf("unexpected content type %q", got)
	}
	if !strings.Contains(res.Header().Get("Content-Disposition"), "pasta-"+testFolderID+".xlsx") {
		t.Fatalf("unexpected disposition %q", res.Header().Get("Content-Disposition"))
	}
}

func TestRenderAnalysisServesHTML(t *testing.T) {
	handler := newTestHandler(t, newBackendFake(), Options{})

	res := doRequest(handler, http.MethodGet, "/v1/folders/"+testFolderID+"/analysis.html", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if !strings.HasPrefix(res.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("unexpected content type %q", res.Header().Get("Content-Type"))
	}
}

func TestSessionLastFolderRoundTrip(t *testing.T) {
	handler := newTestHandler(t, newBackendFake(), Options{ValidateRequests: true})

	res := doRequest(handler, http.MethodPut, "/v1/session/last-folder", []byte(`{"pasta_id":"f-7"}`))
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", res.Code, res.Body.String())
	}
	res = doRequest(handler, http.MethodGet, "/v1/session", nil)
	var session domain.Session
	decodeBody(t, res, &session)
	if session.LastFolderID == nil || *session.LastFolderID != "f-7" {
		t.Fatalf("unexpected session %+v", session)
	}
}

func TestDomainErrorsMapToStatus(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{name: "not found", err: domain.WrapError(domain.ErrNotFound, "get", errors.New("missing")), status: http.StatusNotFound},
		{name: "invalid transition", err: domain.WrapError(domain.ErrInvalidTransition, "reject", errors.New("aguardando")), status: http.StatusConflict},
		{name: "unresolved conflict", err: domain.WrapError(domain.ErrUnresolvedConflict, "approve", errors.New("c-1")), status: http.StatusConflict},
		{name: "rate limited", err: domain.WrapError(domain.ErrRateLimited, "analyze", errors.New("429")), status: http.StatusTooManyRequests},
		{name: "quota", err: domain.WrapError(domain.ErrQuotaExceeded, "analyze", errors.New("402")), status: http.StatusPaymentRequired},
		{name: "unexpected", err: errors.New("db exploded"), status: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			backend := newBackendFake()
			backend.err = tc.err
			handler := newTestHandler(t, backend, Options{})

			res := doRequest(handler, http.MethodPost, "/v1/folders/"+testFolderID+"/analysis", nil)
			if res.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, res.Code)
			}
			var resp errorResponse
			decodeBody(t, res, &resp)
			if resp.RequestID == "" {
				t.Fatalf("expected request id in error body")
			}
			if tc.status == http.StatusInternalServerError && strings.Contains(resp.Error, "exploded") {
				t.Fatalf("internal error leaked: %q", resp.Error)
			}
			if tc.status == http.StatusTooManyRequests && res.Header().Get("Retry-After") == "" {
				t.Fatalf("expected Retry-After header")
			}
		})
	}
}
