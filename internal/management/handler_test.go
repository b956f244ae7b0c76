package management

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailflow/internal/logger"
)

func newTestServer(t *testing.T) (*fixture, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := newFixture(t)
	router := gin.New()
	NewHandler(f.service, logger.NopLogger()).RegisterRoutes(router)
	return f, router
}

func do(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(changedByHeader, "tester")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandlerListProcessors(t *testing.T) {
	_, router := newTestServer(t)

	w := do(router, http.MethodGet, "/api/v1/pipeline/processors", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var info PipelineInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Len(t, info.Processors, 3)
}

func TestHandlerSubmitMail(t *testing.T) {
	f, router := newTestServer(t)

	w := do(router, http.MethodPost, "/api/v1/mails", SubmitMailRequest{
		Sender:     "alice@remote.org",
		Recipients: []string{"bob@example.com"},
		Subject:    "hi",
		Body:       "hello",
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp SubmitMailResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "root", resp.State)
	assert.Len(t, f.submitter.mails, 1)
	assert.Equal(t, "tester", f.audit.entries[0].ChangedBy)
}

func TestHandlerSubmitMailErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   interface{}
		status int
		code   string
	}{
		{"missing recipients", map[string]interface{}{"subject": "s"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad recipient", SubmitMailRequest{Recipients: []string{"x"}, Subject: "s"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown processor", SubmitMailRequest{Recipients: []string{"bob@example.com"}, Subject: "s", State: "nope"}, http.StatusBadRequest, "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, router := newTestServer(t)

			w := do(router, http.MethodPost, "/api/v1/mails", tt.body)
			assert.Equal(t, tt.status, w.Code)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body["error_code"])
		})
	}
}

func TestHandlerRepositoryLifecycle(t *testing.T) {
	f, router := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, f.repo.Store(ctx, "error", storedMail("m1")))
	require.NoError(t, f.repo.Store(ctx, "error", storedMail("m2")))

	w := do(router, http.MethodGet, "/api/v1/repositories", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var infos []RepositoryInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &infos))
	assert.Equal(t, []RepositoryInfo{{Name: "error", Count: 2}}, infos)

	w = do(router, http.MethodGet, "/api/v1/repositories/error/mails?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var summaries []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summaries))
	assert.Len(t, summaries, 2)

	w = do(router, http.MethodGet, "/api/v1/repositories/error/mails/m1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail MailDetail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Equal(t, "m1", detail.ID)

	w = do(router, http.MethodDelete, "/api/v1/repositories/error/mails/m1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(router, http.MethodGet, "/api/v1/repositories/error/mails/m1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(router, http.MethodPost, "/api/v1/repositories/error/mails/m2/reprocess", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var resp SubmitMailResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "root", resp.State)

	w = do(router, http.MethodPost, "/api/v1/repositories/error/mails/m2/reprocess", ReprocessRequest{Processor: "transport"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlerReloadAndAudit(t *testing.T) {
	f, router := newTestServer(t)

	w := do(router, http.MethodPost, "/api/v1/pipeline/reload", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, f.pipeline.reloads)

	w = do(router, http.MethodGet, "/api/v1/audit/logs?action=reload", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var logs []AuditLog
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, "tester", logs[0].ChangedBy)
}

func TestHandlerValidateExpression(t *testing.T) {
	_, router := newTestServer(t)

	tests := []struct {
		name  string
		req   ValidateExpressionRequest
		valid bool
	}{
		{"filter", ValidateExpressionRequest{Expression: `sender_domain == "example.com"`}, true},
		{"filter not bool", ValidateExpressionRequest{Expression: `size + 1`}, false},
		{"value", ValidateExpressionRequest{Expression: `size + 1`, Kind: "value"}, true},
		{"syntax", ValidateExpressionRequest{Expression: `sender ==`}, false},
		{"empty", ValidateExpressionRequest{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(router, http.MethodPost, "/api/v1/pipeline/expressions/validate", tt.req)
			require.Equal(t, http.StatusOK, w.Code)

			var resp ValidateExpressionResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.valid, resp.Valid, resp.Error)
		})
	}
}

func TestHandlerExpressionExamples(t *testing.T) {
	_, router := newTestServer(t)

	w := do(router, http.MethodGet, "/api/v1/pipeline/expressions/examples", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var examples map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &examples))
	require.NotEmpty(t, examples)

	for name, expr := range examples {
		w := do(router, http.MethodPost, "/api/v1/pipeline/expressions/validate", ValidateExpressionRequest{Expression: expr})
		var resp ValidateExpressionResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Valid, "%s: %s", name, resp.Error)
	}
}

func TestParseLimit(t *testing.T) {
	assert.Equal(t, 100, parseLimit(""))
	assert.Equal(t, 5, parseLimit("5"))
	assert.Equal(t, 100, parseLimit("-1"))
	assert.Equal(t, 100, parseLimit("abc"))
	assert.Equal(t, 100, parseLimit("5000"))
}
